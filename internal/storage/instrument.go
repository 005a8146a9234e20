package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raptscallions/storage/internal/metrics"
	"github.com/raptscallions/storage/internal/storageerr"
)

const resultOK = "ok"

// Instrument wraps b so every call is counted, timed and, on failure,
// logged under the backend name.
func Instrument(name string, b Backend) Backend {
	return &instrumented{name: name, next: b}
}

type instrumented struct {
	name string
	next Backend
}

func (i *instrumented) Unwrap() Backend {
	return i.next
}

func (i *instrumented) observe(op, key string, start time.Time, err error) {
	result := resultOK
	if err != nil {
		result = storageerr.Code(err)
	}
	metrics.RecordStorageOperation(i.name, op, result, time.Since(start))

	if err == nil {
		return
	}

	var event *zerolog.Event
	switch {
	case errors.Is(err, storageerr.ErrFileNotFound):
		event = log.Debug()
	default:
		event = log.Error()
	}

	event = event.
		Err(err).
		Str("backend", i.name).
		Str("op", op).
		Str("key", key).
		Str("code", result)
	if code := s3ErrorCode(err); code != "" {
		event = event.Str("service_code", code)
	}
	if e, ok := storageerr.As(err); ok {
		if cause, ok := e.Details["cause"].(string); ok {
			event = event.Str("cause", cause)
		}
	}
	event.Msg("Storage operation failed")
}

func (i *instrumented) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	start := time.Now()
	res, err := i.next.Upload(ctx, in)
	i.observe("upload", in.Key, start, err)
	return res, err
}

func (i *instrumented) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := i.next.Download(ctx, key)
	i.observe("download", key, start, err)
	return rc, err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.Delete(ctx, key)
	i.observe("delete", key, start, err)
	return err
}

func (i *instrumented) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := i.next.Exists(ctx, key)
	i.observe("exists", key, start, err)
	return ok, err
}

func (i *instrumented) SignedURL(ctx context.Context, key string, opts SignedURLOptions) (*SignedURL, error) {
	start := time.Now()
	u, err := i.next.SignedURL(ctx, key, opts)
	i.observe("sign", key, start, err)
	return u, err
}
