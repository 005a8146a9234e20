// Package storage provides pluggable object storage backends.
//
// Backends are registered by identifier in a Registry and instantiated
// lazily, at most once per identifier, by a Factory:
//
//	storage.RegisterBuiltins(storage.DefaultFactory().Registry(), config.Default())
//	b, err := storage.GetBackend(cfg.Backend)
//
// Every Backend method returns failures as *storageerr.Error values.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/raptscallions/storage/internal/storageerr"
)

// DefaultSignedURLExpiration applies when neither the caller nor the backend
// configuration supplies one.
const DefaultSignedURLExpiration = 900 * time.Second

// Backend is the capability contract every storage backend implements.
type Backend interface {
	// Upload stores the body under in.Key, replacing any existing object.
	Upload(ctx context.Context, in UploadInput) (*UploadResult, error)

	// Download opens the object for reading. Missing keys fail with
	// storageerr.ErrFileNotFound. Callers must close the reader.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the object exists. Absence is not an error.
	Exists(ctx context.Context, key string) (bool, error)

	// SignedURL returns a time-limited URL for the object. The object is
	// not required to exist.
	SignedURL(ctx context.Context, key string, opts SignedURLOptions) (*SignedURL, error)
}

// UploadInput describes one upload.
type UploadInput struct {
	Key  string
	Body io.Reader

	// Size of Body in bytes, or a negative value when unknown. Backends
	// use it as the content length when positive.
	Size int64

	ContentType string
	Metadata    map[string]string
}

// UploadResult is returned by Backend.Upload.
type UploadResult struct {
	Key  string
	ETag string
	URL  string
}

// Method is the HTTP method a signed URL grants.
type Method string

const (
	MethodGet Method = "GET"
	MethodPut Method = "PUT"
)

// ParseMethod accepts GET or PUT in any case. The empty string is GET.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "GET":
		return MethodGet, nil
	case "PUT":
		return MethodPut, nil
	default:
		return "", storageerr.Storage(
			fmt.Sprintf("unsupported signed URL method %q", s),
			map[string]any{"method": s},
			nil,
		)
	}
}

// SignedURLOptions tunes SignedURL. Zero values select GET and the backend's
// default expiration.
type SignedURLOptions struct {
	Method  Method
	Expires time.Duration
}

// SignedURL is a pre-authorized URL and the instant it stops working.
type SignedURL struct {
	URL       string
	Method    Method
	ExpiresAt time.Time
}

func resolveSignedURLOptions(opts SignedURLOptions, fallback time.Duration) (Method, time.Duration, error) {
	method, err := ParseMethod(string(opts.Method))
	if err != nil {
		return "", 0, err
	}

	expires := opts.Expires
	if expires <= 0 {
		expires = fallback
	}
	if expires <= 0 {
		expires = DefaultSignedURLExpiration
	}
	return method, expires, nil
}

// Unwrapper is implemented by backends that decorate another backend.
type Unwrapper interface {
	Unwrap() Backend
}

// Underlying strips decorators and returns the innermost backend.
func Underlying(b Backend) Backend {
	for {
		u, ok := b.(Unwrapper)
		if !ok {
			return b
		}
		b = u.Unwrap()
	}
}
