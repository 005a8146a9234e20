package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/raptscallions/storage/internal/storageerr"
)

// Cause categories reported in error details.
const (
	causeNetwork  = "network"
	causeAuth     = "auth"
	causeCanceled = "canceled"
	causeUnknown  = "unknown"
)

var authErrorCodes = map[string]bool{
	"AccessDenied":                 true,
	"AuthorizationHeaderMalformed": true,
	"ExpiredToken":                 true,
	"Forbidden":                    true,
	"InvalidAccessKeyId":           true,
	"InvalidToken":                 true,
	"SignatureDoesNotMatch":        true,
	"TokenRefreshRequired":         true,
}

// classifyS3Error maps an SDK failure onto the error taxonomy.
//
// Messages are fixed strings; the SDK error is kept only as the unwrap cause
// so request signatures or credential fragments it may quote never reach
// messages or serialized details.
func classifyS3Error(ctx context.Context, op, key string, err error) error {
	if err == nil {
		return nil
	}
	if _, typed := storageerr.As(err); typed {
		return err
	}

	switch {
	case isS3NotFound(err):
		return storageerr.FileNotFound(key, err)
	case ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return storageerr.Storage(
			fmt.Sprintf("storage %s canceled", op),
			map[string]any{"key": key, "cause": causeCanceled},
			err,
		)
	case isNetworkError(err):
		return storageerr.Storage(
			"storage service unavailable",
			map[string]any{"key": key, "cause": causeNetwork},
			err,
		)
	case isAuthError(err):
		return storageerr.Storage(
			"storage authentication failed",
			map[string]any{"key": key, "cause": causeAuth},
			err,
		)
	default:
		return storageerr.Storage(
			fmt.Sprintf("storage %s failed", op),
			map[string]any{"key": key, "cause": causeUnknown},
			err,
		)
	}
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var sendErr *smithyhttp.RequestSendError
	return errors.As(err, &sendErr)
}

func isAuthError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && authErrorCodes[apiErr.ErrorCode()] {
		return true
	}
	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		code := statusErr.HTTPStatusCode()
		return code == http.StatusUnauthorized || code == http.StatusForbidden
	}
	return false
}

// s3ErrorCode returns the service error code for logging, if any.
func s3ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
