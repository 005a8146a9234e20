// Package storageerr defines the typed failures returned by the storage layer.
//
// Every failure is an *Error carrying a stable machine code, an HTTP-style
// status code and optional structured details. Kinds are matched with
// errors.Is against the exported sentinels:
//
//	if errors.Is(err, storageerr.ErrFileNotFound) { ... }
package storageerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Machine-readable codes. Kind codes double as the identity of a kind.
const (
	CodeStorage              = "STORAGE_ERROR"
	CodeQuotaExceeded        = "QUOTA_EXCEEDED"
	CodeFileNotFound         = "FILE_NOT_FOUND"
	CodeInvalidFileType      = "INVALID_FILE_TYPE"
	CodeConfiguration        = "CONFIGURATION_ERROR"
	CodeBackendNotRegistered = "BACKEND_NOT_REGISTERED"
)

// NoBackendsRegistered is rendered in place of the identifier list when the
// registry is empty.
const NoBackendsRegistered = "no backends are registered"

// Error is a typed storage failure.
type Error struct {
	Code       string
	Message    string
	StatusCode int
	Details    map[string]any

	// Err is the underlying cause. It is reachable through errors.As but is
	// never rendered by Error or Serialize.
	Err error

	kind string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same kind or the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code || t.Code == e.kindCode()
}

func (e *Error) kindCode() string {
	if e.kind != "" {
		return e.kind
	}
	return e.Code
}

// Kind returns the code of the taxonomy kind this error belongs to. It differs
// from Code only for specialised codes such as BACKEND_NOT_REGISTERED.
func (e *Error) Kind() string {
	return e.kindCode()
}

// Payload is the transport form of an Error.
type Payload struct {
	Message    string         `json:"message"`
	Code       string         `json:"code"`
	StatusCode int            `json:"statusCode"`
	Details    map[string]any `json:"details,omitempty"`
}

// Payload returns the plain record for the error.
func (e *Error) Payload() Payload {
	var details map[string]any
	if len(e.Details) > 0 {
		details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			details[k] = v
		}
	}
	return Payload{
		Message:    e.Message,
		Code:       e.Code,
		StatusCode: e.StatusCode,
		Details:    details,
	}
}

func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Payload())
}

// Sentinels for errors.Is. They are never returned directly.
var (
	ErrStorage = &Error{
		Code:       CodeStorage,
		Message:    "storage operation failed",
		StatusCode: http.StatusInternalServerError,
	}

	ErrQuotaExceeded = &Error{
		Code:       CodeQuotaExceeded,
		Message:    "storage quota exceeded",
		StatusCode: http.StatusForbidden,
	}

	ErrFileNotFound = &Error{
		Code:       CodeFileNotFound,
		Message:    "file not found",
		StatusCode: http.StatusNotFound,
	}

	ErrInvalidFileType = &Error{
		Code:       CodeInvalidFileType,
		Message:    "file type is not allowed",
		StatusCode: http.StatusBadRequest,
	}

	ErrConfiguration = &Error{
		Code:       CodeConfiguration,
		Message:    "invalid storage configuration",
		StatusCode: http.StatusInternalServerError,
	}

	ErrBackendNotRegistered = &Error{
		Code:       CodeBackendNotRegistered,
		Message:    "storage backend is not registered",
		StatusCode: http.StatusInternalServerError,
		kind:       CodeConfiguration,
	}
)

// Storage returns an unclassified backend failure.
func Storage(message string, details map[string]any, cause error) *Error {
	return &Error{
		Code:       CodeStorage,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Details:    details,
		Err:        cause,
	}
}

// QuotaExceeded reports that requested bytes would exceed limit.
func QuotaExceeded(message string, limit, requested int64) *Error {
	return &Error{
		Code:       CodeQuotaExceeded,
		Message:    message,
		StatusCode: http.StatusForbidden,
		Details: map[string]any{
			"limit":     limit,
			"requested": requested,
		},
	}
}

// FileNotFound reports a missing key.
func FileNotFound(key string, cause error) *Error {
	return &Error{
		Code:       CodeFileNotFound,
		Message:    fmt.Sprintf("file not found: %s", key),
		StatusCode: http.StatusNotFound,
		Details:    map[string]any{"key": key},
		Err:        cause,
	}
}

// InvalidFileType reports a content type outside the allowed set.
func InvalidFileType(contentType string, allowed []string) *Error {
	list := append([]string(nil), allowed...)
	return &Error{
		Code:       CodeInvalidFileType,
		Message:    fmt.Sprintf("file type %q is not allowed", contentType),
		StatusCode: http.StatusBadRequest,
		Details: map[string]any{
			"contentType": contentType,
			"allowed":     list,
		},
	}
}

// Configuration reports a configuration problem.
func Configuration(message string, details map[string]any) *Error {
	return &Error{
		Code:       CodeConfiguration,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Details:    details,
	}
}

// BackendNotRegistered reports a lookup of an unknown backend identifier. The
// message enumerates the identifiers that are registered.
func BackendNotRegistered(backend string, available []string) *Error {
	ids := append([]string(nil), available...)
	sort.Strings(ids)

	listed := NoBackendsRegistered
	if len(ids) > 0 {
		listed = "available backends: " + strings.Join(ids, ", ")
	}

	return &Error{
		Code:       CodeBackendNotRegistered,
		Message:    fmt.Sprintf("storage backend %q is not registered (%s)", backend, listed),
		StatusCode: http.StatusInternalServerError,
		Details: map[string]any{
			"backend":   backend,
			"available": ids,
		},
		kind: CodeConfiguration,
	}
}

// As returns the typed error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusCode maps any error to an HTTP status; untyped errors are 500.
func StatusCode(err error) int {
	if e, ok := As(err); ok {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Code maps any error to a machine code; untyped errors are STORAGE_ERROR.
func Code(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeStorage
}

// Serialize converts any error into its transport record. Untyped errors
// become a generic storage failure so their text never reaches clients.
func Serialize(err error) Payload {
	if e, ok := As(err); ok {
		return e.Payload()
	}
	return ErrStorage.Payload()
}
