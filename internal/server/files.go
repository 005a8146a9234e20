package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/raptscallions/storage/internal/requestctx"
	"github.com/raptscallions/storage/internal/storage"
)

const (
	codeMissingToken   = "MISSING_TOKEN"
	codeInvalidToken   = "INVALID_TOKEN"
	codeExpiredToken   = "TOKEN_EXPIRED"
	codeTooManyInvalid = "TOO_MANY_INVALID_TOKENS"
)

// FileHandlers serve the signed URLs issued by the filesystem backend.
type FileHandlers struct {
	backend storage.Backend
	local   *storage.FilesystemBackend
	guard   *TokenGuard
}

func NewFileHandlers(backend storage.Backend, local *storage.FilesystemBackend, guard *TokenGuard) *FileHandlers {
	return &FileHandlers{
		backend: backend,
		local:   local,
		guard:   guard,
	}
}

// authorize checks the request's token against the key in the path and the
// method. It writes the failure response itself.
func (h *FileHandlers) authorize(w http.ResponseWriter, r *http.Request, method storage.Method) (string, bool) {
	client := clientKey(r)
	if h.guard.IsBlocked(client) {
		writeFailure(w, http.StatusTooManyRequests, codeTooManyInvalid, "too many invalid signed URL tokens, try again later")
		return "", false
	}

	key := r.PathValue("key")
	token := r.URL.Query().Get("token")
	if token == "" {
		writeFailure(w, http.StatusUnauthorized, codeMissingToken, "signed URL token is required")
		return "", false
	}

	if err := h.local.Signer().Verify(token, key, method); err != nil {
		logger := requestctx.Logger(r.Context())
		if errors.Is(err, storage.ErrExpiredToken) {
			logger.Debug().Str("key", key).Msg("Expired signed URL")
			writeFailure(w, http.StatusForbidden, codeExpiredToken, err.Error())
			return "", false
		}

		h.guard.RecordFailure(client)
		logger.Warn().Err(err).Str("key", key).Str("client", client).Msg("Rejected signed URL token")
		writeFailure(w, http.StatusForbidden, codeInvalidToken, err.Error())
		return "", false
	}

	return key, true
}

func (h *FileHandlers) Download(w http.ResponseWriter, r *http.Request) {
	key, ok := h.authorize(w, r, storage.MethodGet)
	if !ok {
		return
	}

	rc, err := h.backend.Download(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	contentType, err := h.local.ContentType(key)
	if err != nil || contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		logger := requestctx.Logger(r.Context())
		logger.Warn().Err(err).Str("key", key).Msg("Download interrupted")
	}
}

type uploadResponse struct {
	Key  string `json:"key"`
	ETag string `json:"etag"`
}

func (h *FileHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	key, ok := h.authorize(w, r, storage.MethodPut)
	if !ok {
		return
	}

	res, err := h.backend.Upload(r.Context(), storage.UploadInput{
		Key:         key,
		Body:        r.Body,
		Size:        r.ContentLength,
		ContentType: r.Header.Get("Content-Type"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{Key: res.Key, ETag: res.ETag})
}
