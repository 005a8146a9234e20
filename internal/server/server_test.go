package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raptscallions/storage/internal/config"
	"github.com/raptscallions/storage/internal/storage"
	"github.com/raptscallions/storage/internal/storageerr"
)

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	local, err := storage.NewFilesystemBackend(config.LocalConfig{
		Path:          t.TempDir(),
		BaseURL:       "http://example.test/files",
		SigningSecret: "server-test-secret-0123",
	}, time.Minute)
	require.NoError(t, err)

	policy, err := storage.NewPolicy(16, 0, []string{"text/*"})
	require.NoError(t, err)

	backend := storage.Instrument("local", storage.Guarded(local, policy, nil))
	srv := New("local", backend, opts...)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

// signedPath turns a signed URL into a request target for the test handler.
func signedPath(t *testing.T, srv *Server, key string, method storage.Method, expires time.Duration) string {
	t.Helper()
	signed, err := srv.backend.SignedURL(context.Background(), key, storage.SignedURLOptions{Method: method, Expires: expires})
	require.NoError(t, err)

	u, err := url.Parse(signed.URL)
	require.NoError(t, err)
	return u.RequestURI()
}

func do(srv *Server, method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_PutThenGet(t *testing.T) {
	srv := newTestServer(t)

	put := do(srv, http.MethodPut, signedPath(t, srv, "notes/hello.txt", storage.MethodPut, time.Minute),
		strings.NewReader("hello"), map[string]string{"Content-Type": "text/plain"})
	require.Equal(t, http.StatusCreated, put.Code, put.Body.String())

	var created uploadResponse
	require.NoError(t, json.Unmarshal(put.Body.Bytes(), &created))
	assert.Equal(t, "notes/hello.txt", created.Key)
	assert.NotEmpty(t, created.ETag)

	get := do(srv, http.MethodGet, signedPath(t, srv, "notes/hello.txt", storage.MethodGet, time.Minute), nil, nil)
	require.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, "hello", get.Body.String())
	assert.Equal(t, "text/plain", get.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", get.Header().Get("X-Content-Type-Options"))
}

func TestServer_EscapedKeys(t *testing.T) {
	srv := newTestServer(t)
	key := "dir with space/a&b.txt"

	put := do(srv, http.MethodPut, signedPath(t, srv, key, storage.MethodPut, time.Minute),
		strings.NewReader("x"), map[string]string{"Content-Type": "text/plain"})
	require.Equal(t, http.StatusCreated, put.Code, put.Body.String())

	exists, err := srv.backend.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestServer_GetMissingObject(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodGet, signedPath(t, srv, "missing.txt", storage.MethodGet, time.Minute), nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var payload storageerr.Payload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, storageerr.CodeFileNotFound, payload.Code)
	assert.Equal(t, http.StatusNotFound, payload.StatusCode)
}

func TestServer_GetDirectoryPrefix(t *testing.T) {
	srv := newTestServer(t)

	put := do(srv, http.MethodPut, signedPath(t, srv, "a/b.txt", storage.MethodPut, time.Minute),
		strings.NewReader("x"), map[string]string{"Content-Type": "text/plain"})
	require.Equal(t, http.StatusCreated, put.Code, put.Body.String())

	w := do(srv, http.MethodGet, signedPath(t, srv, "a", storage.MethodGet, time.Minute), nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), storageerr.CodeFileNotFound)
}

func TestServer_PolicyRejections(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodPut, signedPath(t, srv, "big.txt", storage.MethodPut, time.Minute),
		bytes.NewReader(bytes.Repeat([]byte("x"), 32)), map[string]string{"Content-Type": "text/plain"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), storageerr.CodeQuotaExceeded)

	w = do(srv, http.MethodPut, signedPath(t, srv, "img.png", storage.MethodPut, time.Minute),
		strings.NewReader("x"), map[string]string{"Content-Type": "image/png"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), storageerr.CodeInvalidFileType)
}

func TestServer_TokenChecks(t *testing.T) {
	srv := newTestServer(t)

	t.Run("missing token", func(t *testing.T) {
		w := do(srv, http.MethodGet, "/files/a.txt", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), codeMissingToken)
	})

	t.Run("wrong method", func(t *testing.T) {
		w := do(srv, http.MethodPut, signedPath(t, srv, "a.txt", storage.MethodGet, time.Minute), strings.NewReader("x"), nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), codeInvalidToken)
	})

	t.Run("other key", func(t *testing.T) {
		target := signedPath(t, srv, "a.txt", storage.MethodGet, time.Minute)
		target = strings.Replace(target, "/files/a.txt", "/files/b.txt", 1)
		w := do(srv, http.MethodGet, target, nil, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("expired", func(t *testing.T) {
		signer := srv.local.Signer()
		signed, err := signer.Sign("a.txt", storage.MethodGet, -time.Minute)
		require.NoError(t, err)
		u, _ := url.Parse(signed.URL)

		w := do(srv, http.MethodGet, u.RequestURI(), nil, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), codeExpiredToken)
	})
}

func TestServer_BlocksRepeatedInvalidTokens(t *testing.T) {
	srv := newTestServer(t, WithTokenGuard(3, time.Minute))

	for i := 0; i < 3; i++ {
		w := do(srv, http.MethodGet, "/files/a.txt?token=garbage", nil, nil)
		require.Equal(t, http.StatusForbidden, w.Code)
	}

	w := do(srv, http.MethodGet, signedPath(t, srv, "a.txt", storage.MethodGet, time.Minute), nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, HealthStatusHealthy, resp.Status)
	assert.Equal(t, "local", resp.Backend)
}

type failingBackend struct {
	storage.Backend
}

func (failingBackend) Exists(context.Context, string) (bool, error) {
	return false, storageerr.Storage("storage service unavailable", nil, nil)
}

func TestServer_HealthUnhealthy(t *testing.T) {
	srv := New("broken", failingBackend{Backend: storage.NewMemoryBackend(time.Minute)})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	w := do(srv, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), string(HealthStatusUnhealthy))
}

func TestServer_NoFileRoutesForOtherBackends(t *testing.T) {
	srv := New("memory", storage.NewMemoryBackend(time.Minute))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	w := do(srv, http.MethodGet, "/files/a.txt?token=x", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t)

	do(srv, http.MethodGet, "/health", nil, nil)
	w := do(srv, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "storage_operations_total")
	assert.Contains(t, w.Body.String(), "storage_http_requests_total")
}

func TestServer_ServeAndShutdown(t *testing.T) {
	srv := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background(), ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-done)
}
