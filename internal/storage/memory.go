package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/raptscallions/storage/internal/storageerr"
)

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps objects in a map. It is safe for concurrent use and
// intended for tests and ephemeral processes.
type MemoryBackend struct {
	mu            sync.RWMutex
	objects       map[string]memoryObject
	defaultExpiry time.Duration
}

type memoryObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	etag        string
}

func NewMemoryBackend(defaultExpiry time.Duration) *MemoryBackend {
	return &MemoryBackend{
		objects:       make(map[string]memoryObject),
		defaultExpiry: defaultExpiry,
	}
}

func (m *MemoryBackend) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageerr.Storage("storage upload canceled", map[string]any{"key": in.Key}, err)
	}
	if in.Key == "" {
		return nil, storageerr.Storage("object key is required", nil, nil)
	}

	var data []byte
	if in.Body != nil {
		var err error
		data, err = io.ReadAll(in.Body)
		if typed, ok := storageerr.As(err); ok {
			return nil, typed
		}
		if err != nil {
			return nil, storageerr.Storage("reading upload body failed", map[string]any{"key": in.Key}, err)
		}
	}

	sum := md5.Sum(data)
	obj := memoryObject{
		data:        data,
		contentType: in.ContentType,
		metadata:    copyMetadata(in.Metadata),
		etag:        hex.EncodeToString(sum[:]),
	}

	m.mu.Lock()
	m.objects[in.Key] = obj
	m.mu.Unlock()

	return &UploadResult{Key: in.Key, ETag: obj.etag}, nil
}

func (m *MemoryBackend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageerr.Storage("storage download canceled", map[string]any{"key": key}, err)
	}

	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()

	if !ok {
		return nil, storageerr.FileNotFound(key, nil)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return storageerr.Storage("storage delete canceled", map[string]any{"key": key}, err)
	}

	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, storageerr.Storage("storage exists check canceled", map[string]any{"key": key}, err)
	}

	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	return ok, nil
}

// SignedURL returns a memory:// URL. It carries no signature and is only
// meaningful inside the process.
func (m *MemoryBackend) SignedURL(ctx context.Context, key string, opts SignedURLOptions) (*SignedURL, error) {
	method, expires, err := resolveSignedURLOptions(opts, m.defaultExpiry)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(expires)
	u := fmt.Sprintf("memory://%s?method=%s&expires=%d", escapeKey(key), method, expiresAt.Unix())

	return &SignedURL{URL: u, Method: method, ExpiresAt: expiresAt}, nil
}

// ContentType returns the stored content type of key (test helper).
func (m *MemoryBackend) ContentType(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj.contentType, ok
}

// Metadata returns the stored metadata of key (test helper).
func (m *MemoryBackend) Metadata(key string) (map[string]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return copyMetadata(obj.metadata), ok
}

// Count returns the number of stored objects (test helper).
func (m *MemoryBackend) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// escapeKey path-escapes each segment of key, keeping the separators.
func escapeKey(key string) string {
	var buf bytes.Buffer
	start := 0
	for i := 0; i <= len(key); i++ {
		if i == len(key) || key[i] == '/' {
			buf.WriteString(url.PathEscape(key[start:i]))
			if i < len(key) {
				buf.WriteByte('/')
			}
			start = i + 1
		}
	}
	return buf.String()
}
