package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/raptscallions/storage/internal/config"
	"github.com/raptscallions/storage/internal/storageerr"
)

var _ Backend = (*FilesystemBackend)(nil)

// FilesystemBackend stores objects on the local filesystem.
// Objects live at {root}/objects/{key}; content type and metadata are kept
// in a JSON sidecar at {root}/meta/{key}.json.
type FilesystemBackend struct {
	root          string
	signer        *URLSigner
	defaultExpiry time.Duration
}

type fileMeta struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
}

// NewFilesystemBackend creates the backend rooted at cfg.Path, creating the
// directory if needed.
func NewFilesystemBackend(cfg config.LocalConfig, defaultExpiry time.Duration) (*FilesystemBackend, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, storageerr.Configuration("local storage path is required", map[string]any{"field": config.EnvName("local_path")})
	}

	root, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, storageerr.Configuration("local storage path is invalid", map[string]any{"path": cfg.Path})
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, storageerr.Storage("creating local storage directory failed", map[string]any{"path": root}, err)
	}

	signer, err := NewURLSigner([]byte(cfg.SigningSecret), strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, storageerr.Storage("initializing URL signer failed", nil, err)
	}

	return &FilesystemBackend{
		root:          root,
		signer:        signer,
		defaultExpiry: defaultExpiry,
	}, nil
}

// Signer returns the signer whose URLs the HTTP server must verify.
func (f *FilesystemBackend) Signer() *URLSigner {
	return f.signer
}

// validateKey rejects keys that could escape the root.
func validateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("key is empty")
	case strings.Contains(key, "\x00"):
		return fmt.Errorf("null byte not allowed")
	case filepath.IsAbs(key) || strings.HasPrefix(key, "/") || strings.HasPrefix(key, "\\"):
		return fmt.Errorf("absolute paths not allowed")
	case len(key) >= 2 && key[1] == ':':
		return fmt.Errorf("absolute paths not allowed")
	}

	for _, part := range strings.FieldsFunc(key, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return fmt.Errorf("path traversal not allowed")
		}
	}
	return nil
}

func (f *FilesystemBackend) paths(key string) (string, string, error) {
	if err := validateKey(key); err != nil {
		return "", "", storageerr.Storage("invalid object key: "+err.Error(), map[string]any{"key": key}, err)
	}

	object := filepath.Join(f.root, "objects", filepath.FromSlash(key))
	meta := filepath.Join(f.root, "meta", filepath.FromSlash(key)+".json")

	if !strings.HasPrefix(object, f.root+string(filepath.Separator)) {
		return "", "", storageerr.Storage("invalid object key: path escapes storage root", map[string]any{"key": key}, nil)
	}
	return object, meta, nil
}

// Upload writes to a temporary file and renames it into place, so readers
// never observe a partial object.
func (f *FilesystemBackend) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	objectPath, metaPath, err := f.paths(in.Key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storageerr.Storage("storage upload canceled", map[string]any{"key": in.Key}, err)
	}

	fail := func(msg string, cause error) (*UploadResult, error) {
		return nil, storageerr.Storage(msg, map[string]any{"key": in.Key}, cause)
	}

	if err := os.MkdirAll(filepath.Dir(objectPath), 0o755); err != nil {
		return fail("creating object directory failed", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(objectPath), tempFilePrefix+"*")
	if err != nil {
		return fail("creating temporary file failed", err)
	}
	defer os.Remove(tmp.Name())

	hasher := md5.New()
	body := in.Body
	if body == nil {
		body = strings.NewReader("")
	}
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), &ctxReader{ctx: ctx, r: body}); err != nil {
		tmp.Close()
		if typed, ok := storageerr.As(err); ok {
			return nil, typed
		}
		return fail("writing object failed", err)
	}
	if err := tmp.Close(); err != nil {
		return fail("writing object failed", err)
	}

	meta := fileMeta{
		ContentType: in.ContentType,
		Metadata:    copyMetadata(in.Metadata),
		ETag:        hex.EncodeToString(hasher.Sum(nil)),
	}
	metaTmp, err := stageMeta(metaPath, meta)
	if err != nil {
		return fail("writing object metadata failed", err)
	}
	defer os.Remove(metaTmp)

	// The sidecar is only replaced once the object is in place.
	if err := os.Rename(tmp.Name(), objectPath); err != nil {
		return fail("storing object failed", err)
	}
	if err := os.Rename(metaTmp, metaPath); err != nil {
		return fail("writing object metadata failed", err)
	}

	return &UploadResult{Key: in.Key, ETag: meta.ETag}, nil
}

func (f *FilesystemBackend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	objectPath, _, err := f.paths(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(objectPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storageerr.FileNotFound(key, err)
		}
		return nil, storageerr.Storage("opening object failed", map[string]any{"key": key}, err)
	}

	// A key that names a directory of other objects is not an object.
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, storageerr.Storage("opening object failed", map[string]any{"key": key}, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, storageerr.FileNotFound(key, nil)
	}
	return file, nil
}

// Delete removes the object and its sidecar. Missing files are ignored, and
// so is a directory at the object path, which only holds other objects.
func (f *FilesystemBackend) Delete(ctx context.Context, key string) error {
	objectPath, metaPath, err := f.paths(key)
	if err != nil {
		return err
	}

	for _, p := range []string{objectPath, metaPath} {
		info, err := os.Lstat(p)
		if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
			continue
		}
		if err == nil {
			err = os.Remove(p)
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return storageerr.Storage("removing object failed", map[string]any{"key": key}, err)
		}
	}
	return nil
}

func (f *FilesystemBackend) Exists(ctx context.Context, key string) (bool, error) {
	objectPath, _, err := f.paths(key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(objectPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storageerr.Storage("checking object failed", map[string]any{"key": key}, err)
	}
	return !info.IsDir(), nil
}

func (f *FilesystemBackend) SignedURL(ctx context.Context, key string, opts SignedURLOptions) (*SignedURL, error) {
	if _, _, err := f.paths(key); err != nil {
		return nil, err
	}

	method, expires, err := resolveSignedURLOptions(opts, f.defaultExpiry)
	if err != nil {
		return nil, err
	}

	signed, err := f.signer.Sign(key, method, expires)
	if err != nil {
		return nil, storageerr.Storage("generating signed URL failed", map[string]any{"key": key}, err)
	}
	return signed, nil
}

// ContentType returns the content type recorded at upload.
func (f *FilesystemBackend) ContentType(key string) (string, error) {
	_, metaPath, err := f.paths(key)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", storageerr.FileNotFound(key, err)
		}
		return "", storageerr.Storage("reading object metadata failed", map[string]any{"key": key}, err)
	}

	var meta fileMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", storageerr.Storage("decoding object metadata failed", map[string]any{"key": key}, err)
	}
	return meta.ContentType, nil
}

// stageMeta writes the sidecar to a temp file next to path and returns its
// name; the caller renames it into place.
func stageMeta(path string, meta fileMeta) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), tempFilePrefix+"*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
