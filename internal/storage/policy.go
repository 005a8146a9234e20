package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gobwas/glob"

	"github.com/raptscallions/storage/internal/config"
	"github.com/raptscallions/storage/internal/storageerr"
)

// UsageFunc reports the bytes a caller currently has stored.
type UsageFunc func(ctx context.Context) (int64, error)

// Policy enforces upload limits: per-file size, total quota and the allowed
// content types.
type Policy struct {
	maxFileSize int64
	quota       int64
	allowed     []string
	matchers    []glob.Glob
}

// NewPolicy compiles the allowed content type globs, e.g. "image/*".
// Non-positive limits disable the corresponding check.
func NewPolicy(maxFileSize, quota int64, allowedContentTypes []string) (*Policy, error) {
	p := &Policy{
		maxFileSize: maxFileSize,
		quota:       quota,
	}
	for _, pattern := range allowedContentTypes {
		g, err := glob.Compile(strings.ToLower(pattern), '/')
		if err != nil {
			return nil, fmt.Errorf("compiling content type pattern %q: %w", pattern, err)
		}
		p.allowed = append(p.allowed, pattern)
		p.matchers = append(p.matchers, g)
	}
	return p, nil
}

// PolicyFromConfig builds the policy described by cfg.
func PolicyFromConfig(cfg config.Config) (*Policy, error) {
	return NewPolicy(cfg.MaxFileSizeBytes, cfg.QuotaBytes, cfg.AllowedContentTypes)
}

// AllowsContentType matches the media type, ignoring parameters such as
// charset. An empty allow-list accepts everything.
func (p *Policy) AllowsContentType(contentType string) bool {
	if len(p.matchers) == 0 {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, g := range p.matchers {
		if g.Match(mediaType) {
			return true
		}
	}
	return false
}

// CheckUpload validates an upload of size bytes for a caller currently using
// usage bytes. A negative size skips the size checks.
func (p *Policy) CheckUpload(size, usage int64, contentType string) error {
	if !p.AllowsContentType(contentType) {
		return storageerr.InvalidFileType(contentType, p.allowed)
	}
	if size < 0 {
		return nil
	}
	if p.maxFileSize > 0 && size > p.maxFileSize {
		return storageerr.QuotaExceeded(
			fmt.Sprintf("file size %d exceeds the maximum of %d bytes", size, p.maxFileSize),
			p.maxFileSize,
			size,
		)
	}
	if p.quota > 0 && usage+size > p.quota {
		return storageerr.QuotaExceeded(
			fmt.Sprintf("upload of %d bytes would exceed the storage quota of %d bytes", size, p.quota),
			p.quota,
			usage+size,
		)
	}
	return nil
}

// Guarded wraps b so uploads are checked against p first. usage may be nil,
// meaning zero current usage.
//
// The declared Size is only a first check: the body itself is always counted
// and the upload fails with QuotaExceeded once it passes the per-file limit
// or the remaining quota. A body longer than a positive declared Size fails
// too. Size 0 is treated as undeclared.
func Guarded(b Backend, p *Policy, usage UsageFunc) Backend {
	return &guarded{Backend: b, policy: p, usage: usage}
}

type guarded struct {
	Backend
	policy *Policy
	usage  UsageFunc
}

func (g *guarded) Unwrap() Backend {
	return g.Backend
}

func (g *guarded) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	var used int64
	if g.usage != nil {
		var err error
		used, err = g.usage(ctx)
		if err != nil {
			return nil, storageerr.Storage("reading storage usage failed", map[string]any{"key": in.Key}, err)
		}
	}

	if err := g.policy.CheckUpload(in.Size, used, in.ContentType); err != nil {
		return nil, err
	}

	if in.Body != nil {
		lr := &limitReader{
			r:           in.Body,
			key:         in.Key,
			declared:    in.Size,
			maxFileSize: g.policy.maxFileSize,
			quota:       g.policy.quota,
			used:        used,
		}
		if lr.window() >= 0 {
			in.Body = lr
		}
	}

	return g.Backend.Upload(ctx, in)
}

// limitReader counts the bytes of an upload body and fails as soon as they
// pass the declared size, the per-file limit or the quota. Non-positive
// limits are off.
type limitReader struct {
	r           io.Reader
	key         string
	declared    int64
	maxFileSize int64
	quota       int64
	used        int64
	read        int64
}

// window returns how many more bytes may be read before a limit is crossed,
// or -1 when no limit applies.
func (l *limitReader) window() int64 {
	w := int64(-1)
	limit := func(n int64) {
		if n = max(n, 0); w < 0 || n < w {
			w = n
		}
	}
	if l.declared > 0 {
		limit(l.declared - l.read)
	}
	if l.maxFileSize > 0 {
		limit(l.maxFileSize - l.read)
	}
	if l.quota > 0 {
		limit(l.quota - l.used - l.read)
	}
	return w
}

func (l *limitReader) Read(p []byte) (int, error) {
	// One byte past the window is enough to detect an overrun.
	if w := l.window(); int64(len(p)) > w+1 {
		p = p[:w+1]
	}

	n, err := l.r.Read(p)
	l.read += int64(n)

	switch {
	case l.declared > 0 && l.read > l.declared:
		return 0, storageerr.Storage(
			fmt.Sprintf("upload body is larger than its declared size of %d bytes", l.declared),
			map[string]any{"key": l.key, "declared": l.declared},
			nil,
		)
	case l.maxFileSize > 0 && l.read > l.maxFileSize:
		return 0, storageerr.QuotaExceeded(
			fmt.Sprintf("file exceeds the maximum of %d bytes", l.maxFileSize),
			l.maxFileSize,
			l.read,
		)
	case l.quota > 0 && l.used+l.read > l.quota:
		return 0, storageerr.QuotaExceeded(
			fmt.Sprintf("upload would exceed the storage quota of %d bytes", l.quota),
			l.quota,
			l.used+l.read,
		)
	}
	return n, err
}
