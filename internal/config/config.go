// Package config provides the storage configuration resolved from the
// environment.
//
// Resolution is lazy: nothing is read or validated until the first call to
// Get. The validated snapshot is cached for the life of the process and
// handed out by value, so callers cannot mutate it.
package config

import (
	"strings"
	"time"
)

// Config is the validated storage configuration.
type Config struct {
	// Identifier of the active backend (STORAGE_BACKEND)
	Backend string `yaml:"backend"`

	// Largest single upload in bytes
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes"`

	// Total bytes a caller may keep in storage
	QuotaBytes int64 `yaml:"quota_bytes"`

	// Default lifetime of signed URLs
	SignedURLExpirationSeconds int64 `yaml:"signed_url_expiration_seconds"`

	// Content type globs accepted by uploads; empty allows everything
	AllowedContentTypes []string `yaml:"allowed_content_types,omitempty"`

	// Backend-specific settings. The concrete type depends on Backend:
	// LocalConfig for "local", S3Config for "s3", or whatever a registered
	// schema returns. Backends without a schema get an empty map.
	BackendConfig any `yaml:"backend_config"`
}

// SignedURLExpiration returns the default signed URL lifetime.
func (c Config) SignedURLExpiration() time.Duration {
	return time.Duration(c.SignedURLExpirationSeconds) * time.Second
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	out := c
	out.AllowedContentTypes = append([]string(nil), c.AllowedContentTypes...)
	switch bc := c.BackendConfig.(type) {
	case S3Config:
		out.BackendConfig = bc.Redacted()
	case LocalConfig:
		out.BackendConfig = bc.Redacted()
	}
	return out
}

func (c Config) clone() Config {
	out := c
	out.AllowedContentTypes = append([]string(nil), c.AllowedContentTypes...)
	if m, ok := c.BackendConfig.(map[string]any); ok {
		cp := make(map[string]any, len(m))
		for k, v := range m {
			cp[k] = v
		}
		out.BackendConfig = cp
	}
	return out
}

// BackendSettings extracts the typed backend configuration.
func BackendSettings[T any](c Config) (T, bool) {
	v, ok := c.BackendConfig.(T)
	return v, ok
}

// LocalConfig holds filesystem backend settings.
type LocalConfig struct {
	// Root directory for stored objects
	Path string `yaml:"path"`

	// Public URL prefix signed URLs are built on
	BaseURL string `yaml:"base_url"`

	// HMAC secret for signed URL tokens. Empty means a per-process secret.
	SigningSecret string `yaml:"signing_secret,omitempty"`
}

func (c LocalConfig) Redacted() LocalConfig {
	c.SigningSecret = redact(c.SigningSecret)
	return c
}

// S3Config holds S3-compatible backend settings.
type S3Config struct {
	// Custom endpoint for non-AWS services such as MinIO
	Endpoint string `yaml:"endpoint,omitempty"`

	Region string `yaml:"region"`
	Bucket string `yaml:"bucket"`

	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// Defaults to true when Endpoint is set
	ForcePathStyle bool `yaml:"force_path_style"`
}

func (c S3Config) Redacted() S3Config {
	c.AccessKeyID = redact(c.AccessKeyID)
	c.SecretAccessKey = redact(c.SecretAccessKey)
	return c
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return strings.Repeat("*", 8)
}
