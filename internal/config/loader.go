package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/raptscallions/storage/internal/storageerr"
)

// BackendSchema validates the settings of one backend and returns its typed
// configuration. It is only invoked when that backend is active.
type BackendSchema func(src Source) (any, ValidationErrors)

// Resolver lazily resolves and caches the configuration.
//
// Failed resolutions are not cached; the next Get retries against the
// current environment.
type Resolver struct {
	mu         sync.Mutex
	cached     *Config
	schemas    map[string]BackendSchema
	configFile string
}

// NewResolver returns a resolver with the built-in "local" and "s3" schemas.
// Construction reads nothing.
func NewResolver() *Resolver {
	r := &Resolver{
		schemas: make(map[string]BackendSchema),
	}
	r.schemas["local"] = LocalSchema
	r.schemas["s3"] = S3Schema
	return r
}

// RegisterBackendConfig adds or replaces the schema for a backend. Register
// before the first Get; an already cached snapshot is not revalidated.
func (r *Resolver) RegisterBackendConfig(backend string, schema BackendSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[backend] = schema
}

// Schemas lists the backends that have a registered schema.
func (r *Resolver) Schemas() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.schemas))
	for id := range r.schemas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetConfigFile makes resolution also read a YAML file. Environment variables
// take precedence over file values. Any cached snapshot is discarded.
func (r *Resolver) SetConfigFile(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configFile = path
	r.cached = nil
}

// Get returns the configuration, resolving it on first use.
func (r *Resolver) Get() (Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached == nil {
		cfg, err := r.load()
		if err != nil {
			return Config{}, err
		}
		r.cached = cfg
	}

	return r.cached.clone(), nil
}

// Reset discards the cached snapshot. Tests only.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
}

func (r *Resolver) load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(keyBackend, DefaultBackend)
	v.SetDefault(keyMaxFileSizeBytes, DefaultMaxFileSizeBytes)
	v.SetDefault(keyQuotaBytes, DefaultQuotaBytes)
	v.SetDefault(keySignedURLExpiration, DefaultSignedURLExpirationSeconds)

	if r.configFile != "" {
		v.SetConfigFile(r.configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, storageerr.Configuration(
					fmt.Sprintf("reading config file %s failed", r.configFile),
					map[string]any{"file": r.configFile},
				)
			}
		}
	}

	var errs ValidationErrors

	cfg := &Config{
		Backend: strings.TrimSpace(v.GetString(keyBackend)),
	}
	if cfg.Backend == "" {
		errs = append(errs, ValidationError{Field: EnvName(keyBackend), Message: "required"})
	}

	cfg.MaxFileSizeBytes = positiveInt(v, keyMaxFileSizeBytes, &errs)
	cfg.QuotaBytes = positiveInt(v, keyQuotaBytes, &errs)
	cfg.SignedURLExpirationSeconds = positiveInt(v, keySignedURLExpiration, &errs)
	cfg.AllowedContentTypes = contentTypePatterns(v, keyAllowedContentTypes, &errs)

	if schema, ok := r.schemas[cfg.Backend]; ok {
		backendCfg, backendErrs := schema(v)
		errs = append(errs, backendErrs...)
		cfg.BackendConfig = backendCfg
	} else {
		// Unknown backends pass; the factory rejects them if they are
		// never registered.
		cfg.BackendConfig = map[string]any{}
	}

	if len(errs) > 0 {
		return nil, errs.ConfigurationError()
	}

	log.Debug().
		Str("backend", cfg.Backend).
		Int64("max_file_size_bytes", cfg.MaxFileSizeBytes).
		Int64("quota_bytes", cfg.QuotaBytes).
		Msg("Storage configuration resolved")

	return cfg, nil
}

var defaultResolver = NewResolver()

// Default returns the process-wide resolver.
func Default() *Resolver {
	return defaultResolver
}

// Get resolves the process-wide configuration.
func Get() (Config, error) {
	return defaultResolver.Get()
}

// RegisterBackendConfig registers a schema on the process-wide resolver.
func RegisterBackendConfig(backend string, schema BackendSchema) {
	defaultResolver.RegisterBackendConfig(backend, schema)
}

// SetConfigFile points the process-wide resolver at a YAML file.
func SetConfigFile(path string) {
	defaultResolver.SetConfigFile(path)
}

// Reset discards the process-wide snapshot. Tests only.
func Reset() {
	defaultResolver.Reset()
}
