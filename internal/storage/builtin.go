package storage

import (
	"context"
	"fmt"

	"github.com/raptscallions/storage/internal/config"
	"github.com/raptscallions/storage/internal/storageerr"
)

// Built-in backend identifiers.
const (
	BackendLocal  = "local"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// RegisterBuiltins registers the local, s3 and memory backends. Their
// factories resolve configuration through resolver when first invoked and
// return instrumented, policy-guarded instances.
func RegisterBuiltins(reg *Registry, resolver *config.Resolver) {
	reg.Register(BackendLocal, func() (Backend, error) {
		cfg, local, err := backendSettings[config.LocalConfig](resolver, BackendLocal)
		if err != nil {
			return nil, err
		}
		b, err := NewFilesystemBackend(local, cfg.SignedURLExpiration())
		if err != nil {
			return nil, err
		}
		return wrapBuiltin(BackendLocal, b, cfg)
	})

	reg.Register(BackendS3, func() (Backend, error) {
		cfg, s3cfg, err := backendSettings[config.S3Config](resolver, BackendS3)
		if err != nil {
			return nil, err
		}
		b, err := NewS3Backend(context.Background(), s3cfg, WithDefaultExpiration(cfg.SignedURLExpiration()))
		if err != nil {
			return nil, err
		}
		return wrapBuiltin(BackendS3, b, cfg)
	})

	reg.Register(BackendMemory, func() (Backend, error) {
		cfg, err := resolver.Get()
		if err != nil {
			return nil, err
		}
		return wrapBuiltin(BackendMemory, NewMemoryBackend(cfg.SignedURLExpiration()), cfg)
	})
}

func wrapBuiltin(name string, b Backend, cfg config.Config) (Backend, error) {
	policy, err := PolicyFromConfig(cfg)
	if err != nil {
		return nil, storageerr.Configuration(err.Error(), map[string]any{"backend": name})
	}
	return Instrument(name, Guarded(b, policy, nil)), nil
}

// backendSettings resolves the configuration and extracts the sub-config of
// backend. Only the active backend's settings are validated, so asking for
// any other backend is a configuration error.
func backendSettings[T any](resolver *config.Resolver, backend string) (config.Config, T, error) {
	var zero T

	cfg, err := resolver.Get()
	if err != nil {
		return config.Config{}, zero, err
	}

	settings, ok := config.BackendSettings[T](cfg)
	if !ok {
		return config.Config{}, zero, storageerr.Configuration(
			fmt.Sprintf("%s backend is not configured (%s=%q)", backend, config.EnvName("backend"), cfg.Backend),
			map[string]any{"backend": backend, "active": cfg.Backend},
		)
	}
	return cfg, settings, nil
}
