package storage

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/raptscallions/storage/internal/metrics"
	"github.com/raptscallions/storage/internal/storageerr"
)

// Factory instantiates backends lazily and caches one instance per
// identifier.
//
// Concurrent callers asking for the same uncached identifier are serialized,
// so its factory function runs exactly once. Different identifiers build in
// parallel. A factory error is returned to the caller and nothing is cached.
//
// Re-registering an identifier does not evict an instance that is already
// cached; the old instance stays until Reset or ResetAll.
type Factory struct {
	registry *Registry

	mu        sync.Mutex
	instances map[string]Backend
	building  map[string]*sync.Mutex
	gen       uint64
}

func NewFactory(registry *Registry) *Factory {
	return &Factory{
		registry:  registry,
		instances: make(map[string]Backend),
		building:  make(map[string]*sync.Mutex),
	}
}

func (f *Factory) Registry() *Registry {
	return f.registry
}

// Backend returns the instance for id, creating it on first use.
func (f *Factory) Backend(id string) (Backend, error) {
	f.mu.Lock()
	if b, ok := f.instances[id]; ok {
		f.mu.Unlock()
		return b, nil
	}
	lock, ok := f.building[id]
	if !ok {
		lock = &sync.Mutex{}
		f.building[id] = lock
	}
	f.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	f.mu.Lock()
	if b, ok := f.instances[id]; ok {
		f.mu.Unlock()
		return b, nil
	}
	gen := f.gen
	f.mu.Unlock()

	fn, ok := f.registry.Get(id)
	if !ok {
		return nil, storageerr.BackendNotRegistered(id, f.registry.List())
	}

	b, err := fn()
	if err != nil {
		log.Error().Err(err).Str("backend", id).Msg("Failed to initialize storage backend")
		if _, typed := storageerr.As(err); typed {
			return nil, err
		}
		return nil, storageerr.Storage(
			fmt.Sprintf("failed to initialize storage backend %q", id),
			map[string]any{"backend": id},
			err,
		)
	}
	if isNilBackend(b) {
		return nil, storageerr.Configuration(
			fmt.Sprintf("storage backend %q factory returned no instance", id),
			map[string]any{"backend": id},
		)
	}

	f.mu.Lock()
	// A Reset while we were building invalidates this instance for caching,
	// but the caller still gets it.
	if f.gen == gen {
		f.instances[id] = b
	}
	f.mu.Unlock()

	metrics.RecordBackendInitialized(id)
	log.Debug().Str("backend", id).Msg("Storage backend initialized")

	return b, nil
}

// Cached reports whether an instance for id is cached.
func (f *Factory) Cached(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.instances[id]
	return ok
}

// Reset drops cached instances. Registrations are kept. Tests only.
func (f *Factory) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances = make(map[string]Backend)
	f.gen++
}

// ResetAll drops cached instances and every registration. Tests only.
func (f *Factory) ResetAll() {
	f.Reset()
	f.registry.Reset()
}
