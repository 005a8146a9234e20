package storage

import (
	"reflect"
	"sync"
)

// FactoryFunc produces a backend instance.
type FactoryFunc func() (Backend, error)

// Registry maps backend identifiers to factories. It never calls a factory
// and never holds instances; see Factory for that.
//
// Identifiers are case-sensitive.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FactoryFunc
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FactoryFunc),
	}
}

// Register stores fn under id, replacing any previous factory for id.
// It panics if fn is nil.
func (r *Registry) Register(id string, fn FactoryFunc) {
	if fn == nil {
		panic("storage: Register factory is nil for backend " + id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[id]; !exists {
		r.order = append(r.order, id)
	}
	r.factories[id] = fn
}

// Get returns the factory registered under id.
func (r *Registry) Get(id string) (FactoryFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.factories[id]
	return fn, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// List returns the registered identifiers in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Reset removes every registration. Tests only.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]FactoryFunc)
	r.order = nil
}

// Register adds a typed factory. The constraint checks at compile time that
// B implements Backend.
func Register[B Backend](r *Registry, id string, fn func() (B, error)) {
	if fn == nil {
		panic("storage: Register factory is nil for backend " + id)
	}
	r.Register(id, func() (Backend, error) {
		b, err := fn()
		if err != nil || isNilBackend(b) {
			return nil, err
		}
		return b, nil
	})
}

// isNilBackend also catches typed nils such as a nil *S3Backend held in the
// interface.
func isNilBackend(b Backend) bool {
	if b == nil {
		return true
	}
	v := reflect.ValueOf(b)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
