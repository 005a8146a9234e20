package storage

// The process-wide registry and factory. Production code registers backends
// at startup and then only calls GetBackend; the reset functions exist for
// test teardown.
var defaultFactory = NewFactory(NewRegistry())

func DefaultFactory() *Factory {
	return defaultFactory
}

// RegisterBackend registers fn on the process-wide registry.
func RegisterBackend(id string, fn FactoryFunc) {
	defaultFactory.Registry().Register(id, fn)
}

// GetBackend returns the process-wide instance for id.
func GetBackend(id string) (Backend, error) {
	return defaultFactory.Backend(id)
}

// ListBackends returns the identifiers registered on the process-wide
// registry.
func ListBackends() []string {
	return defaultFactory.Registry().List()
}

// ResetFactory drops process-wide cached instances. Tests only.
func ResetFactory() {
	defaultFactory.Reset()
}

// ResetAll drops process-wide instances and registrations. Tests only.
func ResetAll() {
	defaultFactory.ResetAll()
}
