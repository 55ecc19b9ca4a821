package backend

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/petal/gpucore"
	"github.com/gogpu/petal/internal/logx"
)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for backend selection (first that opens wins).
	backendPriority = []string{WGPU, Software}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the sorted names of registered backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Open opens the named backend.
func Open(name string) (gpucore.Device, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
	}
	dev, err := factory()
	if err != nil {
		return nil, fmt.Errorf("backend: open %q: %w", name, err)
	}
	return dev, nil
}

// OpenDefault opens the best available backend. Backends in priority order
// (wgpu, then software) are tried first, then any other registered one.
// A backend that fails to open is logged and skipped.
func OpenDefault() (gpucore.Device, error) {
	tried := make(map[string]bool)
	order := append([]string(nil), backendPriority...)
	order = append(order, Available()...)

	for _, name := range order {
		if tried[name] || !IsRegistered(name) {
			continue
		}
		tried[name] = true
		dev, err := Open(name)
		if err != nil {
			logx.L().Warn("backend: skipping unavailable backend", "name", name, "err", err)
			continue
		}
		logx.L().Info("backend: opened", "name", name, "device", dev.Capabilities().Name)
		return dev, nil
	}
	return nil, ErrBackendNotAvailable
}
