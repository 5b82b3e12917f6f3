package backend

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/gpucompute/gpucore"
)

// Backend name constants.
const (
	// BackendWGPU is the name of the Pure Go WebGPU backend (gogpu/wgpu).
	BackendWGPU = "wgpu"
	// BackendSoft is the name of the CPU software device.
	BackendSoft = "soft"
)

// ErrBackendNotAvailable is returned when a requested backend is not registered.
var ErrBackendNotAvailable = errors.New("backend: not available")

// Opener creates a device.
type Opener func() (gpucore.Device, error)

// Priority order for backend selection (first registered wins).
var registry = gpucontext.NewRegistry[Opener](
	gpucontext.WithPriority(BackendWGPU, BackendSoft),
)

// Register registers a device opener with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, open Opener) {
	registry.Register(name, func() Opener { return open })
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registry.Unregister(name)
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	return registry.Has(name)
}

// Available returns the registered backend names, sorted.
func Available() []string {
	names := registry.Available()
	slices.Sort(names)
	return names
}

// Default returns the name of the best available backend, or "".
func Default() string {
	return registry.BestName()
}

// Open opens the named backend. An empty name opens the best available one.
func Open(name string) (gpucore.Device, error) {
	if name == "" {
		name = registry.BestName()
	}
	open := registry.Get(name)
	if open == nil {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrBackendNotAvailable, name, Available())
	}
	dev, err := open()
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", name, err)
	}
	return dev, nil
}
