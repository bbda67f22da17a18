package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime"
	"slices"
	"sync"

	"github.com/MrWong99/posecoach/pkg/speech"
)

// ErrBackendNotRegistered is returned by [Registry.Create] when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// BackendFactory builds a speech backend from the speech section.
type BackendFactory func(ctx context.Context, cfg SpeechConfig) (speech.Backend, error)

// Registry maps backend names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[BackendName]BackendFactory
	goos     string
	goarch   string
}

// NewRegistry returns an empty, ready-to-use [Registry] that resolves
// [BackendAuto] for the running platform.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[BackendName]BackendFactory),
		goos:     runtime.GOOS,
		goarch:   runtime.GOARCH,
	}
}

// SetPlatform overrides the platform used to resolve [BackendAuto].
func (r *Registry) SetPlatform(goos, goarch string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.goos, r.goarch = goos, goarch
}

// Register registers a backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name BackendName, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = factory
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []BackendName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.backends))
}

// Resolve maps name to a concrete backend name, resolving [BackendAuto] for
// the registry's platform.
func (r *Registry) Resolve(name BackendName) BackendName {
	if name != BackendAuto && name != "" {
		return name
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ResolveBackend(r.goos, r.goarch)
}

// Create instantiates the backend registered under name. [BackendAuto] is
// resolved first. Returns [ErrBackendNotRegistered] if no factory has been
// registered for the resolved name.
func (r *Registry) Create(ctx context.Context, name BackendName, cfg SpeechConfig) (speech.Backend, error) {
	resolved := r.Resolve(name)
	r.mu.RLock()
	factory, ok := r.backends[resolved]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, resolved)
	}
	b, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create %s backend: %w", resolved, err)
	}
	return b, nil
}

// ResolveBackend picks the speech backend for a platform. Embedded Linux
// boards and mobile operating systems have a native speech daemon; every
// other platform uses the Web Speech host.
func ResolveBackend(goos, goarch string) BackendName {
	switch goos {
	case "android", "ios":
		return BackendNative
	case "linux":
		if goarch == "arm" || goarch == "arm64" {
			return BackendNative
		}
	}
	return BackendWebSpeech
}
