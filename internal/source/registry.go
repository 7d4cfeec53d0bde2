package source

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds a backend from options. The context covers setup work
// such as loading cloud credentials.
type Factory func(ctx context.Context, opts Options) (Backend, error)

var (
	registry   = make(map[string]Factory)
	registryMu sync.RWMutex
)

// Register adds a backend factory under a name.
// Panics if the name is already registered.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("source backend already registered: %s", name))
	}
	registry[name] = f
}

// Open builds the named backend.
func Open(ctx context.Context, name string, opts Options) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown source backend %q (have: %s)", name, strings.Join(Backends(), ", "))
	}
	return f(ctx, opts)
}

// Backends returns all registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
