package backend

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Strob0t/TenantForge/internal/config"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
)

// Factory constructs a Driver from the service configuration.
type Factory func(cfg *config.Config) (Driver, error)

var (
	mu        sync.RWMutex
	factories = make(map[tenant.BackendKind]Factory)
)

// Register makes a driver factory available by kind.
// It is typically called from an init() function in the adapter package.
func Register(kind tenant.BackendKind, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("backend: duplicate registration for %q", kind))
	}
	factories[kind] = factory
}

// New creates the Driver registered for kind.
func New(kind tenant.BackendKind, cfg *config.Config) (Driver, error) {
	mu.RLock()
	factory, ok := factories[kind]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("backend: unknown driver %q (available: %v)", kind, Available())
	}
	return factory(cfg)
}

// Available returns the registered kinds in sorted order.
func Available() []tenant.BackendKind {
	mu.RLock()
	defer mu.RUnlock()

	kinds := make([]tenant.BackendKind, 0, len(factories))
	for kind := range factories {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}
