// Package backend defines the backend driver port: the operations the
// lifecycle service needs from an execution substrate.
package backend

import (
	"context"

	"github.com/Strob0t/TenantForge/internal/descriptor"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
)

// Driver applies descriptors to a container engine or a cluster.
//
// Stop and Remove treat an absent resource as success. Start on an absent
// resource returns an error wrapping domain.ErrNotFound. Every other failure
// wraps domain.ErrBackend.
type Driver interface {
	// Kind returns the backend this driver serves.
	Kind() tenant.BackendKind

	// Apply creates the descriptor's resources. Re-applying the same
	// descriptor converges instead of failing.
	Apply(ctx context.Context, d *descriptor.Descriptor) (tenant.Handles, error)

	// Stop scales the workload down without touching storage.
	Stop(ctx context.Context, h tenant.Handles) error

	// Start brings a stopped workload back.
	Start(ctx context.Context, h tenant.Handles) error

	// Remove deletes the workload. Storage survives when keepStorage is true.
	Remove(ctx context.Context, h tenant.Handles, keepStorage bool) error

	// Recreate replaces the workload with d while keeping storage.
	Recreate(ctx context.Context, h tenant.Handles, d *descriptor.Descriptor) (tenant.Handles, error)

	// Ping checks that the backend API is reachable.
	Ping(ctx context.Context) error
}
