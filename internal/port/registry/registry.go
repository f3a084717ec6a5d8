// Package registry defines the tenant registry port, the authoritative store
// of tenant records.
package registry

import (
	"context"

	"github.com/Strob0t/TenantForge/internal/domain/tenant"
)

// Registry is safe for concurrent use. Per-username serialization is the
// caller's job; the registry only guarantees that InsertIfAbsent is atomic.
type Registry interface {
	// InsertIfAbsent stores t unless a record for t.Username exists, in which
	// case it returns an error wrapping domain.ErrConflict. A port already
	// recorded for another tenant on the same backend is also a conflict.
	InsertIfAbsent(ctx context.Context, t *tenant.Tenant) (*tenant.Tenant, error)

	// Find returns the record for username or an error wrapping domain.ErrNotFound.
	Find(ctx context.Context, username string) (*tenant.Tenant, error)

	// Update changes the non-nil fields of req.
	Update(ctx context.Context, username string, req tenant.UpdateRequest) error

	// Delete removes the record. Deleting an absent record returns domain.ErrNotFound.
	Delete(ctx context.Context, username string) error

	// List returns all records ordered by creation time.
	List(ctx context.Context) ([]tenant.Tenant, error)

	// UsedPorts returns the host ports recorded for tenants on kind.
	UsedPorts(ctx context.Context, kind tenant.BackendKind) ([]int, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}
