package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/Strob0t/TenantForge/internal/descriptor"
	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
	"github.com/Strob0t/TenantForge/internal/resilience"
)

// IsBackendFailure reports whether err should count against a circuit
// breaker. Missing resources and rejected input are answers, not outages.
func IsBackendFailure(err error) bool {
	return err != nil &&
		!errors.Is(err, domain.ErrNotFound) &&
		!errors.Is(err, domain.ErrValidation) &&
		!errors.Is(err, context.Canceled)
}

// guarded wraps a Driver so that calls fail fast while the backend is down.
type guarded struct {
	inner   Driver
	breaker *resilience.Breaker
}

// WithBreaker decorates d with b. Ping bypasses the breaker so health checks
// keep reporting the real backend state.
func WithBreaker(d Driver, b *resilience.Breaker) Driver {
	return &guarded{inner: d, breaker: b}
}

func (g *guarded) run(fn func() error) error {
	err := g.breaker.Execute(fn)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%w: %s backend: %w", domain.ErrBackend, g.inner.Kind(), err)
	}
	return err
}

func (g *guarded) Kind() tenant.BackendKind { return g.inner.Kind() }

func (g *guarded) Apply(ctx context.Context, d *descriptor.Descriptor) (tenant.Handles, error) {
	var h tenant.Handles
	err := g.run(func() error {
		var err error
		h, err = g.inner.Apply(ctx, d)
		return err
	})
	return h, err
}

func (g *guarded) Stop(ctx context.Context, h tenant.Handles) error {
	return g.run(func() error { return g.inner.Stop(ctx, h) })
}

func (g *guarded) Start(ctx context.Context, h tenant.Handles) error {
	return g.run(func() error { return g.inner.Start(ctx, h) })
}

func (g *guarded) Remove(ctx context.Context, h tenant.Handles, keepStorage bool) error {
	return g.run(func() error { return g.inner.Remove(ctx, h, keepStorage) })
}

func (g *guarded) Recreate(ctx context.Context, h tenant.Handles, d *descriptor.Descriptor) (tenant.Handles, error) {
	var out tenant.Handles
	err := g.run(func() error {
		var err error
		out, err = g.inner.Recreate(ctx, h, d)
		return err
	})
	return out, err
}

func (g *guarded) Ping(ctx context.Context) error { return g.inner.Ping(ctx) }
