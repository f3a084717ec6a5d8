// Package service implements the tenant lifecycle on top of ports.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	tfotel "github.com/Strob0t/TenantForge/internal/adapter/otel"
	"github.com/Strob0t/TenantForge/internal/config"
	"github.com/Strob0t/TenantForge/internal/descriptor"
	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/event"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
	"github.com/Strob0t/TenantForge/internal/keylock"
	"github.com/Strob0t/TenantForge/internal/logger"
	"github.com/Strob0t/TenantForge/internal/netport"
	"github.com/Strob0t/TenantForge/internal/port/backend"
	"github.com/Strob0t/TenantForge/internal/port/broadcast"
	"github.com/Strob0t/TenantForge/internal/port/cache"
	"github.com/Strob0t/TenantForge/internal/port/registry"
	"github.com/Strob0t/TenantForge/internal/secrets"
)

// ErrUsernameInUse is returned when provisioning a username that already has
// a registry record.
var ErrUsernameInUse = fmt.Errorf("%w: Username is already in use", domain.ErrConflict)

// LifecycleService drives tenants through provision, stop, start, update and
// deprovision. Every operation on a username holds that username's lock for
// its whole sequence, so competing requests observe it as atomic.
type LifecycleService struct {
	kind     tenant.BackendKind
	workload config.Workload
	registry registry.Registry
	driver   backend.Driver
	builder  *descriptor.Builder
	ports    *netport.Allocator
	locks    *keylock.Locker
	pool     *keylock.Pool
	hub      broadcast.Broadcaster
	cache    cache.Cache
	cacheTTL time.Duration
	vault    *secrets.Vault
	metrics  *tfotel.Metrics
	ops      *operationStore
	checks   map[string]HealthCheck

	now      func() time.Time
	revision func() string
}

// NewLifecycleService creates a LifecycleService for driver's backend. For
// the compose backend a port allocator over the configured range is created,
// consulting reg for ports already recorded.
func NewLifecycleService(cfg *config.Config, reg registry.Registry, driver backend.Driver) *LifecycleService {
	s := &LifecycleService{
		kind:     driver.Kind(),
		workload: cfg.Workload,
		registry: reg,
		driver:   driver,
		builder:  descriptor.NewBuilder(cfg),
		locks:    keylock.New(),
		pool:     keylock.NewPool(cfg.Backend.MaxConcurrent),
		hub:      broadcast.Nop{},
		cacheTTL: cfg.Cache.TenantTTL,
		ops:      newOperationStore(defaultOperationRetention),
		now:      time.Now,
		revision: uuid.NewString,
	}
	if s.kind == tenant.BackendCompose {
		s.ports = netport.New(netport.Options{
			Min:      cfg.Compose.PortMin,
			Max:      cfg.Compose.PortMax,
			Attempts: cfg.Compose.PortAttempts,
			BindHost: cfg.Compose.BindHost,
		}, func(ctx context.Context) ([]int, error) {
			return reg.UsedPorts(ctx, tenant.BackendCompose)
		})
	}
	return s
}

// SetBroadcaster sets the lifecycle event sink.
func (s *LifecycleService) SetBroadcaster(b broadcast.Broadcaster) {
	if b == nil {
		b = broadcast.Nop{}
	}
	s.hub = b
}

// SetCache enables read-through caching of registry records.
func (s *LifecycleService) SetCache(c cache.Cache) {
	s.cache = c
}

// SetVault sets the source of workload secrets and error redaction.
func (s *LifecycleService) SetVault(v *secrets.Vault) {
	s.vault = v
}

// SetMetrics sets the metric instruments.
func (s *LifecycleService) SetMetrics(m *tfotel.Metrics) {
	s.metrics = m
}

// SetPortAllocator replaces the compose port allocator.
func (s *LifecycleService) SetPortAllocator(a *netport.Allocator) {
	s.ports = a
}

// Backend returns the backend kind tenants are provisioned on.
func (s *LifecycleService) Backend() tenant.BackendKind {
	return s.kind
}

// Provision creates the tenant's resources and registry record.
func (s *LifecycleService) Provision(ctx context.Context, rawUsername string) (*tenant.Tenant, error) {
	username, err := tenant.NormalizeUsername(rawUsername)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, username)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.provisionLocked(ctx, username, false)
}

func (s *LifecycleService) provisionLocked(ctx context.Context, username string, tunnel bool) (t *tenant.Tenant, err error) {
	ctx, done := s.begin(ctx, "provision", username)
	defer func() { done(err) }()

	if _, err := s.registry.Find(ctx, username); err == nil {
		return nil, ErrUsernameInUse
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	params := descriptor.Params{
		Username:      username,
		Revision:      s.revision(),
		Tunnel:        tunnel,
		LoginEmail:    s.workload.LoginEmail,
		LoginPassword: s.secret(secrets.LoginPassword),
	}

	var res *netport.Reservation
	if s.kind == tenant.BackendCompose {
		res, err = s.ports.Allocate(ctx)
		if err != nil {
			return nil, err
		}
		defer res.Done()
		params.Port = res.Port
		s.metrics.RecordPortAllocated(ctx)
	}

	d, err := s.builder.Build(params, s.kind)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &tenant.Tenant{
		Username:  username,
		Subdomain: d.Subdomain,
		Backend:   s.kind,
		Status:    tenant.StatusProvisioning,
		Endpoint:  d.Endpoint,
		Handles:   d.Handles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.registry.InsertIfAbsent(ctx, rec); err != nil {
		// Another replica may have won the username; otherwise the
		// conflict is on the endpoint.
		if errors.Is(err, domain.ErrConflict) {
			if _, findErr := s.registry.Find(ctx, username); findErr == nil {
				return nil, ErrUsernameInUse
			}
		}
		return nil, err
	}

	// The workload binds the port itself; the reservation socket must be
	// closed first.
	if res != nil {
		res.Release()
	}

	handles, err := s.apply(ctx, d)
	if err != nil {
		return nil, s.compensate(ctx, rec, err)
	}
	if err := s.setStatus(ctx, username, tenant.StatusActive, ""); err != nil {
		return nil, s.compensate(ctx, rec, err)
	}

	rec.Handles = handles
	rec.Status = tenant.StatusActive
	s.invalidate(ctx, username)
	s.emit(ctx, event.TypeTenantProvisioned, rec, nil)
	slog.InfoContext(ctx, "tenant provisioned",
		"subdomain", rec.Subdomain,
		"backend", rec.Backend,
		"port", rec.Endpoint.Port,
		"namespace", rec.Endpoint.Namespace,
	)
	return rec, nil
}

// compensate undoes a provision whose registry row was inserted. When the
// rollback itself fails the row is kept and marked failed so an operator can
// reconcile it. The original cause is always returned.
func (s *LifecycleService) compensate(ctx context.Context, rec *tenant.Tenant, cause error) error {
	s.metrics.RecordCompensation(ctx, "provision")
	ctx = context.WithoutCancel(ctx)

	rollbackErr := s.call(ctx, "remove", rec.Handles.Workload, func(ctx context.Context) error {
		return s.driver.Remove(ctx, rec.Handles, false)
	})
	if rollbackErr == nil {
		if err := s.registry.Delete(ctx, rec.Username); err != nil && !errors.Is(err, domain.ErrNotFound) {
			rollbackErr = err
		}
	}

	if rollbackErr == nil {
		slog.WarnContext(ctx, "provision rolled back", "cause", cause)
		s.invalidate(ctx, rec.Username)
		s.emit(ctx, event.TypeTenantFailed, rec, cause)
		return cause
	}

	s.markFailed(ctx, rec.Username, cause)
	slog.ErrorContext(ctx, "provision rollback failed, tenant marked failed",
		"cause", cause,
		"rollback_error", rollbackErr,
	)
	rec.Status = tenant.StatusFailed
	s.emit(ctx, event.TypeTenantFailed, rec, cause)
	return cause
}

// Stop halts the tenant's workload. Stopping a stopped tenant succeeds.
func (s *LifecycleService) Stop(ctx context.Context, rawUsername string) error {
	return s.toggle(ctx, rawUsername, "stop", tenant.StatusStopped, event.TypeTenantStopped, s.driver.Stop)
}

// Start resumes a stopped tenant. Starting an active tenant succeeds.
func (s *LifecycleService) Start(ctx context.Context, rawUsername string) error {
	return s.toggle(ctx, rawUsername, "start", tenant.StatusActive, event.TypeTenantStarted, s.driver.Start)
}

func (s *LifecycleService) toggle(
	ctx context.Context,
	rawUsername, op string,
	target tenant.Status,
	evType event.Type,
	fn func(context.Context, tenant.Handles) error,
) (err error) {
	username, err := tenant.NormalizeUsername(rawUsername)
	if err != nil {
		return err
	}
	unlock, err := s.lock(ctx, username)
	if err != nil {
		return err
	}
	defer unlock()

	ctx, done := s.begin(ctx, op, username)
	defer func() { done(err) }()

	t, err := s.registry.Find(ctx, username)
	if err != nil {
		return err
	}
	if !t.Toggleable() {
		return fmt.Errorf("%w: cannot %s tenant %q in status %s", domain.ErrConflict, op, username, t.Status)
	}

	if err := s.call(ctx, op, t.Handles.Workload, func(ctx context.Context) error {
		return fn(ctx, t.Handles)
	}); err != nil {
		return err
	}

	if t.Status != target {
		if err := s.setStatus(ctx, username, target, ""); err != nil {
			return err
		}
		t.Status = target
	}
	s.invalidate(ctx, username)
	s.emit(ctx, evType, t, nil)
	slog.InfoContext(ctx, "tenant status changed", "operation", op, "status", target)
	return nil
}

// Update recreates the tenant's workload with a refreshed image while keeping
// its endpoint and storage. A failed tenant can be repaired this way.
func (s *LifecycleService) Update(ctx context.Context, rawUsername string) (err error) {
	username, err := tenant.NormalizeUsername(rawUsername)
	if err != nil {
		return err
	}
	unlock, err := s.lock(ctx, username)
	if err != nil {
		return err
	}
	defer unlock()

	ctx, done := s.begin(ctx, "update", username)
	defer func() { done(err) }()

	t, err := s.registry.Find(ctx, username)
	if err != nil {
		return err
	}
	if !t.Updatable() {
		return fmt.Errorf("%w: cannot update tenant %q in status %s", domain.ErrConflict, username, t.Status)
	}
	if t.Backend != s.kind {
		return fmt.Errorf("%w: tenant %q runs on backend %s, service is configured for %s",
			domain.ErrConflict, username, t.Backend, s.kind)
	}

	revision := s.revision()
	d, err := s.builder.Build(descriptor.Params{
		Username:      username,
		Port:          t.Endpoint.Port,
		Revision:      revision,
		LoginEmail:    s.workload.LoginEmail,
		LoginPassword: s.secret(secrets.LoginPassword),
	}, t.Backend)
	if err != nil {
		return err
	}
	if d.Handles != t.Handles || d.Endpoint != t.Endpoint {
		return fmt.Errorf("%w: rebuilt descriptor for %q does not match stored handles", domain.ErrConflict, username)
	}

	if err := s.setStatus(ctx, username, tenant.StatusProvisioning, ""); err != nil {
		return err
	}
	s.invalidate(ctx, username)

	err = s.call(ctx, "recreate", t.Handles.Workload, func(ctx context.Context) error {
		_, err := s.driver.Recreate(ctx, t.Handles, d)
		return err
	})
	if err != nil {
		s.markFailed(context.WithoutCancel(ctx), username, err)
		t.Status = tenant.StatusFailed
		s.emit(ctx, event.TypeTenantFailed, t, err)
		return err
	}

	if err := s.setStatus(ctx, username, tenant.StatusActive, ""); err != nil {
		s.markFailed(context.WithoutCancel(ctx), username, err)
		t.Status = tenant.StatusFailed
		s.emit(ctx, event.TypeTenantFailed, t, err)
		return err
	}
	t.Status = tenant.StatusActive
	s.invalidate(ctx, username)
	s.emit(ctx, event.TypeTenantUpdated, t, nil)
	slog.InfoContext(ctx, "tenant updated", "revision", revision)
	return nil
}

// Deprovision removes the tenant's resources, storage included, and deletes
// its record. Deprovisioning an unknown tenant succeeds; resources named
// after the username are still removed in case they were orphaned.
func (s *LifecycleService) Deprovision(ctx context.Context, rawUsername string) (err error) {
	username, err := tenant.NormalizeUsername(rawUsername)
	if err != nil {
		return err
	}
	unlock, err := s.lock(ctx, username)
	if err != nil {
		return err
	}
	defer unlock()

	ctx, done := s.begin(ctx, "deprovision", username)
	defer func() { done(err) }()

	t, err := s.registry.Find(ctx, username)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		handles, _ := s.builder.Names(username, s.kind)
		if err := s.call(ctx, "remove", handles.Workload, func(ctx context.Context) error {
			return s.driver.Remove(ctx, handles, false)
		}); err != nil {
			return err
		}
		s.invalidate(ctx, username)
		slog.InfoContext(ctx, "deprovision of unknown tenant, nothing recorded")
		return nil
	case err != nil:
		return err
	}

	if err := s.setStatus(ctx, username, tenant.StatusDeprovisioning, ""); err != nil {
		return err
	}
	s.invalidate(ctx, username)

	if err := s.call(ctx, "remove", t.Handles.Workload, func(ctx context.Context) error {
		return s.driver.Remove(ctx, t.Handles, false)
	}); err != nil {
		s.markFailed(context.WithoutCancel(ctx), username, err)
		t.Status = tenant.StatusFailed
		s.emit(ctx, event.TypeTenantFailed, t, err)
		return err
	}

	if err := s.registry.Delete(ctx, username); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	t.Status = tenant.StatusRemoved
	s.invalidate(ctx, username)
	s.emit(ctx, event.TypeTenantDeprovisioned, t, nil)
	slog.InfoContext(ctx, "tenant deprovisioned")
	return nil
}

// Get returns the registry record for a username.
func (s *LifecycleService) Get(ctx context.Context, rawUsername string) (*tenant.Tenant, error) {
	username, err := tenant.NormalizeUsername(rawUsername)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, cache.TenantKey(username)); err == nil && ok {
			var t tenant.Tenant
			if json.Unmarshal(data, &t) == nil {
				return &t, nil
			}
		}
	}

	t, err := s.registry.Find(ctx, username)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if data, err := json.Marshal(t); err == nil {
			_ = s.cache.Set(ctx, cache.TenantKey(username), data, s.cacheTTL)
		}
	}
	return t, nil
}

// List returns all registry records.
func (s *LifecycleService) List(ctx context.Context) ([]tenant.Tenant, error) {
	return s.registry.List(ctx)
}

// ReconcileFailed deprovisions every tenant in the failed state and returns
// how many were cleaned up. It stops at the first error.
func (s *LifecycleService) ReconcileFailed(ctx context.Context) (int, error) {
	all, err := s.registry.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range all {
		if all[i].Status != tenant.StatusFailed {
			continue
		}
		if err := s.Deprovision(ctx, all[i].Username); err != nil {
			return n, fmt.Errorf("reconcile %s: %w", all[i].Username, err)
		}
		n++
	}
	return n, nil
}

// --- helpers ---

// lock takes the per-username lock, honoring ctx while waiting.
func (s *LifecycleService) lock(ctx context.Context, username string) (func(), error) {
	unlock, err := s.locks.Lock(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("wait for tenant %q: %w", username, err)
	}
	return unlock, nil
}

// begin opens the span, metrics and log context for one operation. The
// returned function must be called with the operation's final error.
func (s *LifecycleService) begin(ctx context.Context, op, username string) (context.Context, func(error)) {
	ctx = logger.WithTenant(ctx, username)
	ctx, span := tfotel.StartOperationSpan(ctx, op, username, string(s.kind))
	untrack := s.metrics.Track(ctx, op)
	start := s.now()
	return ctx, func(err error) {
		untrack()
		s.metrics.RecordOperation(ctx, op, string(s.kind), err, s.now().Sub(start))
		tfotel.EndSpan(span, err)
		if err != nil {
			slog.WarnContext(ctx, "tenant operation failed", "operation", op, "kind", domain.Kind(err), "error", s.redact(err.Error()))
		}
	}
}

// call runs one backend driver call inside the concurrency pool.
func (s *LifecycleService) call(ctx context.Context, verb, workload string, fn func(context.Context) error) error {
	ctx, span := tfotel.StartBackendSpan(ctx, verb, workload)
	err := s.pool.Run(ctx, func() error { return fn(ctx) })
	tfotel.EndSpan(span, err)
	return err
}

func (s *LifecycleService) apply(ctx context.Context, d *descriptor.Descriptor) (tenant.Handles, error) {
	var handles tenant.Handles
	err := s.call(ctx, "apply", d.Handles.Workload, func(ctx context.Context) error {
		var err error
		handles, err = s.driver.Apply(ctx, d)
		return err
	})
	return handles, err
}

func (s *LifecycleService) setStatus(ctx context.Context, username string, status tenant.Status, lastError string) error {
	return s.registry.Update(ctx, username, tenant.UpdateRequest{Status: &status, LastError: &lastError})
}

func (s *LifecycleService) markFailed(ctx context.Context, username string, cause error) {
	msg := s.redact(cause.Error())
	if err := s.setStatus(ctx, username, tenant.StatusFailed, msg); err != nil {
		slog.ErrorContext(ctx, "failed to mark tenant failed", "error", err)
	}
	s.invalidate(ctx, username)
}

func (s *LifecycleService) invalidate(ctx context.Context, username string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.TenantKey(username)); err != nil {
		slog.WarnContext(ctx, "tenant cache invalidation failed", "error", err)
	}
}

func (s *LifecycleService) emit(ctx context.Context, typ event.Type, t *tenant.Tenant, cause error) {
	ev := event.TenantEvent{
		Type:      typ,
		Username:  t.Username,
		Backend:   string(t.Backend),
		Status:    string(t.Status),
		Subdomain: t.Subdomain,
		RequestID: logger.RequestID(ctx),
		CreatedAt: s.now().UTC(),
	}
	if cause != nil {
		ev.Error = s.redact(cause.Error())
	}
	s.hub.BroadcastEvent(ctx, ev)
}

func (s *LifecycleService) secret(key string) string {
	if s.vault == nil {
		return ""
	}
	return s.vault.Get(key)
}

func (s *LifecycleService) redact(msg string) string {
	if s.vault == nil {
		return msg
	}
	return s.vault.RedactString(msg)
}
