package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Strob0t/TenantForge/internal/descriptor"
	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/event"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
	"github.com/Strob0t/TenantForge/internal/port/backend"
	"github.com/Strob0t/TenantForge/internal/port/registry"
)

// Ensure mocks implement their ports at compile time.
var (
	_ registry.Registry = (*memRegistry)(nil)
	_ backend.Driver    = (*fakeDriver)(nil)
)

// memRegistry is an in-memory registry.Registry for testing.
type memRegistry struct {
	mu      sync.Mutex
	tenants map[string]tenant.Tenant
	finds   int

	// Error hooks. Set these to inject failures.
	findErr   error
	insertErr error
	deleteErr error
	pingErr   error
	// updateErrFor fails status writes to the given status.
	updateErrFor map[tenant.Status]error
}

func newMemRegistry() *memRegistry {
	return &memRegistry{tenants: make(map[string]tenant.Tenant)}
}

func (m *memRegistry) InsertIfAbsent(_ context.Context, t *tenant.Tenant) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	if _, ok := m.tenants[t.Username]; ok {
		return nil, fmt.Errorf("insert tenant %s: %w", t.Username, domain.ErrConflict)
	}
	for _, other := range m.tenants {
		if t.Endpoint.Port != 0 && other.Backend == t.Backend && other.Endpoint.Port == t.Endpoint.Port {
			return nil, fmt.Errorf("insert tenant %s: %w (port)", t.Username, domain.ErrConflict)
		}
	}
	m.tenants[t.Username] = *t
	out := *t
	return &out, nil
}

func (m *memRegistry) Find(_ context.Context, username string) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	if m.findErr != nil {
		return nil, m.findErr
	}
	t, ok := m.tenants[username]
	if !ok {
		return nil, fmt.Errorf("find tenant %s: %w", username, domain.ErrNotFound)
	}
	return &t, nil
}

func (m *memRegistry) Update(_ context.Context, username string, req tenant.UpdateRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.Status != nil {
		if err := m.updateErrFor[*req.Status]; err != nil {
			return err
		}
	}
	t, ok := m.tenants[username]
	if !ok {
		return fmt.Errorf("update tenant %s: %w", username, domain.ErrNotFound)
	}
	if req.Status != nil {
		t.Status = *req.Status
	}
	if req.LastError != nil {
		t.LastError = *req.LastError
	}
	t.UpdatedAt = time.Now()
	m.tenants[username] = t
	return nil
}

func (m *memRegistry) Delete(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.tenants[username]; !ok {
		return fmt.Errorf("delete tenant %s: %w", username, domain.ErrNotFound)
	}
	delete(m.tenants, username)
	return nil
}

func (m *memRegistry) List(_ context.Context) ([]tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tenant.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b tenant.Tenant) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (m *memRegistry) UsedPorts(_ context.Context, kind tenant.BackendKind) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ports []int
	for _, t := range m.tenants {
		if t.Backend == kind && t.Endpoint.Port != 0 {
			ports = append(ports, t.Endpoint.Port)
		}
	}
	return ports, nil
}

func (m *memRegistry) Ping(context.Context) error { return m.pingErr }

func (m *memRegistry) get(username string) (tenant.Tenant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[username]
	return t, ok
}

func (m *memRegistry) findCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finds
}

// removeCall records one Remove invocation.
type removeCall struct {
	handles     tenant.Handles
	keepStorage bool
}

// fakeDriver is an in-memory backend.Driver that tracks deployed workloads
// and storage.
type fakeDriver struct {
	kind tenant.BackendKind

	mu        sync.Mutex
	deployed  map[string]*descriptor.Descriptor
	storage   map[string]bool
	stopped   map[string]bool
	applies   int
	recreates []*descriptor.Descriptor
	removes   []removeCall

	// applyGate, when set, blocks Apply until it is closed.
	applyGate chan struct{}
	// applyStarted is signaled when Apply begins.
	applyStarted chan struct{}

	applyErr    error
	removeErr   error
	stopErr     error
	startErr    error
	recreateErr error
	pingErr     error
}

func newFakeDriver(kind tenant.BackendKind) *fakeDriver {
	return &fakeDriver{
		kind:     kind,
		deployed: make(map[string]*descriptor.Descriptor),
		storage:  make(map[string]bool),
		stopped:  make(map[string]bool),
	}
}

func (f *fakeDriver) Kind() tenant.BackendKind { return f.kind }

func (f *fakeDriver) Apply(ctx context.Context, d *descriptor.Descriptor) (tenant.Handles, error) {
	if f.applyStarted != nil {
		select {
		case f.applyStarted <- struct{}{}:
		default:
		}
	}
	if f.applyGate != nil {
		select {
		case <-f.applyGate:
		case <-ctx.Done():
			return tenant.Handles{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applies++
	if f.applyErr != nil {
		return tenant.Handles{}, f.applyErr
	}
	f.deployed[d.Handles.Workload] = d
	f.storage[d.Handles.Storage] = true
	return d.Handles, nil
}

func (f *fakeDriver) Stop(_ context.Context, h tenant.Handles) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped[h.Workload] = true
	return nil
}

func (f *fakeDriver) Start(_ context.Context, h tenant.Handles) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if _, ok := f.deployed[h.Workload]; !ok {
		return fmt.Errorf("start %s: %w", h.Workload, domain.ErrNotFound)
	}
	delete(f.stopped, h.Workload)
	return nil
}

func (f *fakeDriver) Remove(_ context.Context, h tenant.Handles, keepStorage bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, removeCall{handles: h, keepStorage: keepStorage})
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.deployed, h.Workload)
	delete(f.stopped, h.Workload)
	if !keepStorage {
		delete(f.storage, h.Storage)
	}
	return nil
}

func (f *fakeDriver) Recreate(_ context.Context, h tenant.Handles, d *descriptor.Descriptor) (tenant.Handles, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recreates = append(f.recreates, d)
	if f.recreateErr != nil {
		return tenant.Handles{}, f.recreateErr
	}
	f.deployed[h.Workload] = d
	return d.Handles, nil
}

func (f *fakeDriver) Ping(context.Context) error { return f.pingErr }

func (f *fakeDriver) applyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applies
}

func (f *fakeDriver) isDeployed(workload string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.deployed[workload]
	return ok
}

func (f *fakeDriver) hasStorage(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storage[name]
}

func (f *fakeDriver) removeCalls() []removeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.removes)
}

// recordingBroadcaster collects lifecycle events.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []event.TenantEvent
}

func (r *recordingBroadcaster) BroadcastEvent(_ context.Context, ev event.TenantEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingBroadcaster) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// mapCache is an in-memory cache.Cache.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

var errBackendDown = fmt.Errorf("%w: docker compose up: exit status 1", domain.ErrBackend)
