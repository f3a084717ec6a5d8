package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/operation"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
)

const defaultOperationRetention = 1000

type opEntry struct {
	op   operation.Operation
	done chan struct{}
}

// operationStore keeps asynchronous operations in memory. Once more than max
// operations are tracked, the oldest finished ones are evicted.
type operationStore struct {
	mu    sync.Mutex
	byID  map[string]*opEntry
	order []string
	max   int
	wg    sync.WaitGroup
}

func newOperationStore(maxOps int) *operationStore {
	return &operationStore{byID: make(map[string]*opEntry), max: maxOps}
}

func (s *operationStore) create(kind operation.Kind, username string, now time.Time) operation.Operation {
	e := &opEntry{
		op: operation.Operation{
			ID:        uuid.NewString(),
			Kind:      kind,
			Username:  username,
			Status:    operation.StatusPending,
			CreatedAt: now,
		},
		done: make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[e.op.ID] = e
	s.order = append(s.order, e.op.ID)
	s.evictLocked()
	return e.op
}

func (s *operationStore) evictLocked() {
	for i := 0; len(s.byID) > s.max && i < len(s.order); {
		id := s.order[i]
		if e, ok := s.byID[id]; ok && !e.op.Status.Terminal() {
			i++
			continue
		}
		delete(s.byID, id)
		s.order = append(s.order[:i], s.order[i+1:]...)
	}
}

func (s *operationStore) finish(id string, result *operation.Result, err error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return
	}
	e.op.FinishedAt = &now
	if err != nil {
		e.op.Status = operation.StatusFailed
		e.op.Error = err.Error()
		e.op.ErrorKind = domain.Kind(err)
	} else {
		e.op.Status = operation.StatusSucceeded
		e.op.Result = result
	}
	close(e.done)
}

func (s *operationStore) get(id string) (operation.Operation, <-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return operation.Operation{}, nil, fmt.Errorf("%w: operation %q", domain.ErrNotFound, id)
	}
	return e.op, e.done, nil
}

// ProvisionAsync starts provisioning in the background and returns the
// pending operation. Validation errors are returned immediately. The tenant
// lock is taken before returning, so a later request for the same username
// waits for this provision to finish. tunnel runs the workload as an ad hoc
// test deployment.
func (s *LifecycleService) ProvisionAsync(ctx context.Context, rawUsername string, tunnel bool) (*operation.Operation, error) {
	username, err := tenant.NormalizeUsername(rawUsername)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, username)
	if err != nil {
		return nil, err
	}

	kind := operation.KindProvision
	if tunnel {
		kind = operation.KindProvisionTest
	}
	op := s.ops.create(kind, username, s.now().UTC())

	bg := context.WithoutCancel(ctx)
	s.ops.wg.Add(1)
	go func() {
		defer s.ops.wg.Done()
		defer unlock()

		t, err := s.provisionLocked(bg, username, tunnel)
		var result *operation.Result
		if err == nil {
			result = &operation.Result{Subdomain: t.Subdomain, URL: "https://" + t.Subdomain}
		}
		s.ops.finish(op.ID, result, err, s.now().UTC())
		slog.InfoContext(bg, "async operation finished", "operation_id", op.ID, "kind", kind, "error", err)
	}()

	return &op, nil
}

// Operation returns a snapshot of an asynchronous operation.
func (s *LifecycleService) Operation(id string) (*operation.Operation, error) {
	op, _, err := s.ops.get(id)
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// Await blocks until the operation reaches a terminal state or ctx ends.
func (s *LifecycleService) Await(ctx context.Context, id string) (*operation.Operation, error) {
	_, done, err := s.ops.get(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Operation(id)
}

// Wait blocks until all background operations have finished or ctx ends.
func (s *LifecycleService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.ops.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
