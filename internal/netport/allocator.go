// Package netport allocates host ports for single-host tenants.
//
// A candidate port is accepted only when it is not claimed by another
// in-flight allocation, not recorded for an existing tenant, and can be bound
// on the host. The successful bind is kept open as a reservation so no other
// process can take the port between the check and the container start.
package netport

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"

	"github.com/Strob0t/TenantForge/internal/domain"
)

// Ephemeral range bounds.
const (
	DefaultMin      = 49152
	DefaultMax      = 65535
	DefaultAttempts = 64
)

// UsedPortsFunc returns the ports already recorded for existing tenants.
type UsedPortsFunc func(ctx context.Context) ([]int, error)

// Options configures an Allocator. Zero values fall back to the defaults.
type Options struct {
	Min      int
	Max      int
	Attempts int
	BindHost string
}

// Allocator hands out host ports. It is safe for concurrent use; allocations
// are serialized process-wide.
type Allocator struct {
	min, max int
	attempts int
	host     string
	used     UsedPortsFunc

	listen func(network, address string) (net.Listener, error)
	intn   func(n int) int

	mu      sync.Mutex
	claimed map[int]struct{}
}

// New creates an Allocator. used may be nil when no registry is consulted.
func New(opts Options, used UsedPortsFunc) *Allocator {
	if opts.Min == 0 {
		opts.Min = DefaultMin
	}
	if opts.Max == 0 {
		opts.Max = DefaultMax
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	return &Allocator{
		min:      opts.Min,
		max:      opts.Max,
		attempts: opts.Attempts,
		host:     opts.BindHost,
		used:     used,
		listen:   net.Listen,
		intn:     rand.IntN,
		claimed:  make(map[int]struct{}),
	}
}

// Allocate reserves a free port. The returned Reservation holds the port's
// listening socket until Release and the in-process claim until Done.
func (a *Allocator) Allocate(ctx context.Context) (*Reservation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	taken := make(map[int]struct{}, len(a.claimed))
	for p := range a.claimed {
		taken[p] = struct{}{}
	}
	if a.used != nil {
		ports, err := a.used(ctx)
		if err != nil {
			return nil, fmt.Errorf("allocate port: %w", err)
		}
		for _, p := range ports {
			taken[p] = struct{}{}
		}
	}

	span := a.max - a.min + 1
	for range a.attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		port := a.min + a.intn(span)
		if _, ok := taken[port]; ok {
			continue
		}
		ln, err := a.listen("tcp", net.JoinHostPort(a.host, strconv.Itoa(port)))
		if err != nil {
			taken[port] = struct{}{}
			continue
		}
		a.claimed[port] = struct{}{}
		return &Reservation{Port: port, alloc: a, ln: ln}, nil
	}

	return nil, fmt.Errorf("%w: no free port in [%d,%d] after %d attempts", domain.ErrResourceExhausted, a.min, a.max, a.attempts)
}

// Claimed returns the number of ports held by unfinished reservations.
func (a *Allocator) Claimed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.claimed)
}

func (a *Allocator) unclaim(port int) {
	a.mu.Lock()
	delete(a.claimed, port)
	a.mu.Unlock()
}

// Reservation is a port held for a tenant that is being provisioned.
type Reservation struct {
	Port int

	alloc       *Allocator
	ln          net.Listener
	releaseOnce sync.Once
	doneOnce    sync.Once
}

// Release closes the reservation socket so the workload can bind the port.
// Call it immediately before applying the descriptor.
func (r *Reservation) Release() {
	r.releaseOnce.Do(func() {
		if r.ln != nil {
			_ = r.ln.Close()
		}
	})
}

// Done releases the socket if still open and drops the in-process claim.
// Call it once the port is recorded in the registry or the provision failed.
func (r *Reservation) Done() {
	r.Release()
	r.doneOnce.Do(func() { r.alloc.unclaim(r.Port) })
}
