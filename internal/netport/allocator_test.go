package netport

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/Strob0t/TenantForge/internal/domain"
)

// fakeListener satisfies net.Listener without touching the network.
type fakeListener struct {
	closed bool
}

func (l *fakeListener) Accept() (net.Conn, error) { return nil, errors.New("not implemented") }
func (l *fakeListener) Close() error              { l.closed = true; return nil }
func (l *fakeListener) Addr() net.Addr            { return &net.TCPAddr{} }

// sequence returns an intn func that yields offsets in order, then repeats the last.
func sequence(offsets ...int) func(int) int {
	var mu sync.Mutex
	i := 0
	return func(int) int {
		mu.Lock()
		defer mu.Unlock()
		v := offsets[i]
		if i < len(offsets)-1 {
			i++
		}
		return v
	}
}

func TestAllocateSkipsRecordedPorts(t *testing.T) {
	a := New(Options{Min: 50000, Max: 50010, Attempts: 5}, func(context.Context) ([]int, error) {
		return []int{50001}, nil
	})
	a.intn = sequence(1, 2)
	a.listen = func(string, string) (net.Listener, error) { return &fakeListener{}, nil }

	r, err := a.Allocate(context.Background())
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer r.Done()
	if r.Port != 50002 {
		t.Errorf("expected 50002, got %d", r.Port)
	}
}

func TestAllocateSkipsBoundPorts(t *testing.T) {
	a := New(Options{Min: 50000, Max: 50010, Attempts: 5}, nil)
	a.intn = sequence(0, 3)
	a.listen = func(_, addr string) (net.Listener, error) {
		_, p, _ := net.SplitHostPort(addr)
		if p == "50000" {
			return nil, errors.New("address already in use")
		}
		return &fakeListener{}, nil
	}

	r, err := a.Allocate(context.Background())
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer r.Done()
	if r.Port != 50003 {
		t.Errorf("expected 50003, got %d", r.Port)
	}
}

func TestAllocateExhausted(t *testing.T) {
	a := New(Options{Min: 50000, Max: 50000, Attempts: 3}, nil)
	a.listen = func(string, string) (net.Listener, error) { return nil, errors.New("in use") }

	_, err := a.Allocate(context.Background())
	if !errors.Is(err, domain.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("exhaustion should classify as conflict, got %v", err)
	}
}

func TestAllocateRegistryError(t *testing.T) {
	boom := errors.New("registry down")
	a := New(Options{}, func(context.Context) ([]int, error) { return nil, boom })
	if _, err := a.Allocate(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected registry error, got %v", err)
	}
}

func TestAllocateCanceled(t *testing.T) {
	a := New(Options{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Allocate(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClaimHeldUntilDone(t *testing.T) {
	a := New(Options{Min: 50000, Max: 50001, Attempts: 4}, nil)
	a.intn = sequence(0, 0, 1)
	a.listen = func(string, string) (net.Listener, error) { return &fakeListener{}, nil }

	first, err := a.Allocate(context.Background())
	if err != nil {
		t.Fatalf("first Allocate: %v", err)
	}
	first.Release()

	second, err := a.Allocate(context.Background())
	if err != nil {
		t.Fatalf("second Allocate: %v", err)
	}
	if second.Port == first.Port {
		t.Fatalf("released but unfinished reservation was handed out twice: %d", first.Port)
	}
	if a.Claimed() != 2 {
		t.Errorf("expected 2 claims, got %d", a.Claimed())
	}

	first.Done()
	second.Done()
	second.Done()
	if a.Claimed() != 0 {
		t.Errorf("expected 0 claims after Done, got %d", a.Claimed())
	}
}

func TestReservationHoldsSocket(t *testing.T) {
	a := New(Options{BindHost: "127.0.0.1"}, nil)

	r, err := a.Allocate(context.Background())
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(r.Port))

	if ln, err := net.Listen("tcp", addr); err == nil {
		_ = ln.Close()
		r.Done()
		t.Fatalf("port %d should be held by the reservation", r.Port)
	}

	r.Release()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("port should be bindable after Release: %v", err)
	}
	_ = ln.Close()
	r.Done()

	if r.Port < DefaultMin || r.Port > DefaultMax {
		t.Errorf("port %d outside ephemeral range", r.Port)
	}
}

func TestConcurrentAllocationsDistinct(t *testing.T) {
	a := New(Options{Min: 50000, Max: 50063, Attempts: 1000}, nil)
	a.listen = func(string, string) (net.Listener, error) { return &fakeListener{}, nil }

	const n = 32
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		seen  = make(map[int]bool)
		errCh = make(chan error, n)
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := a.Allocate(context.Background())
			if err != nil {
				errCh <- err
				return
			}
			mu.Lock()
			if seen[r.Port] {
				errCh <- errors.New("duplicate port " + strconv.Itoa(r.Port))
			}
			seen[r.Port] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}
	if len(seen) != n {
		t.Errorf("expected %d distinct ports, got %d", n, len(seen))
	}
}
