package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

// nopCloser is a no-op Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncOptions configures an AsyncHandler.
type AsyncOptions struct {
	Buffer  int
	Workers int

	// KeepLevel is the lowest level that waits for buffer space instead of
	// being dropped. Tenant failures and compensations log at warn or above.
	KeepLevel slog.Level
}

// DropStats counts records discarded because the buffer was full.
type DropStats struct {
	Debug int64 `json:"debug"`
	Info  int64 `json:"info"`
}

// Total returns the number of dropped records.
func (d DropStats) Total() int64 { return d.Debug + d.Info }

// entry pairs a record with the handler that should write it, so records
// from handlers derived with WithAttrs keep their attributes.
type entry struct {
	h   slog.Handler
	rec slog.Record
}

// asyncQueue is shared by an AsyncHandler and every handler derived from it.
type asyncQueue struct {
	ch   chan entry
	keep slog.Level
	wg   sync.WaitGroup

	mu     sync.RWMutex // closed and close(ch)
	closed bool

	droppedDebug atomic.Int64
	droppedInfo  atomic.Int64
}

// AsyncHandler hands records to a worker pool so request paths do not wait
// on log output. Records below KeepLevel are dropped when the buffer is full;
// records at or above it always reach the inner handler.
type AsyncHandler struct {
	inner slog.Handler
	q     *asyncQueue
}

// NewAsyncHandler starts opts.Workers workers draining into inner.
func NewAsyncHandler(inner slog.Handler, opts AsyncOptions) *AsyncHandler {
	q := &asyncQueue{
		ch:   make(chan entry, max(opts.Buffer, 1)),
		keep: opts.KeepLevel,
	}
	for range max(opts.Workers, 1) {
		q.wg.Add(1)
		go q.drain()
	}
	return &AsyncHandler{inner: inner, q: q}
}

func (q *asyncQueue) drain() {
	defer q.wg.Done()
	for e := range q.ch {
		_ = e.h.Handle(context.Background(), e.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. After Close it writes synchronously.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	q := h.q
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return h.inner.Handle(ctx, rec)
	}

	msg := entry{h: h.inner, rec: rec.Clone()}
	if rec.Level >= q.keep {
		q.ch <- msg
		return nil
	}
	select {
	case q.ch <- msg:
	default:
		if rec.Level < slog.LevelInfo {
			q.droppedDebug.Add(1)
		} else {
			q.droppedInfo.Add(1)
		}
	}
	return nil
}

// WithAttrs returns a handler sharing the same queue.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

// WithGroup returns a handler sharing the same queue.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// Dropped returns the drop counters.
func (h *AsyncHandler) Dropped() DropStats {
	return DropStats{Debug: h.q.droppedDebug.Load(), Info: h.q.droppedInfo.Load()}
}

// Close stops accepting queued records, waits for the workers to flush and
// writes a summary record when anything was dropped. Later calls are no-ops.
func (h *AsyncHandler) Close() {
	q := h.q
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()

	d := h.Dropped()
	if d.Total() == 0 {
		return
	}
	rec := slog.NewRecord(time.Now(), slog.LevelWarn, "log records dropped", 0)
	rec.AddAttrs(slog.Int64("dropped_debug", d.Debug), slog.Int64("dropped_info", d.Info))
	_ = h.inner.Handle(context.Background(), rec)
}
