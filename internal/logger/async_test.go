package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingHandler collects slog.Records for test assertions.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
	gate    chan struct{} // when set, Handle waits for a token per record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.gate != nil {
		<-h.gate
	}
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.records))
	for i, r := range h.records {
		out[i] = r.Message
	}
	return out
}

func countMsg(msgs []string, msg string) int {
	n := 0
	for _, m := range msgs {
		if m == msg {
			n++
		}
	}
	return n
}

func record(level slog.Level, msg string) slog.Record {
	return slog.NewRecord(time.Now(), level, msg, 0)
}

func TestAsyncHandler_CloseFlushes(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, AsyncOptions{Buffer: 1000, Workers: 2, KeepLevel: slog.LevelWarn})

	for range 200 {
		_ = ah.Handle(context.Background(), record(slog.LevelInfo, "tenant provisioned"))
	}
	ah.Close()

	if got := countMsg(inner.messages(), "tenant provisioned"); got != 200 {
		t.Fatalf("expected 200 records after close, got %d", got)
	}
	if d := ah.Dropped(); d.Total() != 0 {
		t.Errorf("unexpected drops %+v", d)
	}
}

func TestAsyncHandler_FullBufferDropsOnlyLowLevels(t *testing.T) {
	gate := make(chan struct{})
	inner := &recordingHandler{gate: gate}
	ah := NewAsyncHandler(inner, AsyncOptions{Buffer: 1, Workers: 1, KeepLevel: slog.LevelWarn})
	ctx := context.Background()

	// The worker holds one record at the gate and the buffer holds one more,
	// so further info and debug records are dropped.
	_ = ah.Handle(ctx, record(slog.LevelInfo, "first"))
	deadline := time.Now().Add(time.Second)
	for len(ah.q.ch) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the first record")
		}
		time.Sleep(time.Millisecond)
	}
	_ = ah.Handle(ctx, record(slog.LevelInfo, "second"))
	for range 5 {
		_ = ah.Handle(ctx, record(slog.LevelInfo, "noise"))
		_ = ah.Handle(ctx, record(slog.LevelDebug, "noise"))
	}

	// Failures wait for space instead of being dropped.
	failed := make(chan struct{})
	go func() {
		_ = ah.Handle(ctx, record(slog.LevelError, "tenant failed"))
		close(failed)
	}()
	select {
	case <-failed:
		t.Fatal("error record should wait for buffer space")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	<-failed
	ah.Close()

	msgs := inner.messages()
	if countMsg(msgs, "tenant failed") != 1 {
		t.Errorf("error record lost: %v", msgs)
	}
	d := ah.Dropped()
	if d.Info != 5 || d.Debug != 5 {
		t.Errorf("expected info and debug drops, got %+v", d)
	}
	if countMsg(msgs, "log records dropped") != 1 {
		t.Errorf("expected a drop summary, got %v", msgs)
	}
}

func TestAsyncHandler_HandleAfterCloseWritesDirectly(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, AsyncOptions{Buffer: 10, Workers: 1})
	ah.Close()
	ah.Close()

	if err := ah.Handle(context.Background(), record(slog.LevelInfo, "shutdown complete")); err != nil {
		t.Fatalf("Handle after Close: %v", err)
	}
	if countMsg(inner.messages(), "shutdown complete") != 1 {
		t.Error("record after Close was lost")
	}
}

func TestAsyncHandler_DerivedHandlersKeepAttrs(t *testing.T) {
	var buf bytes.Buffer
	ah := NewAsyncHandler(slog.NewJSONHandler(&buf, nil), AsyncOptions{Buffer: 10, Workers: 1})
	log := slog.New(ah).With("tenant", "alice")

	log.Info("tenant stopped")
	ah.Close()

	line := strings.TrimSpace(buf.String())
	var got map[string]any
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", line, err)
	}
	if got["tenant"] != "alice" || got["msg"] != "tenant stopped" {
		t.Errorf("unexpected record %v", got)
	}
}
