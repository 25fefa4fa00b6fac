package tracking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/arenalabs/arena-bridge/internal/logger"
	"github.com/arenalabs/arena-bridge/internal/wire"
)

func testRegistry(capacity int, timeout time.Duration) *Registry {
	log := logger.New(logger.Config{Level: slog.LevelError})
	return NewRegistry(capacity, 5, timeout, log)
}

func TestAddAndGet(t *testing.T) {
	r := testRegistry(5, time.Minute)

	req, err := r.Add("req-1", []byte(`{"model":"m"}`), "gpt-test", true)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if req.Status != StatusPending {
		t.Errorf("status = %s, want %s", req.Status, StatusPending)
	}
	if req.ModelName != "gpt-test" {
		t.Errorf("model = %s", req.ModelName)
	}

	got, ok := r.Get("req-1")
	if !ok || got.RequestID != "req-1" {
		t.Fatalf("Get returned %v, %v", got, ok)
	}
	if r.ActiveCount() != 1 {
		t.Errorf("active = %d, want 1", r.ActiveCount())
	}
}

func TestAddCapacity(t *testing.T) {
	r := testRegistry(2, time.Minute)

	for i, id := range []string{"a", "b"} {
		if _, err := r.Add(id, nil, "m", true); err != nil {
			t.Fatalf("Add %d failed: %v", i, err)
		}
	}
	if _, err := r.Add("c", nil, "m", true); !errors.Is(err, ErrCapacity) {
		t.Errorf("expected ErrCapacity, got %v", err)
	}

	// Evicting one frees a slot.
	r.Complete("a")
	if _, err := r.Add("c", nil, "m", true); err != nil {
		t.Errorf("Add after eviction failed: %v", err)
	}
}

func TestMarkSentAndForwardOnlyUpdates(t *testing.T) {
	r := testRegistry(5, time.Minute)
	req, _ := r.Add("req-1", nil, "m", true)

	r.MarkSent("req-1")
	if req.Status != StatusSent {
		t.Errorf("status = %s after MarkSent", req.Status)
	}
	if req.SentAt.IsZero() {
		t.Error("SentAt not stamped")
	}

	r.UpdateStatus("req-1", StatusProcessing)
	if req.Status != StatusProcessing {
		t.Errorf("status = %s after processing update", req.Status)
	}

	// Regressions are ignored.
	r.UpdateStatus("req-1", StatusPending)
	if req.Status != StatusProcessing {
		t.Errorf("status regressed to %s", req.Status)
	}
	r.MarkSent("req-1")
	if req.Status != StatusProcessing {
		t.Errorf("MarkSent regressed status to %s", req.Status)
	}
}

func TestPushDelivers(t *testing.T) {
	r := testRegistry(5, time.Minute)
	req, _ := r.Add("req-1", nil, "m", true)

	if !r.Push("req-1", Chunk{Data: `a0:"hello"`}) {
		t.Fatal("Push returned false for a tracked request")
	}
	select {
	case c := <-req.Chunks:
		if c.Data != `a0:"hello"` {
			t.Errorf("chunk data = %q", c.Data)
		}
	default:
		t.Fatal("chunk not delivered")
	}

	if r.Push("ghost", Chunk{Data: "x"}) {
		t.Error("Push returned true for an unknown request")
	}
}

func TestPushAfterEvictionDoesNotBlock(t *testing.T) {
	log := logger.New(logger.Config{Level: slog.LevelError})
	r := NewRegistry(5, 1, time.Minute, log)
	r.Add("req-1", nil, "m", true)

	// Fill the single-slot channel so the next push would block.
	if !r.Push("req-1", Chunk{Data: "first"}) {
		t.Fatal("first Push failed")
	}

	done := make(chan bool, 1)
	go func() {
		done <- r.Push("req-1", Chunk{Data: "second"})
	}()

	time.Sleep(20 * time.Millisecond)
	r.Evict("req-1")

	select {
	case delivered := <-done:
		if delivered {
			t.Error("Push claimed delivery after eviction")
		}
	case <-time.After(time.Second):
		t.Fatal("Push stayed blocked after eviction")
	}
}

func TestCompleteEvicts(t *testing.T) {
	r := testRegistry(5, time.Minute)
	req, _ := r.Add("req-1", nil, "m", true)

	r.Complete("req-1")
	if _, ok := r.Get("req-1"); ok {
		t.Error("request still tracked after Complete")
	}
	select {
	case <-req.Done():
	default:
		t.Error("done channel not closed after Complete")
	}

	// Double eviction is harmless.
	r.Evict("req-1")
	r.Complete("req-1")
}

func TestTimeoutPushesErrorAndEvicts(t *testing.T) {
	r := testRegistry(5, 90*time.Second)
	req, _ := r.Add("req-1", nil, "m", true)

	r.Timeout("req-1")

	select {
	case c := <-req.Chunks:
		if c.Err == nil {
			t.Fatal("timeout chunk has no error")
		}
		if c.Err.Kind != wire.ErrKindTimeout {
			t.Errorf("error kind = %s", c.Err.Kind)
		}
		if !strings.Contains(c.Err.Message, "Request timed out after 90 seconds") {
			t.Errorf("unexpected timeout message: %q", c.Err.Message)
		}
	default:
		t.Fatal("no timeout chunk delivered")
	}
	if _, ok := r.Get("req-1"); ok {
		t.Error("request still tracked after Timeout")
	}
}

func TestFailPushesErrorAndEvicts(t *testing.T) {
	r := testRegistry(5, time.Minute)
	req, _ := r.Add("req-1", nil, "m", true)

	r.Fail("req-1", &wire.StreamError{Kind: wire.ErrKindInternal, Message: "Browser not connected"})

	select {
	case c := <-req.Chunks:
		if c.Err == nil || c.Err.Message != "Browser not connected" {
			t.Errorf("unexpected chunk: %+v", c)
		}
	default:
		t.Fatal("no error chunk delivered")
	}
	if r.ActiveCount() != 0 {
		t.Errorf("active = %d after Fail", r.ActiveCount())
	}
}

func TestPendingIDs(t *testing.T) {
	r := testRegistry(5, time.Minute)
	r.Add("pending", nil, "m", true)
	r.Add("sent", nil, "m", true)
	r.Add("processing", nil, "m", true)
	r.MarkSent("sent")
	r.MarkSent("processing")
	r.UpdateStatus("processing", StatusProcessing)

	ids := r.PendingIDs()
	if len(ids) != 2 {
		t.Fatalf("pending ids = %v, want 2 entries", ids)
	}
	for _, id := range ids {
		if id != "sent" && id != "processing" {
			t.Errorf("unexpected pending id %q", id)
		}
	}
}

func TestOnPeerReconnectRestores(t *testing.T) {
	r := testRegistry(5, time.Minute)
	r.Add("req-1", nil, "m", true)
	r.Add("req-2", nil, "m", true)
	r.MarkSent("req-1")
	r.MarkSent("req-2")

	restored := r.OnPeerReconnect([]string{"req-1", "req-2", "gone"})
	if restored != 2 {
		t.Errorf("restored = %d, want 2", restored)
	}
	req, _ := r.Get("req-1")
	if req.Status != StatusProcessing {
		t.Errorf("status = %s after restore", req.Status)
	}
}

func TestOnPeerDisconnectWatchdog(t *testing.T) {
	r := testRegistry(5, 40*time.Millisecond)
	req, _ := r.Add("req-1", nil, "m", true)
	r.MarkSent("req-1")

	r.OnPeerDisconnect(context.Background())

	select {
	case c := <-req.Chunks:
		if c.Err == nil || c.Err.Kind != wire.ErrKindTimeout {
			t.Errorf("unexpected chunk: %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never timed out the request")
	}
	if _, ok := r.Get("req-1"); ok {
		t.Error("request still tracked after watchdog")
	}
}

func TestOnPeerDisconnectSparesFinishedRequests(t *testing.T) {
	r := testRegistry(5, 30*time.Millisecond)
	r.Add("req-1", nil, "m", true)
	r.MarkSent("req-1")

	r.OnPeerDisconnect(context.Background())

	// The peer comes back and the request completes before the watchdog.
	r.OnPeerReconnect([]string{"req-1"})
	r.Complete("req-1")

	time.Sleep(80 * time.Millisecond)
	if r.ActiveCount() != 0 {
		t.Errorf("active = %d", r.ActiveCount())
	}
}

func TestOnPeerDisconnectDuringShutdown(t *testing.T) {
	r := testRegistry(5, time.Hour)
	req, _ := r.Add("req-1", nil, "m", true)
	r.MarkSent("req-1")

	r.SetShuttingDown()
	r.OnPeerDisconnect(context.Background())

	select {
	case c := <-req.Chunks:
		if c.Err == nil || c.Err.Kind != wire.ErrKindTimeout {
			t.Errorf("unexpected chunk: %+v", c)
		}
	default:
		t.Fatal("shutdown disconnect did not time out immediately")
	}
}

func TestSweepStale(t *testing.T) {
	r := testRegistry(5, 30*time.Millisecond)
	old, _ := r.Add("req-old", nil, "m", true)
	time.Sleep(60 * time.Millisecond)
	r.Add("req-fresh", nil, "m", true)

	if swept := r.SweepStale(); swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	select {
	case c := <-old.Chunks:
		if c.Err == nil || c.Err.Kind != wire.ErrKindTimeout {
			t.Errorf("unexpected chunk: %+v", c)
		}
	default:
		t.Fatal("stale request got no timeout chunk")
	}

	if _, ok := r.Get("req-old"); ok {
		t.Error("stale request still tracked")
	}
	if _, ok := r.Get("req-fresh"); !ok {
		t.Error("fresh request was swept")
	}
}
