package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/arenalabs/arena-bridge/internal/config"
	"github.com/arenalabs/arena-bridge/internal/logger"
)

// fakeSender records every frame handed to it.
type fakeSender struct {
	mu        sync.Mutex
	connected bool
	frames    []any
}

func (f *fakeSender) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSender) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, v)
	return nil
}

func (f *fakeSender) sent() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.frames))
	copy(out, f.frames)
	return out
}

func fastWarmer(pool *Pool, sender Sender, plan config.WarmupPlan) *Warmer {
	w := NewWarmer(pool, sender, plan, logger.New(logger.Config{Level: slog.LevelError}))
	w.pollInterval = time.Millisecond
	w.sendInterval = time.Millisecond
	return w
}

func TestWarmerSendsPlannedRequests(t *testing.T) {
	pool := testPool()
	sender := &fakeSender{connected: true}
	plan := config.WarmupPlan{
		Models: []config.WarmupModel{
			{PublicName: "model-a", ID: "id-a"},
			{PublicName: "model-b", ID: "id-b"},
		},
		SessionsPerModel: 2,
		InitialPrompt:    "hello",
	}

	fastWarmer(pool, sender, plan).Run(context.Background())

	frames := sender.sent()
	if len(frames) != 4 {
		t.Fatalf("sent %d frames, want 4", len(frames))
	}

	first, ok := frames[0].(warmupFrame)
	if !ok {
		t.Fatalf("frame type %T, want warmupFrame", frames[0])
	}
	if first.Type != "warmup_session" {
		t.Errorf("frame type = %q, want warmup_session", first.Type)
	}
	if first.RequestID != "warmup_model-a_0" {
		t.Errorf("request id = %q, want warmup_model-a_0", first.RequestID)
	}
	if first.ModelName != "model-a" {
		t.Errorf("model name = %q", first.ModelName)
	}
	if first.Payload == nil || len(first.Payload.Messages) != 2 {
		t.Fatalf("payload missing the two-message warmup graph")
	}
	if first.FilesToUpload == nil {
		t.Error("files_to_upload must encode as [], not null")
	}

	last := frames[3].(warmupFrame)
	if last.RequestID != "warmup_model-b_1" {
		t.Errorf("last request id = %q, want warmup_model-b_1", last.RequestID)
	}

	for _, name := range []string{"model-a", "model-b"} {
		if !pool.IsPooled(name) {
			t.Errorf("model %s was not registered with the pool", name)
		}
	}
}

func TestWarmerFrameEncoding(t *testing.T) {
	pool := testPool()
	sender := &fakeSender{connected: true}
	plan := config.WarmupPlan{
		Models:           []config.WarmupModel{{PublicName: "model-a", ID: "id-a"}},
		SessionsPerModel: 1,
		InitialPrompt:    "hi",
	}

	fastWarmer(pool, sender, plan).Run(context.Background())

	raw, err := json.Marshal(sender.sent()[0])
	if err != nil {
		t.Fatalf("marshal warmup frame: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal warmup frame: %v", err)
	}
	for _, key := range []string{"type", "request_id", "model_name", "payload", "files_to_upload"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("encoded frame missing %q", key)
		}
	}
	if decoded["type"] != "warmup_session" {
		t.Errorf("type = %v", decoded["type"])
	}
}

func TestWarmerSkipsIncompleteEntries(t *testing.T) {
	pool := testPool()
	sender := &fakeSender{connected: true}
	plan := config.WarmupPlan{
		Models: []config.WarmupModel{
			{PublicName: "", ID: "id-a"},
			{PublicName: "model-b", ID: ""},
			{PublicName: "model-c", ID: "id-c"},
		},
		SessionsPerModel: 1,
		InitialPrompt:    "hi",
	}

	fastWarmer(pool, sender, plan).Run(context.Background())

	if got := len(sender.sent()); got != 1 {
		t.Errorf("sent %d frames, want 1", got)
	}
	if pool.IsPooled("model-b") {
		t.Error("entry without an id must not be registered")
	}
}

func TestWarmerNoPlan(t *testing.T) {
	pool := testPool()
	sender := &fakeSender{connected: true}

	fastWarmer(pool, sender, config.WarmupPlan{}).Run(context.Background())

	if got := len(sender.sent()); got != 0 {
		t.Errorf("sent %d frames for an empty plan, want 0", got)
	}
}

func TestWarmerWaitsForPeer(t *testing.T) {
	pool := testPool()
	sender := &fakeSender{connected: false}
	plan := config.WarmupPlan{
		Models:           []config.WarmupModel{{PublicName: "model-a", ID: "id-a"}},
		SessionsPerModel: 1,
		InitialPrompt:    "hi",
	}

	done := make(chan struct{})
	go func() {
		fastWarmer(pool, sender, plan).Run(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	if got := len(sender.sent()); got != 0 {
		t.Fatalf("warmer sent %d frames before the peer connected", got)
	}
	// Registration must not wait for the peer: requests for planned
	// models should queue on the pool from the start.
	if !pool.IsPooled("model-a") {
		t.Error("planned model not registered while waiting for the peer")
	}

	sender.mu.Lock()
	sender.connected = true
	sender.mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("warmer never finished after the peer connected")
	}
	if got := len(sender.sent()); got != 1 {
		t.Errorf("sent %d frames, want 1", got)
	}
}

func TestWarmerStopsOnContextCancel(t *testing.T) {
	pool := testPool()
	sender := &fakeSender{connected: false}
	plan := config.WarmupPlan{
		Models:           []config.WarmupModel{{PublicName: "model-a", ID: "id-a"}},
		SessionsPerModel: 1,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fastWarmer(pool, sender, plan).Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("warmer did not stop on context cancellation")
	}
	if got := len(sender.sent()); got != 0 {
		t.Errorf("sent %d frames after cancellation, want 0", got)
	}
}
