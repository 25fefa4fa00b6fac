package reqlog

import (
	"log/slog"
	"testing"
	"time"

	"github.com/arenalabs/arena-bridge/internal/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	log := logger.New(logger.Config{Level: slog.LevelError})
	svc, err := NewService(Config{Dir: t.TempDir(), MaxSizeMB: 5, MaxBackups: 1}, log)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestRequestLogRoundTrip(t *testing.T) {
	svc := newTestService(t)

	svc.LogRequestStart("r-1", "gpt-test", map[string]any{"stream": true})
	svc.LogRequestEnd("r-1", "gpt-test", true, 1500*time.Millisecond, 10, 20, "", nil)
	svc.LogRequestEnd("r-2", "other-model", false, time.Second, 5, 0, "Something exploded", nil)
	svc.Shutdown()

	logs, err := svc.ReadRequestLogs(10, 0, "")
	if err != nil {
		t.Fatalf("ReadRequestLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("entries = %d, want 2 (start lines must be filtered out)", len(logs))
	}

	// Newest first.
	if logs[0]["request_id"] != "r-2" || logs[1]["request_id"] != "r-1" {
		t.Errorf("order = %v, %v", logs[0]["request_id"], logs[1]["request_id"])
	}
	if logs[0]["status"] != "failed" || logs[1]["status"] != "success" {
		t.Errorf("statuses = %v, %v", logs[0]["status"], logs[1]["status"])
	}
	if logs[0]["error"] != "Something exploded" {
		t.Errorf("error = %v", logs[0]["error"])
	}
	if d, _ := logs[1]["duration"].(float64); d != 1.5 {
		t.Errorf("duration = %v, want 1.5", d)
	}
	if in, _ := logs[1]["input_tokens"].(float64); in != 10 {
		t.Errorf("input_tokens = %v, want 10", in)
	}

	ts, _ := logs[0]["timestamp"].(string)
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		t.Errorf("timestamp %q does not parse: %v", ts, err)
	}
}

func TestReadRequestLogsFilters(t *testing.T) {
	svc := newTestService(t)

	for i := 0; i < 5; i++ {
		model := "gpt-test"
		if i%2 == 1 {
			model = "other-model"
		}
		svc.LogRequestEnd(requestID(i), model, true, time.Second, 1, 1, "", nil)
	}
	svc.Shutdown()

	byModel, err := svc.ReadRequestLogs(10, 0, "other-model")
	if err != nil {
		t.Fatalf("ReadRequestLogs: %v", err)
	}
	if len(byModel) != 2 {
		t.Fatalf("filtered entries = %d, want 2", len(byModel))
	}
	for _, entry := range byModel {
		if entry["model"] != "other-model" {
			t.Errorf("model = %v, want other-model", entry["model"])
		}
	}

	paged, err := svc.ReadRequestLogs(2, 2, "")
	if err != nil {
		t.Fatalf("ReadRequestLogs: %v", err)
	}
	if len(paged) != 2 {
		t.Fatalf("paged entries = %d, want 2", len(paged))
	}
	if paged[0]["request_id"] != requestID(2) {
		t.Errorf("page starts at %v, want %v", paged[0]["request_id"], requestID(2))
	}
}

func requestID(i int) string {
	return string(rune('a'+i)) + "-req"
}

func TestReadBeforeAnyWrite(t *testing.T) {
	svc := newTestService(t)
	defer svc.Shutdown()

	logs, err := svc.ReadRequestLogs(10, 0, "")
	if err != nil {
		t.Fatalf("ReadRequestLogs: %v", err)
	}
	if logs == nil || len(logs) != 0 {
		t.Errorf("logs = %v, want empty non-nil", logs)
	}

	errs, err := svc.ReadErrorLogs(10)
	if err != nil {
		t.Fatalf("ReadErrorLogs: %v", err)
	}
	if len(errs) != 0 {
		t.Errorf("errors = %v, want empty", errs)
	}
}

func TestErrorLogRoundTrip(t *testing.T) {
	svc := newTestService(t)

	svc.LogError("r-1", "timeout", "Request timed out")
	svc.LogError("r-2", "upstream_error", "Something exploded")
	svc.Shutdown()

	logs, err := svc.ReadErrorLogs(1)
	if err != nil {
		t.Fatalf("ReadErrorLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("entries = %d, want 1", len(logs))
	}
	if logs[0]["request_id"] != "r-2" || logs[0]["error_type"] != "upstream_error" {
		t.Errorf("entry = %v", logs[0])
	}
}

func TestShutdownStopsAccepting(t *testing.T) {
	svc := newTestService(t)
	svc.Shutdown()

	// Must be a no-op, not a panic or a deadlock.
	svc.LogRequestEnd("r-late", "gpt-test", true, time.Second, 1, 1, "", nil)

	logs, err := svc.ReadRequestLogs(10, 0, "")
	if err != nil {
		t.Fatalf("ReadRequestLogs: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("entries = %d, want 0", len(logs))
	}
}

func TestMetricsCounters(t *testing.T) {
	svc := newTestService(t)
	defer svc.Shutdown()

	m := svc.Metrics()
	if m["dropped_lines_total"] != 0 {
		t.Errorf("dropped_lines_total = %d, want 0", m["dropped_lines_total"])
	}
	if m["queue_capacity"] != 1000 {
		t.Errorf("queue_capacity = %d, want the default 1000", m["queue_capacity"])
	}
}
