package stats

import (
	"testing"
	"time"
)

func TestSnapshotEmpty(t *testing.T) {
	m := NewMonitor(10, 10)
	if got := m.Snapshot(); got != (Summary{}) {
		t.Errorf("empty snapshot = %+v, want zero", got)
	}
}

func TestSnapshotPercentiles(t *testing.T) {
	m := NewMonitor(100, 100)
	for i := 1; i <= 10; i++ {
		m.Record(Outcome{
			Model:    "gpt-test",
			Success:  true,
			Duration: time.Duration(i) * 100 * time.Millisecond,
		})
	}

	s := m.Snapshot()
	if s.AvgResponseTime != 0.55 {
		t.Errorf("avg = %v, want 0.55", s.AvgResponseTime)
	}
	if s.P50ResponseTime != 0.6 {
		t.Errorf("p50 = %v, want 0.6", s.P50ResponseTime)
	}
	if s.P95ResponseTime != 1.0 {
		t.Errorf("p95 = %v, want 1.0", s.P95ResponseTime)
	}
	if want := 10.0 / 60.0; s.QPS != want {
		t.Errorf("qps = %v, want %v", s.QPS, want)
	}
}

func TestDurationWindowIsCapped(t *testing.T) {
	m := NewMonitor(3, 10)
	for i := 1; i <= 5; i++ {
		m.Record(Outcome{Model: "gpt-test", Success: true, Duration: time.Duration(i) * time.Millisecond})
	}

	// Only the last three samples (3ms, 4ms, 5ms) remain.
	if got := m.Snapshot().AvgResponseTime; got != 0.004 {
		t.Errorf("avg = %v, want 0.004", got)
	}
}

func TestErrorRateWindow(t *testing.T) {
	m := NewMonitor(100, 100)

	// An old failure outside the window must not count.
	m.Record(Outcome{Model: "gpt-test", Success: false, EndedAt: time.Now().Add(-10 * time.Minute)})

	for i := 0; i < 3; i++ {
		m.Record(Outcome{Model: "gpt-test", Success: true})
	}
	m.Record(Outcome{Model: "gpt-test", Success: false})

	if got := m.ErrorRate(5 * time.Minute); got != 0.25 {
		t.Errorf("error rate = %v, want 0.25", got)
	}
	if got := m.ErrorRate(15 * time.Minute); got != 0.4 {
		t.Errorf("wide-window error rate = %v, want 0.4", got)
	}
}

func TestErrorRateNoTraffic(t *testing.T) {
	m := NewMonitor(10, 10)
	if got := m.ErrorRate(5 * time.Minute); got != 0 {
		t.Errorf("error rate = %v, want 0", got)
	}
}

func TestModelStats(t *testing.T) {
	m := NewMonitor(100, 100)
	for i := 0; i < 3; i++ {
		m.Record(Outcome{Model: "gpt-test", Success: true, Duration: time.Second, InputTokens: 10, OutputTokens: 20})
	}
	m.Record(Outcome{Model: "other-model", Success: false, Duration: time.Second, InputTokens: 10, OutputTokens: 20})

	stats := m.ModelStats()
	if len(stats) != 2 {
		t.Fatalf("models = %d, want 2", len(stats))
	}

	// Sorted by volume.
	top := stats[0]
	if top.Model != "gpt-test" {
		t.Fatalf("top model = %q, want gpt-test", top.Model)
	}
	if top.TotalRequests != 3 || top.SuccessfulRequests != 3 || top.FailedRequests != 0 {
		t.Errorf("gpt-test counts = %d/%d/%d", top.TotalRequests, top.SuccessfulRequests, top.FailedRequests)
	}
	if top.TotalTokens != 90 {
		t.Errorf("gpt-test tokens = %d, want 90", top.TotalTokens)
	}
	if top.AvgDuration != 1.0 {
		t.Errorf("gpt-test avg duration = %v, want 1.0", top.AvgDuration)
	}

	other := stats[1]
	if other.ErrorRate != 1.0 {
		t.Errorf("other-model error rate = %v, want 1.0", other.ErrorRate)
	}
	if other.TotalTokens != 0 {
		t.Errorf("failed requests must not add tokens, got %d", other.TotalTokens)
	}
}

func TestUptimeGrows(t *testing.T) {
	m := NewMonitor(10, 10)
	if m.Uptime() < 0 {
		t.Errorf("uptime = %v, want non-negative", m.Uptime())
	}
}
