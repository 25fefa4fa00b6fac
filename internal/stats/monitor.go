// Package stats keeps in-memory rolling statistics about finished
// requests: latency percentiles, QPS, error rates, and per-model
// aggregates. Everything here is approximate and bounded; the durable
// record lives in the JSONL request logs.
package stats

import (
	"sort"
	"sync"
	"time"
)

// Outcome describes one finished request.
type Outcome struct {
	RequestID    string
	Model        string
	Success      bool
	Duration     time.Duration
	InputTokens  int
	OutputTokens int
	Error        string
	EndedAt      time.Time
}

// Summary is the aggregate performance snapshot.
type Summary struct {
	AvgResponseTime float64 `json:"avg_response_time"`
	P50ResponseTime float64 `json:"p50_response_time"`
	P95ResponseTime float64 `json:"p95_response_time"`
	P99ResponseTime float64 `json:"p99_response_time"`
	QPS             float64 `json:"qps"`
}

// ModelSummary is the per-model aggregate.
type ModelSummary struct {
	Model              string  `json:"model"`
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	TotalTokens        int64   `json:"total_tokens"`
	AvgDuration        float64 `json:"avg_duration"`
	ErrorRate          float64 `json:"error_rate"`
	QPS                float64 `json:"qps"`
}

type outcomeStamp struct {
	at      time.Time
	success bool
}

type modelAgg struct {
	count         int64
	errors        int64
	totalDuration time.Duration
	totalTokens   int64
	recent        []time.Time // request times within the last hour
}

// Monitor records request outcomes into capped rolling windows.
type Monitor struct {
	mu sync.Mutex

	durationLimit int
	recentLimit   int

	durations []time.Duration // most recent request durations
	recent    []outcomeStamp  // most recent outcomes, for QPS and error rate
	perModel  map[string]*modelAgg

	startedAt time.Time
}

// NewMonitor returns a monitor keeping at most durationLimit latency
// samples and recentLimit outcome timestamps.
func NewMonitor(durationLimit, recentLimit int) *Monitor {
	if durationLimit <= 0 {
		durationLimit = 1000
	}
	if recentLimit <= 0 {
		recentLimit = 100
	}
	return &Monitor{
		durationLimit: durationLimit,
		recentLimit:   recentLimit,
		perModel:      make(map[string]*modelAgg),
		startedAt:     time.Now(),
	}
}

// Record folds one finished request into the windows.
func (m *Monitor) Record(o Outcome) {
	if o.EndedAt.IsZero() {
		o.EndedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.durations = append(m.durations, o.Duration)
	if len(m.durations) > m.durationLimit {
		m.durations = m.durations[len(m.durations)-m.durationLimit:]
	}

	m.recent = append(m.recent, outcomeStamp{at: o.EndedAt, success: o.Success})
	if len(m.recent) > m.recentLimit {
		m.recent = m.recent[len(m.recent)-m.recentLimit:]
	}

	agg := m.perModel[o.Model]
	if agg == nil {
		agg = &modelAgg{}
		m.perModel[o.Model] = agg
	}
	agg.count++
	agg.totalDuration += o.Duration
	if o.Success {
		agg.totalTokens += int64(o.InputTokens + o.OutputTokens)
	} else {
		agg.errors++
	}
	agg.recent = append(agg.recent, o.EndedAt)
	agg.recent = trimOlderThan(agg.recent, o.EndedAt.Add(-time.Hour))
}

// Snapshot computes the current latency percentiles and QPS.
func (m *Monitor) Snapshot() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.durations) == 0 {
		return Summary{}
	}

	sorted := make([]time.Duration, len(m.durations))
	copy(sorted, m.durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	now := time.Now()
	recentCount := 0
	for _, stamp := range m.recent {
		if now.Sub(stamp.at) < time.Minute {
			recentCount++
		}
	}

	return Summary{
		AvgResponseTime: (total / time.Duration(n)).Seconds(),
		P50ResponseTime: percentile(sorted, 0.50),
		P95ResponseTime: percentile(sorted, 0.95),
		P99ResponseTime: percentile(sorted, 0.99),
		QPS:             float64(recentCount) / 60.0,
	}
}

// ErrorRate returns the failed fraction of outcomes within the window.
func (m *Monitor) ErrorRate(window time.Duration) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-window)
	total, failed := 0, 0
	for _, stamp := range m.recent {
		if stamp.at.After(cutoff) {
			total++
			if !stamp.success {
				failed++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

// ModelStats returns per-model aggregates sorted by request volume.
func (m *Monitor) ModelStats() []ModelSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	out := make([]ModelSummary, 0, len(m.perModel))
	for model, agg := range m.perModel {
		recent := 0
		for _, t := range agg.recent {
			if now.Sub(t) < time.Hour {
				recent++
			}
		}
		out = append(out, ModelSummary{
			Model:              model,
			TotalRequests:      agg.count,
			SuccessfulRequests: agg.count - agg.errors,
			FailedRequests:     agg.errors,
			TotalTokens:        agg.totalTokens,
			AvgDuration:        (agg.totalDuration / time.Duration(agg.count)).Seconds(),
			ErrorRate:          float64(agg.errors) / float64(agg.count),
			QPS:                float64(recent) / 3600.0,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalRequests > out[j].TotalRequests })
	return out
}

// Uptime reports how long the monitor (and so the process) has been up.
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.startedAt)
}

func percentile(sorted []time.Duration, p float64) float64 {
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx].Seconds()
}

func trimOlderThan(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}
