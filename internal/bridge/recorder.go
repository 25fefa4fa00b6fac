package bridge

import (
	"encoding/json"
	"time"

	"github.com/arenalabs/arena-bridge/internal/metrics"
	"github.com/arenalabs/arena-bridge/internal/reqlog"
	"github.com/arenalabs/arena-bridge/internal/stats"
	"github.com/arenalabs/arena-bridge/internal/wire"
)

// Recorder fans a request's lifecycle out to the observability sinks: the
// JSONL request logs, the rolling stats windows, the details store and
// the Prometheus collectors.
type Recorder struct {
	logs    *reqlog.Service
	monitor *stats.Monitor
	details *stats.DetailsStore
}

// NewRecorder bundles the sinks the orchestrator reports to.
func NewRecorder(logs *reqlog.Service, monitor *stats.Monitor, details *stats.DetailsStore) *Recorder {
	return &Recorder{logs: logs, monitor: monitor, details: details}
}

// requestRecord carries the facts about one request the sinks need.
type requestRecord struct {
	requestID   string
	model       string
	streaming   bool
	startedAt   time.Time
	params      map[string]any
	messages    json.RawMessage
	inputTokens int
}

// start records the acceptance of a request.
func (r *Recorder) start(rec *requestRecord) {
	r.logs.LogRequestStart(rec.requestID, rec.model, rec.params)
}

// finish records a successful outcome with the response content.
func (r *Recorder) finish(rec *requestRecord, content string) {
	r.record(rec, content, "")
}

// fail records a failed outcome.
func (r *Recorder) fail(rec *requestRecord, errorType, message string) {
	r.logs.LogError(rec.requestID, errorType, message)
	metrics.RecordError(errorType, rec.model)
	r.record(rec, "", message)
}

func (r *Recorder) record(rec *requestRecord, content, errMsg string) {
	duration := time.Since(rec.startedAt)
	success := errMsg == ""
	outputTokens := wire.EstimateTokens(content)

	status := "success"
	if !success {
		status = "failed"
	}
	typ := "non_streaming"
	if rec.streaming {
		typ = "streaming"
	}

	r.logs.LogRequestEnd(rec.requestID, rec.model, success, duration,
		rec.inputTokens, outputTokens, errMsg, rec.params)

	r.monitor.Record(stats.Outcome{
		RequestID:    rec.requestID,
		Model:        rec.model,
		Success:      success,
		Duration:     duration,
		InputTokens:  rec.inputTokens,
		OutputTokens: outputTokens,
		Error:        errMsg,
	})

	r.details.Add(&stats.RequestDetails{
		RequestID:       rec.requestID,
		Timestamp:       rec.startedAt,
		Model:           rec.model,
		Status:          status,
		Duration:        duration.Seconds(),
		InputTokens:     rec.inputTokens,
		OutputTokens:    outputTokens,
		Error:           errMsg,
		RequestParams:   rec.params,
		RequestMessages: rec.messages,
		ResponseContent: content,
	})

	metrics.RecordRequest(rec.model, status, typ)
	metrics.ObserveDuration(rec.model, duration.Seconds())
	metrics.AddTokens(rec.model, "prompt", rec.inputTokens)
	metrics.AddTokens(rec.model, "completion", outputTokens)
}
