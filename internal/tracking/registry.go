// Package tracking keeps the server-side record of every in-flight request
// so streams survive a peer reconnect instead of dying with the socket.
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arenalabs/arena-bridge/internal/logger"
	"github.com/arenalabs/arena-bridge/internal/metrics"
	"github.com/arenalabs/arena-bridge/internal/wire"
)

// Status values a tracked request moves through, in order. Terminal
// statuses evict the request from the registry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSent       Status = "sent_to_browser"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusTimeout    Status = "timeout"
	StatusError      Status = "error"
)

// rank orders statuses so updates can only move forward.
func rank(s Status) int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusProcessing:
		return 2
	default:
		return 3
	}
}

// ErrCapacity is returned by Add when the registry is full.
var ErrCapacity = errors.New("too many concurrent requests")

// Chunk is one routed unit of peer traffic for a request. Data carries raw
// stream text ("[DONE]" marks the end); Err carries a terminal error.
type Chunk struct {
	Data string
	Err  *wire.StreamError
}

// Request is one tracked in-flight request. Chunks is the bounded channel
// the stream driver consumes; done closes on eviction so producers never
// block on an abandoned request.
type Request struct {
	RequestID      string
	OpenAIRequest  json.RawMessage
	ModelName      string
	IsStreaming    bool
	Status         Status
	CreatedAt      time.Time
	SentAt         time.Time
	LastActivityAt time.Time

	Chunks chan Chunk

	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed when the request leaves the registry.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Registry tracks active requests up to a concurrency cap and owns the
// channels peer traffic is routed through.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Request

	capacity  int
	queueSize int
	timeout   time.Duration
	logger    *logger.Logger

	shuttingDown atomic.Bool
}

// NewRegistry creates a registry with the given concurrency cap, per
// request channel size, and request timeout.
func NewRegistry(capacity, queueSize int, timeout time.Duration, log *logger.Logger) *Registry {
	return &Registry{
		active:    make(map[string]*Request),
		capacity:  capacity,
		queueSize: queueSize,
		timeout:   timeout,
		logger:    log,
	}
}

// RequestTimeout returns the per-request timeout the registry enforces.
func (r *Registry) RequestTimeout() time.Duration {
	return r.timeout
}

// Add registers a new request. Returns ErrCapacity when the cap is hit.
func (r *Registry) Add(requestID string, rawRequest json.RawMessage, modelName string, isStreaming bool) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.active) >= r.capacity {
		return nil, ErrCapacity
	}

	now := time.Now()
	req := &Request{
		RequestID:      requestID,
		OpenAIRequest:  rawRequest,
		ModelName:      modelName,
		IsStreaming:    isStreaming,
		Status:         StatusPending,
		CreatedAt:      now,
		LastActivityAt: now,
		Chunks:         make(chan Chunk, r.queueSize),
		done:           make(chan struct{}),
	}
	r.active[requestID] = req
	metrics.IncActive()

	r.logger.WithComponent("tracking").Info("request tracked",
		slog.String("request_id", requestID),
		slog.String("model", modelName),
		slog.Int("active", len(r.active)))
	return req, nil
}

// Get returns a tracked request.
func (r *Registry) Get(requestID string) (*Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.active[requestID]
	return req, ok
}

// MarkSent stamps the handoff to the peer.
func (r *Registry) MarkSent(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.active[requestID]
	if !ok {
		return
	}
	now := time.Now()
	req.SentAt = now
	req.LastActivityAt = now
	if rank(StatusSent) > rank(req.Status) {
		req.Status = StatusSent
	}
}

// UpdateStatus advances a request's status. Regressions are ignored;
// any update counts as activity.
func (r *Registry) UpdateStatus(requestID string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.active[requestID]
	if !ok {
		return
	}
	req.LastActivityAt = time.Now()
	if rank(status) > rank(req.Status) {
		req.Status = status
	}
}

// Push routes a chunk to a tracked request. It blocks while the channel is
// full (that is the backpressure against the peer) and gives up only when
// the request is evicted. Reports whether the chunk was delivered.
func (r *Registry) Push(requestID string, chunk Chunk) bool {
	r.mu.Lock()
	req, ok := r.active[requestID]
	if ok {
		req.LastActivityAt = time.Now()
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case req.Chunks <- chunk:
		return true
	case <-req.done:
		return false
	}
}

// Complete marks a request finished and evicts it. The closing "[DONE]"
// reaches the consumer through the normal chunk route, not here.
func (r *Registry) Complete(requestID string) {
	if req := r.evict(requestID, StatusCompleted); req != nil {
		r.logger.WithComponent("tracking").Info("request completed",
			slog.String("request_id", requestID))
	}
}

// Timeout pushes a timeout error to the consumer, then evicts the request.
func (r *Registry) Timeout(requestID string) {
	r.mu.Lock()
	req, ok := r.active[requestID]
	r.mu.Unlock()
	if !ok {
		return
	}

	message := fmt.Sprintf(
		"Request timed out after %d seconds. Browser may have disconnected during Cloudflare challenge.",
		int(r.timeout.Seconds()))
	select {
	case req.Chunks <- Chunk{Err: &wire.StreamError{Kind: wire.ErrKindTimeout, Message: message}}:
	case <-req.done:
	}

	r.evict(requestID, StatusTimeout)
	r.logger.WithComponent("tracking").Warn("request timed out",
		slog.String("request_id", requestID))
}

// Fail pushes a terminal error to the consumer, then evicts the request.
func (r *Registry) Fail(requestID string, streamErr *wire.StreamError) {
	r.mu.Lock()
	req, ok := r.active[requestID]
	r.mu.Unlock()
	if !ok {
		return
	}

	select {
	case req.Chunks <- Chunk{Err: streamErr}:
	case <-req.done:
	}

	r.evict(requestID, StatusError)
	r.logger.WithComponent("tracking").Warn("request failed",
		slog.String("request_id", requestID),
		slog.String("error", streamErr.Message))
}

// Evict removes a request without pushing anything. The consumer calls
// this on its exit path; double eviction is harmless.
func (r *Registry) Evict(requestID string) {
	r.evict(requestID, StatusCompleted)
}

func (r *Registry) evict(requestID string, status Status) *Request {
	r.mu.Lock()
	req, ok := r.active[requestID]
	if ok {
		if rank(status) > rank(req.Status) {
			req.Status = status
		}
		delete(r.active, requestID)
		metrics.DecActive()
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	req.closeOnce.Do(func() { close(req.done) })
	return req
}

// ActiveCount reports how many requests are currently tracked.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// PendingIDs lists requests handed to the peer but not yet finished.
func (r *Registry) PendingIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, req := range r.active {
		if req.Status == StatusSent || req.Status == StatusProcessing {
			ids = append(ids, id)
		}
	}
	return ids
}

// SweepStale times out requests older than the registry timeout. The
// stream driver normally evicts its own request on exit; this is the
// safety net behind it, run on the housekeeping schedule.
func (r *Registry) SweepStale() int {
	cutoff := time.Now().Add(-r.timeout)

	r.mu.Lock()
	var stale []string
	for id, req := range r.active {
		if req.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		r.Timeout(id)
	}
	return len(stale)
}

// SetShuttingDown switches disconnect handling to immediate timeouts so
// shutdown never waits out the watchdog.
func (r *Registry) SetShuttingDown() {
	r.shuttingDown.Store(true)
}

// OnPeerDisconnect keeps pending requests alive and arms a watchdog that
// times them out if the peer does not come back in time. During shutdown
// the timeout is immediate.
func (r *Registry) OnPeerDisconnect(ctx context.Context) {
	pending := r.PendingIDs()
	if len(pending) == 0 {
		return
	}

	log := r.logger.WithComponent("tracking")
	log.Warn("peer disconnected with pending requests",
		slog.Int("pending", len(pending)))

	if r.shuttingDown.Load() {
		for _, id := range pending {
			r.Timeout(id)
		}
		return
	}

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.timeout):
		}

		log.Info("disconnect watchdog fired", slog.Int("watched", len(pending)))
		for _, id := range pending {
			r.mu.Lock()
			req, ok := r.active[id]
			stillPending := ok && (req.Status == StatusSent || req.Status == StatusProcessing)
			r.mu.Unlock()
			if stillPending {
				r.Timeout(id)
			}
		}
	}()
}

// OnPeerReconnect restores requests the peer still knows about. Returns
// how many were restored.
func (r *Registry) OnPeerReconnect(peerIDs []string) int {
	restored := 0
	for _, id := range peerIDs {
		r.mu.Lock()
		req, ok := r.active[id]
		if ok {
			req.LastActivityAt = time.Now()
			if rank(StatusProcessing) > rank(req.Status) {
				req.Status = StatusProcessing
			}
			restored++
		}
		r.mu.Unlock()
		if ok {
			r.logger.WithComponent("tracking").Info("request channel restored",
				slog.String("request_id", id))
		}
	}
	return restored
}
