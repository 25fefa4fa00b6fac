// Package alerts raises operational alerts when the bridge crosses the
// configured thresholds. Alerts go to the structured log and into a
// capped in-memory history served by the admin surface.
package alerts

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arenalabs/arena-bridge/internal/config"
	"github.com/arenalabs/arena-bridge/internal/logger"
)

// Severity levels.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Well-known alert types.
const (
	TypeHighErrorRate    = "high_error_rate"
	TypeSlowResponse     = "slow_response"
	TypeHighLoad         = "high_load"
	TypePeerDisconnected = "peer_disconnected"
	TypeHeartbeatTimeout = "heartbeat_timeout"
)

// Alert is one raised alert.
type Alert struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier evaluates thresholds and keeps the alert history.
type Notifier struct {
	mu         sync.Mutex
	thresholds config.AlertThresholds
	history    []Alert
	lastFired  map[string]time.Time

	// zero while the peer is connected
	disconnectedSince time.Time

	logger *logger.Logger
}

// New returns a notifier using the given thresholds.
func New(thresholds config.AlertThresholds, log *logger.Logger) *Notifier {
	return &Notifier{
		thresholds: thresholds,
		lastFired:  make(map[string]time.Time),
		logger:     log.WithComponent("alerts"),
	}
}

// Thresholds returns the active thresholds.
func (n *Notifier) Thresholds() config.AlertThresholds {
	return n.thresholds
}

// Raise records an alert unless the same type fired within the cooldown.
// Reports whether the alert was recorded.
func (n *Notifier) Raise(alertType, severity, message string, value float64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now()
	if last, ok := n.lastFired[alertType]; ok && now.Sub(last) < n.thresholds.Cooldown {
		return false
	}
	n.lastFired[alertType] = now

	n.history = append(n.history, Alert{
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		Value:     value,
		Timestamp: now,
	})
	if len(n.history) > n.thresholds.HistoryLimit {
		n.history = n.history[len(n.history)-n.thresholds.HistoryLimit:]
	}

	n.logger.Warn("system alert",
		slog.String("type", alertType),
		slog.String("severity", severity),
		slog.String("message", message))
	return true
}

// History returns the most recent alerts, oldest first.
func (n *Notifier) History(limit int) []Alert {
	n.mu.Lock()
	defer n.mu.Unlock()

	if limit <= 0 || limit > len(n.history) {
		limit = len(n.history)
	}
	out := make([]Alert, limit)
	copy(out, n.history[len(n.history)-limit:])
	return out
}

// Check evaluates one round of threshold rules against live readings.
// Called periodically by the health sweep.
func (n *Notifier) Check(errorRate, p95Seconds float64, activeRequests int, peerConnected bool) {
	if errorRate > n.thresholds.ErrorRate {
		n.Raise(TypeHighErrorRate, SeverityWarning,
			fmt.Sprintf("High error rate: %.1f%%", errorRate*100), errorRate)
	}

	if p95 := n.thresholds.P95ResponseTime.Seconds(); p95Seconds > p95 {
		n.Raise(TypeSlowResponse, SeverityWarning,
			fmt.Sprintf("Slow P95 response time: %.1fs", p95Seconds), p95Seconds)
	}

	if activeRequests > n.thresholds.ActiveRequests {
		n.Raise(TypeHighLoad, SeverityWarning,
			fmt.Sprintf("Too many active requests: %d", activeRequests), float64(activeRequests))
	}

	n.checkPeer(peerConnected)
}

func (n *Notifier) checkPeer(connected bool) {
	n.mu.Lock()
	if connected {
		n.disconnectedSince = time.Time{}
		n.mu.Unlock()
		return
	}
	if n.disconnectedSince.IsZero() {
		n.disconnectedSince = time.Now()
	}
	away := time.Since(n.disconnectedSince)
	limit := n.thresholds.PeerDisconnected
	n.mu.Unlock()

	if away > limit {
		n.Raise(TypePeerDisconnected, SeverityCritical,
			fmt.Sprintf("Browser peer disconnected for %d minutes", int(away.Minutes())), away.Seconds())
	}
}
