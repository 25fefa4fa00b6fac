// Package metrics exposes the bridge's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_requests_total",
		Help: "Total number of chat completion requests",
	}, []string{"model", "status", "type"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridge_request_duration_seconds",
		Help:    "Request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"model"})

	activeRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_active_requests",
		Help: "Number of requests currently in flight",
	})

	tokenCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_tokens_total",
		Help: "Total tokens processed (estimated)",
	}, []string{"model", "token_type"})

	peerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_peer_connected",
		Help: "Whether the browser peer WebSocket is connected (1/0)",
	})

	errorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_errors_total",
		Help: "Total errors by type",
	}, []string{"error_type", "model"})

	modelsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_models_registered",
		Help: "Number of models in the registry",
	})
)

// RecordRequest counts one finished request. Status is "success" or
// "failed"; typ is "streaming" or "non_streaming".
func RecordRequest(model, status, typ string) {
	requestCount.WithLabelValues(model, status, typ).Inc()
}

// ObserveDuration records a completed request's wall time.
func ObserveDuration(model string, seconds float64) {
	requestDuration.WithLabelValues(model).Observe(seconds)
}

// IncActive marks one request in flight.
func IncActive() { activeRequests.Inc() }

// DecActive marks one request finished.
func DecActive() { activeRequests.Dec() }

// AddTokens adds an estimated token count. tokenType is "prompt" or
// "completion".
func AddTokens(model, tokenType string, n int) {
	if n > 0 {
		tokenCount.WithLabelValues(model, tokenType).Add(float64(n))
	}
}

// SetPeerConnected publishes the peer link state.
func SetPeerConnected(connected bool) {
	if connected {
		peerConnected.Set(1)
	} else {
		peerConnected.Set(0)
	}
}

// RecordError counts one error occurrence.
func RecordError(errorType, model string) {
	errorCount.WithLabelValues(errorType, model).Inc()
}

// SetModelsRegistered publishes the registry size.
func SetModelsRegistered(n int) {
	modelsRegistered.Set(float64(n))
}

// Handler serves the Prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
