package admin

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arenalabs/arena-bridge/internal/logger"
)

type healthResponse struct {
	Status           string            `json:"status"`
	InstanceID       string            `json:"instance_id"`
	BrowserConnected bool              `json:"browser_connected"`
	ActiveRequests   int               `json:"active_requests"`
	Uptime           float64           `json:"uptime"`
	ModelsLoaded     int               `json:"models_loaded"`
	LogFiles         map[string]string `json:"log_files"`
}

// Health is the liveness endpoint.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:           "healthy",
		InstanceID:       logger.GetInstanceID(),
		BrowserConnected: h.peer.Connected(),
		ActiveRequests:   h.registry.ActiveCount(),
		Uptime:           h.monitor.Uptime().Seconds(),
		ModelsLoaded:     len(h.store.Models()),
		LogFiles: map[string]string{
			"requests": h.logs.RequestLogPath(),
			"errors":   h.logs.ErrorLogPath(),
		},
	})
}

type healthMetrics struct {
	ErrorRate        float64 `json:"error_rate"`
	ErrorRatePercent string  `json:"error_rate_percent"`
	ResponseTimeP50  float64 `json:"response_time_p50"`
	ResponseTimeP95  float64 `json:"response_time_p95"`
	ResponseTimeP99  float64 `json:"response_time_p99"`
	QPS              float64 `json:"qps"`
	ActiveRequests   int     `json:"active_requests"`
	CapacityUsage    string  `json:"capacity_usage"`
	BrowserConnected bool    `json:"browser_connected"`
	Uptime           float64 `json:"uptime"`
	UptimeHours      float64 `json:"uptime_hours"`
}

type detailedHealthResponse struct {
	Status          string         `json:"status"`
	HealthScore     float64        `json:"health_score"`
	Issues          []string       `json:"issues"`
	Recommendations []string       `json:"recommendations"`
	Metrics         healthMetrics  `json:"metrics"`
	Thresholds      map[string]any `json:"thresholds"`
}

// DetailedHealth scores the bridge's condition from the live readings.
// Deductions are fixed per condition; the thresholds mapping score to
// status come from monitoring.yaml.
func (h *Handler) DetailedHealth(c *gin.Context) {
	errorRate := h.monitor.ErrorRate(5 * time.Minute)
	perf := h.monitor.Snapshot()
	active := h.registry.ActiveCount()
	connected := h.peer.Connected()
	capacity := float64(active) / float64(h.cfg.MaxConcurrentRequests)

	score := 100.0
	issues := []string{}

	switch {
	case errorRate > 0.1:
		score -= 20
		issues = append(issues, fmt.Sprintf("High error rate: %.1f%%", errorRate*100))
	case errorRate > 0.05:
		score -= 10
		issues = append(issues, fmt.Sprintf("Moderate error rate: %.1f%%", errorRate*100))
	}

	switch {
	case perf.P95ResponseTime > 30:
		score -= 15
		issues = append(issues, fmt.Sprintf("Slow P95 response time: %.1fs", perf.P95ResponseTime))
	case perf.P95ResponseTime > 15:
		score -= 7
		issues = append(issues, fmt.Sprintf("Moderate P95 response time: %.1fs", perf.P95ResponseTime))
	}

	if !connected {
		score -= 30
		issues = append(issues, "Browser WebSocket disconnected")
	}

	switch {
	case capacity > 0.8:
		score -= 10
		issues = append(issues, fmt.Sprintf("High active requests: %d/%d (%.0f%%)",
			active, h.cfg.MaxConcurrentRequests, capacity*100))
	case capacity > 0.6:
		score -= 5
		issues = append(issues, fmt.Sprintf("Moderate active requests: %d/%d (%.0f%%)",
			active, h.cfg.MaxConcurrentRequests, capacity*100))
	}

	if score < 0 {
		score = 0
	}

	status := "unhealthy"
	switch {
	case score >= float64(h.health.HealthyThreshold):
		status = "healthy"
	case score >= float64(h.health.DegradedThreshold):
		status = "degraded"
	}

	thresholds := h.notifier.Thresholds()
	uptime := h.monitor.Uptime()

	c.JSON(http.StatusOK, detailedHealthResponse{
		Status:          status,
		HealthScore:     score,
		Issues:          issues,
		Recommendations: healthRecommendations(issues),
		Metrics: healthMetrics{
			ErrorRate:        errorRate,
			ErrorRatePercent: fmt.Sprintf("%.1f%%", errorRate*100),
			ResponseTimeP50:  perf.P50ResponseTime,
			ResponseTimeP95:  perf.P95ResponseTime,
			ResponseTimeP99:  perf.P99ResponseTime,
			QPS:              perf.QPS,
			ActiveRequests:   active,
			CapacityUsage:    fmt.Sprintf("%.0f%%", capacity*100),
			BrowserConnected: connected,
			Uptime:           uptime.Seconds(),
			UptimeHours:      uptime.Hours(),
		},
		Thresholds: map[string]any{
			"error_rate":        thresholds.ErrorRate,
			"p95_response_time": thresholds.P95ResponseTime.Seconds(),
			"active_requests":   thresholds.ActiveRequests,
			"peer_disconnected": thresholds.PeerDisconnected.Seconds(),
		},
	})
}

// healthRecommendations maps raised issues to operator advice.
func healthRecommendations(issues []string) []string {
	recommendations := []string{}
	for _, issue := range issues {
		lower := strings.ToLower(issue)
		switch {
		case strings.Contains(lower, "error rate"):
			recommendations = append(recommendations, "Check server logs for error patterns")
		case strings.Contains(lower, "response time"):
			recommendations = append(recommendations, "Consider reducing concurrent requests or optimizing model selection")
		case strings.Contains(lower, "browser"):
			recommendations = append(recommendations, "Ensure the browser userscript is running and connected")
		case strings.Contains(lower, "active requests"):
			recommendations = append(recommendations, "Consider increasing MAX_CONCURRENT_REQUESTS if the server can handle it")
		}
	}
	return recommendations
}
