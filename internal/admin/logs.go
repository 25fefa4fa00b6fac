package admin

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arenalabs/arena-bridge/internal/stats"
)

// summaryTotals aggregates the last 24 hours of finished requests.
type summaryTotals struct {
	TotalRequests     int     `json:"total_requests"`
	Successful        int     `json:"successful"`
	Failed            int     `json:"failed"`
	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
	AvgDuration       float64 `json:"avg_duration"`
	SuccessRate       float64 `json:"success_rate"`
}

type statsSummaryResponse struct {
	Summary          summaryTotals        `json:"summary"`
	Performance      stats.Summary        `json:"performance"`
	ModelStats       []stats.ModelSummary `json:"model_stats"`
	ActiveRequests   int                  `json:"active_requests"`
	BrowserConnected bool                 `json:"browser_connected"`
	Uptime           float64              `json:"uptime"`
}

// StatsSummary aggregates the durable log over the last 24 hours and
// attaches the in-memory performance windows.
func (h *Handler) StatsSummary(c *gin.Context) {
	entries, err := h.logs.ReadRequestLogs(10000, 0, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	var totals summaryTotals
	var durationSum float64
	var durationCount int
	for _, entry := range entries {
		at, ok := entryTimestamp(entry)
		if !ok || at.Before(cutoff) {
			continue
		}
		totals.TotalRequests++
		if entry["status"] == "success" {
			totals.Successful++
		}
		totals.TotalInputTokens += intField(entry, "input_tokens")
		totals.TotalOutputTokens += intField(entry, "output_tokens")
		if d := floatField(entry, "duration"); d > 0 {
			durationSum += d
			durationCount++
		}
	}
	totals.Failed = totals.TotalRequests - totals.Successful
	if durationCount > 0 {
		totals.AvgDuration = durationSum / float64(durationCount)
	}
	if totals.TotalRequests > 0 {
		totals.SuccessRate = float64(totals.Successful) / float64(totals.TotalRequests) * 100
	}

	c.JSON(http.StatusOK, statsSummaryResponse{
		Summary:          totals,
		Performance:      h.monitor.Snapshot(),
		ModelStats:       h.monitor.ModelStats(),
		ActiveRequests:   h.registry.ActiveCount(),
		BrowserConnected: h.peer.Connected(),
		Uptime:           h.monitor.Uptime().Seconds(),
	})
}

// RequestLogs pages through finished-request entries, newest first.
func (h *Handler) RequestLogs(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	offset := queryInt(c, "offset", 0)
	model := c.Query("model")

	logs, err := h.logs.ReadRequestLogs(limit, offset, model)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, logs)
}

// ErrorLogs returns the most recent error entries.
func (h *Handler) ErrorLogs(c *gin.Context) {
	logs, err := h.logs.ReadErrorLogs(queryInt(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, logs)
}

// DownloadLogs streams a live log file as an attachment.
func (h *Handler) DownloadLogs(c *gin.Context) {
	var path, filename string
	switch c.DefaultQuery("type", "requests") {
	case "requests":
		path, filename = h.logs.RequestLogPath(), "requests.jsonl"
	case "errors":
		path, filename = h.logs.ErrorLogPath(), "errors.jsonl"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid log type"})
		return
	}

	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Log file not found"})
		return
	}

	c.Header("Content-Type", "application/x-jsonlines")
	c.FileAttachment(path, filename)
}

// RequestDetails serves the stored record of one recent request.
func (h *Handler) RequestDetails(c *gin.Context) {
	details, ok := h.details.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Request details not found"})
		return
	}
	c.JSON(http.StatusOK, details)
}

// Alerts returns the recent alert history.
func (h *Handler) Alerts(c *gin.Context) {
	c.JSON(http.StatusOK, h.notifier.History(queryInt(c, "limit", 50)))
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func entryTimestamp(entry map[string]any) (time.Time, bool) {
	s, ok := entry["timestamp"].(string)
	if !ok {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

func intField(entry map[string]any, key string) int {
	v, _ := entry[key].(float64)
	return int(v)
}

func floatField(entry map[string]any, key string) float64 {
	v, _ := entry[key].(float64)
	return v
}
