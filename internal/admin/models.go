package admin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arenalabs/arena-bridge/internal/config"
)

type modelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
	Type    string `json:"type"`
}

type modelList struct {
	Object string      `json:"object"`
	Data   []modelInfo `json:"data"`
}

type refreshModelsResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Models  []string `json:"models"`
}

// ListModels serves the OpenAI-compatible model inventory.
func (h *Handler) ListModels(c *gin.Context) {
	models := h.store.Models()
	created := time.Now().Unix()

	data := make([]modelInfo, 0, len(models))
	for name, entry := range models {
		data = append(data, modelInfo{
			ID:      name,
			Object:  "model",
			Created: created,
			OwnedBy: "arena",
			Type:    entry.Type,
		})
	}
	sort.Slice(data, func(i, j int) bool { return data[i].ID < data[j].ID })

	c.JSON(http.StatusOK, modelList{Object: "list", Data: data})
}

// RefreshModels asks the peer to re-extract and push its model inventory.
// Always answers 200; the success flag tells the caller whether the
// command went out.
func (h *Handler) RefreshModels(c *gin.Context) {
	names := make([]string, 0, len(h.store.Models()))
	for name := range h.store.Models() {
		names = append(names, name)
	}
	sort.Strings(names)

	if !h.peer.Connected() {
		c.JSON(http.StatusOK, refreshModelsResponse{
			Success: false,
			Message: "No browser connection available",
			Models:  names,
		})
		return
	}
	if err := h.peer.SendRefreshModels(); err != nil {
		h.logger.Error("model refresh command failed", slog.String("error", err.Error()))
		c.JSON(http.StatusOK, refreshModelsResponse{
			Success: false,
			Message: "Failed to send refresh request to browser",
			Models:  names,
		})
		return
	}
	c.JSON(http.StatusOK, refreshModelsResponse{
		Success: true,
		Message: "Model refresh request sent to browser",
		Models:  names,
	})
}

// StartIDCapture arms the peer's one-shot session id capture on behalf of
// the id-updater CLI.
func (h *Handler) StartIDCapture(c *gin.Context) {
	if !h.peer.Connected() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Browser client not connected."})
		return
	}
	if err := h.peer.SendActivateIDCapture(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send command via WebSocket."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Activation command sent."})
}

// RequestModelUpdate asks the peer to post the upstream page source back
// to UpdateAvailableModels.
func (h *Handler) RequestModelUpdate(c *gin.Context) {
	if !h.peer.Connected() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Browser client not connected."})
		return
	}
	if err := h.peer.SendPageSourceRequest(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send command via WebSocket."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Request to send page source sent."})
}

// UpdateAvailableModels receives the upstream page HTML from the peer,
// extracts the embedded model objects and rewrites available_models.json.
func (h *Handler) UpdateAvailableModels(c *gin.Context) {
	html, err := io.ReadAll(c.Request.Body)
	if err != nil || len(html) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "No HTML content received."})
		return
	}

	models := extractModelsFromHTML(string(html))
	if len(models) == 0 {
		h.logger.Error("no model objects found in the posted page source")
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Could not extract model data from HTML."})
		return
	}

	if err := config.SaveAvailableModels(h.cfg.AvailableModelsPath, models); err != nil {
		h.logger.Error("available models write failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}

	h.logger.Info("available models updated", slog.Int("count", len(models)))
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Available models file updated."})
}

// modelObjectStart matches the escaped opening of a model JSON object as
// it appears inside the upstream page's script payload.
var modelObjectStart = regexp.MustCompile(`\{\\"id\\":\\"[a-f0-9-]+\\"`)

// extractModelsFromHTML pulls complete model objects out of the page
// source. Objects are escaped JSON embedded in script text, so each match
// is brace-balanced forward, unescaped and parsed; duplicates are dropped
// by publicName.
func extractModelsFromHTML(html string) []map[string]interface{} {
	var models []map[string]interface{}
	seen := make(map[string]bool)

	for _, loc := range modelObjectStart.FindAllStringIndex(html, -1) {
		end := matchBraces(html, loc[0])
		if end < 0 {
			continue
		}

		unescaped := strings.ReplaceAll(html[loc[0]:end], `\"`, `"`)
		unescaped = strings.ReplaceAll(unescaped, `\\`, `\`)

		var model map[string]interface{}
		if err := json.Unmarshal([]byte(unescaped), &model); err != nil {
			continue
		}
		name, _ := model["publicName"].(string)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		models = append(models, model)
	}
	return models
}

// matchBraces returns the index just past the brace-balanced object
// starting at start, or -1. The search is capped: a model definition
// never comes close to 10000 characters.
func matchBraces(s string, start int) int {
	limit := start + 10000
	if limit > len(s) {
		limit = len(s)
	}
	depth := 0
	for i := start; i < limit; i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}
