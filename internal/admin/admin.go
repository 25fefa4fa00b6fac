// Package admin serves the operational surface of the bridge: model
// listing, health and stats endpoints, log access, alert history and the
// internal endpoints the helper CLIs and the userscript call.
package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/arenalabs/arena-bridge/internal/alerts"
	"github.com/arenalabs/arena-bridge/internal/config"
	"github.com/arenalabs/arena-bridge/internal/logger"
	"github.com/arenalabs/arena-bridge/internal/metrics"
	"github.com/arenalabs/arena-bridge/internal/reqlog"
	"github.com/arenalabs/arena-bridge/internal/stats"
	"github.com/arenalabs/arena-bridge/internal/tracking"
)

// PeerController is the slice of the peer link the admin surface drives.
type PeerController interface {
	Connected() bool
	SendRefreshModels() error
	SendActivateIDCapture() error
	SendPageSourceRequest() error
}

// Handler serves the admin routes.
type Handler struct {
	cfg      *config.Config
	store    *config.Store
	registry *tracking.Registry
	monitor  *stats.Monitor
	details  *stats.DetailsStore
	logs     *reqlog.Service
	notifier *alerts.Notifier
	health   config.HealthScoreLimits
	peer     PeerController
	logger   *logger.Logger
}

// NewHandler wires the admin surface to its data sources.
func NewHandler(cfg *config.Config, store *config.Store, registry *tracking.Registry, monitor *stats.Monitor, details *stats.DetailsStore, logs *reqlog.Service, notifier *alerts.Notifier, health config.HealthScoreLimits, peer PeerController, log *logger.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		store:    store,
		registry: registry,
		monitor:  monitor,
		details:  details,
		logs:     logs,
		notifier: notifier,
		health:   health,
		peer:     peer,
		logger:   log.WithComponent("admin"),
	}
}

// Register mounts every admin route on the router.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.GET("/v1/models", h.ListModels)
	r.POST("/v1/refresh-models", h.RefreshModels)

	api := r.Group("/api")
	api.GET("/stats/summary", h.StatsSummary)
	api.GET("/logs/requests", h.RequestLogs)
	api.GET("/logs/errors", h.ErrorLogs)
	api.GET("/logs/download", h.DownloadLogs)
	api.GET("/request/:id", h.RequestDetails)
	api.GET("/alerts", h.Alerts)
	api.GET("/health/detailed", h.DetailedHealth)

	internal := r.Group("/internal")
	internal.POST("/start_id_capture", h.StartIDCapture)
	internal.POST("/request_model_update", h.RequestModelUpdate)
	internal.POST("/update_available_models", h.UpdateAvailableModels)
}
