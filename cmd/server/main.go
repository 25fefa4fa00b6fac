package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/arenalabs/arena-bridge/internal/admin"
	"github.com/arenalabs/arena-bridge/internal/alerts"
	"github.com/arenalabs/arena-bridge/internal/auth"
	"github.com/arenalabs/arena-bridge/internal/bridge"
	"github.com/arenalabs/arena-bridge/internal/config"
	"github.com/arenalabs/arena-bridge/internal/logger"
	"github.com/arenalabs/arena-bridge/internal/metrics"
	"github.com/arenalabs/arena-bridge/internal/peer"
	"github.com/arenalabs/arena-bridge/internal/reqlog"
	"github.com/arenalabs/arena-bridge/internal/session"
	"github.com/arenalabs/arena-bridge/internal/stats"
	"github.com/arenalabs/arena-bridge/internal/tracking"
)

func main() {
	cfg := config.Load()

	bootlog := log.NewWithOptions(os.Stdout, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		Level:           log.InfoLevel,
		TimeFormat:      time.Kitchen,
	})

	bootlog.Info("Setting Gin mode", "mode", cfg.GinMode)
	gin.SetMode(cfg.GinMode)

	appLog := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	store, err := config.NewStore(cfg)
	if err != nil {
		bootlog.Fatal("Failed to load state files", "error", err)
	}

	monCfg, err := config.LoadMonitoringConfig(cfg.MonitoringPath)
	if err != nil {
		bootlog.Warn("Monitoring config rejected, using defaults", "error", err)
		monCfg = config.DefaultMonitoringConfig()
	}

	logs, err := reqlog.NewService(reqlog.Config{
		Dir:        cfg.LogDir,
		MaxSizeMB:  cfg.ReqLogMaxSizeMB,
		MaxBackups: cfg.ReqLogMaxBackups,
		BufferSize: cfg.ReqLogBufferSize,
	}, appLog)
	if err != nil {
		bootlog.Fatal("Failed to open request logs", "error", err)
	}

	// Wire the services the way the data flows: peer traffic lands in the
	// registry, sessions come from the pool, outcomes fan out to the
	// recorder's sinks.
	monitor := stats.NewMonitor(cfg.StatsWindowRequests, cfg.StatsWindowQPSEvents)
	details := stats.NewDetailsStore(cfg.RequestDetailsLimit)
	notifier := alerts.New(monCfg.Alerts, appLog)
	registry := tracking.NewRegistry(cfg.MaxConcurrentRequests, cfg.ResponseQueueSize, cfg.RequestTimeout, appLog)
	pool := session.NewPool(appLog)
	link := peer.NewLink(registry, pool, store, notifier, cfg.HeartbeatInterval, cfg.HeartbeatMaxMissed, appLog)
	recorder := bridge.NewRecorder(logs, monitor, details)
	svc := bridge.NewService(cfg, store, registry, pool, link, recorder, appLog)
	adminHandler := admin.NewHandler(cfg, store, registry, monitor, details, logs, notifier, monCfg.Health, link, appLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.HotReloadEnabled {
		go func() {
			if err := store.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("state file watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	plan, err := config.LoadWarmupPlan(cfg.WarmupPlanPath)
	if err != nil {
		bootlog.Warn("Warmup plan rejected", "error", err)
	}
	if len(plan.Models) > 0 {
		go session.NewWarmer(pool, link, plan, appLog).Run(ctx)
	}

	var lastRequest atomic.Int64
	lastRequest.Store(time.Now().UnixNano())

	router := gin.Default()
	router.Use(corsMiddleware(cfg.CORSAllowedOrigins))

	adminHandler.Register(router)
	router.GET("/ws", link.Handler())
	router.POST("/v1/chat/completions",
		auth.RequireAPIKey(func() string { return store.Settings().APIKey }),
		func(c *gin.Context) {
			lastRequest.Store(time.Now().UnixNano())
			c.Next()
		},
		svc.ChatCompletions)

	metrics.SetModelsRegistered(len(store.Models()))

	jobs := cron.New()
	if _, err := jobs.AddFunc("@every "+cfg.CleanupInterval.String(), func() {
		swept := registry.SweepStale()
		metrics.SetModelsRegistered(len(store.Models()))
		appLog.Info("housekeeping sweep finished",
			slog.Int("active", registry.ActiveCount()),
			slog.Int("swept", swept))
	}); err != nil {
		bootlog.Fatal("Failed to schedule the cleanup job", "error", err)
	}
	if _, err := jobs.AddFunc("@every 1m", func() {
		notifier.Check(
			monitor.ErrorRate(5*time.Minute),
			monitor.Snapshot().P95ResponseTime,
			registry.ActiveCount(),
			link.Connected())
	}); err != nil {
		bootlog.Fatal("Failed to schedule the alert check", "error", err)
	}
	jobs.Start()
	defer jobs.Stop()

	go idleRestartLoop(ctx, store, link, bootlog, &lastRequest)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		bootlog.Info("🔁  bridge listening on :" + cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			bootlog.Fatal("Failed to start server", "error", err)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	bootlog.Info("🛑 Shutting down server...")

	// Pending requests time out immediately once the peer drops, so the
	// HTTP drain below does not wait out the watchdog.
	registry.SetShuttingDown()
	cancel()
	link.Close()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		bootlog.Error("Server forced to shutdown", "error", err)
	}

	logs.Shutdown()
	bootlog.Info("✅ Server exited")
}

// corsMiddleware answers preflights and stamps the allow headers on
// every response.
func corsMiddleware(allowedOrigins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowedOrigins)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// idleRestartLoop exits the process when no completion request arrived
// within the configured window, telling the peer first so the userscript
// reconnects to the replacement instance. The supervisor is expected to
// restart the binary. Settings are re-read every tick, so the switch can
// be flipped at runtime.
func idleRestartLoop(ctx context.Context, store *config.Store, link *peer.Link, bootlog *log.Logger, lastRequest *atomic.Int64) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		settings := store.Settings()
		if !settings.EnableIdleRestart || settings.IdleRestartTimeoutSeconds <= 0 {
			continue
		}

		idle := time.Since(time.Unix(0, lastRequest.Load()))
		if idle < time.Duration(settings.IdleRestartTimeoutSeconds)*time.Second {
			continue
		}

		bootlog.Warn("Idle timeout exceeded, restarting",
			"idle", idle.Round(time.Second),
			"timeout_seconds", settings.IdleRestartTimeoutSeconds)
		if err := link.SendReconnectNotice(); err != nil {
			bootlog.Warn("Failed to send the reconnect notice", "error", err)
		}
		// Give the notice time to flush before the socket dies with us.
		time.Sleep(3 * time.Second)
		os.Exit(0)
	}
}
