package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arenalabs/arena-bridge/internal/config"
	"github.com/arenalabs/arena-bridge/internal/logger"
	"github.com/arenalabs/arena-bridge/internal/translate"
)

// Sender delivers JSON frames to the browser peer.
type Sender interface {
	Connected() bool
	Send(v any) error
}

// warmupFrame asks the peer to open a fresh conversation. The peer answers
// asynchronously with a session_created message carrying the new ids.
type warmupFrame struct {
	Type          string                 `json:"type"`
	RequestID     string                 `json:"request_id"`
	ModelName     string                 `json:"model_name"`
	Payload       *translate.Payload     `json:"payload"`
	FilesToUpload []translate.Attachment `json:"files_to_upload"`
}

// Warmer seeds the pool according to the configured plan: one warmup
// request per desired session, spaced out so the browser keeps up.
type Warmer struct {
	pool   *Pool
	sender Sender
	plan   config.WarmupPlan
	logger *logger.Logger

	// pollInterval is how often Run checks for the peer while waiting.
	pollInterval time.Duration
	// sendInterval is the pause between consecutive warmup requests.
	sendInterval time.Duration
}

// NewWarmer wires a warmer to the pool it feeds and the peer it talks to.
func NewWarmer(pool *Pool, sender Sender, plan config.WarmupPlan, log *logger.Logger) *Warmer {
	return &Warmer{
		pool:         pool,
		sender:       sender,
		plan:         plan,
		logger:       log,
		pollInterval: time.Second,
		sendInterval: time.Second,
	}
}

// Run blocks until the peer connects, honors the plan's start delay, then
// sends every warmup request. Sessions join the pool later, when the peer
// reports session_created for each request id.
func (w *Warmer) Run(ctx context.Context) {
	log := w.logger.WithComponent("session-warmer")

	if len(w.plan.Models) == 0 {
		log.Info("no warmup plan configured, skipping session warming")
		return
	}

	// Register the planned models before anything else so their requests
	// wait on the pool instead of falling through to the endpoint map
	// while the browser is still warming up.
	for _, m := range w.plan.Models {
		if m.PublicName == "" || m.ID == "" {
			log.Warn("skipping warmup entry without publicName or id")
			continue
		}
		w.pool.Register(m.PublicName)
	}

	for !w.sender.Connected() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
	log.Info("peer connected, session warming ready",
		slog.Int("models", len(w.plan.Models)),
		slog.Int("sessions_per_model", w.plan.SessionsPerModel))

	if delay := time.Duration(w.plan.WarmupDelaySeconds) * time.Second; delay > 0 {
		log.Info("waiting before session warming starts", slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	requested := 0
	for _, m := range w.plan.Models {
		if m.PublicName == "" || m.ID == "" {
			continue
		}
		log.Info("warming model", slog.String("model", m.PublicName))

		for i := 0; i < w.plan.SessionsPerModel; i++ {
			frame := warmupFrame{
				Type:          "warmup_session",
				RequestID:     fmt.Sprintf("warmup_%s_%d", m.PublicName, i),
				ModelName:     m.PublicName,
				Payload:       translate.BuildWarmup(m.ID, w.plan.InitialPrompt),
				FilesToUpload: []translate.Attachment{},
			}
			if err := w.sender.Send(frame); err != nil {
				log.Error("warmup request failed",
					slog.String("model", m.PublicName),
					slog.Int("index", i+1),
					slog.String("error", err.Error()))
			} else {
				requested++
				log.Info("warmup request sent",
					slog.String("model", m.PublicName),
					slog.Int("index", i+1),
					slog.Int("of", w.plan.SessionsPerModel))
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(w.sendInterval):
			}
		}
	}

	log.Info("session warming initiated", slog.Int("sessions_requested", requested))
}
