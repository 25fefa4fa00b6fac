// Package bridge serves the OpenAI-compatible chat completion surface:
// it binds each request to an upstream conversation, dispatches the
// translated payload over the peer link and drives the response back to
// the HTTP client.
package bridge

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/arenalabs/arena-bridge/internal/config"
	"github.com/arenalabs/arena-bridge/internal/logger"
	"github.com/arenalabs/arena-bridge/internal/session"
	"github.com/arenalabs/arena-bridge/internal/tracking"
	"github.com/arenalabs/arena-bridge/internal/translate"
)

// PeerSender is the slice of the peer link the orchestrator needs.
type PeerSender interface {
	Connected() bool
	SendRetryRequest(requestID string, payload any, files []translate.Attachment) error
	SendAbort(requestID string) error
	SendRefresh() error
}

// Service orchestrates chat completion requests: validation, session
// selection, dispatch to the peer and response driving.
type Service struct {
	cfg      *config.Config
	store    *config.Store
	registry *tracking.Registry
	pool     *session.Pool
	peer     PeerSender
	recorder *Recorder
	logger   *logger.Logger
}

// NewService wires the orchestrator together.
func NewService(cfg *config.Config, store *config.Store, registry *tracking.Registry, pool *session.Pool, peer PeerSender, recorder *Recorder, log *logger.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		registry: registry,
		pool:     pool,
		peer:     peer,
		recorder: recorder,
		logger:   log.WithComponent("bridge"),
	}
}

// resolveEndpoint picks the conversation binding for a model without
// warmed sessions: the model's endpoint map entry when one exists (random
// choice from lists, mode overrides honored), else the global default
// pair when the settings allow falling back. The returned error text is
// client-facing.
func (s *Service) resolveEndpoint(modelName string, entry config.ModelEntry, settings config.Settings) (translate.Options, error) {
	opts := translate.Options{
		ModelID:                 entry.ID,
		Modality:                translate.ModalityForType(entry.Type),
		Mode:                    settings.IDUpdaterLastMode,
		BattleTarget:            settings.IDUpdaterBattleTarget,
		TavernMode:              settings.TavernModeEnabled,
		BypassMode:              settings.BypassEnabled,
		InjectTrailingUserSpace: settings.InjectTrailingUserSpace,
	}

	if candidates := s.store.Endpoints()[modelName]; len(candidates) > 0 {
		pick := candidates[rand.Intn(len(candidates))]
		if pick.SessionID != "" && pick.MessageID != "" {
			opts.SessionID = pick.SessionID
			opts.MessageID = pick.MessageID
			if pick.Mode != "" {
				opts.Mode = pick.Mode
			}
			if pick.BattleTarget != "" {
				opts.BattleTarget = pick.BattleTarget
			}
		} else {
			s.logger.Warn("endpoint map entry is missing ids, falling back",
				slog.String("model", modelName))
		}
	}

	if opts.SessionID == "" {
		if !settings.UseDefaultIDsIfMappingNotFound {
			return opts, fmt.Errorf("Model '%s' has no session mapping. Add one to model_endpoint_map.json or enable use_default_ids_if_mapping_not_found.", modelName)
		}
		opts.SessionID = settings.SessionID
		opts.MessageID = settings.MessageID
	}

	if config.IsPlaceholderID(opts.SessionID) || config.IsPlaceholderID(opts.MessageID) {
		return opts, fmt.Errorf("The resolved session id or message id is not configured. Update model_endpoint_map.json or config.jsonc, or run the id updater.")
	}
	return opts, nil
}

// releaseSession returns a pooled session after a request, retiring it
// instead when the failure points at the session rather than the request.
// Cloudflare interstitials and stream timeouts both mean the browser tab
// behind the session can no longer be trusted.
func (s *Service) releaseSession(sess *session.Session, res driveResult) {
	if sess == nil {
		return
	}
	if res.systemicFailure() {
		s.pool.MarkUnhealthy(sess.SessionID)
		return
	}
	s.pool.Release(sess.SessionID)
}
