package bridge

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/arenalabs/arena-bridge/internal/errors"
	"github.com/arenalabs/arena-bridge/internal/logger"
	"github.com/arenalabs/arena-bridge/internal/session"
	"github.com/arenalabs/arena-bridge/internal/translate"
	"github.com/arenalabs/arena-bridge/internal/wire"
)

// ChatCompletions handles POST /v1/chat/completions.
func (s *Service) ChatCompletions(c *gin.Context) {
	if !s.peer.Connected() {
		errors.AbortWithServiceUnavailable(c, "Browser client not connected.", "peer_disconnected")
		return
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		errors.AbortWithBadRequest(c, "Could not read request body.")
		return
	}
	var req translate.ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		errors.AbortWithBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	entry, known := s.store.Models()[req.Model]
	if !known {
		errors.AbortWithModelNotFound(c, req.Model)
		return
	}

	requestID := uuid.NewString()
	streaming := req.Streaming()
	modality := translate.ModalityForType(entry.Type)
	settings := s.store.Settings()

	ctx := logger.WithModel(logger.WithRequestID(c.Request.Context(), requestID), req.Model)
	c.Request = c.Request.WithContext(ctx)
	log := s.logger.WithContext(ctx)

	rec := &requestRecord{
		requestID:   requestID,
		model:       req.Model,
		streaming:   streaming,
		startedAt:   time.Now(),
		params:      req.LogParams(),
		messages:    messagesJSON(raw),
		inputTokens: wire.EstimateTokens(string(raw)),
	}
	s.recorder.start(rec)

	// Bind the request to an upstream conversation: a warmed session when
	// the model is pooled, the configured endpoint pair otherwise.
	var (
		sess    *session.Session
		payload any
		files   []translate.Attachment
	)
	if s.pool.IsPooled(req.Model) {
		acquired, err := s.pool.Acquire(c.Request.Context(), req.Model, s.cfg.SessionWaitTimeout)
		if err != nil {
			if c.Request.Context().Err() != nil {
				log.Warn("client disconnected while waiting for a session")
				return
			}
			s.recorder.fail(rec, "session_wait_timeout", "Request timed out while waiting for a session.")
			errors.AbortWithGatewayTimeout(c, "Request timed out while waiting for an available session.")
			return
		}
		sess = acquired
		ctx = logger.WithSessionID(ctx, sess.SessionID)
		c.Request = c.Request.WithContext(ctx)
		log = s.logger.WithContext(ctx)
		log.Info("acquired pooled session")
		payload, files = translate.BuildRetry(&req, sess.SessionID, sess.MessageID)
	} else {
		opts, err := s.resolveEndpoint(req.Model, entry, settings)
		if err != nil {
			s.recorder.fail(rec, "endpoint_resolution", err.Error())
			errors.AbortWithBadRequest(c, err.Error())
			return
		}
		payload, files = translate.Translate(&req, opts)
	}

	treq, err := s.registry.Add(requestID, raw, req.Model, streaming)
	if err != nil {
		if sess != nil {
			s.pool.Release(sess.SessionID)
		}
		s.recorder.fail(rec, "capacity", "Too many concurrent requests")
		errors.AbortWithServiceUnavailable(c, "Too many concurrent requests", "concurrency_limit")
		return
	}

	if err := s.peer.SendRetryRequest(requestID, payload, files); err != nil {
		s.registry.Evict(requestID)
		if sess != nil {
			s.pool.Release(sess.SessionID)
		}
		log.Error("payload handoff to peer failed", slog.String("error", err.Error()))
		s.recorder.fail(rec, "peer_send", "Failed to send the request to the browser peer.")
		errors.AbortWithInternal(c, "Failed to send the request to the browser peer.")
		return
	}
	s.registry.MarkSent(requestID)
	log.Info("request dispatched",
		slog.Bool("streaming", streaming),
		slog.String("modality", modality))

	res := s.drive(c, treq, req.Model, modality, streaming, settings)

	s.registry.Evict(requestID)
	s.releaseSession(sess, res)

	switch {
	case res.canceled:
		log.Warn("client disconnected, aborting upstream request")
		if err := s.peer.SendAbort(requestID); err != nil {
			log.Warn("abort notification failed", slog.String("error", err.Error()))
		}

	case res.streamErr != nil:
		if res.streamErr.Kind == wire.ErrKindCloudflare {
			log.Warn("cloudflare challenge detected, asking peer to refresh")
			if err := s.peer.SendRefresh(); err != nil {
				log.Warn("refresh command failed", slog.String("error", err.Error()))
			}
		}
		s.recorder.fail(rec, string(res.streamErr.Kind), res.streamErr.Message)
		if !streaming {
			status, body := wire.BridgeErrorBody(res.streamErr)
			c.JSON(status, body)
		}

	default:
		s.recorder.finish(rec, res.content)
		if !streaming {
			c.JSON(http.StatusOK, wire.FormatNonStream(res.responseID, req.Model, res.content, res.reason))
		}
	}
}

// messagesJSON clips the messages array out of the raw request body for
// the details store.
func messagesJSON(raw []byte) json.RawMessage {
	if msgs := gjson.GetBytes(raw, "messages"); msgs.Exists() {
		return json.RawMessage(msgs.Raw)
	}
	return json.RawMessage("[]")
}
