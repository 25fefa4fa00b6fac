// Package peer owns the single WebSocket to the browser userscript: frame
// fan-out, chunk routing back to tracked requests, heartbeat liveness, and
// channel restoration after a reconnect.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/arenalabs/arena-bridge/internal/alerts"
	"github.com/arenalabs/arena-bridge/internal/config"
	"github.com/arenalabs/arena-bridge/internal/logger"
	"github.com/arenalabs/arena-bridge/internal/metrics"
	"github.com/arenalabs/arena-bridge/internal/session"
	"github.com/arenalabs/arena-bridge/internal/tracking"
	"github.com/arenalabs/arena-bridge/internal/wire"
)

// ErrNotConnected is returned by Send when no peer is attached.
var ErrNotConnected = errors.New("browser peer not connected")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // The peer is a local userscript; origin varies by arena host.
	},
}

// Link is the bridge end of the browser WebSocket. One peer at a time; a
// second connection replaces the first. All writes go through a single
// mutex so concurrent senders never interleave frames.
type Link struct {
	registry *tracking.Registry
	pool     *session.Pool
	store    *config.Store
	notifier *alerts.Notifier
	logger   *logger.Logger

	heartbeatInterval time.Duration
	maxMissedPongs    int

	mu          sync.Mutex
	conn        *websocket.Conn
	quit        chan struct{}
	lastPong    time.Time
	missedPongs int
}

// NewLink wires the peer link to the registries it feeds.
func NewLink(registry *tracking.Registry, pool *session.Pool, store *config.Store, notifier *alerts.Notifier, heartbeatInterval time.Duration, maxMissedPongs int, log *logger.Logger) *Link {
	return &Link{
		registry:          registry,
		pool:              pool,
		store:             store,
		notifier:          notifier,
		logger:            log,
		heartbeatInterval: heartbeatInterval,
		maxMissedPongs:    maxMissedPongs,
	}
}

// Handler upgrades GET /ws and serves the connection until it drops.
func (l *Link) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			l.logger.WithComponent("peer").Error("websocket upgrade failed",
				slog.String("error", err.Error()))
			return
		}
		l.run(conn)
	}
}

// Connected reports whether a peer is currently attached.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Send marshals v and writes it as one text frame.
func (l *Link) Send(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode peer frame: %w", err)
	}

	l.mu.Lock()
	conn := l.conn
	if conn == nil {
		l.mu.Unlock()
		return ErrNotConnected
	}
	err = conn.WriteMessage(websocket.TextMessage, raw)
	l.mu.Unlock()

	if err != nil {
		return fmt.Errorf("write peer frame: %w", err)
	}
	return nil
}

// Close drops the current connection, if any.
func (l *Link) Close() {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (l *Link) run(conn *websocket.Conn) {
	log := l.logger.WithComponent("peer")

	quit := l.attach(conn)
	log.Info("browser peer connected")
	metrics.SetPeerConnected(true)

	if pending := l.registry.PendingIDs(); len(pending) > 0 {
		log.Info("peer reconnected with requests in flight",
			slog.Int("pending", len(pending)))
		if err := l.Send(reconnectionAckFrame{
			Type:              "reconnection_ack",
			PendingRequestIDs: pending,
			Message:           fmt.Sprintf("Reconnected. Found %d pending requests.", len(pending)),
		}); err != nil {
			log.Error("reconnection_ack failed", slog.String("error", err.Error()))
		}
	}

	go l.heartbeatLoop(conn, quit)
	l.readLoop(conn)

	if l.detach(conn) {
		log.Warn("browser peer disconnected")
		metrics.SetPeerConnected(false)
		l.registry.OnPeerDisconnect(context.Background())
	}
}

// attach installs conn as the active peer, displacing any previous one.
func (l *Link) attach(conn *websocket.Conn) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		l.logger.WithComponent("peer").Warn("replacing existing peer connection")
		_ = l.conn.Close()
		close(l.quit)
	}
	l.conn = conn
	l.quit = make(chan struct{})
	l.lastPong = time.Now()
	l.missedPongs = 0
	return l.quit
}

// detach clears conn if it is still the active peer. Returns false when
// the connection was already replaced, in which case the newcomer owns the
// disconnect handling.
func (l *Link) detach(conn *websocket.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != conn {
		return false
	}
	l.conn = nil
	close(l.quit)
	l.quit = nil
	return true
}

func (l *Link) readLoop(conn *websocket.Conn) {
	log := l.logger.WithComponent("peer")
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warn("peer read ended", slog.String("error", err.Error()))
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Warn("discarding malformed peer frame", slog.String("error", err.Error()))
			continue
		}
		l.dispatch(&frame)
	}
}

func (l *Link) dispatch(frame *inboundFrame) {
	log := l.logger.WithComponent("peer")

	switch frame.Type {
	case "session_created":
		if frame.SessionID == "" || frame.MessageID == "" || frame.ModelName == "" {
			log.Error("invalid session_created message, missing ids")
			return
		}
		l.pool.Add(&session.Session{
			SessionID: frame.SessionID,
			MessageID: frame.MessageID,
			ModelName: frame.ModelName,
		})

	case "pong":
		l.handlePong()

	case "reconnection_handshake":
		restored := l.registry.OnPeerReconnect(frame.PendingRequestIDs)
		log.Info("reconnection handshake",
			slog.Int("peer_pending", len(frame.PendingRequestIDs)),
			slog.Int("restored", restored))
		if err := l.Send(restorationAckFrame{
			Type:          "restoration_ack",
			RestoredCount: restored,
			Message:       fmt.Sprintf("Restored %d request channels.", restored),
		}); err != nil {
			log.Error("restoration_ack failed", slog.String("error", err.Error()))
		}

	case "model_registry":
		l.handleModelRegistry(frame.Models)

	default:
		if frame.RequestID == "" {
			log.Warn("peer frame with unknown type", slog.String("type", frame.Type))
			return
		}
		l.routeChunk(frame.RequestID, frame.Data)
	}
}

// routeChunk delivers one data frame to its tracked request.
func (l *Link) routeChunk(requestID string, data json.RawMessage) {
	log := l.logger.WithComponent("peer")

	l.registry.UpdateStatus(requestID, tracking.StatusProcessing)

	if len(data) == 0 {
		log.Warn("chunk frame without data", slog.String("request_id", requestID))
		return
	}

	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		delivered := l.registry.Push(requestID, tracking.Chunk{Data: text})
		if text == "[DONE]" {
			l.registry.Complete(requestID)
		}
		if !delivered {
			log.Warn("chunk for unknown or closed request",
				slog.String("request_id", requestID))
		}
		return
	}

	if errVal := gjson.GetBytes(data, "error"); errVal.Exists() {
		l.registry.Push(requestID, tracking.Chunk{Err: streamErrorFromValue(errVal)})
		return
	}
	log.Warn("unrecognized chunk payload", slog.String("request_id", requestID))
}

// streamErrorFromValue converts the "error" value of a peer data frame.
// OpenAI-shaped error objects pass through with their raw form preserved.
func streamErrorFromValue(errVal gjson.Result) *wire.StreamError {
	if errVal.IsObject() {
		if msg := errVal.Get("message"); msg.Exists() {
			streamErr := wire.NewStreamError(msg.String())
			if streamErr.Kind == wire.ErrKindUpstream {
				streamErr.Raw = json.RawMessage(errVal.Raw)
			}
			return streamErr
		}
		return wire.NewStreamError(errVal.Raw)
	}
	return wire.NewStreamError(errVal.String())
}

// peerModelInfo is the per-model object of a model_registry push.
type peerModelInfo struct {
	ID           string `json:"id"`
	Capabilities struct {
		OutputCapabilities map[string]json.RawMessage `json:"outputCapabilities"`
	} `json:"capabilities"`
}

func (l *Link) handleModelRegistry(raw json.RawMessage) {
	log := l.logger.WithComponent("peer")

	var models map[string]peerModelInfo
	if err := json.Unmarshal(raw, &models); err != nil || len(models) == 0 {
		log.Warn("empty or invalid model registry push")
		return
	}

	entries := make(map[string]config.ModelEntry, len(models))
	for name, info := range models {
		modelType := "chat"
		if _, ok := info.Capabilities.OutputCapabilities["image"]; ok {
			modelType = "image"
		} else if _, ok := info.Capabilities.OutputCapabilities["video"]; ok {
			modelType = "video"
		}
		entries[name] = config.ModelEntry{ID: info.ID, Type: modelType}
	}

	l.store.SetModels(entries)
	metrics.SetModelsRegistered(len(entries))
	log.Info("model registry updated", slog.Int("models", len(entries)))

	if err := l.Send(modelRegistryAckFrame{Type: "model_registry_ack", Count: len(entries)}); err != nil {
		log.Error("model_registry_ack failed", slog.String("error", err.Error()))
	}
}

func (l *Link) handlePong() {
	l.mu.Lock()
	l.lastPong = time.Now()
	l.missedPongs = 0
	l.mu.Unlock()
}

// heartbeatLoop pings the peer on a fixed cadence. A cycle without a pong
// inside two intervals counts as a miss; enough misses and the connection
// is presumed dead and closed, which unwinds the read loop.
func (l *Link) heartbeatLoop(conn *websocket.Conn, quit chan struct{}) {
	log := l.logger.WithComponent("peer-heartbeat")
	ticker := time.NewTicker(l.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
		}

		l.mu.Lock()
		sincePong := time.Since(l.lastPong)
		missed := l.missedPongs
		if sincePong > l.heartbeatInterval*2 {
			l.missedPongs++
			missed = l.missedPongs
		}
		l.mu.Unlock()

		if missed >= l.maxMissedPongs {
			log.Warn("peer heartbeat timed out",
				slog.Duration("since_pong", sincePong),
				slog.Int("missed_pongs", missed))
			l.notifier.Raise(alerts.TypeHeartbeatTimeout, alerts.SeverityWarning,
				"Browser peer heartbeat timed out", sincePong.Seconds())
			_ = conn.Close()
			return
		}

		ping := pingFrame{Type: "ping", Timestamp: float64(time.Now().UnixMilli()) / 1000}
		if err := l.Send(ping); err != nil {
			log.Warn("heartbeat ping failed", slog.String("error", err.Error()))
			return
		}
	}
}
