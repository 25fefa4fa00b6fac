package peer

import (
	"encoding/json"

	"github.com/arenalabs/arena-bridge/internal/translate"
)

// Outbound frames. Every frame the bridge sends carries a "type"
// discriminator the userscript switches on.

type retryFrame struct {
	Type          string                 `json:"type"`
	RequestID     string                 `json:"request_id"`
	Payload       any                    `json:"payload"`
	FilesToUpload []translate.Attachment `json:"files_to_upload"`
}

type commandFrame struct {
	Type string `json:"type"`
}

type abortFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

type pingFrame struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

type reconnectionAckFrame struct {
	Type              string   `json:"type"`
	PendingRequestIDs []string `json:"pending_request_ids"`
	Message           string   `json:"message"`
}

type restorationAckFrame struct {
	Type          string `json:"type"`
	RestoredCount int    `json:"restored_count"`
	Message       string `json:"message"`
}

type modelRegistryAckFrame struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// inboundFrame is the superset of every message the peer sends. Type is
// empty for chunk traffic, which carries request_id and data instead.
type inboundFrame struct {
	Type              string          `json:"type"`
	RequestID         string          `json:"request_id"`
	Data              json.RawMessage `json:"data"`
	SessionID         string          `json:"session_id"`
	MessageID         string          `json:"message_id"`
	ModelName         string          `json:"model_name"`
	PendingRequestIDs []string        `json:"pending_request_ids"`
	Models            json.RawMessage `json:"models"`
	Timestamp         float64         `json:"timestamp"`
}

// SendRetryRequest hands a translated payload to the peer for execution.
// The payload is either a fresh conversation graph or a session-reuse
// body; the userscript treats both the same way.
func (l *Link) SendRetryRequest(requestID string, payload any, files []translate.Attachment) error {
	if files == nil {
		files = []translate.Attachment{}
	}
	return l.Send(retryFrame{
		Type:          "retry_request",
		RequestID:     requestID,
		Payload:       payload,
		FilesToUpload: files,
	})
}

// SendRefreshModels asks the peer to re-extract and push its model
// inventory.
func (l *Link) SendRefreshModels() error {
	return l.Send(commandFrame{Type: "refresh_models"})
}

// SendRefresh asks the peer to reload the upstream page, typically to
// clear a verification interstitial.
func (l *Link) SendRefresh() error {
	return l.Send(commandFrame{Type: "refresh"})
}

// SendActivateIDCapture arms the peer's one-shot session id capture.
func (l *Link) SendActivateIDCapture() error {
	return l.Send(commandFrame{Type: "activate_id_capture"})
}

// SendPageSourceRequest asks the peer to post the upstream page HTML back
// to the model update endpoint.
func (l *Link) SendPageSourceRequest() error {
	return l.Send(commandFrame{Type: "send_page_source"})
}

// SendAbort tells the peer to cancel an in-flight request.
func (l *Link) SendAbort(requestID string) error {
	return l.Send(abortFrame{Type: "abort_request", RequestID: requestID})
}

// SendReconnectNotice warns the peer about a planned restart so it can
// reconnect once the listener is back.
func (l *Link) SendReconnectNotice() error {
	return l.Send(commandFrame{Type: "reconnect"})
}
