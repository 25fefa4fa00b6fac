// Package translate converts OpenAI chat completion requests into the
// conversation-graph payloads the upstream arena expects.
package translate

import "encoding/json"

// ChatRequest is the OpenAI-compatible request body. The sampling knobs
// are not forwarded upstream; they are carried for request logging only.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      *bool         `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

// Streaming reports whether the client asked for SSE. An absent stream
// field means streaming; the clients this bridge fronts expect that.
func (r *ChatRequest) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

// LogParams returns the sampling knobs in the shape request logs record.
func (r *ChatRequest) LogParams() map[string]any {
	params := map[string]any{
		"temperature": r.Temperature,
		"top_p":       r.TopP,
		"max_tokens":  r.MaxTokens,
		"streaming":   r.Streaming(),
	}
	return params
}

// ChatMessage is one OpenAI chat message. Content may be a plain string or
// a multimodal part list.
type ChatMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content holds either string content or multimodal parts.
type Content struct {
	Text   string
	Parts  []ContentPart
	IsList bool
}

// ContentPart is one entry of a multimodal content list.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries a part's URL. Detail is repurposed by some clients to
// pass the original filename of a data-URL upload.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// UnmarshalJSON accepts both content encodings. Anything else (null,
// numbers) decodes to empty text.
func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err == nil {
		c.Parts = parts
		c.IsList = true
		return nil
	}
	return nil
}

// MarshalJSON restores the original encoding.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsList {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// ArenaMessage is one node of the upstream conversation graph.
type ArenaMessage struct {
	ID                      string       `json:"id"`
	Role                    string       `json:"role"`
	Content                 string       `json:"content"`
	ExperimentalAttachments []Attachment `json:"experimental_attachments"`
	ParentMessageIDs        []string     `json:"parentMessageIds"`
	ParticipantPosition     string       `json:"participantPosition"`
	ModelID                 *string      `json:"modelId"`
	EvaluationSessionID     string       `json:"evaluationSessionId"`
	Status                  string       `json:"status"`
	FailureReason           *string      `json:"failureReason"`
}

// Payload is the full evaluation payload sent for a fresh conversation.
type Payload struct {
	ID              string         `json:"id"`
	Mode            string         `json:"mode"`
	ModelAID        *string        `json:"modelAId"`
	UserMessageID   string         `json:"userMessageId"`
	ModelAMessageID string         `json:"modelAMessageId"`
	Messages        []ArenaMessage `json:"messages"`
	Modality        string         `json:"modality"`
}

// RetryMessage is the single-message body of a session-reuse payload.
type RetryMessage struct {
	Content     string       `json:"content"`
	Role        string       `json:"role"`
	Attachments []Attachment `json:"attachments"`
}

// RetryPayload reuses a warmed session instead of opening a fresh
// conversation.
type RetryPayload struct {
	Message             RetryMessage `json:"message"`
	Stream              bool         `json:"stream"`
	MessageID           string       `json:"messageId"`
	EvaluationSessionID string       `json:"evaluationSessionId"`
}

// Attachment is one extracted upload, transported separately from the
// conversation graph.
type Attachment struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
}

// ModalityForType maps a model map type to the payload modality.
func ModalityForType(modelType string) string {
	switch modelType {
	case "image":
		return "image"
	case "video":
		return "video"
	default:
		return "chat"
	}
}
