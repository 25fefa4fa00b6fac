package wire

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DoneFrame terminates every SSE response.
const DoneFrame = "data: [DONE]\n\n"

// ChunkDelta is the incremental part of a streaming choice.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice is one choice of a chat.completion.chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChatCompletionChunk is one streaming frame.
type ChatCompletionChunk struct {
	ID                string        `json:"id"`
	Object            string        `json:"object"`
	Created           int64         `json:"created"`
	Model             string        `json:"model"`
	Choices           []ChunkChoice `json:"choices"`
	SystemFingerprint string        `json:"system_fingerprint"`
}

// CompletionMessage is the aggregated assistant message.
type CompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionChoice is one choice of a chat.completion.
type CompletionChoice struct {
	Index        int               `json:"index"`
	Message      CompletionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// Usage carries the token accounting of a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletion is the non-streaming response body.
type ChatCompletion struct {
	ID                string             `json:"id"`
	Object            string             `json:"object"`
	Created           int64              `json:"created"`
	Model             string             `json:"model"`
	Choices           []CompletionChoice `json:"choices"`
	Usage             Usage              `json:"usage"`
	SystemFingerprint string             `json:"system_fingerprint"`
}

// ErrorDetail is the OpenAI error payload.
type ErrorDetail struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Code    *string `json:"code"`
}

// ErrorResponse is the OpenAI error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// NewResponseID returns a fresh chat completion id.
func NewResponseID() string {
	return "chatcmpl-" + uuid.NewString()
}

func newFingerprint() string {
	u := uuid.New()
	return "fp_" + hex.EncodeToString(u[:])[:8]
}

// EstimateTokens approximates a token count from text length.
func EstimateTokens(text string) int {
	return len(text) / 4
}

func sseFrame(v interface{}) string {
	data, _ := json.Marshal(v)
	return "data: " + string(data) + "\n\n"
}

// FormatContentChunk renders one text delta frame.
func FormatContentChunk(responseID, model, content string) string {
	chunk := ChatCompletionChunk{
		ID:      responseID,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChunkChoice{{
			Delta: ChunkDelta{Role: "assistant", Content: content},
		}},
		SystemFingerprint: newFingerprint(),
	}
	return sseFrame(chunk)
}

// FormatFinishChunk renders the closing frame with its finish reason.
// An empty reason defaults to "stop".
func FormatFinishChunk(responseID, model, reason string) string {
	if reason == "" {
		reason = "stop"
	}
	chunk := ChatCompletionChunk{
		ID:      responseID,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChunkChoice{{
			Delta:        ChunkDelta{},
			FinishReason: &reason,
		}},
		SystemFingerprint: newFingerprint(),
	}
	return sseFrame(chunk)
}

// FormatMediaChunk renders the single frame of an image or video response:
// the whole content plus the finish reason in one delta.
func FormatMediaChunk(responseID, model, content, reason string) string {
	if reason == "" {
		reason = "stop"
	}
	chunk := ChatCompletionChunk{
		ID:      responseID,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChunkChoice{{
			Delta:        ChunkDelta{Role: "assistant", Content: content},
			FinishReason: &reason,
		}},
		SystemFingerprint: newFingerprint(),
	}
	return sseFrame(chunk)
}

// FormatErrorFrame renders a stream error as an error frame followed by the
// DONE terminator. Upstream errors already in OpenAI shape pass through.
func FormatErrorFrame(streamErr *StreamError) string {
	if streamErr.Raw != nil {
		return fmt.Sprintf("data: {\"error\": %s}\n\n%s", streamErr.Raw, DoneFrame)
	}
	return sseFrame(ErrorEnvelope(streamErr)) + DoneFrame
}

// ErrorEnvelope wraps a stream error in the OpenAI error body.
func ErrorEnvelope(streamErr *StreamError) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{
		Message: streamErr.Message,
		Type:    "server_error",
	}}
}

// BridgeErrorBody builds the non-streaming error body and its HTTP status.
func BridgeErrorBody(streamErr *StreamError) (int, ErrorResponse) {
	status := 500
	code := "processing_error"
	if streamErr.Kind == ErrKindAttachmentTooLarge {
		status = 413
		code = "attachment_too_large"
	}
	return status, ErrorResponse{Error: ErrorDetail{
		Message: "[Bridge Error]: " + streamErr.Message,
		Type:    "bridge_error",
		Code:    &code,
	}}
}

// FormatNonStream builds the aggregated chat.completion body.
func FormatNonStream(responseID, model, content, reason string) ChatCompletion {
	if reason == "" {
		reason = "stop"
	}
	tokens := EstimateTokens(content)
	return ChatCompletion{
		ID:      responseID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []CompletionChoice{{
			Message:      CompletionMessage{Role: "assistant", Content: content},
			FinishReason: reason,
		}},
		Usage: Usage{
			CompletionTokens: tokens,
			TotalTokens:      tokens,
		},
		SystemFingerprint: newFingerprint(),
	}
}

// RenderMediaContent joins collected media URLs into response text. Images
// become markdown image lines, videos stay raw URLs.
func RenderMediaContent(urls []string, kind MediaKind) string {
	if kind == MediaVideo {
		return strings.Join(urls, "\n")
	}
	lines := make([]string, len(urls))
	for i, url := range urls {
		lines[i] = fmt.Sprintf("![Generated Image](%s)", url)
	}
	return strings.Join(lines, "\n")
}

// ContentFilterNotice is appended when the upstream cuts a response off
// with a content-filter finish reason.
const ContentFilterNotice = "\n\nResponse terminated: the upstream content filter stopped generation (or the context limit was reached)."
