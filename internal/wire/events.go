// Package wire parses the raw chunk stream relayed by the browser peer into
// typed events and formats OpenAI-compatible responses from them.
package wire

import (
	"encoding/json"
	"strings"
)

// EventType discriminates parsed stream events.
type EventType string

const (
	// EventContent carries a decoded text delta.
	EventContent EventType = "content"
	// EventMedia carries one generated media URL.
	EventMedia EventType = "media"
	// EventFinish carries the upstream finish reason.
	EventFinish EventType = "finish"
	// EventError terminates the stream with an error.
	EventError EventType = "error"
)

// MediaKind is the media type of an EventMedia event.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// ErrorKind classifies stream errors so the HTTP layer can map them to
// status codes and side effects.
type ErrorKind string

const (
	// ErrKindUpstream is an error reported by the upstream service.
	ErrKindUpstream ErrorKind = "upstream"
	// ErrKindCloudflare is a human-verification interstitial. The peer
	// should be told to refresh the page.
	ErrKindCloudflare ErrorKind = "cloudflare"
	// ErrKindAttachmentTooLarge maps to HTTP 413.
	ErrKindAttachmentTooLarge ErrorKind = "attachment_too_large"
	// ErrKindTimeout is a stream or request deadline expiry.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindInternal is a bridge-side failure.
	ErrKindInternal ErrorKind = "internal"
)

// StreamError is the payload of an EventError event.
type StreamError struct {
	Kind    ErrorKind
	Message string
	// Raw preserves the upstream error value when it was already a JSON
	// object, so OpenAI-shaped errors pass through untouched.
	Raw json.RawMessage
}

// Event is one parsed occurrence from the upstream stream.
type Event struct {
	Type   EventType
	Text   string       // EventContent
	URL    string       // EventMedia
	Media  MediaKind    // EventMedia
	Reason string       // EventFinish
	Err    *StreamError // EventError
}

const (
	// CloudflareMessage is surfaced when the upstream serves a
	// verification page instead of a model response.
	CloudflareMessage = "Cloudflare verification page detected. Refresh the upstream page in the browser, complete the check manually, then retry the request."

	// AttachmentTooLargeMessage is surfaced when the upstream rejects an
	// upload for size.
	AttachmentTooLargeMessage = "Upload failed: attachment size exceeds the upstream limit (usually around 5MB). Compress the file or upload something smaller."
)

var cloudflareMarkers = []string{
	"<title>just a moment",
	"enable javascript and cookies to continue",
}

// ContainsCloudflareChallenge reports whether text looks like a Cloudflare
// verification page.
func ContainsCloudflareChallenge(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range cloudflareMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ClassifyErrorMessage maps an upstream error message to an ErrorKind.
func ClassifyErrorMessage(message string) ErrorKind {
	if strings.Contains(message, "413") || strings.Contains(strings.ToLower(message), "too large") {
		return ErrKindAttachmentTooLarge
	}
	if ContainsCloudflareChallenge(message) {
		return ErrKindCloudflare
	}
	return ErrKindUpstream
}

// NewStreamError builds a classified StreamError from an upstream message,
// replacing it with the friendly text for known conditions.
func NewStreamError(message string) *StreamError {
	kind := ClassifyErrorMessage(message)
	switch kind {
	case ErrKindAttachmentTooLarge:
		return &StreamError{Kind: kind, Message: AttachmentTooLargeMessage}
	case ErrKindCloudflare:
		return &StreamError{Kind: kind, Message: CloudflareMessage}
	default:
		return &StreamError{Kind: kind, Message: message}
	}
}
