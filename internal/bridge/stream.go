package bridge

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arenalabs/arena-bridge/internal/config"
	"github.com/arenalabs/arena-bridge/internal/tracking"
	"github.com/arenalabs/arena-bridge/internal/wire"
)

// driveResult is the terminal state of one driven response.
type driveResult struct {
	responseID string
	content    string
	reason     string
	streamErr  *wire.StreamError
	canceled   bool
}

// systemicFailure reports whether the failure condemns the session the
// request ran on, not just the request.
func (r driveResult) systemicFailure() bool {
	if r.streamErr == nil {
		return false
	}
	return r.streamErr.Kind == wire.ErrKindCloudflare || r.streamErr.Kind == wire.ErrKindTimeout
}

// drive consumes the routed chunks for one request and renders the OpenAI
// response. For streaming requests every frame, error frames included, is
// written to the client here; for aggregated requests the caller renders
// the terminal state. drive returns when the stream finishes, errors,
// stalls past the idle timeout, or the client goes away.
func (s *Service) drive(c *gin.Context, treq *tracking.Request, model, modality string, streaming bool, settings config.Settings) driveResult {
	res := driveResult{responseID: wire.NewResponseID()}

	emit := func(string) {}
	if streaming {
		header := c.Writer.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		header.Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		emit = func(frame string) {
			_, _ = io.WriteString(c.Writer, frame)
			c.Writer.Flush()
		}
	}

	parser := wire.NewParser()
	var coalescer *wire.Coalescer
	if streaming && modality == "chat" {
		coalescer = wire.NewCoalescer(0, 0)
	}

	var (
		content   strings.Builder
		mediaURLs []string
		reason    string
	)

	log := s.logger.WithContext(c.Request.Context())

	flushText := func(text string) {
		content.WriteString(text)
		emit(wire.FormatContentChunk(res.responseID, model, text))
	}

	drainCoalescer := func() {
		if coalescer == nil {
			return
		}
		if text, ok := coalescer.Flush(); ok {
			flushText(text)
		}
	}

	fail := func(streamErr *wire.StreamError) driveResult {
		res.streamErr = streamErr
		if streaming {
			emit(wire.FormatErrorFrame(streamErr))
		}
		return res
	}

	finish := func() driveResult {
		drainCoalescer()
		if modality != "chat" {
			kind := wire.MediaImage
			if modality == "video" {
				kind = wire.MediaVideo
			}
			content.Reset()
			content.WriteString(wire.RenderMediaContent(mediaURLs, kind))
			log.Info("media response assembled", slog.Int("urls", len(mediaURLs)))
		}
		res.content = content.String()
		res.reason = reason
		if streaming {
			if modality != "chat" {
				emit(wire.FormatMediaChunk(res.responseID, model, res.content, reason))
			} else {
				emit(wire.FormatFinishChunk(res.responseID, model, reason))
			}
			emit(wire.DoneFrame)
		}
		return res
	}

	applyEvent := func(ev wire.Event) *wire.StreamError {
		switch ev.Type {
		case wire.EventContent:
			if modality != "chat" {
				return nil
			}
			if coalescer != nil {
				if text, ok := coalescer.Add(ev.Text); ok {
					flushText(text)
				}
			} else {
				content.WriteString(ev.Text)
			}
		case wire.EventMedia:
			if modality == "chat" {
				return nil
			}
			mediaURLs = append(mediaURLs, ev.URL)
		case wire.EventFinish:
			// The reason is held until the peer sends "[DONE]"; data may
			// still follow it.
			reason = ev.Reason
			if ev.Reason == "content-filter" && modality == "chat" {
				drainCoalescer()
				flushText(wire.ContentFilterNotice)
			}
		case wire.EventError:
			return ev.Err
		}
		return nil
	}

	consume := func(chunk tracking.Chunk) (driveResult, bool) {
		if chunk.Err != nil {
			return fail(chunk.Err), true
		}
		if chunk.Data == "[DONE]" {
			return finish(), true
		}
		for _, ev := range parser.Feed(chunk.Data) {
			if streamErr := applyEvent(ev); streamErr != nil {
				return fail(streamErr), true
			}
		}
		return driveResult{}, false
	}

	idleTimeout := time.Duration(settings.StreamTimeoutSeconds()) * time.Second
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()
	poll := time.NewTicker(wire.CoalescerPollInterval)
	defer poll.Stop()

	clientGone := c.Request.Context().Done()

	for {
		select {
		case <-clientGone:
			res.canceled = true
			return res

		case <-idle.C:
			log.Warn("stream idle timeout", slog.Int("seconds", settings.StreamTimeoutSeconds()))
			return fail(&wire.StreamError{
				Kind:    wire.ErrKindTimeout,
				Message: fmt.Sprintf("Response timed out after %d seconds.", settings.StreamTimeoutSeconds()),
			})

		case <-poll.C:
			if coalescer != nil {
				if text, ok := coalescer.Stale(); ok {
					flushText(text)
				}
			}

		case chunk := <-treq.Chunks:
			if out, done := consume(chunk); done {
				return out
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleTimeout)

		case <-treq.Done():
			// Evicted externally. A terminal chunk may have been pushed
			// right before the eviction; drain before giving up.
			for {
				select {
				case chunk := <-treq.Chunks:
					if out, done := consume(chunk); done {
						return out
					}
				default:
					return fail(&wire.StreamError{
						Kind:    wire.ErrKindInternal,
						Message: "Response channel closed before the stream finished.",
					})
				}
			}
		}
	}
}
