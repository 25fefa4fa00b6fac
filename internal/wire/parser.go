package wire

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Parser turns the peer's append-only chunk stream into events.
//
// The stream is a sequence of tagged fragments: a0:"…" / b0:"…" carry
// JSON-escaped text deltas, a2:[…] / b2:[…] carry media descriptors,
// ad:{…} / bd:{…} carry the finish reason, and a bare JSON object with an
// "error" key aborts the response. Fragments can be split across chunks at
// any byte, so unconsumed input stays buffered and a partial fragment never
// emits an event.
type Parser struct {
	buf string
}

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends a chunk and returns every event that became complete.
func (p *Parser) Feed(data string) []Event {
	p.buf += data

	if ContainsCloudflareChallenge(p.buf) {
		p.buf = ""
		return []Event{{Type: EventError, Err: &StreamError{
			Kind:    ErrKindCloudflare,
			Message: CloudflareMessage,
		}}}
	}

	var events []Event
	for {
		evs, advance := p.scan()
		if advance == 0 {
			break
		}
		p.buf = p.buf[advance:]
		events = append(events, evs...)
	}
	return events
}

// Buffered reports how many bytes are waiting for completion.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// scan locates the leftmost fragment start and tries to complete it.
// Returns the emitted events and the bytes to consume (any junk before the
// fragment included). advance 0 means no complete fragment yet.
func (p *Parser) scan() ([]Event, int) {
	start, kind := nextFragment(p.buf)
	if start < 0 {
		return nil, 0
	}

	switch kind {
	case fragText:
		// start points at 'a'/'b'; the opening quote is at start+3.
		end := scanJSONString(p.buf, start+3)
		if end < 0 {
			return nil, 0
		}
		var text string
		if err := json.Unmarshal([]byte(p.buf[start+3:end]), &text); err != nil || text == "" {
			return nil, end
		}
		return []Event{{Type: EventContent, Text: text}}, end

	case fragMedia:
		end := scanJSONValue(p.buf, start+3)
		if end < 0 {
			return nil, 0
		}
		return mediaEvents(p.buf[start+3 : end]), end

	case fragFinish:
		end := scanJSONValue(p.buf, start+3)
		if end < 0 {
			return nil, 0
		}
		reason := gjson.Get(p.buf[start+3:end], "finishReason")
		if !reason.Exists() {
			return nil, end
		}
		return []Event{{Type: EventFinish, Reason: reason.String()}}, end

	case fragObject:
		end := scanJSONValue(p.buf, start)
		if end < 0 {
			return nil, 0
		}
		obj := p.buf[start:end]
		if !gjson.Valid(obj) {
			// Not JSON after all; skip the opening brace and resync.
			return nil, start + 1
		}
		errVal := gjson.Get(obj, "error")
		if !errVal.Exists() {
			// Unknown metadata fragment, ignore.
			return nil, end
		}
		return []Event{{Type: EventError, Err: upstreamError(errVal)}}, end
	}

	return nil, 0
}

type fragmentKind int

const (
	fragNone fragmentKind = iota
	fragText
	fragMedia
	fragFinish
	fragObject
)

// nextFragment finds the leftmost fragment start in s.
func nextFragment(s string) (int, fragmentKind) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '{' {
			return i, fragObject
		}
		if c != 'a' && c != 'b' {
			continue
		}
		if i+3 >= len(s) {
			// A tag prefix may be split across chunks; wait for more.
			if tagPrefixPossible(s[i:]) {
				return -1, fragNone
			}
			continue
		}
		if s[i+2] != ':' {
			continue
		}
		switch s[i+1] {
		case '0':
			if s[i+3] == '"' {
				return i, fragText
			}
		case '2':
			if s[i+3] == '[' {
				return i, fragMedia
			}
		case 'd':
			if s[i+3] == '{' {
				return i, fragFinish
			}
		}
	}
	return -1, fragNone
}

// tagPrefixPossible reports whether s could still grow into a tag start.
func tagPrefixPossible(s string) bool {
	const tags = "02d"
	if len(s) >= 1 && s[0] != 'a' && s[0] != 'b' {
		return false
	}
	if len(s) >= 2 && !containsByte(tags, s[1]) {
		return false
	}
	if len(s) >= 3 && s[2] != ':' {
		return false
	}
	return true
}

func containsByte(s string, c byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return true
		}
	}
	return false
}

// scanJSONString returns the index just past the closing quote of the JSON
// string whose opening quote is at start, or -1 if incomplete.
func scanJSONString(s string, start int) int {
	if start >= len(s) || s[start] != '"' {
		return -1
	}
	esc := false
	for i := start + 1; i < len(s); i++ {
		if esc {
			esc = false
			continue
		}
		switch s[i] {
		case '\\':
			esc = true
		case '"':
			return i + 1
		}
	}
	return -1
}

// scanJSONValue returns the index just past the balanced JSON object or
// array starting at start, or -1 if incomplete.
func scanJSONValue(s string, start int) int {
	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			if esc {
				esc = false
				continue
			}
			switch c {
			case '\\':
				esc = true
			case '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// mediaEvents decodes an a2/b2 media array into events. Image descriptors
// carry the URL under "image", video descriptors under "url".
func mediaEvents(arr string) []Event {
	var events []Event
	for _, item := range gjson.Parse(arr).Array() {
		kind := MediaKind(item.Get("type").String())
		url := item.Get("image").String()
		if url == "" {
			url = item.Get("url").String()
		}
		if url == "" {
			continue
		}
		if kind != MediaImage && kind != MediaVideo {
			if item.Get("image").Exists() {
				kind = MediaImage
			} else {
				kind = MediaVideo
			}
		}
		events = append(events, Event{Type: EventMedia, URL: url, Media: kind})
	}
	return events
}

// upstreamError converts the "error" value of an upstream JSON object into
// a StreamError. Objects already shaped like OpenAI errors pass through.
func upstreamError(errVal gjson.Result) *StreamError {
	if errVal.IsObject() {
		if msg := errVal.Get("message"); msg.Exists() {
			streamErr := NewStreamError(msg.String())
			if streamErr.Kind == ErrKindUpstream {
				streamErr.Raw = json.RawMessage(errVal.Raw)
			}
			return streamErr
		}
		return NewStreamError(errVal.Raw)
	}
	return NewStreamError(errVal.String())
}
