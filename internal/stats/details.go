package stats

import (
	"encoding/json"
	"sync"
	"time"
)

// maxResponseContent caps the stored response body so the details store
// stays small even for very long completions.
const maxResponseContent = 5000

// RequestDetails is the full record of one request kept for inspection
// via the admin surface.
type RequestDetails struct {
	RequestID       string          `json:"request_id"`
	Timestamp       time.Time       `json:"timestamp"`
	Model           string          `json:"model"`
	Status          string          `json:"status"`
	Duration        float64         `json:"duration"`
	InputTokens     int             `json:"input_tokens"`
	OutputTokens    int             `json:"output_tokens"`
	Error           string          `json:"error,omitempty"`
	RequestParams   map[string]any  `json:"request_params"`
	RequestMessages json.RawMessage `json:"request_messages"`
	ResponseContent string          `json:"response_content"`
}

// DetailsStore keeps the most recent request details, capped in size.
// Oldest entries are dropped first.
type DetailsStore struct {
	mu      sync.Mutex
	limit   int
	details map[string]*RequestDetails
	order   []string
}

// NewDetailsStore returns a store holding at most limit entries.
func NewDetailsStore(limit int) *DetailsStore {
	if limit <= 0 {
		limit = 500
	}
	return &DetailsStore{
		limit:   limit,
		details: make(map[string]*RequestDetails),
	}
}

// Add stores one record, truncating the response content and evicting
// the oldest entry when full. Duplicate ids are ignored.
func (s *DetailsStore) Add(d *RequestDetails) {
	if len(d.ResponseContent) > maxResponseContent {
		d.ResponseContent = d.ResponseContent[:maxResponseContent]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.details[d.RequestID]; exists {
		return
	}

	if len(s.order) >= s.limit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.details, oldest)
	}

	s.details[d.RequestID] = d
	s.order = append(s.order, d.RequestID)
}

// Get returns the record for one request id.
func (s *DetailsStore) Get(requestID string) (*RequestDetails, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.details[requestID]
	return d, ok
}

// Recent returns up to limit records, newest first.
func (s *DetailsStore) Recent(limit int) []*RequestDetails {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	out := make([]*RequestDetails, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		if d, ok := s.details[s.order[i]]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Len reports the current number of stored records.
func (s *DetailsStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
