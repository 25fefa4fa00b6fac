// Package reqlog writes the durable request/error record as JSON Lines
// files with size-based rotation. Writes are queued to a small worker
// pool so a slow disk never blocks a request path; when the queue is
// full, entries are dropped and counted.
package reqlog

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arenalabs/arena-bridge/internal/logger"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	requestLogFile = "requests.jsonl"
	errorLogFile   = "errors.jsonl"
)

// Entry type discriminators in requests.jsonl.
const (
	EntryRequestStart = "request_start"
	EntryRequestEnd   = "request_end"
)

// Config sizes the log files and the write queue.
type Config struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	BufferSize int
	Workers    int
}

// RequestEntry is one line of requests.jsonl.
type RequestEntry struct {
	Type         string         `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	RequestID    string         `json:"request_id"`
	Model        string         `json:"model"`
	Status       string         `json:"status,omitempty"`
	Duration     float64        `json:"duration,omitempty"`
	InputTokens  int            `json:"input_tokens,omitempty"`
	OutputTokens int            `json:"output_tokens,omitempty"`
	Error        string         `json:"error,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
}

// ErrorEntry is one line of errors.jsonl.
type ErrorEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id"`
	ErrorType    string    `json:"error_type"`
	ErrorMessage string    `json:"error_message"`
}

type queuedLine struct {
	sink *lumberjack.Logger
	line any
}

// Service is the asynchronous JSONL writer.
type Service struct {
	cfg      Config
	requests *lumberjack.Logger
	errors   *lumberjack.Logger

	logChan      chan queuedLine
	workerPool   sync.WaitGroup
	shutdown     chan struct{}
	closed       atomic.Bool
	logger       *logger.Logger
	droppedTotal atomic.Int64
}

// NewService creates the log directory and starts the writer pool.
func NewService(cfg Config, log *logger.Logger) (*Service, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	s := &Service{
		cfg: cfg,
		requests: &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, requestLogFile),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		},
		errors: &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, errorLogFile),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		},
		logChan:  make(chan queuedLine, cfg.BufferSize),
		shutdown: make(chan struct{}),
		logger:   log.WithComponent("reqlog"),
	}

	for i := 0; i < cfg.Workers; i++ {
		s.workerPool.Add(1)
		go s.logWorker()
	}

	return s, nil
}

// logWorker drains queued lines until shutdown, then flushes the rest.
func (s *Service) logWorker() {
	defer s.workerPool.Done()

	for {
		select {
		case q := <-s.logChan:
			s.writeLine(q)
		case <-s.shutdown:
			for {
				select {
				case q := <-s.logChan:
					s.writeLine(q)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) writeLine(q queuedLine) {
	data, err := json.Marshal(q.line)
	if err != nil {
		s.logger.Error("failed to encode log line", slog.String("error", err.Error()))
		return
	}
	if _, err := q.sink.Write(append(data, '\n')); err != nil {
		s.logger.Error("failed to write log line", slog.String("error", err.Error()))
	}
}

func (s *Service) enqueue(sink *lumberjack.Logger, line any) {
	if s.closed.Load() {
		return
	}
	select {
	case s.logChan <- queuedLine{sink: sink, line: line}:
	default:
		dropped := s.droppedTotal.Add(1)
		s.logger.Error("log queue full, line dropped",
			slog.Int64("total_dropped", dropped),
			slog.Int("queue_size", s.cfg.BufferSize))
	}
}

// LogRequestStart records the acceptance of a request.
func (s *Service) LogRequestStart(requestID, model string, params map[string]any) {
	s.enqueue(s.requests, RequestEntry{
		Type:      EntryRequestStart,
		Timestamp: time.Now(),
		RequestID: requestID,
		Model:     model,
		Params:    params,
	})
}

// LogRequestEnd records the outcome of a request.
func (s *Service) LogRequestEnd(requestID, model string, success bool, duration time.Duration, inputTokens, outputTokens int, errMsg string, params map[string]any) {
	status := "success"
	if !success {
		status = "failed"
	}
	s.enqueue(s.requests, RequestEntry{
		Type:         EntryRequestEnd,
		Timestamp:    time.Now(),
		RequestID:    requestID,
		Model:        model,
		Status:       status,
		Duration:     duration.Seconds(),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Error:        errMsg,
		Params:       params,
	})
}

// LogError records one error line in errors.jsonl.
func (s *Service) LogError(requestID, errorType, message string) {
	s.enqueue(s.errors, ErrorEntry{
		Timestamp:    time.Now(),
		RequestID:    requestID,
		ErrorType:    errorType,
		ErrorMessage: message,
	})
}

// RequestLogPath returns the live requests.jsonl path.
func (s *Service) RequestLogPath() string {
	return s.requests.Filename
}

// ErrorLogPath returns the live errors.jsonl path.
func (s *Service) ErrorLogPath() string {
	return s.errors.Filename
}

// Metrics returns diagnostic counters for the writer.
func (s *Service) Metrics() map[string]int64 {
	return map[string]int64{
		"dropped_lines_total": s.droppedTotal.Load(),
		"queue_size":          int64(len(s.logChan)),
		"queue_capacity":      int64(s.cfg.BufferSize),
	}
}

// Shutdown stops accepting lines and flushes the queue.
func (s *Service) Shutdown() {
	s.closed.Store(true)

	close(s.shutdown)
	s.workerPool.Wait()
	close(s.logChan)

	s.requests.Close()
	s.errors.Close()
}
