// Package session maintains per-model pools of warmed browser conversations.
// A session is a (sessionID, messageID) pair the peer created ahead of time;
// requests borrow one, stream through it, and hand it back.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arenalabs/arena-bridge/internal/logger"
)

// Session status values. Unhealthy is terminal: the session stays listed
// for introspection but is never handed out again.
const (
	StatusAvailable = "available"
	StatusInUse     = "in_use"
	StatusUnhealthy = "unhealthy"
)

var (
	// ErrUnknownModel is returned by Acquire for models no pool exists for.
	ErrUnknownModel = errors.New("model not registered with session pool")
	// ErrWaitTimeout is returned by Acquire when no session frees up in time.
	ErrWaitTimeout = errors.New("timed out waiting for an available session")
)

// Session is one warmed conversation bound to a model.
type Session struct {
	SessionID  string
	MessageID  string
	ModelName  string
	Status     string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// modelPool holds the ordered sessions and FIFO waiters for one model.
// Waiter channels are buffered so a wakeup never blocks the signaller.
type modelPool struct {
	sessions []*Session
	waiters  []chan struct{}
}

func (mp *modelPool) takeAvailable() *Session {
	for _, s := range mp.sessions {
		if s.Status == StatusAvailable {
			s.Status = StatusInUse
			s.LastUsedAt = time.Now()
			return s
		}
	}
	return nil
}

// wakeOne signals the oldest waiter, if any. Callers hold the pool lock.
func (mp *modelPool) wakeOne() {
	if len(mp.waiters) == 0 {
		return
	}
	w := mp.waiters[0]
	mp.waiters = mp.waiters[1:]
	select {
	case w <- struct{}{}:
	default:
	}
}

// PoolStatus is a point-in-time summary of one model's pool.
type PoolStatus struct {
	Available int `json:"available"`
	InUse     int `json:"in_use"`
	Unhealthy int `json:"unhealthy"`
	Total     int `json:"total"`
	Waiting   int `json:"waiting"`
}

// Pool hands out warmed sessions per model. Acquire blocks (up to a
// timeout) when every session is busy; Release and Add wake at most one
// waiter each so a freed slot is claimed exactly once.
type Pool struct {
	mu     sync.Mutex
	pools  map[string]*modelPool
	logger *logger.Logger
}

// NewPool creates an empty pool.
func NewPool(log *logger.Logger) *Pool {
	return &Pool{
		pools:  make(map[string]*modelPool),
		logger: log,
	}
}

// Register prepares an empty pool for a model. Idempotent.
func (p *Pool) Register(modelName string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.pools[modelName]; ok {
		return
	}
	p.pools[modelName] = &modelPool{}
	p.logger.WithComponent("session-pool").Info("model registered",
		slog.String("model", modelName))
}

// IsPooled reports whether a model is served through the pool.
func (p *Pool) IsPooled(modelName string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pools[modelName]
	return ok
}

// Add appends a freshly created session to its model's pool, registering
// the model if needed, and wakes one waiter.
func (p *Pool) Add(s *Session) {
	now := time.Now()
	if s.Status == "" {
		s.Status = StatusAvailable
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastUsedAt.IsZero() {
		s.LastUsedAt = now
	}

	p.mu.Lock()
	mp, ok := p.pools[s.ModelName]
	if !ok {
		mp = &modelPool{}
		p.pools[s.ModelName] = mp
	}
	mp.sessions = append(mp.sessions, s)
	size := len(mp.sessions)
	mp.wakeOne()
	p.mu.Unlock()

	p.logger.WithComponent("session-pool").Info("session added",
		slog.String("model", s.ModelName),
		slog.String("session_id", s.SessionID),
		slog.Int("pool_size", size))
}

// Acquire returns an available session for the model, marking it in-use.
// When none is free it parks FIFO behind earlier waiters until a Release,
// Add, the timeout, or ctx cancellation.
func (p *Pool) Acquire(ctx context.Context, modelName string, timeout time.Duration) (*Session, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		p.mu.Lock()
		mp, ok := p.pools[modelName]
		if !ok {
			p.mu.Unlock()
			return nil, ErrUnknownModel
		}
		if s := mp.takeAvailable(); s != nil {
			p.mu.Unlock()
			p.logger.WithComponent("session-pool").Info("session acquired",
				slog.String("model", modelName),
				slog.String("session_id", s.SessionID))
			return s, nil
		}
		wake := make(chan struct{}, 1)
		mp.waiters = append(mp.waiters, wake)
		p.mu.Unlock()

		select {
		case <-wake:
			// Rescan. Another waiter may have raced us to the session,
			// in which case we park again.
		case <-deadline.C:
			p.abandonWait(modelName, wake)
			p.logger.WithComponent("session-pool").Warn("session wait timed out",
				slog.String("model", modelName),
				slog.Duration("timeout", timeout))
			return nil, ErrWaitTimeout
		case <-ctx.Done():
			p.abandonWait(modelName, wake)
			return nil, ctx.Err()
		}
	}
}

// abandonWait removes a waiter that gave up. A wakeup that already landed
// on the abandoned channel is passed to the next waiter so the freed slot
// is not lost.
func (p *Pool) abandonWait(modelName string, wake chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mp, ok := p.pools[modelName]
	if !ok {
		return
	}
	for i, w := range mp.waiters {
		if w == wake {
			mp.waiters = append(mp.waiters[:i], mp.waiters[i+1:]...)
			break
		}
	}
	select {
	case <-wake:
		mp.wakeOne()
	default:
	}
}

// Release returns a session to its pool and wakes one waiter. Unhealthy
// sessions stay unhealthy; unknown ids are logged and ignored.
func (p *Pool) Release(sessionID string) {
	p.mu.Lock()
	for modelName, mp := range p.pools {
		for _, s := range mp.sessions {
			if s.SessionID == sessionID {
				if s.Status == StatusUnhealthy {
					p.mu.Unlock()
					p.logger.WithComponent("session-pool").Warn("release ignored for unhealthy session",
						slog.String("model", modelName),
						slog.String("session_id", sessionID))
					return
				}
				s.Status = StatusAvailable
				mp.wakeOne()
				p.mu.Unlock()
				p.logger.WithComponent("session-pool").Info("session released",
					slog.String("model", modelName),
					slog.String("session_id", sessionID))
				return
			}
		}
	}
	p.mu.Unlock()
	p.logger.WithComponent("session-pool").Warn("release for unknown session",
		slog.String("session_id", sessionID))
}

// MarkUnhealthy takes a session out of rotation permanently.
func (p *Pool) MarkUnhealthy(sessionID string) {
	p.mu.Lock()
	for modelName, mp := range p.pools {
		for _, s := range mp.sessions {
			if s.SessionID == sessionID {
				s.Status = StatusUnhealthy
				p.mu.Unlock()
				p.logger.WithComponent("session-pool").Warn("session marked unhealthy",
					slog.String("model", modelName),
					slog.String("session_id", sessionID))
				return
			}
		}
	}
	p.mu.Unlock()
	p.logger.WithComponent("session-pool").Warn("mark unhealthy for unknown session",
		slog.String("session_id", sessionID))
}

// Status snapshots every model's pool counts.
func (p *Pool) Status() map[string]PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]PoolStatus, len(p.pools))
	for modelName, mp := range p.pools {
		ps := PoolStatus{Total: len(mp.sessions), Waiting: len(mp.waiters)}
		for _, s := range mp.sessions {
			switch s.Status {
			case StatusAvailable:
				ps.Available++
			case StatusInUse:
				ps.InUse++
			case StatusUnhealthy:
				ps.Unhealthy++
			}
		}
		out[modelName] = ps
	}
	return out
}
