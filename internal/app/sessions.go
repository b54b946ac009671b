package app

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/facerate/internal/adapter/metrics"
	"github.com/pscheid92/facerate/internal/domain"
)

// Sessions is the in-memory registry of rater sessions. Sessions are never
// persisted and are lost on restart; idle ones are evicted.
type Sessions struct {
	clock       clockwork.Clock
	idleTimeout time.Duration
	metrics     *metrics.RatingMetrics

	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.Session

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSessions creates an empty registry. m may be nil.
func NewSessions(clock clockwork.Clock, idleTimeout time.Duration, m *metrics.RatingMetrics) *Sessions {
	return &Sessions{
		clock:       clock,
		idleTimeout: idleTimeout,
		metrics:     m,
		sessions:    make(map[uuid.UUID]*domain.Session),
		stopCh:      make(chan struct{}),
	}
}

// Get returns the session for id and marks it as seen.
func (r *Sessions) Get(id uuid.UUID) (*domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if ok {
		s.LastSeen = r.clock.Now()
	}
	return s, ok
}

// GetOrCreate returns the session for id, creating a fresh one when id is
// unknown or uuid.Nil. created reports whether a new session was made; its ID
// may differ from id.
func (r *Sessions) GetOrCreate(id uuid.UUID) (s *domain.Session, created bool) {
	if id != uuid.Nil {
		if s, ok := r.Get(id); ok {
			return s, false
		}
	}
	return r.Create(), true
}

func (r *Sessions) Create() *domain.Session {
	s := domain.NewSession(uuid.New(), r.clock.Now())

	r.mu.Lock()
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.observeCount(n)
	return s
}

func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// EvictIdle removes sessions not seen within the idle timeout and returns how
// many were removed.
func (r *Sessions) EvictIdle() int {
	r.mu.Lock()
	evicted := 0
	for id, s := range r.sessions {
		if r.clock.Since(s.LastSeen) > r.idleTimeout {
			delete(r.sessions, id)
			evicted++
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	r.observeCount(n)
	if evicted > 0 {
		slog.Info("Evicted idle rater sessions", "evicted", evicted, "remaining", n)
	}
	return evicted
}

// StartEvictionTimer runs EvictIdle every interval until Stop is called.
func (r *Sessions) StartEvictionTimer(interval time.Duration) {
	ticker := r.clock.NewTicker(interval)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ticker.Chan():
				r.EvictIdle()
			case <-r.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
	slog.Info("Session eviction timer started", "interval", interval.String(), "idle_timeout", r.idleTimeout.String())
}

// Stop stops the eviction timer and waits for it to exit.
func (r *Sessions) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

func (r *Sessions) observeCount(n int) {
	if r.metrics != nil {
		r.metrics.ActiveSessions.Set(float64(n))
	}
}
