// Package session keeps one workflow per browser session.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/neuroscan/internal/selector"
	"github.com/example/neuroscan/internal/workflow"
)

// ErrStoreFull is returned when the session limit is reached and every
// live session has an analysis in flight.
var ErrStoreFull = errors.New("session limit reached")

// Session is one user's workflow plus the notifications waiting to be shown.
type Session struct {
	ID       string
	Workflow *workflow.Workflow

	mu       sync.Mutex
	zone     selector.Zone
	inbox    []workflow.Notification
	lastSeen time.Time
}

// Notify queues n until the next Drain.
func (s *Session) Notify(n workflow.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, n)
}

// Drain returns and clears the queued notifications.
func (s *Session) Drain() []workflow.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	notes := s.inbox
	s.inbox = nil
	return notes
}

// Offer feeds a drop or pick to the session's drop zone. A nil image with a
// nil error means the file was ignored.
func (s *Session) Offer(kind selector.EventKind, files []selector.File) (*selector.Image, error) {
	s.mu.Lock()
	img := s.zone.Handle(kind, files)
	s.mu.Unlock()
	if img == nil {
		return nil, nil
	}
	if err := s.Workflow.Select(img); err != nil {
		return nil, err
	}
	return img, nil
}

// DragActive reports whether a drag is hovering over the session's drop zone.
func (s *Session) DragActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zone.Active()
}

// WorkflowFactory builds the workflow for a new session.
type WorkflowFactory func(sessionID string, notifier workflow.Notifier) *workflow.Workflow

// Store holds live sessions and evicts idle ones.
type Store struct {
	ttl         time.Duration
	limit       int
	newWorkflow WorkflowFactory
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates an empty store.
func NewStore(ttl time.Duration, factory WorkflowFactory, logger *zap.Logger) *Store {
	return &Store{
		ttl:         ttl,
		newWorkflow: factory,
		logger:      logger.Named("sessions"),
		now:         time.Now,
		sessions:    make(map[string]*Session),
	}
}

// SetLimit caps the number of live sessions. Zero or less means no cap.
func (st *Store) SetLimit(n int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.limit = n
}

// Get returns the live session for id and marks it as seen.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	s.lastSeen = st.now()
	s.mu.Unlock()
	return s, true
}

// GetOrCreate returns the session for id, creating a fresh one under a new
// id when id is unknown. created reports whether a new session was made.
// At the limit the least recently seen idle session is evicted first.
func (st *Store) GetOrCreate(id string) (s *Session, created bool, err error) {
	if id != "" {
		if s, ok := st.Get(id); ok {
			return s, false, nil
		}
	}

	s = &Session{ID: uuid.NewString(), lastSeen: st.now()}
	s.Workflow = st.newWorkflow(s.ID, s)

	st.mu.Lock()
	if st.limit > 0 && len(st.sessions) >= st.limit {
		if !st.evictOldestLocked() {
			st.mu.Unlock()
			st.logger.Warn("session limit reached", zap.Int("limit", st.limit))
			return nil, false, ErrStoreFull
		}
	}
	st.sessions[s.ID] = s
	st.mu.Unlock()
	st.logger.Debug("session created", zap.String("session_id", s.ID))
	return s, true, nil
}

func (st *Store) evictOldestLocked() bool {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, s := range st.sessions {
		if s.Workflow.Snapshot().IsAnalyzing() {
			continue
		}
		s.mu.Lock()
		seen := s.lastSeen
		s.mu.Unlock()
		if oldestID == "" || seen.Before(oldest) {
			oldestID, oldest = id, seen
		}
	}
	if oldestID == "" {
		return false
	}
	delete(st.sessions, oldestID)
	st.logger.Debug("session evicted at limit", zap.String("session_id", oldestID))
	return true
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep evicts sessions idle for longer than the TTL. Sessions with an
// analysis in flight are kept.
func (st *Store) Sweep() int {
	cutoff := st.now().Add(-st.ttl)

	st.mu.Lock()
	defer st.mu.Unlock()
	evicted := 0
	for id, s := range st.sessions {
		s.mu.Lock()
		idle := s.lastSeen.Before(cutoff)
		s.mu.Unlock()
		if idle && !s.Workflow.Snapshot().IsAnalyzing() {
			delete(st.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		st.logger.Info("evicted idle sessions", zap.Int("count", evicted))
	}
	return evicted
}

// Run sweeps on every interval until ctx is done.
func (st *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Sweep()
		}
	}
}
