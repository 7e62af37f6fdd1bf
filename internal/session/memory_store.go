package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Brownie44l1/digit-api/internal/canvas"
)

var ErrNotFound = errors.New("session not found")

// CanvasFactory creates the drawing surface for a new session.
type CanvasFactory func() (*canvas.Canvas, error)

// MemoryStore keeps sessions in process memory. Sessions idle for longer than
// the TTL are dropped, and once the store holds the maximum number of
// sessions the least recently used one makes room for a new one.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	newCanvas   CanvasFactory
	ttl         time.Duration
	maxSessions int
	now         func() time.Time
}

type Option func(*MemoryStore)

// WithTTL evicts sessions idle for longer than ttl. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *MemoryStore) { s.ttl = ttl }
}

// WithMaxSessions caps the number of live sessions. Zero means no cap.
func WithMaxSessions(n int) Option {
	return func(s *MemoryStore) { s.maxSessions = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(newCanvas CanvasFactory, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		sessions:  make(map[string]*Session),
		newCanvas: newCanvas,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts a session under a fresh random id.
func (s *MemoryStore) Create() (*Session, error) {
	return s.GetOrCreate(uuid.NewString())
}

// Get returns the session by id. An expired session is removed and reported
// as ErrNotFound.
func (s *MemoryStore) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if s.expired(sess, s.now()) {
		s.mu.Lock()
		if s.sessions[id] == sess {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	sess.touch()
	return sess, nil
}

// GetOrCreate returns the session by id, creating it if it does not exist.
func (s *MemoryStore) GetOrCreate(id string) (*Session, error) {
	if sess, err := s.Get(id); err == nil {
		return sess, nil
	}

	c, err := s.newCanvas()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have won the race.
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}

	s.sweepLocked()
	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		s.evictOldestLocked(len(s.sessions) - s.maxSessions + 1)
	}

	sess := newSession(id, c, s.now)
	s.sessions[id] = sess
	return sess, nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Sweep drops every expired session and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *MemoryStore) RunSweeper(ctx context.Context, every time.Duration) {
	if s.ttl <= 0 || every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) expired(sess *Session, now time.Time) bool {
	return s.ttl > 0 && sess.idleSince(now) > s.ttl
}

func (s *MemoryStore) sweepLocked() int {
	if s.ttl <= 0 {
		return 0
	}
	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) evictOldestLocked(n int) {
	for ; n > 0 && len(s.sessions) > 0; n-- {
		var (
			oldestID string
			oldestAt time.Time
		)
		for id, sess := range s.sessions {
			if at := sess.UpdatedAt(); oldestID == "" || at.Before(oldestAt) {
				oldestID, oldestAt = id, at
			}
		}
		delete(s.sessions, oldestID)
	}
}
