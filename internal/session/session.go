package session

import (
	"sync"
	"time"

	"github.com/Brownie44l1/digit-api/internal/canvas"
	"github.com/Brownie44l1/digit-api/internal/model"
)

// Session pairs one drawing surface with the result currently on display.
type Session struct {
	ID     string
	Canvas *canvas.Canvas

	now       func() time.Time
	mu        sync.Mutex
	last      *model.Result
	updatedAt time.Time
}

func newSession(id string, c *canvas.Canvas, now func() time.Time) *Session {
	return &Session{ID: id, Canvas: c, now: now, updatedAt: now()}
}

// Show records r as the displayed result.
func (s *Session) Show(r *model.Result) {
	s.mu.Lock()
	s.last = r
	s.updatedAt = s.now()
	s.mu.Unlock()
}

// Last returns the displayed result, or nil when nothing is shown.
func (s *Session) Last() *model.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// UpdatedAt is the last time the session was looked up or changed. The store
// evicts by it.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Reset clears both the drawing and the displayed result.
func (s *Session) Reset() {
	s.Canvas.Reset()
	s.mu.Lock()
	s.last = nil
	s.updatedAt = s.now()
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.updatedAt = s.now()
	s.mu.Unlock()
}

func (s *Session) idleSince(t time.Time) time.Duration {
	return t.Sub(s.UpdatedAt())
}
