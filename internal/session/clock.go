package session

import (
	"time"

	"github.com/google/uuid"
)

// Now returns the current wall-clock time. Injected so tests can drive time.
type Now func() time.Time

// Clock is the single source of wall-clock truth for one monitoring session.
// A reset never mutates a Clock; it creates a new one with a fresh ID.
type Clock struct {
	ID            string
	StartedAt     time.Time
	LastSuccessAt *time.Time
}

func New(startedAt time.Time) *Clock {
	return &Clock{
		ID:        uuid.NewString(),
		StartedAt: startedAt,
	}
}

// Elapsed returns whole seconds since the session started, never negative.
func (c *Clock) Elapsed(now time.Time) int {
	d := now.Sub(c.StartedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

func (c *Clock) MarkSuccess(at time.Time) {
	c.LastSuccessAt = &at
}

// SinceLastSuccess returns seconds since the last successful call, or -1
// when nothing has succeeded yet.
func (c *Clock) SinceLastSuccess(now time.Time) int {
	if c.LastSuccessAt == nil {
		return -1
	}
	d := now.Sub(*c.LastSuccessAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
