package scheduler

import (
	"errors"
	"fmt"
	"time"

	"LUCID/go-backend/internal/models"
)

var (
	ErrInvalidTransition = errors.New("invalid call status transition")
	ErrUnknownTimestamp  = errors.New("timestamp not in schedule")
	ErrNoSession         = errors.New("no active session")
	ErrAlreadyRunning    = errors.New("schedule already running")
	ErrRetriesExhausted  = errors.New("retries exhausted")
	ErrRetryPending      = errors.New("retry delay not elapsed")
)

// CallStatus is the lifecycle of one scheduled analysis call.
type CallStatus uint8

const (
	StatusPending CallStatus = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
)

func (s CallStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("CallStatus(%d)", uint8(s))
}

// ScheduledCall is one target timestamp of the session schedule.
type ScheduledCall struct {
	Timestamp     int
	Status        CallStatus
	Attempts      int
	LastAttemptAt *time.Time
}

// Terminal reports whether no further attempt will ever be made.
func (c ScheduledCall) Terminal(maxRetries int) bool {
	switch c.Status {
	case StatusCompleted:
		return true
	case StatusFailed:
		return c.Attempts >= maxRetries
	}
	return false
}

func (c ScheduledCall) View() models.ScheduledCall {
	return models.ScheduledCall{
		Timestamp:     c.Timestamp,
		Status:        c.Status.String(),
		Attempts:      c.Attempts,
		LastAttemptAt: c.LastAttemptAt,
	}
}

// checkTransition is the only place call status transitions are decided.
func checkTransition(c ScheduledCall, to CallStatus, maxRetries int) error {
	ok := false
	switch c.Status {
	case StatusPending:
		ok = to == StatusProcessing
	case StatusProcessing:
		ok = to == StatusCompleted || to == StatusFailed
	case StatusFailed:
		ok = to == StatusProcessing && c.Attempts < maxRetries
	case StatusCompleted:
		ok = false
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s at t=%d", ErrInvalidTransition, c.Status, to, c.Timestamp)
	}
	return nil
}
