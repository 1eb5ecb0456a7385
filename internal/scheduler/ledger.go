package scheduler

import (
	"fmt"
	"sort"
	"time"

	"LUCID/go-backend/internal/models"
)

type entry struct {
	call   ScheduledCall
	result *models.CachedResult
}

// Ledger is the per-session record of every scheduled call and its outcome.
// A completed call always carries its cached result, so "completed" and
// "cached" can never disagree. Not safe for concurrent use; the scheduler
// guards it.
type Ledger struct {
	sessionID  string
	maxRetries int
	order      []int
	entries    map[int]*entry
}

func NewLedger(sessionID string, timestamps []int, maxRetries int) *Ledger {
	l := &Ledger{
		sessionID:  sessionID,
		maxRetries: maxRetries,
		entries:    make(map[int]*entry, len(timestamps)),
	}
	for _, ts := range timestamps {
		l.ensure(ts)
	}
	return l
}

func (l *Ledger) SessionID() string { return l.sessionID }

// ensure adds a Pending call for ts when the ledger has none.
func (l *Ledger) ensure(ts int) {
	if _, ok := l.entries[ts]; ok {
		return
	}
	l.entries[ts] = &entry{call: ScheduledCall{Timestamp: ts, Status: StatusPending}}
	i := sort.SearchInts(l.order, ts)
	l.order = append(l.order, 0)
	copy(l.order[i+1:], l.order[i:])
	l.order[i] = ts
}

func (l *Ledger) Call(ts int) (ScheduledCall, bool) {
	e, ok := l.entries[ts]
	if !ok {
		return ScheduledCall{}, false
	}
	return e.call, true
}

func (l *Ledger) Cached(ts int) (models.CachedResult, bool) {
	e, ok := l.entries[ts]
	if !ok || e.result == nil {
		return models.CachedResult{}, false
	}
	return *e.result, true
}

// settled reports whether a request for ts must be short-circuited.
func (l *Ledger) settled(ts int) bool {
	e, ok := l.entries[ts]
	if !ok {
		return false
	}
	return e.result != nil || e.call.Status == StatusCompleted
}

// eligible reports whether ts may be dispatched at now.
func (l *Ledger) eligible(ts int, now time.Time, retryDelay time.Duration) bool {
	e, ok := l.entries[ts]
	if !ok || l.settled(ts) {
		return false
	}
	switch e.call.Status {
	case StatusPending:
		return true
	case StatusFailed:
		if e.call.Attempts >= l.maxRetries {
			return false
		}
		return e.call.LastAttemptAt == nil || now.Sub(*e.call.LastAttemptAt) >= retryDelay
	}
	return false
}

func (l *Ledger) begin(ts int, now time.Time) error {
	e, ok := l.entries[ts]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTimestamp, ts)
	}
	if err := checkTransition(e.call, StatusProcessing, l.maxRetries); err != nil {
		return err
	}
	e.call.Status = StatusProcessing
	e.call.Attempts++
	e.call.LastAttemptAt = &now
	return nil
}

func (l *Ledger) complete(ts int, result models.AnalysisWindowResult, now time.Time) (models.CachedResult, error) {
	e, ok := l.entries[ts]
	if !ok {
		return models.CachedResult{}, fmt.Errorf("%w: %d", ErrUnknownTimestamp, ts)
	}
	if err := checkTransition(e.call, StatusCompleted, l.maxRetries); err != nil {
		return models.CachedResult{}, err
	}
	e.call.Status = StatusCompleted
	e.result = &models.CachedResult{
		Timestamp: ts,
		Result:    result,
		CachedAt:  now,
	}
	return *e.result, nil
}

// fail records a failed attempt and reports whether it was the last one.
func (l *Ledger) fail(ts int) (terminal bool, err error) {
	e, ok := l.entries[ts]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownTimestamp, ts)
	}
	if err := checkTransition(e.call, StatusFailed, l.maxRetries); err != nil {
		return false, err
	}
	e.call.Status = StatusFailed
	return e.call.Attempts >= l.maxRetries, nil
}

// Calls returns every call in timestamp order.
func (l *Ledger) Calls() []ScheduledCall {
	out := make([]ScheduledCall, 0, len(l.order))
	for _, ts := range l.order {
		out = append(out, l.entries[ts].call)
	}
	return out
}

// Results returns cached results sorted by timestamp, whatever order the
// requests completed in.
func (l *Ledger) Results() []models.CachedResult {
	out := make([]models.CachedResult, 0, len(l.order))
	for _, ts := range l.order {
		if r := l.entries[ts].result; r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (l *Ledger) allCompleted() bool {
	for _, ts := range l.order {
		if l.entries[ts].call.Status != StatusCompleted {
			return false
		}
	}
	return true
}

func (l *Ledger) counts() (completed, failed int) {
	for _, ts := range l.order {
		c := l.entries[ts].call
		switch {
		case c.Status == StatusCompleted:
			completed++
		case c.Status == StatusFailed && c.Attempts >= l.maxRetries:
			failed++
		}
	}
	return completed, failed
}
