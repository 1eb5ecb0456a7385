// Package alerts turns classified windows into the chronological alert log.
package alerts

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"LUCID/go-backend/internal/models"
)

// namespace for deterministic alert ids
var alertNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("lucid:alert"))

// Synthesize emits one alert per non-OK window, in timestamp order. Adjacent
// alerts with the same state are kept; nothing is merged. startedAt is the
// session start and is only used when a window has no end timestamp.
func Synthesize(windows []models.Window, interval int, sessionID string, startedAt time.Time) []models.Alert {
	if interval <= 0 {
		return nil
	}
	sorted := make([]models.Window, len(windows))
	copy(sorted, windows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	out := make([]models.Alert, 0, len(sorted))
	for _, w := range sorted {
		if w.State.State == models.StateOK || !w.State.State.Valid() {
			continue
		}
		out = append(out, FromWindow(w, interval, sessionID, startedAt))
	}
	return out
}

// FromWindow builds the alert for a single window regardless of its state.
func FromWindow(w models.Window, interval int, sessionID string, startedAt time.Time) models.Alert {
	start, end := Bucket(w.Timestamp, interval)
	at := w.Result.TsEnd
	if at.IsZero() && !startedAt.IsZero() {
		at = startedAt.Add(time.Duration(w.Timestamp) * time.Second)
	}
	return models.Alert{
		ID:            ID(sessionID, w.Timestamp),
		Status:        w.State.State,
		Reason:        w.State.Reason,
		StartedAt:     at,
		SecondsDrowsy: interval,
		TimeInterval:  FormatInterval(start, end),
	}
}

// Bucket returns the [start, end) second range of the window ending at
// timestamp. Timestamps below one interval fall into the first bucket.
func Bucket(timestamp, interval int) (int, int) {
	b := timestamp / interval
	if b < 1 {
		b = 1
	}
	return (b - 1) * interval, b * interval
}

// FormatInterval renders MM:SS-MM:SS.
func FormatInterval(startSec, endSec int) string {
	return clock(startSec) + "-" + clock(endSec)
}

func clock(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

// ID is stable for a (session, timestamp) pair so replays and reconnecting
// clients see the same alert.
func ID(sessionID string, timestamp int) string {
	return uuid.NewSHA1(alertNamespace, []byte(sessionID+"/"+strconv.Itoa(timestamp))).String()
}
