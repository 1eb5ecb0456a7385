package services

import (
	"encoding/json"
	"strings"
	"time"

	"LUCID/go-backend/internal/models"
)

// windowWire is the /api/window body. Depending on the window length the
// service suffixes the signal fields with _30s or _15s; both are accepted and
// the 30 second variant wins when a body carries both.
type windowWire struct {
	TsEnd          flexTime `json:"ts_end"`
	SessionID      string   `json:"session_id"`
	DriverID       string   `json:"driver_id"`
	PerclosPercent float64  `json:"PERCLOS"`
	EarThreshold   float64  `json:"ear_thresh_T"`
	PitchThreshold float64  `json:"pitch_thresh_Tp"`
	Confidence     string   `json:"confidence"`
	FPS            float64  `json:"fps"`

	Perclos30      *float64 `json:"perclos_30s"`
	PitchdownAvg30 *float64 `json:"pitchdown_avg_30s"`
	PitchdownMax30 *float64 `json:"pitchdown_max_30s"`
	DroopTime30    *float64 `json:"droop_time_30s"`
	DroopDuty30    *float64 `json:"droop_duty_30s"`
	YawnCount30    *int     `json:"yawn_count_30s"`
	YawnTime30     *float64 `json:"yawn_time_30s"`
	YawnDuty30     *float64 `json:"yawn_duty_30s"`
	YawnPeak30     *float64 `json:"yawn_peak_30s"`

	Perclos15      *float64 `json:"perclos_15s"`
	PitchdownAvg15 *float64 `json:"pitchdown_avg_15s"`
	PitchdownMax15 *float64 `json:"pitchdown_max_15s"`
	DroopTime15    *float64 `json:"droop_time_15s"`
	DroopDuty15    *float64 `json:"droop_duty_15s"`
	YawnCount15    *int     `json:"yawn_count_15s"`
	YawnTime15     *float64 `json:"yawn_time_15s"`
	YawnDuty15     *float64 `json:"yawn_duty_15s"`
	YawnPeak15     *float64 `json:"yawn_peak_15s"`
}

func (w windowWire) result() models.AnalysisWindowResult {
	r := models.AnalysisWindowResult{
		TsEnd:          time.Time(w.TsEnd),
		SessionID:      w.SessionID,
		DriverID:       w.DriverID,
		PerclosPercent: w.PerclosPercent,
		EarThreshold:   w.EarThreshold,
		PitchThreshold: w.PitchThreshold,
		Confidence:     w.Confidence,
		FPS:            w.FPS,
		Perclos:        pick(w.Perclos30, w.Perclos15),
		PitchdownAvg:   pick(w.PitchdownAvg30, w.PitchdownAvg15),
		PitchdownMax:   pick(w.PitchdownMax30, w.PitchdownMax15),
		DroopTime:      pick(w.DroopTime30, w.DroopTime15),
		DroopDuty:      pick(w.DroopDuty30, w.DroopDuty15),
		YawnCount:      pick(w.YawnCount30, w.YawnCount15),
		YawnTime:       pick(w.YawnTime30, w.YawnTime15),
		YawnDuty:       pick(w.YawnDuty30, w.YawnDuty15),
		YawnPeak:       pick(w.YawnPeak30, w.YawnPeak15),
	}
	// older builds only send the percentage
	if w.Perclos30 == nil && w.Perclos15 == nil && w.PerclosPercent > 0 {
		r.Perclos = w.PerclosPercent / 100
	}
	return r
}

func pick[T any](primary, fallback *T) T {
	if primary != nil {
		return *primary
	}
	if fallback != nil {
		return *fallback
	}
	var zero T
	return zero
}

// stateRequest mirrors what /v1/state expects.
type stateRequest struct {
	TsEnd          string  `json:"ts_end"`
	SessionID      string  `json:"session_id"`
	DriverID       string  `json:"driver_id"`
	Perclos        float64 `json:"perclos_15s"`
	EarThreshold   float64 `json:"ear_thresh_T"`
	PitchdownAvg   float64 `json:"pitchdown_avg_15s"`
	PitchdownMax   float64 `json:"pitchdown_max_15s"`
	DroopTime      float64 `json:"droop_time_15s"`
	DroopDuty      float64 `json:"droop_duty_15s"`
	PitchThreshold float64 `json:"pitch_thresh_Tp"`
	YawnCount      int     `json:"yawn_count_15s"`
	YawnTime       float64 `json:"yawn_time_15s"`
	YawnDuty       float64 `json:"yawn_duty_15s"`
	YawnPeak       float64 `json:"yawn_peak_15s"`
	Confidence     string  `json:"confidence"`
	FPS            float64 `json:"fps"`
}

// flexTime accepts RFC 3339 as well as the naive ISO timestamps the service
// emits when the video carries no timezone.
type flexTime time.Time

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *flexTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*t = flexTime{}
		return nil
	}
	var lastErr error
	for _, layout := range isoLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			*t = flexTime(parsed)
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func isoTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.Format(time.RFC3339Nano)
}
