package models

import "time"

// State is the discrete alertness classification of one analysis window.
type State string

const (
	StateOK         State = "OK"
	StateDrowsySoon State = "DROWSY_SOON"
	StateAsleep     State = "ASLEEP"
)

func (s State) Valid() bool {
	switch s {
	case StateOK, StateDrowsySoon, StateAsleep:
		return true
	}
	return false
}

// Severity orders states so that a higher value is more alarming.
func (s State) Severity() int {
	switch s {
	case StateAsleep:
		return 2
	case StateDrowsySoon:
		return 1
	}
	return 0
}

// AnalysisWindowResult is the signal snapshot returned by the analysis
// service for one window. Values are never mutated after they are cached.
type AnalysisWindowResult struct {
	TsEnd          time.Time `json:"ts_end"`
	SessionID      string    `json:"session_id,omitempty"`
	DriverID       string    `json:"driver_id,omitempty"`
	Perclos        float64   `json:"perclos"`
	PerclosPercent float64   `json:"perclos_percent"`
	EarThreshold   float64   `json:"ear_thresh_T"`
	PitchdownAvg   float64   `json:"pitchdown_avg"`
	PitchdownMax   float64   `json:"pitchdown_max"`
	DroopTime      float64   `json:"droop_time"`
	DroopDuty      float64   `json:"droop_duty"`
	PitchThreshold float64   `json:"pitch_thresh_Tp"`
	YawnCount      int       `json:"yawn_count"`
	YawnTime       float64   `json:"yawn_time"`
	YawnDuty       float64   `json:"yawn_duty"`
	YawnPeak       float64   `json:"yawn_peak"`
	Confidence     string    `json:"confidence"`
	FPS            float64   `json:"fps"`

	// Optional enrichment from the vitals and state collaborators. Missing
	// when the collaborator failed or is disabled.
	HeartRate   *float64     `json:"hr_bpm,omitempty"`
	HRV         *float64     `json:"hrv_rmssd_ms,omitempty"`
	RemoteState *RemoteState `json:"remote_state,omitempty"`
}

// RemoteState is the answer of the optional /v1/state classifier.
type RemoteState struct {
	State           string        `json:"state"`
	RiskScore       int           `json:"risk_score"`
	StateConfidence string        `json:"state_confidence"`
	Reasons         []StateReason `json:"reasons,omitempty"`
}

type StateReason struct {
	Signal    string      `json:"signal"`
	Value     interface{} `json:"value,omitempty"`
	Threshold interface{} `json:"threshold,omitempty"`
	Relation  string      `json:"relation"`
}

type Vitals struct {
	HeartRate float64 `json:"hr_bpm"`
	HRV       float64 `json:"hrv_rmssd_ms"`
}

type VideoInfo struct {
	Filename string  `json:"filename"`
	Duration float64 `json:"duration"`
	FPS      float64 `json:"fps,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Format   string  `json:"format"`
}

type ResetResponse struct {
	Success     bool   `json:"success"`
	RowsCleared int64  `json:"rows_cleared"`
	Warning     string `json:"warning,omitempty"`
}

// CachedResult is a ledger entry exposed to collaborators.
type CachedResult struct {
	Timestamp int                  `json:"timestamp"`
	Result    AnalysisWindowResult `json:"result"`
	CachedAt  time.Time            `json:"cached_at"`
	FromCache bool                 `json:"from_cache"`
}

type ClassifiedState struct {
	State  State  `json:"state"`
	Reason string `json:"reason"`
	Dimmed bool   `json:"dimmed"`
}

type Alert struct {
	ID            string    `json:"id"`
	Status        State     `json:"status"`
	Reason        string    `json:"reason"`
	StartedAt     time.Time `json:"started_at"`
	SecondsDrowsy int       `json:"seconds_drowsy"`
	TimeInterval  string    `json:"time_interval"`
}

// Window pairs a classified state with the ledger entry it came from.
type Window struct {
	Timestamp int                  `json:"timestamp"`
	Result    AnalysisWindowResult `json:"result"`
	State     ClassifiedState      `json:"state"`
	RiskScore int                  `json:"risk_score"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
	Code      string `json:"code,omitempty"`
}

type HealthStatus struct {
	Status          string `json:"status"`
	GoBackend       string `json:"go_backend"`
	AnalysisService bool   `json:"analysis_service"`
	Store           bool   `json:"store"`
	ActiveClients   int    `json:"active_clients"`
	SessionID       string `json:"session_id,omitempty"`
	Running         bool   `json:"running"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	Version         string `json:"version,omitempty"`
}
