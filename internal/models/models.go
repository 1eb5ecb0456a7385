package models

import "time"

// WindowRecord is one stored analysis window in the external store.
type WindowRecord struct {
	SessionID    string    `json:"session_id"`
	DriverID     string    `json:"driver_id"`
	Timestamp    int       `json:"timestamp"`
	TsEnd        time.Time `json:"ts_end"`
	Perclos      float64   `json:"perclos"`
	PitchdownAvg float64   `json:"pitchdown_avg"`
	PitchdownMax float64   `json:"pitchdown_max"`
	DroopTime    float64   `json:"droop_time"`
	DroopDuty    float64   `json:"droop_duty"`
	YawnCount    int       `json:"yawn_count"`
	YawnDuty     float64   `json:"yawn_duty"`
	Confidence   string    `json:"confidence"`
	FPS          float64   `json:"fps"`
	HeartRate    *float64  `json:"hr_bpm,omitempty"`
	HRV          *float64  `json:"hrv_rmssd_ms,omitempty"`
	State        State     `json:"state"`
	Reason       string    `json:"reason"`
	RiskScore    int       `json:"risk_score"`
	CreatedAt    time.Time `json:"created_at"`
}

type StatusRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	DriverID  string    `json:"driver_id"`
	Status    State     `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type StartSessionRequest struct {
	VideoDuration *float64 `json:"video_duration,omitempty"`
}

type AnalyzeWindowRequest struct {
	Timestamp string `json:"timestamp"`
}

// Progress is what collaborators see of the schedule.
type Progress struct {
	SessionID      string          `json:"session_id"`
	Completed      int             `json:"completed"`
	Total          int             `json:"total"`
	Failed         int             `json:"failed"`
	ElapsedSeconds int             `json:"elapsed_seconds"`
	StopThreshold  int             `json:"stop_threshold"`
	Running        bool            `json:"running"`
	Pending        []ScheduledCall `json:"pending"`
}

// ScheduledCall is the exported view of one call in the schedule.
type ScheduledCall struct {
	Timestamp     int        `json:"timestamp"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}

type Timeline struct {
	SessionID string   `json:"session_id"`
	Interval  int      `json:"interval"`
	Windows   []Window `json:"windows"`
	Alerts    []Alert  `json:"alerts"`
}
