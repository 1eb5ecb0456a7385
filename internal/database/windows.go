package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"LUCID/go-backend/internal/models"
)

// SaveWindow upserts one classified window; replaying a timestamp overwrites
// the previous row.
func (s *Store) SaveWindow(ctx context.Context, w models.WindowRecord) error {
	if w.SessionID == "" {
		return ErrEmptySession
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	var tsEnd interface{}
	if !w.TsEnd.IsZero() {
		tsEnd = ts(w.TsEnd)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO windows(session_id, ts, driver_id, ts_end, perclos, pitchdown_avg, pitchdown_max,
	droop_time, droop_duty, yawn_count, yawn_duty, confidence, fps, hr_bpm, hrv_rmssd_ms,
	state, reason, risk_score, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id, ts) DO UPDATE SET
	driver_id=excluded.driver_id,
	ts_end=excluded.ts_end,
	perclos=excluded.perclos,
	pitchdown_avg=excluded.pitchdown_avg,
	pitchdown_max=excluded.pitchdown_max,
	droop_time=excluded.droop_time,
	droop_duty=excluded.droop_duty,
	yawn_count=excluded.yawn_count,
	yawn_duty=excluded.yawn_duty,
	confidence=excluded.confidence,
	fps=excluded.fps,
	hr_bpm=excluded.hr_bpm,
	hrv_rmssd_ms=excluded.hrv_rmssd_ms,
	state=excluded.state,
	reason=excluded.reason,
	risk_score=excluded.risk_score,
	created_at=excluded.created_at`),
		w.SessionID, w.Timestamp, w.DriverID, tsEnd, w.Perclos, w.PitchdownAvg, w.PitchdownMax,
		w.DroopTime, w.DroopDuty, w.YawnCount, w.YawnDuty, w.Confidence, w.FPS,
		nullFloat(w.HeartRate), nullFloat(w.HRV),
		string(w.State), w.Reason, w.RiskScore, ts(w.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save window %s/%d: %w", w.SessionID, w.Timestamp, err)
	}
	return nil
}

// WindowQuery filters ListWindows. Session wins over driver; Limit <= 0
// means 100.
type WindowQuery struct {
	SessionID string
	DriverID  string
	Limit     int
}

// ListWindows returns the most recent windows first.
func (s *Store) ListWindows(ctx context.Context, q WindowQuery) ([]models.WindowRecord, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	query := `
SELECT session_id, ts, driver_id, ts_end, perclos, pitchdown_avg, pitchdown_max,
	droop_time, droop_duty, yawn_count, yawn_duty, confidence, fps, hr_bpm, hrv_rmssd_ms,
	state, reason, risk_score, created_at
FROM windows`
	var args []interface{}
	switch {
	case q.SessionID != "":
		query += ` WHERE session_id = ?`
		args = append(args, q.SessionID)
	case q.DriverID != "":
		query += ` WHERE driver_id = ?`
		args = append(args, q.DriverID)
	}
	query += ` ORDER BY created_at DESC, ts DESC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	defer rows.Close()

	var out []models.WindowRecord
	for rows.Next() {
		var (
			w         models.WindowRecord
			tsEnd     sql.NullString
			hr, hrv   sql.NullFloat64
			state     string
			createdAt string
		)
		if err := rows.Scan(&w.SessionID, &w.Timestamp, &w.DriverID, &tsEnd, &w.Perclos, &w.PitchdownAvg,
			&w.PitchdownMax, &w.DroopTime, &w.DroopDuty, &w.YawnCount, &w.YawnDuty, &w.Confidence, &w.FPS,
			&hr, &hrv, &state, &w.Reason, &w.RiskScore, &createdAt); err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		w.State = models.State(state)
		if tsEnd.Valid {
			if t, err := parseTS(tsEnd.String); err == nil {
				w.TsEnd = t
			}
		}
		if hr.Valid {
			v := hr.Float64
			w.HeartRate = &v
		}
		if hrv.Valid {
			v := hrv.Float64
			w.HRV = &v
		}
		if t, err := parseTS(createdAt); err == nil {
			w.CreatedAt = t
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// SaveStatus appends a status log row, assigning an id when missing.
func (s *Store) SaveStatus(ctx context.Context, r models.StatusRecord) (models.StatusRecord, error) {
	if !r.Status.Valid() {
		return r, fmt.Errorf("invalid status %q", r.Status)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO status_log(id, session_id, driver_id, status, created_at) VALUES (?, ?, ?, ?, ?)`),
		r.ID, r.SessionID, r.DriverID, string(r.Status), ts(r.CreatedAt))
	if err != nil {
		return r, fmt.Errorf("save status: %w", err)
	}
	return r, nil
}

func (s *Store) ListStatuses(ctx context.Context, sessionID string, limit int) ([]models.StatusRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, session_id, driver_id, status, created_at FROM status_log
WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`), sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	var out []models.StatusRecord
	for rows.Next() {
		var (
			r         models.StatusRecord
			status    string
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.DriverID, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		r.Status = models.State(status)
		if t, err := parseTS(createdAt); err == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResetSession deletes every window and status row of a session and reports
// how many windows were cleared.
func (s *Store) ResetSession(ctx context.Context, sessionID string) (int64, error) {
	if sessionID == "" {
		return 0, ErrEmptySession
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM windows WHERE session_id = ?`), sessionID)
	if err != nil {
		return 0, fmt.Errorf("clear windows: %w", err)
	}
	cleared, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM status_log WHERE session_id = ?`), sessionID); err != nil {
		return 0, fmt.Errorf("clear status log: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reset: %w", err)
	}
	return cleared, nil
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
