package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LUCID/go-backend/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "lucid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(session string, ts int, state models.State, created time.Time) models.WindowRecord {
	return models.WindowRecord{
		SessionID:  session,
		DriverID:   "driver-1",
		Timestamp:  ts,
		Perclos:    0.3,
		YawnCount:  1,
		Confidence: "OK",
		FPS:        30,
		State:      state,
		Reason:     "reason",
		RiskScore:  40,
		CreatedAt:  created,
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lucid.db")
	s, err := Open(context.Background(), DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), DriverSQLite, path)
	require.NoError(t, err)
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x")
	assert.Error(t, err)
}

func TestSaveAndListWindows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	hr := 58.5
	w := record("s1", 30, models.StateDrowsySoon, base)
	w.HeartRate = &hr
	w.TsEnd = base.Add(30 * time.Second)
	require.NoError(t, s.SaveWindow(ctx, w))
	require.NoError(t, s.SaveWindow(ctx, record("s1", 60, models.StateAsleep, base.Add(time.Minute))))
	require.NoError(t, s.SaveWindow(ctx, record("s2", 30, models.StateOK, base.Add(2*time.Minute))))

	got, err := s.ListWindows(ctx, WindowQuery{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 60, got[0].Timestamp, "newest first")
	assert.Equal(t, models.StateAsleep, got[0].State)
	assert.Nil(t, got[0].HeartRate)

	require.NotNil(t, got[1].HeartRate)
	assert.Equal(t, 58.5, *got[1].HeartRate)
	assert.True(t, w.TsEnd.Equal(got[1].TsEnd))
	assert.True(t, base.Equal(got[1].CreatedAt))

	all, err := s.ListWindows(ctx, WindowQuery{DriverID: "driver-1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSaveWindowUpserts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.SaveWindow(ctx, record("s1", 30, models.StateOK, now)))
	updated := record("s1", 30, models.StateAsleep, now)
	updated.Reason = "Eyes closed 65.0% of window (>= 60.0%)"
	require.NoError(t, s.SaveWindow(ctx, updated))

	got, err := s.ListWindows(ctx, WindowQuery{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.StateAsleep, got[0].State)
	assert.Contains(t, got[0].Reason, "65.0%")
}

func TestSaveWindowRequiresSession(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveWindow(context.Background(), record("", 30, models.StateOK, time.Now()))
	assert.ErrorIs(t, err, ErrEmptySession)
}

func TestStatusLog(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	saved, err := s.SaveStatus(ctx, models.StatusRecord{SessionID: "s1", DriverID: "d1", Status: models.StateAsleep})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	_, err = s.SaveStatus(ctx, models.StatusRecord{SessionID: "s1", Status: "SLEEPY"})
	assert.Error(t, err)

	got, err := s.ListStatuses(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, saved.ID, got[0].ID)
	assert.Equal(t, models.StateAsleep, got[0].Status)
}

func TestResetSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	for _, ts := range []int{30, 60, 90} {
		require.NoError(t, s.SaveWindow(ctx, record("s1", ts, models.StateOK, now)))
	}
	require.NoError(t, s.SaveWindow(ctx, record("s2", 30, models.StateOK, now)))
	_, err := s.SaveStatus(ctx, models.StatusRecord{SessionID: "s1", Status: models.StateOK})
	require.NoError(t, err)

	cleared, err := s.ResetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cleared)

	left, err := s.ListWindows(ctx, WindowQuery{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "s2", left[0].SessionID)

	statuses, err := s.ListStatuses(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, statuses)

	cleared, err = s.ResetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, cleared)

	_, err = s.ResetSession(ctx, "")
	assert.ErrorIs(t, err, ErrEmptySession)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}
