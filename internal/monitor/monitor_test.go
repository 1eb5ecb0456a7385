package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LUCID/go-backend/internal/models"
	"LUCID/go-backend/internal/scheduler"
	"LUCID/go-backend/internal/services"
	"LUCID/go-backend/internal/status"
)

var start = time.Date(2025, 6, 2, 7, 30, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = start.Add(d)
	return c.t
}

// signals maps timestamps to the window the fake service reports.
type signals map[int]models.AnalysisWindowResult

func (s signals) Analyze(_ context.Context, ts int, sessionID, driverID string) (models.AnalysisWindowResult, error) {
	r, ok := s[ts]
	if !ok {
		return models.AnalysisWindowResult{}, errors.New("no window")
	}
	r.SessionID = sessionID
	r.DriverID = driverID
	return r, nil
}

func win(perclos float64, yawns int) models.AnalysisWindowResult {
	return models.AnalysisWindowResult{Perclos: perclos, YawnCount: yawns, Confidence: "OK", FPS: 30}
}

type message struct {
	kind string
	data interface{}
}

type fakeHub struct {
	mu   sync.Mutex
	msgs []message
}

func (h *fakeHub) Broadcast(kind string, data interface{}) {
	h.mu.Lock()
	h.msgs = append(h.msgs, message{kind, data})
	h.mu.Unlock()
}

func (h *fakeHub) kinds() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, m := range h.msgs {
		out = append(out, m.kind)
	}
	return out
}

type fakeStore struct {
	mu       sync.Mutex
	windows  []models.WindowRecord
	statuses []models.StatusRecord
	resets   []string
}

func (s *fakeStore) SaveWindow(_ context.Context, w models.WindowRecord) error {
	s.mu.Lock()
	s.windows = append(s.windows, w)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) SaveStatus(_ context.Context, r models.StatusRecord) (models.StatusRecord, error) {
	s.mu.Lock()
	s.statuses = append(s.statuses, r)
	s.mu.Unlock()
	return r, nil
}

func (s *fakeStore) ResetSession(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, id)
	n := int64(len(s.windows))
	s.windows = nil
	return n, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (n *fakeNotifier) Notify(_ context.Context, a models.Alert) error {
	n.mu.Lock()
	n.alerts = append(n.alerts, a)
	n.mu.Unlock()
	return nil
}

type fixture struct {
	clock    *clock
	sched    *scheduler.Scheduler
	mon      *Monitor
	hub      *fakeHub
	store    *fakeStore
	notifier *fakeNotifier
}

func newFixture(t *testing.T, data signals) *fixture {
	t.Helper()
	c := &clock{t: start}
	store := &fakeStore{}
	sched := scheduler.New(scheduler.Config{
		Interval:   30,
		MinSamples: 3,
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
		DriverID:   "driver-1",
		Now:        c.Now,
	}, data, ResetChain{store})

	f := &fixture{clock: c, sched: sched, hub: &fakeHub{}, store: store, notifier: &fakeNotifier{}}
	mon, err := New(sched, Options{
		Variant:    status.VariantTiered,
		Thresholds: status.DefaultThresholds(),
		DriverID:   "driver-1",
		Store:      store,
		Hub:        f.hub,
		Notifier:   f.notifier,
		Metrics:    services.NewMetrics(),
	})
	require.NoError(t, err)
	f.mon = mon
	t.Cleanup(mon.Close)
	return f
}

func (f *fixture) runTo(t *testing.T, seconds int) {
	t.Helper()
	for s := 30; s <= seconds; s += 30 {
		f.sched.Tick(f.clock.set(time.Duration(s) * time.Second))
		f.sched.Wait()
	}
}

func TestCompletedWindowsFanOut(t *testing.T) {
	f := newFixture(t, signals{30: win(0.1, 0), 60: win(0.65, 0), 90: win(0.2, 0)})
	_, err := f.sched.Start(context.Background(), 90)
	require.NoError(t, err)

	f.runTo(t, 90)

	assert.Equal(t, []string{MsgWindow, MsgWindow, MsgAlert, MsgWindow}, f.hub.kinds())

	require.Len(t, f.store.windows, 3)
	assert.Equal(t, models.StateAsleep, f.store.windows[1].State)
	assert.Equal(t, "driver-1", f.store.windows[1].DriverID)
	assert.Contains(t, f.store.windows[1].Reason, "65.0%")
	require.Len(t, f.store.statuses, 3)

	require.Len(t, f.notifier.alerts, 1)
	alert := f.notifier.alerts[0]
	assert.Equal(t, models.StateAsleep, alert.Status)
	assert.Equal(t, "00:30-01:00", alert.TimeInterval)
	assert.Equal(t, 30, alert.SecondsDrowsy)
}

func TestTimeline(t *testing.T) {
	f := newFixture(t, signals{30: win(0.1, 0), 60: win(0.45, 1), 90: win(0.65, 0)})
	_, err := f.sched.Start(context.Background(), 90)
	require.NoError(t, err)
	f.runTo(t, 90)

	tl := f.mon.Timeline()
	assert.Equal(t, f.sched.SessionID(), tl.SessionID)
	assert.Equal(t, 30, tl.Interval)
	require.Len(t, tl.Windows, 3)
	assert.Equal(t, models.StateOK, tl.Windows[0].State.State)
	assert.Equal(t, models.StateDrowsySoon, tl.Windows[1].State.State)
	assert.Equal(t, models.StateAsleep, tl.Windows[2].State.State)
	assert.GreaterOrEqual(t, tl.Windows[2].RiskScore, 90)

	require.Len(t, tl.Alerts, 2)
	assert.Equal(t, "00:30-01:00", tl.Alerts[0].TimeInterval)
	assert.Equal(t, "01:00-01:30", tl.Alerts[1].TimeInterval)
	assert.Equal(t, start.Add(90*time.Second), tl.Alerts[1].StartedAt)

	assert.Equal(t, tl.Alerts, f.mon.Alerts())
}

func TestSetThresholdsAffectsLaterClassification(t *testing.T) {
	f := newFixture(t, signals{30: win(0.65, 0)})
	_, err := f.sched.Start(context.Background(), 30)
	require.NoError(t, err)
	f.runTo(t, 30)
	require.Equal(t, models.StateAsleep, f.mon.Timeline().Windows[0].State.State)

	th := status.DefaultThresholds()
	th.Tiered.PerclosAsleep = 0.7
	f.mon.SetThresholds(th)
	assert.Equal(t, models.StateDrowsySoon, f.mon.Timeline().Windows[0].State.State)
}

func TestFailedCallsAreBroadcast(t *testing.T) {
	f := newFixture(t, signals{})
	_, err := f.sched.Start(context.Background(), 30)
	require.NoError(t, err)
	f.runTo(t, 30)

	assert.Equal(t, []string{MsgCallFailed}, f.hub.kinds())
	assert.Empty(t, f.store.windows)
}

func TestResetClearsStoreAndBroadcasts(t *testing.T) {
	f := newFixture(t, signals{30: win(0.1, 0)})
	first, err := f.sched.Start(context.Background(), 30)
	require.NoError(t, err)
	f.runTo(t, 30)

	res, err := f.mon.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, res.PreviousSessionID)
	assert.NotEqual(t, first, res.SessionID)
	assert.Equal(t, int64(1), res.RowsCleared)
	assert.Contains(t, f.store.resets, first)
	assert.Contains(t, f.hub.kinds(), MsgSessionReset)
	assert.Empty(t, f.mon.Timeline().Windows)
}

func TestStartRunsSchedule(t *testing.T) {
	f := newFixture(t, signals{})
	id, err := f.mon.Start(context.Background(), 0)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, f.mon.Running())
	assert.Equal(t, MsgSessionStarted, f.hub.kinds()[0])
	assert.Equal(t, 3, f.mon.Progress().Total)

	_, err = f.mon.Start(context.Background(), 0)
	assert.ErrorIs(t, err, scheduler.ErrAlreadyRunning)
}

func TestDispatchServesCache(t *testing.T) {
	f := newFixture(t, signals{60: win(0.2, 0)})
	_, err := f.sched.Start(context.Background(), 90)
	require.NoError(t, err)

	_, started, err := f.mon.Dispatch(60)
	require.NoError(t, err)
	assert.True(t, started)
	f.sched.Wait()

	cached, started, err := f.mon.Dispatch(60)
	require.NoError(t, err)
	assert.False(t, started)
	assert.True(t, cached.FromCache)
	assert.Equal(t, 60, cached.Timestamp)

	_, _, err = f.mon.Dispatch(45)
	assert.ErrorIs(t, err, scheduler.ErrUnknownTimestamp)
}

func TestEventsOfReplacedSessionAreDropped(t *testing.T) {
	f := newFixture(t, signals{})
	first, err := f.sched.Start(context.Background(), 90)
	require.NoError(t, err)
	_, err = f.mon.Reset(context.Background())
	require.NoError(t, err)
	kinds := f.hub.kinds()

	late := models.CachedResult{Timestamp: 30, Result: win(0.9, 2)}
	f.mon.onEvent(scheduler.Event{Kind: scheduler.EventCompleted, SessionID: first, Timestamp: 30, Attempts: 1, Result: &late})
	f.mon.onEvent(scheduler.Event{Kind: scheduler.EventFailed, SessionID: first, Timestamp: 60, Attempts: 1, Err: errors.New("timeout")})

	assert.Equal(t, kinds, f.hub.kinds())
	assert.Empty(t, f.store.windows)
	assert.Empty(t, f.store.statuses)
	assert.Empty(t, f.notifier.alerts)
}

type countingResetter struct {
	n   int64
	err error
}

func (r countingResetter) ResetSession(context.Context, string) (int64, error) { return r.n, r.err }

func TestResetChain(t *testing.T) {
	n, err := ResetChain{countingResetter{n: 2}, nil, countingResetter{n: 3}}.ResetSession(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = ResetChain{countingResetter{err: errors.New("remote down")}, countingResetter{n: 4}}.ResetSession(context.Background(), "s")
	assert.ErrorContains(t, err, "remote down")
	assert.Equal(t, int64(4), n, "later targets still run")
}
