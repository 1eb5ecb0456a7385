// Package monitor ties the call scheduler to classification, alerting and
// the outward sinks (store, websocket clients, desktop notifications).
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"LUCID/go-backend/internal/alerts"
	"LUCID/go-backend/internal/models"
	"LUCID/go-backend/internal/scheduler"
	"LUCID/go-backend/internal/services"
	"LUCID/go-backend/internal/status"
)

// Websocket message types.
const (
	MsgWindow         = "WINDOW"
	MsgAlert          = "ALERT"
	MsgCallFailed     = "CALL_FAILED"
	MsgSessionStarted = "SESSION_STARTED"
	MsgSessionReset   = "SESSION_RESET"
)

type Broadcaster interface {
	Broadcast(msgType string, data interface{})
}

type Notifier interface {
	Notify(ctx context.Context, alert models.Alert) error
}

type Store interface {
	SaveWindow(ctx context.Context, w models.WindowRecord) error
	SaveStatus(ctx context.Context, r models.StatusRecord) (models.StatusRecord, error)
}

type Options struct {
	Variant    string
	Thresholds status.Thresholds
	DriverID   string
	Store      Store
	Hub        Broadcaster
	Notifier   Notifier
	Metrics    *services.Metrics
}

type Monitor struct {
	sched    *scheduler.Scheduler
	variant  string
	driverID string
	store    Store
	hub      Broadcaster
	notifier Notifier
	metrics  *services.Metrics

	mu         sync.RWMutex
	thresholds status.Thresholds
	classifier status.Classifier

	ctx    context.Context
	cancel context.CancelFunc
	runWG  sync.WaitGroup
}

func New(sched *scheduler.Scheduler, opts Options) (*Monitor, error) {
	classifier, err := status.New(opts.Variant, opts.Thresholds)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		sched:      sched,
		variant:    opts.Variant,
		driverID:   opts.DriverID,
		store:      opts.Store,
		hub:        opts.Hub,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		thresholds: opts.Thresholds,
		classifier: classifier,
		ctx:        ctx,
		cancel:     cancel,
	}
	sched.Subscribe(m.onEvent)
	return m, nil
}

// SetThresholds swaps the threshold set used by every later classification.
func (m *Monitor) SetThresholds(th status.Thresholds) {
	classifier, err := status.New(m.variant, th)
	if err != nil {
		log.Printf("[Monitor] thresholds rejected: %v", err)
		return
	}
	m.mu.Lock()
	m.thresholds = th
	m.classifier = classifier
	m.mu.Unlock()
}

// WatchThresholds reloads the thresholds file on change until ctx ends.
func (m *Monitor) WatchThresholds(ctx context.Context, path string) error {
	return status.WatchThresholds(ctx, path, m.SetThresholds)
}

func (m *Monitor) current() (status.Classifier, status.Thresholds) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.classifier, m.thresholds
}

// Start opens a new session and runs its schedule in the background.
func (m *Monitor) Start(ctx context.Context, videoDuration float64) (string, error) {
	id, err := m.sched.Start(ctx, videoDuration)
	if err != nil {
		return "", err
	}
	m.runWG.Add(1)
	go func() {
		defer m.runWG.Done()
		if err := m.sched.Run(m.ctx); err != nil && m.ctx.Err() == nil {
			log.Printf("[Monitor] schedule for %s ended: %v", id, err)
		}
	}()
	m.broadcast(MsgSessionStarted, map[string]interface{}{
		"session_id":     id,
		"video_duration": videoDuration,
		"progress":       m.sched.Progress(),
	})
	return id, nil
}

func (m *Monitor) Reset(ctx context.Context) (scheduler.ResetResult, error) {
	res, err := m.sched.Reset(ctx)
	if err != nil {
		return res, err
	}
	m.broadcast(MsgSessionReset, res)
	return res, nil
}

func (m *Monitor) Dispatch(timestamp int) (models.CachedResult, bool, error) {
	return m.sched.Dispatch(timestamp)
}

func (m *Monitor) Progress() models.Progress { return m.sched.Progress() }

func (m *Monitor) Results() []models.CachedResult { return m.sched.Results() }

func (m *Monitor) SessionID() string { return m.sched.SessionID() }

func (m *Monitor) Running() bool { return m.sched.Running() }

// Timeline reclassifies every cached result in timestamp order, so late
// completions are always placed where they belong.
func (m *Monitor) Timeline() models.Timeline {
	results := m.sched.Results()
	classifier, th := m.current()

	windows := make([]models.Window, 0, len(results))
	history := make([]float64, 0, len(results))
	for _, r := range results {
		history = append(history, r.Result.Perclos)
		windows = append(windows, classify(classifier, th, r, history))
	}
	interval := m.sched.Interval()
	sessionID := m.sched.SessionID()
	return models.Timeline{
		SessionID: sessionID,
		Interval:  interval,
		Windows:   windows,
		Alerts:    alerts.Synthesize(windows, interval, sessionID, m.sched.StartedAt()),
	}
}

func (m *Monitor) Alerts() []models.Alert {
	return m.Timeline().Alerts
}

// Close stops the running schedule and waits for its loop to exit.
func (m *Monitor) Close() {
	m.cancel()
	m.sched.Close()
	m.runWG.Wait()
}

func classify(c status.Classifier, th status.Thresholds, r models.CachedResult, history []float64) models.Window {
	state := c.Classify(r.Result, history)
	return models.Window{
		Timestamp: r.Timestamp,
		Result:    r.Result,
		State:     state,
		RiskScore: status.RiskScore(r.Result, state.State, th),
	}
}

// onEvent runs outside the scheduler lock, so a Reset may have replaced the
// session since the event was produced. Such events are dropped.
func (m *Monitor) onEvent(ev scheduler.Event) {
	if m.stale(ev) {
		return
	}
	switch ev.Kind {
	case scheduler.EventCompleted:
		m.onCompleted(ev)
	case scheduler.EventFailed:
		m.broadcast(MsgCallFailed, map[string]interface{}{
			"session_id": ev.SessionID,
			"timestamp":  ev.Timestamp,
			"attempts":   ev.Attempts,
			"terminal":   ev.Terminal,
			"error":      ev.Err.Error(),
		})
	}
}

func (m *Monitor) onCompleted(ev scheduler.Event) {
	if ev.Result == nil {
		return
	}
	var history []float64
	for _, r := range m.sched.Results() {
		if r.Timestamp <= ev.Timestamp {
			history = append(history, r.Result.Perclos)
		}
	}
	classifier, th := m.current()
	w := classify(classifier, th, *ev.Result, history)

	if m.stale(ev) {
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
	defer cancel()

	m.persist(ctx, ev.SessionID, w)
	m.broadcast(MsgWindow, w)

	if w.State.State == models.StateOK {
		return
	}
	alert := alerts.FromWindow(w, m.sched.Interval(), ev.SessionID, m.sched.StartedAt())
	if m.metrics != nil {
		m.metrics.IncrementAlerts()
	}
	m.broadcast(MsgAlert, alert)
	if m.notifier != nil {
		if err := m.notifier.Notify(ctx, alert); err != nil {
			log.Printf("[Monitor] desktop notification failed: %v", err)
		}
	}
}

func (m *Monitor) stale(ev scheduler.Event) bool {
	if current := m.sched.SessionID(); ev.SessionID != current {
		log.Printf("[Monitor] dropping t=%d of session %s, current session is %s", ev.Timestamp, ev.SessionID, current)
		return true
	}
	return false
}

func (m *Monitor) persist(ctx context.Context, sessionID string, w models.Window) {
	if m.store == nil {
		return
	}
	driverID := w.Result.DriverID
	if driverID == "" {
		driverID = m.driverID
	}
	if err := m.store.SaveWindow(ctx, Record(sessionID, driverID, w)); err != nil {
		log.Printf("[Monitor] %v", err)
	}
	if _, err := m.store.SaveStatus(ctx, models.StatusRecord{
		SessionID: sessionID,
		DriverID:  driverID,
		Status:    w.State.State,
	}); err != nil {
		log.Printf("[Monitor] %v", err)
	}
}

func (m *Monitor) broadcast(msgType string, data interface{}) {
	if m.hub != nil {
		m.hub.Broadcast(msgType, data)
	}
}

// Record flattens a classified window into its store row.
func Record(sessionID, driverID string, w models.Window) models.WindowRecord {
	r := w.Result
	return models.WindowRecord{
		SessionID:    sessionID,
		DriverID:     driverID,
		Timestamp:    w.Timestamp,
		TsEnd:        r.TsEnd,
		Perclos:      r.Perclos,
		PitchdownAvg: r.PitchdownAvg,
		PitchdownMax: r.PitchdownMax,
		DroopTime:    r.DroopTime,
		DroopDuty:    r.DroopDuty,
		YawnCount:    r.YawnCount,
		YawnDuty:     r.YawnDuty,
		Confidence:   r.Confidence,
		FPS:          r.FPS,
		HeartRate:    r.HeartRate,
		HRV:          r.HRV,
		State:        w.State.State,
		Reason:       w.State.Reason,
		RiskScore:    w.RiskScore,
	}
}
