package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"LUCID/go-backend/internal/database"
	"LUCID/go-backend/internal/handlers"
	"LUCID/go-backend/internal/models"
	"LUCID/go-backend/internal/monitor"
	"LUCID/go-backend/internal/scheduler"
	"LUCID/go-backend/internal/services"
	"LUCID/go-backend/internal/status"
)

type drowsyAnalyzer struct{}

func (drowsyAnalyzer) Analyze(_ context.Context, ts int, sessionID, driverID string) (models.AnalysisWindowResult, error) {
	perclos := 0.1
	if ts >= 60 {
		perclos = 0.7
	}
	return models.AnalysisWindowResult{
		SessionID:  sessionID,
		DriverID:   driverID,
		Perclos:    perclos,
		Confidence: "OK",
		FPS:        30,
	}, nil
}

type stack struct {
	url   string
	sched *scheduler.Scheduler
	hub   *handlers.Hub
}

func newStack(t *testing.T, adminHash string) *stack {
	t.Helper()
	store, err := database.Open(context.Background(), database.DriverSQLite, filepath.Join(t.TempDir(), "lucid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	metrics := services.NewMetrics()
	sched := scheduler.New(scheduler.Config{Interval: 30, DriverID: "driver-1"}, drowsyAnalyzer{}, store)
	hub := handlers.NewHub(0, metrics)
	mon, err := monitor.New(sched, monitor.Options{
		Variant:    status.VariantTiered,
		Thresholds: status.DefaultThresholds(),
		DriverID:   "driver-1",
		Store:      store,
		Hub:        hub,
		Metrics:    metrics,
	})
	require.NoError(t, err)
	t.Cleanup(mon.Close)

	api := &handlers.API{Monitor: mon, Store: store, Hub: hub, Metrics: metrics, AdminHash: adminHash, Version: "test"}
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &stack{url: srv.URL, sched: sched, hub: hub}
}

func run(t *testing.T, s *stack, args ...string) (string, error) {
	t.Helper()
	root := NewRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--server", s.url}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestStatusAndStart(t *testing.T) {
	s := newStack(t, "")

	out, err := run(t, s, "start", "--duration", "90")
	require.NoError(t, err)
	assert.Contains(t, out, "3 windows over 90s")

	out, err = run(t, s, "status")
	require.NoError(t, err)
	assert.Contains(t, out, s.sched.SessionID())
	assert.Contains(t, out, "0/3")
	assert.Contains(t, out, "running")

	_, err = run(t, s, "start")
	assert.ErrorContains(t, err, "already running")
}

func TestAnalyzeTimelineAlerts(t *testing.T) {
	s := newStack(t, "")

	_, err := run(t, s, "analyze", "1:00")
	assert.ErrorContains(t, err, "timestamp not in schedule")

	_, err = s.sched.Start(context.Background(), 90)
	require.NoError(t, err)
	out, err := run(t, s, "analyze", "1:00")
	require.NoError(t, err)
	assert.Contains(t, out, "t=60 dispatched")
	s.sched.Wait()

	out, err = run(t, s, "analyze", "60")
	require.NoError(t, err)
	assert.Contains(t, out, "already analysed")

	out, err = run(t, s, "timeline")
	require.NoError(t, err)
	assert.Contains(t, out, "01:00")
	assert.Contains(t, out, "ASLEEP")

	out, err = run(t, s, "alerts")
	require.NoError(t, err)
	assert.Contains(t, out, "00:30-01:00")

	out, err = run(t, s, "measurements", "--driver", "driver-1")
	require.NoError(t, err)
	assert.Contains(t, out, "t=60")

	out, err = run(t, s, "history")
	require.NoError(t, err)
	assert.Contains(t, out, s.sched.SessionID())
	assert.Contains(t, out, "ASLEEP")

	out, err = run(t, s, "history", "--session", "gone")
	require.NoError(t, err)
	assert.Contains(t, out, "no statuses recorded")

	_, err = run(t, s, "analyze", "soon")
	assert.Error(t, err)
}

func TestResetUsesToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	require.NoError(t, err)
	s := newStack(t, string(hash))
	before := s.sched.SessionID()

	_, err = run(t, s, "reset")
	assert.ErrorContains(t, err, "Unauthorized")

	out, err := run(t, s, "--token", "letmein", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, before+" -> ")
	assert.NotEqual(t, before, s.sched.SessionID())
}

func TestHashTokenCommand(t *testing.T) {
	root := NewRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"hash-token", "secret"})
	require.NoError(t, root.Execute())

	hash := bytes.TrimSpace(out.Bytes())
	assert.NoError(t, bcrypt.CompareHashAndPassword(hash, []byte("secret")))
}

func TestSmoke(t *testing.T) {
	s := newStack(t, "")
	var out bytes.Buffer
	err := runSmoke(newBackend(s.url, ""), &out, 30, 5*time.Second)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "All checks passed")
	assert.Contains(t, out.String(), "started with 3 windows")
	assert.True(t, s.sched.Running())
	assert.Contains(t, out.String(), "PERCLOS: 0.100")
}

func TestRender(t *testing.T) {
	w := models.Window{Timestamp: 90, State: models.ClassifiedState{State: models.StateAsleep, Reason: "Eyes closed 70.0% of window (>= 60.0%)"}}
	line := render(handlers.WebSocketMessage{Type: monitor.MsgWindow, Payload: w, Timestamp: time.Now().Unix()})
	assert.Contains(t, line, "01:30")
	assert.Contains(t, line, "ASLEEP")
	assert.Contains(t, line, "Eyes closed")

	line = render(handlers.WebSocketMessage{Type: monitor.MsgCallFailed, Payload: map[string]interface{}{"timestamp": 30, "error": "boom"}})
	assert.Contains(t, line, "boom")

	assert.Empty(t, render(handlers.WebSocketMessage{Type: "PONG"}))
}

func TestWSURL(t *testing.T) {
	u, err := newBackend("https://monitor.local:8443/lucid/", "").wsURL("dash")
	require.NoError(t, err)
	assert.Equal(t, "wss://monitor.local:8443/lucid/ws?clientId=dash", u)
}
