package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"LUCID/go-backend/internal/database"
	"LUCID/go-backend/internal/models"
	"LUCID/go-backend/internal/monitor"
	"LUCID/go-backend/internal/scheduler"
	"LUCID/go-backend/internal/services"
	"LUCID/go-backend/internal/status"
)

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls []int
}

func (a *fakeAnalyzer) Analyze(_ context.Context, ts int, sessionID, driverID string) (models.AnalysisWindowResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, ts)
	a.mu.Unlock()
	if ts == 90 {
		return models.AnalysisWindowResult{}, errors.New("no frames")
	}
	return models.AnalysisWindowResult{
		SessionID:  sessionID,
		DriverID:   driverID,
		Perclos:    0.65,
		Confidence: "OK",
		FPS:        30,
	}, nil
}

type fakeVideo struct {
	info models.VideoInfo
	err  error
}

func (v fakeVideo) VideoInfo(context.Context) (models.VideoInfo, error) { return v.info, v.err }

type env struct {
	api    *API
	sched  *scheduler.Scheduler
	store  *database.Store
	server *httptest.Server
}

func newEnv(t *testing.T, adminHash string) *env {
	t.Helper()
	return newEnvWithConfig(t, adminHash, scheduler.Config{Interval: 30, DriverID: "driver-1"})
}

func newEnvWithConfig(t *testing.T, adminHash string, cfg scheduler.Config) *env {
	t.Helper()
	ctx := context.Background()
	store, err := database.Open(ctx, database.DriverSQLite, filepath.Join(t.TempDir(), "lucid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	metrics := services.NewMetrics()
	sched := scheduler.New(cfg, &fakeAnalyzer{}, store)
	sched.UseMetrics(metrics)
	hub := NewHub(10, metrics)
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

	api := &API{
		Monitor:   mon,
		Video:     fakeVideo{info: models.VideoInfo{Filename: "drive.mp4", Duration: 95}},
		Store:     store,
		Hub:       hub,
		Metrics:   metrics,
		AdminHash: adminHash,
		Version:   "test",
	}
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &env{api: api, sched: sched, store: store, server: srv}
}

// startSession opens a 90s schedule (calls at 30, 60 and 90) without the
// once-a-second tick loop, so only explicit requests reach the analyzer.
func (e *env) startSession(t *testing.T) string {
	t.Helper()
	id, err := e.sched.Start(context.Background(), 90)
	require.NoError(t, err)
	return id
}

func analyze(t *testing.T, e *env, ts string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.server.URL+"/api/windows/analyze?timestamp="+url.QueryEscape(ts), "", nil)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"90", 90, false},
		{"90.9", 90, false},
		{"1:30", 90, false},
		{"01:01:30", 3690, false},
		{" 45 ", 45, false},
		{"0", 0, true},
		{"0.5", 0, true},
		{"-10", 0, true},
		{"1:-30", 0, true},
		{"1:2:3:4", 0, true},
		{"abc", 0, true},
		{"1::2", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHealth(t *testing.T) {
	e := newEnv(t, "")
	resp, err := http.Get(e.server.URL + "/api/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var st models.HealthStatus
	decode(t, resp, &st)
	assert.Equal(t, "running", st.GoBackend)
	assert.True(t, st.Store)
	assert.Equal(t, "test", st.Version)
	assert.False(t, st.Running)
}

func TestMethodNotAllowed(t *testing.T) {
	e := newEnv(t, "")
	resp, err := http.Get(e.server.URL + "/api/session/start")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPreflight(t *testing.T) {
	e := newEnv(t, "")
	req, err := http.NewRequest(http.MethodOptions, e.server.URL+"/api/progress", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSessionStart(t *testing.T) {
	e := newEnv(t, "")

	resp, err := http.Post(e.server.URL+"/api/session/start", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body struct {
		SessionID     string          `json:"session_id"`
		VideoDuration float64         `json:"video_duration"`
		Progress      models.Progress `json:"progress"`
	}
	decode(t, resp, &body)
	assert.NotEmpty(t, body.SessionID)
	assert.Equal(t, 95.0, body.VideoDuration, "duration comes from the footage info")
	assert.Equal(t, 3, body.Progress.Total)

	resp, err = http.Post(e.server.URL+"/api/session/start", "application/json", strings.NewReader(`{"video_duration": 60}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSessionStartRejectsNegativeDuration(t *testing.T) {
	e := newEnv(t, "")
	resp, err := http.Post(e.server.URL+"/api/session/start", "application/json", strings.NewReader(`{"video_duration": -5}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionResetRequiresToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	e := newEnv(t, string(hash))
	before := e.sched.SessionID()

	post := func(token string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, e.server.URL+"/api/session/reset", nil)
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := post("")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post("wrong")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post("s3cret")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res scheduler.ResetResult
	decode(t, resp, &res)
	assert.Equal(t, before, res.PreviousSessionID)
	assert.NotEqual(t, before, res.SessionID)
}

func TestHashToken(t *testing.T) {
	hash, err := HashToken("token")
	require.NoError(t, err)
	api := &API{AdminHash: hash}

	req := httptest.NewRequest(http.MethodPost, "/api/session/reset", nil)
	req.Header.Set("Authorization", "Bearer token")
	assert.True(t, api.authorized(req))

	req.Header.Set("Authorization", "token")
	assert.False(t, api.authorized(req))
}

func TestAnalyzeWindow(t *testing.T) {
	e := newEnv(t, "")
	e.startSession(t)

	resp, err := http.PostForm(e.server.URL+"/api/windows/analyze", url.Values{"timestamp": {"1:00"}})
	require.NoError(t, err)
	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "dispatched", body["status"])
	e.sched.Wait()

	resp, err = http.Post(e.server.URL+"/api/windows/analyze", "application/json", strings.NewReader(`{"timestamp":"60"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cached models.CachedResult
	decode(t, resp, &cached)
	assert.True(t, cached.FromCache)
	assert.Equal(t, 60, cached.Timestamp)
	assert.Equal(t, 0.65, cached.Result.Perclos)

	resp = analyze(t, e, "abc")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyzeRejectsUnscheduledTimestamps(t *testing.T) {
	e := newEnv(t, "")

	resp := analyze(t, e, "30")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "no session started")

	e.startSession(t)
	for _, ts := range []string{"45", "0:45", "120", "1000000"} {
		resp := analyze(t, e, ts)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, ts)
	}
	e.sched.Wait()

	resp, err := http.Get(e.server.URL + "/api/progress")
	require.NoError(t, err)
	var p models.Progress
	decode(t, resp, &p)
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 90, p.StopThreshold)
}

func TestAnalyzeWindowExhausted(t *testing.T) {
	e := newEnv(t, "")
	e.startSession(t)
	for i := 0; i < 3; i++ {
		resp := analyze(t, e, "90")
		resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		e.sched.Wait()
	}

	resp := analyze(t, e, "90")
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAnalyzeDuringRetryDelay(t *testing.T) {
	e := newEnvWithConfig(t, "", scheduler.Config{Interval: 30, RetryDelay: time.Hour, DriverID: "driver-1"})
	e.startSession(t)

	resp := analyze(t, e, "90")
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	e.sched.Wait()

	resp = analyze(t, e, "90")
	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "retry_pending", body["status"])
	assert.EqualValues(t, 90, body["timestamp"])
}

func TestResultsTimelineAlertsAndMeasurements(t *testing.T) {
	e := newEnv(t, "")
	sid := e.startSession(t)
	resp := analyze(t, e, "30")
	resp.Body.Close()
	e.sched.Wait()

	resp, err := http.Get(e.server.URL + "/api/results")
	require.NoError(t, err)
	var results struct {
		Results []models.CachedResult `json:"results"`
	}
	decode(t, resp, &results)
	require.Len(t, results.Results, 1)

	resp, err = http.Get(e.server.URL + "/api/timeline")
	require.NoError(t, err)
	var tl models.Timeline
	decode(t, resp, &tl)
	require.Len(t, tl.Windows, 1)
	assert.Equal(t, models.StateAsleep, tl.Windows[0].State.State)

	resp, err = http.Get(e.server.URL + "/api/alerts")
	require.NoError(t, err)
	var alerts struct {
		Alerts []models.Alert `json:"alerts"`
	}
	decode(t, resp, &alerts)
	require.Len(t, alerts.Alerts, 1)
	assert.Equal(t, "00:00-00:30", alerts.Alerts[0].TimeInterval)

	resp, err = http.Get(e.server.URL + "/api/measurements?driver_id=driver-1")
	require.NoError(t, err)
	var m struct {
		Measurements []models.WindowRecord `json:"measurements"`
	}
	decode(t, resp, &m)
	require.Len(t, m.Measurements, 1)
	assert.Equal(t, 30, m.Measurements[0].Timestamp)
	assert.Equal(t, models.StateAsleep, m.Measurements[0].State)

	resp, err = http.Get(e.server.URL + "/api/measurements?limit=0")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(e.server.URL + "/api/status")
	require.NoError(t, err)
	var statusLog struct {
		SessionID string                `json:"session_id"`
		Statuses  []models.StatusRecord `json:"statuses"`
	}
	decode(t, resp, &statusLog)
	assert.Equal(t, sid, statusLog.SessionID)
	require.Len(t, statusLog.Statuses, 1)
	assert.Equal(t, models.StateAsleep, statusLog.Statuses[0].Status)
	assert.Equal(t, "driver-1", statusLog.Statuses[0].DriverID)

	resp, err = http.Get(e.server.URL + "/api/status?session_id=other&limit=5")
	require.NoError(t, err)
	decode(t, resp, &statusLog)
	assert.Equal(t, "other", statusLog.SessionID)
	assert.Empty(t, statusLog.Statuses)

	resp, err = http.Get(e.server.URL + "/api/status?limit=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t, "")
	e.startSession(t)
	resp := analyze(t, e, "30")
	resp.Body.Close()
	e.sched.Wait()

	resp, err := http.Get(e.server.URL + "/api/metrics")
	require.NoError(t, err)
	var m map[string]interface{}
	decode(t, resp, &m)
	assert.Contains(t, m, "active_clients")
	assert.Contains(t, m, "system_uptime_sec")
	assert.EqualValues(t, 1, m["total_dispatches"])
}
