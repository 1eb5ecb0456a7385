package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"LUCID/go-backend/internal/database"
	"LUCID/go-backend/internal/models"
	"LUCID/go-backend/internal/scheduler"
	"LUCID/go-backend/internal/services"
)

// Controller is the session surface the API drives.
type Controller interface {
	Start(ctx context.Context, videoDuration float64) (string, error)
	Reset(ctx context.Context) (scheduler.ResetResult, error)
	Dispatch(timestamp int) (models.CachedResult, bool, error)
	Progress() models.Progress
	Results() []models.CachedResult
	Timeline() models.Timeline
	Alerts() []models.Alert
	SessionID() string
	Running() bool
}

type VideoSource interface {
	VideoInfo(ctx context.Context) (models.VideoInfo, error)
}

type Measurements interface {
	ListWindows(ctx context.Context, q database.WindowQuery) ([]models.WindowRecord, error)
	ListStatuses(ctx context.Context, sessionID string, limit int) ([]models.StatusRecord, error)
	Ping(ctx context.Context) error
}

type API struct {
	Monitor     Controller
	Video       VideoSource
	Store       Measurements
	Hub         *Hub
	Health      *HealthReporter
	Metrics     *services.Metrics
	AdminHash   string
	CORSOrigins string
	Version     string

	started time.Time
}

func (a *API) Routes() *http.ServeMux {
	a.started = time.Now()
	if a.Metrics == nil {
		a.Metrics = services.GetMetrics()
	}

	mux := http.NewServeMux()
	if a.Hub != nil {
		mux.HandleFunc("/ws", a.Hub.ServeWS)
	}
	mux.HandleFunc("/api/health", a.cors(a.handleHealth))
	mux.HandleFunc("/api/metrics", a.cors(a.handleMetrics))
	mux.HandleFunc("/api/session/start", a.cors(a.handleSessionStart))
	mux.HandleFunc("/api/session/reset", a.cors(a.handleSessionReset))
	mux.HandleFunc("/api/progress", a.cors(a.handleProgress))
	mux.HandleFunc("/api/results", a.cors(a.handleResults))
	mux.HandleFunc("/api/timeline", a.cors(a.handleTimeline))
	mux.HandleFunc("/api/alerts", a.cors(a.handleAlerts))
	mux.HandleFunc("/api/windows/analyze", a.cors(a.handleAnalyze))
	mux.HandleFunc("/api/measurements", a.cors(a.handleMeasurements))
	mux.HandleFunc("/api/status", a.cors(a.handleStatusLog))
	return mux
}

func (a *API) cors(next http.HandlerFunc) http.HandlerFunc {
	origin := a.CORSOrigins
	if origin == "" {
		origin = "*"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, models.ErrorResponse{Error: msg, Timestamp: time.Now().Unix()})
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	st := models.HealthStatus{
		Status:        "healthy",
		GoBackend:     "running",
		SessionID:     a.Monitor.SessionID(),
		Running:       a.Monitor.Running(),
		UptimeSeconds: int64(time.Since(a.started).Seconds()),
		Version:       a.Version,
	}
	if a.Hub != nil {
		st.ActiveClients = a.Hub.Count()
	}
	if a.Health != nil {
		st.AnalysisService = a.Health.Serving()
	}
	if a.Store != nil {
		st.Store = a.Store.Ping(r.Context()) == nil
	}
	if !st.AnalysisService || !st.Store {
		st.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	out := a.Metrics.Snapshot()
	if a.Hub != nil {
		out["active_clients"] = a.Hub.Count()
	}
	out["system_uptime_sec"] = int64(time.Since(a.started).Seconds())
	out["timestamp"] = time.Now().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req models.StartSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}
	}

	duration := 0.0
	if req.VideoDuration != nil {
		duration = *req.VideoDuration
	} else if a.Video != nil {
		info, err := a.Video.VideoInfo(r.Context())
		if err != nil {
			log.Printf("/api/session/start - video info unavailable, using minimum schedule: %v", err)
		} else {
			duration = info.Duration
		}
	}
	if duration < 0 {
		writeError(w, http.StatusBadRequest, "video_duration must not be negative")
		return
	}

	id, err := a.Monitor.Start(r.Context(), duration)
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, "A session is already running")
		return
	}
	if err != nil {
		log.Printf("/api/session/start - %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to start session")
		return
	}
	log.Printf("/api/session/start - session %s, duration %.1fs", id, duration)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id":     id,
		"video_duration": duration,
		"progress":       a.Monitor.Progress(),
	})
}

func (a *API) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if !a.authorized(r) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	res, err := a.Monitor.Reset(r.Context())
	if err != nil {
		log.Printf("/api/session/reset - %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to reset session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":             true,
		"previous_session_id": res.PreviousSessionID,
		"session_id":          res.SessionID,
		"rows_cleared":        res.RowsCleared,
	})
}

// authorized checks the bearer token against the configured bcrypt hash.
// Without a hash every caller is allowed.
func (a *API) authorized(r *http.Request) bool {
	if a.AdminHash == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.AdminHash), []byte(token)) == nil
}

// HashToken produces the value expected in ADMIN_TOKEN_HASH.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (a *API) handleProgress(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, a.Monitor.Progress())
}

func (a *API) handleResults(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": a.Monitor.SessionID(),
		"results":    a.Monitor.Results(),
	})
}

func (a *API) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, a.Monitor.Timeline())
}

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": a.Monitor.SessionID(),
		"alerts":     a.Monitor.Alerts(),
	})
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	raw := r.URL.Query().Get("timestamp")
	if raw == "" {
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var req models.AnalyzeWindowRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid request")
				return
			}
			raw = req.Timestamp
		} else {
			raw = r.FormValue("timestamp")
		}
	}

	ts, err := ParseTimestamp(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cached, started, err := a.Monitor.Dispatch(ts)
	switch {
	case errors.Is(err, scheduler.ErrRetriesExhausted):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, scheduler.ErrUnknownTimestamp):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, scheduler.ErrRetryPending):
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"timestamp": ts,
			"status":    "retry_pending",
		})
		return
	case err != nil:
		log.Printf("/api/windows/analyze - %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to dispatch analysis")
		return
	}

	if cached.FromCache {
		writeJSON(w, http.StatusOK, cached)
		return
	}
	state := "processing"
	if started {
		state = "dispatched"
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"timestamp": ts,
		"status":    state,
	})
}

func queryLimit(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 100, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 1000 {
		return 0, false
	}
	return n, true
}

func (a *API) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	q := database.WindowQuery{
		SessionID: r.URL.Query().Get("session_id"),
		DriverID:  r.URL.Query().Get("driver_id"),
	}
	limit, ok := queryLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}
	q.Limit = limit

	measurements := []models.WindowRecord{}
	if a.Store != nil {
		rows, err := a.Store.ListWindows(r.Context(), q)
		if err != nil {
			log.Printf("/api/measurements - %v", err)
		} else if rows != nil {
			measurements = rows
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"measurements": measurements})
}

// handleStatusLog lists the classified states recorded for a session, newest
// first. The current session is used when session_id is omitted.
func (a *API) handleStatusLog(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = a.Monitor.SessionID()
	}
	limit, ok := queryLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}

	statuses := []models.StatusRecord{}
	if a.Store != nil {
		rows, err := a.Store.ListStatuses(r.Context(), sessionID, limit)
		if err != nil {
			log.Printf("/api/status - %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to load status log")
			return
		}
		if rows != nil {
			statuses = rows
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"statuses":   statuses,
	})
}
