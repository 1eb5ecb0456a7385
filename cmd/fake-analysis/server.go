package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// stub answers the analysis endpoints with synthetic signals. The same seed,
// session and timestamp always produce the same window.
type stub struct {
	seed     uint64
	duration float64
	suffix   string
	failRate float64
	latency  time.Duration
	start    time.Time

	mu     sync.Mutex
	served map[string]int64
	rng    *rand.Rand
}

func newStub(seed uint64, duration float64, suffix string) *stub {
	return &stub{
		seed:     seed,
		duration: duration,
		suffix:   suffix,
		start:    time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC),
		served:   make(map[string]int64),
		rng:      rand.New(rand.NewPCG(seed, 0)),
	}
}

func (s *stub) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/window", s.handleWindow)
	mux.HandleFunc("/v1/state", s.handleState)
	mux.HandleFunc("/v1/sim/vitals", s.handleVitals)
	mux.HandleFunc("/api/session/reset", s.handleReset)
	mux.HandleFunc("/api/footage/info", s.handleInfo)
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func detail(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"detail": msg})
}

// flaky reports whether this request should fail with a 503.
func (s *stub) flaky() bool {
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	if s.failRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.failRate
}

// drowsiness is the underlying 0..1 level at second t: alert at the start,
// a slow drift into fatigue, a brief recovery, then sleep.
func (s *stub) drowsiness(t float64) float64 {
	span := s.duration
	if span <= 0 {
		span = 300
	}
	x := t / span
	level := 0.15 + 0.75*x*x + 0.1*math.Sin(2*math.Pi*3*x)
	return clamp01(level)
}

func (s *stub) window(sessionID string, ts int) map[string]interface{} {
	r := rand.New(rand.NewPCG(s.seed, uint64(ts)))
	level := s.drowsiness(float64(ts))
	noise := func(scale float64) float64 { return (r.Float64()*2 - 1) * scale }

	perclos := clamp01(level*0.75 + noise(0.05))
	pitchAvg := math.Max(0, level*22+noise(3))
	droopDuty := clamp01(level*0.6 + noise(0.05))
	yawnDuty := clamp01(level*0.4 + noise(0.05))
	yawns := int(math.Round(level*3 + noise(0.5)))
	if yawns < 0 {
		yawns = 0
	}

	sfx := "_" + s.suffix
	return map[string]interface{}{
		"ts_end":              s.start.Add(time.Duration(ts) * time.Second).Format("2006-01-02T15:04:05.000000"),
		"session_id":          sessionID,
		"PERCLOS":             round(perclos*100, 1),
		"ear_thresh_T":        0.21,
		"pitch_thresh_Tp":     15.0,
		"confidence":          "OK",
		"fps":                 30.0,
		"perclos" + sfx:       round(perclos, 3),
		"pitchdown_avg" + sfx: round(pitchAvg, 2),
		"pitchdown_max" + sfx: round(pitchAvg*1.4, 2),
		"droop_time" + sfx:    round(droopDuty*30, 2),
		"droop_duty" + sfx:    round(droopDuty, 3),
		"yawn_count" + sfx:    yawns,
		"yawn_time" + sfx:     round(yawnDuty*30, 2),
		"yawn_duty" + sfx:     round(yawnDuty, 3),
		"yawn_peak" + sfx:     round(0.3+yawnDuty, 3),
	}
}

func (s *stub) handleWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		detail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ts, err := strconv.Atoi(r.FormValue("timestamp"))
	if err != nil || ts <= 0 {
		detail(w, http.StatusBadRequest, "timestamp must be a positive integer")
		return
	}
	if s.duration > 0 && float64(ts) > s.duration {
		detail(w, http.StatusBadRequest, fmt.Sprintf("timestamp %d beyond footage (%.1fs)", ts, s.duration))
		return
	}
	if s.flaky() {
		detail(w, http.StatusServiceUnavailable, "analysis worker busy")
		return
	}

	session := r.FormValue("session_id")
	s.mu.Lock()
	s.served[session]++
	s.mu.Unlock()

	body := s.window(session, ts)
	body["driver_id"] = r.FormValue("driver_id")
	log.Printf("[Stub] window t=%d session=%s perclos=%v", ts, session, body["perclos_"+s.suffix])
	writeJSON(w, http.StatusOK, body)
}

type stateReq struct {
	Perclos      float64 `json:"perclos_15s"`
	PitchdownAvg float64 `json:"pitchdown_avg_15s"`
	YawnCount    int     `json:"yawn_count_15s"`
	DroopDuty    float64 `json:"droop_duty_15s"`
	Confidence   string  `json:"confidence"`
}

type reason struct {
	Signal    string  `json:"signal"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Relation  string  `json:"relation"`
}

func (s *stub) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		detail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req stateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		detail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	state := "OK"
	var reasons []reason
	switch {
	case req.Perclos >= 0.6:
		state = "ASLEEP"
		reasons = append(reasons, reason{"perclos_15s", req.Perclos, 0.6, ">="})
	case req.Perclos >= 0.4:
		state = "DROWSY_SOON"
		reasons = append(reasons, reason{"perclos_15s", req.Perclos, 0.4, ">="})
	case req.YawnCount >= 2:
		state = "DROWSY_SOON"
		reasons = append(reasons, reason{"yawn_count_15s", float64(req.YawnCount), 2, ">="})
	}
	risk := int(math.Round(100 * clamp01(0.7*req.Perclos/0.5+0.15*req.DroopDuty+0.15*float64(req.YawnCount)/3)))

	confidence := "high"
	if req.Confidence != "" && req.Confidence != "OK" {
		confidence = "low"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":            state,
		"risk_score":       risk,
		"state_confidence": confidence,
		"reasons":          reasons,
	})
}

func (s *stub) handleVitals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		detail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req struct {
		SessionID string `json:"session_id"`
		State     string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		detail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	hr, hrv := 74.0, 42.0
	switch req.State {
	case "DROWSY_SOON":
		hr, hrv = 63, 28
	case "ASLEEP":
		hr, hrv = 56, 17
	}
	s.mu.Lock()
	hr += s.rng.Float64()*4 - 2
	hrv += s.rng.Float64()*4 - 2
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]float64{"hr_bpm": round(hr, 1), "hrv_rmssd_ms": round(hrv, 1)})
}

func (s *stub) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		detail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	session := r.FormValue("session_id")
	if session == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":      true,
			"rows_cleared": 0,
			"warning":      "no session_id given, nothing cleared",
		})
		return
	}
	s.mu.Lock()
	n := s.served[session]
	delete(s.served, session)
	s.mu.Unlock()
	log.Printf("[Stub] reset session=%s rows=%d", session, n)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "rows_cleared": n})
}

func (s *stub) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		detail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.duration <= 0 {
		detail(w, http.StatusNotFound, "no footage loaded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"filename": "synthetic.mp4",
		"duration": s.duration,
		"fps":      30.0,
		"width":    1280,
		"height":   720,
		"format":   "mp4",
	})
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
