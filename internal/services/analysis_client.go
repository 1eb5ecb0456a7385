package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"LUCID/go-backend/internal/models"
)

// StatusError is a non-2xx answer from the analysis service. Body holds the
// response text for diagnostics.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analysis service returned %d: %s", e.Code, e.Body)
}

type AnalysisClient struct {
	http    *http.Client
	baseURL string
	timeout time.Duration
}

func NewAnalysisClient(baseURL string, timeout time.Duration) *AnalysisClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	log.Printf("Analysis service at %s (timeout %s)", baseURL, timeout)
	return &AnalysisClient{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
	}
}

func (c *AnalysisClient) URL() string { return c.baseURL }

// SubmitWindow asks the service to analyse the window ending at timestamp.
func (c *AnalysisClient) SubmitWindow(ctx context.Context, timestamp int, sessionID, driverID string) (models.AnalysisWindowResult, error) {
	form := url.Values{}
	form.Set("timestamp", strconv.Itoa(timestamp))
	form.Set("session_id", sessionID)
	form.Set("driver_id", driverID)

	var wire windowWire
	err := c.do(ctx, http.MethodPost, "/api/window", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &wire)
	if err != nil {
		return models.AnalysisWindowResult{}, fmt.Errorf("submit window %d: %w", timestamp, err)
	}
	return wire.result(), nil
}

// ClassifyState sends the window signals to the remote state classifier.
func (c *AnalysisClient) ClassifyState(ctx context.Context, r models.AnalysisWindowResult) (*models.RemoteState, error) {
	payload := stateRequest{
		TsEnd:          isoTime(r.TsEnd),
		SessionID:      r.SessionID,
		DriverID:       r.DriverID,
		Perclos:        r.Perclos,
		EarThreshold:   r.EarThreshold,
		PitchdownAvg:   r.PitchdownAvg,
		PitchdownMax:   r.PitchdownMax,
		DroopTime:      r.DroopTime,
		DroopDuty:      r.DroopDuty,
		PitchThreshold: r.PitchThreshold,
		YawnCount:      r.YawnCount,
		YawnTime:       r.YawnTime,
		YawnDuty:       r.YawnDuty,
		YawnPeak:       r.YawnPeak,
		Confidence:     r.Confidence,
		FPS:            r.FPS,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode state request: %w", err)
	}
	var state models.RemoteState
	if err := c.do(ctx, http.MethodPost, "/v1/state", "application/json", bytes.NewReader(body), &state); err != nil {
		return nil, fmt.Errorf("classify state: %w", err)
	}
	return &state, nil
}

// SimulateVitals fetches heart rate and HRV for the driver. state may be
// empty when no classification is known yet.
func (c *AnalysisClient) SimulateVitals(ctx context.Context, sessionID, driverID, state string) (models.Vitals, error) {
	req := map[string]string{"session_id": sessionID, "driver_id": driverID}
	if state != "" {
		req["state"] = state
	}
	body, err := json.Marshal(req)
	if err != nil {
		return models.Vitals{}, fmt.Errorf("encode vitals request: %w", err)
	}
	var v models.Vitals
	if err := c.do(ctx, http.MethodPost, "/v1/sim/vitals", "application/json", bytes.NewReader(body), &v); err != nil {
		return models.Vitals{}, fmt.Errorf("simulate vitals: %w", err)
	}
	return v, nil
}

// ResetSession clears the service-side rows of a session.
func (c *AnalysisClient) ResetSession(ctx context.Context, sessionID string) (int64, error) {
	form := url.Values{}
	if sessionID != "" {
		form.Set("session_id", sessionID)
	}
	var resp models.ResetResponse
	if err := c.do(ctx, http.MethodPost, "/api/session/reset", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &resp); err != nil {
		return 0, fmt.Errorf("reset session %s: %w", sessionID, err)
	}
	if resp.Warning != "" {
		log.Printf("[Analysis] reset %s: %s", sessionID, resp.Warning)
	}
	return resp.RowsCleared, nil
}

func (c *AnalysisClient) VideoInfo(ctx context.Context) (models.VideoInfo, error) {
	var info models.VideoInfo
	if err := c.do(ctx, http.MethodGet, "/api/footage/info", "", nil, &info); err != nil {
		return models.VideoInfo{}, fmt.Errorf("video info: %w", err)
	}
	return info, nil
}

// Ping reports whether the service answers at all. A 4xx still counts as
// reachable; only transport failures and 5xx do not.
func (c *AnalysisClient) Ping(ctx context.Context) error {
	_, err := c.VideoInfo(ctx)
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) && se.Code < 500 {
		return nil
	}
	return err
}

func (c *AnalysisClient) Close() {
	c.http.CloseIdleConnections()
}

func (c *AnalysisClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
