package services

import (
	"context"
	"log"

	"LUCID/go-backend/internal/models"
)

// EnrichingAnalyzer submits a window and, when enabled, decorates the result
// with the remote state classification and simulated vitals. Only the window
// submission can fail the call; collaborator errors are logged and the
// derived fields are left empty.
type EnrichingAnalyzer struct {
	Client     *AnalysisClient
	WithState  bool
	WithVitals bool
}

func (a *EnrichingAnalyzer) Analyze(ctx context.Context, timestamp int, sessionID, driverID string) (models.AnalysisWindowResult, error) {
	result, err := a.Client.SubmitWindow(ctx, timestamp, sessionID, driverID)
	if err != nil {
		return models.AnalysisWindowResult{}, err
	}
	if result.SessionID == "" {
		result.SessionID = sessionID
	}
	if result.DriverID == "" {
		result.DriverID = driverID
	}

	stateHint := ""
	if a.WithState {
		state, err := a.Client.ClassifyState(ctx, result)
		if err != nil {
			log.Printf("[Analysis] state classification skipped for t=%d: %v", timestamp, err)
		} else {
			result.RemoteState = state
			stateHint = state.State
		}
	}

	if a.WithVitals {
		vitals, err := a.Client.SimulateVitals(ctx, sessionID, driverID, stateHint)
		if err != nil {
			log.Printf("[Analysis] vitals skipped for t=%d: %v", timestamp, err)
		} else {
			hr, hrv := vitals.HeartRate, vitals.HRV
			result.HeartRate = &hr
			result.HRV = &hrv
		}
	}
	return result, nil
}
