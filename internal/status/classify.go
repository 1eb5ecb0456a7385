package status

import (
	"fmt"
	"strings"

	"LUCID/go-backend/internal/models"
)

// Classifier maps the latest window plus the trailing closure-ratio history
// to an alertness state. history is chronological and ends with the latest
// window's closure ratio. Implementations hold no state between calls.
type Classifier interface {
	Classify(latest models.AnalysisWindowResult, history []float64) models.ClassifiedState
}

const (
	VariantTiered = "tiered"
	VariantScore  = "score"
)

func New(variant string, th Thresholds) (Classifier, error) {
	switch strings.ToLower(variant) {
	case "", VariantTiered:
		return TieredClassifier{Thresholds: th}, nil
	case VariantScore:
		return ScoreClassifier{Thresholds: th}, nil
	}
	return nil, fmt.Errorf("unknown classifier variant %q", variant)
}

// Dimmed flags windows whose signals come from degraded frames. Advisory
// only; it never changes the state.
func Dimmed(r models.AnalysisWindowResult, th Thresholds) bool {
	label := strings.ToUpper(strings.TrimSpace(r.Confidence))
	if label != "" && label != "OK" {
		return true
	}
	return r.FPS < th.MinFPS
}

// ScoreClassifier weighs five signals into a risk score and requires a
// closure-ratio breach or a worsening trend to leave OK.
type ScoreClassifier struct {
	Thresholds Thresholds
}

func (c ScoreClassifier) Classify(latest models.AnalysisWindowResult, history []float64) models.ClassifiedState {
	th := c.Thresholds.Score
	perclos := clamp01(latest.Perclos)

	score := 0
	var hits []string
	perclosHigh := perclos >= th.PerclosHigh
	if perclosHigh {
		score += 2
		hits = append(hits, fmt.Sprintf("eye closure %s >= %s", pct(perclos), pct(th.PerclosHigh)))
	}
	if latest.PitchdownAvg >= th.PitchHigh {
		score++
		hits = append(hits, fmt.Sprintf("head pitch %.1f° >= %.1f°", latest.PitchdownAvg, th.PitchHigh))
	}
	if latest.YawnCount >= th.YawnCountHigh {
		score++
		hits = append(hits, fmt.Sprintf("%d yawns >= %d", latest.YawnCount, th.YawnCountHigh))
	}
	if latest.HeartRate != nil && *latest.HeartRate <= th.HeartRateLow {
		score++
		hits = append(hits, fmt.Sprintf("heart rate %.0f bpm <= %.0f bpm", *latest.HeartRate, th.HeartRateLow))
	}
	if latest.HRV != nil && *latest.HRV <= th.HRVLow {
		score++
		hits = append(hits, fmt.Sprintf("HRV %.0f ms <= %.0f ms", *latest.HRV, th.HRVLow))
	}

	out := models.ClassifiedState{State: models.StateOK, Dimmed: Dimmed(latest, c.Thresholds)}
	worsening := Worsening(history, th.TrendSamples)

	switch {
	case score >= th.AsleepScore && perclosHigh:
		out.State = models.StateAsleep
		out.Reason = fmt.Sprintf("Risk score %d: %s", score, strings.Join(hits, ", "))
	case score >= th.DrowsyScore && (perclosHigh || worsening):
		out.State = models.StateDrowsySoon
		if !perclosHigh {
			hits = append(hits, "eye closure rising "+trend(history, th.TrendSamples))
		}
		out.Reason = fmt.Sprintf("Risk score %d: %s", score, strings.Join(hits, ", "))
	default:
		out.Reason = fmt.Sprintf("Risk score %d, eye closure %s", score, pct(perclos))
	}
	return out
}

// Worsening reports whether the last n closure ratios strictly increase.
func Worsening(history []float64, n int) bool {
	if n < 2 || len(history) < n {
		return false
	}
	tail := history[len(history)-n:]
	for i := 1; i < len(tail); i++ {
		if tail[i] <= tail[i-1] {
			return false
		}
	}
	return true
}

func trend(history []float64, n int) string {
	if len(history) < n {
		n = len(history)
	}
	parts := make([]string, 0, n)
	for _, v := range history[len(history)-n:] {
		parts = append(parts, pct(v))
	}
	return strings.Join(parts, " -> ")
}

// TieredClassifier evaluates rules in priority order; the first match wins.
type TieredClassifier struct {
	Thresholds Thresholds
}

type rule struct {
	hit    bool
	reason string
}

func (c TieredClassifier) Classify(latest models.AnalysisWindowResult, _ []float64) models.ClassifiedState {
	th := c.Thresholds.Tiered
	perclos := clamp01(latest.Perclos)
	yawnDuty := clamp01(latest.YawnDuty)
	droopDuty := clamp01(latest.DroopDuty)
	tp := latest.PitchThreshold
	if tp <= 0 {
		tp = th.PitchDefault
	}

	out := models.ClassifiedState{State: models.StateOK, Dimmed: Dimmed(latest, c.Thresholds)}

	asleep := []rule{
		{perclos >= th.PerclosAsleep, fmt.Sprintf("Eyes closed %s of window (>= %s)", pct(perclos), pct(th.PerclosAsleep))},
		{latest.PitchdownAvg >= tp+th.PitchAvgAsleepMargin, fmt.Sprintf("Head down %.1f° on average (>= %.1f°)", latest.PitchdownAvg, tp+th.PitchAvgAsleepMargin)},
		{latest.PitchdownMax >= tp+th.PitchMaxAsleepMargin, fmt.Sprintf("Head down %.1f° at peak (>= %.1f°)", latest.PitchdownMax, tp+th.PitchMaxAsleepMargin)},
		{yawnDuty >= th.YawnDutyAsleep, fmt.Sprintf("Yawning %s of window (>= %s)", pct(yawnDuty), pct(th.YawnDutyAsleep))},
		{latest.DroopTime >= th.DroopTimeAsleep, fmt.Sprintf("Head drooped %.1fs (>= %.0fs)", latest.DroopTime, th.DroopTimeAsleep)},
		{droopDuty >= th.DroopDutyAsleep, fmt.Sprintf("Head drooped %s of window (>= %s)", pct(droopDuty), pct(th.DroopDutyAsleep))},
	}
	if r, ok := first(asleep); ok {
		out.State = models.StateAsleep
		out.Reason = r
		return out
	}

	drowsy := []rule{
		{perclos >= th.PerclosDrowsy, fmt.Sprintf("Eyes closed %s of window (>= %s)", pct(perclos), pct(th.PerclosDrowsy))},
		{latest.YawnCount >= th.YawnCountDrowsy, fmt.Sprintf("%d yawns in window (>= %d)", latest.YawnCount, th.YawnCountDrowsy)},
		{yawnDuty >= th.YawnDutyDrowsy, fmt.Sprintf("Yawning %s of window (>= %s)", pct(yawnDuty), pct(th.YawnDutyDrowsy))},
		{latest.PitchdownAvg >= tp, fmt.Sprintf("Head pitch nearing limit: %.1f° average (>= %.1f°)", latest.PitchdownAvg, tp)},
		{latest.PitchdownMax >= tp+th.PitchMaxDrowsyMargin, fmt.Sprintf("Head pitch nearing limit: %.1f° peak (>= %.1f°)", latest.PitchdownMax, tp+th.PitchMaxDrowsyMargin)},
		{latest.DroopTime >= th.DroopTimeDrowsy, fmt.Sprintf("Head drooped %.1fs (>= %.0fs)", latest.DroopTime, th.DroopTimeDrowsy)},
		{droopDuty >= th.DroopDutyDrowsy, fmt.Sprintf("Head drooped %s of window (>= %s)", pct(droopDuty), pct(th.DroopDutyDrowsy))},
	}
	if r, ok := first(drowsy); ok {
		out.State = models.StateDrowsySoon
		out.Reason = r
		return out
	}

	out.Reason = fmt.Sprintf("Alert: eyes closed %s of window", pct(perclos))
	return out
}

func first(rules []rule) (string, bool) {
	for _, r := range rules {
		if r.hit {
			return r.reason, true
		}
	}
	return "", false
}

func pct(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
