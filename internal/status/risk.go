package status

import (
	"math"

	"LUCID/go-backend/internal/models"
)

// RiskScore folds closure ratio, yawn duty and droop duty into 0-100,
// weighted 70/15/15. An ASLEEP window never scores below 90.
func RiskScore(r models.AnalysisWindowResult, state models.State, th Thresholds) int {
	rr := th.Risk
	p := normalise(r.Perclos, rr.PerclosMin, rr.PerclosMax)
	y := normalise(r.YawnDuty, rr.YawnMin, rr.YawnMax)
	d := normalise(r.DroopDuty, rr.DroopMin, rr.DroopMax)

	score := int(math.Round(100 * (0.7*p + 0.15*y + 0.15*d)))
	if state == models.StateAsleep && score < 90 {
		score = 90
	}
	return score
}

func normalise(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	return clamp01((v - lo) / (hi - lo))
}
