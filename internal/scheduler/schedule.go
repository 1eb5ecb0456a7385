package scheduler

import "math"

// StopThreshold returns the elapsed second after which no new calls are
// scheduled. Short or unknown-duration videos still get minSamples windows.
func StopThreshold(videoDuration float64, interval, minSamples int) int {
	floor := interval * minSamples
	if videoDuration <= 0 || math.IsNaN(videoDuration) || math.IsInf(videoDuration, 0) {
		return floor
	}
	d := int(math.Floor(videoDuration))
	if d < floor {
		return floor
	}
	return d
}

// BuildSchedule returns interval, 2*interval, ... up to and including stop.
func BuildSchedule(interval, stop int) []int {
	if interval <= 0 || stop < interval {
		return nil
	}
	out := make([]int, 0, stop/interval)
	for ts := interval; ts <= stop; ts += interval {
		out = append(out, ts)
	}
	return out
}
