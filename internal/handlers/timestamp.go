package handlers

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseTimestamp accepts whole or fractional seconds ("90", "90.5") and
// timecodes ("1:30", "00:01:30.250"). Fractions are truncated; the result
// must be at least one second.
func ParseTimestamp(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("timestamp is required")
	}

	var seconds float64
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		seconds = f
	} else if strings.Contains(value, ":") {
		parts := strings.Split(value, ":")
		if len(parts) > 3 {
			return 0, fmt.Errorf("invalid timecode: %s", value)
		}
		for _, part := range parts {
			if part == "" {
				return 0, fmt.Errorf("invalid timecode: %s", value)
			}
			f, err := strconv.ParseFloat(part, 64)
			if err != nil || f < 0 {
				return 0, fmt.Errorf("invalid timecode: %s", value)
			}
			seconds = seconds*60 + f
		}
	} else {
		return 0, fmt.Errorf("invalid timestamp: %s", value)
	}

	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 1 {
		return 0, fmt.Errorf("timestamp must be at least 1 second, got %s", value)
	}
	return int(seconds), nil
}
