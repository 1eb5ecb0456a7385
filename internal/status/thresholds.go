package status

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ScoreThresholds drive the weighted score classifier.
type ScoreThresholds struct {
	PerclosHigh   float64 `yaml:"perclos_high"`
	PitchHigh     float64 `yaml:"pitch_high"`
	YawnCountHigh int     `yaml:"yawn_count_high"`
	HeartRateLow  float64 `yaml:"heart_rate_low"`
	HRVLow        float64 `yaml:"hrv_low"`
	AsleepScore   int     `yaml:"asleep_score"`
	DrowsyScore   int     `yaml:"drowsy_score"`
	TrendSamples  int     `yaml:"trend_samples"`
}

// TieredThresholds drive the priority-ordered classifier. Pitch margins are
// added to the pitch threshold the analysis service reports per window.
type TieredThresholds struct {
	PerclosAsleep        float64 `yaml:"perclos_asleep"`
	PerclosDrowsy        float64 `yaml:"perclos_drowsy"`
	PitchDefault         float64 `yaml:"pitch_default"`
	PitchAvgAsleepMargin float64 `yaml:"pitch_avg_asleep_margin"`
	PitchMaxAsleepMargin float64 `yaml:"pitch_max_asleep_margin"`
	PitchMaxDrowsyMargin float64 `yaml:"pitch_max_drowsy_margin"`
	YawnDutyAsleep       float64 `yaml:"yawn_duty_asleep"`
	YawnDutyDrowsy       float64 `yaml:"yawn_duty_drowsy"`
	YawnCountDrowsy      int     `yaml:"yawn_count_drowsy"`
	DroopTimeAsleep      float64 `yaml:"droop_time_asleep"`
	DroopDutyAsleep      float64 `yaml:"droop_duty_asleep"`
	DroopTimeDrowsy      float64 `yaml:"droop_time_drowsy"`
	DroopDutyDrowsy      float64 `yaml:"droop_duty_drowsy"`
}

// RiskRanges normalise signals into the 0-100 risk score.
type RiskRanges struct {
	PerclosMin float64 `yaml:"perclos_min"`
	PerclosMax float64 `yaml:"perclos_max"`
	YawnMin    float64 `yaml:"yawn_min"`
	YawnMax    float64 `yaml:"yawn_max"`
	DroopMin   float64 `yaml:"droop_min"`
	DroopMax   float64 `yaml:"droop_max"`
}

type Thresholds struct {
	Score  ScoreThresholds  `yaml:"score"`
	Tiered TieredThresholds `yaml:"tiered"`
	Risk   RiskRanges       `yaml:"risk"`
	MinFPS float64          `yaml:"min_fps"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Score: ScoreThresholds{
			PerclosHigh:   0.40,
			PitchHigh:     20,
			YawnCountHigh: 2,
			HeartRateLow:  60,
			HRVLow:        20,
			AsleepScore:   3,
			DrowsyScore:   2,
			TrendSamples:  3,
		},
		Tiered: TieredThresholds{
			PerclosAsleep:        0.60,
			PerclosDrowsy:        0.40,
			PitchDefault:         15,
			PitchAvgAsleepMargin: 5,
			PitchMaxAsleepMargin: 8,
			PitchMaxDrowsyMargin: 4,
			YawnDutyAsleep:       0.55,
			YawnDutyDrowsy:       0.35,
			YawnCountDrowsy:      2,
			DroopTimeAsleep:      18,
			DroopDutyAsleep:      0.60,
			DroopTimeDrowsy:      12,
			DroopDutyDrowsy:      0.40,
		},
		Risk: RiskRanges{
			PerclosMin: 0.08,
			PerclosMax: 0.50,
			YawnMin:    0.10,
			YawnMax:    0.25,
			DroopMin:   0.10,
			DroopMax:   0.40,
		},
		MinFPS: 24,
	}
}

func (t Thresholds) Validate() error {
	var errs []error
	if t.Score.PerclosHigh <= 0 || t.Score.PerclosHigh > 1 {
		errs = append(errs, fmt.Errorf("score.perclos_high must be in (0,1], got %v", t.Score.PerclosHigh))
	}
	if t.Score.TrendSamples < 2 {
		errs = append(errs, fmt.Errorf("score.trend_samples must be >= 2, got %d", t.Score.TrendSamples))
	}
	if t.Tiered.PerclosDrowsy > t.Tiered.PerclosAsleep {
		errs = append(errs, fmt.Errorf("tiered.perclos_drowsy (%v) above tiered.perclos_asleep (%v)", t.Tiered.PerclosDrowsy, t.Tiered.PerclosAsleep))
	}
	if t.Risk.PerclosMax <= t.Risk.PerclosMin || t.Risk.YawnMax <= t.Risk.YawnMin || t.Risk.DroopMax <= t.Risk.DroopMin {
		errs = append(errs, errors.New("risk ranges need max > min"))
	}
	return errors.Join(errs...)
}

// LoadThresholds reads a YAML file on top of the defaults; keys missing from
// the file keep their default value.
func LoadThresholds(path string) (Thresholds, error) {
	th := DefaultThresholds()
	data, err := os.ReadFile(path)
	if err != nil {
		return th, fmt.Errorf("read thresholds %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &th); err != nil {
		return DefaultThresholds(), fmt.Errorf("parse thresholds %s: %w", path, err)
	}
	if err := th.Validate(); err != nil {
		return DefaultThresholds(), fmt.Errorf("invalid thresholds %s: %w", path, err)
	}
	return th, nil
}

// WatchThresholds calls fn with the reloaded thresholds every time the file
// changes, until ctx is cancelled. Invalid edits are logged and ignored.
func WatchThresholds(ctx context.Context, path string, fn func(Thresholds)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// editors replace the file, so watch the directory
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				th, err := LoadThresholds(path)
				if err != nil {
					log.Printf("[Thresholds] reload ignored: %v", err)
					continue
				}
				log.Printf("[Thresholds] reloaded from %s", path)
				fn(th)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[Thresholds] watcher error: %v", err)
			}
		}
	}()
	return nil
}
