// Package config holds the recommendation-engine tuning knobs. The values are
// owned by the surrounding application; this module only consumes them.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config tunes scoring, savings gates, cleanup ages, and lifecycle windows.
type Config struct {
	// Equivalence scoring
	ScoreThreshold float64 `yaml:"score_threshold"`

	// Savings gate for substitution rules. An output passes if it clears
	// either bar: large resources clear the percentage, small ones must
	// clear the absolute amount.
	MinSavingsAmount  float64 `yaml:"min_savings_amount"`
	MinSavingsPercent float64 `yaml:"min_savings_percent"`

	// Rightsizing thresholds (percent CPU over the utilization window)
	LowCPUAvgPercent  float64 `yaml:"low_cpu_avg_percent"`
	LowCPUPeakPercent float64 `yaml:"low_cpu_peak_percent"`

	// Cleanup ages
	SnapshotMaxAgeDays int `yaml:"snapshot_max_age_days"`
	AddressMaxAgeDays  int `yaml:"address_max_age_days"`

	// Lifecycle suppression windows and improvement overrides
	DismissedWindowDays        int     `yaml:"dismissed_window_days"`
	DismissedOverridePercent   float64 `yaml:"dismissed_override_percent"`
	ImplementedWindowDays      int     `yaml:"implemented_window_days"`
	ImplementedOverridePercent float64 `yaml:"implemented_override_percent"`

	// Auto-dismissal sweeps
	StaleMissThreshold int `yaml:"stale_miss_threshold"`
	SeenMaxAgeDays     int `yaml:"seen_max_age_days"`

	// Globally-disabled rule IDs
	DisabledRules []string `yaml:"disabled_rules"`
}

// Default returns the shipped defaults.
func Default() Config {
	return Config{
		ScoreThreshold:             0.80,
		MinSavingsAmount:           100,
		MinSavingsPercent:          2,
		LowCPUAvgPercent:           20,
		LowCPUPeakPercent:          60,
		SnapshotMaxAgeDays:         90,
		AddressMaxAgeDays:          30,
		DismissedWindowDays:        60,
		DismissedOverridePercent:   15,
		ImplementedWindowDays:      90,
		ImplementedOverridePercent: 20,
		StaleMissThreshold:         3,
		SeenMaxAgeDays:             30,
	}
}

// Load reads a YAML tuning file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	if c.ScoreThreshold <= 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("score_threshold must be in (0,1], got %v", c.ScoreThreshold)
	}
	if c.StaleMissThreshold < 1 {
		return fmt.Errorf("stale_miss_threshold must be >= 1, got %d", c.StaleMissThreshold)
	}
	if c.MinSavingsAmount < 0 || c.MinSavingsPercent < 0 {
		return fmt.Errorf("savings minimums must be non-negative")
	}
	return nil
}

// RuleDisabled reports whether a rule ID is globally disabled.
func (c Config) RuleDisabled(ruleID string) bool {
	for _, id := range c.DisabledRules {
		if id == ruleID {
			return true
		}
	}
	return false
}
