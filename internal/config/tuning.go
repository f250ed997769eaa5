// Package config loads the JSON tuning file for the calibration engine.
//
// All fields are pointers so a partial file can override just the values
// it names; the Get* accessors fall back to the built-in defaults for
// anything left unset.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/spacecal/internal/calib"
)

// TuningConfig represents the root configuration for tuning parameters.
type TuningConfig struct {
	// Sampled calibration params
	SampleCount *int `json:"sample_count,omitempty"`

	// Continuous maintenance params
	LerpFactor          *float64 `json:"lerp_factor,omitempty"`
	LinearSpeedLimit    *float64 `json:"linear_speed_limit,omitempty"`  // m/s
	AngularSpeedLimit   *float64 `json:"angular_speed_limit,omitempty"` // rad/s
	AnomalyDistance     *float64 `json:"anomaly_distance,omitempty"`    // metres
	AnomalyResetAfter   *string  `json:"anomaly_reset_after,omitempty"` // duration string like "5s"
	JumpDistanceSquared *float64 `json:"jump_distance_squared,omitempty"`
	JumpCooldownTicks   *int     `json:"jump_cooldown_ticks,omitempty"`

	// Engine loop params
	TickInterval *string `json:"tick_interval,omitempty"` // duration string like "40ms"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under
// the max file size. Fields omitted from the JSON file retain their
// default values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.SampleCount != nil && *c.SampleCount < 2 {
		return fmt.Errorf("sample_count must be at least 2, got %d", *c.SampleCount)
	}

	if c.LerpFactor != nil {
		if *c.LerpFactor <= 0 || *c.LerpFactor > 1 {
			return fmt.Errorf("lerp_factor must be in (0, 1], got %f", *c.LerpFactor)
		}
	}

	if c.LinearSpeedLimit != nil && *c.LinearSpeedLimit < 0 {
		return fmt.Errorf("linear_speed_limit must be non-negative, got %f", *c.LinearSpeedLimit)
	}
	if c.AngularSpeedLimit != nil && *c.AngularSpeedLimit < 0 {
		return fmt.Errorf("angular_speed_limit must be non-negative, got %f", *c.AngularSpeedLimit)
	}
	if c.JumpCooldownTicks != nil && *c.JumpCooldownTicks < 0 {
		return fmt.Errorf("jump_cooldown_ticks must be non-negative, got %d", *c.JumpCooldownTicks)
	}

	if c.AnomalyResetAfter != nil && *c.AnomalyResetAfter != "" {
		if _, err := time.ParseDuration(*c.AnomalyResetAfter); err != nil {
			return fmt.Errorf("invalid anomaly_reset_after '%s': %w", *c.AnomalyResetAfter, err)
		}
	}

	if c.TickInterval != nil && *c.TickInterval != "" {
		if _, err := time.ParseDuration(*c.TickInterval); err != nil {
			return fmt.Errorf("invalid tick_interval '%s': %w", *c.TickInterval, err)
		}
	}

	return nil
}

// GetSampleCount returns the sample_count value or the default.
func (c *TuningConfig) GetSampleCount() int {
	if c.SampleCount == nil {
		return calib.DefaultSampleCount
	}
	return *c.SampleCount
}

// GetLerpFactor returns the lerp_factor value or the default.
func (c *TuningConfig) GetLerpFactor() float64 {
	if c.LerpFactor == nil {
		return calib.DefaultLerpFactor
	}
	return *c.LerpFactor
}

// GetLinearSpeedLimit returns the linear_speed_limit value or the default.
func (c *TuningConfig) GetLinearSpeedLimit() float64 {
	if c.LinearSpeedLimit == nil {
		return calib.DefaultLinearSpeedLimit
	}
	return *c.LinearSpeedLimit
}

// GetAngularSpeedLimit returns the angular_speed_limit value or the default.
func (c *TuningConfig) GetAngularSpeedLimit() float64 {
	if c.AngularSpeedLimit == nil {
		return calib.DefaultAngularSpeedLimit
	}
	return *c.AngularSpeedLimit
}

// GetAnomalyDistance returns the anomaly_distance value or the default.
func (c *TuningConfig) GetAnomalyDistance() float64 {
	if c.AnomalyDistance == nil {
		return calib.DefaultAnomalyDistance
	}
	return *c.AnomalyDistance
}

// GetAnomalyResetAfter parses and returns AnomalyResetAfter as a time.Duration.
func (c *TuningConfig) GetAnomalyResetAfter() time.Duration {
	if c.AnomalyResetAfter == nil || *c.AnomalyResetAfter == "" {
		return calib.DefaultAnomalyResetAfter
	}
	d, err := time.ParseDuration(*c.AnomalyResetAfter)
	if err != nil {
		return calib.DefaultAnomalyResetAfter
	}
	return d
}

// GetJumpDistanceSquared returns the jump_distance_squared value or the default.
func (c *TuningConfig) GetJumpDistanceSquared() float64 {
	if c.JumpDistanceSquared == nil {
		return calib.DefaultJumpDistanceSquared
	}
	return *c.JumpDistanceSquared
}

// GetJumpCooldownTicks returns the jump_cooldown_ticks value or the default.
func (c *TuningConfig) GetJumpCooldownTicks() int {
	if c.JumpCooldownTicks == nil {
		return calib.DefaultJumpCooldownTicks
	}
	return *c.JumpCooldownTicks
}

// GetTickInterval parses and returns the TickInterval as a time.Duration.
func (c *TuningConfig) GetTickInterval() time.Duration {
	if c.TickInterval == nil || *c.TickInterval == "" {
		return 40 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.TickInterval)
	if err != nil {
		return 40 * time.Millisecond
	}
	return d
}

// ContinuousConfig builds a calib.ContinuousConfig from the tuning values.
func (c *TuningConfig) ContinuousConfig() calib.ContinuousConfig {
	return calib.ContinuousConfig{
		LerpFactor:          c.GetLerpFactor(),
		LinearSpeedLimit:    c.GetLinearSpeedLimit(),
		AngularSpeedLimit:   c.GetAngularSpeedLimit(),
		AnomalyDistance:     c.GetAnomalyDistance(),
		AnomalyResetAfter:   c.GetAnomalyResetAfter(),
		JumpDistanceSquared: c.GetJumpDistanceSquared(),
		JumpCooldownTicks:   c.GetJumpCooldownTicks(),
	}
}
