package scan

import (
	"math"
	"time"
)

// DefaultMaxSpatialGapMM is the fly-scan sample spacing used when none is set.
const DefaultMaxSpatialGapMM = 0.5

// per-sample acquisition allowance used by StepScanConfig.EstimatedDuration
const nominalSampleTime = 100 * time.Millisecond

// StepScanConfig describes a stop-and-acquire scan.
type StepScanConfig struct {
	Zone                 ScanZone      `json:"zone"`
	XPoints              int           `json:"x_points"`
	YPoints              int           `json:"y_points"`
	Pattern              ScanPattern   `json:"pattern"`
	StabilizationDelay   time.Duration `json:"stabilization_delay"`
	AveragingPerPosition int           `json:"averaging_per_position"`
	// UncertaintyVolts is the acceptable ± measurement uncertainty.
	UncertaintyVolts float64 `json:"uncertainty_volts"`
}

// Validate returns a *ConfigurationError for the first invalid field.
func (c StepScanConfig) Validate() error {
	if err := c.Zone.Validate(); err != nil {
		return err
	}
	if c.XPoints < 1 {
		return configErr("x_points", "must be >= 1, got %d", c.XPoints)
	}
	if c.YPoints < 1 {
		return configErr("y_points", "must be >= 1, got %d", c.YPoints)
	}
	if !c.Pattern.Valid() {
		return configErr("pattern", "unknown pattern %q", c.Pattern)
	}
	if c.StabilizationDelay < 0 {
		return configErr("stabilization_delay", "must be >= 0, got %s", c.StabilizationDelay)
	}
	if c.AveragingPerPosition < 1 {
		return configErr("averaging_per_position", "must be >= 1, got %d", c.AveragingPerPosition)
	}
	if math.IsNaN(c.UncertaintyVolts) || c.UncertaintyVolts <= 0 {
		return configErr("uncertainty_volts", "must be positive, got %v", c.UncertaintyVolts)
	}
	return nil
}

// TotalPoints is the exact number of grid points the scan visits.
func (c StepScanConfig) TotalPoints() int {
	return c.XPoints * c.YPoints
}

// EstimatedDuration is a rough wall-clock budget ignoring travel time.
func (c StepScanConfig) EstimatedDuration() time.Duration {
	perPoint := c.StabilizationDelay + time.Duration(c.AveragingPerPosition)*nominalSampleTime
	return time.Duration(c.TotalPoints()) * perPoint
}

// FlyScanConfig describes a continuous-motion scan.
type FlyScanConfig struct {
	Zone            ScanZone      `json:"zone"`
	XPoints         int           `json:"x_points"`
	YPoints         int           `json:"y_points"`
	Pattern         ScanPattern   `json:"pattern"`
	Profile         MotionProfile `json:"motion_profile"`
	DesiredRateHz   float64       `json:"desired_acquisition_rate_hz"`
	MaxSpatialGapMM float64       `json:"max_spatial_gap_mm"`
}

// WithDefaults fills unset optional fields.
func (c FlyScanConfig) WithDefaults() FlyScanConfig {
	if c.MaxSpatialGapMM == 0 {
		c.MaxSpatialGapMM = DefaultMaxSpatialGapMM
	}
	return c
}

// Validate returns a *ConfigurationError for the first invalid field.
func (c FlyScanConfig) Validate() error {
	if err := c.Zone.Validate(); err != nil {
		return err
	}
	if c.XPoints < 2 {
		return configErr("x_points", "fly scan needs >= 2, got %d", c.XPoints)
	}
	if c.YPoints < 2 {
		return configErr("y_points", "fly scan needs >= 2, got %d", c.YPoints)
	}
	if !c.Pattern.Valid() {
		return configErr("pattern", "unknown pattern %q", c.Pattern)
	}
	if err := c.Profile.Validate(); err != nil {
		return err
	}
	if math.IsNaN(c.DesiredRateHz) || c.DesiredRateHz <= 0 {
		return configErr("desired_acquisition_rate_hz", "must be positive, got %v", c.DesiredRateHz)
	}
	if math.IsNaN(c.MaxSpatialGapMM) || c.MaxSpatialGapMM <= 0 {
		return configErr("max_spatial_gap_mm", "must be positive, got %v", c.MaxSpatialGapMM)
	}
	return nil
}

// RequiredMinimumRateHz is the slowest acquisition rate that keeps samples
// no further apart than MaxSpatialGapMM at the profile's target speed.
func (c FlyScanConfig) RequiredMinimumRateHz() float64 {
	return c.Profile.TargetSpeed / c.MaxSpatialGapMM
}

// TotalGridPoints is the number of trajectory vertices.
func (c FlyScanConfig) TotalGridPoints() int {
	return c.XPoints * c.YPoints
}
