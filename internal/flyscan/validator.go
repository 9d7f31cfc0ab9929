package flyscan

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/scanbench/internal/scan"
	"github.com/banshee-data/scanbench/internal/timeutil"
)

// Validator defaults.
const (
	DefaultCVThresholdPct = 5.0
	DefaultSigma          = 3.0
	DefaultMaxAge         = 300 * time.Second
)

// ErrNoGuaranteedRate is returned when the conservative rate bound is zero.
var ErrNoGuaranteedRate = errors.New("no guaranteed acquisition rate")

// Validator checks a FlyScanConfig against a measured Capability.
type Validator struct {
	CVThresholdPct float64
	Sigma          float64
	MaxAge         time.Duration
	Clock          timeutil.Clock
}

// NewValidator returns a Validator with default thresholds on the real clock.
func NewValidator() Validator {
	return Validator{
		CVThresholdPct: DefaultCVThresholdPct,
		Sigma:          DefaultSigma,
		MaxAge:         DefaultMaxAge,
		Clock:          timeutil.RealClock{},
	}
}

// ValidationResult lists blocking errors and advisory warnings.
type ValidationResult struct {
	Valid            bool
	Errors           []string
	Warnings         []string
	RequiredRateHz   float64
	GuaranteedRateHz float64
}

// Err converts a failed result into a *scan.ConfigurationError.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &scan.ConfigurationError{Field: "fly_scan", Reason: strings.Join(r.Errors, "; ")}
}

// Validate reports whether cfg is feasible with capability c. Zero fields
// of v take the NewValidator defaults.
//
// Errors: the guaranteed rate is below the rate needed to respect the
// spatial gap, or the desired rate exceeds the measured mean. Warnings: a
// stale measurement, an unstable rate, or an actual spacing wider than the
// gap.
func (v Validator) Validate(cfg scan.FlyScanConfig, c Capability) ValidationResult {
	v = v.withDefaults()
	cfg = cfg.WithDefaults()
	var res ValidationResult
	if err := cfg.Validate(); err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	res.RequiredRateHz = cfg.RequiredMinimumRateHz()
	res.GuaranteedRateHz = c.MinimumGuaranteedRate(v.Sigma)

	if res.GuaranteedRateHz < res.RequiredRateHz {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"guaranteed rate %.2f Hz (mean - %.0fσ) is below the %.2f Hz needed for %.3f mm spacing at %.2f mm/s",
			res.GuaranteedRateHz, v.Sigma, res.RequiredRateHz, cfg.MaxSpatialGapMM, cfg.Profile.TargetSpeed))
	}
	if cfg.DesiredRateHz > c.MeasuredRateHz {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"desired rate %.2f Hz exceeds measured rate %.2f Hz", cfg.DesiredRateHz, c.MeasuredRateHz))
	}

	if age := c.Age(v.Clock.Now()); age > v.MaxAge {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"rate measurement is %s old (max %s); consider re-measuring", age.Round(time.Second), v.MaxAge))
	}
	if !c.IsStable(v.CVThresholdPct) {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"acquisition rate unstable: CV %.1f%% above %.1f%%", c.CoefficientOfVariation(), v.CVThresholdPct))
	}
	spacing := math.Inf(1)
	if res.GuaranteedRateHz > 0 {
		spacing = cfg.Profile.TargetSpeed / res.GuaranteedRateHz
	}
	if spacing > cfg.MaxSpatialGapMM {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"worst-case sample spacing %.3f mm exceeds %.3f mm", spacing, cfg.MaxSpatialGapMM))
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// withDefaults fills zero fields from NewValidator.
func (v Validator) withDefaults() Validator {
	d := NewValidator()
	if v.CVThresholdPct <= 0 {
		v.CVThresholdPct = d.CVThresholdPct
	}
	if v.Sigma <= 0 {
		v.Sigma = d.Sigma
	}
	if v.MaxAge <= 0 {
		v.MaxAge = d.MaxAge
	}
	if v.Clock == nil {
		v.Clock = d.Clock
	}
	return v
}

// EstimateTotalPoints approximates the number of samples a fly scan will
// produce: the serpentine path length over the average of min and target
// speed, times the measured mean rate.
func EstimateTotalPoints(cfg scan.FlyScanConfig, c Capability) int {
	d, _ := EstimateDuration(cfg)
	return int(d.Seconds() * c.MeasuredRateHz)
}

// EstimateDuration approximates the travel time of a fly scan and returns
// it with the path length in mm.
func EstimateDuration(cfg scan.FlyScanConfig) (time.Duration, float64) {
	distance := cfg.Zone.Width()*float64(cfg.YPoints) + cfg.Zone.Height()*float64(cfg.YPoints-1)
	avg := (cfg.Profile.MinSpeed + cfg.Profile.TargetSpeed) / 2
	if avg <= 0 {
		return 0, distance
	}
	return time.Duration(distance / avg * float64(time.Second)), distance
}

// SuggestProfile returns a profile whose target speed keeps the sample
// spacing within the gap at the guaranteed rate, scaling min speed and
// accelerations by the same ratio. A profile that already fits is returned
// unchanged. The result is not re-validated.
func SuggestProfile(cfg scan.FlyScanConfig, c Capability, sigma float64) (scan.MotionProfile, error) {
	cfg = cfg.WithDefaults()
	guaranteed := c.MinimumGuaranteedRate(sigma)
	if guaranteed <= 0 {
		return scan.MotionProfile{}, ErrNoGuaranteedRate
	}
	maxSafe := cfg.MaxSpatialGapMM * guaranteed
	p := cfg.Profile
	if p.TargetSpeed <= maxSafe {
		return p, nil
	}
	ratio := maxSafe / p.TargetSpeed
	return scan.MotionProfile{
		MinSpeed:     p.MinSpeed * ratio,
		TargetSpeed:  maxSafe,
		Acceleration: p.Acceleration * ratio,
		Deceleration: p.Deceleration * ratio,
	}, nil
}
