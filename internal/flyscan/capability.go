// Package flyscan decides whether a measured acquisition rate can support a
// continuous-motion scan, and measures that rate.
package flyscan

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/scanbench/internal/scan"
)

// MinSampleCount is the fewest timed samples a capability may be built from.
const MinSampleCount = 10

// Capability is a measured acquisition throughput.
type Capability struct {
	MeasuredRateHz      float64
	MeasuredStdDevHz    float64
	SampleCount         int
	MeasuredAt          time.Time
	MeasurementDuration time.Duration
}

// NewCapability validates and returns a Capability.
func NewCapability(rateHz, stdDevHz float64, samples int, at time.Time, duration time.Duration) (Capability, error) {
	switch {
	case math.IsNaN(rateHz) || rateHz <= 0:
		return Capability{}, &scan.ConfigurationError{Field: "measured_rate_hz", Reason: fmt.Sprintf("must be positive, got %v", rateHz)}
	case math.IsNaN(stdDevHz) || stdDevHz < 0:
		return Capability{}, &scan.ConfigurationError{Field: "measured_std_dev_hz", Reason: fmt.Sprintf("must be >= 0, got %v", stdDevHz)}
	case samples < MinSampleCount:
		return Capability{}, &scan.ConfigurationError{Field: "sample_count", Reason: fmt.Sprintf("need >= %d samples, got %d", MinSampleCount, samples)}
	case duration <= 0:
		return Capability{}, &scan.ConfigurationError{Field: "measurement_duration", Reason: fmt.Sprintf("must be positive, got %s", duration)}
	}
	return Capability{
		MeasuredRateHz:      rateHz,
		MeasuredStdDevHz:    stdDevHz,
		SampleCount:         samples,
		MeasuredAt:          at,
		MeasurementDuration: duration,
	}, nil
}

// CoefficientOfVariation is std/mean as a percentage.
func (c Capability) CoefficientOfVariation() float64 {
	return c.MeasuredStdDevHz / c.MeasuredRateHz * 100
}

// IsStable reports whether the CV is within thresholdPct.
func (c Capability) IsStable(thresholdPct float64) bool {
	return c.CoefficientOfVariation() <= thresholdPct
}

// MinimumGuaranteedRate is the one-sided lower bound mean - sigma*std,
// clamped at zero.
func (c Capability) MinimumGuaranteedRate(sigma float64) float64 {
	return math.Max(0, c.MeasuredRateHz-sigma*c.MeasuredStdDevHz)
}

// Age is how long ago the capability was measured.
func (c Capability) Age(now time.Time) time.Duration {
	return now.Sub(c.MeasuredAt)
}

// IsRecent reports whether the measurement is no older than maxAge.
func (c Capability) IsRecent(now time.Time, maxAge time.Duration) bool {
	return c.Age(now) <= maxAge
}

func (c Capability) String() string {
	return fmt.Sprintf("%.2f Hz ± %.2f (CV %.1f%%, n=%d)", c.MeasuredRateHz, c.MeasuredStdDevHz, c.CoefficientOfVariation(), c.SampleCount)
}
