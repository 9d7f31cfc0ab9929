// Package units converts between bench units (mm, mm/s, mm/s²) and the
// stepper controller's native steps.
package units

import (
	"fmt"
	"math"
)

// DefaultMicronsPerStep is the lead-screw calibration of the bench stages.
const DefaultMicronsPerStep = 43.6

// DefaultTravelLimitMM is the usable stroke of each axis.
const DefaultTravelLimitMM = 1270.0

// Calibration maps millimetres to motor steps for one axis.
type Calibration struct {
	MicronsPerStep float64
}

// DefaultCalibration returns the stock bench calibration.
func DefaultCalibration() Calibration {
	return Calibration{MicronsPerStep: DefaultMicronsPerStep}
}

// Validate rejects non-positive calibrations.
func (c Calibration) Validate() error {
	if math.IsNaN(c.MicronsPerStep) || c.MicronsPerStep <= 0 {
		return fmt.Errorf("microns per step must be positive, got %v", c.MicronsPerStep)
	}
	return nil
}

// StepsPerMM is the number of steps in one millimetre.
func (c Calibration) StepsPerMM() float64 {
	return 1000 / c.MicronsPerStep
}

// Steps converts a position in mm to the nearest whole step.
func (c Calibration) Steps(mm float64) int64 {
	return int64(math.Round(mm * c.StepsPerMM()))
}

// MM converts a step count back to millimetres.
func (c Calibration) MM(steps int64) float64 {
	return float64(steps) / c.StepsPerMM()
}

// StepRate converts a speed in mm/s to steps/s, never below one step/s.
func (c Calibration) StepRate(mmPerSec float64) int64 {
	r := int64(math.Round(mmPerSec * c.StepsPerMM()))
	if r < 1 {
		return 1
	}
	return r
}

// RampMillis is the time in ms to change speed from `from` to `to` mm/s at
// accel mm/s². Stepper controllers take acceleration as a ramp time.
func RampMillis(from, to, accel float64) int64 {
	if accel <= 0 {
		return 0
	}
	ms := int64(math.Round(math.Abs(to-from) / accel * 1000))
	if ms < 1 {
		return 1
	}
	return ms
}
