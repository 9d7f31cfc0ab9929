package motion

import (
	"context"
	"fmt"

	"github.com/banshee-data/scanbench/internal/scan"
)

// Axis names a stage axis. AxisBoth addresses X and Y together.
type Axis string

const (
	AxisX    Axis = "X"
	AxisY    Axis = "Y"
	AxisBoth Axis = "XY"
)

// Axes expands AxisBoth into its members.
func (a Axis) Axes() []Axis {
	if a == AxisBoth {
		return []Axis{AxisX, AxisY}
	}
	return []Axis{a}
}

func (a Axis) Valid() bool {
	switch a {
	case AxisX, AxisY, AxisBoth:
		return true
	}
	return false
}

func checkAxis(a Axis) error {
	if a != AxisX && a != AxisY {
		return fmt.Errorf("invalid axis %q", a)
	}
	return nil
}

// Controller is the per-axis driver interface of a stepper stage. Positions
// are absolute millimetres. Implementations must be safe for concurrent use
// since emergency stop calls Stop while the worker may be mid-command.
type Controller interface {
	MoveAbsolute(ctx context.Context, axis Axis, mm float64) error
	Home(ctx context.Context, axis Axis) error
	SetPosition(ctx context.Context, axis Axis, mm float64) error
	Stop(ctx context.Context, axis Axis, immediate bool) error
	Position(ctx context.Context, axis Axis) (float64, error)
	IsMoving(ctx context.Context, axis Axis) (bool, error)
	SetSpeed(ctx context.Context, axis Axis, profile scan.MotionProfile) error
}
