package motion

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/scanbench/internal/scan"
	"github.com/banshee-data/scanbench/internal/units"
)

// ErrControllerRejected is returned when the controller answers a command
// with an error reply.
var ErrControllerRejected = errors.New("controller rejected command")

// LineQuerier sends one command line and returns the reply line.
// serialmux.SerialMux implements it.
type LineQuerier interface {
	Query(ctx context.Context, command string) (string, error)
}

// SerialController drives a two-axis stepper controller speaking the ASCII
// command set: "X1000" absolute move, "PX" position query, "PX=0" set
// position, "MSTX" status, "HX-" home, "STOPX"/"ABORTX", "LSX="/"HSX=" low
// and high speed, "ACCX="/"DECX=" ramp times in ms.
type SerialController struct {
	line LineQuerier
	cal  units.Calibration
}

// NewSerialController wraps line using cal for mm to step conversion.
func NewSerialController(line LineQuerier, cal units.Calibration) (*SerialController, error) {
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return &SerialController{line: line, cal: cal}, nil
}

// Enable energises both motor outputs.
func (c *SerialController) Enable(ctx context.Context) error {
	return c.command(ctx, "EO=3")
}

func (c *SerialController) query(ctx context.Context, cmd string) (string, error) {
	reply, err := c.line.Query(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	reply = strings.TrimSpace(reply)
	if strings.HasPrefix(reply, "?") {
		return "", fmt.Errorf("%s: %w: %s", cmd, ErrControllerRejected, strings.TrimPrefix(reply, "?"))
	}
	return reply, nil
}

func (c *SerialController) command(ctx context.Context, cmd string) error {
	_, err := c.query(ctx, cmd)
	return err
}

func (c *SerialController) queryInt(ctx context.Context, cmd string) (int64, error) {
	reply, err := c.query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(reply, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: unexpected reply %q", cmd, reply)
	}
	return v, nil
}

func (c *SerialController) MoveAbsolute(ctx context.Context, axis Axis, mm float64) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return c.command(ctx, fmt.Sprintf("%s%d", axis, c.cal.Steps(mm)))
}

func (c *SerialController) Home(ctx context.Context, axis Axis) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return c.command(ctx, "H"+string(axis)+"-")
}

func (c *SerialController) SetPosition(ctx context.Context, axis Axis, mm float64) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return c.command(ctx, fmt.Sprintf("P%s=%d", axis, c.cal.Steps(mm)))
}

func (c *SerialController) Stop(ctx context.Context, axis Axis, immediate bool) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	if immediate {
		return c.command(ctx, "ABORT"+string(axis))
	}
	return c.command(ctx, "STOP"+string(axis))
}

func (c *SerialController) Position(ctx context.Context, axis Axis) (float64, error) {
	if err := checkAxis(axis); err != nil {
		return 0, err
	}
	steps, err := c.queryInt(ctx, "P"+string(axis))
	if err != nil {
		return 0, err
	}
	return c.cal.MM(steps), nil
}

// IsMoving reads the motor status word; the low three bits are set while
// accelerating, cruising or decelerating.
func (c *SerialController) IsMoving(ctx context.Context, axis Axis) (bool, error) {
	if err := checkAxis(axis); err != nil {
		return false, err
	}
	status, err := c.queryInt(ctx, "MST"+string(axis))
	if err != nil {
		return false, err
	}
	return status&7 != 0, nil
}

func (c *SerialController) SetSpeed(ctx context.Context, axis Axis, p scan.MotionProfile) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	a := string(axis)
	for _, cmd := range []string{
		fmt.Sprintf("LS%s=%d", a, c.cal.StepRate(p.MinSpeed)),
		fmt.Sprintf("HS%s=%d", a, c.cal.StepRate(p.TargetSpeed)),
		fmt.Sprintf("ACC%s=%d", a, units.RampMillis(p.MinSpeed, p.TargetSpeed, p.Acceleration)),
		fmt.Sprintf("DEC%s=%d", a, units.RampMillis(p.TargetSpeed, p.MinSpeed, p.Deceleration)),
	} {
		if err := c.command(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}
