package motion

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanbench/internal/eventbus"
	"github.com/banshee-data/scanbench/internal/geom"
	"github.com/banshee-data/scanbench/internal/scan"
	"github.com/banshee-data/scanbench/internal/serialmux"
	"github.com/banshee-data/scanbench/internal/testutil"
	"github.com/banshee-data/scanbench/internal/units"
)

// fakeStage answers the controller command set. Moves complete instantly.
type fakeStage struct {
	mu    sync.Mutex
	steps map[string]int64
}

func (f *fakeStage) respond(cmd string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case cmd == "PX" || cmd == "PY":
		return strconv.FormatInt(f.steps[cmd[1:]], 10)
	case strings.HasPrefix(cmd, "MST"):
		return "0"
	case strings.HasPrefix(cmd, "P") && strings.Contains(cmd, "="):
		v, _ := strconv.ParseInt(cmd[3:], 10, 64)
		f.steps[cmd[1:2]] = v
		return "OK"
	case cmd == "HX-" || cmd == "HY-":
		f.steps[cmd[1:2]] = 0
		return "OK"
	case strings.HasPrefix(cmd, "X") || strings.HasPrefix(cmd, "Y"):
		v, err := strconv.ParseInt(cmd[1:], 10, 64)
		if err != nil {
			return "?Bad position"
		}
		f.steps[cmd[:1]] = v
		return "OK"
	case strings.HasPrefix(cmd, "LS"), strings.HasPrefix(cmd, "HS"),
		strings.HasPrefix(cmd, "ACC"), strings.HasPrefix(cmd, "DEC"),
		strings.HasPrefix(cmd, "STOP"), strings.HasPrefix(cmd, "ABORT"),
		cmd == "EO=3":
		return "OK"
	}
	return "?Unknown command"
}

func newSerialFixture(t *testing.T) (*SerialController, *serialmux.TestableSerialPort) {
	t.Helper()
	stage := &fakeStage{steps: map[string]int64{}}
	mux, port := serialmux.NewMockSerialMux(stage.respond)
	ctx, cancel := context.WithCancel(context.Background())
	go mux.Monitor(ctx)
	t.Cleanup(func() {
		cancel()
		mux.Close()
	})
	ctrl, err := NewSerialController(mux, units.DefaultCalibration())
	require.NoError(t, err)
	return ctrl, port
}

func TestSerialController_MoveAndPosition(t *testing.T) {
	ctrl, port := newSerialFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, ctrl.MoveAbsolute(ctx, AxisX, 43.6))
	pos, err := ctrl.Position(ctx, AxisX)
	require.NoError(t, err)
	assert.InDelta(t, 43.6, pos, 1e-9)

	moving, err := ctrl.IsMoving(ctx, AxisX)
	require.NoError(t, err)
	assert.False(t, moving)

	require.NoError(t, ctrl.Stop(ctx, AxisY, true))
	require.NoError(t, ctrl.Stop(ctx, AxisY, false))

	assert.Equal(t, []string{"X1000", "PX", "MSTX", "ABORTY", "STOPY"}, port.Commands())
}

func TestSerialController_SetSpeed(t *testing.T) {
	ctrl, port := newSerialFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, ctrl.SetSpeed(ctx, AxisY, scan.DefaultFastProfile))
	assert.Equal(t, []string{"LSY=11", "HSY=229", "ACCY=1900", "DECY=1900"}, port.Commands())

	assert.Error(t, ctrl.SetSpeed(ctx, AxisY, scan.MotionProfile{}))
}

func TestSerialController_Rejected(t *testing.T) {
	ctrl, _ := newSerialFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := ctrl.command(ctx, "BOGUS")
	assert.ErrorIs(t, err, ErrControllerRejected)
	assert.Contains(t, err.Error(), "Unknown command")

	assert.Error(t, ctrl.MoveAbsolute(ctx, AxisBoth, 1))
}

func TestSerialController_DrivesAdapter(t *testing.T) {
	ctrl, port := newSerialFixture(t)
	bus := eventbus.New()
	rec := testutil.NewEventRecorder(t, bus, TopicMotionCompleted, TopicMotionFailed)
	a := NewAdapter(ctrl, bus, Options{SettleDelay: time.Millisecond, PollInterval: time.Millisecond})
	defer a.Close()

	require.NoError(t, a.Home(AxisBoth))
	_, err := a.MoveTo(geom.Position2D{X: 4.36, Y: 8.72})
	require.NoError(t, err)

	rec.WaitFor(t, TopicMotionCompleted, 1, 2*time.Second)
	assert.Equal(t, 0, rec.Count(TopicMotionFailed))

	done := testutil.EventsOf[MotionCompleted](rec)
	assert.InDelta(t, 4.36, done[0].FinalPosition.X, 1e-9)
	assert.InDelta(t, 8.72, done[0].FinalPosition.Y, 1e-9)

	cmds := port.Commands()
	assert.Equal(t, "HX-", cmds[0])
	assert.Equal(t, "HY-", cmds[1])
	assert.Contains(t, cmds, "PX=0")
	assert.Contains(t, cmds, "X100")
	assert.Contains(t, cmds, "Y200")
}
