// Package motion owns the stage: a single worker goroutine executes queued
// motion commands against a Controller and reports progress on the event bus.
package motion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/scanbench/internal/eventbus"
	"github.com/banshee-data/scanbench/internal/geom"
	"github.com/banshee-data/scanbench/internal/monitoring"
	"github.com/banshee-data/scanbench/internal/scan"
	"github.com/banshee-data/scanbench/internal/timeutil"
)

var logf = monitoring.Logger("motion")

var (
	ErrClosed     = errors.New("motion adapter closed")
	ErrTimeout    = errors.New("motion did not complete in time")
	ErrStopped    = errors.New("motion stopped")
	ErrCancelled  = errors.New("motion cancelled before dispatch")
	ErrOutOfRange = errors.New("target outside travel limits")
)

const (
	DefaultSettleDelay  = 250 * time.Millisecond
	DefaultPollInterval = 100 * time.Millisecond
	DefaultMoveTimeout  = 30 * time.Second
)

// Port is what the scan executor needs from the stage.
type Port interface {
	MoveTo(target geom.Position2D) (string, error)
	Home(axis Axis) error
	Stop(immediate bool) error
	EmergencyStop() error
	CurrentPosition() (geom.Position2D, error)
	IsMoving() (bool, error)
}

// Options configures an Adapter. Zero durations take the defaults.
type Options struct {
	Selector      scan.ProfileSelector
	SettleDelay   time.Duration
	PollInterval  time.Duration
	MoveTimeout   time.Duration
	TravelLimitMM float64 // 0 disables the check
	Clock         timeutil.Clock
}

func (o Options) withDefaults() Options {
	if o.Selector == (scan.ProfileSelector{}) {
		o.Selector = scan.DefaultProfileSelector()
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MoveTimeout <= 0 {
		o.MoveTimeout = DefaultMoveTimeout
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

type commandKind int

const (
	cmdMove commandKind = iota
	cmdHome
	cmdSetReference
	cmdStop
)

func (k commandKind) String() string {
	switch k {
	case cmdMove:
		return "MOVE"
	case cmdHome:
		return "HOME"
	case cmdSetReference:
		return "SET_REFERENCE"
	case cmdStop:
		return "STOP"
	}
	return fmt.Sprintf("command(%d)", int(k))
}

type command struct {
	kind      commandKind
	id        string
	target    geom.Position2D
	profile   *scan.MotionProfile
	axis      Axis
	value     float64
	immediate bool
}

// Adapter serialises motion commands onto a Controller. Public calls only
// enqueue and return; a single worker goroutine executes the FIFO queue.
// EmergencyStop and Stop bypass the queue.
type Adapter struct {
	ctrl Controller
	bus  eventbus.Publisher
	opts Options

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []command
	busy    bool
	closed  bool
	stopGen uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAdapter starts the worker goroutine. Call Close to stop it.
func NewAdapter(ctrl Controller, bus eventbus.Publisher, opts Options) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		ctrl:   ctrl,
		bus:    bus,
		opts:   opts.withDefaults(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	a.cond = sync.NewCond(&a.mu)
	go a.run()
	return a
}

func (a *Adapter) enqueue(cmds ...command) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.queue = append(a.queue, cmds...)
	a.cond.Signal()
	return nil
}

// MoveTo queues an absolute move and returns its motion id.
func (a *Adapter) MoveTo(target geom.Position2D) (string, error) {
	if err := a.checkTarget(target); err != nil {
		return "", err
	}
	return a.enqueueMove(command{kind: cmdMove, target: target})
}

// MoveToWithProfile queues an absolute move that runs with profile instead
// of the distance-selected one.
func (a *Adapter) MoveToWithProfile(target geom.Position2D, profile scan.MotionProfile) (string, error) {
	if err := a.checkTarget(target); err != nil {
		return "", err
	}
	if err := profile.Validate(); err != nil {
		return "", err
	}
	return a.enqueueMove(command{kind: cmdMove, target: target, profile: &profile})
}

func (a *Adapter) checkTarget(target geom.Position2D) error {
	if !target.IsFinite() {
		return fmt.Errorf("move to %v: %w", target, ErrOutOfRange)
	}
	if lim := a.opts.TravelLimitMM; lim > 0 && (math.Abs(target.X) > lim || math.Abs(target.Y) > lim) {
		return fmt.Errorf("move to %v: %w", target, ErrOutOfRange)
	}
	return nil
}

func (a *Adapter) enqueueMove(cmd command) (string, error) {
	cmd.id = uuid.NewString()
	if err := a.enqueue(cmd); err != nil {
		return "", err
	}
	return cmd.id, nil
}

// Home queues a homing run on axis. The reference is zeroed only once
// homing completes; a failed or stopped run leaves it untouched.
func (a *Adapter) Home(axis Axis) error {
	if !axis.Valid() {
		return fmt.Errorf("home: invalid axis %q", axis)
	}
	return a.enqueue(command{kind: cmdHome, id: uuid.NewString(), axis: axis})
}

// SetReference queues redefining the current position of axis as value.
func (a *Adapter) SetReference(axis Axis, value float64) error {
	if !axis.Valid() {
		return fmt.Errorf("set reference: invalid axis %q", axis)
	}
	return a.enqueue(command{kind: cmdSetReference, id: uuid.NewString(), axis: axis, value: value})
}

// QueueStop queues an ordered stop that runs after the commands ahead of it.
func (a *Adapter) QueueStop(immediate bool) error {
	return a.enqueue(command{kind: cmdStop, id: uuid.NewString(), immediate: immediate})
}

// Stop drops pending commands and stops both axes now. A move in flight is
// reported as failed with ErrStopped.
func (a *Adapter) Stop(immediate bool) error {
	dropped, err := a.halt(false)
	if err != nil {
		return err
	}
	a.failDropped(dropped)
	return a.stopAxes(immediate)
}

// EmergencyStop clears the queue and aborts both axes without waiting for
// the worker.
func (a *Adapter) EmergencyStop() error {
	dropped, err := a.halt(true)
	if err != nil {
		return err
	}
	stopErr := a.stopAxes(true)
	logf("emergency stop: %d queued commands dropped", len(dropped))
	a.bus.Publish(TopicEmergencyStop, EmergencyStopTriggered{DroppedCommands: len(dropped)})
	a.failDropped(dropped)
	return stopErr
}

// halt atomically clears the queue and invalidates the in-flight command.
// Emergency stop is allowed on a closed adapter.
func (a *Adapter) halt(allowClosed bool) ([]command, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed && !allowClosed {
		return nil, ErrClosed
	}
	dropped := a.queue
	a.queue = nil
	a.stopGen++
	a.cond.Broadcast()
	return dropped, nil
}

func (a *Adapter) stopAxes(immediate bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs []error
	for _, ax := range AxisBoth.Axes() {
		if err := a.ctrl.Stop(ctx, ax, immediate); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", ax, err))
		}
	}
	return errors.Join(errs...)
}

func (a *Adapter) failDropped(dropped []command) {
	for _, c := range dropped {
		if c.kind == cmdMove {
			a.bus.Publish(TopicMotionFailed, MotionFailed{MotionID: c.id, Error: ErrCancelled.Error()})
		}
	}
}

// CurrentPosition reads both axes from the controller.
func (a *Adapter) CurrentPosition() (geom.Position2D, error) {
	return a.position(a.ctx)
}

// IsMoving reports whether either axis is in motion.
func (a *Adapter) IsMoving() (bool, error) {
	return a.moving(a.ctx)
}

// QueueLen is the number of commands waiting behind the one in flight.
func (a *Adapter) QueueLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// Idle reports whether the queue is empty and no command is executing.
func (a *Adapter) Idle() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue) == 0 && !a.busy
}

// WaitUntilIdle blocks until Idle or ctx is done.
func (a *Adapter) WaitUntilIdle(ctx context.Context) error {
	for !a.Idle() {
		if err := timeutil.SleepContext(ctx, a.opts.Clock, a.opts.PollInterval); err != nil {
			return err
		}
	}
	return nil
}

// Close drops pending commands, waits for the worker to exit and rejects
// further calls with ErrClosed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	dropped := a.queue
	a.queue = nil
	a.stopGen++
	a.cond.Broadcast()
	a.mu.Unlock()

	a.cancel()
	<-a.done
	a.failDropped(dropped)
	return nil
}

func (a *Adapter) run() {
	defer close(a.done)
	for {
		a.mu.Lock()
		for len(a.queue) == 0 && !a.closed {
			a.cond.Wait()
		}
		if a.closed {
			a.mu.Unlock()
			return
		}
		cmd := a.queue[0]
		a.queue = a.queue[1:]
		gen := a.stopGen
		a.busy = true
		a.mu.Unlock()

		a.execute(cmd, gen)

		a.mu.Lock()
		a.busy = false
		a.mu.Unlock()
	}
}

// halted reports whether a stop was issued after the command of generation
// gen was dequeued.
func (a *Adapter) halted(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopGen != gen
}

func (a *Adapter) execute(cmd command, gen uint64) {
	switch cmd.kind {
	case cmdMove:
		a.executeMove(cmd, gen)
		return
	case cmdStop:
		// the queue ahead of an ordered stop has already drained
		if err := a.stopAxes(cmd.immediate); err != nil {
			a.reportFailure(cmd, err)
		}
		return
	}

	var err error
	if a.halted(gen) {
		err = ErrStopped
	} else if cmd.kind == cmdHome {
		if err = a.home(cmd.axis, gen); err == nil {
			err = a.setReference(cmd.axis, 0)
		}
	} else {
		err = a.setReference(cmd.axis, cmd.value)
	}
	if err != nil {
		a.reportFailure(cmd, err)
	}
}

func (a *Adapter) reportFailure(cmd command, err error) {
	logf("%s %s failed: %v", cmd.kind, cmd.id, err)
	a.bus.Publish(TopicMotionFailed, MotionFailed{MotionID: cmd.id, Error: err.Error()})
}

func (a *Adapter) executeMove(cmd command, gen uint64) {
	clock := a.opts.Clock
	start := clock.Now()
	a.bus.Publish(TopicMotionStarted, MotionStarted{MotionID: cmd.id, Target: cmd.target})

	if err := a.move(cmd, gen); err != nil {
		a.reportFailure(cmd, err)
		return
	}
	final, err := a.position(a.ctx)
	if err != nil {
		a.reportFailure(cmd, err)
		return
	}
	elapsed := clock.Since(start)
	a.bus.Publish(TopicMotionCompleted, MotionCompleted{
		MotionID:      cmd.id,
		FinalPosition: final,
		DurationMs:    float64(elapsed) / float64(time.Millisecond),
	})
}

func (a *Adapter) move(cmd command, gen uint64) error {
	target := cmd.target
	current, err := a.position(a.ctx)
	if err != nil {
		return err
	}
	profile := a.opts.Selector.SelectForDistance(current.DistanceTo(target))
	if cmd.profile != nil {
		profile = *cmd.profile
	}
	for _, ax := range AxisBoth.Axes() {
		if a.halted(gen) {
			return ErrStopped
		}
		if err := a.ctrl.SetSpeed(a.ctx, ax, profile); err != nil {
			return fmt.Errorf("set speed %s: %w", ax, err)
		}
	}
	for _, step := range []struct {
		axis Axis
		mm   float64
	}{{AxisX, target.X}, {AxisY, target.Y}} {
		if a.halted(gen) {
			return ErrStopped
		}
		err := a.ctrl.MoveAbsolute(a.ctx, step.axis, step.mm)
		if a.halted(gen) {
			return a.restop()
		}
		if err != nil {
			return fmt.Errorf("move %s: %w", step.axis, err)
		}
	}
	return a.waitStopped(gen)
}

func (a *Adapter) home(axis Axis, gen uint64) error {
	for _, ax := range axis.Axes() {
		if a.halted(gen) {
			return ErrStopped
		}
		err := a.ctrl.Home(a.ctx, ax)
		if a.halted(gen) {
			return a.restop()
		}
		if err != nil {
			return fmt.Errorf("home %s: %w", ax, err)
		}
	}
	return a.waitStopped(gen)
}

// restop aborts both axes again when a stop landed while a dispatch was in
// flight, so the axis it started does not keep running.
func (a *Adapter) restop() error {
	if err := a.stopAxes(true); err != nil {
		logf("stop after in-flight dispatch: %v", err)
	}
	return ErrStopped
}

func (a *Adapter) setReference(axis Axis, value float64) error {
	for _, ax := range axis.Axes() {
		if err := a.ctrl.SetPosition(a.ctx, ax, value); err != nil {
			return fmt.Errorf("set reference %s: %w", ax, err)
		}
	}
	return nil
}

// waitStopped waits for the settle delay, then polls until both axes report
// stopped or MoveTimeout elapses.
func (a *Adapter) waitStopped(gen uint64) error {
	clock := a.opts.Clock
	if err := timeutil.SleepContext(a.ctx, clock, a.opts.SettleDelay); err != nil {
		return err
	}
	deadline := clock.Now().Add(a.opts.MoveTimeout)
	for {
		if a.halted(gen) {
			return ErrStopped
		}
		moving, err := a.moving(a.ctx)
		if err != nil {
			return err
		}
		if !moving {
			return nil
		}
		if !clock.Now().Before(deadline) {
			return ErrTimeout
		}
		if err := timeutil.SleepContext(a.ctx, clock, a.opts.PollInterval); err != nil {
			return err
		}
	}
}

func (a *Adapter) position(ctx context.Context) (geom.Position2D, error) {
	x, err := a.ctrl.Position(ctx, AxisX)
	if err != nil {
		return geom.Position2D{}, fmt.Errorf("read X: %w", err)
	}
	y, err := a.ctrl.Position(ctx, AxisY)
	if err != nil {
		return geom.Position2D{}, fmt.Errorf("read Y: %w", err)
	}
	return geom.Position2D{X: x, Y: y}, nil
}

func (a *Adapter) moving(ctx context.Context) (bool, error) {
	for _, ax := range AxisBoth.Axes() {
		m, err := a.ctrl.IsMoving(ctx, ax)
		if err != nil {
			return false, fmt.Errorf("status %s: %w", ax, err)
		}
		if m {
			return true, nil
		}
	}
	return false, nil
}

var _ Port = (*Adapter)(nil)
