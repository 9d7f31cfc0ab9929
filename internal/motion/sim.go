package motion

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/scanbench/internal/scan"
	"github.com/banshee-data/scanbench/internal/timeutil"
)

// MoveCall records one MoveAbsolute (or Home, with Target 0) issued to a
// SimController.
type MoveCall struct {
	Axis   Axis
	Target float64
	Home   bool
}

// StopCall records one Stop issued to a SimController.
type StopCall struct {
	Axis      Axis
	Immediate bool
}

type simAxis struct {
	from     float64
	to       float64
	started  time.Time
	duration time.Duration
	moving   bool
	profile  scan.MotionProfile
}

func (a *simAxis) position(now time.Time) float64 {
	if !a.moving {
		return a.to
	}
	elapsed := now.Sub(a.started)
	if elapsed >= a.duration || a.duration <= 0 {
		return a.to
	}
	frac := float64(elapsed) / float64(a.duration)
	return a.from + (a.to-a.from)*frac
}

// settle finalises a move whose duration has elapsed.
func (a *simAxis) settle(now time.Time) {
	if a.moving && now.Sub(a.started) >= a.duration {
		a.from = a.to
		a.moving = false
	}
}

// SimController is an in-memory stage. Moves take the trapezoidal duration
// of the axis profile measured on Clock, with the position interpolated
// linearly in between.
type SimController struct {
	clock timeutil.Clock

	mu        sync.Mutex
	axes      map[Axis]*simAxis
	moves     []MoveCall
	stops     []StopCall
	failNext  error
}

// NewSimController returns a stage at the origin using the default slow
// profile on both axes.
func NewSimController(clock timeutil.Clock) *SimController {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &SimController{clock: clock, axes: make(map[Axis]*simAxis)}
	for _, a := range AxisBoth.Axes() {
		s.axes[a] = &simAxis{profile: scan.DefaultSlowProfile}
	}
	return s
}

func (s *SimController) axis(a Axis) (*simAxis, error) {
	if err := checkAxis(a); err != nil {
		return nil, err
	}
	st := s.axes[a]
	st.settle(s.clock.Now())
	return st, nil
}

func (s *SimController) start(st *simAxis, target float64) {
	now := s.clock.Now()
	from := st.position(now)
	st.from = from
	st.to = target
	st.started = now
	d := scan.EstimateDuration(math.Abs(target-from), st.profile)
	st.duration = time.Duration(d * float64(time.Second))
	st.moving = st.duration > 0
	if !st.moving {
		st.from = target
	}
}

func (s *SimController) MoveAbsolute(_ context.Context, a Axis, mm float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.axis(a)
	if err != nil {
		return err
	}
	s.moves = append(s.moves, MoveCall{Axis: a, Target: mm})
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.start(st, mm)
	return nil
}

// Home drives the axis to its home switch at 0.
func (s *SimController) Home(_ context.Context, a Axis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.axis(a)
	if err != nil {
		return err
	}
	s.moves = append(s.moves, MoveCall{Axis: a, Home: true})
	s.start(st, 0)
	return nil
}

func (s *SimController) SetPosition(_ context.Context, a Axis, mm float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.axis(a)
	if err != nil {
		return err
	}
	st.from, st.to, st.moving = mm, mm, false
	return nil
}

func (s *SimController) Stop(_ context.Context, a Axis, immediate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.axis(a)
	if err != nil {
		return err
	}
	s.stops = append(s.stops, StopCall{Axis: a, Immediate: immediate})
	pos := st.position(s.clock.Now())
	st.from, st.to, st.moving = pos, pos, false
	return nil
}

func (s *SimController) Position(_ context.Context, a Axis) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.axis(a)
	if err != nil {
		return 0, err
	}
	return st.position(s.clock.Now()), nil
}

func (s *SimController) IsMoving(_ context.Context, a Axis) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.axis(a)
	if err != nil {
		return false, err
	}
	return st.moving, nil
}

func (s *SimController) SetSpeed(_ context.Context, a Axis, p scan.MotionProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.axis(a)
	if err != nil {
		return err
	}
	st.profile = p
	return nil
}

// InjectMoveFailure makes the next MoveAbsolute return err.
func (s *SimController) InjectMoveFailure(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// Moves returns every move and home issued so far.
func (s *SimController) Moves() []MoveCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MoveCall(nil), s.moves...)
}

// Stops returns every stop issued so far.
func (s *SimController) Stops() []StopCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StopCall(nil), s.stops...)
}
