package scan

import (
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/scanbench/internal/eventbus"
)

// DefaultEventCapacity bounds the pending event buffer of a scan.
const DefaultEventCapacity = 1024

// Scan is the aggregate owning a scan's status, collected points, planned
// motions and pending domain events. Events accumulate until DrainEvents is
// called; they are never flushed automatically and never returned twice.
//
// Mutations are serialized internally so a control goroutine may pause or
// cancel while the executor runs.
type Scan struct {
	ID   string
	Kind Kind

	mu       sync.Mutex
	status   Status
	points   []PointResult
	motions  []*AtomicMotion
	expected int
	step     *StepScanConfig
	fly      *FlyScanConfig
	rateHz   float64
	events   []eventbus.Event
	capacity int
}

// NewStepScan returns a PENDING step scan.
func NewStepScan() *Scan { return newScan(KindStep) }

// NewFlyScan returns a PENDING fly scan.
func NewFlyScan() *Scan { return newScan(KindFly) }

func newScan(kind Kind) *Scan {
	return &Scan{
		ID:       uuid.NewString(),
		Kind:     kind,
		status:   StatusPending,
		capacity: DefaultEventCapacity,
	}
}

// SetEventCapacity changes the pending event bound. Values below 1 are
// ignored.
func (s *Scan) SetEventCapacity(n int) {
	if n < 1 {
		return
	}
	s.mu.Lock()
	s.capacity = n
	s.mu.Unlock()
}

// StartStep validates cfg and moves the scan to RUNNING with an exact
// expected point count.
func (s *Scan) StartStep(cfg StepScanConfig) error {
	if s.Kind != KindStep {
		return &StateTransitionError{Entity: s.entity(), Op: "start as step scan", From: string(s.Status())}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsFinal() {
		return s.transitionErr("start")
	}
	s.step = &cfg
	s.begin(cfg.TotalPoints(), cfg)
	return nil
}

// StartFly validates cfg and moves the scan to RUNNING. The expected point
// count stays zero until SetExpectedPoints is called.
func (s *Scan) StartFly(cfg FlyScanConfig, acquisitionRateHz float64) error {
	if s.Kind != KindFly {
		return &StateTransitionError{Entity: s.entity(), Op: "start as fly scan", From: string(s.Status())}
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if math.IsNaN(acquisitionRateHz) || acquisitionRateHz <= 0 {
		return configErr("acquisition_rate_hz", "must be positive, got %v", acquisitionRateHz)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsFinal() {
		return s.transitionErr("start")
	}
	s.fly = &cfg
	s.rateHz = acquisitionRateHz
	s.begin(0, cfg)
	return nil
}

func (s *Scan) begin(expected int, cfg any) {
	s.status = StatusRunning
	s.points = nil
	s.expected = expected
	s.emit(ScanStarted{ScanID: s.ID, Kind: s.Kind, Config: cfg, ExpectedPoints: expected})
}

// SetExpectedPoints sets the point count that auto-completes the scan. For
// fly scans this is an estimate.
func (s *Scan) SetExpectedPoints(n int) error {
	if n < 0 {
		return configErr("expected_points", "must be >= 0, got %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsFinal() {
		return s.transitionErr("set expected points")
	}
	s.expected = n
	return nil
}

// AddPointResult appends r with the next point index. It is only valid while
// RUNNING. Reaching the expected point count completes the scan.
func (s *Scan) AddPointResult(r PointResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return s.transitionErr("add point")
	}
	if len(s.events) >= s.capacity {
		return ErrEventBufferFull
	}
	r.Index = len(s.points)
	s.points = append(s.points, r)
	s.emit(ScanPointAcquired{ScanID: s.ID, PointIndex: r.Index, Position: r.Position, Measurement: r})

	if s.expected > 0 && len(s.points) >= s.expected {
		s.status = StatusCompleted
		s.emit(ScanCompleted{ScanID: s.ID, TotalPoints: len(s.points)})
	}
	return nil
}

// Pause moves a RUNNING scan to PAUSED. It is a no-op when already paused or
// finished.
func (s *Scan) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.status == StatusPaused || s.status.IsFinal():
		return nil
	case s.status != StatusRunning:
		return s.transitionErr("pause")
	}
	s.status = StatusPaused
	s.emit(ScanPaused{ScanID: s.ID, CurrentPointIndex: len(s.points)})
	return nil
}

// Resume moves a PAUSED scan back to RUNNING. Any other state is an error.
func (s *Scan) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPaused {
		return s.transitionErr("resume")
	}
	s.status = StatusRunning
	s.emit(ScanResumed{ScanID: s.ID, ResumeFromPointIndex: len(s.points)})
	return nil
}

// Cancel moves any non-final scan to CANCELLED. Repeated calls are no-ops.
func (s *Scan) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsFinal() {
		return
	}
	s.status = StatusCancelled
	s.emit(ScanCancelled{ScanID: s.ID})
}

// Fail moves a RUNNING or PAUSED scan to FAILED.
func (s *Scan) Fail(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.IsActive() {
		return s.transitionErr("fail")
	}
	s.status = StatusFailed
	s.emit(ScanFailed{ScanID: s.ID, Reason: reason})
	return nil
}

// Complete moves a RUNNING or PAUSED scan to COMPLETED. Completing a
// completed scan is a no-op.
func (s *Scan) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.status == StatusCompleted:
		return nil
	case !s.status.IsActive():
		return s.transitionErr("complete")
	}
	s.status = StatusCompleted
	s.emit(ScanCompleted{ScanID: s.ID, TotalPoints: len(s.points)})
	return nil
}

// AddMotions appends planned motions to the scan.
func (s *Scan) AddMotions(ms ...*AtomicMotion) {
	s.mu.Lock()
	s.motions = append(s.motions, ms...)
	s.mu.Unlock()
}

// Motions returns the planned motions in order.
func (s *Scan) Motions() []*AtomicMotion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*AtomicMotion(nil), s.motions...)
}

// DrainEvents returns the pending events in emission order and clears the
// buffer. The caller owns the returned batch.
func (s *Scan) DrainEvents() []eventbus.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

// PendingEvents reports how many events await draining.
func (s *Scan) PendingEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *Scan) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Points returns a copy of the collected points.
func (s *Scan) Points() []PointResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PointResult(nil), s.points...)
}

func (s *Scan) PointCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points)
}

func (s *Scan) ExpectedPoints() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expected
}

// StepConfig returns the config passed to StartStep, if any.
func (s *Scan) StepConfig() (StepScanConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step == nil {
		return StepScanConfig{}, false
	}
	return *s.step, true
}

// FlyConfig returns the config passed to StartFly, if any.
func (s *Scan) FlyConfig() (FlyScanConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fly == nil {
		return FlyScanConfig{}, false
	}
	return *s.fly, true
}

// AcquisitionRateHz is the rate a fly scan was started with.
func (s *Scan) AcquisitionRateHz() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateHz
}

func (s *Scan) emit(e eventbus.Event) {
	s.events = append(s.events, e)
}

func (s *Scan) entity() string {
	return "scan " + s.ID
}

func (s *Scan) transitionErr(op string) error {
	return &StateTransitionError{Entity: s.entity(), Op: op, From: string(s.status)}
}
