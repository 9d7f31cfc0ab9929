package scan

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/scanbench/internal/geom"
)

// MotionState is the execution state of an AtomicMotion. Transitions only
// move forward: PENDING -> EXECUTING -> COMPLETED|FAILED, or PENDING -> FAILED.
type MotionState string

const (
	MotionPending   MotionState = "PENDING"
	MotionExecuting MotionState = "EXECUTING"
	MotionCompleted MotionState = "COMPLETED"
	MotionFailed    MotionState = "FAILED"
)

// AtomicMotion is one relative displacement of the probe.
type AtomicMotion struct {
	ID      string
	DX      float64
	DY      float64
	Profile MotionProfile

	kin kinematics

	mu          sync.Mutex
	state       MotionState
	executionID string
	failure     string
}

// NewAtomicMotion builds a PENDING motion and computes its duration estimate.
func NewAtomicMotion(dx, dy float64, profile MotionProfile) (*AtomicMotion, error) {
	if math.IsNaN(dx) || math.IsInf(dx, 0) || math.IsNaN(dy) || math.IsInf(dy, 0) {
		return nil, configErr("atomic_motion", "displacement must be finite, got (%v, %v)", dx, dy)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &AtomicMotion{
		ID:      uuid.NewString(),
		DX:      dx,
		DY:      dy,
		Profile: profile,
		kin:     planKinematics(math.Hypot(dx, dy), profile),
		state:   MotionPending,
	}, nil
}

// Distance is the Euclidean length of the displacement.
func (m *AtomicMotion) Distance() float64 { return m.kin.distance }

// EstimatedDurationSeconds is the trapezoidal travel time estimate.
func (m *AtomicMotion) EstimatedDurationSeconds() float64 { return m.kin.total }

// EstimatedDuration is EstimatedDurationSeconds as a time.Duration.
func (m *AtomicMotion) EstimatedDuration() time.Duration {
	return time.Duration(m.kin.total * float64(time.Second))
}

func (m *AtomicMotion) State() MotionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ExecutionMotionID is the hardware motion id recorded by Start.
func (m *AtomicMotion) ExecutionMotionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executionID
}

// FailureReason is the reason passed to Fail.
func (m *AtomicMotion) FailureReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

// Start moves a PENDING motion to EXECUTING and records the hardware id.
func (m *AtomicMotion) Start(executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != MotionPending {
		return m.transitionErr("start")
	}
	m.state = MotionExecuting
	m.executionID = executionID
	return nil
}

// Complete moves an EXECUTING motion to COMPLETED.
func (m *AtomicMotion) Complete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != MotionExecuting {
		return m.transitionErr("complete")
	}
	m.state = MotionCompleted
	return nil
}

// Fail marks a PENDING or EXECUTING motion as FAILED.
func (m *AtomicMotion) Fail(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != MotionPending && m.state != MotionExecuting {
		return m.transitionErr("fail")
	}
	m.state = MotionFailed
	m.failure = reason
	return nil
}

func (m *AtomicMotion) transitionErr(op string) error {
	return &StateTransitionError{Entity: "atomic motion " + m.ID, Op: op, From: string(m.state)}
}

func (m *AtomicMotion) String() string {
	return fmt.Sprintf("motion %s (%.3f, %.3f) est=%.3fs", m.ID, m.DX, m.DY, m.kin.total)
}

// VelocityAt returns the planned speed t seconds after the motion starts.
// Outside [0, EstimatedDurationSeconds] it is zero.
func (m *AtomicMotion) VelocityAt(t float64) float64 {
	return m.kin.velocityAt(t)
}

// AcquisitionPositions samples the planned path every 1/rateHz seconds
// starting from start, including the start point and excluding any sample
// past the end of the motion.
func (m *AtomicMotion) AcquisitionPositions(start geom.Position2D, rateHz float64) []geom.Position2D {
	if rateHz <= 0 || m.kin.distance == 0 {
		return nil
	}
	ux, uy := m.DX/m.kin.distance, m.DY/m.kin.distance
	dt := 1 / rateHz
	n := int(math.Floor(m.kin.total/dt)) + 1
	out := make([]geom.Position2D, 0, n)
	for i := 0; i < n; i++ {
		s := m.kin.distanceAt(float64(i) * dt)
		out = append(out, start.Add(ux*s, uy*s))
	}
	return out
}

// EstimateDuration returns the travel time in seconds for distance mm under
// profile. Non-positive distances take no time.
func EstimateDuration(distance float64, profile MotionProfile) float64 {
	return planKinematics(distance, profile).total
}

// kinematics is the planned speed profile of one move: accelerate from v0 to
// peak, cruise, decelerate back to v0.
type kinematics struct {
	distance float64
	v0, peak float64
	acc, dec float64
	tAcc     float64
	tCruise  float64
	tDec     float64
	total    float64
}

func planKinematics(distance float64, p MotionProfile) kinematics {
	k := kinematics{distance: distance, v0: p.MinSpeed, acc: p.Acceleration, dec: p.Deceleration}
	if distance <= 0 {
		return k
	}
	v0, vt := p.MinSpeed, p.TargetSpeed
	accDist := (vt*vt - v0*v0) / (2 * p.Acceleration)
	decDist := (vt*vt - v0*v0) / (2 * p.Deceleration)

	if accDist+decDist <= distance {
		k.peak = vt
		k.tCruise = (distance - accDist - decDist) / vt
	} else {
		// triangular: the move is too short to reach target speed
		k.peak = math.Sqrt(v0*v0 + 2*distance*p.Acceleration*p.Deceleration/(p.Acceleration+p.Deceleration))
	}
	k.tAcc = (k.peak - v0) / p.Acceleration
	k.tDec = (k.peak - v0) / p.Deceleration
	k.total = k.tAcc + k.tCruise + k.tDec
	return k
}

func (k kinematics) velocityAt(t float64) float64 {
	switch {
	case k.distance <= 0 || t < 0 || t > k.total:
		return 0
	case t < k.tAcc:
		return k.v0 + k.acc*t
	case t < k.tAcc+k.tCruise:
		return k.peak
	default:
		return k.peak - k.dec*(t-k.tAcc-k.tCruise)
	}
}

func (k kinematics) distanceAt(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= k.total {
		return k.distance
	}
	if t < k.tAcc {
		return k.v0*t + 0.5*k.acc*t*t
	}
	s := k.v0*k.tAcc + 0.5*k.acc*k.tAcc*k.tAcc
	if t < k.tAcc+k.tCruise {
		return s + k.peak*(t-k.tAcc)
	}
	s += k.peak * k.tCruise
	td := t - k.tAcc - k.tCruise
	return math.Min(k.distance, s+k.peak*td-0.5*k.dec*td*td)
}
