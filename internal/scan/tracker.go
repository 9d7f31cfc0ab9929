package scan

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownMotion is returned for motion ids the tracker has not seen.
var ErrUnknownMotion = errors.New("unknown motion id")

// MotionStateTracker correlates hardware motion ids with the AtomicMotions
// they execute so actual travel time can be compared to the estimate.
type MotionStateTracker struct {
	mu   sync.Mutex
	byID map[string]*trackedMotion
}

type trackedMotion struct {
	motion *AtomicMotion
	actual time.Duration
	done   bool
}

// TrackerStats summarizes tracked motions by state.
type TrackerStats struct {
	Total     int
	Executing int
	Completed int
	Failed    int
	// MeanOverrun is the average of actual minus estimated duration over
	// completed motions.
	MeanOverrun time.Duration
}

func NewMotionStateTracker() *MotionStateTracker {
	return &MotionStateTracker{byID: make(map[string]*trackedMotion)}
}

// TrackStarted binds motionID to m and moves m to EXECUTING.
func (t *MotionStateTracker) TrackStarted(motionID string, m *AtomicMotion) error {
	if err := m.Start(motionID); err != nil {
		return err
	}
	t.mu.Lock()
	t.byID[motionID] = &trackedMotion{motion: m}
	t.mu.Unlock()
	return nil
}

// TrackCompleted completes the motion bound to motionID and records how long
// it actually took.
func (t *MotionStateTracker) TrackCompleted(motionID string, actual time.Duration) error {
	t.mu.Lock()
	tm, ok := t.byID[motionID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("complete %s: %w", motionID, ErrUnknownMotion)
	}
	if err := tm.motion.Complete(); err != nil {
		return err
	}
	t.mu.Lock()
	tm.actual = actual
	tm.done = true
	t.mu.Unlock()
	return nil
}

// TrackFailed fails the motion bound to motionID.
func (t *MotionStateTracker) TrackFailed(motionID, reason string) error {
	t.mu.Lock()
	tm, ok := t.byID[motionID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("fail %s: %w", motionID, ErrUnknownMotion)
	}
	return tm.motion.Fail(reason)
}

// Lookup returns the motion bound to motionID.
func (t *MotionStateTracker) Lookup(motionID string) (*AtomicMotion, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, ok := t.byID[motionID]
	if !ok {
		return nil, false
	}
	return tm.motion, true
}

// Durations returns the recorded actual and the estimated duration of a
// completed motion.
func (t *MotionStateTracker) Durations(motionID string) (actual, estimated time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, found := t.byID[motionID]
	if !found || !tm.done {
		return 0, 0, false
	}
	return tm.actual, tm.motion.EstimatedDuration(), true
}

// Statistics counts tracked motions by state.
func (t *MotionStateTracker) Statistics() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	var st TrackerStats
	var overrun time.Duration
	for _, tm := range t.byID {
		st.Total++
		switch tm.motion.State() {
		case MotionExecuting:
			st.Executing++
		case MotionCompleted:
			st.Completed++
			overrun += tm.actual - tm.motion.EstimatedDuration()
		case MotionFailed:
			st.Failed++
		}
	}
	if st.Completed > 0 {
		st.MeanOverrun = overrun / time.Duration(st.Completed)
	}
	return st
}
