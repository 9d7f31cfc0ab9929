// Package executor runs scans: it walks the trajectory, drives the motion
// queue, acquires and averages samples, and publishes the scan's domain
// events after every state change.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/scanbench/internal/eventbus"
	"github.com/banshee-data/scanbench/internal/geom"
	"github.com/banshee-data/scanbench/internal/monitoring"
	"github.com/banshee-data/scanbench/internal/motion"
	"github.com/banshee-data/scanbench/internal/scan"
	"github.com/banshee-data/scanbench/internal/timeutil"
)

var logf = monitoring.Logger("executor")

// ErrScanCancelled is returned by Execute when the scan was cancelled.
var ErrScanCancelled = errors.New("scan cancelled")

const (
	DefaultMotionTimeout = 30 * time.Second
	DefaultPollInterval  = 50 * time.Millisecond
)

// ExecutionError reports a scan that failed while running.
type ExecutionError struct {
	ScanID string
	Reason string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("scan %s failed: %s", e.ScanID, e.Reason)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// AcquisitionPort produces one raw measurement per call.
type AcquisitionPort interface {
	AcquireSample(ctx context.Context) (scan.Measurement, error)
}

// Bus is the event bus as seen by executors.
type Bus interface {
	eventbus.Publisher
	eventbus.Subscriber
}

// Options tunes executor waits. Zero values take the defaults.
type Options struct {
	MotionTimeout time.Duration
	PollInterval  time.Duration
	Selector      scan.ProfileSelector
	Clock         timeutil.Clock
}

func (o Options) withDefaults() Options {
	if o.MotionTimeout <= 0 {
		o.MotionTimeout = DefaultMotionTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Selector == (scan.ProfileSelector{}) {
		o.Selector = scan.DefaultProfileSelector()
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// runner holds what step and fly execution share.
type runner struct {
	motion motion.Port
	acq    AcquisitionPort
	bus    Bus
	opts   Options
}

// flush drains the aggregate's pending events onto the bus.
func (r *runner) flush(s *scan.Scan) {
	for _, e := range s.DrainEvents() {
		r.bus.Publish(e.Topic(), e)
	}
}

// errPaused reports a point rejected because the scan was paused after the
// caller last saw it running.
var errPaused = errors.New("scan paused before the point was recorded")

// addPoint appends a result, flushing once and retrying if the event buffer
// is full. It returns errPaused when a pause from another goroutine won the
// race against the append.
func (r *runner) addPoint(s *scan.Scan, p scan.PointResult) error {
	err := s.AddPointResult(p)
	if errors.Is(err, scan.ErrEventBufferFull) {
		r.flush(s)
		err = s.AddPointResult(p)
	}
	var te *scan.StateTransitionError
	if errors.As(err, &te) {
		// a pause and resume may both have landed since the append
		if st := s.Status(); st == scan.StatusPaused || st == scan.StatusRunning {
			return errPaused
		}
	}
	if err != nil {
		return err
	}
	r.flush(s)
	return nil
}

// recordPoint adds p, waiting out any pause that lands between the caller's
// checkpoint and the append.
func (r *runner) recordPoint(ctx context.Context, s *scan.Scan, p scan.PointResult) error {
	for {
		err := r.addPoint(s, p)
		if !errors.Is(err, errPaused) {
			return err
		}
		if err := r.checkpoint(ctx, s); err != nil {
			return err
		}
	}
}

// finish maps err onto the scan's terminal state and publishes the result.
func (r *runner) finish(s *scan.Scan, err error) error {
	if err == nil {
		if s.Status() != scan.StatusCompleted {
			if cerr := s.Complete(); cerr != nil {
				err = cerr
			}
		}
		if err == nil {
			r.flush(s)
			return nil
		}
	}
	if errors.Is(err, ErrScanCancelled) || s.Status() == scan.StatusCancelled {
		s.Cancel()
		r.flush(s)
		logf("scan %s cancelled after %d points", s.ID, s.PointCount())
		return ErrScanCancelled
	}
	if ferr := s.Fail(err.Error()); ferr != nil {
		logf("scan %s: %v", s.ID, ferr)
	}
	r.flush(s)
	logf("scan %s failed: %v", s.ID, err)
	return &ExecutionError{ScanID: s.ID, Reason: err.Error(), Err: err}
}

// errCompleted signals a scan that finished during a checkpoint.
var errCompleted = errors.New("scan already completed")

// checkpoint blocks while the scan is paused and reports cancellation or a
// terminal state.
func (r *runner) checkpoint(ctx context.Context, s *scan.Scan) error {
	for {
		if ctx.Err() != nil {
			s.Cancel()
		}
		switch st := s.Status(); st {
		case scan.StatusRunning:
			return nil
		case scan.StatusPaused:
			r.flush(s)
			timeutil.SleepContext(ctx, r.opts.Clock, r.opts.PollInterval)
		case scan.StatusCancelled:
			return ErrScanCancelled
		case scan.StatusCompleted:
			return errCompleted
		default:
			return fmt.Errorf("scan is %s", st)
		}
	}
}

// motionFeed forwards motion events to a channel for the executor goroutine.
type motionFeed struct {
	bus  Bus
	subs map[string]string
	C    chan any
}

func newMotionFeed(bus Bus, capacity int) *motionFeed {
	f := &motionFeed{bus: bus, subs: map[string]string{}, C: make(chan any, capacity)}
	for _, topic := range []string{motion.TopicMotionStarted, motion.TopicMotionCompleted, motion.TopicMotionFailed} {
		f.subs[topic] = bus.Subscribe(topic, func(e any) {
			select {
			case f.C <- e:
			default:
				logf("motion event dropped, feed full: %T", e)
			}
		})
	}
	return f
}

func (f *motionFeed) Close() {
	for topic, id := range f.subs {
		f.bus.Unsubscribe(topic, id)
	}
}

// awaitMotion waits for the completion or failure of motion id. Cancelling
// the scan while waiting stops the stage.
func (r *runner) awaitMotion(ctx context.Context, s *scan.Scan, feed *motionFeed, id string) error {
	clock := r.opts.Clock
	timeout := clock.NewTimer(r.opts.MotionTimeout)
	defer timeout.Stop()
	for {
		if ctx.Err() != nil || s.Status() == scan.StatusCancelled {
			if err := r.motion.Stop(false); err != nil {
				logf("stop after cancel: %v", err)
			}
			return ErrScanCancelled
		}
		poll := clock.NewTimer(r.opts.PollInterval)
		select {
		case e := <-feed.C:
			switch e := e.(type) {
			case motion.MotionCompleted:
				if e.MotionID == id {
					poll.Stop()
					return nil
				}
			case motion.MotionFailed:
				if e.MotionID == id {
					poll.Stop()
					return fmt.Errorf("motion %s failed: %s", id, e.Error)
				}
			}
		case <-poll.C():
		case <-timeout.C():
			poll.Stop()
			return fmt.Errorf("motion %s: %w", id, motion.ErrTimeout)
		case <-ctx.Done():
		}
		poll.Stop()
	}
}

// moveAndWait queues a move to target and waits for it.
func (r *runner) moveAndWait(ctx context.Context, s *scan.Scan, feed *motionFeed, target geom.Position2D) error {
	id, err := r.motion.MoveTo(target)
	if err != nil {
		return fmt.Errorf("move to %v: %w", target, err)
	}
	return r.awaitMotion(ctx, s, feed, id)
}
