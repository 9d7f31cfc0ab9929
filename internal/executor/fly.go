package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/scanbench/internal/acquisition"
	"github.com/banshee-data/scanbench/internal/flyscan"
	"github.com/banshee-data/scanbench/internal/geom"
	"github.com/banshee-data/scanbench/internal/motion"
	"github.com/banshee-data/scanbench/internal/scan"
)

// profiledMover is implemented by motion ports that accept a per-move
// profile, such as motion.Adapter.
type profiledMover interface {
	MoveToWithProfile(target geom.Position2D, profile scan.MotionProfile) (string, error)
}

// fixedProfile selects the same profile for every distance.
type fixedProfile scan.MotionProfile

func (f fixedProfile) SelectForDistance(float64) scan.MotionProfile { return scan.MotionProfile(f) }

// FlyRunStats summarises the last fly scan.
type FlyRunStats struct {
	Motions        scan.TrackerStats
	SamplesTaken   int64
	DroppedSamples int
}

// FlyExecutor runs fly scans: the stage sweeps the trajectory without
// stopping while samples are acquired continuously.
type FlyExecutor struct {
	runner
	validator flyscan.Validator

	mu   sync.Mutex
	last FlyRunStats
}

// NewFlyExecutor returns a FlyExecutor. Zero fields of v take the
// flyscan.NewValidator defaults, with the executor's clock.
func NewFlyExecutor(m motion.Port, acq AcquisitionPort, bus Bus, v flyscan.Validator, opts Options) *FlyExecutor {
	opts = opts.withDefaults()
	if v.Clock == nil {
		v.Clock = opts.Clock
	}
	return &FlyExecutor{
		runner:    runner{motion: m, acq: acq, bus: bus, opts: opts},
		validator: v,
	}
}

// LastRun returns statistics of the most recent Execute.
func (e *FlyExecutor) LastRun() FlyRunStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Execute checks cfg against the measured acquisition capability, then runs
// the scan. Infeasible configurations fail with a *scan.ConfigurationError
// before the scan starts. The scan completes on whichever comes first: the
// estimated point count, or the last motion finishing.
func (e *FlyExecutor) Execute(ctx context.Context, s *scan.Scan, cfg scan.FlyScanConfig, capability flyscan.Capability) error {
	cfg = cfg.WithDefaults()
	res := e.validator.Validate(cfg, capability)
	for _, w := range res.Warnings {
		logf("fly scan %s: %s", s.ID, w)
	}
	if err := res.Err(); err != nil {
		return err
	}

	positions, err := scan.FlyTrajectory(cfg)
	if err != nil {
		return err
	}
	motions, err := scan.CreateMotions(positions, fixedProfile(cfg.Profile))
	if err != nil {
		return err
	}
	if err := s.StartFly(cfg, capability.MeasuredRateHz); err != nil {
		return err
	}
	expected := flyscan.EstimateTotalPoints(cfg, capability)
	if err := s.SetExpectedPoints(expected); err != nil {
		return e.finish(s, err)
	}
	s.AddMotions(motions...)
	e.flush(s)
	logf("fly scan %s: %d motions, ~%d points at %.1f Hz", s.ID, len(motions), expected, capability.MeasuredRateHz)

	feed := newMotionFeed(e.bus, 3*len(motions)+16)
	defer feed.Close()

	stop := context.AfterFunc(ctx, s.Cancel)
	defer stop()

	return e.finish(s, e.run(ctx, s, cfg, feed, positions, motions))
}

type flyRun struct {
	tracker   *scan.MotionStateTracker
	byID      map[string]*scan.AtomicMotion
	remaining int
	lastPos   geom.Position2D
	dropped   int
}

func (e *FlyExecutor) run(ctx context.Context, s *scan.Scan, cfg scan.FlyScanConfig, feed *motionFeed, positions []geom.Position2D, motions []*scan.AtomicMotion) error {
	if err := e.moveAndWait(ctx, s, feed, positions[0]); err != nil {
		return fmt.Errorf("approach: %w", err)
	}

	acqCtx, stopAcq := context.WithCancel(ctx)
	cont := acquisition.NewContinuous(e.acq, s.AcquisitionRateHz(), e.opts.Clock)
	sampleCh := make(chan scan.Measurement, 64)
	acqErr := make(chan error, 1)
	go func() { acqErr <- cont.Run(acqCtx, sampleCh) }()

	r := &flyRun{
		tracker:   scan.NewMotionStateTracker(),
		byID:      make(map[string]*scan.AtomicMotion, len(motions)),
		remaining: len(motions),
		lastPos:   positions[0],
	}
	defer func() {
		stopAcq()
		for range sampleCh {
		}
		e.mu.Lock()
		e.last = FlyRunStats{Motions: r.tracker.Statistics(), SamplesTaken: cont.Samples(), DroppedSamples: r.dropped}
		e.mu.Unlock()
		if r.dropped > 0 {
			logf("fly scan %s: dropped %d samples while paused", s.ID, r.dropped)
		}
	}()

	for i, m := range motions {
		id, err := e.enqueue(positions[i+1], cfg.Profile)
		if err != nil {
			return fmt.Errorf("enqueue motion %d: %w", i, err)
		}
		r.byID[id] = m
	}

	samples := (<-chan scan.Measurement)(sampleCh)
	clock := e.opts.Clock
	for {
		if ctx.Err() != nil || s.Status() == scan.StatusCancelled {
			e.haltStage()
			return ErrScanCancelled
		}
		if r.remaining == 0 {
			return nil
		}

		poll := clock.NewTimer(e.opts.PollInterval)
		var (
			done bool
			err  error
		)
		select {
		case m, ok := <-samples:
			if !ok {
				samples = nil
				break
			}
			done, err = e.onSample(s, r, m)
		case ev := <-feed.C:
			err = e.onMotionEvent(r, ev)
		case aerr := <-acqErr:
			acqErr = nil
			if aerr != nil {
				err = fmt.Errorf("acquisition: %w", aerr)
			}
		case <-poll.C():
		case <-ctx.Done():
		}
		poll.Stop()
		if err != nil {
			e.haltStage()
			return err
		}
		if done {
			if r.remaining > 0 {
				e.haltStage()
			}
			return nil
		}
	}
}

func (e *FlyExecutor) enqueue(target geom.Position2D, p scan.MotionProfile) (string, error) {
	if pm, ok := e.motion.(profiledMover); ok {
		return pm.MoveToWithProfile(target, p)
	}
	return e.motion.MoveTo(target)
}

func (e *FlyExecutor) haltStage() {
	if err := e.motion.Stop(false); err != nil {
		logf("stop stage: %v", err)
	}
}

// onSample records one sample at the stage's current position. It reports
// done once the aggregate has completed on its estimated point count.
func (e *FlyExecutor) onSample(s *scan.Scan, r *flyRun, m scan.Measurement) (bool, error) {
	switch s.Status() {
	case scan.StatusPaused:
		r.dropped++
		return false, nil
	case scan.StatusRunning:
	default:
		return false, nil
	}

	pos, err := e.motion.CurrentPosition()
	if err != nil {
		pos = r.lastPos
	} else {
		r.lastPos = pos
	}
	p := scan.PointResult{
		Position:    pos,
		Mean:        m.Values,
		StdDev:      make([]float64, len(m.Values)),
		SampleCount: 1,
		Timestamp:   m.Timestamp,
	}
	if err := e.addPoint(s, p); err != nil {
		if errors.Is(err, errPaused) {
			r.dropped++
			return false, nil
		}
		return false, err
	}
	return s.Status() == scan.StatusCompleted, nil
}

func (e *FlyExecutor) onMotionEvent(r *flyRun, ev any) error {
	switch ev := ev.(type) {
	case motion.MotionStarted:
		if m, ok := r.byID[ev.MotionID]; ok {
			if err := r.tracker.TrackStarted(ev.MotionID, m); err != nil {
				logf("track %s: %v", ev.MotionID, err)
			}
		}
	case motion.MotionCompleted:
		if _, ok := r.byID[ev.MotionID]; ok {
			actual := time.Duration(ev.DurationMs * float64(time.Millisecond))
			if err := r.tracker.TrackCompleted(ev.MotionID, actual); err != nil {
				logf("track %s: %v", ev.MotionID, err)
			}
			r.remaining--
		}
	case motion.MotionFailed:
		if _, ok := r.byID[ev.MotionID]; ok {
			if err := r.tracker.TrackFailed(ev.MotionID, ev.Error); err != nil {
				logf("track %s: %v", ev.MotionID, err)
			}
			return fmt.Errorf("motion %s failed: %s", ev.MotionID, ev.Error)
		}
	}
	return nil
}
