package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/scanbench/internal/geom"
	"github.com/banshee-data/scanbench/internal/motion"
	"github.com/banshee-data/scanbench/internal/scan"
	"github.com/banshee-data/scanbench/internal/timeutil"
)

// StepExecutor runs step scans: move, settle, average, record, per point.
type StepExecutor struct {
	runner
}

func NewStepExecutor(m motion.Port, acq AcquisitionPort, bus Bus, opts Options) *StepExecutor {
	return &StepExecutor{runner{motion: m, acq: acq, bus: bus, opts: opts.withDefaults()}}
}

// Execute runs s with cfg on the calling goroutine. It returns nil once the
// scan completes, ErrScanCancelled if it was cancelled (including through
// ctx), a *scan.ConfigurationError if cfg is invalid, or an
// *ExecutionError.
func (e *StepExecutor) Execute(ctx context.Context, s *scan.Scan, cfg scan.StepScanConfig) error {
	positions, err := scan.StepTrajectory(cfg)
	if err != nil {
		return err
	}
	motions, err := scan.CreateMotions(positions, e.opts.Selector)
	if err != nil {
		return err
	}
	if err := s.StartStep(cfg); err != nil {
		return err
	}
	s.AddMotions(motions...)
	e.flush(s)
	logf("step scan %s: %d points, %s pattern, est. %s", s.ID, len(positions), cfg.Pattern, cfg.EstimatedDuration())

	feed := newMotionFeed(e.bus, 64)
	defer feed.Close()

	stop := context.AfterFunc(ctx, s.Cancel)
	defer stop()

	return e.finish(s, e.run(ctx, s, cfg, feed, positions))
}

func (e *StepExecutor) run(ctx context.Context, s *scan.Scan, cfg scan.StepScanConfig, feed *motionFeed, positions []geom.Position2D) error {
	clock := e.opts.Clock
	for i, pos := range positions {
		if err := e.checkpoint(ctx, s); err != nil {
			return doneOrErr(err)
		}
		if err := e.moveAndWait(ctx, s, feed, pos); err != nil {
			return fmt.Errorf("point %d: %w", i, err)
		}
		if err := timeutil.SleepContext(ctx, clock, cfg.StabilizationDelay); err != nil {
			return ErrScanCancelled
		}

		samples := make([]scan.Measurement, 0, cfg.AveragingPerPosition)
		for k := 0; k < cfg.AveragingPerPosition; k++ {
			m, err := e.acq.AcquireSample(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ErrScanCancelled
				}
				return fmt.Errorf("point %d sample %d: %w", i, k, err)
			}
			samples = append(samples, m)
		}
		result, err := scan.NewPointResult(pos, samples, clock.Now())
		if err != nil {
			return fmt.Errorf("point %d: %w", i, err)
		}

		if err := e.checkpoint(ctx, s); err != nil {
			return doneOrErr(err)
		}
		if err := e.recordPoint(ctx, s, result); err != nil {
			if errors.Is(err, errCompleted) || errors.Is(err, ErrScanCancelled) {
				return doneOrErr(err)
			}
			return fmt.Errorf("point %d: %w", i, err)
		}
	}
	return nil
}

// doneOrErr treats a scan completed under us as success.
func doneOrErr(err error) error {
	if errors.Is(err, errCompleted) {
		return nil
	}
	return err
}
