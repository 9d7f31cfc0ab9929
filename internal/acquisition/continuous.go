package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/scanbench/internal/scan"
	"github.com/banshee-data/scanbench/internal/timeutil"
)

// DefaultMaxConsecutiveErrors ends a continuous run after this many failed
// samples in a row.
const DefaultMaxConsecutiveErrors = 5

// Continuous samples Source at RateHz until stopped. The loop sleeps one
// period after each sample, so acquisition time adds to the period and the
// effective rate drifts low.
type Continuous struct {
	Source               Source
	RateHz               float64
	Clock                timeutil.Clock
	MaxConsecutiveErrors int

	samples atomic.Int64
	errs    atomic.Int64
}

func NewContinuous(src Source, rateHz float64, clock timeutil.Clock) *Continuous {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Continuous{Source: src, RateHz: rateHz, Clock: clock, MaxConsecutiveErrors: DefaultMaxConsecutiveErrors}
}

// Run delivers samples on out until ctx is done, then closes out. It returns
// nil on cancellation and an error when the source keeps failing.
func (c *Continuous) Run(ctx context.Context, out chan<- scan.Measurement) error {
	defer close(out)
	if !(c.RateHz > 0) {
		return fmt.Errorf("acquisition rate must be positive, got %v", c.RateHz)
	}
	period := time.Duration(float64(time.Second) / c.RateHz)
	maxErrs := c.MaxConsecutiveErrors
	if maxErrs <= 0 {
		maxErrs = DefaultMaxConsecutiveErrors
	}

	consecutive := 0
	for {
		m, err := c.Source.AcquireSample(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			c.errs.Add(1)
			consecutive++
			logf("sample failed (%d in a row): %v", consecutive, err)
			if consecutive >= maxErrs {
				return fmt.Errorf("acquisition stopped after %d consecutive failures: %w", consecutive, err)
			}
		default:
			consecutive = 0
			select {
			case out <- m:
				c.samples.Add(1)
			case <-ctx.Done():
				return nil
			}
		}
		if err := timeutil.SleepContext(ctx, c.Clock, period); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// Samples is the number of samples delivered.
func (c *Continuous) Samples() int64 { return c.samples.Load() }

// Errors is the number of failed samples.
func (c *Continuous) Errors() int64 { return c.errs.Load() }
