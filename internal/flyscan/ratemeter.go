package flyscan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/scanbench/internal/monitoring"
	"github.com/banshee-data/scanbench/internal/scan"
	"github.com/banshee-data/scanbench/internal/timeutil"
)

var logf = monitoring.Logger("flyscan")

// ErrInsufficientSamples is returned when a measurement window yields fewer
// than MinSampleCount samples.
var ErrInsufficientSamples = errors.New("insufficient samples for rate measurement")

// Sampler is the acquisition source whose throughput is measured.
type Sampler interface {
	AcquireSample(ctx context.Context) (scan.Measurement, error)
}

// RateMeter times back-to-back acquisitions to build a Capability and keeps
// the latest result while it is fresh.
type RateMeter struct {
	Clock  timeutil.Clock
	Warmup int
	Window time.Duration
	MaxAge time.Duration

	mu     sync.Mutex
	cached *Capability
}

// NewRateMeter returns a meter with a 10 sample warmup, a 5 s window and a
// 300 s cache lifetime.
func NewRateMeter(clock timeutil.Clock) *RateMeter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RateMeter{
		Clock:  clock,
		Warmup: 10,
		Window: 5 * time.Second,
		MaxAge: DefaultMaxAge,
	}
}

// Measure discards Warmup samples, then acquires continuously for Window
// and derives the rate from the inter-sample intervals.
func (m *RateMeter) Measure(ctx context.Context, s Sampler) (Capability, error) {
	for i := 0; i < m.Warmup; i++ {
		if _, err := s.AcquireSample(ctx); err != nil {
			return Capability{}, fmt.Errorf("warmup sample %d: %w", i, err)
		}
	}

	start := m.Clock.Now()
	var stamps []time.Time
	for m.Clock.Since(start) < m.Window {
		if err := ctx.Err(); err != nil {
			return Capability{}, err
		}
		if _, err := s.AcquireSample(ctx); err != nil {
			return Capability{}, fmt.Errorf("sample %d: %w", len(stamps), err)
		}
		stamps = append(stamps, m.Clock.Now())
	}
	elapsed := m.Clock.Since(start)

	if len(stamps) < MinSampleCount {
		return Capability{}, fmt.Errorf("%w: got %d, need %d", ErrInsufficientSamples, len(stamps), MinSampleCount)
	}

	intervals := make([]float64, len(stamps)-1)
	for i := 1; i < len(stamps); i++ {
		intervals[i-1] = stamps[i].Sub(stamps[i-1]).Seconds()
	}
	meanInterval, variance := stat.MeanVariance(intervals, nil)
	if meanInterval <= 0 {
		return Capability{}, fmt.Errorf("%w: zero mean interval", ErrInsufficientSamples)
	}
	stdInterval := math.Sqrt(math.Max(0, variance))

	c, err := NewCapability(1/meanInterval, stdInterval/(meanInterval*meanInterval), len(stamps), m.Clock.Now(), elapsed)
	if err != nil {
		return Capability{}, err
	}
	logf("measured acquisition rate %s", c)

	m.mu.Lock()
	m.cached = &c
	m.mu.Unlock()
	return c, nil
}

// Cached returns the last measurement if it is no older than MaxAge.
func (m *RateMeter) Cached() (Capability, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached == nil || !m.cached.IsRecent(m.Clock.Now(), m.MaxAge) {
		return Capability{}, false
	}
	return *m.cached, true
}

// MeasureOrCached returns the cached capability unless it is stale or force
// is set, in which case it measures again.
func (m *RateMeter) MeasureOrCached(ctx context.Context, s Sampler, force bool) (Capability, error) {
	if !force {
		if c, ok := m.Cached(); ok {
			logf("using cached acquisition rate %s", c)
			return c, nil
		}
	}
	return m.Measure(ctx, s)
}
