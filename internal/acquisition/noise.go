// Package acquisition provides measurement sources for the probe and the
// continuous sampling loop used by fly scans.
package acquisition

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/scanbench/internal/geom"
	"github.com/banshee-data/scanbench/internal/monitoring"
	"github.com/banshee-data/scanbench/internal/scan"
	"github.com/banshee-data/scanbench/internal/timeutil"
)

var logf = monitoring.Logger("acquisition")

// Source produces one raw measurement per call.
type Source interface {
	AcquireSample(ctx context.Context) (scan.Measurement, error)
}

// PositionFunc reports where the probe currently is.
type PositionFunc func() (geom.Position2D, error)

// FieldFunc is the noiseless channel vector at a position.
type FieldFunc func(p geom.Position2D) []float64

// NoiseOptions configures a NoiseSource.
type NoiseOptions struct {
	Channels   int           // defaults to len(scan.DefaultChannels)
	Sigma      float64       // per-channel Gaussian noise, volts
	SampleTime time.Duration // simulated conversion time per sample
	Seed       uint64
	Field      FieldFunc    // nil gives a zero field
	Position   PositionFunc // required when Field is set
	Clock      timeutil.Clock
}

// NoiseSource simulates the lock-in probe: a position-dependent field plus
// Gaussian noise on every channel.
type NoiseSource struct {
	opts NoiseOptions

	mu    sync.Mutex
	noise distuv.Normal
	count int
}

func NewNoiseSource(opts NoiseOptions) (*NoiseSource, error) {
	if opts.Channels <= 0 {
		opts.Channels = len(scan.DefaultChannels)
	}
	if opts.Sigma < 0 {
		return nil, errors.New("noise sigma must be >= 0")
	}
	if opts.Field != nil && opts.Position == nil {
		return nil, errors.New("a field needs a position source")
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &NoiseSource{
		opts: opts,
		noise: distuv.Normal{
			Mu:    0,
			Sigma: opts.Sigma,
			Src:   rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15),
		},
	}, nil
}

func (n *NoiseSource) AcquireSample(ctx context.Context) (scan.Measurement, error) {
	if err := timeutil.SleepContext(ctx, n.opts.Clock, n.opts.SampleTime); err != nil {
		return scan.Measurement{}, err
	}

	values := make([]float64, n.opts.Channels)
	if n.opts.Field != nil {
		pos, err := n.opts.Position()
		if err != nil {
			return scan.Measurement{}, err
		}
		copy(values, n.opts.Field(pos))
	}

	n.mu.Lock()
	if n.opts.Sigma > 0 {
		for i := range values {
			values[i] += n.noise.Rand()
		}
	}
	n.count++
	n.mu.Unlock()

	return scan.Measurement{Timestamp: n.opts.Clock.Now(), Values: values}, nil
}

// Count is the number of samples produced so far.
func (n *NoiseSource) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

// DipoleField is a smooth test field: each channel pair responds to the
// distance from center with a different phase.
func DipoleField(center geom.Position2D, amplitude, widthMM float64) FieldFunc {
	return func(p geom.Position2D) []float64 {
		d := p.DistanceTo(center)
		g := amplitude / (1 + (d*d)/(widthMM*widthMM))
		dx, dy := p.Sub(center)
		out := make([]float64, len(scan.DefaultChannels))
		out[0] = g
		out[1] = g * 0.1
		if d > 0 {
			out[2] = g * dx / d
			out[4] = g * dy / d
		}
		out[3] = out[2] * 0.1
		out[5] = out[4] * 0.1
		return out
	}
}
