package scan

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/scanbench/internal/geom"
)

// DefaultChannels names the six lock-in channels produced by the probe.
var DefaultChannels = []string{
	"x_in_phase", "x_quadrature",
	"y_in_phase", "y_quadrature",
	"z_in_phase", "z_quadrature",
}

// Measurement is one raw sample: a value per channel.
type Measurement struct {
	Timestamp time.Time `json:"timestamp"`
	Values    []float64 `json:"values"`
}

// PointResult is the averaged measurement at one trajectory position.
type PointResult struct {
	Index       int             `json:"point_index"`
	Position    geom.Position2D `json:"position"`
	Mean        []float64       `json:"mean"`
	StdDev      []float64       `json:"std_dev"`
	SampleCount int             `json:"sample_count"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Average returns the per-channel mean and sample standard deviation (n-1
// divisor) of samples. A single sample, or identical samples, give a zero
// deviation.
func Average(samples []Measurement) (mean, stdDev []float64, err error) {
	if len(samples) == 0 {
		return nil, nil, errors.New("no samples to average")
	}
	channels := len(samples[0].Values)
	for i, s := range samples {
		if len(s.Values) != channels {
			return nil, nil, fmt.Errorf("sample %d has %d channels, expected %d", i, len(s.Values), channels)
		}
	}

	mean = make([]float64, channels)
	stdDev = make([]float64, channels)
	column := make([]float64, len(samples))
	for ch := 0; ch < channels; ch++ {
		constant := true
		for i, s := range samples {
			column[i] = s.Values[ch]
			if column[i] != column[0] {
				constant = false
			}
		}
		if constant {
			mean[ch] = column[0]
			continue
		}
		mean[ch], stdDev[ch] = stat.MeanStdDev(column, nil)
	}
	return mean, stdDev, nil
}

// NewPointResult averages samples taken at position. The index is assigned
// when the result is added to a scan.
func NewPointResult(position geom.Position2D, samples []Measurement, at time.Time) (PointResult, error) {
	mean, std, err := Average(samples)
	if err != nil {
		return PointResult{}, err
	}
	return PointResult{
		Position:    position,
		Mean:        mean,
		StdDev:      std,
		SampleCount: len(samples),
		Timestamp:   at,
	}, nil
}
