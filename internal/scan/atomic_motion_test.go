package scan

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanbench/internal/geom"
)

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		profile  MotionProfile
		want     float64
	}{
		{
			name:     "trapezoid reaches target speed",
			distance: 100,
			profile:  DefaultFastProfile,
			// 2 * (10-0.5)/5 ramp + (100 - 2*9.975)/10 cruise
			want: 3.8 + 8.005,
		},
		{
			name:     "slow profile just reaches target",
			distance: 2,
			profile:  DefaultSlowProfile,
			want:     3.6 + 0.02,
		},
		{
			name:     "triangular fallback",
			distance: 10,
			profile:  DefaultFastProfile,
			want:     2 * (math.Sqrt(50.25) - 0.5) / 5,
		},
		{
			name:     "zero distance",
			distance: 0,
			profile:  DefaultFastProfile,
			want:     0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, EstimateDuration(tt.distance, tt.profile), 1e-9)
		})
	}
}

func TestEstimateDuration_PositiveForAnyPositiveDistance(t *testing.T) {
	for _, d := range []float64{1e-9, 1e-3, 0.5, 5, 19.95, 1270} {
		assert.Greater(t, EstimateDuration(d, DefaultFastProfile), 0.0, "distance %v", d)
		assert.Greater(t, EstimateDuration(d, DefaultSlowProfile), 0.0, "distance %v", d)
	}
}

func TestNewAtomicMotion_RejectsNonFinite(t *testing.T) {
	_, err := NewAtomicMotion(math.NaN(), 0, DefaultFastProfile)
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))

	_, err = NewAtomicMotion(0, math.Inf(-1), DefaultFastProfile)
	assert.Error(t, err)

	_, err = NewAtomicMotion(1, 1, MotionProfile{})
	assert.Error(t, err)
}

func TestAtomicMotion_StateMachine(t *testing.T) {
	m, err := NewAtomicMotion(3, 4, DefaultSlowProfile)
	require.NoError(t, err)
	assert.Equal(t, 5.0, m.Distance())
	assert.Equal(t, MotionPending, m.State())
	assert.Empty(t, m.ExecutionMotionID())

	var transErr *StateTransitionError
	assert.True(t, errors.As(m.Complete(), &transErr), "complete from PENDING")

	require.NoError(t, m.Start("hw-1"))
	assert.Equal(t, MotionExecuting, m.State())
	assert.Equal(t, "hw-1", m.ExecutionMotionID())
	assert.Error(t, m.Start("hw-2"), "start twice")

	require.NoError(t, m.Complete())
	assert.Equal(t, MotionCompleted, m.State())
	assert.Error(t, m.Fail("late"), "fail after completion")
	assert.Error(t, m.Complete(), "complete twice")
}

func TestAtomicMotion_FailFromPending(t *testing.T) {
	m, err := NewAtomicMotion(1, 0, DefaultSlowProfile)
	require.NoError(t, err)

	require.NoError(t, m.Fail("driver offline"))
	assert.Equal(t, MotionFailed, m.State())
	assert.Equal(t, "driver offline", m.FailureReason())
	assert.Error(t, m.Start("hw"))
}

func TestAtomicMotion_VelocityProfile(t *testing.T) {
	m, err := NewAtomicMotion(100, 0, DefaultFastProfile)
	require.NoError(t, err)

	assert.Equal(t, 0.0, m.VelocityAt(-1))
	assert.InDelta(t, 0.5, m.VelocityAt(0), 1e-12)
	assert.InDelta(t, 10.0, m.VelocityAt(5), 1e-12)
	assert.Equal(t, 0.0, m.VelocityAt(m.EstimatedDurationSeconds()+1))
}

func TestAtomicMotion_AcquisitionPositions(t *testing.T) {
	m, err := NewAtomicMotion(100, 0, DefaultFastProfile)
	require.NoError(t, err)

	start := geom.Position2D{X: 10, Y: 20}
	positions := m.AcquisitionPositions(start, 1)
	// 11.805 s of travel sampled at 1 Hz
	require.Len(t, positions, 12)
	assert.Equal(t, start, positions[0])
	for i := 1; i < len(positions); i++ {
		assert.Greater(t, positions[i].X, positions[i-1].X)
		assert.Equal(t, 20.0, positions[i].Y)
		assert.LessOrEqual(t, positions[i].X, 110.0)
	}

	assert.Nil(t, m.AcquisitionPositions(start, 0))
}
