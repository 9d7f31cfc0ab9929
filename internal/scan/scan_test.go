package scan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanbench/internal/eventbus"
)

func stepConfig(xn, yn int) StepScanConfig {
	return StepScanConfig{
		Zone:                 ScanZone{XMin: 0, XMax: 10, YMin: 0, YMax: 10},
		XPoints:              xn,
		YPoints:              yn,
		Pattern:              PatternRaster,
		AveragingPerPosition: 1,
		UncertaintyVolts:     10e-6,
	}
}

func flyConfig() FlyScanConfig {
	return FlyScanConfig{
		Zone:          ScanZone{XMin: 0, XMax: 10, YMin: 0, YMax: 10},
		XPoints:       3,
		YPoints:       3,
		Pattern:       PatternSerpentine,
		Profile:       DefaultFastProfile,
		DesiredRateHz: 50,
	}
}

func topics(events []eventbus.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Topic()
	}
	return out
}

func isTransitionErr(err error) bool {
	var te *StateTransitionError
	return errors.As(err, &te)
}

func TestScan_StepLifecycleAutoCompletes(t *testing.T) {
	s := NewStepScan()
	assert.Equal(t, StatusPending, s.Status())

	require.NoError(t, s.StartStep(stepConfig(2, 1)))
	assert.Equal(t, StatusRunning, s.Status())
	assert.Equal(t, 2, s.ExpectedPoints())

	require.NoError(t, s.AddPointResult(PointResult{Mean: []float64{1}}))
	require.NoError(t, s.AddPointResult(PointResult{Mean: []float64{2}}))
	assert.Equal(t, StatusCompleted, s.Status())
	assert.True(t, s.Status().IsFinal())

	events := s.DrainEvents()
	assert.Equal(t, []string{
		TopicScanStarted, TopicScanPointAcquired, TopicScanPointAcquired, TopicScanCompleted,
	}, topics(events))
	assert.Equal(t, 0, events[1].(ScanPointAcquired).PointIndex)
	assert.Equal(t, 1, events[2].(ScanPointAcquired).PointIndex)
	assert.Equal(t, 2, events[3].(ScanCompleted).TotalPoints)

	assert.Empty(t, s.DrainEvents(), "events must not be delivered twice")

	points := s.Points()
	require.Len(t, points, 2)
	assert.Equal(t, 0, points[0].Index)
	assert.Equal(t, 1, points[1].Index)

	assert.True(t, isTransitionErr(s.AddPointResult(PointResult{})))
	require.NoError(t, s.Complete(), "complete is idempotent")
	assert.Empty(t, s.DrainEvents())
}

func TestScan_StartValidatesConfig(t *testing.T) {
	s := NewStepScan()
	err := s.StartStep(stepConfig(0, 2))
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "x_points", cfgErr.Field)
	assert.Equal(t, StatusPending, s.Status())
	assert.Empty(t, s.DrainEvents())
}

func TestScan_KindMismatch(t *testing.T) {
	assert.True(t, isTransitionErr(NewFlyScan().StartStep(stepConfig(1, 1))))
	assert.True(t, isTransitionErr(NewStepScan().StartFly(flyConfig(), 10)))
}

func TestScan_PauseResumeCancelIdempotency(t *testing.T) {
	s := NewStepScan()
	require.NoError(t, s.StartStep(stepConfig(3, 3)))
	s.DrainEvents()

	require.NoError(t, s.Pause())
	require.NoError(t, s.Pause())
	assert.Equal(t, StatusPaused, s.Status())
	assert.Equal(t, []string{TopicScanPaused}, topics(s.DrainEvents()))

	assert.True(t, isTransitionErr(s.AddPointResult(PointResult{})), "no points while paused")

	require.NoError(t, s.Resume())
	assert.True(t, isTransitionErr(s.Resume()), "resume on RUNNING must fail")
	assert.Equal(t, []string{TopicScanResumed}, topics(s.DrainEvents()))

	s.Cancel()
	s.Cancel()
	assert.Equal(t, StatusCancelled, s.Status())
	assert.Equal(t, []string{TopicScanCancelled}, topics(s.DrainEvents()))

	require.NoError(t, s.Pause(), "pause on a final scan is a no-op")
	assert.Equal(t, StatusCancelled, s.Status())
	assert.True(t, isTransitionErr(s.Fail("late")))
	assert.True(t, isTransitionErr(s.Complete()))
	assert.Empty(t, s.DrainEvents())
}

func TestScan_PauseCarriesPointIndex(t *testing.T) {
	s := NewStepScan()
	require.NoError(t, s.StartStep(stepConfig(3, 1)))
	require.NoError(t, s.AddPointResult(PointResult{}))
	s.DrainEvents()

	require.NoError(t, s.Pause())
	require.NoError(t, s.Resume())
	events := s.DrainEvents()
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].(ScanPaused).CurrentPointIndex)
	assert.Equal(t, 1, events[1].(ScanResumed).ResumeFromPointIndex)
}

func TestScan_FailRules(t *testing.T) {
	s := NewStepScan()
	assert.True(t, isTransitionErr(s.Fail("not started")))
	assert.True(t, isTransitionErr(s.Pause()), "pause on PENDING")

	require.NoError(t, s.StartStep(stepConfig(2, 2)))
	require.NoError(t, s.Pause())
	require.NoError(t, s.Fail("motor stalled"))
	assert.Equal(t, StatusFailed, s.Status())

	events := s.DrainEvents()
	last := events[len(events)-1].(ScanFailed)
	assert.Equal(t, "motor stalled", last.Reason)
	assert.Equal(t, s.ID, last.ScanID)

	assert.True(t, isTransitionErr(s.StartStep(stepConfig(2, 2))), "restart a final scan")
}

func TestScan_FlyExpectedPoints(t *testing.T) {
	s := NewFlyScan()
	require.NoError(t, s.StartFly(flyConfig(), 50))
	assert.Equal(t, 0, s.ExpectedPoints())
	assert.Equal(t, 50.0, s.AcquisitionRateHz())

	cfg, ok := s.FlyConfig()
	require.True(t, ok)
	assert.Equal(t, DefaultMaxSpatialGapMM, cfg.MaxSpatialGapMM)

	// without an estimate the scan never auto-completes
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AddPointResult(PointResult{}))
	}
	assert.Equal(t, StatusRunning, s.Status())

	require.NoError(t, s.SetExpectedPoints(6))
	require.NoError(t, s.AddPointResult(PointResult{}))
	assert.Equal(t, StatusCompleted, s.Status())
	assert.Error(t, s.SetExpectedPoints(10))
}

func TestScan_StartFlyRejectsBadRate(t *testing.T) {
	s := NewFlyScan()
	var cfgErr *ConfigurationError
	assert.True(t, errors.As(s.StartFly(flyConfig(), 0), &cfgErr))
}

func TestScan_EventBufferBound(t *testing.T) {
	s := NewStepScan()
	s.SetEventCapacity(3)
	require.NoError(t, s.StartStep(stepConfig(10, 10)))

	require.NoError(t, s.AddPointResult(PointResult{}))
	require.NoError(t, s.AddPointResult(PointResult{}))
	assert.ErrorIs(t, s.AddPointResult(PointResult{}), ErrEventBufferFull)
	assert.Equal(t, 2, s.PointCount())

	assert.Len(t, s.DrainEvents(), 3)
	require.NoError(t, s.AddPointResult(PointResult{}))
	assert.Equal(t, 3, s.PointCount())
}

func TestScan_Motions(t *testing.T) {
	s := NewStepScan()
	m1, err := NewAtomicMotion(1, 0, DefaultSlowProfile)
	require.NoError(t, err)
	m2, err := NewAtomicMotion(0, 1, DefaultSlowProfile)
	require.NoError(t, err)

	s.AddMotions(m1, m2)
	got := s.Motions()
	require.Len(t, got, 2)
	assert.Same(t, m1, got[0])
	assert.Same(t, m2, got[1])
}
