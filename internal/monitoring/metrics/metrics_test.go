package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanbench/internal/eventbus"
	"github.com/banshee-data/scanbench/internal/geom"
	"github.com/banshee-data/scanbench/internal/motion"
	"github.com/banshee-data/scanbench/internal/scan"
)

func newAttached(t *testing.T) (*Metrics, *eventbus.Bus, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	bus := eventbus.New()
	m.Attach(bus)
	t.Cleanup(m.Detach)
	return m, bus, reg
}

func TestMetrics_ScanLifecycle(t *testing.T) {
	m, bus, _ := newAttached(t)

	bus.PublishEvent(scan.ScanStarted{ScanID: "a", Kind: scan.KindStep, ExpectedPoints: 2})
	bus.PublishEvent(scan.ScanPointAcquired{ScanID: "a", PointIndex: 0})
	bus.PublishEvent(scan.ScanPointAcquired{ScanID: "a", PointIndex: 1})
	bus.PublishEvent(scan.ScanCompleted{ScanID: "a", TotalPoints: 2})

	bus.PublishEvent(scan.ScanStarted{ScanID: "b", Kind: scan.KindFly})
	bus.PublishEvent(scan.ScanCancelled{ScanID: "b"})
	bus.PublishEvent(scan.ScanFailed{ScanID: "ghost", Reason: "x"})

	assert.Equal(t, 1.0, promtest.ToFloat64(m.ScansStarted.WithLabelValues("STEP")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ScansStarted.WithLabelValues("FLY")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.Points.WithLabelValues("STEP")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ScansFinished.WithLabelValues("STEP", "COMPLETED")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ScansFinished.WithLabelValues("FLY", "CANCELLED")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ScansFinished.WithLabelValues("unknown", "FAILED")))

	m.mu.Lock()
	assert.Empty(t, m.kinds)
	m.mu.Unlock()
}

func TestMetrics_MotionEvents(t *testing.T) {
	m, bus, _ := newAttached(t)

	bus.PublishEvent(motion.MotionCompleted{MotionID: "1", DurationMs: 1500})
	bus.PublishEvent(motion.MotionFailed{MotionID: "2", Error: "stopped"})
	bus.PublishEvent(motion.PositionUpdated{Position: geom.Position2D{X: 3, Y: 4}, IsMoving: true})
	bus.PublishEvent(motion.EmergencyStopTriggered{DroppedCommands: 2})

	assert.Equal(t, 1.0, promtest.ToFloat64(m.Motions.WithLabelValues("completed")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Motions.WithLabelValues("failed")))
	assert.Equal(t, 3.0, promtest.ToFloat64(m.StagePosition.WithLabelValues("x")))
	assert.Equal(t, 4.0, promtest.ToFloat64(m.StagePosition.WithLabelValues("y")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.StageMoving))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.EmergencyStops))
	assert.Equal(t, 1, promtest.CollectAndCount(m.MotionDuration))

	bus.PublishEvent(motion.PositionUpdated{Position: geom.Position2D{X: 3, Y: 4}})
	assert.Equal(t, 0.0, promtest.ToFloat64(m.StageMoving))
}

func TestMetrics_QueueDepthAndHandler(t *testing.T) {
	m, _, reg := newAttached(t)

	depth := 3
	require.NoError(t, m.TrackQueueDepth(func() int { return depth }))
	assert.Error(t, m.TrackQueueDepth(func() int { return 0 }))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "scanbench_motion_queue_depth 3")

	count, err := promtest.GatherAndCount(reg, "scanbench_motion_queue_depth")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)
	assert.Same(t, first.ScansStarted, second.ScansStarted)

	clash := prometheus.NewRegistry()
	require.NoError(t, clash.Register(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scanbench_scans_started_total", Help: "wrong type",
	})))
	_, err = New(clash)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "incompatible") || strings.Contains(err.Error(), "scanbench_scans_started_total"))
}

func TestMetrics_Detach(t *testing.T) {
	m, bus, _ := newAttached(t)
	m.Detach()
	assert.Zero(t, bus.SubscriberCount(scan.TopicScanStarted))

	bus.PublishEvent(scan.ScanStarted{ScanID: "a", Kind: scan.KindStep})
	assert.Equal(t, 0.0, promtest.ToFloat64(m.ScansStarted.WithLabelValues("STEP")))
}
