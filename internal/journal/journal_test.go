package journal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanbench/internal/eventbus"
	"github.com/banshee-data/scanbench/internal/geom"
	"github.com/banshee-data/scanbench/internal/monitoring"
	"github.com/banshee-data/scanbench/internal/motion"
	"github.com/banshee-data/scanbench/internal/scan"
	"github.com/banshee-data/scanbench/internal/testutil"
	"github.com/banshee-data/scanbench/internal/timeutil"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })

	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_MigratesSchema(t *testing.T) {
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// running again is a no-op
	require.NoError(t, s.MigrateUp())

	var fk int
	require.NoError(t, s.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestMigrateDown(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.MigrateDown())
	version, _, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	_, err = s.Exec(`SELECT 1 FROM motion_log`)
	assert.Error(t, err)

	require.NoError(t, s.MigrateUp())
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestStore_ScanLifecycle(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.InsertScan(ScanRecord{
		ID: "scan-1", Kind: "STEP", Status: "RUNNING", ExpectedPoints: 2,
		ConfigJSON: `{"x_points":2}`, StartedAt: epoch,
	}))
	for i := 0; i < 2; i++ {
		require.NoError(t, s.InsertPoint(PointRecord{
			ScanID: "scan-1", Index: i, X: float64(i), Y: 0.5,
			Mean: []float64{1, 2}, StdDev: []float64{0.1, 0.2}, SampleCount: 4,
			AcquiredAt: epoch.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.FinishScan("scan-1", "COMPLETED", "", epoch.Add(time.Minute)))

	rec, err := s.Scan("scan-1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", rec.Status)
	assert.Equal(t, 2, rec.PointCount)
	assert.Equal(t, epoch, rec.StartedAt)
	require.NotNil(t, rec.FinishedAt)
	assert.Equal(t, epoch.Add(time.Minute), *rec.FinishedAt)
	assert.Empty(t, rec.Reason)

	points, err := s.Points("scan-1")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, []float64{1, 2}, points[1].Mean)
	assert.Equal(t, []float64{0.1, 0.2}, points[1].StdDev)
	assert.Equal(t, 1.0, points[1].X)
	assert.Equal(t, epoch.Add(time.Second), points[1].AcquiredAt)
}

func TestStore_Errors(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Scan("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SetStatus("missing", "PAUSED"), ErrNotFound)
	assert.ErrorIs(t, s.FinishScan("missing", "FAILED", "x", epoch), ErrNotFound)

	// points need their scan
	err = s.InsertPoint(PointRecord{ScanID: "missing", Mean: []float64{}, StdDev: []float64{}, AcquiredAt: epoch})
	assert.Error(t, err)

	require.NoError(t, s.InsertScan(ScanRecord{ID: "dup", Kind: "STEP", Status: "RUNNING", StartedAt: epoch}))
	assert.Error(t, s.InsertScan(ScanRecord{ID: "dup", Kind: "STEP", Status: "RUNNING", StartedAt: epoch}))
}

func TestStore_ScansNewestFirst(t *testing.T) {
	s := openTestStore(t)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.InsertScan(ScanRecord{
			ID: id, Kind: "STEP", Status: "RUNNING", StartedAt: epoch.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.Scans(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[2].ID)

	two, err := s.Scans(2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestStore_MotionLog(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordMotionStarted("m1", 1, 2, epoch))
	d := 125.0
	require.NoError(t, s.RecordMotionFinished("m1", "COMPLETED", &d, ""))
	// failed before it ever started
	require.NoError(t, s.RecordMotionFinished("m2", "FAILED", nil, "motion stopped"))

	m1, err := s.Motion("m1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", m1.Status)
	require.NotNil(t, m1.TargetX)
	assert.Equal(t, 1.0, *m1.TargetX)
	require.NotNil(t, m1.DurationMs)
	assert.Equal(t, 125.0, *m1.DurationMs)

	m2, err := s.Motion("m2")
	require.NoError(t, err)
	assert.Equal(t, "FAILED", m2.Status)
	assert.Nil(t, m2.TargetX)
	assert.Equal(t, "motion stopped", m2.Error)

	_, err = s.Motion("m3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecorder_PersistsBusTraffic(t *testing.T) {
	s := openTestStore(t)
	bus := eventbus.New()
	clock := timeutil.NewMockClock(epoch)
	rec := NewRecorder(s, clock)
	rec.Attach(bus)
	t.Cleanup(rec.Detach)

	cfg := scan.StepScanConfig{XPoints: 1, YPoints: 2}
	bus.PublishEvent(scan.ScanStarted{ScanID: "s1", Kind: scan.KindStep, Config: cfg, ExpectedPoints: 2})
	bus.PublishEvent(motion.MotionStarted{MotionID: "m1", Target: geom.Position2D{X: 0, Y: 1}})
	bus.PublishEvent(motion.MotionCompleted{MotionID: "m1", FinalPosition: geom.Position2D{X: 0, Y: 1}, DurationMs: 40})
	bus.PublishEvent(scan.ScanPaused{ScanID: "s1"})

	paused, err := s.Scan("s1")
	require.NoError(t, err)
	assert.Equal(t, "PAUSED", paused.Status)

	bus.PublishEvent(scan.ScanResumed{ScanID: "s1"})
	bus.PublishEvent(scan.ScanPointAcquired{
		ScanID: "s1", PointIndex: 0, Position: geom.Position2D{X: 0, Y: 1},
		Measurement: scan.PointResult{Index: 0, Position: geom.Position2D{X: 0, Y: 1},
			Mean: []float64{3}, StdDev: []float64{0}, SampleCount: 1, Timestamp: epoch},
	})
	clock.Advance(time.Second)
	bus.PublishEvent(scan.ScanFailed{ScanID: "s1", Reason: "probe unplugged"})

	got, err := s.Scan("s1")
	require.NoError(t, err)
	assert.Equal(t, "FAILED", got.Status)
	assert.Equal(t, "probe unplugged", got.Reason)
	assert.Equal(t, 1, got.PointCount)
	assert.Equal(t, 2, got.ExpectedPoints)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, epoch.Add(time.Second), *got.FinishedAt)

	var decoded scan.StepScanConfig
	require.NoError(t, json.Unmarshal([]byte(got.ConfigJSON), &decoded))
	assert.Equal(t, 2, decoded.YPoints)

	m, err := s.Motion("m1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", m.Status)
	assert.Zero(t, rec.Errors())
}

func TestRecorder_CountsErrorsAndDetaches(t *testing.T) {
	s := openTestStore(t)
	bus := eventbus.New()
	rec := NewRecorder(s, timeutil.NewMockClock(epoch))
	rec.Attach(bus)

	// unknown scan: the update fails but the publisher is unaffected
	bus.PublishEvent(scan.ScanCompleted{ScanID: "ghost", TotalPoints: 1})
	assert.Equal(t, int64(1), rec.Errors())

	rec.Detach()
	assert.Zero(t, bus.SubscriberCount(scan.TopicScanCompleted))
	bus.PublishEvent(scan.ScanCompleted{ScanID: "ghost", TotalPoints: 1})
	assert.Equal(t, int64(1), rec.Errors())
}

func TestAdminRoutes(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertScan(ScanRecord{ID: "s1", Kind: "STEP", Status: "RUNNING", StartedAt: epoch}))
	require.NoError(t, s.InsertPoint(PointRecord{
		ScanID: "s1", Index: 0, X: 1, Y: 2, Mean: []float64{0.5}, StdDev: []float64{0},
		SampleCount: 1, AcquiredAt: epoch,
	}))

	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, testutil.NewLocalRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/debug/scans")
	require.Equal(t, http.StatusOK, rec.Code)
	var scans []ScanRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scans))
	require.Len(t, scans, 1)
	assert.Equal(t, "s1", scans[0].ID)

	assert.Equal(t, http.StatusBadRequest, get("/debug/scans?limit=x").Code)

	rec = get("/debug/scan-map")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scan s1")

	assert.Equal(t, http.StatusNotFound, get("/debug/scan-map?scan=nope").Code)
	assert.Equal(t, http.StatusBadRequest, get("/debug/scan-map?channel=x").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, get("/debug/scan-map?scan=s1&channel=3").Code)
}

func TestAdminRoutes_ScanMapEmpty(t *testing.T) {
	s := openTestStore(t)
	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, testutil.NewLocalRequest(http.MethodGet, "/debug/scan-map", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
