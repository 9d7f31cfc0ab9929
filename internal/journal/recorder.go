package journal

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/scanbench/internal/eventbus"
	"github.com/banshee-data/scanbench/internal/motion"
	"github.com/banshee-data/scanbench/internal/scan"
	"github.com/banshee-data/scanbench/internal/timeutil"
)

// Recorder mirrors scan and motion events into a Store. Write failures are
// logged and counted; they never reach the publisher.
type Recorder struct {
	store *Store
	clock timeutil.Clock

	mu   sync.Mutex
	bus  eventbus.Subscriber
	subs map[string]string // id -> topic

	errs atomic.Int64
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store *Store, clock timeutil.Clock) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Recorder{store: store, clock: clock}
}

// Attach subscribes the recorder to every scan and motion topic on bus.
// Calling Attach again first detaches from the previous bus.
func (r *Recorder) Attach(bus eventbus.Subscriber) {
	r.Detach()

	handlers := map[string]eventbus.Handler{
		scan.TopicScanStarted:       r.onScanStarted,
		scan.TopicScanPointAcquired: r.onPoint,
		scan.TopicScanCompleted:     r.onScanFinished,
		scan.TopicScanFailed:        r.onScanFinished,
		scan.TopicScanCancelled:     r.onScanFinished,
		scan.TopicScanPaused:        r.onScanStatus,
		scan.TopicScanResumed:       r.onScanStatus,
		motion.TopicMotionStarted:   r.onMotion,
		motion.TopicMotionCompleted: r.onMotion,
		motion.TopicMotionFailed:    r.onMotion,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.bus = bus
	r.subs = make(map[string]string, len(handlers))
	for topic, h := range handlers {
		r.subs[bus.Subscribe(topic, h)] = topic
	}
}

// Detach removes all subscriptions made by Attach.
func (r *Recorder) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bus == nil {
		return
	}
	for id, topic := range r.subs {
		r.bus.Unsubscribe(topic, id)
	}
	r.bus = nil
	r.subs = nil
}

// Errors is the number of events that could not be written.
func (r *Recorder) Errors() int64 { return r.errs.Load() }

func (r *Recorder) fail(what string, err error) {
	if err == nil {
		return
	}
	r.errs.Add(1)
	logf("failed to record %s: %v", what, err)
}

func (r *Recorder) onScanStarted(ev any) {
	e, ok := ev.(scan.ScanStarted)
	if !ok {
		return
	}
	cfg, err := json.Marshal(e.Config)
	if err != nil {
		r.fail("scan config", err)
		cfg = nil
	}
	r.fail("scan start", r.store.InsertScan(ScanRecord{
		ID:             e.ScanID,
		Kind:           string(e.Kind),
		Status:         string(scan.StatusRunning),
		ExpectedPoints: e.ExpectedPoints,
		ConfigJSON:     string(cfg),
		StartedAt:      r.clock.Now(),
	}))
}

func (r *Recorder) onPoint(ev any) {
	e, ok := ev.(scan.ScanPointAcquired)
	if !ok {
		return
	}
	m := e.Measurement
	r.fail("point", r.store.InsertPoint(PointRecord{
		ScanID:      e.ScanID,
		Index:       e.PointIndex,
		X:           e.Position.X,
		Y:           e.Position.Y,
		Mean:        m.Mean,
		StdDev:      m.StdDev,
		SampleCount: m.SampleCount,
		AcquiredAt:  m.Timestamp,
	}))
}

func (r *Recorder) onScanFinished(ev any) {
	now := r.clock.Now()
	switch e := ev.(type) {
	case scan.ScanCompleted:
		r.fail("scan completion", r.store.FinishScan(e.ScanID, string(scan.StatusCompleted), "", now))
	case scan.ScanFailed:
		r.fail("scan failure", r.store.FinishScan(e.ScanID, string(scan.StatusFailed), e.Reason, now))
	case scan.ScanCancelled:
		r.fail("scan cancellation", r.store.FinishScan(e.ScanID, string(scan.StatusCancelled), "", now))
	}
}

func (r *Recorder) onScanStatus(ev any) {
	switch e := ev.(type) {
	case scan.ScanPaused:
		r.fail("scan pause", r.store.SetStatus(e.ScanID, string(scan.StatusPaused)))
	case scan.ScanResumed:
		r.fail("scan resume", r.store.SetStatus(e.ScanID, string(scan.StatusRunning)))
	}
}

func (r *Recorder) onMotion(ev any) {
	switch e := ev.(type) {
	case motion.MotionStarted:
		r.fail("motion start", r.store.RecordMotionStarted(e.MotionID, e.Target.X, e.Target.Y, r.clock.Now()))
	case motion.MotionCompleted:
		d := e.DurationMs
		r.fail("motion completion", r.store.RecordMotionFinished(e.MotionID, string(scan.MotionCompleted), &d, ""))
	case motion.MotionFailed:
		r.fail("motion failure", r.store.RecordMotionFinished(e.MotionID, string(scan.MotionFailed), nil, e.Error))
	}
}
