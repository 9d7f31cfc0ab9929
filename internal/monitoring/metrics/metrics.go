// Package metrics exports bench activity seen on the event bus as
// Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/scanbench/internal/eventbus"
	"github.com/banshee-data/scanbench/internal/motion"
	"github.com/banshee-data/scanbench/internal/scan"
)

// Metrics bundles the bench collectors.
type Metrics struct {
	gatherer prometheus.Gatherer
	reg      prometheus.Registerer

	ScansStarted   *prometheus.CounterVec
	ScansFinished  *prometheus.CounterVec
	Points         *prometheus.CounterVec
	Motions        *prometheus.CounterVec
	MotionDuration prometheus.Histogram
	EmergencyStops prometheus.Counter
	StagePosition  *prometheus.GaugeVec
	StageMoving    prometheus.Gauge

	mu    sync.Mutex
	kinds map[string]string // scan id -> kind, until the scan finishes
	bus   eventbus.Subscriber
	subs  map[string]string // subscription id -> topic
}

// New registers the bench metrics against reg, defaulting to the global
// registry when nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	started, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scanbench_scans_started_total",
		Help: "Scans that entered RUNNING, labeled by kind.",
	}, []string{"kind"}), "scanbench_scans_started_total")
	if err != nil {
		return nil, err
	}
	finished, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scanbench_scans_finished_total",
		Help: "Scans that reached a terminal state, labeled by kind and status.",
	}, []string{"kind", "status"}), "scanbench_scans_finished_total")
	if err != nil {
		return nil, err
	}
	points, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scanbench_scan_points_total",
		Help: "Averaged points recorded, labeled by scan kind.",
	}, []string{"kind"}), "scanbench_scan_points_total")
	if err != nil {
		return nil, err
	}
	motions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scanbench_motions_total",
		Help: "Stage motions that finished, labeled by result.",
	}, []string{"result"}), "scanbench_motions_total")
	if err != nil {
		return nil, err
	}
	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scanbench_motion_duration_seconds",
		Help:    "Wall time of completed stage motions.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}), "scanbench_motion_duration_seconds")
	if err != nil {
		return nil, err
	}
	estops, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanbench_emergency_stops_total",
		Help: "Emergency stops triggered.",
	}), "scanbench_emergency_stops_total")
	if err != nil {
		return nil, err
	}
	position, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scanbench_stage_position_mm",
		Help: "Last reported stage position per axis.",
	}, []string{"axis"}), "scanbench_stage_position_mm")
	if err != nil {
		return nil, err
	}
	moving, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scanbench_stage_moving",
		Help: "1 while the stage reports motion.",
	}), "scanbench_stage_moving")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gatherer:       gatherer,
		reg:            reg,
		ScansStarted:   started,
		ScansFinished:  finished,
		Points:         points,
		Motions:        motions,
		MotionDuration: duration,
		EmergencyStops: estops,
		StagePosition:  position,
		StageMoving:    moving,
		kinds:          make(map[string]string),
	}, nil
}

// TrackQueueDepth exports depth() as the motion queue length gauge.
func (m *Metrics) TrackQueueDepth(depth func() int) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "scanbench_motion_queue_depth",
		Help: "Commands waiting in the motion queue.",
	}, func() float64 { return float64(depth()) })
	if err := m.reg.Register(g); err != nil {
		return fmt.Errorf("register scanbench_motion_queue_depth: %w", err)
	}
	return nil
}

// Handler exposes a ready-to-use /metrics handler.
func (m *Metrics) Handler() http.Handler {
	gatherer := m.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Attach subscribes to the scan and motion topics on bus.
func (m *Metrics) Attach(bus eventbus.Subscriber) {
	m.Detach()

	handlers := map[string]eventbus.Handler{
		scan.TopicScanStarted:       m.onScan,
		scan.TopicScanPointAcquired: m.onScan,
		scan.TopicScanCompleted:     m.onScan,
		scan.TopicScanFailed:        m.onScan,
		scan.TopicScanCancelled:     m.onScan,
		motion.TopicMotionCompleted: m.onMotion,
		motion.TopicMotionFailed:    m.onMotion,
		motion.TopicPositionUpdated: m.onMotion,
		motion.TopicEmergencyStop:   m.onMotion,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.bus = bus
	m.subs = make(map[string]string, len(handlers))
	for topic, h := range handlers {
		m.subs[bus.Subscribe(topic, h)] = topic
	}
}

// Detach removes the subscriptions made by Attach.
func (m *Metrics) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bus == nil {
		return
	}
	for id, topic := range m.subs {
		m.bus.Unsubscribe(topic, id)
	}
	m.bus = nil
	m.subs = nil
}

func (m *Metrics) kindOf(scanID string, forget bool) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.kinds[scanID]
	if !ok {
		k = "unknown"
	}
	if forget {
		delete(m.kinds, scanID)
	}
	return k
}

func (m *Metrics) finish(scanID string, status scan.Status) {
	m.ScansFinished.WithLabelValues(m.kindOf(scanID, true), string(status)).Inc()
}

func (m *Metrics) onScan(ev any) {
	switch e := ev.(type) {
	case scan.ScanStarted:
		m.mu.Lock()
		m.kinds[e.ScanID] = string(e.Kind)
		m.mu.Unlock()
		m.ScansStarted.WithLabelValues(string(e.Kind)).Inc()
	case scan.ScanPointAcquired:
		m.Points.WithLabelValues(m.kindOf(e.ScanID, false)).Inc()
	case scan.ScanCompleted:
		m.finish(e.ScanID, scan.StatusCompleted)
	case scan.ScanFailed:
		m.finish(e.ScanID, scan.StatusFailed)
	case scan.ScanCancelled:
		m.finish(e.ScanID, scan.StatusCancelled)
	}
}

func (m *Metrics) onMotion(ev any) {
	switch e := ev.(type) {
	case motion.MotionCompleted:
		m.Motions.WithLabelValues("completed").Inc()
		m.MotionDuration.Observe(e.DurationMs / 1000)
	case motion.MotionFailed:
		m.Motions.WithLabelValues("failed").Inc()
	case motion.PositionUpdated:
		m.StagePosition.WithLabelValues("x").Set(e.Position.X)
		m.StagePosition.WithLabelValues("y").Set(e.Position.Y)
		if e.IsMoving {
			m.StageMoving.Set(1)
		} else {
			m.StageMoving.Set(0)
		}
	case motion.EmergencyStopTriggered:
		m.EmergencyStops.Inc()
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return g, nil
}
