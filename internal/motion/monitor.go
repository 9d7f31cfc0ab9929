package motion

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/scanbench/internal/eventbus"
	"github.com/banshee-data/scanbench/internal/geom"
	"github.com/banshee-data/scanbench/internal/timeutil"
)

const (
	DefaultMonitorInterval = 150 * time.Millisecond
	positionEpsilonMM      = 0.001
)

// PositionSource is the read side of the stage.
type PositionSource interface {
	CurrentPosition() (geom.Position2D, error)
	IsMoving() (bool, error)
}

// Monitor polls a PositionSource and publishes PositionUpdated whenever the
// position moves by more than a micron or the moving flag flips.
type Monitor struct {
	src      PositionSource
	bus      eventbus.Publisher
	clock    timeutil.Clock
	interval time.Duration

	mu     sync.Mutex
	last   geom.Position2D
	moving bool
	seeded bool
}

func NewMonitor(src PositionSource, bus eventbus.Publisher, clock timeutil.Clock, interval time.Duration) *Monitor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{src: src, bus: bus, clock: clock, interval: interval}
}

// Run polls until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if _, err := m.Poll(); err != nil {
				logf("position poll failed: %v", err)
			}
		}
	}
}

// Poll samples the stage once and reports whether an update was published.
func (m *Monitor) Poll() (bool, error) {
	pos, err := m.src.CurrentPosition()
	if err != nil {
		return false, err
	}
	moving, err := m.src.IsMoving()
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	changed := !m.seeded ||
		math.Abs(pos.X-m.last.X) > positionEpsilonMM ||
		math.Abs(pos.Y-m.last.Y) > positionEpsilonMM ||
		moving != m.moving
	if changed {
		m.last, m.moving, m.seeded = pos, moving, true
	}
	m.mu.Unlock()

	if changed {
		m.bus.Publish(TopicPositionUpdated, PositionUpdated{Position: pos, IsMoving: moving})
	}
	return changed, nil
}
