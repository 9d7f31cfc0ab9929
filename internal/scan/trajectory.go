package scan

import (
	"github.com/banshee-data/scanbench/internal/geom"
)

// DistanceSelector chooses a motion profile for a displacement length.
type DistanceSelector interface {
	SelectForDistance(distance float64) MotionProfile
}

// GridAxis returns n values evenly spaced over [min, max]. A single point
// sits at min.
func GridAxis(min, max float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{min}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = geom.Lerp(min, max, float64(i)/float64(n-1))
	}
	// pin the last value so float error never overshoots the zone
	out[n-1] = max
	return out
}

// CreateTrajectory lists the grid positions of zone in visiting order.
//
// RASTER scans every row left to right. SERPENTINE alternates direction on
// each row, starting left to right. COMB visits each column in ascending y
// before advancing to the next x.
func CreateTrajectory(zone ScanZone, xPoints, yPoints int, pattern ScanPattern) ([]geom.Position2D, error) {
	if err := zone.Validate(); err != nil {
		return nil, err
	}
	if xPoints < 1 || yPoints < 1 {
		return nil, configErr("grid", "need at least one point per axis, got %dx%d", xPoints, yPoints)
	}
	xs := GridAxis(zone.XMin, zone.XMax, xPoints)
	ys := GridAxis(zone.YMin, zone.YMax, yPoints)
	out := make([]geom.Position2D, 0, xPoints*yPoints)

	switch pattern {
	case PatternRaster:
		for _, y := range ys {
			for _, x := range xs {
				out = append(out, geom.Position2D{X: x, Y: y})
			}
		}
	case PatternSerpentine:
		for row, y := range ys {
			for i := range xs {
				x := xs[i]
				if row%2 == 1 {
					x = xs[len(xs)-1-i]
				}
				out = append(out, geom.Position2D{X: x, Y: y})
			}
		}
	case PatternComb:
		for _, x := range xs {
			for _, y := range ys {
				out = append(out, geom.Position2D{X: x, Y: y})
			}
		}
	default:
		return nil, configErr("pattern", "unknown pattern %q", pattern)
	}
	return out, nil
}

// StepTrajectory is CreateTrajectory for a step scan config.
func StepTrajectory(cfg StepScanConfig) ([]geom.Position2D, error) {
	return CreateTrajectory(cfg.Zone, cfg.XPoints, cfg.YPoints, cfg.Pattern)
}

// FlyTrajectory is CreateTrajectory for a fly scan config.
func FlyTrajectory(cfg FlyScanConfig) ([]geom.Position2D, error) {
	return CreateTrajectory(cfg.Zone, cfg.XPoints, cfg.YPoints, cfg.Pattern)
}

// CreateMotions decomposes consecutive positions into N-1 relative motions,
// each with the profile chosen for its length. Fewer than two positions
// yield no motions.
func CreateMotions(positions []geom.Position2D, selector DistanceSelector) ([]*AtomicMotion, error) {
	if len(positions) < 2 {
		return nil, nil
	}
	out := make([]*AtomicMotion, 0, len(positions)-1)
	for i := 0; i+1 < len(positions); i++ {
		dx, dy := positions[i+1].Sub(positions[i])
		profile := selector.SelectForDistance(positions[i].DistanceTo(positions[i+1]))
		m, err := NewAtomicMotion(dx, dy, profile)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
