package scan

import (
	"math"

	"github.com/banshee-data/scanbench/internal/geom"
)

// MotionProfile is a trapezoidal speed envelope. Speeds are mm/s and
// accelerations mm/s².
type MotionProfile struct {
	MinSpeed     float64 `json:"min_speed"`
	TargetSpeed  float64 `json:"target_speed"`
	Acceleration float64 `json:"acceleration"`
	Deceleration float64 `json:"deceleration"`
}

// Validate checks every field is positive and finite and the envelope is
// ordered.
func (p MotionProfile) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"min_speed", p.MinSpeed},
		{"target_speed", p.TargetSpeed},
		{"acceleration", p.Acceleration},
		{"deceleration", p.Deceleration},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v <= 0 {
			return configErr("motion_profile."+f.name, "must be positive, got %v", f.v)
		}
	}
	if p.MinSpeed > p.TargetSpeed {
		return configErr("motion_profile.min_speed", "%v exceeds target_speed %v", p.MinSpeed, p.TargetSpeed)
	}
	return nil
}

// ScanPattern is the visiting order of grid points.
type ScanPattern string

const (
	PatternRaster     ScanPattern = "RASTER"
	PatternSerpentine ScanPattern = "SERPENTINE"
	PatternComb       ScanPattern = "COMB"
)

// Valid reports whether p is a known pattern.
func (p ScanPattern) Valid() bool {
	switch p {
	case PatternRaster, PatternSerpentine, PatternComb:
		return true
	}
	return false
}

// ScanZone is the rectangular region covered by a scan, in mm.
type ScanZone struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// Validate rejects non-finite or inverted bounds.
func (z ScanZone) Validate() error {
	lo := geom.Position2D{X: z.XMin, Y: z.YMin}
	hi := geom.Position2D{X: z.XMax, Y: z.YMax}
	if !lo.IsFinite() || !hi.IsFinite() {
		return configErr("scan_zone", "bounds must be finite")
	}
	if z.XMin > z.XMax {
		return configErr("scan_zone.x", "x_min %v > x_max %v", z.XMin, z.XMax)
	}
	if z.YMin > z.YMax {
		return configErr("scan_zone.y", "y_min %v > y_max %v", z.YMin, z.YMax)
	}
	return nil
}

// Width is the X span of the zone.
func (z ScanZone) Width() float64 { return z.XMax - z.XMin }

// Height is the Y span of the zone.
func (z ScanZone) Height() float64 { return z.YMax - z.YMin }
