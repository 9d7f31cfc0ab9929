// Package geom holds the planar geometry shared by the scan and motion layers.
// All coordinates are in millimetres.
package geom

import (
	"fmt"
	"math"
)

// Position2D is a point on the bench plane.
type Position2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p translated by (dx, dy).
func (p Position2D) Add(dx, dy float64) Position2D {
	return Position2D{X: p.X + dx, Y: p.Y + dy}
}

// Sub returns the displacement from o to p.
func (p Position2D) Sub(o Position2D) (dx, dy float64) {
	return p.X - o.X, p.Y - o.Y
}

// DistanceTo returns the Euclidean distance between p and o.
func (p Position2D) DistanceTo(o Position2D) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Position2D) IsFinite() bool {
	return isFinite(p.X) && isFinite(p.Y)
}

func (p Position2D) String() string {
	return fmt.Sprintf("(%.4f, %.4f)", p.X, p.Y)
}

// Lerp returns the value at fraction t of the way from a to b.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
