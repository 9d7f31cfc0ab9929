package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPosition2D_DistanceTo(t *testing.T) {
	a := Position2D{X: 0, Y: 0}
	b := Position2D{X: 3, Y: 4}
	assert.InDelta(t, 5.0, a.DistanceTo(b), 1e-12)
	assert.InDelta(t, 5.0, b.DistanceTo(a), 1e-12)
}

func TestPosition2D_AddSub(t *testing.T) {
	p := Position2D{X: 1, Y: 2}.Add(2, -1)
	assert.Equal(t, Position2D{X: 3, Y: 1}, p)

	dx, dy := p.Sub(Position2D{X: 1, Y: 1})
	assert.Equal(t, 2.0, dx)
	assert.Equal(t, 0.0, dy)
}

func TestPosition2D_IsFinite(t *testing.T) {
	assert.True(t, Position2D{X: 1, Y: -1}.IsFinite())
	assert.False(t, Position2D{X: math.NaN(), Y: 0}.IsFinite())
	assert.False(t, Position2D{X: 0, Y: math.Inf(1)}.IsFinite())
}

func TestLerp(t *testing.T) {
	assert.Equal(t, 0.0, Lerp(0, 10, 0))
	assert.Equal(t, 10.0, Lerp(0, 10, 1))
	assert.Equal(t, 2.5, Lerp(0, 10, 0.25))
}
