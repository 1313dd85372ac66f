package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinearEasingIsIdentity(t *testing.T) {
	e := Linear{}
	assert.Equal(t, 0.0, e.Ease(0))
	assert.Equal(t, 0.5, e.Ease(0.5))
	assert.Equal(t, 1.0, e.Ease(1))
}

func TestBounceEasingEndpointsAreZeroAndOne(t *testing.T) {
	e := Bounce{}
	assert.InDelta(t, 0.0, e.Ease(0), 1e-9)
	assert.InDelta(t, 1.0, e.Ease(1), 1e-9)
}

func TestBounceEasingStaysInRange(t *testing.T) {
	e := Bounce{}
	for _, t64 := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		v := e.Ease(t64)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestCubicBezierEndpoints(t *testing.T) {
	b := CubicBezier{X1: 0.25, Y1: 0.1, X2: 0.25, Y2: 1}
	assert.InDelta(t, 0.0, b.Ease(0), 1e-6)
	assert.InDelta(t, 1.0, b.Ease(1), 1e-6)
}

func TestCubicBezierLinearControlPointsApproximatesIdentity(t *testing.T) {
	b := CubicBezier{X1: 0.33, Y1: 0.33, X2: 0.66, Y2: 0.66}
	assert.InDelta(t, 0.5, b.Ease(0.5), 0.05)
}

func TestCubicBezierMonotonicForEaseInOut(t *testing.T) {
	b := CubicBezier{X1: 0.42, Y1: 0, X2: 0.58, Y2: 1}
	prev := -1.0
	for i := 0; i <= 10; i++ {
		v := b.Ease(float64(i) / 10)
		assert.GreaterOrEqual(t, v, prev)
		prev = v
	}
}
