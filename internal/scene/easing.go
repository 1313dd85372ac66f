package scene

import "math"

// Easing maps a linear transition fraction t ∈ [0,1] to an eased
// progress s ∈ [0,1].
type Easing interface {
	Ease(t float64) float64
}

// Linear returns t unchanged.
type Linear struct{}

func (Linear) Ease(t float64) float64 { return clamp01(t) }

// Bounce is the fixed bounce-out curve spec 4.4 names; constants match
// the conventional Robert Penner bounce-out formulation.
type Bounce struct{}

func (Bounce) Ease(t float64) float64 {
	t = clamp01(t)
	const n1 = 7.5625
	const d1 = 2.75
	switch {
	case t < 1/d1:
		return n1 * t * t
	case t < 2/d1:
		t -= 1.5 / d1
		return n1*t*t + 0.75
	case t < 2.5/d1:
		t -= 2.25 / d1
		return n1*t*t + 0.9375
	default:
		t -= 2.625 / d1
		return n1*t*t + 0.984375
	}
}

// CubicBezier is a Bézier easing curve with control points
// (0,0), (X1,Y1), (X2,Y2), (1,1), per spec 4.4.
type CubicBezier struct {
	X1, Y1, X2, Y2 float64
}

const (
	bezierNewtonIterations = 8
	bezierNewtonEpsilon    = 1e-6
	bezierBisectIterations = 30
)

// Ease solves for the Bézier parameter u whose x-coordinate equals t
// (Newton's method, falling back to bisection if Newton fails to
// converge because the derivative is near zero), then returns the
// clamped y-coordinate at u.
func (c CubicBezier) Ease(t float64) float64 {
	t = clamp01(t)
	u := t // initial guess
	for i := 0; i < bezierNewtonIterations; i++ {
		x := c.bezierX(u) - t
		if math.Abs(x) < bezierNewtonEpsilon {
			return clamp01(c.bezierY(u))
		}
		dx := c.bezierXDerivative(u)
		if math.Abs(dx) < 1e-9 {
			break
		}
		u -= x / dx
		if u < 0 || u > 1 {
			break
		}
	}

	lo, hi := 0.0, 1.0
	for i := 0; i < bezierBisectIterations; i++ {
		mid := (lo + hi) / 2
		if c.bezierX(mid) < t {
			lo = mid
		} else {
			hi = mid
		}
	}
	return clamp01(c.bezierY((lo + hi) / 2))
}

func (c CubicBezier) bezierX(u float64) float64 { return bezierComponent(u, c.X1, c.X2) }
func (c CubicBezier) bezierY(u float64) float64 { return bezierComponent(u, c.Y1, c.Y2) }

// bezierComponent evaluates one axis of the cubic Bézier with
// endpoints fixed at 0 and 1, control points p1 and p2.
func bezierComponent(u, p1, p2 float64) float64 {
	v := 1 - u
	return 3*v*v*u*p1 + 3*v*u*u*p2 + u*u*u
}

func (c CubicBezier) bezierXDerivative(u float64) float64 {
	v := 1 - u
	return 3*v*v*c.X1 + 6*v*u*(c.X2-c.X1) + 3*u*u*(1-c.X2)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
