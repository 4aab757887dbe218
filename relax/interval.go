package relax

import (
	"fmt"
	"math"
)

// Interval is the closed range [Lo, Hi]. Infinite ends are allowed.
type Interval struct {
	Lo float64
	Hi float64
}

func Point(v float64) Interval { return Interval{Lo: v, Hi: v} }

func (a Interval) Empty() bool {
	return math.IsNaN(a.Lo) || math.IsNaN(a.Hi) || a.Lo > a.Hi
}

func (a Interval) Width() float64 { return a.Hi - a.Lo }

func (a Interval) Contains(v float64) bool { return v >= a.Lo && v <= a.Hi }

// Clamp returns the point of the interval closest to v.
func (a Interval) Clamp(v float64) float64 {
	return math.Min(math.Max(v, a.Lo), a.Hi)
}

func (a Interval) String() string { return fmt.Sprintf("[%g, %g]", a.Lo, a.Hi) }

func (a Interval) Add(b Interval) Interval {
	return Interval{Lo: a.Lo + b.Lo, Hi: a.Hi + b.Hi}
}

func (a Interval) Scale(c float64) Interval {
	if c == 0 {
		return Point(0)
	}
	if c > 0 {
		return Interval{Lo: c * a.Lo, Hi: c * a.Hi}
	}
	return Interval{Lo: c * a.Hi, Hi: c * a.Lo}
}

func (a Interval) Mul(b Interval) Interval {
	p := [4]float64{mulZero(a.Lo, b.Lo), mulZero(a.Lo, b.Hi), mulZero(a.Hi, b.Lo), mulZero(a.Hi, b.Hi)}
	out := Interval{Lo: p[0], Hi: p[0]}
	for _, v := range p[1:] {
		out.Lo = math.Min(out.Lo, v)
		out.Hi = math.Max(out.Hi, v)
	}
	return out
}

// Pow raises the interval to a non-negative integer power.
func (a Interval) Pow(n int) Interval {
	if n == 0 {
		return Point(1)
	}
	lo, hi := math.Pow(a.Lo, float64(n)), math.Pow(a.Hi, float64(n))
	if n%2 == 1 {
		return Interval{Lo: lo, Hi: hi}
	}
	switch {
	case a.Lo >= 0:
		return Interval{Lo: lo, Hi: hi}
	case a.Hi <= 0:
		return Interval{Lo: hi, Hi: lo}
	default:
		return Interval{Lo: 0, Hi: math.Max(lo, hi)}
	}
}

func (a Interval) Exp() Interval {
	return Interval{Lo: math.Exp(a.Lo), Hi: math.Exp(a.Hi)}
}

// Log is only defined for intervals with a positive lower end.
func (a Interval) Log() Interval {
	return Interval{Lo: math.Log(a.Lo), Hi: math.Log(a.Hi)}
}

// in interval products 0·∞ counts as 0
func mulZero(a, b float64) float64 {
	if a == 0 || b == 0 {
		return 0
	}
	return a * b
}
