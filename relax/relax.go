// Package relax computes McCormick relaxations of expression trees: a convex
// underestimator and a concave overestimator of an expression at a point, their
// subgradients, and interval bounds of the expression over a box.
//
// The relaxations are propagated bottom-up through the tree using interval arithmetic
// for the bounds and the McCormick composition and product rules for the envelopes.
package relax

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/jjhbw/GoMINLP/expr"
)

// Envelope holds the relaxations of one expression at one point. The convex
// underestimator is Cv + Σ CvSlope[v]·(x_v − point_v), the concave overestimator
// Cc + Σ CcSlope[v]·(x_v − point_v). Lower and Upper bound the expression over the box.
type Envelope struct {
	CvSlope map[int]float64
	CcSlope map[int]float64
	Cv      float64
	Cc      float64
	Lower   float64
	Upper   float64
}

// Error is returned when an expression cannot be relaxed over the given box.
type Error struct {
	Expr   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("cannot relax %s: %s", e.Expr, e.Reason)
}

// Evaluator relaxes expressions with McCormick arithmetic.
type Evaluator struct{}

// Relax evaluates the relaxations of body at point over box. box and point are indexed by
// variable; fixed variables are given a degenerate interval.
func (Evaluator) Relax(body expr.Expr, box []Interval, point []float64) (Envelope, error) {
	if len(box) != len(point) {
		return Envelope{}, &Error{Expr: body.String(), Reason: fmt.Sprintf("box has %d entries, point has %d", len(box), len(point))}
	}

	r, err := relaxNode(body, box, point)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		CvSlope: make(map[int]float64),
		CcSlope: make(map[int]float64),
		Cv:      r.cv,
		Cc:      r.cc,
		Lower:   r.iv.Lo,
		Upper:   r.iv.Hi,
	}
	for _, i := range expr.Vars(body) {
		env.CvSlope[i] = r.cvSub[i]
		env.CcSlope[i] = r.ccSub[i]
	}
	return env, nil
}

type relaxation struct {
	cv, cc       float64
	cvSub, ccSub []float64
	iv           Interval
}

func constant(v float64, n int) relaxation {
	return relaxation{
		cv:    v,
		cc:    v,
		cvSub: make([]float64, n),
		ccSub: make([]float64, n),
		iv:    Point(v),
	}
}

// sub returns the subgradient belonging to the result of mid: 0 picks the convex side,
// 1 the concave side and 2 the constant.
func (r relaxation) sub(k int) []float64 {
	switch k {
	case 0:
		return r.cvSub
	case 1:
		return r.ccSub
	}
	return make([]float64, len(r.cvSub))
}

// tighten intersects the relaxations with the interval bounds.
func (r *relaxation) tighten() {
	if r.cv < r.iv.Lo {
		r.cv = r.iv.Lo
		r.cvSub = make([]float64, len(r.cvSub))
	}
	if r.cc > r.iv.Hi {
		r.cc = r.iv.Hi
		r.ccSub = make([]float64, len(r.ccSub))
	}
}

func relaxNode(e expr.Expr, box []Interval, point []float64) (relaxation, error) {
	n := len(point)

	var r relaxation
	switch node := e.(type) {
	case expr.Const:
		r = constant(node.Value, n)

	case expr.Var:
		if node.Index < 0 || node.Index >= n {
			return r, &Error{Expr: e.String(), Reason: "variable index out of range"}
		}
		iv, x := box[node.Index], point[node.Index]
		if iv.Empty() {
			return r, &Error{Expr: e.String(), Reason: "empty domain " + iv.String()}
		}
		if math.IsNaN(x) || !iv.Contains(x) {
			return r, &Error{Expr: e.String(), Reason: fmt.Sprintf("point %g outside %s", x, iv)}
		}
		r = constant(x, n)
		r.iv = iv
		r.cvSub[node.Index] = 1
		r.ccSub[node.Index] = 1

	case expr.Sum:
		r = constant(0, n)
		for _, t := range node.Terms {
			tr, err := relaxNode(t, box, point)
			if err != nil {
				return r, err
			}
			r.cv += tr.cv
			r.cc += tr.cc
			floats.Add(r.cvSub, tr.cvSub)
			floats.Add(r.ccSub, tr.ccSub)
			r.iv = r.iv.Add(tr.iv)
		}

	case expr.Scale:
		arg, err := relaxNode(node.Arg, box, point)
		if err != nil {
			return r, err
		}
		r = scale(node.Coef, arg)

	case expr.Product:
		r = constant(1, n)
		for _, f := range node.Factors {
			fr, err := relaxNode(f, box, point)
			if err != nil {
				return r, err
			}
			r = product(r, fr)
		}

	case expr.Power:
		base, err := relaxNode(node.Base, box, point)
		if err != nil {
			return r, err
		}
		r, err = power(base, node.N)
		if err != nil {
			return r, &Error{Expr: e.String(), Reason: err.Error()}
		}

	case expr.Exp:
		arg, err := relaxNode(node.Arg, box, point)
		if err != nil {
			return r, err
		}
		r = convexComposition(arg, math.Exp, math.Exp, arg.iv.Lo)
		r.cc, r.ccSub = secantAt(arg, math.Exp, true)
		r.iv = arg.iv.Exp()

	case expr.Log:
		arg, err := relaxNode(node.Arg, box, point)
		if err != nil {
			return r, err
		}
		if arg.iv.Lo <= 0 {
			return r, &Error{Expr: e.String(), Reason: "logarithm over " + arg.iv.String()}
		}
		r = concaveComposition(arg, math.Log, func(u float64) float64 { return 1 / u }, arg.iv.Hi)
		r.cv, r.cvSub = secantAt(arg, math.Log, false)
		r.iv = arg.iv.Log()

	default:
		return r, &Error{Expr: e.String(), Reason: fmt.Sprintf("unsupported node %T", e)}
	}

	r.tighten()
	return r, nil
}

func scale(c float64, a relaxation) relaxation {
	r := constant(0, len(a.cvSub))
	if c >= 0 {
		r.cv, r.cc = c*a.cv, c*a.cc
		floats.AddScaled(r.cvSub, c, a.cvSub)
		floats.AddScaled(r.ccSub, c, a.ccSub)
	} else {
		r.cv, r.cc = c*a.cc, c*a.cv
		floats.AddScaled(r.cvSub, c, a.ccSub)
		floats.AddScaled(r.ccSub, c, a.cvSub)
	}
	r.iv = a.iv.Scale(c)
	return r
}

// product applies the McCormick rule for x·y.
func product(x, y relaxation) relaxation {
	// a degenerate factor is a constant and scales exactly
	if x.iv.Width() == 0 {
		return scale(x.iv.Lo, y)
	}
	if y.iv.Width() == 0 {
		return scale(y.iv.Lo, x)
	}

	xL, xU, yL, yU := x.iv.Lo, x.iv.Hi, y.iv.Lo, y.iv.Hi
	n := len(x.cvSub)

	a1, a1x := under(yL, x)
	a1y, a1ys := under(xL, y)
	a2, a2x := under(yU, x)
	a2y, a2ys := under(xU, y)
	alpha1, alpha2 := a1+a1y-xL*yL, a2+a2y-xU*yU

	b1, b1x := over(yL, x)
	b1y, b1ys := over(xU, y)
	b2, b2x := over(yU, x)
	b2y, b2ys := over(xL, y)
	beta1, beta2 := b1+b1y-xU*yL, b2+b2y-xL*yU

	r := constant(0, n)
	if alpha1 >= alpha2 {
		r.cv = alpha1
		floats.AddTo(r.cvSub, a1x, a1ys)
	} else {
		r.cv = alpha2
		floats.AddTo(r.cvSub, a2x, a2ys)
	}
	if beta1 <= beta2 {
		r.cc = beta1
		floats.AddTo(r.ccSub, b1x, b1ys)
	} else {
		r.cc = beta2
		floats.AddTo(r.ccSub, b2x, b2ys)
	}
	if math.IsNaN(alpha1) || math.IsNaN(alpha2) {
		r.cv = math.NaN()
	}
	if math.IsNaN(beta1) || math.IsNaN(beta2) {
		r.cc = math.NaN()
	}
	r.iv = x.iv.Mul(y.iv)
	return r
}

// under returns min(a·cv, a·cc) with its subgradient.
func under(a float64, r relaxation) (float64, []float64) {
	sub := make([]float64, len(r.cvSub))
	if a >= 0 {
		floats.AddScaled(sub, a, r.cvSub)
		return a * r.cv, sub
	}
	floats.AddScaled(sub, a, r.ccSub)
	return a * r.cc, sub
}

// over returns max(a·cv, a·cc) with its subgradient.
func over(a float64, r relaxation) (float64, []float64) {
	sub := make([]float64, len(r.cvSub))
	if a >= 0 {
		floats.AddScaled(sub, a, r.ccSub)
		return a * r.cc, sub
	}
	floats.AddScaled(sub, a, r.cvSub)
	return a * r.cv, sub
}

func power(base relaxation, n int) (relaxation, error) {
	switch n {
	case 0:
		return constant(1, len(base.cvSub)), nil
	case 1:
		return base, nil
	}

	f := func(u float64) float64 { return math.Pow(u, float64(n)) }
	df := func(u float64) float64 { return float64(n) * math.Pow(u, float64(n-1)) }
	lo, hi := base.iv.Lo, base.iv.Hi

	var r relaxation
	switch {
	case n%2 == 0:
		r = convexComposition(base, f, df, base.iv.Clamp(0))
		r.cc, r.ccSub = secantAt(base, f, true)
	case lo >= 0:
		r = convexComposition(base, f, df, lo)
		r.cc, r.ccSub = secantAt(base, f, true)
	case hi <= 0:
		r = concaveComposition(base, f, df, hi)
		r.cv, r.cvSub = secantAt(base, f, false)
	default:
		return r, fmt.Errorf("odd power over %s is neither convex nor concave", base.iv)
	}
	r.iv = base.iv.Pow(n)
	return r, nil
}

// convexComposition sets the convex side of f(g) by the McCormick mid rule, where argmin
// is the minimizer of f over the range of g. The concave side is left to the caller.
func convexComposition(g relaxation, f, df func(float64) float64, argmin float64) relaxation {
	r := constant(0, len(g.cvSub))
	u, k := mid(g.cv, g.cc, argmin)
	r.cv = f(u)
	floats.AddScaled(r.cvSub, df(u), g.sub(k))
	return r
}

// concaveComposition is the mirror of convexComposition for a concave outer function.
func concaveComposition(g relaxation, f, df func(float64) float64, argmax float64) relaxation {
	r := constant(0, len(g.cvSub))
	u, k := mid(g.cv, g.cc, argmax)
	r.cc = f(u)
	floats.AddScaled(r.ccSub, df(u), g.sub(k))
	return r
}

// secantAt evaluates the secant of f over the range of g, composed with the side of g that
// keeps it an overestimator (over) or an underestimator. Unbounded ranges give NaN.
func secantAt(g relaxation, f func(float64) float64, over bool) (float64, []float64) {
	lo, hi := g.iv.Lo, g.iv.Hi
	sub := make([]float64, len(g.cvSub))
	if hi == lo {
		return f(lo), sub
	}

	slope := (f(hi) - f(lo)) / (hi - lo)
	u, s := g.cv, g.cvSub
	if (slope >= 0) == over {
		u, s = g.cc, g.ccSub
	}
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		for i := range sub {
			if s[i] != 0 {
				sub[i] = math.NaN()
			}
		}
		return math.NaN(), sub
	}
	floats.AddScaled(sub, slope, s)
	return f(lo) + slope*(u-lo), sub
}

// mid returns the median of a, b and c and which of the three it is.
func mid(a, b, c float64) (float64, int) {
	switch {
	case (a <= b && b <= c) || (c <= b && b <= a):
		return b, 1
	case (b <= a && a <= c) || (c <= a && a <= b):
		return a, 0
	}
	return c, 2
}
