// Package expr implements the expression trees used for objective functions and
// constraint bodies, together with their evaluation and analytic partial derivatives.
//
// Variables are referred to by their index in the model's variable list, and points are
// plain slices indexed the same way.
package expr

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// NonPolynomial is the degree reported by expressions that are not polynomials,
// e.g. exp(x) or log(x).
const NonPolynomial = -1

type Expr interface {
	// Eval evaluates the expression at point x.
	Eval(x []float64) float64

	// Deriv evaluates the partial derivative with respect to variable i at point x.
	Deriv(i int, x []float64) float64

	// Degree returns the polynomial degree, or NonPolynomial.
	Degree() int

	String() string

	collectVars(set map[int]struct{})
}

type Const struct {
	Value float64
}

type Var struct {
	Index int
}

type Sum struct {
	Terms []Expr
}

type Product struct {
	Factors []Expr
}

// Power raises Base to a non-negative integer exponent.
type Power struct {
	Base Expr
	N    int
}

type Exp struct {
	Arg Expr
}

type Log struct {
	Arg Expr
}

// Scale multiplies Arg by a constant coefficient.
type Scale struct {
	Coef float64
	Arg  Expr
}

// constructors

func C(v float64) Const { return Const{Value: v} }

func V(i int) Var { return Var{Index: i} }

func Add(terms ...Expr) Sum { return Sum{Terms: terms} }

func Mul(factors ...Expr) Product { return Product{Factors: factors} }

func Pow(base Expr, n int) Power { return Power{Base: base, N: n} }

func Neg(e Expr) Scale { return Scale{Coef: -1, Arg: e} }

func Sub(a, b Expr) Sum { return Sum{Terms: []Expr{a, Neg(b)}} }

func Times(coef float64, e Expr) Scale { return Scale{Coef: coef, Arg: e} }

func Exponential(e Expr) Exp { return Exp{Arg: e} }

func Logarithm(e Expr) Log { return Log{Arg: e} }

// Const

func (c Const) Eval([]float64) float64       { return c.Value }
func (c Const) Deriv(int, []float64) float64 { return 0 }
func (c Const) Degree() int                  { return 0 }
func (c Const) String() string               { return formatFloat(c.Value) }
func (c Const) collectVars(map[int]struct{}) {}

// Var

func (v Var) Eval(x []float64) float64 { return x[v.Index] }

func (v Var) Deriv(i int, _ []float64) float64 {
	if i == v.Index {
		return 1
	}
	return 0
}

func (v Var) Degree() int                      { return 1 }
func (v Var) String() string                   { return fmt.Sprintf("x[%d]", v.Index) }
func (v Var) collectVars(set map[int]struct{}) { set[v.Index] = struct{}{} }

// Sum

func (s Sum) Eval(x []float64) float64 {
	var total float64
	for _, t := range s.Terms {
		total += t.Eval(x)
	}
	return total
}

func (s Sum) Deriv(i int, x []float64) float64 {
	var total float64
	for _, t := range s.Terms {
		total += t.Deriv(i, x)
	}
	return total
}

func (s Sum) Degree() int {
	deg := 0
	for _, t := range s.Terms {
		d := t.Degree()
		if d == NonPolynomial {
			return NonPolynomial
		}
		if d > deg {
			deg = d
		}
	}
	return deg
}

func (s Sum) String() string {
	parts := make([]string, len(s.Terms))
	for k, t := range s.Terms {
		parts[k] = t.String()
	}
	return "(" + strings.Join(parts, " + ") + ")"
}

func (s Sum) collectVars(set map[int]struct{}) {
	for _, t := range s.Terms {
		t.collectVars(set)
	}
}

// Product

func (p Product) Eval(x []float64) float64 {
	total := 1.0
	for _, f := range p.Factors {
		total *= f.Eval(x)
	}
	return total
}

// product rule, without dividing by factor values so zero factors are handled
func (p Product) Deriv(i int, x []float64) float64 {
	var total float64
	for k, f := range p.Factors {
		d := f.Deriv(i, x)
		if d == 0 {
			continue
		}
		for j, g := range p.Factors {
			if j != k {
				d *= g.Eval(x)
			}
		}
		total += d
	}
	return total
}

func (p Product) Degree() int {
	deg := 0
	for _, f := range p.Factors {
		d := f.Degree()
		if d == NonPolynomial {
			return NonPolynomial
		}
		deg += d
	}
	return deg
}

func (p Product) String() string {
	parts := make([]string, len(p.Factors))
	for k, f := range p.Factors {
		parts[k] = f.String()
	}
	return "(" + strings.Join(parts, " * ") + ")"
}

func (p Product) collectVars(set map[int]struct{}) {
	for _, f := range p.Factors {
		f.collectVars(set)
	}
}

// Power

func (p Power) Eval(x []float64) float64 {
	return math.Pow(p.Base.Eval(x), float64(p.N))
}

func (p Power) Deriv(i int, x []float64) float64 {
	if p.N == 0 {
		return 0
	}
	d := p.Base.Deriv(i, x)
	if d == 0 {
		return 0
	}
	return float64(p.N) * math.Pow(p.Base.Eval(x), float64(p.N-1)) * d
}

func (p Power) Degree() int {
	if p.N == 0 {
		return 0
	}
	d := p.Base.Degree()
	if d == NonPolynomial {
		return NonPolynomial
	}
	return d * p.N
}

func (p Power) String() string                   { return fmt.Sprintf("%s^%d", p.Base, p.N) }
func (p Power) collectVars(set map[int]struct{}) { p.Base.collectVars(set) }

// Exp

func (e Exp) Eval(x []float64) float64 { return math.Exp(e.Arg.Eval(x)) }

func (e Exp) Deriv(i int, x []float64) float64 {
	d := e.Arg.Deriv(i, x)
	if d == 0 {
		return 0
	}
	return math.Exp(e.Arg.Eval(x)) * d
}

func (e Exp) Degree() int                      { return transcendentalDegree(e.Arg) }
func (e Exp) String() string                   { return fmt.Sprintf("exp(%s)", e.Arg) }
func (e Exp) collectVars(set map[int]struct{}) { e.Arg.collectVars(set) }

// Log

func (l Log) Eval(x []float64) float64 { return math.Log(l.Arg.Eval(x)) }

func (l Log) Deriv(i int, x []float64) float64 {
	d := l.Arg.Deriv(i, x)
	if d == 0 {
		return 0
	}
	return d / l.Arg.Eval(x)
}

func (l Log) Degree() int                      { return transcendentalDegree(l.Arg) }
func (l Log) String() string                   { return fmt.Sprintf("log(%s)", l.Arg) }
func (l Log) collectVars(set map[int]struct{}) { l.Arg.collectVars(set) }

// Scale

func (s Scale) Eval(x []float64) float64         { return s.Coef * s.Arg.Eval(x) }
func (s Scale) Deriv(i int, x []float64) float64 { return s.Coef * s.Arg.Deriv(i, x) }

func (s Scale) Degree() int {
	if s.Coef == 0 {
		return 0
	}
	return s.Arg.Degree()
}

func (s Scale) String() string                   { return fmt.Sprintf("%s*%s", formatFloat(s.Coef), s.Arg) }
func (s Scale) collectVars(set map[int]struct{}) { s.Arg.collectVars(set) }

// a function of a constant is a constant
func transcendentalDegree(arg Expr) int {
	if arg.Degree() == 0 {
		return 0
	}
	return NonPolynomial
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}

// Vars returns the sorted indices of the variables that appear in e.
func Vars(e Expr) []int {
	set := make(map[int]struct{})
	e.collectVars(set)

	idx := make([]int, 0, len(set))
	for i := range set {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// IsLinear reports whether e is constant or linear in its variables.
func IsLinear(e Expr) bool {
	d := e.Degree()
	return d == 0 || d == 1
}

// NeedsLinearization reports whether a constraint with body e needs cuts:
// polynomials of degree two or higher and all non-polynomial expressions.
func NeedsLinearization(e Expr) bool {
	return !IsLinear(e)
}
