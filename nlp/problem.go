// Package nlp is a local solver for smooth nonlinear programs
//
//	min/max f(x)  s.t.  lower_c <= c(x) <= upper_c,  l <= x <= u
//
// based on the augmented Lagrangian method, with quasi-Newton inner solves from
// gonum's optimize package. Variables can be fixed, which is how integer assignments are
// imposed on continuous subproblems.
package nlp

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jjhbw/GoMINLP/expr"
	"github.com/jjhbw/GoMINLP/model"
)

// Function is a differentiable function of the full variable vector.
// expr.Expr satisfies it.
type Function interface {
	Eval(x []float64) float64
	Deriv(i int, x []float64) float64
}

type Status int

const (
	Optimal Status = iota
	LocallyOptimal
	Infeasible
	IterationLimit
	Unbounded
	Error
)

func (s Status) String() string {
	switch s {
	case Optimal:
		return "optimal"
	case LocallyOptimal:
		return "locally optimal"
	case Infeasible:
		return "infeasible"
	case IterationLimit:
		return "iteration limit"
	case Unbounded:
		return "unbounded"
	default:
		return "error"
	}
}

// Constraint is Lower <= Body(x) <= Upper, with ±Inf for an absent side.
type Constraint struct {
	ID    int
	Body  Function
	Lower float64
	Upper float64
}

type Problem struct {
	Objective   Function
	Sense       model.Sense
	Constraints []Constraint

	// variable bounds, ±Inf when absent
	Lower []float64
	Upper []float64

	// fixed variables keep their value from X0
	Fixed []bool

	// starting point; NaN entries are replaced by a point inside the bounds
	X0 []float64
}

// Result of a solve. Duals are keyed by constraint ID and follow the convention
// dual = d objective* / d rhs in the problem's own sense.
type Result struct {
	Status     Status
	X          []float64
	Objective  float64
	Duals      map[int]float64
	Violation  float64
	Iterations int
	Message    string
}

type Settings struct {
	MaxOuterIterations   int
	MaxInnerIterations   int
	FeasibilityTolerance float64
	GradientTolerance    float64
	InitialPenalty       float64
	MaxPenalty           float64
	Timeout              time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		MaxOuterIterations:   100,
		MaxInnerIterations:   500,
		FeasibilityTolerance: 1e-6,
		GradientTolerance:    1e-8,
		InitialPenalty:       10,
		MaxPenalty:           1e8,
	}
}

var ErrDimensionMismatch = errors.New("problem vectors have inconsistent lengths")

func (p *Problem) N() int { return len(p.X0) }

func (p *Problem) check() error {
	n := p.N()
	if len(p.Lower) != n || len(p.Upper) != n || (p.Fixed != nil && len(p.Fixed) != n) {
		return ErrDimensionMismatch
	}
	if p.Objective == nil {
		return errors.New("problem has no objective")
	}
	for i := range p.Lower {
		if p.Lower[i] > p.Upper[i] {
			return fmt.Errorf("variable %d has bounds [%v, %v]", i, p.Lower[i], p.Upper[i])
		}
	}
	return nil
}

func (p *Problem) fixed(i int) bool {
	return p.Fixed != nil && p.Fixed[i]
}

// start returns X0 with free entries moved inside the bounds.
func (p *Problem) start() []float64 {
	x := make([]float64, p.N())
	for i, v := range p.X0 {
		if p.fixed(i) {
			x[i] = v
			continue
		}
		lo, hi := p.Lower[i], p.Upper[i]
		if math.IsNaN(v) {
			switch {
			case !math.IsInf(lo, 0) && !math.IsInf(hi, 0):
				v = (lo + hi) / 2
			default:
				v = 0
			}
		}
		x[i] = math.Min(math.Max(v, lo), hi)
	}
	return x
}

// FeasibilityProblem returns the restoration problem of p: minimize half the sum of
// squared constraint violations subject to the variable bounds, with the same fixings
// and starting point.
func FeasibilityProblem(p *Problem) *Problem {
	return &Problem{
		Objective: violation{constraints: p.Constraints},
		Sense:     model.Minimize,
		Lower:     p.Lower,
		Upper:     p.Upper,
		Fixed:     p.Fixed,
		X0:        p.X0,
	}
}

type violation struct {
	constraints []Constraint
}

func (v violation) residual(c Constraint, x []float64) float64 {
	b := c.Body.Eval(x)
	switch {
	case b > c.Upper:
		return b - c.Upper
	case b < c.Lower:
		return b - c.Lower
	}
	return 0
}

func (v violation) Eval(x []float64) float64 {
	var total float64
	for _, c := range v.constraints {
		r := v.residual(c, x)
		total += r * r
	}
	return total / 2
}

func (v violation) Deriv(i int, x []float64) float64 {
	var total float64
	for _, c := range v.constraints {
		if r := v.residual(c, x); r != 0 {
			total += r * c.Body.Deriv(i, x)
		}
	}
	return total
}

// support lists the variables f depends on.
func support(f Function, n int) []int {
	if e, ok := f.(expr.Expr); ok {
		return expr.Vars(e)
	}
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	return all
}
