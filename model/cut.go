package model

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

type CutSense int

const (
	LessEqual CutSense = iota
	GreaterEqual
)

func (s CutSense) String() string {
	if s == GreaterEqual {
		return ">="
	}
	return "<="
}

// Provenance records which generator produced a cut.
type Provenance int

const (
	OA Provenance = iota
	ConcaveEnvelope
	ConvexEnvelope
)

func (p Provenance) String() string {
	switch p {
	case ConcaveEnvelope:
		return "concave"
	case ConvexEnvelope:
		return "convex"
	default:
		return "oa"
	}
}

type Term struct {
	Var  int
	Coef float64
}

// Cut is the linear inequality Σ coef·x (<= | >=) RHS. Once added to a search a cut is
// never removed.
type Cut struct {
	Terms      []Term
	Sense      CutSense
	RHS        float64
	Provenance Provenance

	// the constraint the cut linearizes
	Constraint int
}

// NewCut builds a cut from a coefficient map, dropping zero coefficients and ordering the
// terms by variable index.
func NewCut(coefs map[int]float64, sense CutSense, rhs float64, prov Provenance, constraint int) Cut {
	terms := make([]Term, 0, len(coefs))
	for i, c := range coefs {
		if c != 0 {
			terms = append(terms, Term{Var: i, Coef: c})
		}
	}
	sort.Slice(terms, func(a, b int) bool { return terms[a].Var < terms[b].Var })

	return Cut{
		Terms:      terms,
		Sense:      sense,
		RHS:        rhs,
		Provenance: prov,
		Constraint: constraint,
	}
}

// LHS evaluates Σ coef·x at x.
func (c Cut) LHS(x []float64) float64 {
	var total float64
	for _, t := range c.Terms {
		total += t.Coef * x[t.Var]
	}
	return total
}

// Violation is positive when x lies on the wrong side of the cut.
func (c Cut) Violation(x []float64) float64 {
	if c.Sense == GreaterEqual {
		return c.RHS - c.LHS(x)
	}
	return c.LHS(x) - c.RHS
}

// Finite reports whether all coefficients and the right-hand side are finite numbers.
func (c Cut) Finite() bool {
	if math.IsNaN(c.RHS) || math.IsInf(c.RHS, 0) {
		return false
	}
	for _, t := range c.Terms {
		if math.IsNaN(t.Coef) || math.IsInf(t.Coef, 0) {
			return false
		}
	}
	return true
}

// AsLessEqual returns the dense coefficient row and right-hand side of the cut written
// as row·x <= rhs over n variables.
func (c Cut) AsLessEqual(n int) ([]float64, float64) {
	row := make([]float64, n)
	sign := 1.0
	if c.Sense == GreaterEqual {
		sign = -1
	}
	for _, t := range c.Terms {
		row[t.Var] += sign * t.Coef
	}
	return row, sign * c.RHS
}

// Key identifies cuts that describe the same half-space up to rounding noise.
func (c Cut) Key() string {
	row := make(map[int]float64, len(c.Terms))
	rhs := c.RHS
	if c.Sense == GreaterEqual {
		rhs = -rhs
	}
	for _, t := range c.Terms {
		if c.Sense == GreaterEqual {
			row[t.Var] -= t.Coef
		} else {
			row[t.Var] += t.Coef
		}
	}

	// normalize by the largest coefficient so scaled copies collide
	scale := math.Abs(rhs)
	for _, v := range row {
		scale = math.Max(scale, math.Abs(v))
	}
	if scale == 0 {
		scale = 1
	}

	idx := make([]int, 0, len(row))
	for i := range row {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	var sb strings.Builder
	for _, i := range idx {
		fmt.Fprintf(&sb, "%d:%.9g;", i, row[i]/scale)
	}
	fmt.Fprintf(&sb, "<=%.9g", rhs/scale)
	return sb.String()
}

func (c Cut) String() string {
	parts := make([]string, len(c.Terms))
	for k, t := range c.Terms {
		parts[k] = fmt.Sprintf("%g*x[%d]", t.Coef, t.Var)
	}
	lhs := strings.Join(parts, " + ")
	if lhs == "" {
		lhs = "0"
	}
	return fmt.Sprintf("%s %s %g", lhs, c.Sense, c.RHS)
}
