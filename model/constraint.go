package model

import (
	"math"

	"github.com/jjhbw/GoMINLP/expr"
)

type BoundKind int

const (
	Equality BoundKind = iota
	UpperOnly
	LowerOnly
	Range
)

func (k BoundKind) String() string {
	switch k {
	case Equality:
		return "equality"
	case UpperOnly:
		return "upper"
	case LowerOnly:
		return "lower"
	default:
		return "range"
	}
}

// Constraint is lower <= body <= upper, with ±Inf for an absent side.
type Constraint struct {
	ID    int
	Name  string
	Body  expr.Expr
	Lower float64
	Upper float64
}

func (c *Constraint) HasLower() bool { return !math.IsInf(c.Lower, -1) }
func (c *Constraint) HasUpper() bool { return !math.IsInf(c.Upper, 1) }

func (c *Constraint) Kind() BoundKind {
	switch {
	case c.HasLower() && c.HasUpper() && c.Lower == c.Upper:
		return Equality
	case c.HasLower() && c.HasUpper():
		return Range
	case c.HasUpper():
		return UpperOnly
	default:
		return LowerOnly
	}
}

func (c *Constraint) Degree() int { return c.Body.Degree() }

// UpperSlack is upper - body(x); negative when the upper side is violated.
func (c *Constraint) UpperSlack(x []float64) float64 {
	return c.Upper - c.Body.Eval(x)
}

// LowerSlack is body(x) - lower; negative when the lower side is violated.
func (c *Constraint) LowerSlack(x []float64) float64 {
	return c.Body.Eval(x) - c.Lower
}

// Violation is the amount by which x violates the constraint, zero when satisfied.
func (c *Constraint) Violation(x []float64) float64 {
	v := c.Body.Eval(x)
	var viol float64
	if c.HasUpper() && v > c.Upper {
		viol = v - c.Upper
	}
	if c.HasLower() && v < c.Lower {
		viol = math.Max(viol, c.Lower-v)
	}
	return viol
}
