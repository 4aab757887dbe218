package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/jjhbw/GoMINLP/expr"
)

type Domain int

const (
	Continuous Domain = iota
	Integer
	Binary
)

func (d Domain) String() string {
	switch d {
	case Integer:
		return "integer"
	case Binary:
		return "binary"
	default:
		return "continuous"
	}
}

func (d Domain) IsDiscrete() bool {
	return d == Integer || d == Binary
}

// ParseDomain accepts the names returned by Domain.String.
func ParseDomain(s string) (Domain, error) {
	switch s {
	case "", "continuous", "real":
		return Continuous, nil
	case "integer":
		return Integer, nil
	case "binary":
		return Binary, nil
	}
	return Continuous, fmt.Errorf("unknown variable domain %q", s)
}

// Variable is the declaration of a decision variable. Its Index is its identity in
// expressions, points and binding lists.
type Variable struct {
	Index  int
	Name   string
	Domain Domain
	Lower  float64
	Upper  float64
}

// Expr returns the expression node referring to this variable.
func (v *Variable) Expr() expr.Var {
	return expr.V(v.Index)
}

var ErrOutOfDomain = errors.New("value is not in the variable's domain")

// Binding holds the value of one variable in one model instance, together with the
// instance's own view of the variable's domain, bounds and status flags.
type Binding struct {
	Var    *Variable
	Value  float64
	Valued bool
	Fixed  bool
	Stale  bool
	Domain Domain
	Lower  float64
	Upper  float64
}

func NewBinding(v *Variable) *Binding {
	return &Binding{
		Var:    v,
		Domain: v.Domain,
		Lower:  v.Lower,
		Upper:  v.Upper,
	}
}

func (b *Binding) HasLower() bool { return !math.IsInf(b.Lower, -1) }
func (b *Binding) HasUpper() bool { return !math.IsInf(b.Upper, 1) }

// Contains reports whether v can be assigned without any adjustment: within the bounds
// and exactly integral for discrete domains.
func (b *Binding) Contains(v float64) bool {
	if math.IsNaN(v) || v < b.Lower || v > b.Upper {
		return false
	}
	if b.Domain.IsDiscrete() && v != math.Trunc(v) {
		return false
	}
	return true
}

// Set assigns v if it lies in the binding's domain.
func (b *Binding) Set(v float64) error {
	if !b.Contains(v) {
		return fmt.Errorf("%s = %v (bounds [%v, %v], %s): %w", b.Var.Name, v, b.Lower, b.Upper, b.Domain, ErrOutOfDomain)
	}
	b.Value = v
	b.Valued = true
	return nil
}

// Fix assigns v and marks the binding fixed.
func (b *Binding) Fix(v float64) error {
	if err := b.Set(v); err != nil {
		return err
	}
	b.Fixed = true
	return nil
}

// BindingList is one model instance's ordered list of bindings. Lists of different
// instances correspond by position.
type BindingList []*Binding

func NewBindingList(vars []*Variable) BindingList {
	list := make(BindingList, len(vars))
	for i, v := range vars {
		list[i] = NewBinding(v)
	}
	return list
}

// Point returns the current values; variables without a value read as NaN.
func (l BindingList) Point() []float64 {
	x := make([]float64, len(l))
	for i, b := range l {
		if b.Valued {
			x[i] = b.Value
		} else {
			x[i] = math.NaN()
		}
	}
	return x
}

// Snapshot copies the current values into a freshly allocated slice.
func (l BindingList) Snapshot() []float64 {
	return l.Point()
}

// AllValued reports whether every variable in idx has a value.
func (l BindingList) AllValued(idx []int) bool {
	for _, i := range idx {
		if !l[i].Valued {
			return false
		}
	}
	return true
}
