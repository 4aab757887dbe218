// Package model holds the problem definition shared by the solvers: variables and their
// value bindings, constraints, objective and the linear cuts generated during the search.
package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/jjhbw/GoMINLP/expr"
)

type Sense int

const (
	Minimize Sense = iota
	Maximize
)

func (s Sense) String() string {
	if s == Maximize {
		return "maximize"
	}
	return "minimize"
}

// Factor is +1 for minimization and -1 for maximization.
func (s Sense) Factor() float64 {
	if s == Maximize {
		return -1
	}
	return 1
}

var (
	ErrUndeclaredVariable = errors.New("expression contains a variable that has not been declared to this model")
	ErrNoObjective        = errors.New("model has no objective")
	ErrEmptyBounds        = errors.New("lower bound is larger than upper bound")
)

type Model struct {
	Name        string
	Sense       Sense
	Variables   []*Variable
	Constraints []*Constraint
	Objective   expr.Expr
}

func NewModel(name string, sense Sense) *Model {
	return &Model{
		Name:  name,
		Sense: sense,
	}
}

// AddVariable adds a variable and returns a reference to it.
// Binary variables always get the bounds [0, 1].
func (m *Model) AddVariable(name string, domain Domain, lower, upper float64) (*Variable, error) {
	if domain == Binary {
		lower, upper = math.Max(0, lower), math.Min(1, upper)
	}
	if lower > upper {
		return nil, fmt.Errorf("variable %q: %w", name, ErrEmptyBounds)
	}
	if name == "" {
		name = fmt.Sprintf("x%d", len(m.Variables))
	}

	v := &Variable{
		Index:  len(m.Variables),
		Name:   name,
		Domain: domain,
		Lower:  lower,
		Upper:  upper,
	}
	m.Variables = append(m.Variables, v)

	return v, nil
}

// AddConstraint adds lower <= body <= upper. Use ±Inf for an absent side.
func (m *Model) AddConstraint(name string, body expr.Expr, lower, upper float64) (*Constraint, error) {
	if !m.checkExpression(body) {
		return nil, fmt.Errorf("constraint %q: %w", name, ErrUndeclaredVariable)
	}
	if math.IsInf(lower, -1) && math.IsInf(upper, 1) {
		return nil, fmt.Errorf("constraint %q has neither a lower nor an upper bound", name)
	}
	if lower > upper {
		return nil, fmt.Errorf("constraint %q: %w", name, ErrEmptyBounds)
	}
	if name == "" {
		name = fmt.Sprintf("c%d", len(m.Constraints))
	}

	c := &Constraint{
		ID:    len(m.Constraints),
		Name:  name,
		Body:  body,
		Lower: lower,
		Upper: upper,
	}
	m.Constraints = append(m.Constraints, c)

	return c, nil
}

func (m *Model) SetObjective(e expr.Expr) error {
	if !m.checkExpression(e) {
		return fmt.Errorf("objective: %w", ErrUndeclaredVariable)
	}
	m.Objective = e
	return nil
}

// Check whether the expression is legal considering the variables currently present in the model
func (m *Model) checkExpression(e expr.Expr) bool {
	for _, i := range expr.Vars(e) {
		if i < 0 || i >= len(m.Variables) {
			return false
		}
	}
	return true
}

// Validate checks the model is complete enough to be solved.
func (m *Model) Validate() error {
	if m.Objective == nil {
		return ErrNoObjective
	}
	if len(m.Variables) == 0 {
		return errors.New("model has no variables")
	}
	return nil
}

// VariableByName returns nil when no variable has the given name.
func (m *Model) VariableByName(name string) *Variable {
	for _, v := range m.Variables {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// HasDiscrete reports whether any variable is integer or binary.
func (m *Model) HasDiscrete() bool {
	for _, v := range m.Variables {
		if v.Domain.IsDiscrete() {
			return true
		}
	}
	return false
}
