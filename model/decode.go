package model

import (
	"errors"
	"fmt"
	"io"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/jjhbw/GoMINLP/expr"
)

// File is the YAML representation of a model.
//
//	name: example
//	sense: minimize
//	variables:
//	  - {name: x, domain: continuous, lower: 0, upper: 4}
//	  - {name: y, domain: binary}
//	objective: {sum: [{pow: {base: {var: x}, n: 2}}, {mul: [{const: 3}, {var: y}]}]}
//	constraints:
//	  - name: link
//	    body: {sum: [{var: x}, {scale: {coef: -4, arg: {var: y}}}]}
//	    upper: 0
type File struct {
	Name        string           `yaml:"name"`
	Sense       string           `yaml:"sense"`
	Variables   []VariableFile   `yaml:"variables"`
	Objective   *Node            `yaml:"objective"`
	Constraints []ConstraintFile `yaml:"constraints"`
}

type VariableFile struct {
	Name   string   `yaml:"name"`
	Domain string   `yaml:"domain"`
	Lower  *float64 `yaml:"lower"`
	Upper  *float64 `yaml:"upper"`
}

type ConstraintFile struct {
	Name  string   `yaml:"name"`
	Body  *Node    `yaml:"body"`
	Lower *float64 `yaml:"lower"`
	Upper *float64 `yaml:"upper"`
	Equal *float64 `yaml:"equal"`
}

// Node is one expression node; exactly one field must be set.
type Node struct {
	Var   *string    `yaml:"var"`
	Const *float64   `yaml:"const"`
	Sum   []*Node    `yaml:"sum"`
	Mul   []*Node    `yaml:"mul"`
	Pow   *PowerNode `yaml:"pow"`
	Scale *ScaleNode `yaml:"scale"`
	Exp   *Node      `yaml:"exp"`
	Log   *Node      `yaml:"log"`
	Neg   *Node      `yaml:"neg"`
}

type PowerNode struct {
	Base *Node `yaml:"base"`
	N    int   `yaml:"n"`
}

type ScaleNode struct {
	Coef float64 `yaml:"coef"`
	Arg  *Node   `yaml:"arg"`
}

var ErrBadNode = errors.New("expression node must set exactly one of var, const, sum, mul, pow, scale, exp, log, neg")

// Decode reads a YAML model.
func Decode(r io.Reader) (*Model, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding model: %w", err)
	}
	return f.Build()
}

// Build converts the file representation into a Model.
func (f *File) Build() (*Model, error) {
	sense := Minimize
	switch f.Sense {
	case "", "min", "minimize":
	case "max", "maximize":
		sense = Maximize
	default:
		return nil, fmt.Errorf("unknown objective sense %q", f.Sense)
	}

	m := NewModel(f.Name, sense)
	names := make(map[string]int, len(f.Variables))
	for _, vf := range f.Variables {
		domain, err := ParseDomain(vf.Domain)
		if err != nil {
			return nil, err
		}
		if _, dup := names[vf.Name]; dup {
			return nil, fmt.Errorf("variable %q declared twice", vf.Name)
		}
		v, err := m.AddVariable(vf.Name, domain, orInf(vf.Lower, -1), orInf(vf.Upper, 1))
		if err != nil {
			return nil, err
		}
		names[v.Name] = v.Index
	}

	if f.Objective == nil {
		return nil, ErrNoObjective
	}
	obj, err := f.Objective.build(names)
	if err != nil {
		return nil, fmt.Errorf("objective: %w", err)
	}
	if err := m.SetObjective(obj); err != nil {
		return nil, err
	}

	for k, cf := range f.Constraints {
		if cf.Body == nil {
			return nil, fmt.Errorf("constraint %d (%s) has no body", k, cf.Name)
		}
		body, err := cf.Body.build(names)
		if err != nil {
			return nil, fmt.Errorf("constraint %d (%s): %w", k, cf.Name, err)
		}
		lower, upper := orInf(cf.Lower, -1), orInf(cf.Upper, 1)
		if cf.Equal != nil {
			lower, upper = *cf.Equal, *cf.Equal
		}
		if _, err := m.AddConstraint(cf.Name, body, lower, upper); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func orInf(v *float64, sign int) float64 {
	if v == nil {
		return math.Inf(sign)
	}
	return *v
}

func (n *Node) build(names map[string]int) (expr.Expr, error) {
	if n == nil {
		return nil, ErrBadNode
	}

	set := 0
	for _, ok := range []bool{n.Var != nil, n.Const != nil, n.Sum != nil, n.Mul != nil,
		n.Pow != nil, n.Scale != nil, n.Exp != nil, n.Log != nil, n.Neg != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, ErrBadNode
	}

	switch {
	case n.Var != nil:
		i, ok := names[*n.Var]
		if !ok {
			return nil, fmt.Errorf("variable %q: %w", *n.Var, ErrUndeclaredVariable)
		}
		return expr.V(i), nil
	case n.Const != nil:
		return expr.C(*n.Const), nil
	case n.Sum != nil:
		terms, err := buildAll(n.Sum, names)
		if err != nil {
			return nil, err
		}
		return expr.Add(terms...), nil
	case n.Mul != nil:
		factors, err := buildAll(n.Mul, names)
		if err != nil {
			return nil, err
		}
		return expr.Mul(factors...), nil
	case n.Pow != nil:
		if n.Pow.N < 0 {
			return nil, fmt.Errorf("negative exponent %d", n.Pow.N)
		}
		base, err := n.Pow.Base.build(names)
		if err != nil {
			return nil, err
		}
		return expr.Pow(base, n.Pow.N), nil
	case n.Scale != nil:
		arg, err := n.Scale.Arg.build(names)
		if err != nil {
			return nil, err
		}
		return expr.Times(n.Scale.Coef, arg), nil
	case n.Exp != nil:
		arg, err := n.Exp.build(names)
		if err != nil {
			return nil, err
		}
		return expr.Exponential(arg), nil
	case n.Log != nil:
		arg, err := n.Log.build(names)
		if err != nil {
			return nil, err
		}
		return expr.Logarithm(arg), nil
	default:
		arg, err := n.Neg.build(names)
		if err != nil {
			return nil, err
		}
		return expr.Neg(arg), nil
	}
}

func buildAll(nodes []*Node, names map[string]int) ([]expr.Expr, error) {
	out := make([]expr.Expr, len(nodes))
	for k, n := range nodes {
		e, err := n.build(names)
		if err != nil {
			return nil, err
		}
		out[k] = e
	}
	return out, nil
}
