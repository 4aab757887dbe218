package nlp

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/jjhbw/GoMINLP/expr"
)

// Solver solves problems with the augmented Lagrangian method. It keeps no state between
// solves.
type Solver struct {
	Settings Settings
}

func NewSolver(settings Settings) *Solver {
	return &Solver{Settings: settings}
}

// a single constraint side g(x) = sign·(body(x) − rhs), kept <= 0 or == 0
type side struct {
	id    int
	body  Function
	vars  []int
	rhs   float64
	sign  float64
	eq    bool
	bound bool
	mult  float64
}

func (s *side) value(x []float64) float64 {
	return s.sign * (s.body.Eval(x) - s.rhs)
}

// weight is the derivative of the penalty term with respect to g.
func (s *side) weight(g, rho float64) float64 {
	if s.eq {
		return s.mult + rho*g
	}
	return math.Max(0, s.mult+rho*g)
}

func (s *side) update(g, rho float64) {
	s.mult = s.weight(g, rho)
}

type augmented struct {
	p        *Problem
	sf       float64
	sides    []*side
	objVars  []int
	free     []int
	position map[int]int
	full     []float64
	rho      float64
}

func newAugmented(p *Problem, x []float64) *augmented {
	a := &augmented{
		p:        p,
		sf:       p.Sense.Factor(),
		objVars:  support(p.Objective, p.N()),
		position: make(map[int]int),
		full:     x,
	}

	for i := 0; i < p.N(); i++ {
		if p.fixed(i) {
			continue
		}
		a.position[i] = len(a.free)
		a.free = append(a.free, i)

		v := expr.V(i)
		if !math.IsInf(p.Upper[i], 1) {
			a.sides = append(a.sides, &side{id: -1, body: v, vars: []int{i}, rhs: p.Upper[i], sign: 1, bound: true})
		}
		if !math.IsInf(p.Lower[i], -1) {
			a.sides = append(a.sides, &side{id: -1, body: v, vars: []int{i}, rhs: p.Lower[i], sign: -1, bound: true})
		}
	}

	for _, c := range p.Constraints {
		vars := support(c.Body, p.N())
		hasLower, hasUpper := !math.IsInf(c.Lower, -1), !math.IsInf(c.Upper, 1)
		switch {
		case hasLower && hasUpper && c.Lower == c.Upper:
			a.sides = append(a.sides, &side{id: c.ID, body: c.Body, vars: vars, rhs: c.Upper, sign: 1, eq: true})
		default:
			if hasUpper {
				a.sides = append(a.sides, &side{id: c.ID, body: c.Body, vars: vars, rhs: c.Upper, sign: 1})
			}
			if hasLower {
				a.sides = append(a.sides, &side{id: c.ID, body: c.Body, vars: vars, rhs: c.Lower, sign: -1})
			}
		}
	}
	return a
}

func (a *augmented) scatter(xf []float64) {
	for k, i := range a.free {
		a.full[i] = xf[k]
	}
}

func (a *augmented) gather() []float64 {
	xf := make([]float64, len(a.free))
	for k, i := range a.free {
		xf[k] = a.full[i]
	}
	return xf
}

func (a *augmented) value(xf []float64) float64 {
	a.scatter(xf)
	total := a.sf * a.p.Objective.Eval(a.full)
	for _, s := range a.sides {
		g := s.value(a.full)
		if s.eq {
			total += s.mult*g + a.rho/2*g*g
			continue
		}
		w := math.Max(0, s.mult+a.rho*g)
		total += (w*w - s.mult*s.mult) / (2 * a.rho)
	}
	return total
}

func (a *augmented) gradient(grad, xf []float64) {
	a.scatter(xf)
	for k := range grad {
		grad[k] = 0
	}
	for _, i := range a.objVars {
		if k, ok := a.position[i]; ok {
			grad[k] += a.sf * a.p.Objective.Deriv(i, a.full)
		}
	}
	for _, s := range a.sides {
		w := s.weight(s.value(a.full), a.rho)
		if w == 0 {
			continue
		}
		for _, i := range s.vars {
			if k, ok := a.position[i]; ok {
				grad[k] += w * s.sign * s.body.Deriv(i, a.full)
			}
		}
	}
}

// measure returns the largest constraint violation and the largest violation of the
// combined feasibility and complementarity conditions.
func (a *augmented) measure() (viol, kkt float64) {
	for _, s := range a.sides {
		g := s.value(a.full)
		if s.eq {
			viol = math.Max(viol, math.Abs(g))
			kkt = math.Max(kkt, math.Abs(g))
			continue
		}
		viol = math.Max(viol, g)
		kkt = math.Max(kkt, math.Abs(math.Max(g, -s.mult/a.rho)))
	}
	return viol, kkt
}

func (a *augmented) updateMultipliers() {
	for _, s := range a.sides {
		s.update(s.value(a.full), a.rho)
	}
}

// duals converts the multipliers of the constraint sides into sensitivities of the
// optimal objective with respect to the constraint bounds.
func (a *augmented) duals() map[int]float64 {
	duals := make(map[int]float64)
	for _, s := range a.sides {
		if s.bound {
			continue
		}
		duals[s.id] += -a.sf * s.sign * s.mult
	}
	return duals
}

// Solve runs the augmented Lagrangian iterations on p. Malformed problems and context
// cancellation are reported as errors; numerical outcomes are reported through the
// result's Status.
func (s *Solver) Solve(ctx context.Context, p *Problem) (*Result, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	settings := s.Settings
	if settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.Timeout)
		defer cancel()
	}

	a := newAugmented(p, p.start())
	a.rho = settings.InitialPenalty

	result := func(status Status, iterations int, viol float64) *Result {
		x := make([]float64, len(a.full))
		copy(x, a.full)
		// bounds only enter through the penalty
		for i := range x {
			if !p.fixed(i) && !math.IsNaN(x[i]) {
				x[i] = math.Min(math.Max(x[i], p.Lower[i]), p.Upper[i])
			}
		}
		return &Result{
			Status:     status,
			X:          x,
			Objective:  p.Objective.Eval(x),
			Duals:      a.duals(),
			Violation:  viol,
			Iterations: iterations,
		}
	}

	problem := optimize.Problem{
		Func: a.value,
		Grad: a.gradient,
	}
	inner := &optimize.Settings{
		GradientThreshold: settings.GradientTolerance,
		MajorIterations:   settings.MaxInnerIterations,
	}

	prevViol := math.Inf(1)
	for iter := 1; iter <= settings.MaxOuterIterations; iter++ {
		if err := ctx.Err(); err != nil {
			r := result(Error, iter-1, math.NaN())
			r.Message = err.Error()
			return r, err
		}

		innerStatus := optimize.Success
		if len(a.free) > 0 {
			res, err := optimize.Minimize(problem, a.gather(), inner, &optimize.BFGS{})
			if res == nil {
				r := result(Error, iter, math.NaN())
				r.Message = fmt.Sprintf("inner solve: %v", err)
				return r, nil
			}
			if res.Status == optimize.FunctionNegativeInfinity {
				a.scatter(res.X)
				return result(Unbounded, iter, math.NaN()), nil
			}
			if floats.Count(nonFinite, res.X) > 0 {
				r := result(Error, iter, math.NaN())
				r.Message = fmt.Sprintf("inner solve ended at a non-finite point (%v)", res.Status)
				return r, nil
			}
			a.scatter(res.X)
			innerStatus = res.Status
		}

		viol, kkt := a.measure()
		a.updateMultipliers()

		if math.Abs(a.p.Objective.Eval(a.full)) > 1e20 {
			return result(Unbounded, iter, viol), nil
		}
		if kkt <= settings.FeasibilityTolerance {
			status := Optimal
			if innerStatus.Early() {
				status = LocallyOptimal
			}
			return result(status, iter, viol), nil
		}
		if len(a.free) == 0 {
			// nothing can move
			if viol <= settings.FeasibilityTolerance {
				return result(Optimal, iter, viol), nil
			}
			return result(Infeasible, iter, viol), nil
		}

		if viol > 0.25*prevViol {
			a.rho *= 10
		}
		prevViol = viol
		if a.rho > settings.MaxPenalty && viol > settings.FeasibilityTolerance {
			return result(Infeasible, iter, viol), nil
		}
	}

	viol, _ := a.measure()
	if viol <= settings.FeasibilityTolerance {
		return result(LocallyOptimal, settings.MaxOuterIterations, viol), nil
	}
	return result(IterationLimit, settings.MaxOuterIterations, viol), nil
}

func nonFinite(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
