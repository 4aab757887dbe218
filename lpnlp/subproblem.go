package lpnlp

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/jjhbw/GoMINLP/expr"
	"github.com/jjhbw/GoMINLP/model"
	"github.com/jjhbw/GoMINLP/nlp"
)

// SubproblemSolver solves continuous nonlinear programs. nlp.Solver satisfies it.
type SubproblemSolver interface {
	Solve(ctx context.Context, p *nlp.Problem) (*nlp.Result, error)
}

// Outcome is the classification of a subproblem solve.
type Outcome int

const (
	OutcomeOptimal Outcome = iota
	OutcomeInfeasible
	OutcomeIterationLimit
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOptimal:
		return "optimal"
	case OutcomeInfeasible:
		return "infeasible"
	default:
		return "iteration limit"
	}
}

// SubproblemResult is what the cut generators work from.
type SubproblemResult struct {
	Outcome Outcome
	Status  nlp.Status

	// the point cuts are generated at: the subproblem solution, or the solution of the
	// feasibility restoration when the subproblem was infeasible. Nil when no cuts apply.
	X         []float64
	Objective float64

	// per constraint ID; nil when duals are withheld
	Duals map[int]float64

	Restored bool
}

// epigraph describes the reformulation of a nonlinear objective f as the constraint
// f(x) - eta <= 0 (>= 0 when maximizing) with the linear objective eta.
type epigraph struct {
	variable   int
	constraint int
	objective  expr.Expr
}

type driver struct {
	model  *model.Model
	cfg    Config
	solver SubproblemSolver
	epi    *epigraph
	logger *slog.Logger
}

// objective returns the objective the subproblem minimizes or maximizes.
func (d *driver) objective() expr.Expr {
	if d.epi != nil {
		return d.epi.objective
	}
	return d.model.Objective
}

// build the NLP over the current subproblem bindings. Constraints whose variables are all
// fixed are left out and returned separately.
func (d *driver) build(bindings model.BindingList) (*nlp.Problem, []*model.Constraint) {
	n := len(bindings)
	p := &nlp.Problem{
		Objective: d.objective(),
		Sense:     d.model.Sense,
		Lower:     make([]float64, n),
		Upper:     make([]float64, n),
		Fixed:     make([]bool, n),
		X0:        bindings.Point(),
	}
	for i, b := range bindings {
		p.Lower[i], p.Upper[i] = b.Lower, b.Upper
		p.Fixed[i] = b.Fixed
	}
	if d.epi != nil {
		// eta does not appear in the subproblem; it is set to f(x) afterwards
		p.Fixed[d.epi.variable] = true
		p.X0[d.epi.variable] = 0
	}

	var deactivated []*model.Constraint
	for _, c := range d.model.Constraints {
		if d.epi != nil && c.ID == d.epi.constraint {
			continue
		}
		if allFixed(c, bindings) {
			deactivated = append(deactivated, c)
			continue
		}
		p.Constraints = append(p.Constraints, nlp.Constraint{
			ID:    c.ID,
			Body:  c.Body,
			Lower: c.Lower,
			Upper: c.Upper,
		})
	}
	return p, deactivated
}

func allFixed(c *model.Constraint, bindings model.BindingList) bool {
	for _, v := range expr.Vars(c.Body) {
		if !bindings[v].Fixed {
			return false
		}
	}
	return true
}

// solve the subproblem defined by the bindings and classify the result.
func (d *driver) solve(ctx context.Context, state *SolveState, bindings model.BindingList) (SubproblemResult, error) {
	p, deactivated := d.build(bindings)

	state.NLPIter++
	res, err := d.solver.Solve(ctx, p)
	if err != nil {
		return SubproblemResult{}, fmt.Errorf("nlp subproblem %d: %w", state.NLPIter, err)
	}

	switch res.Status {
	case nlp.Optimal, nlp.LocallyOptimal:
		out := SubproblemResult{
			Outcome:   OutcomeOptimal,
			Status:    res.Status,
			X:         d.completeEpigraph(res.X),
			Objective: res.Objective,
		}
		if d.cfg.UseDual {
			out.Duals = make(map[int]float64, len(res.Duals)+len(deactivated))
			for id, v := range res.Duals {
				out.Duals[id] = v
			}
			// constraints left out of the solve get their temporary duals
			for _, c := range deactivated {
				if _, ok := out.Duals[c.ID]; !ok {
					out.Duals[c.ID] = pseudoDual(c, out.X)
				}
			}
		}
		return out, nil

	case nlp.Infeasible:
		d.logger.Info("NLP subproblem was locally infeasible", "nlp_iter", state.NLPIter, "violation", res.Violation)
		out := SubproblemResult{
			Outcome: OutcomeInfeasible,
			Status:  res.Status,
		}
		if d.cfg.UseDual {
			x := d.completeEpigraph(res.X)
			out.Duals = make(map[int]float64, len(d.model.Constraints))
			for _, c := range d.model.Constraints {
				out.Duals[c.ID] = pseudoDual(c, x)
			}
		}
		if !d.cfg.InitialFeas {
			return out, nil
		}

		d.logger.Info("solving feasibility problem", "nlp_iter", state.NLPIter)
		feas := nlp.FeasibilityProblem(p)
		feas.X0 = res.X
		restored, err := d.solver.Solve(ctx, feas)
		if err != nil {
			return out, fmt.Errorf("feasibility problem %d: %w", state.NLPIter, err)
		}
		switch restored.Status {
		case nlp.Optimal, nlp.LocallyOptimal, nlp.IterationLimit:
			out.X = d.completeEpigraph(restored.X)
			out.Restored = true
		default:
			d.logger.Warn("feasibility problem failed", "status", restored.Status.String(), "message", restored.Message)
		}
		return out, nil

	case nlp.IterationLimit:
		d.logger.Info("NLP subproblem failed to converge within iteration limit", "nlp_iter", state.NLPIter)
		values := make([]float64, len(res.X))
		copy(values, res.X)
		state.Diagnostics = append(state.Diagnostics, Diagnostic{
			NLPIter: state.NLPIter,
			Status:  res.Status,
			Values:  values,
		})
		return SubproblemResult{Outcome: OutcomeIterationLimit, Status: res.Status}, nil
	}

	return SubproblemResult{}, &SubproblemTerminationError{Status: res.Status, Message: res.Message}
}

// completeEpigraph sets eta to the objective value of x.
func (d *driver) completeEpigraph(x []float64) []float64 {
	if d.epi == nil || x == nil {
		return x
	}
	x[d.epi.variable] = d.epi.objective.Eval(x)
	return x
}

// pseudoDual estimates a multiplier for a constraint without a certified one. The sign
// follows the side that is present: with an upper side the estimate is -max(0, body -
// rhs), otherwise max(0, rhs - body), where rhs adds up the finite sides.
func pseudoDual(c *model.Constraint, x []float64) float64 {
	var rhs float64
	if c.HasUpper() {
		rhs += c.Upper
	}
	if c.HasLower() {
		rhs += c.Lower
	}
	signAdjust := 1.0
	if c.HasUpper() {
		signAdjust = -1
	}
	return signAdjust * math.Max(0, signAdjust*(rhs-c.Body.Eval(x)))
}
