package lpnlp

import (
	"math"

	"github.com/jjhbw/GoMINLP/expr"
	"github.com/jjhbw/GoMINLP/model"
)

// OAGenerator linearizes nonlinear constraints around a point with the cached Jacobians.
type OAGenerator struct {
	ZeroTolerance     float64
	LinearizeActive   bool
	LinearizeViolated bool
	LinearizeInactive bool
}

func newOAGenerator(cfg Config) OAGenerator {
	return OAGenerator{
		ZeroTolerance:     cfg.ZeroTolerance,
		LinearizeActive:   cfg.LinearizeActive,
		LinearizeViolated: cfg.LinearizeViolated,
		LinearizeInactive: cfg.LinearizeInactive,
	}
}

// Generate returns the OA cuts of all constraints that need linearization at x. Equality
// constraints are only cut when duals are given, since their orientation comes from the
// sign of the dual.
func (g OAGenerator) Generate(state *SolveState, stamp JacobianStamp, constraints []*model.Constraint, x []float64, duals map[int]float64) ([]model.Cut, error) {
	var cuts []model.Cut
	for _, c := range constraints {
		if !expr.NeedsLinearization(c.Body) {
			continue
		}
		jac, err := state.Jacobians.Lookup(stamp, c.ID)
		if err != nil {
			return nil, err
		}

		if c.Kind() == model.Equality {
			dual, ok := duals[c.ID]
			if !ok {
				continue
			}
			cut := equalityCut(c, jac, x, dual, state.Sense)
			if cut.Finite() {
				cuts = append(cuts, cut)
			}
			continue
		}

		for _, cut := range g.inequalityCuts(c, jac, x) {
			if cut.Finite() {
				cuts = append(cuts, cut)
			}
		}
	}
	return cuts, nil
}

// taylor returns the coefficients and constant of the first-order expansion of the
// constraint body around x.
func taylor(c *model.Constraint, jac map[int]float64, x []float64) (map[int]float64, float64) {
	constant := c.Body.Eval(x)
	coefs := make(map[int]float64, len(jac))
	for v, d := range jac {
		coefs[v] = d
		constant -= d * x[v]
	}
	return coefs, constant
}

// equalityCut relaxes body = rhs to sign·(body linearized - rhs) <= 0, with sign the
// sign of senseAdjust·dual (senseAdjust is -1 when minimizing and +1 when maximizing).
func equalityCut(c *model.Constraint, jac map[int]float64, x []float64, dual float64, sense model.Sense) model.Cut {
	senseAdjust := -1.0
	if sense == model.Maximize {
		senseAdjust = 1
	}
	sign := math.Copysign(1, senseAdjust*dual)

	coefs, constant := taylor(c, jac, x)
	for v := range coefs {
		coefs[v] *= sign
	}
	return model.NewCut(coefs, model.LessEqual, sign*(c.Upper-constant), model.OA, c.ID)
}

// inequalityCuts linearizes each side of the constraint that qualifies under the
// activity policy. A range constraint can produce two cuts.
func (g OAGenerator) inequalityCuts(c *model.Constraint, jac map[int]float64, x []float64) []model.Cut {
	var cuts []model.Cut
	body := c.Body.Eval(x)

	if c.HasUpper() && g.qualifies(c.Upper-body) {
		coefs, constant := taylor(c, jac, x)
		cuts = append(cuts, model.NewCut(coefs, model.LessEqual, c.Upper-constant, model.OA, c.ID))
	}
	if c.HasLower() && g.qualifies(body-c.Lower) {
		coefs, constant := taylor(c, jac, x)
		cuts = append(cuts, model.NewCut(coefs, model.GreaterEqual, c.Lower-constant, model.OA, c.ID))
	}
	return cuts
}

// qualifies reports whether a side with the given slack is linearized. A slightly
// negative slack counts as both active and violated.
func (g OAGenerator) qualifies(slack float64) bool {
	return (math.Abs(slack) <= g.ZeroTolerance && g.LinearizeActive) ||
		(slack < 0 && g.LinearizeViolated) ||
		(slack > 0 && g.LinearizeInactive)
}
