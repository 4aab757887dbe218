package lpnlp

import (
	"errors"
	"log/slog"
	"math"

	"github.com/jjhbw/GoMINLP/expr"
	"github.com/jjhbw/GoMINLP/model"
	"github.com/jjhbw/GoMINLP/relax"
)

// RelaxationEvaluator computes McCormick envelopes of an expression over a box.
// relax.Evaluator satisfies it.
type RelaxationEvaluator interface {
	Relax(body expr.Expr, box []relax.Interval, point []float64) (relax.Envelope, error)
}

// AffineGenerator turns the convex and concave envelopes of nonlinear constraints into
// linear cuts that hold over the whole variable box.
type AffineGenerator struct {
	Evaluator RelaxationEvaluator
	Logger    *slog.Logger
	Metrics   *Metrics
}

// Generate returns the affine cuts at the current values of the bindings. Constraints
// the evaluator cannot relax are skipped.
func (g AffineGenerator) Generate(state *SolveState, constraints []*model.Constraint, bindings model.BindingList) []model.Cut {
	box := make([]relax.Interval, len(bindings))
	for i, b := range bindings {
		box[i] = relax.Interval{Lo: b.Lower, Hi: b.Upper}
		if b.Fixed && b.Valued {
			box[i] = relax.Point(b.Value)
		}
	}
	point := bindings.Point()

	var cuts []model.Cut
	for _, c := range constraints {
		if !expr.NeedsLinearization(c.Body) {
			continue
		}
		vars := expr.Vars(c.Body)
		if !bindings.AllValued(vars) {
			continue
		}

		env, err := g.Evaluator.Relax(c.Body, box, point)
		if err != nil {
			state.RelaxationFailures++
			g.Metrics.relaxationFailed()
			var relaxErr *RelaxationEvaluationError
			if errors.As(err, &relaxErr) {
				g.Logger.Debug("skipping constraint", "constraint", c.Name, "reason", relaxErr.Reason)
			} else {
				g.Logger.Debug("skipping constraint", "constraint", c.Name, "error", err)
			}
			continue
		}

		var free []int
		for _, v := range vars {
			if !bindings[v].Fixed {
				free = append(free, v)
			}
		}
		concaveValid := finite(env.Cc) && finiteSlopes(env.CcSlope, free)
		convexValid := finite(env.Cv) && finiteSlopes(env.CvSlope, free)
		if !concaveValid && !convexValid {
			continue
		}

		upper := env.Upper
		if c.HasUpper() {
			upper = math.Min(c.Upper, env.Upper)
		}
		lower := env.Lower
		if c.HasLower() {
			lower = math.Max(c.Lower, env.Lower)
		}

		if concaveValid && finite(lower) {
			coefs, constant := affine(env.CcSlope, env.Cc, free, point)
			cuts = append(cuts, model.NewCut(coefs, model.GreaterEqual, lower-constant, model.ConcaveEnvelope, c.ID))
		}
		if convexValid && finite(upper) {
			coefs, constant := affine(env.CvSlope, env.Cv, free, point)
			cuts = append(cuts, model.NewCut(coefs, model.LessEqual, upper-constant, model.ConvexEnvelope, c.ID))
		}
	}

	g.Logger.Info("Added affine cuts", "count", len(cuts))
	return cuts
}

// affine returns the coefficients and constant of value + Σ slope_v·(x_v - point_v).
func affine(slopes map[int]float64, value float64, vars []int, point []float64) (map[int]float64, float64) {
	coefs := make(map[int]float64, len(vars))
	constant := value
	for _, v := range vars {
		coefs[v] = slopes[v]
		constant -= slopes[v] * point[v]
	}
	return coefs, constant
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finiteSlopes(slopes map[int]float64, vars []int) bool {
	for _, v := range vars {
		s, ok := slopes[v]
		if !ok || !finite(s) {
			return false
		}
	}
	return true
}
