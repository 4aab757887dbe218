package lpnlp

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjhbw/GoMINLP/model"
	"github.com/jjhbw/GoMINLP/nlp"
)

type recordingSink struct {
	cuts []model.Cut
	err  error
}

func (s *recordingSink) AddCut(c model.Cut) error {
	if s.err != nil {
		return s.err
	}
	s.cuts = append(s.cuts, c)
	return nil
}

func testOrchestrator(t *testing.T, m *model.Model, solver SubproblemSolver, opts ...Option) *Orchestrator {
	opts = append([]Option{WithLogger(quietLogger()), WithNLPSolver(solver)}, opts...)
	s, err := NewSolver(DefaultConfig(), opts...)
	require.NoError(t, err)
	o, err := s.NewOrchestrator(m)
	require.NoError(t, err)
	return o
}

func TestOrchestrator_OnIncumbent(t *testing.T) {
	t.Run("optimal subproblem updates the bound and adds OA cuts", func(t *testing.T) {
		m := capacityModel()
		solver := &scriptedSolver{results: []*nlp.Result{
			{Status: nlp.Optimal, X: []float64{0, 2}, Objective: -2, Duals: map[int]float64{0: -0.25}},
		}}
		metrics := NewMetrics(prometheus.NewRegistry())
		o := testOrchestrator(t, m, solver, WithMetrics(metrics))
		sink := &recordingSink{}

		err := o.OnIncumbent(context.Background(), Incumbent{ID: 4, Values: []float64{0, 3}, Objective: -3}, sink)
		require.NoError(t, err)

		require.Len(t, solver.problems, 1)
		assert.Equal(t, []bool{true, false}, solver.problems[0].Fixed)
		assert.Equal(t, []float64{0, 3}, solver.problems[0].X0)

		state := o.State()
		assert.Equal(t, -2.0, state.UB)
		assert.Equal(t, []float64{0, 2}, state.BestSolution)
		assert.Equal(t, 1, state.MIPIter)
		assert.Equal(t, 1, state.NLPIter)

		// x^2 + 5y <= 4 linearized at (y, x) = (0, 2): 5y + 4x <= 8
		require.Len(t, sink.cuts, 1)
		assert.Equal(t, []model.Term{{Var: 0, Coef: 5}, {Var: 1, Coef: 4}}, sink.cuts[0].Terms)
		assert.InDelta(t, 8, sink.cuts[0].RHS, 1e-12)
		assert.Equal(t, 1, state.CutCount[model.OA])
		assert.Equal(t, int64(4), state.Jacobians.Stamp().Incumbent)

		assert.Equal(t, AwaitingIncumbent, o.Phase())
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CallbacksTotal))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CutsTotal.WithLabelValues("oa")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SubproblemsTotal.WithLabelValues("optimal")))
		assert.Equal(t, -2.0, testutil.ToFloat64(metrics.UpperBound))
	})

	t.Run("upper bound below the lower bound stops the run", func(t *testing.T) {
		solver := &scriptedSolver{results: []*nlp.Result{
			{Status: nlp.Optimal, X: []float64{0, 2}, Objective: -2},
		}}
		o := testOrchestrator(t, capacityModel(), solver)
		// a local relaxation optimum reported as dual bound
		o.tracker.UpdateDualBound(o.State(), 0)
		sink := &recordingSink{}

		err := o.OnIncumbent(context.Background(), Incumbent{ID: 2, Values: []float64{0, 3}}, sink)

		var inversion *BoundInversionError
		require.ErrorAs(t, err, &inversion)
		assert.Equal(t, 0.0, inversion.LB)
		assert.Equal(t, -2.0, inversion.UB)
		assert.Empty(t, sink.cuts)
		assert.Equal(t, AwaitingIncumbent, o.Phase())
	})

	t.Run("infeasible subproblem cuts at the restoration point", func(t *testing.T) {
		m := capacityModel()
		solver := &scriptedSolver{results: []*nlp.Result{
			{Status: nlp.Infeasible, X: []float64{1, 0.3}},
			{Status: nlp.Optimal, X: []float64{1, 0}},
		}}
		o := testOrchestrator(t, m, solver)
		sink := &recordingSink{}

		require.NoError(t, o.OnIncumbent(context.Background(), Incumbent{ID: 1, Values: []float64{1, 0.5}}, sink))

		assert.Len(t, solver.problems, 2)
		// at (1, 0) the gradient of x^2 vanishes and the cut is 5y <= 4; at the
		// infeasible point (1, 0.3) it would involve x
		require.Len(t, sink.cuts, 1)
		assert.Equal(t, []model.Term{{Var: 0, Coef: 5}}, sink.cuts[0].Terms)
		assert.InDelta(t, 4, sink.cuts[0].RHS, 1e-12)
		assert.True(t, sink.cuts[0].Violation([]float64{1, 0.5}) > 0)
		assert.True(t, math.IsInf(o.State().UB, 1))
		assert.Equal(t, 1, o.State().CutCount[model.OA])
	})

	t.Run("iteration limit adds nothing", func(t *testing.T) {
		m := capacityModel()
		solver := &scriptedSolver{results: []*nlp.Result{
			{Status: nlp.IterationLimit, X: []float64{0, 1}},
		}}
		o := testOrchestrator(t, m, solver)
		sink := &recordingSink{}

		require.NoError(t, o.OnIncumbent(context.Background(), Incumbent{ID: 1, Values: []float64{0, 1}}, sink))
		assert.Empty(t, sink.cuts)
		assert.Len(t, o.State().Diagnostics, 1)
		assert.Equal(t, AwaitingIncumbent, o.Phase())
	})

	t.Run("fractional incumbent cannot be fixed", func(t *testing.T) {
		o := testOrchestrator(t, capacityModel(), &scriptedSolver{})
		err := o.OnIncumbent(context.Background(), Incumbent{Values: []float64{0.5, 1}}, &recordingSink{})

		var assignErr *ValueAssignmentError
		assert.ErrorAs(t, err, &assignErr)
		assert.Equal(t, AwaitingIncumbent, o.Phase())
	})

	t.Run("wrong number of values", func(t *testing.T) {
		o := testOrchestrator(t, capacityModel(), &scriptedSolver{})
		assert.Error(t, o.OnIncumbent(context.Background(), Incumbent{Values: []float64{0}}, &recordingSink{}))
	})

	t.Run("sink failure is fatal", func(t *testing.T) {
		solver := &scriptedSolver{results: []*nlp.Result{
			{Status: nlp.Optimal, X: []float64{0, 2}, Objective: -2},
		}}
		o := testOrchestrator(t, capacityModel(), solver)
		sinkErr := errors.New("pool closed")

		err := o.OnIncumbent(context.Background(), Incumbent{Values: []float64{0, 3}}, &recordingSink{err: sinkErr})
		assert.ErrorIs(t, err, sinkErr)
	})

	t.Run("reentrant call is rejected", func(t *testing.T) {
		solver := &scriptedSolver{results: []*nlp.Result{
			{Status: nlp.Optimal, X: []float64{0, 2}, Objective: -2},
		}}
		o := testOrchestrator(t, capacityModel(), solver)

		var inner error
		solver.onSolve = func() {
			assert.Equal(t, SolvingSubproblem, o.Phase())
			inner = o.OnIncumbent(context.Background(), Incumbent{Values: []float64{1, 0}}, &recordingSink{})
		}

		require.NoError(t, o.OnIncumbent(context.Background(), Incumbent{Values: []float64{0, 3}}, &recordingSink{}))
		assert.ErrorIs(t, inner, ErrReentrantCallback)
		assert.Equal(t, 1, o.State().MIPIter)
	})
}

func TestOrchestrator_GOA(t *testing.T) {
	m := capacityModel()
	solver := &scriptedSolver{results: []*nlp.Result{
		{Status: nlp.Optimal, X: []float64{0, 2}, Objective: -2},
	}}
	cfg := DefaultConfig()
	cfg.Strategy = StrategyGOA
	s, err := NewSolver(cfg, WithLogger(quietLogger()), WithNLPSolver(solver))
	require.NoError(t, err)
	o, err := s.NewOrchestrator(m)
	require.NoError(t, err)
	sink := &recordingSink{}

	require.NoError(t, o.OnIncumbent(context.Background(), Incumbent{Values: []float64{0, 3}}, sink))
	require.NotEmpty(t, sink.cuts)
	for _, cut := range sink.cuts {
		assert.Contains(t, []model.Provenance{model.ConcaveEnvelope, model.ConvexEnvelope}, cut.Provenance)
		assert.Equal(t, 0, cut.Constraint)
		// the optimum of the subproblem satisfies every cut
		assert.LessOrEqual(t, cut.Violation([]float64{0, 2}), 1e-9)
	}
}
