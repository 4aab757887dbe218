package lpnlp

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjhbw/GoMINLP/expr"
	"github.com/jjhbw/GoMINLP/model"
	"github.com/jjhbw/GoMINLP/nlp"
)

// scriptedSolver returns its results in order and records the problems it was given.
type scriptedSolver struct {
	results  []*nlp.Result
	problems []*nlp.Problem
	onSolve  func()
}

func (s *scriptedSolver) Solve(_ context.Context, p *nlp.Problem) (*nlp.Result, error) {
	s.problems = append(s.problems, p)
	if s.onSolve != nil {
		s.onSolve()
	}
	if len(s.results) == 0 {
		return nil, errors.New("no more scripted results")
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r, nil
}

// capacityModel: y binary, x in [0, 10], x^2 + 5y <= 4, a linear side constraint and
// the objective min -x.
func capacityModel() *model.Model {
	inf := math.Inf(1)
	m := model.NewModel("capacity", model.Minimize)
	y, _ := m.AddVariable("y", model.Binary, 0, 1)
	x, _ := m.AddVariable("x", model.Continuous, 0, 10)
	_, _ = m.AddConstraint("capacity", expr.Add(expr.Pow(x.Expr(), 2), expr.Times(5, y.Expr())), -inf, 4)
	_, _ = m.AddConstraint("side", expr.Add(x.Expr(), y.Expr()), -inf, 20)
	_ = m.SetObjective(expr.Neg(x.Expr()))
	return m
}

func testDriver(m *model.Model, solver SubproblemSolver, cfg Config) *driver {
	return &driver{model: m, cfg: cfg, solver: solver, logger: quietLogger()}
}

func fixedBindings(t *testing.T, m *model.Model, values []float64, fixed ...int) model.BindingList {
	bindings := model.NewBindingList(m.Variables)
	load(bindings, values)
	for _, i := range fixed {
		require.NoError(t, bindings[i].Fix(values[i]))
	}
	return bindings
}

func TestDriver_Build(t *testing.T) {
	m := capacityModel()
	d := testDriver(m, nil, DefaultConfig())

	p, deactivated := d.build(fixedBindings(t, m, []float64{1, 0.5}, 0))
	assert.Equal(t, []bool{true, false}, p.Fixed)
	assert.Equal(t, []float64{1, 0.5}, p.X0)
	assert.Len(t, p.Constraints, 2)
	assert.Empty(t, deactivated)

	p, deactivated = d.build(fixedBindings(t, m, []float64{1, 0.5}, 0, 1))
	assert.Empty(t, p.Constraints)
	require.Len(t, deactivated, 2)
}

func TestDriver_Solve(t *testing.T) {
	m := capacityModel()

	t.Run("optimal adds pseudo duals of deactivated constraints", func(t *testing.T) {
		solver := &scriptedSolver{results: []*nlp.Result{
			{Status: nlp.Optimal, X: []float64{0, 2}, Objective: -2, Duals: map[int]float64{0: -0.25}},
		}}
		state := NewSolveState(model.Minimize, DerivativesAnalytic)
		d := testDriver(m, solver, DefaultConfig())

		res, err := d.solve(context.Background(), state, fixedBindings(t, m, []float64{0, 2}, 0))
		require.NoError(t, err)
		assert.Equal(t, OutcomeOptimal, res.Outcome)
		assert.Equal(t, -2.0, res.Objective)
		assert.Equal(t, map[int]float64{0: -0.25}, res.Duals)
		assert.Equal(t, 1, state.NLPIter)
	})

	t.Run("infeasible runs feasibility restoration once", func(t *testing.T) {
		solver := &scriptedSolver{results: []*nlp.Result{
			{Status: nlp.Infeasible, X: []float64{1, 0.3}, Violation: 1.09},
			{Status: nlp.Optimal, X: []float64{1, 0}},
		}}
		state := NewSolveState(model.Minimize, DerivativesAnalytic)
		d := testDriver(m, solver, DefaultConfig())

		res, err := d.solve(context.Background(), state, fixedBindings(t, m, []float64{1, 0.5}, 0))
		require.NoError(t, err)
		assert.Equal(t, OutcomeInfeasible, res.Outcome)
		assert.True(t, res.Restored)
		assert.Equal(t, []float64{1, 0}, res.X)

		require.Len(t, solver.problems, 2)
		_, isExpr := solver.problems[1].Objective.(expr.Expr)
		assert.False(t, isExpr, "second solve minimizes the constraint violation")
		assert.Equal(t, []float64{1, 0.3}, solver.problems[1].X0)

		// capacity: upper side present, body 1.09 + 5 exceeds 4
		assert.InDelta(t, -(5.09 - 4), res.Duals[0], 1e-12)
		assert.Zero(t, res.Duals[1])
	})

	t.Run("infeasible without restoration", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.InitialFeas = false
		solver := &scriptedSolver{results: []*nlp.Result{
			{Status: nlp.Infeasible, X: []float64{1, 0.3}},
		}}
		d := testDriver(m, solver, cfg)

		res, err := d.solve(context.Background(), NewSolveState(model.Minimize, DerivativesAnalytic), fixedBindings(t, m, []float64{1, 0.5}, 0))
		require.NoError(t, err)
		assert.Nil(t, res.X)
		assert.Len(t, solver.problems, 1)
	})

	t.Run("failed restoration leaves no point", func(t *testing.T) {
		solver := &scriptedSolver{results: []*nlp.Result{
			{Status: nlp.Infeasible, X: []float64{1, 0.3}},
			{Status: nlp.Error, X: []float64{1, 0.3}, Message: "line search failed"},
		}}
		d := testDriver(m, solver, DefaultConfig())

		res, err := d.solve(context.Background(), NewSolveState(model.Minimize, DerivativesAnalytic), fixedBindings(t, m, []float64{1, 0.5}, 0))
		require.NoError(t, err)
		assert.Equal(t, OutcomeInfeasible, res.Outcome)
		assert.False(t, res.Restored)
		assert.Nil(t, res.X)
	})

	t.Run("iteration limit records diagnostics", func(t *testing.T) {
		solver := &scriptedSolver{results: []*nlp.Result{
			{Status: nlp.IterationLimit, X: []float64{0, 1.7}},
		}}
		state := NewSolveState(model.Minimize, DerivativesAnalytic)
		d := testDriver(m, solver, DefaultConfig())

		res, err := d.solve(context.Background(), state, fixedBindings(t, m, []float64{0, 1}, 0))
		require.NoError(t, err)
		assert.Equal(t, OutcomeIterationLimit, res.Outcome)
		require.Len(t, state.Diagnostics, 1)
		assert.Equal(t, []float64{0, 1.7}, state.Diagnostics[0].Values)
		assert.Equal(t, 1, state.Diagnostics[0].NLPIter)
	})

	t.Run("unexpected status is fatal", func(t *testing.T) {
		solver := &scriptedSolver{results: []*nlp.Result{
			{Status: nlp.Unbounded, Message: "objective diverged"},
		}}
		d := testDriver(m, solver, DefaultConfig())

		_, err := d.solve(context.Background(), NewSolveState(model.Minimize, DerivativesAnalytic), fixedBindings(t, m, []float64{0, 1}, 0))
		var termination *SubproblemTerminationError
		require.ErrorAs(t, err, &termination)
		assert.Equal(t, nlp.Unbounded, termination.Status)
	})
}

func TestPseudoDual(t *testing.T) {
	x := expr.V(0)
	inf := math.Inf(1)

	tests := []struct {
		name  string
		c     *model.Constraint
		value float64
		want  float64
	}{
		{"upper side violated", &model.Constraint{Body: x, Lower: -inf, Upper: 4}, 6, -2},
		{"upper side satisfied", &model.Constraint{Body: x, Lower: -inf, Upper: 4}, 3, 0},
		{"lower side violated", &model.Constraint{Body: x, Lower: 1, Upper: inf}, -1, 2},
		{"lower side satisfied", &model.Constraint{Body: x, Lower: 1, Upper: inf}, 5, 0},
		{"range sums both sides", &model.Constraint{Body: x, Lower: 1, Upper: 3}, 5, -1},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, pseudoDual(test.c, []float64{test.value}))
		})
	}
}

func TestDriver_Epigraph(t *testing.T) {
	m := model.NewModel("epi", model.Minimize)
	x, _ := m.AddVariable("x", model.Continuous, -5, 5)
	eta, _ := m.AddVariable("eta", model.Continuous, -100, 100)
	f := expr.Pow(x.Expr(), 2)
	con, _ := m.AddConstraint("epigraph", expr.Sub(f, eta.Expr()), math.Inf(-1), 0)
	_ = m.SetObjective(eta.Expr())

	d := testDriver(m, nil, DefaultConfig())
	d.epi = &epigraph{variable: eta.Index, constraint: con.ID, objective: f}

	p, _ := d.build(model.NewBindingList(m.Variables))
	assert.Empty(t, p.Constraints)
	assert.True(t, p.Fixed[eta.Index])
	assert.Equal(t, f, p.Objective)
	assert.Equal(t, []float64{3, 9}, d.completeEpigraph([]float64{3, 0}))
}
