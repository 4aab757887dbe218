// Package lpnlp solves mixed-integer nonlinear programs with a single branch-and-bound
// tree over a linear master problem (LP/NLP based branch and bound).
//
// Every integer-feasible solution the master search finds is handed to an Orchestrator.
// It fixes the discrete variables, solves the remaining continuous subproblem and adds
// linear cuts around the subproblem solution to the running search: gradient based
// outer approximation cuts, or affine cuts from McCormick relaxations. The bounds of the
// run are kept in a SolveState that is passed explicitly to every component.
package lpnlp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/mat"

	"github.com/jjhbw/GoMINLP/expr"
	"github.com/jjhbw/GoMINLP/milp"
	"github.com/jjhbw/GoMINLP/model"
	"github.com/jjhbw/GoMINLP/nlp"
	"github.com/jjhbw/GoMINLP/relax"
)

type Status string

const (
	StatusOptimal     Status = "optimal"
	StatusInfeasible  Status = "infeasible"
	StatusInterrupted Status = "interrupted"
)

// Result of a run. Bounds are in the sense of the model's objective.
type Result struct {
	RunID     string             `yaml:"run_id"`
	Status    Status             `yaml:"status"`
	Objective float64            `yaml:"objective"`
	LB        float64            `yaml:"lb"`
	UB        float64            `yaml:"ub"`
	Solution  map[string]float64 `yaml:"solution,omitempty"`

	UBProgress []float64 `yaml:"ub_progress"`
	LBProgress []float64 `yaml:"lb_progress"`

	MIPIterations      int            `yaml:"mip_iterations"`
	NLPIterations      int            `yaml:"nlp_iterations"`
	Nodes              int64          `yaml:"nodes"`
	Cuts               map[string]int `yaml:"cuts"`
	RelaxationFailures int            `yaml:"relaxation_failures"`
	Diagnostics        int            `yaml:"diagnostics"`
}

type Option func(*Solver)

func WithLogger(l *slog.Logger) Option {
	return func(s *Solver) { s.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Solver) { s.metrics = m }
}

// WithNLPSolver replaces the augmented Lagrangian solver used for subproblems.
func WithNLPSolver(n SubproblemSolver) Option {
	return func(s *Solver) { s.nlp = n }
}

// WithEvaluator replaces the McCormick evaluator used for affine cuts.
func WithEvaluator(e RelaxationEvaluator) Option {
	return func(s *Solver) { s.evaluator = e }
}

// WithSearchMiddleware receives the decisions of the master search. By default they are
// logged at debug level.
func WithSearchMiddleware(m milp.Middleware) Option {
	return func(s *Solver) { s.middleware = m }
}

type Solver struct {
	cfg        Config
	logger     *slog.Logger
	metrics    *Metrics
	nlp        SubproblemSolver
	evaluator  RelaxationEvaluator
	middleware milp.Middleware
}

func NewSolver(cfg Config, opts ...Option) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Solver{
		cfg:       cfg,
		logger:    slog.Default(),
		nlp:       nlp.NewSolver(cfg.nlpSettings()),
		evaluator: relax.Evaluator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.middleware == nil {
		s.middleware = milp.LogMiddleware{Logger: s.logger}
	}
	return s, nil
}

// Solve runs the whole algorithm on m.
func Solve(ctx context.Context, m *model.Model, cfg Config, opts ...Option) (*Result, error) {
	s, err := NewSolver(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return s.Solve(ctx, m)
}

// NewOrchestrator prepares the callback for m, for use with an external master search.
// A nonlinear objective is moved into an epigraph constraint, so the orchestrator works
// on a model with one more variable than m.
func (s *Solver) NewOrchestrator(m *model.Model) (*Orchestrator, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	work, epi, err := s.reformulate(m)
	if err != nil {
		return nil, err
	}
	return s.newOrchestrator(work, epi, NewSolveState(m.Sense, s.cfg.Derivatives)), nil
}

func (s *Solver) newOrchestrator(work *model.Model, epi *epigraph, state *SolveState) *Orchestrator {
	return &Orchestrator{
		model:   work,
		cfg:     s.cfg,
		state:   state,
		master:  model.NewBindingList(work.Variables),
		working: model.NewBindingList(work.Variables),
		sub:     model.NewBindingList(work.Variables),
		driver: &driver{
			model:  work,
			cfg:    s.cfg,
			solver: s.nlp,
			epi:    epi,
			logger: s.logger,
		},
		propagator: newPropagator(s.cfg),
		tracker:    BoundTracker{Tolerance: s.cfg.BoundTolerance},
		oa:         newOAGenerator(s.cfg),
		affine: AffineGenerator{
			Evaluator: s.evaluator,
			Logger:    s.logger,
			Metrics:   s.metrics,
		},
		logger:  s.logger,
		metrics: s.metrics,
	}
}

// reformulate returns m itself when its objective is linear. Otherwise it returns a copy
// minimizing (maximizing) a new variable eta subject to f(x) - eta <= 0 (>= 0).
func (s *Solver) reformulate(m *model.Model) (*model.Model, *epigraph, error) {
	if expr.IsLinear(m.Objective) {
		return m, nil, nil
	}

	work := model.NewModel(m.Name, m.Sense)
	work.Variables = append(work.Variables, m.Variables...)
	work.Constraints = append(work.Constraints, m.Constraints...)

	eta, err := work.AddVariable("_objective", model.Continuous, -s.cfg.ObjectiveBound, s.cfg.ObjectiveBound)
	if err != nil {
		return nil, nil, err
	}
	lower, upper := math.Inf(-1), 0.0
	if m.Sense == model.Maximize {
		lower, upper = 0, math.Inf(1)
	}
	c, err := work.AddConstraint("_objective_epigraph", expr.Sub(m.Objective, eta.Expr()), lower, upper)
	if err != nil {
		return nil, nil, err
	}
	if err := work.SetObjective(eta.Expr()); err != nil {
		return nil, nil, err
	}
	return work, &epigraph{variable: eta.Index, constraint: c.ID, objective: m.Objective}, nil
}

// errRelaxationInfeasible ends a run whose continuous relaxation has no solution.
var errRelaxationInfeasible = errors.New("continuous relaxation is infeasible")

func (s *Solver) Solve(ctx context.Context, m *model.Model) (res *Result, err error) {
	o, err := s.NewOrchestrator(m)
	if err != nil {
		return nil, err
	}
	state := o.state

	ctx, span := tracer.Start(ctx, "lpnlp.Solve",
		trace.WithAttributes(
			attribute.String("run_id", state.RunID.String()),
			attribute.String("model", m.Name),
			attribute.String("strategy", string(s.cfg.Strategy)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("status", string(res.Status)))
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	logger := s.logger.With("run_id", state.RunID.String())
	logger.Info("starting LP/NLP branch and bound", "model", m.Name, "variables", len(m.Variables), "constraints", len(m.Constraints), "strategy", s.cfg.Strategy)

	master, offset, err := s.master(o.model)
	if err != nil {
		return nil, err
	}

	if s.cfg.InitStrategy == InitRNLP {
		cuts, err := s.initRNLP(ctx, o)
		if errors.Is(err, errRelaxationInfeasible) {
			logger.Info("initial relaxed NLP problem is infeasible, problem may be infeasible")
			return s.result(m, o, StatusInfeasible, 0), nil
		}
		if err != nil {
			return nil, err
		}
		for _, cut := range cuts {
			row, rhs := cut.AsLessEqual(len(o.model.Variables))
			appendInequality(master, row, rhs)
			state.CutCount[cut.Provenance]++
			s.metrics.cut(cut.Provenance)
		}
	}

	settings, err := s.cfg.milpSettings()
	if err != nil {
		return nil, err
	}
	sf := m.Sense.Factor()
	engine := &milp.Solver{
		Settings: settings,
		Handler: &engineHandler{
			orchestrator: o,
			n:            len(o.model.Variables),
			sf:           sf,
			offset:       offset,
		},
		Middleware: s.middleware,
	}

	out, searchErr := engine.Solve(ctx, master)
	if errors.Is(searchErr, milp.ErrInitialRelaxationInfeasible) {
		logger.Info("master problem is infeasible")
		return s.result(m, o, StatusInfeasible, out.Nodes), nil
	}
	if searchErr != nil {
		logger.Warn("search stopped early", "error", searchErr)
		return s.result(m, o, StatusInterrupted, out.Nodes), searchErr
	}

	o.tracker.UpdateDualBound(state, sf*out.Bound+offset)
	s.metrics.bounds(state)
	if err := o.tracker.Check(state); err != nil {
		return s.result(m, o, StatusInterrupted, out.Nodes), err
	}

	status := StatusOptimal
	if state.BestSolution == nil {
		status = StatusInfeasible
	}
	res = s.result(m, o, status, out.Nodes)
	logger.Info("finished", "status", res.Status, "objective", res.Objective, "lb", res.LB, "ub", res.UB, "mip_iter", res.MIPIterations, "nlp_iter", res.NLPIterations)
	return res, nil
}

// initRNLP solves the continuous relaxation and returns cuts at its solution. Its
// objective is recorded as the first dual bound.
func (s *Solver) initRNLP(ctx context.Context, o *Orchestrator) ([]model.Cut, error) {
	state := o.state
	relaxed := model.NewBindingList(o.model.Variables)
	p, _ := o.driver.build(relaxed)

	state.NLPIter++
	res, err := s.nlp.Solve(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("relaxed NLP: %w", err)
	}

	switch res.Status {
	case nlp.Optimal, nlp.LocallyOptimal:
	case nlp.Infeasible:
		return nil, errRelaxationInfeasible
	default:
		s.logger.Warn("relaxed NLP did not converge, starting without cuts", "status", res.Status.String())
		return nil, nil
	}

	x := o.driver.completeEpigraph(res.X)
	o.tracker.UpdateDualBound(state, res.Objective)
	if err := o.tracker.Check(state); err != nil {
		return nil, err
	}
	s.logger.Info("rNLP", "iter", state.NLPIter, "obj", res.Objective, "lb", state.LB, "ub", state.UB)

	load(o.working, x)
	if s.cfg.Strategy == StrategyGOA {
		return o.affine.Generate(state, o.model.Constraints, o.working), nil
	}
	var duals map[int]float64
	if s.cfg.UseDual {
		duals = res.Duals
	}
	stamp := state.Jacobians.Recompute(-1, o.model.Constraints, x)
	return o.oa.Generate(state, stamp, o.model.Constraints, x, duals)
}

// master builds the linear master problem: the linear constraints of m, its (linear)
// objective scaled to minimization and finite stand-ins for infinite bounds. It also
// returns the constant term of the objective.
func (s *Solver) master(m *model.Model) (*milp.Problem, float64, error) {
	n := len(m.Variables)
	sf := m.Sense.Factor()

	coefs, offset, err := expr.Linear(m.Objective, n)
	if err != nil {
		return nil, 0, fmt.Errorf("master objective: %w", err)
	}
	p := &milp.Problem{
		C:       make([]float64, n),
		Lower:   make([]float64, n),
		Upper:   make([]float64, n),
		Integer: make([]bool, n),
	}
	for i, c := range coefs {
		p.C[i] = sf * c
	}

	vb := s.cfg.VariableBound
	for i, v := range m.Variables {
		lo, hi := v.Lower, v.Upper
		if math.IsInf(lo, -1) {
			lo = math.Min(-vb, hi-vb)
		}
		if math.IsInf(hi, 1) {
			hi = math.Max(vb, lo+vb)
		}
		p.Lower[i], p.Upper[i] = lo, hi
		p.Integer[i] = v.Domain.IsDiscrete()
	}

	for _, c := range m.Constraints {
		if !expr.IsLinear(c.Body) {
			continue
		}
		lin, k, err := expr.Linear(c.Body, n)
		if err != nil {
			return nil, 0, err
		}
		row := make([]float64, n)
		for i, v := range lin {
			row[i] = v
		}

		if c.Kind() == model.Equality {
			appendEquality(p, row, c.Upper-k)
			continue
		}
		if c.HasUpper() {
			appendInequality(p, row, c.Upper-k)
		}
		if c.HasLower() {
			neg := make([]float64, n)
			for i, v := range row {
				neg[i] = -v
			}
			appendInequality(p, neg, -(c.Lower - k))
		}
	}
	return p, offset, nil
}

func appendEquality(p *milp.Problem, row []float64, rhs float64) {
	p.A = stackRow(p.A, row)
	p.B = append(p.B, rhs)
}

func appendInequality(p *milp.Problem, row []float64, rhs float64) {
	p.G = stackRow(p.G, row)
	p.H = append(p.H, rhs)
}

func stackRow(m *mat.Dense, row []float64) *mat.Dense {
	if m == nil {
		return mat.NewDense(1, len(row), append([]float64(nil), row...))
	}
	r, c := m.Dims()
	out := mat.NewDense(r+1, c, nil)
	out.Stack(m, mat.NewDense(1, c, append([]float64(nil), row...)))
	return out
}

func (s *Solver) result(m *model.Model, o *Orchestrator, status Status, nodes int64) *Result {
	state := o.state
	res := &Result{
		RunID:              state.RunID.String(),
		Status:             status,
		Objective:          state.PrimalBound(),
		LB:                 state.LB,
		UB:                 state.UB,
		UBProgress:         state.UBProgress,
		LBProgress:         state.LBProgress,
		MIPIterations:      state.MIPIter,
		NLPIterations:      state.NLPIter,
		Nodes:              nodes,
		Cuts:               make(map[string]int, len(state.CutCount)),
		RelaxationFailures: state.RelaxationFailures,
		Diagnostics:        len(state.Diagnostics),
	}
	for p, n := range state.CutCount {
		res.Cuts[p.String()] = n
	}
	if state.BestSolution != nil {
		res.Solution = make(map[string]float64, len(m.Variables))
		for _, v := range m.Variables {
			res.Solution[v.Name] = state.BestSolution[v.Index]
		}
	}
	return res
}

// engineHandler connects an Orchestrator to the milp engine. The master minimizes
// sf·(objective - offset).
type engineHandler struct {
	orchestrator *Orchestrator
	n            int
	sf           float64
	offset       float64
}

func (h *engineHandler) HandleIncumbent(ctx context.Context, c milp.Candidate, cb milp.Callback) error {
	inc := Incumbent{
		ID:        c.ID,
		Values:    c.X,
		Objective: h.sf*c.Z + h.offset,
	}
	if err := h.orchestrator.OnIncumbent(ctx, inc, engineSink{cb: cb, n: h.n}); err != nil {
		return err
	}

	// nodes that cannot beat the best subproblem solution are pruned
	if p := h.orchestrator.state.PrimalBound(); finite(p) {
		cb.SetCutoff(h.sf * (p - h.offset))
	}
	return nil
}

type engineSink struct {
	cb milp.Callback
	n  int
}

func (s engineSink) AddCut(c model.Cut) error {
	row, rhs := c.AsLessEqual(s.n)
	return s.cb.AddCut(milp.Cut{Coefs: row, RHS: rhs})
}
