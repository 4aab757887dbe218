package lpnlp

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jjhbw/GoMINLP/model"
)

var tracer = otel.Tracer("github.com/jjhbw/GoMINLP/lpnlp")

// Phase is the state of the orchestrator within one callback.
type Phase int

const (
	AwaitingIncumbent Phase = iota
	SyncingValues
	SolvingSubproblem
	GeneratingCuts
	RestoringFeasibility
	RecordingDiagnostics
)

func (p Phase) String() string {
	switch p {
	case AwaitingIncumbent:
		return "awaiting incumbent"
	case SyncingValues:
		return "syncing values"
	case SolvingSubproblem:
		return "solving subproblem"
	case GeneratingCuts:
		return "generating cuts"
	case RestoringFeasibility:
		return "restoring feasibility"
	default:
		return "recording diagnostics"
	}
}

// Incumbent is an integer-feasible solution of the master relaxation. Values holds one
// entry per model variable.
type Incumbent struct {
	ID        int64
	Values    []float64
	Objective float64
}

// CutSink adds cuts to the running search.
type CutSink interface {
	AddCut(model.Cut) error
}

// Orchestrator reacts to incumbents of the master search: it solves the subproblem with
// the discrete variables fixed, updates the bounds and adds the resulting cuts. It is
// not safe for concurrent use.
type Orchestrator struct {
	model *model.Model
	cfg   Config
	state *SolveState

	// positionally corresponding bindings of the master, the cut generation model and
	// the subproblem
	master  model.BindingList
	working model.BindingList
	sub     model.BindingList

	driver     *driver
	propagator Propagator
	tracker    BoundTracker
	oa         OAGenerator
	affine     AffineGenerator

	logger  *slog.Logger
	metrics *Metrics

	phase Phase
}

func (o *Orchestrator) Phase() Phase {
	return o.phase
}

func (o *Orchestrator) State() *SolveState {
	return o.state
}

// OnIncumbent runs one callback to completion. Errors are fatal for the run.
func (o *Orchestrator) OnIncumbent(ctx context.Context, inc Incumbent, sink CutSink) (err error) {
	if o.phase != AwaitingIncumbent {
		return fmt.Errorf("%w (phase %s)", ErrReentrantCallback, o.phase)
	}
	defer func() { o.phase = AwaitingIncumbent }()

	ctx, span := tracer.Start(ctx, "lpnlp.OnIncumbent",
		trace.WithAttributes(
			attribute.String("run_id", o.state.RunID.String()),
			attribute.Int64("incumbent", inc.ID),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	o.state.MIPIter++
	o.metrics.callback()
	o.logger.Info("MIP", "iter", o.state.MIPIter, "obj", inc.Objective, "lb", o.state.LB, "ub", o.state.UB)

	o.phase = SyncingValues
	if err := o.sync(inc); err != nil {
		return err
	}

	o.phase = SolvingSubproblem
	res, err := o.driver.solve(ctx, o.state, o.sub)
	if err != nil {
		return err
	}
	o.metrics.subproblem(res.Outcome)
	span.SetAttributes(attribute.String("outcome", res.Outcome.String()))

	var cuts []model.Cut
	switch res.Outcome {
	case OutcomeOptimal:
		o.tracker.Update(o.state, res.Objective, res.X)
		o.metrics.bounds(o.state)
		if err := o.tracker.Check(o.state); err != nil {
			return err
		}
		o.logger.Info("NLP", "iter", o.state.NLPIter, "obj", res.Objective, "lb", o.state.LB, "ub", o.state.UB)

		o.phase = GeneratingCuts
		cuts, err = o.generate(inc.ID, res)

	case OutcomeInfeasible:
		o.phase = RestoringFeasibility
		if res.X != nil {
			cuts, err = o.generate(inc.ID, res)
		}

	case OutcomeIterationLimit:
		o.phase = RecordingDiagnostics
	}
	if err != nil {
		return err
	}

	for _, cut := range cuts {
		if err := sink.AddCut(cut); err != nil {
			return fmt.Errorf("add cut %v: %w", cut, err)
		}
		o.state.CutCount[cut.Provenance]++
		o.metrics.cut(cut.Provenance)
	}
	span.SetAttributes(attribute.Int("cuts", len(cuts)))
	return nil
}

// sync copies the incumbent into the master bindings and from there into the
// subproblem, whose discrete variables are then fixed.
func (o *Orchestrator) sync(inc Incumbent) error {
	if len(inc.Values) != len(o.master) {
		return fmt.Errorf("incumbent has %d values, model has %d variables", len(inc.Values), len(o.master))
	}
	load(o.master, inc.Values)

	for _, b := range o.sub {
		b.Fixed = false
	}
	if err := o.propagator.Copy(o.master, o.sub, CopyOptions{}); err != nil {
		return err
	}
	for _, b := range o.sub {
		if b.Domain.IsDiscrete() {
			b.Fixed = true
		}
	}
	return nil
}

// generate moves the subproblem point into the working model and runs the configured
// cut generator there.
func (o *Orchestrator) generate(incumbent int64, res SubproblemResult) ([]model.Cut, error) {
	solved := model.NewBindingList(o.model.Variables)
	load(solved, res.X)
	if err := o.propagator.Copy(solved, o.working, CopyOptions{}); err != nil {
		return nil, err
	}
	x := o.working.Point()

	if o.cfg.Strategy == StrategyGOA {
		return o.affine.Generate(o.state, o.model.Constraints, o.working), nil
	}
	stamp := o.state.Jacobians.Recompute(incumbent, o.model.Constraints, x)
	return o.oa.Generate(o.state, stamp, o.model.Constraints, x, res.Duals)
}
