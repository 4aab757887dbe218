package milp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/optimize/convex/lp"
)

// cuts may be violated by this much before a node solution counts as separated
const cutViolationTolerance = 1e-6

// relative slack when comparing a node bound with the incumbent
const pruneTolerance = 1e-9

// searchTree runs the node search. Nodes flow pending -> pump -> work -> workers ->
// results -> checker, and the checker feeds branches back into pending.
type searchTree struct {
	work    chan subProblem
	pending chan subProblem
	results chan solution

	// only accessed by the checker
	incumbent *solution
	cutoff    float64
	nextID    int64

	// queued, solving or being checked
	jobs sync.WaitGroup

	root subProblem

	prep       *preProcessor
	pool       *cutPool
	handler    LazyConstraintHandler
	middleware Middleware
	settings   Settings

	nodes atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	errOnce sync.Once
	err     error
}

func newSearchTree(root subProblem, prep *preProcessor, settings Settings) *searchTree {
	return &searchTree{
		// unbuffered; the pump holds the queue
		work:    make(chan subProblem),
		pending: make(chan subProblem),
		results: make(chan solution),

		cutoff:     math.Inf(1),
		root:       root,
		prep:       prep,
		pool:       newCutPool(len(root.c)),
		middleware: dummyMiddleware{},
		settings:   settings,
	}
}

// startSearch runs the search to completion and returns the incumbent in shifted
// variables, together with the proven bound.
func (t *searchTree) startSearch(ctx context.Context) (incumbent *solution, bound float64, err error) {
	t.ctx, t.cancel = context.WithCancel(ctx)
	defer t.cancel()

	first := t.root.solve(nil)
	t.nodes.Add(1)
	if first.err != nil {
		if errors.Is(first.err, lp.ErrInfeasible) {
			return nil, math.NaN(), ErrInitialRelaxationInfeasible
		}
		return nil, math.NaN(), fmt.Errorf("solving initial relaxation: %w", first.err)
	}

	go t.pump()
	go t.checker()
	for j := 0; j < max(t.settings.Workers, 1); j++ {
		go t.worker()
	}

	// the root relaxation is checked like any other node
	t.submit(first)
	t.jobs.Wait()

	// closing pending shuts down the pump, which closes the remaining channels
	close(t.pending)

	if t.err == nil && ctx.Err() != nil {
		t.err = ctx.Err()
	}
	if t.err != nil {
		// open nodes were abandoned; only the root bound is proven
		return t.incumbent, first.z, t.err
	}
	return t.incumbent, t.threshold(), nil
}

// fail stops the search. Only the first error is kept.
func (t *searchTree) fail(err error) {
	t.errOnce.Do(func() {
		t.err = err
		t.cancel()
	})
}

func (t *searchTree) stopped() bool {
	return t.ctx.Err() != nil
}

func (t *searchTree) submit(s solution) {
	t.jobs.Add(1)
	t.results <- s
}

// enqueue hands out fresh ids and queues the problems for solving.
// Must only be called from the checker.
func (t *searchTree) enqueue(problems ...subProblem) {
	for _, sp := range problems {
		if t.stopped() {
			return
		}
		t.nextID++
		sp.id = t.nextID

		t.jobs.Add(1)
		t.pending <- sp
	}
}

// pump moves problems from pending to the workers through an unbounded FIFO queue, so
// that the checker never blocks on busy workers.
func (t *searchTree) pump() {
	var (
		queue []subProblem
		head  subProblem
		out   chan subProblem // nil while the queue is empty
	)
	for {
		select {
		case sp, ok := <-t.pending:
			if !ok {
				close(t.work)
				close(t.results)
				return
			}
			queue = append(queue, sp)
		case out <- head:
			queue = queue[1:]
		}

		out = nil
		if len(queue) > 0 {
			head, out = queue[0], t.work
		}
	}
}

func (t *searchTree) worker() {
	for sp := range t.work {
		if !t.stopped() {
			if n := t.nodes.Add(1); t.settings.MaxNodes > 0 && n > t.settings.MaxNodes {
				t.fail(ErrNodeLimit)
			} else {
				t.submit(sp.solve(t.pool.since(0)))
			}
		}
		t.jobs.Done()
	}
}

func (t *searchTree) checker() {
	for s := range t.results {
		if !t.stopped() {
			decision, err := t.decide(s)
			if err != nil {
				t.fail(err)
			} else {
				t.middleware.ProcessDecision(newNode(s), decision)
			}
		}
		t.jobs.Done()
	}
}

// threshold is the objective value a node has to beat to be worth exploring.
func (t *searchTree) threshold() float64 {
	z := t.cutoff
	if t.incumbent != nil && t.incumbent.z < z {
		z = t.incumbent.z
	}
	return z
}

func (t *searchTree) prune(z float64) bool {
	bar := t.threshold()
	if math.IsInf(bar, 1) {
		return false
	}
	return z >= bar-pruneTolerance*math.Max(1, math.Abs(bar))
}

// decide what to do with a node solution. Note that the objective is always minimization.
func (t *searchTree) decide(candidate solution) (Decision, error) {
	if candidate.err != nil {
		return translateSolverFailure(candidate.err)
	}

	if t.prune(candidate.z) {
		return WORSE_THAN_INCUMBENT, nil
	}

	tol := t.settings.IntegralityTolerance
	if !feasibleForIP(t.root.integer, candidate.x, tol) {
		p1, p2, err := candidate.branch(tol)
		if err != nil {
			return "", err
		}
		t.enqueue(p1, p2)
		return BETTER_THAN_INCUMBENT_BRANCHING, nil
	}

	// cuts that arrived while this node was being solved may separate it
	if t.pool.violated(candidate.cutsSeen, candidate.x, cutViolationTolerance) {
		t.enqueue(candidate.problem.copy())
		return SEPARATED_BY_POOL_CUTS, nil
	}

	if t.handler != nil {
		before := t.pool.len()
		original := t.prep.postSolve(candidate)
		c := Candidate{
			ID: candidate.problem.id,
			X:  original.x,
			Z:  original.z,
		}
		if err := t.handler.HandleIncumbent(t.ctx, c, callbackHandle{tree: t}); err != nil {
			return "", err
		}
		if t.pool.violated(before, candidate.x, cutViolationTolerance) {
			t.enqueue(candidate.problem.copy())
			return SEPARATED_BY_LAZY_CUTS, nil
		}
	}

	if t.incumbent != nil && candidate.z >= t.incumbent.z {
		return WORSE_THAN_INCUMBENT, nil
	}

	t.incumbent = &candidate
	return BETTER_THAN_INCUMBENT_FEASIBLE, nil
}

var expectedFailures = map[error]Decision{
	lp.ErrInfeasible: SUBPROBLEM_NOT_FEASIBLE,
	lp.ErrSingular:   SUBPROBLEM_IS_DEGENERATE,
	lp.ErrLinSolve:   SUBPROBLEM_IS_DEGENERATE,
	lp.ErrBland:      SUBPROBLEM_IS_DEGENERATE,
}

// translateSolverFailure maps the LP failures that only end a node to a decision. Any
// other failure stops the search.
func translateSolverFailure(err error) (Decision, error) {
	for target, decision := range expectedFailures {
		if errors.Is(err, target) {
			return decision, nil
		}
	}
	return "", fmt.Errorf("unexpected subproblem failure: %w", err)
}

type callbackHandle struct {
	tree *searchTree
}

func (h callbackHandle) AddCut(cut Cut) error {
	if len(cut.Coefs) != h.tree.pool.n {
		return fmt.Errorf("cut has %d coefficients, problem has %d variables", len(cut.Coefs), h.tree.pool.n)
	}
	_, err := h.tree.pool.add(h.tree.prep.shiftCut(cut))
	return err
}

func (h callbackHandle) SetCutoff(z float64) {
	if shifted := h.tree.prep.shiftObjective(z); shifted < h.tree.cutoff {
		h.tree.cutoff = shifted
	}
}
