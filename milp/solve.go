package milp

import (
	"context"
	"fmt"
)

// Solver runs a branch-and-bound search over LP relaxations.
type Solver struct {
	Settings Settings

	// Handler, if set, sees every integer-feasible node before it is accepted.
	Handler LazyConstraintHandler

	// Middleware, if set, receives every decision taken on a node.
	Middleware Middleware
}

// NewSolver returns a solver using DefaultSettings.
func NewSolver() *Solver {
	return &Solver{Settings: DefaultSettings()}
}

// Solve minimizes p. The returned Result carries the incumbent if one was found, also
// when the search stopped early with an error.
func (s *Solver) Solve(ctx context.Context, p *Problem) (Result, error) {
	if err := p.validate(); err != nil {
		return Result{}, err
	}

	prepper := newPreprocessor()
	prepped, err := prepper.preSolve(p)
	if err != nil {
		return Result{}, err
	}

	settings := s.Settings
	if settings.Workers < 1 {
		settings.Workers = 1
	}
	if settings.IntegralityTolerance <= 0 {
		settings.IntegralityTolerance = DefaultSettings().IntegralityTolerance
	}

	tree := newSearchTree(prepped.toInitialSubproblem(settings.Heuristic), prepper, settings)
	tree.handler = s.Handler
	if s.Middleware != nil {
		tree.middleware = s.Middleware
	}

	incumbent, bound, err := tree.startSearch(ctx)

	res := Result{
		Bound: bound + prepper.offset,
		Nodes: tree.nodes.Load(),
	}
	if incumbent != nil {
		original := prepper.postSolve(*incumbent)
		res.X = original.x
		res.Z = original.z
	}
	if err != nil {
		return res, fmt.Errorf("branch-and-bound: %w", err)
	}
	return res, nil
}
