// Package milp is a branch-and-bound solver for mixed-integer linear programs
//
//	minimize	cᵀx
//	s.t.		A x = b
//				G x <= h
//				lower <= x <= upper
//				x_j integer for all j with Integer[j]
//
// Node relaxations are solved with gonum's simplex on a pool of workers. A single checker
// goroutine decides what happens with each node solution, and it is also the only place
// where a LazyConstraintHandler is invoked: every integer-feasible node solution that
// improves on the incumbent is offered to the handler, which may add cuts to the global
// cut pool before the search continues.
package milp

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrInitialRelaxationInfeasible = errors.New("initial relaxation is not feasible")
	ErrNodeLimit                   = errors.New("node limit reached")
	ErrUnboundedVariable           = errors.New("all variables need finite bounds")
)

type Problem struct {
	C []float64

	// equality constraints, may be nil
	A *mat.Dense
	B []float64

	// inequality constraints, may be nil
	G *mat.Dense
	H []float64

	Lower []float64
	Upper []float64

	// which variables to apply the integrality constraint to. Same order as C.
	Integer []bool
}

type Settings struct {
	Workers   int
	Heuristic BranchHeuristic
	MaxNodes  int64

	// distance from the nearest integer below which a value counts as integral
	IntegralityTolerance float64
}

func DefaultSettings() Settings {
	return Settings{
		Workers:              4,
		Heuristic:            BRANCH_MOST_INFEASIBLE,
		MaxNodes:             100000,
		IntegralityTolerance: 1e-6,
	}
}

// Result of a search. X is nil when no integer-feasible solution survived.
type Result struct {
	X []float64
	Z float64

	// lower bound on the optimal objective value proven by the search
	Bound float64

	// number of node relaxations solved
	Nodes int64
}

func (p *Problem) validate() error {
	if err := sanityCheckDimensions(p.C, p.A, p.B, p.G, p.H); err != nil && !errors.Is(err, errNoConstraints) {
		return err
	}
	n := len(p.C)
	if len(p.Lower) != n || len(p.Upper) != n || len(p.Integer) != n {
		return fmt.Errorf("bounds and integrality vectors must have length %d", n)
	}
	for j := 0; j < n; j++ {
		if math.IsInf(p.Lower[j], 0) || math.IsInf(p.Upper[j], 0) || math.IsNaN(p.Lower[j]) || math.IsNaN(p.Upper[j]) {
			return fmt.Errorf("variable %d: %w", j, ErrUnboundedVariable)
		}
	}
	return nil
}

// Candidate is an integer-feasible node solution offered to a LazyConstraintHandler,
// in the variables of the original problem.
type Candidate struct {
	ID int64
	X  []float64
	Z  float64
}

// Callback is the handle through which a LazyConstraintHandler modifies the running
// search.
type Callback interface {
	// AddCut adds a cut to the global pool. Cuts stay in the pool for the rest of the search.
	AddCut(Cut) error

	// SetCutoff reports the objective value of a solution known to be feasible for the
	// underlying problem. Nodes that cannot improve on it are pruned.
	SetCutoff(z float64)
}

// LazyConstraintHandler reacts to integer-feasible node solutions. A returned error
// stops the search and is returned from Solve.
type LazyConstraintHandler interface {
	HandleIncumbent(ctx context.Context, c Candidate, cb Callback) error
}
