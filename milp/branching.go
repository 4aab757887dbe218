package milp

import (
	"fmt"
	"math"
	"strings"
)

// selectable heuristic options
type BranchHeuristic int

const (
	BRANCH_MAXFUN          BranchHeuristic = 0
	BRANCH_MOST_INFEASIBLE BranchHeuristic = 1
	BRANCH_NAIVE           BranchHeuristic = 2
)

func (h BranchHeuristic) String() string {
	switch h {
	case BRANCH_MAXFUN:
		return "maxfun"
	case BRANCH_MOST_INFEASIBLE:
		return "most-infeasible"
	case BRANCH_NAIVE:
		return "naive"
	}
	return fmt.Sprintf("BranchHeuristic(%d)", int(h))
}

// ParseBranchHeuristic accepts the names returned by BranchHeuristic.String.
func ParseBranchHeuristic(s string) (BranchHeuristic, error) {
	for _, h := range []BranchHeuristic{BRANCH_MAXFUN, BRANCH_MOST_INFEASIBLE, BRANCH_NAIVE} {
		if strings.EqualFold(s, h.String()) {
			return h, nil
		}
	}
	return 0, fmt.Errorf("unknown branching heuristic %q", s)
}

// fractional reports whether v is further than tol from the nearest integer.
func fractional(v, tol float64) bool {
	return math.Abs(v-math.Round(v)) > tol
}

// Get the variable to branch on by looking at which variable we branched on previously.
// If there are no branches yet, we start at the first fractional integer variable.
// Note that this is a really naive way to find a nice variable to branch on.
// Returns -1 when no integer variable is fractional.
func (s solution) naiveBranchPoint(tol float64) int {
	n := len(s.x)
	start := 0

	// if there are branches, we cycle through the variables starting after the last one we branched on
	if len(s.problem.branchRows) > 0 {
		lastConstraint := s.problem.branchRows[len(s.problem.branchRows)-1]
		start = lastConstraint.variable + 1
	}

	for k := 0; k < n; k++ {
		cursor := (start + k) % n
		if s.problem.integer[cursor] && fractional(s.x[cursor], tol) {
			return cursor
		}
	}
	return -1
}

// Choose the fractional integer variable with the highest absolute value in the objective function.
// Ties go to the highest index.
func maxFunBranchPoint(c, x []float64, integer []bool, tol float64) int {
	candidateValue := -1.0
	currentCandidate := -1

	for i, v := range c {
		if integer[i] && fractional(x[i], tol) {
			if math.Abs(v) >= candidateValue {
				candidateValue = math.Abs(v)
				currentCandidate = i
			}
		}
	}

	return currentCandidate
}

// Choose the integer variable with the fractional part closest to 1/2.
// Ties go to the highest index.
func mostInfeasibleBranchPoint(x []float64, integer []bool, tol float64) int {
	candidateDistance := math.Inf(1)
	currentCandidate := -1

	for i, v := range x {
		if integer[i] && fractional(v, tol) {
			_, f := math.Modf(v)
			if d := math.Abs(0.5 - math.Abs(f)); d <= candidateDistance {
				candidateDistance = d
				currentCandidate = i
			}
		}
	}

	return currentCandidate
}

// check whether the solution vector is feasible in light of the integrality constraints for each variable
func feasibleForIP(constraints []bool, solution []float64, tol float64) bool {
	for i := range solution {
		if constraints[i] && fractional(solution[i], tol) {
			return false
		}
	}
	return true
}
