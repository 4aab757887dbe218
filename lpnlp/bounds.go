package lpnlp

import (
	"math"

	"github.com/jjhbw/GoMINLP/model"
)

// BoundTracker maintains the bound sequences of a SolveState.
type BoundTracker struct {
	// relative slack allowed by Check
	Tolerance float64
}

// Update records the objective of a feasible subproblem solution: UB = min(UB, obj) when
// minimizing, LB = max(LB, obj) when maximizing. The bound is appended to its progress
// sequence even when it did not change. On strict improvement BestSolution is replaced
// by a copy of x. Reports whether the solution improved.
func (t BoundTracker) Update(s *SolveState, obj float64, x []float64) bool {
	var improved bool
	if s.Sense == model.Maximize {
		s.LB = math.Max(obj, s.LB)
		improved = s.LB > s.LBProgress[len(s.LBProgress)-1]
		s.LBProgress = append(s.LBProgress, s.LB)
	} else {
		s.UB = math.Min(obj, s.UB)
		improved = s.UB < s.UBProgress[len(s.UBProgress)-1]
		s.UBProgress = append(s.UBProgress, s.UB)
	}

	if improved {
		snapshot := make([]float64, len(x))
		copy(snapshot, x)
		s.BestSolution = snapshot
		s.BestObjective = obj
	}
	return improved
}

// UpdateDualBound records a bound proven by the master problem or a relaxation.
func (t BoundTracker) UpdateDualBound(s *SolveState, bound float64) {
	if math.IsNaN(bound) {
		return
	}
	if s.Sense == model.Maximize {
		s.UB = math.Min(bound, s.UB)
		s.UBProgress = append(s.UBProgress, s.UB)
	} else {
		s.LB = math.Max(bound, s.LB)
		s.LBProgress = append(s.LBProgress, s.LB)
	}
}

// Check enforces LB <= UB up to the relative tolerance.
func (t BoundTracker) Check(s *SolveState) error {
	if math.IsInf(s.LB, -1) || math.IsInf(s.UB, 1) {
		return nil
	}
	slack := t.Tolerance * math.Max(1, math.Max(math.Abs(s.LB), math.Abs(s.UB)))
	if s.LB > s.UB+slack {
		return &BoundInversionError{LB: s.LB, UB: s.UB}
	}
	return nil
}
