package lpnlp

import (
	"math"

	"github.com/google/uuid"

	"github.com/jjhbw/GoMINLP/model"
	"github.com/jjhbw/GoMINLP/nlp"
)

// SolveState is the bookkeeping of one run. It is owned by the run and passed explicitly
// to every component; nothing in this package keeps a global copy.
type SolveState struct {
	RunID uuid.UUID
	Sense model.Sense

	UB float64
	LB float64

	// every bound ever recorded, starting with the initial infinite one
	UBProgress []float64
	LBProgress []float64

	// BestSolution is replaced by a fresh slice on improvement and never written to
	// afterwards, so earlier snapshots stay valid.
	BestSolution  []float64
	BestObjective float64

	MIPIter int
	NLPIter int

	Jacobians *JacobianCache

	// variable values of subproblems that stopped on their iteration limit
	Diagnostics []Diagnostic

	CutCount           map[model.Provenance]int
	RelaxationFailures int
}

type Diagnostic struct {
	NLPIter int
	Status  nlp.Status
	Values  []float64
}

func NewSolveState(sense model.Sense, derivatives Derivatives) *SolveState {
	return &SolveState{
		RunID:         uuid.New(),
		Sense:         sense,
		UB:            math.Inf(1),
		LB:            math.Inf(-1),
		UBProgress:    []float64{math.Inf(1)},
		LBProgress:    []float64{math.Inf(-1)},
		BestObjective: math.NaN(),
		Jacobians:     NewJacobianCache(derivatives),
		CutCount:      make(map[model.Provenance]int),
	}
}

// PrimalBound is the objective of the best feasible solution: UB when minimizing, LB
// when maximizing.
func (s *SolveState) PrimalBound() float64 {
	if s.Sense == model.Maximize {
		return s.LB
	}
	return s.UB
}

// DualBound is the bound proven by the master problem.
func (s *SolveState) DualBound() float64 {
	if s.Sense == model.Maximize {
		return s.UB
	}
	return s.LB
}

func (s *SolveState) TotalCuts() int {
	var total int
	for _, n := range s.CutCount {
		total += n
	}
	return total
}
