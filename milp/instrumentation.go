package milp

import (
	"log/slog"
)

// Branch-and-bound decisions that can be made by the algorithm
type Decision string

const (
	SUBPROBLEM_IS_DEGENERATE        Decision = "subproblem contains a degenerate (singular) matrix"
	SUBPROBLEM_NOT_FEASIBLE         Decision = "subproblem has no feasible solution"
	WORSE_THAN_INCUMBENT            Decision = "worse than incumbent"
	BETTER_THAN_INCUMBENT_BRANCHING Decision = "better than incumbent but not integer feasible, so branching"
	BETTER_THAN_INCUMBENT_FEASIBLE  Decision = "better than incumbent and integer feasible, so replacing incumbent"
	SEPARATED_BY_POOL_CUTS          Decision = "integer feasible but violates cuts added after it was solved, so resolving"
	SEPARATED_BY_LAZY_CUTS          Decision = "integer feasible but cut off by the lazy constraint handler, so resolving"
)

// Node summarizes a subproblem solution. It does not keep a reference to the subproblem
// itself, so recorders can hold on to nodes without retaining the problem data.
type Node struct {
	ID     int64
	Parent int64
	X      []float64
	Z      float64
	Err    error
}

func newNode(s solution) Node {
	n := Node{
		X:   s.x,
		Z:   s.z,
		Err: s.err,
	}
	if s.problem != nil {
		n.ID = s.problem.id
		n.Parent = s.problem.parent
	}
	return n
}

// Middleware receives each subproblem solution and the decision taken on it. Calls are
// made from a single goroutine.
type Middleware interface {
	ProcessDecision(Node, Decision)
}

type dummyMiddleware struct{}

func (d dummyMiddleware) ProcessDecision(Node, Decision) {}

// LogMiddleware logs every decision at debug level.
type LogMiddleware struct {
	Logger *slog.Logger
}

func (m LogMiddleware) ProcessDecision(n Node, d Decision) {
	attrs := []any{"node", n.ID, "parent", n.Parent, "decision", string(d)}
	if n.Err != nil {
		attrs = append(attrs, "error", n.Err)
	} else {
		attrs = append(attrs, "z", n.Z)
	}
	m.Logger.Debug("branch-and-bound decision", attrs...)
}
