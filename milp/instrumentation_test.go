package milp

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// records the decisions of a search for inspection
type treeLogger struct {
	nodes     []Node
	decisions []Decision
}

func (tl *treeLogger) ProcessDecision(n Node, d Decision) {
	tl.nodes = append(tl.nodes, n)
	tl.decisions = append(tl.decisions, d)
}

func Test_newNode(t *testing.T) {
	s := solution{
		problem: &subProblem{id: 4, parent: 2},
		x:       []float64{1, 2},
		z:       1.1,
	}
	assert.Equal(t, Node{ID: 4, Parent: 2, X: []float64{1, 2}, Z: 1.1}, newNode(s))

	failed := solution{err: lp.ErrInfeasible}
	assert.Equal(t, Node{Err: lp.ErrInfeasible}, newNode(failed))
}

func TestLogMiddleware(t *testing.T) {
	var buf bytes.Buffer
	m := LogMiddleware{Logger: slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	m.ProcessDecision(Node{ID: 1, Z: -3}, BETTER_THAN_INCUMBENT_FEASIBLE)
	m.ProcessDecision(Node{ID: 2, Err: lp.ErrInfeasible}, SUBPROBLEM_NOT_FEASIBLE)

	out := buf.String()
	assert.Contains(t, out, `"msg":"branch-and-bound decision"`)
	assert.Contains(t, out, `"z":-3`)
	assert.Contains(t, out, string(SUBPROBLEM_NOT_FEASIBLE))
	assert.Contains(t, out, lp.ErrInfeasible.Error())
}

func Test_translateSolverFailure(t *testing.T) {
	tests := []struct {
		err     error
		want    Decision
		wantErr bool
	}{
		{err: lp.ErrInfeasible, want: SUBPROBLEM_NOT_FEASIBLE},
		{err: lp.ErrSingular, want: SUBPROBLEM_IS_DEGENERATE},
		{err: lp.ErrBland, want: SUBPROBLEM_IS_DEGENERATE},
		{err: lp.ErrUnbounded, wantErr: true},
		{err: errors.New("boom"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got, err := translateSolverFailure(tt.err)
			if tt.wantErr {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
