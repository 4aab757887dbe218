package milp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func Test_subProblem_combineInequalities(t *testing.T) {
	type fields struct {
		c          []float64
		G          *mat.Dense
		h          []float64
		branchRows []branchRow
	}
	tests := []struct {
		name   string
		fields fields
		cuts   []Cut
		want   *mat.Dense
		want1  []float64
	}{
		{
			name: "nothing to combine",
			fields: fields{
				c: []float64{-1, -2},
			},
			want:  nil,
			want1: nil,
		},
		{
			name: "only original inequalities",
			fields: fields{
				c: []float64{-1, -2},
				G: mat.NewDense(1, 2, []float64{1, 1}),
				h: []float64{4},
			},
			want:  mat.NewDense(1, 2, []float64{1, 1}),
			want1: []float64{4},
		},
		{
			name: "one bnb constraint",
			fields: fields{
				c: []float64{-1, -2},
				branchRows: []branchRow{
					{
						variable: 0,
						rhs:      1,
						row:      []float64{1, 0},
					},
				},
			},
			want:  mat.NewDense(1, 2, []float64{1, 0}),
			want1: []float64{1},
		},
		{
			name: "original, bnb and cut rows in order",
			fields: fields{
				c: []float64{-1, -2},
				G: mat.NewDense(1, 2, []float64{1, 1}),
				h: []float64{4},
				branchRows: []branchRow{
					{
						variable: 0,
						rhs:      1,
						row:      []float64{1, 0},
					},
				},
			},
			cuts: []Cut{{Coefs: []float64{0, 1}, RHS: 2}},
			want: mat.NewDense(3, 2, []float64{
				1, 1,
				1, 0,
				0, 1,
			}),
			want1: []float64{4, 1, 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := subProblem{
				c:          tt.fields.c,
				G:          tt.fields.G,
				h:          tt.fields.h,
				branchRows: tt.fields.branchRows,
			}
			got, got1 := p.combineInequalities(tt.cuts)
			if tt.want == nil {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.True(t, mat.Equal(tt.want, got), "got G = %v", mat.Formatted(got))
			}
			assert.Equal(t, tt.want1, got1)
		})
	}
}

func Test_subProblem_combineInequalities_doesNotAlias(t *testing.T) {
	p := subProblem{
		c: []float64{1, 1},
		G: mat.NewDense(1, 2, []float64{1, 1}),
		h: []float64{4},
	}
	_, h := p.combineInequalities([]Cut{{Coefs: []float64{1, 0}, RHS: 1}})
	h[0] = 100
	assert.Equal(t, []float64{4}, p.h)
}

func Test_convertToEqualities(t *testing.T) {
	c, A, b, err := convertToEqualities(
		[]float64{1, 2},
		mat.NewDense(1, 2, []float64{1, -1}),
		[]float64{0},
		mat.NewDense(2, 2, []float64{
			1, 1,
			0, 1,
		}),
		[]float64{4, 3},
	)
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 2, 0, 0}, c)
	assert.Equal(t, []float64{0, 4, 3}, b)
	want := mat.NewDense(3, 4, []float64{
		1, -1, 0, 0,
		1, 1, 1, 0,
		0, 1, 0, 1,
	})
	assert.True(t, mat.Equal(want, A), "got A = %v", mat.Formatted(A))

	_, _, _, err = convertToEqualities([]float64{1, 2}, nil, nil, nil, nil)
	assert.Error(t, err)

	_, _, _, err = convertToEqualities([]float64{1, 2}, nil, nil, mat.NewDense(1, 2, []float64{1, 1}), []float64{1, 2})
	assert.Error(t, err)
}

func Test_subProblem_solve(t *testing.T) {
	// minimize -x1 - 2x2 s.t. -x1 + 2x2 <= 4, 3x1 + x2 <= 9
	p := subProblem{
		c: []float64{-1, -2},
		G: mat.NewDense(2, 2, []float64{
			-1, 2,
			3, 1,
		}),
		h:       []float64{4, 9},
		integer: []bool{false, false},
	}

	s := p.solve(nil)
	require.NoError(t, s.err)
	assert.InDelta(t, -8, s.z, 1e-9)
	assert.InDeltaSlice(t, []float64{2, 3}, s.x, 1e-9)
	assert.Equal(t, 0, s.cutsSeen)

	// the cut x2 <= 2 moves the optimum to (7/3, 2)
	s = p.solve([]Cut{{Coefs: []float64{0, 1}, RHS: 2}})
	require.NoError(t, s.err)
	assert.InDelta(t, -7.0/3-4, s.z, 1e-9)
	assert.InDeltaSlice(t, []float64{7.0 / 3, 2}, s.x, 1e-9)
	assert.Equal(t, 1, s.cutsSeen)
}

func Test_solution_branch(t *testing.T) {
	base := func() *subProblem {
		return &subProblem{
			id:        3,
			parent:    1,
			c:         []float64{-1, -2, 0, 0},
			integer:   []bool{true, true, false, false},
			heuristic: BRANCH_NAIVE,
		}
	}

	tests := []struct {
		name    string
		problem *subProblem
		x       []float64
		wantP1  []branchRow
		wantP2  []branchRow
	}{
		{
			name:    "branch on first variable",
			problem: base(),
			x:       []float64{1.2, 3, 0, 0},
			wantP1: []branchRow{
				{variable: 0, rhs: 1, row: []float64{1, 0, 0, 0}},
			},
			wantP2: []branchRow{
				{variable: 0, rhs: -2, row: []float64{-1, 0, 0, 0}},
			},
		},
		{
			name: "branch on second variable after the first",
			problem: func() *subProblem {
				p := base()
				p.branchRows = []branchRow{
					{variable: 0, rhs: 1, row: []float64{1, 0, 0, 0}},
				}
				return p
			}(),
			x: []float64{1.2, 3.8, 0, 0},
			wantP1: []branchRow{
				{variable: 0, rhs: 1, row: []float64{1, 0, 0, 0}},
				{variable: 1, rhs: 3, row: []float64{0, 1, 0, 0}},
			},
			wantP2: []branchRow{
				{variable: 0, rhs: 1, row: []float64{1, 0, 0, 0}},
				{variable: 1, rhs: -4, row: []float64{0, -1, 0, 0}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := solution{problem: tt.problem, x: tt.x}
			p1, p2, err := s.branch(1e-6)
			require.NoError(t, err)

			assert.Equal(t, tt.wantP1, p1.branchRows)
			assert.Equal(t, tt.wantP2, p2.branchRows)
			for _, child := range []subProblem{p1, p2} {
				assert.Equal(t, tt.problem.id, child.parent)
				assert.Equal(t, BRANCH_NAIVE, child.heuristic)
			}

			// the parent keeps its own constraints
			assert.Len(t, tt.problem.branchRows, len(tt.wantP1)-1)
		})
	}
}

func Test_solution_branch_nothingFractional(t *testing.T) {
	s := solution{
		problem: &subProblem{
			c:         []float64{1, 1},
			integer:   []bool{true, true},
			heuristic: BRANCH_MOST_INFEASIBLE,
		},
		x: []float64{1, 2},
	}
	_, _, err := s.branch(1e-6)
	assert.Error(t, err)

	s.problem.heuristic = BranchHeuristic(42)
	_, _, err = s.branch(1e-6)
	assert.Error(t, err)
}

func Test_sanityCheckDimensions(t *testing.T) {
	tests := []struct {
		name    string
		c       []float64
		A       *mat.Dense
		b       []float64
		G       *mat.Dense
		h       []float64
		wantErr bool
	}{
		{
			name:    "no constraints",
			c:       []float64{1},
			wantErr: true,
		},
		{
			name: "consistent",
			c:    []float64{1, 2},
			A:    mat.NewDense(1, 2, nil),
			b:    []float64{0},
			G:    mat.NewDense(2, 2, nil),
			h:    []float64{1, 1},
		},
		{
			name:    "h without G",
			c:       []float64{1, 2},
			A:       mat.NewDense(1, 2, nil),
			b:       []float64{0},
			h:       []float64{1},
			wantErr: true,
		},
		{
			name:    "A has wrong number of columns",
			c:       []float64{1, 2},
			A:       mat.NewDense(1, 3, nil),
			b:       []float64{0},
			wantErr: true,
		},
		{
			name:    "G rows do not match h",
			c:       []float64{1, 2},
			G:       mat.NewDense(2, 2, nil),
			h:       []float64{1},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sanityCheckDimensions(tt.c, tt.A, tt.b, tt.G, tt.h)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
