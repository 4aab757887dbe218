package milp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func Test_removeEmptyRows(t *testing.T) {
	tests := []struct {
		name    string
		A       *mat.Dense
		b       []float64
		wantA   *mat.Dense
		wantB   []float64
		wantErr error
	}{
		{
			name: "no empty rows",
			A: mat.NewDense(2, 2, []float64{
				1, 2,
				3, 4,
			}),
			b: []float64{1, 2},
			wantA: mat.NewDense(2, 2, []float64{
				1, 2,
				3, 4,
			}),
			wantB: []float64{1, 2},
		},
		{
			name: "one empty row",
			A: mat.NewDense(3, 2, []float64{
				1, 2,
				0, 0,
				3, 4,
			}),
			b: []float64{1, 0, 2},
			wantA: mat.NewDense(2, 2, []float64{
				1, 2,
				3, 4,
			}),
			wantB: []float64{1, 2},
		},
		{
			name: "only empty rows",
			A:    mat.NewDense(2, 2, nil),
			b:    []float64{0, 0},
		},
		{
			name: "empty row with nonzero right-hand side",
			A: mat.NewDense(2, 2, []float64{
				1, 2,
				0, 0,
			}),
			b:       []float64{1, 3},
			wantErr: ErrInitialRelaxationInfeasible,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			A, b, err := removeEmptyRows(tt.A, tt.b)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantA == nil {
				assert.Nil(t, A)
			} else {
				assert.True(t, mat.Equal(tt.wantA, A))
			}
			assert.Equal(t, tt.wantB, b)
		})
	}
}

func Test_removeEmptyRows_copies(t *testing.T) {
	A := mat.NewDense(1, 2, []float64{1, 2})
	b := []float64{3}
	A2, b2, err := removeEmptyRows(A, b)
	require.NoError(t, err)

	A2.Set(0, 0, 10)
	b2[0] = 10
	assert.Equal(t, 1.0, A.At(0, 0))
	assert.Equal(t, []float64{3}, b)
}

func Test_preProcessor_shiftBounds(t *testing.T) {
	p := &Problem{
		C:       []float64{1, 1},
		G:       mat.NewDense(1, 2, []float64{1, 1}),
		H:       []float64{4},
		Lower:   []float64{1, 0.5},
		Upper:   []float64{3, 2.5},
		Integer: []bool{false, true},
	}

	prepper := newPreprocessor()
	prepped, err := prepper.preSolve(p)
	require.NoError(t, err)

	// the integer bounds are rounded to [1, 2] before shifting
	assert.Equal(t, []float64{1, 1}, prepper.shift)
	assert.Equal(t, 2.0, prepper.offset)
	assert.True(t, mat.Equal(mat.NewDense(3, 2, []float64{
		1, 1,
		1, 0,
		0, 1,
	}), prepped.G))
	assert.Equal(t, []float64{2, 2, 1}, prepped.h)

	back := prepper.postSolve(solution{x: []float64{0, 1}, z: 1})
	assert.Equal(t, []float64{1, 2}, back.x)
	assert.Equal(t, 3.0, back.z)

	// solutions without a point still get their objective shifted
	back = prepper.postSolve(solution{z: 1})
	assert.Nil(t, back.x)
	assert.Equal(t, 3.0, back.z)

	cut := prepper.shiftCut(Cut{Coefs: []float64{1, 2}, RHS: 5})
	assert.Equal(t, Cut{Coefs: []float64{1, 2}, RHS: 2}, cut)
	assert.Equal(t, -1.0, prepper.shiftObjective(1))
}

func Test_preProcessor_emptyIntegerDomain(t *testing.T) {
	p := &Problem{
		C:       []float64{1},
		Lower:   []float64{0.2},
		Upper:   []float64{0.8},
		Integer: []bool{true},
	}
	_, err := newPreprocessor().preSolve(p)
	assert.ErrorIs(t, err, ErrInitialRelaxationInfeasible)
}

func Test_preProcessor_equalities(t *testing.T) {
	p := &Problem{
		C: []float64{1, 1},
		A: mat.NewDense(2, 2, []float64{
			1, 1,
			0, 0,
		}),
		B:       []float64{3, 0},
		Lower:   []float64{1, 0},
		Upper:   []float64{5, 5},
		Integer: []bool{false, false},
	}
	prepped, err := newPreprocessor().preSolve(p)
	require.NoError(t, err)

	assert.True(t, mat.Equal(mat.NewDense(1, 2, []float64{1, 1}), prepped.A))
	assert.Equal(t, []float64{2}, prepped.b)
}
