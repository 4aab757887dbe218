package milp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// The nodes of the search are solved in shifted variables x' = x - lower, so that the
// simplex's x' >= 0 encodes the lower bounds and every upper bound becomes an
// inequality row x'_j <= upper_j - lower_j.

type preProcessedProblem struct {
	c []float64
	A *mat.Dense
	b []float64

	// original inequalities followed by one upper-bound row per variable
	G *mat.Dense
	h []float64

	// parallel to c
	integer []bool
}

func (p preProcessedProblem) toInitialSubproblem(heuristic BranchHeuristic) subProblem {
	return subProblem{
		c:         p.c,
		A:         p.A,
		b:         p.b,
		G:         p.G,
		h:         p.h,
		integer:   p.integer,
		heuristic: heuristic,
	}
}

type preProcessor struct {
	undoers []undoer

	// lower bounds the variables were shifted by, and the objective value of that shift
	shift  []float64
	offset float64
}

type undoer func(solution) solution

func newPreprocessor() *preProcessor {
	return &preProcessor{}
}

func (pp *preProcessor) addUndoer(u undoer) {
	pp.undoers = append(pp.undoers, u)
}

// removeEmptyRows drops all-zero rows of A. A zero row with a nonzero right-hand side
// makes the problem infeasible.
func removeEmptyRows(A *mat.Dense, b []float64) (*mat.Dense, []float64, error) {
	aRows, aCols := A.Dims()
	var nonEmptyRows []int
	for i := 0; i < aRows; i++ {
		if floats.Norm(A.RawRowView(i), math.Inf(1)) != 0 {
			nonEmptyRows = append(nonEmptyRows, i)
			continue
		}
		if b[i] != 0 {
			return nil, nil, fmt.Errorf("equality row %d is empty but has right-hand side %v: %w", i, b[i], ErrInitialRelaxationInfeasible)
		}
	}

	if len(nonEmptyRows) == 0 {
		return nil, nil, nil
	}

	if len(nonEmptyRows) == aRows {
		bNew := make([]float64, aRows)
		copy(bNew, b)
		return mat.DenseCopyOf(A), bNew, nil
	}

	var newAData []float64
	var bNew []float64
	for _, r := range nonEmptyRows {
		newAData = append(newAData, A.RawRowView(r)...)
		bNew = append(bNew, b[r])
	}

	return mat.NewDense(len(nonEmptyRows), aCols, newAData), bNew, nil
}

// shiftBounds moves the lower bounds into the origin and turns the upper bounds into
// inequality rows. Integer bounds are rounded inwards first.
func (pp *preProcessor) shiftBounds(p *Problem) (c []float64, A *mat.Dense, b []float64, G *mat.Dense, h []float64, err error) {
	n := len(p.C)
	lower := make([]float64, n)
	upper := make([]float64, n)
	for j := 0; j < n; j++ {
		lower[j], upper[j] = p.Lower[j], p.Upper[j]
		if p.Integer[j] {
			lower[j], upper[j] = math.Ceil(lower[j]), math.Floor(upper[j])
		}
		if lower[j] > upper[j] {
			return nil, nil, nil, nil, nil, fmt.Errorf("variable %d has empty domain [%v, %v]: %w", j, p.Lower[j], p.Upper[j], ErrInitialRelaxationInfeasible)
		}
	}

	c = p.C
	offset := floats.Dot(c, lower)
	lowerVec := mat.NewVecDense(n, lower)

	if p.A != nil {
		A = p.A
		b = shiftedRHS(p.A, p.B, lowerVec)
	}

	// stack the upper-bound rows below the original inequalities
	var rows int
	if p.G != nil {
		rows, _ = p.G.Dims()
	}
	G = mat.NewDense(rows+n, n, nil)
	h = make([]float64, rows+n)
	if p.G != nil {
		G.Slice(0, rows, 0, n).(*mat.Dense).Copy(p.G)
		copy(h, shiftedRHS(p.G, p.H, lowerVec))
	}
	for j := 0; j < n; j++ {
		G.Set(rows+j, j, 1)
		h[rows+j] = upper[j] - lower[j]
	}

	pp.shift, pp.offset = lower, offset
	pp.addUndoer(func(s solution) solution {
		var x []float64
		if s.x != nil {
			x = make([]float64, len(s.x))
			floats.AddTo(x, s.x, lower)
		}
		return solution{
			problem:  s.problem,
			x:        x,
			z:        s.z + offset,
			err:      s.err,
			cutsSeen: s.cutsSeen,
		}
	})

	return c, A, b, G, h, nil
}

// shiftedRHS returns rhs - M·lower.
func shiftedRHS(M *mat.Dense, rhs []float64, lower *mat.VecDense) []float64 {
	rows, _ := M.Dims()
	var moved mat.VecDense
	moved.MulVec(M, lower)
	out := make([]float64, rows)
	for i := range out {
		out[i] = rhs[i] - moved.AtVec(i)
	}
	return out
}

func (pp *preProcessor) preSolve(p *Problem) (preProcessedProblem, error) {
	c, A, b, G, h, err := pp.shiftBounds(p)
	if err != nil {
		return preProcessedProblem{}, err
	}

	// nothing to undo
	if A != nil {
		A, b, err = removeEmptyRows(A, b)
		if err != nil {
			return preProcessedProblem{}, err
		}
	}

	return preProcessedProblem{
		c:       c,
		A:       A,
		b:       b,
		G:       G,
		h:       h,
		integer: p.Integer,
	}, nil
}

// postSolve maps a node solution back to the original variables.
func (pp *preProcessor) postSolve(s solution) solution {
	sol := s
	for i := len(pp.undoers) - 1; i >= 0; i-- {
		sol = pp.undoers[i](sol)
	}
	return sol
}

// shiftCut rewrites a cut on the original variables as a cut on the shifted ones.
func (pp *preProcessor) shiftCut(cut Cut) Cut {
	coefs := make([]float64, len(cut.Coefs))
	copy(coefs, cut.Coefs)
	return Cut{
		Coefs: coefs,
		RHS:   cut.RHS - floats.Dot(cut.Coefs, pp.shift),
	}
}

// shiftObjective converts an objective value of the original problem to the shifted one.
func (pp *preProcessor) shiftObjective(z float64) float64 {
	return z - pp.offset
}
