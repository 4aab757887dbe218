package milp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// subProblem is one node of the tree: the preprocessed problem plus the branching rows
// on the path from the root. Everything except branchRows is shared with the parent.
type subProblem struct {
	id     int64
	parent int64

	c []float64
	A *mat.Dense
	b []float64
	G *mat.Dense
	h []float64

	integer   []bool
	heuristic BranchHeuristic

	// one row per branching decision, root first
	branchRows []branchRow
}

// branchRow is the inequality row·x <= rhs bounding variable on one side.
type branchRow struct {
	variable int
	rhs      float64
	row      []float64
}

type solution struct {
	problem *subProblem
	x       []float64
	z       float64
	err     error

	// number of pool cuts the relaxation was solved with
	cutsSeen int
}

// combineInequalities stacks the problem's own inequalities, the branching rows and the
// cuts, in that order, into fresh G and h.
func (p subProblem) combineInequalities(cuts []Cut) (*mat.Dense, []float64) {
	var extra []float64
	var h []float64
	if p.h != nil {
		h = make([]float64, len(p.h), len(p.h)+len(p.branchRows)+len(cuts))
		copy(h, p.h)
	}
	for _, constr := range p.branchRows {
		extra = append(extra, constr.row...)
		h = append(h, constr.rhs)
	}
	for _, cut := range cuts {
		extra = append(extra, cut.Coefs...)
		h = append(h, cut.RHS)
	}
	nExtra := len(p.branchRows) + len(cuts)

	if nExtra == 0 {
		if p.G != nil {
			return mat.DenseCopyOf(p.G), h
		}
		return nil, nil
	}

	extraG := mat.NewDense(nExtra, len(p.c), extra)

	if p.G == nil || p.G.IsEmpty() {
		return extraG, h
	}

	origRows, _ := p.G.Dims()
	Gnew := mat.NewDense(origRows+nExtra, len(p.c), nil)
	Gnew.Stack(p.G, extraG)

	return Gnew, h
}

// convertToEqualities adds one nonnegative slack per row of G, giving the standard form
// expected by lp.Simplex. The slacks come after the original variables.
func convertToEqualities(c []float64, A *mat.Dense, b []float64, G *mat.Dense, h []float64) (cNew []float64, aNew *mat.Dense, bNew []float64, err error) {

	if G == nil {
		return nil, nil, nil, errors.New("provided pointer to G matrix is nil")
	}
	if err := sanityCheckDimensions(c, A, b, G, h); err != nil {
		return nil, nil, nil, err
	}

	nVar := len(c)
	nCons := len(b)
	nIneq := len(h)
	nNewVar := nVar + nIneq
	nNewCons := nCons + nIneq

	cNew = make([]float64, nNewVar)
	copy(cNew, c)

	bNew = make([]float64, nNewCons)
	copy(bNew, b)
	copy(bNew[nCons:], h)

	aNew = mat.NewDense(nNewCons, nNewVar, nil)

	// [A 0]
	// [G I]
	if A != nil {
		aNew.Slice(0, nCons, 0, nVar).(*mat.Dense).Copy(A)
	}

	aNew.Slice(nCons, nNewCons, 0, nVar).(*mat.Dense).Copy(G)
	bottomRight := aNew.Slice(nCons, nNewCons, nVar, nNewVar).(*mat.Dense)
	for i := 0; i < nIneq; i++ {
		bottomRight.Set(i, i, 1)
	}

	return cNew, aNew, bNew, nil
}

// solve the relaxation of the subproblem with the given pool cuts added.
func (p subProblem) solve(cuts []Cut) solution {

	G, h := p.combineInequalities(cuts)

	var z float64
	var x []float64
	var err error

	if G != nil {
		var c []float64
		var A *mat.Dense
		var b []float64
		c, A, b, err = convertToEqualities(p.c, p.A, p.b, G, h)
		if err == nil {
			z, x, err = lp.Simplex(c, A, b, 0, nil)
		}

		// drop the slacks
		if err == nil && len(x) != len(p.c) {
			x = x[:len(p.c)]
		}

	} else {
		z, x, err = lp.Simplex(p.c, p.A, p.b, 0, nil)
	}

	return solution{
		problem:  &p,
		x:        x,
		z:        z,
		err:      err,
		cutsSeen: len(cuts),
	}
}

// branch splits the node on the variable picked by its heuristic into x <= floor(v) and
// x >= floor(v) + 1.
func (s solution) branch(tol float64) (p1, p2 subProblem, err error) {

	var branchOn int
	switch s.problem.heuristic {
	case BRANCH_MAXFUN:
		branchOn = maxFunBranchPoint(s.problem.c, s.x, s.problem.integer, tol)

	case BRANCH_MOST_INFEASIBLE:
		branchOn = mostInfeasibleBranchPoint(s.x, s.problem.integer, tol)

	case BRANCH_NAIVE:
		branchOn = s.naiveBranchPoint(tol)

	default:
		return p1, p2, fmt.Errorf("unknown branching heuristic %d", s.problem.heuristic)
	}
	if branchOn < 0 {
		return p1, p2, errors.New("no fractional integer variable to branch on")
	}

	floor := math.Floor(s.x[branchOn])
	p1 = s.problem.getChild(branchOn, 1, floor)
	// x >= floor + 1 as -x <= -(floor + 1)
	p2 = s.problem.getChild(branchOn, -1, -(floor + 1))

	return p1, p2, nil
}

// getChild returns a copy of p with the row factor·x[branchOn] <= rhs appended.
func (p subProblem) getChild(branchOn int, factor float64, rhs float64) subProblem {
	child := p.copy()
	r := branchRow{
		variable: branchOn,
		rhs:      rhs,
		row:      make([]float64, len(p.c)),
	}
	r.row[branchOn] = factor
	child.branchRows = append(child.branchRows, r)
	return child
}

// copy shares the problem data with p and copies the branching rows. The child keeps p's
// id until the tree assigns a new one.
func (p *subProblem) copy() subProblem {
	child := subProblem{
		id:         p.id,
		parent:     p.id,
		c:          p.c,
		A:          p.A,
		b:          p.b,
		G:          p.G,
		h:          p.h,
		branchRows: make([]branchRow, len(p.branchRows)),
		integer:    p.integer,
		heuristic:  p.heuristic,
	}

	copy(child.branchRows, p.branchRows)

	return child
}

var errNoConstraints = errors.New("no constraint matrices provided")

func sanityCheckDimensions(c []float64, A *mat.Dense, b []float64, G *mat.Dense, h []float64) error {
	if G == nil && A == nil {
		return errNoConstraints
	}

	if G != nil {
		if h == nil {
			return errors.New("h vector is nil while G matrix is provided")
		}

		rG, cG := G.Dims()
		if rG != len(h) {
			return errors.New("number of rows in G matrix is not equal to length of h")
		}

		if cG != len(c) {
			return errors.New("number of columns in G matrix is not equal to number of variables")
		}
	}

	if h != nil && G == nil {
		return errors.New("G matrix is nil while h vector is provided")
	}

	if A != nil {
		rA, cA := A.Dims()
		if rA != len(b) {
			return errors.New("number of rows in A matrix is not equal to length of b")
		}

		if cA != len(c) {
			return errors.New("number of columns in A matrix is not equal to number of variables")
		}
	}

	if b != nil && A == nil {
		return errors.New("A matrix is nil while b vector is provided")
	}

	return nil
}
