package milp

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// Cut is the inequality Coefs·x <= RHS over all variables of the problem.
type Cut struct {
	Coefs []float64
	RHS   float64
}

// Violation is positive when x lies on the wrong side of the cut.
func (c Cut) Violation(x []float64) float64 {
	return floats.Dot(c.Coefs, x) - c.RHS
}

func (c Cut) key() string {
	scale := math.Abs(c.RHS)
	for _, v := range c.Coefs {
		scale = math.Max(scale, math.Abs(v))
	}
	if scale == 0 {
		scale = 1
	}

	var sb strings.Builder
	for j, v := range c.Coefs {
		if v != 0 {
			fmt.Fprintf(&sb, "%d:%.9g;", j, v/scale)
		}
	}
	fmt.Fprintf(&sb, "<=%.9g", c.RHS/scale)
	return sb.String()
}

// cutPool is the append-only set of cuts shared by all nodes of a search. Cuts are
// stored in the shifted variables the nodes are solved in.
type cutPool struct {
	mu   sync.RWMutex
	n    int
	cuts []Cut
	keys map[string]struct{}
}

func newCutPool(n int) *cutPool {
	return &cutPool{
		n:    n,
		keys: make(map[string]struct{}),
	}
}

// add stores the cut unless an equivalent cut is already present.
func (c *cutPool) add(cut Cut) (bool, error) {
	if len(cut.Coefs) != c.n {
		return false, fmt.Errorf("cut has %d coefficients, problem has %d variables", len(cut.Coefs), c.n)
	}
	if floats.HasNaN(cut.Coefs) || math.IsNaN(cut.RHS) || math.IsInf(cut.RHS, 0) {
		return false, fmt.Errorf("cut is not finite: %v <= %v", cut.Coefs, cut.RHS)
	}
	for _, v := range cut.Coefs {
		if math.IsInf(v, 0) {
			return false, fmt.Errorf("cut is not finite: %v <= %v", cut.Coefs, cut.RHS)
		}
	}

	k := cut.key()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.keys[k]; dup {
		return false, nil
	}
	c.keys[k] = struct{}{}
	c.cuts = append(c.cuts, cut)
	return true, nil
}

func (c *cutPool) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cuts)
}

// since returns the cuts added after the first k. The returned slice must not be modified.
func (c *cutPool) since(k int) []Cut {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cuts[k:len(c.cuts):len(c.cuts)]
}

// violated reports whether x violates any cut added after the first k.
func (c *cutPool) violated(k int, x []float64, tol float64) bool {
	for _, cut := range c.since(k) {
		if cut.Violation(x) > tol {
			return true
		}
	}
	return false
}
