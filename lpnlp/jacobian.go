package lpnlp

import (
	"fmt"

	"github.com/jjhbw/GoMINLP/expr"
	"github.com/jjhbw/GoMINLP/model"
)

// Derivatives selects how constraint Jacobians are computed.
type Derivatives string

const (
	DerivativesAnalytic         Derivatives = "analytic"
	DerivativesFiniteDifference Derivatives = "finite-difference"
)

// JacobianStamp identifies one computation of the cache: the incumbent that triggered it
// and a version that changes on every recompute.
type JacobianStamp struct {
	Incumbent int64
	Version   int64
}

// JacobianCache holds the partial derivatives of the nonlinear constraints at one point.
// Lookups with a stamp other than the current one fail with ErrStaleJacobian.
type JacobianCache struct {
	mode    Derivatives
	current JacobianStamp
	entries map[int]map[int]float64
}

func NewJacobianCache(mode Derivatives) *JacobianCache {
	return &JacobianCache{
		mode:    mode,
		current: JacobianStamp{Incumbent: -1},
		entries: make(map[int]map[int]float64),
	}
}

// Recompute replaces the cache with the Jacobians of the constraints that need
// linearization at x.
func (c *JacobianCache) Recompute(incumbent int64, constraints []*model.Constraint, x []float64) JacobianStamp {
	c.current = JacobianStamp{Incumbent: incumbent, Version: c.current.Version + 1}
	c.entries = make(map[int]map[int]float64, len(constraints))
	for _, con := range constraints {
		if !expr.NeedsLinearization(con.Body) {
			continue
		}
		if c.mode == DerivativesFiniteDifference {
			c.entries[con.ID] = expr.NumericGradient(con.Body, x)
		} else {
			c.entries[con.ID] = expr.Gradient(con.Body, x)
		}
	}
	return c.current
}

func (c *JacobianCache) Stamp() JacobianStamp {
	return c.current
}

// Lookup returns the cached partial derivatives of a constraint. The returned map must
// not be modified.
func (c *JacobianCache) Lookup(stamp JacobianStamp, constraint int) (map[int]float64, error) {
	if stamp != c.current {
		return nil, fmt.Errorf("constraint %d at %+v, cache holds %+v: %w", constraint, stamp, c.current, ErrStaleJacobian)
	}
	jac, ok := c.entries[constraint]
	if !ok {
		return nil, fmt.Errorf("constraint %d was not differentiated: %w", constraint, ErrStaleJacobian)
	}
	return jac, nil
}
