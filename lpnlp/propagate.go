package lpnlp

import (
	"fmt"
	"math"

	"github.com/jjhbw/GoMINLP/model"
)

type CopyOptions struct {
	// do not copy values the source marks stale
	SkipStale bool

	// leave fixed destination variables alone
	SkipFixed bool

	// round discrete destinations to the nearest integer regardless of the distance
	IgnoreIntegrality bool
}

// Propagator copies values between binding lists of different model instances. Values
// solvers report slightly outside a domain are snapped or rounded into it.
type Propagator struct {
	ZeroTolerance    float64
	IntegerTolerance float64
}

func newPropagator(cfg Config) Propagator {
	return Propagator{
		ZeroTolerance:    cfg.ZeroTolerance,
		IntegerTolerance: cfg.IntegerTolerance,
	}
}

// Copy copies src into dst position by position. A destination whose source has no
// value loses its value too.
func (p Propagator) Copy(src, dst model.BindingList, opts CopyOptions) error {
	if len(src) != len(dst) {
		return fmt.Errorf("copy between binding lists of length %d and %d", len(src), len(dst))
	}
	for i, from := range src {
		to := dst[i]
		if opts.SkipStale && from.Stale {
			continue
		}
		if opts.SkipFixed && to.Fixed {
			continue
		}
		if !from.Valued {
			to.Valued = false
			continue
		}
		if err := p.Assign(to, from.Value, opts.IgnoreIntegrality); err != nil {
			return err
		}
		if opts.SkipStale {
			to.Stale = false
		}
	}
	return nil
}

// Assign sets v on b, falling back to the nearest bound or integer when v is not in the
// domain as is.
func (p Propagator) Assign(b *model.Binding, v float64, ignoreIntegrality bool) error {
	if b.Set(v) == nil {
		return nil
	}

	switch {
	case b.HasLower() && v < b.Lower && b.Lower-v <= p.ZeroTolerance:
		if b.Set(b.Lower) == nil {
			return nil
		}
	case b.HasUpper() && v > b.Upper && v-b.Upper <= p.ZeroTolerance:
		if b.Set(b.Upper) == nil {
			return nil
		}
	}

	if b.Domain.IsDiscrete() && !math.IsNaN(v) {
		rounded := math.Round(v)
		if (ignoreIntegrality || math.Abs(v-rounded) <= p.IntegerTolerance) && b.Set(rounded) == nil {
			return nil
		}
	}

	return &ValueAssignmentError{
		Variable: b.Var.Name,
		Value:    v,
		Lower:    b.Lower,
		Upper:    b.Upper,
		Domain:   b.Domain,
	}
}

// load writes x into the bindings as the raw output of a solver, without domain checks.
func load(dst model.BindingList, x []float64) {
	for i, b := range dst {
		b.Value = x[i]
		b.Valued = !math.IsNaN(x[i])
	}
}
