package expr

import (
	"errors"

	"gonum.org/v1/gonum/diff/fd"
)

var ErrNotLinear = errors.New("expression is not linear")

// Linear returns the coefficients and constant term of an expression of degree at most one.
// Coefficients that are exactly zero are omitted.
func Linear(e Expr, n int) (coefs map[int]float64, constant float64, err error) {
	if !IsLinear(e) {
		return nil, 0, ErrNotLinear
	}

	// for an affine function the gradient is the same everywhere, so evaluate at the origin
	origin := make([]float64, n)
	constant = e.Eval(origin)

	coefs = make(map[int]float64)
	for _, i := range Vars(e) {
		if c := e.Deriv(i, origin); c != 0 {
			coefs[i] = c
		}
	}
	return coefs, constant, nil
}

// Gradient returns the analytic partial derivatives of e at x for every variable of e.
func Gradient(e Expr, x []float64) map[int]float64 {
	vars := Vars(e)
	grad := make(map[int]float64, len(vars))
	for _, i := range vars {
		grad[i] = e.Deriv(i, x)
	}
	return grad
}

// NumericGradient approximates the partial derivatives of e at x with central finite
// differences. Only the variables of e are perturbed.
func NumericGradient(e Expr, x []float64) map[int]float64 {
	vars := Vars(e)
	grad := make(map[int]float64, len(vars))
	if len(vars) == 0 {
		return grad
	}

	// work on the reduced vector of the expression's own variables
	full := make([]float64, len(x))
	copy(full, x)
	reduced := make([]float64, len(vars))
	for k, i := range vars {
		reduced[k] = x[i]
	}

	f := func(y []float64) float64 {
		for k, i := range vars {
			full[i] = y[k]
		}
		return e.Eval(full)
	}

	d := fd.Gradient(nil, f, reduced, &fd.Settings{Formula: fd.Central})
	for k, i := range vars {
		grad[i] = d[k]
	}
	return grad
}
