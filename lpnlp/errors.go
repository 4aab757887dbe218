package lpnlp

import (
	"errors"
	"fmt"

	"github.com/jjhbw/GoMINLP/model"
	"github.com/jjhbw/GoMINLP/nlp"
	"github.com/jjhbw/GoMINLP/relax"
)

var (
	ErrReentrantCallback = errors.New("incumbent callback entered while a previous invocation is still running")
	ErrStaleJacobian     = errors.New("jacobian was computed for a different point")
)

// ValueAssignmentError reports a value that could not be snapped or rounded into the
// domain of the destination variable.
type ValueAssignmentError struct {
	Variable string
	Value    float64
	Lower    float64
	Upper    float64
	Domain   model.Domain
}

func (e *ValueAssignmentError) Error() string {
	return fmt.Sprintf("cannot assign %v to %s variable %s with bounds [%v, %v]", e.Value, e.Domain, e.Variable, e.Lower, e.Upper)
}

// SubproblemTerminationError reports a subproblem status the run cannot continue from.
type SubproblemTerminationError struct {
	Status  nlp.Status
	Message string
}

func (e *SubproblemTerminationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unable to handle subproblem termination %q", e.Status)
	}
	return fmt.Sprintf("unable to handle subproblem termination %q: %s", e.Status, e.Message)
}

// BoundInversionError means the lower bound passed the upper bound, which only happens
// when an invalid cut was added.
type BoundInversionError struct {
	LB float64
	UB float64
}

func (e *BoundInversionError) Error() string {
	return fmt.Sprintf("lower bound %v exceeds upper bound %v", e.LB, e.UB)
}

// RelaxationEvaluationError is returned by the relaxation evaluator for a single
// constraint. It never aborts a callback.
type RelaxationEvaluationError = relax.Error
