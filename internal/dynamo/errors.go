package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for simulation operations.
var (
	// ErrModel indicates malformed kinetic parameters or reaction network.
	ErrModel = errors.New("dynamo: invalid model")

	// ErrIntegration indicates the solver could not advance the state.
	ErrIntegration = errors.New("dynamo: integration failed")

	// ErrPersistence indicates a timestep or status write was rejected.
	ErrPersistence = errors.New("dynamo: persistence failed")

	// ErrCancelled indicates the job observed its cancellation signal.
	ErrCancelled = errors.New("dynamo: simulation cancelled")

	// ErrInvalidState indicates a state vector with NaN or Inf values.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrStepTooSmall indicates adaptive timestep became too small.
	ErrStepTooSmall = errors.New("dynamo: adaptive timestep below minimum")

	// ErrTooManySteps indicates the internal step budget was exhausted.
	ErrTooManySteps = errors.New("dynamo: maximum step count exceeded")

	// ErrSingularMatrix indicates the implicit iteration matrix could not be factorized.
	ErrSingularMatrix = errors.New("dynamo: singular iteration matrix")

	// ErrDimensionMismatch indicates mismatched state/system dimensions.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between state and system")
)

// Kind classifies a SimulationError for status reporting.
type Kind string

const (
	KindIntegration Kind = "IntegrationFailure"
	KindPersistence Kind = "PersistenceFailure"
)

// SimulationError wraps an error with simulation context.
type SimulationError struct {
	Kind     Kind
	Step     int
	Time     float64
	Quantity string
	Wrapped  error
}

func (e *SimulationError) Error() string {
	msg := fmt.Sprintf("%s: %v (t=%.4f", e.Kind, e.Wrapped, e.Time)
	if e.Quantity != "" {
		msg += ", quantity=" + e.Quantity
	}
	return msg + ")"
}

func (e *SimulationError) Unwrap() []error {
	switch e.Kind {
	case KindIntegration:
		return []error{ErrIntegration, e.Wrapped}
	case KindPersistence:
		return []error{ErrPersistence, e.Wrapped}
	}
	return []error{e.Wrapped}
}

// IntegrationError builds an integration failure at time t.
func IntegrationError(step int, t float64, quantity string, cause error) *SimulationError {
	return &SimulationError{Kind: KindIntegration, Step: step, Time: t, Quantity: quantity, Wrapped: cause}
}

// PersistenceError builds a persistence failure for the record at time t.
func PersistenceError(step int, t float64, cause error) *SimulationError {
	return &SimulationError{Kind: KindPersistence, Step: step, Time: t, Wrapped: cause}
}
