// Package dynamo provides core simulation primitives for stiff ODE systems.
//
// The package defines the fundamental interfaces and types shared by the
// state model, the integrators and the job runner:
//
//   - [State]: vector representing system state
//   - [System]: interface for ODE systems (dX/dt = f(X, t))
//   - [Projector]: optional post-step projection (e.g. non-negativity)
//   - [Integrator]: advances a System over one reporting interval
//   - [Metric]: per-step observer producing a scalar summary
//
// # Example
//
//	model, _ := metabolism.New(metabolism.Glycolysis(), nil)
//	integ := integrators.NewRosenbrock23()
//	x1, stats, err := integ.Advance(model, model.InitialState(), 0, 1)
//
// # Errors
//
// Failures are reported as [*SimulationError] values that unwrap both to a
// kind sentinel ([ErrIntegration], [ErrPersistence]) and to the concrete
// cause ([ErrStepTooSmall], [ErrSingularMatrix], ...), so callers can use
// errors.Is against either.
package dynamo
