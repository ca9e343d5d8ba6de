// Package integrators provides adaptive ODE solvers behind the
// dynamo.Integrator contract: advance a state over one reporting interval,
// taking as many internal steps as the error control requires.
//
// Rosenbrock23 is a linearly implicit, L-stable method suited to the stiff
// kinetics of reaction networks. RK45 is the explicit Dormand-Prince pair for
// non-stiff systems.
//
// Integrators hold only configuration, so one instance may be shared by
// concurrently running jobs.
package integrators
