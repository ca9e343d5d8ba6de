// Package jobs runs simulations as long-lived, cancellable jobs.
//
// A Runner owns one job's state for its whole lifetime and drives it
// through pending, running and exactly one terminal status. Each reporting
// interval is advanced by an integrator, projected, persisted through a
// Sink and only then made visible to Observers.
//
// The Supervisor is the registry of executing job ids. It guarantees that
// an id has at most one active Runner and that cancellation reaches the
// right one. Its lock is never held across numeric work or storage calls.
//
//	sup := jobs.NewSupervisor(store, jobs.WithLogger(log))
//	started, err := sup.Start(jobs.Spec{ID: id, TotalTime: 3600, Dt: 1})
//	...
//	sup.Cancel(id)
package jobs
