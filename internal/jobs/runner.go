package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/cellsim/internal/dynamo"
	"github.com/san-kum/cellsim/internal/metrics"
)

// RunawayThreshold is the concentration (mM) above which a job logs a
// warning. The job keeps running.
const RunawayThreshold = 1e4

// Runner executes a single job. It is not safe for concurrent use and is
// run at most once.
type Runner struct {
	spec      Spec
	model     Model
	integ     dynamo.Integrator
	store     Store
	observers []Observer
	log       *zap.Logger

	// release is called once the job stops executing, before its terminal
	// status is written.
	release  func()
	released bool
}

func NewRunner(spec Spec, model Model, integ dynamo.Integrator, store Store, log *zap.Logger, observers ...Observer) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		spec:      spec,
		model:     model,
		integ:     integ,
		store:     store,
		observers: observers,
		log:       log.With(zap.String("job_id", spec.ID)),
		release:   func() {},
	}
}

// Run drives the job to a terminal status and returns it. ctx cancellation
// is observed between steps only; an interval already being integrated is
// persisted before the job stops. The returned error is the cause of a
// failed job and is already recorded in its status.
func (r *Runner) Run(ctx context.Context) (status Status, err error) {
	// persistence must outlive a cancelled job context
	wctx := context.WithoutCancel(ctx)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", dynamo.ErrIntegration, p)
			status = r.fail(wctx, err)
		}
	}()

	start := time.Now()
	drift := metrics.NewConservationDrift(r.model)
	bounded := metrics.NewRunaway(r.model, RunawayThreshold)
	r.log.Info("job started",
		zap.Float64("total_time", r.spec.TotalTime),
		zap.Float64("dt", r.spec.Dt),
		zap.String("integrator", r.integ.Name()),
	)

	if err := r.setStatus(wctx, StatusUpdate{JobID: r.spec.ID, Status: StatusRunning, CurrentTime: ptr(0.0)}); err != nil {
		err = dynamo.PersistenceError(0, 0, err)
		return r.fail(wctx, err), err
	}

	x := r.model.Project(r.model.InitialState())
	if err := r.persist(wctx, 0, x); err != nil {
		err = dynamo.PersistenceError(0, 0, err)
		return r.fail(wctx, err), err
	}
	drift.Observe(x, 0)
	bounded.Observe(x, 0)
	warned := r.warnRunaway(bounded, 0, false)

	var total dynamo.Stats
	steps := r.spec.Steps()
	for i := 1; i <= steps; i++ {
		if ctx.Err() != nil {
			return r.cancelled(wctx, r.spec.TimeAt(i-1)), nil
		}

		t0, t1 := r.spec.TimeAt(i-1), r.spec.TimeAt(i)
		next, st, err := r.integ.Advance(r.model, x, t0, t1-t0)
		if err != nil {
			err = asIntegrationError(i, t0, err)
			return r.fail(wctx, err), err
		}
		x = r.model.Project(next)

		total.Steps += st.Steps
		total.Rejected += st.Rejected
		total.Evaluations += st.Evaluations

		if err := r.persist(wctx, t1, x); err != nil {
			err = dynamo.PersistenceError(i, t1, err)
			return r.fail(wctx, err), err
		}
		drift.Observe(x, t1)
		bounded.Observe(x, t1)
		warned = r.warnRunaway(bounded, t1, warned)

		if err := r.setStatus(wctx, StatusUpdate{JobID: r.spec.ID, Status: StatusRunning, CurrentTime: ptr(t1)}); err != nil {
			err = dynamo.PersistenceError(i, t1, err)
			return r.fail(wctx, err), err
		}
		r.log.Debug("step", zap.Int("step", i), zap.Float64("t", t1), zap.Int("internal_steps", st.Steps))
	}

	r.stop()
	done := StatusUpdate{JobID: r.spec.ID, Status: StatusCompleted, CurrentTime: ptr(r.spec.TotalTime)}
	if err := r.setStatus(wctx, done); err != nil {
		r.log.Error("failed to record completion", zap.Error(err))
	}
	r.log.Info("job completed",
		zap.Int("steps", steps),
		zap.Int("internal_steps", total.Steps),
		zap.Int("rejected", total.Rejected),
		zap.Int("evaluations", total.Evaluations),
		zap.Any("metrics", metrics.Summary(drift, bounded)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return StatusCompleted, nil
}

func (r *Runner) persist(ctx context.Context, t float64, x dynamo.State) error {
	ts := Timestep{
		JobID:          r.spec.ID,
		Time:           t,
		Concentrations: r.model.Concentrations(x),
		Fluxes:         r.model.Fluxes(x),
		CellMetrics:    r.model.CellMetrics(x, t),
	}
	if err := r.store.AppendTimestep(ctx, ts); err != nil {
		return err
	}
	for _, o := range r.observers {
		if err := o.OnTimestep(ctx, ts); err != nil {
			r.log.Warn("observer rejected timestep", zap.Float64("t", t), zap.Error(err))
		}
	}
	return nil
}

func (r *Runner) setStatus(ctx context.Context, u StatusUpdate) error {
	if err := r.store.UpdateStatus(ctx, u); err != nil {
		return err
	}
	for _, o := range r.observers {
		if err := o.OnStatus(ctx, u); err != nil {
			r.log.Warn("observer rejected status", zap.String("status", string(u.Status)), zap.Error(err))
		}
	}
	return nil
}

// warnRunaway logs the first time a concentration crosses the bound and
// reports whether it has been logged.
func (r *Runner) warnRunaway(bounded *metrics.Runaway, t float64, warned bool) bool {
	if warned || bounded.Last() == "" {
		return warned
	}
	r.log.Warn("concentration exceeded bound",
		zap.String("species", bounded.Last()),
		zap.Float64("t", t),
		zap.Float64("bound", RunawayThreshold),
	)
	return true
}

func (r *Runner) stop() {
	if !r.released {
		r.released = true
		r.release()
	}
}

func (r *Runner) cancelled(ctx context.Context, t float64) Status {
	r.stop()
	u := StatusUpdate{JobID: r.spec.ID, Status: StatusCancelled, CurrentTime: ptr(t), ErrorMessage: ptr(CancelMessage)}
	if err := r.setStatus(ctx, u); err != nil {
		r.log.Error("failed to record cancellation", zap.Error(err))
	}
	r.log.Info("job cancelled", zap.Float64("t", t))
	return StatusCancelled
}

func (r *Runner) fail(ctx context.Context, cause error) Status {
	r.stop()
	u := StatusUpdate{JobID: r.spec.ID, Status: StatusFailed, ErrorMessage: ptr(cause.Error())}
	if err := r.setStatus(ctx, u); err != nil {
		r.log.Error("failed to record failure", zap.NamedError("cause", cause), zap.Error(err))
	}
	r.log.Error("job failed", zap.Error(cause))
	return StatusFailed
}

func asIntegrationError(step int, t float64, err error) error {
	var simErr *dynamo.SimulationError
	if errors.As(err, &simErr) {
		simErr.Step = step
		return simErr
	}
	return dynamo.IntegrationError(step, t, "", err)
}
