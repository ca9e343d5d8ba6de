package experiment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/san-kum/cellsim/internal/integrators"
	"github.com/san-kum/cellsim/internal/jobs"
	"github.com/san-kum/cellsim/internal/storage"
)

type Config struct {
	ID        string
	Network   string
	Solver    string
	Options   integrators.Options
	TotalTime float64
	Dt        float64
	Params    map[string]float64
}

func (c Config) spec(id string) jobs.Spec {
	return jobs.Spec{ID: id, TotalTime: c.TotalTime, Dt: c.Dt, Network: c.Network, Params: c.Params}
}

// Experiment runs jobs in-process against a store.
type Experiment struct {
	cfg       Config
	reg       *Registry
	store     storage.Store
	log       *zap.Logger
	observers []jobs.Observer
}

func New(cfg Config, reg *Registry, store storage.Store, log *zap.Logger, observers ...jobs.Observer) *Experiment {
	if reg == nil {
		reg = NewRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Experiment{cfg: cfg, reg: reg, store: store, log: log, observers: observers}
}

func (e *Experiment) supervisor() (*jobs.Supervisor, error) {
	integ, err := e.reg.GetIntegrator(e.cfg.Solver, e.cfg.Options)
	if err != nil {
		return nil, err
	}
	return jobs.NewSupervisor(e.store,
		jobs.WithIntegrator(integ),
		jobs.WithModelFactory(e.reg.Models()),
		jobs.WithLogger(e.log),
		jobs.WithObservers(e.observers...),
	), nil
}

// Run executes one job to a terminal status and returns its record.
// Cancelling ctx cancels the job; the record then reads cancelled.
func (e *Experiment) Run(ctx context.Context) (jobs.Record, error) {
	h, err := e.Start(ctx)
	if err != nil {
		return jobs.Record{}, err
	}
	return h.Wait()
}

// Handle is a job started by an Experiment.
type Handle struct {
	ID string

	sup   *jobs.Supervisor
	store storage.Store
	stop  func() bool
}

// Start creates the job record and launches the job. The job is cancelled
// when ctx is.
func (e *Experiment) Start(ctx context.Context) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sup, err := e.supervisor()
	if err != nil {
		return nil, err
	}

	id := e.cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	if err := e.launch(ctx, sup, e.cfg.spec(id)); err != nil {
		return nil, err
	}
	return &Handle{
		ID:    id,
		sup:   sup,
		store: e.store,
		stop:  context.AfterFunc(ctx, func() { sup.Cancel(id) }),
	}, nil
}

// Cancel asks the job to stop; it reports false when the job has finished.
func (h *Handle) Cancel() bool { return h.sup.Cancel(h.ID) }

// Wait blocks until the job's terminal status is recorded.
func (h *Handle) Wait() (jobs.Record, error) {
	defer h.stop()
	if err := h.sup.Wait(context.Background(), h.ID); err != nil {
		return jobs.Record{}, err
	}
	return h.store.GetJob(context.Background(), h.ID)
}

func (e *Experiment) launch(ctx context.Context, sup *jobs.Supervisor, spec jobs.Spec) error {
	if err := e.store.CreateJob(ctx, jobs.NewRecord(spec)); err != nil {
		return fmt.Errorf("create job %s: %w", spec.ID, err)
	}
	started, err := sup.Start(spec)
	if err != nil {
		return err
	}
	if !started {
		return fmt.Errorf("job %s is already running", spec.ID)
	}
	return nil
}
