package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/san-kum/cellsim/internal/dynamo"
	"github.com/san-kum/cellsim/internal/integrators"
)

// ErrSupervisorClosed is returned by Start after Shutdown.
var ErrSupervisorClosed = errors.New("jobs: supervisor is shut down")

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	active bool
}

// Supervisor tracks the executing jobs of one process.
type Supervisor struct {
	store     Store
	integ     dynamo.Integrator
	models    ModelFactory
	observers []Observer
	log       *zap.Logger

	mu      sync.Mutex
	handles map[string]*handle
	closed  bool
}

type Option func(*Supervisor)

func WithLogger(log *zap.Logger) Option {
	return func(s *Supervisor) {
		if log != nil {
			s.log = log
		}
	}
}

func WithIntegrator(integ dynamo.Integrator) Option {
	return func(s *Supervisor) { s.integ = integ }
}

func WithModelFactory(f ModelFactory) Option {
	return func(s *Supervisor) { s.models = f }
}

func WithObservers(obs ...Observer) Option {
	return func(s *Supervisor) { s.observers = append(s.observers, obs...) }
}

func NewSupervisor(store Store, opts ...Option) *Supervisor {
	s := &Supervisor{
		store:   store,
		integ:   integrators.NewRosenbrock23(integrators.DefaultOptions()),
		models:  BuiltinModels,
		log:     zap.NewNop(),
		handles: make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start spawns a runner for spec. It returns false without error when the
// id is already registered. A malformed spec or model returns an error
// wrapping dynamo.ErrModel; the job's record stays pending with the error
// message attached.
func (s *Supervisor) Start(spec Spec) (bool, error) {
	h := &handle{done: make(chan struct{}), active: true}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrSupervisorClosed
	}
	if _, ok := s.handles[spec.ID]; ok {
		s.mu.Unlock()
		return false, nil
	}
	s.handles[spec.ID] = h
	s.mu.Unlock()

	model, err := s.build(spec)
	if err != nil {
		s.forget(spec.ID, h)
		close(h.done)
		s.rejectModel(spec, err)
		return false, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	runner := NewRunner(spec, model, s.integ, s.store, s.log, s.observers...)
	runner.release = func() { s.deactivate(h) }

	s.mu.Lock()
	if s.closed {
		delete(s.handles, spec.ID)
		s.mu.Unlock()
		cancel()
		close(h.done)
		return false, ErrSupervisorClosed
	}
	h.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer close(h.done)
		defer s.forget(spec.ID, h)
		defer cancel()
		runner.Run(ctx)
	}()
	return true, nil
}

func (s *Supervisor) build(spec Spec) (Model, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	model, err := s.models(spec)
	if err != nil {
		if !errors.Is(err, dynamo.ErrModel) {
			err = fmt.Errorf("%w: %v", dynamo.ErrModel, err)
		}
		return nil, err
	}
	return model, nil
}

func (s *Supervisor) rejectModel(spec Spec, cause error) {
	s.log.Warn("job rejected", zap.String("job_id", spec.ID), zap.Error(cause))
	if spec.ID == "" {
		return
	}
	msg := "ModelError: " + cause.Error()
	u := StatusUpdate{JobID: spec.ID, Status: StatusPending, ErrorMessage: &msg}
	if err := s.store.UpdateStatus(context.Background(), u); err != nil {
		s.log.Error("failed to record model error", zap.String("job_id", spec.ID), zap.Error(err))
	}
}

func (s *Supervisor) deactivate(h *handle) {
	s.mu.Lock()
	h.active = false
	s.mu.Unlock()
}

func (s *Supervisor) forget(id string, h *handle) {
	s.mu.Lock()
	if s.handles[id] == h {
		delete(s.handles, id)
	}
	s.mu.Unlock()
}

// Cancel signals the job to stop at its next step boundary. It returns
// false when the id is not executing.
func (s *Supervisor) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[id]
	if !ok || !h.active || h.cancel == nil {
		return false
	}
	h.cancel()
	return true
}

func (s *Supervisor) IsRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[id]
	return ok && h.active
}

// Running returns the sorted ids of executing jobs.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.handles))
	for id, h := range s.handles {
		if h.active {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Wait blocks until the job's runner has exited and its terminal status has
// been written. Unknown ids return immediately.
func (s *Supervisor) Wait(ctx context.Context, id string) error {
	s.mu.Lock()
	h, ok := s.handles[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every job, rejects further starts and waits for the
// runners to exit.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	pending := make([]chan struct{}, 0, len(s.handles))
	for _, h := range s.handles {
		if h.cancel != nil {
			h.cancel()
		}
		pending = append(pending, h.done)
	}
	s.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
