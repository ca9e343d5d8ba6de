package jobs

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/san-kum/cellsim/internal/dynamo"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// CancelMessage is recorded as the error message of cancelled jobs.
const CancelMessage = "Simulation cancelled by user"

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusRunning || s.Terminal()
}

// Spec identifies a job and its time grid.
type Spec struct {
	ID        string             `json:"id"`
	TotalTime float64            `json:"total_time"`
	Dt        float64            `json:"timestep"`
	Network   string             `json:"network,omitempty"`
	Params    map[string]float64 `json:"params,omitempty"`
}

func (s Spec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: job id is empty", dynamo.ErrModel)
	}
	if !(s.TotalTime > 0) || math.IsInf(s.TotalTime, 0) {
		return fmt.Errorf("%w: total_time must be positive, got %g", dynamo.ErrModel, s.TotalTime)
	}
	if !(s.Dt > 0) || math.IsInf(s.Dt, 0) {
		return fmt.Errorf("%w: timestep must be positive, got %g", dynamo.ErrModel, s.Dt)
	}
	return nil
}

// Steps is the number of reporting intervals after t=0.
func (s Spec) Steps() int {
	n := int(math.Ceil(s.TotalTime/s.Dt - 1e-9))
	if n < 1 {
		n = 1
	}
	return n
}

// TimeAt returns the grid time of step i. The grid is i*dt, with the final
// point clipped to TotalTime.
func (s Spec) TimeAt(i int) float64 {
	if i >= s.Steps() {
		return s.TotalTime
	}
	return float64(i) * s.Dt
}

// Record is the persisted lifecycle state of a job.
type Record struct {
	ID           string     `json:"id"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	TotalTime    float64    `json:"total_time_seconds"`
	CurrentTime  float64    `json:"current_time_seconds"`
	Dt           float64    `json:"timestep"`
	Network      string     `json:"network,omitempty"`
}

// NewRecord returns a pending record for spec.
func NewRecord(spec Spec) Record {
	return Record{
		ID:        spec.ID,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		TotalTime: spec.TotalTime,
		Dt:        spec.Dt,
		Network:   spec.Network,
	}
}

// Progress is the completed share of the job in percent.
func (r Record) Progress() float64 {
	if r.TotalTime <= 0 {
		return 0
	}
	return math.Min(100, 100*r.CurrentTime/r.TotalTime)
}

// Timestep is one persisted point of a job trajectory.
type Timestep struct {
	JobID          string             `json:"simulation_id"`
	Time           float64            `json:"time_seconds"`
	Concentrations map[string]float64 `json:"metabolites"`
	Fluxes         map[string]float64 `json:"fluxes"`
	CellMetrics    map[string]float64 `json:"cell_metrics"`
}

// Value looks name up among the metabolites, then the fluxes, then the
// cell metrics.
func (ts Timestep) Value(name string) (float64, bool) {
	if v, ok := ts.Concentrations[name]; ok {
		return v, true
	}
	if v, ok := ts.Fluxes[name]; ok {
		return v, true
	}
	v, ok := ts.CellMetrics[name]
	return v, ok
}

// StatusUpdate is a partial update; nil fields are left unchanged.
type StatusUpdate struct {
	JobID        string   `json:"simulation_id"`
	Status       Status   `json:"status"`
	CurrentTime  *float64 `json:"current_time_seconds,omitempty"`
	ErrorMessage *string  `json:"error_message,omitempty"`
}

// Sink receives timesteps. AppendTimestep must replace an existing record
// with the same (JobID, Time).
type Sink interface {
	AppendTimestep(ctx context.Context, ts Timestep) error
}

// StatusStore applies status transitions. The store sets started_at and
// completed_at from the transition itself.
type StatusStore interface {
	UpdateStatus(ctx context.Context, u StatusUpdate) error
}

type Store interface {
	Sink
	StatusStore
}

// Observer is notified after a timestep or status change has been
// persisted. Errors are logged and otherwise ignored.
type Observer interface {
	OnTimestep(ctx context.Context, ts Timestep) error
	OnStatus(ctx context.Context, u StatusUpdate) error
}

// Model is the state model a Runner advances.
type Model interface {
	dynamo.System
	InitialState() dynamo.State
	Project(x dynamo.State) dynamo.State
	Concentrations(x dynamo.State) map[string]float64
	Fluxes(x dynamo.State) map[string]float64
	CellMetrics(x dynamo.State, t float64) map[string]float64
}

// ModelFactory builds the model for a job. It must return an error wrapping
// dynamo.ErrModel for malformed networks or parameters.
type ModelFactory func(spec Spec) (Model, error)

func ptr[T any](v T) *T { return &v }
