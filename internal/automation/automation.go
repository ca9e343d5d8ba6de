// Package automation runs scripted sequences of simulations described in
// YAML scenario files.
package automation

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/cellsim/internal/dynamo"
	"github.com/san-kum/cellsim/internal/experiment"
	"github.com/san-kum/cellsim/internal/integrators"
	"github.com/san-kum/cellsim/internal/jobs"
	"github.com/san-kum/cellsim/internal/storage"
)

// Scenario is a named list of simulations run one after another.
type Scenario struct {
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description,omitempty"`
	// StopOnFailure ends the scenario at the first step that does not
	// complete.
	StopOnFailure bool   `yaml:"stop_on_failure,omitempty"`
	Steps         []Step `yaml:"steps" validate:"required,min=1,dive"`
}

// Step is one simulation of a scenario. Zero fields take the defaults
// passed to Run.
type Step struct {
	Name      string             `yaml:"name,omitempty"`
	Network   string             `yaml:"network,omitempty"`
	Solver    string             `yaml:"solver,omitempty"`
	TotalTime float64            `yaml:"total_time_seconds,omitempty" validate:"omitempty,gte=1,lte=36000"`
	Dt        float64            `yaml:"timestep,omitempty" validate:"omitempty,gte=0.1,lte=60"`
	Params    map[string]float64 `yaml:"params,omitempty" validate:"omitempty,dive,gte=0"`
}

// Result pairs a step with the record of its job.
type Result struct {
	Step   Step
	Record jobs.Record
}

var validate = validator.New()

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := validate.Struct(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &sc, nil
}

// Runner executes scenarios against a store.
type Runner struct {
	Defaults  experiment.Config
	Registry  *experiment.Registry
	Store     storage.Store
	Log       *zap.Logger
	Observers []jobs.Observer
}

func (r *Runner) config(s Step) experiment.Config {
	cfg := r.Defaults
	cfg.ID = uuid.NewString()
	if s.Network != "" {
		cfg.Network = s.Network
	}
	if s.Solver != "" {
		cfg.Solver = s.Solver
	}
	if cfg.Options == (integrators.Options{}) {
		cfg.Options = integrators.DefaultOptions()
	}
	if s.TotalTime > 0 {
		cfg.TotalTime = s.TotalTime
	}
	if s.Dt > 0 {
		cfg.Dt = s.Dt
	}
	if len(s.Params) > 0 {
		cfg.Params = s.Params
	}
	return cfg
}

// Run executes the steps in order. A job that fails, is cancelled or is
// rejected for a bad network or parameters is reported in its Result; any
// other launch error ends the scenario.
func (r *Runner) Run(ctx context.Context, sc *Scenario) ([]Result, error) {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("scenario", sc.Name))

	results := make([]Result, 0, len(sc.Steps))
	for i, step := range sc.Steps {
		cfg := r.config(step)
		log.Info("running step",
			zap.Int("step", i+1),
			zap.Int("of", len(sc.Steps)),
			zap.String("name", step.Name),
			zap.String("network", cfg.Network),
		)

		rec, err := experiment.New(cfg, r.Registry, r.Store, log, r.Observers...).Run(ctx)
		if errors.Is(err, dynamo.ErrModel) {
			rec, err = r.Store.GetJob(ctx, cfg.ID)
		}
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}
		results = append(results, Result{Step: step, Record: rec})

		if rec.Status != jobs.StatusCompleted && sc.StopOnFailure {
			log.Warn("stopping scenario", zap.Int("step", i+1), zap.String("status", string(rec.Status)))
			break
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
	}
	return results, nil
}
