// Package storage persists job records and their timestep series.
//
// Two implementations share the Store contract: SQLStore over database/sql
// (sqlite3 or postgres) and MemStore for tests and throwaway runs. Timesteps
// are keyed by (job id, time); appending an existing key replaces it.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/san-kum/cellsim/internal/jobs"
)

var ErrNotFound = errors.New("storage: not found")

// DefaultReadLimit caps ReadAfter when no limit is given.
const DefaultReadLimit = 1000

type Store interface {
	jobs.Store

	CreateJob(ctx context.Context, rec jobs.Record) error
	GetJob(ctx context.Context, id string) (jobs.Record, error)
	ListJobs(ctx context.Context, limit, offset int) ([]jobs.Record, error)
	DeleteJob(ctx context.Context, id string) error

	// ReadLatest returns the timestep with the greatest time, or nil.
	ReadLatest(ctx context.Context, id string) (*jobs.Timestep, error)
	// ReadAfter returns up to limit timesteps with time > after in
	// ascending order. A nil after reads from the start.
	ReadAfter(ctx context.Context, id string, after *float64, limit int) ([]jobs.Timestep, error)
	CountTimesteps(ctx context.Context, id string) (int, error)

	Close() error
}

// Open returns a store for driver: "memory", "sqlite3" or "postgres".
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "memory":
		return NewMemStore(), nil
	case "sqlite3", "postgres":
		return OpenSQL(driver, dsn)
	}
	return nil, fmt.Errorf("storage: unknown driver %q", driver)
}
