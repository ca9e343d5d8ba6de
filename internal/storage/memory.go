package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/san-kum/cellsim/internal/jobs"
)

// MemStore is an in-memory Store. Records and timesteps are copied on the
// way in and out.
type MemStore struct {
	mu        sync.RWMutex
	records   map[string]jobs.Record
	timesteps map[string]map[float64]jobs.Timestep
}

func NewMemStore() *MemStore {
	return &MemStore{
		records:   make(map[string]jobs.Record),
		timesteps: make(map[string]map[float64]jobs.Timestep),
	}
}

func (m *MemStore) Close() error { return nil }

func (m *MemStore) CreateJob(ctx context.Context, rec jobs.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.ID]; ok {
		return fmt.Errorf("storage: job %s already exists", rec.ID)
	}
	if rec.Status == "" {
		rec.Status = jobs.StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.records[rec.ID] = copyRecord(rec)
	m.timesteps[rec.ID] = make(map[float64]jobs.Timestep)
	return nil
}

func (m *MemStore) GetJob(ctx context.Context, id string) (jobs.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return jobs.Record{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return copyRecord(rec), nil
}

func (m *MemStore) ListJobs(ctx context.Context, limit, offset int) ([]jobs.Record, error) {
	m.mu.RLock()
	out := make([]jobs.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, copyRecord(rec))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (m *MemStore) DeleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	delete(m.records, id)
	delete(m.timesteps, id)
	return nil
}

func (m *MemStore) UpdateStatus(ctx context.Context, u jobs.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[u.JobID]
	if !ok {
		return fmt.Errorf("job %s: %w", u.JobID, ErrNotFound)
	}

	now := time.Now().UTC()
	rec.Status = u.Status
	if u.CurrentTime != nil {
		rec.CurrentTime = *u.CurrentTime
	}
	if u.ErrorMessage != nil {
		msg := *u.ErrorMessage
		rec.ErrorMessage = &msg
	}
	if u.Status == jobs.StatusRunning && rec.StartedAt == nil {
		rec.StartedAt = &now
	}
	if u.Status.Terminal() {
		rec.CompletedAt = &now
	}
	m.records[u.JobID] = rec
	return nil
}

func (m *MemStore) AppendTimestep(ctx context.Context, ts jobs.Timestep) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	series, ok := m.timesteps[ts.JobID]
	if !ok {
		return fmt.Errorf("job %s: %w", ts.JobID, ErrNotFound)
	}
	series[ts.Time] = copyTimestep(ts)
	return nil
}

func (m *MemStore) sorted(id string) []jobs.Timestep {
	series := m.timesteps[id]
	out := make([]jobs.Timestep, 0, len(series))
	for _, ts := range series {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

func (m *MemStore) ReadLatest(ctx context.Context, id string) (*jobs.Timestep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.sorted(id)
	if len(all) == 0 {
		return nil, nil
	}
	ts := copyTimestep(all[len(all)-1])
	return &ts, nil
}

func (m *MemStore) ReadAfter(ctx context.Context, id string, after *float64, limit int) ([]jobs.Timestep, error) {
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []jobs.Timestep
	for _, ts := range m.sorted(id) {
		if after != nil && ts.Time <= *after {
			continue
		}
		out = append(out, copyTimestep(ts))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemStore) CountTimesteps(ctx context.Context, id string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.timesteps[id]), nil
}

func copyRecord(rec jobs.Record) jobs.Record {
	if rec.StartedAt != nil {
		t := *rec.StartedAt
		rec.StartedAt = &t
	}
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		rec.CompletedAt = &t
	}
	if rec.ErrorMessage != nil {
		msg := *rec.ErrorMessage
		rec.ErrorMessage = &msg
	}
	return rec
}

func copyTimestep(ts jobs.Timestep) jobs.Timestep {
	ts.Concentrations = copyMap(ts.Concentrations)
	ts.Fluxes = copyMap(ts.Fluxes)
	ts.CellMetrics = copyMap(ts.CellMetrics)
	return ts
}

func copyMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
