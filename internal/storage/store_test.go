package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/san-kum/cellsim/internal/jobs"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQL("sqlite3", filepath.Join(t.TempDir(), "cellsim.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemStore(),
		"sqlite": sqlite,
	}
}

func timestep(id string, tm float64, atp float64) jobs.Timestep {
	return jobs.Timestep{
		JobID:          id,
		Time:           tm,
		Concentrations: map[string]float64{"ATP": atp},
		Fluxes:         map[string]float64{"glycolysis": 1.5},
		CellMetrics:    map[string]float64{"energy_charge": 0.9},
	}
}

func f64(v float64) *float64 { return &v }

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			rec := jobs.NewRecord(jobs.Spec{ID: "job-1", TotalTime: 10, Dt: 0.5, Network: "glycolysis"})
			if err := st.CreateJob(ctx, rec); err != nil {
				t.Fatalf("create: %v", err)
			}

			got, err := st.GetJob(ctx, "job-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Status != jobs.StatusPending {
				t.Errorf("status = %s", got.Status)
			}
			if got.TotalTime != 10 || got.Dt != 0.5 || got.Network != "glycolysis" {
				t.Errorf("config not round-tripped: %+v", got)
			}
			if got.StartedAt != nil || got.CompletedAt != nil || got.ErrorMessage != nil {
				t.Errorf("unexpected optional fields: %+v", got)
			}

			if _, err := st.GetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestUpdateStatusTransitions(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := st.CreateJob(ctx, jobs.NewRecord(jobs.Spec{ID: "j", TotalTime: 5, Dt: 1})); err != nil {
				t.Fatal(err)
			}

			if err := st.UpdateStatus(ctx, jobs.StatusUpdate{JobID: "j", Status: jobs.StatusRunning, CurrentTime: f64(0)}); err != nil {
				t.Fatal(err)
			}
			first, _ := st.GetJob(ctx, "j")
			if first.StartedAt == nil {
				t.Fatal("started_at not set on running")
			}

			if err := st.UpdateStatus(ctx, jobs.StatusUpdate{JobID: "j", Status: jobs.StatusRunning, CurrentTime: f64(3)}); err != nil {
				t.Fatal(err)
			}
			mid, _ := st.GetJob(ctx, "j")
			if mid.CurrentTime != 3 {
				t.Errorf("current_time = %v, want 3", mid.CurrentTime)
			}
			if !mid.StartedAt.Equal(*first.StartedAt) {
				t.Errorf("started_at moved: %v -> %v", first.StartedAt, mid.StartedAt)
			}
			if mid.CompletedAt != nil {
				t.Error("completed_at set while running")
			}

			msg := jobs.CancelMessage
			if err := st.UpdateStatus(ctx, jobs.StatusUpdate{JobID: "j", Status: jobs.StatusCancelled, ErrorMessage: &msg}); err != nil {
				t.Fatal(err)
			}
			end, _ := st.GetJob(ctx, "j")
			if end.Status != jobs.StatusCancelled || end.CompletedAt == nil {
				t.Errorf("terminal transition not recorded: %+v", end)
			}
			if end.CurrentTime != 3 {
				t.Errorf("partial update overwrote current_time: %v", end.CurrentTime)
			}
			if end.ErrorMessage == nil || *end.ErrorMessage != msg {
				t.Errorf("error_message = %v", end.ErrorMessage)
			}

			err := st.UpdateStatus(ctx, jobs.StatusUpdate{JobID: "nope", Status: jobs.StatusRunning})
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestAppendTimestepIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := st.CreateJob(ctx, jobs.NewRecord(jobs.Spec{ID: "j", TotalTime: 5, Dt: 1})); err != nil {
				t.Fatal(err)
			}

			if err := st.AppendTimestep(ctx, timestep("j", 1, 3.0)); err != nil {
				t.Fatal(err)
			}
			if err := st.AppendTimestep(ctx, timestep("j", 1, 2.5)); err != nil {
				t.Fatalf("duplicate append should replace: %v", err)
			}

			n, err := st.CountTimesteps(ctx, "j")
			if err != nil {
				t.Fatal(err)
			}
			if n != 1 {
				t.Errorf("expected 1 record, got %d", n)
			}

			latest, err := st.ReadLatest(ctx, "j")
			if err != nil {
				t.Fatal(err)
			}
			if latest == nil || latest.Concentrations["ATP"] != 2.5 {
				t.Errorf("expected replaced value 2.5, got %+v", latest)
			}
		})
	}
}

func TestReadAfter(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := st.CreateJob(ctx, jobs.NewRecord(jobs.Spec{ID: "j", TotalTime: 5, Dt: 1})); err != nil {
				t.Fatal(err)
			}
			for _, tm := range []float64{3, 0, 5, 1, 4, 2} {
				if err := st.AppendTimestep(ctx, timestep("j", tm, tm)); err != nil {
					t.Fatal(err)
				}
			}

			all, err := st.ReadAfter(ctx, "j", nil, 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 6 {
				t.Fatalf("expected 6 records, got %d", len(all))
			}
			for i, ts := range all {
				if ts.Time != float64(i) {
					t.Errorf("record %d at t=%v, want ascending", i, ts.Time)
				}
				if ts.Fluxes["glycolysis"] != 1.5 || ts.CellMetrics["energy_charge"] != 0.9 {
					t.Errorf("maps not round-tripped: %+v", ts)
				}
			}

			page, err := st.ReadAfter(ctx, "j", f64(2), 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(page) != 2 || page[0].Time != 3 || page[1].Time != 4 {
				t.Errorf("unexpected page: %+v", page)
			}

			latest, err := st.ReadLatest(ctx, "j")
			if err != nil {
				t.Fatal(err)
			}
			if latest.Time != 5 {
				t.Errorf("latest at %v, want 5", latest.Time)
			}

			none, err := st.ReadLatest(ctx, "other")
			if err != nil || none != nil {
				t.Errorf("expected nil for unknown job, got %v, %v", none, err)
			}
		})
	}
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"a", "b", "c"} {
				if err := st.CreateJob(ctx, jobs.NewRecord(jobs.Spec{ID: id, TotalTime: 1, Dt: 1})); err != nil {
					t.Fatal(err)
				}
			}
			if err := st.AppendTimestep(ctx, timestep("b", 0, 1)); err != nil {
				t.Fatal(err)
			}

			recs, err := st.ListJobs(ctx, 2, 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(recs) != 2 {
				t.Errorf("expected page of 2, got %d", len(recs))
			}
			rest, err := st.ListJobs(ctx, 10, 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(rest) != 1 {
				t.Errorf("expected 1 remaining, got %d", len(rest))
			}

			if err := st.DeleteJob(ctx, "b"); err != nil {
				t.Fatal(err)
			}
			if n, _ := st.CountTimesteps(ctx, "b"); n != 0 {
				t.Errorf("timesteps survived delete: %d", n)
			}
			if err := st.DeleteJob(ctx, "b"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound on second delete, got %v", err)
			}
		})
	}
}

func TestAppendToUnknownJob(t *testing.T) {
	ctx := context.Background()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := st.AppendTimestep(ctx, timestep("ghost", 0, 1)); err == nil {
				t.Error("expected error appending to unknown job")
			}
		})
	}
}

func TestOpen(t *testing.T) {
	st, err := Open("memory", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(*MemStore); !ok {
		t.Errorf("expected MemStore, got %T", st)
	}
	if _, err := Open("mongo", ""); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: "postgres"}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("postgres rebind = %q", got)
	}
	lite := &SQLStore{driver: "sqlite3"}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}
