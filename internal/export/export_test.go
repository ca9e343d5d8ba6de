package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/san-kum/cellsim/internal/jobs"
	"github.com/san-kum/cellsim/internal/storage"
)

func series(n int) []jobs.Timestep {
	out := make([]jobs.Timestep, n)
	for i := range out {
		out[i] = jobs.Timestep{
			JobID:          "a",
			Time:           float64(i),
			Concentrations: map[string]float64{"ATP": 3.65 - 0.01*float64(i), "ADP": 0.4},
			Fluxes:         map[string]float64{"glycolysis": 0.2},
			CellMetrics:    map[string]float64{"growth_rate": 0.5},
		}
	}
	return out
}

func TestCollectPages(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemStore()
	if err := st.CreateJob(ctx, jobs.NewRecord(jobs.Spec{ID: "a", TotalTime: 2500, Dt: 1})); err != nil {
		t.Fatal(err)
	}
	for _, ts := range series(pageSize*2 + 5) {
		if err := st.AppendTimestep(ctx, ts); err != nil {
			t.Fatal(err)
		}
	}

	got, err := Collect(ctx, st, "a")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got) != pageSize*2+5 {
		t.Fatalf("expected %d timesteps, got %d", pageSize*2+5, len(got))
	}
	for i, ts := range got {
		if ts.Time != float64(i) {
			t.Fatalf("timestep %d has time %g", i, ts.Time)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, series(3)); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(rows))
	}
	want := []string{"time", "ADP", "ATP", "flux:glycolysis", "cell:growth_rate"}
	if fmt.Sprint(rows[0]) != fmt.Sprint(want) {
		t.Errorf("header = %v, want %v", rows[0], want)
	}
	if rows[3][0] != "2" || rows[3][2] != "3.63" {
		t.Errorf("unexpected row %v", rows[3])
	}
}

func TestWriteCSVMissingValue(t *testing.T) {
	steps := series(2)
	delete(steps[1].Fluxes, "glycolysis")

	var buf bytes.Buffer
	if err := WriteCSV(&buf, steps); err != nil {
		t.Fatal(err)
	}
	rows, _ := csv.NewReader(&buf).ReadAll()
	if rows[2][3] != "" {
		t.Errorf("expected empty cell, got %q", rows[2][3])
	}
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "time\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteJSON(t *testing.T) {
	rec := jobs.NewRecord(jobs.Spec{ID: "a", TotalTime: 2, Dt: 1})
	var buf bytes.Buffer
	if err := WriteJSON(&buf, rec, series(3)); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var data ExportData
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.Steps != 3 || len(data.Results) != 3 {
		t.Errorf("steps=%d results=%d", data.Steps, len(data.Results))
	}
	want := series(3)[2].Concentrations["ATP"]
	if data.Simulation.ID != "a" || data.Results[2].Concentrations["ATP"] != want {
		t.Errorf("unexpected export %+v", data)
	}
}
