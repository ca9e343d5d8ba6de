// Package export writes job trajectories as CSV or JSON.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/san-kum/cellsim/internal/jobs"
)

const pageSize = 1000

// Reader pages through a job's timesteps in time order.
type Reader interface {
	ReadAfter(ctx context.Context, id string, after *float64, limit int) ([]jobs.Timestep, error)
}

// Collect reads every timestep of job id.
func Collect(ctx context.Context, r Reader, id string) ([]jobs.Timestep, error) {
	var (
		out   []jobs.Timestep
		after *float64
	)
	for {
		page, err := r.ReadAfter(ctx, id, after, pageSize)
		if err != nil {
			return nil, fmt.Errorf("read timesteps of %s: %w", id, err)
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
		last := page[len(page)-1].Time
		after = &last
	}
}

type ExportData struct {
	Simulation jobs.Record     `json:"simulation"`
	Steps      int             `json:"steps"`
	Results    []jobs.Timestep `json:"results"`
}

func WriteJSON(w io.Writer, rec jobs.Record, steps []jobs.Timestep) error {
	if steps == nil {
		steps = []jobs.Timestep{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ExportData{Simulation: rec, Steps: len(steps), Results: steps})
}

// Column prefixes for flux and cell metric columns; metabolite columns
// carry the bare species name.
const (
	FluxPrefix = "flux:"
	CellPrefix = "cell:"
)

// WriteCSV writes one row per timestep. Columns are time, then the
// metabolites, fluxes and cell metrics of the first timestep in name order.
func WriteCSV(w io.Writer, steps []jobs.Timestep) error {
	cw := csv.NewWriter(w)

	if len(steps) == 0 {
		cw.Write([]string{"time"})
		cw.Flush()
		return cw.Error()
	}

	first := steps[0]
	mets := keys(first.Concentrations)
	fluxes := keys(first.Fluxes)
	cells := keys(first.CellMetrics)

	header := make([]string, 0, 1+len(mets)+len(fluxes)+len(cells))
	header = append(header, "time")
	header = append(header, mets...)
	for _, k := range fluxes {
		header = append(header, FluxPrefix+k)
	}
	for _, k := range cells {
		header = append(header, CellPrefix+k)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for _, ts := range steps {
		row = row[:0]
		row = append(row, format(ts.Time))
		row = appendValues(row, mets, ts.Concentrations)
		row = appendValues(row, fluxes, ts.Fluxes)
		row = appendValues(row, cells, ts.CellMetrics)
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func appendValues(row, names []string, m map[string]float64) []string {
	for _, k := range names {
		v, ok := m[k]
		if !ok {
			row = append(row, "")
			continue
		}
		row = append(row, format(v))
	}
	return row
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}

func keys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
