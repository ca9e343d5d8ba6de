package experiment

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/cellsim/internal/jobs"
)

// Sweep runs one job per point of a parameter grid.
type Sweep struct {
	paramNames []string
	ranges     [][]float64
	workers    int
}

func NewSweep(params []string, ranges [][]float64, workers int) *Sweep {
	if workers <= 0 {
		workers = 4
	}
	return &Sweep{paramNames: params, ranges: ranges, workers: workers}
}

// ParseAxis parses "name=v1,v2,...".
func ParseAxis(s string) (string, []float64, error) {
	name, list, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" || list == "" {
		return "", nil, fmt.Errorf("sweep axis %q: want name=v1,v2", s)
	}
	var vals []float64
	for _, f := range strings.Split(list, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return "", nil, fmt.Errorf("sweep axis %q: %w", s, err)
		}
		vals = append(vals, v)
	}
	return name, vals, nil
}

// Points returns the grid in row-major order.
func (g *Sweep) Points() []map[string]float64 {
	var out []map[string]float64
	g.expand(0, map[string]float64{}, &out)
	return out
}

func (g *Sweep) expand(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.paramNames) {
		*out = append(*out, current)
		return
	}
	name := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		next := make(map[string]float64, len(current)+1)
		for k, v := range current {
			next[k] = v
		}
		next[name] = val
		g.expand(depth+1, next, out)
	}
}

// Point is one finished grid job. Score is the final value of the scored
// quantity, NaN when the job did not complete.
type Point struct {
	Params map[string]float64
	Record jobs.Record
	Score  float64
}

// Run executes the grid and returns the points ordered by descending score;
// points without a score come last.
func (g *Sweep) Run(ctx context.Context, e *Experiment, score string) ([]Point, error) {
	sup, err := e.supervisor()
	if err != nil {
		return nil, err
	}

	grid := g.Points()
	points := make([]Point, len(grid))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for i, params := range grid {
		eg.Go(func() error {
			cfg := e.cfg
			cfg.Params = merge(e.cfg.Params, params)
			spec := cfg.spec(uuid.NewString())
			points[i] = Point{Params: params, Score: math.NaN()}

			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err := e.launch(gctx, sup, spec); err != nil {
				e.log.Warn("sweep point rejected", zap.Any("params", params), zap.Error(err))
				points[i].Record, _ = e.store.GetJob(context.WithoutCancel(gctx), spec.ID)
				return nil
			}

			stop := context.AfterFunc(gctx, func() { sup.Cancel(spec.ID) })
			defer stop()
			if err := sup.Wait(context.Background(), spec.ID); err != nil {
				return err
			}
			return g.score(context.WithoutCancel(gctx), e, &points[i], spec.ID, score)
		})
	}
	if err := eg.Wait(); err != nil {
		return points, err
	}

	sort.SliceStable(points, func(a, b int) bool {
		sa, sb := points[a].Score, points[b].Score
		if math.IsNaN(sb) {
			return !math.IsNaN(sa)
		}
		return sa > sb
	})
	return points, nil
}

func (g *Sweep) score(ctx context.Context, e *Experiment, p *Point, id, quantity string) error {
	rec, err := e.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	p.Record = rec
	if rec.Status != jobs.StatusCompleted {
		return nil
	}
	ts, err := e.store.ReadLatest(ctx, id)
	if err != nil {
		return err
	}
	if ts != nil {
		if v, ok := ts.Value(quantity); ok {
			p.Score = v
		}
	}
	return nil
}

func merge(base, over map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}
