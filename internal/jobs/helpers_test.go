package jobs_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/san-kum/cellsim/internal/dynamo"
	"github.com/san-kum/cellsim/internal/integrators"
	"github.com/san-kum/cellsim/internal/jobs"
	"github.com/san-kum/cellsim/internal/metabolism"
	"github.com/san-kum/cellsim/internal/storage"
)

// gate blocks every Advance until a token is sent.
type gate struct {
	inner   dynamo.Integrator
	tokens  chan struct{}
	once    sync.Once
	entered atomic.Int32
}

func newGate() *gate {
	return &gate{
		inner:  integrators.NewRosenbrock23(integrators.DefaultOptions()),
		tokens: make(chan struct{}),
	}
}

func (g *gate) Name() string { return "gate" }

func (g *gate) Advance(sys dynamo.System, x dynamo.State, t0, dt float64) (dynamo.State, dynamo.Stats, error) {
	g.entered.Add(1)
	<-g.tokens
	return g.inner.Advance(sys, x, t0, dt)
}

func (g *gate) step() { g.tokens <- struct{}{} }

func (g *gate) open() { g.once.Do(func() { close(g.tokens) }) }

// calls is the number of Advance calls begun so far.
func (g *gate) calls() int32 { return g.entered.Load() }

// cliffModel has no derivative past t=2.5.
type cliffModel struct {
	*metabolism.Model
}

func (c cliffModel) Derive(x dynamo.State, t float64) dynamo.State {
	if t > 2.5 {
		dx := c.Model.Derive(x, t)
		dx[0] = math.NaN()
		return dx
	}
	return c.Model.Derive(x, t)
}

type panicModel struct {
	*metabolism.Model
}

func (p panicModel) CellMetrics(x dynamo.State, t float64) map[string]float64 {
	if t >= 1 {
		panic("metrics exploded")
	}
	return p.Model.CellMetrics(x, t)
}

// flooded starts A far above the runaway bound.
func flooded() *metabolism.Model {
	net := metabolism.Isomerization()
	net.Species["A"] = 2 * jobs.RunawayThreshold
	m, err := metabolism.New(net, nil)
	if err != nil {
		panic(err)
	}
	return m
}

func isomerization() *metabolism.Model {
	m, err := metabolism.New(metabolism.Isomerization(), nil)
	if err != nil {
		panic(err)
	}
	return m
}

// flakyStore rejects timestep writes at or after failAt.
type flakyStore struct {
	*storage.MemStore
	failAt float64
}

var errDiskFull = errors.New("disk full")

func (f *flakyStore) AppendTimestep(ctx context.Context, ts jobs.Timestep) error {
	if ts.Time >= f.failAt {
		return errDiskFull
	}
	return f.MemStore.AppendTimestep(ctx, ts)
}

type recordingObserver struct {
	mu        sync.Mutex
	times     []float64
	statuses  []jobs.Status
	failEvery bool
}

func (r *recordingObserver) OnTimestep(ctx context.Context, ts jobs.Timestep) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.times = append(r.times, ts.Time)
	if r.failEvery {
		return errors.New("observer down")
	}
	return nil
}

func (r *recordingObserver) OnStatus(ctx context.Context, u jobs.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, u.Status)
	if r.failEvery {
		return errors.New("observer down")
	}
	return nil
}

func (r *recordingObserver) Times() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.times...)
}

func (r *recordingObserver) Statuses() []jobs.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]jobs.Status(nil), r.statuses...)
}

func times(st storage.Store, id string) []float64 {
	all, err := st.ReadAfter(context.Background(), id, nil, 0)
	if err != nil {
		return nil
	}
	out := make([]float64, len(all))
	for i, ts := range all {
		out[i] = ts.Time
	}
	return out
}

func status(st storage.Store, id string) jobs.Status {
	rec, err := st.GetJob(context.Background(), id)
	if err != nil {
		return ""
	}
	return rec.Status
}
