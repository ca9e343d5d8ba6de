package metrics

import (
	"math"

	"github.com/san-kum/cellsim/internal/dynamo"
)

// ConservationDrift tracks the largest relative change of each conserved
// pool sum from its first observed value. Systems that report no pools
// always read zero.
type ConservationDrift struct {
	name    string
	pools   []dynamo.Pool
	initial []float64
	drift   []float64
	samples int
}

func NewConservationDrift(sys dynamo.System) *ConservationDrift {
	c := &ConservationDrift{name: "conservation_drift"}
	if cs, ok := sys.(dynamo.Conserved); ok {
		c.pools = cs.Pools()
	}
	c.initial = make([]float64, len(c.pools))
	c.drift = make([]float64, len(c.pools))
	return c
}

func (c *ConservationDrift) Name() string { return c.name }

func (c *ConservationDrift) Observe(x dynamo.State, t float64) {
	for i, p := range c.pools {
		total := 0.0
		for _, j := range p.Indices {
			if j < len(x) {
				total += x[j]
			}
		}
		if c.samples == 0 {
			c.initial[i] = total
			continue
		}
		if c.initial[i] != 0 {
			d := math.Abs(total-c.initial[i]) / math.Abs(c.initial[i])
			c.drift[i] = math.Max(c.drift[i], d)
		}
	}
	c.samples++
}

// Value is the worst drift over all pools.
func (c *ConservationDrift) Value() float64 {
	worst := 0.0
	for _, d := range c.drift {
		worst = math.Max(worst, d)
	}
	return worst
}

// Pools reports the drift of each pool by name.
func (c *ConservationDrift) Pools() map[string]float64 {
	out := make(map[string]float64, len(c.pools))
	for i, p := range c.pools {
		out[p.Name] = c.drift[i]
	}
	return out
}

func (c *ConservationDrift) Reset() {
	for i := range c.pools {
		c.initial[i] = 0
		c.drift[i] = 0
	}
	c.samples = 0
}

// Runaway reports the fraction of samples in which every component stayed
// at or below threshold.
type Runaway struct {
	name       string
	threshold  float64
	violations int
	samples    int
	worst      string
	component  func(int) string
}

func NewRunaway(sys dynamo.System, threshold float64) *Runaway {
	r := &Runaway{name: "bounded", threshold: threshold}
	if n, ok := sys.(dynamo.Named); ok {
		r.component = n.Component
	}
	return r
}

func (r *Runaway) Name() string { return r.name }

func (r *Runaway) Observe(x dynamo.State, t float64) {
	r.samples++
	for i, val := range x {
		if math.Abs(val) > r.threshold {
			r.violations++
			if r.component != nil {
				r.worst = r.component(i)
			}
			break
		}
	}
}

func (r *Runaway) Value() float64 {
	if r.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(r.violations)/float64(r.samples)
}

// Last returns the most recent component seen above threshold.
func (r *Runaway) Last() string { return r.worst }

func (r *Runaway) Reset() {
	r.violations = 0
	r.samples = 0
	r.worst = ""
}

// Summary evaluates a set of metrics by name.
func Summary(ms ...dynamo.Metric) map[string]float64 {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		out[m.Name()] = m.Value()
	}
	return out
}
