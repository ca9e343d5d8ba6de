package metabolism

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/san-kum/cellsim/internal/dynamo"
)

const (
	// CellRadius is the initial cell radius in metres.
	CellRadius = 200e-9

	maxGrowth  = 2.0
	ratioFloor = 0.01
)

// CellVolume is the initial cell volume in litres.
var CellVolume = 4.0 / 3.0 * math.Pi * CellRadius * CellRadius * CellRadius * 1000

type operand struct {
	index int // species index, or -1 for a constant
	value float64
}

func (o operand) eval(x dynamo.State) float64 {
	if o.index < 0 {
		return o.value
	}
	return x[o.index]
}

type saturation struct {
	operand
	km float64
}

type coefficient struct {
	index int
	value float64
}

type term struct {
	name    string
	k       float64
	forward []operand
	reverse []operand
	invKeq  float64
	sat     []saturation
	stoich  []coefficient
}

func (r *term) rate(x dynamo.State) float64 {
	num := r.k
	fwd := 1.0
	for _, op := range r.forward {
		fwd *= op.eval(x)
	}
	if len(r.reverse) > 0 {
		rev := 1.0
		for _, op := range r.reverse {
			rev *= op.eval(x)
		}
		fwd -= rev * r.invKeq
	}
	num *= fwd
	den := 1.0
	for _, s := range r.sat {
		den *= s.km + s.eval(x)
	}
	return num / den
}

// Model is a compiled Network bound to a parameter set. It is immutable
// after construction and safe for concurrent use.
type Model struct {
	name    string
	species []string
	index   map[string]int
	initial dynamo.State
	params  Params
	terms   []term
	fluxes  map[string]int
	reads   map[string]*term
	pools   []dynamo.Pool
}

// New compiles net with override applied on top of the network's default
// parameters. Any malformed reference or parameter, or an override the
// network does not define, yields ErrModel.
func New(net *Network, override Params) (*Model, error) {
	if net == nil {
		return nil, fmt.Errorf("%w: nil network", dynamo.ErrModel)
	}
	if unknown := override.Unknown(net.Params); len(unknown) > 0 {
		return nil, fmt.Errorf("%w: unknown parameter %s", dynamo.ErrModel, strings.Join(unknown, ", "))
	}
	params := net.Params.Merge(override)
	if err := net.Validate(params); err != nil {
		return nil, err
	}

	m := &Model{
		name:    net.Name,
		species: net.SpeciesNames(),
		params:  params,
		fluxes:  make(map[string]int, len(net.Fluxes)),
	}
	m.index = make(map[string]int, len(m.species))
	m.initial = make(dynamo.State, len(m.species))
	for i, name := range m.species {
		m.index[name] = i
		m.initial[i] = net.Species[name]
	}

	byName := make(map[string]int, len(net.Reactions))
	for i, r := range net.Reactions {
		m.terms = append(m.terms, m.compile(r))
		byName[r.Name] = i
	}
	for flux, reaction := range net.Fluxes {
		m.fluxes[flux] = byName[reaction]
	}
	m.reads = make(map[string]*term, len(net.Readouts))
	for flux, law := range net.Readouts {
		t := m.compile(Reaction{Name: flux, Rate: law})
		m.reads[flux] = &t
	}

	m.pools = m.findPools(
		dynamo.Pool{Name: "adenylate", Indices: m.indices("ATP", "ADP", "AMP")},
		dynamo.Pool{Name: "nad", Indices: m.indices("NAD", "NADH")},
	)
	return m, nil
}

func (m *Model) compile(r Reaction) term {
	t := term{name: r.Name}
	t.k, _ = resolveCoefficient(r.Rate.K, m.params)
	for _, op := range r.Rate.Forward {
		t.forward = append(t.forward, m.operand(op))
	}
	for _, op := range r.Rate.Reverse {
		t.reverse = append(t.reverse, m.operand(op))
	}
	if len(t.reverse) > 0 {
		t.invKeq = 1 / r.Rate.Keq
	}
	for _, s := range r.Rate.Saturation {
		km, _ := resolveCoefficient(s.Km, m.params)
		t.sat = append(t.sat, saturation{operand: m.operand(s.Operand), km: km})
	}

	names := make([]string, 0, len(r.Stoich))
	for name := range r.Stoich {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t.stoich = append(t.stoich, coefficient{index: m.index[name], value: r.Stoich[name]})
	}
	return t
}

func (m *Model) operand(op Operand) operand {
	if op.Species != "" {
		return operand{index: m.index[op.Species]}
	}
	return operand{index: -1, value: m.params[op.Param]}
}

func (m *Model) indices(names ...string) []int {
	out := make([]int, 0, len(names))
	for _, name := range names {
		if i, ok := m.index[name]; ok {
			out = append(out, i)
		}
	}
	return out
}

// findPools keeps only candidate pools that every reaction leaves unchanged.
func (m *Model) findPools(candidates ...dynamo.Pool) []dynamo.Pool {
	var pools []dynamo.Pool
	for _, p := range candidates {
		if len(p.Indices) < 2 {
			continue
		}
		member := make(map[int]bool, len(p.Indices))
		for _, i := range p.Indices {
			member[i] = true
		}
		conserved := true
		for _, t := range m.terms {
			net := 0.0
			for _, c := range t.stoich {
				if member[c.index] {
					net += c.value
				}
			}
			if math.Abs(net) > 1e-12 {
				conserved = false
				break
			}
		}
		if conserved {
			pools = append(pools, p)
		}
	}
	return pools
}

func (m *Model) Name() string { return m.name }

func (m *Model) Dim() int { return len(m.species) }

// Species returns the species names in state order.
func (m *Model) Species() []string {
	return append([]string(nil), m.species...)
}

func (m *Model) Component(i int) string {
	if i < 0 || i >= len(m.species) {
		return fmt.Sprintf("x%d", i)
	}
	return m.species[i]
}

// Index returns the state index of a species.
func (m *Model) Index(name string) (int, bool) {
	i, ok := m.index[name]
	return i, ok
}

// Params returns a copy of the bound parameters.
func (m *Model) Params() Params { return m.params.Clone() }

func (m *Model) Pools() []dynamo.Pool { return m.pools }

// InitialState returns a fresh copy of the default concentrations.
func (m *Model) InitialState() dynamo.State { return m.initial.Clone() }

// Derive evaluates dx/dt. Negative components are used as given so the
// solver sees the unprojected dynamics.
func (m *Model) Derive(x dynamo.State, t float64) dynamo.State {
	dx := make(dynamo.State, len(m.species))
	for i := range m.terms {
		v := m.terms[i].rate(x)
		for _, c := range m.terms[i].stoich {
			dx[c.index] += c.value * v
		}
	}
	return dx
}

// Project clamps x onto the non-negative orthant.
func (m *Model) Project(x dynamo.State) dynamo.State { return Clamp(x) }

// Clamp returns a copy of x with every negative component replaced by zero.
func Clamp(x dynamo.State) dynamo.State {
	out := make(dynamo.State, len(x))
	for i, v := range x {
		if v > 0 {
			out[i] = v
		}
	}
	return out
}

// Concentrations maps species names to the values in x.
func (m *Model) Concentrations(x dynamo.State) map[string]float64 {
	out := make(map[string]float64, len(m.species))
	for i, name := range m.species {
		out[name] = x[i]
	}
	return out
}

// Rates evaluates every reaction term at x, in network order.
func (m *Model) Rates(x dynamo.State) []float64 {
	v := make([]float64, len(m.terms))
	for i := range m.terms {
		v[i] = m.terms[i].rate(x)
	}
	return v
}

// Fluxes reports the named pathway fluxes and readouts, and one
// v_<reaction> entry per reaction term.
func (m *Model) Fluxes(x dynamo.State) map[string]float64 {
	rates := m.Rates(x)
	out := make(map[string]float64, len(rates)+len(m.fluxes)+len(m.reads))
	for i := range m.terms {
		out["v_"+m.terms[i].name] = rates[i]
	}
	for name, i := range m.fluxes {
		out[name] = rates[i]
	}
	for name, t := range m.reads {
		out[name] = t.rate(x)
	}
	return out
}

// CellMetrics derives geometry from elapsed time t (seconds) and energy
// ratios from x. Missing species read as zero.
func (m *Model) CellMetrics(x dynamo.State, t float64) map[string]float64 {
	growth := math.Min(1+m.params["growth_rate"]*t/60, maxGrowth)
	volume := CellVolume * growth
	radius := math.Cbrt(3 * volume / (4 * math.Pi * 1000))

	atp, adp, amp := m.get(x, "ATP"), m.get(x, "ADP"), m.get(x, "AMP")
	nad, nadh := m.get(x, "NAD"), m.get(x, "NADH")

	return map[string]float64{
		"volume_L":        volume,
		"radius_m":        radius,
		"surface_area_m2": 4 * math.Pi * radius * radius,
		"ATP_ADP_ratio":   atp / math.Max(adp, ratioFloor),
		"NAD_NADH_ratio":  nad / math.Max(nadh, ratioFloor),
		"energy_charge":   (atp + 0.5*adp) / math.Max(atp+adp+amp, ratioFloor),
	}
}

func (m *Model) get(x dynamo.State, name string) float64 {
	if i, ok := m.index[name]; ok && i < len(x) {
		return x[i]
	}
	return 0
}
