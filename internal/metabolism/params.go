package metabolism

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/cellsim/internal/dynamo"
)

// Params maps kinetic parameter names to values (rate constants in 1/s,
// Michaelis constants and external levels in mM).
type Params map[string]float64

func (p Params) Clone() Params {
	c := make(Params, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Merge returns a copy of p with every entry of override applied.
func (p Params) Merge(override Params) Params {
	c := p.Clone()
	for k, v := range override {
		c[k] = v
	}
	return c
}

// Unknown returns the names in p that defaults lacks, sorted.
func (p Params) Unknown(defaults Params) []string {
	var out []string
	for name := range p {
		if _, ok := defaults[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Validate rejects negative or non-finite values.
func (p Params) Validate() error {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := p[name]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: parameter %s is not finite", dynamo.ErrModel, name)
		}
		if v < 0 {
			return fmt.Errorf("%w: parameter %s is negative (%g)", dynamo.ErrModel, name, v)
		}
	}
	return nil
}
