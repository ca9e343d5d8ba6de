package metabolism

import (
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/cellsim/internal/dynamo"
)

// Operand is a value read either from a species concentration or from a
// kinetic parameter. Exactly one of the fields must be set.
type Operand struct {
	Species string `yaml:"species,omitempty"`
	Param   string `yaml:"param,omitempty"`
}

// Coefficient is a parameter reference or a literal constant, plus Offset.
type Coefficient struct {
	Param  string  `yaml:"param,omitempty"`
	Value  float64 `yaml:"value,omitempty"`
	Offset float64 `yaml:"offset,omitempty"`
}

// Saturation contributes the denominator factor (Km + operand).
type Saturation struct {
	Operand `yaml:",inline"`
	Km      Coefficient `yaml:"km"`
}

// RateLaw evaluates
//
//	v = K * (prod(Forward) - prod(Reverse)/Keq) / prod(Km_i + S_i)
//
// The reverse product is omitted when Reverse is empty.
type RateLaw struct {
	K          Coefficient  `yaml:"k"`
	Forward    []Operand    `yaml:"forward"`
	Reverse    []Operand    `yaml:"reverse,omitempty"`
	Keq        float64      `yaml:"keq,omitempty"`
	Saturation []Saturation `yaml:"saturation,omitempty"`
}

// Reaction is one named term of the network.
type Reaction struct {
	Name   string             `yaml:"name"`
	Rate   RateLaw            `yaml:"rate"`
	Stoich map[string]float64 `yaml:"stoich"`
}

// Network is a complete, replaceable pathway definition.
type Network struct {
	Name      string             `yaml:"name"`
	Species   map[string]float64 `yaml:"species"`
	Params    Params             `yaml:"params"`
	Reactions []Reaction         `yaml:"reactions"`
	// Fluxes aliases reported flux names to reaction names.
	Fluxes map[string]string `yaml:"fluxes,omitempty"`
	// Readouts are rate laws reported as fluxes that do not change the
	// state.
	Readouts map[string]RateLaw `yaml:"readouts,omitempty"`
}

// LoadNetwork reads a YAML network definition.
func LoadNetwork(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseNetwork(data)
}

// ParseNetwork decodes a YAML network definition and validates it against
// its own default parameters.
func ParseNetwork(data []byte) (*Network, error) {
	var net Network
	if err := yaml.Unmarshal(data, &net); err != nil {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrModel, err)
	}
	if err := net.Validate(net.Params); err != nil {
		return nil, err
	}
	return &net, nil
}

// Marshal renders the network as YAML.
func (n *Network) Marshal() ([]byte, error) {
	return yaml.Marshal(n)
}

// SpeciesNames returns the sorted species names.
func (n *Network) SpeciesNames() []string {
	names := make([]string, 0, len(n.Species))
	for name := range n.Species {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every reference in the network against its species table
// and params, and rejects saturation constants that are not strictly positive.
func (n *Network) Validate(params Params) error {
	if len(n.Species) == 0 {
		return fmt.Errorf("%w: network %q has no species", dynamo.ErrModel, n.Name)
	}
	for name, c := range n.Species {
		if c < 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: initial concentration of %s is invalid (%g)", dynamo.ErrModel, name, c)
		}
	}
	if err := params.Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(n.Reactions))
	for _, r := range n.Reactions {
		if r.Name == "" {
			return fmt.Errorf("%w: reaction without a name", dynamo.ErrModel)
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: duplicate reaction %s", dynamo.ErrModel, r.Name)
		}
		seen[r.Name] = true

		if err := n.validateRate(r, params); err != nil {
			return err
		}
		if len(r.Stoich) == 0 {
			return fmt.Errorf("%w: reaction %s changes no species", dynamo.ErrModel, r.Name)
		}
		for sp := range r.Stoich {
			if _, ok := n.Species[sp]; !ok {
				return fmt.Errorf("%w: reaction %s references unknown species %s", dynamo.ErrModel, r.Name, sp)
			}
		}
	}

	for flux, reaction := range n.Fluxes {
		if !seen[reaction] {
			return fmt.Errorf("%w: flux %s references unknown reaction %s", dynamo.ErrModel, flux, reaction)
		}
	}
	for flux, law := range n.Readouts {
		if _, ok := n.Fluxes[flux]; ok {
			return fmt.Errorf("%w: flux %s is both an alias and a readout", dynamo.ErrModel, flux)
		}
		if err := n.validateRate(Reaction{Name: flux, Rate: law}, params); err != nil {
			return err
		}
	}
	return nil
}

func (n *Network) validateRate(r Reaction, params Params) error {
	if _, err := resolveCoefficient(r.Rate.K, params); err != nil {
		return fmt.Errorf("reaction %s: %w", r.Name, err)
	}
	if len(r.Rate.Forward) == 0 {
		return fmt.Errorf("%w: reaction %s has no forward operands", dynamo.ErrModel, r.Name)
	}
	if len(r.Rate.Reverse) > 0 && r.Rate.Keq <= 0 {
		return fmt.Errorf("%w: reaction %s is reversible but keq=%g", dynamo.ErrModel, r.Name, r.Rate.Keq)
	}

	operands := append(append([]Operand{}, r.Rate.Forward...), r.Rate.Reverse...)
	for _, s := range r.Rate.Saturation {
		operands = append(operands, s.Operand)
		km, err := resolveCoefficient(s.Km, params)
		if err != nil {
			return fmt.Errorf("reaction %s: %w", r.Name, err)
		}
		if km <= 0 {
			return fmt.Errorf("%w: reaction %s has non-positive saturation constant %g", dynamo.ErrModel, r.Name, km)
		}
	}
	for _, op := range operands {
		if err := n.validateOperand(op, params); err != nil {
			return fmt.Errorf("reaction %s: %w", r.Name, err)
		}
	}
	return nil
}

func (n *Network) validateOperand(op Operand, params Params) error {
	switch {
	case op.Species != "" && op.Param != "":
		return fmt.Errorf("%w: operand sets both species %s and param %s", dynamo.ErrModel, op.Species, op.Param)
	case op.Species != "":
		if _, ok := n.Species[op.Species]; !ok {
			return fmt.Errorf("%w: unknown species %s", dynamo.ErrModel, op.Species)
		}
	case op.Param != "":
		if _, ok := params[op.Param]; !ok {
			return fmt.Errorf("%w: unknown parameter %s", dynamo.ErrModel, op.Param)
		}
	default:
		return fmt.Errorf("%w: empty operand", dynamo.ErrModel)
	}
	return nil
}

func resolveCoefficient(c Coefficient, params Params) (float64, error) {
	if c.Param == "" {
		return c.Value + c.Offset, nil
	}
	v, ok := params[c.Param]
	if !ok {
		return 0, fmt.Errorf("%w: unknown parameter %s", dynamo.ErrModel, c.Param)
	}
	return v + c.Offset, nil
}
