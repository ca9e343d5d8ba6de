package integrators

import (
	"fmt"
	"sort"

	"github.com/san-kum/cellsim/internal/dynamo"
)

var registry = map[string]func(Options) dynamo.Integrator{
	"rosenbrock23": func(o Options) dynamo.Integrator { return NewRosenbrock23(o) },
	"rk45":         func(o Options) dynamo.Integrator { return NewRK45(o) },
}

// Default is the solver used when none is configured.
const Default = "rosenbrock23"

// New returns the named integrator. An empty name selects Default.
func New(name string, opts Options) (dynamo.Integrator, error) {
	if name == "" {
		name = Default
	}
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown integrator: %s", name)
	}
	return fn(opts), nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
