package experiment

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/san-kum/cellsim/internal/dynamo"
	"github.com/san-kum/cellsim/internal/integrators"
	"github.com/san-kum/cellsim/internal/jobs"
	"github.com/san-kum/cellsim/internal/metabolism"
)

// Registry resolves network and solver names for jobs. Names ending in
// .yaml or .yml are loaded from disk on every lookup.
type Registry struct {
	networks map[string]func() (*metabolism.Network, error)
}

func NewRegistry() *Registry {
	r := &Registry{networks: make(map[string]func() (*metabolism.Network, error))}
	for _, name := range metabolism.Builtins() {
		r.networks[name] = func() (*metabolism.Network, error) {
			net, _ := metabolism.Builtin(name)
			return net, nil
		}
	}
	return r
}

// RegisterFile makes the network in path available under its declared
// name, or the file's base name when it has none.
func (r *Registry) RegisterFile(path string) (string, error) {
	net, err := metabolism.LoadNetwork(path)
	if err != nil {
		return "", err
	}
	name := net.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	r.networks[name] = func() (*metabolism.Network, error) { return metabolism.LoadNetwork(path) }
	return name, nil
}

// GetNetwork resolves a registered name or loads a YAML file path.
func (r *Registry) GetNetwork(name string) (*metabolism.Network, error) {
	if isFile(name) {
		return metabolism.LoadNetwork(name)
	}
	return r.lookup(name)
}

// Has reports whether name is registered. The empty name selects the
// default network.
func (r *Registry) Has(name string) bool {
	if name == "" {
		name = metabolism.DefaultNetwork
	}
	_, ok := r.networks[name]
	return ok
}

func (r *Registry) lookup(name string) (*metabolism.Network, error) {
	if name == "" {
		name = metabolism.DefaultNetwork
	}
	fn, ok := r.networks[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown network %q", dynamo.ErrModel, name)
	}
	return fn()
}

func (r *Registry) ListNetworks() []string {
	names := make([]string, 0, len(r.networks))
	for name := range r.networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Model builds the state model for spec.
func (r *Registry) Model(spec jobs.Spec) (jobs.Model, error) {
	net, err := r.GetNetwork(spec.Network)
	if err != nil {
		return nil, err
	}
	return compile(net, spec)
}

func compile(net *metabolism.Network, spec jobs.Spec) (jobs.Model, error) {
	m, err := metabolism.New(net, spec.Params)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Models adapts the registry to a job supervisor.
func (r *Registry) Models() jobs.ModelFactory { return r.Model }

// Registered is like Models but never reads a network from a path named in
// the spec; only builtins and files registered beforehand resolve. It is
// the factory for jobs submitted by remote clients.
func (r *Registry) Registered() jobs.ModelFactory {
	return func(spec jobs.Spec) (jobs.Model, error) {
		net, err := r.lookup(spec.Network)
		if err != nil {
			return nil, err
		}
		return compile(net, spec)
	}
}

func (r *Registry) GetIntegrator(name string, opts integrators.Options) (dynamo.Integrator, error) {
	return integrators.New(name, opts)
}

func (r *Registry) ListIntegrators() []string { return integrators.Names() }

// IsNetworkFile reports whether name is a YAML network path rather than a
// registered name.
func IsNetworkFile(name string) bool { return isFile(name) }

func isFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
