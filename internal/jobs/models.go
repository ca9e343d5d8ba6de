package jobs

import (
	"fmt"

	"github.com/san-kum/cellsim/internal/dynamo"
	"github.com/san-kum/cellsim/internal/metabolism"
)

// BuiltinModels resolves spec.Network against the compiled-in networks.
func BuiltinModels(spec Spec) (Model, error) {
	name := spec.Network
	if name == "" {
		name = metabolism.DefaultNetwork
	}
	net, ok := metabolism.Builtin(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown network %q", dynamo.ErrModel, name)
	}
	m, err := metabolism.New(net, spec.Params)
	if err != nil {
		return nil, err
	}
	return m, nil
}
