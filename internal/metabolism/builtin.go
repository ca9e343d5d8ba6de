package metabolism

import "sort"

var builtins = map[string]func() *Network{
	"glycolysis":    Glycolysis,
	"isomerization": Isomerization,
}

// DefaultNetwork names the network used when none is requested.
const DefaultNetwork = "glycolysis"

// Builtin returns a fresh copy of a compiled-in network.
func Builtin(name string) (*Network, bool) {
	fn, ok := builtins[name]
	if !ok {
		return nil, false
	}
	return fn(), true
}

func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
