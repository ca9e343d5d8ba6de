// Package metabolism implements the biochemical state model: a table-driven
// reaction network of Michaelis-Menten terms over named species, the
// derivative it induces, non-negativity projection, and the derived flux and
// cell metric quantities recorded with every timestep.
//
// A [Network] is plain data and can be loaded from YAML, so alternative
// pathway models can be substituted without touching the integrators:
//
//	net, _ := metabolism.LoadNetwork("pathway.yaml")
//	model, _ := metabolism.New(net, nil)
//	dx := model.Derive(model.InitialState(), 0)
//
// # Concentrations
//
// All species are in mM. State index i corresponds to Species()[i], which is
// the sorted species name order.
package metabolism
