// Package analysis characterizes stored trajectories.
//
// Glycolysis oscillates under some parameter sets. [Dominant] finds the
// strongest periodic component of a uniformly sampled series:
//
//	peak, ok := analysis.Dominant(atp, dt)
//	if ok {
//	    fmt.Printf("period %.1fs\n", peak.Period)
//	}
package analysis
