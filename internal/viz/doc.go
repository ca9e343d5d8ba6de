// Package viz renders job trajectories in the terminal.
//
// [Plot] draws species time courses with asciigraph. [Monitor] is a Bubble
// Tea program that follows a job in a store:
//
//	Tab   - Cycle the plotted species
//	C     - Cancel the job (when the monitor owns it)
//	T     - Cycle color themes
//	Q     - Quit
package viz
