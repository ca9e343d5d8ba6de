package viz

import (
	"fmt"
	"sort"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/cellsim/internal/jobs"
)

var seriesColors = []asciigraph.AnsiColor{
	asciigraph.Cyan, asciigraph.Magenta, asciigraph.Yellow,
	asciigraph.Green, asciigraph.Orange, asciigraph.Red, asciigraph.Blue,
}

// DefaultSpecies are plotted when no species are named and the job has
// them.
var DefaultSpecies = []string{"ATP", "ADP", "AMP"}

// Trajectory extracts the series of name. It reports false when no
// timestep carries the quantity.
func Trajectory(steps []jobs.Timestep, name string) ([]float64, bool) {
	out := make([]float64, 0, len(steps))
	found := false
	for _, ts := range steps {
		v, ok := ts.Value(name)
		if ok {
			found = true
		}
		out = append(out, v)
	}
	return out, found
}

// PickSpecies returns the requested names, or the defaults present in
// steps, or the first metabolites in name order.
func PickSpecies(steps []jobs.Timestep, requested []string, n int) []string {
	if len(requested) > 0 {
		return requested
	}
	if len(steps) == 0 {
		return nil
	}
	first := steps[0]

	var out []string
	for _, s := range DefaultSpecies {
		if _, ok := first.Concentrations[s]; ok {
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		return out
	}

	names := make([]string, 0, len(first.Concentrations))
	for k := range first.Concentrations {
		names = append(names, k)
	}
	sort.Strings(names)
	if len(names) > n {
		names = names[:n]
	}
	return names
}

// Plot draws the time courses of species over steps.
func Plot(steps []jobs.Timestep, species []string, width, height int) (string, error) {
	if len(steps) < 2 {
		return "", fmt.Errorf("need at least 2 timesteps to plot, have %d", len(steps))
	}
	if len(species) == 0 {
		return "", fmt.Errorf("no species to plot")
	}

	data := make([][]float64, 0, len(species))
	for _, s := range species {
		series, ok := Trajectory(steps, s)
		if !ok {
			return "", fmt.Errorf("unknown quantity %q", s)
		}
		data = append(data, series)
	}

	caption := fmt.Sprintf("t = %.4g .. %.4g s", steps[0].Time, steps[len(steps)-1].Time)
	opts := []asciigraph.Option{
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Precision(3),
		asciigraph.Caption(caption),
		asciigraph.SeriesColors(colorsFor(len(data))...),
	}
	if len(species) > 1 {
		opts = append(opts, asciigraph.SeriesLegends(species...))
	}
	return asciigraph.PlotMany(data, opts...), nil
}

func colorsFor(n int) []asciigraph.AnsiColor {
	out := make([]asciigraph.AnsiColor, n)
	for i := range out {
		out[i] = seriesColors[i%len(seriesColors)]
	}
	return out
}
