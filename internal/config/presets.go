package config

import "sort"

// Presets are named job grids.
var Presets = map[string]JobConfig{
	"quick": {TotalTime: 60, Dt: 1},
	"hour":  {TotalTime: 3600, Dt: 1},
	"fine":  {TotalTime: 600, Dt: 0.1},
}

func GetPreset(name string) (JobConfig, bool) {
	p, ok := Presets[name]
	return p, ok
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
