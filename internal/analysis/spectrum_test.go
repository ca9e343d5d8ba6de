package analysis

import (
	"math"
	"testing"
)

func sine(n int, dt, period float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 2 + math.Sin(2*math.Pi*float64(i)*dt/period)
	}
	return out
}

func TestDominant(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		dt     float64
		ok     bool
		period float64
	}{
		{"sine 20s", sine(400, 1, 20), 1, true, 20},
		{"sine 8s fine grid", sine(800, 0.1, 8), 0.1, true, 8},
		{"flat", sine(100, 1, math.Inf(1)), 1, false, 0},
		{"too short", []float64{1, 2, 3}, 1, false, 0},
		{"bad dt", sine(100, 1, 10), 0, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			peak, ok := Dominant(tt.values, tt.dt)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v (peak %+v)", ok, tt.ok, peak)
			}
			if !ok {
				return
			}
			if math.Abs(peak.Period-tt.period)/tt.period > 0.05 {
				t.Errorf("period = %g, want %g", peak.Period, tt.period)
			}
			if peak.Share < 0.9 {
				t.Errorf("share = %g, want a clean peak", peak.Share)
			}
		})
	}
}

func TestDominantRamp(t *testing.T) {
	ramp := make([]float64, 200)
	for i := range ramp {
		ramp[i] = float64(i)
	}
	peak, ok := Dominant(ramp, 1)
	// A ramp's power leaks into the lowest bins; it has no interior peak.
	if ok && peak.Period < 100 {
		t.Errorf("ramp reported period %g", peak.Period)
	}
}

func TestPowerSpectrum(t *testing.T) {
	if ps := PowerSpectrum([]float64{1}); ps != nil {
		t.Errorf("single sample: got %v", ps)
	}
	ps := PowerSpectrum(sine(64, 1, 8))
	if len(ps) != 33 {
		t.Fatalf("len = %d, want 33", len(ps))
	}
	if ps[0] > 1e-9 {
		t.Errorf("dc power = %g, want 0 after centering", ps[0])
	}
	if got := ps[8]; got < ps[7] || got < ps[9] {
		t.Errorf("no peak at bin 8: %v", ps[6:11])
	}
}
