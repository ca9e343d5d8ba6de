package integrators

import (
	"fmt"
	"math"

	"github.com/san-kum/cellsim/internal/dynamo"
)

const (
	safety         = 0.9
	minScale       = 0.2
	maxScale       = 5.0
	minStepFactor  = 1e-12
	maxStepDivisor = 2
)

// Options configures error control for the adaptive solvers.
type Options struct {
	RTol     float64
	ATol     float64
	MaxSteps int
}

func DefaultOptions() Options {
	return Options{RTol: 1e-6, ATol: 1e-8, MaxSteps: 100000}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RTol <= 0 {
		o.RTol = d.RTol
	}
	if o.ATol <= 0 {
		o.ATol = d.ATol
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = d.MaxSteps
	}
	return o
}

// stepper attempts a single internal step of size h from (t, y) and returns
// the candidate state with its local error estimate.
type stepper interface {
	attempt(t float64, y dynamo.State, h float64, st *dynamo.Stats) (ynew, errEst dynamo.State, err error)
	accept()
}

// advance drives a stepper across [t0, t0+dt] with internal steps bounded
// by dt/2. order is the exponent of the local error estimate.
func advance(s stepper, sys dynamo.System, x dynamo.State, t0, dt float64, o Options, order float64) (dynamo.State, dynamo.Stats, error) {
	var st dynamo.Stats

	if len(x) != sys.Dim() {
		return nil, st, dynamo.IntegrationError(0, t0, "", dynamo.ErrDimensionMismatch)
	}
	if i := x.FirstInvalid(); i >= 0 {
		return nil, st, dynamo.IntegrationError(0, t0, component(sys, i), dynamo.ErrInvalidState)
	}
	if !(dt > 0) || math.IsInf(dt, 0) {
		return nil, st, dynamo.IntegrationError(0, t0, "", fmt.Errorf("invalid interval %g", dt))
	}

	hmax := dt / maxStepDivisor
	hmin := minStepFactor * dt
	tEnd := t0 + dt

	y := x.Clone()
	t := t0

	f0 := sys.Derive(y, t)
	st.Evaluations++
	if i := f0.FirstInvalid(); i >= 0 {
		return nil, st, dynamo.IntegrationError(0, t0, component(sys, i), dynamo.ErrInvalidState)
	}
	h := initialStep(sys, t, y, f0, o, order, hmax, &st)

	for t < tEnd {
		if st.Steps+st.Rejected >= o.MaxSteps {
			return nil, st, dynamo.IntegrationError(st.Steps, t, "", dynamo.ErrTooManySteps)
		}

		last := false
		if remaining := tEnd - t; h >= remaining-hmin {
			h = remaining
			last = true
		}

		ynew, errEst, err := s.attempt(t, y, h, &st)
		if err != nil {
			return nil, st, dynamo.IntegrationError(st.Steps, t, "", err)
		}

		norm, worst := errorNorm(errEst, y, ynew, o)
		invalid := ynew.FirstInvalid()
		if invalid >= 0 {
			norm = math.Inf(1)
			worst = invalid
		}

		if norm <= 1 {
			if last {
				t = tEnd
			} else {
				t += h
			}
			y = ynew
			st.Steps++
			st.LastStep = h
			s.accept()
		} else {
			st.Rejected++
		}

		h = math.Min(h*stepScale(norm, order), hmax)
		if t < tEnd && h < hmin {
			cause := dynamo.ErrStepTooSmall
			if invalid >= 0 {
				cause = fmt.Errorf("%w: %w", dynamo.ErrStepTooSmall, dynamo.ErrInvalidState)
			}
			return nil, st, dynamo.IntegrationError(st.Steps, t, component(sys, worst), cause)
		}
	}

	if p, ok := sys.(dynamo.Projector); ok {
		y = p.Project(y)
	}
	return y, st, nil
}

// errorNorm is the RMS of the scaled local error. It also reports the
// component contributing most.
func errorNorm(errEst, y, ynew dynamo.State, o Options) (float64, int) {
	sum := 0.0
	worst, worstVal := 0, -1.0
	for i := range errEst {
		sc := o.ATol + o.RTol*math.Max(math.Abs(y[i]), math.Abs(ynew[i]))
		e := errEst[i] / sc
		e *= e
		sum += e
		if e > worstVal {
			worst, worstVal = i, e
		}
	}
	if len(errEst) == 0 {
		return 0, -1
	}
	return math.Sqrt(sum / float64(len(errEst))), worst
}

func stepScale(norm, order float64) float64 {
	switch {
	case math.IsNaN(norm) || math.IsInf(norm, 1):
		return minScale
	case norm == 0:
		return maxScale
	}
	scale := safety * math.Pow(norm, -1/order)
	if norm > 1 {
		scale = math.Min(scale, 1)
	}
	return math.Max(minScale, math.Min(maxScale, scale))
}

// initialStep estimates a starting step from the first and second
// derivative magnitudes.
func initialStep(sys dynamo.System, t float64, y, f0 dynamo.State, o Options, order, hmax float64, st *dynamo.Stats) float64 {
	n := len(y)
	dnf, dny := 0.0, 0.0
	for i := 0; i < n; i++ {
		sc := o.ATol + o.RTol*math.Abs(y[i])
		dnf += (f0[i] / sc) * (f0[i] / sc)
		dny += (y[i] / sc) * (y[i] / sc)
	}

	var h float64
	if math.Min(dnf, dny) < 1e-10 {
		h = 1e-6
	} else {
		h = 1e-2 * math.Sqrt(dny/dnf)
	}
	h = math.Min(h, hmax)

	y2 := make(dynamo.State, n)
	for i := range y {
		y2[i] = y[i] + h*f0[i]
	}
	f2 := sys.Derive(y2, t+h)
	st.Evaluations++

	der2 := 0.0
	for i := 0; i < n; i++ {
		sc := o.ATol + o.RTol*math.Abs(y[i])
		d := (f2[i] - f0[i]) / sc
		der2 += d * d
	}
	der2 = math.Sqrt(der2) / h
	der12 := math.Max(der2, math.Sqrt(dnf))

	var h1 float64
	if der12 <= 1e-15 || math.IsNaN(der12) {
		h1 = math.Max(1e-6, h*1e-3)
	} else {
		h1 = math.Pow(1e-2/der12, 1/order)
	}
	return math.Min(100*h, math.Min(h1, hmax))
}

func component(sys dynamo.System, i int) string {
	if i < 0 {
		return ""
	}
	if n, ok := sys.(dynamo.Named); ok {
		return n.Component(i)
	}
	return fmt.Sprintf("x%d", i)
}
