package integrators

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/cellsim/internal/dynamo"
)

// Rosenbrock23 coefficients (Shampine and Reichelt, ode23s).
var (
	rosD   = 1.0 / (2.0 + math.Sqrt2)
	rosE32 = 6.0 + math.Sqrt2
)

// Rosenbrock23 is a second order L-stable Rosenbrock method with an embedded
// third order error estimate. The Jacobian is formed by forward differences
// and refreshed after every accepted step.
type Rosenbrock23 struct {
	opts Options
}

func NewRosenbrock23(opts Options) *Rosenbrock23 {
	return &Rosenbrock23{opts: opts.withDefaults()}
}

func (r *Rosenbrock23) Name() string { return "rosenbrock23" }

func (r *Rosenbrock23) Options() Options { return r.opts }

func (r *Rosenbrock23) Advance(sys dynamo.System, x dynamo.State, t0, dt float64) (dynamo.State, dynamo.Stats, error) {
	return advance(newRosStepper(sys), sys, x, t0, dt, r.opts, 3)
}

type rosStepper struct {
	sys dynamo.System
	n   int

	fresh bool
	f0    dynamo.State
	dfdt  dynamo.State
	jac   *mat.Dense
	w     *mat.Dense
	lu    mat.LU
}

func newRosStepper(sys dynamo.System) *rosStepper {
	n := sys.Dim()
	return &rosStepper{
		sys: sys,
		n:   n,
		jac: mat.NewDense(n, n, nil),
		w:   mat.NewDense(n, n, nil),
	}
}

func (s *rosStepper) accept() { s.fresh = false }

// linearize evaluates f, df/dy and df/dt at (t, y).
func (s *rosStepper) linearize(t float64, y dynamo.State, st *dynamo.Stats) {
	s.f0 = s.sys.Derive(y, t)

	f := func(dst, x []float64) {
		copy(dst, s.sys.Derive(dynamo.State(x), t))
	}
	fd.Jacobian(s.jac, f, y, &fd.JacobianSettings{
		Formula:     fd.Forward,
		OriginValue: s.f0,
	})

	delta := math.Sqrt(2.220446049250313e-16) * math.Max(1, math.Abs(t))
	ft := s.sys.Derive(y, t+delta)
	s.dfdt = make(dynamo.State, s.n)
	for i := range ft {
		s.dfdt[i] = (ft[i] - s.f0[i]) / delta
	}

	st.Evaluations += s.n + 2
	s.fresh = true
}

func (s *rosStepper) factorize(h float64) error {
	hd := h * rosD
	for i := 0; i < s.n; i++ {
		for j := 0; j < s.n; j++ {
			v := -hd * s.jac.At(i, j)
			if i == j {
				v += 1
			}
			s.w.Set(i, j, v)
		}
	}
	s.lu.Factorize(s.w)
	if c := s.lu.Cond(); math.IsInf(c, 1) || math.IsNaN(c) {
		return dynamo.ErrSingularMatrix
	}
	return nil
}

func (s *rosStepper) solve(dst, rhs []float64) error {
	b := mat.NewVecDense(s.n, rhs)
	x := mat.NewVecDense(s.n, dst)
	if err := s.lu.SolveVecTo(x, false, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return err
		}
	}
	return nil
}

func (s *rosStepper) attempt(t float64, y dynamo.State, h float64, st *dynamo.Stats) (dynamo.State, dynamo.State, error) {
	if !s.fresh {
		s.linearize(t, y, st)
	}
	if err := s.factorize(h); err != nil {
		return nil, nil, err
	}

	n := s.n
	hd := h * rosD
	rhs := make([]float64, n)

	k1 := make([]float64, n)
	for i := 0; i < n; i++ {
		rhs[i] = s.f0[i] + hd*s.dfdt[i]
	}
	if err := s.solve(k1, rhs); err != nil {
		return nil, nil, err
	}

	y1 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		y1[i] = y[i] + 0.5*h*k1[i]
	}
	f1 := s.sys.Derive(y1, t+0.5*h)

	k2 := make([]float64, n)
	for i := 0; i < n; i++ {
		rhs[i] = f1[i] - k1[i]
	}
	if err := s.solve(k2, rhs); err != nil {
		return nil, nil, err
	}
	for i := 0; i < n; i++ {
		k2[i] += k1[i]
	}

	ynew := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		ynew[i] = y[i] + h*k2[i]
	}
	f2 := s.sys.Derive(ynew, t+h)
	st.Evaluations += 2

	k3 := make([]float64, n)
	for i := 0; i < n; i++ {
		rhs[i] = f2[i] - rosE32*(k2[i]-f1[i]) - 2*(k1[i]-s.f0[i]) + hd*s.dfdt[i]
	}
	if err := s.solve(k3, rhs); err != nil {
		return nil, nil, err
	}

	errEst := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		errEst[i] = h / 6 * (k1[i] - 2*k2[i] + k3[i])
	}
	return ynew, errEst, nil
}
