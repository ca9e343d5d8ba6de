package dynamo

import (
	"math"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// FirstInvalid returns the index of the first NaN/Inf component, or -1.
func (s State) FirstInvalid() int {
	for i, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i
		}
	}
	return -1
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

// System is an autonomous or time-dependent ODE right-hand side.
// Derive must not retain or modify x.
type System interface {
	Derive(x State, t float64) State
	Dim() int
}

// Projector is implemented by systems whose accepted states must be
// projected back onto a feasible set after each reporting interval.
type Projector interface {
	Project(x State) State
}

// Named is implemented by systems that can label state components.
type Named interface {
	Component(i int) string
}

// Stats reports the work done by one Advance call.
type Stats struct {
	Steps       int
	Rejected    int
	Evaluations int
	LastStep    float64
}

type Integrator interface {
	Name() string
	Advance(sys System, x State, t0, dt float64) (State, Stats, error)
}

type Metric interface {
	Name() string
	Observe(x State, t float64)
	Value() float64
	Reset()
}

// Pool is a named set of state components whose sum is conserved.
type Pool struct {
	Name    string
	Indices []int
}

// Conserved is implemented by systems with linear conservation laws.
type Conserved interface {
	Pools() []Pool
}
