// Package ipm implements a primal log-barrier interior point backend for
// convex quadratic programs with linear and convex quadratic constraints.
package ipm

import (
	"fmt"
	"math"

	"github.com/milosgajdos/go-control/solver"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Name is the backend name
const Name = "ipm"

// Settings configure the barrier method
type Settings struct {
	// T0 is the initial barrier weight
	T0 float64
	// Mu is the barrier weight growth factor
	Mu float64
	// Gap is the required duality gap bound
	Gap float64
	// MaxNewton is the maximum number of Newton steps per barrier stage
	MaxNewton int
	// MaxStages is the maximum number of barrier stages
	MaxStages int
	// EqTol is the tolerance of the equality constraint consistency check
	EqTol float64
}

// DefaultSettings returns default settings
func DefaultSettings() *Settings {
	return &Settings{
		T0:        1.0,
		Mu:        10.0,
		Gap:       1e-9,
		MaxNewton: 100,
		MaxStages: 30,
		EqTol:     1e-8,
	}
}

// Backend is the interior point backend
type Backend struct {
	s *Settings
}

// New creates a new interior point backend with default settings
func New() *Backend {
	return NewWithSettings(DefaultSettings())
}

// NewWithSettings creates a new interior point backend with settings s
func NewWithSettings(s *Settings) *Backend {
	if s == nil {
		s = DefaultSettings()
	}
	return &Backend{s: s}
}

// Name returns backend name
func (b *Backend) Name() string { return Name }

// Available always returns nil: the backend has no external dependencies
func (b *Backend) Available() error { return nil }

// Supports returns true for QP and QCQP
func (b *Backend) Supports(c solver.Class) bool {
	return c == solver.QP || c == solver.QCQP
}

// Solve solves the problem p
func (b *Backend) Solve(p *solver.Problem) (*solver.Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	red, status, err := reduce(p, b.s.EqTol)
	if err != nil {
		return nil, err
	}
	if status != solver.Optimal {
		return &solver.Solution{Status: status}, nil
	}

	// equality constraints pin down the solution
	if red.k == 0 {
		z := red.lift(nil)
		if p.Violation(z) > b.s.EqTol {
			return &solver.Solution{Status: solver.Infeasible}, nil
		}
		return &solver.Solution{Status: solver.Optimal, X: z, Objective: p.Objective(z)}, nil
	}

	w := make([]float64, red.k)
	iters := 0

	if len(red.cons) > 0 && maxValue(red.cons, w) >= 0 {
		var ok bool
		var it int
		w, ok, it, status = b.phaseOne(red)
		iters += it
		if status != solver.Optimal {
			return &solver.Solution{Status: status, Iterations: iters}, nil
		}
		if !ok {
			return &solver.Solution{Status: solver.Infeasible, Iterations: iters}, nil
		}
	}

	w, it, status := b.barrier(red.obj, red.cons, w, nil)
	iters += it
	if status != solver.Optimal {
		return &solver.Solution{Status: status, Iterations: iters}, nil
	}

	z := red.lift(w)

	return &solver.Solution{
		Status:     solver.Optimal,
		X:          z,
		Objective:  p.Objective(z),
		Iterations: iters,
	}, nil
}

// phaseOne finds a strictly feasible point by solving
//
//	minimize s subject to c_i(w) <= s, s >= -1
func (b *Backend) phaseOne(red *reduced) ([]float64, bool, int, solver.Status) {
	k := red.k

	obj := quadObj{p: mat.NewSymDense(k+1, nil), q: make([]float64, k+1)}
	obj.q[k] = 1

	cons := make([]constraint, 0, len(red.cons)+1)
	for _, c := range red.cons {
		ext := constraint{a: make([]float64, k+1), d: c.d}
		copy(ext.a, c.a)
		ext.a[k] = -1
		if c.q != nil {
			ext.q = mat.NewSymDense(k+1, nil)
			for i := 0; i < k; i++ {
				for j := i; j < k; j++ {
					ext.q.SetSym(i, j, c.q.At(i, j))
				}
			}
		}
		cons = append(cons, ext)
	}
	lower := constraint{a: make([]float64, k+1), d: -1}
	lower.a[k] = -1
	cons = append(cons, lower)

	y := make([]float64, k+1)
	y[k] = math.Max(maxValue(red.cons, y[:k]), 0) + 1

	stop := func(y []float64) bool { return y[k] < 0 }
	y, iters, status := b.barrier(obj, cons, y, stop)
	if status != solver.Optimal {
		return nil, false, iters, status
	}

	return y[:k], y[k] < 0, iters, solver.Optimal
}

// barrier minimises obj subject to cons from the strictly feasible point y.
// It returns early once stop reports true for an iterate.
func (b *Backend) barrier(obj quadObj, cons []constraint, y []float64, stop func([]float64) bool) ([]float64, int, solver.Status) {
	k := len(y)
	y = append([]float64(nil), y...)
	iters := 0

	if len(cons) == 0 {
		x, ok := unconstrained(obj)
		if !ok {
			return nil, 0, solver.Unbounded
		}
		return x, 1, solver.Optimal
	}

	t := b.s.T0
	m := float64(len(cons))

	grad := make([]float64, k)
	step := make([]float64, k)
	trial := make([]float64, k)
	hess := mat.NewSymDense(k, nil)

	for stage := 0; stage < b.s.MaxStages; stage++ {
		for it := 0; ; it++ {
			if it >= b.s.MaxNewton {
				return y, iters, solver.MaxIterations
			}
			iters++

			if !assemble(obj, cons, y, t, grad, hess) {
				return y, iters, solver.NumericalError
			}

			if !newton(hess, grad, step) {
				return y, iters, solver.NumericalError
			}

			// Newton decrement
			dec := -floats.Dot(grad, step)
			if dec/2 <= 1e-10 {
				break
			}

			f0 := phi(obj, cons, y, t)
			alpha := 1.0
			for {
				floats.AddScaledTo(trial, y, alpha, step)
				if feasible(cons, trial) && phi(obj, cons, trial, t) <= f0-0.25*alpha*dec {
					break
				}
				alpha *= 0.5
				if alpha < 1e-14 {
					break
				}
			}
			if alpha < 1e-14 {
				break
			}
			copy(y, trial)

			if floats.Norm(y, math.Inf(1)) > 1e12 {
				return y, iters, solver.Unbounded
			}

			if stop != nil && stop(y) {
				return y, iters, solver.Optimal
			}
		}

		if m/t < b.s.Gap {
			return y, iters, solver.Optimal
		}
		t *= b.s.Mu
	}

	return y, iters, solver.MaxIterations
}

// phi returns t*f0(y) - sum log(-c_i(y))
func phi(obj quadObj, cons []constraint, y []float64, t float64) float64 {
	v := t * obj.value(y)
	for _, c := range cons {
		v -= math.Log(-c.value(y))
	}
	return v
}

// assemble computes gradient and Hessian of the barrier function
func assemble(obj quadObj, cons []constraint, y []float64, t float64, grad []float64, hess *mat.SymDense) bool {
	k := len(y)
	yv := mat.NewVecDense(k, y)

	pg := mat.NewVecDense(k, nil)
	pg.MulVec(obj.p, yv)
	for i := 0; i < k; i++ {
		grad[i] = t * (pg.AtVec(i) + obj.q[i])
		for j := i; j < k; j++ {
			hess.SetSym(i, j, t*obj.p.At(i, j))
		}
	}

	g := make([]float64, k)
	for _, c := range cons {
		v := c.value(y)
		if v >= 0 || math.IsNaN(v) {
			return false
		}
		c.gradient(y, g)
		inv := -1 / v
		floats.AddScaled(grad, inv, g)
		for i := 0; i < k; i++ {
			for j := i; j < k; j++ {
				h := hess.At(i, j) + inv*inv*g[i]*g[j]
				if c.q != nil {
					h += inv * 2 * c.q.At(i, j)
				}
				hess.SetSym(i, j, h)
			}
		}
	}

	return true
}

// newton solves hess*step = -grad adding a ridge until the Hessian factorises
func newton(hess *mat.SymDense, grad, step []float64) bool {
	k := len(grad)
	g := mat.NewVecDense(k, nil)
	for i := range grad {
		g.SetVec(i, -grad[i])
	}

	scale := 0.0
	for i := 0; i < k; i++ {
		scale = math.Max(scale, math.Abs(hess.At(i, i)))
	}
	scale = math.Max(scale, 1)

	h := mat.NewSymDense(k, nil)
	for ridge := 0.0; ridge < scale; ridge = math.Max(ridge*100, scale*1e-12) {
		h.CopySym(hess)
		for i := 0; i < k; i++ {
			h.SetSym(i, i, h.At(i, i)+ridge)
		}

		var chol mat.Cholesky
		if !chol.Factorize(h) {
			continue
		}

		x := mat.NewVecDense(k, step)
		if err := chol.SolveVecTo(x, g); err != nil {
			continue
		}
		return true
	}

	return false
}

// unconstrained minimises a quadratic objective without constraints
func unconstrained(obj quadObj) ([]float64, bool) {
	k := len(obj.q)
	step := make([]float64, k)
	grad := make([]float64, k)
	copy(grad, obj.q)
	if !newton(obj.p, grad, step) {
		return nil, false
	}

	// P*x + q must vanish, otherwise the objective decreases along a null direction
	r := mat.NewVecDense(k, nil)
	r.MulVec(obj.p, mat.NewVecDense(k, step))
	for i := range obj.q {
		if math.Abs(r.AtVec(i)+obj.q[i]) > 1e-8*math.Max(1, floats.Norm(obj.q, math.Inf(1))) {
			return nil, false
		}
	}

	return step, true
}

func feasible(cons []constraint, y []float64) bool {
	for _, c := range cons {
		if v := c.value(y); v >= 0 || math.IsNaN(v) {
			return false
		}
	}
	return true
}

func maxValue(cons []constraint, y []float64) float64 {
	m := math.Inf(-1)
	for _, c := range cons {
		m = math.Max(m, c.value(y))
	}
	return m
}

// String implements fmt.Stringer
func (b *Backend) String() string {
	return fmt.Sprintf("%s(gap=%g)", Name, b.s.Gap)
}
