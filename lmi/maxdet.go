// Package lmi solves small log-determinant maximisation problems subject to
// linear matrix inequalities with a log-barrier method.
package lmi

import (
	"errors"
	"fmt"
	"math"

	"github.com/milosgajdos/go-control"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

var (
	// ErrInfeasibleStart is returned when the initial point is not strictly feasible.
	ErrInfeasibleStart = errors.New("lmi: initial point is not strictly feasible")
)

// outside is the barrier value reported outside of the barrier domain.
// Line searches treat it as a failed sufficient decrease condition.
const outside = 1e300

// Problem is the problem
//
//	maximize   log det Objective(v)
//	subject to Constraints[i](v) > 0
type Problem struct {
	// Objective is the matrix whose log determinant is maximised
	Objective *Affine
	// Constraints are strict linear matrix inequalities
	Constraints []*Affine
}

// Settings configure the barrier method
type Settings struct {
	// T0 is the initial barrier weight of the objective
	T0 float64
	// Mu is the barrier weight growth factor
	Mu float64
	// Gap is the required duality gap bound
	Gap float64
	// MaxStages is the maximum number of barrier stages
	MaxStages int
	// MajorIterations limits Newton iterations per stage
	MajorIterations int
}

// DefaultSettings returns default barrier method settings
func DefaultSettings() *Settings {
	return &Settings{
		T0:              1.0,
		Mu:              10.0,
		Gap:             1e-7,
		MaxStages:       50,
		MajorIterations: 200,
	}
}

// Result is the barrier method result
type Result struct {
	// X is the last strictly feasible iterate
	X []float64
	// LogDet is log det Objective(X)
	LogDet float64
	// Stages is the number of barrier stages run
	Stages int
}

// MaxDet solves p starting from the strictly feasible point v0.
// It returns the last strictly feasible iterate when a barrier stage fails to converge.
func MaxDet(p *Problem, v0 []float64, s *Settings) (*Result, error) {
	if p == nil || p.Objective == nil {
		return nil, fmt.Errorf("%w: missing objective", control.ErrConfiguration)
	}

	if s == nil {
		s = DefaultSettings()
	}

	nvars := p.Objective.NumVars()
	if len(v0) != nvars {
		return nil, fmt.Errorf("%w: initial point has %d variables, expected %d", control.ErrShapeMismatch, len(v0), nvars)
	}

	dims := p.Objective.Size()
	for i, c := range p.Constraints {
		if c.NumVars() != nvars {
			return nil, fmt.Errorf("%w: constraint %d has %d variables, expected %d", control.ErrShapeMismatch, i, c.NumVars(), nvars)
		}
		dims += c.Size()
	}

	b := &barrier{p: p, t: s.T0}
	if _, ok := b.value(v0); !ok {
		return nil, ErrInfeasibleStart
	}

	x := make([]float64, nvars)
	copy(x, v0)

	stages := 0
	for ; stages < s.MaxStages; stages++ {
		prob := optimize.Problem{
			Func: b.f,
			Grad: b.grad,
			Hess: b.hess,
		}

		settings := &optimize.Settings{
			GradientThreshold: 1e-9,
			MajorIterations:   s.MajorIterations,
		}

		res, err := optimize.Minimize(prob, x, settings, &optimize.Newton{Linesearcher: &optimize.Backtracking{}})
		if res != nil {
			if _, ok := b.value(res.X); ok {
				copy(x, res.X)
			}
		}

		// a stage which cannot make progress still leaves a feasible iterate behind
		if err != nil && res == nil {
			break
		}

		if float64(dims)/b.t < s.Gap {
			stages++
			break
		}
		b.t *= s.Mu
	}

	return &Result{
		X:      x,
		LogDet: logDet(p.Objective.At(x)),
		Stages: stages,
	}, nil
}

// barrier is t*(-log det F0(v)) - sum log det Fi(v)
type barrier struct {
	p *Problem
	t float64
}

func (b *barrier) terms(yield func(w float64, a *Affine) bool) {
	if !yield(b.t, b.p.Objective) {
		return
	}
	for _, c := range b.p.Constraints {
		if !yield(1.0, c) {
			return
		}
	}
}

func (b *barrier) value(v []float64) (float64, bool) {
	val := 0.0
	ok := true
	b.terms(func(w float64, a *Affine) bool {
		var chol mat.Cholesky
		if !chol.Factorize(a.At(v)) {
			ok = false
			return false
		}
		val -= w * chol.LogDet()
		return true
	})

	return val, ok
}

func (b *barrier) f(v []float64) float64 {
	val, ok := b.value(v)
	if !ok || math.IsNaN(val) {
		return outside
	}
	return val
}

// grad_i = -sum w tr(F^-1 F_i)
func (b *barrier) grad(grad, v []float64) {
	for i := range grad {
		grad[i] = 0
	}

	b.terms(func(w float64, a *Affine) bool {
		inv, ok := inverse(a.At(v))
		if !ok {
			return true
		}
		for i, fi := range a.fi {
			grad[i] -= w * traceProd(inv, fi)
		}
		return true
	})
}

// hess_ij = sum w tr(F^-1 F_i F^-1 F_j)
func (b *barrier) hess(hess *mat.SymDense, v []float64) {
	n := hess.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			hess.SetSym(i, j, 0)
		}
	}

	b.terms(func(w float64, a *Affine) bool {
		inv, ok := inverse(a.At(v))
		if !ok {
			return true
		}

		g := make([]*mat.Dense, len(a.fi))
		for i, fi := range a.fi {
			g[i] = new(mat.Dense)
			g[i].Mul(inv, fi)
		}

		for i := range g {
			for j := i; j < len(g); j++ {
				hess.SetSym(i, j, hess.At(i, j)+w*traceMul(g[i], g[j]))
			}
		}
		return true
	})
}

func inverse(s *mat.SymDense) (*mat.SymDense, bool) {
	var chol mat.Cholesky
	if !chol.Factorize(s) {
		return nil, false
	}

	inv := mat.NewSymDense(s.SymmetricDim(), nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, false
	}

	return inv, true
}

func logDet(s *mat.SymDense) float64 {
	var chol mat.Cholesky
	if !chol.Factorize(s) {
		return math.Inf(-1)
	}
	return chol.LogDet()
}

// traceProd returns tr(A*B) for symmetric A and B
func traceProd(a, b mat.Symmetric) float64 {
	n := a.SymmetricDim()
	sum := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sum += a.At(i, j) * b.At(j, i)
		}
	}
	return sum
}

// traceMul returns tr(A*B)
func traceMul(a, b mat.Matrix) float64 {
	r, c := a.Dims()
	sum := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			sum += a.At(i, j) * b.At(j, i)
		}
	}
	return sum
}
