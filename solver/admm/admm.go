// Package admm implements an operator splitting backend for convex quadratic
// programs with linear constraints
//
//	minimize 1/2 x'Px + q'x subject to l <= Cx <= u
package admm

import (
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/milosgajdos/go-control/solver"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Name is the backend name
const Name = "admm"

// Settings configure the splitting iteration
type Settings struct {
	// Rho is the augmented Lagrangian penalty
	Rho float64
	// Sigma is the primal regularisation
	Sigma float64
	// Alpha is the relaxation parameter in (0, 2)
	Alpha float64
	// EpsAbs is the absolute convergence tolerance
	EpsAbs float64
	// EpsRel is the relative convergence tolerance
	EpsRel float64
	// EpsInf is the infeasibility certificate tolerance
	EpsInf float64
	// MaxIter is the maximum number of iterations
	MaxIter int
	// CacheSize is the number of cached KKT factorisations
	CacheSize int
}

// DefaultSettings returns default settings
func DefaultSettings() *Settings {
	return &Settings{
		Rho:       0.1,
		Sigma:     1e-6,
		Alpha:     1.6,
		EpsAbs:    1e-7,
		EpsRel:    1e-7,
		EpsInf:    1e-6,
		MaxIter:   50000,
		CacheSize: 64,
	}
}

// Backend is the operator splitting backend.
// It caches KKT factorisations of the most recently solved program structures
// and is safe for concurrent use.
type Backend struct {
	s     *Settings
	cache *lru.Cache[any, *mat.Cholesky]
}

// New creates a new backend with default settings
func New() *Backend {
	return NewWithSettings(DefaultSettings())
}

// NewWithSettings creates a new backend with settings s
func NewWithSettings(s *Settings) *Backend {
	if s == nil {
		s = DefaultSettings()
	}
	size := s.CacheSize
	if size <= 0 {
		size = DefaultSettings().CacheSize
	}
	// size is positive so New can not fail
	cache, _ := lru.New[any, *mat.Cholesky](size)

	return &Backend{s: s, cache: cache}
}

// Name returns backend name
func (b *Backend) Name() string { return Name }

// Available always returns nil: the backend has no external dependencies
func (b *Backend) Available() error { return nil }

// Supports returns true for QP only
func (b *Backend) Supports(c solver.Class) bool {
	return c == solver.QP
}

// stack returns C = [A; G], l = [b; -inf], u = [b; h]
func stack(p *solver.Problem) (*mat.Dense, []float64, []float64) {
	n := p.Dim()

	var rows [][]float64
	var l, u []float64

	if p.A != nil {
		r, _ := p.A.Dims()
		for i := 0; i < r; i++ {
			rows = append(rows, mat.Row(nil, i, p.A))
			l = append(l, p.B.AtVec(i))
			u = append(u, p.B.AtVec(i))
		}
	}

	if p.G != nil {
		r, _ := p.G.Dims()
		for i := 0; i < r; i++ {
			rows = append(rows, mat.Row(nil, i, p.G))
			l = append(l, math.Inf(-1))
			u = append(u, p.H.AtVec(i))
		}
	}

	if len(rows) == 0 {
		return nil, nil, nil
	}

	C := mat.NewDense(len(rows), n, nil)
	for i, r := range rows {
		C.SetRow(i, r)
	}

	return C, l, u
}

// factor returns the Cholesky factorisation of P + sigma*I + rho*C'C
func (b *Backend) factor(p *solver.Problem, C *mat.Dense) (*mat.Cholesky, error) {
	if p.Key != nil {
		if chol, ok := b.cache.Get(p.Key); ok {
			return chol, nil
		}
	}

	n := p.Dim()
	K := mat.NewSymDense(n, nil)
	K.CopySym(p.P)
	for i := 0; i < n; i++ {
		K.SetSym(i, i, K.At(i, i)+b.s.Sigma)
	}
	if C != nil {
		var CtC mat.SymDense
		CtC.SymOuterK(1, C.T())
		K.AddSym(K, scaled(b.s.Rho, &CtC))
	}

	chol := new(mat.Cholesky)
	if ok := chol.Factorize(K); !ok {
		return nil, fmt.Errorf("%w: KKT matrix is not positive definite", solver.ErrNotConvex)
	}

	if p.Key != nil {
		b.cache.Add(p.Key, chol)
	}

	return chol, nil
}

func scaled(s float64, m *mat.SymDense) *mat.SymDense {
	out := mat.NewSymDense(m.SymmetricDim(), nil)
	out.ScaleSym(s, m)
	return out
}

// Solve solves the problem p
func (b *Backend) Solve(p *solver.Problem) (*solver.Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if p.Class() != solver.QP {
		return nil, fmt.Errorf("%w: %s does not support %v", solver.ErrNotSupported, Name, p.Class())
	}

	n := p.Dim()
	C, l, u := stack(p)

	chol, err := b.factor(p, C)
	if err != nil {
		return &solver.Solution{Status: solver.NumericalError}, nil
	}

	if C == nil {
		x := mat.NewVecDense(n, nil)
		rhs := mat.NewVecDense(n, nil)
		rhs.ScaleVec(-1, p.Q)
		if err := chol.SolveVecTo(x, rhs); err != nil {
			return &solver.Solution{Status: solver.NumericalError}, nil
		}
		return &solver.Solution{Status: solver.Optimal, X: x, Objective: p.Objective(x), Iterations: 1}, nil
	}

	m, _ := C.Dims()
	rho, sigma, alpha := b.s.Rho, b.s.Sigma, b.s.Alpha

	x := mat.NewVecDense(n, nil)
	z := mat.NewVecDense(m, nil)
	y := mat.NewVecDense(m, nil)
	yPrev := mat.NewVecDense(m, nil)

	xt := mat.NewVecDense(n, nil)
	zt := mat.NewVecDense(m, nil)
	rhs := mat.NewVecDense(n, nil)
	tmp := mat.NewVecDense(m, nil)
	dy := mat.NewVecDense(m, nil)

	for it := 1; it <= b.s.MaxIter; it++ {
		// (P + sigma I + rho C'C) xt = sigma x - q + C'(rho z - y)
		tmp.ScaleVec(rho, z)
		tmp.SubVec(tmp, y)
		rhs.MulVec(C.T(), tmp)
		rhs.AddScaledVec(rhs, sigma, x)
		rhs.SubVec(rhs, p.Q)
		if err := chol.SolveVecTo(xt, rhs); err != nil {
			return &solver.Solution{Status: solver.NumericalError, Iterations: it}, nil
		}
		zt.MulVec(C, xt)

		// relaxation
		x.ScaleVec(1-alpha, x)
		x.AddScaledVec(x, alpha, xt)

		yPrev.CopyVec(y)
		for i := 0; i < m; i++ {
			zr := alpha*zt.AtVec(i) + (1-alpha)*z.AtVec(i)
			zn := clamp(zr+y.AtVec(i)/rho, l[i], u[i])
			y.SetVec(i, y.AtVec(i)+rho*(zr-zn))
			z.SetVec(i, zn)
		}

		if it%10 != 0 {
			continue
		}

		if b.converged(p, C, x, z, y) {
			return &solver.Solution{Status: solver.Optimal, X: mat.VecDenseCopyOf(x), Objective: p.Objective(x), Iterations: it}, nil
		}

		dy.SubVec(y, yPrev)
		if b.infeasible(C, l, u, dy) {
			return &solver.Solution{Status: solver.Infeasible, Iterations: it}, nil
		}
	}

	return &solver.Solution{Status: solver.MaxIterations, Iterations: b.s.MaxIter}, nil
}

func (b *Backend) converged(p *solver.Problem, C *mat.Dense, x, z, y *mat.VecDense) bool {
	m, n := C.Dims()

	cx := mat.NewVecDense(m, nil)
	cx.MulVec(C, x)
	rp := mat.NewVecDense(m, nil)
	rp.SubVec(cx, z)

	px := mat.NewVecDense(n, nil)
	px.MulVec(p.P, x)
	cty := mat.NewVecDense(n, nil)
	cty.MulVec(C.T(), y)
	rd := mat.NewVecDense(n, nil)
	rd.AddVec(px, cty)
	rd.AddVec(rd, p.Q)

	inf := math.Inf(1)
	epsP := b.s.EpsAbs + b.s.EpsRel*math.Max(mat.Norm(cx, inf), mat.Norm(z, inf))
	epsD := b.s.EpsAbs + b.s.EpsRel*math.Max(mat.Norm(px, inf), math.Max(mat.Norm(cty, inf), mat.Norm(p.Q, inf)))

	return mat.Norm(rp, inf) <= epsP && mat.Norm(rd, inf) <= epsD
}

// infeasible checks the primal infeasibility certificate
//
//	||C'dy|| <= eps ||dy||, u'max(dy, 0) + l'min(dy, 0) < -eps ||dy||
func (b *Backend) infeasible(C *mat.Dense, l, u []float64, dy *mat.VecDense) bool {
	_, n := C.Dims()
	d := dy.RawVector().Data
	nd := floats.Norm(d, math.Inf(1))
	if nd < 1e-12 {
		return false
	}

	cty := mat.NewVecDense(n, nil)
	cty.MulVec(C.T(), dy)
	if mat.Norm(cty, math.Inf(1)) > b.s.EpsInf*nd {
		return false
	}

	s := 0.0
	for i, v := range d {
		switch {
		case v > 0:
			if math.IsInf(u[i], 1) {
				return false
			}
			s += u[i] * v
		case v < 0:
			if math.IsInf(l[i], -1) {
				if v < -b.s.EpsInf*nd {
					return false
				}
				continue
			}
			s += l[i] * v
		}
	}

	return s < -b.s.EpsInf*nd
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
