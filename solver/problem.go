// Package solver builds parameterised convex programs once and solves their
// numeric instances with pluggable backends.
package solver

import (
	"errors"
	"fmt"
	"math"

	"github.com/milosgajdos/go-control"
	"gonum.org/v1/gonum/mat"
)

// Class is a convex program class
type Class int

const (
	// QP is a quadratic program with linear constraints
	QP Class = iota
	// QCQP is a quadratic program with convex quadratic constraints
	QCQP
)

// String implements fmt.Stringer
func (c Class) String() string {
	switch c {
	case QP:
		return "qp"
	case QCQP:
		return "qcqp"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Status is a backend solve status
type Status int

const (
	// Optimal means the solution is optimal within tolerances
	Optimal Status = iota
	// Infeasible means the problem has no feasible point
	Infeasible
	// Unbounded means the objective is unbounded below
	Unbounded
	// MaxIterations means the iteration limit was reached
	MaxIterations
	// NumericalError means the backend ran into numerical trouble
	NumericalError
)

// String implements fmt.Stringer
func (s Status) String() string {
	switch s {
	case Optimal:
		return "optimal"
	case Infeasible:
		return "infeasible"
	case Unbounded:
		return "unbounded"
	case MaxIterations:
		return "max_iterations"
	case NumericalError:
		return "numerical_error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Control maps the backend status to a controller status
func (s Status) Control() control.Status {
	switch s {
	case Optimal:
		return control.Optimal
	case Infeasible:
		return control.Infeasible
	default:
		return control.SolverError
	}
}

// Quadratic is the constraint z'Qz + a'z + d <= 0 with Q positive semidefinite
type Quadratic struct {
	Q *mat.SymDense
	A *mat.VecDense
	D float64
}

// Eval returns z'Qz + a'z + d
func (q Quadratic) Eval(z mat.Vector) float64 {
	return mat.Inner(z, q.Q, z) + mat.Dot(q.A, z) + q.D
}

// Problem is a numeric convex program
//
//	minimize   1/2 z'Pz + q'z
//	subject to A z  = b
//	           G z <= h
//	           z'Q_i z + a_i'z + d_i <= 0
type Problem struct {
	P *mat.SymDense
	Q *mat.VecDense

	// A and B are equality constraints, both nil if there are none
	A *mat.Dense
	B *mat.VecDense

	// G and H are inequality constraints, both nil if there are none
	G *mat.Dense
	H *mat.VecDense

	// Quad are quadratic constraints
	Quad []Quadratic

	// Pinv and Null are the pseudo-inverse and null space basis of A
	// shared by every instance of a compiled program. Backends compute them if nil.
	Pinv *mat.Dense
	Null *mat.Dense

	// Key identifies the program structure for backends caching factorisations
	Key any
}

// Dim returns number of decision variables
func (p *Problem) Dim() int {
	return p.P.SymmetricDim()
}

// Class returns problem class
func (p *Problem) Class() Class {
	if len(p.Quad) > 0 {
		return QCQP
	}
	return QP
}

// Objective returns 1/2 z'Pz + q'z
func (p *Problem) Objective(z mat.Vector) float64 {
	return 0.5*mat.Inner(z, p.P, z) + mat.Dot(p.Q, z)
}

// Validate checks problem dimensions
func (p *Problem) Validate() error {
	if p.P == nil || p.Q == nil {
		return fmt.Errorf("%w: missing objective", control.ErrShapeMismatch)
	}

	n := p.Dim()
	if p.Q.Len() != n {
		return fmt.Errorf("%w: linear cost has length %d, expected %d", control.ErrShapeMismatch, p.Q.Len(), n)
	}

	if (p.A == nil) != (p.B == nil) || (p.G == nil) != (p.H == nil) {
		return fmt.Errorf("%w: incomplete constraint data", control.ErrShapeMismatch)
	}

	if p.A != nil {
		if r, c := p.A.Dims(); c != n || r != p.B.Len() {
			return fmt.Errorf("%w: equality constraints are %dx%d with %d offsets", control.ErrShapeMismatch, r, c, p.B.Len())
		}
	}

	if p.G != nil {
		if r, c := p.G.Dims(); c != n || r != p.H.Len() {
			return fmt.Errorf("%w: inequality constraints are %dx%d with %d offsets", control.ErrShapeMismatch, r, c, p.H.Len())
		}
	}

	for i, q := range p.Quad {
		if q.Q == nil || q.A == nil || q.Q.SymmetricDim() != n || q.A.Len() != n {
			return fmt.Errorf("%w: quadratic constraint %d", control.ErrShapeMismatch, i)
		}
	}

	return nil
}

// Violation returns the largest constraint violation of z
func (p *Problem) Violation(z mat.Vector) float64 {
	v := 0.0
	if p.A != nil {
		r := mat.NewVecDense(p.B.Len(), nil)
		r.MulVec(p.A, z)
		r.SubVec(r, p.B)
		for i := 0; i < r.Len(); i++ {
			v = math.Max(v, math.Abs(r.AtVec(i)))
		}
	}

	if p.G != nil {
		r := mat.NewVecDense(p.H.Len(), nil)
		r.MulVec(p.G, z)
		r.SubVec(r, p.H)
		for i := 0; i < r.Len(); i++ {
			v = math.Max(v, r.AtVec(i))
		}
	}

	for _, q := range p.Quad {
		v = math.Max(v, q.Eval(z))
	}

	return v
}

// Solution is a backend solution
type Solution struct {
	// Status is solve status
	Status Status
	// X is the primal solution, nil unless Status is Optimal
	X *mat.VecDense
	// Objective is the objective value at X
	Objective float64
	// Iterations is the number of backend iterations
	Iterations int
}

// Backend is a numeric solver
type Backend interface {
	// Name returns backend name
	Name() string
	// Available returns error if the backend can not be used
	Available() error
	// Supports returns true if the backend can solve problems of the given class
	Supports(Class) bool
	// Solve solves the problem.
	// Infeasibility and solver failures are reported via Solution status,
	// error is returned only for malformed problems.
	Solve(*Problem) (*Solution, error)
}

// Resolve returns the first available candidate which supports class c.
// It returns control.ErrSolverUnavailable if there is no such candidate.
func Resolve(c Class, candidates ...Backend) (Backend, error) {
	var errs []error
	for _, b := range candidates {
		if b == nil {
			continue
		}
		if err := b.Available(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		if !b.Supports(c) {
			errs = append(errs, fmt.Errorf("%s: %v not supported", b.Name(), c))
			continue
		}
		return b, nil
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no candidates for %v", control.ErrSolverUnavailable, c)
	}

	return nil, fmt.Errorf("%w for %v: %w", control.ErrSolverUnavailable, c, errors.Join(errs...))
}

// EqualitySpace returns the pseudo-inverse of A and a basis of its null space.
// The null space basis is nil if A has full column rank.
func EqualitySpace(A mat.Matrix) (pinv, null *mat.Dense, err error) {
	r, c := A.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(A, mat.SVDFull); !ok {
		return nil, nil, fmt.Errorf("%w: equality constraint factorisation failed", control.ErrSolver)
	}

	vals := svd.Values(nil)
	var U, V mat.Dense
	svd.UTo(&U)
	svd.VTo(&V)

	tol := 1e-10 * math.Max(1, maxOf(vals)) * float64(max(r, c))
	rank := 0
	for _, s := range vals {
		if s > tol {
			rank++
		}
	}

	// pinv = V_r diag(1/s) U_r'
	pinv = mat.NewDense(c, r, nil)
	for k := 0; k < rank; k++ {
		for i := 0; i < c; i++ {
			vik := V.At(i, k) / vals[k]
			for j := 0; j < r; j++ {
				pinv.Set(i, j, pinv.At(i, j)+vik*U.At(j, k))
			}
		}
	}

	if rank == c {
		return pinv, nil, nil
	}

	null = mat.DenseCopyOf(V.Slice(0, c, rank, c))

	return pinv, null, nil
}

func maxOf(x []float64) float64 {
	m := 0.0
	for _, v := range x {
		m = math.Max(m, v)
	}
	return m
}

var (
	// ErrNotSupported is returned when a backend is asked to solve a problem class it does not support.
	ErrNotSupported = errors.New("solver: problem class not supported")

	// ErrNotConvex is returned when problem data is not convex.
	ErrNotConvex = errors.New("solver: problem is not convex")
)
