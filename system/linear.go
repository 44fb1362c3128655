package system

import (
	"fmt"

	"github.com/milosgajdos/go-control"
	"github.com/milosgajdos/go-control/polytope"
	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"
)

// Linear is a discrete-time linear system
//
//	x[k+1] = A*x[k] + B*u[k] + w[k]
//	y[k]   = C*x[k] + D*u[k]
//
// subject to polytopic state (X), input (U) and disturbance (W) constraints.
// Linear is immutable: constructors copy their arguments and accessors return copies.
type Linear struct {
	a *mat.Dense
	b *mat.Dense
	c *mat.Dense
	d *mat.Dense

	x *polytope.Polytope
	u *polytope.Polytope
	w *polytope.Polytope
}

var _ control.LinearSystem = (*Linear)(nil)

// Sets are the constraint sets of a system. W may be nil.
type Sets struct {
	// X is state constraint set
	X *polytope.Polytope
	// U is input constraint set
	U *polytope.Polytope
	// W is disturbance set
	W *polytope.Polytope
}

// NewLinear creates a new discrete-time linear system with constraint sets s and returns it.
// The output defaults to the full state, i.e. C is identity and D is zero.
func NewLinear(A, B mat.Matrix, s Sets) (*Linear, error) {
	if A == nil || B == nil {
		return nil, fmt.Errorf("%w: system and control matrices must be defined", control.ErrConfiguration)
	}

	ar, ac := A.Dims()
	if ar != ac {
		return nil, fmt.Errorf("%w: system matrix must be square, got %dx%d", control.ErrShapeMismatch, ar, ac)
	}

	br, bc := B.Dims()
	if br != ar {
		return nil, fmt.Errorf("%w: control matrix has %d rows, expected %d", control.ErrShapeMismatch, br, ar)
	}

	if s.X == nil || s.U == nil {
		return nil, fmt.Errorf("%w: state and input constraint sets must be defined", control.ErrConfiguration)
	}

	if s.X.Dim() != ar {
		return nil, fmt.Errorf("%w: state set dimension %d, expected %d", control.ErrShapeMismatch, s.X.Dim(), ar)
	}

	if s.U.Dim() != bc {
		return nil, fmt.Errorf("%w: input set dimension %d, expected %d", control.ErrShapeMismatch, s.U.Dim(), bc)
	}

	if s.W != nil && s.W.Dim() != ar {
		return nil, fmt.Errorf("%w: disturbance set dimension %d, expected %d", control.ErrShapeMismatch, s.W.Dim(), ar)
	}

	C, err := matrix.NewDenseValIdentity(ar, 1.0)
	if err != nil {
		return nil, err
	}

	return &Linear{
		a: mat.DenseCopyOf(A),
		b: mat.DenseCopyOf(B),
		c: C,
		d: mat.NewDense(ar, bc, nil),
		x: s.X,
		u: s.U,
		w: s.W,
	}, nil
}

// WithOutput returns a copy of the system with output matrices C and D.
func (s *Linear) WithOutput(C, D mat.Matrix) (*Linear, error) {
	n, m := s.Dims()

	cr, cc := C.Dims()
	if cc != n {
		return nil, fmt.Errorf("%w: output matrix has %d columns, expected %d", control.ErrShapeMismatch, cc, n)
	}

	dr, dc := D.Dims()
	if dr != cr || dc != m {
		return nil, fmt.Errorf("%w: feedthrough matrix is %dx%d, expected %dx%d", control.ErrShapeMismatch, dr, dc, cr, m)
	}

	out := *s
	out.c = mat.DenseCopyOf(C)
	out.d = mat.DenseCopyOf(D)

	return &out, nil
}

// Dims returns state and input dimensions.
func (s *Linear) Dims() (n, m int) {
	n, m = s.b.Dims()
	return n, m
}

// SystemMatrix returns state propagation matrix A.
func (s *Linear) SystemMatrix() mat.Matrix { return mat.DenseCopyOf(s.a) }

// ControlMatrix returns state propagation control matrix B.
func (s *Linear) ControlMatrix() mat.Matrix { return mat.DenseCopyOf(s.b) }

// OutputMatrix returns observation matrix C.
func (s *Linear) OutputMatrix() mat.Matrix { return mat.DenseCopyOf(s.c) }

// FeedForwardMatrix returns observation control matrix D.
func (s *Linear) FeedForwardMatrix() mat.Matrix { return mat.DenseCopyOf(s.d) }

// StateSet returns state constraint set X.
func (s *Linear) StateSet() *polytope.Polytope { return s.x }

// InputSet returns input constraint set U.
func (s *Linear) InputSet() *polytope.Polytope { return s.u }

// DisturbanceSet returns disturbance set W or nil if the system is nominal.
func (s *Linear) DisturbanceSet() *polytope.Polytope { return s.w }

// ClosedLoop returns the closed-loop matrix A + B*K for a feedback gain K.
func (s *Linear) ClosedLoop(K mat.Matrix) (*mat.Dense, error) {
	n, m := s.Dims()
	if r, c := K.Dims(); r != m || c != n {
		return nil, fmt.Errorf("%w: gain is %dx%d, expected %dx%d", control.ErrShapeMismatch, r, c, m, n)
	}

	phi := new(mat.Dense)
	phi.Mul(s.b, K)
	phi.Add(s.a, phi)

	return phi, nil
}

// Propagate returns the next state A*x + B*u + w.
// Both u and w may be nil, in which case they are treated as zero vectors.
func (s *Linear) Propagate(x, u, w mat.Vector) (mat.Vector, error) {
	n, m := s.Dims()
	if x == nil || x.Len() != n {
		return nil, fmt.Errorf("%w: invalid state vector", control.ErrShapeMismatch)
	}

	if u != nil && u.Len() != m {
		return nil, fmt.Errorf("%w: invalid input vector", control.ErrShapeMismatch)
	}

	if w != nil && w.Len() != n {
		return nil, fmt.Errorf("%w: invalid disturbance vector", control.ErrShapeMismatch)
	}

	out := mat.NewVecDense(n, nil)
	out.MulVec(s.a, x)

	if u != nil {
		outU := mat.NewVecDense(n, nil)
		outU.MulVec(s.b, u)
		out.AddVec(out, outU)
	}

	if w != nil {
		out.AddVec(out, w)
	}

	return out, nil
}

// Observe returns the output C*x + D*u given state x and input u.
func (s *Linear) Observe(x, u mat.Vector) (mat.Vector, error) {
	n, m := s.Dims()
	if x == nil || x.Len() != n {
		return nil, fmt.Errorf("%w: invalid state vector", control.ErrShapeMismatch)
	}

	if u != nil && u.Len() != m {
		return nil, fmt.Errorf("%w: invalid input vector", control.ErrShapeMismatch)
	}

	ny, _ := s.c.Dims()
	out := mat.NewVecDense(ny, nil)
	out.MulVec(s.c, x)

	if u != nil {
		outU := mat.NewVecDense(ny, nil)
		outU.MulVec(s.d, u)
		out.AddVec(out, outU)
	}

	return out, nil
}

// Rollout propagates x over len(inputs) steps and returns the visited states
// including x. Disturbances are drawn from noise when it is not nil.
func (s *Linear) Rollout(x mat.Vector, inputs []mat.Vector, noise control.Noise) ([]mat.Vector, error) {
	states := make([]mat.Vector, 0, len(inputs)+1)
	states = append(states, mat.VecDenseCopyOf(x))

	cur := x
	for k, u := range inputs {
		var w mat.Vector
		if noise != nil {
			w = noise.Sample()
		}

		next, err := s.Propagate(cur, u, w)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", k, err)
		}
		states = append(states, next)
		cur = next
	}

	return states, nil
}
