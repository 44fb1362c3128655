// Package invariant synthesises ellipsoidal control invariant sets
// {x : x'Px <= 1} together with a linear feedback u = K*x.
package invariant

import (
	"fmt"
	"math"

	"github.com/milosgajdos/go-control"
	"github.com/milosgajdos/go-control/lmi"
	"github.com/milosgajdos/go-control/lqr"
	cmat "github.com/milosgajdos/go-control/matrix"
	"github.com/milosgajdos/go-control/system"
	"gonum.org/v1/gonum/mat"
)

// DefaultTolerance is the default tolerance of the certificate level set check
const DefaultTolerance = 1e-9

// Certificate is an invariant ellipsoid {x : x'Px <= 1} and a feedback gain K
// which keeps the closed loop A + BK inside it while satisfying the constraints.
// Certificate is read-only once created.
type Certificate struct {
	p *mat.SymDense
	k *mat.Dense
}

// NewCertificate creates a new certificate from a positive definite P and gain K.
func NewCertificate(P mat.Symmetric, K mat.Matrix) (*Certificate, error) {
	n := P.SymmetricDim()
	if _, c := K.Dims(); c != n {
		return nil, fmt.Errorf("%w: gain has %d columns, expected %d", control.ErrShapeMismatch, c, n)
	}

	if !cmat.IsPosDef(P) {
		return nil, fmt.Errorf("%w: certificate matrix must be positive definite", control.ErrConfiguration)
	}

	p := mat.NewSymDense(n, nil)
	p.CopySym(P)

	return &Certificate{p: p, k: mat.DenseCopyOf(K)}, nil
}

// Synthesize computes the maximum volume invariant ellipsoid of sys by solving
//
//	maximize   log det E
//	subject to [E, (AE+BY)'; AE+BY, E] > 0
//	           a_i' E a_i < b_i^2               for state constraints
//	           [b_j^2, a_j'Y; Y'a_j, E] > 0     for input constraints
//
// and returns P = inv(E) and K = Y*P.
func Synthesize(sys *system.Linear, s *lmi.Settings) (*Certificate, error) {
	n, m := sys.Dims()
	A := sys.SystemMatrix()
	B := sys.ControlMatrix()

	X, U := sys.StateSet(), sys.InputSet()
	Ax, bx := X.A(), X.B()
	Au, bu := U.A(), U.B()

	for i := 0; i < bx.Len(); i++ {
		if bx.AtVec(i) <= 0 {
			return nil, fmt.Errorf("%w: state constraints must contain the origin in their interior", control.ErrConfiguration)
		}
	}
	for i := 0; i < bu.Len(); i++ {
		if bu.AtVec(i) <= 0 {
			return nil, fmt.Errorf("%w: input constraints must contain the origin in their interior", control.ErrConfiguration)
		}
	}

	v0, err := initialPoint(A, B, Ax, bx, Au, bu)
	if err != nil {
		return nil, err
	}

	lay := layout{n: n, m: m}
	nvars := lay.size()

	obj, err := lmi.FromFunc(nvars, func(v []float64) mat.Matrix {
		return lay.e(v)
	})
	if err != nil {
		return nil, err
	}

	var cons []*lmi.Affine

	lyap, err := lmi.FromFunc(nvars, func(v []float64) mat.Matrix {
		E, Y := lay.e(v), lay.y(v)
		var AE, BY mat.Dense
		AE.Mul(A, E)
		BY.Mul(B, Y)
		AE.Add(&AE, &BY)

		out := mat.NewDense(2*n, 2*n, nil)
		out.Slice(0, n, 0, n).(*mat.Dense).Copy(E)
		out.Slice(0, n, n, 2*n).(*mat.Dense).Copy(AE.T())
		out.Slice(n, 2*n, 0, n).(*mat.Dense).Copy(&AE)
		out.Slice(n, 2*n, n, 2*n).(*mat.Dense).Copy(E)
		return out
	})
	if err != nil {
		return nil, err
	}
	cons = append(cons, lyap)

	for i := 0; i < bx.Len(); i++ {
		a := Ax.RowView(i)
		b := bx.AtVec(i)
		c, err := lmi.FromFunc(nvars, func(v []float64) mat.Matrix {
			return mat.NewDense(1, 1, []float64{b*b - mat.Inner(a, lay.e(v), a)})
		})
		if err != nil {
			return nil, err
		}
		cons = append(cons, c)
	}

	for j := 0; j < bu.Len(); j++ {
		a := Au.RowView(j)
		b := bu.AtVec(j)
		c, err := lmi.FromFunc(nvars, func(v []float64) mat.Matrix {
			E, Y := lay.e(v), lay.y(v)
			aY := mat.NewVecDense(n, nil)
			aY.MulVec(Y.T(), a)

			out := mat.NewDense(n+1, n+1, nil)
			out.Set(0, 0, b*b)
			for k := 0; k < n; k++ {
				out.Set(0, k+1, aY.AtVec(k))
				out.Set(k+1, 0, aY.AtVec(k))
			}
			out.Slice(1, n+1, 1, n+1).(*mat.Dense).Copy(E)
			return out
		})
		if err != nil {
			return nil, err
		}
		cons = append(cons, c)
	}

	res, err := lmi.MaxDet(&lmi.Problem{Objective: obj, Constraints: cons}, lay.pack(v0), s)
	if err != nil {
		return nil, fmt.Errorf("%w: certificate synthesis: %v", control.ErrConfiguration, err)
	}

	E := cmat.Symmetrize(lay.e(res.X))
	var chol mat.Cholesky
	if !chol.Factorize(E) {
		return nil, fmt.Errorf("%w: certificate synthesis returned a singular ellipsoid", control.ErrConfiguration)
	}

	P := mat.NewSymDense(n, nil)
	if err := chol.InverseTo(P); err != nil {
		return nil, fmt.Errorf("%w: %v", control.ErrConfiguration, err)
	}

	K := new(mat.Dense)
	K.Mul(lay.y(res.X), P)

	return &Certificate{p: P, k: K}, nil
}

// point is a strictly feasible (E, Y) pair
type point struct {
	e *mat.SymDense
	y *mat.Dense
}

// initialPoint scales the inverse LQR cost matrix until the ellipsoid and
// its LQR feedback satisfy the constraints strictly.
func initialPoint(A, B mat.Matrix, Ax *mat.Dense, bx *mat.VecDense, Au *mat.Dense, bu *mat.VecDense) (point, error) {
	n, m := B.Dims()

	Q := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		Q.SetSym(i, i, 1)
	}
	R := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		R.SetSym(i, i, 1)
	}

	P, K, err := lqr.DARE(A, B, Q, R)
	if err != nil {
		return point{}, err
	}

	var chol mat.Cholesky
	if !chol.Factorize(P) {
		return point{}, fmt.Errorf("%w: riccati solution is not positive definite", control.ErrConfiguration)
	}

	Pinv := mat.NewSymDense(n, nil)
	if err := chol.InverseTo(Pinv); err != nil {
		return point{}, fmt.Errorf("%w: %v", control.ErrConfiguration, err)
	}

	scale := math.Inf(1)
	for i := 0; i < bx.Len(); i++ {
		a := Ax.RowView(i)
		if d := mat.Inner(a, Pinv, a); d > 0 {
			scale = math.Min(scale, bx.AtVec(i)*bx.AtVec(i)/d)
		}
	}

	var KP, KPK mat.Dense
	KP.Mul(K, Pinv)
	KPK.Mul(&KP, K.T())
	for j := 0; j < bu.Len(); j++ {
		a := Au.RowView(j)
		if d := mat.Inner(a, &KPK, a); d > 0 {
			scale = math.Min(scale, bu.AtVec(j)*bu.AtVec(j)/d)
		}
	}

	if math.IsInf(scale, 1) {
		scale = 1
	}
	scale *= 0.9

	E := mat.NewSymDense(n, nil)
	E.ScaleSym(scale, Pinv)

	Y := new(mat.Dense)
	Y.Mul(K, E)

	return point{e: E, y: Y}, nil
}

// layout packs the upper triangle of E followed by the rows of Y into a vector
type layout struct {
	n, m int
}

func (l layout) size() int {
	return l.n*(l.n+1)/2 + l.m*l.n
}

func (l layout) e(v []float64) *mat.Dense {
	E := mat.NewDense(l.n, l.n, nil)
	k := 0
	for i := 0; i < l.n; i++ {
		for j := i; j < l.n; j++ {
			E.Set(i, j, v[k])
			E.Set(j, i, v[k])
			k++
		}
	}
	return E
}

func (l layout) y(v []float64) *mat.Dense {
	off := l.n * (l.n + 1) / 2
	data := make([]float64, l.m*l.n)
	copy(data, v[off:off+l.m*l.n])
	return mat.NewDense(l.m, l.n, data)
}

func (l layout) pack(p point) []float64 {
	v := make([]float64, 0, l.size())
	for i := 0; i < l.n; i++ {
		for j := i; j < l.n; j++ {
			v = append(v, p.e.At(i, j))
		}
	}
	for i := 0; i < l.m; i++ {
		for j := 0; j < l.n; j++ {
			v = append(v, p.y.At(i, j))
		}
	}
	return v
}

// P returns a copy of the ellipsoid shape matrix
func (c *Certificate) P() *mat.SymDense {
	p := mat.NewSymDense(c.p.SymmetricDim(), nil)
	p.CopySym(c.p)
	return p
}

// K returns a copy of the feedback gain
func (c *Certificate) K() *mat.Dense {
	return mat.DenseCopyOf(c.k)
}

// Dim returns the state dimension
func (c *Certificate) Dim() int {
	return c.p.SymmetricDim()
}

// Value returns the Lyapunov value x'Px
func (c *Certificate) Value(x mat.Vector) float64 {
	return cmat.QuadForm(x, c.p)
}

// Contains returns true if x'Px <= 1 + tol
func (c *Certificate) Contains(x mat.Vector, tol float64) bool {
	return c.Value(x) <= 1+tol
}

// Feedback returns the certified control input K*x
func (c *Certificate) Feedback(x mat.Vector) *mat.VecDense {
	return cmat.MulVec(c.k, x)
}
