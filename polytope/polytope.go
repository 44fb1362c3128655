package polytope

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	control "github.com/milosgajdos/go-control"
	"github.com/milosgajdos/go-control/matrix"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultTolerance is the default numerical tolerance of containment queries
const DefaultTolerance = 1e-8

var (
	// ErrShapeMismatch is returned when polytope data dimensions disagree.
	ErrShapeMismatch = control.ErrShapeMismatch

	// ErrEmpty is returned when an operation requires a non-empty polytope.
	ErrEmpty = errors.New("polytope: empty set")

	// ErrUnbounded is returned when an operation requires a bounded polytope.
	ErrUnbounded = errors.New("polytope: unbounded set")

	// ErrDegenerate is returned when a set is not full dimensional.
	ErrDegenerate = errors.New("polytope: degenerate set")
)

// Polytope is a convex set in halfspace representation:
//
//	P = {x : A*x <= b}
//
// Polytope is immutable: all operations return new polytopes.
type Polytope struct {
	// a is halfspace normals matrix
	a *mat.Dense
	// b is halfspace offsets vector
	b *mat.VecDense
	// once guards lazy vertex enumeration
	once sync.Once
	// verts stores vertices once computed
	verts []*mat.VecDense
	// vertsErr stores vertex enumeration error
	vertsErr error
}

// New creates new polytope {x : A*x <= b} and returns it.
// It returns ErrShapeMismatch if A and b have different number of rows.
func New(A mat.Matrix, b mat.Vector) (*Polytope, error) {
	if A == nil || b == nil {
		return nil, fmt.Errorf("%w: nil polytope data", ErrShapeMismatch)
	}

	_, cols := A.Dims()

	return NewWithDim(cols, A, b)
}

// NewWithDim creates new polytope of dimension dim and returns it.
// It returns ErrShapeMismatch if A column count disagrees with dim
// or if A and b have different number of rows.
func NewWithDim(dim int, A mat.Matrix, b mat.Vector) (*Polytope, error) {
	if A == nil || b == nil {
		return nil, fmt.Errorf("%w: nil polytope data", ErrShapeMismatch)
	}

	rows, cols := A.Dims()
	if cols != dim {
		return nil, fmt.Errorf("%w: A has %d columns, dimension is %d", ErrShapeMismatch, cols, dim)
	}

	if rows != b.Len() {
		return nil, fmt.Errorf("%w: A has %d rows, b has %d", ErrShapeMismatch, rows, b.Len())
	}

	if !matrix.Finite(A) || !matrix.Finite(b) {
		return nil, fmt.Errorf("%w: non-finite polytope data", ErrShapeMismatch)
	}

	return &Polytope{
		a: mat.DenseCopyOf(A),
		b: mat.VecDenseCopyOf(b),
	}, nil
}

// Box creates new axis-aligned box polytope lower <= x <= upper and returns it.
// It returns error if lower and upper have different lengths or are empty.
func Box(lower, upper []float64) (*Polytope, error) {
	if len(lower) == 0 || len(lower) != len(upper) {
		return nil, fmt.Errorf("%w: box bounds %d and %d", ErrShapeMismatch, len(lower), len(upper))
	}

	d := len(lower)
	A := mat.NewDense(2*d, d, nil)
	b := mat.NewVecDense(2*d, nil)
	for i := 0; i < d; i++ {
		A.Set(2*i, i, 1)
		A.Set(2*i+1, i, -1)
		b.SetVec(2*i, upper[i])
		b.SetVec(2*i+1, -lower[i])
	}

	return NewWithDim(d, A, b)
}

// Empty returns an explicitly empty polytope of dimension dim.
func Empty(dim int) *Polytope {
	A := mat.NewDense(2, dim, nil)
	A.Set(0, 0, 1)
	A.Set(1, 0, -1)

	return &Polytope{
		a: A,
		b: mat.NewVecDense(2, []float64{-1, -1}),
	}
}

// Dim returns polytope dimension
func (p *Polytope) Dim() int {
	_, d := p.a.Dims()
	return d
}

// NumConstraints returns number of halfspaces
func (p *Polytope) NumConstraints() int {
	r, _ := p.a.Dims()
	return r
}

// A returns a copy of halfspace normals matrix
func (p *Polytope) A() *mat.Dense {
	return mat.DenseCopyOf(p.a)
}

// B returns a copy of halfspace offsets vector
func (p *Polytope) B() *mat.VecDense {
	return mat.VecDenseCopyOf(p.b)
}

// Contains returns true if A*x <= b + tol holds row-wise.
// It panics if x length differs from polytope dimension.
func (p *Polytope) Contains(x mat.Vector, tol float64) bool {
	if x.Len() != p.Dim() {
		panic(mat.ErrShape)
	}

	rows, _ := p.a.Dims()
	for i := 0; i < rows; i++ {
		if mat.Dot(p.a.RowView(i), x) > p.b.AtVec(i)+tol {
			return false
		}
	}

	return true
}

// Support returns the support function value max d'x over the polytope.
// It returns ErrEmpty if the polytope is empty and ErrUnbounded if the value is infinite.
func (p *Polytope) Support(d mat.Vector) (float64, error) {
	if d.Len() != p.Dim() {
		return 0, fmt.Errorf("%w: direction length %d, dimension %d", ErrShapeMismatch, d.Len(), p.Dim())
	}

	c := make([]float64, d.Len())
	for i := range c {
		c[i] = d.AtVec(i)
	}

	val, _, err := maximize(c, p.a, p.b.RawVector().Data)
	if err != nil {
		return 0, err
	}

	return val, nil
}

// ChebyshevCenter returns the center and radius of the largest ball inscribed in the polytope.
// The radius is negative if the polytope is empty.
// It returns ErrUnbounded if the polytope contains arbitrarily large balls.
func (p *Polytope) ChebyshevCenter() (*mat.VecDense, float64, error) {
	rows, d := p.a.Dims()
	norms := matrix.RowNorms(p.a)

	G := mat.NewDense(rows, d+1, nil)
	G.Slice(0, rows, 0, d).(*mat.Dense).Copy(p.a)
	for i, n := range norms {
		G.Set(i, d, n)
	}

	c := make([]float64, d+1)
	c[d] = 1

	r, x, err := maximize(c, G, p.b.RawVector().Data)
	if err != nil {
		return nil, 0, err
	}

	return mat.NewVecDense(d, x[:d]), r, nil
}

// IsEmpty returns true if the polytope contains no point.
func (p *Polytope) IsEmpty() bool {
	_, r, err := p.ChebyshevCenter()
	if errors.Is(err, ErrUnbounded) {
		return false
	}
	if err != nil {
		return true
	}

	return r < -DefaultTolerance
}

// IsBounded returns true if the polytope is bounded.
// Empty polytopes are bounded.
func (p *Polytope) IsBounded() bool {
	_, _, err := p.Bounds()
	return err == nil || errors.Is(err, ErrEmpty)
}

// Bounds returns the bounding box extents of the polytope.
// It returns ErrEmpty for empty and ErrUnbounded for unbounded polytopes.
func (p *Polytope) Bounds() (lower, upper []float64, err error) {
	d := p.Dim()
	lower = make([]float64, d)
	upper = make([]float64, d)

	dir := mat.NewVecDense(d, nil)
	for i := 0; i < d; i++ {
		dir.Zero()
		dir.SetVec(i, 1)
		if upper[i], err = p.Support(dir); err != nil {
			return nil, nil, err
		}
		dir.SetVec(i, -1)
		lo, err := p.Support(dir)
		if err != nil {
			return nil, nil, err
		}
		lower[i] = -lo
	}

	return lower, upper, nil
}

// Vertices returns polytope vertices.
// Vertices of empty polytope is an empty set.
// It returns ErrUnbounded if the polytope is unbounded.
func (p *Polytope) Vertices() ([]*mat.VecDense, error) {
	p.once.Do(func() {
		p.verts, p.vertsErr = enumerateVertices(p)
	})

	if p.vertsErr != nil {
		return nil, p.vertsErr
	}

	verts := make([]*mat.VecDense, len(p.verts))
	for i, v := range p.verts {
		verts[i] = mat.VecDenseCopyOf(v)
	}

	return verts, nil
}

// MinkowskiSum returns the Minkowski sum P ⊕ Q = {x + y : x ∈ P, y ∈ Q}.
// The sum of lower dimensional polytopes may itself be lower dimensional.
// It returns error if either of the polytopes is unbounded or of different dimension.
func (p *Polytope) MinkowskiSum(q *Polytope) (*Polytope, error) {
	if p.Dim() != q.Dim() {
		return nil, fmt.Errorf("%w: dimensions %d and %d", ErrShapeMismatch, p.Dim(), q.Dim())
	}

	pv, err := p.Vertices()
	if err != nil {
		return nil, err
	}

	qv, err := q.Vertices()
	if err != nil {
		return nil, err
	}

	if len(pv) == 0 || len(qv) == 0 {
		return Empty(p.Dim()), nil
	}

	points := make([]*mat.VecDense, 0, len(pv)*len(qv))
	for _, v := range pv {
		for _, w := range qv {
			s := mat.NewVecDense(v.Len(), nil)
			s.AddVec(v, w)
			points = appendUnique(points, s, vertexTol)
		}
	}

	return flatHull(points)
}

// MinkowskiDifference returns the Pontryagin difference P ⊖ Q = {x : x + y ∈ P ∀y ∈ Q}.
// The result may be empty; use IsEmpty to detect it.
// It returns error if Q is empty, unbounded or of different dimension.
func (p *Polytope) MinkowskiDifference(q *Polytope) (*Polytope, error) {
	if p.Dim() != q.Dim() {
		return nil, fmt.Errorf("%w: dimensions %d and %d", ErrShapeMismatch, p.Dim(), q.Dim())
	}

	rows, _ := p.a.Dims()
	b := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		h, err := q.Support(p.a.RowView(i))
		if err != nil {
			return nil, fmt.Errorf("support of subtrahend: %w", err)
		}
		b.SetVec(i, p.b.AtVec(i)-h)
	}

	return &Polytope{a: mat.DenseCopyOf(p.a), b: b}, nil
}

// AffineImage returns the image {M*x : x ∈ P} of the polytope under linear map M.
// If M is square and invertible the halfspaces are mapped exactly, using
// h_{MP}(d) = h_P(M'd), i.e. {y : A*inv(M)*y <= b}.
// Otherwise the image is computed as the hull of mapped vertices. Images which
// are not full dimensional are bounded to their affine hull by pairs of
// opposite halfspaces.
func (p *Polytope) AffineImage(M mat.Matrix) (*Polytope, error) {
	r, c := M.Dims()
	if c != p.Dim() {
		return nil, fmt.Errorf("%w: map has %d columns, dimension is %d", ErrShapeMismatch, c, p.Dim())
	}

	if r == c {
		var inv mat.Dense
		if err := inv.Inverse(M); err == nil {
			A := new(mat.Dense)
			A.Mul(p.a, &inv)
			return &Polytope{a: A, b: mat.VecDenseCopyOf(p.b)}, nil
		}
	}

	verts, err := p.Vertices()
	if err != nil {
		return nil, err
	}

	if len(verts) == 0 {
		return Empty(r), nil
	}

	points := make([]*mat.VecDense, 0, len(verts))
	for _, v := range verts {
		points = appendUnique(points, matrix.MulVec(M, v), vertexTol)
	}

	return flatHull(points)
}

// Intersect returns the intersection of two polytopes.
func (p *Polytope) Intersect(q *Polytope) (*Polytope, error) {
	if p.Dim() != q.Dim() {
		return nil, fmt.Errorf("%w: dimensions %d and %d", ErrShapeMismatch, p.Dim(), q.Dim())
	}

	A := new(mat.Dense)
	A.Stack(p.a, q.a)

	b := mat.NewVecDense(p.b.Len()+q.b.Len(), nil)
	for i := 0; i < p.b.Len(); i++ {
		b.SetVec(i, p.b.AtVec(i))
	}
	for i := 0; i < q.b.Len(); i++ {
		b.SetVec(p.b.Len()+i, q.b.AtVec(i))
	}

	return &Polytope{a: A, b: b}, nil
}

// Reduce returns an equivalent polytope with redundant halfspaces removed.
// Empty polytopes are returned unchanged.
func (p *Polytope) Reduce() (*Polytope, error) {
	if p.IsEmpty() {
		return &Polytope{a: mat.DenseCopyOf(p.a), b: mat.VecDenseCopyOf(p.b)}, nil
	}

	rows, d := p.a.Dims()
	keep := make([]bool, rows)
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < rows; i++ {
		var idx []int
		for j := 0; j < rows; j++ {
			if j != i && keep[j] {
				idx = append(idx, j)
			}
		}
		if len(idx) == 0 {
			continue
		}

		G := mat.NewDense(len(idx), d, nil)
		h := make([]float64, len(idx))
		for k, j := range idx {
			G.SetRow(k, p.a.RawRowView(j))
			h[k] = p.b.AtVec(j)
		}

		val, _, err := maximize(p.a.RawRowView(i), G, h)
		if errors.Is(err, ErrUnbounded) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if val <= p.b.AtVec(i)+DefaultTolerance {
			keep[i] = false
		}
	}

	var A [][]float64
	var b []float64
	for i, k := range keep {
		if k {
			A = append(A, p.a.RawRowView(i))
			b = append(b, p.b.AtVec(i))
		}
	}

	data := make([]float64, 0, len(A)*d)
	for _, row := range A {
		data = append(data, row...)
	}

	return &Polytope{
		a: mat.NewDense(len(A), d, data),
		b: mat.NewVecDense(len(b), b),
	}, nil
}

// Subset returns true if P ⊆ Q within tolerance tol.
// Empty polytopes are subsets of any polytope.
func (p *Polytope) Subset(q *Polytope, tol float64) (bool, error) {
	if p.Dim() != q.Dim() {
		return false, fmt.Errorf("%w: dimensions %d and %d", ErrShapeMismatch, p.Dim(), q.Dim())
	}

	if p.IsEmpty() {
		return true, nil
	}

	rows, _ := q.a.Dims()
	for i := 0; i < rows; i++ {
		h, err := p.Support(q.a.RowView(i))
		if err != nil {
			return false, err
		}
		if h > q.b.AtVec(i)+tol {
			return false, nil
		}
	}

	return true, nil
}

// Equal returns true if P and Q describe the same set within tolerance tol.
func (p *Polytope) Equal(q *Polytope, tol float64) (bool, error) {
	pq, err := p.Subset(q, tol)
	if err != nil || !pq {
		return false, err
	}

	return q.Subset(p, tol)
}

// String implements the Stringer interface.
func (p *Polytope) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Polytope{\nA=%v\nb=%v\n}",
		mat.Formatted(p.a, mat.Prefix("  "), mat.Squeeze()),
		mat.Formatted(p.b.T(), mat.Prefix("  "), mat.Squeeze()))

	return sb.String()
}

// vertexTol is tolerance used to merge vertices
const vertexTol = 1e-7

func appendUnique(points []*mat.VecDense, v *mat.VecDense, tol float64) []*mat.VecDense {
	for _, w := range points {
		if mat.EqualApprox(v, w, tol) {
			return points
		}
	}

	return append(points, v)
}

// sortCCW orders 2D points counter-clockwise around their centroid.
func sortCCW(points []*mat.VecDense) {
	if len(points) == 0 || points[0].Len() != 2 {
		return
	}

	var cx, cy float64
	for _, p := range points {
		cx += p.AtVec(0)
		cy += p.AtVec(1)
	}
	cx /= float64(len(points))
	cy /= float64(len(points))

	sort.Slice(points, func(i, j int) bool {
		ai := math.Atan2(points[i].AtVec(1)-cy, points[i].AtVec(0)-cx)
		aj := math.Atan2(points[j].AtVec(1)-cy, points[j].AtVec(0)-cx)
		return ai < aj
	})
}

// normalize scales a halfspace so that its normal has unit norm.
// It returns false if the normal is zero.
func normalize(a []float64, b float64) ([]float64, float64, bool) {
	n := floats.Norm(a, 2)
	if n < vertexTol {
		return nil, 0, false
	}

	out := make([]float64, len(a))
	floats.ScaleTo(out, 1/n, a)

	return out, b / n, true
}
