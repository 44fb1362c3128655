package polytope

import (
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

var (
	square   *Polytope
	triangle *Polytope
	small    *Polytope
)

func setup() {
	square, _ = Box([]float64{-1, -1}, []float64{1, 1})
	small, _ = Box([]float64{-0.1, -0.2}, []float64{0.1, 0.2})

	A := mat.NewDense(3, 2, []float64{
		-1, 0,
		0, -1,
		1, 1,
	})
	b := mat.NewVecDense(3, []float64{0, 0, 1})
	triangle, _ = New(A, b)
}

func TestMain(m *testing.M) {
	// set up tests
	setup()
	// run the tests
	retCode := m.Run()
	// call with result of m.Run()
	os.Exit(retCode)
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	A := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	b := mat.NewVecDense(2, []float64{1, 1})

	p, err := New(A, b)
	assert.NotNil(p)
	assert.NoError(err)
	assert.Equal(2, p.Dim())
	assert.Equal(2, p.NumConstraints())

	// row mismatch
	p, err = New(A, mat.NewVecDense(3, nil))
	assert.Nil(p)
	assert.ErrorIs(err, ErrShapeMismatch)

	// column mismatch
	p, err = NewWithDim(3, A, b)
	assert.Nil(p)
	assert.ErrorIs(err, ErrShapeMismatch)

	// nil data
	p, err = New(nil, b)
	assert.Nil(p)
	assert.ErrorIs(err, ErrShapeMismatch)

	// non-finite data
	p, err = New(A, mat.NewVecDense(2, []float64{1, math.NaN()}))
	assert.Nil(p)
	assert.ErrorIs(err, ErrShapeMismatch)

	// data is copied
	A.Set(0, 0, 100)
	p, err = New(mat.NewDense(2, 2, []float64{1, 0, 0, 1}), b)
	require.NoError(t, err)
	assert.Equal(1.0, p.A().At(0, 0))
}

func TestBox(t *testing.T) {
	assert := assert.New(t)

	p, err := Box([]float64{-1}, []float64{1, 2})
	assert.Nil(p)
	assert.Error(err)

	p, err = Box(nil, nil)
	assert.Nil(p)
	assert.Error(err)

	lo, hi, err := small.Bounds()
	assert.NoError(err)
	assert.InDeltaSlice([]float64{-0.1, -0.2}, lo, 1e-9)
	assert.InDeltaSlice([]float64{0.1, 0.2}, hi, 1e-9)
}

func TestContains(t *testing.T) {
	assert := assert.New(t)

	assert.True(square.Contains(mat.NewVecDense(2, []float64{0, 0}), DefaultTolerance))
	assert.True(square.Contains(mat.NewVecDense(2, []float64{1, -1}), DefaultTolerance))
	assert.False(square.Contains(mat.NewVecDense(2, []float64{1.1, 0}), DefaultTolerance))
	assert.True(square.Contains(mat.NewVecDense(2, []float64{1.1, 0}), 0.2))

	assert.Panics(func() { square.Contains(mat.NewVecDense(3, nil), DefaultTolerance) })
}

func TestContainsAgreesWithHalfspaces(t *testing.T) {
	assert := assert.New(t)

	rnd := rand.New(rand.NewSource(1))
	A, b := triangle.A(), triangle.B()
	for i := 0; i < 500; i++ {
		x := mat.NewVecDense(2, []float64{4*rnd.Float64() - 2, 4*rnd.Float64() - 2})

		r := new(mat.VecDense)
		r.MulVec(A, x)
		want := true
		for j := 0; j < r.Len(); j++ {
			if r.AtVec(j) > b.AtVec(j)+DefaultTolerance {
				want = false
			}
		}
		assert.Equal(want, triangle.Contains(x, DefaultTolerance))
	}
}

func TestSupport(t *testing.T) {
	assert := assert.New(t)

	h, err := square.Support(mat.NewVecDense(2, []float64{1, 1}))
	assert.NoError(err)
	assert.InDelta(2.0, h, 1e-9)

	h, err = triangle.Support(mat.NewVecDense(2, []float64{-1, 0}))
	assert.NoError(err)
	assert.InDelta(0.0, h, 1e-9)

	_, err = square.Support(mat.NewVecDense(3, nil))
	assert.ErrorIs(err, ErrShapeMismatch)

	half, err := New(mat.NewDense(1, 2, []float64{1, 0}), mat.NewVecDense(1, []float64{1}))
	require.NoError(t, err)
	_, err = half.Support(mat.NewVecDense(2, []float64{0, 1}))
	assert.ErrorIs(err, ErrUnbounded)

	_, err = Empty(2).Support(mat.NewVecDense(2, []float64{0, 1}))
	assert.ErrorIs(err, ErrEmpty)
}

func TestEmptyBounded(t *testing.T) {
	assert := assert.New(t)

	assert.False(square.IsEmpty())
	assert.True(Empty(2).IsEmpty())
	assert.True(square.IsBounded())
	assert.True(Empty(3).IsBounded())

	half, err := New(mat.NewDense(1, 2, []float64{1, 0}), mat.NewVecDense(1, []float64{1}))
	require.NoError(t, err)
	assert.False(half.IsEmpty())
	assert.False(half.IsBounded())

	c, r, err := square.ChebyshevCenter()
	assert.NoError(err)
	assert.InDelta(1.0, r, 1e-9)
	assert.InDelta(0.0, mat.Norm(c, 2), 1e-9)
}

func TestVertices(t *testing.T) {
	assert := assert.New(t)

	verts, err := square.Vertices()
	assert.NoError(err)
	assert.Len(verts, 4)
	for _, v := range verts {
		assert.InDelta(1.0, math.Abs(v.AtVec(0)), 1e-9)
		assert.InDelta(1.0, math.Abs(v.AtVec(1)), 1e-9)
	}

	verts, err = triangle.Vertices()
	assert.NoError(err)
	assert.Len(verts, 3)

	// returned vertices are copies
	verts[0].SetVec(0, 100)
	again, err := triangle.Vertices()
	assert.NoError(err)
	assert.NotEqual(100.0, again[0].AtVec(0))

	// empty polytope has no vertices
	verts, err = Empty(2).Vertices()
	assert.NoError(err)
	assert.Len(verts, 0)

	// unbounded polytope fails loudly
	half, err := New(mat.NewDense(2, 2, []float64{1, 0, -1, 0}), mat.NewVecDense(2, []float64{1, 1}))
	require.NoError(t, err)
	verts, err = half.Vertices()
	assert.Nil(verts)
	assert.ErrorIs(err, ErrUnbounded)
}

func TestVerticesRedundant(t *testing.T) {
	assert := assert.New(t)

	// square with a redundant halfspace through a vertex
	A := mat.NewDense(5, 2, []float64{
		1, 0,
		-1, 0,
		0, 1,
		0, -1,
		1, 1,
	})
	b := mat.NewVecDense(5, []float64{1, 1, 1, 1, 2})
	p, err := New(A, b)
	require.NoError(t, err)

	verts, err := p.Vertices()
	assert.NoError(err)
	assert.Len(verts, 4)

	r, err := p.Reduce()
	assert.NoError(err)
	assert.Equal(4, r.NumConstraints())
	eq, err := r.Equal(square, 1e-9)
	assert.NoError(err)
	assert.True(eq)
}

func TestHull(t *testing.T) {
	assert := assert.New(t)

	points := []*mat.VecDense{
		mat.NewVecDense(2, []float64{0, 0}),
		mat.NewVecDense(2, []float64{1, 0}),
		mat.NewVecDense(2, []float64{0, 1}),
		mat.NewVecDense(2, []float64{0.2, 0.2}),
	}
	h, err := Hull(points)
	assert.NoError(err)
	eq, err := h.Equal(triangle, 1e-9)
	assert.NoError(err)
	assert.True(eq)

	// collinear points
	_, err = Hull([]*mat.VecDense{
		mat.NewVecDense(2, []float64{0, 0}),
		mat.NewVecDense(2, []float64{1, 1}),
		mat.NewVecDense(2, []float64{2, 2}),
	})
	assert.ErrorIs(err, ErrDegenerate)

	// one dimensional hull
	h, err = Hull([]*mat.VecDense{mat.NewVecDense(1, []float64{3}), mat.NewVecDense(1, []float64{-1})})
	assert.NoError(err)
	lo, hi, err := h.Bounds()
	assert.NoError(err)
	assert.InDelta(-1.0, lo[0], 1e-9)
	assert.InDelta(3.0, hi[0], 1e-9)

	_, err = Hull(nil)
	assert.ErrorIs(err, ErrDegenerate)
}

func TestHull3D(t *testing.T) {
	assert := assert.New(t)

	cube, err := Box([]float64{-1, -1, -1}, []float64{1, 1, 1})
	require.NoError(t, err)

	verts, err := cube.Vertices()
	require.NoError(t, err)
	assert.Len(verts, 8)

	h, err := Hull(verts)
	assert.NoError(err)
	assert.Equal(6, h.NumConstraints())
	eq, err := h.Equal(cube, 1e-9)
	assert.NoError(err)
	assert.True(eq)
}

func TestMinkowskiSum(t *testing.T) {
	assert := assert.New(t)

	s, err := square.MinkowskiSum(small)
	assert.NoError(err)

	want, err := Box([]float64{-1.1, -1.2}, []float64{1.1, 1.2})
	require.NoError(t, err)
	eq, err := s.Equal(want, 1e-9)
	assert.NoError(err)
	assert.True(eq)

	// triangle + square produces a pentagon
	s, err = triangle.MinkowskiSum(square)
	assert.NoError(err)
	verts, err := s.Vertices()
	assert.NoError(err)
	assert.Len(verts, 5)

	cube, err := Box([]float64{-1, -1, -1}, []float64{1, 1, 1})
	require.NoError(t, err)
	_, err = square.MinkowskiSum(cube)
	assert.ErrorIs(err, ErrShapeMismatch)

	s, err = square.MinkowskiSum(Empty(2))
	assert.NoError(err)
	assert.True(s.IsEmpty())
}

func TestMinkowskiDifference(t *testing.T) {
	assert := assert.New(t)

	d, err := square.MinkowskiDifference(small)
	assert.NoError(err)

	want, err := Box([]float64{-0.9, -0.8}, []float64{0.9, 0.8})
	require.NoError(t, err)
	eq, err := d.Equal(want, 1e-9)
	assert.NoError(err)
	assert.True(eq)

	// erosion undoes dilation
	s, err := square.MinkowskiSum(small)
	require.NoError(t, err)
	d, err = s.MinkowskiDifference(small)
	assert.NoError(err)
	eq, err = d.Equal(square, 1e-9)
	assert.NoError(err)
	assert.True(eq)

	// erosion by a larger set is empty
	big, err := Box([]float64{-2, -2}, []float64{2, 2})
	require.NoError(t, err)
	d, err = square.MinkowskiDifference(big)
	assert.NoError(err)
	assert.True(d.IsEmpty())

	_, err = square.MinkowskiDifference(Empty(2))
	assert.ErrorIs(err, ErrEmpty)
}

func TestAffineImage(t *testing.T) {
	assert := assert.New(t)

	// identity map preserves containment
	eye := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	img, err := triangle.AffineImage(eye)
	assert.NoError(err)
	rnd := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		x := mat.NewVecDense(2, []float64{3*rnd.Float64() - 1.5, 3*rnd.Float64() - 1.5})
		assert.Equal(triangle.Contains(x, DefaultTolerance), img.Contains(x, DefaultTolerance))
	}

	// scaling map
	scale := mat.NewDense(2, 2, []float64{2, 0, 0, 0.5})
	img, err = square.AffineImage(scale)
	assert.NoError(err)
	want, err := Box([]float64{-2, -0.5}, []float64{2, 0.5})
	require.NoError(t, err)
	eq, err := img.Equal(want, 1e-9)
	assert.NoError(err)
	assert.True(eq)

	// projection onto the first coordinate
	proj := mat.NewDense(1, 2, []float64{1, 0})
	img, err = triangle.AffineImage(proj)
	assert.NoError(err)
	lo, hi, err := img.Bounds()
	assert.NoError(err)
	assert.InDelta(0.0, lo[0], 1e-9)
	assert.InDelta(1.0, hi[0], 1e-9)

	_, err = square.AffineImage(mat.NewDense(2, 3, nil))
	assert.ErrorIs(err, ErrShapeMismatch)
}

func TestAffineImageLowerDimensional(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	// singular square map onto the diagonal
	sing := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	img, err := square.AffineImage(sing)
	require.NoError(err)
	assert.False(img.IsEmpty())
	assert.True(img.Contains(mat.NewVecDense(2, []float64{1, 1}), 1e-9))
	assert.True(img.Contains(mat.NewVecDense(2, []float64{-2, -2}), 1e-9))
	assert.False(img.Contains(mat.NewVecDense(2, []float64{1, 0}), 1e-6))
	assert.False(img.Contains(mat.NewVecDense(2, []float64{2.1, 2.1}), 1e-6))

	verts, err := img.Vertices()
	require.NoError(err)
	assert.Len(verts, 2)

	lo, hi, err := img.Bounds()
	require.NoError(err)
	assert.InDeltaSlice([]float64{-2, -2}, lo, 1e-9)
	assert.InDeltaSlice([]float64{2, 2}, hi, 1e-9)

	// projection onto the first axis within the plane
	proj := mat.NewDense(2, 2, []float64{1, 0, 0, 0})
	img, err = triangle.AffineImage(proj)
	require.NoError(err)
	seg, err := Box([]float64{0, 0}, []float64{1, 0})
	require.NoError(err)
	eq, err := img.Equal(seg, 1e-9)
	assert.NoError(err)
	assert.True(eq)

	// lifting map onto the plane z = x + y
	lift := mat.NewDense(3, 2, []float64{1, 0, 0, 1, 1, 1})
	img, err = square.AffineImage(lift)
	require.NoError(err)
	assert.Equal(3, img.Dim())
	assert.True(img.Contains(mat.NewVecDense(3, []float64{0.5, 0.5, 1}), 1e-9))
	assert.True(img.Contains(mat.NewVecDense(3, []float64{-1, 1, 0}), 1e-9))
	assert.False(img.Contains(mat.NewVecDense(3, []float64{0.5, 0.5, 0}), 1e-6))
	assert.False(img.Contains(mat.NewVecDense(3, []float64{1.5, 0, 1.5}), 1e-6))

	// zero map collapses to the origin
	img, err = square.AffineImage(mat.NewDense(2, 2, nil))
	require.NoError(err)
	origin, err := Box([]float64{0, 0}, []float64{0, 0})
	require.NoError(err)
	eq, err = img.Equal(origin, 1e-9)
	assert.NoError(err)
	assert.True(eq)

	// images of lower dimension still sum with full dimensional sets
	sum, err := square.MinkowskiSum(img)
	require.NoError(err)
	eq, err = sum.Equal(square, 1e-9)
	assert.NoError(err)
	assert.True(eq)
}

func TestSubsetIntersect(t *testing.T) {
	assert := assert.New(t)

	ok, err := small.Subset(square, DefaultTolerance)
	assert.NoError(err)
	assert.True(ok)

	ok, err = square.Subset(small, DefaultTolerance)
	assert.NoError(err)
	assert.False(ok)

	ok, err = Empty(2).Subset(small, DefaultTolerance)
	assert.NoError(err)
	assert.True(ok)

	i, err := square.Intersect(triangle)
	assert.NoError(err)
	eq, err := i.Equal(triangle, 1e-9)
	assert.NoError(err)
	assert.True(eq)
}

func TestString(t *testing.T) {
	assert := assert.New(t)

	str := `Polytope{
A=⎡ 1   0⎤
  ⎢-1   0⎥
  ⎢ 0   1⎥
  ⎣ 0  -1⎦
b=[1  1  1  1]
}`
	assert.Equal(str, square.String())
}
