package matrix

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestRowNorms(t *testing.T) {
	assert := assert.New(t)

	m := mat.NewDense(3, 2, []float64{3, 4, 1, 0, 0, -2})
	norms := RowNorms(m)
	assert.InDeltaSlice([]float64{5, 1, 2}, norms, 1e-12)

	assert.Panics(func() { RowNorms(nil) })
}

func TestSymmetrize(t *testing.T) {
	assert := assert.New(t)

	m := mat.NewDense(2, 2, []float64{1, 2, 4, 3})
	s := Symmetrize(m)
	assert.Equal(3.0, s.At(0, 1))
	assert.Equal(3.0, s.At(1, 0))
	assert.Equal(1.0, s.At(0, 0))

	assert.Panics(func() { Symmetrize(mat.NewDense(2, 3, nil)) })
}

func TestQuadFormMulVec(t *testing.T) {
	assert := assert.New(t)

	P := mat.NewSymDense(2, []float64{2, 0, 0, 3})
	x := mat.NewVecDense(2, []float64{1, 2})
	assert.InDelta(14.0, QuadForm(x, P), 1e-12)

	y := MulVec(mat.NewDense(1, 2, []float64{1, 1}), x)
	assert.Equal(1, y.Len())
	assert.Equal(3.0, y.AtVec(0))
}

func TestFiniteIsPosDef(t *testing.T) {
	assert := assert.New(t)

	assert.True(Finite(mat.NewDense(1, 2, []float64{1, 2})))
	assert.False(Finite(mat.NewDense(1, 2, []float64{1, math.NaN()})))
	assert.False(Finite(mat.NewDense(1, 2, []float64{math.Inf(-1), 0})))

	assert.True(IsPosDef(mat.NewSymDense(2, []float64{2, 0, 0, 1})))
	assert.False(IsPosDef(mat.NewSymDense(2, []float64{1, 2, 2, 1})))
}
