package matrix

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RowNorms returns a slice containing Euclidean norms of m rows.
// It panics if m is nil.
func RowNorms(m *mat.Dense) []float64 {
	rows, _ := m.Dims()
	norms := make([]float64, rows)

	for i := 0; i < rows; i++ {
		norms[i] = floats.Norm(m.RawRowView(i), 2)
	}

	return norms
}

// Symmetrize returns the symmetric part (m + m')/2 of square matrix m.
// It panics if m is not square.
func Symmetrize(m mat.Matrix) *mat.SymDense {
	r, c := m.Dims()
	if r != c {
		panic(mat.ErrShape)
	}

	s := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			s.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}

	return s
}

// QuadForm returns x'*P*x
func QuadForm(x mat.Vector, P mat.Matrix) float64 {
	return mat.Inner(x, P, x)
}

// MulVec returns M*x as a new vector.
func MulVec(M mat.Matrix, x mat.Vector) *mat.VecDense {
	r, _ := M.Dims()
	out := mat.NewVecDense(r, nil)
	out.MulVec(M, x)

	return out
}

// Finite returns true if m contains neither NaN nor Inf values.
func Finite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}

	return true
}

// IsPosDef returns true if symmetric matrix s is positive definite.
func IsPosDef(s mat.Symmetric) bool {
	var chol mat.Cholesky
	return chol.Factorize(s)
}
