package lmi

import (
	"fmt"

	"github.com/milosgajdos/go-control"
	cmat "github.com/milosgajdos/go-control/matrix"
	"gonum.org/v1/gonum/mat"
)

// Affine is an affine symmetric matrix valued function
//
//	F(v) = F0 + v[0]*F1 + ... + v[k-1]*Fk
type Affine struct {
	f0 *mat.SymDense
	fi []*mat.SymDense
}

// NewAffine creates a new affine matrix function with constant term f0 and coefficients fi.
func NewAffine(f0 mat.Symmetric, fi ...mat.Symmetric) (*Affine, error) {
	n := f0.SymmetricDim()
	a := &Affine{
		f0: mat.NewSymDense(n, nil),
		fi: make([]*mat.SymDense, len(fi)),
	}
	a.f0.CopySym(f0)

	for i, f := range fi {
		if f.SymmetricDim() != n {
			return nil, fmt.Errorf("%w: coefficient %d is %dx%d, expected %dx%d", control.ErrShapeMismatch, i, f.SymmetricDim(), f.SymmetricDim(), n, n)
		}
		a.fi[i] = mat.NewSymDense(n, nil)
		a.fi[i].CopySym(f)
	}

	return a, nil
}

// FromFunc creates an affine matrix function of nvars variables by evaluating f
// at the origin and at the unit vectors. f must be affine in v and return square matrices.
func FromFunc(nvars int, f func(v []float64) mat.Matrix) (*Affine, error) {
	if nvars <= 0 {
		return nil, fmt.Errorf("%w: invalid number of variables: %d", control.ErrConfiguration, nvars)
	}

	v := make([]float64, nvars)
	m0 := f(v)
	r, c := m0.Dims()
	if r != c {
		return nil, fmt.Errorf("%w: affine function must be square, got %dx%d", control.ErrShapeMismatch, r, c)
	}
	f0 := cmat.Symmetrize(m0)

	fi := make([]mat.Symmetric, nvars)
	for i := range fi {
		v[i] = 1.0
		mi := f(v)
		v[i] = 0.0

		if ri, ci := mi.Dims(); ri != r || ci != c {
			return nil, fmt.Errorf("%w: affine function changed shape at variable %d", control.ErrShapeMismatch, i)
		}

		d := cmat.Symmetrize(mi)
		d.SubSym(d, f0)
		fi[i] = d
	}

	return NewAffine(f0, fi...)
}

// Size returns the size of the matrix F(v)
func (a *Affine) Size() int {
	return a.f0.SymmetricDim()
}

// NumVars returns the number of variables
func (a *Affine) NumVars() int {
	return len(a.fi)
}

// At evaluates the function at v
func (a *Affine) At(v []float64) *mat.SymDense {
	if len(v) != len(a.fi) {
		panic(mat.ErrShape)
	}

	out := mat.NewSymDense(a.Size(), nil)
	out.CopySym(a.f0)
	for i, f := range a.fi {
		if v[i] != 0 {
			out.AddSym(out, scaled(v[i], f))
		}
	}

	return out
}

func scaled(s float64, f *mat.SymDense) *mat.SymDense {
	out := mat.NewSymDense(f.SymmetricDim(), nil)
	out.ScaleSym(s, f)
	return out
}
