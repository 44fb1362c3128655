package solver

import (
	"gonum.org/v1/gonum/mat"
)

// Expr is a scalar affine expression of decision variables and parameters
type Expr struct {
	vars   map[int]float64
	params map[int]float64
	c      float64
}

// Const returns a constant expression
func Const(c float64) Expr {
	return Expr{c: c}
}

func (e Expr) clone() Expr {
	out := Expr{c: e.c}
	if len(e.vars) > 0 {
		out.vars = make(map[int]float64, len(e.vars))
		for k, v := range e.vars {
			out.vars[k] = v
		}
	}
	if len(e.params) > 0 {
		out.params = make(map[int]float64, len(e.params))
		for k, v := range e.params {
			out.params[k] = v
		}
	}
	return out
}

// Add returns e + f
func (e Expr) Add(f Expr) Expr {
	out := e.clone()
	out.c += f.c
	for k, v := range f.vars {
		if out.vars == nil {
			out.vars = make(map[int]float64)
		}
		out.vars[k] += v
	}
	for k, v := range f.params {
		if out.params == nil {
			out.params = make(map[int]float64)
		}
		out.params[k] += v
	}
	return out
}

// Sub returns e - f
func (e Expr) Sub(f Expr) Expr {
	return e.Add(f.Scale(-1))
}

// Scale returns s*e
func (e Expr) Scale(s float64) Expr {
	out := e.clone()
	out.c *= s
	for k := range out.vars {
		out.vars[k] *= s
	}
	for k := range out.params {
		out.params[k] *= s
	}
	return out
}

// Vec is a vector of affine expressions
type Vec []Expr

// ConstVec returns a constant expression vector
func ConstVec(x mat.Vector) Vec {
	out := make(Vec, x.Len())
	for i := range out {
		out[i] = Const(x.AtVec(i))
	}
	return out
}

// Add returns v + w. It panics if the lengths differ.
func (v Vec) Add(w Vec) Vec {
	if len(v) != len(w) {
		panic(mat.ErrShape)
	}
	out := make(Vec, len(v))
	for i := range v {
		out[i] = v[i].Add(w[i])
	}
	return out
}

// Sub returns v - w. It panics if the lengths differ.
func (v Vec) Sub(w Vec) Vec {
	if len(v) != len(w) {
		panic(mat.ErrShape)
	}
	out := make(Vec, len(v))
	for i := range v {
		out[i] = v[i].Sub(w[i])
	}
	return out
}

// Scale returns s*v
func (v Vec) Scale(s float64) Vec {
	out := make(Vec, len(v))
	for i := range v {
		out[i] = v[i].Scale(s)
	}
	return out
}

// Mul returns M*v. It panics if M column count differs from v length.
func Mul(M mat.Matrix, v Vec) Vec {
	r, c := M.Dims()
	if c != len(v) {
		panic(mat.ErrShape)
	}

	out := make(Vec, r)
	for i := 0; i < r; i++ {
		e := Const(0)
		for j := 0; j < c; j++ {
			if a := M.At(i, j); a != 0 {
				e = e.Add(v[j].Scale(a))
			}
		}
		out[i] = e
	}
	return out
}

// Var is a block of decision variables stored column by column
type Var struct {
	name       string
	off        int
	rows, cols int
}

// Name returns variable name
func (v *Var) Name() string { return v.name }

// Dims returns variable block dimensions
func (v *Var) Dims() (r, c int) { return v.rows, v.cols }

// At returns the expression of the element (i, j)
func (v *Var) At(i, j int) Expr {
	if i < 0 || i >= v.rows || j < 0 || j >= v.cols {
		panic(mat.ErrIndexOutOfRange)
	}
	return Expr{vars: map[int]float64{v.off + j*v.rows + i: 1}}
}

// Col returns the expressions of the column j
func (v *Var) Col(j int) Vec {
	out := make(Vec, v.rows)
	for i := range out {
		out[i] = v.At(i, j)
	}
	return out
}

// Param is a named vector of parameters bound at solve time
type Param struct {
	name string
	off  int
	size int
}

// Name returns parameter name
func (p *Param) Name() string { return p.name }

// Len returns parameter length
func (p *Param) Len() int { return p.size }

// At returns the expression of the element i
func (p *Param) At(i int) Expr {
	if i < 0 || i >= p.size {
		panic(mat.ErrIndexOutOfRange)
	}
	return Expr{params: map[int]float64{p.off + i: 1}}
}

// Vec returns the expressions of all the elements
func (p *Param) Vec() Vec {
	out := make(Vec, p.size)
	for i := range out {
		out[i] = p.At(i)
	}
	return out
}
