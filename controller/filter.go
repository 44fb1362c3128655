package controller

import (
	"fmt"
	"math"

	"github.com/milosgajdos/go-control"
	"github.com/milosgajdos/go-control/invariant"
	"github.com/milosgajdos/go-control/result"
	"github.com/milosgajdos/go-control/solver"
	"gonum.org/v1/gonum/mat"
)

// stepProgram builds the single step filter program
//
//	minimize   |u_l - u|^2
//	subject to x_0 = x0
//	           x_1 = A x_0 + B u
//	           u in U
//	           x_1'P x_1 <= 1                        (MinIBSF)
//	           x_1'P x_1 - v0 <= gamma (1 - v0)      (DampIBSF)
func (c *Controller) stepProgram() *solver.Program {
	n, m := c.sys.Dims()
	A, B := c.sys.SystemMatrix(), c.sys.ControlMatrix()

	prog := solver.NewProgram()
	c.x = prog.Var("x", n, 2)
	c.u = prog.Var("u", m, 1)
	c.x0 = prog.Param("x0", n)
	c.uL = prog.Param("u_l", m)

	prog.Eq(c.x.Col(0), c.x0.Vec())
	prog.Eq(c.x.Col(1), solver.Mul(A, c.x.Col(0)).Add(solver.Mul(B, c.u.Col(0))))
	prog.In(c.u.Col(0), c.sys.InputSet())

	rhs := solver.Const(1)
	if c.kind == DampIBSF {
		g := c.params.Filter.Gamma
		c.v0 = prog.Param("v0", 1)
		rhs = solver.Const(g).Add(c.v0.At(0).Scale(1 - g))
	}
	prog.QuadLe(c.x.Col(1), c.cert.P(), rhs)

	prog.MinimizeQuad(c.u.Col(0).Sub(c.uL.Vec()), identity(m))

	return prog
}

// psfProgram builds the predictive safety filter program
//
//	minimize   |u_l - u_0|^2
//	subject to x_0 = x0
//	           x_(k+1) = A x_k + B u_k
//	           x_k in X, u_k in U
//	           x_N'P x_N <= 1
func (c *Controller) psfProgram() *solver.Program {
	n, m := c.sys.Dims()
	N := c.params.N
	A, B := c.sys.SystemMatrix(), c.sys.ControlMatrix()

	prog := solver.NewProgram()
	c.x = prog.Var("x", n, N+1)
	c.u = prog.Var("u", m, N)
	c.x0 = prog.Param("x0", n)
	c.uL = prog.Param("u_l", m)

	prog.Eq(c.x.Col(0), c.x0.Vec())
	for k := 0; k < N; k++ {
		prog.Eq(c.x.Col(k+1), solver.Mul(A, c.x.Col(k)).Add(solver.Mul(B, c.u.Col(k))))
		prog.In(c.x.Col(k), c.sys.StateSet())
		prog.In(c.u.Col(k), c.sys.InputSet())
	}
	prog.QuadLe(c.x.Col(N), c.cert.P(), solver.Const(1))

	prog.MinimizeQuad(c.u.Col(0).Sub(c.uL.Vec()), identity(m))

	return prog
}

// proposed returns the proposed input carried by ext
func (c *Controller) proposed(ext *control.Externals) (mat.Vector, error) {
	if ext == nil || ext.Input == nil {
		return nil, fmt.Errorf("%w: %v requires a proposed input", control.ErrConfiguration, c.kind)
	}

	if _, m := c.sys.Dims(); ext.Input.Len() != m {
		return nil, fmt.Errorf("%w: proposed input must be a vector of length %d", control.ErrShapeMismatch, m)
	}

	return ext.Input, nil
}

// solveIBSF returns the proposed input if the next nominal state stays in the
// invariant set and the input is admissible, and the certified feedback otherwise.
func (c *Controller) solveIBSF(x mat.Vector, ext *control.Externals) (*result.Base, error) {
	uL, err := c.proposed(ext)
	if err != nil {
		return nil, err
	}

	next, err := c.sys.Propagate(x, uL, nil)
	if err != nil {
		return nil, err
	}

	if c.cert.Contains(next, invariant.DefaultTolerance) && c.sys.InputSet().Contains(uL, invariant.DefaultTolerance) {
		return result.NewBase(uL)
	}

	res, err := result.NewBase(c.cert.Feedback(x))
	if err != nil {
		return nil, err
	}

	return res.WithOverride(true), nil
}

func (c *Controller) solveFilter(x mat.Vector, ext *control.Externals) (*result.Base, error) {
	uL, err := c.proposed(ext)
	if err != nil {
		return nil, err
	}

	if err := c.prog.Bind(c.x0, x); err != nil {
		return nil, err
	}
	if err := c.prog.Bind(c.uL, uL); err != nil {
		return nil, err
	}

	if c.v0 != nil {
		v := c.cert.Value(x)
		if ext.Lyapunov != nil {
			v = *ext.Lyapunov
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: Lyapunov value %g", control.ErrConfiguration, v)
		}
		if err := c.prog.BindScalar(c.v0, v); err != nil {
			return nil, err
		}
	}

	sol, failed := c.run()
	if failed != nil {
		return failed, nil
	}

	res, err := c.plan(sol, nil)
	if err != nil {
		return nil, err
	}

	u := res.Control()
	dev := 0.0
	for i := 0; i < u.Len(); i++ {
		dev = math.Max(dev, math.Abs(u.AtVec(i)-uL.AtVec(i)))
	}

	return res.WithOverride(dev > c.opts.OverrideTol), nil
}

func identity(n int) *mat.SymDense {
	I := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		I.SetSym(i, i, 1)
	}
	return I
}
