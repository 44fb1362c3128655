package solver

import (
	"fmt"

	"github.com/milosgajdos/go-control"
	cmat "github.com/milosgajdos/go-control/matrix"
	"github.com/milosgajdos/go-control/polytope"
	"gonum.org/v1/gonum/mat"
)

// quadTerm is the quadratic form e'We of an affine expression vector e
type quadTerm struct {
	e Vec
	w *mat.SymDense
}

// quadCons is the constraint e'We <= rhs
type quadCons struct {
	quadTerm
	rhs Expr
}

// Program is a parameterised convex program builder.
// Builder methods record the first error which is then returned by Compile.
type Program struct {
	nvars   int
	nparams int
	vars    []*Var
	params  []*Param
	names   map[string]struct{}

	eqs   []Expr
	les   []Expr
	quads []quadCons
	cost  []quadTerm
	lin   Expr

	err error
}

// NewProgram creates a new empty program and returns it
func NewProgram() *Program {
	return &Program{names: make(map[string]struct{})}
}

func (p *Program) fail(format string, args ...any) {
	if p.err == nil {
		p.err = fmt.Errorf(format, args...)
	}
}

func (p *Program) name(n string) bool {
	if _, ok := p.names[n]; ok {
		p.fail("%w: duplicate name %q", control.ErrConfiguration, n)
		return false
	}
	p.names[n] = struct{}{}
	return true
}

// Var adds a rows x cols block of decision variables
func (p *Program) Var(name string, rows, cols int) *Var {
	if rows <= 0 || cols <= 0 {
		p.fail("%w: variable %q has dimensions %dx%d", control.ErrConfiguration, name, rows, cols)
		rows, cols = max(rows, 1), max(cols, 1)
	}
	p.name(name)

	v := &Var{name: name, off: p.nvars, rows: rows, cols: cols}
	p.nvars += rows * cols
	p.vars = append(p.vars, v)

	return v
}

// Param adds a named parameter vector of length size
func (p *Program) Param(name string, size int) *Param {
	if size <= 0 {
		p.fail("%w: parameter %q has length %d", control.ErrConfiguration, name, size)
		size = 1
	}
	p.name(name)

	prm := &Param{name: name, off: p.nparams, size: size}
	p.nparams += size
	p.params = append(p.params, prm)

	return prm
}

// Eq adds the constraints lhs == rhs
func (p *Program) Eq(lhs, rhs Vec) {
	if len(lhs) != len(rhs) {
		p.fail("%w: equality of lengths %d and %d", control.ErrShapeMismatch, len(lhs), len(rhs))
		return
	}
	for i := range lhs {
		p.eqs = append(p.eqs, lhs[i].Sub(rhs[i]))
	}
}

// Le adds the constraints lhs <= rhs
func (p *Program) Le(lhs, rhs Vec) {
	if len(lhs) != len(rhs) {
		p.fail("%w: inequality of lengths %d and %d", control.ErrShapeMismatch, len(lhs), len(rhs))
		return
	}
	for i := range lhs {
		p.les = append(p.les, lhs[i].Sub(rhs[i]))
	}
}

// In adds the constraint x in P
func (p *Program) In(x Vec, P *polytope.Polytope) {
	if P == nil {
		p.fail("%w: nil constraint set", control.ErrConfiguration)
		return
	}
	if P.Dim() != len(x) {
		p.fail("%w: set of dimension %d for expression of length %d", control.ErrShapeMismatch, P.Dim(), len(x))
		return
	}
	p.Le(Mul(P.A(), x), ConstVec(P.B()))
}

// QuadLe adds the constraint x'Wx <= rhs for positive semidefinite W
func (p *Program) QuadLe(x Vec, W mat.Symmetric, rhs Expr) {
	if W.SymmetricDim() != len(x) {
		p.fail("%w: quadratic constraint weight %d for expression of length %d", control.ErrShapeMismatch, W.SymmetricDim(), len(x))
		return
	}
	p.quads = append(p.quads, quadCons{quadTerm: quadTerm{e: x, w: symCopy(W)}, rhs: rhs})
}

// MinimizeQuad adds x'Wx to the objective
func (p *Program) MinimizeQuad(x Vec, W mat.Symmetric) {
	if W.SymmetricDim() != len(x) {
		p.fail("%w: cost weight %d for expression of length %d", control.ErrShapeMismatch, W.SymmetricDim(), len(x))
		return
	}
	p.cost = append(p.cost, quadTerm{e: x, w: symCopy(W)})
}

// MinimizeLinear adds e to the objective
func (p *Program) MinimizeLinear(e Expr) {
	p.lin = p.lin.Add(e)
}

func symCopy(W mat.Symmetric) *mat.SymDense {
	s := mat.NewSymDense(W.SymmetricDim(), nil)
	s.CopySym(W)
	return s
}

// affine is the matrix form E*z + F*theta + c of an expression vector
type affine struct {
	E *mat.Dense
	F *mat.Dense
	c *mat.VecDense
}

func (p *Program) affine(v Vec) affine {
	k := len(v)
	a := affine{
		E: mat.NewDense(k, p.nvars, nil),
		F: mat.NewDense(k, max(p.nparams, 1), nil),
		c: mat.NewVecDense(k, nil),
	}
	for i, e := range v {
		for j, coef := range e.vars {
			a.E.Set(i, j, coef)
		}
		for j, coef := range e.params {
			a.F.Set(i, j, coef)
		}
		a.c.SetVec(i, e.c)
	}
	return a
}

// Compile compiles the program into a fixed structure whose numeric
// instances differ only in parameter values.
func (p *Program) Compile() (*Compiled, error) {
	if p.err != nil {
		return nil, p.err
	}

	if p.nvars == 0 {
		return nil, fmt.Errorf("%w: program has no variables", control.ErrConfiguration)
	}

	for _, e := range append(append(append([]Expr{}, p.eqs...), p.les...), p.lin) {
		if err := p.check(e); err != nil {
			return nil, err
		}
	}

	n, np := p.nvars, max(p.nparams, 1)
	c := &Compiled{
		prog:   p,
		hess:   mat.NewSymDense(n, nil),
		q0:     mat.NewVecDense(n, nil),
		qTheta: mat.NewDense(n, np, nil),
		theta:  mat.NewVecDense(np, nil),
		bound:  make([]bool, len(p.params)),
	}

	// objective: e'We = z'E'WEz + 2(F theta + c)'WEz + const
	hess := mat.NewDense(n, n, nil)
	for _, t := range p.cost {
		a := p.affine(t.e)
		var EW, EWE, EWF mat.Dense
		EW.Mul(a.E.T(), t.w)
		EWE.Mul(&EW, a.E)
		EWE.Scale(2, &EWE)
		hess.Add(hess, &EWE)

		ewc := mat.NewVecDense(n, nil)
		ewc.MulVec(&EW, a.c)
		c.q0.AddScaledVec(c.q0, 2, ewc)

		EWF.Mul(&EW, a.F)
		EWF.Scale(2, &EWF)
		c.qTheta.Add(c.qTheta, &EWF)
	}
	c.hess = cmat.Symmetrize(hess)

	for j, coef := range p.lin.vars {
		c.q0.SetVec(j, c.q0.AtVec(j)+coef)
	}

	// E z + F theta + c = 0  =>  E z = -c - F theta
	if len(p.eqs) > 0 {
		a := p.affine(p.eqs)
		c.aeq = a.E
		c.beq0 = mat.NewVecDense(len(p.eqs), nil)
		c.beq0.ScaleVec(-1, a.c)
		c.beqTheta = mat.NewDense(len(p.eqs), np, nil)
		c.beqTheta.Scale(-1, a.F)

		var err error
		c.pinv, c.null, err = EqualitySpace(c.aeq)
		if err != nil {
			return nil, err
		}
	}

	if len(p.les) > 0 {
		a := p.affine(p.les)
		c.g = a.E
		c.h0 = mat.NewVecDense(len(p.les), nil)
		c.h0.ScaleVec(-1, a.c)
		c.hTheta = mat.NewDense(len(p.les), np, nil)
		c.hTheta.Scale(-1, a.F)
	}

	for _, qc := range p.quads {
		if err := p.check(qc.rhs); err != nil {
			return nil, err
		}
		for _, e := range qc.e {
			if err := p.check(e); err != nil {
				return nil, err
			}
		}

		a := p.affine(qc.e)
		r := p.affine(Vec{qc.rhs})

		var EW, EWE mat.Dense
		EW.Mul(a.E.T(), qc.w)
		EWE.Mul(&EW, a.E)

		c.quads = append(c.quads, compiledQuad{
			q:   cmat.Symmetrize(&EWE),
			ew:  mat.DenseCopyOf(&EW),
			a:   a,
			w:   qc.w,
			rz:  mat.VecDenseCopyOf(r.E.RowView(0)),
			rth: mat.VecDenseCopyOf(r.F.RowView(0)),
			rc:  r.c.AtVec(0),
		})
	}

	return c, nil
}

func (p *Program) check(e Expr) error {
	for j := range e.vars {
		if j < 0 || j >= p.nvars {
			return fmt.Errorf("%w: expression refers to unknown variable %d", control.ErrConfiguration, j)
		}
	}
	for j := range e.params {
		if j < 0 || j >= p.nparams {
			return fmt.Errorf("%w: expression refers to unknown parameter %d", control.ErrConfiguration, j)
		}
	}
	return nil
}

type compiledQuad struct {
	// q is E'WE
	q *mat.SymDense
	// ew is E'W
	ew  *mat.Dense
	a   affine
	w   *mat.SymDense
	rz  *mat.VecDense
	rth *mat.VecDense
	rc  float64
}

// Compiled is a compiled program.
// The objective Hessian, constraint matrices and equality null space are fixed;
// only parameter values change between instances.
type Compiled struct {
	prog *Program

	hess   *mat.SymDense
	q0     *mat.VecDense
	qTheta *mat.Dense

	aeq      *mat.Dense
	beq0     *mat.VecDense
	beqTheta *mat.Dense
	pinv     *mat.Dense
	null     *mat.Dense

	g      *mat.Dense
	h0     *mat.VecDense
	hTheta *mat.Dense

	quads []compiledQuad

	theta *mat.VecDense
	bound []bool
}

// NumVars returns number of scalar decision variables
func (c *Compiled) NumVars() int {
	return c.prog.nvars
}

// Class returns program class
func (c *Compiled) Class() Class {
	if len(c.quads) > 0 {
		return QCQP
	}
	return QP
}

// Bind sets the values of parameter prm
func (c *Compiled) Bind(prm *Param, values mat.Vector) error {
	idx := -1
	for i, q := range c.prog.params {
		if q == prm {
			idx = i
			break
		}
	}

	if idx < 0 {
		return fmt.Errorf("%w: unknown parameter", control.ErrConfiguration)
	}

	if values == nil || values.Len() != prm.size {
		got := 0
		if values != nil {
			got = values.Len()
		}
		return fmt.Errorf("%w: parameter %q has length %d, got %d", control.ErrShapeMismatch, prm.name, prm.size, got)
	}

	for i := 0; i < prm.size; i++ {
		c.theta.SetVec(prm.off+i, values.AtVec(i))
	}
	c.bound[idx] = true

	return nil
}

// BindScalar sets the value of a scalar parameter
func (c *Compiled) BindScalar(prm *Param, v float64) error {
	return c.Bind(prm, mat.NewVecDense(1, []float64{v}))
}

// Instance returns the numeric problem for the currently bound parameters.
// It returns error if some parameter has not been bound.
func (c *Compiled) Instance() (*Problem, error) {
	for i, ok := range c.bound {
		if !ok {
			return nil, fmt.Errorf("%w: parameter %q is not bound", control.ErrConfiguration, c.prog.params[i].name)
		}
	}

	n := c.prog.nvars

	q := mat.NewVecDense(n, nil)
	q.MulVec(c.qTheta, c.theta)
	q.AddVec(q, c.q0)

	p := &Problem{
		P:    c.hess,
		Q:    q,
		Pinv: c.pinv,
		Null: c.null,
		Key:  c,
	}

	if c.aeq != nil {
		b := mat.NewVecDense(c.beq0.Len(), nil)
		b.MulVec(c.beqTheta, c.theta)
		b.AddVec(b, c.beq0)
		p.A, p.B = c.aeq, b
	}

	if c.g != nil {
		h := mat.NewVecDense(c.h0.Len(), nil)
		h.MulVec(c.hTheta, c.theta)
		h.AddVec(h, c.h0)
		p.G, p.H = c.g, h
	}

	// (Ez + f)'W(Ez + f) - rz'z - rth'theta - rc with f = F theta + c
	for _, cq := range c.quads {
		k := cq.a.c.Len()
		f := mat.NewVecDense(k, nil)
		f.MulVec(cq.a.F, c.theta)
		f.AddVec(f, cq.a.c)

		a := mat.NewVecDense(n, nil)
		a.MulVec(cq.ew, f)
		a.ScaleVec(2, a)
		a.SubVec(a, cq.rz)

		d := mat.Inner(f, cq.w, f) - mat.Dot(cq.rth, c.theta) - cq.rc

		p.Quad = append(p.Quad, Quadratic{Q: cq.q, A: a, D: d})
	}

	return p, nil
}

// Value extracts the values of variable v from the solution x
func (c *Compiled) Value(x mat.Vector, v *Var) *mat.Dense {
	out := mat.NewDense(v.rows, v.cols, nil)
	for j := 0; j < v.cols; j++ {
		for i := 0; i < v.rows; i++ {
			out.Set(i, j, x.AtVec(v.off+j*v.rows+i))
		}
	}
	return out
}
