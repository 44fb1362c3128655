package ipm

import (
	"math"

	cmat "github.com/milosgajdos/go-control/matrix"
	"github.com/milosgajdos/go-control/solver"
	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// constTol is the relative norm below which a reduced linear row is constant
const constTol = 1e-10

// quadObj is the objective 1/2 y'Py + q'y
type quadObj struct {
	p *mat.SymDense
	q []float64
}

func (o quadObj) value(y []float64) float64 {
	v := mat.NewVecDense(len(y), y)
	return 0.5*mat.Inner(v, o.p, v) + floats.Dot(o.q, y)
}

// constraint is y'Qy + a'y + d <= 0, q is nil for linear constraints
type constraint struct {
	q *mat.SymDense
	a []float64
	d float64
}

func (c constraint) value(y []float64) float64 {
	v := floats.Dot(c.a, y) + c.d
	if c.q != nil {
		yv := mat.NewVecDense(len(y), y)
		v += mat.Inner(yv, c.q, yv)
	}
	return v
}

func (c constraint) gradient(y, g []float64) {
	copy(g, c.a)
	if c.q != nil {
		qy := mat.NewVecDense(len(y), nil)
		qy.MulVec(c.q, mat.NewVecDense(len(y), y))
		floats.AddScaled(g, 2, qy.RawVector().Data)
	}
}

// reduced is the problem in the coordinates w of z = zp + N*w
// which satisfy the equality constraints by construction.
type reduced struct {
	k    int
	zp   *mat.VecDense
	null *mat.Dense
	obj  quadObj
	cons []constraint
}

// lift returns z = zp + N*w
func (r *reduced) lift(w []float64) *mat.VecDense {
	z := mat.VecDenseCopyOf(r.zp)
	if r.k > 0 {
		nw := mat.NewVecDense(z.Len(), nil)
		nw.MulVec(r.null, mat.NewVecDense(r.k, w))
		z.AddVec(z, nw)
	}
	return z
}

// reduce eliminates the equality constraints of p.
// It returns solver.Infeasible status if the equality constraints are inconsistent.
func reduce(p *solver.Problem, tol float64) (*reduced, solver.Status, error) {
	n := p.Dim()

	zp := mat.NewVecDense(n, nil)
	null := p.Null
	k := n

	if p.A != nil {
		pinv := p.Pinv
		if pinv == nil {
			var err error
			pinv, null, err = solver.EqualitySpace(p.A)
			if err != nil {
				return nil, solver.NumericalError, err
			}
		}

		zp.MulVec(pinv, p.B)

		res := mat.NewVecDense(p.B.Len(), nil)
		res.MulVec(p.A, zp)
		res.SubVec(res, p.B)
		if mat.Norm(res, math.Inf(1)) > tol*math.Max(1, mat.Norm(p.B, math.Inf(1))) {
			return nil, solver.Infeasible, nil
		}

		k = 0
		if null != nil {
			_, k = null.Dims()
		}
	} else {
		var err error
		null, err = matrix.NewDenseValIdentity(n, 1.0)
		if err != nil {
			return nil, solver.NumericalError, err
		}
	}

	r := &reduced{k: k, zp: zp, null: null}
	if k == 0 {
		return r, solver.Optimal, nil
	}

	// objective: 1/2 w'N'PNw + (N'P zp + N'q)'w
	var PN, NPN mat.Dense
	PN.Mul(p.P, null)
	NPN.Mul(null.T(), &PN)

	pz := mat.NewVecDense(n, nil)
	pz.MulVec(p.P, zp)
	pz.AddVec(pz, p.Q)
	q := mat.NewVecDense(k, nil)
	q.MulVec(null.T(), pz)

	r.obj = quadObj{p: cmat.Symmetrize(&NPN), q: q.RawVector().Data}

	if p.G != nil {
		var GN mat.Dense
		GN.Mul(p.G, null)
		gz := mat.NewVecDense(p.H.Len(), nil)
		gz.MulVec(p.G, zp)

		// rows acting only on coordinates fixed by the equality constraints
		// keep round-off residue from the null space basis
		zero := constTol * math.Max(1, mat.Norm(p.G, math.Inf(1)))

		rows := p.H.Len()
		for i := 0; i < rows; i++ {
			a := mat.Row(nil, i, &GN)
			if floats.Norm(a, math.Inf(1)) <= zero {
				// constant row: either always satisfied or never
				if gz.AtVec(i) > p.H.AtVec(i)+tol*math.Max(1, math.Abs(p.H.AtVec(i))) {
					return nil, solver.Infeasible, nil
				}
				continue
			}
			r.cons = append(r.cons, constraint{a: a, d: gz.AtVec(i) - p.H.AtVec(i)})
		}
	}

	// (zp + Nw)'Q(zp + Nw) + a'(zp + Nw) + d
	for _, qc := range p.Quad {
		var QN, NQN mat.Dense
		QN.Mul(qc.Q, null)
		NQN.Mul(null.T(), &QN)

		qz := mat.NewVecDense(n, nil)
		qz.MulVec(qc.Q, zp)
		lin := mat.NewVecDense(n, nil)
		lin.AddScaledVec(qc.A, 2, qz)
		a := mat.NewVecDense(k, nil)
		a.MulVec(null.T(), lin)

		r.cons = append(r.cons, constraint{
			q: cmat.Symmetrize(&NQN),
			a: a.RawVector().Data,
			d: mat.Dot(zp, qz) + mat.Dot(qc.A, zp) + qc.D,
		})
	}

	return r, solver.Optimal, nil
}
