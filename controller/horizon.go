package controller

import (
	"fmt"
	"log/slog"

	"github.com/milosgajdos/go-control"
	"github.com/milosgajdos/go-control/polytope"
	"github.com/milosgajdos/go-control/result"
	"github.com/milosgajdos/go-control/solver"
	"gonum.org/v1/gonum/mat"
)

// horizonProgram builds the MPC program
//
//	minimize   sum_k x_k'Q x_k + u_k'R u_k + x_N'P x_N
//	subject to x_0 = x0
//	           x_(k+1) = A x_k + B u_k
//	           x_k in X_k, u_k in U_k
//	           terminal constraint on x_N
//
// RMPC and SMPC plan the nominal trajectory over tightened sets. SMPC with
// indirect feedback penalises the predicted mean x_k + Phi^k e0 instead.
func (c *Controller) horizonProgram() *solver.Program {
	n, m := c.sys.Dims()
	N := c.params.N
	A, B := c.sys.SystemMatrix(), c.sys.ControlMatrix()

	prog := solver.NewProgram()
	c.x = prog.Var("x", n, N+1)
	c.u = prog.Var("u", m, N)
	c.x0 = prog.Param("x0", n)

	indirect := c.kind == SMPC && c.params.Stochastic.Strategy == IndirectFeedback
	if indirect {
		c.e0 = prog.Param("e0", n)
	}

	// mean returns the cost arguments of stage k
	mean := func(k int) (solver.Vec, solver.Vec) {
		xk := c.x.Col(k)
		if !indirect {
			return xk, nil
		}
		pk := new(mat.Dense)
		pk.Pow(c.phi, k)
		d := solver.Mul(pk, c.e0.Vec())
		return xk.Add(d), solver.Mul(c.tube, d)
	}

	prog.Eq(c.x.Col(0), c.x0.Vec())

	for k := 0; k < N; k++ {
		prog.Eq(c.x.Col(k+1), solver.Mul(A, c.x.Col(k)).Add(solver.Mul(B, c.u.Col(k))))

		X, U := c.stage(k)
		prog.In(c.x.Col(k), X)
		prog.In(c.u.Col(k), U)

		xk, du := mean(k)
		uk := c.u.Col(k)
		if du != nil {
			uk = uk.Add(du)
		}
		prog.MinimizeQuad(xk, c.params.Q)
		prog.MinimizeQuad(uk, c.params.R)
	}

	xN := c.x.Col(N)
	switch {
	case c.kind == MPC && c.params.Terminal == TerminalEquality:
		prog.Eq(xN, solver.ConstVec(mat.NewVecDense(n, nil)))
	case c.kind == MPC:
		prog.In(xN, c.sys.StateSet())
	default:
		prog.In(xN, c.terminalSet())
	}

	xf, _ := mean(N)
	prog.MinimizeQuad(xf, c.terminal)

	return prog
}

// stage returns state and input constraint sets of stage k
func (c *Controller) stage(k int) (X, U *polytope.Polytope) {
	if c.seq == nil {
		return c.sys.StateSet(), c.sys.InputSet()
	}
	return c.seq.State(k), c.seq.Input(k)
}

// terminalSet returns the terminal set of RMPC and SMPC.
// SMPC uses the robust recovery terminal set when it is available.
func (c *Controller) terminalSet() *polytope.Polytope {
	if c.chance != nil && c.chance.Recovery != nil {
		return c.chance.Recovery.Terminal()
	}
	return c.seq.Terminal()
}

func (c *Controller) solveNominal(x mat.Vector) (*result.Base, error) {
	if err := c.prog.Bind(c.x0, x); err != nil {
		return nil, err
	}

	sol, failed := c.run()
	if failed != nil {
		return failed, nil
	}

	return c.plan(sol, nil)
}

// solveStochastic solves SMPC and stores the nominal successor for the next step
func (c *Controller) solveStochastic(x mat.Vector) (*result.Base, error) {
	c.recovered = false

	if c.params.Stochastic.Strategy == IndirectFeedback {
		z0 := mat.VecDenseCopyOf(x)
		if c.nominal != nil {
			z0 = mat.VecDenseCopyOf(c.nominal)
		}

		e := mat.NewVecDense(z0.Len(), nil)
		e.SubVec(x, z0)

		if err := c.prog.Bind(c.x0, z0); err != nil {
			return nil, err
		}
		if err := c.prog.Bind(c.e0, e); err != nil {
			return nil, err
		}

		sol, failed := c.run()
		if failed != nil {
			return failed, nil
		}

		return c.advance(sol, e)
	}

	if err := c.prog.Bind(c.x0, x); err != nil {
		return nil, err
	}

	sol, failed := c.run()
	if failed == nil {
		return c.advance(sol, nil)
	}

	if c.nominal == nil || failed.Status() != control.Infeasible {
		return failed, nil
	}

	if err := c.prog.Bind(c.x0, c.nominal); err != nil {
		return nil, err
	}

	sol, failed = c.run()
	if failed != nil {
		return failed, nil
	}

	e := mat.NewVecDense(c.nominal.Len(), nil)
	e.SubVec(x, c.nominal)

	c.recovered = true
	recoveriesTotal.Inc()
	c.logger.Info("recovery initialisation", slog.Float64("error_norm", mat.Norm(e, 2)))

	return c.advance(sol, e)
}

// advance maps the SMPC solution and remembers its nominal successor
func (c *Controller) advance(sol *solver.Solution, e *mat.VecDense) (*result.Base, error) {
	res, err := c.plan(sol, e)
	if err != nil {
		return nil, err
	}

	c.nominal = mat.VecDenseCopyOf(c.prog.Value(sol.X, c.x).ColView(1))

	return res, nil
}

// plan maps the solution to a result which applies the first planned input
// corrected by the tube feedback of the error e if e is not nil.
func (c *Controller) plan(sol *solver.Solution, e *mat.VecDense) (*result.Base, error) {
	X := c.prog.Value(sol.X, c.x)
	U := c.prog.Value(sol.X, c.u)

	u0 := mat.VecDenseCopyOf(U.ColView(0))
	if e != nil {
		du := mat.NewVecDense(u0.Len(), nil)
		du.MulVec(c.tube, e)
		u0.AddVec(u0, du)
	}

	res, err := result.NewBaseWithPlan(u0, X, U)
	if err != nil {
		return nil, fmt.Errorf("%v output mapping: %w", c.kind, err)
	}

	return res, nil
}
