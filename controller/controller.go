// Package controller implements model predictive controllers and safety filters
// for constrained discrete-time linear systems.
//
// Every controller is built once at construction: parameters are validated,
// a solver backend is resolved, constraints are tightened and invariant
// certificates are synthesised where the variant needs them, and the
// optimisation program is compiled. Solve then only binds the current state
// and the variant externals to the compiled program.
package controller

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/milosgajdos/go-control"
	"github.com/milosgajdos/go-control/invariant"
	"github.com/milosgajdos/go-control/lqr"
	cmat "github.com/milosgajdos/go-control/matrix"
	"github.com/milosgajdos/go-control/result"
	"github.com/milosgajdos/go-control/solver"
	"github.com/milosgajdos/go-control/system"
	"github.com/milosgajdos/go-control/tightening"
	"gonum.org/v1/gonum/mat"
)

// State is controller lifecycle state
type State int

const (
	// Uninitialized means the controller has not been built
	Uninitialized State = iota
	// Built means configuration, solver backend and tightening are settled
	Built
	// Ready means the program is compiled and the controller can be solved
	Ready
)

// String implements the Stringer interface.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Built:
		return "built"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Controller is a model predictive controller or a safety filter.
// Controller is not safe for concurrent use.
type Controller struct {
	kind    Kind
	state   State
	sys     *system.Linear
	params  Params
	opts    Options
	logger  *slog.Logger
	backend solver.Backend

	// terminal is the LQR cost matrix and gain the LQR feedback gain
	terminal *mat.SymDense
	gain     *mat.Dense
	// tube is the tube feedback gain and phi the closed loop A + B*tube
	tube *mat.Dense
	phi  *mat.Dense

	seq    *tightening.Sequence
	chance *tightening.Chance
	cert   *invariant.Certificate

	prog *solver.Compiled
	x, u *solver.Var
	x0   *solver.Param
	e0   *solver.Param
	uL   *solver.Param
	v0   *solver.Param

	// nominal is the predicted nominal successor of stochastic MPC
	nominal   *mat.VecDense
	recovered bool

	// last is the status of the latest solve
	last control.Status
}

var _ control.Controller = (*Controller)(nil)

// New creates a new controller of variant k for the system sys and returns it.
// It returns control.ErrConfiguration if p is inconsistent with sys and
// control.ErrSolverUnavailable if no candidate backend can solve the variant program.
func New(k Kind, sys *system.Linear, p Params, opts ...Option) (*Controller, error) {
	o := newOptions(opts...)

	c := &Controller{
		kind:   k,
		sys:    sys,
		opts:   o,
		logger: o.Logger.With(slog.String("component", "controller"), slog.String("variant", k.String())),
	}

	var err error
	if c.params, err = validate(k, sys, p); err != nil {
		return nil, err
	}

	if err := c.build(); err != nil {
		return nil, err
	}
	c.state = Built

	if err := c.compile(); err != nil {
		return nil, err
	}
	c.state = Ready

	c.logger.Debug("controller ready", slog.String("backend", c.BackendName()))

	return c, nil
}

// NewMPC creates nominal MPC
func NewMPC(sys *system.Linear, p Params, opts ...Option) (*Controller, error) {
	return New(MPC, sys, p, opts...)
}

// NewRMPC creates robust MPC which tightens constraints for the disturbance set of sys
func NewRMPC(sys *system.Linear, p Params, opts ...Option) (*Controller, error) {
	return New(RMPC, sys, p, opts...)
}

// NewSMPC creates stochastic MPC
func NewSMPC(sys *system.Linear, p Params, opts ...Option) (*Controller, error) {
	return New(SMPC, sys, p, opts...)
}

// NewIBSF creates invariance-based safety filter.
// If cert is nil the certificate is synthesised from sys.
func NewIBSF(sys *system.Linear, cert *invariant.Certificate, opts ...Option) (*Controller, error) {
	return New(IBSF, sys, Params{Filter: &Filter{Certificate: cert, Gamma: DefaultGamma}}, opts...)
}

// NewMinIBSF creates minimally invasive invariance-based safety filter
func NewMinIBSF(sys *system.Linear, cert *invariant.Certificate, opts ...Option) (*Controller, error) {
	return New(MinIBSF, sys, Params{Filter: &Filter{Certificate: cert, Gamma: DefaultGamma}}, opts...)
}

// NewDampIBSF creates invariance-based safety filter with barrier dampening gamma
func NewDampIBSF(sys *system.Linear, cert *invariant.Certificate, gamma float64, opts ...Option) (*Controller, error) {
	return New(DampIBSF, sys, Params{Filter: &Filter{Certificate: cert, Gamma: gamma}}, opts...)
}

// NewPSF creates predictive safety filter with horizon N
func NewPSF(sys *system.Linear, cert *invariant.Certificate, N int, opts ...Option) (*Controller, error) {
	return New(PSF, sys, Params{N: N, Filter: &Filter{Certificate: cert, Gamma: DefaultGamma}}, opts...)
}

// build resolves the solver backend, computes the LQR ingredients,
// constraint tightening and the invariant certificate.
func (c *Controller) build() error {
	if c.kind != IBSF {
		class := solver.QP
		switch c.kind {
		case MinIBSF, DampIBSF, PSF:
			class = solver.QCQP
		}

		b, err := solver.Resolve(class, c.opts.Solvers...)
		if err != nil {
			return err
		}
		c.backend = b
	}

	A, B := c.sys.SystemMatrix(), c.sys.ControlMatrix()

	if !c.kind.filter() {
		P, K, err := lqr.DARE(A, B, c.params.Q, c.params.R)
		if err != nil {
			return fmt.Errorf("%w: terminal ingredients: %w", control.ErrConfiguration, err)
		}
		c.terminal, c.gain = P, K
	}

	switch c.kind {
	case RMPC, SMPC:
		c.tube = c.gain
		if c.params.K != nil {
			c.tube = mat.DenseCopyOf(c.params.K)
		}

		phi, err := c.sys.ClosedLoop(c.tube)
		if err != nil {
			return err
		}
		c.phi = phi

		if err := c.tighten(); err != nil {
			return err
		}
	}

	if c.kind.filter() {
		c.cert = c.params.Filter.Certificate
		if c.cert == nil {
			cert, err := invariant.Synthesize(c.sys, c.params.Filter.LMI)
			if err != nil {
				return fmt.Errorf("certificate synthesis: %w", err)
			}
			c.cert = cert
			c.logger.Debug("certificate synthesised")
		}
	}

	return nil
}

func (c *Controller) tighten() error {
	X, U, W := c.sys.StateSet(), c.sys.InputSet(), c.sys.DisturbanceSet()

	if c.kind == RMPC {
		if W == nil {
			c.logger.Warn("no disturbance set, robust tightening equals nominal constraints")
		}

		seq, err := tightening.Robust(X, U, W, c.phi, c.tube, c.params.N)
		if err != nil {
			return err
		}
		c.seq = seq

		return nil
	}

	s := c.params.Stochastic

	var opts []tightening.Option
	if s.Samples > 0 {
		opts = append(opts, tightening.WithSamples(s.Samples))
	}
	if s.SampleBased {
		opts = append(opts, tightening.WithSampleBased())
	}
	if W != nil {
		opts = append(opts, tightening.WithRecovery(W))
	}

	ch, err := tightening.Stochastic(X, U, s.Noise, c.phi, c.tube, c.params.N, s.Probability, opts...)
	if err != nil {
		return err
	}
	c.chance, c.seq = ch, ch.Sequence

	c.logger.Debug("chance constraints tightened", slog.Bool("analytic", ch.Analytic), slog.Bool("recovery", ch.Recovery != nil))

	return nil
}

// compile builds the variant program and compiles it
func (c *Controller) compile() error {
	var prog *solver.Program

	switch c.kind {
	case IBSF:
		return nil
	case MPC, RMPC, SMPC:
		prog = c.horizonProgram()
	case MinIBSF, DampIBSF:
		prog = c.stepProgram()
	case PSF:
		prog = c.psfProgram()
	}

	compiled, err := prog.Compile()
	if err != nil {
		return fmt.Errorf("compile %v program: %w", c.kind, err)
	}
	c.prog = compiled

	return nil
}

// Solve binds the current state x and the variant externals ext, solves the
// program and maps the solution into a result.
// Infeasibility and solver failures are reported by the result status, the
// returned error is reserved for invalid arguments.
func (c *Controller) Solve(x mat.Vector, ext *control.Externals) (control.Result, error) {
	if c.state != Ready {
		return nil, fmt.Errorf("%w: controller is %v", control.ErrConfiguration, c.state)
	}

	if n, _ := c.sys.Dims(); x == nil || x.Len() != n {
		return nil, fmt.Errorf("%w: state must be a vector of length %d", control.ErrShapeMismatch, n)
	}

	start := time.Now()

	var (
		res *result.Base
		err error
	)

	switch c.kind {
	case MPC, RMPC:
		res, err = c.solveNominal(x)
	case SMPC:
		res, err = c.solveStochastic(x)
	case IBSF:
		res, err = c.solveIBSF(x, ext)
	case MinIBSF, DampIBSF, PSF:
		res, err = c.solveFilter(x, ext)
	}

	if err != nil {
		return nil, err
	}

	c.last = res.Status()

	solveDuration.WithLabelValues(c.kind.String()).Observe(time.Since(start).Seconds())
	solvesTotal.WithLabelValues(c.kind.String(), res.Status().String()).Inc()
	if res.Overridden() {
		overridesTotal.WithLabelValues(c.kind.String()).Inc()
	}

	if !res.Status().OK() {
		c.logger.Warn("solve failed", slog.String("status", res.Status().String()), slog.Any("error", res.Err()))
	}

	return res, nil
}

// run solves the currently bound program instance.
// It returns a failed result if the solve did not finish with an optimal solution.
func (c *Controller) run() (*solver.Solution, *result.Base) {
	p, err := c.prog.Instance()
	if err != nil {
		return nil, result.NewFailed(control.SolverError, fmt.Errorf("%w: %w", control.ErrSolver, err))
	}

	sol, err := c.backend.Solve(p)
	if err != nil {
		return nil, result.NewFailed(control.SolverError, fmt.Errorf("%w: %s: %w", control.ErrSolver, c.backend.Name(), err))
	}

	c.logger.Debug("backend finished",
		slog.String("backend", c.backend.Name()),
		slog.String("status", sol.Status.String()),
		slog.Int("iterations", sol.Iterations))

	switch sol.Status {
	case solver.Optimal:
		return sol, nil
	case solver.Infeasible:
		return nil, result.NewFailed(control.Infeasible, fmt.Errorf("%w: %v", control.ErrInfeasible, c.kind))
	default:
		return nil, result.NewFailed(sol.Status.Control(), fmt.Errorf("%w: %s: %v", control.ErrSolver, c.backend.Name(), sol.Status))
	}
}

// Fallback returns the safe default input for state x: the certified
// feedback K*x if the controller has an invariant certificate and the
// LQR feedback otherwise.
func (c *Controller) Fallback(x mat.Vector) (*mat.VecDense, error) {
	if n, _ := c.sys.Dims(); x == nil || x.Len() != n {
		return nil, fmt.Errorf("%w: state must be a vector of length %d", control.ErrShapeMismatch, n)
	}

	if c.cert != nil {
		return c.cert.Feedback(x), nil
	}

	return cmat.MulVec(c.gain, x), nil
}

// Kind returns controller variant
func (c *Controller) Kind() Kind {
	return c.kind
}

// State returns controller lifecycle state
func (c *Controller) State() State {
	return c.state
}

// System returns the controlled system
func (c *Controller) System() *system.Linear {
	return c.sys
}

// BackendName returns the name of the resolved solver backend.
// It returns an empty string for variants which do not solve a program.
func (c *Controller) BackendName() string {
	if c.backend == nil {
		return ""
	}
	return c.backend.Name()
}

// Certificate returns the invariant certificate or nil if the variant has none
func (c *Controller) Certificate() *invariant.Certificate {
	return c.cert
}

// Tightening returns the tightened constraint sequence of RMPC and SMPC, nil otherwise
func (c *Controller) Tightening() *tightening.Sequence {
	return c.seq
}

// Chance returns the stochastic tightening of SMPC, nil otherwise
func (c *Controller) Chance() *tightening.Chance {
	return c.chance
}

// TerminalCost returns a copy of the LQR terminal cost matrix of MPC variants, nil otherwise
func (c *Controller) TerminalCost() *mat.SymDense {
	if c.terminal == nil {
		return nil
	}
	P := mat.NewSymDense(c.terminal.SymmetricDim(), nil)
	P.CopySym(c.terminal)
	return P
}

// Gain returns a copy of the feedback gain used by Fallback
func (c *Controller) Gain() *mat.Dense {
	if c.cert != nil {
		return c.cert.K()
	}
	return mat.DenseCopyOf(c.gain)
}

// Recovered reports whether the last stochastic MPC solve was initialised
// from the previous nominal prediction instead of the measured state.
func (c *Controller) Recovered() bool {
	return c.recovered
}

// Reset forgets the nominal prediction carried between stochastic MPC solves
// and the latest solve status
func (c *Controller) Reset() {
	c.nominal = nil
	c.recovered = false
	c.last = control.Unsolved
}

// LastStatus returns the status of the latest solve.
// It returns control.Unsolved before the first solve and after Reset.
func (c *Controller) LastStatus() control.Status {
	return c.last
}
