package controller

import (
	"fmt"
	"math"

	"github.com/milosgajdos/go-control"
	"github.com/milosgajdos/go-control/invariant"
	"github.com/milosgajdos/go-control/lmi"
	"github.com/milosgajdos/go-control/system"
	"gonum.org/v1/gonum/mat"
)

// DefaultGamma is the default barrier dampening of DampIBSF
const DefaultGamma = 1.0

// Params are static controller parameters.
// Only the fields used by the selected variant are read.
type Params struct {
	// N is prediction horizon of MPC variants and PSF
	N int
	// Q is state stage cost weight, identity if nil
	Q mat.Symmetric
	// R is input stage cost weight, identity if nil
	R mat.Symmetric
	// Terminal is terminal ingredient of nominal MPC
	Terminal Terminal
	// K is the tube feedback gain of RMPC and SMPC, LQR gain if nil
	K mat.Matrix
	// Stochastic configures SMPC
	Stochastic *Stochastic
	// Filter configures safety filters
	Filter *Filter
}

// Stochastic are stochastic MPC parameters
type Stochastic struct {
	// Noise is the disturbance distribution
	Noise control.Noise
	// Probability is the required constraint satisfaction probability
	Probability float64
	// Strategy is nominal state initialisation strategy
	Strategy Strategy
	// Samples is the number of rollouts of sample-based tightening
	Samples int
	// SampleBased forces sample-based tightening
	SampleBased bool
}

// Filter are safety filter parameters
type Filter struct {
	// Certificate is invariant certificate, synthesised from the system if nil
	Certificate *invariant.Certificate
	// Gamma is DampIBSF barrier dampening in [0, 1]
	Gamma float64
	// LMI configures certificate synthesis
	LMI *lmi.Settings
}

// validate checks p against sys for controller variant k and returns
// a copy of p with defaults filled in.
func validate(k Kind, sys *system.Linear, p Params) (Params, error) {
	if _, ok := kindNames[k]; !ok {
		return p, fmt.Errorf("%w: unknown controller %v", control.ErrConfiguration, k)
	}

	if sys == nil {
		return p, fmt.Errorf("%w: system must be defined", control.ErrConfiguration)
	}

	n, m := sys.Dims()

	if k.horizon() && p.N < 1 {
		return p, fmt.Errorf("%w: %v horizon must be positive, got %d", control.ErrConfiguration, k, p.N)
	}

	var err error
	if p.Q, err = weight("Q", p.Q, n); err != nil {
		return p, err
	}
	if p.R, err = weight("R", p.R, m); err != nil {
		return p, err
	}

	if p.K != nil {
		if r, c := p.K.Dims(); r != m || c != n {
			return p, fmt.Errorf("%w: feedback gain %dx%d, expected %dx%d", control.ErrConfiguration, r, c, m, n)
		}
	}

	switch k {
	case MPC:
		if p.Terminal != TerminalEquality && p.Terminal != TerminalCost {
			return p, fmt.Errorf("%w: unknown terminal %v", control.ErrConfiguration, p.Terminal)
		}
	case SMPC:
		s := p.Stochastic
		if s == nil || s.Noise == nil {
			return p, fmt.Errorf("%w: %v requires noise", control.ErrConfiguration, k)
		}
		if s.Noise.Dim() != n {
			return p, fmt.Errorf("%w: noise dimension %d, expected %d", control.ErrConfiguration, s.Noise.Dim(), n)
		}
		if s.Probability <= 0 || s.Probability >= 1 || math.IsNaN(s.Probability) {
			return p, fmt.Errorf("%w: probability must be in (0, 1), got %g", control.ErrConfiguration, s.Probability)
		}
		if s.Strategy != RecoveryInitialization && s.Strategy != IndirectFeedback {
			return p, fmt.Errorf("%w: unknown strategy %v", control.ErrConfiguration, s.Strategy)
		}
		if s.Samples < 0 {
			return p, fmt.Errorf("%w: negative sample count %d", control.ErrConfiguration, s.Samples)
		}
	}

	if k.filter() {
		f := Filter{Gamma: DefaultGamma}
		if p.Filter != nil {
			f = *p.Filter
		}
		if f.Certificate != nil && f.Certificate.Dim() != n {
			return p, fmt.Errorf("%w: certificate dimension %d, expected %d", control.ErrConfiguration, f.Certificate.Dim(), n)
		}
		if k == DampIBSF && (f.Gamma < 0 || f.Gamma > 1 || math.IsNaN(f.Gamma)) {
			return p, fmt.Errorf("%w: gamma must be in [0, 1], got %g", control.ErrConfiguration, f.Gamma)
		}
		p.Filter = &f
	}

	return p, nil
}

// weight returns W or an identity of size n if W is nil
func weight(name string, W mat.Symmetric, n int) (mat.Symmetric, error) {
	if W == nil {
		return identity(n), nil
	}

	if W.SymmetricDim() != n {
		return nil, fmt.Errorf("%w: %s weight %dx%d, expected %dx%d", control.ErrConfiguration, name, W.SymmetricDim(), W.SymmetricDim(), n, n)
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(W, false); !ok {
		return nil, fmt.Errorf("%w: %s weight eigen decomposition failed", control.ErrConfiguration, name)
	}
	for _, v := range eig.Values(nil) {
		if v < -1e-12 {
			return nil, fmt.Errorf("%w: %s weight is not positive semidefinite", control.ErrConfiguration, name)
		}
	}

	return W, nil
}
