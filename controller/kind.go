package controller

import (
	"fmt"
	"strings"

	"github.com/milosgajdos/go-control"
)

// Kind is controller variant
type Kind int

const (
	// MPC is nominal model predictive control
	MPC Kind = iota
	// RMPC is robust MPC over robustly tightened constraints
	RMPC
	// SMPC is stochastic MPC over chance constraint tightening
	SMPC
	// IBSF is invariance-based safety filter
	IBSF
	// MinIBSF is minimally invasive invariance-based safety filter
	MinIBSF
	// DampIBSF is invariance-based safety filter with dampened barrier constraint
	DampIBSF
	// PSF is predictive safety filter
	PSF
)

var kindNames = map[Kind]string{
	MPC:      "mpc",
	RMPC:     "rmpc",
	SMPC:     "smpc",
	IBSF:     "ibsf",
	MinIBSF:  "min_ibsf",
	DampIBSF: "damp_ibsf",
	PSF:      "psf",
}

// String implements the Stringer interface.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind returns the controller variant named s
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown controller %q", control.ErrConfiguration, s)
}

// horizon returns true if the variant plans over a horizon of N steps
func (k Kind) horizon() bool {
	switch k {
	case MPC, RMPC, SMPC, PSF:
		return true
	}
	return false
}

// filter returns true if the variant is a safety filter
func (k Kind) filter() bool {
	switch k {
	case IBSF, MinIBSF, DampIBSF, PSF:
		return true
	}
	return false
}

// Terminal is terminal ingredient of nominal MPC
type Terminal int

const (
	// TerminalEquality constrains the last predicted state to the origin
	TerminalEquality Terminal = iota
	// TerminalCost only penalises the last predicted state with the LQR cost
	TerminalCost
)

// String implements the Stringer interface.
func (t Terminal) String() string {
	switch t {
	case TerminalEquality:
		return "equality"
	case TerminalCost:
		return "cost"
	default:
		return fmt.Sprintf("Terminal(%d)", int(t))
	}
}

// Strategy is stochastic MPC initialisation strategy
type Strategy int

const (
	// RecoveryInitialization initialises the nominal state with the measured
	// state and falls back to the previous nominal prediction if that is infeasible
	RecoveryInitialization Strategy = iota
	// IndirectFeedback always initialises the nominal state with the previous
	// nominal prediction and penalises the predicted closed loop mean
	IndirectFeedback
)

// String implements the Stringer interface.
func (s Strategy) String() string {
	switch s {
	case RecoveryInitialization:
		return "recovery"
	case IndirectFeedback:
		return "indirect"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy returns the stochastic MPC strategy named s
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "recovery":
		return RecoveryInitialization, nil
	case "indirect":
		return IndirectFeedback, nil
	}
	return 0, fmt.Errorf("%w: unknown strategy %q", control.ErrConfiguration, s)
}
