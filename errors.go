package control

import "errors"

var (
	// ErrConfiguration is returned when static parameters are inconsistent with the system.
	ErrConfiguration = errors.New("control: invalid configuration")

	// ErrShapeMismatch is returned when matrix or vector dimensions disagree.
	ErrShapeMismatch = errors.New("control: shape mismatch")

	// ErrInfeasibleTightening is returned when constraint tightening empties a constraint set.
	ErrInfeasibleTightening = errors.New("control: infeasible constraint tightening")

	// ErrSolverUnavailable is returned when none of the candidate solver backends can be used.
	ErrSolverUnavailable = errors.New("control: no solver backend available")

	// ErrInfeasible is reported when a solve has no feasible point.
	ErrInfeasible = errors.New("control: problem infeasible")

	// ErrSolver is reported when a solver fails to produce a usable result.
	ErrSolver = errors.New("control: solver error")
)
