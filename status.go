package control

// Status is the outcome of a single solve call
type Status int

const (
	// Unsolved means no solve has been attempted
	Unsolved Status = iota
	// Optimal means the solver found an optimal solution
	Optimal
	// Infeasible means the problem has no feasible point
	Infeasible
	// SolverError means the solver failed to produce a usable result
	SolverError
)

// String implements the Stringer interface.
func (s Status) String() string {
	switch s {
	case Unsolved:
		return "unsolved"
	case Optimal:
		return "optimal"
	case Infeasible:
		return "infeasible"
	case SolverError:
		return "solver_error"
	default:
		return "unknown"
	}
}

// OK returns true if s is Optimal
func (s Status) OK() bool {
	return s == Optimal
}
