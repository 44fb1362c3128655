package control

import "gonum.org/v1/gonum/mat"

// Controller computes a control action for the current system state.
type Controller interface {
	// Solve binds the current state x and the variant externals ext
	// to the controller program, solves it and returns the result.
	Solve(x mat.Vector, ext *Externals) (Result, error)
}

// Result is a uniform controller solve result
type Result interface {
	// Status returns solve status
	Status() Status
	// Control returns the control input or nil if there is none
	Control() mat.Vector
	// State returns planned state trajectory or nil if there is none
	State() mat.Matrix
	// Input returns planned input trajectory or nil if there is none
	Input() mat.Matrix
	// Err returns the error which caused a non-optimal status
	Err() error
}

// Externals are variant specific runtime parameters of a controller
type Externals struct {
	// Input is the proposed (learning-based) control input
	Input mat.Vector
	// Lyapunov is the certified Lyapunov value V(x0).
	// If nil, controllers which need it compute it from their certificate.
	Lyapunov *float64
}

// Noise is a disturbance generator
type Noise interface {
	// Sample returns a sample of the noise
	Sample() mat.Vector
	// Dim returns noise dimension
	Dim() int
	// Reset resets the noise
	Reset()
}

// Propagator propagates internal state of the system to the next step
type Propagator interface {
	// Propagate propagates internal state of the system to the next step
	Propagate(x, u, w mat.Vector) (mat.Vector, error)
}

// LinearSystem is a discrete-time linear system with polytopic constraints
type LinearSystem interface {
	// Propagator is system propagator
	Propagator
	// Dims returns state and input dimensions
	Dims() (n, m int)
	// SystemMatrix returns state propagation matrix
	SystemMatrix() mat.Matrix
	// ControlMatrix returns state propagation control matrix
	ControlMatrix() mat.Matrix
}
