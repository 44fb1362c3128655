package system

import (
	"fmt"

	"github.com/milosgajdos/go-control"
	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"
)

// Method is a continuous to discrete time conversion method
type Method int

const (
	// Euler is the forward Euler approximation Ad = I + Ts*A, Bd = Ts*B.
	Euler Method = iota
	// ZeroOrderHold assumes the input is held constant over the sampling period.
	ZeroOrderHold
)

// String implements fmt.Stringer
func (m Method) String() string {
	switch m {
	case Euler:
		return "euler"
	case ZeroOrderHold:
		return "zoh"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// quadSteps is the number of quadrature points used to integrate exp(A*t)
// when the system matrix is singular.
const quadSteps = 100

// Continuous is a linear, continuous-time dynamical system dx/dt = A*x + B*u.
type Continuous struct {
	a *mat.Dense
	b *mat.Dense
}

// NewContinuous creates a linear continuous-time system and returns it.
func NewContinuous(A, B mat.Matrix) (*Continuous, error) {
	if A == nil || B == nil {
		return nil, fmt.Errorf("%w: system and control matrices must be defined", control.ErrConfiguration)
	}

	ar, ac := A.Dims()
	if ar != ac {
		return nil, fmt.Errorf("%w: system matrix must be square, got %dx%d", control.ErrShapeMismatch, ar, ac)
	}

	if br, _ := B.Dims(); br != ar {
		return nil, fmt.Errorf("%w: control matrix has %d rows, expected %d", control.ErrShapeMismatch, br, ar)
	}

	return &Continuous{a: mat.DenseCopyOf(A), b: mat.DenseCopyOf(B)}, nil
}

// Dims returns state and input dimensions.
func (c *Continuous) Dims() (n, m int) {
	n, m = c.b.Dims()
	return n, m
}

// Derivative returns dx/dt = A*x + B*u.
func (c *Continuous) Derivative(x, u mat.Vector) (mat.Vector, error) {
	n, m := c.Dims()
	if x.Len() != n || (u != nil && u.Len() != m) {
		return nil, fmt.Errorf("%w: invalid state or input vector", control.ErrShapeMismatch)
	}

	out := mat.NewVecDense(n, nil)
	out.MulVec(c.a, x)
	if u != nil {
		outU := mat.NewVecDense(n, nil)
		outU.MulVec(c.b, u)
		out.AddVec(out, outU)
	}

	return out, nil
}

// ToDiscrete returns the discrete-time matrices Ad and Bd for sampling time ts.
func (c *Continuous) ToDiscrete(ts float64, method Method) (Ad, Bd *mat.Dense, err error) {
	if ts <= 0 {
		return nil, nil, fmt.Errorf("%w: sampling time must be positive, got %g", control.ErrConfiguration, ts)
	}

	n, m := c.Dims()
	eye, err := matrix.NewDenseValIdentity(n, 1.0)
	if err != nil {
		return nil, nil, err
	}

	switch method {
	case Euler:
		Ad = new(mat.Dense)
		Ad.Scale(ts, c.a)
		Ad.Add(eye, Ad)

		Bd = new(mat.Dense)
		Bd.Scale(ts, c.b)

		return Ad, Bd, nil
	case ZeroOrderHold:
		Ad = new(mat.Dense)
		Ad.Scale(ts, c.a)
		Ad.Exp(Ad)

		Bd = mat.NewDense(n, m, nil)

		// Bd = (exp(A*Ts) - I) * inv(A) * B when A is invertible
		var Ainv mat.Dense
		if err := Ainv.Inverse(c.a); err == nil {
			aux := new(mat.Dense)
			aux.Sub(Ad, eye)
			aux.Mul(aux, &Ainv)
			Bd.Mul(aux, c.b)
			return Ad, Bd, nil
		}

		// Bd = integral of exp(A*t) over [0, Ts] times B, trapezoidal rule
		sum := mat.NewDense(n, n, nil)
		aux := new(mat.Dense)
		dt := ts / float64(quadSteps-1)
		for i := 0; i < quadSteps; i++ {
			aux.Scale(dt*float64(i), c.a)
			aux.Exp(aux)
			w := dt
			if i == 0 || i == quadSteps-1 {
				w = dt / 2
			}
			aux.Scale(w, aux)
			sum.Add(sum, aux)
		}
		Bd.Mul(sum, c.b)

		return Ad, Bd, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown discretisation method %v", control.ErrConfiguration, method)
	}
}

// Discretize returns the discrete-time system sampled with ts and constrained by sets s.
func (c *Continuous) Discretize(ts float64, method Method, s Sets) (*Linear, error) {
	Ad, Bd, err := c.ToDiscrete(ts, method)
	if err != nil {
		return nil, err
	}

	return NewLinear(Ad, Bd, s)
}

// Pendulum returns the continuous-time model of a pendulum linearised about its
// upright equilibrium with spring constant k, gravity g, length l and damping c.
// The state is angle and angular velocity, the input is torque.
func Pendulum(k, g, l, c float64) (*Continuous, error) {
	if l <= 0 {
		return nil, fmt.Errorf("%w: pendulum length must be positive, got %g", control.ErrConfiguration, l)
	}

	A := mat.NewDense(2, 2, []float64{
		0, 1,
		-k + g/l, -c,
	})
	B := mat.NewDense(2, 1, []float64{0, 1})

	return NewContinuous(A, B)
}
