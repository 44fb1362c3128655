// Package lqr computes infinite horizon discrete-time linear quadratic regulators.
package lqr

import (
	"fmt"
	"math"

	"github.com/milosgajdos/go-control"
	cmat "github.com/milosgajdos/go-control/matrix"
	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultTolerance is the default convergence tolerance of the Riccati iteration
	DefaultTolerance = 1e-10
	// DefaultMaxIter is the default maximum number of Riccati iterations
	DefaultMaxIter = 100000
)

// Config configures the Riccati iteration
type Config struct {
	// Tol is the convergence tolerance on the max-norm of consecutive iterates
	Tol float64
	// MaxIter is the maximum number of iterations
	MaxIter int
}

// DARE solves the discrete algebraic Riccati equation
//
//	P = Q + A'PA - A'PB (R + B'PB)^-1 B'PA
//
// by fixed point iteration and returns its stabilising solution P together with
// the optimal feedback gain K = -(R + B'PB)^-1 B'PA, i.e. the control law is u = K*x.
func DARE(A, B mat.Matrix, Q, R mat.Symmetric) (*mat.SymDense, *mat.Dense, error) {
	return DAREWithConfig(A, B, Q, R, Config{Tol: DefaultTolerance, MaxIter: DefaultMaxIter})
}

// DAREWithConfig solves the discrete algebraic Riccati equation with the given iteration config.
func DAREWithConfig(A, B mat.Matrix, Q, R mat.Symmetric, c Config) (*mat.SymDense, *mat.Dense, error) {
	n, nc := A.Dims()
	if n != nc {
		return nil, nil, fmt.Errorf("%w: system matrix must be square, got %dx%d", control.ErrShapeMismatch, n, nc)
	}

	br, m := B.Dims()
	if br != n {
		return nil, nil, fmt.Errorf("%w: control matrix has %d rows, expected %d", control.ErrShapeMismatch, br, n)
	}

	if Q.SymmetricDim() != n {
		return nil, nil, fmt.Errorf("%w: state weight is %dx%d, expected %dx%d", control.ErrShapeMismatch, Q.SymmetricDim(), Q.SymmetricDim(), n, n)
	}

	if R.SymmetricDim() != m {
		return nil, nil, fmt.Errorf("%w: input weight is %dx%d, expected %dx%d", control.ErrShapeMismatch, R.SymmetricDim(), R.SymmetricDim(), m, m)
	}

	if !cmat.IsPosDef(R) {
		return nil, nil, fmt.Errorf("%w: input weight must be positive definite", control.ErrConfiguration)
	}

	if c.Tol <= 0 {
		c.Tol = DefaultTolerance
	}

	if c.MaxIter <= 0 {
		c.MaxIter = DefaultMaxIter
	}

	P := mat.DenseCopyOf(Q)
	next := mat.NewDense(n, n, nil)
	diff := mat.NewDense(n, n, nil)

	for i := 0; i < c.MaxIter; i++ {
		K, err := gain(A, B, R, P)
		if err != nil {
			return nil, nil, err
		}

		// next = Q + A'PA + A'PB*K
		var AtP, PB, BK mat.Dense
		AtP.Mul(A.T(), P)
		next.Mul(&AtP, A)
		PB.Mul(&AtP, B)
		BK.Mul(&PB, K)
		next.Add(next, &BK)
		next.Add(next, Q)

		diff.Sub(next, P)
		P.Copy(next)

		if mat.Norm(diff, math.Inf(1)) <= c.Tol*max(1, mat.Norm(P, math.Inf(1))) {
			Ps := cmat.Symmetrize(P)
			K, err := gain(A, B, R, Ps)
			if err != nil {
				return nil, nil, err
			}
			return Ps, K, nil
		}

		if !cmat.Finite(P) {
			break
		}
	}

	return nil, nil, fmt.Errorf("%w: riccati iteration did not converge, system may not be stabilisable", control.ErrConfiguration)
}

// gain returns K = -(R + B'PB)^-1 B'PA
func gain(A, B mat.Matrix, R mat.Symmetric, P mat.Matrix) (*mat.Dense, error) {
	_, m := B.Dims()

	var BtP, S, BtPA mat.Dense
	BtP.Mul(B.T(), P)
	S.Mul(&BtP, B)
	S.Add(&S, R)
	BtPA.Mul(&BtP, A)

	var chol mat.Cholesky
	if ok := chol.Factorize(cmat.Symmetrize(&S)); !ok {
		return nil, fmt.Errorf("%w: R + B'PB is not positive definite", control.ErrConfiguration)
	}

	K := mat.NewDense(m, BtPA.RawMatrix().Cols, nil)
	if err := chol.SolveTo(K, &BtPA); err != nil {
		return nil, fmt.Errorf("%w: %v", control.ErrConfiguration, err)
	}
	K.Scale(-1, K)

	return K, nil
}

// Cost returns the LQR cost-to-go x'Px
func Cost(P mat.Symmetric, x mat.Vector) float64 {
	return cmat.QuadForm(x, P)
}
