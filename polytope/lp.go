package polytope

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// lpTol is the tolerance passed to the simplex solver
const lpTol = 1e-10

// maximize solves the linear program
//
//	max c'x subject to G*x <= h
//
// over free variables x. It converts the program to the standard form
// required by lp.Simplex by splitting x = x⁺ - x⁻ and adding one slack per row.
// It returns ErrEmpty if the program is infeasible and ErrUnbounded if it is unbounded.
func maximize(c []float64, G mat.Matrix, h []float64) (float64, []float64, error) {
	m, n := G.Dims()
	if len(c) != n || len(h) != m {
		return 0, nil, fmt.Errorf("%w: lp dimensions [%d x %d], c: %d, h: %d", ErrShapeMismatch, m, n, len(c), len(h))
	}

	// columns of G which are identically zero make lp.Simplex fail,
	// so the corresponding variables are eliminated up front.
	var cols []int
	unbounded := false
	for j := 0; j < n; j++ {
		zero := true
		for i := 0; i < m; i++ {
			if G.At(i, j) != 0 {
				zero = false
				break
			}
		}
		if !zero {
			cols = append(cols, j)
			continue
		}
		if c[j] != 0 {
			unbounded = true
		}
	}

	k := len(cols)
	A := mat.NewDense(m, 2*k+m, nil)
	b := make([]float64, m)
	for i := 0; i < m; i++ {
		sign := 1.0
		if h[i] < 0 {
			sign = -1.0
		}
		for jj, j := range cols {
			g := G.At(i, j)
			A.Set(i, jj, sign*g)
			A.Set(i, k+jj, -sign*g)
		}
		A.Set(i, 2*k+i, sign)
		b[i] = sign * h[i]
	}

	cs := make([]float64, 2*k+m)
	if !unbounded {
		for jj, j := range cols {
			cs[jj] = -c[j]
			cs[k+jj] = c[j]
		}
	}

	optF, optX, err := lp.Simplex(cs, A, b, lpTol, nil)
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return 0, nil, ErrEmpty
	case errors.Is(err, lp.ErrUnbounded):
		return 0, nil, ErrUnbounded
	case err != nil:
		return 0, nil, fmt.Errorf("linear program failed: %w", err)
	}

	if unbounded {
		return 0, nil, ErrUnbounded
	}

	x := make([]float64, n)
	for jj, j := range cols {
		x[j] = optX[jj] - optX[k+jj]
	}

	return -optF, x, nil
}
