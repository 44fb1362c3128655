package tightening

import (
	"fmt"

	"github.com/milosgajdos/go-control"
	"github.com/milosgajdos/go-control/polytope"
	"gonum.org/v1/gonum/mat"
)

// Robust tightens X and U along a horizon of length N for disturbances in W
// propagated by the closed loop matrix Phi with feedback gain K.
//
// Stage k state set is X ⊖ F_k and input set is U ⊖ K F_k where
// F_k = W ⊕ Phi W ⊕ ... ⊕ Phi^(k-1) W. The erosion is computed exactly through
// support functions h_{F_k}(a) = sum_j h_W((Phi^j)'a).
// If K is nil the input set is not tightened. If W is nil every stage equals the nominal sets.
// It returns *StageError wrapping control.ErrInfeasibleTightening if some stage becomes empty.
func Robust(X, U, W *polytope.Polytope, Phi, K mat.Matrix, N int) (*Sequence, error) {
	if err := checkDims(X, U, Phi, K, N); err != nil {
		return nil, err
	}

	if W == nil {
		return tighten(X, U, N, nil, nil)
	}

	if W.Dim() != X.Dim() {
		return nil, fmt.Errorf("%w: disturbance set dimension %d, expected %d", control.ErrShapeMismatch, W.Dim(), X.Dim())
	}

	pows, err := powers(Phi, N)
	if err != nil {
		return nil, err
	}

	xoff := func(k, _ int, a mat.Vector) (float64, error) {
		return accumulate(W, pows[:k], nil, a)
	}

	var uoff offsets
	if K != nil {
		uoff = func(k, _ int, a mat.Vector) (float64, error) {
			return accumulate(W, pows[:k], K, a)
		}
	}

	return tighten(X, U, N, xoff, uoff)
}

// accumulate returns sum_j h_W((K Phi^j)'a)
func accumulate(W *polytope.Polytope, pows []*mat.Dense, K mat.Matrix, a mat.Vector) (float64, error) {
	n := W.Dim()
	sum := 0.0
	for _, p := range pows {
		M := mat.Matrix(p)
		if K != nil {
			kp := new(mat.Dense)
			kp.Mul(K, p)
			M = kp
		}

		d := mat.NewVecDense(n, nil)
		d.MulVec(M.T(), a)

		h, err := W.Support(d)
		if err != nil {
			return 0, fmt.Errorf("disturbance support: %w", err)
		}
		sum += h
	}

	return sum, nil
}

// Reachable returns the k-step reachable disturbance set
// F_k = W ⊕ Phi W ⊕ ... ⊕ Phi^(k-1) W for k >= 1.
func Reachable(W *polytope.Polytope, Phi mat.Matrix, k int) (*polytope.Polytope, error) {
	if W == nil {
		return nil, fmt.Errorf("%w: disturbance set must be defined", control.ErrConfiguration)
	}

	if k < 1 {
		return nil, fmt.Errorf("%w: reachable set needs at least one step, got %d", control.ErrConfiguration, k)
	}

	F := W
	img := W
	for j := 1; j < k; j++ {
		var err error
		img, err = img.AffineImage(Phi)
		if err != nil {
			return nil, err
		}

		F, err = F.MinkowskiSum(img)
		if err != nil {
			return nil, err
		}
	}

	return F, nil
}
