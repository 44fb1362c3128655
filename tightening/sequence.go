// Package tightening computes constraint tightening sequences which absorb the
// propagation of disturbances along a prediction horizon.
package tightening

import (
	"fmt"

	"github.com/milosgajdos/go-control"
	"github.com/milosgajdos/go-control/polytope"
	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"
)

// StageError is returned when tightening empties a constraint set at some stage.
type StageError struct {
	// Stage is the horizon stage at which the set became empty
	Stage int
	// Set names the emptied set, "state" or "input"
	Set string
}

// Error implements error interface
func (e *StageError) Error() string {
	return fmt.Sprintf("%v: %s set empty at stage %d", control.ErrInfeasibleTightening, e.Set, e.Stage)
}

// Unwrap returns control.ErrInfeasibleTightening
func (e *StageError) Unwrap() error {
	return control.ErrInfeasibleTightening
}

// Sequence is a sequence of tightened state and input constraint sets,
// one per horizon stage 0..N where stage N is the terminal stage.
type Sequence struct {
	states []*polytope.Polytope
	inputs []*polytope.Polytope
}

// Horizon returns the horizon length N
func (s *Sequence) Horizon() int {
	return len(s.states) - 1
}

// State returns the tightened state set of stage k
func (s *Sequence) State(k int) *polytope.Polytope {
	return s.states[k]
}

// Input returns the tightened input set of stage k
func (s *Sequence) Input(k int) *polytope.Polytope {
	return s.inputs[k]
}

// Terminal returns the tightened state set of the terminal stage
func (s *Sequence) Terminal() *polytope.Polytope {
	return s.states[len(s.states)-1]
}

// States returns tightened state sets of all stages
func (s *Sequence) States() []*polytope.Polytope {
	out := make([]*polytope.Polytope, len(s.states))
	copy(out, s.states)
	return out
}

// Inputs returns tightened input sets of all stages
func (s *Sequence) Inputs() []*polytope.Polytope {
	out := make([]*polytope.Polytope, len(s.inputs))
	copy(out, s.inputs)
	return out
}

// offsets maps the halfspace i with normal a of stage k to its tightening offset
type offsets func(k, i int, a mat.Vector) (float64, error)

// tighten builds the sequence {x : A x <= b - off(k, a_i)} for stages 0..N.
func tighten(X, U *polytope.Polytope, N int, xoff, uoff offsets) (*Sequence, error) {
	seq := &Sequence{
		states: make([]*polytope.Polytope, N+1),
		inputs: make([]*polytope.Polytope, N+1),
	}

	for k := 0; k <= N; k++ {
		Xk, err := shrink(X, k, xoff)
		if err != nil {
			return nil, err
		}
		if Xk.IsEmpty() {
			return nil, &StageError{Stage: k, Set: "state"}
		}
		seq.states[k] = Xk

		Uk, err := shrink(U, k, uoff)
		if err != nil {
			return nil, err
		}
		if Uk.IsEmpty() {
			return nil, &StageError{Stage: k, Set: "input"}
		}
		seq.inputs[k] = Uk
	}

	return seq, nil
}

func shrink(P *polytope.Polytope, k int, off offsets) (*polytope.Polytope, error) {
	if k == 0 || off == nil {
		return P, nil
	}

	A, b := P.A(), P.B()
	for i := 0; i < b.Len(); i++ {
		o, err := off(k, i, A.RowView(i))
		if err != nil {
			return nil, err
		}
		b.SetVec(i, b.AtVec(i)-o)
	}

	return polytope.NewWithDim(P.Dim(), A, b)
}

func checkDims(X, U *polytope.Polytope, Phi, K mat.Matrix, N int) error {
	if X == nil || U == nil || Phi == nil {
		return fmt.Errorf("%w: state set, input set and propagation matrix must be defined", control.ErrConfiguration)
	}

	if N < 0 {
		return fmt.Errorf("%w: invalid horizon: %d", control.ErrConfiguration, N)
	}

	n := X.Dim()
	if r, c := Phi.Dims(); r != n || c != n {
		return fmt.Errorf("%w: propagation matrix is %dx%d, expected %dx%d", control.ErrShapeMismatch, r, c, n, n)
	}

	if K != nil {
		if r, c := K.Dims(); r != U.Dim() || c != n {
			return fmt.Errorf("%w: gain is %dx%d, expected %dx%d", control.ErrShapeMismatch, r, c, U.Dim(), n)
		}
	}

	return nil
}

// powers returns Phi^0 ... Phi^(N-1)
func powers(Phi mat.Matrix, N int) ([]*mat.Dense, error) {
	n, _ := Phi.Dims()
	out := make([]*mat.Dense, 0, N)

	cur, err := matrix.NewDenseValIdentity(n, 1.0)
	if err != nil {
		return nil, fmt.Errorf("closed loop powers: %w", err)
	}

	for j := 0; j < N; j++ {
		out = append(out, cur)
		next := new(mat.Dense)
		next.Mul(Phi, cur)
		cur = next
	}

	return out, nil
}
