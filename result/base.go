package result

import (
	"fmt"

	"github.com/milosgajdos/go-control"
	"gonum.org/v1/gonum/mat"
)

// Base is base solve result
type Base struct {
	// status is solve status
	status control.Status
	// control is the control input to apply
	control *mat.VecDense
	// state is planned state trajectory, one column per stage
	state *mat.Dense
	// input is planned input trajectory, one column per stage
	input *mat.Dense
	// overridden reports whether a proposed input was replaced
	overridden bool
	// err is the error which caused a non-optimal status
	err error
}

var _ control.Result = (*Base)(nil)

// NewBase returns optimal result given control input u
func NewBase(u mat.Vector) (*Base, error) {
	if u == nil {
		return nil, fmt.Errorf("%w: optimal result needs a control input", control.ErrShapeMismatch)
	}

	c := &mat.VecDense{}
	c.CloneFromVec(u)

	return &Base{
		status:  control.Optimal,
		control: c,
	}, nil
}

// NewBaseWithPlan returns optimal result given control input u and
// planned state and input trajectories. Either trajectory may be nil.
func NewBaseWithPlan(u mat.Vector, state, input mat.Matrix) (*Base, error) {
	b, err := NewBase(u)
	if err != nil {
		return nil, err
	}

	if state != nil {
		b.state = mat.DenseCopyOf(state)
	}

	if input != nil {
		if r, _ := input.Dims(); r != u.Len() {
			return nil, fmt.Errorf("%w: input trajectory has %d rows, control has %d", control.ErrShapeMismatch, r, u.Len())
		}
		b.input = mat.DenseCopyOf(input)
	}

	if b.state != nil && b.input != nil {
		_, sc := b.state.Dims()
		_, ic := b.input.Dims()
		if sc < ic {
			return nil, fmt.Errorf("%w: state trajectory has %d stages, input trajectory %d", control.ErrShapeMismatch, sc, ic)
		}
	}

	return b, nil
}

// NewFailed returns a result with non-optimal status s caused by err
func NewFailed(s control.Status, err error) *Base {
	if s == control.Optimal {
		s = control.SolverError
	}

	return &Base{
		status: s,
		err:    err,
	}
}

// WithOverride returns a copy of b marked as overridden or not
func (b *Base) WithOverride(overridden bool) *Base {
	out := *b
	out.overridden = overridden
	return &out
}

// WithControl returns a copy of b with control input u
func (b *Base) WithControl(u mat.Vector) *Base {
	out := *b
	out.control = mat.VecDenseCopyOf(u)
	return &out
}

// Status returns solve status
func (b *Base) Status() control.Status {
	return b.status
}

// Control returns control input or nil if there is none
func (b *Base) Control() mat.Vector {
	if b.control == nil {
		return nil
	}

	u := &mat.VecDense{}
	u.CloneFromVec(b.control)

	return u
}

// State returns planned state trajectory or nil if there is none
func (b *Base) State() mat.Matrix {
	if b.state == nil {
		return nil
	}
	return mat.DenseCopyOf(b.state)
}

// Input returns planned input trajectory or nil if there is none
func (b *Base) Input() mat.Matrix {
	if b.input == nil {
		return nil
	}
	return mat.DenseCopyOf(b.input)
}

// Overridden returns true if a proposed input was replaced
func (b *Base) Overridden() bool {
	return b.overridden
}

// Err returns the error which caused a non-optimal status
func (b *Base) Err() error {
	return b.err
}

// String implements fmt.Stringer
func (b *Base) String() string {
	if b.control == nil {
		return fmt.Sprintf("Result{status: %v, err: %v}", b.status, b.err)
	}

	return fmt.Sprintf("Result{status: %v, control: %v, overridden: %v}",
		b.status, mat.Formatted(b.control.T(), mat.Squeeze()), b.overridden)
}
