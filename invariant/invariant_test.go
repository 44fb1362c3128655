package invariant

import (
	"math"
	"os"
	"testing"

	"github.com/milosgajdos/go-control"
	"github.com/milosgajdos/go-control/polytope"
	"github.com/milosgajdos/go-control/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var sys *system.Linear

func setup() {
	dt := 0.1
	A := mat.NewDense(2, 2, []float64{1, dt, dt * (-8 + 9.81/1.3), 1 - dt*1.0})
	B := mat.NewDense(2, 1, []float64{0, dt})

	deg := math.Pi / 180
	X, err := polytope.New(
		mat.NewDense(4, 2, []float64{1, 0, -1, 0, 0, 1, 0, -1}),
		mat.NewVecDense(4, []float64{45 * deg, 30 * deg, 30 * deg, 30 * deg}),
	)
	if err != nil {
		panic(err)
	}
	U, err := polytope.Box([]float64{-2}, []float64{2})
	if err != nil {
		panic(err)
	}

	sys, err = system.NewLinear(A, B, system.Sets{X: X, U: U})
	if err != nil {
		panic(err)
	}
}

func TestMain(m *testing.M) {
	// set up tests
	setup()
	// run the tests
	retCode := m.Run()
	// call with result of m.Run()
	os.Exit(retCode)
}

func TestNewCertificate(t *testing.T) {
	assert := assert.New(t)

	P := mat.NewSymDense(2, []float64{2, 0, 0, 1})
	K := mat.NewDense(1, 2, []float64{-1, -1})

	c, err := NewCertificate(P, K)
	assert.NoError(err)
	assert.Equal(2, c.Dim())

	x := mat.NewVecDense(2, []float64{0.5, 0.5})
	assert.InDelta(0.75, c.Value(x), 1e-12)
	assert.True(c.Contains(x, DefaultTolerance))
	assert.False(c.Contains(mat.NewVecDense(2, []float64{1, 0}), DefaultTolerance))
	assert.InDelta(-1.0, c.Feedback(x).AtVec(0), 1e-12)

	// accessors return copies
	c.P().SetSym(0, 0, 100)
	c.K().Set(0, 0, 100)
	assert.Equal(2.0, c.P().At(0, 0))
	assert.Equal(-1.0, c.K().At(0, 0))

	_, err = NewCertificate(mat.NewSymDense(2, []float64{1, 0, 0, -1}), K)
	assert.ErrorIs(err, control.ErrConfiguration)

	_, err = NewCertificate(P, mat.NewDense(1, 3, nil))
	assert.ErrorIs(err, control.ErrShapeMismatch)
}

func TestSynthesize(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	c, err := Synthesize(sys, nil)
	require.NoError(err)

	P := c.P()
	K := c.K()

	phi, err := sys.ClosedLoop(K)
	require.NoError(err)

	var chol mat.Cholesky
	require.True(chol.Factorize(P))
	Pinv := mat.NewSymDense(2, nil)
	require.NoError(chol.InverseTo(Pinv))

	// the ellipsoid lies inside the state constraints: max a'x = sqrt(a' inv(P) a)
	X := sys.StateSet()
	Ax, bx := X.A(), X.B()
	for i := 0; i < bx.Len(); i++ {
		a := Ax.RowView(i)
		assert.LessOrEqual(math.Sqrt(mat.Inner(a, Pinv, a)), bx.AtVec(i)+1e-6)
	}

	// feedback satisfies the input constraints on the ellipsoid
	var KP, KPK mat.Dense
	KP.Mul(K, Pinv)
	KPK.Mul(&KP, K.T())
	assert.LessOrEqual(math.Sqrt(KPK.At(0, 0)), 2.0+1e-6)

	// boundary points stay inside under the closed loop
	for k := 0; k < 32; k++ {
		theta := 2 * math.Pi * float64(k) / 32
		x := mat.NewVecDense(2, []float64{math.Cos(theta), math.Sin(theta)})
		x.ScaleVec(1/math.Sqrt(c.Value(x)), x)
		assert.InDelta(1.0, c.Value(x), 1e-9)

		next := mat.NewVecDense(2, nil)
		next.MulVec(phi, x)
		assert.True(c.Contains(next, 1e-6), "closed loop left the ellipsoid at angle %v", theta)
		assert.True(X.Contains(x, 1e-6))
	}
}

func TestSynthesizeOriginOutside(t *testing.T) {
	assert := assert.New(t)

	X, err := polytope.Box([]float64{0.1, -1}, []float64{1, 1})
	assert.NoError(err)

	s, err := system.NewLinear(sys.SystemMatrix(), sys.ControlMatrix(), system.Sets{X: X, U: sys.InputSet()})
	assert.NoError(err)

	_, err = Synthesize(s, nil)
	assert.ErrorIs(err, control.ErrConfiguration)
}
