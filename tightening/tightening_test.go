package tightening

import (
	"errors"
	"os"
	"testing"

	"github.com/milosgajdos/go-control"
	"github.com/milosgajdos/go-control/noise"
	"github.com/milosgajdos/go-control/polytope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var (
	X, U, W *polytope.Polytope
	Phi, K  *mat.Dense
)

func setup() {
	var err error
	if X, err = polytope.Box([]float64{-1, -1}, []float64{1, 1}); err != nil {
		panic(err)
	}
	if U, err = polytope.Box([]float64{-1}, []float64{1}); err != nil {
		panic(err)
	}
	if W, err = polytope.Box([]float64{-0.1, -0.1}, []float64{0.1, 0.1}); err != nil {
		panic(err)
	}

	Phi = mat.NewDense(2, 2, []float64{0.5, 0, 0, 0.5})
	K = mat.NewDense(1, 2, []float64{1, 0})
}

func TestMain(m *testing.M) {
	// set up tests
	setup()
	// run the tests
	retCode := m.Run()
	// call with result of m.Run()
	os.Exit(retCode)
}

func upper(t *testing.T, p *polytope.Polytope) []float64 {
	_, up, err := p.Bounds()
	require.NoError(t, err)
	return up
}

func TestRobust(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	N := 10
	seq, err := Robust(X, U, W, Phi, K, N)
	require.NoError(err)
	assert.Equal(N, seq.Horizon())
	assert.Len(seq.States(), N+1)
	assert.Len(seq.Inputs(), N+1)

	// stage 0 is the nominal set
	eq, err := seq.State(0).Equal(X, 1e-9)
	assert.NoError(err)
	assert.True(eq)
	eq, err = seq.Input(0).Equal(U, 1e-9)
	assert.NoError(err)
	assert.True(eq)

	// stage k offset is sum_{j<k} 0.5^j * 0.1
	assert.InDelta(0.9, upper(t, seq.State(1))[0], 1e-9)
	assert.InDelta(0.85, upper(t, seq.State(2))[0], 1e-9)
	assert.InDelta(0.85, upper(t, seq.Input(2))[0], 1e-9)

	// terminal set is strictly smaller
	term := upper(t, seq.Terminal())
	assert.InDelta(1-0.2*(1-1.0/1024), term[0], 1e-9)
	assert.Less(term[0], 1.0)

	// monotone
	for k := 0; k < N; k++ {
		sub, err := seq.State(k+1).Subset(seq.State(k), 1e-9)
		assert.NoError(err)
		assert.True(sub, "state stage %d", k+1)

		sub, err = seq.Input(k+1).Subset(seq.Input(k), 1e-9)
		assert.NoError(err)
		assert.True(sub, "input stage %d", k+1)
	}
}

func TestRobustNominal(t *testing.T) {
	assert := assert.New(t)

	seq, err := Robust(X, U, nil, Phi, K, 5)
	assert.NoError(err)
	for k := 0; k <= 5; k++ {
		assert.Same(X, seq.State(k))
		assert.Same(U, seq.Input(k))
	}

	// input sets are not tightened without a gain
	seq, err = Robust(X, U, W, Phi, nil, 5)
	assert.NoError(err)
	assert.Same(U, seq.Input(5))
}

func TestRobustInfeasible(t *testing.T) {
	assert := assert.New(t)

	bigW, err := polytope.Box([]float64{-0.6, -0.6}, []float64{0.6, 0.6})
	assert.NoError(err)

	// offsets 0.6, 0.9, 1.05: stage 3 is empty
	seq, err := Robust(X, U, bigW, Phi, K, 10)
	assert.Nil(seq)
	assert.ErrorIs(err, control.ErrInfeasibleTightening)

	var se *StageError
	assert.True(errors.As(err, &se))
	assert.Equal(3, se.Stage)
	assert.Equal("state", se.Set)

	// disturbance exceeding the constraint set itself
	hugeW, err := polytope.Box([]float64{-2, -2}, []float64{2, 2})
	assert.NoError(err)

	_, err = Robust(X, U, hugeW, Phi, K, 10)
	assert.True(errors.As(err, &se))
	assert.Equal(1, se.Stage)
}

func TestRobustErrors(t *testing.T) {
	assert := assert.New(t)

	_, err := Robust(nil, U, W, Phi, K, 10)
	assert.ErrorIs(err, control.ErrConfiguration)

	_, err = Robust(X, U, W, Phi, K, -1)
	assert.ErrorIs(err, control.ErrConfiguration)

	_, err = Robust(X, U, W, mat.NewDense(3, 3, nil), K, 10)
	assert.ErrorIs(err, control.ErrShapeMismatch)

	_, err = Robust(X, U, W, Phi, mat.NewDense(2, 2, nil), 10)
	assert.ErrorIs(err, control.ErrShapeMismatch)

	W1, err := polytope.Box([]float64{-0.1}, []float64{0.1})
	assert.NoError(err)
	_, err = Robust(X, U, W1, Phi, K, 10)
	assert.ErrorIs(err, control.ErrShapeMismatch)
}

func TestReachable(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	F, err := Reachable(W, Phi, 3)
	require.NoError(err)

	_, up, err := F.Bounds()
	require.NoError(err)
	assert.InDelta(0.175, up[0], 1e-9)
	assert.InDelta(0.175, up[1], 1e-9)

	// explicit erosion agrees with the support function tightening
	seq, err := Robust(X, U, W, Phi, K, 3)
	require.NoError(err)

	Xe, err := X.MinkowskiDifference(F)
	require.NoError(err)

	eq, err := seq.State(3).Equal(Xe, 1e-7)
	assert.NoError(err)
	assert.True(eq)

	_, err = Reachable(W, Phi, 0)
	assert.ErrorIs(err, control.ErrConfiguration)

	_, err = Reachable(nil, Phi, 1)
	assert.ErrorIs(err, control.ErrConfiguration)
}

func TestReachableNilpotent(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	// Phi^2 = 0: the error images collapse to a segment and then to the origin
	nil2 := mat.NewDense(2, 2, []float64{0, 1, 0, 0})

	F, err := Reachable(W, nil2, 3)
	require.NoError(err)

	want, err := polytope.Box([]float64{-0.2, -0.1}, []float64{0.2, 0.1})
	require.NoError(err)
	eq, err := F.Equal(want, 1e-9)
	assert.NoError(err)
	assert.True(eq)

	seq, err := Robust(X, U, W, nil2, K, 3)
	require.NoError(err)

	Xe, err := X.MinkowskiDifference(F)
	require.NoError(err)
	eq, err = seq.State(3).Equal(Xe, 1e-7)
	assert.NoError(err)
	assert.True(eq)
}

// zeroDims is a matrix with no rows and columns
type zeroDims struct{}

func (zeroDims) Dims() (int, int) { return 0, 0 }
func (zeroDims) At(i, j int) float64 { panic(mat.ErrIndexOutOfRange) }
func (z zeroDims) T() mat.Matrix { return z }

func TestPowers(t *testing.T) {
	assert := assert.New(t)

	pows, err := powers(Phi, 3)
	assert.NoError(err)
	assert.Len(pows, 3)
	assert.True(mat.EqualApprox(pows[0], mat.NewDense(2, 2, []float64{1, 0, 0, 1}), 1e-12))
	assert.True(mat.EqualApprox(pows[1], Phi, 1e-12))
	assert.True(mat.EqualApprox(pows[2], mat.NewDense(2, 2, []float64{0.25, 0, 0, 0.25}), 1e-12))

	pows, err = powers(zeroDims{}, 3)
	assert.Nil(pows)
	assert.Error(err)
}

func TestStochasticGaussian(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cov := mat.NewSymDense(2, []float64{0.01, 0, 0, 0.01})
	g, err := noise.NewGaussianWithSeed([]float64{0, 0}, cov, 42)
	require.NoError(err)

	ch, err := Stochastic(X, U, g, Phi, K, 10, 0.9, WithRecovery(W))
	require.NoError(err)
	assert.True(ch.Analytic)
	assert.Equal(10, ch.Horizon())

	q := 1.2815515655446004
	assert.InDelta(1-q*0.1, upper(t, ch.State(1))[0], 1e-6)
	assert.InDelta(1-q*0.1118033988749895, upper(t, ch.State(2))[0], 1e-6)
	assert.InDelta(1-q*0.1, upper(t, ch.Input(1))[0], 1e-6)

	for k := 0; k < 10; k++ {
		sub, err := ch.State(k+1).Subset(ch.State(k), 1e-9)
		assert.NoError(err)
		assert.True(sub)
	}

	require.NotNil(ch.Recovery)
	assert.InDelta(0.85, upper(t, ch.Recovery.State(2))[0], 1e-9)
}

func TestStochasticSampled(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	v, err := noise.NewVertices(W, 7)
	require.NoError(err)

	ch, err := Stochastic(X, U, v, Phi, K, 4, 0.9)
	require.NoError(err)
	assert.False(ch.Analytic)
	assert.Nil(ch.Recovery)

	// a'e_1 in {-0.1, 0.1}, a'e_2 in {-0.15, -0.05, 0.05, 0.15}
	assert.InDelta(0.9, upper(t, ch.State(1))[0], 1e-9)
	assert.InDelta(0.85, upper(t, ch.State(2))[0], 1e-9)

	for k := 0; k < 4; k++ {
		sub, err := ch.State(k+1).Subset(ch.State(k), 1e-9)
		assert.NoError(err)
		assert.True(sub)
	}

	// gaussian noise can be forced to use samples
	cov := mat.NewSymDense(2, []float64{0.01, 0, 0, 0.01})
	g, err := noise.NewGaussianWithSeed([]float64{0, 0}, cov, 42)
	require.NoError(err)

	ch, err = Stochastic(X, U, g, Phi, K, 4, 0.9, WithSampleBased(), WithSamples(500))
	require.NoError(err)
	assert.False(ch.Analytic)
	assert.InDelta(1-0.128, upper(t, ch.State(1))[0], 0.03)
}

func TestStochasticGaussianMean(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	// the error mean oscillates under Phi = -0.9 I: 0.1, 0.01, 0.091, ...
	osc := mat.NewDense(2, 2, []float64{-0.9, 0, 0, -0.9})
	cov := mat.NewSymDense(2, []float64{1e-8, 0, 0, 1e-8})
	g, err := noise.NewGaussianWithSeed([]float64{0.1, 0}, cov, 7)
	require.NoError(err)

	ch, err := Stochastic(X, U, g, osc, K, 6, 0.9)
	require.NoError(err)
	assert.True(ch.Analytic)

	prevX := upper(t, ch.State(0))
	prevU := upper(t, ch.Input(0))
	for k := 1; k <= 6; k++ {
		ux := upper(t, ch.State(k))
		uu := upper(t, ch.Input(k))
		assert.LessOrEqual(ux[0], prevX[0]+1e-12, "stage %d", k)
		assert.LessOrEqual(uu[0], prevU[0]+1e-12, "stage %d", k)
		prevX, prevU = ux, uu
	}

	// the first stage absorbs the mean
	assert.InDelta(0.9, upper(t, ch.State(1))[0], 1e-3)
	assert.InDelta(0.9, upper(t, ch.State(2))[0], 1e-3)
}

func TestStochasticErrors(t *testing.T) {
	assert := assert.New(t)

	z, err := noise.NewZero(2)
	assert.NoError(err)

	_, err = Stochastic(X, U, z, Phi, K, 10, 1.0)
	assert.ErrorIs(err, control.ErrConfiguration)

	_, err = Stochastic(X, U, z, Phi, K, 10, 0)
	assert.ErrorIs(err, control.ErrConfiguration)

	_, err = Stochastic(X, U, nil, Phi, K, 10, 0.9)
	assert.ErrorIs(err, control.ErrConfiguration)

	z3, err := noise.NewZero(3)
	assert.NoError(err)
	_, err = Stochastic(X, U, z3, Phi, K, 10, 0.9)
	assert.ErrorIs(err, control.ErrShapeMismatch)

	v, err := noise.NewVertices(W, 1)
	assert.NoError(err)
	_, err = Stochastic(X, U, v, Phi, K, 10, 0.9, WithSamples(0))
	assert.ErrorIs(err, control.ErrConfiguration)

	// zero noise leaves the nominal sets in place
	ch, err := Stochastic(X, U, z, Phi, K, 3, 0.95)
	assert.NoError(err)
	assert.InDelta(1.0, upper(t, ch.Terminal())[0], 1e-9)
}
