package admm

import (
	"sync"
	"testing"

	"github.com/milosgajdos/go-control/polytope"
	"github.com/milosgajdos/go-control/solver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var eye2 = mat.NewSymDense(2, []float64{1, 0, 0, 1})

func TestBackend(t *testing.T) {
	assert := assert.New(t)

	b := New()
	assert.Equal(Name, b.Name())
	assert.NoError(b.Available())
	assert.True(b.Supports(solver.QP))
	assert.False(b.Supports(solver.QCQP))
}

func TestSolveQP(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	p := solver.NewProgram()
	x := p.Var("x", 2, 1)
	target := p.Param("target", 2)
	p.MinimizeQuad(x.Col(0).Sub(target.Vec()), eye2)
	p.Le(solver.Vec{x.At(0, 0).Add(x.At(1, 0))}, solver.Vec{solver.Const(1)})

	c, err := p.Compile()
	require.NoError(err)

	b := New()
	for _, tc := range []struct {
		target []float64
		exp    []float64
	}{
		{target: []float64{1, 2}, exp: []float64{0, 1}},
		{target: []float64{-1, 0.5}, exp: []float64{-1, 0.5}},
		{target: []float64{3, 3}, exp: []float64{0.5, 0.5}},
	} {
		require.NoError(c.Bind(target, mat.NewVecDense(2, tc.target)))
		prob, err := c.Instance()
		require.NoError(err)

		sol, err := b.Solve(prob)
		require.NoError(err)
		require.Equal(solver.Optimal, sol.Status)

		assert.InDelta(tc.exp[0], sol.X.AtVec(0), 1e-4)
		assert.InDelta(tc.exp[1], sol.X.AtVec(1), 1e-4)
	}

	// factorisation is cached per program structure
	assert.Equal(1, b.cache.Len())
}

func TestCacheBounded(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s := DefaultSettings()
	s.CacheSize = 2
	b := NewWithSettings(s)

	for i := 0; i < 5; i++ {
		prob := &solver.Problem{
			P:   eye2,
			Q:   mat.NewVecDense(2, []float64{-float64(i), 0}),
			G:   mat.NewDense(1, 2, []float64{1, 0}),
			H:   mat.NewVecDense(1, []float64{1}),
			Key: i,
		}
		sol, err := b.Solve(prob)
		require.NoError(err)
		require.Equal(solver.Optimal, sol.Status)
		assert.LessOrEqual(b.cache.Len(), 2)
	}

	// the oldest structures are evicted first
	assert.False(b.cache.Contains(0))
	assert.True(b.cache.Contains(3))
	assert.True(b.cache.Contains(4))

	// non-positive size falls back to the default
	s.CacheSize = 0
	assert.NotNil(NewWithSettings(s).cache)
}

func TestSolveEquality(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	p := solver.NewProgram()
	x := p.Var("x", 1, 2)
	u := p.Var("u", 1, 1)
	init := p.Param("init", 1)

	p.MinimizeQuad(u.Col(0), mat.NewSymDense(1, []float64{1}))
	p.Eq(x.Col(0), init.Vec())
	p.Eq(x.Col(1), x.Col(0).Add(u.Col(0)))

	box, err := polytope.Box([]float64{-1}, []float64{1})
	require.NoError(err)
	p.In(x.Col(1), box)

	c, err := p.Compile()
	require.NoError(err)
	require.NoError(c.BindScalar(init, 3))

	prob, err := c.Instance()
	require.NoError(err)

	sol, err := New().Solve(prob)
	require.NoError(err)
	require.Equal(solver.Optimal, sol.Status)
	assert.InDelta(-2.0, c.Value(sol.X, u).At(0, 0), 1e-4)
}

func TestSolveInfeasible(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	p := solver.NewProgram()
	x := p.Var("x", 1, 1)
	p.MinimizeQuad(x.Col(0), mat.NewSymDense(1, []float64{1}))
	p.Le(x.Col(0), solver.Vec{solver.Const(-1)})
	p.Le(solver.Vec{solver.Const(1)}, x.Col(0))

	c, err := p.Compile()
	require.NoError(err)
	prob, err := c.Instance()
	require.NoError(err)

	sol, err := New().Solve(prob)
	require.NoError(err)
	assert.Equal(solver.Infeasible, sol.Status)
}

func TestSolveUnconstrained(t *testing.T) {
	assert := assert.New(t)

	prob := &solver.Problem{P: mat.NewSymDense(2, []float64{2, 0, 0, 4}), Q: mat.NewVecDense(2, []float64{-2, -4})}
	sol, err := New().Solve(prob)
	assert.NoError(err)
	assert.Equal(solver.Optimal, sol.Status)
	assert.InDelta(1.0, sol.X.AtVec(0), 1e-5)
	assert.InDelta(1.0, sol.X.AtVec(1), 1e-5)
}

func TestSolveQCQPNotSupported(t *testing.T) {
	assert := assert.New(t)

	prob := &solver.Problem{
		P:    eye2,
		Q:    mat.NewVecDense(2, nil),
		Quad: []solver.Quadratic{{Q: eye2, A: mat.NewVecDense(2, nil), D: -1}},
	}
	_, err := New().Solve(prob)
	assert.ErrorIs(err, solver.ErrNotSupported)
}

func TestConcurrentSolve(t *testing.T) {
	assert := assert.New(t)

	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prob := &solver.Problem{
				P:   eye2,
				Q:   mat.NewVecDense(2, []float64{-float64(i), 0}),
				G:   mat.NewDense(1, 2, []float64{1, 0}),
				H:   mat.NewVecDense(1, []float64{1}),
				Key: i,
			}
			sol, err := b.Solve(prob)
			assert.NoError(err)
			assert.Equal(solver.Optimal, sol.Status)
			assert.InDelta(min(float64(i), 1), sol.X.AtVec(0), 1e-4)
		}(i)
	}
	wg.Wait()
}
