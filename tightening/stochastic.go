package tightening

import (
	"fmt"
	"math"
	"sort"

	"github.com/milosgajdos/go-control"
	cmat "github.com/milosgajdos/go-control/matrix"
	"github.com/milosgajdos/go-control/polytope"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultSamples is the default number of Monte-Carlo rollouts of sample-based tightening
const DefaultSamples = 2000

// Chance is a chance constraint tightening together with an optional robust recovery tightening
type Chance struct {
	*Sequence
	// Recovery is the robust tightening used by recovery strategies or nil
	Recovery *Sequence
	// Analytic reports whether the tightening used the Gaussian quantile
	Analytic bool
}

// Options configure stochastic tightening
type Options struct {
	// Samples is the number of Monte-Carlo rollouts
	Samples int
	// Recovery is the support of the disturbance used for the robust recovery tightening
	Recovery *polytope.Polytope
	// SampleBased forces sample-based tightening even if the noise exposes a covariance
	SampleBased bool
}

// Option configures stochastic tightening
type Option func(*Options)

// WithSamples sets the number of Monte-Carlo rollouts
func WithSamples(n int) Option {
	return func(o *Options) {
		o.Samples = n
	}
}

// WithRecovery requests a robust recovery tightening for disturbances in W
func WithRecovery(W *polytope.Polytope) Option {
	return func(o *Options) {
		o.Recovery = W
	}
}

// WithSampleBased forces sample-based tightening
func WithSampleBased() Option {
	return func(o *Options) {
		o.SampleBased = true
	}
}

// covariancer is noise with known covariance
type covariancer interface {
	Cov() mat.Symmetric
}

// meaner is noise with known mean
type meaner interface {
	Mean() []float64
}

// Stochastic tightens X and U so that each halfspace constraint of stage k holds
// with probability at least p for the error e_k = Phi e_(k-1) + w_k, e_0 = 0.
//
// If the noise exposes its covariance the tightening uses the Gaussian quantile
// sqrt(a' S_k a) * InvPhi(p) with S_k = Phi S_(k-1) Phi' + S_w. Otherwise the
// empirical p-quantile of a'e_k over Monte-Carlo rollouts of the noise is used.
// Offsets are never negative and never decrease along the horizon.
func Stochastic(X, U *polytope.Polytope, noise control.Noise, Phi, K mat.Matrix, N int, p float64, opts ...Option) (*Chance, error) {
	if err := checkDims(X, U, Phi, K, N); err != nil {
		return nil, err
	}

	if noise == nil {
		return nil, fmt.Errorf("%w: noise must be defined", control.ErrConfiguration)
	}

	if noise.Dim() != X.Dim() {
		return nil, fmt.Errorf("%w: noise dimension %d, expected %d", control.ErrShapeMismatch, noise.Dim(), X.Dim())
	}

	if p <= 0 || p >= 1 || math.IsNaN(p) {
		return nil, fmt.Errorf("%w: probability must be in (0, 1), got %g", control.ErrConfiguration, p)
	}

	o := Options{Samples: DefaultSamples}
	for _, apply := range opts {
		apply(&o)
	}

	var (
		xoff, uoff offsets
		analytic   bool
		err        error
	)

	if c, ok := noise.(covariancer); ok && !o.SampleBased {
		analytic = true
		xoff, uoff = gaussian(X, U, noise, c.Cov(), Phi, K, N, p)
	} else {
		xoff, uoff, err = sampled(X, U, noise, Phi, K, N, p, o.Samples)
		if err != nil {
			return nil, err
		}
	}

	seq, err := tighten(X, U, N, xoff, uoff)
	if err != nil {
		return nil, err
	}

	ch := &Chance{Sequence: seq, Analytic: analytic}

	if o.Recovery != nil {
		rec, err := Robust(X, U, o.Recovery, Phi, K, N)
		if err != nil {
			return nil, fmt.Errorf("recovery tightening: %w", err)
		}
		ch.Recovery = rec
	}

	return ch, nil
}

// gaussian returns analytic offsets based on propagated error mean and covariance
func gaussian(X, U *polytope.Polytope, noise control.Noise, cov mat.Symmetric, Phi, K mat.Matrix, N int, p float64) (offsets, offsets) {
	n := cov.SymmetricDim()
	q := distuv.UnitNormal.Quantile(p)

	mw := mat.NewVecDense(n, nil)
	if m, ok := noise.(meaner); ok {
		if mean := m.Mean(); len(mean) == n {
			mw = mat.NewVecDense(n, mean)
		}
	}

	covs := make([]*mat.SymDense, N+1)
	means := make([]*mat.VecDense, N+1)
	covs[0] = mat.NewSymDense(n, nil)
	means[0] = mat.NewVecDense(n, nil)

	for k := 1; k <= N; k++ {
		next := new(mat.Dense)
		next.Mul(Phi, covs[k-1])
		next.Mul(next, Phi.T())
		next.Add(next, cov)
		covs[k] = cmat.Symmetrize(next)

		mk := cmat.MulVec(Phi, means[k-1])
		mk.AddVec(mk, mw)
		means[k] = mk
	}

	bound := func(k int, d mat.Vector) float64 {
		return mat.Dot(d, means[k]) + q*math.Sqrt(math.Max(0, cmat.QuadForm(d, covs[k])))
	}

	xoff := running(X.A(), nil, N, bound)
	if K == nil {
		return xoff, nil
	}

	return xoff, running(U.A(), K, N, bound)
}

// running precomputes running maxima of f over the stages for all rows a_i of A,
// mapped through K' if K is not nil.
func running(A *mat.Dense, K mat.Matrix, N int, f func(k int, d mat.Vector) float64) offsets {
	rows, _ := A.Dims()

	table := make([][]float64, N+1)
	for k := range table {
		table[k] = make([]float64, rows)
	}

	for i := 0; i < rows; i++ {
		var d mat.Vector = A.RowView(i)
		if K != nil {
			d = cmat.MulVec(K.T(), d)
		}

		for k := 1; k <= N; k++ {
			table[k][i] = math.Max(table[k-1][i], math.Max(0, f(k, d)))
		}
	}

	return func(k, i int, _ mat.Vector) (float64, error) {
		return table[k][i], nil
	}
}

// sampled returns empirical quantile offsets of Monte-Carlo error rollouts
func sampled(X, U *polytope.Polytope, noise control.Noise, Phi, K mat.Matrix, N int, p float64, samples int) (offsets, offsets, error) {
	if samples <= 0 {
		return nil, nil, fmt.Errorf("%w: invalid number of samples: %d", control.ErrConfiguration, samples)
	}

	n := X.Dim()
	noise.Reset()

	// errs[k][s] is the error of rollout s at stage k
	errs := make([][]*mat.VecDense, N+1)
	for k := range errs {
		errs[k] = make([]*mat.VecDense, samples)
	}
	for s := 0; s < samples; s++ {
		e := mat.NewVecDense(n, nil)
		errs[0][s] = e
		for k := 1; k <= N; k++ {
			next := cmat.MulVec(Phi, e)
			next.AddVec(next, noise.Sample())
			errs[k][s] = next
			e = next
		}
	}
	noise.Reset()

	xoff, err := quantiles(X.A(), errs, nil, p)
	if err != nil {
		return nil, nil, err
	}

	var uoff offsets
	if K != nil {
		uoff, err = quantiles(U.A(), errs, K, p)
		if err != nil {
			return nil, nil, err
		}
	}

	return xoff, uoff, nil
}

// quantiles precomputes running maxima of p-quantiles of a_i'(K)e_k for all rows of A
func quantiles(A *mat.Dense, errs [][]*mat.VecDense, K mat.Matrix, p float64) (offsets, error) {
	rows, _ := A.Dims()
	N := len(errs) - 1

	table := make([][]float64, N+1)
	for k := range table {
		table[k] = make([]float64, rows)
	}

	vals := make([]float64, len(errs[0]))
	for i := 0; i < rows; i++ {
		a := A.RowView(i)
		if K != nil {
			a = cmat.MulVec(K.T(), a)
		}

		for k := 1; k <= N; k++ {
			for s, e := range errs[k] {
				vals[s] = mat.Dot(a, e)
			}
			sort.Float64s(vals)
			qv := stat.Quantile(p, stat.Empirical, vals, nil)
			table[k][i] = math.Max(table[k-1][i], math.Max(0, qv))
		}
	}

	return func(k, i int, _ mat.Vector) (float64, error) {
		return table[k][i], nil
	}, nil
}
