package rand

import (
	"fmt"
	"sort"
	"time"

	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// NewSource returns a new random source seeded with seed.
// If seed is 0, the source is seeded with the current time.
func NewSource(seed uint64) xrand.Source {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	return xrand.NewSource(seed)
}

// RouletteDrawN draws n numbers randomly from a probability mass function (PMF) defined by weights in p.
// RouletteDrawN implements the Roulette Wheel Draw a.k.a. Fitness Proportionate Selection:
// - https://en.wikipedia.org/wiki/Fitness_proportionate_selection
// - http://www.keithschwarz.com/darts-dice-coins/
// It returns a slice of n indices into the vector p.
// If src is nil, the global gonum source is used.
// It fails with error if p is empty or nil, or if p does not sum to a positive value.
func RouletteDrawN(p []float64, n int, src xrand.Source) ([]int, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("invalid probability weights: %v", p)
	}

	if n < 0 {
		return nil, fmt.Errorf("invalid number of draws: %d", n)
	}

	// Initialization: create the discrete CDF
	// We know that cdf is sorted in ascending order
	cdf := make([]float64, len(p))
	floats.CumSum(cdf, p)

	if cdf[len(cdf)-1] <= 0 {
		return nil, fmt.Errorf("invalid probability weights: %v", p)
	}

	u := distuv.Uniform{Min: 0, Max: cdf[len(cdf)-1], Src: src}

	// Generation:
	// 1. Generate a uniformly-random value x in the range [0,max(cdf))
	// 2. Using a binary search, find the index of the smallest element in cdf larger than x
	indices := make([]int, n)
	for i := range indices {
		val := u.Rand()
		// Search returns the smallest index i such that cdf[i] > val
		idx := sort.Search(len(cdf), func(i int) bool { return cdf[i] > val })
		if idx == len(cdf) {
			idx--
		}
		indices[i] = idx
	}

	return indices, nil
}

// UniformDrawN draws n indices uniformly from [0, k).
// It fails with error if k is not positive.
func UniformDrawN(k, n int, src xrand.Source) ([]int, error) {
	if k <= 0 {
		return nil, fmt.Errorf("invalid number of outcomes: %d", k)
	}

	p := make([]float64, k)
	for i := range p {
		p[i] = 1.0
	}

	return RouletteDrawN(p, n, src)
}
