package noise

import (
	"fmt"

	"github.com/milosgajdos/go-control"
	"github.com/milosgajdos/go-control/polytope"
	"github.com/milosgajdos/go-control/rand"
	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Vertices is bounded noise which samples uniformly among the vertices
// of a disturbance polytope, i.e. among its worst-case realizations.
type Vertices struct {
	// set is the disturbance polytope
	set *polytope.Polytope
	// verts are set vertices
	verts []*mat.VecDense
	// src is random source
	src xrand.Source
	// seed seeds src; 0 means time based seed
	seed uint64
}

var _ control.Noise = (*Vertices)(nil)

// NewVertices creates new polytope vertex noise and returns it.
// Samples are drawn from a source seeded with seed; 0 seeds it with current time.
// It returns error if the polytope vertices can not be enumerated or if the polytope is empty.
func NewVertices(set *polytope.Polytope, seed uint64) (*Vertices, error) {
	if set == nil {
		return nil, fmt.Errorf("invalid disturbance set: %v", set)
	}

	verts, err := set.Vertices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate disturbance vertices: %w", err)
	}

	if len(verts) == 0 {
		return nil, fmt.Errorf("disturbance set: %w", polytope.ErrEmpty)
	}

	return &Vertices{
		set:   set,
		verts: verts,
		src:   rand.NewSource(seed),
		seed:  seed,
	}, nil
}

// Sample returns one of the disturbance set vertices drawn uniformly at random.
func (v *Vertices) Sample() mat.Vector {
	// UniformDrawN fails only for empty vertex sets which NewVertices rejects
	idx, _ := rand.UniformDrawN(len(v.verts), 1, v.src)

	return mat.VecDenseCopyOf(v.verts[idx[0]])
}

// Dim returns noise dimension
func (v *Vertices) Dim() int {
	return v.set.Dim()
}

// Set returns the disturbance polytope
func (v *Vertices) Set() *polytope.Polytope {
	return v.set
}

// Vertices returns the sampled vertices
func (v *Vertices) Vertices() []*mat.VecDense {
	verts := make([]*mat.VecDense, len(v.verts))
	for i := range v.verts {
		verts[i] = mat.VecDenseCopyOf(v.verts[i])
	}

	return verts
}

// Reset resets noise random source.
func (v *Vertices) Reset() {
	v.src = rand.NewSource(v.seed)
}

// String implements the Stringer interface.
func (v *Vertices) String() string {
	return fmt.Sprintf("Vertices{\nCount=%d\nSet=%v\n}", len(v.verts), v.set)
}
