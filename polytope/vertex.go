package polytope

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/combin"
)

// maxCond is the largest condition number of an active set which still defines a vertex
const maxCond = 1e12

// enumerateVertices enumerates vertices of p by solving every combination
// of dim active halfspaces and keeping the feasible solutions.
func enumerateVertices(p *Polytope) ([]*mat.VecDense, error) {
	if p.IsEmpty() {
		return nil, nil
	}

	if _, _, err := p.Bounds(); err != nil {
		if errors.Is(err, ErrEmpty) {
			return nil, nil
		}
		return nil, err
	}

	rows, d := p.a.Dims()
	if rows < d+1 {
		return nil, fmt.Errorf("%w: %d halfspaces in %d dimensions", ErrUnbounded, rows, d)
	}

	var verts []*mat.VecDense
	active := mat.NewDense(d, d, nil)
	rhs := mat.NewVecDense(d, nil)
	idx := make([]int, d)

	gen := combin.NewCombinationGenerator(rows, d)
	for gen.Next() {
		gen.Combination(idx)
		for k, i := range idx {
			active.SetRow(k, p.a.RawRowView(i))
			rhs.SetVec(k, p.b.AtVec(i))
		}

		var lu mat.LU
		lu.Factorize(active)
		if lu.Cond() > maxCond {
			continue
		}

		x := mat.NewVecDense(d, nil)
		if err := lu.SolveVecTo(x, false, rhs); err != nil {
			continue
		}

		if p.Contains(x, vertexTol) {
			verts = appendUnique(verts, x, vertexTol)
		}
	}

	sortCCW(verts)

	return verts, nil
}

// Hull returns the convex hull of points in halfspace representation.
// All points must have the same length.
// It returns ErrDegenerate if the points do not span a full dimensional set.
func Hull(points []*mat.VecDense) (*Polytope, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no points", ErrDegenerate)
	}

	d := points[0].Len()
	for _, p := range points {
		if p.Len() != d {
			return nil, fmt.Errorf("%w: point of length %d, expected %d", ErrShapeMismatch, p.Len(), d)
		}
	}

	if d == 1 {
		return hull1D(points)
	}

	if len(points) < d+1 {
		return nil, fmt.Errorf("%w: %d points in %d dimensions", ErrDegenerate, len(points), d)
	}

	var normals [][]float64
	var offsets []float64

	diff := mat.NewDense(d-1, d, nil)
	idx := make([]int, d)
	gen := combin.NewCombinationGenerator(len(points), d)
	for gen.Next() {
		gen.Combination(idx)
		base := points[idx[0]]
		for k := 1; k < d; k++ {
			row := make([]float64, d)
			for j := 0; j < d; j++ {
				row[j] = points[idx[k]].AtVec(j) - base.AtVec(j)
			}
			diff.SetRow(k-1, row)
		}

		normal, ok := nullVector(diff)
		if !ok {
			continue
		}
		offset := floats.Dot(normal, base.RawVector().Data)

		above, below := 0, 0
		for _, q := range points {
			s := floats.Dot(normal, q.RawVector().Data) - offset
			switch {
			case s > vertexTol:
				above++
			case s < -vertexTol:
				below++
			}
		}

		switch {
		case above == 0 && below == 0:
			return nil, fmt.Errorf("%w: points lie in a hyperplane", ErrDegenerate)
		case above > 0 && below > 0:
			continue
		case above > 0:
			floats.Scale(-1, normal)
			offset = -offset
		}

		n, o, ok := normalize(normal, offset)
		if !ok {
			continue
		}

		dup := false
		for i := range normals {
			if floats.EqualApprox(normals[i], n, vertexTol) && math.Abs(offsets[i]-o) < vertexTol {
				dup = true
				break
			}
		}
		if !dup {
			normals = append(normals, n)
			offsets = append(offsets, o)
		}
	}

	if len(normals) < d+1 {
		return nil, fmt.Errorf("%w: %d facets in %d dimensions", ErrDegenerate, len(normals), d)
	}

	data := make([]float64, 0, len(normals)*d)
	for _, n := range normals {
		data = append(data, n...)
	}

	return NewWithDim(d, mat.NewDense(len(normals), d, data), mat.NewVecDense(len(offsets), offsets))
}

// flatHull returns the convex hull of points which may span an affine subspace
// of lower dimension. The hull is computed in the coordinates of the subspace
// and the subspace itself is described by pairs of opposite halfspaces.
func flatHull(points []*mat.VecDense) (*Polytope, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no points", ErrDegenerate)
	}

	m, d := len(points), points[0].Len()
	center := make([]float64, d)
	for _, p := range points {
		if p.Len() != d {
			return nil, fmt.Errorf("%w: point of length %d, expected %d", ErrShapeMismatch, p.Len(), d)
		}
		for j := 0; j < d; j++ {
			center[j] += p.AtVec(j)
		}
	}
	floats.Scale(1/float64(m), center)

	D := mat.NewDense(m, d, nil)
	for i, p := range points {
		for j := 0; j < d; j++ {
			D.Set(i, j, p.AtVec(j)-center[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(D, mat.SVDFull); !ok {
		return nil, fmt.Errorf("%w: affine hull factorisation failed", ErrDegenerate)
	}

	vals := svd.Values(nil)
	rank := 0
	for _, s := range vals {
		if s > vertexTol*math.Max(1, vals[0]) {
			rank++
		}
	}

	if rank == d {
		return Hull(points)
	}

	var V mat.Dense
	svd.VTo(&V)

	var normals [][]float64
	var offsets []float64

	if rank > 0 {
		basis := V.Slice(0, d, 0, rank)

		proj := make([]*mat.VecDense, m)
		for i := range points {
			y := mat.NewVecDense(rank, nil)
			y.MulVec(basis.T(), D.RowView(i))
			proj[i] = y
		}

		h, err := Hull(proj)
		if err != nil {
			return nil, err
		}

		rows, _ := h.a.Dims()
		for i := 0; i < rows; i++ {
			n := mat.NewVecDense(d, nil)
			n.MulVec(basis, h.a.RowView(i))
			normals = append(normals, n.RawVector().Data)
			offsets = append(offsets, h.b.AtVec(i)+floats.Dot(n.RawVector().Data, center))
		}
	}

	for j := rank; j < d; j++ {
		n := mat.Col(nil, j, &V)
		neg := make([]float64, d)
		floats.ScaleTo(neg, -1, n)
		o := floats.Dot(n, center)

		normals = append(normals, n, neg)
		offsets = append(offsets, o, -o)
	}

	data := make([]float64, 0, len(normals)*d)
	for _, n := range normals {
		data = append(data, n...)
	}

	return NewWithDim(d, mat.NewDense(len(normals), d, data), mat.NewVecDense(len(offsets), offsets))
}

func hull1D(points []*mat.VecDense) (*Polytope, error) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		lo = math.Min(lo, p.AtVec(0))
		hi = math.Max(hi, p.AtVec(0))
	}

	if hi-lo < vertexTol {
		return nil, fmt.Errorf("%w: single point", ErrDegenerate)
	}

	return Box([]float64{lo}, []float64{hi})
}

// nullVector returns a unit vector spanning the null space of the (d-1) x d matrix m.
// It returns false if m is rank deficient.
func nullVector(m *mat.Dense) ([]float64, bool) {
	r, c := m.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, false
	}

	vals := svd.Values(nil)
	if len(vals) < r || vals[len(vals)-1] < vertexTol*math.Max(1, vals[0]) {
		return nil, false
	}

	var v mat.Dense
	svd.VTo(&v)

	return mat.Col(nil, c-1, &v), true
}
