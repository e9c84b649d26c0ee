// Package lattice builds the fixed grid of candidate voxel centers that the
// carving engine projects into every view.
//
// Voxel i of a lattice with resolution s sits at axis indices (ix, iy, iz)
// where i = (ix*s + iy)*s + iz: x varies slowest and z fastest. The three
// axes are generated and stored explicitly, so nothing downstream has to
// recover them from the flattened point order.
package lattice

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"voxelcarve/internal/models"
)

// MaxResolution is the largest accepted samples-per-axis count. At this
// size the homogeneous point matrix alone takes 4 GiB.
const MaxResolution = 512

// Params controls lattice generation.
type Params struct {
	// Resolution is the number of samples along each axis.
	Resolution int

	// Scale multiplies the centered unit cube.
	Scale float64

	// ZOffset is added to z after scaling. It depends on the calibration of
	// the camera rig and has no universal value.
	ZOffset float64
}

// DefaultParams returns the settings of the reference rig.
func DefaultParams() Params {
	return Params{
		Resolution: 120,
		Scale:      0.2,
		ZOffset:    -0.62,
	}
}

// Lattice is an immutable s x s x s grid of points. It is safe for
// concurrent readers.
type Lattice struct {
	s       int
	x, y, z []float64

	hom *mat.Dense
}

// Build generates the lattice described by params.
func Build(params Params) (*Lattice, error) {
	s := params.Resolution
	if s < 2 || s > MaxResolution {
		return nil, fmt.Errorf("%w: lattice resolution must be in [2, %d], got %d", models.ErrConfiguration, MaxResolution, s)
	}
	if !(params.Scale > 0) || math.IsInf(params.Scale, 0) {
		return nil, fmt.Errorf("%w: lattice scale must be positive and finite, got %v", models.ErrConfiguration, params.Scale)
	}
	if math.IsNaN(params.ZOffset) || math.IsInf(params.ZOffset, 0) {
		return nil, fmt.Errorf("%w: lattice z offset must be finite, got %v", models.ErrConfiguration, params.ZOffset)
	}

	l := &Lattice{
		s: s,
		x: axis(s, params.Scale, 0),
		y: axis(s, params.Scale, 0),
		z: axis(s, params.Scale, params.ZOffset),
	}
	l.hom = l.homogeneous()
	return l, nil
}

// axis normalizes 0..s-1 to [0,1], removes the mean, scales and shifts.
// Every axis value occurs s*s times in the full grid, so the mean over the
// grid equals the mean over the axis.
func axis(s int, scale, offset float64) []float64 {
	values := make([]float64, s)
	for i := range values {
		values[i] = float64(i) / float64(s-1)
	}
	mean := stat.Mean(values, nil)
	for i, v := range values {
		values[i] = (v-mean)*scale + offset
	}
	return values
}

func (l *Lattice) homogeneous() *mat.Dense {
	n := l.Len()
	data := make([]float64, 4*n)
	xs, ys, zs, ones := data[:n], data[n:2*n], data[2*n:3*n], data[3*n:]
	for i := 0; i < n; i++ {
		ix, iy, iz := l.Coords(i)
		xs[i] = l.x[ix]
		ys[i] = l.y[iy]
		zs[i] = l.z[iz]
		ones[i] = 1
	}
	return mat.NewDense(4, n, data)
}

// Resolution returns the number of samples per axis.
func (l *Lattice) Resolution() int {
	return l.s
}

// Len returns the number of voxels, Resolution cubed.
func (l *Lattice) Len() int {
	return l.s * l.s * l.s
}

// Axes returns the x, y and z coordinate sets in increasing order. The
// slices are shared and must not be modified.
func (l *Lattice) Axes() (x, y, z []float64) {
	return l.x, l.y, l.z
}

// Index returns the flat index of the voxel at the given axis indices.
func (l *Lattice) Index(ix, iy, iz int) int {
	return (ix*l.s+iy)*l.s + iz
}

// Coords returns the axis indices of flat index i.
func (l *Lattice) Coords(i int) (ix, iy, iz int) {
	iz = i % l.s
	iy = (i / l.s) % l.s
	ix = i / (l.s * l.s)
	return ix, iy, iz
}

// Point returns the world position of voxel i.
func (l *Lattice) Point(i int) r3.Vec {
	ix, iy, iz := l.Coords(i)
	return r3.Vec{X: l.x[ix], Y: l.y[iy], Z: l.z[iz]}
}

// Bounds returns the corners of the axis-aligned box spanned by the voxel
// centers.
func (l *Lattice) Bounds() r3.Box {
	return r3.Box{
		Min: l.Point(0),
		Max: l.Point(l.Len() - 1),
	}
}

// Homogeneous returns the 4 x N matrix whose columns are the voxel centers
// with a trailing 1. It is built once and must not be modified.
func (l *Lattice) Homogeneous() mat.Matrix {
	return l.hom
}
