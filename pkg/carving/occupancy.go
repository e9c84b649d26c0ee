package carving

import (
	"fmt"

	"voxelcarve/internal/models"
	"voxelcarve/pkg/lattice"
)

// OccupancyName is the scalar field name used in grid files.
const OccupancyName = "Occupancy"

// Occupancy is the binary result of a carve: a voxel is occupied when its
// vote count strictly exceeds the cutoff. It is immutable once built.
type Occupancy struct {
	s       int
	x, y, z []float64
	field   []float32
	count   int

	// Views is the number of views the votes were accumulated over.
	Views int

	// Cutoff is the threshold the votes had to exceed.
	Cutoff float64
}

// Threshold marks voxel i occupied iff votes[i] > cutoff. A cutoff at or
// above viewCount is legal and simply leaves every voxel empty.
func Threshold(votes Votes, lat *lattice.Lattice, viewCount int, cutoff float64) (*Occupancy, error) {
	if lat == nil {
		return nil, fmt.Errorf("%w: no lattice", models.ErrConfiguration)
	}
	if len(votes) != lat.Len() {
		return nil, fmt.Errorf("%w: %d votes for a lattice of %d voxels", models.ErrConfiguration, len(votes), lat.Len())
	}

	x, y, z := lat.Axes()
	occ := &Occupancy{
		s:      lat.Resolution(),
		x:      append([]float64(nil), x...),
		y:      append([]float64(nil), y...),
		z:      append([]float64(nil), z...),
		field:  make([]float32, len(votes)),
		Views:  viewCount,
		Cutoff: cutoff,
	}
	for i, v := range votes {
		if v > cutoff {
			occ.field[i] = 1
			occ.count++
		}
	}
	return occ, nil
}

// Resolution returns the number of samples per axis.
func (o *Occupancy) Resolution() int {
	return o.s
}

// Len returns the number of voxels.
func (o *Occupancy) Len() int {
	return len(o.field)
}

// Axes returns the coordinate sets of the grid. They must not be modified.
func (o *Occupancy) Axes() (x, y, z []float64) {
	return o.x, o.y, o.z
}

// Field returns the 0/1 scalar field in lattice order (x slowest). It must
// not be modified.
func (o *Occupancy) Field() []float32 {
	return o.field
}

// Occupied reports whether flat voxel i is occupied.
func (o *Occupancy) Occupied(i int) bool {
	return o.field[i] != 0
}

// At reports whether the voxel at the given axis indices is occupied.
func (o *Occupancy) At(ix, iy, iz int) bool {
	return o.field[(ix*o.s+iy)*o.s+iz] != 0
}

// Count returns the number of occupied voxels.
func (o *Occupancy) Count() int {
	return o.count
}

// Fraction returns the share of occupied voxels.
func (o *Occupancy) Fraction() float64 {
	if len(o.field) == 0 {
		return 0
	}
	return float64(o.count) / float64(len(o.field))
}
