package carving

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelcarve/internal/models"
)

func TestThresholdStrict(t *testing.T) {
	lat := buildLattice(t, 2)
	votes := Votes{0, 1, 2, 3, 3, 2, 1, 0}

	occ, err := Threshold(votes, lat, 3, 2)
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 0, 0, 1, 1, 0, 0, 0}, occ.Field())
	assert.Equal(t, 2, occ.Count())
	assert.InDelta(t, 0.25, occ.Fraction(), 1e-12)
	assert.True(t, occ.At(0, 1, 1))
	assert.True(t, occ.Occupied(4))
	assert.False(t, occ.At(1, 1, 1))
	assert.Equal(t, 3, occ.Views)
	assert.Equal(t, 2.0, occ.Cutoff)
}

func TestThresholdMonotonic(t *testing.T) {
	lat := buildLattice(t, 6)
	rng := rand.New(rand.NewSource(11))
	votes := make(Votes, lat.Len())
	for i := range votes {
		votes[i] = float64(rng.Intn(9))
	}

	prev, err := Threshold(votes, lat, 8, -1)
	require.NoError(t, err)
	assert.Equal(t, lat.Len(), prev.Count())

	for cutoff := 0.0; cutoff <= 9; cutoff++ {
		next, err := Threshold(votes, lat, 8, cutoff)
		require.NoError(t, err)
		for i := 0; i < lat.Len(); i++ {
			if next.Occupied(i) {
				require.True(t, prev.Occupied(i), "cutoff %v added voxel %d", cutoff, i)
			}
		}
		assert.LessOrEqual(t, next.Count(), prev.Count())
		prev = next
	}
}

func TestThresholdCutoffAtViewCount(t *testing.T) {
	lat := buildLattice(t, 3)
	votes := make(Votes, lat.Len())
	for i := range votes {
		votes[i] = 4
	}

	for _, cutoff := range []float64{4, 5, 100} {
		occ, err := Threshold(votes, lat, 4, cutoff)
		require.NoError(t, err)
		assert.Zero(t, occ.Count(), "cutoff %v", cutoff)
	}
}

func TestThresholdCopiesAxes(t *testing.T) {
	lat := buildLattice(t, 3)
	occ, err := Threshold(make(Votes, lat.Len()), lat, 1, 0)
	require.NoError(t, err)

	lx, ly, lz := lat.Axes()
	ox, oy, oz := occ.Axes()
	assert.Equal(t, lx, ox)
	assert.Equal(t, ly, oy)
	assert.Equal(t, lz, oz)
	assert.Equal(t, 3, occ.Resolution())
	assert.Equal(t, 27, occ.Len())
}

func TestThresholdLengthMismatch(t *testing.T) {
	lat := buildLattice(t, 3)
	_, err := Threshold(make(Votes, 26), lat, 1, 0)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	_, err = Threshold(nil, nil, 1, 0)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}
