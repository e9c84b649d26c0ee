package carving

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"voxelcarve/internal/models"
	"voxelcarve/pkg/lattice"
	"voxelcarve/pkg/projection"
)

func buildLattice(t *testing.T, s int) *lattice.Lattice {
	t.Helper()
	// scale 1 and no offset keep every axis inside [-0.5, 0.5]
	lat, err := lattice.Build(lattice.Params{Resolution: s, Scale: 1})
	require.NoError(t, err)
	return lat
}

func projections(t *testing.T, rows ...[]float64) *projection.Set {
	t.Helper()
	matrices := make([]mat.Matrix, len(rows))
	for i, r := range rows {
		matrices[i] = mat.NewDense(3, 4, r)
	}
	set, err := projection.New(matrices)
	require.NoError(t, err)
	return set
}

func filled(w, h int, v uint8) *models.Silhouette {
	s := models.NewSilhouette(w, h)
	for i := range s.Mask {
		s.Mask[i] = v
	}
	return s
}

// covering maps x,y in [-0.5, 0.5] onto pixels 3..13 of a 16x16 image.
var covering = []float64{
	10, 0, 0, 8,
	0, 10, 0, 8,
	0, 0, 0, 1,
}

func carve(t *testing.T, lat *lattice.Lattice, set Projections, sils []*models.Silhouette) Votes {
	t.Helper()
	votes, err := NewEngine(Options{Workers: 3}).Carve(context.Background(), lat, set, sils)
	require.NoError(t, err)
	return votes
}

func TestCarveAllForeground(t *testing.T) {
	lat := buildLattice(t, 5)
	set := projections(t, covering, covering, covering, covering)
	sils := []*models.Silhouette{filled(16, 16, 1), filled(16, 16, 1), filled(16, 16, 1), filled(16, 16, 1)}

	votes := carve(t, lat, set, sils)
	require.Len(t, votes, 125)
	for i, v := range votes {
		require.Equal(t, 4.0, v, "voxel %d", i)
	}

	full, err := Threshold(votes, lat, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, lat.Len(), full.Count(), "cutoff 3 keeps every voxel")

	empty, err := Threshold(votes, lat, 4, 4)
	require.NoError(t, err)
	assert.Zero(t, empty.Count(), "votes equal to the cutoff are not occupied")
}

func TestCarveOneBackgroundView(t *testing.T) {
	lat := buildLattice(t, 4)
	set := projections(t, covering, covering, covering, covering, covering)
	sils := []*models.Silhouette{
		filled(16, 16, 1), filled(16, 16, 1), filled(16, 16, 0), filled(16, 16, 1), filled(16, 16, 1),
	}

	votes := carve(t, lat, set, sils)
	assert.Equal(t, 4.0, votes.Max())

	occ, err := Threshold(votes, lat, 5, 4)
	require.NoError(t, err)
	assert.Zero(t, occ.Count())
}

func TestCarveNonBinaryMask(t *testing.T) {
	lat := buildLattice(t, 4)
	set := projections(t, covering, covering, covering)
	sils := []*models.Silhouette{filled(16, 16, 255), filled(16, 16, 1), filled(16, 16, 7)}

	votes := carve(t, lat, set, sils)
	for i, v := range votes {
		require.Equal(t, 3.0, v, "voxel %d", i)
	}

	occ, err := Threshold(votes, lat, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, lat.Len(), occ.Count())
}

func TestCarvePixelBoundary(t *testing.T) {
	const w, h = 8, 6
	lat := buildLattice(t, 2) // axes are {-0.5, 0.5}
	sil := []*models.Silhouette{filled(w, h, 1)}

	t.Run("last pixel is valid", func(t *testing.T) {
		set := projections(t, []float64{
			1, 0, 0, w - 1.5,
			0, 1, 0, h - 1.5,
			0, 0, 0, 1,
		})
		votes := carve(t, lat, set, sil)
		for i, v := range votes {
			assert.Equal(t, 1.0, v, "voxel %d", i)
		}
	})

	t.Run("column width is outside", func(t *testing.T) {
		set := projections(t, []float64{
			1, 0, 0, w - 0.5,
			0, 1, 0, h - 1.5,
			0, 0, 0, 1,
		})
		votes := carve(t, lat, set, sil)
		for i, v := range votes {
			ix, _, _ := lat.Coords(i)
			want := 1.0
			if ix == 1 {
				want = 0
			}
			assert.Equal(t, want, v, "voxel %d", i)
		}
	})

	t.Run("row height is outside", func(t *testing.T) {
		set := projections(t, []float64{
			1, 0, 0, w - 1.5,
			0, 1, 0, h - 0.5,
			0, 0, 0, 1,
		})
		votes := carve(t, lat, set, sil)
		for i, v := range votes {
			_, iy, _ := lat.Coords(i)
			want := 1.0
			if iy == 1 {
				want = 0
			}
			assert.Equal(t, want, v, "voxel %d", i)
		}
	})
}

func TestCarveRoundsHalfToEven(t *testing.T) {
	lat := buildLattice(t, 2)
	// u = x + 2 lands on 1.5 and 2.5, both of which round to 2
	set := projections(t, []float64{
		1, 0, 0, 2,
		0, 0, 0, 0,
		0, 0, 0, 1,
	})

	for col, want := range map[int]float64{1: 0, 2: 1, 3: 0} {
		sil := models.NewSilhouette(5, 1)
		sil.Set(0, col, 1)
		votes := carve(t, lat, set, []*models.Silhouette{sil})
		for i, v := range votes {
			assert.Equal(t, want, v, "column %d voxel %d", col, i)
		}
	}
}

func TestCarveDegenerateDepth(t *testing.T) {
	lat := buildLattice(t, 3)
	sil := []*models.Silhouette{filled(16, 16, 1)}

	t.Run("zero depth", func(t *testing.T) {
		set := projections(t, []float64{
			10, 0, 0, 8,
			0, 10, 0, 8,
			0, 0, 0, 0,
		})
		votes := carve(t, lat, set, sil)
		assert.Zero(t, votes.Max())
	})

	t.Run("near zero depth", func(t *testing.T) {
		set := projections(t, []float64{
			10, 0, 0, 8,
			0, 10, 0, 8,
			0, 0, 0, 1e-300,
		})
		votes := carve(t, lat, set, sil)
		assert.Zero(t, votes.Max(), "huge pixel coordinates fall outside the image")
	})
}

// randomRig builds views whose depth stays in [1.5, 2.5] and whose
// silhouettes are random masks.
func randomRig(t *testing.T, views int, seed int64) (*projection.Set, []*models.Silhouette) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, views)
	sils := make([]*models.Silhouette, views)
	for k := range rows {
		f := 20 + rng.Float64()*10
		rows[k] = []float64{
			f, rng.Float64() * 5, rng.Float64() * 5, 32,
			rng.Float64() * 5, f, rng.Float64() * 5, 32,
			0, 0, 1, 2,
		}
		sil := models.NewSilhouette(32, 32)
		for i := range sil.Mask {
			if rng.Intn(3) > 0 {
				sil.Mask[i] = 1
			}
		}
		sils[k] = sil
	}
	return projections(t, rows...), sils
}

func TestCarveVoteRange(t *testing.T) {
	lat := buildLattice(t, 8)
	set, sils := randomRig(t, 7, 1)

	votes := carve(t, lat, set, sils)
	require.Len(t, votes, 8*8*8)
	for _, v := range votes {
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 7.0)
	}
	assert.Positive(t, votes.Max())
}

func TestCarveOrderIndependent(t *testing.T) {
	lat := buildLattice(t, 7)
	set, sils := randomRig(t, 6, 42)
	reference := carve(t, lat, set, sils)

	perms := [][]int{
		{5, 4, 3, 2, 1, 0},
		{2, 0, 5, 1, 4, 3},
		{1, 3, 5, 0, 2, 4},
	}
	for _, perm := range perms {
		permuted := make([]*models.Silhouette, len(perm))
		for i, v := range perm {
			permuted[i] = sils[v]
		}
		votes := carve(t, lat, set.Subset(perm), permuted)
		assert.InDeltaSlice(t, reference, votes, 1e-9, "permutation %v", perm)
	}
}

func TestCarveWorkerCountIndependent(t *testing.T) {
	lat := buildLattice(t, 6)
	set, sils := randomRig(t, 5, 7)

	var results []Votes
	for _, workers := range []int{0, 1, 2, 5, 16} {
		votes, err := NewEngine(Options{Workers: workers}).Carve(context.Background(), lat, set, sils)
		require.NoError(t, err)
		results = append(results, votes)
	}
	for i := 1; i < len(results); i++ {
		assert.Equal(t, results[0], results[i])
	}
}

func TestCarveConfigurationErrors(t *testing.T) {
	lat := buildLattice(t, 3)
	engine := NewEngine(Options{Workers: 2})
	ctx := context.Background()

	t.Run("zero views", func(t *testing.T) {
		empty, err := projection.New(nil)
		require.NoError(t, err)
		_, err = engine.Carve(ctx, lat, empty, nil)
		assert.ErrorIs(t, err, models.ErrConfiguration)
	})

	t.Run("count mismatch", func(t *testing.T) {
		set := projections(t, covering, covering)
		_, err := engine.Carve(ctx, lat, set, []*models.Silhouette{filled(16, 16, 1)})
		assert.ErrorIs(t, err, models.ErrConfiguration)
	})

	t.Run("mixed sizes", func(t *testing.T) {
		set := projections(t, covering, covering)
		_, err := engine.Carve(ctx, lat, set, []*models.Silhouette{filled(16, 16, 1), filled(16, 15, 1)})
		assert.ErrorIs(t, err, models.ErrConfiguration)
	})

	t.Run("missing silhouette", func(t *testing.T) {
		set := projections(t, covering)
		_, err := engine.Carve(ctx, lat, set, []*models.Silhouette{nil})
		assert.ErrorIs(t, err, models.ErrConfiguration)
	})

	t.Run("no lattice", func(t *testing.T) {
		set := projections(t, covering)
		_, err := engine.Carve(ctx, nil, set, []*models.Silhouette{filled(16, 16, 1)})
		assert.ErrorIs(t, err, models.ErrConfiguration)
	})
}

func TestCarveCancelled(t *testing.T) {
	lat := buildLattice(t, 4)
	set, sils := randomRig(t, 4, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	votes, err := NewEngine(Options{Workers: 2}).Carve(ctx, lat, set, sils)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, votes)
}

func TestCarveProgress(t *testing.T) {
	lat := buildLattice(t, 3)
	set, sils := randomRig(t, 5, 9)

	var calls []int
	engine := NewEngine(Options{Workers: 2, Progress: func(completed, total int) {
		assert.Equal(t, 5, total)
		calls = append(calls, completed)
	}})
	_, err := engine.Carve(context.Background(), lat, set, sils)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, calls)
}
