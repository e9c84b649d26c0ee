package lattice

import (
	"math"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"voxelcarve/internal/models"
)

func TestBuildSize(t *testing.T) {
	for _, s := range []int{2, 3, 7, 16} {
		l, err := Build(Params{Resolution: s, Scale: 0.2, ZOffset: -0.62})
		require.NoError(t, err)

		assert.Equal(t, s*s*s, l.Len())
		assert.Equal(t, s, l.Resolution())
		_, n := l.Homogeneous().Dims()
		assert.Equal(t, s*s*s, n)
	}
}

func TestAxesMatchReferenceGeometry(t *testing.T) {
	l, err := Build(Params{Resolution: 5, Scale: 0.2, ZOffset: -0.62})
	require.NoError(t, err)

	x, y, z := l.Axes()
	approx := cmpopts.EquateApprox(0, 1e-12)

	wantXY := []float64{-0.1, -0.05, 0, 0.05, 0.1}
	if diff := cmp.Diff(wantXY, x, approx); diff != "" {
		t.Errorf("x axis mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantXY, y, approx); diff != "" {
		t.Errorf("y axis mismatch (-want +got):\n%s", diff)
	}
	wantZ := []float64{-0.72, -0.67, -0.62, -0.57, -0.52}
	if diff := cmp.Diff(wantZ, z, approx); diff != "" {
		t.Errorf("z axis mismatch (-want +got):\n%s", diff)
	}
}

func TestAxesIncreasing(t *testing.T) {
	l, err := Build(DefaultParams())
	require.NoError(t, err)

	x, y, z := l.Axes()
	for _, a := range [][]float64{x, y, z} {
		require.Len(t, a, 120)
		assert.True(t, sort.SliceIsSorted(a, func(i, j int) bool { return a[i] < a[j] }))
	}
}

// The flattened order must agree with strided reads of the point array:
// stride s*s walks x, stride s walks y, stride 1 walks z.
func TestPointOrder(t *testing.T) {
	const s = 6
	l, err := Build(Params{Resolution: s, Scale: 0.5, ZOffset: 1})
	require.NoError(t, err)
	x, y, z := l.Axes()

	for i := 0; i < s; i++ {
		assert.Equal(t, x[i], l.Point(i*s*s).X)
		assert.Equal(t, y[i], l.Point(i*s).Y)
		assert.Equal(t, z[i], l.Point(i).Z)
	}

	hom := l.Homogeneous()
	for i := 0; i < l.Len(); i++ {
		ix, iy, iz := l.Coords(i)
		require.Equal(t, i, l.Index(ix, iy, iz))

		p := l.Point(i)
		require.Equal(t, r3.Vec{X: hom.At(0, i), Y: hom.At(1, i), Z: hom.At(2, i)}, p)
		require.Equal(t, 1.0, hom.At(3, i))
	}
}

func TestCentering(t *testing.T) {
	l, err := Build(Params{Resolution: 9, Scale: 1, ZOffset: 0})
	require.NoError(t, err)

	var sum r3.Vec
	for i := 0; i < l.Len(); i++ {
		sum = r3.Add(sum, l.Point(i))
	}
	mean := r3.Scale(1/float64(l.Len()), sum)
	assert.InDelta(t, 0, mean.X, 1e-12)
	assert.InDelta(t, 0, mean.Y, 1e-12)
	assert.InDelta(t, 0, mean.Z, 1e-12)

	x, _, _ := l.Axes()
	assert.InDelta(t, 1.0, x[len(x)-1]-x[0], 1e-12, "unit extent before scaling")
}

func TestDeterministic(t *testing.T) {
	a, err := Build(DefaultParams())
	require.NoError(t, err)
	b, err := Build(DefaultParams())
	require.NoError(t, err)

	ax, ay, az := a.Axes()
	bx, by, bz := b.Axes()
	assert.Equal(t, ax, bx)
	assert.Equal(t, ay, by)
	assert.Equal(t, az, bz)
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name   string
		params Params
	}{
		{"resolution 1", Params{Resolution: 1, Scale: 0.2}},
		{"resolution 0", Params{Resolution: 0, Scale: 0.2}},
		{"resolution above maximum", Params{Resolution: MaxResolution + 1, Scale: 0.2}},
		{"resolution overflowing voxel count", Params{Resolution: 1 << 21, Scale: 0.2, ZOffset: -0.62}},
		{"zero scale", Params{Resolution: 4, Scale: 0}},
		{"negative scale", Params{Resolution: 4, Scale: -1}},
		{"infinite scale", Params{Resolution: 4, Scale: math.Inf(1)}},
		{"nan offset", Params{Resolution: 4, Scale: 1, ZOffset: math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.params)
			assert.ErrorIs(t, err, models.ErrConfiguration)
		})
	}
}

func TestBounds(t *testing.T) {
	lat, err := Build(Params{Resolution: 5, Scale: 0.2, ZOffset: -0.62})
	require.NoError(t, err)

	box := lat.Bounds()
	approx := cmpopts.EquateApprox(0, 1e-12)
	assert.True(t, cmp.Equal(r3.Vec{X: -0.1, Y: -0.1, Z: -0.72}, box.Min, approx), "min %v", box.Min)
	assert.True(t, cmp.Equal(r3.Vec{X: 0.1, Y: 0.1, Z: -0.52}, box.Max, approx), "max %v", box.Max)
	assert.True(t, cmp.Equal(r3.Vec{X: 0, Y: 0, Z: -0.62}, box.Center(), approx))

	for i := 0; i < lat.Len(); i++ {
		assert.True(t, box.Contains(lat.Point(i)), "voxel %d outside bounds", i)
	}
}
