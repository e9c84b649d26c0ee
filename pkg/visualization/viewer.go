// Package visualization renders carve results as images for inspection:
// axis-aligned slices of the occupancy field, extracted silhouettes and a
// histogram of the per-voxel vote counts.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"voxelcarve/internal/models"
	"voxelcarve/pkg/carving"
)

// Viewer extracts 2D cross-sections from an occupancy field.
type Viewer struct {
	occ *carving.Occupancy

	// s is the number of samples along each axis
	s int
}

// NewViewer creates a viewer over occ.
func NewViewer(occ *carving.Occupancy) *Viewer {
	return &Viewer{occ: occ, s: occ.Resolution()}
}

// ExtractSlice returns the cross-section at the given axis index as a
// grayscale image, white where occupied.
//
// A "z" slice has x along the columns and y along the rows, an "x" slice
// has z along the columns and y along the rows, and a "y" slice has x along
// the columns and z along the rows.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 || position >= v.s {
		return nil, fmt.Errorf("position %d outside [0,%d)", position, v.s)
	}

	img := image.NewGray(image.Rect(0, 0, v.s, v.s))
	set := func(col, row int, occupied bool) {
		if occupied {
			img.SetGray(col, row, color.Gray{Y: 255})
		}
	}

	switch axis {
	case "x", "X":
		for iy := 0; iy < v.s; iy++ {
			for iz := 0; iz < v.s; iz++ {
				set(iz, iy, v.occ.At(position, iy, iz))
			}
		}
	case "y", "Y":
		for iz := 0; iz < v.s; iz++ {
			for ix := 0; ix < v.s; ix++ {
				set(ix, iz, v.occ.At(ix, position, iz))
			}
		}
	case "z", "Z":
		for iy := 0; iy < v.s; iy++ {
			for ix := 0; ix < v.s; ix++ {
				set(ix, iy, v.occ.At(ix, iy, position))
			}
		}
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSliceSequence writes every slice along axis to outputDir as PNG files
// named slice_<axis>_<position>.png.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIO, err)
	}

	for pos := 0; pos < v.s; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := SavePNG(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// SilhouetteImage renders a mask as a grayscale image, white for foreground.
func SilhouetteImage(sil *models.Silhouette) image.Image {
	img := image.NewGray(image.Rect(0, 0, sil.Width, sil.Height))
	for row := 0; row < sil.Height; row++ {
		for col := 0; col < sil.Width; col++ {
			if sil.At(row, col) != 0 {
				img.SetGray(col, row, color.Gray{Y: 255})
			}
		}
	}
	return img
}

// SaveSilhouettes writes one PNG per silhouette, named after its view.
func SaveSilhouettes(views []*models.View, silhouettes []*models.Silhouette, outputDir string) error {
	if len(views) != len(silhouettes) {
		return fmt.Errorf("%w: %d views for %d silhouettes", models.ErrConfiguration, len(views), len(silhouettes))
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIO, err)
	}

	for i, sil := range silhouettes {
		filename := filepath.Join(outputDir, fmt.Sprintf("%03d_%s.png", views[i].Index, stem(views[i].Filename)))
		if err := SavePNG(SilhouetteImage(sil), filename); err != nil {
			return err
		}
	}
	return nil
}

// SavePNG encodes img to filename.
func SavePNG(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrIO, err)
	}

	if err := png.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("%w: encoding %s: %v", models.ErrIO, filename, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	return nil
}

func stem(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
