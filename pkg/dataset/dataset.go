// Package dataset discovers and decodes the per-view images of a carve.
//
// Views are ordered by file name (byte-wise lexicographic), which must match
// the order of the projection matrices. The package can only check that the
// counts agree; matching each image to its camera is up to whoever named
// the files.
package dataset

import (
	"archive/zip"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"voxelcarve/internal/models"
)

// Extensions lists the file extensions treated as view images.
var Extensions = map[string]bool{
	".ppm": true, ".pgm": true, ".pnm": true,
	".png": true, ".bmp": true,
	".tif": true, ".tiff": true,
	".jpg": true, ".jpeg": true,
	".webp": true,
}

// IsImage reports whether name has a view image extension and is not hidden.
func IsImage(name string) bool {
	base := path.Base(filepath.ToSlash(name))
	if strings.HasPrefix(base, ".") {
		return false
	}
	return Extensions[strings.ToLower(path.Ext(base))]
}

// source opens one view image.
type source struct {
	name string
	open func() (io.ReadCloser, error)
}

// List returns the view image names in dir in view order.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading image directory: %v", models.ErrLoad, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && IsImage(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Load decodes every view image found at location, which is either a
// directory or a .zip archive, using up to workers goroutines. All views
// must have the same dimensions.
func Load(ctx context.Context, location string, workers int) ([]*models.View, error) {
	var sources []source
	if strings.EqualFold(filepath.Ext(location), ".zip") {
		zr, err := zip.OpenReader(location)
		if err != nil {
			return nil, fmt.Errorf("%w: opening archive: %v", models.ErrLoad, err)
		}
		defer zr.Close()
		sources = zipSources(&zr.Reader)
	} else {
		names, err := List(location)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			full := filepath.Join(location, name)
			sources = append(sources, source{
				name: name,
				open: func() (io.ReadCloser, error) { return os.Open(full) },
			})
		}
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no view images found in %s", models.ErrLoad, location)
	}
	return decodeAll(ctx, sources, workers)
}

// zipSources lists image entries of an archive sorted by their full path.
func zipSources(zr *zip.Reader) []source {
	var sources []source
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !IsImage(f.Name) {
			continue
		}
		sources = append(sources, source{name: f.Name, open: f.Open})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].name < sources[j].name })
	return sources
}

func decodeAll(ctx context.Context, sources []source, workers int) ([]*models.View, error) {
	if workers < 1 {
		workers = 1
	}
	views := make([]*models.View, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, src := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := decode(src)
			if err != nil {
				return err
			}
			views[i] = &models.View{Index: i, Filename: path.Base(src.name), Image: img}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	w, h := views[0].Image.Width, views[0].Image.Height
	for _, v := range views {
		if v.Image.Width != w || v.Image.Height != h {
			return nil, fmt.Errorf("%w: %s is %dx%d, %s is %dx%d", models.ErrConfiguration,
				v.Filename, v.Image.Width, v.Image.Height, views[0].Filename, w, h)
		}
	}
	return views, nil
}

func decode(src source) (*models.Image, error) {
	rc, err := src.open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrLoad, src.name, err)
	}
	defer rc.Close()

	img, _, err := image.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", models.ErrLoad, src.name, err)
	}
	return Normalize(img), nil
}

// Normalize converts img to non-premultiplied RGB samples in [0,1].
func Normalize(img image.Image) *models.Image {
	b := img.Bounds()
	out := models.NewImage(b.Dx(), b.Dy())

	if src, ok := img.(*image.NRGBA64); ok {
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				c := src.NRGBA64At(b.Min.X+x, b.Min.Y+y)
				out.SetRGB(x, y, float64(c.R)/65535.0, float64(c.G)/65535.0, float64(c.B)/65535.0)
			}
		}
		return out
	}

	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			out.SetRGB(x, y, float64(c.R)/65535.0, float64(c.G)/65535.0, float64(c.B)/65535.0)
		}
	}
	return out
}
