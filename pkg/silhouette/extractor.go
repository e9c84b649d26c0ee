// Package silhouette turns view images into binary foreground masks with a
// chroma-key rule followed by a morphological opening.
package silhouette

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"voxelcarve/internal/models"
)

// Params controls silhouette extraction.
type Params struct {
	// KeyColor is the background reference color in normalized RGB.
	KeyColor [3]float64

	// Tolerance is the largest summed absolute channel distance from
	// KeyColor that is still classified as background.
	Tolerance float64

	// KernelSize is the side of the square structuring element.
	KernelSize int

	// MaskChannel selects which channel of the keyed image becomes the mask.
	MaskChannel int
}

// DefaultParams returns the blue-screen settings of the reference rig.
func DefaultParams() Params {
	return Params{
		KeyColor:    [3]float64{0.0, 0.0, 0.75},
		Tolerance:   1.1,
		KernelSize:  5,
		MaskChannel: 0,
	}
}

// Extractor converts images into silhouettes. It holds no mutable state and
// may be shared between goroutines.
type Extractor struct {
	params Params
}

// NewExtractor validates params and returns an Extractor.
func NewExtractor(params Params) (*Extractor, error) {
	if params.KernelSize <= 0 {
		return nil, fmt.Errorf("%w: kernel size must be positive, got %d", models.ErrConfiguration, params.KernelSize)
	}
	if params.Tolerance < 0 || math.IsNaN(params.Tolerance) {
		return nil, fmt.Errorf("%w: tolerance must be non-negative, got %v", models.ErrConfiguration, params.Tolerance)
	}
	if params.MaskChannel < 0 || params.MaskChannel > 2 {
		return nil, fmt.Errorf("%w: mask channel must be 0, 1 or 2, got %d", models.ErrConfiguration, params.MaskChannel)
	}
	return &Extractor{params: params}, nil
}

// Extract computes the silhouette of img. The input is not modified.
func (e *Extractor) Extract(img *models.Image) *models.Silhouette {
	key := e.params.KeyColor
	ch := e.params.MaskChannel

	raw := models.NewSilhouette(img.Width, img.Height)
	for i := 0; i < img.Width*img.Height; i++ {
		px := img.Pix[i*3 : i*3+3]
		dist := math.Abs(px[0]-key[0]) + math.Abs(px[1]-key[1]) + math.Abs(px[2]-key[2])
		// keyed pixels are zeroed, everything else keeps its sample
		if dist > e.params.Tolerance && px[ch] > 0 {
			raw.Mask[i] = 1
		}
	}

	return Open(raw, e.params.KernelSize)
}

// ExtractAll extracts silhouettes for every image using up to workers
// goroutines. Results keep the order of images. All images must share the
// same dimensions.
func (e *Extractor) ExtractAll(ctx context.Context, images []*models.Image, workers int) ([]*models.Silhouette, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no views to extract", models.ErrConfiguration)
	}
	w, h := images[0].Width, images[0].Height
	for i, img := range images {
		if img.Width != w || img.Height != h {
			return nil, fmt.Errorf("%w: view %d is %dx%d, view 0 is %dx%d", models.ErrConfiguration, i, img.Width, img.Height, w, h)
		}
	}
	if workers < 1 {
		workers = 1
	}

	out := make([]*models.Silhouette, len(images))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, img := range images {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = e.Extract(img)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
