package silhouette

import "voxelcarve/internal/models"

// Open applies a morphological opening (erosion followed by dilation) with a
// k x k square structuring element anchored at k/2. Pixels outside the image
// neither erode nor dilate their neighbours.
func Open(s *models.Silhouette, k int) *models.Silhouette {
	return Dilate(Erode(s, k), k)
}

// Erode sets a pixel to the minimum of its k x k neighbourhood.
func Erode(s *models.Silhouette, k int) *models.Silhouette {
	return filter(s, k, func(a, b uint8) uint8 {
		if b < a {
			return b
		}
		return a
	}, 1)
}

// Dilate sets a pixel to the maximum of its k x k neighbourhood.
func Dilate(s *models.Silhouette, k int) *models.Silhouette {
	return filter(s, k, func(a, b uint8) uint8 {
		if b > a {
			return b
		}
		return a
	}, 0)
}

// filter runs a separable rank filter: rows first, then columns. identity is
// the value that leaves the reduction unchanged and stands in for the
// out-of-image border.
func filter(s *models.Silhouette, k int, reduce func(a, b uint8) uint8, identity uint8) *models.Silhouette {
	w, h := s.Width, s.Height
	anchor := k / 2

	rows := models.NewSilhouette(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := identity
			for dx := 0; dx < k; dx++ {
				xx := x + dx - anchor
				if xx < 0 || xx >= w {
					continue
				}
				v = reduce(v, s.Mask[y*w+xx])
			}
			rows.Mask[y*w+x] = v
		}
	}

	out := models.NewSilhouette(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := identity
			for dy := 0; dy < k; dy++ {
				yy := y + dy - anchor
				if yy < 0 || yy >= h {
					continue
				}
				v = reduce(v, rows.Mask[yy*w+x])
			}
			out.Mask[y*w+x] = v
		}
	}
	return out
}
