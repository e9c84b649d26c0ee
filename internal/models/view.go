package models

// Image is a decoded view image with normalized RGB samples.
type Image struct {
	// Width and Height are the pixel dimensions of the image
	Width  int
	Height int

	// Pix holds non-premultiplied RGB triples in the 0-1 range,
	// row-major, 3 samples per pixel
	Pix []float64
}

// NewImage allocates a black image of the given size.
func NewImage(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height*3),
	}
}

// RGB returns the three samples of the pixel at column x, row y.
func (im *Image) RGB(x, y int) (r, g, b float64) {
	i := (y*im.Width + x) * 3
	return im.Pix[i], im.Pix[i+1], im.Pix[i+2]
}

// SetRGB stores the three samples of the pixel at column x, row y.
func (im *Image) SetRGB(x, y int, r, g, b float64) {
	i := (y*im.Width + x) * 3
	im.Pix[i], im.Pix[i+1], im.Pix[i+2] = r, g, b
}

// Silhouette is a binary foreground mask for one view.
type Silhouette struct {
	Width  int
	Height int

	// Mask holds one 0/1 value per pixel in row-major order
	Mask []uint8
}

// NewSilhouette allocates an all-background mask.
func NewSilhouette(width, height int) *Silhouette {
	return &Silhouette{
		Width:  width,
		Height: height,
		Mask:   make([]uint8, width*height),
	}
}

// At returns the mask value at the given row and column.
func (s *Silhouette) At(row, col int) uint8 {
	return s.Mask[row*s.Width+col]
}

// Set stores a mask value at the given row and column.
func (s *Silhouette) Set(row, col int, v uint8) {
	s.Mask[row*s.Width+col] = v
}

// Foreground counts the pixels marked as foreground.
func (s *Silhouette) Foreground() int {
	n := 0
	for _, v := range s.Mask {
		if v != 0 {
			n++
		}
	}
	return n
}

// View pairs a view image with where it came from.
type View struct {
	// Index is the position of this view in the sorted input sequence.
	// It must match the index of the projection matrix for the same camera.
	Index int

	// Filename is the original base name of the image file
	Filename string

	Image *Image
}
