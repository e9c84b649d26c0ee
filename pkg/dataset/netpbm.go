package dataset

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"io"
	"strconv"
)

func init() {
	image.RegisterFormat("ppm", "P6", decodeNetpbm, decodeNetpbmConfig)
	image.RegisterFormat("ppm", "P3", decodeNetpbm, decodeNetpbmConfig)
	image.RegisterFormat("pgm", "P5", decodeNetpbm, decodeNetpbmConfig)
	image.RegisterFormat("pgm", "P2", decodeNetpbm, decodeNetpbmConfig)
}

type netpbmHeader struct {
	magic         string
	width, height int
	maxval        int
}

type netpbmReader struct {
	r *bufio.Reader
}

// token returns the next whitespace separated header token, skipping
// '#' comments.
func (p *netpbmReader) token() (string, error) {
	var tok []byte
	for {
		b, err := p.r.ReadByte()
		if err != nil {
			if err == io.EOF && len(tok) > 0 {
				return string(tok), nil
			}
			return "", err
		}
		switch {
		case b == '#' && len(tok) == 0:
			if _, err := p.r.ReadString('\n'); err != nil {
				return "", err
			}
		case b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f':
			if len(tok) > 0 {
				return string(tok), nil
			}
		default:
			tok = append(tok, b)
		}
	}
}

func (p *netpbmReader) int() (int, error) {
	tok, err := p.token()
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(tok)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("netpbm: invalid number %q", tok)
	}
	return v, nil
}

func (p *netpbmReader) header() (netpbmHeader, error) {
	var h netpbmHeader
	magic, err := p.token()
	if err != nil {
		return h, err
	}
	switch magic {
	case "P2", "P3", "P5", "P6":
	default:
		return h, fmt.Errorf("netpbm: unsupported magic %q", magic)
	}
	h.magic = magic
	if h.width, err = p.int(); err != nil {
		return h, err
	}
	if h.height, err = p.int(); err != nil {
		return h, err
	}
	if h.maxval, err = p.int(); err != nil {
		return h, err
	}
	if h.width == 0 || h.height == 0 {
		return h, fmt.Errorf("netpbm: empty image")
	}
	if h.maxval == 0 || h.maxval > 65535 {
		return h, fmt.Errorf("netpbm: invalid maxval %d", h.maxval)
	}
	return h, nil
}

func decodeNetpbmConfig(r io.Reader) (image.Config, error) {
	h, err := (&netpbmReader{r: bufio.NewReader(r)}).header()
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{ColorModel: color.NRGBA64Model, Width: h.width, Height: h.height}, nil
}

// decodeNetpbm decodes P2/P3 (plain) and P5/P6 (raw) gray and color maps.
// Samples are stored in an NRGBA64 image scaled from maxval to 65535.
func decodeNetpbm(r io.Reader) (image.Image, error) {
	p := &netpbmReader{r: bufio.NewReader(r)}
	h, err := p.header()
	if err != nil {
		return nil, err
	}

	channels := 3
	if h.magic == "P2" || h.magic == "P5" {
		channels = 1
	}
	plain := h.magic == "P2" || h.magic == "P3"
	wide := h.maxval > 255

	sample := func() (int, error) {
		if plain {
			return p.int()
		}
		hi, err := p.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if !wide {
			return int(hi), nil
		}
		lo, err := p.r.ReadByte()
		if err != nil {
			return 0, err
		}
		return int(hi)<<8 | int(lo), nil
	}

	img := image.NewNRGBA64(image.Rect(0, 0, h.width, h.height))
	var rgb [3]uint16
	for y := 0; y < h.height; y++ {
		for x := 0; x < h.width; x++ {
			for c := 0; c < channels; c++ {
				v, err := sample()
				if err != nil {
					return nil, fmt.Errorf("netpbm: pixel (%d,%d): %w", x, y, err)
				}
				if v > h.maxval {
					v = h.maxval
				}
				rgb[c] = uint16((v*65535 + h.maxval/2) / h.maxval)
			}
			if channels == 1 {
				rgb[1], rgb[2] = rgb[0], rgb[0]
			}
			img.SetNRGBA64(x, y, color.NRGBA64{R: rgb[0], G: rgb[1], B: rgb[2], A: 0xffff})
		}
	}
	return img, nil
}
