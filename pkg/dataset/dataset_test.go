package dataset

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelcarve/internal/models"
)

// encodePNG renders a w x h image of a single color.
func encodePNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// encodePPM renders a raw P6 image of a single color.
func encodePPM(w, h int, r, g, b byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "P6\n# written by tests\n%d %d\n255\n", w, h)
	for i := 0; i < w*h; i++ {
		buf.Write([]byte{r, g, b})
	}
	return buf.Bytes()
}

func writeFiles(t *testing.T, dir string, files map[string][]byte) {
	t.Helper()
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
	}
}

func TestListOrdersLexicographically(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string][]byte{
		"viff.010.ppm": nil,
		"viff.002.ppm": nil,
		"viff.000.ppm": nil,
		"notes.txt":    nil,
		".hidden.ppm":  nil,
		"viff.001.PNG": nil,
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0755))

	names, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"viff.000.ppm", "viff.001.PNG", "viff.002.ppm", "viff.010.ppm"}, names)
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string][]byte{
		"view_b.png": encodePNG(t, 6, 4, color.NRGBA{R: 255, G: 0, B: 191, A: 255}),
		"view_a.ppm": encodePPM(6, 4, 0, 0, 191),
	})

	views, err := Load(context.Background(), dir, 2)
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, "view_a.ppm", views[0].Filename)
	assert.Equal(t, 0, views[0].Index)
	assert.Equal(t, "view_b.png", views[1].Filename)
	assert.Equal(t, 1, views[1].Index)

	r, g, b := views[0].Image.RGB(5, 3)
	assert.Equal(t, 0.0, r)
	assert.Equal(t, 0.0, g)
	assert.Equal(t, 191.0/255.0, b)

	r, _, _ = views[1].Image.RGB(0, 0)
	assert.Equal(t, 1.0, r)
}

func TestLoadZipArchive(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"data/02.ppm", "data/00.ppm", "data/01.ppm", "data/readme.md", "__MACOSX/._00.ppm"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		w.Write(encodePPM(3, 2, 10, 20, 30))
	}
	require.NoError(t, zw.Close())

	archive := filepath.Join(t.TempDir(), "upload.zip")
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0644))

	views, err := Load(context.Background(), archive, 3)
	require.NoError(t, err)
	require.Len(t, views, 3)
	for i, v := range views {
		assert.Equal(t, fmt.Sprintf("%02d.ppm", i), v.Filename)
		assert.Equal(t, 3, v.Image.Width)
		assert.Equal(t, 2, v.Image.Height)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("empty directory", func(t *testing.T) {
		_, err := Load(context.Background(), t.TempDir(), 1)
		assert.ErrorIs(t, err, models.ErrLoad)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent"), 1)
		assert.ErrorIs(t, err, models.ErrLoad)
	})

	t.Run("corrupt image", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, map[string][]byte{
			"a.ppm": encodePPM(2, 2, 1, 2, 3),
			"b.png": []byte("not a png"),
		})
		_, err := Load(context.Background(), dir, 2)
		assert.ErrorIs(t, err, models.ErrLoad)
	})

	t.Run("mixed sizes", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, map[string][]byte{
			"a.ppm": encodePPM(4, 4, 1, 2, 3),
			"b.ppm": encodePPM(4, 5, 1, 2, 3),
		})
		_, err := Load(context.Background(), dir, 2)
		assert.ErrorIs(t, err, models.ErrConfiguration)
	})

	t.Run("bad archive", func(t *testing.T) {
		archive := filepath.Join(t.TempDir(), "broken.zip")
		require.NoError(t, os.WriteFile(archive, []byte("PK but not really"), 0644))
		_, err := Load(context.Background(), archive, 1)
		assert.ErrorIs(t, err, models.ErrLoad)
	})
}

func TestNetpbmVariants(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		r, g, b float64
	}{
		{"plain color", "P3\n2 1\n255\n255 0 0  0 0 255\n", 1, 0, 0},
		{"plain gray", "P2 1 1 15 15", 1, 1, 1},
		{"raw gray", "P5 1 1 255 \x80", 128.0 / 255.0, 128.0 / 255.0, 128.0 / 255.0},
		{"raw 16 bit", "P6 1 1 65535 \xff\xff\x00\x00\x80\x00", 1, 0, 32768.0 / 65535.0},
		{"comment in header", "P3 # comment\n1 1\n# another\n255\n0 255 0\n", 0, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, format, err := image.Decode(bytes.NewReader([]byte(tt.data)))
			require.NoError(t, err)
			assert.Contains(t, []string{"ppm", "pgm"}, format)

			norm := Normalize(img)
			r, g, b := norm.RGB(0, 0)
			assert.InDelta(t, tt.r, r, 1e-9)
			assert.InDelta(t, tt.g, g, 1e-9)
			assert.InDelta(t, tt.b, b, 1e-9)
		})
	}
}

func TestNetpbmRejectsTruncated(t *testing.T) {
	_, _, err := image.Decode(bytes.NewReader([]byte("P6 4 4 255 \x01\x02\x03")))
	assert.Error(t, err)

	_, _, err = image.Decode(bytes.NewReader([]byte("P6 0 4 255 ")))
	assert.Error(t, err)
}

func TestNetpbmConfig(t *testing.T) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(encodePPM(7, 3, 0, 0, 0)))
	require.NoError(t, err)
	assert.Equal(t, "ppm", format)
	assert.Equal(t, 7, cfg.Width)
	assert.Equal(t, 3, cfg.Height)
}
