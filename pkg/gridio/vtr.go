// Package gridio reads and writes scalar fields on rectilinear grids as VTK
// XML RectilinearGrid (.vtr) files, the format volumetric viewers such as
// ParaView load directly.
package gridio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"voxelcarve/internal/models"
	"voxelcarve/pkg/carving"
)

// Encodings of DataArray payloads.
const (
	EncodingASCII  = "ascii"
	EncodingBinary = "binary"
)

// Orders of the scalar field in the file.
const (
	// OrderLattice writes values in lattice order, x slowest and z fastest.
	OrderLattice = "lattice"

	// OrderVTK writes values in VTK point order, x fastest and z slowest.
	OrderVTK = "vtk"
)

// WriteOptions controls how a grid is serialized.
type WriteOptions struct {
	// Encoding is EncodingASCII (default) or EncodingBinary.
	Encoding string

	// Order is OrderLattice (default) or OrderVTK.
	Order string
}

type vtkFile struct {
	XMLName    xml.Name        `xml:"VTKFile"`
	Type       string          `xml:"type,attr"`
	Version    string          `xml:"version,attr"`
	ByteOrder  string          `xml:"byte_order,attr"`
	HeaderType string          `xml:"header_type,attr,omitempty"`
	Grid       rectilinearGrid `xml:"RectilinearGrid"`
}

type rectilinearGrid struct {
	WholeExtent string `xml:"WholeExtent,attr"`
	Piece       piece  `xml:"Piece"`
}

type piece struct {
	Extent      string      `xml:"Extent,attr"`
	PointData   pointData   `xml:"PointData"`
	CellData    struct{}    `xml:"CellData"`
	Coordinates coordinates `xml:"Coordinates"`
}

type pointData struct {
	Scalars string      `xml:"Scalars,attr,omitempty"`
	Arrays  []dataArray `xml:"DataArray"`
}

type coordinates struct {
	Arrays []dataArray `xml:"DataArray"`
}

type dataArray struct {
	Type     string  `xml:"type,attr"`
	Name     string  `xml:"Name,attr,omitempty"`
	Format   string  `xml:"format,attr"`
	RangeMin float64 `xml:"RangeMin,attr"`
	RangeMax float64 `xml:"RangeMax,attr"`
	Data     string  `xml:",chardata"`
}

// WriteOccupancy writes an occupancy field and its axes to dest.
func WriteOccupancy(dest string, occ *carving.Occupancy, opts WriteOptions) error {
	x, y, z := occ.Axes()
	return Write(dest, x, y, z, carving.OccupancyName, occ.Field(), opts)
}

// Write serializes a point scalar field over the rectilinear grid spanned by
// the x, y and z axes. field must hold len(x)*len(y)*len(z) values in
// lattice order. Missing parent directories of dest are created. The file
// is written to a temporary name and renamed into place, so dest is either
// complete or untouched.
func Write(dest string, x, y, z []float64, name string, field []float32, opts WriteOptions) error {
	if opts.Encoding == "" {
		opts.Encoding = EncodingASCII
	}
	if opts.Order == "" {
		opts.Order = OrderLattice
	}
	if err := checkGrid(x, y, z, field, opts); err != nil {
		return err
	}

	values := field
	if opts.Order == OrderVTK {
		values = toVTKOrder(len(x), len(y), len(z), field)
	}

	extent := fmt.Sprintf("0 %d 0 %d 0 %d", len(x)-1, len(y)-1, len(z)-1)
	doc := vtkFile{
		Type:      "RectilinearGrid",
		Version:   "0.1",
		ByteOrder: "LittleEndian",
		Grid: rectilinearGrid{
			WholeExtent: extent,
			Piece: piece{
				Extent: extent,
				PointData: pointData{
					Scalars: name,
					Arrays:  []dataArray{encodeArray(name, values, opts.Encoding)},
				},
				Coordinates: coordinates{Arrays: []dataArray{
					encodeArray("x_coordinates", toFloat32(x), opts.Encoding),
					encodeArray("y_coordinates", toFloat32(y), opts.Encoding),
					encodeArray("z_coordinates", toFloat32(z), opts.Encoding),
				}},
			},
		},
	}
	if opts.Encoding == EncodingBinary {
		doc.HeaderType = "UInt64"
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("%w: encoding grid: %v", models.ErrIO, err)
	}
	buf.WriteByte('\n')

	return writeAtomic(dest, buf.Bytes())
}

func checkGrid(x, y, z []float64, field []float32, opts WriteOptions) error {
	if len(x) == 0 || len(y) == 0 || len(z) == 0 {
		return fmt.Errorf("%w: grid axes must not be empty", models.ErrConfiguration)
	}
	if want := len(x) * len(y) * len(z); len(field) != want {
		return fmt.Errorf("%w: field has %d values, grid has %d points", models.ErrConfiguration, len(field), want)
	}
	switch opts.Encoding {
	case EncodingASCII, EncodingBinary:
	default:
		return fmt.Errorf("%w: unknown encoding %q", models.ErrConfiguration, opts.Encoding)
	}
	switch opts.Order {
	case OrderLattice, OrderVTK:
	default:
		return fmt.Errorf("%w: unknown order %q", models.ErrConfiguration, opts.Order)
	}
	return nil
}

// toVTKOrder moves value (ix, iy, iz) from (ix*ny+iy)*nz+iz to ix+nx*(iy+ny*iz).
func toVTKOrder(nx, ny, nz int, field []float32) []float32 {
	out := make([]float32, len(field))
	for ix := 0; ix < nx; ix++ {
		for iy := 0; iy < ny; iy++ {
			for iz := 0; iz < nz; iz++ {
				out[ix+nx*(iy+ny*iz)] = field[(ix*ny+iy)*nz+iz]
			}
		}
	}
	return out
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}

func encodeArray(name string, values []float32, encoding string) dataArray {
	da := dataArray{Type: "Float32", Name: name, Format: encoding}
	if len(values) > 0 {
		da.RangeMin, da.RangeMax = math.Inf(1), math.Inf(-1)
		for _, v := range values {
			da.RangeMin = math.Min(da.RangeMin, float64(v))
			da.RangeMax = math.Max(da.RangeMax, float64(v))
		}
	}

	if encoding == EncodingBinary {
		// UInt64 byte count, then the values
		raw := make([]byte, 8+4*len(values))
		binary.LittleEndian.PutUint64(raw, uint64(4*len(values)))
		for i, v := range values {
			binary.LittleEndian.PutUint32(raw[8+4*i:], math.Float32bits(v))
		}
		da.Data = base64.StdEncoding.EncodeToString(raw)
		return da
	}

	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			if i%16 == 0 {
				sb.WriteByte('\n')
			} else {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	da.Data = sb.String()
	return da
}

func writeAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating output directory: %v", models.ErrIO, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating output file: %v", models.ErrIO, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing %s: %v", models.ErrIO, dest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing %s: %v", models.ErrIO, dest, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing %s: %v", models.ErrIO, dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing %s: %v", models.ErrIO, dest, err)
	}
	return nil
}
