package gridio

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"voxelcarve/internal/models"
)

// Grid is a rectilinear grid read back from a .vtr file.
type Grid struct {
	X, Y, Z []float64

	// Name is the name of the point scalar field
	Name string

	// Field holds the scalar values in the order they appear in the file
	Field []float32
}

// Dims returns the number of points along each axis.
func (g *Grid) Dims() (nx, ny, nz int) {
	return len(g.X), len(g.Y), len(g.Z)
}

// NonZero counts the field values that are not zero.
func (g *Grid) NonZero() int {
	n := 0
	for _, v := range g.Field {
		if v != 0 {
			n++
		}
	}
	return n
}

// Read parses a RectilinearGrid file with ascii or inline binary arrays.
func Read(path string) (*Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrLoad, err)
	}

	var doc vtkFile
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", models.ErrLoad, path, err)
	}
	if doc.Type != "RectilinearGrid" {
		return nil, fmt.Errorf("%w: %s holds a %q dataset", models.ErrLoad, path, doc.Type)
	}

	order := binary.ByteOrder(binary.LittleEndian)
	if doc.ByteOrder == "BigEndian" {
		order = binary.BigEndian
	}
	dec := arrayDecoder{order: order, header64: doc.HeaderType == "UInt64"}

	coords := doc.Grid.Piece.Coordinates.Arrays
	if len(coords) != 3 {
		return nil, fmt.Errorf("%w: expected 3 coordinate arrays, got %d", models.ErrLoad, len(coords))
	}
	g := &Grid{}
	axes := []*[]float64{&g.X, &g.Y, &g.Z}
	for i, da := range coords {
		values, err := dec.decode(da)
		if err != nil {
			return nil, fmt.Errorf("%w: coordinate array %d: %v", models.ErrLoad, i, err)
		}
		*axes[i] = values
	}

	scalars := doc.Grid.Piece.PointData.Arrays
	if len(scalars) == 0 {
		return nil, fmt.Errorf("%w: no point data in %s", models.ErrLoad, path)
	}
	values, err := dec.decode(scalars[0])
	if err != nil {
		return nil, fmt.Errorf("%w: point data: %v", models.ErrLoad, err)
	}
	nx, ny, nz := g.Dims()
	if len(values) != nx*ny*nz {
		return nil, fmt.Errorf("%w: %d point values for a %dx%dx%d grid", models.ErrLoad, len(values), nx, ny, nz)
	}
	g.Name = scalars[0].Name
	g.Field = make([]float32, len(values))
	for i, v := range values {
		g.Field[i] = float32(v)
	}
	return g, nil
}

type arrayDecoder struct {
	order    binary.ByteOrder
	header64 bool
}

func (d arrayDecoder) decode(da dataArray) ([]float64, error) {
	switch da.Format {
	case EncodingASCII:
		fields := strings.Fields(da.Data)
		out := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case EncodingBinary:
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(da.Data))
		if err != nil {
			return nil, err
		}
		headerSize := 4
		if d.header64 {
			headerSize = 8
		}
		if len(raw) < headerSize {
			return nil, fmt.Errorf("binary array too short")
		}
		var n uint64
		if d.header64 {
			n = d.order.Uint64(raw)
		} else {
			n = uint64(d.order.Uint32(raw))
		}
		payload := raw[headerSize:]
		if uint64(len(payload)) < n {
			return nil, fmt.Errorf("binary array declares %d bytes, holds %d", n, len(payload))
		}
		return d.numbers(da.Type, payload[:n])
	}
	return nil, fmt.Errorf("unsupported array format %q", da.Format)
}

func (d arrayDecoder) numbers(typ string, b []byte) ([]float64, error) {
	switch typ {
	case "Float32":
		out := make([]float64, len(b)/4)
		for i := range out {
			out[i] = float64(math.Float32frombits(d.order.Uint32(b[4*i:])))
		}
		return out, nil
	case "Float64":
		out := make([]float64, len(b)/8)
		for i := range out {
			out[i] = math.Float64frombits(d.order.Uint64(b[8*i:]))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported array type %q", typ)
}
