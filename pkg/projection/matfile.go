package projection

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"
	"gonum.org/v1/gonum/mat"
)

// MAT-file level 5 data types.
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
)

// MAT-file array classes.
const (
	mxCELL   = 1
	mxDOUBLE = 6
	mxUINT64 = 15

	complexFlag = 0x0800
)

const matHeaderSize = 128

// matArray is one decoded MATLAB array. Numeric data is column-major.
type matArray struct {
	name  string
	class uint8
	dims  []int
	data  []float64
	cells []*matArray
}

func (a *matArray) numel() int {
	if len(a.dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range a.dims {
		n *= d
	}
	return n
}

func (a *matArray) numeric() bool {
	return a.class >= mxDOUBLE && a.class <= mxUINT64
}

type matDecoder struct {
	order binary.ByteOrder
}

// decodeMAT extracts the projection matrices held by variable. The variable
// is either a cell vector of 3x4 numeric matrices or a 3x4xN numeric array.
func decodeMAT(data []byte, variable string) ([]mat.Matrix, error) {
	vars, err := readMAT(data)
	if err != nil {
		return nil, err
	}

	arr, ok := vars[variable]
	if !ok {
		return nil, fmt.Errorf("variable %q not found in MAT-file", variable)
	}

	switch {
	case arr.class == mxCELL:
		if len(arr.dims) != 2 || (arr.dims[0] != 1 && arr.dims[1] != 1) {
			return nil, fmt.Errorf("variable %q: cell array must be a vector, got dims %v", variable, arr.dims)
		}
		matrices := make([]mat.Matrix, len(arr.cells))
		for i, cell := range arr.cells {
			if !cell.numeric() || len(cell.dims) != 2 || cell.dims[0] != Rows || cell.dims[1] != Cols {
				return nil, fmt.Errorf("view %d: cell is not a %dx%d numeric matrix (dims %v)", i, Rows, Cols, cell.dims)
			}
			matrices[i] = columnMajorDense(cell.data, 0)
		}
		if len(matrices) == 0 {
			return nil, fmt.Errorf("variable %q holds no matrices", variable)
		}
		return matrices, nil

	case arr.numeric():
		if len(arr.dims) < 2 || arr.dims[0] != Rows || arr.dims[1] != Cols {
			return nil, fmt.Errorf("variable %q: expected %dx%d(xN) array, got dims %v", variable, Rows, Cols, arr.dims)
		}
		views := arr.numel() / (Rows * Cols)
		if views == 0 {
			return nil, fmt.Errorf("variable %q holds no matrices", variable)
		}
		matrices := make([]mat.Matrix, views)
		for k := range matrices {
			matrices[k] = columnMajorDense(arr.data, k*Rows*Cols)
		}
		return matrices, nil
	}

	return nil, fmt.Errorf("variable %q has unsupported class %d", variable, arr.class)
}

func columnMajorDense(data []float64, offset int) *mat.Dense {
	m := mat.NewDense(Rows, Cols, nil)
	for c := 0; c < Cols; c++ {
		for r := 0; r < Rows; r++ {
			m.Set(r, c, data[offset+r+c*Rows])
		}
	}
	return m
}

// readMAT decodes every top-level array of a level 5 MAT-file. Arrays of
// classes that cannot hold projections are decoded with their class only.
func readMAT(data []byte) (map[string]*matArray, error) {
	if len(data) < matHeaderSize {
		return nil, fmt.Errorf("MAT-file too short")
	}

	d := &matDecoder{}
	switch string(data[126:128]) {
	case "IM":
		d.order = binary.LittleEndian
	case "MI":
		d.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a level 5 MAT-file")
	}

	vars := make(map[string]*matArray)
	if err := d.readElements(data[matHeaderSize:], vars); err != nil {
		return nil, err
	}
	return vars, nil
}

func (d *matDecoder) readElements(buf []byte, vars map[string]*matArray) error {
	for len(buf) > 0 {
		typ, payload, rest, err := d.element(buf)
		if err != nil {
			return err
		}
		buf = rest

		switch typ {
		case miCOMPRESSED:
			zr, err := zlib.NewReader(bytes.NewReader(payload))
			if err != nil {
				return fmt.Errorf("compressed element: %w", err)
			}
			inflated, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return fmt.Errorf("compressed element: %w", err)
			}
			if err := d.readElements(inflated, vars); err != nil {
				return err
			}
		case miMATRIX:
			arr, err := d.matrix(payload)
			if err != nil {
				return err
			}
			if arr.name != "" {
				vars[arr.name] = arr
			}
		}
	}
	return nil
}

// element splits the next data element off buf, handling the small element
// format and the 8-byte alignment of regular elements.
func (d *matDecoder) element(buf []byte) (typ uint32, payload, rest []byte, err error) {
	if len(buf) < 8 {
		return 0, nil, nil, fmt.Errorf("truncated element tag")
	}

	first := d.order.Uint32(buf[0:4])
	if small := first >> 16; small != 0 {
		if small > 4 {
			return 0, nil, nil, fmt.Errorf("invalid small element size %d", small)
		}
		return first & 0xffff, buf[4 : 4+small], buf[8:], nil
	}

	n := int(d.order.Uint32(buf[4:8]))
	if 8+n > len(buf) {
		return 0, nil, nil, fmt.Errorf("element of %d bytes overruns file", n)
	}
	payload = buf[8 : 8+n]

	next := 8 + n
	if first != miCOMPRESSED {
		next = 8 + (n+7)&^7
	}
	if next > len(buf) {
		next = len(buf)
	}
	return first, payload, buf[next:], nil
}

func (d *matDecoder) matrix(buf []byte) (*matArray, error) {
	arr := &matArray{}
	if len(buf) == 0 {
		// empty cell entries are written as bare miMATRIX tags
		return arr, nil
	}

	_, flags, buf, err := d.element(buf)
	if err != nil {
		return nil, fmt.Errorf("array flags: %w", err)
	}
	if len(flags) < 4 {
		return nil, fmt.Errorf("array flags too short")
	}
	flagWord := d.order.Uint32(flags[0:4])
	arr.class = uint8(flagWord & 0xff)

	dimType, dimBytes, buf, err := d.element(buf)
	if err != nil {
		return nil, fmt.Errorf("dimensions: %w", err)
	}
	dims, err := d.numbers(dimType, dimBytes)
	if err != nil {
		return nil, fmt.Errorf("dimensions: %w", err)
	}
	for _, v := range dims {
		arr.dims = append(arr.dims, int(v))
	}

	_, name, buf, err := d.element(buf)
	if err != nil {
		return nil, fmt.Errorf("array name: %w", err)
	}
	arr.name = string(name)

	switch {
	case arr.class == mxCELL:
		for i := 0; i < arr.numel(); i++ {
			typ, payload, rest, err := d.element(buf)
			if err != nil {
				return nil, fmt.Errorf("cell %d: %w", i, err)
			}
			if typ != miMATRIX {
				return nil, fmt.Errorf("cell %d: unexpected element type %d", i, typ)
			}
			cell, err := d.matrix(payload)
			if err != nil {
				return nil, fmt.Errorf("cell %d: %w", i, err)
			}
			arr.cells = append(arr.cells, cell)
			buf = rest
		}

	case arr.numeric():
		if flagWord&complexFlag != 0 {
			return nil, fmt.Errorf("array %q is complex", arr.name)
		}
		typ, payload, _, err := d.element(buf)
		if err != nil {
			return nil, fmt.Errorf("real part: %w", err)
		}
		if arr.data, err = d.numbers(typ, payload); err != nil {
			return nil, fmt.Errorf("real part: %w", err)
		}
		if len(arr.data) != arr.numel() {
			return nil, fmt.Errorf("array %q has %d values for dims %v", arr.name, len(arr.data), arr.dims)
		}
	}

	return arr, nil
}

// numbers widens a numeric data element to float64.
func (d *matDecoder) numbers(typ uint32, b []byte) ([]float64, error) {
	var size int
	switch typ {
	case miINT8, miUINT8:
		size = 1
	case miINT16, miUINT16:
		size = 2
	case miINT32, miUINT32, miSINGLE:
		size = 4
	case miDOUBLE, miINT64, miUINT64:
		size = 8
	default:
		return nil, fmt.Errorf("unsupported numeric type %d", typ)
	}
	if len(b)%size != 0 {
		return nil, fmt.Errorf("%d bytes is not a multiple of %d", len(b), size)
	}

	out := make([]float64, len(b)/size)
	for i := range out {
		p := b[i*size:]
		switch typ {
		case miINT8:
			out[i] = float64(int8(p[0]))
		case miUINT8:
			out[i] = float64(p[0])
		case miINT16:
			out[i] = float64(int16(d.order.Uint16(p)))
		case miUINT16:
			out[i] = float64(d.order.Uint16(p))
		case miINT32:
			out[i] = float64(int32(d.order.Uint32(p)))
		case miUINT32:
			out[i] = float64(d.order.Uint32(p))
		case miSINGLE:
			out[i] = float64(math.Float32frombits(d.order.Uint32(p)))
		case miDOUBLE:
			out[i] = math.Float64frombits(d.order.Uint64(p))
		case miINT64:
			out[i] = float64(int64(d.order.Uint64(p)))
		case miUINT64:
			out[i] = float64(d.order.Uint64(p))
		}
	}
	return out, nil
}
