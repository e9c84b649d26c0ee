// Package projection loads and holds the ordered camera projection matrices
// of a calibrated multi-view rig.
package projection

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"voxelcarve/internal/models"
)

// Rows and Cols are the shape every projection matrix must have.
const (
	Rows = 3
	Cols = 4
)

// DefaultVariable is the MAT-file variable read when none is named.
const DefaultVariable = "P"

// Set is an ordered, immutable collection of 3x4 projection matrices.
// The position of a matrix is the index of the view it belongs to.
type Set struct {
	matrices []*mat.Dense
}

// New builds a Set from in-memory matrices. The matrices are copied.
func New(matrices []mat.Matrix) (*Set, error) {
	s := &Set{matrices: make([]*mat.Dense, len(matrices))}
	for i, m := range matrices {
		if err := checkMatrix(i, m); err != nil {
			return nil, err
		}
		s.matrices[i] = mat.DenseCopyOf(m)
	}
	return s, nil
}

// Count returns the number of views.
func (s *Set) Count() int {
	return len(s.matrices)
}

// At returns a copy of the projection matrix of view i.
func (s *Set) At(i int) mat.Matrix {
	return mat.DenseCopyOf(s.matrices[i])
}

// Subset returns a new Set holding the given views in the given order.
func (s *Set) Subset(views []int) *Set {
	out := &Set{matrices: make([]*mat.Dense, len(views))}
	for i, v := range views {
		out.matrices[i] = s.matrices[v]
	}
	return out
}

// Load reads a projection set from a file. The format is chosen by extension:
// .yaml, .yml and .json hold nested 3x4 lists, .mat is a MATLAB level 5
// MAT-file holding variable (DefaultVariable when empty).
func Load(path, variable string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading projections: %v", models.ErrLoad, err)
	}

	var matrices []mat.Matrix
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", ".json":
		matrices, err = decodeLists(data)
	case ".mat":
		if variable == "" {
			variable = DefaultVariable
		}
		matrices, err = decodeMAT(data, variable)
	default:
		return nil, fmt.Errorf("%w: unsupported projection file type %q", models.ErrLoad, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrLoad, filepath.Base(path), err)
	}

	set, err := New(matrices)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return set, nil
}

// listDocument is the mapping form of a YAML/JSON projection file.
type listDocument struct {
	Projections [][][]float64 `yaml:"projections"`
}

// decodeLists accepts either {projections: [...]} or a bare top-level list.
// JSON documents are valid YAML, so both go through the same decoder.
func decodeLists(data []byte) ([]mat.Matrix, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, fmt.Errorf("empty projection document")
	}

	var lists [][][]float64
	switch node.Content[0].Kind {
	case yaml.MappingNode:
		var doc listDocument
		if err := node.Decode(&doc); err != nil {
			return nil, err
		}
		lists = doc.Projections
	case yaml.SequenceNode:
		if err := node.Decode(&lists); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("projection document must be a list or a mapping")
	}
	if len(lists) == 0 {
		return nil, fmt.Errorf("no projection matrices found")
	}

	matrices := make([]mat.Matrix, len(lists))
	for i, rows := range lists {
		if len(rows) != Rows {
			return nil, fmt.Errorf("view %d: expected %d rows, got %d", i, Rows, len(rows))
		}
		m := mat.NewDense(Rows, Cols, nil)
		for r, row := range rows {
			if len(row) != Cols {
				return nil, fmt.Errorf("view %d row %d: expected %d columns, got %d", i, r, Cols, len(row))
			}
			m.SetRow(r, row)
		}
		matrices[i] = m
	}
	return matrices, nil
}

func checkMatrix(view int, m mat.Matrix) error {
	if m == nil {
		return fmt.Errorf("%w: view %d: missing projection matrix", models.ErrLoad, view)
	}
	r, c := m.Dims()
	if r != Rows || c != Cols {
		return fmt.Errorf("%w: view %d: projection matrix is %dx%d, want %dx%d", models.ErrLoad, view, r, c, Rows, Cols)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: view %d: non-finite entry at (%d,%d)", models.ErrLoad, view, i, j)
			}
		}
	}
	return nil
}
