// Package mesh supplies the spatial discretization the regularization
// consumes: a cell count and per-cell volumes. The geometry itself is
// opaque to the rest of the engine.
package mesh

import (
	"fmt"

	"github.com/geosparse/gopgi/utils"
)

// TensorMesh is a 1D tensor-product discretization: cells laid end to end,
// each with its own width. Cell volume equals cell width.
type TensorMesh struct {
	widths []float64
}

// NewTensorMesh builds a mesh from explicit cell widths.
func NewTensorMesh(widths []float64) (m *TensorMesh, err error) {
	if len(widths) == 0 {
		err = fmt.Errorf("mesh requires at least one cell")
		return
	}
	w := make([]float64, len(widths))
	for i, h := range widths {
		if h <= 0 {
			err = fmt.Errorf("cell %d has non-positive width %v", i, h)
			return
		}
		w[i] = h
	}
	m = &TensorMesh{widths: w}
	return
}

// NewUniform builds an n-cell mesh of unit cells.
func NewUniform(n int) (m *TensorMesh, err error) {
	if n <= 0 {
		err = fmt.Errorf("mesh requires a positive cell count, got %d", n)
		return
	}
	m = &TensorMesh{widths: utils.ConstArray(n, 1.)}
	return
}

func (m *TensorMesh) NumCells() int { return len(m.widths) }

// CellVolumes returns a copy of the per-cell volumes.
func (m *TensorMesh) CellVolumes() (v utils.Vector) {
	data := make([]float64, len(m.widths))
	copy(data, m.widths)
	v = utils.NewVector(len(data), data)
	return
}
