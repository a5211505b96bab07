package codec

import (
	"bytes"
	"fmt"

	"github.com/couchcryptid/grid-patch-service/internal/domain"
)

// Grid is a decoded chunk: one or more 150x150 slices of a fixed dtype, kept
// as the raw element bytes so cells that are never written stay bit-identical.
type Grid struct {
	dtype  Dtype
	slices int
	data   []byte
}

// NewGrid returns a zero-filled grid with the given number of slices.
func NewGrid(dtype Dtype, slices int) (*Grid, error) {
	if slices < 1 {
		return nil, fmt.Errorf("grid needs at least one slice, got %d", slices)
	}
	return &Grid{
		dtype:  dtype,
		slices: slices,
		data:   make([]byte, slices*domain.ChunkCells*dtype.ItemSize),
	}, nil
}

// GridFromValues builds a grid from values in C order. len(values) must be a
// non-zero multiple of 150*150.
func GridFromValues(dtype Dtype, values []float64) (*Grid, error) {
	if len(values) == 0 || len(values)%domain.ChunkCells != 0 {
		return nil, fmt.Errorf("%w: %d values is not a whole number of %dx%d slices", domain.ErrFormat, len(values), domain.ChunkSide, domain.ChunkSide)
	}
	g, err := NewGrid(dtype, len(values)/domain.ChunkCells)
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		dtype.Put(g.data[i*dtype.ItemSize:], v)
	}
	return g, nil
}

// gridFromBytes wraps raw element bytes, enforcing the whole-slice invariant.
func gridFromBytes(dtype Dtype, raw []byte) (*Grid, error) {
	slice := domain.ChunkCells * dtype.ItemSize
	if len(raw) == 0 || len(raw)%slice != 0 {
		return nil, fmt.Errorf("%w: %d decoded bytes is not a multiple of %d (%dx%d %s)",
			domain.ErrFormat, len(raw), slice, domain.ChunkSide, domain.ChunkSide, dtype)
	}
	return &Grid{dtype: dtype, slices: len(raw) / slice, data: raw}, nil
}

// Dtype returns the element type.
func (g *Grid) Dtype() Dtype { return g.dtype }

// Slices returns the number of 150x150 time slices.
func (g *Grid) Slices() int { return g.slices }

// Stacked reports whether the grid is 3-D (more than one time slice).
func (g *Grid) Stacked() bool { return g.slices > 1 }

// Shape returns (150, 150) for a single slice and (N, 150, 150) otherwise.
func (g *Grid) Shape() []int {
	if g.Stacked() {
		return []int{g.slices, domain.ChunkSide, domain.ChunkSide}
	}
	return []int{domain.ChunkSide, domain.ChunkSide}
}

// Len returns the number of cells across all slices.
func (g *Grid) Len() int { return g.slices * domain.ChunkCells }

// Bytes returns the raw little- or big-endian element bytes. The slice aliases
// the grid's storage.
func (g *Grid) Bytes() []byte { return g.data }

func (g *Grid) offset(slice, row, col int) (int, error) {
	if slice < 0 || slice >= g.slices {
		return 0, fmt.Errorf("%w: slice %d out of range [0, %d)", domain.ErrSliceRequired, slice, g.slices)
	}
	if row < 0 || row >= domain.ChunkSide || col < 0 || col >= domain.ChunkSide {
		return 0, fmt.Errorf("%w: cell (%d, %d) outside %dx%d chunk", domain.ErrInvalidUpdate, row, col, domain.ChunkSide, domain.ChunkSide)
	}
	return ((slice*domain.ChunkSide+row)*domain.ChunkSide + col) * g.dtype.ItemSize, nil
}

// At returns the value of one cell.
func (g *Grid) At(slice, row, col int) (float64, error) {
	off, err := g.offset(slice, row, col)
	if err != nil {
		return 0, err
	}
	return g.dtype.Get(g.data[off:]), nil
}

// Set writes one cell. No other byte of the grid changes.
func (g *Grid) Set(slice, row, col int, v float64) error {
	off, err := g.offset(slice, row, col)
	if err != nil {
		return err
	}
	g.dtype.Put(g.data[off:], v)
	return nil
}

// Swap writes v into one cell and returns the previous value and the value
// as stored, after conversion to the grid dtype.
func (g *Grid) Swap(slice, row, col int, v float64) (old, stored float64, err error) {
	off, err := g.offset(slice, row, col)
	if err != nil {
		return 0, 0, err
	}
	cell := g.data[off : off+g.dtype.ItemSize]
	old = g.dtype.Get(cell)
	g.dtype.Put(cell, v)
	return old, g.dtype.Get(cell), nil
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	data := make([]byte, len(g.data))
	copy(data, g.data)
	return &Grid{dtype: g.dtype, slices: g.slices, data: data}
}

// Values returns every cell in C order.
func (g *Grid) Values() []float64 {
	out := make([]float64, g.Len())
	for i := range out {
		out[i] = g.dtype.Get(g.data[i*g.dtype.ItemSize:])
	}
	return out
}

// Equal reports whether both grids have the same dtype, shape and bytes.
func (g *Grid) Equal(o *Grid) bool {
	return g.dtype == o.dtype && g.slices == o.slices && bytes.Equal(g.data, o.data)
}
