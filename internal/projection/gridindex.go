package projection

import (
	"context"
	"fmt"

	"github.com/couchcryptid/grid-patch-service/internal/domain"
)

// HRRR CONUS grid geometry: 1799 x 1059 points at 3 km, lower-left corner in
// HRRRProj planar coordinates.
const (
	HRRRNx = 1799
	HRRRNy = 1059
	HRRRDx = 3000.0
	HRRRX0 = -2697520.142522
	HRRRY0 = -1587306.152557
)

// GridIndex is an IndexProvider computed from a regular grid definition
// instead of fetched: point (iy, ix) lives in chunk row iy/150, chunk column
// ix/150, numbered row-major, at in-chunk offset (ix%150, iy%150).
type GridIndex struct {
	xs, ys    []float64
	chunkCols int
}

// NewGridIndex builds a regular index of nx by ny points spaced dx apart,
// starting at (x0, y0).
func NewGridIndex(x0, y0, dx float64, nx, ny int) (*GridIndex, error) {
	if nx < 1 || ny < 1 || dx <= 0 {
		return nil, fmt.Errorf("invalid grid %dx%d with spacing %v", nx, ny, dx)
	}
	g := &GridIndex{
		xs:        make([]float64, nx),
		ys:        make([]float64, ny),
		chunkCols: (nx + domain.ChunkSide - 1) / domain.ChunkSide,
	}
	for i := range g.xs {
		g.xs[i] = x0 + float64(i)*dx
	}
	for i := range g.ys {
		g.ys[i] = y0 + float64(i)*dx
	}
	return g, nil
}

// NewHRRRGridIndex returns the computed index for the HRRR CONUS grid.
func NewHRRRGridIndex() *GridIndex {
	g, _ := NewGridIndex(HRRRX0, HRRRY0, HRRRDx, HRRRNx, HRRRNy)
	return g
}

func (g *GridIndex) Axes(_ context.Context) ([]float64, []float64, error) {
	return g.xs, g.ys, nil
}

func (g *GridIndex) Entry(_ context.Context, iy, ix int) (domain.ChunkIndexEntry, error) {
	if iy < 0 || iy >= len(g.ys) || ix < 0 || ix >= len(g.xs) {
		return domain.ChunkIndexEntry{}, fmt.Errorf("%w: grid position (%d, %d) outside %dx%d index",
			domain.ErrLookupUnavailable, iy, ix, len(g.ys), len(g.xs))
	}
	return domain.ChunkIndexEntry{
		ChunkID:  (iy/domain.ChunkSide)*g.chunkCols + ix/domain.ChunkSide,
		X:        g.xs[ix],
		Y:        g.ys[iy],
		InChunkX: ix % domain.ChunkSide,
		InChunkY: iy % domain.ChunkSide,
	}, nil
}
