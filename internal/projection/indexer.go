package projection

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/couchcryptid/grid-patch-service/internal/domain"
)

// IndexProvider is the read-only chunk-index table: two 1-D planar
// coordinate axes and, for every (y, x) grid point, the chunk that stores it.
// Implementations must be safe for concurrent use.
type IndexProvider interface {
	// Axes returns the x and y coordinate values of the index grid.
	Axes(ctx context.Context) (xs, ys []float64, err error)

	// Entry returns the index entry at grid position (iy, ix).
	Entry(ctx context.Context, iy, ix int) (domain.ChunkIndexEntry, error)
}

// Indexer maps geographic coordinates to chunk index entries.
type Indexer struct {
	projector *Projector
	provider  IndexProvider
}

// NewIndexer creates an Indexer over an injected, already constructed provider.
func NewIndexer(p *Projector, provider IndexProvider) *Indexer {
	return &Indexer{projector: p, provider: provider}
}

// Locate projects (lat, lon) and returns the nearest index entry. Coordinates
// are not bounds-checked: a point outside the grid gets the nearest edge cell.
func (ix *Indexer) Locate(ctx context.Context, lat, lon float64) (domain.ChunkIndexEntry, error) {
	x, y, err := ix.projector.Project(lat, lon)
	if err != nil {
		return domain.ChunkIndexEntry{}, fmt.Errorf("%w: %v", domain.ErrInvalidUpdate, err)
	}

	xs, ys, err := ix.provider.Axes(ctx)
	if err != nil {
		return domain.ChunkIndexEntry{}, lookupErr(err)
	}
	if len(xs) == 0 || len(ys) == 0 {
		return domain.ChunkIndexEntry{}, fmt.Errorf("%w: chunk index has no coordinates", domain.ErrLookupUnavailable)
	}

	col, row := nearest(xs, x), nearest(ys, y)
	e, err := ix.provider.Entry(ctx, row, col)
	if err != nil {
		return domain.ChunkIndexEntry{}, lookupErr(err)
	}
	if e.ChunkID < 0 || e.InChunkX < 0 || e.InChunkX >= domain.ChunkSide || e.InChunkY < 0 || e.InChunkY >= domain.ChunkSide {
		return domain.ChunkIndexEntry{}, fmt.Errorf("%w: invalid index entry %+v at (%d, %d)", domain.ErrLookupUnavailable, e, row, col)
	}
	e.X, e.Y = xs[col], ys[row]
	return e, nil
}

// CheckReadiness reports whether the index axes can be loaded.
func (ix *Indexer) CheckReadiness(ctx context.Context) error {
	xs, ys, err := ix.provider.Axes(ctx)
	if err != nil {
		return err
	}
	if len(xs) == 0 || len(ys) == 0 {
		return errors.New("chunk index has no coordinates")
	}
	return nil
}

func lookupErr(err error) error {
	if errors.Is(err, domain.ErrLookupUnavailable) {
		return fmt.Errorf("chunk index: %w", err)
	}
	return fmt.Errorf("%w: %w", domain.ErrLookupUnavailable, err)
}

// nearest returns the index of the axis value closest to v. The axis must be
// monotonic. Ties resolve to the larger coordinate value.
func nearest(axis []float64, v float64) int {
	n := len(axis)
	if n == 1 {
		return 0
	}
	if axis[0] <= axis[n-1] {
		i := sort.SearchFloat64s(axis, v)
		switch {
		case i == 0:
			return 0
		case i == n:
			return n - 1
		}
		if v-axis[i-1] < axis[i]-v {
			return i - 1
		}
		return i
	}

	i := sort.Search(n, func(k int) bool { return axis[k] <= v })
	switch {
	case i == 0:
		return 0
	case i == n:
		return n - 1
	}
	if v-axis[i] < axis[i-1]-v {
		return i
	}
	return i - 1
}
