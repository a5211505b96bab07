// Package zarrindex reads the HRRR chunk-index zarr dataset: 1-D projected
// x and y coordinates plus 2-D (y, x) arrays chunk_id, in_chunk_x and
// in_chunk_y. Coordinates load once; 2-D chunks load on demand through an
// LRU cache, with concurrent fetches of one chunk collapsed into a single
// request.
package zarrindex

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/grid-patch-service/internal/domain"
	"github.com/couchcryptid/grid-patch-service/internal/observability"
)

// Array names in the chunk-index hierarchy.
const (
	varX        = "x"
	varY        = "y"
	varChunkID  = "chunk_id"
	varInChunkX = "in_chunk_x"
	varInChunkY = "in_chunk_y"
)

// Provider serves chunk-index entries from a zarr Store.
type Provider struct {
	store   Store
	dec     *decompressor
	cache   *chunkCache
	group   singleflight.Group
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	loaded   bool
	xs, ys   []float64
	chunkID  *array
	inChunkX *array
	inChunkY *array
}

// NewProvider creates a Provider over s. Nothing is fetched until the first
// Axes or Entry call; a failed load is retried on the next call.
func NewProvider(s Store, cacheSize int, logger *slog.Logger, metrics *observability.Metrics) (*Provider, error) {
	dec, err := newDecompressor()
	if err != nil {
		return nil, err
	}
	if cacheSize < 1 {
		cacheSize = 1
	}
	return &Provider{
		store:   s,
		dec:     dec,
		cache:   newChunkCache(cacheSize),
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Close releases the decoders.
func (p *Provider) Close() {
	p.dec.close()
}

// Axes returns the projected x and y coordinates of the index grid.
func (p *Provider) Axes(ctx context.Context) ([]float64, []float64, error) {
	if err := p.load(ctx); err != nil {
		return nil, nil, err
	}
	return p.xs, p.ys, nil
}

func (p *Provider) load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}

	x, err := openArray(ctx, p.store, p.dec, varX)
	if err != nil {
		return err
	}
	y, err := openArray(ctx, p.store, p.dec, varY)
	if err != nil {
		return err
	}
	xs, err := x.readAll(ctx)
	if err != nil {
		return err
	}
	ys, err := y.readAll(ctx)
	if err != nil {
		return err
	}

	vars := make([]*array, 3)
	for i, name := range []string{varChunkID, varInChunkX, varInChunkY} {
		a, err := openArray(ctx, p.store, p.dec, name)
		if err != nil {
			return err
		}
		if len(a.meta.Shape) != 2 || a.meta.Shape[0] != len(ys) || a.meta.Shape[1] != len(xs) {
			return fmt.Errorf("array %s has shape %v, want [%d %d]", name, a.meta.Shape, len(ys), len(xs))
		}
		vars[i] = a
	}

	p.xs, p.ys = xs, ys
	p.chunkID, p.inChunkX, p.inChunkY = vars[0], vars[1], vars[2]
	p.loaded = true
	p.metrics.IndexLoaded.Set(1)
	p.logger.Info("chunk index loaded", "nx", len(xs), "ny", len(ys), "chunks", p.chunkID.meta.Chunks)
	return nil
}

// Entry returns the index entry at grid position (iy, ix).
func (p *Provider) Entry(ctx context.Context, iy, ix int) (domain.ChunkIndexEntry, error) {
	if err := p.load(ctx); err != nil {
		return domain.ChunkIndexEntry{}, err
	}
	if iy < 0 || iy >= len(p.ys) || ix < 0 || ix >= len(p.xs) {
		return domain.ChunkIndexEntry{}, fmt.Errorf("grid position (%d, %d) outside %dx%d index", iy, ix, len(p.ys), len(p.xs))
	}

	var ints [3]int
	for i, a := range []*array{p.chunkID, p.inChunkX, p.inChunkY} {
		v, err := p.value(ctx, a, iy, ix)
		if err != nil {
			return domain.ChunkIndexEntry{}, err
		}
		if math.IsNaN(v) || v != math.Trunc(v) {
			return domain.ChunkIndexEntry{}, fmt.Errorf("%s at (%d, %d) is %v, want an integer", a.name, iy, ix, v)
		}
		ints[i] = int(v)
	}
	return domain.ChunkIndexEntry{
		ChunkID:  ints[0],
		X:        p.xs[ix],
		Y:        p.ys[iy],
		InChunkX: ints[1],
		InChunkY: ints[2],
	}, nil
}

func (p *Provider) value(ctx context.Context, a *array, iy, ix int) (float64, error) {
	cy, cx := a.meta.Chunks[0], a.meta.Chunks[1]
	vals, err := p.chunk(ctx, a, []int{iy / cy, ix / cx})
	if err != nil {
		return 0, err
	}
	return vals[(iy%cy)*cx+ix%cx], nil
}

func (p *Provider) chunk(ctx context.Context, a *array, idx []int) ([]float64, error) {
	key := a.key(idx)
	if vals, ok := p.cache.get(key); ok {
		p.metrics.IndexCache.WithLabelValues("hit").Inc()
		return vals, nil
	}
	p.metrics.IndexCache.WithLabelValues("miss").Inc()

	v, err, _ := p.group.Do(key, func() (any, error) {
		vals, missing, err := a.readChunk(ctx, idx)
		switch {
		case err != nil:
			p.metrics.IndexChunkFetches.WithLabelValues("error").Inc()
			return nil, err
		case missing:
			p.metrics.IndexChunkFetches.WithLabelValues("missing").Inc()
		default:
			p.metrics.IndexChunkFetches.WithLabelValues("ok").Inc()
		}
		p.cache.put(key, vals)
		return vals, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch index chunk %s: %w", key, err)
	}
	return v.([]float64), nil
}
