// Package patch applies single-cell updates to stored forecast chunks.
package patch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/grid-patch-service/internal/codec"
	"github.com/couchcryptid/grid-patch-service/internal/domain"
	"github.com/couchcryptid/grid-patch-service/internal/observability"
	"github.com/couchcryptid/grid-patch-service/internal/store"
)

// Result describes an applied patch.
type Result struct {
	Entry    domain.ChunkIndexEntry
	Location domain.ChunkLocation
	Cell     domain.Cell
	Shape    []int
	OldValue float64
	// NewValue is the value as stored, after conversion to the chunk dtype.
	NewValue float64
}

// Patcher performs the read-modify-write cycle on one chunk file while
// holding that chunk's lock.
type Patcher struct {
	codec   *codec.Codec
	dtypes  *codec.DtypeTable
	locks   *KeyedLock
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPatcher creates a Patcher. timeout bounds the whole cycle: lock wait,
// chunk read and chunk write. Zero means no bound beyond the caller's context.
func NewPatcher(c *codec.Codec, dtypes *codec.DtypeTable, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Patcher {
	return &Patcher{
		codec:   c,
		dtypes:  dtypes,
		locks:   NewKeyedLock(),
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

// Patch sets one cell of the chunk at loc to value and rewrites the chunk.
// Every other cell keeps its exact stored bytes. Stacked chunks require
// cell.Slice. On any failure the chunk file is left as it was.
func (p *Patcher) Patch(ctx context.Context, loc domain.ChunkLocation, cell domain.Cell, value float64) (Result, error) {
	start := time.Now()
	res, err := p.patch(ctx, loc, cell, value)
	p.metrics.Patches.WithLabelValues(domain.ErrorKind(err)).Inc()
	p.metrics.PatchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return Result{}, fmt.Errorf("patch %s: %w", loc.Key, err)
	}

	p.logger.Info("chunk patched",
		"chunk_key", loc.Key.String(),
		"row", cell.Row,
		"col", cell.Col,
		"old_value", res.OldValue,
		"new_value", res.NewValue,
		"duration", time.Since(start),
	)
	return res, nil
}

func (p *Patcher) patch(ctx context.Context, loc domain.ChunkLocation, cell domain.Cell, value float64) (Result, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	waitStart := time.Now()
	unlock, err := p.locks.Lock(ctx, loc.Key)
	p.metrics.LockWait.Observe(time.Since(waitStart).Seconds())
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	raw, err := store.ReadChunk(ctx, loc.Path)
	if err != nil {
		return Result{}, err
	}

	grid, err := p.codec.Decode(raw, p.dtypes.Lookup(loc.Key.Field))
	if err != nil {
		return Result{}, err
	}

	slice, err := selectSlice(grid, cell.Slice)
	if err != nil {
		return Result{}, err
	}

	patched := grid.Clone()
	old, stored, err := patched.Swap(slice, cell.Row, cell.Col, value)
	if err != nil {
		return Result{}, err
	}

	data, err := p.codec.Encode(patched)
	if err != nil {
		return Result{}, err
	}
	if err := store.WriteChunk(ctx, loc.Path, data); err != nil {
		return Result{}, err
	}

	return Result{
		Location: loc,
		Cell:     cell,
		Shape:    patched.Shape(),
		OldValue: old,
		NewValue: stored,
	}, nil
}

// selectSlice picks the time slice to patch. A 2-D chunk is slice 0; a
// stacked chunk must be addressed explicitly.
func selectSlice(g *codec.Grid, sel *int) (int, error) {
	if sel == nil {
		if g.Stacked() {
			return 0, fmt.Errorf("%w: chunk has %d time slices", domain.ErrSliceRequired, g.Slices())
		}
		return 0, nil
	}
	if *sel < 0 || *sel >= g.Slices() {
		return 0, fmt.Errorf("%w: slice %d out of range [0, %d)", domain.ErrSliceRequired, *sel, g.Slices())
	}
	return *sel, nil
}
