package patch

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/grid-patch-service/internal/domain"
	"github.com/couchcryptid/grid-patch-service/internal/observability"
)

// ChunkIndexer maps geographic coordinates to a chunk index entry.
type ChunkIndexer interface {
	Locate(ctx context.Context, lat, lon float64) (domain.ChunkIndexEntry, error)
}

// ChunkResolver finds the stored chunk for a run, field and chunk id.
type ChunkResolver interface {
	Resolve(run time.Time, field string, chunkID int) (domain.ChunkLocation, error)
}

// EventPublisher receives a PatchEvent after each durable patch.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.PatchEvent) error
}

// Service applies single-cell updates: locate the chunk, resolve its file,
// patch it and announce the change.
type Service struct {
	indexer  ChunkIndexer
	resolver ChunkResolver
	patcher  *Patcher
	events   EventPublisher
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewService wires the patch stages together. events may be nil to disable
// patch event publication.
func NewService(indexer ChunkIndexer, resolver ChunkResolver, patcher *Patcher, events EventPublisher, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		indexer:  indexer,
		resolver: resolver,
		patcher:  patcher,
		events:   events,
		logger:   logger,
		metrics:  metrics,
	}
}

// Apply validates u and writes its value into the single grid cell nearest
// to (lat, lon) in the matching run and field. Errors wrap one of the domain
// sentinels. A failure to publish the patch event is logged, not returned:
// the chunk is already rewritten at that point.
func (s *Service) Apply(ctx context.Context, u domain.CellUpdate) (Result, error) {
	if err := u.Validate(); err != nil {
		return Result{}, err
	}
	run, err := domain.ParseRun(u.ForecastTimestamp)
	if err != nil {
		return Result{}, err
	}

	entry, err := s.indexer.Locate(ctx, u.Lat, u.Lon)
	if err != nil {
		return Result{}, err
	}

	loc, err := s.resolver.Resolve(run, u.Field, entry.ChunkID)
	if err != nil {
		return Result{}, err
	}

	res, err := s.patcher.Patch(ctx, loc, domain.CellFromEntry(entry, u.Slice), u.Value)
	if err != nil {
		return Result{}, err
	}
	res.Entry = entry

	s.publish(ctx, res)
	return res, nil
}

func (s *Service) publish(ctx context.Context, res Result) {
	if s.events == nil {
		return
	}
	event := domain.NewPatchEvent(res.Location, res.Cell, res.OldValue, res.NewValue)
	if err := s.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.metrics.PatchEvents.WithLabelValues("error").Inc()
		s.logger.Error("publish patch event failed", "chunk_key", res.Location.Key.String(), "event_id", event.ID, "error", err)
		return
	}
	s.metrics.PatchEvents.WithLabelValues("published").Inc()
}
