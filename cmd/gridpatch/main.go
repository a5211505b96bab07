package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/grid-patch-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/grid-patch-service/internal/adapter/kafka"
	"github.com/couchcryptid/grid-patch-service/internal/adapter/zarrindex"
	"github.com/couchcryptid/grid-patch-service/internal/codec"
	"github.com/couchcryptid/grid-patch-service/internal/config"
	"github.com/couchcryptid/grid-patch-service/internal/observability"
	"github.com/couchcryptid/grid-patch-service/internal/patch"
	"github.com/couchcryptid/grid-patch-service/internal/projection"
	"github.com/couchcryptid/grid-patch-service/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	blosc, err := codec.NewBlosc(codec.CnameZstd, cfg.CompressionLevel, true)
	if err != nil {
		logger.Error("failed to create chunk codec", "error", err)
		os.Exit(1)
	}
	defer blosc.Close()

	projector, err := projection.NewHRRRProjector()
	if err != nil {
		logger.Error("failed to create projector", "error", err)
		os.Exit(1)
	}

	var provider projection.IndexProvider
	if cfg.ChunkIndexURL == config.BuiltinHRRRIndex {
		provider = projection.NewHRRRGridIndex()
		logger.Info("using computed HRRR chunk index")
	} else {
		zp, err := zarrindex.NewProvider(
			zarrindex.OpenStore(cfg.ChunkIndexURL, cfg.IndexTimeout, logger),
			cfg.IndexCacheSize, logger, metrics,
		)
		if err != nil {
			logger.Error("failed to create chunk index provider", "error", err)
			os.Exit(1)
		}
		defer zp.Close()
		provider = zp
		logger.Info("using zarr chunk index", "location", cfg.ChunkIndexURL, "cache_size", cfg.IndexCacheSize, "timeout", cfg.IndexTimeout)
	}
	indexer := projection.NewIndexer(projector, provider)

	locator := store.NewLocator(cfg.DatasetRoot, cfg.LeadIndex, logger)
	patcher := patch.NewPatcher(codec.New(blosc), cfg.Dtypes, cfg.PatchTimeout, logger, metrics)

	// Initialize event publishing (feature-flagged via PATCH_EVENTS_ENABLED / KAFKA_BROKERS).
	var events patch.EventPublisher
	var writer *kafkaadapter.Writer
	if cfg.PatchEventsEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		events = writer
		logger.Info("patch events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaPatchTopic)
	} else {
		logger.Info("patch events disabled")
	}

	svc := patch.NewService(indexer, locator, patcher, events, logger, metrics)
	srv := httpadapter.NewServer(cfg.HTTPAddr, indexer, svc, cfg.JWTSecret, logger)
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET unset, PUT /update is unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	logger.Info("grid patch service started", "dataset_root", locator.Root(), "lead", cfg.LeadIndex)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
