package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/grid-patch-service/internal/codec"
)

// BuiltinHRRRIndex selects the chunk index computed from the HRRR grid
// definition instead of a fetched zarr index.
const BuiltinHRRRIndex = "builtin:hrrr"

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatasetRoot string
	LeadIndex   string
	Dtypes      *codec.DtypeTable

	ChunkIndexURL  string
	IndexTimeout   time.Duration
	IndexCacheSize int

	PatchTimeout     time.Duration
	CompressionLevel int

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// JWTSecret enables bearer-token auth on PUT /update when set.
	JWTSecret string

	// Patch event publishing.
	KafkaBrokers       []string
	KafkaPatchTopic    string
	PatchEventsEnabled bool
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	indexTimeout, err := parsePositiveDuration("INDEX_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	patchTimeout, err := parsePositiveDuration("PATCH_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	level, err := parseInt("COMPRESSION_LEVEL", 3)
	if err != nil {
		return nil, err
	}
	if level < 1 || level > 22 {
		return nil, errors.New("invalid COMPRESSION_LEVEL: must be between 1 and 22")
	}

	dtypes, err := codec.ParseDtypeTable(
		sharedcfg.EnvOrDefault("DEFAULT_DTYPE", "<f4"),
		os.Getenv("FIELD_DTYPES"),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid FIELD_DTYPES or DEFAULT_DTYPE: %w", err)
	}

	var brokers []string
	if s := os.Getenv("KAFKA_BROKERS"); s != "" {
		brokers = sharedcfg.ParseBrokers(s)
	}
	eventsEnabled := len(brokers) > 0
	if v := os.Getenv("PATCH_EVENTS_ENABLED"); v != "" {
		eventsEnabled, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PATCH_EVENTS_ENABLED: %w", err)
		}
	}

	cacheSize, err := parseInt("INDEX_CACHE_SIZE", 256)
	if err != nil {
		return nil, err
	}
	if cacheSize < 1 {
		return nil, errors.New("invalid INDEX_CACHE_SIZE: must be positive")
	}

	cfg := &Config{
		DatasetRoot: sharedcfg.EnvOrDefault("DATASET_ROOT", "../dataStore/now"),
		LeadIndex:   sharedcfg.EnvOrDefault("LEAD_INDEX", "1"),
		Dtypes:      dtypes,

		ChunkIndexURL:  sharedcfg.EnvOrDefault("CHUNK_INDEX_URL", "https://hrrrzarr.s3.amazonaws.com/grid/HRRR_chunk_index.zarr"),
		IndexTimeout:   indexTimeout,
		IndexCacheSize: cacheSize,

		PatchTimeout:     patchTimeout,
		CompressionLevel: level,

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":3200"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		JWTSecret:       os.Getenv("JWT_SECRET"),

		KafkaBrokers:       brokers,
		KafkaPatchTopic:    sharedcfg.EnvOrDefault("KAFKA_PATCH_TOPIC", "grid-patches"),
		PatchEventsEnabled: eventsEnabled,
	}

	if cfg.DatasetRoot == "" {
		return nil, errors.New("DATASET_ROOT is required")
	}
	if cfg.LeadIndex == "" || strings.ContainsAny(cfg.LeadIndex, `/\`) || cfg.LeadIndex == "." || cfg.LeadIndex == ".." {
		return nil, errors.New("invalid LEAD_INDEX: must be a single path segment")
	}
	if cfg.ChunkIndexURL == "" {
		return nil, errors.New("CHUNK_INDEX_URL is required")
	}
	if cfg.PatchEventsEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("PATCH_EVENTS_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.PatchEventsEnabled && cfg.KafkaPatchTopic == "" {
		return nil, errors.New("KAFKA_PATCH_TOPIC is required when patch events are enabled")
	}

	return cfg, nil
}

func parsePositiveDuration(name, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return d, nil
}

func parseInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}
