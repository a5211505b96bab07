// Package store resolves and rewrites chunk files in the on-disk forecast
// dataset, laid out as <root>/<YYYY-MM-DD_HH>/<lead>/<field>/<chunk_id>.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/couchcryptid/grid-patch-service/internal/domain"
)

// Locator maps (run, field, chunk id) to a chunk file under a dataset root.
type Locator struct {
	root   string
	lead   string
	logger *slog.Logger
}

// NewLocator creates a Locator for the dataset at root. lead is the
// forecast-lead directory between the run and the field, "1" for HRRR.
func NewLocator(root, lead string, logger *slog.Logger) *Locator {
	return &Locator{root: root, lead: lead, logger: logger}
}

// Root returns the dataset root directory.
func (l *Locator) Root() string { return l.root }

// Resolve finds the chunk file for a run, field and chunk id. The run
// directory must parse to exactly the requested hour; there is no
// nearest-run fallback.
func (l *Locator) Resolve(run time.Time, field string, chunkID int) (domain.ChunkLocation, error) {
	if err := domain.ValidateField(field); err != nil {
		return domain.ChunkLocation{}, err
	}
	if chunkID < 0 {
		return domain.ChunkLocation{}, fmt.Errorf("%w: negative chunk id %d", domain.ErrInvalidUpdate, chunkID)
	}
	run = run.UTC()

	dir, err := l.findRun(run)
	if err != nil {
		return domain.ChunkLocation{}, err
	}

	path := filepath.Join(l.root, dir, l.lead, filepath.FromSlash(field), strconv.Itoa(chunkID))
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ChunkLocation{}, fmt.Errorf("%w: chunk file %s", domain.ErrNotFound, path)
		}
		return domain.ChunkLocation{}, fmt.Errorf("stat chunk %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return domain.ChunkLocation{}, fmt.Errorf("%w: %s is not a regular file", domain.ErrNotFound, path)
	}

	return domain.ChunkLocation{
		Key:  domain.ChunkKey{Run: run, Field: field, ChunkID: chunkID},
		Path: path,
	}, nil
}

// findRun returns the single run directory whose name parses to run.
func (l *Locator) findRun(run time.Time) (string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: dataset root %s", domain.ErrNotFound, l.root)
		}
		return "", fmt.Errorf("list dataset root: %w", err)
	}

	var matches []string
	for _, e := range entries {
		if !l.isDir(e) {
			continue
		}
		t, err := time.ParseInLocation(domain.RunLayout, e.Name(), time.UTC)
		if err != nil {
			continue
		}
		if t.Equal(run) {
			matches = append(matches, e.Name())
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no forecast run for %s", domain.ErrNotFound, run.Format(domain.RunLayout))
	case 1:
		return matches[0], nil
	default:
		l.logger.Warn("ambiguous forecast run", "run", run.Format(domain.RunLayout), "directories", matches)
		return "", fmt.Errorf("%w: %d directories match %s: %v", domain.ErrAmbiguousRun, len(matches), run.Format(domain.RunLayout), matches)
	}
}

// isDir follows symlinks so mirrored runs linked into the root still count.
func (l *Locator) isDir(e fs.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(l.root, e.Name()))
	return err == nil && info.IsDir()
}
