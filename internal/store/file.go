package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/couchcryptid/grid-patch-service/internal/domain"
)

// ReadChunk reads a whole chunk file. It returns as soon as ctx is done; a
// read already blocked in the kernel finishes in the background and its
// result is dropped.
func ReadChunk(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, timeoutErr("read", path, err)
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := os.ReadFile(path)
		done <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, timeoutErr("read", path, ctx.Err())
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: chunk file %s", domain.ErrNotFound, path)
			}
			return nil, fmt.Errorf("read chunk %s: %w", path, r.err)
		}
		return r.data, nil
	}
}

// WriteChunk replaces path with data. The bytes go to a temporary file in the
// same directory, which is synced and then renamed over path, so readers see
// either the old chunk or the new one. The original file mode is preserved.
//
// ctx bounds the write: once it is done the rename is never performed and
// path keeps its previous contents.
func WriteChunk(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return timeoutErr("write", path, err)
	}

	perm := fs.FileMode(0o644)
	if info, statErr := os.Stat(path); statErr == nil {
		perm = info.Mode().Perm()
	}

	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", domain.ErrWriteFailure, err)
	}

	done := make(chan error, 1)
	go func() { done <- fillTemp(tmp, data, perm) }()

	select {
	case <-ctx.Done():
		go func() {
			<-done
			_ = os.Remove(tmp.Name())
		}()
		return timeoutErr("write", path, ctx.Err())
	case err := <-done:
		if err != nil {
			_ = os.Remove(tmp.Name())
			return err
		}
	}

	// Last point at which the old chunk can still be kept.
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmp.Name())
		return timeoutErr("write", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: rename onto %s: %w", domain.ErrWriteFailure, path, err)
	}

	syncDir(dir)
	return nil
}

// fillTemp writes, chmods, syncs and closes tmp. The file is closed on every path.
func fillTemp(tmp *os.File, data []byte, perm fs.FileMode) error {
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write %s: %w", domain.ErrWriteFailure, tmp.Name(), err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: chmod %s: %w", domain.ErrWriteFailure, tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync %s: %w", domain.ErrWriteFailure, tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", domain.ErrWriteFailure, tmp.Name(), err)
	}
	return nil
}

func timeoutErr(op, path string, err error) error {
	return fmt.Errorf("%w: %s chunk %s: %w", domain.ErrTimeout, op, path, err)
}

// syncDir persists the rename. Not every platform supports syncing a
// directory, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
