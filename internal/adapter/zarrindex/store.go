package zarrindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrKeyNotFound is returned by a Store for keys it does not hold. Zarr
// treats a missing chunk as filled with the array's fill value.
var ErrKeyNotFound = errors.New("key not found")

// Store reads keys of a zarr hierarchy.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// OpenStore picks a store for location: an http(s) URL, a file:// URL or a
// plain directory path.
func OpenStore(location string, timeout time.Duration, logger *slog.Logger) Store {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return NewHTTPStore(location, timeout, logger)
	case strings.HasPrefix(location, "file://"):
		return NewDirStore(strings.TrimPrefix(location, "file://"))
	default:
		return NewDirStore(location)
	}
}

// HTTPStore reads a zarr hierarchy over anonymous HTTP, such as a public
// S3 bucket.
type HTTPStore struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPStore creates a store rooted at baseURL.
func NewHTTPStore(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (s *HTTPStore) Get(ctx context.Context, key string) ([]byte, error) {
	u := s.baseURL + "/" + key
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer resp.Body.Close()
	s.logger.Debug("chunk index request", "key", key, "status", resp.StatusCode, "duration", time.Since(start))

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusForbidden:
		// S3 answers 403 for absent keys when listing is not allowed.
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("get %s: status %d: %s", key, resp.StatusCode, body)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// DirStore reads a zarr hierarchy mirrored to a local directory.
type DirStore struct {
	root string
}

// NewDirStore creates a store rooted at dir.
func NewDirStore(dir string) *DirStore {
	return &DirStore{root: dir}
}

func (s *DirStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		return nil, err
	}
	return data, nil
}
