package zarrindex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/grid-patch-service/internal/domain"
	"github.com/couchcryptid/grid-patch-service/internal/observability"
)

func newTestProvider(t *testing.T, s Store, cacheSize int) (*Provider, *observability.Metrics) {
	t.Helper()
	m := observability.NewMetricsForTesting()
	p, err := NewProvider(s, cacheSize, discardLogger(), m)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, m
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, vec.WithLabelValues(label).Write(&m))
	return m.GetCounter().GetValue()
}

// countingServer serves dir over HTTP and counts requests per path.
type countingServer struct {
	*httptest.Server
	mu     sync.Mutex
	hits   map[string]int
	failOK atomic.Int32 // requests to fail with 503 before serving
}

func newCountingServer(t *testing.T, dir string) *countingServer {
	t.Helper()
	cs := &countingServer{hits: map[string]int{}}
	files := http.FileServer(http.Dir(dir))
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		cs.hits[r.URL.Path]++
		cs.mu.Unlock()
		if cs.failOK.Load() > 0 {
			cs.failOK.Add(-1)
			http.Error(w, "slow down", http.StatusServiceUnavailable)
			return
		}
		files.ServeHTTP(w, r)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *countingServer) count(path string) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.hits[path]
}

func TestProvider_Axes(t *testing.T) {
	p, m := newTestProvider(t, NewDirStore(writeFixture(t)), 16)

	xs, ys, err := p.Axes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixtureXs, xs)
	assert.Equal(t, fixtureYs, ys)

	var g dto.Metric
	require.NoError(t, m.IndexLoaded.Write(&g))
	assert.InDelta(t, 1, g.GetGauge().GetValue(), 0)
}

func TestProvider_EntryEveryCell(t *testing.T) {
	p, _ := newTestProvider(t, NewDirStore(writeFixture(t)), 16)

	for iy := 0; iy < fixtureNy; iy++ {
		for ix := 0; ix < fixtureNx; ix++ {
			e, err := p.Entry(context.Background(), iy, ix)
			require.NoError(t, err)
			assert.Equal(t, domain.ChunkIndexEntry{
				ChunkID:  int(fixtureChunkID(iy, ix)),
				X:        fixtureXs[ix],
				Y:        fixtureYs[iy],
				InChunkX: int(fixtureInChunkX(iy, ix)),
				InChunkY: int(fixtureInChunkY(iy, ix)),
			}, e, "entry (%d, %d)", iy, ix)
		}
	}
}

func TestProvider_OutOfRange(t *testing.T) {
	p, _ := newTestProvider(t, NewDirStore(writeFixture(t)), 16)

	_, err := p.Entry(context.Background(), fixtureNy, 0)
	assert.Error(t, err)
	_, err = p.Entry(context.Background(), 0, -1)
	assert.Error(t, err)
}

func TestProvider_MissingChunkReadsFill(t *testing.T) {
	p, m := newTestProvider(t, NewDirStore(writeFixture(t, "1.1")), 16)

	_, err := p.Entry(context.Background(), 3, 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want an integer")
	assert.InDelta(t, 1, counterValue(t, m.IndexChunkFetches, "missing"), 0)

	e, err := p.Entry(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, e.ChunkID)
}

func TestProvider_HTTPStoreCachesChunks(t *testing.T) {
	srv := newCountingServer(t, writeFixture(t))
	p, m := newTestProvider(t, NewHTTPStore(srv.URL+"/", time.Second, discardLogger()), 16)

	first, err := p.Entry(context.Background(), 2, 4)
	require.NoError(t, err)
	second, err := p.Entry(context.Background(), 3, 3)
	require.NoError(t, err)

	assert.Equal(t, int(fixtureChunkID(2, 4)), first.ChunkID)
	assert.Equal(t, int(fixtureChunkID(3, 3)), second.ChunkID)
	assert.Equal(t, 1, srv.count("/chunk_id/1.1"), "chunk fetched once")
	assert.Equal(t, 1, srv.count("/x/.zarray"))
	assert.InDelta(t, 3, counterValue(t, m.IndexCache, "hit"), 0)
	assert.InDelta(t, 3, counterValue(t, m.IndexChunkFetches, "ok"), 0)
}

func TestProvider_ConcurrentEntries(t *testing.T) {
	srv := newCountingServer(t, writeFixture(t))
	p, _ := newTestProvider(t, NewHTTPStore(srv.URL, time.Second, discardLogger()), 16)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			iy, ix := i%fixtureNy, i%fixtureNx
			e, err := p.Entry(context.Background(), iy, ix)
			if assert.NoError(t, err) {
				assert.Equal(t, int(fixtureChunkID(iy, ix)), e.ChunkID)
			}
		}(i)
	}
	wg.Wait()
}

func TestProvider_EvictionRefetches(t *testing.T) {
	srv := newCountingServer(t, writeFixture(t))
	p, _ := newTestProvider(t, NewHTTPStore(srv.URL, time.Second, discardLogger()), 1)

	_, err := p.Entry(context.Background(), 0, 0)
	require.NoError(t, err)
	_, err = p.Entry(context.Background(), 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, srv.count("/chunk_id/0.0"))
	assert.Equal(t, 1, p.cache.len())
}

func TestProvider_LoadRetriesAfterFailure(t *testing.T) {
	srv := newCountingServer(t, writeFixture(t))
	srv.failOK.Store(1)
	p, _ := newTestProvider(t, NewHTTPStore(srv.URL, time.Second, discardLogger()), 16)

	_, _, err := p.Axes(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")

	xs, _, err := p.Axes(context.Background())
	require.NoError(t, err)
	assert.Len(t, xs, fixtureNx)
}

func TestProvider_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, _ := newTestProvider(t, NewHTTPStore(url, 200*time.Millisecond, discardLogger()), 16)
	_, _, err := p.Axes(context.Background())
	assert.Error(t, err)
}

func TestProvider_MissingMetadata(t *testing.T) {
	p, _ := newTestProvider(t, NewDirStore(t.TempDir()), 16)
	_, _, err := p.Axes(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestOpenStore(t *testing.T) {
	assert.IsType(t, &HTTPStore{}, OpenStore("https://hrrrzarr.s3.amazonaws.com/grid/HRRR_chunk_index.zarr", time.Second, discardLogger()))
	assert.IsType(t, &DirStore{}, OpenStore("file:///srv/index.zarr", time.Second, discardLogger()))
	assert.IsType(t, &DirStore{}, OpenStore("./index.zarr", time.Second, discardLogger()))
	assert.Equal(t, "/srv/index.zarr", OpenStore("file:///srv/index.zarr", time.Second, discardLogger()).(*DirStore).root)
}

func TestParseArrayMeta(t *testing.T) {
	valid := `{"zarr_format":2,"shape":[1059,1799],"chunks":[150,150],"dtype":"<i8","compressor":{"id":"blosc","cname":"zstd","clevel":3,"shuffle":1},"fill_value":null,"order":"C","filters":null}`
	m, dt, err := parseArrayMeta([]byte(valid))
	require.NoError(t, err)
	assert.Equal(t, "<i8", dt.String())
	assert.Equal(t, "blosc", m.Compressor.ID)
	assert.Equal(t, "3.7", m.chunkKey([]int{3, 7}))
	assert.Equal(t, 150*150, m.chunkLen())

	bad := map[string]string{
		"format":    strings.Replace(valid, `"zarr_format":2`, `"zarr_format":3`, 1),
		"order":     strings.Replace(valid, `"order":"C"`, `"order":"F"`, 1),
		"filters":   strings.Replace(valid, `"filters":null`, `"filters":[{"id":"delta"}]`, 1),
		"dtype":     strings.Replace(valid, `"<i8"`, `"<U4"`, 1),
		"dims":      strings.Replace(valid, `[150,150]`, `[150]`, 1),
		"separator": strings.Replace(valid, `"order":"C"`, `"order":"C","dimension_separator":"-"`, 1),
		"json":      valid[:20],
	}
	for name, doc := range bad {
		t.Run(name, func(t *testing.T) {
			_, _, err := parseArrayMeta([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestChunkCache_Eviction(t *testing.T) {
	c := newChunkCache(2)
	c.put("a", []float64{1})
	c.put("b", []float64{2})
	_, _ = c.get("a")
	c.put("c", []float64{3})

	_, ok := c.get("b")
	assert.False(t, ok, "b was least recently used")
	v, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, []float64{1}, v)
	assert.Equal(t, 2, c.len())

	c.put("c", []float64{4})
	v, ok = c.get("c")
	assert.True(t, ok)
	assert.Equal(t, []float64{4}, v)
	assert.Equal(t, 2, c.len())
}
