package zarrindex

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/grid-patch-service/internal/codec"
)

// Fixture index: 4 rows (y) by 5 columns (x), 2-D arrays chunked 2x3.
const (
	fixtureNx = 5
	fixtureNy = 4
)

var (
	fixtureXs = []float64{-6000, -3000, 0, 3000, 6000}
	fixtureYs = []float64{-1500, 1500, 4500, 7500}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixtureChunkID(iy, ix int) float64 { return float64(iy*10 + ix) }
func fixtureInChunkX(_, ix int) float64 { return float64(ix * 3 % 150) }
func fixtureInChunkY(iy, _ int) float64 { return float64(iy * 7 % 150) }

type arrayDef struct {
	name       string
	shape      []int
	chunks     []int
	dtype      string
	compressor string // "", "blosc", "zstd" or "zlib"
	fill       any
	skip       map[string]bool // chunk keys left out of the store
}

func compress(t *testing.T, id string, raw []byte, typesize int) []byte {
	t.Helper()
	switch id {
	case "":
		return raw
	case "blosc":
		b, err := codec.NewBlosc(codec.CnameLZ4, 5, true)
		require.NoError(t, err)
		defer b.Close()
		out, err := b.Compress(raw, typesize)
		require.NoError(t, err)
		return out
	case "zstd":
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		defer enc.Close()
		return enc.EncodeAll(raw, nil)
	case "zlib":
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		_, err := w.Write(raw)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return buf.Bytes()
	}
	t.Fatalf("unknown compressor %q", id)
	return nil
}

// writeArray stores values (C order, shape def.shape) as a zarr v2 array
// under dir/def.name, padding edge chunks to full size.
func writeArray(t *testing.T, dir string, def arrayDef, at func(idx []int) float64) {
	t.Helper()
	adir := filepath.Join(dir, def.name)
	require.NoError(t, os.MkdirAll(adir, 0o755))

	meta := map[string]any{
		"zarr_format": 2,
		"shape":       def.shape,
		"chunks":      def.chunks,
		"dtype":       def.dtype,
		"compressor":  nil,
		"fill_value":  def.fill,
		"order":       "C",
		"filters":     nil,
	}
	if def.compressor != "" {
		meta["compressor"] = map[string]any{"id": def.compressor}
	}
	data, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(adir, ".zarray"), data, 0o644))

	dt := codec.MustParseDtype(def.dtype)
	m := ArrayMeta{Chunks: def.chunks, DimensionSeparator: "."}

	var grid [][]int
	if len(def.shape) == 1 {
		for c := 0; c*def.chunks[0] < def.shape[0]; c++ {
			grid = append(grid, []int{c})
		}
	} else {
		for cy := 0; cy*def.chunks[0] < def.shape[0]; cy++ {
			for cx := 0; cx*def.chunks[1] < def.shape[1]; cx++ {
				grid = append(grid, []int{cy, cx})
			}
		}
	}

	for _, cidx := range grid {
		key := m.chunkKey(cidx)
		if def.skip[key] {
			continue
		}
		raw := make([]byte, m.chunkLen()*dt.ItemSize)
		for i := 0; i < m.chunkLen(); i++ {
			var idx []int
			if len(def.shape) == 1 {
				idx = []int{cidx[0]*def.chunks[0] + i}
			} else {
				idx = []int{cidx[0]*def.chunks[0] + i/def.chunks[1], cidx[1]*def.chunks[1] + i%def.chunks[1]}
			}
			inside := true
			for d := range idx {
				if idx[d] >= def.shape[d] {
					inside = false
				}
			}
			if inside {
				dt.Put(raw[i*dt.ItemSize:], at(idx))
			}
		}
		require.NoError(t, os.WriteFile(filepath.Join(adir, key), compress(t, def.compressor, raw, dt.ItemSize), 0o644))
	}
}

// writeFixture builds the fixture index under a temp dir. skip names
// chunk_id chunks to leave out.
func writeFixture(t *testing.T, skip ...string) string {
	t.Helper()
	dir := t.TempDir()

	writeArray(t, dir, arrayDef{name: varX, shape: []int{fixtureNx}, chunks: []int{2}, dtype: "<f8", compressor: "blosc", fill: "NaN"},
		func(idx []int) float64 { return fixtureXs[idx[0]] })
	writeArray(t, dir, arrayDef{name: varY, shape: []int{fixtureNy}, chunks: []int{4}, dtype: "<f8", compressor: "zlib", fill: nil},
		func(idx []int) float64 { return fixtureYs[idx[0]] })

	skipped := map[string]bool{}
	for _, k := range skip {
		skipped[k] = true
	}
	shape, chunks := []int{fixtureNy, fixtureNx}, []int{2, 3}
	writeArray(t, dir, arrayDef{name: varChunkID, shape: shape, chunks: chunks, dtype: "<i4", compressor: "blosc", fill: "NaN", skip: skipped},
		func(idx []int) float64 { return fixtureChunkID(idx[0], idx[1]) })
	writeArray(t, dir, arrayDef{name: varInChunkX, shape: shape, chunks: chunks, dtype: "<i2", compressor: "zstd", fill: 0},
		func(idx []int) float64 { return fixtureInChunkX(idx[0], idx[1]) })
	writeArray(t, dir, arrayDef{name: varInChunkY, shape: shape, chunks: chunks, dtype: "|u1", compressor: "", fill: 0},
		func(idx []int) float64 { return fixtureInChunkY(idx[0], idx[1]) })
	return dir
}
