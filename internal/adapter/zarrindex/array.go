package zarrindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/couchcryptid/grid-patch-service/internal/codec"
)

// decompressor undoes the chunk compressors numcodecs writes for zarr.
type decompressor struct {
	blosc *codec.Blosc
	zstd  *zstd.Decoder
}

func newDecompressor() (*decompressor, error) {
	b, err := codec.NewBlosc(codec.CnameZstd, 1, true)
	if err != nil {
		return nil, err
	}
	z, err := zstd.NewReader(nil)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &decompressor{blosc: b, zstd: z}, nil
}

func (d *decompressor) close() {
	d.blosc.Close()
	d.zstd.Close()
}

func (d *decompressor) decompress(c *CompressorMeta, data []byte) ([]byte, error) {
	if c == nil {
		return data, nil
	}
	switch c.ID {
	case "blosc":
		return d.blosc.Decompress(data)
	case "zstd":
		return d.zstd.DecodeAll(data, nil)
	case "zlib":
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unsupported compressor %q", c.ID)
	}
}

// array is one opened zarr array of the index hierarchy.
type array struct {
	name  string
	meta  ArrayMeta
	dtype codec.Dtype
	fill  float64
	store Store
	dec   *decompressor
}

func openArray(ctx context.Context, s Store, dec *decompressor, name string) (*array, error) {
	data, err := s.Get(ctx, name+"/.zarray")
	if err != nil {
		return nil, fmt.Errorf("open array %s: %w", name, err)
	}
	meta, dt, err := parseArrayMeta(data)
	if err != nil {
		return nil, fmt.Errorf("open array %s: %w", name, err)
	}
	fill, err := meta.fill()
	if err != nil {
		return nil, fmt.Errorf("open array %s: %w", name, err)
	}
	return &array{name: name, meta: meta, dtype: dt, fill: fill, store: s, dec: dec}, nil
}

// key returns the store key of the chunk at chunk-grid position idx.
func (a *array) key(idx []int) string {
	return a.name + "/" + a.meta.chunkKey(idx)
}

// readChunk loads one chunk as float64 values in C order. A chunk absent from
// the store reads as the fill value; missing reports that case.
func (a *array) readChunk(ctx context.Context, idx []int) (values []float64, missing bool, err error) {
	n := a.meta.chunkLen()
	data, err := a.store.Get(ctx, a.key(idx))
	if errors.Is(err, ErrKeyNotFound) {
		values = make([]float64, n)
		for i := range values {
			values[i] = a.fill
		}
		return values, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	raw, err := a.dec.decompress(a.meta.Compressor, data)
	if err != nil {
		return nil, false, fmt.Errorf("decompress %s: %w", a.key(idx), err)
	}
	if len(raw) != n*a.dtype.ItemSize {
		return nil, false, fmt.Errorf("chunk %s has %d bytes, want %d", a.key(idx), len(raw), n*a.dtype.ItemSize)
	}

	values = make([]float64, n)
	for i := range values {
		values[i] = a.dtype.Get(raw[i*a.dtype.ItemSize:])
	}
	return values, false, nil
}

// readAll loads a whole 1-D array.
func (a *array) readAll(ctx context.Context) ([]float64, error) {
	if len(a.meta.Shape) != 1 {
		return nil, fmt.Errorf("array %s has %d dimensions, want 1", a.name, len(a.meta.Shape))
	}
	size, step := a.meta.Shape[0], a.meta.Chunks[0]
	out := make([]float64, 0, size)
	for c := 0; c*step < size; c++ {
		vals, _, err := a.readChunk(ctx, []int{c})
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out[:size], nil
}
