package zarrindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/couchcryptid/grid-patch-service/internal/codec"
)

// ArrayMeta is the subset of a zarr v2 ".zarray" document the index reader
// understands.
type ArrayMeta struct {
	ZarrFormat int             `json:"zarr_format"`
	Shape      []int           `json:"shape"`
	Chunks     []int           `json:"chunks"`
	Dtype      string          `json:"dtype"`
	Compressor *CompressorMeta `json:"compressor"`
	FillValue  any             `json:"fill_value"`
	Order      string          `json:"order"`
	Filters    []any           `json:"filters"`

	// DimensionSeparator defaults to "." giving chunk keys like "0.3".
	DimensionSeparator string `json:"dimension_separator"`
}

// CompressorMeta identifies the codec of every stored chunk.
type CompressorMeta struct {
	ID      string `json:"id"`
	Cname   string `json:"cname,omitempty"`
	Clevel  int    `json:"clevel,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
}

// parseArrayMeta decodes and validates a .zarray document.
func parseArrayMeta(data []byte) (ArrayMeta, codec.Dtype, error) {
	var m ArrayMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return ArrayMeta{}, codec.Dtype{}, fmt.Errorf("decode .zarray: %w", err)
	}
	if m.ZarrFormat != 2 {
		return ArrayMeta{}, codec.Dtype{}, fmt.Errorf("unsupported zarr_format %d", m.ZarrFormat)
	}
	if len(m.Shape) == 0 || len(m.Shape) != len(m.Chunks) {
		return ArrayMeta{}, codec.Dtype{}, fmt.Errorf("shape %v does not match chunks %v", m.Shape, m.Chunks)
	}
	for i := range m.Chunks {
		if m.Chunks[i] < 1 || m.Shape[i] < 0 {
			return ArrayMeta{}, codec.Dtype{}, fmt.Errorf("invalid shape %v / chunks %v", m.Shape, m.Chunks)
		}
	}
	if m.Order != "" && m.Order != "C" {
		return ArrayMeta{}, codec.Dtype{}, fmt.Errorf("unsupported order %q", m.Order)
	}
	if len(m.Filters) > 0 {
		return ArrayMeta{}, codec.Dtype{}, errors.New("filters are not supported")
	}
	switch m.DimensionSeparator {
	case "":
		m.DimensionSeparator = "."
	case ".", "/":
	default:
		return ArrayMeta{}, codec.Dtype{}, fmt.Errorf("invalid dimension_separator %q", m.DimensionSeparator)
	}
	dt, err := codec.ParseDtype(m.Dtype)
	if err != nil {
		return ArrayMeta{}, codec.Dtype{}, err
	}
	return m, dt, nil
}

// chunkKey joins chunk grid coordinates, e.g. [0 3] -> "0.3".
func (m ArrayMeta) chunkKey(idx []int) string {
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, m.DimensionSeparator)
}

// chunkLen is the number of elements in one stored chunk. Edge chunks are
// stored at full size.
func (m ArrayMeta) chunkLen() int {
	n := 1
	for _, c := range m.Chunks {
		n *= c
	}
	return n
}

// fill returns the fill value as a float, NaN when unset.
func (m ArrayMeta) fill() (float64, error) {
	switch v := m.FillValue.(type) {
	case nil:
		return math.NaN(), nil
	case float64:
		return v, nil
	case string:
		switch v {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
	}
	return 0, fmt.Errorf("unsupported fill_value %v", m.FillValue)
}
