package codec

import (
	"fmt"

	"github.com/couchcryptid/grid-patch-service/internal/domain"
)

// Codec converts between compressed chunk files and Grids.
type Codec struct {
	blosc *Blosc
}

// New creates a Codec that writes with the given blosc settings. Reading
// accepts any supported blosc compressor regardless of the write settings.
func New(b *Blosc) *Codec {
	return &Codec{blosc: b}
}

// Decode decompresses a chunk and interprets it as dtype elements. A chunk
// holding exactly one slice decodes to shape (150, 150); otherwise to
// (N, 150, 150).
func (c *Codec) Decode(data []byte, dtype Dtype) (*Grid, error) {
	raw, err := c.blosc.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("decode chunk: %w", err)
	}
	g, err := gridFromBytes(dtype, raw)
	if err != nil {
		return nil, fmt.Errorf("decode chunk: %w", err)
	}
	return g, nil
}

// Encode compresses a grid with the configured blosc settings, using the
// dtype's item size as the shuffle typesize.
func (c *Codec) Encode(g *Grid) ([]byte, error) {
	if g == nil || g.Len() == 0 {
		return nil, fmt.Errorf("encode chunk: %w: empty grid", domain.ErrFormat)
	}
	out, err := c.blosc.Compress(g.Bytes(), g.Dtype().ItemSize)
	if err != nil {
		return nil, fmt.Errorf("encode chunk: %w", err)
	}
	return out, nil
}
