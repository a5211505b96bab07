package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/couchcryptid/grid-patch-service/internal/domain"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Blosc1 container layout. A 16-byte header is followed, unless the buffer
// was stored verbatim, by one int32 offset per block and then the blocks.
// Each block holds one or more streams, each prefixed by its int32 size.
const (
	headerSize    = 16
	formatVersion = 2
	codecVersion  = 1

	flagShuffle    = 0x01
	flagMemcpyed   = 0x02
	flagBitShuffle = 0x04
	flagNoSplit    = 0x10

	maxSplits     = 16
	minBufferSize = 128

	// defaultBlockSize keeps one block of a 150x150 <f4 slice (90000 bytes)
	// in a single compression call.
	defaultBlockSize = 256 << 10

	// maxDecodedSize guards allocations driven by a corrupt header.
	maxDecodedSize = 1 << 30
)

// Compressor names accepted by NewBlosc, with their header format codes.
const (
	CnameBloscLZ = "blosclz"
	CnameLZ4     = "lz4"
	CnameSnappy  = "snappy"
	CnameZlib    = "zlib"
	CnameZstd    = "zstd"
)

const (
	codeBloscLZ byte = iota
	codeLZ4
	codeSnappy
	codeZlib
	codeZstd
)

var compressorCodes = map[string]byte{
	CnameBloscLZ: codeBloscLZ,
	CnameLZ4:     codeLZ4,
	CnameSnappy:  codeSnappy,
	CnameZlib:    codeZlib,
	CnameZstd:    codeZstd,
}

// Blosc reads and writes blosc1 containers, the compressor numcodecs uses for
// zarr chunks. Decompression accepts lz4, snappy, zlib and zstd payloads with
// or without byte shuffle; compression uses the configured codec. A Blosc is
// safe for concurrent use.
type Blosc struct {
	cname   string
	code    byte
	clevel  int
	shuffle bool

	zenc *zstd.Encoder
	zdec *zstd.Decoder
}

// NewBlosc creates a blosc codec that compresses with cname at clevel, with
// the byte-shuffle filter when shuffle is set.
func NewBlosc(cname string, clevel int, shuffle bool) (*Blosc, error) {
	code, ok := compressorCodes[cname]
	if !ok || cname == CnameBloscLZ {
		return nil, fmt.Errorf("blosc: unsupported compressor %q", cname)
	}
	maxLevel := 9
	if cname == CnameZstd {
		maxLevel = 22
	}
	if clevel < 0 || clevel > maxLevel {
		return nil, fmt.Errorf("blosc: compression level %d out of range for %s", clevel, cname)
	}

	level := clevel
	if level == 0 {
		level = 1
	}
	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("blosc: create zstd encoder: %w", err)
	}
	zdec, err := zstd.NewReader(nil)
	if err != nil {
		zenc.Close()
		return nil, fmt.Errorf("blosc: create zstd decoder: %w", err)
	}

	return &Blosc{
		cname:   cname,
		code:    code,
		clevel:  clevel,
		shuffle: shuffle,
		zenc:    zenc,
		zdec:    zdec,
	}, nil
}

// Close releases the zstd encoder and decoder.
func (b *Blosc) Close() {
	b.zenc.Close()
	b.zdec.Close()
}

// Cname returns the compressor used for writing.
func (b *Blosc) Cname() string { return b.cname }

// Clevel returns the compression level used for writing.
func (b *Blosc) Clevel() int { return b.clevel }

type header struct {
	flags     byte
	typesize  int
	nbytes    int
	blocksize int
	cbytes    int
}

func readHeader(src []byte) (header, error) {
	if len(src) < headerSize {
		return header{}, fmt.Errorf("%w: blosc buffer of %d bytes is shorter than its header", domain.ErrFormat, len(src))
	}
	h := header{
		flags:     src[2],
		typesize:  int(src[3]),
		nbytes:    int(binary.LittleEndian.Uint32(src[4:8])),
		blocksize: int(binary.LittleEndian.Uint32(src[8:12])),
		cbytes:    int(binary.LittleEndian.Uint32(src[12:16])),
	}
	if h.cbytes < headerSize || h.cbytes > len(src) {
		return header{}, fmt.Errorf("%w: blosc header claims %d compressed bytes, buffer has %d", domain.ErrFormat, h.cbytes, len(src))
	}
	if h.nbytes > maxDecodedSize {
		return header{}, fmt.Errorf("%w: blosc header claims %d decoded bytes", domain.ErrFormat, h.nbytes)
	}
	if h.typesize == 0 {
		return header{}, fmt.Errorf("%w: blosc header has zero typesize", domain.ErrFormat)
	}
	return h, nil
}

// Decompress decodes a blosc1 container into its raw bytes.
func (b *Blosc) Decompress(src []byte) ([]byte, error) {
	h, err := readHeader(src)
	if err != nil {
		return nil, err
	}
	src = src[:h.cbytes]
	if h.nbytes == 0 {
		return []byte{}, nil
	}

	if h.flags&flagMemcpyed != 0 {
		if h.cbytes < headerSize+h.nbytes {
			return nil, fmt.Errorf("%w: verbatim blosc buffer has %d bytes, want %d", domain.ErrFormat, h.cbytes, headerSize+h.nbytes)
		}
		out := make([]byte, h.nbytes)
		copy(out, src[headerSize:])
		return out, nil
	}
	if h.flags&flagBitShuffle != 0 {
		return nil, fmt.Errorf("%w: blosc bit-shuffle is not supported", domain.ErrFormat)
	}
	if h.blocksize <= 0 {
		return nil, fmt.Errorf("%w: blosc block size %d", domain.ErrFormat, h.blocksize)
	}

	nblocks := h.nbytes / h.blocksize
	leftover := h.nbytes % h.blocksize
	if leftover > 0 {
		nblocks++
	}
	if headerSize+4*nblocks > h.cbytes {
		return nil, fmt.Errorf("%w: blosc block table truncated", domain.ErrFormat)
	}

	code := h.flags >> 5
	shuffled := h.flags&flagShuffle != 0 && h.typesize > 1
	dst := make([]byte, h.nbytes)
	tmp := make([]byte, h.blocksize)

	for i := 0; i < nblocks; i++ {
		isLeftover := i == nblocks-1 && leftover > 0
		bsize := h.blocksize
		if isLeftover {
			bsize = leftover
		}
		start := int(binary.LittleEndian.Uint32(src[headerSize+4*i:]))
		out := dst[i*h.blocksize : i*h.blocksize+bsize]
		target := out
		if shuffled {
			target = tmp[:bsize]
		}

		nstreams := 1
		if h.flags&flagNoSplit == 0 && h.typesize <= maxSplits && bsize/h.typesize >= minBufferSize && !isLeftover {
			nstreams = h.typesize
		}
		if err := b.decodeBlock(src, start, target, nstreams, code); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		if shuffled {
			unshuffle(h.typesize, target, out)
		}
	}
	return dst, nil
}

func (b *Blosc) decodeBlock(src []byte, pos int, dst []byte, nstreams int, code byte) error {
	neblock := len(dst) / nstreams
	for j := 0; j < nstreams; j++ {
		if pos < headerSize || pos+4 > len(src) {
			return fmt.Errorf("%w: blosc stream offset %d out of range", domain.ErrFormat, pos)
		}
		csize := int(int32(binary.LittleEndian.Uint32(src[pos:])))
		pos += 4
		if csize <= 0 || pos+csize > len(src) {
			return fmt.Errorf("%w: blosc stream size %d out of range", domain.ErrFormat, csize)
		}
		out := dst[j*neblock : (j+1)*neblock]
		in := src[pos : pos+csize]
		pos += csize

		if csize == neblock {
			copy(out, in)
			continue
		}
		if err := b.decompressStream(code, in, out); err != nil {
			return err
		}
	}
	return nil
}

func (b *Blosc) decompressStream(code byte, in, out []byte) error {
	n, err := b.decodeStream(code, in, out)
	if err != nil {
		return err
	}
	if n != len(out) {
		return fmt.Errorf("%w: blosc stream decoded to %d bytes, want %d", domain.ErrFormat, n, len(out))
	}
	return nil
}

func (b *Blosc) decodeStream(code byte, in, out []byte) (int, error) {
	switch code {
	case codeZstd:
		res, err := b.zdec.DecodeAll(in, out[:0])
		if err != nil {
			return 0, fmt.Errorf("%w: zstd: %v", domain.ErrFormat, err)
		}
		if len(res) != len(out) {
			return len(res), nil
		}
		return copy(out, res), nil
	case codeLZ4:
		n, err := lz4.UncompressBlock(in, out)
		if err != nil {
			return 0, fmt.Errorf("%w: lz4: %v", domain.ErrFormat, err)
		}
		return n, nil
	case codeZlib:
		r, err := zlib.NewReader(bytes.NewReader(in))
		if err != nil {
			return 0, fmt.Errorf("%w: zlib: %v", domain.ErrFormat, err)
		}
		defer r.Close()
		n, err := io.ReadFull(r, out)
		if err != nil {
			return 0, fmt.Errorf("%w: zlib: %v", domain.ErrFormat, err)
		}
		return n, nil
	case codeSnappy:
		res, err := snappy.Decode(out, in)
		if err != nil {
			return 0, fmt.Errorf("%w: snappy: %v", domain.ErrFormat, err)
		}
		if len(res) != len(out) {
			return len(res), nil
		}
		return copy(out, res), nil
	default:
		return 0, fmt.Errorf("%w: blosc compressor code %d is not supported", domain.ErrFormat, code)
	}
}

// Compress encodes src as a blosc1 container. typesize is the element size
// used by the shuffle filter.
func (b *Blosc) Compress(src []byte, typesize int) ([]byte, error) {
	if typesize < 1 || typesize > 255 {
		return nil, fmt.Errorf("blosc: typesize %d out of range", typesize)
	}
	if len(src) > maxDecodedSize {
		return nil, fmt.Errorf("blosc: %d bytes exceeds the container limit", len(src))
	}
	if len(src) < minBufferSize {
		return memcpyed(src, typesize), nil
	}

	blocksize := defaultBlockSize - defaultBlockSize%typesize
	if len(src) < blocksize {
		blocksize = len(src)
	}
	nblocks := len(src) / blocksize
	if len(src)%blocksize > 0 {
		nblocks++
	}

	flags := byte(flagNoSplit) | b.code<<5
	shuffled := b.shuffle && typesize > 1
	if b.shuffle {
		flags |= flagShuffle
	}

	out := make([]byte, headerSize+4*nblocks, headerSize+4*nblocks+len(src)/2)
	tmp := make([]byte, blocksize)
	for i := 0; i < nblocks; i++ {
		block := src[i*blocksize : min((i+1)*blocksize, len(src))]
		if shuffled {
			shuffle(typesize, block, tmp[:len(block)])
			block = tmp[:len(block)]
		}
		binary.LittleEndian.PutUint32(out[headerSize+4*i:], uint32(len(out)))

		payload, err := b.compressStream(block)
		if err != nil {
			return nil, err
		}
		if len(payload) == 0 || len(payload) >= len(block) {
			payload = block
		}
		out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
		out = append(out, payload...)

		if len(out) > headerSize+len(src) {
			return memcpyed(src, typesize), nil
		}
	}

	writeHeader(out, flags, typesize, len(src), blocksize, len(out))
	return out, nil
}

func (b *Blosc) compressStream(block []byte) ([]byte, error) {
	switch b.cname {
	case CnameZstd:
		return b.zenc.EncodeAll(block, nil), nil
	case CnameLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(block)))
		n, err := lz4.CompressBlock(block, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("blosc: lz4: %w", err)
		}
		return buf[:n], nil
	case CnameZlib:
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, max(b.clevel, 1))
		if err != nil {
			return nil, fmt.Errorf("blosc: zlib: %w", err)
		}
		if _, err := w.Write(block); err != nil {
			return nil, fmt.Errorf("blosc: zlib: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("blosc: zlib: %w", err)
		}
		return buf.Bytes(), nil
	case CnameSnappy:
		return snappy.Encode(nil, block), nil
	default:
		return nil, fmt.Errorf("blosc: unsupported compressor %q", b.cname)
	}
}

func memcpyed(src []byte, typesize int) []byte {
	out := make([]byte, headerSize+len(src))
	copy(out[headerSize:], src)
	writeHeader(out, flagMemcpyed|flagNoSplit, typesize, len(src), len(src), len(out))
	return out
}

func writeHeader(out []byte, flags byte, typesize, nbytes, blocksize, cbytes int) {
	out[0] = formatVersion
	out[1] = codecVersion
	out[2] = flags
	out[3] = byte(typesize)
	binary.LittleEndian.PutUint32(out[4:], uint32(nbytes))
	binary.LittleEndian.PutUint32(out[8:], uint32(blocksize))
	binary.LittleEndian.PutUint32(out[12:], uint32(cbytes))
}
