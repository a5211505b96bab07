// Command chunkinspect decodes one stored forecast chunk and prints its shape,
// summary statistics and the value of a single cell. With -set it patches that
// cell in place using the same read-modify-write path as the service.
//
// Usage:
//
//	go run ./cmd/chunkinspect \
//	  -chunk ../dataStore/now/2024-01-02_03/1/surface/TMP/14 \
//	  -row 10 -col 20 [-slice 0] [-dtype <f4] [-set 301.5] [-timeout 10s]
//
// -set takes a lock that only exists inside this process. Do not use it while
// gridpatch is serving the same dataset: the two writers do not see each
// other and one update can overwrite the other.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/couchcryptid/grid-patch-service/internal/codec"
	"github.com/couchcryptid/grid-patch-service/internal/domain"
	"github.com/couchcryptid/grid-patch-service/internal/observability"
	"github.com/couchcryptid/grid-patch-service/internal/patch"
	"github.com/couchcryptid/grid-patch-service/internal/store"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

type options struct {
	chunk   string
	dtype   codec.Dtype
	row     int
	col     int
	slice   *int
	set     *float64
	level   int
	timeout time.Duration
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("chunkinspect", flag.ContinueOnError)
	chunk := fs.String("chunk", "", "path to a blosc-compressed chunk file")
	dtype := fs.String("dtype", "<f4", "element dtype of the chunk (<f4, <f8, <i2, |u1, ...)")
	row := fs.Int("row", 0, "in-chunk row (first axis, in_chunk_x)")
	col := fs.Int("col", 0, "in-chunk column (second axis, in_chunk_y)")
	slice := fs.Int("slice", -1, "time slice of a stacked chunk; -1 for none")
	set := fs.String("set", "", "new value for the cell; the chunk is rewritten when set")
	level := fs.Int("level", 3, "zstd compression level used when rewriting")
	timeout := fs.Duration("timeout", 10*time.Second, "bound on reading and rewriting the chunk")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if *chunk == "" {
		fs.Usage()
		return options{}, errors.New("missing required flag: -chunk")
	}

	if *timeout <= 0 {
		return options{}, errors.New("invalid -timeout: must be positive")
	}

	opts := options{chunk: *chunk, row: *row, col: *col, level: *level, timeout: *timeout}
	dt, err := codec.ParseDtype(*dtype)
	if err != nil {
		return options{}, err
	}
	opts.dtype = dt
	if *slice >= 0 {
		opts.slice = slice
	}
	if *set != "" {
		v, err := strconv.ParseFloat(*set, 64)
		if err != nil {
			return options{}, fmt.Errorf("invalid -set value %q: %w", *set, err)
		}
		opts.set = &v
	}
	return opts, nil
}

func run(args []string, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	blosc, err := codec.NewBlosc(codec.CnameZstd, opts.level, true)
	if err != nil {
		return err
	}
	defer blosc.Close()
	c := codec.New(blosc)

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	data, err := store.ReadChunk(ctx, opts.chunk)
	cancel()
	if err != nil {
		return err
	}
	g, err := c.Decode(data, opts.dtype)
	if err != nil {
		return err
	}
	describe(out, opts.chunk, len(data), g)

	sl := 0
	if opts.slice != nil {
		sl = *opts.slice
	}
	v, err := g.At(sl, opts.row, opts.col)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "cell[%d][%d][%d] = %s\n", sl, opts.row, opts.col, formatValue(v))

	if opts.set == nil {
		return nil
	}

	patcher := patch.NewPatcher(c, codec.NewDtypeTable(opts.dtype, nil), opts.timeout,
		observability.NewLogger("warn", "text"), observability.NewMetricsForTesting())
	loc := domain.ChunkLocation{
		Key:  domain.ChunkKey{Field: filepath.Base(filepath.Dir(opts.chunk))},
		Path: opts.chunk,
	}
	if id, err := strconv.Atoi(filepath.Base(opts.chunk)); err == nil {
		loc.Key.ChunkID = id
	}
	res, err := patcher.Patch(context.Background(), loc, domain.Cell{Row: opts.row, Col: opts.col, Slice: opts.slice}, *opts.set)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "patched: %s -> %s\n", formatValue(res.OldValue), formatValue(res.NewValue))
	return nil
}

func describe(out io.Writer, path string, size int, g *codec.Grid) {
	lo, hi := math.Inf(1), math.Inf(-1)
	nans := 0
	for _, v := range g.Values() {
		if math.IsNaN(v) {
			nans++
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	fmt.Fprintf(out, "chunk:  %s (%d bytes compressed)\n", path, size)
	fmt.Fprintf(out, "dtype:  %s\n", g.Dtype())
	fmt.Fprintf(out, "shape:  %v\n", g.Shape())
	if nans == g.Len() {
		fmt.Fprintf(out, "range:  all NaN\n")
		return
	}
	fmt.Fprintf(out, "range:  [%s, %s], %d NaN\n", formatValue(lo), formatValue(hi), nans)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
