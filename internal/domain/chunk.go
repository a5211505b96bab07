package domain

import (
	"fmt"
	"time"
)

// ChunkSide is the fixed edge length of every chunk slice, in cells.
const ChunkSide = 150

// ChunkCells is the number of cells in one 150x150 chunk slice.
const ChunkCells = ChunkSide * ChunkSide

// RunLayout is the directory-name layout of a forecast run, hour granularity.
const RunLayout = "2006-01-02_15"

// ChunkIndexEntry is one cell of the external chunk-index table: the chunk
// that stores a projected grid point and the point's offset inside it.
type ChunkIndexEntry struct {
	ChunkID  int     `json:"chunk_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	InChunkX int     `json:"in_chunk_x"`
	InChunkY int     `json:"in_chunk_y"`
}

// Cell is the in-chunk offset targeted by a patch. Row indexes the first grid
// axis and Col the second; Slice selects the time slice of a stacked chunk.
type Cell struct {
	Row   int  `json:"row"`
	Col   int  `json:"col"`
	Slice *int `json:"slice,omitempty"`
}

// CellFromEntry builds the patch target for an index entry. The first grid
// axis is addressed by in_chunk_x and the second by in_chunk_y.
func CellFromEntry(e ChunkIndexEntry, slice *int) Cell {
	return Cell{Row: e.InChunkX, Col: e.InChunkY, Slice: slice}
}

// ChunkKey identifies one stored chunk: a forecast run, a field and a chunk id.
// It is the scope of per-chunk mutual exclusion.
type ChunkKey struct {
	Run     time.Time `json:"run"`
	Field   string    `json:"field"`
	ChunkID int       `json:"chunk_id"`
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Run.Format(RunLayout), k.Field, k.ChunkID)
}

// ChunkLocation is a resolved chunk: its key and the file that stores it.
type ChunkLocation struct {
	Key  ChunkKey
	Path string
}

// ParseRun parses a forecast-run timestamp in RunLayout, in UTC.
func ParseRun(s string) (time.Time, error) {
	t, err := time.ParseInLocation(RunLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: forecast timestamp %q: want YYYY-MM-DD_HH", ErrInvalidUpdate, s)
	}
	return t, nil
}
