// Package domain models single-cell patches against a chunked HRRR-style
// gridded forecast dataset.
//
// # Dataset Layout
//
// Forecast runs are hour-stamped directories under a dataset root, named in
// RunLayout ("2006-01-02_15"). Each run holds one lead-time directory (fixed at
// "1" for the "now" store), then one directory per field, then one file per
// chunk:
//
//	<root>/2024-04-26_12/1/surface/TMP/17
//
// Field names may span several path segments ("surface/TMP").
//
// # Chunks
//
// A chunk file is a blosc container whose payload is a dense little-endian
// array of 150x150 cells per time slice. An "analysis" chunk holds one slice
// (shape 150x150); a forecast chunk stacks N slices (shape Nx150x150). The
// slice count is inferred from the decoded length and must divide evenly.
//
// # Addressing
//
// A (lat, lon) pair is projected with the HRRR Lambert Conformal Conic grid
// (sphere of radius 6371229 m, standard and central parallel 38.5°, central
// meridian 262.5°) and matched to the nearest point of the external chunk
// index, which gives a chunk id plus in_chunk_x / in_chunk_y offsets. The
// patched cell is grid[in_chunk_x, in_chunk_y]; stacked chunks also need an
// explicit time slice.
//
// # Failures
//
// Every core failure wraps one sentinel from errors.go. ErrorKind maps an
// error to a stable label for metrics and HTTP responses.
package domain
