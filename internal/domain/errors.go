package domain

import "errors"

// Failure kinds surfaced by the patch core. Callers match them with errors.Is;
// every error returned from the core wraps exactly one of these.
var (
	// ErrLookupUnavailable means the chunk-index provider could not be reached
	// or returned no index data.
	ErrLookupUnavailable = errors.New("chunk index lookup unavailable")

	// ErrNotFound means no forecast-run directory matched the requested hour,
	// or the chunk file itself is missing.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousRun means more than one run directory parsed to the
	// requested hour.
	ErrAmbiguousRun = errors.New("ambiguous forecast run")

	// ErrFormat means a chunk buffer could not be decoded into whole 150x150 slices.
	ErrFormat = errors.New("chunk format error")

	// ErrWriteFailure means the re-encoded chunk could not be durably written.
	ErrWriteFailure = errors.New("chunk write failure")

	// ErrConcurrencyConflict means the per-chunk lock was not acquired in time.
	ErrConcurrencyConflict = errors.New("chunk is locked by another patch")

	// ErrTimeout means the patch deadline passed, or the caller gave up,
	// while the chunk was being read or written. The chunk keeps its
	// previous contents.
	ErrTimeout = errors.New("chunk I/O deadline exceeded")

	// ErrSliceRequired means a stacked (3-D) chunk was targeted without a valid
	// time-slice selector.
	ErrSliceRequired = errors.New("time slice selector required")

	// ErrInvalidUpdate means the inbound command failed validation.
	ErrInvalidUpdate = errors.New("invalid update")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrLookupUnavailable, "lookup_unavailable"},
	{ErrNotFound, "not_found"},
	{ErrAmbiguousRun, "ambiguous_run"},
	{ErrFormat, "format_error"},
	{ErrWriteFailure, "write_failure"},
	{ErrConcurrencyConflict, "concurrency_conflict"},
	{ErrTimeout, "timeout"},
	{ErrSliceRequired, "slice_required"},
	{ErrInvalidUpdate, "invalid_update"},
}

// ErrorKind returns a stable label for err, used for metrics and responses.
// It returns "ok" for nil and "internal" for errors outside the taxonomy.
func ErrorKind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
