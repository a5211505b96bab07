package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/couchcryptid/grid-patch-service/internal/domain"
	"github.com/couchcryptid/grid-patch-service/internal/patch"
)

// UpdateApplier applies one validated cell update.
type UpdateApplier interface {
	Apply(ctx context.Context, u domain.CellUpdate) (patch.Result, error)
}

type updateResponse struct {
	Status   string       `json:"status"`
	ChunkID  int          `json:"chunk_id"`
	InChunkX int          `json:"in_chunk_x"`
	InChunkY int          `json:"in_chunk_y"`
	Slice    *int         `json:"slice,omitempty"`
	Shape    []int        `json:"shape"`
	Path     string       `json:"path"`
	OldValue domain.Value `json:"old_value"`
	NewValue domain.Value `json:"new_value"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func handleUpdate(updates UpdateApplier, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := updateFrom(r.Context())
		if !ok {
			writeError(w, http.StatusInternalServerError, "internal", errors.New("update not decoded"))
			return
		}

		res, err := updates.Apply(r.Context(), u)
		if err != nil {
			status := statusFor(err)
			log := logger.Warn
			if status >= http.StatusInternalServerError {
				log = logger.Error
			}
			log("cell update failed",
				"field", u.Field,
				"forecast_timestamp", u.ForecastTimestamp,
				"subject", subjectFrom(r.Context()),
				"error", err,
			)
			writeError(w, status, domain.ErrorKind(err), err)
			return
		}

		writeJSON(w, http.StatusOK, updateResponse{
			Status:   "updated",
			ChunkID:  res.Entry.ChunkID,
			InChunkX: res.Entry.InChunkX,
			InChunkY: res.Entry.InChunkY,
			Slice:    res.Cell.Slice,
			Shape:    res.Shape,
			Path:     res.Location.Path,
			OldValue: domain.Value(res.OldValue),
			NewValue: domain.Value(res.NewValue),
		})
	})
}

// statusFor maps a failure kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidUpdate), errors.Is(err, domain.ErrSliceRequired):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrLookupUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		// ErrWriteFailure, ErrAmbiguousRun and anything unclassified.
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}
