package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/couchcryptid/grid-patch-service/internal/domain"
)

// maxUpdateBody bounds the size of a PUT /update request body.
const maxUpdateBody = 64 << 10

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so the first one listed runs first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type ctxKey int

const (
	updateKey ctxKey = iota
	subjectKey
)

// RequireBearer rejects requests without a valid HS256 bearer token signed
// with secret. With an empty secret it lets every request through.
func RequireBearer(secret []byte, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		if len(secret) == 0 {
			return next
		}
		parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", errors.New("missing bearer token"))
				return
			}
			token, err := parser.Parse(raw, func(*jwt.Token) (any, error) { return secret, nil })
			if err != nil || !token.Valid {
				logger.Warn("rejected bearer token", "error", err, "remote_addr", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "unauthorized", errors.New("invalid bearer token"))
				return
			}
			sub, _ := token.Claims.GetSubject()
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey, sub)))
		})
	}
}

// updateRequest is the wire form of a cell update. "long" and "datetime"
// are accepted as older spellings of "lon" and "forecast_timestamp".
type updateRequest struct {
	Lat               *float64 `json:"lat"`
	Lon               *float64 `json:"lon"`
	Long              *float64 `json:"long"`
	Field             string   `json:"field"`
	ForecastTimestamp string   `json:"forecast_timestamp"`
	Datetime          string   `json:"datetime"`
	Value             *float64 `json:"value"`
	Slice             *int     `json:"slice"`
}

func (r updateRequest) toUpdate() (domain.CellUpdate, error) {
	lon := r.Lon
	if lon == nil {
		lon = r.Long
	}
	ts := r.ForecastTimestamp
	if ts == "" {
		ts = r.Datetime
	}
	switch {
	case r.Lat == nil:
		return domain.CellUpdate{}, fmt.Errorf("%w: lat is required", domain.ErrInvalidUpdate)
	case lon == nil:
		return domain.CellUpdate{}, fmt.Errorf("%w: lon is required", domain.ErrInvalidUpdate)
	case r.Value == nil:
		return domain.CellUpdate{}, fmt.Errorf("%w: value is required", domain.ErrInvalidUpdate)
	}
	u := domain.CellUpdate{
		Lat:               *r.Lat,
		Lon:               *lon,
		Field:             r.Field,
		ForecastTimestamp: ts,
		Value:             *r.Value,
		Slice:             r.Slice,
	}
	return u, u.Validate()
}

// ValidateUpdate decodes and validates the JSON cell update in the request
// body, answering 400 on failure. The handler reads it with updateFrom.
func ValidateUpdate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req updateRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBody))
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, domain.ErrorKind(domain.ErrInvalidUpdate), fmt.Errorf("decode body: %w", err))
			return
		}
		u, err := req.toUpdate()
		if err != nil {
			writeError(w, http.StatusBadRequest, domain.ErrorKind(err), err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), updateKey, u)))
	})
}

func updateFrom(ctx context.Context) (domain.CellUpdate, bool) {
	u, ok := ctx.Value(updateKey).(domain.CellUpdate)
	return u, ok
}

func subjectFrom(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey).(string)
	return s
}
