package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/grid-patch-service/internal/adapter/http"
	"github.com/couchcryptid/grid-patch-service/internal/domain"
	"github.com/couchcryptid/grid-patch-service/internal/patch"
)

const (
	testSecret = "hrrr-test-secret"
	validBody  = `{"lat":40.0,"lon":262.0,"field":"surface/TMP","forecast_timestamp":"2024-01-02_03","value":301.5}`
)

type stubApplier struct {
	got []domain.CellUpdate
	res patch.Result
	err error
}

func (s *stubApplier) Apply(_ context.Context, u domain.CellUpdate) (patch.Result, error) {
	s.got = append(s.got, u)
	return s.res, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sign(t *testing.T, secret string, method jwt.SigningMethod, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   "field-ops",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func doUpdate(srv http.Handler, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPut, "/update", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func successResult() patch.Result {
	return patch.Result{
		Entry:    domain.ChunkIndexEntry{ChunkID: 14, InChunkX: 10, InChunkY: 20},
		Location: domain.ChunkLocation{Path: "/data/2024-01-02_03/1/surface/TMP/14"},
		Cell:     domain.Cell{Row: 10, Col: 20},
		Shape:    []int{150, 150},
		OldValue: 299.2,
		NewValue: 301.5,
	}
}

func TestUpdate_Success(t *testing.T) {
	applier := &stubApplier{res: successResult()}
	srv := httpadapter.NewServer(":0", &mockReadiness{}, applier, "", discardLogger())

	rec := doUpdate(srv, validBody, "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{
		"status": "updated",
		"chunk_id": 14,
		"in_chunk_x": 10,
		"in_chunk_y": 20,
		"shape": [150, 150],
		"path": "/data/2024-01-02_03/1/surface/TMP/14",
		"old_value": 299.2,
		"new_value": 301.5
	}`, rec.Body.String())

	require.Len(t, applier.got, 1)
	assert.Equal(t, domain.CellUpdate{
		Lat: 40, Lon: 262, Field: "surface/TMP", ForecastTimestamp: "2024-01-02_03", Value: 301.5,
	}, applier.got[0])
}

func TestUpdate_LegacyFieldNames(t *testing.T) {
	applier := &stubApplier{res: successResult()}
	srv := httpadapter.NewServer(":0", &mockReadiness{}, applier, "", discardLogger())

	body := `{"lat":40.0,"long":-98.0,"field":"surface/TMP","datetime":"2024-01-02_03","value":301.5,"slice":2}`
	rec := doUpdate(srv, body, "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, applier.got, 1)
	assert.Equal(t, -98.0, applier.got[0].Lon)
	assert.Equal(t, "2024-01-02_03", applier.got[0].ForecastTimestamp)
	require.NotNil(t, applier.got[0].Slice)
	assert.Equal(t, 2, *applier.got[0].Slice)
}

func TestUpdate_NaNOldValue(t *testing.T) {
	res := successResult()
	res.OldValue = math.NaN()
	srv := httpadapter.NewServer(":0", &mockReadiness{}, &stubApplier{res: res}, "", discardLogger())

	rec := doUpdate(srv, validBody, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Nil(t, body["old_value"])
}

func TestUpdate_ValidationErrors(t *testing.T) {
	tests := map[string]string{
		"malformed json":   `{"lat":`,
		"missing lat":      `{"lon":262,"field":"surface/TMP","forecast_timestamp":"2024-01-02_03","value":1}`,
		"missing value":    `{"lat":40,"lon":262,"field":"surface/TMP","forecast_timestamp":"2024-01-02_03"}`,
		"missing field":    `{"lat":40,"lon":262,"forecast_timestamp":"2024-01-02_03","value":1}`,
		"bad timestamp":    `{"lat":40,"lon":262,"field":"surface/TMP","forecast_timestamp":"2024-01-02T03:00","value":1}`,
		"escaping field":   `{"lat":40,"lon":262,"field":"../../etc","forecast_timestamp":"2024-01-02_03","value":1}`,
		"lat out of range": `{"lat":91,"lon":262,"field":"surface/TMP","forecast_timestamp":"2024-01-02_03","value":1}`,
		"negative slice":   `{"lat":40,"lon":262,"field":"surface/TMP","forecast_timestamp":"2024-01-02_03","value":1,"slice":-1}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			applier := &stubApplier{}
			srv := httpadapter.NewServer(":0", &mockReadiness{}, applier, "", discardLogger())

			rec := doUpdate(srv, body, "")

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, applier.got, "invalid update must not reach the service")

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "invalid_update", resp["kind"])
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestUpdate_StatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
		kind string
	}{
		{domain.ErrNotFound, http.StatusNotFound, "not_found"},
		{domain.ErrFormat, http.StatusUnprocessableEntity, "format_error"},
		{domain.ErrLookupUnavailable, http.StatusServiceUnavailable, "lookup_unavailable"},
		{domain.ErrWriteFailure, http.StatusInternalServerError, "write_failure"},
		{domain.ErrConcurrencyConflict, http.StatusConflict, "concurrency_conflict"},
		{domain.ErrTimeout, http.StatusGatewayTimeout, "timeout"},
		{domain.ErrSliceRequired, http.StatusBadRequest, "slice_required"},
		{domain.ErrAmbiguousRun, http.StatusInternalServerError, "ambiguous_run"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			err := fmt.Errorf("apply: %w", tt.err)
			srv := httpadapter.NewServer(":0", &mockReadiness{}, &stubApplier{err: err}, "", discardLogger())

			rec := doUpdate(srv, validBody, "")

			assert.Equal(t, tt.code, rec.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.kind, resp["kind"])
		})
	}
}

func TestUpdate_RequireBearer(t *testing.T) {
	future := time.Now().Add(time.Hour)
	tests := []struct {
		name  string
		token string
		code  int
	}{
		{name: "valid", token: sign(t, testSecret, jwt.SigningMethodHS256, future), code: http.StatusOK},
		{name: "missing", token: "", code: http.StatusUnauthorized},
		{name: "garbage", token: "not-a-jwt", code: http.StatusUnauthorized},
		{name: "wrong secret", token: sign(t, "other-secret", jwt.SigningMethodHS256, future), code: http.StatusUnauthorized},
		{name: "wrong algorithm", token: sign(t, testSecret, jwt.SigningMethodHS512, future), code: http.StatusUnauthorized},
		{name: "expired", token: sign(t, testSecret, jwt.SigningMethodHS256, time.Now().Add(-time.Hour)), code: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := &stubApplier{res: successResult()}
			srv := httpadapter.NewServer(":0", &mockReadiness{}, applier, testSecret, discardLogger())

			rec := doUpdate(srv, validBody, tt.token)

			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.code != http.StatusOK {
				assert.Empty(t, applier.got)
			}
		})
	}
}

func TestUpdate_AuthRunsBeforeValidation(t *testing.T) {
	srv := httpadapter.NewServer(":0", &mockReadiness{}, &stubApplier{}, testSecret, discardLogger())

	rec := doUpdate(srv, `{"lat":`, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) httpadapter.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := httpadapter.Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mw("first"), mw("second"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"first", "second", "handler"}, order)
}
