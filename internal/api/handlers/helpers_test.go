package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"parking/internal/core"
	"parking/internal/types"
)

// =============================================================================
// Test Helpers
// =============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testValidator() *core.Validator {
	return core.NewValidator(testLogger())
}

type routeRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// newRouter mounts h under /v1 the way core.MountRoutes does.
func newRouter(h routeRegistrar) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", h.RegisterRoutes)
	return r
}

func driverCtx(id string) context.Context {
	return types.WithActor(context.Background(), types.Actor{ID: id, Type: types.ActorTypeDriver, Source: "mobile_app"})
}

func ownerCtx(id string) context.Context {
	return types.WithActor(context.Background(), types.Actor{ID: id, Type: types.ActorTypeOwner, Source: "default"})
}

// do executes a request against h. ctx may be nil.
func do(t *testing.T, h http.Handler, ctx context.Context, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		buf = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	if buf != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// decodeData unmarshals the success envelope's data into out.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, out))
}

// errorCode returns the code of an error envelope.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error.Code
}

// denyOps rejects every request, standing in for RequireOps without a token.
func denyOps(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing", nil))
	})
}

type mockPaymentMetrics struct {
	statuses []types.PaymentStatus
	changed  []bool
}

func (m *mockPaymentMetrics) RecordPaymentOutcome(status types.PaymentStatus, changed bool) {
	m.statuses = append(m.statuses, status)
	m.changed = append(m.changed, changed)
}
