package core

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking/internal/types"
)

func TestRecoverer(t *testing.T) {
	srv := newTestServer(t)

	t.Run("passes through", func(t *testing.T) {
		h := srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("panic becomes 500 envelope", func(t *testing.T) {
		h := srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(`boom "quoted"`)
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(types.WithRequestID(req.Context(), "req-42"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var resp APIErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, string(types.ErrCodeInternalUnexpected), resp.Error.Code)
		assert.Equal(t, "req-42", resp.Error.RequestID)
	})
}

func TestEscapeJSON(t *testing.T) {
	in := "a\"b\\c\nd\te\r"
	var out string
	require.NoError(t, json.Unmarshal([]byte(`"`+escapeJSON(in)+`"`), &out))
	assert.Equal(t, in, out)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := RequestLogger(logger, redactedHeaders)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/reservations", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	req.Header.Set("X-Driver-ID", "drv-1")
	req = req.WithContext(types.WithRequestID(req.Context(), "req-1"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	assert.NotContains(t, line, "topsecret")
	assert.NotContains(t, line, "v1=abc")
	assert.Contains(t, line, "[REDACTED]")
	assert.Contains(t, line, "drv-1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.EqualValues(t, 409, entry["status"])
	assert.Equal(t, "req-1", entry["request_id"])
}

func TestRequestLogger_RedactionIgnoresCase(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := RequestLogger(logger, []string{"AUTHORIZATION", "x-ops-token"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/plazas", nil)
	req.Header.Set("authorization", "Bearer lower-secret")
	req.Header.Set("X-Ops-Token", "ops-secret")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry struct {
		Level   string            `json:"level"`
		Headers map[string]string `json:"headers"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "[REDACTED]", entry.Headers["Authorization"])
	assert.Equal(t, "[REDACTED]", entry.Headers["X-Ops-Token"])
	assert.NotContains(t, buf.String(), "secret")
}

func TestRecoverer_CatchesPanicsBelowIt(t *testing.T) {
	srv := newTestServer(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	chain := Compress(srv.Recoverer(RequestLogger(logger, redactedHeaders)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler failed")
	}))))

	req := httptest.NewRequest(http.MethodGet, "/v1/plazas", nil)
	rec := httptest.NewRecorder()
	require.NotPanics(t, func() { chain.ServeHTTP(rec, req) })

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, string(types.ErrCodeInternalUnexpected))
	assert.NotContains(t, body, "handler failed")
}

func TestMetricsMiddleware(t *testing.T) {
	srv := newTestServer(t)
	metrics := &MockMetricsCollector{}
	srv.Metrics = metrics

	r := chi.NewRouter()
	r.Use(srv.MetricsMiddleware)
	r.Get("/v1/reservations/{code}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/reservations/RES-20250101-0001", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	got := metrics.Recorded()
	require.Len(t, got, 2)
	assert.Equal(t, "GET", got[0].Method)
	assert.Equal(t, "/v1/reservations/{code}", got[0].Endpoint)
	assert.Equal(t, "404", got[0].Status)
	assert.Equal(t, "unmatched", got[1].Endpoint)
}

func TestMetricsMiddleware_NoCollector(t *testing.T) {
	srv := newTestServer(t)
	called := false
	h := srv.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.SecurityHeadersMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("listed origin", func(t *testing.T) {
		h := NewCORSMiddleware([]string{"https://app.example.com"})(next)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", rec.Header().Get("Vary"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), HeaderDriverID)
	})

	t.Run("unlisted origin", func(t *testing.T) {
		h := NewCORSMiddleware([]string{"https://app.example.com"})(next)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard preflight", func(t *testing.T) {
		h := NewCORSMiddleware([]string{"*"})(next)
		req := httptest.NewRequest(http.MethodOptions, "/v1/reservations", nil)
		req.Header.Set("Origin", "https://any.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, rec.Header().Get("Vary"))
	})
}

func TestCompress(t *testing.T) {
	body := strings.Repeat(`{"plaza_number":5,"zone":"A"}`, 200)
	h := Compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))

	t.Run("gzip when accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
		zr, err := gzip.NewReader(rec.Body)
		require.NoError(t, err)
		plain, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Equal(t, body, string(plain))
	})

	t.Run("identity otherwise", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Empty(t, rec.Header().Get("Content-Encoding"))
		assert.Equal(t, body, rec.Body.String())
	})
}
