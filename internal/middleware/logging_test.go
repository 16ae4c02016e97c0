package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func decodeLogEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "raw: %s", buf.String())
	return entry
}

func TestLoggingMiddleware_AnonymousRequest(t *testing.T) {
	logger, buf := newBufferLogger()
	h := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/login", nil))

	entry := decodeLogEntry(t, buf)
	assert.Equal(t, "http_request", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/login", entry["path"])
	assert.EqualValues(t, 200, entry["status"])
	assert.EqualValues(t, 5, entry["bytes"])
	assert.GreaterOrEqual(t, entry["duration_ms"].(float64), 0.0)
	assert.NotContains(t, entry, "user_id")
	assert.NotContains(t, entry, "workspace_id")
	assert.NotContains(t, entry, "request_id")
}

func TestLoggingMiddleware_SignedInRequest(t *testing.T) {
	logger, buf := newBufferLogger()
	h := chimw.RequestID(NewLoggingMiddleware(logger)(okHandler()))

	reg, srv := newTestRegistry(t)
	ws := signedInWorkspace(t, reg, srv, "parent@example.com", "user")
	h.ServeHTTP(httptest.NewRecorder(), withWorkspace(httptest.NewRequest(http.MethodGet, "/api/babies", nil), ws))

	entry := decodeLogEntry(t, buf)
	assert.Equal(t, "id-parent@example.com", entry["user_id"])
	assert.Equal(t, ws.ID, entry["workspace_id"])
	assert.NotEmpty(t, entry["request_id"])
}

func TestLoggingMiddleware_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusCreated, "INFO"},
		{http.StatusSeeOther, "INFO"},
		{http.StatusConflict, "WARN"},
		{http.StatusPreconditionRequired, "WARN"},
		{http.StatusBadGateway, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			logger, buf := newBufferLogger()
			h := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.WriteHeader(http.StatusTeapot)
			}))

			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/babies", nil))

			entry := decodeLogEntry(t, buf)
			assert.EqualValues(t, tt.status, entry["status"], "first status wins")
			assert.Equal(t, tt.level, entry["level"])
		})
	}
}

type statusCounter struct {
	codes []int
}

func (c *statusCounter) RecordHTTPStatus(code int) {
	c.codes = append(c.codes, code)
}

func TestMetricsMiddleware_RecordsStatus(t *testing.T) {
	counter := &statusCounter{}
	mw := NewMetricsMiddleware(counter)

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/babies", nil))
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, []int{http.StatusConflict, http.StatusOK, http.StatusOK}, counter.codes)
}

func TestRecoveryMiddleware_ReturnsUnifiedError(t *testing.T) {
	logger, buf := newBufferLogger()
	h := chimw.RequestID(NewRecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/babies", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INTERNAL_ERROR"`)

	entry := decodeLogEntry(t, buf)
	assert.Equal(t, "panic recovered", entry["msg"])
	assert.Equal(t, "boom", entry["panic"])
	assert.NotEmpty(t, entry["request_id"])
	assert.NotEmpty(t, entry["stack"])
}

func TestRecoveryMiddleware_RepanicsAbortHandler(t *testing.T) {
	logger, buf := newBufferLogger()
	h := NewRecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Zero(t, buf.Len())
}
