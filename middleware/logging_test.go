package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/garvis/router/internal/observability"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type observedRequest struct {
	method string
	route  string
	status int
}

type recordingHTTPMetrics struct {
	mu       sync.Mutex
	requests []observedRequest
}

func (m *recordingHTTPMetrics) ObserveHTTP(method, route string, status int, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, observedRequest{method: method, route: route, status: status})
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	metrics := &recordingHTTPMetrics{}

	r := chi.NewRouter()
	r.Use(RequestLogger(zap.New(core), metrics))
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fine"))
	})

	for _, path := range []string{"/items/42", "/ok"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Len(t, metrics.requests, 2)
	assert.Equal(t, observedRequest{method: http.MethodGet, route: "/items/{id}", status: http.StatusTeapot}, metrics.requests[0])
	assert.Equal(t, observedRequest{method: http.MethodGet, route: "/ok", status: http.StatusOK}, metrics.requests[1])

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "/items/42", entries[0].ContextMap()["path"])
	assert.Equal(t, int64(http.StatusTeapot), entries[0].ContextMap()["status"])
}

func TestRequestLogger_NilMetrics(t *testing.T) {
	handler := RequestLogger(zap.NewNop(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestLogger_LogsAuthenticatedPrincipal(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	validator := new(MockTokenValidator)
	validator.On("ValidateToken", mock.Anything, "valid-token").Return(&Principal{Subject: "ops", Method: "static"}, nil)

	r := chi.NewRouter()
	r.Use(RequestLogger(zap.New(core), nil))
	r.Group(func(r chi.Router) {
		r.Use(NewAuthMiddleware(validator, zap.NewNop()).RequireAuth)
		r.Get("/private", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})
	r.Get("/public", func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/public", nil))

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "ops", entries[0].ContextMap()["principal"])
	assert.NotContains(t, entries[1].ContextMap(), "principal")
	validator.AssertExpectations(t)
}

func TestRequestLogger_ScopedLoggerCarriesRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RequestLogger(zap.New(core), nil))
	r.Get("/work", func(w http.ResponseWriter, r *http.Request) {
		observability.LoggerFrom(r.Context(), zap.NewNop()).Info("handler ran")
	})

	req := httptest.NewRequest(http.MethodGet, "/work", nil)
	req.Header.Set(chimw.RequestIDHeader, "req-abc")
	r.ServeHTTP(httptest.NewRecorder(), req)

	handlerEntries := logs.FilterMessage("handler ran").All()
	require.Len(t, handlerEntries, 1)
	assert.Equal(t, "req-abc", handlerEntries[0].ContextMap()["request_id"])

	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	assert.Equal(t, "req-abc", completed[0].ContextMap()["request_id"])
}
