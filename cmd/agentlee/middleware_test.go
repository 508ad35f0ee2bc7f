package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leesite/agentlee/api/handlers"
	"github.com/leesite/agentlee/types"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp handlers.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	handler := Chain(okHandler(), SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get(handlers.RequestIDHeader))
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get(handlers.RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(handlers.RequestIDHeader, "req-42")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, "req-42", seen)
		assert.Equal(t, "req-42", w.Header().Get(handlers.RequestIDHeader))
	})
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, RequestIDFromContext(r.Context()))
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(okHandler(), mark("a"), mark("b"), mark("c"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRecovery(t *testing.T) {
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), RequestID(), Recovery(zap.NewNop()))

	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ask", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(types.ErrInternalError), errorCode(t, w))
}

func TestRequestLogger_PassesThrough(t *testing.T) {
	handler := RequestLogger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}

type recordedRequest struct {
	method, path string
	status       int
	respSize     int64
}

type fakeRecorder struct {
	calls []recordedRequest
}

func (f *fakeRecorder) RecordHTTPRequest(method, path string, status int, _ time.Duration, _, respSize int64) {
	f.calls = append(f.calls, recordedRequest{method: method, path: path, status: status, respSize: respSize})
}

func TestMetricsMiddleware(t *testing.T) {
	rec := &fakeRecorder{}
	handler := MetricsMiddleware(rec)(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/users/visitor-1/history", nil))

	require.Len(t, rec.calls, 1)
	assert.Equal(t, recordedRequest{
		method:   http.MethodGet,
		path:     "/api/v1/users/:id/history",
		status:   http.StatusOK,
		respSize: 2,
	}, rec.calls[0])
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/api/v1/ask", "/api/v1/ask"},
		{"/api/v1/memories/search", "/api/v1/memories/search"},
		{"/api/v1/users/abc/profile", "/api/v1/users/:id/profile"},
		{"/api/v1/users/abc", "/api/v1/users/:id"},
		{"/api/v1/a/b/c/d", "other"},
		{"/wp-login.php", "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.path), tt.path)
	}
}

func TestOTelTracing_PassesThrough(t *testing.T) {
	handler := OTelTracing()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	auth := NewAPIKeyAuth([]string{"secret"}, handlers.AdminPaths, zap.NewNop())
	handler := auth.Middleware()(okHandler())

	tests := []struct {
		name   string
		path   string
		header string
		value  string
		want   int
	}{
		{"public endpoint without key", "/api/v1/ask", "", "", http.StatusOK},
		{"admin without key", "/api/v1/teach", "", "", http.StatusUnauthorized},
		{"admin with wrong key", "/api/v1/teach", "X-API-Key", "nope", http.StatusUnauthorized},
		{"admin with header key", "/api/v1/teach", "X-API-Key", "secret", http.StatusOK},
		{"admin with bearer", "/api/v1/reset", "Authorization", "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, string(types.ErrUnauthorized), errorCode(t, w))
			}
		})
	}
}

func TestAPIKeyAuth_SetKeys(t *testing.T) {
	auth := NewAPIKeyAuth(nil, handlers.AdminPaths, zap.NewNop())
	handler := auth.Middleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/reset", nil))
	assert.Equal(t, http.StatusOK, w.Code, "no keys configured leaves admin open")

	auth.SetKeys([]string{" rotated ", ""})

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/reset", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/reset", nil)
	r.Header.Set("X-API-Key", "rotated")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	cors := NewCORS([]string{"https://leesite.example"})
	handler := cors.Middleware()(okHandler())

	t.Run("allowed origin", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/greeting", nil)
		r.Header.Set("Origin", "https://leesite.example")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, "https://leesite.example", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", w.Header().Get("Vary"))
	})

	t.Run("unknown origin", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/greeting", nil)
		r.Header.Set("Origin", "https://evil.example")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("preflight", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/api/v1/ask", nil)
		r.Header.Set("Origin", "https://leesite.example")
		r.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("rejected preflight", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/api/v1/ask", nil)
		r.Header.Set("Origin", "https://evil.example")
		r.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("wildcard after reload", func(t *testing.T) {
		cors.SetOrigins([]string{"*"})
		r := httptest.NewRequest(http.MethodGet, "/api/v1/greeting", nil)
		r.Header.Set("Origin", "https://evil.example")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRateLimiter(t *testing.T) {
	var rejected atomic.Int32
	limiter := NewRateLimiter(1, 2, func() { rejected.Add(1) }, zap.NewNop())
	handler := limiter.Middleware()(okHandler())

	send := func(path, addr string) int {
		r := httptest.NewRequest(http.MethodPost, path, nil)
		r.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("/api/v1/ask", "10.0.0.1:1234"))
	assert.Equal(t, http.StatusOK, send("/api/v1/ask", "10.0.0.1:1235"))
	assert.Equal(t, http.StatusTooManyRequests, send("/api/v1/ask", "10.0.0.1:1236"))
	assert.Equal(t, int32(1), rejected.Load())

	assert.Equal(t, http.StatusOK, send("/api/v1/ask", "10.0.0.2:1234"), "other clients have their own bucket")
	assert.Equal(t, http.StatusOK, send("/health", "10.0.0.1:1237"), "health checks are not limited")
}

func TestRateLimiter_SetLimits(t *testing.T) {
	limiter := NewRateLimiter(1, 1, nil, zap.NewNop())
	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))

	limiter.SetLimits(1000, 100)
	time.Sleep(10 * time.Millisecond)
	assert.True(t, limiter.Allow("a"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter := NewRateLimiter(10, 10, nil, zap.NewNop())
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow("stale")
	now = now.Add(10 * time.Minute)
	limiter.Allow("fresh")

	assert.Equal(t, 1, limiter.Cleanup())
	assert.Len(t, limiter.visitors, 1)
	assert.Contains(t, limiter.visitors, "fresh")
}
