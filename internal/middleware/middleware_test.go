package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRouteLabel(t *testing.T) {
	var got string
	capture := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			got = routeLabel(r)
		})
	}
	ok := func(w http.ResponseWriter, r *http.Request) {}

	router := chi.NewRouter()
	router.Use(capture)
	router.Get("/healthz", ok)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/snapshot", ok)
		r.Route("/applications/{name}", func(r chi.Router) {
			r.Delete("/", ok)
			r.Post("/sync", ok)
		})
	})

	tests := []struct {
		method   string
		path     string
		expected string
	}{
		{http.MethodGet, "/healthz", "/healthz"},
		{http.MethodGet, "/api/v1/snapshot", "/api/v1/snapshot"},
		{http.MethodPost, "/api/v1/applications/guestbook/sync", "/api/v1/applications/{name}/sync"},
		{http.MethodPost, "/api/v1/applications/other/sync", "/api/v1/applications/{name}/sync"},
		{http.MethodDelete, "/api/v1/applications/guestbook", "/api/v1/applications/{name}"},
		{http.MethodGet, "/wp-admin/a1", unmatchedRoute},
		{http.MethodGet, "/wp-admin/a2", unmatchedRoute},
		{http.MethodGet, "/api/v1/snapshot/x9f3", unmatchedRoute},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			got = ""
			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRouteLabelWithoutRouter(t *testing.T) {
	assert.Equal(t, unmatchedRoute, routeLabel(httptest.NewRequest(http.MethodGet, "/anything", nil)))
}

func TestRequestIDResponseMiddleware(t *testing.T) {
	handler := chimiddleware.RequestID(RequestIDResponseMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter("test", 1, 2, zaptest.NewLogger(t))
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1002"))
	// another client has its own budget
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1000"))

	rl.prune(time.Now().Add(2 * limiterIdleTTL))
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1003"))
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter("test", 0, 0, zaptest.NewLogger(t))
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiterCleanupStops(t *testing.T) {
	rl := NewRateLimiter("test", 10, 1, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.Cleanup(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not stop")
	}
}

func TestETagMiddleware(t *testing.T) {
	body := `{"state":"live"}`
	handler := NewETagMiddleware(zaptest.NewLogger(t)).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil)
	req.Header.Set("If-None-Match", `"stale"`)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestETagSkipsErrors(t *testing.T) {
	handler := NewETagMiddleware(zaptest.NewLogger(t)).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, rec.Header().Get("ETag"))
	assert.Equal(t, "not ready", rec.Body.String())
}

func TestEtagMatches(t *testing.T) {
	assert.True(t, etagMatches(`"abc"`, `"abc"`))
	assert.True(t, etagMatches(`"x", W/"abc"`, `"abc"`))
	assert.True(t, etagMatches(`*`, `"abc"`))
	assert.False(t, etagMatches(``, `"abc"`))
	assert.False(t, etagMatches(`"abd"`, `"abc"`))
}

func TestIdempotencyMiddleware(t *testing.T) {
	var calls atomic.Int32
	im := NewIdempotencyMiddleware(zaptest.NewLogger(t), time.Minute)
	handler := im.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"ok":true}`))
	}))

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/applications/guestbook/sync", strings.NewReader("{}"))
		if key != "" {
			req.Header.Set(IdempotencyKeyHeader, key)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send("k1")
	assert.Equal(t, http.StatusAccepted, first.Code)

	second := send("k1")
	assert.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, `{"ok":true}`, second.Body.String())
	assert.Equal(t, "HIT", second.Header().Get("X-Idempotency-Cache"))
	assert.Equal(t, int32(1), calls.Load())

	send("k2")
	send("")
	send("")
	assert.Equal(t, int32(4), calls.Load())

	im.prune(time.Now().Add(2 * time.Minute))
	send("k1")
	assert.Equal(t, int32(5), calls.Load())
}

func TestIdempotencyIgnoresFailures(t *testing.T) {
	var calls atomic.Int32
	handler := NewIdempotencyMiddleware(zaptest.NewLogger(t), time.Minute).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/applications/guestbook", nil)
		req.Header.Set(IdempotencyKeyHeader, "k1")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		status   int
		expected string
	}{
		{"plain", "[validation] application name is required", http.StatusBadRequest, "[validation] application name is required"},
		{"url", `[transport] request failed: Get "https://argocd.internal/api/v1/applications": timeout`, http.StatusGatewayTimeout, GenericErrorMessage(http.StatusGatewayTimeout)},
		{"credentials", "[authentication] session token rejected", http.StatusUnauthorized, GenericErrorMessage(http.StatusUnauthorized)},
		{"multiline", "[api] request rejected\nstack", http.StatusBadGateway, "[api] request rejected"},
		{"too short", "x", http.StatusInternalServerError, GenericErrorMessage(http.StatusInternalServerError)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeErrorMessage(tt.message, tt.status))
		})
	}

	long := SanitizeErrorMessage(strings.Repeat("a", 300), http.StatusBadGateway)
	assert.Len(t, long, maxClientMessage+3)
}
