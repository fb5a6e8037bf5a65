package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// IdempotencyKeyHeader carries the client-chosen key of a mutating request
const IdempotencyKeyHeader = "X-Idempotency-Key"

// IdempotencyResult represents a cached response
type IdempotencyResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Timestamp  time.Time
}

// IdempotencyMiddleware replays the response of a successful mutating request
// when the same idempotency key is sent again, so a retried sync or delete is
// not passed through to the controller twice
type IdempotencyMiddleware struct {
	logger *zap.Logger
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]*IdempotencyResult
}

// NewIdempotencyMiddleware creates a new idempotency middleware
func NewIdempotencyMiddleware(logger *zap.Logger, ttl time.Duration) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		logger: logger,
		ttl:    ttl,
		cache:  make(map[string]*IdempotencyResult),
	}
}

// Middleware returns the idempotency middleware handler
func (im *IdempotencyMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		cacheKey := generateCacheKey(r, key)
		if result := im.get(cacheKey, time.Now()); result != nil {
			im.logger.Debug("Serving cached idempotent response",
				zap.String("idempotency_key", key),
				zap.String("request_id", middleware.GetReqID(r.Context())))
			for k, v := range result.Header {
				w.Header()[k] = v
			}
			w.Header().Set("X-Idempotency-Cache", "HIT")
			w.WriteHeader(result.StatusCode)
			w.Write(result.Body)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		var body bytes.Buffer
		ww.Tee(&body)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if status >= 200 && status < 300 {
			im.put(cacheKey, &IdempotencyResult{
				StatusCode: status,
				Header:     w.Header().Clone(),
				Body:       body.Bytes(),
				Timestamp:  time.Now(),
			})
			im.logger.Debug("Cached idempotent response",
				zap.String("idempotency_key", key),
				zap.Int("status_code", status),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}
	})
}

func generateCacheKey(r *http.Request, key string) string {
	sum := sha256.Sum256([]byte(r.Method + ":" + r.URL.Path + ":" + key))
	return hex.EncodeToString(sum[:])
}

func (im *IdempotencyMiddleware) get(cacheKey string, now time.Time) *IdempotencyResult {
	im.mu.RLock()
	defer im.mu.RUnlock()

	result, ok := im.cache[cacheKey]
	if !ok || now.Sub(result.Timestamp) > im.ttl {
		return nil
	}
	return result
}

func (im *IdempotencyMiddleware) put(cacheKey string, result *IdempotencyResult) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.cache[cacheKey] = result
}

// Cleanup removes expired entries every interval until ctx ends
func (im *IdempotencyMiddleware) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			im.prune(now)
		}
	}
}

func (im *IdempotencyMiddleware) prune(now time.Time) {
	im.mu.Lock()
	defer im.mu.Unlock()

	for key, result := range im.cache {
		if now.Sub(result.Timestamp) > im.ttl {
			delete(im.cache, key)
		}
	}
	im.logger.Debug("Idempotency cache cleanup completed", zap.Int("remaining_entries", len(im.cache)))
}
