package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	core "github.com/voxa-go/voxa/pkg/core"
)

// contextKey is a type for context keys.
type contextKey string

// ContextKeyRequestID is the context key for the request ID.
const ContextKeyRequestID contextKey = "request_id"

// LoggingMiddleware provides request logging.
type LoggingMiddleware struct {
	logger *slog.Logger
}

// NewLoggingMiddleware creates a new logging middleware.
func NewLoggingMiddleware(logger *slog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Log is the HTTP middleware handler.
func (l *LoggingMiddleware) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), ContextKeyRequestID, requestID)
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-ID", requestID)

		rw := NewResponseWriter(w)
		next.ServeHTTP(rw, r)

		if l.logger != nil {
			l.logger.Info("request completed",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.StatusCode,
				"bytes", rw.BytesWritten,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	})
}

// CORSMiddleware adds CORS headers.
type CORSMiddleware struct {
	allowedOrigins []string
}

// NewCORSMiddleware creates a new CORS middleware.
func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &CORSMiddleware{allowedOrigins: allowedOrigins}
}

// Handle is the HTTP middleware handler.
func (c *CORSMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := false
		for _, o := range c.allowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimiter caps minting requests per client address.
type RateLimiter struct {
	perMinute int
	metrics   *Metrics

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter creates a rate limiter allowing perMinute requests per
// client. 0 disables limiting.
func NewRateLimiter(perMinute int, metrics *Metrics) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		metrics:   metrics,
		buckets:   make(map[string]*tokenBucket),
	}
}

// Limit is the HTTP middleware handler.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.perMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		client := clientAddr(r)
		if !rl.allow(client) {
			if rl.metrics != nil {
				rl.metrics.RecordRateLimitHit()
			}
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, http.StatusTooManyRequests,
				core.NewUpstreamRejectedError("rate limit exceeded", http.StatusTooManyRequests, ""),
				requestIDFromContext(r.Context()))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, ok := rl.buckets[client]
	if !ok {
		bucket = &tokenBucket{tokens: rl.perMinute, lastRefill: time.Now()}
		rl.buckets[client] = bucket
	}

	now := time.Now()
	refill := int(now.Sub(bucket.lastRefill).Minutes() * float64(rl.perMinute))
	if refill > 0 {
		bucket.tokens += refill
		if bucket.tokens > rl.perMinute {
			bucket.tokens = rl.perMinute
		}
		bucket.lastRefill = now
	}

	if bucket.tokens <= 0 {
		return false
	}
	bucket.tokens--
	return true
}

// Cleanup removes stale buckets. Call periodically.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-5 * time.Minute)
	for client, bucket := range rl.buckets {
		if bucket.lastRefill.Before(cutoff) && bucket.tokens >= rl.perMinute {
			delete(rl.buckets, client)
		}
	}
}

// RecoveryMiddleware recovers from panics.
type RecoveryMiddleware struct {
	logger  *slog.Logger
	metrics *Metrics
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(logger *slog.Logger, metrics *Metrics) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: logger, metrics: metrics}
}

// Recover is the HTTP middleware handler.
func (rm *RecoveryMiddleware) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if rm.logger != nil {
					rm.logger.Error("panic recovered",
						"error", err,
						"path", r.URL.Path,
					)
				}
				if rm.metrics != nil {
					rm.metrics.RecordError("panic")
				}
				writeJSONError(w, http.StatusInternalServerError,
					core.NewTransportError("internal server error", nil),
					requestIDFromContext(r.Context()))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyRequestID).(string)
	return id
}

// errorEnvelope is the JSON error body shape.
type errorEnvelope struct {
	Error     *core.Error `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, err *core.Error, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{Error: err, RequestID: requestID})
}

var requestCounter uint64
var requestCounterMu sync.Mutex

func generateRequestID() string {
	requestCounterMu.Lock()
	requestCounter++
	count := requestCounter
	requestCounterMu.Unlock()
	return "req_" + time.Now().Format("20060102150405") + "_" + strconv.FormatUint(count, 10)
}
