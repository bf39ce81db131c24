package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mir00r/session-gateway/pkg/logger"
)

type contextKey string

const requestContextKey contextKey = "requestContext"

var requestCounter atomic.Uint64

// requestContext carries the per-request identifiers the logging and
// recovery middleware attach to every log line.
type requestContext struct {
	RequestID  string
	Method     string
	Path       string
	RemoteAddr string
}

// newRequestContext builds a requestContext for r, using a process-local
// monotonic counter instead of a UUID dependency the gateway has no other
// use for.
func newRequestContext(r *http.Request) *requestContext {
	id := requestCounter.Add(1)
	return &requestContext{
		RequestID:  fmt.Sprintf("%d-%d", time.Now().UnixNano(), id),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	}
}

func requestContextFrom(r *http.Request) *requestContext {
	if rc, ok := r.Context().Value(requestContextKey).(*requestContext); ok {
		return rc
	}
	return &requestContext{Method: r.Method, Path: r.URL.Path, RemoteAddr: r.RemoteAddr}
}

// responseRecorder captures the status code and body size a handler wrote,
// for the access log line.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	size       int64
}

func (rw *responseRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += int64(n)
	return n, err
}

// LoggingMiddleware logs one line per request: method, path, status, and
// duration, at a level that escalates with the response's status code.
func LoggingMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rc := newRequestContext(r)
			ctx := context.WithValue(r.Context(), requestContextKey, rc)
			r = r.WithContext(ctx)

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			entry := log.RequestLogger(rc.RequestID, rc.Method, rc.Path, rc.RemoteAddr).WithFields(map[string]interface{}{
				"status_code":   rec.statusCode,
				"duration_ms":   time.Since(start).Milliseconds(),
				"response_size": rec.size,
			})

			switch {
			case rec.statusCode >= 500:
				entry.Error("request completed")
			case rec.statusCode >= 400:
				entry.Warn("request completed")
			default:
				entry.Info("request completed")
			}
		})
	}
}

// RecoveryMiddleware turns a panic in a downstream handler into a 500
// response instead of crashing the server.
func RecoveryMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	recoveryLog := log.MiddlewareLogger("recovery")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					rc := requestContextFrom(r)
					recoveryLog.WithFields(map[string]interface{}{
						"request_id": rc.RequestID,
						"path":       rc.Path,
						"method":     rc.Method,
						"panic":      err,
					}).Error("panic recovered in request handler")
					writeError(w, gwErrInternal("internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// TimeoutMiddleware bounds every request to timeout, matching REQUEST_TIMEOUT
// across the whole inbound surface, not just outbound calls. A panic in the
// handler is re-raised on the calling goroutine so an outer
// RecoveryMiddleware still sees it.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			r = r.WithContext(ctx)

			done := make(chan struct{})
			var panicVal interface{}
			go func() {
				defer close(done)
				defer func() { panicVal = recover() }()
				next.ServeHTTP(w, r)
			}()

			select {
			case <-done:
				if panicVal != nil {
					panic(panicVal)
				}
			case <-ctx.Done():
				writeError(w, gwErrTimeout("request timed out"))
			}
		})
	}
}
