package middleware

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/searchktools/fast-uring/core/http"
)

// HandlerFunc is a middleware step. Returning false stops the chain; the
// step is then expected to have produced the response itself.
type HandlerFunc func(req *http.Request, w http.ResponseWriter) bool

// Pipeline runs middleware steps in order before a final handler. It is
// built once at startup and shared read-only by every worker.
type Pipeline struct {
	handlers []HandlerFunc
}

// NewPipeline creates a new middleware pipeline
func NewPipeline() *Pipeline {
	return &Pipeline{
		handlers: make([]HandlerFunc, 0, 16),
	}
}

// Use adds a middleware to the pipeline
func (p *Pipeline) Use(handler HandlerFunc) *Pipeline {
	p.handlers = append(p.handlers, handler)
	return p
}

// Len returns the number of steps
func (p *Pipeline) Len() int { return len(p.handlers) }

// Execute runs the middleware pipeline
func (p *Pipeline) Execute(req *http.Request, w http.ResponseWriter, final http.Handler) {
	for _, h := range p.handlers {
		if !h(req, w) {
			return
		}
	}
	final(req, w)
}

// Wrap returns final preceded by the pipeline, or final itself when the
// pipeline is empty
func (p *Pipeline) Wrap(final http.Handler) http.Handler {
	if len(p.handlers) == 0 {
		return final
	}
	handlers := make([]HandlerFunc, len(p.handlers))
	copy(handlers, p.handlers)
	compiled := &Pipeline{handlers: handlers}
	return func(req *http.Request, w http.ResponseWriter) {
		compiled.Execute(req, w, final)
	}
}

// Common middleware implementations

// Logger logs every request at debug level
func Logger(logger *zap.Logger) HandlerFunc {
	return func(req *http.Request, w http.ResponseWriter) bool {
		if ce := logger.Check(zap.DebugLevel, "request"); ce != nil {
			ce.Write(
				zap.Stringer("method", req.Method),
				zap.String("path", req.Path),
				zap.String("host", req.Host),
				zap.Int("body", req.Body.Len()))
		}
		return true
	}
}

// CORS adds CORS headers and answers preflight requests
func CORS() HandlerFunc {
	return func(req *http.Request, w http.ResponseWriter) bool {
		w.SetHeader("Access-Control-Allow-Origin", "*")
		w.SetHeader("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.SetHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if req.Method == http.MethodOptions {
			w.SetStatus(http.StatusNoContent)
			return false
		}
		return true
	}
}

// RateLimiter allows requestsPerSecond requests per second for the whole
// process. Unlike the rest of the server its budget is shared by every
// worker and guarded by a mutex, so each request takes a lock; use it only
// where a process-wide limit is wanted.
func RateLimiter(requestsPerSecond int) HandlerFunc {
	var (
		tokens     = requestsPerSecond
		lastRefill = time.Now()
		mu         sync.Mutex
	)

	return func(req *http.Request, w http.ResponseWriter) bool {
		mu.Lock()
		now := time.Now()
		if now.Sub(lastRefill) > time.Second {
			tokens = requestsPerSecond
			lastRefill = now
		}
		if tokens > 0 {
			tokens--
			mu.Unlock()
			return true
		}
		mu.Unlock()

		w.SetStatus(http.StatusTooManyRequests)
		w.WriteString(`{"error":"Too Many Requests"}`)
		return false
	}
}

// RequestID adds a unique request ID
func RequestID() HandlerFunc {
	var counter uint64

	return func(req *http.Request, w http.ResponseWriter) bool {
		id := atomic.AddUint64(&counter, 1)
		w.SetHeader("X-Request-ID", strconv.FormatUint(id, 10))
		return true
	}
}
