package core

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-uring/config"
	"github.com/searchktools/fast-uring/core/http"
	"github.com/searchktools/fast-uring/core/middleware"
	"github.com/searchktools/fast-uring/core/ring"
	"github.com/searchktools/fast-uring/core/router"
	"github.com/searchktools/fast-uring/logutil"
)

// Engine collects routes and middleware and starts workers serving them.
// Registration must finish before the first worker starts.
type Engine struct {
	cfg      *config.Config
	log      *zap.Logger
	routes   []router.Route
	pipeline *middleware.Pipeline
	table    *router.Table
}

// NewEngine creates an engine for cfg
func NewEngine(cfg *config.Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		log:      logger,
		pipeline: middleware.NewPipeline(),
	}
}

// Config returns the engine configuration
func (e *Engine) Config() *config.Config { return e.cfg }

// Use adds a middleware step run before every handler. Steps run on the
// worker threads and must not block; any state a step keeps is shared by all
// workers.
func (e *Engine) Use(mw middleware.HandlerFunc) {
	e.pipeline.Use(mw)
}

// Handle registers a route that ignores the request body
func (e *Engine) Handle(method http.Method, path string, handler http.Handler) {
	e.routes = append(e.routes, router.Route{Method: method, Path: path, Handler: handler})
}

// HandleBody registers a route that receives the request body
func (e *Engine) HandleBody(method http.Method, path string, handler http.Handler) {
	e.routes = append(e.routes, router.Route{Method: method, Path: path, Handler: handler, UsesBody: true})
}

// Routes appends a route table, stopping at a zero Route
func (e *Engine) Routes(routes []router.Route) {
	for _, r := range routes {
		if r.IsZero() {
			break
		}
		e.routes = append(e.routes, r)
	}
}

// GET registers a GET route; HEAD requests for the same path reach it too
func (e *Engine) GET(path string, handler http.Handler) {
	e.Handle(http.MethodGet, path, handler)
}

// POST registers a POST route with a body
func (e *Engine) POST(path string, handler http.Handler) {
	e.HandleBody(http.MethodPost, path, handler)
}

// PUT registers a PUT route with a body
func (e *Engine) PUT(path string, handler http.Handler) {
	e.HandleBody(http.MethodPut, path, handler)
}

// DELETE registers a DELETE route
func (e *Engine) DELETE(path string, handler http.Handler) {
	e.Handle(http.MethodDelete, path, handler)
}

// PATCH registers a PATCH route with a body
func (e *Engine) PATCH(path string, handler http.Handler) {
	e.HandleBody(http.MethodPatch, path, handler)
}

// HEAD registers a HEAD route
func (e *Engine) HEAD(path string, handler http.Handler) {
	e.Handle(http.MethodHead, path, handler)
}

// OPTIONS registers an OPTIONS route
func (e *Engine) OPTIONS(path string, handler http.Handler) {
	e.Handle(http.MethodOptions, path, handler)
}

// Any registers a route matching every method
func (e *Engine) Any(path string, handler http.Handler) {
	e.Handle(http.MethodAny, path, handler)
}

// Table compiles the registered routes with the middleware applied. The
// result is cached; later registrations are not picked up.
func (e *Engine) Table() (*router.Table, error) {
	if e.table != nil {
		return e.table, nil
	}
	if len(e.routes) == 0 {
		return nil, ErrNoRoutes
	}
	routes := make([]router.Route, len(e.routes))
	for i, r := range e.routes {
		r.Handler = e.pipeline.Wrap(r.Handler)
		routes[i] = r
	}
	table, err := router.NewTable(routes)
	if err != nil {
		return nil, err
	}
	e.table = table
	return table, nil
}

// Run serves on a single worker in the calling goroutine until ctx is done
func (e *Engine) Run(ctx context.Context) error {
	return e.RunWorker(ctx, 0)
}

// RunWorker runs worker id on the calling goroutine, which it locks to its
// OS thread. Every worker opens its own listener.
func (e *Engine) RunWorker(ctx context.Context, id int) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	table, err := e.Table()
	if err != nil {
		return err
	}
	log := logutil.Worker(e.log, id)

	lfd, err := Listen(e.cfg.Port, e.cfg.MultiCore)
	if err != nil {
		return fmt.Errorf("worker %d: %w", id, err)
	}
	defer unix.Close(lfd)

	q, err := ring.New(e.cfg.Backend, uint32(e.cfg.QueueDepth))
	if err != nil {
		return fmt.Errorf("worker %d: %w", id, err)
	}
	w, err := NewWorker(id, e.cfg, table, q, lfd, log)
	if err != nil {
		q.Close()
		return err
	}
	log.Info("listening",
		zap.Int("port", e.cfg.Port),
		zap.String("backend", e.cfg.Backend),
		zap.Int("routes", table.Len()))
	return w.Run(ctx)
}
