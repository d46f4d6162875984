package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-uring/config"
	"github.com/searchktools/fast-uring/core/http"
	"github.com/searchktools/fast-uring/core/pools"
	"github.com/searchktools/fast-uring/core/ring"
	"github.com/searchktools/fast-uring/core/router"
)

// Worker is one single-threaded server loop. It owns its completion queue,
// buffer arena, connection slab and listening socket; nothing in it is safe
// for concurrent use and no state is shared with other workers.
type Worker struct {
	id       int
	cfg      config.Config
	routes   *router.Table
	q        ring.Queue
	pool     *pools.BlockPool
	conns    *pools.Slab[Connection, *Connection]
	log      *zap.Logger
	listenFD int

	idle       time.Duration
	interval   time.Duration
	headerSize int
	onceSize   int
	now        func() time.Time

	cqes []ring.Completion

	// scratch reused by every handler call
	req     http.Request
	resp    responseWriter
	headers []http.Pair

	stats        Stats
	ctx          context.Context
	stopping     bool
	closed       bool
	acceptPaused bool
}

// NewWorker builds a worker serving routes on listenFD through q. The
// worker takes ownership of q; listenFD stays owned by the caller. A negative
// listenFD runs the worker without accepting.
func NewWorker(id int, cfg *config.Config, routes *router.Table, q ring.Queue, listenFD int, logger *zap.Logger) (*Worker, error) {
	if routes == nil || routes.Len() == 0 {
		return nil, ErrNoRoutes
	}
	pool, err := pools.NewBlockPool(cfg.PoolSize, cfg.PoolOnly)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", id, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Worker{
		id:         id,
		cfg:        *cfg,
		routes:     routes,
		q:          q,
		pool:       pool,
		conns:      pools.NewSlab[Connection](cfg.MaxConnections),
		log:        logger,
		listenFD:   listenFD,
		idle:       cfg.IdleTimeout,
		interval:   min(cfg.IdleTimeout, MaxTimerInterval),
		headerSize: cfg.HeaderBufferSize(),
		onceSize:   pool.Size() / OnceFraction,
		now:        time.Now,
		cqes:       make([]ring.Completion, CompletionBatch),
		headers:    make([]http.Pair, 0, cfg.MaxHeaders),
		ctx:        context.Background(),
	}
	w.req.Params = make([]http.Pair, 0, cfg.MaxParams)
	w.req.Headers = make([]http.Pair, 0, cfg.MaxHeaders)
	w.resp.w = w
	return w, nil
}

// ID returns the worker id
func (w *Worker) ID() int { return w.id }

// Run serves until ctx is cancelled or the queue fails
func (w *Worker) Run(ctx context.Context) error {
	if w.closed {
		return ErrWorkerClosed
	}
	w.ctx = ctx
	if err := w.start(); err != nil {
		return err
	}
	defer w.Close()

	w.log.Info("worker started",
		zap.Int("pool_bytes", w.pool.Size()),
		zap.Int("max_connections", w.conns.Cap()),
		zap.Duration("idle_timeout", w.idle))
	for !w.stopping {
		if err := w.poll(); err != nil {
			return err
		}
	}
	w.log.Info("worker stopped", zap.Uint64("requests", w.stats.Requests))
	return nil
}

func (w *Worker) start() error {
	if w.listenFD >= 0 {
		if err := w.armAccept(); err != nil {
			return fmt.Errorf("arm accept: %w", err)
		}
	}
	if err := w.armTick(); err != nil {
		return fmt.Errorf("arm tick: %w", err)
	}
	return w.q.Submit()
}

// poll blocks for one batch of completions and dispatches it
func (w *Worker) poll() error {
	n, err := w.q.Wait(w.cqes)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("wait completions: %w", err)
	}
	for i := 0; i < n; i++ {
		w.dispatch(w.cqes[i])
	}
	return nil
}

// dispatch routes one completion to the state machine
func (w *Worker) dispatch(cqe ring.Completion) {
	if cqe.Tag == 0 {
		return
	}
	kind := cqe.Tag.Kind()
	switch kind {
	case ring.KindAccept:
		w.onAccept(cqe)
		return
	case ring.KindTick:
		w.onTick()
		return
	}

	c := w.lookup(cqe.Tag)
	if c == nil {
		w.stats.StaleCompletions++
		w.log.Debug("completion discarded",
			zap.Stringer("kind", kind),
			zap.Int32("res", cqe.Res),
			zap.Error(ErrStaleTag))
		return
	}
	if !cqe.More() {
		c.finished(kind)
	}
	if c.cancelling() {
		w.release(c)
		return
	}
	if kind == ring.KindTimer {
		w.onTimer(c)
		return
	}
	c.lastIO = w.now()

	var err error
	switch kind {
	case ring.KindHeaderRecv:
		err = w.onHeaderRecv(c, cqe)
	case ring.KindBodyRecv:
		err = w.onBodyRecv(c, cqe)
	case ring.KindSend:
		err = w.onSend(c, cqe)
	case ring.KindInterim:
		err = w.onInterim(cqe)
	case ring.KindStatus:
		err = errStatusSent
	}
	if err != nil {
		w.closeConn(c, err)
	}
}

// lookup resolves a tag to its live connection
func (w *Worker) lookup(tag ring.Tag) *Connection {
	c, ok := w.conns.At(tag.Index())
	if !ok || c.gen != tag.Gen() || c.state == StateFree {
		return nil
	}
	return c
}

func (w *Worker) armTick() error {
	return w.q.Timeout(TickInterval, ring.MakeTag(ring.KindTick, 0, 0))
}

func (w *Worker) onTick() {
	if w.ctx.Err() != nil {
		w.stopping = true
		return
	}
	w.resumeAccept()
	if err := w.armTick(); err != nil {
		w.log.Error("re-arm tick", zap.Error(err))
		w.stopping = true
	}
}

func (w *Worker) armHeaderRecv(c *Connection) error {
	if err := w.q.Recv(c.fd, c.head.Tail(), c.tag(ring.KindHeaderRecv)); err != nil {
		return err
	}
	c.started(ring.KindHeaderRecv)
	return nil
}

func (w *Worker) armBodyRecv(c *Connection) error {
	if err := w.q.Recv(c.fd, c.body.Tail()[:c.bodyLeft], c.tag(ring.KindBodyRecv)); err != nil {
		return err
	}
	c.started(ring.KindBodyRecv)
	return nil
}

// closeConn moves c to cancelling: no new operations are issued, in-flight
// ones are cancelled and the slot is released once the last one completes
func (w *Worker) closeConn(c *Connection, reason error) {
	if c.cancelling() {
		return
	}
	c.flags |= flagCancelling
	w.log.Debug("closing connection",
		zap.Int("fd", c.fd),
		zap.Stringer("state", c.state),
		zap.Int("pending", c.pending),
		zap.Error(reason))

	if c.pending == 0 {
		w.teardown(c)
		return
	}
	_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
	for k := ring.Kind(1); int(k) < ring.KindCount; k++ {
		if c.inflight&(1<<k) == 0 {
			continue
		}
		if err := w.q.Cancel(c.tag(k)); err != nil {
			w.log.Warn("cancel failed", zap.Stringer("kind", k), zap.Error(err))
		}
	}
}

// release tears c down once nothing references its buffers
func (w *Worker) release(c *Connection) {
	if c.pending > 0 {
		return
	}
	w.teardown(c)
}

func (w *Worker) teardown(c *Connection) {
	if c.fd >= 0 {
		_ = unix.Close(c.fd)
	}
	w.put(&c.head)
	w.put(&c.body)
	for i := range c.send {
		w.put(&c.send[i])
	}
	w.stats.Closed++
	w.conns.Release(c.index)
}

func (w *Worker) put(b *pools.Buffer) {
	if err := w.pool.Put(b); err != nil {
		w.log.Error("buffer release failed", zap.Error(err))
	}
}

// Close releases the queue, every open connection and the arena. The queue
// goes first so the kernel drops its references to connection buffers.
func (w *Worker) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.stopping = true

	err := w.q.Close()
	for i := 0; i < w.conns.Cap(); i++ {
		if c, ok := w.conns.At(i); ok {
			c.pending = 0
			w.teardown(c)
		}
	}
	if perr := w.pool.Close(); err == nil {
		err = perr
	}
	return err
}
