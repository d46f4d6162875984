package core

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/searchktools/fast-uring/core/http"
	"github.com/searchktools/fast-uring/core/pools"
	"github.com/searchktools/fast-uring/core/ring"
)

var continueResponse = []byte("HTTP/1.1 100 Continue\r\n\r\n")

func (w *Worker) onHeaderRecv(c *Connection, cqe ring.Completion) error {
	if cqe.Res < 0 {
		if cqe.Transient() {
			return w.armHeaderRecv(c)
		}
		return cqe.Err()
	}
	if cqe.Res == 0 {
		return ErrPeerClosed
	}
	if err := c.head.Grow(int(cqe.Res)); err != nil {
		return err
	}
	return w.frame(c)
}

// frame looks for a complete header block and decides how the request
// continues: more header bytes, a body read, a fixed status or the handler
func (w *Worker) frame(c *Connection) error {
	buf := c.head.Bytes()
	end := http.HeaderEnd(buf)
	if end < 0 {
		if c.head.Spare() == 0 {
			return w.sendStatus(c, http.StatusHeaderFieldsTooLarge)
		}
		return w.armHeaderRecv(c)
	}
	head := buf[:end]
	c.headLen = end

	method, target, _, err := http.ParseRequestLine(head)
	if err != nil {
		if errors.Is(err, http.ErrUnknownMethod) {
			return w.sendStatus(c, http.StatusNotImplemented)
		}
		return w.sendStatus(c, http.StatusBadRequest)
	}
	c.method = method

	// Route before provisioning anything for the body
	path, _ := http.SplitTarget(target)
	idx, ok := w.routes.MatchBytes(method, path)
	if !ok {
		return w.sendStatus(c, http.StatusNotFound)
	}
	if !w.routes.Route(idx).UsesBody {
		w.skipBody(c, head, len(buf)-end)
		return w.serve(c)
	}

	n, present, err := http.ContentLength(head)
	switch {
	case err != nil:
		return w.sendStatus(c, http.StatusBadRequest)
	case !present || n == 0:
		return w.sendStatus(c, http.StatusLengthRequired)
	case n > int64(w.cfg.MaxBodySize):
		return w.sendStatus(c, http.StatusContentTooLarge)
	}

	c.bodyLen = int(n)
	c.bodyInline = min(len(buf)-end, c.bodyLen)
	c.bodyLeft = c.bodyLen - c.bodyInline
	if c.bodyLeft == 0 {
		return w.serve(c)
	}

	c.body, err = w.alloc(c.bodyLeft)
	if err != nil {
		w.log.Warn("body buffer allocation failed", zap.Int("size", c.bodyLeft), zap.Error(err))
		return err
	}
	c.state = StateBody
	if http.HasHeaderValue(head, HeaderExpect, "100-continue") {
		if err := w.sendContinue(c); err != nil {
			return err
		}
	}
	return w.armBodyRecv(c)
}

// skipBody steps over the body of a request whose route ignores it, so the
// bytes after it can be framed as the next request. A body that cannot be
// delimited or has not fully arrived ends the connection after the response.
func (w *Worker) skipBody(c *Connection, head []byte, avail int) {
	n, present, err := http.ContentLength(head)
	switch {
	case err != nil:
		c.flags |= flagCloseAfterSend
	case !present || n == 0:
	case n > int64(avail):
		c.bodyInline = avail
		c.flags |= flagCloseAfterSend
	default:
		c.bodyInline = int(n)
	}
}

func (w *Worker) onBodyRecv(c *Connection, cqe ring.Completion) error {
	if cqe.Res < 0 {
		if cqe.Transient() {
			return w.armBodyRecv(c)
		}
		return cqe.Err()
	}
	if cqe.Res == 0 {
		return ErrPeerClosed
	}
	n := int(cqe.Res)
	if err := c.body.Grow(n); err != nil {
		return err
	}
	c.bodyLeft -= n
	if c.bodyLeft > 0 {
		return w.armBodyRecv(c)
	}
	return w.serve(c)
}

func (w *Worker) sendContinue(c *Connection) error {
	if err := w.q.Send(c.fd, continueResponse, c.tag(ring.KindInterim)); err != nil {
		return err
	}
	c.started(ring.KindInterim)
	c.flags |= flagExpectContinue
	w.stats.ContinueSent++
	return nil
}

func (w *Worker) onInterim(cqe ring.Completion) error {
	if cqe.Res < 0 {
		return cqe.Err()
	}
	if int(cqe.Res) < len(continueResponse) {
		return io.ErrShortWrite
	}
	return nil
}

// serve parses the full request, runs the handler and sends its response
func (w *Worker) serve(c *Connection) error {
	c.state = StateHandling

	req := &w.req
	req.Reset()
	if err := http.ParseRequest(c.head.Bytes()[:c.headLen], req); err != nil {
		return w.sendStatus(c, http.StatusBadRequest)
	}
	idx, ok := w.routes.Match(req.Method, req.Path)
	if !ok {
		return w.sendStatus(c, http.StatusNotFound)
	}
	route := w.routes.Route(idx)
	if route.UsesBody {
		req.Body = http.NewBody(c.bodyInlineBytes(), c.body.Bytes())
	}
	if !req.KeepAlive() {
		c.flags |= flagCloseAfterSend
	}

	w.stats.Requests++
	w.resp.reset(c, req)
	if !w.invoke(route.Handler, req) {
		return w.sendStatus(c, http.StatusInternalServerError)
	}
	return w.sendResponse(c)
}

// invoke runs h, turning a panic into a false return
func (w *Worker) invoke(h http.Handler, req *http.Request) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			w.stats.HandlerPanics++
			w.log.Error("handler panicked",
				zap.Stringer("method", req.Method),
				zap.String("path", req.Path),
				zap.Any("panic", r))
			ok = false
		}
	}()
	h(req, &w.resp)
	return true
}

// alloc returns a buffer of at least n bytes. Large requests get their own
// mapping so they do not fragment the arena.
func (w *Worker) alloc(n int) (pools.Buffer, error) {
	if n >= w.onceSize && !w.pool.PoolOnly() {
		return w.pool.GetOnce(n)
	}
	return w.pool.Get(n)
}
