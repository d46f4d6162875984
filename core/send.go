package core

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-uring/core/http"
	"github.com/searchktools/fast-uring/core/ring"
)

// sendResponse formats the head for the response collected by w.resp and
// submits the whole send list
func (w *Worker) sendResponse(c *Connection) error {
	r := &w.resp
	status, headers, bodyLen := r.status, r.headers, r.bodyLen
	r.c, r.req = nil, nil

	head := &c.send[0]
	n, err := http.FormatResponseHead(head.Reserved(), status, c.method, headers, bodyLen)
	if err != nil {
		w.log.Warn("response head rejected",
			zap.Int("headers", len(headers)),
			zap.Int("capacity", head.Cap()),
			zap.Error(err))
		return w.sendStatus(c, http.StatusInternalServerError)
	}
	if err := head.SetWindow(0, n); err != nil {
		return err
	}
	if !http.BodyAllowed(c.method, status) {
		w.dropBody(c)
	}
	w.stats.countStatus(status)

	c.state = StateSending
	c.sendLeft = 0
	for i := range c.send {
		c.sendLeft += c.send[i].Len()
	}
	return w.armSend(c)
}

// armSend submits one scatter-gather send over the unsent part of the list
func (w *Worker) armSend(c *Connection) error {
	c.iov = c.iov[:0]
	for i := range c.send {
		b := c.send[i].Bytes()
		if len(b) == 0 {
			continue
		}
		iov := unix.Iovec{Base: &b[0]}
		iov.SetLen(len(b))
		c.iov = append(c.iov, iov)
	}
	c.msg = unix.Msghdr{Iov: &c.iov[0]}
	c.msg.SetIovlen(len(c.iov))

	zc := c.sendLeft >= ZeroCopyThreshold
	if err := w.q.Sendmsg(c.fd, &c.msg, zc, c.tag(ring.KindSend)); err != nil {
		return err
	}
	c.started(ring.KindSend)
	c.sendZC = zc
	if zc {
		c.zcNotifs++
		w.stats.ZeroCopySends++
	}
	return nil
}

func (w *Worker) onSend(c *Connection, cqe ring.Completion) error {
	if cqe.Notif() {
		c.zcNotifs--
		return w.maybeFinishSend(c)
	}
	// A zero-copy result without More has no notification behind it
	if c.sendZC && !cqe.More() {
		c.zcNotifs--
	}
	c.sendZC = false

	if cqe.Res < 0 {
		if cqe.Transient() {
			return w.armSend(c)
		}
		return cqe.Err()
	}
	if cqe.Res == 0 {
		return ErrPeerClosed
	}

	n := min(int(cqe.Res), c.sendLeft)
	c.sendLeft -= n
	for i := 0; n > 0 && i < len(c.send); i++ {
		b := &c.send[i]
		k := min(n, b.Len())
		b.Consume(k)
		n -= k
	}
	if c.sendLeft > 0 {
		w.stats.PartialSends++
		return w.armSend(c)
	}
	return w.maybeFinishSend(c)
}

// maybeFinishSend recycles the request once every byte is out and the kernel
// holds no zero-copy reference, then either closes or frames the next
// request. Bytes received past the current request are moved to the front of
// the header buffer and framed before anything else is read.
func (w *Worker) maybeFinishSend(c *Connection) error {
	if c.sendLeft > 0 || c.zcNotifs > 0 {
		return nil
	}
	w.dropBody(c)
	c.send[0].Reset()
	w.put(&c.body)

	buf := c.head.Bytes()
	leftover := copy(buf, buf[c.headLen+c.bodyInline:])
	if err := c.head.SetWindow(0, leftover); err != nil {
		return err
	}
	c.headLen, c.bodyLen, c.bodyInline, c.bodyLeft = 0, 0, 0, 0

	if c.flags&flagCloseAfterSend != 0 {
		return errNotKeepAlive
	}
	c.flags &^= flagExpectContinue
	c.state = StateFraming
	if leftover > 0 {
		w.stats.Pipelined++
		return w.frame(c)
	}
	return w.armHeaderRecv(c)
}

// dropBody releases every send buffer after the head
func (w *Worker) dropBody(c *Connection) {
	for i := 1; i < len(c.send); i++ {
		w.put(&c.send[i])
	}
	c.send = c.send[:1]
}

// sendStatus answers with a bare status line and closes the connection once
// it is out
func (w *Worker) sendStatus(c *Connection, status http.Status) error {
	w.stats.ProtocolErrors++
	w.stats.countStatus(status)
	w.log.Debug("protocol error", zap.Int("fd", c.fd), zap.Int("status", int(status)))

	w.dropBody(c)
	head := &c.send[0]
	out := http.AppendStatusResponse(head.Reserved()[:0], status)
	if err := head.SetWindow(0, len(out)); err != nil {
		return err
	}
	c.state = StateSending
	if err := w.q.Send(c.fd, head.Bytes(), c.tag(ring.KindStatus)); err != nil {
		return err
	}
	c.started(ring.KindStatus)
	return nil
}
