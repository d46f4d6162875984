package core

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-uring/core/ring"
)

var acceptTag = ring.MakeTag(ring.KindAccept, 0, 0)

func (w *Worker) armAccept() error {
	return w.q.Accept(w.listenFD, acceptTag)
}

// onAccept handles one multishot accept completion. When the kernel drops
// the accept after a hard failure such as EMFILE, re-arming waits for the
// next tick instead of spinning on the same error.
func (w *Worker) onAccept(cqe ring.Completion) {
	if cqe.Res < 0 {
		if cqe.Transient() {
			w.rearmAccept(cqe)
			return
		}
		w.log.Warn("accept failed", zap.Error(cqe.Err()))
		if !cqe.More() {
			w.acceptPaused = true
		}
		return
	}
	w.rearmAccept(cqe)
	w.newConn(int(cqe.Res))
}

func (w *Worker) rearmAccept(cqe ring.Completion) {
	if cqe.More() || w.stopping {
		return
	}
	if err := w.armAccept(); err != nil {
		w.log.Error("re-arm accept", zap.Error(err))
	}
}

// resumeAccept re-arms an accept paused by a hard failure
func (w *Worker) resumeAccept() {
	if !w.acceptPaused || w.stopping {
		return
	}
	w.acceptPaused = false
	if err := w.armAccept(); err != nil {
		w.log.Error("re-arm accept", zap.Error(err))
	}
}

// newConn installs an accepted socket in the slab and arms its first
// receive and its idle timer
func (w *Worker) newConn(fd int) {
	idx, c, ok := w.conns.Acquire()
	if !ok {
		_ = unix.Close(fd)
		w.stats.Refused++
		w.log.Warn("connection refused", zap.Error(ErrSlabFull))
		return
	}
	w.stats.Accepted++
	c.gen = ring.NextGen(c.gen)
	c.fd = fd
	c.index = idx
	c.state = StateAccepted
	c.lastIO = w.now()
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	head, err := w.pool.Get(w.headerSize)
	if err != nil {
		w.log.Warn("header buffer allocation failed", zap.Error(err))
		w.teardown(c)
		return
	}
	c.head = head
	out, err := w.pool.Get(w.headerSize)
	if err != nil {
		w.log.Warn("send buffer allocation failed", zap.Error(err))
		w.teardown(c)
		return
	}
	c.send = append(c.send, out)

	c.state = StateFraming
	if err := w.armHeaderRecv(c); err != nil {
		w.closeConn(c, err)
		return
	}
	if err := w.armTimer(c); err != nil {
		w.closeConn(c, err)
	}
}
