package core

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-uring/core/ring"
)

// fakeOp is one operation submitted to fakeQueue
type fakeOp struct {
	code   string
	fd     int
	buf    []byte // recv target
	data   string // bytes handed to a send, captured at submission
	zc     bool
	d      time.Duration
	tag    ring.Tag
	target ring.Tag
}

// fakeQueue records submissions; tests play the kernel by dispatching
// completions for them
type fakeQueue struct {
	ops     []fakeOp
	pending []ring.Completion
	submits int
	closed  bool
	failOn  string
}

var _ ring.Queue = (*fakeQueue)(nil)

func (q *fakeQueue) add(op fakeOp) error {
	if q.closed {
		return ring.ErrQueueClosed
	}
	if q.failOn == op.code {
		return ring.ErrQueueFull
	}
	q.ops = append(q.ops, op)
	return nil
}

func (q *fakeQueue) Accept(fd int, tag ring.Tag) error {
	return q.add(fakeOp{code: "accept", fd: fd, tag: tag})
}

func (q *fakeQueue) Recv(fd int, buf []byte, tag ring.Tag) error {
	return q.add(fakeOp{code: "recv", fd: fd, buf: buf, tag: tag})
}

func (q *fakeQueue) Send(fd int, buf []byte, tag ring.Tag) error {
	return q.add(fakeOp{code: "send", fd: fd, data: string(buf), tag: tag})
}

func (q *fakeQueue) Sendmsg(fd int, msg *unix.Msghdr, zc bool, tag ring.Tag) error {
	var data []byte
	for _, iov := range unsafe.Slice(msg.Iov, int(msg.Iovlen)) {
		data = append(data, unsafe.Slice(iov.Base, int(iov.Len))...)
	}
	return q.add(fakeOp{code: "sendmsg", fd: fd, data: string(data), zc: zc, tag: tag})
}

func (q *fakeQueue) Timeout(d time.Duration, tag ring.Tag) error {
	return q.add(fakeOp{code: "timeout", d: d, tag: tag})
}

func (q *fakeQueue) Cancel(target ring.Tag) error {
	return q.add(fakeOp{code: "cancel", target: target})
}

func (q *fakeQueue) Submit() error {
	q.submits++
	return nil
}

func (q *fakeQueue) Wait(cqes []ring.Completion) (int, error) {
	if q.closed {
		return 0, ring.ErrQueueClosed
	}
	n := copy(cqes, q.pending)
	q.pending = q.pending[n:]
	return n, nil
}

func (q *fakeQueue) Close() error {
	q.closed = true
	return nil
}

// last returns the most recent operation carrying a tag of kind
func (q *fakeQueue) last(kind ring.Kind) (fakeOp, bool) {
	for i := len(q.ops) - 1; i >= 0; i-- {
		if q.ops[i].code != "cancel" && q.ops[i].tag.Kind() == kind {
			return q.ops[i], true
		}
	}
	return fakeOp{}, false
}

// count returns how many operations of kind were submitted
func (q *fakeQueue) count(kind ring.Kind) int {
	n := 0
	for _, op := range q.ops {
		if op.code != "cancel" && op.tag.Kind() == kind {
			n++
		}
	}
	return n
}

// cancelled reports whether a cancel targeting tag was submitted
func (q *fakeQueue) cancelled(tag ring.Tag) bool {
	for _, op := range q.ops {
		if op.code == "cancel" && op.target == tag {
			return true
		}
	}
	return false
}
