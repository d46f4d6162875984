//go:build linux

package ring

import (
	"container/heap"
	"errors"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// acceptBatch bounds accepts per readiness event so one listener can't starve
// the rest of the loop; level-triggered epoll reports it again
const acceptBatch = 64

type epollOp struct {
	code uint8
	fd   int
	tag  Tag
	buf  []byte
	msg  *unix.Msghdr
	zc   bool
}

type fdSlots struct {
	read       *epollOp
	write      *epollOp
	mask       uint32
	registered bool
}

type epollTimer struct {
	when time.Time
	seq  uint64
	tag  Tag
}

type timerHeap []epollTimer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)   { *h = append(*h, x.(epollTimer)) }
func (h *timerHeap) Pop() any {
	old := *h
	t := old[len(old)-1]
	*h = old[:len(old)-1]
	return t
}

// Epoll is a Queue emulated on readiness notification. Operations are tried
// as soon as they are submitted; ones that would block are parked on their
// descriptor until epoll reports it ready. It is not safe for concurrent use.
type Epoll struct {
	epfd   int
	events []unix.EpollEvent

	queued []*epollOp
	fds    map[int]*fdSlots
	timers timerHeap
	seq    uint64
	ready  []Completion

	limit  int
	closed bool
}

// NewEpoll creates an epoll-backed queue accepting up to entries unsubmitted
// operations
func NewEpoll(entries int) (*Epoll, error) {
	if entries <= 0 {
		entries = 4096
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		epfd:   epfd,
		events: make([]unix.EpollEvent, 1024),
		queued: make([]*epollOp, 0, 64),
		fds:    make(map[int]*fdSlots),
		limit:  entries,
	}, nil
}

func (e *Epoll) enqueue(op *epollOp) error {
	if e.closed {
		return ErrQueueClosed
	}
	if len(e.queued) >= e.limit {
		if err := e.Submit(); err != nil {
			return err
		}
	}
	e.queued = append(e.queued, op)
	return nil
}

// Accept arms a multishot accept
func (e *Epoll) Accept(fd int, tag Tag) error {
	return e.enqueue(&epollOp{code: opAccept, fd: fd, tag: tag})
}

// Recv receives into buf
func (e *Epoll) Recv(fd int, buf []byte, tag Tag) error {
	if len(buf) == 0 {
		return unix.EINVAL
	}
	return e.enqueue(&epollOp{code: opRecv, fd: fd, tag: tag, buf: buf})
}

// Send sends buf
func (e *Epoll) Send(fd int, buf []byte, tag Tag) error {
	if len(buf) == 0 {
		return unix.EINVAL
	}
	return e.enqueue(&epollOp{code: opSend, fd: fd, tag: tag, buf: buf})
}

// Sendmsg sends the iovecs of msg. Zero-copy is emulated: the data is copied
// into the socket and the notification follows the result immediately.
func (e *Epoll) Sendmsg(fd int, msg *unix.Msghdr, zc bool, tag Tag) error {
	return e.enqueue(&epollOp{code: opSendmsg, fd: fd, tag: tag, msg: msg, zc: zc})
}

// Timeout completes with -ETIME after d
func (e *Epoll) Timeout(d time.Duration, tag Tag) error {
	if e.closed {
		return ErrQueueClosed
	}
	e.seq++
	heap.Push(&e.timers, epollTimer{when: time.Now().Add(d), seq: e.seq, tag: tag})
	return nil
}

// Cancel completes the operation carrying target with -ECANCELED if it has
// not completed yet
func (e *Epoll) Cancel(target Tag) error {
	if e.closed {
		return ErrQueueClosed
	}
	if target == 0 {
		return nil
	}
	for i, op := range e.queued {
		if op.tag == target {
			e.queued = append(e.queued[:i], e.queued[i+1:]...)
			e.complete(target, -int32(unix.ECANCELED), 0)
			return nil
		}
	}
	for fd, slots := range e.fds {
		switch {
		case slots.read != nil && slots.read.tag == target:
			slots.read = nil
		case slots.write != nil && slots.write.tag == target:
			slots.write = nil
		default:
			continue
		}
		e.complete(target, -int32(unix.ECANCELED), 0)
		return e.sync(fd, slots)
	}
	for i, t := range e.timers {
		if t.tag == target {
			heap.Remove(&e.timers, i)
			e.complete(target, -int32(unix.ECANCELED), 0)
			return nil
		}
	}
	return nil
}

func (e *Epoll) complete(tag Tag, res int32, flags uint32) {
	e.ready = append(e.ready, Completion{Tag: tag, Res: res, Flags: flags})
}

// Submit tries every queued operation and parks the ones that would block
func (e *Epoll) Submit() error {
	if e.closed {
		return ErrQueueClosed
	}
	for len(e.queued) > 0 {
		op := e.queued[0]
		e.queued[0] = nil
		e.queued = e.queued[1:]
		if e.run(op) {
			continue
		}
		if err := e.park(op); err != nil {
			return err
		}
	}
	e.queued = e.queued[:0]
	return nil
}

func (e *Epoll) park(op *epollOp) error {
	slots := e.fds[op.fd]
	if slots == nil {
		slots = &fdSlots{}
		e.fds[op.fd] = slots
	}
	slot := &slots.read
	if op.code == opSend || op.code == opSendmsg {
		slot = &slots.write
	}
	if *slot != nil {
		e.complete(op.tag, -int32(unix.EBUSY), 0)
		return nil
	}
	*slot = op
	return e.sync(op.fd, slots)
}

// sync brings the epoll interest set in line with the parked operations
func (e *Epoll) sync(fd int, slots *fdSlots) error {
	var mask uint32
	if slots.read != nil {
		mask |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if slots.write != nil {
		mask |= unix.EPOLLOUT
	}

	if mask == 0 {
		if slots.registered {
			// The descriptor may already be closed; nothing left to unregister
			_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		}
		delete(e.fds, fd)
		return nil
	}
	if slots.registered && mask == slots.mask {
		return nil
	}

	ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}
	var err error
	if slots.registered {
		err = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
		if errors.Is(err, unix.ENOENT) {
			err = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
		}
	} else {
		err = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	}
	if err != nil {
		// Fail the parked operations rather than the whole queue
		res := errnoRes(err)
		for _, op := range []*epollOp{slots.read, slots.write} {
			if op != nil {
				e.complete(op.tag, res, 0)
			}
		}
		if slots.registered {
			_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		}
		delete(e.fds, fd)
		return nil
	}
	slots.mask = mask
	slots.registered = true
	return nil
}

// run attempts op once. It returns false when the operation would block and
// must stay parked.
func (e *Epoll) run(op *epollOp) bool {
	switch op.code {
	case opAccept:
		for i := 0; i < acceptBatch; i++ {
			nfd, _, err := unix.Accept4(op.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
			switch {
			case err == nil:
				e.complete(op.tag, int32(nfd), FlagMore)
			case err == unix.EAGAIN:
				return false
			case err == unix.EINTR, err == unix.ECONNABORTED:
				// retry
			default:
				e.complete(op.tag, errnoRes(err), 0)
				return true
			}
		}
		return false

	case opRecv:
		for {
			n, err := unix.Read(op.fd, op.buf)
			switch {
			case err == nil:
				e.complete(op.tag, int32(n), 0)
				return true
			case err == unix.EINTR:
				continue
			case err == unix.EAGAIN:
				return false
			default:
				e.complete(op.tag, errnoRes(err), 0)
				return true
			}
		}

	case opSend:
		for {
			n, err := unix.SendmsgN(op.fd, op.buf, nil, nil, unix.MSG_NOSIGNAL)
			switch {
			case err == nil:
				e.complete(op.tag, int32(n), 0)
				return true
			case err == unix.EINTR:
				continue
			case err == unix.EAGAIN:
				return false
			default:
				e.complete(op.tag, errnoRes(err), 0)
				return true
			}
		}

	case opSendmsg:
		for {
			n, _, errno := unix.Syscall(unix.SYS_SENDMSG, uintptr(op.fd),
				uintptr(unsafe.Pointer(op.msg)), unix.MSG_NOSIGNAL)
			switch errno {
			case 0:
				if op.zc {
					e.complete(op.tag, int32(n), FlagMore)
					e.complete(op.tag, 0, FlagNotif)
				} else {
					e.complete(op.tag, int32(n), 0)
				}
				return true
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				return false
			default:
				e.complete(op.tag, -int32(errno), 0)
				return true
			}
		}
	}
	e.complete(op.tag, -int32(unix.EINVAL), 0)
	return true
}

func errnoRes(err error) int32 {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return -int32(errno)
	}
	return -int32(unix.EIO)
}

func (e *Epoll) fireTimers(now time.Time) {
	for len(e.timers) > 0 && !e.timers[0].when.After(now) {
		t := heap.Pop(&e.timers).(epollTimer)
		e.complete(t.tag, -int32(unix.ETIME), 0)
	}
}

// waitMillis is the epoll_wait timeout until the nearest timer, -1 for none
func (e *Epoll) waitMillis(now time.Time) int {
	if len(e.timers) == 0 {
		return -1
	}
	d := e.timers[0].when.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

func (e *Epoll) drain(cqes []Completion) int {
	n := copy(cqes, e.ready)
	e.ready = e.ready[:copy(e.ready, e.ready[n:])]
	return n
}

// Wait submits queued operations and blocks until at least one completion
func (e *Epoll) Wait(cqes []Completion) (int, error) {
	if len(cqes) == 0 {
		return 0, nil
	}
	for {
		if err := e.Submit(); err != nil {
			return 0, err
		}
		now := time.Now()
		e.fireTimers(now)
		if len(e.ready) > 0 {
			return e.drain(cqes), nil
		}

		n, err := unix.EpollWait(e.epfd, e.events, e.waitMillis(now))
		if err != nil && err != unix.EINTR {
			return 0, err
		}
		for i := 0; i < n; i++ {
			e.dispatch(int(e.events[i].Fd), e.events[i].Events)
		}
	}
}

func (e *Epoll) dispatch(fd int, events uint32) {
	slots := e.fds[fd]
	if slots == nil {
		return
	}
	const broken = unix.EPOLLHUP | unix.EPOLLERR
	if op := slots.read; op != nil && events&(unix.EPOLLIN|unix.EPOLLRDHUP|broken) != 0 {
		if e.run(op) {
			slots.read = nil
		}
	}
	if op := slots.write; op != nil && events&(unix.EPOLLOUT|broken) != 0 {
		if e.run(op) {
			slots.write = nil
		}
	}
	_ = e.sync(fd, slots)
}

// Close releases the epoll descriptor. Parked operations are dropped.
func (e *Epoll) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.queued = nil
	e.fds = nil
	e.timers = nil
	e.ready = nil
	return unix.Close(e.epfd)
}
