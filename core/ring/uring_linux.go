//go:build linux

package ring

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// io_uring opcodes
const (
	opSendmsg     = 9
	opTimeout     = 11
	opAccept      = 13
	opAsyncCancel = 14
	opSend        = 26
	opRecv        = 27
	opSendmsgZC   = 48
)

const (
	acceptMultishot   = 1 << 0 // sqe.ioprio for accept
	recvsendPollFirst = 1 << 0 // sqe.ioprio for recv/send

	enterGetEvents = 1 << 0

	offSQRing = 0
	offCQRing = 0x8000000
	offSQEs   = 0x10000000
)

// io_uring structures
type uringSQE struct {
	Opcode      uint8
	Flags       uint8
	Ioprio      uint16
	Fd          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	OpcodeFlags uint32
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFdIn  int32
	Pad2        [2]uint64
}

type uringCQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

type uringParams struct {
	SqEntries    uint32
	CqEntries    uint32
	Flags        uint32
	SqThreadCpu  uint32
	SqThreadIdle uint32
	Features     uint32
	WqFd         uint32
	Resv         [3]uint32
	SqOff        sqringOffsets
	CqOff        cqringOffsets
}

type sqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32
	Resv1       uint32
	Resv2       uint64
}

type cqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	Cqes        uint32
	Flags       uint32
	Resv1       uint32
	Resv2       uint64
}

type kernelTimespec struct {
	Sec  int64
	Nsec int64
}

// Uring is a Queue backed by a kernel io_uring instance. It is not safe for
// concurrent use; each worker owns one.
type Uring struct {
	fd int

	sqRing []byte
	cqRing []byte
	sqeMem []byte

	sqHead    *uint32
	sqTail    *uint32
	sqMask    uint32
	sqEntries uint32
	sqArray   []uint32
	sqes      []uringSQE
	tail      uint32

	cqHead *uint32
	cqTail *uint32
	cqMask uint32
	cqes   []uringCQE

	// Timeout ops point at these; slot i belongs to sqe i
	timespecs []kernelTimespec

	closed bool
}

// NewUring sets up an io_uring with at least entries submission slots
func NewUring(entries uint32) (*Uring, error) {
	if entries == 0 {
		entries = 4096
	}
	params := &uringParams{}
	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(params)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("io_uring_setup: %w", errno)
	}
	r := &Uring{fd: int(fd)}
	if err := r.mapRings(params); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Uring) mapRings(params *uringParams) error {
	sqSize := params.SqOff.Array + params.SqEntries*4
	cqSize := params.CqOff.Cqes + params.CqEntries*uint32(unsafe.Sizeof(uringCQE{}))
	sqeSize := params.SqEntries * uint32(unsafe.Sizeof(uringSQE{}))

	var err error
	r.sqRing, err = unix.Mmap(r.fd, offSQRing, int(sqSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("mmap sq: %w", err)
	}
	r.cqRing, err = unix.Mmap(r.fd, offCQRing, int(cqSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("mmap cq: %w", err)
	}
	r.sqeMem, err = unix.Mmap(r.fd, offSQEs, int(sqeSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("mmap sqes: %w", err)
	}

	r.sqHead = (*uint32)(unsafe.Pointer(&r.sqRing[params.SqOff.Head]))
	r.sqTail = (*uint32)(unsafe.Pointer(&r.sqRing[params.SqOff.Tail]))
	r.sqMask = *(*uint32)(unsafe.Pointer(&r.sqRing[params.SqOff.RingMask]))
	r.sqEntries = params.SqEntries
	r.sqArray = unsafe.Slice((*uint32)(unsafe.Pointer(&r.sqRing[params.SqOff.Array])), params.SqEntries)
	r.sqes = unsafe.Slice((*uringSQE)(unsafe.Pointer(&r.sqeMem[0])), params.SqEntries)
	r.tail = atomic.LoadUint32(r.sqTail)

	r.cqHead = (*uint32)(unsafe.Pointer(&r.cqRing[params.CqOff.Head]))
	r.cqTail = (*uint32)(unsafe.Pointer(&r.cqRing[params.CqOff.Tail]))
	r.cqMask = *(*uint32)(unsafe.Pointer(&r.cqRing[params.CqOff.RingMask]))
	r.cqes = unsafe.Slice((*uringCQE)(unsafe.Pointer(&r.cqRing[params.CqOff.Cqes])), params.CqEntries)

	r.timespecs = make([]kernelTimespec, params.SqEntries)
	return nil
}

// getSQE returns a zeroed submission entry, flushing the ring first if full
func (r *Uring) getSQE() (*uringSQE, uint32, error) {
	if r.closed {
		return nil, 0, ErrQueueClosed
	}
	if r.tail-atomic.LoadUint32(r.sqHead) >= r.sqEntries {
		if err := r.Submit(); err != nil {
			return nil, 0, err
		}
		if r.tail-atomic.LoadUint32(r.sqHead) >= r.sqEntries {
			return nil, 0, ErrQueueFull
		}
	}
	idx := r.tail & r.sqMask
	sqe := &r.sqes[idx]
	*sqe = uringSQE{}
	r.sqArray[idx] = idx
	r.tail++
	return sqe, idx, nil
}

// Accept arms a multishot accept; accepted sockets are non-blocking
func (r *Uring) Accept(fd int, tag Tag) error {
	sqe, _, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.Opcode = opAccept
	sqe.Fd = int32(fd)
	sqe.Ioprio = acceptMultishot
	sqe.OpcodeFlags = unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC
	sqe.UserData = uint64(tag)
	return nil
}

// Recv queues a single-shot receive into buf
func (r *Uring) Recv(fd int, buf []byte, tag Tag) error {
	if len(buf) == 0 {
		return unix.EINVAL
	}
	sqe, _, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.Opcode = opRecv
	sqe.Fd = int32(fd)
	sqe.Ioprio = recvsendPollFirst
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	sqe.Len = uint32(len(buf))
	sqe.UserData = uint64(tag)
	return nil
}

// Send queues a single-shot send of buf
func (r *Uring) Send(fd int, buf []byte, tag Tag) error {
	if len(buf) == 0 {
		return unix.EINVAL
	}
	sqe, _, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.Opcode = opSend
	sqe.Fd = int32(fd)
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	sqe.Len = uint32(len(buf))
	sqe.OpcodeFlags = unix.MSG_NOSIGNAL
	sqe.UserData = uint64(tag)
	return nil
}

// Sendmsg queues a scatter-gather send
func (r *Uring) Sendmsg(fd int, msg *unix.Msghdr, zc bool, tag Tag) error {
	sqe, _, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.Opcode = opSendmsg
	if zc {
		sqe.Opcode = opSendmsgZC
	}
	sqe.Fd = int32(fd)
	sqe.Addr = uint64(uintptr(unsafe.Pointer(msg)))
	sqe.Len = 1
	sqe.OpcodeFlags = unix.MSG_NOSIGNAL
	sqe.UserData = uint64(tag)
	return nil
}

// Timeout queues a relative timer
func (r *Uring) Timeout(d time.Duration, tag Tag) error {
	sqe, idx, err := r.getSQE()
	if err != nil {
		return err
	}
	ts := &r.timespecs[idx]
	ts.Sec = int64(d / time.Second)
	ts.Nsec = int64(d % time.Second)

	sqe.Opcode = opTimeout
	sqe.Fd = -1
	sqe.Addr = uint64(uintptr(unsafe.Pointer(ts)))
	sqe.Len = 1
	sqe.UserData = uint64(tag)
	return nil
}

// Cancel queues an async cancel for the operation tagged target. The cancel
// request itself is untagged.
func (r *Uring) Cancel(target Tag) error {
	sqe, _, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.Opcode = opAsyncCancel
	sqe.Fd = -1
	sqe.Addr = uint64(target)
	return nil
}

// Submit hands queued entries to the kernel
func (r *Uring) Submit() error {
	return r.enter(0)
}

func (r *Uring) enter(minComplete uint32) error {
	if r.closed {
		return ErrQueueClosed
	}
	atomic.StoreUint32(r.sqTail, r.tail)

	toSubmit := r.tail - atomic.LoadUint32(r.sqHead)
	if toSubmit == 0 && minComplete == 0 {
		return nil
	}
	var flags uintptr
	if minComplete > 0 {
		flags = enterGetEvents
	}

	_, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(r.fd),
		uintptr(toSubmit), uintptr(minComplete), flags, 0, 0)
	switch errno {
	case 0, unix.EINTR:
		return nil
	case unix.EAGAIN, unix.EBUSY:
		// Completion ring is backed up; reaping makes room
		return nil
	default:
		return fmt.Errorf("io_uring_enter: %w", errno)
	}
}

func (r *Uring) reap(cqes []Completion) int {
	head := atomic.LoadUint32(r.cqHead)
	tail := atomic.LoadUint32(r.cqTail)

	n := 0
	for head != tail && n < len(cqes) {
		c := &r.cqes[head&r.cqMask]
		cqes[n] = Completion{Tag: Tag(c.UserData), Res: c.Res, Flags: c.Flags}
		n++
		head++
	}
	atomic.StoreUint32(r.cqHead, head)
	return n
}

// Wait submits pending entries and blocks for at least one completion
func (r *Uring) Wait(cqes []Completion) (int, error) {
	if len(cqes) == 0 {
		return 0, nil
	}
	for {
		if n := r.reap(cqes); n > 0 {
			return n, r.Submit()
		}
		if err := r.enter(1); err != nil {
			return 0, err
		}
	}
}

// Close unmaps the rings and closes the ring descriptor
func (r *Uring) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	for _, m := range [][]byte{r.sqeMem, r.cqRing, r.sqRing} {
		if m != nil {
			unix.Munmap(m)
		}
	}
	r.sqeMem, r.cqRing, r.sqRing = nil, nil, nil
	return unix.Close(r.fd)
}
