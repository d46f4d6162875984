// Package ring is the asynchronous submission/completion queue the engine is
// built on. Operations are queued with a Tag, Submit hands them to the kernel,
// and Wait returns completions carrying the same Tag.
package ring

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// Completion flags
const (
	// FlagMore: the operation stays armed and will produce more completions
	FlagMore uint32 = 1 << 1
	// FlagNotif: zero-copy notification, the kernel released the buffers
	FlagNotif uint32 = 1 << 3
)

var (
	ErrQueueFull      = errors.New("submission queue full")
	ErrQueueClosed    = errors.New("queue closed")
	ErrUnknownBackend = errors.New("unknown queue backend")
)

// Completion is the result of one submitted operation
type Completion struct {
	Tag   Tag
	Res   int32
	Flags uint32
}

// More reports whether more completions follow for the same submission
func (c Completion) More() bool { return c.Flags&FlagMore != 0 }

// Notif reports whether this is a zero-copy notification
func (c Completion) Notif() bool { return c.Flags&FlagNotif != 0 }

// Err returns the errno of a failed operation, nil on success
func (c Completion) Err() error {
	if c.Res >= 0 {
		return nil
	}
	return unix.Errno(-c.Res)
}

// Transient reports whether a failed operation may simply be re-armed
func (c Completion) Transient() bool {
	switch unix.Errno(-c.Res) {
	case unix.EAGAIN, unix.EINTR:
		return c.Res < 0
	}
	return false
}

// Queue is a completion-based I/O queue. Buffers and message headers handed
// to it must stay valid and unmoved until the final completion of the
// operation (and, for zero-copy sends, its notification) has been observed.
type Queue interface {
	// Accept arms a multishot accept on a listening socket
	Accept(fd int, tag Tag) error
	// Recv receives into buf
	Recv(fd int, buf []byte, tag Tag) error
	// Send sends buf
	Send(fd int, buf []byte, tag Tag) error
	// Sendmsg sends the iovecs of msg; zc selects zero-copy mode, which posts
	// an extra FlagNotif completion once the buffers may be reused
	Sendmsg(fd int, msg *unix.Msghdr, zc bool, tag Tag) error
	// Timeout completes with -ETIME after d
	Timeout(d time.Duration, tag Tag) error
	// Cancel requests cancellation of the in-flight operation carrying target
	Cancel(target Tag) error
	// Submit flushes queued operations
	Submit() error
	// Wait submits queued operations and blocks until at least one completion
	// is available, filling cqes and returning how many were written
	Wait(cqes []Completion) (int, error)
	// Close releases the queue
	Close() error
}
