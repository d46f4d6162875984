package core

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-uring/core/http"
	"github.com/searchktools/fast-uring/core/pools"
	"github.com/searchktools/fast-uring/core/ring"
)

// Connection states
type ConnState uint8

const (
	StateFree ConnState = iota
	StateAccepted
	StateFraming
	StateBody
	StateHandling
	StateSending
)

func (s ConnState) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateFraming:
		return "framing"
	case StateBody:
		return "body"
	case StateHandling:
		return "handling"
	case StateSending:
		return "sending"
	default:
		return "free"
	}
}

// Connection flags
const (
	flagCancelling uint8 = 1 << iota
	flagCloseAfterSend
	flagExpectContinue
)

// Connection is one slab slot. Its buffers may only be released once pending
// is zero: every submitted operation that references them has completed.
type Connection struct {
	fd    int
	index int
	gen   uint32

	state    ConnState
	flags    uint8
	pending  int
	inflight uint16 // one bit per ring.Kind
	lastIO   time.Time

	// receive side: head holds the header block and any body bytes that
	// arrived with it, body the rest of the body
	head       pools.Buffer
	body       pools.Buffer
	headLen    int
	bodyLen    int
	bodyInline int
	bodyLeft   int
	method     http.Method

	// send side: send[0] is the response head buffer, the rest are body
	// buffers or borrowed views of the request body
	send     []pools.Buffer
	sendLeft int
	sendZC   bool // the send in flight is zero-copy
	zcNotifs int  // zero-copy notifications still owed by the kernel

	iov []unix.Iovec
	msg unix.Msghdr
}

// Reset clears the connection for reuse. The generation survives so tags of
// the previous occupant stay distinguishable.
func (c *Connection) Reset() {
	gen := c.gen
	send := c.send[:0]
	iov := c.iov[:0]
	*c = Connection{fd: -1, gen: gen, send: send, iov: iov}
}

func (c *Connection) tag(kind ring.Kind) ring.Tag {
	return ring.MakeTag(kind, c.gen, c.index)
}

func (c *Connection) cancelling() bool { return c.flags&flagCancelling != 0 }

// State returns the connection state
func (c *Connection) State() ConnState { return c.state }

// Pending returns the number of in-flight operations
func (c *Connection) Pending() int { return c.pending }

// FD returns the socket descriptor
func (c *Connection) FD() int { return c.fd }

// started records a submission
func (c *Connection) started(kind ring.Kind) {
	c.pending++
	c.inflight |= 1 << kind
}

// finished records the final completion of a submission
func (c *Connection) finished(kind ring.Kind) {
	c.pending--
	c.inflight &^= 1 << kind
}

// bodyInlineBytes returns the body bytes that arrived with the header block
func (c *Connection) bodyInlineBytes() []byte {
	return c.head.Bytes()[c.headLen : c.headLen+c.bodyInline]
}
