package core

import (
	"errors"
	"time"
)

const (
	// ZeroCopyThreshold is the response size from which sends use zero-copy
	ZeroCopyThreshold = 64 << 10

	// OnceFraction: bodies and writes of at least pool size / OnceFraction
	// get their own mapping instead of arena blocks
	OnceFraction = 10

	// TickInterval is how often a worker checks for shutdown
	TickInterval = 100 * time.Millisecond

	// MaxTimerInterval caps the per-connection idle timer period
	MaxTimerInterval = time.Second

	// CompletionBatch is how many completions are reaped per wait
	CompletionBatch = 256
)

// HeaderExpect announces a 100-continue handshake
const HeaderExpect = "Expect"

// Error definitions
var (
	ErrSlabFull     = errors.New("connection slab full")
	ErrWorkerClosed = errors.New("worker closed")
	ErrNoRoutes     = errors.New("no routes registered")
	ErrStaleTag     = errors.New("completion for a released connection")
)

var (
	ErrPeerClosed   = errors.New("peer closed the connection")
	ErrIdleTimeout  = errors.New("connection idle timeout")
	errStatusSent   = errors.New("status response sent")
	errNotKeepAlive = errors.New("connection not kept alive")
)
