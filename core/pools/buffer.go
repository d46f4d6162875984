package pools

import "errors"

var (
	ErrBufferFull = errors.New("buffer reservation exhausted")
	ErrBadWindow  = errors.New("window outside reservation")
)

// Origin tells where a Buffer's reservation came from
type Origin uint8

const (
	OriginNone     Origin = iota
	OriginPool            // blocks inside the arena
	OriginOverflow        // one-off anonymous mapping
	OriginView            // borrowed from another Buffer, never released
)

// Buffer is a reservation plus the currently valid window [lo, hi) inside it.
// The reservation is what gets released; the window shrinks and grows as data
// is produced and consumed.
type Buffer struct {
	res    []byte
	lo, hi int
	origin Origin
}

// View wraps memory owned by someone else
func View(b []byte) Buffer {
	return Buffer{res: b, hi: len(b), origin: OriginView}
}

// Reserved returns the full reservation
func (b *Buffer) Reserved() []byte { return b.res }

// Bytes returns the working window
func (b *Buffer) Bytes() []byte { return b.res[b.lo:b.hi] }

// Len returns the working window length
func (b *Buffer) Len() int { return b.hi - b.lo }

// Cap returns the reservation size
func (b *Buffer) Cap() int { return len(b.res) }

// Spare returns the reservation bytes past the window
func (b *Buffer) Spare() int { return len(b.res) - b.hi }

// Tail returns the free space after the window
func (b *Buffer) Tail() []byte { return b.res[b.hi:] }

// Origin reports where the reservation came from
func (b *Buffer) Origin() Origin { return b.origin }

// Owned reports whether releasing the Buffer returns memory
func (b *Buffer) Owned() bool {
	return b.origin == OriginPool || b.origin == OriginOverflow
}

// IsZero reports whether the record holds nothing
func (b *Buffer) IsZero() bool { return b.res == nil }

// Append copies p after the window
func (b *Buffer) Append(p []byte) error {
	if len(p) > b.Spare() {
		return ErrBufferFull
	}
	b.hi += copy(b.res[b.hi:], p)
	return nil
}

// Grow extends the window by n bytes already written into Tail
func (b *Buffer) Grow(n int) error {
	if n < 0 || n > b.Spare() {
		return ErrBadWindow
	}
	b.hi += n
	return nil
}

// Consume drops n bytes from the front of the window
func (b *Buffer) Consume(n int) {
	if n >= b.Len() {
		b.lo = b.hi
		return
	}
	b.lo += n
}

// SetWindow sets the window to [lo, hi)
func (b *Buffer) SetWindow(lo, hi int) error {
	if lo < 0 || hi < lo || hi > len(b.res) {
		return ErrBadWindow
	}
	b.lo, b.hi = lo, hi
	return nil
}

// Reset empties the window, keeping the reservation
func (b *Buffer) Reset() { b.lo, b.hi = 0, 0 }

// Slice returns a borrowed view of the window sub-range [from, to)
func (b *Buffer) Slice(from, to int) Buffer {
	return View(b.res[b.lo+from : b.lo+to])
}
