package http

import "strings"

// Pair is a header or URL parameter. Key and Value alias the receive buffer
// and are only valid for the duration of the handler call.
type Pair struct {
	Key   string
	Value string
}

// DefaultPort is used when the Host header carries no port
const DefaultPort = 80

// Request is a parsed request. It is built on the worker's stack for one
// handler call and never retained.
type Request struct {
	Method Method
	Path   string
	Proto  string

	Host string
	Port int

	Params  []Pair
	Headers []Pair

	Body Body
}

// Reset clears r, keeping the capacity of the pair slices
func (r *Request) Reset() {
	params, headers := r.Params[:0], r.Headers[:0]
	*r = Request{Params: params, Headers: headers}
}

// Header returns the value of the first header matching key case-insensitively
func (r *Request) Header(key string) (string, bool) {
	return lookup(r.Headers, key)
}

// Param returns the value of the first URL parameter matching key
// case-insensitively
func (r *Request) Param(key string) (string, bool) {
	return lookup(r.Params, key)
}

// KeepAlive reports whether the connection may serve another request
func (r *Request) KeepAlive() bool {
	conn, ok := r.Header("Connection")
	if r.Proto == "HTTP/1.0" {
		return ok && strings.EqualFold(conn, "keep-alive")
	}
	return !ok || !strings.EqualFold(conn, "close")
}

func lookup(pairs []Pair, key string) (string, bool) {
	for i := range pairs {
		if pairs[i].Key != "" && strings.EqualFold(pairs[i].Key, key) {
			return pairs[i].Value, true
		}
	}
	return "", false
}

// Body is a read-only view over the received body. The bytes live in up to
// two segments: the tail of the header buffer and the body overflow buffer.
type Body struct {
	segs [2][]byte
	n    int
}

// NewBody builds a view over the given segments, skipping empty ones
func NewBody(segs ...[]byte) Body {
	var b Body
	i := 0
	for _, s := range segs {
		if len(s) == 0 || i == len(b.segs) {
			continue
		}
		b.segs[i] = s
		b.n += len(s)
		i++
	}
	return b
}

// Len returns the body length in bytes
func (b *Body) Len() int { return b.n }

// Segments returns the non-empty body segments in order
func (b *Body) Segments() [][]byte {
	if b.segs[1] != nil {
		return b.segs[:]
	}
	if b.segs[0] != nil {
		return b.segs[:1]
	}
	return nil
}

// Bytes returns the body as one slice. It copies only when the body is split
// across two segments.
func (b *Body) Bytes() []byte {
	if b.segs[1] == nil {
		return b.segs[0]
	}
	out := make([]byte, 0, b.n)
	return append(append(out, b.segs[0]...), b.segs[1]...)
}

// String returns a copy of the body
func (b *Body) String() string {
	return string(b.Bytes())
}

// Range calls fn for each piece of body[offset:offset+n] in order without
// copying. It returns false if the range is out of bounds.
func (b *Body) Range(offset, n int, fn func(p []byte)) bool {
	if offset < 0 || n < 0 || offset > b.n || n > b.n-offset {
		return false
	}
	for _, seg := range b.Segments() {
		if n == 0 {
			break
		}
		if offset >= len(seg) {
			offset -= len(seg)
			continue
		}
		end := offset + n
		if end > len(seg) {
			end = len(seg)
		}
		fn(seg[offset:end])
		n -= end - offset
		offset = 0
	}
	return true
}
