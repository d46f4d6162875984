package core

import (
	"unsafe"

	"github.com/searchktools/fast-uring/core/http"
	"github.com/searchktools/fast-uring/core/pools"
)

// responseWriter collects one handler's response directly into the
// connection's send list. The worker keeps a single instance and rebinds it
// for every request.
type responseWriter struct {
	w       *Worker
	c       *Connection
	req     *http.Request
	status  http.Status
	headers []http.Pair
	bodyLen int
}

var _ http.ResponseWriter = (*responseWriter)(nil)

func (r *responseWriter) reset(c *Connection, req *http.Request) {
	r.c = c
	r.req = req
	r.status = http.StatusOK
	r.headers = r.w.headers[:0]
	r.bodyLen = 0
}

// writes returns the number of body buffers on the send list
func (r *responseWriter) writes() int { return len(r.c.send) - 1 }

func (r *responseWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c := r.c
	if last := &c.send[len(c.send)-1]; r.writes() > 0 && last.Owned() && last.Spare() >= len(p) {
		_ = last.Append(p)
		r.bodyLen += len(p)
		return len(p), nil
	}
	if r.writes() >= r.w.cfg.MaxWrites {
		return 0, http.ErrTooManyWrites
	}
	buf, err := r.w.alloc(len(p))
	if err != nil {
		return 0, err
	}
	_ = buf.Append(p)
	c.send = append(c.send, buf)
	r.bodyLen += len(p)
	return len(p), nil
}

func (r *responseWriter) WriteString(s string) (int, error) {
	return r.Write(unsafe.Slice(unsafe.StringData(s), len(s)))
}

// WriteBody queues request body bytes as borrowed views; the receive
// buffers outlive the send because they are released only after it
func (r *responseWriter) WriteBody(offset, n int) error {
	body := &r.req.Body
	pieces := 0
	if !body.Range(offset, n, func([]byte) { pieces++ }) {
		return http.ErrBodyRange
	}
	if r.writes()+pieces > r.w.cfg.MaxWrites {
		return http.ErrTooManyWrites
	}
	c := r.c
	body.Range(offset, n, func(p []byte) {
		c.send = append(c.send, pools.View(p))
	})
	r.bodyLen += n
	return nil
}

func (r *responseWriter) SetStatus(s http.Status) { r.status = s }

func (r *responseWriter) Status() http.Status { return r.status }

func (r *responseWriter) SetHeader(key, value string) error {
	if err := http.ValidateHeader(key, value); err != nil {
		return err
	}
	if len(r.headers) >= r.w.cfg.MaxHeaders {
		return http.ErrTooManyHeaders
	}
	r.headers = append(r.headers, http.Pair{Key: key, Value: value})
	return nil
}
