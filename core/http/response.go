package http

import (
	"errors"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

var (
	ErrTooManyWrites  = errors.New("too many writes in one handler")
	ErrBodyRange      = errors.New("body range out of bounds")
	ErrTooManyHeaders = errors.New("too many response headers")
	ErrInvalidHeader  = errors.New("invalid response header")
	ErrReservedHeader = errors.New("Content-Length is computed by the server")
	ErrHeadTooLarge   = errors.New("response head exceeds the header buffer")
)

// ResponseWriter collects a handler's response. It is valid only until the
// handler returns.
type ResponseWriter interface {
	// Write appends p to the response body
	Write(p []byte) (int, error)
	// WriteString appends s to the response body
	WriteString(s string) (int, error)
	// WriteBody appends request body bytes [offset, offset+n) to the
	// response without copying
	WriteBody(offset, n int) error
	// SetStatus sets the response status, 200 if never called
	SetStatus(s Status)
	// SetHeader adds a response header
	SetHeader(key, value string) error
	// Status returns the status set so far
	Status() Status
}

// Handler serves one request
type Handler func(req *Request, w ResponseWriter)

// ValidateHeader checks a handler supplied header field
func ValidateHeader(key, value string) error {
	if !httpguts.ValidHeaderFieldName(key) || !httpguts.ValidHeaderFieldValue(value) {
		return ErrInvalidHeader
	}
	if strings.EqualFold(key, "Content-Length") {
		return ErrReservedHeader
	}
	return nil
}

// ShouldHaveContentLength reports whether a response carries a computed
// Content-Length header
func ShouldHaveContentLength(m Method, s Status) bool {
	return m != MethodConnect && s != StatusNoContent && s != StatusNotModified && s >= 200
}

// BodyAllowed reports whether body bytes follow the response head
func BodyAllowed(m Method, s Status) bool {
	return m != MethodHead && s >= 200 && s != StatusNoContent && s != StatusNotModified
}

const (
	protoPrefix   = "HTTP/1.1 "
	contentLength = "\r\nContent-Length: "
)

// HeadSize returns the exact size AppendResponseHead will produce
func HeadSize(s Status, m Method, headers []Pair, bodyLen int) int {
	n := len(protoPrefix) + 3 + 1 + len(s.Text())
	for i := range headers {
		n += 2 + len(headers[i].Key) + 2 + len(headers[i].Value)
	}
	if ShouldHaveContentLength(m, s) {
		n += len(contentLength) + digits(bodyLen)
	}
	return n + 4
}

// AppendResponseHead formats the status line, headers and the computed
// Content-Length followed by the blank line
func AppendResponseHead(dst []byte, s Status, m Method, headers []Pair, bodyLen int) []byte {
	dst = append(dst, protoPrefix...)
	dst = strconv.AppendInt(dst, int64(s), 10)
	dst = append(dst, ' ')
	dst = append(dst, s.Text()...)
	for i := range headers {
		dst = append(dst, "\r\n"...)
		dst = append(dst, headers[i].Key...)
		dst = append(dst, ": "...)
		dst = append(dst, headers[i].Value...)
	}
	if ShouldHaveContentLength(m, s) {
		dst = append(dst, contentLength...)
		dst = strconv.AppendInt(dst, int64(bodyLen), 10)
	}
	return append(dst, "\r\n\r\n"...)
}

// FormatResponseHead writes the response head into buf and returns its
// length, or ErrHeadTooLarge when buf cannot hold it
func FormatResponseHead(buf []byte, s Status, m Method, headers []Pair, bodyLen int) (int, error) {
	if size := HeadSize(s, m, headers, bodyLen); size > len(buf) {
		return 0, ErrHeadTooLarge
	}
	return len(AppendResponseHead(buf[:0], s, m, headers, bodyLen)), nil
}

// AppendStatusResponse formats a response made of the status line only
func AppendStatusResponse(dst []byte, s Status) []byte {
	dst = append(dst, protoPrefix...)
	dst = strconv.AppendInt(dst, int64(s), 10)
	dst = append(dst, ' ')
	dst = append(dst, s.Text()...)
	return append(dst, "\r\n\r\n"...)
}

func digits(n int) int {
	d := 1
	for n >= 10 {
		n /= 10
		d++
	}
	return d
}
