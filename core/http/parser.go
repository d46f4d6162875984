package http

import (
	"bytes"
	"errors"
	"strconv"
	"unsafe"
)

// unsafeString converts byte slice to string without allocation
// WARNING: The returned string shares memory with the byte slice
func unsafeString(b []byte) string {
	return unsafe.String(unsafe.SliceData(b), len(b))
}

var (
	ErrMalformed        = errors.New("malformed request")
	ErrUnknownMethod    = errors.New("unknown request method")
	ErrMissingHost      = errors.New("missing Host header")
	ErrBadContentLength = errors.New("invalid Content-Length")
)

var (
	crlf       = []byte("\r\n")
	headerTerm = []byte("\r\n\r\n")
)

// HeaderEnd returns the length of the header block including the terminating
// blank line, or -1 if buf does not contain a complete block
func HeaderEnd(buf []byte) int {
	i := bytes.Index(buf, headerTerm)
	if i < 0 {
		return -1
	}
	return i + len(headerTerm)
}

// ParseRequestLine splits the first line of head into method, request target
// and protocol version
func ParseRequestLine(head []byte) (Method, []byte, []byte, error) {
	lineEnd := bytes.Index(head, crlf)
	if lineEnd < 0 {
		return MethodAny, nil, nil, ErrMalformed
	}
	line := head[:lineEnd]

	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return MethodAny, nil, nil, ErrMalformed
	}
	method, ok := ParseMethod(line[:sp1])
	if !ok {
		return MethodAny, nil, nil, ErrUnknownMethod
	}

	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 <= 0 {
		return method, nil, nil, ErrMalformed
	}
	target, proto := rest[:sp2], rest[sp2+1:]
	if !bytes.HasPrefix(proto, []byte("HTTP/")) {
		return method, nil, nil, ErrMalformed
	}
	return method, target, proto, nil
}

// SplitTarget separates the path from the query string
func SplitTarget(target []byte) (path, query []byte) {
	if i := bytes.IndexByte(target, '?'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, nil
}

// ParseRequest fills req from a complete header block. Params and headers
// are appended to req.Params and req.Headers up to their capacity; extra
// pairs are dropped. Strings in req alias head.
func ParseRequest(head []byte, req *Request) error {
	method, target, proto, err := ParseRequestLine(head)
	if err != nil {
		return err
	}
	path, query := SplitTarget(target)
	req.Method = method
	req.Path = unsafeString(path)
	req.Proto = unsafeString(proto)
	req.Params = parseParams(query, req.Params[:0])

	req.Headers = req.Headers[:0]
	err = forEachHeader(head, func(key, value []byte) bool {
		if len(req.Headers) == cap(req.Headers) {
			return false
		}
		req.Headers = append(req.Headers, Pair{Key: unsafeString(key), Value: unsafeString(value)})
		return true
	})
	if err != nil {
		return err
	}

	host, ok := req.Header("Host")
	if !ok {
		return ErrMissingHost
	}
	req.Host, req.Port, err = splitHostPort(host)
	return err
}

func parseParams(query []byte, dst []Pair) []Pair {
	for len(query) > 0 && len(dst) < cap(dst) {
		var pair []byte
		if i := bytes.IndexByte(query, '&'); i >= 0 {
			pair, query = query[:i], query[i+1:]
		} else {
			pair, query = query, nil
		}
		if len(pair) == 0 {
			continue
		}
		key, value := pair, []byte(nil)
		if i := bytes.IndexByte(pair, '='); i >= 0 {
			key, value = pair[:i], pair[i+1:]
		}
		dst = append(dst, Pair{Key: unsafeString(key), Value: unsafeString(value)})
	}
	return dst
}

func splitHostPort(host string) (string, int, error) {
	colon := -1
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			colon = i
			break
		}
		if host[i] == ']' {
			break
		}
	}
	if colon < 0 {
		return host, DefaultPort, nil
	}
	port, err := strconv.Atoi(host[colon+1:])
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, ErrMalformed
	}
	return host[:colon], port, nil
}

// forEachHeader calls fn for every header line of head, stopping early when
// fn returns false
func forEachHeader(head []byte, fn func(key, value []byte) bool) error {
	lineEnd := bytes.Index(head, crlf)
	if lineEnd < 0 {
		return ErrMalformed
	}
	rest := head[lineEnd+2:]
	for len(rest) > 0 {
		end := bytes.Index(rest, crlf)
		if end < 0 {
			return ErrMalformed
		}
		line := rest[:end]
		rest = rest[end+2:]
		if len(line) == 0 {
			return nil
		}

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return ErrMalformed
		}
		key := bytes.TrimSpace(line[:colon])
		value := bytes.TrimSpace(line[colon+1:])
		if len(key) == 0 {
			return ErrMalformed
		}
		if !fn(key, value) {
			return nil
		}
	}
	return nil
}

// ContentLength returns the declared body length. ok is false when the
// header is absent.
func ContentLength(head []byte) (n int64, ok bool, err error) {
	var parseErr error
	err = forEachHeader(head, func(key, value []byte) bool {
		if !bytes.EqualFold(key, []byte("Content-Length")) {
			return true
		}
		ok = true
		n, parseErr = strconv.ParseInt(unsafeString(value), 10, 64)
		if parseErr != nil || n < 0 {
			parseErr = ErrBadContentLength
		}
		return false
	})
	if err == nil {
		err = parseErr
	}
	if err != nil {
		return 0, ok, err
	}
	return n, ok, nil
}

// HasHeaderValue reports whether head carries key with value, both compared
// case-insensitively
func HasHeaderValue(head []byte, key, value string) bool {
	found := false
	_ = forEachHeader(head, func(k, v []byte) bool {
		if bytes.EqualFold(k, []byte(key)) {
			found = bytes.EqualFold(v, []byte(value))
			return false
		}
		return true
	})
	return found
}
