package http

import (
	nethttp "net/http"
)

// Status is an HTTP status code
type Status int

const (
	StatusContinue             Status = 100
	StatusOK                   Status = 200
	StatusCreated              Status = 201
	StatusNoContent            Status = 204
	StatusMovedPermanently     Status = 301
	StatusFound                Status = 302
	StatusNotModified          Status = 304
	StatusBadRequest           Status = 400
	StatusForbidden            Status = 403
	StatusNotFound             Status = 404
	StatusMethodNotAllowed     Status = 405
	StatusRequestTimeout       Status = 408
	StatusLengthRequired       Status = 411
	StatusContentTooLarge      Status = 413
	StatusTooManyRequests      Status = 429
	StatusHeaderFieldsTooLarge Status = 431
	StatusInternalServerError  Status = 500
	StatusNotImplemented       Status = 501
	StatusServiceUnavailable   Status = 503
)

// Text returns the reason phrase, empty for unknown codes
func (s Status) Text() string {
	return nethttp.StatusText(int(s))
}

// Valid reports whether s is a three digit code
func (s Status) Valid() bool {
	return s >= 100 && s <= 999
}

// Class returns the status class (1 to 5), 0 if invalid
func (s Status) Class() int {
	if s < 100 || s > 599 {
		return 0
	}
	return int(s) / 100
}
