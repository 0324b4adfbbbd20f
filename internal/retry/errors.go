package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"
)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// RetryAfterer is implemented by errors that carry a server-supplied
// Retry-After delay.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// networkCodes are the error codes treated as transient when an error can
// only be classified by its message.
var networkCodes = []string{
	"ECONNRESET",
	"ECONNREFUSED",
	"ETIMEDOUT",
	"ENOTFOUND",
	"EAI_AGAIN",
	"EPIPE",
	"connection reset by peer",
	"connection refused",
	"broken pipe",
	"i/o timeout",
	"TLS handshake timeout",
	"server misbehaving",
}

// StatusOf returns the HTTP status carried by err, if any.
func StatusOf(err error) (int, bool) {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus(), true
	}
	return 0, false
}

// RetryAfterOf returns the positive Retry-After carried by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var ra RetryAfterer
	if errors.As(err, &ra) {
		if d := ra.RetryAfter(); d > 0 {
			return d, true
		}
	}
	return 0, false
}

// IsRetryable reports whether err belongs to the default retryable set:
// network failures, HTTP 429 and HTTP 5xx.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if status, ok := StatusOf(err); ok {
		return status == 429 || status >= 500
	}
	return IsNetworkError(err)
}

// IsNetworkError reports whether err is a transient transport failure.
// Structured checks come first; message matching against well-known codes
// is the last resort for errors that lost their type on the way up.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ETIMEDOUT, syscall.EPIPE, syscall.ECONNABORTED:
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := err.Error()
	for _, code := range networkCodes {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}
