package upstream

import (
	"context"
	"errors"
	"net"
	"net/url"
	"syscall"
)

// ErrorKind classifies a transport-level failure into a small enum derived
// from the HTTP client's native error kinds, in place of string-matching on
// error codes like ECONNREFUSED/ETIMEDOUT/ECONNABORTED.
type ErrorKind int

const (
	// KindOther covers any transport failure that isn't one of the three
	// kinds below; it does not drive a backend UNHEALTHY on its own.
	KindOther ErrorKind = iota
	// KindRefused means the connection was refused by the peer.
	KindRefused
	// KindTimeout means the call exceeded its deadline.
	KindTimeout
	// KindAborted means the connection was reset or closed mid-flight.
	KindAborted
)

// ClassifyError inspects err (as returned by an *http.Client call) and
// reports its ErrorKind. Only KindRefused, KindTimeout and KindAborted mark
// a backend UNHEALTHY; everything else is KindOther.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindOther
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return KindTimeout
		}
		err = urlErr.Err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindRefused
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return KindAborted
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return KindRefused
		}
		if errors.Is(opErr.Err, syscall.ECONNRESET) {
			return KindAborted
		}
	}

	return KindOther
}

// IsUnhealthySignal reports whether kind should drive a backend UNHEALTHY:
// refused, timed-out and aborted transport failures do; anything else does
// not.
func IsUnhealthySignal(kind ErrorKind) bool {
	switch kind {
	case KindRefused, KindTimeout, KindAborted:
		return true
	default:
		return false
	}
}
