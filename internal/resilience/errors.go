package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind is the closed error taxonomy every caller of Execute matches on.
type Kind int

const (
	KindTransient Kind = iota
	KindCircuitOpen
	KindInvalidInput
	KindTransportDown
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindCircuitOpen:
		return "circuit_open"
	case KindInvalidInput:
		return "invalid_input"
	case KindTransportDown:
		return "transport_down"
	default:
		return "permanent"
	}
}

// Error wraps an upstream failure with its classification. Code is the
// syscall mnemonic or HTTP status label used for the errorsByType counters.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrCircuitOpen is returned by Execute while a family's breaker is open.
var ErrCircuitOpen = &Error{Kind: KindCircuitOpen, Code: "CIRCUIT_OPEN"}

// ErrTransportDown signals that the chat session is offline. Workers requeue
// instead of burning a delivery attempt.
var ErrTransportDown = &Error{Kind: KindTransportDown, Code: "TRANSPORT_DOWN"}

// HTTPError carries an upstream HTTP status so classification can decide
// retriability without depending on any particular client library.
type HTTPError struct {
	Status int
	Err    error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %v", e.Status, e.Err)
}

func (e *HTTPError) Unwrap() error { return e.Err }

var retriableStatuses = map[int]bool{
	408: true, 429: true, 500: true, 502: true, 503: true, 504: true,
}

var retriableErrnos = map[syscall.Errno]string{
	syscall.ECONNRESET:   "ECONNRESET",
	syscall.ECONNREFUSED: "ECONNREFUSED",
	syscall.ETIMEDOUT:    "ETIMEDOUT",
	syscall.EPIPE:        "EPIPE",
	syscall.ECONNABORTED: "ECONNABORTED",
}

// Classify folds an arbitrary error into the taxonomy. Already-classified
// errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	if code, ok := retriableCode(err); ok {
		return &Error{Kind: KindTransient, Code: code, Err: err}
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return &Error{Kind: KindPermanent, Code: fmt.Sprintf("HTTP_%d", httpErr.Status), Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindPermanent, Code: "CANCELED", Err: err}
	}
	return &Error{Kind: KindPermanent, Code: "UNKNOWN", Err: err}
}

func retriableCode(err error) (string, bool) {
	for errno, code := range retriableErrnos {
		if errors.Is(err, errno) {
			return code, true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTemporary {
			return "EAI_AGAIN", true
		}
		return "ENOTFOUND", true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ETIMEDOUT", true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && retriableStatuses[httpErr.Status] {
		return fmt.Sprintf("HTTP_%d", httpErr.Status), true
	}

	// Transport bridges report upstream errno mnemonics as plain strings.
	msg := err.Error()
	for _, code := range []string{"ECONNRESET", "ECONNREFUSED", "ETIMEDOUT", "ENOTFOUND", "EAI_AGAIN", "EPIPE", "ECONNABORTED"} {
		if strings.Contains(msg, code) {
			return code, true
		}
	}
	return "", false
}

// Retriable reports whether an error should be retried by the executor.
func Retriable(err error) bool {
	c := Classify(err)
	return c != nil && c.Kind == KindTransient
}
