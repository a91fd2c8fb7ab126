package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/coder/websocket"
)

// Kind classifies a connection failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthenticationFailed
	KindAccessForbidden
	KindRateLimited
	KindTimeout
	KindConnectionLost
)

// String returns the metric label for k.
func (k Kind) String() string {
	switch k {
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindAccessForbidden:
		return "access_forbidden"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// Specific reports whether k names a concrete cause. Generic kinds
// ([KindConnectionLost], [KindUnknown]) are typically the tail of a failure
// cascade and must not replace a specific error already reported.
func (k Kind) Specific() bool {
	return k != KindUnknown && k != KindConnectionLost
}

// Message is a human-actionable description of k.
func (k Kind) Message() string {
	switch k {
	case KindAuthenticationFailed:
		return "The API key was rejected. Check your credentials and try again."
	case KindAccessForbidden:
		return "Access to the realtime model was denied for this account."
	case KindRateLimited:
		return "Too many requests. Wait a moment, then reconnect."
	case KindTimeout:
		return "The service did not respond in time. Check your network and retry."
	case KindConnectionLost:
		return "The connection to the service was lost. Reconnect to continue."
	default:
		return "Something went wrong talking to the service. Try reconnecting."
	}
}

// Error is a classified connection failure.
type Error struct {
	Kind Kind

	// Message is shown to the user. It defaults to Kind.Message().
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// NewError returns an Error of kind k wrapping err.
func NewError(k Kind, err error) *Error {
	return &Error{Kind: k, Message: k.Message(), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wire: %s: %v", e.Kind, e.Err)
	}
	return "wire: " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps a low-level failure to an [*Error]. resp is the handshake
// response, if one was received. An err that already is an *Error is
// returned unchanged.
func Classify(err error, resp *http.Response) *Error {
	if err == nil {
		return nil
	}
	var we *Error
	if errors.As(err, &we) {
		return we
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return NewError(KindAuthenticationFailed, err)
		case http.StatusForbidden:
			return NewError(KindAccessForbidden, err)
		case http.StatusTooManyRequests:
			return NewError(KindRateLimited, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return NewError(KindTimeout, err)
	}
	if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
		return NewError(KindAuthenticationFailed, err)
	}
	if websocket.CloseStatus(err) != -1 || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return NewError(KindConnectionLost, err)
	}
	var oe *net.OpError
	var de *net.DNSError
	if errors.As(err, &oe) || errors.As(err, &de) {
		return NewError(KindConnectionLost, err)
	}
	return NewError(KindUnknown, err)
}
