// Package wire is the persistent duplex connection to the realtime
// conversation service.
//
// A [Dialer] opens a [Conn]; the Conn sends [protocol.ClientEvent] values and
// delivers decoded [protocol.ServerEvent] values as a lazy sequence. Terminal
// failures are reported as [*Error] values carrying a [Kind] from a small
// taxonomy so callers can render an actionable message instead of a raw
// transport error.
package wire

import (
	"context"
	"iter"

	"github.com/MrWong99/parley/internal/protocol"
)

// Dialer opens connections to the conversation service.
type Dialer interface {
	// Dial establishes a new connection. Handshake failures are returned as
	// [*Error] values.
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one open connection.
type Conn interface {
	// Send writes one event. Failures are returned to the caller and never
	// retried.
	Send(ctx context.Context, ev protocol.ClientEvent) error

	// Events returns the inbound event sequence. The sequence ends when ctx is
	// cancelled, when Close is called, or after yielding exactly one terminal
	// [*Error]. Only one range over Events may be active at a time.
	Events(ctx context.Context) iter.Seq2[protocol.ServerEvent, error]

	// Close closes the connection. It is idempotent.
	Close() error
}
