// Package mock provides test doubles for the wire package interfaces.
//
// Conn records every sent event and lets a test push inbound events one at a
// time. Push blocks until the consumer has finished handling the event (the
// consumer's loop body returned), which makes engine tests deterministic
// without sleeps.
//
// Example:
//
//	conn := mock.NewConn()
//	d := &mock.Dialer{Conn: conn}
//	// ... connect the engine with d ...
//	conn.Push(protocol.SessionCreated{})
//	updates := mock.SentOf[protocol.SessionUpdate](conn)
package mock

import (
	"context"
	"iter"
	"sync"

	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/wire"
)

var (
	_ wire.Dialer = (*Dialer)(nil)
	_ wire.Conn   = (*Conn)(nil)
)

// Dialer is a mock implementation of wire.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Conn is returned by Dial. If nil, a new Conn is created per call.
	Conn *Conn

	// Err, if non-nil, is returned by Dial.
	Err error

	// Block, if non-nil, makes Dial wait until it is closed or ctx is done.
	Block chan struct{}

	// Calls is the number of Dial invocations.
	Calls int
}

// Dial records the call and returns Conn or Err.
func (d *Dialer) Dial(ctx context.Context) (wire.Conn, error) {
	d.mu.Lock()
	d.Calls++
	block, err, conn := d.Block, d.Err, d.Conn
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, wire.Classify(ctx.Err(), nil)
		}
	}
	if err != nil {
		return nil, err
	}
	if conn == nil {
		conn = NewConn()
	}
	return conn, nil
}

// DialCalls returns the number of Dial invocations. Thread-safe.
func (d *Dialer) DialCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Calls
}

type inbound struct {
	ev   protocol.ServerEvent
	err  error
	done chan struct{}
}

// Conn is a mock implementation of wire.Conn.
type Conn struct {
	mu     sync.Mutex
	sent   []protocol.ClientEvent
	closed bool

	// SendErr, if non-nil, is returned by Send (the event is still recorded).
	SendErr error

	in       chan inbound
	closedCh chan struct{}
	once     sync.Once
}

// NewConn returns a ready Conn.
func NewConn() *Conn {
	return &Conn{in: make(chan inbound), closedCh: make(chan struct{})}
}

// Send records ev.
func (c *Conn) Send(_ context.Context, ev protocol.ClientEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, ev)
	return c.SendErr
}

// Events yields pushed events until Close, ctx cancellation, or a pushed
// terminal error.
func (c *Conn) Events(ctx context.Context) iter.Seq2[protocol.ServerEvent, error] {
	return func(yield func(protocol.ServerEvent, error) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closedCh:
				return
			case in := <-c.in:
				cont := yield(in.ev, in.err)
				close(in.done)
				if !cont || in.err != nil {
					return
				}
			}
		}
	}
}

// Push delivers ev and waits until the consumer has handled it. It returns
// false if the connection was closed first.
func (c *Conn) Push(ev protocol.ServerEvent) bool {
	return c.deliver(inbound{ev: ev, done: make(chan struct{})})
}

// Fail terminates the event sequence with err, as a dropped connection would.
func (c *Conn) Fail(err error) bool {
	return c.deliver(inbound{err: err, done: make(chan struct{})})
}

func (c *Conn) deliver(in inbound) bool {
	select {
	case c.in <- in:
	case <-c.closedCh:
		return false
	}
	<-in.done
	return true
}

// Close marks the connection closed. Idempotent.
func (c *Conn) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.closedCh)
	})
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Sent returns a copy of every event sent so far, in order.
func (c *Conn) Sent() []protocol.ClientEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.ClientEvent, len(c.sent))
	copy(out, c.sent)
	return out
}

// Reset forgets every sent event.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

// SentOf returns the sent events of concrete type T, in order.
func SentOf[T protocol.ClientEvent](c *Conn) []T {
	var out []T
	for _, ev := range c.Sent() {
		if v, ok := ev.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
