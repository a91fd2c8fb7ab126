package wire

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/MrWong99/parley/internal/protocol"
	"github.com/coder/websocket"
)

// Compile-time assertions.
var (
	_ Dialer = (*Client)(nil)
	_ Conn   = (*wsConn)(nil)
)

const (
	DefaultModel = "gpt-4o-realtime-preview"
	DefaultURL   = "wss://api.openai.com/v1/realtime"

	// readLimit bounds a single inbound message. Audio deltas are far below
	// this; the websocket default of 32 KiB is not.
	readLimit = 1 << 22
)

// Option configures a [Client].
type Option func(*Client)

// WithModel sets the realtime model requested in the URL.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithURL overrides the websocket endpoint. Used in tests to point at a local
// server.
func WithURL(u string) Option {
	return func(c *Client) { c.url = u }
}

// WithHTTPClient sets the HTTP client used for the handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client dials the OpenAI Realtime websocket API.
type Client struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client
}

// New returns a Client authenticating with apiKey.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{apiKey: apiKey, model: DefaultModel, url: DefaultURL}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("wire: parse url: %w", err)
	}
	if c.model != "" {
		q := u.Query()
		q.Set("model", c.model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial opens a connection. The handshake is bounded by ctx.
func (c *Client) Dial(ctx context.Context) (Conn, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, NewError(KindUnknown, err)
	}
	ws, resp, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: c.httpClient,
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, Classify(fmt.Errorf("dial: %w", err), resp)
	}
	ws.SetReadLimit(readLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	return &wsConn{ws: ws, ctx: connCtx, cancel: cancel}, nil
}

// wsConn is a [Conn] over a coder/websocket connection.
type wsConn struct {
	ws *websocket.Conn

	// ctx is cancelled by Close so a blocked Read returns.
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func (c *wsConn) Send(ctx context.Context, ev protocol.ClientEvent) error {
	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("wire: send %s: %w", ev.EventType(), err)
	}
	return nil
}

func (c *wsConn) Events(ctx context.Context) iter.Seq2[protocol.ServerEvent, error] {
	return func(yield func(protocol.ServerEvent, error) bool) {
		readCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(c.ctx, cancel)
		defer stop()

		for {
			typ, data, err := c.ws.Read(readCtx)
			if err != nil {
				if readCtx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
					// Closed or cancelled by us.
					return
				}
				yield(nil, Classify(err, nil))
				return
			}
			if typ != websocket.MessageText {
				continue
			}
			ev, err := protocol.Decode(data)
			if err != nil {
				slog.Warn("wire: dropping undecodable event", "err", err)
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.ws.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}
