package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
)

// Conn wraps websocket.Conn with timeouts.
type Conn struct {
	ws           *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// DialOptions are the knobs Dial needs from the session config.
type DialOptions struct {
	Subprotocol      string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
}

// ErrSubprotocol is returned when the peer picked another subprotocol.
type ErrSubprotocol struct {
	Want, Got string
}

func (e *ErrSubprotocol) Error() string {
	return fmt.Sprintf("peer negotiated subprotocol %q, want %q", e.Got, e.Want)
}

// Dial opens url and checks that the peer accepted the subprotocol.
func Dial(ctx context.Context, url string, opts DialOptions) (*Conn, error) {
	if opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.HandshakeTimeout)
		defer cancel()
	}
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{opts.Subprotocol},
	})
	if err != nil {
		return nil, err
	}
	if got := ws.Subprotocol(); got != opts.Subprotocol {
		_ = ws.Close(websocket.StatusProtocolError, "subprotocol mismatch")
		return nil, &ErrSubprotocol{Want: opts.Subprotocol, Got: got}
	}
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	return NewConn(ws, opts.ReadTimeout, opts.WriteTimeout), nil
}

func NewConn(ws *websocket.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{ws: ws, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

// Read returns the next text frame. Binary frames are skipped.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if c.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.readTimeout)
		defer cancel()
	}
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (c *Conn) Write(ctx context.Context, data []byte) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *Conn) Close(code int, reason string) error {
	return c.ws.Close(websocket.StatusCode(code), reason)
}

func (c *Conn) Subprotocol() string {
	return c.ws.Subprotocol()
}

// CloseStatus extracts the close code the peer sent, or -1.
func CloseStatus(err error) int {
	return int(websocket.CloseStatus(err))
}
