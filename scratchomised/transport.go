package scratchomised

import (
	"context"
	"errors"
	"fmt"

	"github.com/scratchomised/scratchomised-sdk-go/scratchomised/internal"
)

// StatusCode is a websocket close code.
type StatusCode int

const (
	StatusNormalClosure   StatusCode = 1000
	StatusGoingAway       StatusCode = 1001
	StatusProtocolError   StatusCode = 1002
	StatusAbnormalClosure StatusCode = 1006
)

// CloseError reports how a connection ended. Code is StatusAbnormalClosure
// when no close frame was received.
type CloseError struct {
	Code   StatusCode
	Reason string
	Err    error
}

func (e *CloseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("closed with status %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("closed with status %d %s", e.Code, e.Reason)
}

func (e *CloseError) Unwrap() error { return e.Err }

// closeCode returns the close code carried by err, or StatusAbnormalClosure.
func closeCode(err error) StatusCode {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return StatusAbnormalClosure
}

// Conn is one open connection to the peer.
// Read returns a *CloseError once the connection is gone.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code StatusCode, reason string) error
}

// Dialer opens connections. The session calls it from its own goroutine and
// cancels ctx when the attempt is abandoned.
type Dialer interface {
	Dial(ctx context.Context, target Target, subprotocol string) (Conn, error)
}

// wsDialer dials with coder/websocket.
type wsDialer struct {
	cfg Config
}

func (d wsDialer) Dial(ctx context.Context, target Target, subprotocol string) (Conn, error) {
	c, err := internal.Dial(ctx, target.URL(), internal.DialOptions{
		Subprotocol:      subprotocol,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
		ReadTimeout:      d.cfg.ReadTimeout,
		WriteTimeout:     d.cfg.WriteTimeout,
		ReadLimit:        d.cfg.ReadLimit,
	})
	if err != nil {
		var sp *internal.ErrSubprotocol
		if errors.As(err, &sp) {
			return nil, WrapError(ErrorSubprotocol, "peer rejected subprotocol", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, WrapError(ErrorTimeout, "dial "+target.URL(), err)
		}
		return nil, WrapError(ErrorConnection, "dial "+target.URL(), err)
	}
	return wsConn{c}, nil
}

type wsConn struct {
	c *internal.Conn
}

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	data, err := w.c.Read(ctx)
	if err != nil {
		code := StatusCode(internal.CloseStatus(err))
		if code < 0 {
			return nil, &CloseError{Code: StatusAbnormalClosure, Err: err}
		}
		return nil, &CloseError{Code: code}
	}
	return data, nil
}

func (w wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, data)
}

func (w wsConn) Close(code StatusCode, reason string) error {
	return w.c.Close(int(code), reason)
}
