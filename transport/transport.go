package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// Conn is a message-oriented, bidirectional link to the gate.
// It is exclusively owned by one connection; writes are serialized internally.
type Conn interface {
	// ReadMessage blocks until one whole message arrives or the link fails.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one whole message.
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens a Conn to a target URL.
type Dialer interface {
	Dial(ctx context.Context, target string) (Conn, error)
}

var (
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	ErrClosed            = errors.New("transport closed")
)

// Error is a failure of the underlying link
type Error struct {
	Op   string // dial, read, write
	Addr string
	Err  error
}

func (e *Error) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// MultiDialer picks a Dialer by URL scheme.
type MultiDialer map[string]Dialer

func (m MultiDialer) Dial(ctx context.Context, target string) (Conn, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, &Error{Op: "dial", Addr: target, Err: err}
	}
	d, ok := m[u.Scheme]
	if !ok {
		return nil, &Error{Op: "dial", Addr: u.Host, Err: fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)}
	}
	return d.Dial(ctx, target)
}

// NewDialer returns a MultiDialer handling ws, wss and quic.
func NewDialer(ws *WebSocketDialer, q *QUICDialer) MultiDialer {
	m := MultiDialer{}
	if ws != nil {
		m["ws"] = ws
		m["wss"] = ws
	}
	if q != nil {
		m["quic"] = q
	}
	return m
}
