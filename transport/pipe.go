package transport

import (
	"context"
	"net/url"
	"sync"
)

const pipeBuffer = 256

// pipeConn is one end of an in-process message pipe
type pipeConn struct {
	in     <-chan []byte
	out    chan<- []byte
	closed chan struct{}
	once   *sync.Once
}

// Pipe returns two connected in-process Conns. Closing either end closes both.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	closed := make(chan struct{})
	once := &sync.Once{}
	return &pipeConn{in: ba, out: ab, closed: closed, once: once},
		&pipeConn{in: ab, out: ba, closed: closed, once: once}
}

func (p *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.closed:
		// Deliver what was written before the close.
		select {
		case msg := <-p.in:
			return msg, nil
		default:
			return nil, &Error{Op: "read", Err: ErrClosed}
		}
	}
}

func (p *pipeConn) WriteMessage(ctx context.Context, data []byte) error {
	select {
	case <-p.closed:
		return &Error{Op: "write", Err: ErrClosed}
	default:
	}
	msg := append([]byte(nil), data...)
	select {
	case p.out <- msg:
		return nil
	case <-p.closed:
		return &Error{Op: "write", Err: ErrClosed}
	case <-ctx.Done():
		return &Error{Op: "write", Err: ctx.Err()}
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// PipeDialer dials in-process peers. Every Dial creates a Pipe and hands
// the far end to Accept along with the dial query.
type PipeDialer struct {
	Accept func(conn Conn, query url.Values)
	// Fail, when set, is consulted before each dial; a non-nil error fails it.
	Fail func() error
}

func (d *PipeDialer) Dial(ctx context.Context, target string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "dial", Addr: redact(target), Err: err}
	}
	if d.Fail != nil {
		if err := d.Fail(); err != nil {
			return nil, &Error{Op: "dial", Addr: redact(target), Err: err}
		}
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, &Error{Op: "dial", Addr: target, Err: err}
	}
	local, remote := Pipe()
	d.Accept(remote, u.Query())
	return local, nil
}
