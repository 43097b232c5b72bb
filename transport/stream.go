package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/Mmx233/QFarm/protocol"
)

// deadlineWriter is implemented by quic streams and net.Conn.
type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// streamConn adapts a byte stream to Conn with protocol framing.
type streamConn struct {
	rw           io.ReadWriter
	closeFn      func() error
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewStreamConn wraps a framed byte stream. closeFn tears down the underlying link.
func NewStreamConn(rw io.ReadWriter, closeFn func() error, writeTimeout time.Duration) Conn {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &streamConn{rw: rw, closeFn: closeFn, writeTimeout: writeTimeout}
}

func (c *streamConn) ReadMessage() ([]byte, error) {
	for {
		typ, payload, err := protocol.ReadFrame(c.rw)
		if err != nil {
			return nil, &Error{Op: "read", Err: err}
		}
		switch typ {
		case protocol.FrameEnvelope:
			return payload, nil
		case protocol.FrameClose:
			return nil, &Error{Op: "read", Err: fmt.Errorf("%w: %s", io.EOF, payload)}
		}
	}
}

func (c *streamConn) WriteMessage(ctx context.Context, data []byte) error {
	return c.writeFrame(ctx, protocol.FrameEnvelope, data)
}

func (c *streamConn) writeFrame(ctx context.Context, typ byte, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if dw, ok := c.rw.(deadlineWriter); ok {
		_ = dw.SetWriteDeadline(writeDeadline(ctx, c.writeTimeout))
	}
	if err := protocol.WriteFrame(c.rw, typ, data); err != nil {
		return &Error{Op: "write", Err: err}
	}
	return nil
}

func (c *streamConn) Close() error {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeGracePeriod)
		_ = c.writeFrame(ctx, protocol.FrameClose, []byte("closed"))
		cancel()
		if c.closeFn != nil {
			c.closeErr = c.closeFn()
		}
	})
	return c.closeErr
}

// writeHello sends the dial query as the first frame.
func writeHello(w io.Writer, query string) error {
	return protocol.WriteFrame(w, protocol.FrameHello, []byte(query))
}

// ReadHello reads the first frame of an accepted stream and returns the dial query.
func ReadHello(r io.Reader) (url.Values, error) {
	typ, payload, err := protocol.ReadFrame(r)
	if err != nil {
		return nil, &Error{Op: "read", Err: err}
	}
	if typ != protocol.FrameHello {
		return nil, &Error{Op: "read", Err: errors.New("expected hello frame")}
	}
	return url.ParseQuery(string(payload))
}
