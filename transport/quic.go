package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/quic-go/quic-go"
)

// NextProto is the ALPN identifier of the gate protocol over QUIC.
const NextProto = "qfarm-gate"

// QUICDialer dials quic://host:port gates. The gate protocol runs on a single
// bidirectional stream; the URL query travels in a hello frame.
type QUICDialer struct {
	TLSConfig    *tls.Config
	QUICConfig   *quic.Config
	Sessions     *SessionCacheManager
	WriteTimeout time.Duration
}

func (d *QUICDialer) Dial(ctx context.Context, target string) (Conn, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, &Error{Op: "dial", Addr: target, Err: err}
	}
	addr := u.Host

	tlsConf := &tls.Config{}
	if d.TLSConfig != nil {
		tlsConf = d.TLSConfig.Clone()
	}
	if tlsConf.ServerName == "" {
		host, _, _ := net.SplitHostPort(addr)
		tlsConf.ServerName = host
	}
	tlsConf.NextProtos = []string{NextProto}
	if d.Sessions != nil {
		tlsConf.ClientSessionCache = d.Sessions.GetOrCreate(addr)
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, d.QUICConfig)
	if err != nil {
		if d.Sessions != nil {
			d.Sessions.Clear(addr)
		}
		return nil, &Error{Op: "dial", Addr: addr, Err: err}
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, &Error{Op: "dial", Addr: addr, Err: fmt.Errorf("open stream: %w", err)}
	}
	if err := writeHello(stream, u.RawQuery); err != nil {
		_ = conn.CloseWithError(0, "hello failed")
		return nil, &Error{Op: "dial", Addr: addr, Err: err}
	}

	return NewStreamConn(stream, func() error {
		_ = stream.Close()
		return conn.CloseWithError(0, "shutdown")
	}, d.WriteTimeout), nil
}

// AcceptQUIC accepts the gate stream of an incoming QUIC connection and
// returns it as a Conn along with the client's dial query.
func AcceptQUIC(ctx context.Context, conn *quic.Conn, writeTimeout time.Duration) (Conn, url.Values, error) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, nil, &Error{Op: "accept", Addr: conn.RemoteAddr().String(), Err: err}
	}
	query, err := ReadHello(stream)
	if err != nil {
		_ = conn.CloseWithError(0, "bad hello")
		return nil, nil, err
	}
	return NewStreamConn(stream, func() error {
		_ = stream.Close()
		return conn.CloseWithError(0, "shutdown")
	}, writeTimeout), query, nil
}
