package client

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Mmx233/QFarm/protocol"
	"github.com/Mmx233/QFarm/transport"
	"github.com/rs/zerolog"
)

// testPeer is a scripted gate. Login and Heartbeat are answered
// automatically; every other request is handed to the test.
type testPeer struct {
	mu    sync.Mutex
	conn  transport.Conn
	query url.Values

	basic         protocol.UserBasic
	loginCode     int64
	muteHeartbeat atomic.Bool
	heartbeats    atomic.Int32
	logins        []protocol.Meta
	serverSeq     atomic.Int64

	requests chan *protocol.Envelope
	dials    atomic.Int32
	failDial atomic.Int32 // remaining dials to refuse
}

func newTestPeer() *testPeer {
	return &testPeer{
		basic:    protocol.UserBasic{GID: 10086, Name: "farmer", Level: 5, Gold: 1000, Exp: 300},
		requests: make(chan *protocol.Envelope, 64),
	}
}

func (p *testPeer) dialer() transport.Dialer {
	return &transport.PipeDialer{
		Accept: p.accept,
		Fail: func() error {
			p.dials.Add(1)
			if p.failDial.Load() > 0 {
				p.failDial.Add(-1)
				return errors.New("connection refused")
			}
			return nil
		},
	}
}

func (p *testPeer) accept(conn transport.Conn, query url.Values) {
	p.mu.Lock()
	p.conn = conn
	p.query = query
	p.mu.Unlock()
	go p.serve(conn)
}

func (p *testPeer) serve(conn transport.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		switch env.Meta.MethodName {
		case protocol.MethodLogin:
			p.mu.Lock()
			p.logins = append(p.logins, env.Meta)
			code := p.loginCode
			basic := p.basic
			p.mu.Unlock()
			if code != 0 {
				p.replyError(conn, env.Meta, code, "invalid code")
				continue
			}
			p.replyOn(conn, env.Meta, (&protocol.LoginReply{Basic: &basic, TimeNowMillis: time.Now().UnixMilli()}).Marshal())
		case protocol.MethodHeartbeat:
			p.heartbeats.Add(1)
			if p.muteHeartbeat.Load() {
				continue
			}
			p.replyOn(conn, env.Meta, (&protocol.HeartbeatReply{ServerTime: time.Now().UnixMilli()}).Marshal())
		default:
			p.requests <- env
		}
	}
}

func (p *testPeer) current() transport.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

func (p *testPeer) send(env *protocol.Envelope) {
	env.Meta.ServerSeq = p.serverSeq.Add(1)
	_ = p.current().WriteMessage(context.Background(), protocol.Encode(env))
}

func (p *testPeer) replyOn(conn transport.Conn, req protocol.Meta, body []byte) {
	env := &protocol.Envelope{
		Meta: protocol.Meta{
			ServiceName: req.ServiceName,
			MethodName:  req.MethodName,
			MessageType: protocol.MessageTypeResponse,
			ClientSeq:   req.ClientSeq,
			ServerSeq:   p.serverSeq.Add(1),
		},
		Body: body,
	}
	_ = conn.WriteMessage(context.Background(), protocol.Encode(env))
}

func (p *testPeer) replyError(conn transport.Conn, req protocol.Meta, code int64, msg string) {
	env := &protocol.Envelope{Meta: protocol.Meta{
		ServiceName:  req.ServiceName,
		MethodName:   req.MethodName,
		MessageType:  protocol.MessageTypeResponse,
		ClientSeq:    req.ClientSeq,
		ServerSeq:    p.serverSeq.Add(1),
		ErrorCode:    code,
		ErrorMessage: msg,
	}}
	_ = conn.WriteMessage(context.Background(), protocol.Encode(env))
}

func (p *testPeer) reply(req protocol.Meta, body []byte) {
	p.replyOn(p.current(), req, body)
}

func (p *testPeer) push(eventType string, payload []byte) {
	p.send(protocol.NewNotify(eventType, payload))
}

func (p *testPeer) next(t testing.TB) *protocol.Envelope {
	t.Helper()
	select {
	case env := <-p.requests:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no request reached the peer")
		return nil
	}
}

func testOptions(p *testPeer) Options {
	return Options{
		Name:          "test",
		URL:           "ws://gate.test/prod/ws",
		Platform:      "qq",
		OS:            "iOS",
		ClientVersion: "1.6.0.14_20251224",
		Dialer:        p.dialer(),
	}
}

func connected(t testing.TB, p *testPeer, mutate func(*Options)) *Connection {
	t.Helper()
	opts := testOptions(p)
	if mutate != nil {
		mutate(&opts)
	}
	c := New(opts, zerolog.Nop())
	if err := c.Connect(context.Background(), Credential{Code: "code-1"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c
}
