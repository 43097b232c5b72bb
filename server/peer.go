package server

import (
	"context"
	"net/url"
	"sync/atomic"

	"github.com/Mmx233/QFarm/protocol"
	"github.com/Mmx233/QFarm/server/connid"
	"github.com/Mmx233/QFarm/transport"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Peer is one connected client
type Peer struct {
	ID       connid.ID
	Query    url.Values
	Identity string // verified certificate name on QUIC, empty otherwise

	conn      transport.Conn
	limiter   *rate.Limiter // nil when rate limiting is off
	loggedIn  atomic.Bool
	serverSeq atomic.Int64
	logger    zerolog.Logger
}

func (p *Peer) LoggedIn() bool {
	return p.loggedIn.Load()
}

func (p *Peer) send(env *protocol.Envelope) error {
	env.Meta.ServerSeq = p.serverSeq.Add(1)
	return p.conn.WriteMessage(context.Background(), protocol.Encode(env))
}

// Push sends a notification to this peer
func (p *Peer) Push(eventType string, body []byte) error {
	return p.send(protocol.NewNotify(eventType, body))
}

// Close drops the connection
func (p *Peer) Close() error {
	return p.conn.Close()
}
