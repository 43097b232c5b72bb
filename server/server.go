// Package server is a local gate simulator speaking the client protocol
// over WebSocket and QUIC.
package server

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mmx233/QFarm/config"
	"github.com/Mmx233/QFarm/protocol"
	"github.com/Mmx233/QFarm/server/connid"
	"github.com/Mmx233/QFarm/transport"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Handler answers one request. Returning a *GateError replies with its code;
// any other error replies with CodeBadRequest.
type Handler func(p *Peer, body []byte) ([]byte, error)

// Server simulates the game gate
type Server struct {
	conf     *config.Sim
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	heartbeat atomic.Bool
	loginCode atomic.Int64

	mu       sync.RWMutex
	closed   bool
	player   protocol.UserBasic
	handlers map[string]Handler
	peers    map[connid.ID]*Peer
	requests map[string]int
	wg       sync.WaitGroup
}

// New creates a simulator. conf must have defaults applied.
func New(conf *config.Sim, logger zerolog.Logger) *Server {
	s := &Server{
		conf:   conf,
		logger: logger.With().Str("com", "sim").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		player: protocol.UserBasic{
			GID:   conf.Player.GID,
			Name:  conf.Player.Name,
			Level: conf.Player.Level,
			Gold:  conf.Player.Gold,
			Exp:   conf.Player.Exp,
		},
		handlers: make(map[string]Handler),
		peers:    make(map[connid.ID]*Peer),
		requests: make(map[string]int),
	}
	s.heartbeat.Store(conf.HeartbeatEnabled())
	s.loginCode.Store(conf.LoginErrorCode)
	return s
}

// Handle routes service.method to h, replacing any previous handler
func (s *Server) Handle(service, method string, h Handler) {
	s.mu.Lock()
	s.handlers[service+"."+method] = h
	s.mu.Unlock()
}

// SetHeartbeat toggles heartbeat replies; off simulates a hung gate
func (s *Server) SetHeartbeat(on bool) {
	s.heartbeat.Store(on)
}

// SetLoginErrorCode rejects logins with code; 0 accepts them again
func (s *Server) SetLoginErrorCode(code int64) {
	s.loginCode.Store(code)
}

// Player returns the account state reported on login
func (s *Server) Player() protocol.UserBasic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.player
}

// SetPlayer replaces the account state and pushes a BasicNotify to every
// logged-in peer. It returns how many peers were notified.
func (s *Server) SetPlayer(p protocol.UserBasic) int {
	s.mu.Lock()
	s.player = p
	s.mu.Unlock()
	n := &protocol.BasicNotify{Basic: &p}
	return s.Push(protocol.TypeBasicNotify, n.Marshal())
}

// ServeHTTP upgrades to WebSocket and serves the peer until it disconnects
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	s.ServeConn(transport.NewWebSocketConn(ws, 0), r.URL.Query())
}

// Accept serves conn in the background. It matches transport.PipeDialer.Accept.
func (s *Server) Accept(conn transport.Conn, query url.Values) {
	p, ok := s.register(conn, query, "")
	if !ok {
		return
	}
	go s.serve(p)
}

// ServeConn serves conn until it fails or the server closes
func (s *Server) ServeConn(conn transport.Conn, query url.Values) {
	if p, ok := s.register(conn, query, ""); ok {
		s.serve(p)
	}
}

func (s *Server) register(conn transport.Conn, query url.Values, identity string) (*Peer, bool) {
	p := &Peer{
		ID:       connid.Next(),
		Query:    query,
		Identity: identity,
		conn:     conn,
	}
	if rl := s.conf.RateLimit; rl.RequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.Burst)
	}
	p.logger = s.logger.With().Str("peer", p.ID.String()).Str("platform", query.Get("platform")).Logger()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return nil, false
	}
	s.peers[p.ID] = p
	s.wg.Add(1)
	s.mu.Unlock()

	p.logger.Info().Str("identity", identity).Msg("peer connected")
	return p, true
}

func (s *Server) serve(p *Peer) {
	defer s.wg.Done()
	defer func() {
		_ = p.conn.Close()
		s.mu.Lock()
		delete(s.peers, p.ID)
		s.mu.Unlock()
		p.logger.Info().Msg("peer disconnected")
	}()

	for {
		data, err := p.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, transport.ErrClosed) {
				p.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			p.logger.Warn().Err(err).Msg("dropping malformed message")
			continue
		}
		if env.Meta.MessageType != protocol.MessageTypeRequest {
			continue
		}

		reply := s.dispatch(p, env)
		if reply == nil {
			continue
		}
		if err := p.send(reply); err != nil {
			p.logger.Debug().Err(err).Msg("write failed")
			return
		}
	}
}

// dispatch returns the reply for req, or nil to stay silent
func (s *Server) dispatch(p *Peer, req *protocol.Envelope) *protocol.Envelope {
	method := req.Meta.FullMethod()
	s.mu.Lock()
	s.requests[method]++
	h := s.handlers[method]
	s.mu.Unlock()

	switch {
	case req.Meta.ServiceName == protocol.UserService && req.Meta.MethodName == protocol.MethodLogin:
		return s.login(p, req)
	case !p.LoggedIn():
		return errorReply(req, CodeNotLoggedIn, "not logged in")
	case req.Meta.ServiceName == protocol.UserService && req.Meta.MethodName == protocol.MethodHeartbeat:
		if !s.heartbeat.Load() {
			return nil
		}
		hb := &protocol.HeartbeatReply{ServerTime: time.Now().UnixMilli()}
		return okReply(req, hb.Marshal())
	}

	if p.limiter != nil && !p.limiter.Allow() {
		p.logger.Debug().Str("method", method).Msg("rate limited")
		return errorReply(req, s.conf.RateLimit.ErrorCode, "too many requests")
	}
	if h == nil {
		return errorReply(req, CodeUnknownMethod, "unknown method "+method)
	}

	body, err := h(p, req.Body)
	if err != nil {
		var ge *GateError
		if errors.As(err, &ge) {
			return errorReply(req, ge.Code, ge.Message)
		}
		return errorReply(req, CodeBadRequest, err.Error())
	}
	return okReply(req, body)
}

func (s *Server) login(p *Peer, req *protocol.Envelope) *protocol.Envelope {
	if code := s.loginCode.Load(); code != 0 {
		p.logger.Info().Int64("code", code).Msg("login rejected")
		return errorReply(req, code, "login rejected")
	}
	if p.Query.Get("code") == "" {
		return errorReply(req, CodeMissingCode, "missing login code")
	}
	var lr protocol.LoginRequest
	if err := lr.Unmarshal(req.Body); err != nil {
		return errorReply(req, CodeBadRequest, err.Error())
	}

	p.loggedIn.Store(true)
	player := s.Player()
	p.logger.Info().
		Str("client_version", lr.DeviceInfo.ClientVersion).
		Int64("gid", player.GID).
		Msg("login accepted")

	reply := &protocol.LoginReply{Basic: &player, TimeNowMillis: time.Now().UnixMilli()}
	return okReply(req, reply.Marshal())
}

func okReply(req *protocol.Envelope, body []byte) *protocol.Envelope {
	return &protocol.Envelope{
		Meta: protocol.Meta{
			ServiceName: req.Meta.ServiceName,
			MethodName:  req.Meta.MethodName,
			MessageType: protocol.MessageTypeResponse,
			ClientSeq:   req.Meta.ClientSeq,
		},
		Body: body,
	}
}

func errorReply(req *protocol.Envelope, code int64, msg string) *protocol.Envelope {
	env := okReply(req, nil)
	env.Meta.ErrorCode = code
	env.Meta.ErrorMessage = msg
	return env
}

func (s *Server) snapshot() []*Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	return peers
}

// Push notifies every logged-in peer and returns how many were reached
func (s *Server) Push(eventType string, body []byte) int {
	n := 0
	for _, p := range s.snapshot() {
		if !p.LoggedIn() {
			continue
		}
		if err := p.Push(eventType, body); err != nil {
			p.logger.Debug().Err(err).Msg("push failed")
			continue
		}
		n++
	}
	return n
}

// DisconnectAll drops every peer and returns how many there were
func (s *Server) DisconnectAll() int {
	peers := s.snapshot()
	for _, p := range peers {
		_ = p.Close()
	}
	if len(peers) > 0 {
		s.logger.Info().Int("peers", len(peers)).Msg("disconnected all peers")
	}
	return len(peers)
}

// PeerCount returns the number of connected peers
func (s *Server) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Requests returns how many service.method requests were received
func (s *Server) Requests(service, method string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests[service+"."+method]
}

// Close disconnects everyone, refuses new peers and waits for peer
// goroutines to exit
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.DisconnectAll()
	s.wg.Wait()
}
