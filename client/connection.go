package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mmx233/QFarm/metrics"
	"github.com/Mmx233/QFarm/protocol"
	"github.com/Mmx233/QFarm/transport"
	"github.com/rs/zerolog"
)

// Connection is one logical link to the gate: it multiplexes requests over a
// single transport, fans out push notifications and tracks liveness.
// A Connection can be reconnected with Connect until Close is called.
type Connection struct {
	opts   Options
	logger zerolog.Logger

	mu        sync.Mutex
	link      *link // nil while no transport is open
	closed    bool
	clientSeq int64
	serverSeq int64
	user      UserState

	pending  *pendingMap
	handlers *handlers

	liveness   atomic.Int32
	timeOffset atomic.Int64 // server clock minus local clock, ms
}

// link is one transport generation and the goroutines serving it.
type link struct {
	conn   transport.Conn
	events *eventQueue

	done     chan struct{} // closed when the read loop has exited
	stopHB   chan struct{}
	stopOnce sync.Once

	lastReply atomic.Int64 // unix nanos of the last heartbeat reply
	misses    atomic.Int32
}

func newLink(conn transport.Conn) *link {
	return &link{
		conn:   conn,
		events: newEventQueue(),
		done:   make(chan struct{}),
		stopHB: make(chan struct{}),
	}
}

func (l *link) stopHeartbeat() {
	l.stopOnce.Do(func() { close(l.stopHB) })
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// New creates a disconnected Connection.
func New(opts Options, logger zerolog.Logger) *Connection {
	opts.applyDefaults()
	c := &Connection{
		opts:     opts,
		logger:   logger.With().Str("com", "conn").Str("account", opts.Name).Logger(),
		pending:  newPendingMap(),
		handlers: newHandlers(),
	}
	c.liveness.Store(int32(Healthy))
	return c
}

// Connect opens the transport and performs the login handshake. Any
// previous link is dropped first and the sequence counters restart.
func (c *Connection) Connect(ctx context.Context, cred Credential) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	old := c.link
	c.link = nil
	c.mu.Unlock()

	if old != nil {
		c.shutdownLink(old)
		c.pending.rejectAll(ErrConnectionReset)
	}

	c.logger.Info().Str("url", c.opts.URL).Str("platform", c.opts.Platform).Msg("connecting to gate")
	conn, err := c.opts.Dialer.Dial(ctx, c.dialURL(cred))
	if err != nil {
		return &ConnectError{Err: err}
	}

	l := newLink(conn)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.clientSeq = 1
	c.serverSeq = 0
	c.link = l
	c.mu.Unlock()

	go l.events.run(func(ev Event) { c.handlers.dispatch(ev, c.logger) })
	go c.readLoop(l)

	user, err := c.login(ctx)
	if err != nil {
		c.dropLink(l)
		return err
	}

	c.setLiveness(Healthy)
	l.lastReply.Store(time.Now().UnixNano())
	go c.heartbeatLoop(l)

	c.logger.Info().
		Int64("gid", user.GID).
		Str("name", user.Name).
		Int64("level", user.Level).
		Int64("gold", user.Gold).
		Msg("login succeeded")
	l.events.push(LoginEvent{User: user})
	return nil
}

func (c *Connection) dialURL(cred Credential) string {
	q := url.Values{}
	q.Set("platform", c.opts.Platform)
	q.Set("os", c.opts.OS)
	q.Set("ver", c.opts.ClientVersion)
	q.Set("code", cred.Code)
	q.Set("openID", cred.OpenID)
	return c.opts.URL + "?" + q.Encode()
}

func (c *Connection) login(ctx context.Context) (UserState, error) {
	req := &protocol.LoginRequest{DeviceInfo: c.opts.DeviceInfo, SceneID: c.opts.SceneID}
	reply, err := c.SendRequest(ctx, protocol.UserService, protocol.MethodLogin, req.Marshal())
	if err != nil {
		var re *ResponseError
		if errors.As(err, &re) {
			return UserState{}, &ConnectError{Code: re.Code, Message: re.Message, Err: err}
		}
		return UserState{}, &ConnectError{Err: fmt.Errorf("login: %w", err)}
	}

	var lr protocol.LoginReply
	if err := lr.Unmarshal(reply.Body); err != nil {
		metrics.RecordDecodeError("LoginReply")
		return UserState{}, &ConnectError{Err: err}
	}
	if lr.TimeNowMillis != 0 {
		c.syncServerTime(lr.TimeNowMillis)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if lr.Basic != nil {
		c.user = UserState{
			GID:   lr.Basic.GID,
			Name:  lr.Basic.Name,
			Level: lr.Basic.Level,
			Gold:  lr.Basic.Gold,
			Exp:   lr.Basic.Exp,
		}
	}
	return c.user, nil
}

// SendRequest issues a request with the default timeout.
func (c *Connection) SendRequest(ctx context.Context, service, method string, body []byte) (*Reply, error) {
	return c.SendRequestTimeout(ctx, service, method, body, c.opts.RequestTimeout)
}

// SendRequestTimeout issues a request and waits for the response with the
// same client sequence. Exactly one of reply, timeout, reset or ctx error is returned.
func (c *Connection) SendRequestTimeout(ctx context.Context, service, method string, body []byte, timeout time.Duration) (*Reply, error) {
	return c.request(ctx, nil, service, method, body, timeout)
}

// request sends on the current link. A non-nil on pins the request to that
// link and fails with ErrTransportClosed once it has been replaced.
func (c *Connection) request(ctx context.Context, on *link, service, method string, body []byte, timeout time.Duration) (*Reply, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	l := c.link
	if l == nil || (on != nil && on != l) {
		c.mu.Unlock()
		metrics.RecordRequest(method, "transport", 0)
		return nil, fmt.Errorf("%s.%s: %w", service, method, ErrTransportClosed)
	}
	seq := c.clientSeq
	c.clientSeq++
	serverSeq := c.serverSeq
	ch := c.pending.add(seq)
	c.mu.Unlock()

	start := time.Now()
	logger := c.logger.With().Int64("seq", seq).Str("service", service).Str("method", method).Logger()

	env := &protocol.Envelope{
		Meta: protocol.Meta{
			ServiceName: service,
			MethodName:  method,
			MessageType: protocol.MessageTypeRequest,
			ClientSeq:   seq,
			ServerSeq:   serverSeq,
		},
		Body: body,
	}
	if err := l.conn.WriteMessage(ctx, protocol.Encode(env)); err != nil {
		if c.pending.remove(seq) {
			metrics.RecordRequest(method, "transport", 0)
			return nil, err
		}
		res := <-ch
		return c.finish(method, start, res)
	}
	logger.Trace().Msg("request sent")
	metrics.SetPending(c.opts.Name, c.pending.len())

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return c.finish(method, start, res)
	case <-timer.C:
		if c.pending.remove(seq) {
			logger.Debug().Dur("timeout", timeout).Msg("request timed out")
			metrics.RecordRequest(method, "timeout", 0)
			return nil, fmt.Errorf("%s.%s seq=%d: %w", service, method, seq, ErrRequestTimeout)
		}
		return c.finish(method, start, <-ch)
	case <-ctx.Done():
		if c.pending.remove(seq) {
			metrics.RecordRequest(method, "canceled", 0)
			return nil, ctx.Err()
		}
		return c.finish(method, start, <-ch)
	}
}

func (c *Connection) finish(method string, start time.Time, res result) (*Reply, error) {
	metrics.SetPending(c.opts.Name, c.pending.len())
	var re *ResponseError
	switch {
	case res.err == nil:
		metrics.RecordRequest(method, "ok", time.Since(start))
	case errors.As(res.err, &re):
		metrics.RecordRequest(method, "error", time.Since(start))
	case errors.Is(res.err, ErrHeartbeatLost):
		metrics.RecordRequest(method, "heartbeat_lost", 0)
	default:
		metrics.RecordRequest(method, "reset", 0)
	}
	return res.reply, res.err
}

func (c *Connection) readLoop(l *link) {
	var readErr error
	for {
		data, err := l.conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		c.handleMessage(l, data)
	}

	c.mu.Lock()
	current := c.link == l
	if current {
		c.link = nil
	}
	closed := c.closed
	c.mu.Unlock()

	l.stopHeartbeat()
	_ = l.conn.Close()
	if current {
		if n := c.pending.rejectAll(ErrConnectionReset); n > 0 {
			c.logger.Debug().Int("pending", n).Msg("pending requests reset")
		}
		metrics.SetPending(c.opts.Name, 0)
	}
	l.events.close()

	if current && !closed {
		c.logger.Warn().Err(readErr).Msg("gate connection lost")
	} else {
		c.logger.Debug().Err(readErr).Msg("read loop exited")
	}
	close(l.done)
}

func (c *Connection) handleMessage(l *link, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		c.logger.Warn().Err(err).Int("size", len(data)).Msg("dropping malformed message")
		metrics.RecordDecodeError("envelope")
		return
	}

	if env.Meta.ServerSeq != 0 {
		c.mu.Lock()
		if env.Meta.ServerSeq > c.serverSeq {
			c.serverSeq = env.Meta.ServerSeq
		}
		c.mu.Unlock()
	}

	switch env.Meta.MessageType {
	case protocol.MessageTypeResponse:
		c.handleResponse(env)
	case protocol.MessageTypeNotify:
		c.handleNotify(l, env.Body)
	default:
		c.logger.Debug().Stringer("type", env.Meta.MessageType).Msg("ignoring message")
	}
}

func (c *Connection) handleResponse(env *protocol.Envelope) {
	meta := env.Meta
	res := result{reply: &Reply{Body: env.Body, Meta: meta}}
	if meta.ErrorCode != 0 {
		res = result{err: &ResponseError{
			Service: meta.ServiceName,
			Method:  meta.MethodName,
			Code:    meta.ErrorCode,
			Message: meta.ErrorMessage,
		}}
	}

	if c.pending.resolve(meta.ClientSeq, res) {
		return
	}

	metrics.RecordStrayResponse()
	event := c.logger.Warn().Int64("seq", meta.ClientSeq).Str("method", meta.FullMethod())
	if meta.ErrorCode != 0 {
		event = event.Int64("code", meta.ErrorCode).Str("error", meta.ErrorMessage)
	}
	event.Msg("response without pending request")
}

// Cleanup stops the heartbeat and rejects all pending requests with
// ErrConnectionReset. The transport is left as is.
func (c *Connection) Cleanup() {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l != nil {
		l.stopHeartbeat()
	}
	if n := c.pending.rejectAll(ErrConnectionReset); n > 0 {
		c.logger.Debug().Int("pending", n).Msg("pending requests reset")
	}
	metrics.SetPending(c.opts.Name, 0)
}

// Close cleans up and closes the transport. It is terminal and idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	l := c.link
	c.link = nil
	c.mu.Unlock()

	c.Cleanup()
	if l == nil {
		return nil
	}
	c.shutdownLink(l)
	c.logger.Info().Msg("connection closed")
	return nil
}

// dropLink detaches l if it is still current and tears it down.
func (c *Connection) dropLink(l *link) {
	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	c.mu.Unlock()
	c.shutdownLink(l)
}

func (c *Connection) shutdownLink(l *link) {
	l.stopHeartbeat()
	err := l.conn.Close()
	<-l.done
	if err != nil {
		c.logger.Debug().Err(err).Msg("transport close")
	}
}

// Done is closed when the current transport closes. Without an open
// transport it returns a closed channel.
func (c *Connection) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return closedChan
	}
	return c.link.done
}

// On subscribes fn to events of type t. Handlers run on a dispatcher
// goroutine in arrival order and may issue requests.
func (c *Connection) On(t EventType, fn Handler) HandlerID {
	return c.handlers.add(t, fn)
}

// Off removes a subscription. It reports whether id was subscribed.
func (c *Connection) Off(id HandlerID) bool {
	return c.handlers.remove(id)
}

func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil
}

// UserState returns a snapshot of the player summary.
func (c *Connection) UserState() UserState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Connection) PendingCount() int {
	return c.pending.len()
}

// ServerNow estimates the gate clock from the last login or heartbeat reply.
func (c *Connection) ServerNow() time.Time {
	return time.Now().Add(time.Duration(c.timeOffset.Load()) * time.Millisecond)
}

func (c *Connection) syncServerTime(serverMillis int64) {
	c.timeOffset.Store(serverMillis - time.Now().UnixMilli())
}
