package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Mmx233/QFarm/client"
)

type sentRequest struct {
	service, method string
	body            []byte
	timeout         time.Duration
}

// recordingConn answers every request and records it
type recordingConn struct {
	mu       sync.Mutex
	sent     []sentRequest
	fail     bool
	user     client.UserState
	done     chan struct{}
	handlers map[client.HandlerID]fakeHandler
	nextID   client.HandlerID
}

type fakeHandler struct {
	t  client.EventType
	fn client.Handler
}

func newRecordingConn() *recordingConn {
	return &recordingConn{
		done:     make(chan struct{}),
		handlers: make(map[client.HandlerID]fakeHandler),
		user:     client.UserState{GID: 7, Name: "farmer", Level: 4, Gold: 1200, Exp: 30},
	}
}

func (c *recordingConn) Connect(context.Context, client.Credential) error { return nil }
func (c *recordingConn) Cleanup()                                         {}
func (c *recordingConn) Done() <-chan struct{}                            { return c.done }

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return nil
}

func (c *recordingConn) SendRequest(ctx context.Context, service, method string, body []byte) (*client.Reply, error) {
	return c.SendRequestTimeout(ctx, service, method, body, 0)
}

func (c *recordingConn) SendRequestTimeout(_ context.Context, service, method string, body []byte, timeout time.Duration) (*client.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentRequest{service: service, method: method, body: body, timeout: timeout})
	if c.fail {
		return nil, errors.New("request failed")
	}
	return &client.Reply{Body: []byte{0x08, 0x01}}, nil
}

func (c *recordingConn) UserState() client.UserState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *recordingConn) On(t client.EventType, fn client.Handler) client.HandlerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.handlers[c.nextID] = fakeHandler{t: t, fn: fn}
	return c.nextID
}

func (c *recordingConn) Off(id client.HandlerID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[id]
	delete(c.handlers, id)
	return ok
}

func (c *recordingConn) emit(ev client.Event) {
	c.mu.Lock()
	var fns []client.Handler
	for _, h := range c.handlers {
		if h.t == ev.Type() {
			fns = append(fns, h.fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *recordingConn) requests() []sentRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentRequest(nil), c.sent...)
}
