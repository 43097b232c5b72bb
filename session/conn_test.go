package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Mmx233/QFarm/client"
)

var errRefused = errors.New("connection refused")

// fakeConn scripts Connect outcomes and lets tests drop the socket
type fakeConn struct {
	mu       sync.Mutex
	results  []error // consumed in order, success once exhausted
	connects int
	cleanups int
	gate     chan struct{} // when set, Connect blocks until it is closed
	done     chan struct{}
	dropped  bool

	handlers map[client.HandlerID]fakeHandler
	nextID   client.HandlerID
}

type fakeHandler struct {
	t  client.EventType
	fn client.Handler
}

func newFakeConn(results ...error) *fakeConn {
	return &fakeConn{
		results:  results,
		done:     make(chan struct{}),
		handlers: make(map[client.HandlerID]fakeHandler),
	}
}

func (c *fakeConn) Connect(ctx context.Context, _ client.Credential) error {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	var err error
	if len(c.results) > 0 {
		err, c.results = c.results[0], c.results[1:]
	}
	if err == nil {
		c.done = make(chan struct{})
		c.dropped = false
	}
	return err
}

// drop simulates a socket loss
func (c *fakeConn) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dropped {
		c.dropped = true
		close(c.done)
	}
}

func (c *fakeConn) Cleanup() {
	c.mu.Lock()
	c.cleanups++
	c.mu.Unlock()
}

func (c *fakeConn) Close() error {
	c.drop()
	return nil
}

func (c *fakeConn) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *fakeConn) On(t client.EventType, fn client.Handler) client.HandlerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.handlers[c.nextID] = fakeHandler{t: t, fn: fn}
	return c.nextID
}

func (c *fakeConn) Off(id client.HandlerID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[id]
	delete(c.handlers, id)
	return ok
}

func (c *fakeConn) emit(ev client.Event) {
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

func (c *fakeConn) handlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

func (c *fakeConn) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *fakeConn) SendRequest(ctx context.Context, service, method string, body []byte) (*client.Reply, error) {
	return &client.Reply{}, nil
}

func (c *fakeConn) SendRequestTimeout(ctx context.Context, service, method string, body []byte, _ time.Duration) (*client.Reply, error) {
	return c.SendRequest(ctx, service, method, body)
}

func (c *fakeConn) UserState() client.UserState {
	return client.UserState{GID: 42, Name: "tester", Level: 3}
}
