package client

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Mmx233/QFarm/protocol"
	"github.com/Mmx233/QFarm/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestConnect_Login(t *testing.T) {
	p := newTestPeer()
	c := New(testOptions(p), zerolog.Nop())
	defer c.Close()

	logins := make(chan LoginEvent, 1)
	c.On(EventLogin, func(ev Event) { logins <- ev.(LoginEvent) })

	require.NoError(t, c.Connect(context.Background(), Credential{Code: "abc"}))
	assert.True(t, c.IsConnected())

	user := c.UserState()
	assert.Equal(t, UserState{GID: 10086, Name: "farmer", Level: 5, Gold: 1000, Exp: 300}, user)

	select {
	case ev := <-logins:
		assert.Equal(t, user, ev.User)
	case <-time.After(time.Second):
		t.Fatal("login event not delivered")
	}

	p.mu.Lock()
	query := p.query
	login := p.logins[0]
	p.mu.Unlock()
	assert.Equal(t, "abc", query.Get("code"))
	assert.Equal(t, "qq", query.Get("platform"))
	assert.Equal(t, "1.6.0.14_20251224", query.Get("ver"))
	assert.EqualValues(t, 1, login.ClientSeq)
	assert.Equal(t, protocol.UserService, login.ServiceName)
}

func TestConnect_Rejected(t *testing.T) {
	p := newTestPeer()
	p.loginCode = 1000016
	c := New(testOptions(p), zerolog.Nop())
	defer c.Close()

	err := c.Connect(context.Background(), Credential{Code: "stale"})
	var ce *ConnectError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.EqualValues(t, 1000016, ce.Code)
	assert.Equal(t, "invalid code", ce.Message)
	assert.Contains(t, err.Error(), "failed to connect")
	assert.False(t, c.IsConnected())
}

func TestConnect_DialFailure(t *testing.T) {
	p := newTestPeer()
	p.failDial.Store(1)
	c := New(testOptions(p), zerolog.Nop())
	defer c.Close()

	err := c.Connect(context.Background(), Credential{Code: "abc"})
	var ce *ConnectError
	require.True(t, errors.As(err, &ce))
	var te *transport.Error
	assert.True(t, errors.As(err, &te), "transport cause is preserved")
	assert.Zero(t, ce.Code)
	assert.False(t, c.IsConnected())
}

func TestSendRequest_EchoPing(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, nil)
	defer c.Close()

	type out struct {
		reply *Reply
		err   error
	}
	done := make(chan out, 1)
	go func() {
		r, err := c.SendRequest(context.Background(), "Echo", "Ping", []byte("ping"))
		done <- out{r, err}
	}()

	req := p.next(t)
	assert.Equal(t, "Echo", req.Meta.ServiceName)
	assert.Equal(t, "Ping", req.Meta.MethodName)
	assert.Equal(t, protocol.MessageTypeRequest, req.Meta.MessageType)
	assert.EqualValues(t, 2, req.Meta.ClientSeq, "seq 1 was the login")
	p.reply(req.Meta, []byte("pong"))

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, []byte("pong"), res.reply.Body)
	assert.Equal(t, req.Meta.ClientSeq, res.reply.Meta.ClientSeq)
	assert.Zero(t, c.PendingCount())
}

func TestSendRequest_ErrorCode(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, nil)
	defer c.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.SendRequest(context.Background(), "gamepb.plantpb.PlantService", "Harvest", nil)
		errCh <- err
	}()
	req := p.next(t)
	p.replyError(p.current(), req.Meta, 1001, "nothing to harvest")

	var re *ResponseError
	require.True(t, errors.As(<-errCh, &re))
	assert.EqualValues(t, 1001, re.Code)
	assert.Equal(t, "Harvest", re.Method)
}

// Property: however responses are ordered, each caller receives the
// response carrying its own client sequence, exactly once.
func TestSendRequest_Correlation_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(rt, "requests")
		perm := rapid.Permutation(seqRange(n)).Draw(rt, "order")

		p := newTestPeer()
		c := connected(t, p, nil)
		defer c.Close()

		type out struct {
			id    int
			reply *Reply
			err   error
		}
		results := make(chan out, n)
		for i := 0; i < n; i++ {
			go func(id int) {
				body := make([]byte, 8)
				binary.BigEndian.PutUint64(body, uint64(id))
				r, err := c.SendRequest(context.Background(), "Echo", "Ping", body)
				results <- out{id, r, err}
			}(i)
		}

		reqs := make([]*protocol.Envelope, n)
		for i := range reqs {
			reqs[i] = p.next(t)
		}
		for _, idx := range perm {
			req := reqs[idx]
			p.reply(req.Meta, req.Body)
		}
		// Duplicates of every response must be ignored.
		for _, req := range reqs {
			p.reply(req.Meta, []byte("duplicate"))
		}

		seen := make(map[int]bool)
		for i := 0; i < n; i++ {
			res := <-results
			if res.err != nil {
				rt.Fatalf("request %d: %v", res.id, res.err)
			}
			got := int(binary.BigEndian.Uint64(res.reply.Body))
			if got != res.id {
				rt.Fatalf("request %d received response for %d", res.id, got)
			}
			if seen[res.id] {
				rt.Fatalf("request %d resolved twice", res.id)
			}
			seen[res.id] = true
		}
		if c.PendingCount() != 0 {
			rt.Fatalf("pending map not empty: %d", c.PendingCount())
		}
	})
}

func seqRange(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

func TestSendRequest_LateResponseIgnored(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, nil)
	defer c.Close()

	_, err := c.SendRequestTimeout(context.Background(), "Echo", "Slow", nil, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrRequestTimeout)
	assert.Zero(t, c.PendingCount())

	late := p.next(t)
	p.reply(late.Meta, []byte("too late"))
	// A stray response for a never-issued sequence is ignored as well.
	p.reply(protocol.Meta{ServiceName: "Echo", MethodName: "Ghost", ClientSeq: 999}, nil)

	done := make(chan *Reply, 1)
	go func() {
		r, _ := c.SendRequest(context.Background(), "Echo", "Ping", nil)
		done <- r
	}()
	req := p.next(t)
	assert.Greater(t, req.Meta.ClientSeq, late.Meta.ClientSeq)
	p.reply(req.Meta, []byte("pong"))

	r := <-done
	require.NotNil(t, r)
	assert.Equal(t, []byte("pong"), r.Body)
	assert.True(t, c.IsConnected())
}

func TestSendRequest_ContextCanceled(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.SendRequest(ctx, "Echo", "Ping", nil)
		errCh <- err
	}()
	p.next(t)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Zero(t, c.PendingCount())
}

func TestSendRequest_NotConnected(t *testing.T) {
	c := New(testOptions(newTestPeer()), zerolog.Nop())
	defer c.Close()

	_, err := c.SendRequest(context.Background(), "Echo", "Ping", nil)
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestCleanup_RejectsPending(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, nil)
	defer c.Close()

	const n = 5
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.SendRequest(context.Background(), "Echo", "Ping", nil)
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		p.next(t)
	}
	require.Eventually(t, func() bool { return c.PendingCount() == n }, time.Second, 5*time.Millisecond)

	c.Cleanup()
	for i := 0; i < n; i++ {
		assert.ErrorIs(t, <-errs, ErrConnectionReset)
	}
	assert.Zero(t, c.PendingCount())
}

func TestTransportClose_Done(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, nil)
	defer c.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.SendRequest(context.Background(), "Echo", "Ping", nil)
		errCh <- err
	}()
	p.next(t)

	done := c.Done()
	require.NoError(t, p.current().Close())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Done not closed after transport close")
	}
	assert.ErrorIs(t, <-errCh, ErrConnectionReset)
	assert.False(t, c.IsConnected())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done must be closed while disconnected")
	}
}

func TestReconnect_ResetsSequence(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, nil)
	defer c.Close()

	go func() { _, _ = c.SendRequest(context.Background(), "Echo", "Ping", nil) }()
	first := p.next(t)
	assert.EqualValues(t, 2, first.Meta.ClientSeq)

	p.mu.Lock()
	p.basic.Level = 6
	p.mu.Unlock()
	require.NoError(t, c.Connect(context.Background(), Credential{Code: "code-2"}))
	assert.EqualValues(t, 6, c.UserState().Level)

	p.mu.Lock()
	logins := append([]protocol.Meta(nil), p.logins...)
	p.mu.Unlock()
	require.Len(t, logins, 2)
	assert.EqualValues(t, 1, logins[1].ClientSeq)
	assert.Zero(t, logins[1].ServerSeq, "server sequence restarts with the link")
}

func TestClose_Terminal(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, nil)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())

	_, err := c.SendRequest(context.Background(), "Echo", "Ping", nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Connect(context.Background(), Credential{}), ErrClosed)
}

func TestServerSeq_HighWaterMark(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, nil)
	defer c.Close()

	kicked := make(chan struct{}, 1)
	c.On(EventKickout, func(Event) { kicked <- struct{}{} })

	p.serverSeq.Store(100)
	p.push(protocol.TypeTaskInfoNotify, nil)
	p.serverSeq.Store(10)
	p.push(protocol.TypeTaskInfoNotify, nil)
	p.push(protocol.TypeKickoutNotify, (&protocol.KickoutNotify{ReasonMessage: "sync"}).Marshal())
	select {
	case <-kicked:
	case <-time.After(time.Second):
		t.Fatal("notifications not processed")
	}

	go func() { _, _ = c.SendRequest(context.Background(), "Echo", "Ping", nil) }()
	req := p.next(t)
	assert.EqualValues(t, 101, req.Meta.ServerSeq, "lower server sequences never lower the mark")
}

func TestConcurrentRequests(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, nil)
	defer c.Close()

	go func() {
		for req := range p.requests {
			p.reply(req.Meta, req.Body)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := []byte{byte(i)}
			r, err := c.SendRequest(context.Background(), "Echo", "Ping", body)
			if assert.NoError(t, err) {
				assert.Equal(t, body, r.Body)
			}
		}(i)
	}
	wg.Wait()
	close(p.requests)
}
