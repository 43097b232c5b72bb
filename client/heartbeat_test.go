package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastHeartbeat(o *Options) {
	o.HeartbeatInterval = 10 * time.Millisecond
	o.LivenessTimeout = 40 * time.Millisecond
}

func TestHeartbeat_Healthy(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, fastHeartbeat)
	defer c.Close()

	require.Eventually(t, func() bool { return p.heartbeats.Load() >= 5 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, Healthy, c.Liveness())
	assert.WithinDuration(t, time.Now(), c.ServerNow(), time.Second)
}

func TestHeartbeat_DeadFlushesPending(t *testing.T) {
	p := newTestPeer()
	p.muteHeartbeat.Store(true)
	c := connected(t, p, fastHeartbeat)
	defer c.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.SendRequestTimeout(context.Background(), "Echo", "Ping", nil, time.Minute)
		errCh <- err
	}()
	p.next(t)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrHeartbeatLost)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not flushed")
	}
	assert.Equal(t, Dead, c.Liveness())
	assert.True(t, c.IsConnected(), "a dead heartbeat does not close the socket")

	p.muteHeartbeat.Store(false)
	require.Eventually(t, func() bool { return c.Liveness() == Healthy }, 2*time.Second, 5*time.Millisecond)
}

func TestHeartbeat_SuspectBeforeDead(t *testing.T) {
	p := newTestPeer()
	p.muteHeartbeat.Store(true)
	c := connected(t, p, func(o *Options) {
		o.HeartbeatInterval = 30 * time.Millisecond
		o.LivenessTimeout = 45 * time.Millisecond
	})
	defer c.Close()

	require.Eventually(t, func() bool { return c.Liveness() == Suspect }, 2*time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return c.Liveness() == Dead }, 2*time.Second, 2*time.Millisecond)
}

func TestHeartbeat_StopsWithCleanup(t *testing.T) {
	p := newTestPeer()
	c := connected(t, p, fastHeartbeat)
	defer c.Close()

	require.Eventually(t, func() bool { return p.heartbeats.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	c.Cleanup()
	time.Sleep(30 * time.Millisecond)
	seen := p.heartbeats.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, seen, p.heartbeats.Load())
}

func TestLivenessString(t *testing.T) {
	assert.Equal(t, "healthy", Healthy.String())
	assert.Equal(t, "suspect", Suspect.String())
	assert.Equal(t, "dead", Dead.String())
}
