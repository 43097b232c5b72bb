package e2e

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Mmx233/QFarm/client"
	"github.com/Mmx233/QFarm/config"
	"github.com/Mmx233/QFarm/manager"
	"github.com/Mmx233/QFarm/server"
	"github.com/Mmx233/QFarm/session"
	"github.com/Mmx233/QFarm/transport"
	"github.com/rs/zerolog"
)

const playerGID = 77

// gate is a simulator served over a real WebSocket listener
type gate struct {
	srv *server.Server
	url string
}

func startGate(t *testing.T, mutate func(c *config.Sim)) *gate {
	t.Helper()
	conf := &config.Sim{Player: config.Player{GID: playerGID, Name: "e2e", Level: 3, Gold: 100}}
	if mutate != nil {
		mutate(conf)
	}
	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		t.Fatalf("invalid simulator config: %v", err)
	}

	srv := server.New(conf, zerolog.Nop())
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		hs.Close()
	})
	return &gate{
		srv: srv,
		url: "ws://" + strings.TrimPrefix(hs.URL, "http://") + conf.Path,
	}
}

type clientOptions struct {
	heartbeatInterval time.Duration
	livenessTimeout   time.Duration
	reconnectAttempts int
	pollers           []config.Poller
}

// sessionFactory builds sessions that dial g over WebSocket
func (g *gate) sessionFactory(t *testing.T, o clientOptions) session.Factory {
	return func(id string, spec session.AccountSpec, onFailed func(string)) *session.Session {
		conn := client.New(client.Options{
			Name:              spec.Name,
			URL:               g.url,
			Platform:          "qq",
			ClientVersion:     "e2e",
			HeartbeatInterval: o.heartbeatInterval,
			LivenessTimeout:   o.livenessTimeout,
			RequestTimeout:    2 * time.Second,
			Dialer:            transport.NewDialer(&transport.WebSocketDialer{}, nil),
		}, zerolog.Nop())

		managers, err := manager.Build(o.pollers)
		if err != nil {
			t.Errorf("build managers: %v", err)
		}
		return session.New(id, conn, managers, session.Options{
			Name:              spec.Name,
			Account:           spec.Config,
			ReconnectAttempts: o.reconnectAttempts,
			ReconnectDelay:    20 * time.Millisecond,
			OnReconnectFailed: onFailed,
		}, zerolog.Nop())
	}
}

func humanModeOff() config.AccountConfig {
	off := false
	return config.AccountConfig{EnableHumanMode: &off, HumanModeIntensity: "low"}
}

// waitFor polls cond until it holds or the timeout expires
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
