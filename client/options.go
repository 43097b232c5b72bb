package client

import (
	"time"

	"github.com/Mmx233/QFarm/protocol"
	"github.com/Mmx233/QFarm/transport"
)

const (
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultLivenessTimeout   = 60 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
	DefaultSceneID           = "1256"

	// Consecutive missed liveness windows before the link is considered dead
	deadAfterMisses = 2
	eventQueueHint  = 64
)

// Options configures a Connection
type Options struct {
	Name string // Account name, used in logs and metrics

	URL           string // Gate URL without query, e.g. wss://gate.example.com/prod/ws
	Platform      string // qq or wx
	OS            string
	ClientVersion string
	DeviceInfo    protocol.DeviceInfo
	SceneID       string

	HeartbeatInterval time.Duration
	LivenessTimeout   time.Duration
	RequestTimeout    time.Duration

	Dialer transport.Dialer
}

func (o *Options) applyDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.LivenessTimeout <= 0 {
		o.LivenessTimeout = DefaultLivenessTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.SceneID == "" {
		o.SceneID = DefaultSceneID
	}
	if o.DeviceInfo.ClientVersion == "" {
		o.DeviceInfo.ClientVersion = o.ClientVersion
	}
	if o.Dialer == nil {
		o.Dialer = transport.NewDialer(&transport.WebSocketDialer{}, nil)
	}
}

// Credential authenticates one connect attempt
type Credential struct {
	Code   string
	OpenID string
}
