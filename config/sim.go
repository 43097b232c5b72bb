package config

import (
	"errors"
	"fmt"
	"time"
)

// Sim configures the local gate simulator
type Sim struct {
	Listen string  `yaml:"listen"` // WebSocket listen address
	Path   string  `yaml:"path"`   // WebSocket path
	QUIC   SimQUIC `yaml:"quic"`
	Player Player  `yaml:"player"`

	// HeartbeatReply answers heartbeats; false simulates a hung gate. Defaults to true.
	HeartbeatReply *bool `yaml:"heartbeat_reply"`
	// LoginErrorCode rejects every login with this code when non-zero
	LoginErrorCode int64     `yaml:"login_error_code"`
	RateLimit      RateLimit `yaml:"rate_limit"`
}

// SimQUIC enables the QUIC listener when Listen is set
type SimQUIC struct {
	Listen       string `yaml:"listen"`
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`
	ClientCAFile string `yaml:"client_ca_file"` // requires client certificates when set
	Quic         `yaml:",inline"`

	SessionTicketKeyRotationInterval time.Duration `yaml:"session_ticket_key_rotation_interval"`
	SessionTicketKeyRotationOverlap  uint8         `yaml:"session_ticket_key_rotation_overlap"`
}

// Player is the account state the simulator reports on login
type Player struct {
	GID   int64  `yaml:"gid"`
	Name  string `yaml:"name"`
	Level int64  `yaml:"level"`
	Gold  int64  `yaml:"gold"`
	Exp   int64  `yaml:"exp"`
}

// RateLimit throttles requests per peer; zero disables it
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	ErrorCode         int64   `yaml:"error_code"`
}

func (s *Sim) ApplyDefaults() {
	if s.Listen == "" {
		s.Listen = DefaultSimListen
	}
	if s.Path == "" {
		s.Path = DefaultSimPath
	}
	if s.HeartbeatReply == nil {
		on := true
		s.HeartbeatReply = &on
	}
	if s.Player.GID == 0 {
		s.Player.GID = 10001
	}
	if s.Player.Name == "" {
		s.Player.Name = "farmer"
	}
	if s.Player.Level == 0 {
		s.Player.Level = 1
	}
	if s.RateLimit.RequestsPerSecond > 0 {
		if s.RateLimit.Burst == 0 {
			s.RateLimit.Burst = max(1, int(s.RateLimit.RequestsPerSecond))
		}
		if s.RateLimit.ErrorCode == 0 {
			s.RateLimit.ErrorCode = 1000020
		}
	}
	if s.QUIC.Listen != "" && s.QUIC.SessionTicketKeyRotationInterval > 0 && s.QUIC.SessionTicketKeyRotationOverlap == 0 {
		s.QUIC.SessionTicketKeyRotationOverlap = 2
	}
}

func (s *Sim) Validate() error {
	if s.QUIC.Listen != "" && (s.QUIC.CertFile == "" || s.QUIC.KeyFile == "") {
		return errors.New("quic: cert_file and key_file are required")
	}
	if s.RateLimit.RequestsPerSecond < 0 || s.RateLimit.Burst < 0 {
		return errors.New("rate_limit must not be negative")
	}
	if s.Player.Level < 0 || s.Player.Gold < 0 || s.Player.Exp < 0 {
		return fmt.Errorf("player stats must not be negative")
	}
	return nil
}

// HeartbeatEnabled reports whether heartbeats are answered
func (s *Sim) HeartbeatEnabled() bool {
	return s.HeartbeatReply == nil || *s.HeartbeatReply
}
