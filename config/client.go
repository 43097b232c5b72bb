package config

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/Mmx233/QFarm/protocol"
)

type Client struct {
	Server            Server              `yaml:"server"`
	DeviceInfo        protocol.DeviceInfo `yaml:"device_info"`
	HeartbeatInterval time.Duration       `yaml:"heartbeat_interval"` // default 25s
	LivenessTimeout   time.Duration       `yaml:"liveness_timeout"`   // default 60s
	RequestTimeout    time.Duration       `yaml:"request_timeout"`    // default 10s
	Reconnect         Reconnect           `yaml:"reconnect"`
	Quic              Quic                `yaml:"quic"`
	TLS               ClientTLS           `yaml:"tls"`
	Metrics           Metrics             `yaml:"metrics"`
	CredentialFile    string              `yaml:"credential_file"`
	Accounts          []Account           `yaml:"accounts"`
	Pollers           []Poller            `yaml:"pollers"`
}

// Server describes the gate endpoint and the identity presented to it
type Server struct {
	URL           string `yaml:"url"` // ws://, wss:// or quic://
	Platform      string `yaml:"platform"`
	OS            string `yaml:"os"`
	ClientVersion string `yaml:"client_version"`
}

type Reconnect struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

type Metrics struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
}

// Account is one game account driven by its own session
type Account struct {
	Name     string        `yaml:"name"`
	Platform string        `yaml:"platform"` // defaults to server.platform
	Code     string        `yaml:"code"`     // empty falls back to the credential cache
	Config   AccountConfig `yaml:"config"`
}

// Poller issues a fixed request on a schedule and on selected events
type Poller struct {
	ID         string        `yaml:"id"`
	Name       string        `yaml:"name"`
	Service    string        `yaml:"service"`
	Method     string        `yaml:"method"`
	Body       string        `yaml:"body"` // hex encoded request body
	Interval   time.Duration `yaml:"interval"`
	StartDelay time.Duration `yaml:"start_delay"`
	Timeout    time.Duration `yaml:"timeout"`
	TriggerOn  []string      `yaml:"trigger_on"` // event names, e.g. lands_changed
	Debounce   time.Duration `yaml:"debounce"`
}

// DecodeBody returns the raw request body
func (p Poller) DecodeBody() ([]byte, error) {
	return hex.DecodeString(p.Body)
}

// ClientTLS configures the QUIC transport. WebSocket URLs use the system roots.
type ClientTLS struct {
	CACertFile     string `yaml:"ca_cert_file"`
	ClientCertFile string `yaml:"client_cert_file"`
	ClientKeyFile  string `yaml:"client_key_file"`
	ServerName     string `yaml:"server_name"`

	// Loaded certificates (not from YAML)
	CACertPool *x509.CertPool    `yaml:"-"`
	ClientCert []tls.Certificate `yaml:"-"`
}

// LoadCertificates loads whichever TLS files are configured
func (t *ClientTLS) LoadCertificates() error {
	if t.CACertFile != "" {
		caCertPEM, err := os.ReadFile(t.CACertFile)
		if err != nil {
			return fmt.Errorf("read CA cert: %w", err)
		}
		t.CACertPool = x509.NewCertPool()
		if !t.CACertPool.AppendCertsFromPEM(caCertPEM) {
			return fmt.Errorf("failed to parse CA certificate")
		}
	}

	if t.ClientCertFile != "" || t.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.ClientCertFile, t.ClientKeyFile)
		if err != nil {
			return fmt.Errorf("load client cert/key: %w", err)
		}
		t.ClientCert = []tls.Certificate{cert}
	}
	return nil
}

// Config builds a tls.Config from the loaded certificates
func (t *ClientTLS) Config() *tls.Config {
	return &tls.Config{
		RootCAs:      t.CACertPool,
		Certificates: t.ClientCert,
		ServerName:   t.ServerName,
		MinVersion:   tls.VersionTLS13,
	}
}

func (c *Client) ApplyDefaults() {
	if c.Server.URL == "" {
		c.Server.URL = DefaultServerURL
	}
	if c.Server.Platform == "" {
		c.Server.Platform = DefaultPlatform
	}
	if c.Server.OS == "" {
		c.Server.OS = DefaultOS
	}
	if c.Server.ClientVersion == "" {
		c.Server.ClientVersion = DefaultClientVersion
	}

	d := &c.DeviceInfo
	if d.ClientVersion == "" {
		d.ClientVersion = c.Server.ClientVersion
	}
	if d.SysSoftware == "" {
		d.SysSoftware = DefaultDeviceSoftware
	}
	if d.Network == "" {
		d.Network = DefaultDeviceNetwork
	}
	if d.Memory == "" {
		d.Memory = DefaultDeviceMemory
	}
	if d.DeviceID == "" {
		d.DeviceID = DefaultDeviceModel
	}

	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.LivenessTimeout == 0 {
		c.LivenessTimeout = DefaultLivenessTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Reconnect.Attempts == 0 {
		c.Reconnect.Attempts = DefaultReconnectAttempts
	}
	if c.Reconnect.Delay == 0 {
		c.Reconnect.Delay = DefaultReconnectDelay
	}

	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.Platform == "" {
			a.Platform = c.Server.Platform
		}
		a.Config.ApplyDefaults()
	}
	for i := range c.Pollers {
		p := &c.Pollers[i]
		if p.Name == "" {
			p.Name = p.ID
		}
		if p.Timeout == 0 {
			p.Timeout = c.RequestTimeout
		}
	}
}

var platforms = []string{"qq", "wx"}

// Validate checks a config after defaults were applied
func (c *Client) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "quic":
	default:
		return fmt.Errorf("server.url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("server.url: missing host")
	}
	if !slices.Contains(platforms, c.Server.Platform) {
		return fmt.Errorf("server.platform must be one of %v, got %q", platforms, c.Server.Platform)
	}
	if c.HeartbeatInterval < 0 || c.LivenessTimeout < 0 || c.RequestTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.LivenessTimeout < c.HeartbeatInterval {
		return fmt.Errorf("liveness_timeout (%v) must not be shorter than heartbeat_interval (%v)", c.LivenessTimeout, c.HeartbeatInterval)
	}
	if c.Reconnect.Attempts < 0 || c.Reconnect.Delay < 0 {
		return errors.New("reconnect settings must not be negative")
	}

	if len(c.Accounts) == 0 {
		return errors.New("at least one account must be configured")
	}
	names := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if a.Name == "" {
			return fmt.Errorf("accounts[%d]: name cannot be empty", i)
		}
		if names[a.Name] {
			return fmt.Errorf("accounts[%d]: duplicate name %q", i, a.Name)
		}
		names[a.Name] = true
		if !slices.Contains(platforms, a.Platform) {
			return fmt.Errorf("accounts[%d]: platform must be one of %v, got %q", i, platforms, a.Platform)
		}
		if err := a.Config.Validate(); err != nil {
			return fmt.Errorf("accounts[%d]: %w", i, err)
		}
	}

	ids := make(map[string]bool, len(c.Pollers))
	for i, p := range c.Pollers {
		if p.ID == "" {
			return fmt.Errorf("pollers[%d]: id cannot be empty", i)
		}
		if ids[p.ID] {
			return fmt.Errorf("pollers[%d]: duplicate id %q", i, p.ID)
		}
		ids[p.ID] = true
		if p.Service == "" || p.Method == "" {
			return fmt.Errorf("pollers[%d]: service and method are required", i)
		}
		if p.Interval <= 0 {
			return fmt.Errorf("pollers[%d]: interval must be positive", i)
		}
		if _, err := p.DecodeBody(); err != nil {
			return fmt.Errorf("pollers[%d]: body: %w", i, err)
		}
	}
	return nil
}

// Account returns the account named name
func (c *Client) Account(name string) (Account, bool) {
	for _, a := range c.Accounts {
		if a.Name == name {
			return a, true
		}
	}
	return Account{}, false
}
