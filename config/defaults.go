package config

import "time"

// Gate endpoint and client identity reported by the current official build
const (
	DefaultServerURL     = "wss://gate-obt.nqf.qq.com/prod/ws"
	DefaultClientVersion = "1.6.0.14_20251224"
	DefaultPlatform      = "qq"
	DefaultOS            = "iOS"
)

// Default timeout and interval values
const (
	// DefaultHeartbeatInterval is the interval between heartbeat requests
	DefaultHeartbeatInterval = 25 * time.Second

	// DefaultLivenessTimeout is the silence after which the gate is suspected dead
	DefaultLivenessTimeout = 60 * time.Second

	// DefaultRequestTimeout bounds a single request/response round trip
	DefaultRequestTimeout = 10 * time.Second

	DefaultReconnectAttempts = 3
	DefaultReconnectDelay    = 3 * time.Second

	// DefaultMaxIdleTimeout is the default QUIC connection idle timeout
	DefaultMaxIdleTimeout = 5 * time.Minute

	DefaultKeepAlivePeriod = 15 * time.Second

	DefaultIntensity = "medium"

	DefaultSimListen = ":8080"
	DefaultSimPath   = "/prod/ws"
)

// Device info reported when the config leaves it empty
const (
	DefaultDeviceSoftware = "iOS 26.2.1"
	DefaultDeviceNetwork  = "wifi"
	DefaultDeviceMemory   = "7672"
	DefaultDeviceModel    = "iPhone X<iPhone18,3>"
)
