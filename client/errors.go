package client

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestTimeout means no matching response arrived within the deadline.
	ErrRequestTimeout = errors.New("request timeout")
	// ErrConnectionReset means the request was invalidated by cleanup or a link loss.
	ErrConnectionReset = errors.New("connection reset")
	// ErrHeartbeatLost means the request was flushed after the peer stopped answering heartbeats.
	ErrHeartbeatLost = errors.New("heartbeat lost")
	// ErrTransportClosed means there was no open transport at call time.
	ErrTransportClosed = errors.New("transport closed")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("connection closed")
)

// ConnectError is a failed connect: either the transport did not open or
// the gate rejected the login handshake.
type ConnectError struct {
	Code    int64 // Peer error code, 0 when the failure is local
	Message string
	Err     error
}

func (e *ConnectError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("failed to connect: login rejected: code=%d %s", e.Code, e.Message)
	}
	return fmt.Sprintf("failed to connect: %v", e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ResponseError is a response carrying a non-zero error code
type ResponseError struct {
	Service string
	Method  string
	Code    int64
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s.%s error: code=%d %s", e.Service, e.Method, e.Code, e.Message)
}
