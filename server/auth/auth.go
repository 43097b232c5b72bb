// Package auth verifies peers of the simulator's QUIC listener
package auth

import (
	"context"

	"github.com/quic-go/quic-go"
)

// Auth checks an established QUIC connection and returns the peer identity
type Auth interface {
	VerifyConn(ctx context.Context, conn *quic.Conn) (identity string, err error)
}

// Anonymous accepts every connection
type Anonymous struct{}

func (Anonymous) VerifyConn(context.Context, *quic.Conn) (string, error) {
	return "anonymous", nil
}
