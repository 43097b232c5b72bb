package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/Mmx233/QFarm/server/auth"
	"github.com/Mmx233/QFarm/server/auth/mtls"
	"github.com/Mmx233/QFarm/server/tls/stek"
	"github.com/Mmx233/QFarm/transport"
	"github.com/quic-go/quic-go"
)

// QUICTLSConfig builds the listener TLS config from the configured files.
// With a client CA the peer must present a certificate signed by it.
func (s *Server) QUICTLSConfig() (*tls.Config, auth.Auth, error) {
	q := s.conf.QUIC
	cert, err := tls.LoadX509KeyPair(q.CertFile, q.KeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load gate certificate: %w", err)
	}
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}
	if q.ClientCAFile == "" {
		return tlsConf, auth.Anonymous{}, nil
	}

	caPEM, err := os.ReadFile(q.ClientCAFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read client CA: %w", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(caPEM) {
		return nil, nil, errors.New("failed to parse client CA certificate")
	}
	tlsConf.ClientAuth = tls.RequireAndVerifyClientCert
	tlsConf.ClientCAs = roots
	return tlsConf, mtls.New(roots), nil
}

// ListenAndServeQUIC serves the configured QUIC listener until ctx ends
func (s *Server) ListenAndServeQUIC(ctx context.Context) error {
	tlsConf, verifier, err := s.QUICTLSConfig()
	if err != nil {
		return err
	}
	udpAddr, err := net.ResolveUDPAddr("udp", s.conf.QUIC.Listen)
	if err != nil {
		return fmt.Errorf("resolve QUIC address: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen UDP: %w", err)
	}
	defer udpConn.Close()
	return s.ServeQUIC(ctx, udpConn, tlsConf, verifier)
}

// ServeQUIC accepts gate connections on pc until ctx ends. Session ticket
// keys rotate when an interval is configured.
func (s *Server) ServeQUIC(ctx context.Context, pc net.PacketConn, tlsConf *tls.Config, verifier auth.Auth) error {
	logger := s.logger.With().Str("quic_addr", pc.LocalAddr().String()).Logger()
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{transport.NextProto}

	if q := s.conf.QUIC; q.SessionTicketKeyRotationInterval > 0 {
		rot, err := stek.NewRotator(q.SessionTicketKeyRotationInterval, q.SessionTicketKeyRotationOverlap, s.logger)
		if err != nil {
			return fmt.Errorf("initialize session ticket key rotation: %w", err)
		}
		tlsConf = rot.Apply(tlsConf)
		rot.Start(ctx)
		defer rot.Stop()
	}

	// Runs after the transport is closed, which unblocks pending handshakes.
	var handshakes sync.WaitGroup
	defer handshakes.Wait()

	tr := &quic.Transport{Conn: pc}
	defer tr.Close()
	ln, err := tr.Listen(tlsConf, s.conf.QUIC.GetConfig())
	if err != nil {
		return fmt.Errorf("listen QUIC: %w", err)
	}
	defer ln.Close()
	logger.Info().Msg("QUIC listener started")

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error().Err(err).Msg("accept connection failed")
			return err
		}
		handshakes.Go(func() { s.acceptQUIC(ctx, conn, verifier) })
	}
}

func (s *Server) acceptQUIC(ctx context.Context, conn *quic.Conn, verifier auth.Auth) {
	logger := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()

	identity, err := verifier.VerifyConn(ctx, conn)
	if err != nil {
		logger.Warn().Err(err).Msg("authentication failed")
		_ = conn.CloseWithError(1, "authentication failed")
		return
	}
	tc, query, err := transport.AcceptQUIC(ctx, conn, 0)
	if err != nil {
		logger.Debug().Err(err).Msg("accept gate stream failed")
		_ = conn.CloseWithError(1, "stream error")
		return
	}
	p, ok := s.register(tc, query, identity)
	if !ok {
		return
	}
	go s.serve(p)
}
