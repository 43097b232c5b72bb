// Package mtls authenticates QUIC peers by their client certificate
package mtls

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/Mmx233/QFarm/server/auth"
	"github.com/quic-go/quic-go"
)

var ErrNoCertificate = errors.New("no client certificate provided")

type mtlsAuth struct {
	roots *x509.CertPool
}

func New(roots *x509.CertPool) auth.Auth {
	return &mtlsAuth{roots: roots}
}

func (m *mtlsAuth) VerifyConn(_ context.Context, conn *quic.Conn) (string, error) {
	return Verify(m.roots, conn.ConnectionState().TLS.PeerCertificates)
}

// Verify checks the leaf of chain against roots for client auth usage and
// returns its common name.
func Verify(roots *x509.CertPool, chain []*x509.Certificate) (string, error) {
	if len(chain) == 0 {
		return "", ErrNoCertificate
	}
	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}
	_, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	if err != nil {
		return "", fmt.Errorf("certificate verification failed: %w", err)
	}
	return chain[0].Subject.CommonName, nil
}
