package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	outputDir  string
	validYears int
	hosts      []string
	Cmd        = &cobra.Command{
		Use:   "certs",
		Short: "Generate certificates for the QUIC gate (CA, gate, client)",
		RunE:  runGenerate,
	}
)

func init() {
	Cmd.Flags().StringVarP(&outputDir, "output", "o", "./certs", "output directory")
	Cmd.Flags().IntVarP(&validYears, "years", "y", 10, "certificate validity in years")
	Cmd.Flags().StringSliceVar(&hosts, "host", []string{"localhost", "127.0.0.1", "::1"}, "gate DNS names / IPs")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	logger := log.With().Str("com", "generate").Logger()
	logger.Info().Str("dir", outputDir).Int("years", validYears).Strs("hosts", hosts).Msg("generating certificates")

	b, err := Generate(validYears, hosts)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for name, data := range b.Files() {
		path := filepath.Join(outputDir, name)
		if err := os.WriteFile(path, data, 0600); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		logger.Info().Str("file", path).Msg("generated")
	}

	logger.Info().Msg("certificate generation complete")
	return nil
}

// Pair is a certificate with its key
type Pair struct {
	Key  *ecdsa.PrivateKey
	Cert *x509.Certificate
}

// TLS returns the pair as a tls.Certificate.
func (p Pair) TLS() tls.Certificate {
	return tls.Certificate{Certificate: [][]byte{p.Cert.Raw}, PrivateKey: p.Key, Leaf: p.Cert}
}

// Bundle is a CA plus the gate and client certificates it signed
type Bundle struct {
	CA     Pair
	Gate   Pair
	Client Pair
}

// Generate issues a fresh CA, a gate certificate for hosts and a client certificate.
func Generate(validYears int, hosts []string) (*Bundle, error) {
	ca, err := issue(&x509.Certificate{
		Subject:               pkix.Name{Organization: []string{"QFarm"}, CommonName: "QFarm Root CA"},
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}, nil, validYears)
	if err != nil {
		return nil, fmt.Errorf("generate CA: %w", err)
	}

	gateTmpl := &x509.Certificate{
		Subject:     pkix.Name{Organization: []string{"QFarm"}, CommonName: "QFarm Gate"},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			gateTmpl.IPAddresses = append(gateTmpl.IPAddresses, ip)
		} else {
			gateTmpl.DNSNames = append(gateTmpl.DNSNames, h)
		}
	}
	gate, err := issue(gateTmpl, &ca, validYears)
	if err != nil {
		return nil, fmt.Errorf("generate gate cert: %w", err)
	}

	client, err := issue(&x509.Certificate{
		Subject:     pkix.Name{Organization: []string{"QFarm"}, CommonName: "QFarm Client"},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}, &ca, validYears)
	if err != nil {
		return nil, fmt.Errorf("generate client cert: %w", err)
	}

	return &Bundle{CA: ca, Gate: gate, Client: client}, nil
}

// CertPool returns a pool trusting the bundle's CA.
func (b *Bundle) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(b.CA.Cert)
	return pool
}

// Files returns the PEM files written by `generate certs`.
func (b *Bundle) Files() map[string][]byte {
	return map[string][]byte{
		"ca.crt":     EncodeCertificate(b.CA.Cert),
		"ca.key":     EncodePrivateKey(b.CA.Key),
		"gate.crt":   EncodeCertificate(b.Gate.Cert),
		"gate.key":   EncodePrivateKey(b.Gate.Key),
		"client.crt": EncodeCertificate(b.Client.Cert),
		"client.key": EncodePrivateKey(b.Client.Key),
	}
}

// issue signs tmpl with parent, or self-signs when parent is nil.
func issue(tmpl *x509.Certificate, parent *Pair, validYears int) (Pair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Pair{}, fmt.Errorf("generate key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return Pair{}, fmt.Errorf("generate serial number: %w", err)
	}
	tmpl.SerialNumber = serialNumber
	tmpl.NotBefore = time.Now().Add(-time.Minute)
	tmpl.NotAfter = time.Now().AddDate(validYears, 0, 0)

	signer, signerKey := tmpl, key
	if parent != nil {
		signer, signerKey = parent.Cert, parent.Key
	}

	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, signer, &key.PublicKey, signerKey)
	if err != nil {
		return Pair{}, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return Pair{}, fmt.Errorf("parse certificate: %w", err)
	}
	return Pair{Key: key, Cert: cert}, nil
}

// EncodePrivateKey encodes a private key to PEM format
func EncodePrivateKey(key *ecdsa.PrivateKey) []byte {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		panic(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}

// EncodeCertificate encodes a certificate to PEM format
func EncodeCertificate(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}
