// Package quictransport sets up QUIC listeners and dialers for frame streams.
package quictransport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// ALPNProtocol is the Application-Layer Protocol Negotiation identifier for frame streams.
	ALPNProtocol = "dcfile-frames-v1"
)

// ServerConfig returns a TLS configuration for the QUIC receiver.
// Uses a freshly generated self-signed certificate.
func ServerConfig() (*tls.Config, error) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPNProtocol},
	}, nil
}

// ClientConfig returns a TLS configuration for the QUIC sender.
// The receiver's certificate is self-signed, so it is not verified.
func ClientConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPNProtocol},
	}
}

// DefaultServerQUICConfig returns the default QUIC receiver config.
func DefaultServerQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:                10 * time.Second,
		MaxIdleTimeout:                 30 * time.Second,
		MaxIncomingStreams:             16,
		InitialConnectionReceiveWindow: 4 * 1024 * 1024,
		MaxConnectionReceiveWindow:     16 * 1024 * 1024,
		InitialStreamReceiveWindow:     1024 * 1024,
		MaxStreamReceiveWindow:         8 * 1024 * 1024,
	}
}

// DefaultClientQUICConfig returns the default QUIC sender config.
func DefaultClientQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 10 * time.Second,
		MaxIdleTimeout:  30 * time.Second,
	}
}

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"dcfile"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}, nil
}

// Listen creates a QUIC listener on addr.
func Listen(addr string, logger *slog.Logger) (*quic.Listener, error) {
	return ListenWithConfig(addr, logger, nil)
}

// ListenWithConfig creates a QUIC listener on addr using a custom config.
func ListenWithConfig(addr string, logger *slog.Logger, config *quic.Config) (*quic.Listener, error) {
	tlsConfig, err := ServerConfig()
	if err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultServerQUICConfig()
	}

	listener, err := quic.ListenAddr(addr, tlsConfig, config)
	if err != nil {
		logger.Error("QUIC listen failed", "error", err, "addr", addr)
		return nil, err
	}

	logger.Info("QUIC listener created", "local_addr", listener.Addr())
	return listener, nil
}

// Dial creates a QUIC connection to addr.
func Dial(ctx context.Context, addr string, logger *slog.Logger) (*quic.Conn, error) {
	return DialWithConfig(ctx, addr, logger, nil)
}

// DialWithConfig creates a QUIC connection to addr using a custom config.
func DialWithConfig(ctx context.Context, addr string, logger *slog.Logger, config *quic.Config) (*quic.Conn, error) {
	if config == nil {
		config = DefaultClientQUICConfig()
	}

	logger.Info("QUIC dial starting", "remote_addr", addr)

	conn, err := quic.DialAddr(ctx, addr, ClientConfig(), config)
	if err != nil {
		logger.Error("QUIC dial failed", "error", err, "remote_addr", addr)
		return nil, err
	}

	logger.Info("QUIC connection established", "remote_addr", conn.RemoteAddr())
	return conn, nil
}
