package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"strconv"
)

// TLSTransport is TCPTransport wrapped in TLS. The server certificate is
// checked by a CertificateVerifier, which supports hash pinning.
type TLSTransport struct {
	*muxConn
	verifier *CertificateVerifier
}

// NewTLSTransport creates a DNS-over-TLS transport. It fails with
// domain.ErrInvalidArgument for an unknown HashAlg.
func NewTLSTransport(opts Options) (*TLSTransport, error) {
	opts = opts.withDefaults(TransportDoT)
	verifier, err := NewCertificateVerifier(VerifierOptions{
		Hash:              opts.Hash,
		HashAlg:           opts.HashAlg,
		RootCAs:           opts.RootCAs,
		AllowUnauthorized: opts.AllowUnauthorized,
		Observer:          opts.Observer,
		Logger:            opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	config := tlsConfig(opts.TLSConfig, opts.ServerName, opts.RootCAs)
	// verification happens in VerifyConnection so a pin can override the chain
	config.InsecureSkipVerify = true
	serverName := config.ServerName
	config.VerifyConnection = func(cs tls.ConnectionState) error {
		return verifier.Verify(serverName, cs.PeerCertificates)
	}

	dial := func(ctx context.Context) (net.Conn, error) {
		raw, err := opts.Dial(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		conn := tls.Client(raw, config)
		if err := conn.HandshakeContext(ctx); err != nil {
			_ = raw.Close()
			return nil, err
		}
		return conn, nil
	}

	return &TLSTransport{
		muxConn:  newMuxConn(TransportDoT, addr, true, opts, dial),
		verifier: verifier,
	}, nil
}

// tlsConfig clones base (or starts empty) and fills in the server name,
// roots and a TLS 1.2 floor.
func tlsConfig(base *tls.Config, serverName string, roots *x509.CertPool) *tls.Config {
	var config *tls.Config
	if base != nil {
		config = base.Clone()
	} else {
		config = &tls.Config{}
	}
	if config.ServerName == "" {
		config.ServerName = serverName
	}
	if roots != nil {
		config.RootCAs = roots
	}
	if config.MinVersion == 0 {
		config.MinVersion = tls.VersionTLS12
	}
	return config
}

var _ Connection = (*TLSTransport)(nil)
