package transport

import (
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/haukened/dohdec/internal/dns/common/log"
	"github.com/haukened/dohdec/internal/dns/domain"
)

var hashAlgs = map[string]crypto.Hash{
	"sha1":   crypto.SHA1,
	"sha224": crypto.SHA224,
	"sha256": crypto.SHA256,
	"sha384": crypto.SHA384,
	"sha512": crypto.SHA512,
}

var errNoPeerCertificate = errors.New("server presented no certificate")

// CertificateIdentity is the leaf certificate a TLS server presented.
type CertificateIdentity struct {
	// Raw is the DER encoding.
	Raw []byte
	// Hash is the lower-case hex digest of Raw.
	Hash string
}

// PinMismatchError fails a handshake whose chain validated but whose leaf
// certificate does not match the configured pin.
type PinMismatchError struct {
	Expected string
	Received string
}

func (e *PinMismatchError) Error() string {
	return fmt.Sprintf("invalid certificate hash: expected %q, received %q", e.Expected, e.Received)
}

// HashCertificate returns the lower-case hex digest of der using alg.
func HashCertificate(der []byte, alg string) (string, error) {
	h, ok := hashAlgs[strings.ToLower(alg)]
	if !ok {
		return "", fmt.Errorf("%w: unsupported hash algorithm %q", domain.ErrInvalidArgument, alg)
	}
	d := h.New()
	d.Write(der)
	return hex.EncodeToString(d.Sum(nil)), nil
}

// VerifierOptions configures a CertificateVerifier.
type VerifierOptions struct {
	Hash              string
	HashAlg           string
	RootCAs           *x509.CertPool
	AllowUnauthorized bool
	Observer          Observer
	Logger            log.Logger
}

// CertificateVerifier decides whether a server certificate is acceptable.
// A certificate passes when standard validation succeeds and either no pin
// is set or the pin matches, or when standard validation fails but the pin
// matches.
type CertificateVerifier struct {
	pin               string
	alg               string
	roots             *x509.CertPool
	allowUnauthorized bool
	observer          Observer
	logger            log.Logger
}

// NewCertificateVerifier validates the hash algorithm and normalizes the pin.
func NewCertificateVerifier(opts VerifierOptions) (*CertificateVerifier, error) {
	alg := strings.ToLower(opts.HashAlg)
	if alg == "" {
		alg = DefaultHashAlg
	}
	if _, ok := hashAlgs[alg]; !ok {
		return nil, fmt.Errorf("%w: unsupported hash algorithm %q", domain.ErrInvalidArgument, opts.HashAlg)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &CertificateVerifier{
		pin:               normalizePin(opts.Hash),
		alg:               alg,
		roots:             opts.RootCAs,
		allowUnauthorized: opts.AllowUnauthorized,
		observer:          opts.Observer,
		logger:            opts.Logger,
	}, nil
}

// Verify checks chain, leaf first, as presented by host.
func (v *CertificateVerifier) Verify(host string, chain []*x509.Certificate) error {
	if len(chain) == 0 {
		return errNoPeerCertificate
	}
	leaf := chain[0]
	hash, err := HashCertificate(leaf.Raw, v.alg)
	if err != nil {
		return err
	}
	if v.observer != nil {
		v.observer.Observe(Event{
			Kind:        EventCertificate,
			Transport:   TransportDoT,
			Host:        host,
			Certificate: &CertificateIdentity{Raw: clone(leaf.Raw), Hash: hash},
		})
	}

	pinned := v.pin != ""
	matched := pinned && hash == v.pin
	stdErr := v.standard(host, chain)

	switch {
	case stdErr == nil && (!pinned || matched):
		return nil
	case stdErr == nil:
		return &PinMismatchError{Expected: v.pin, Received: hash}
	case matched:
		v.logger.Warn(map[string]any{"host": host, "error": stdErr.Error()}, "certificate accepted by pin despite failed validation")
		return nil
	default:
		return stdErr
	}
}

// standard runs chain and hostname validation, or hostname only when
// unauthorized chains are allowed.
func (v *CertificateVerifier) standard(host string, chain []*x509.Certificate) error {
	leaf := chain[0]
	if v.allowUnauthorized {
		return leaf.VerifyHostname(host)
	}
	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		DNSName:       host,
		Roots:         v.roots,
		Intermediates: intermediates,
	})
	return err
}

func normalizePin(pin string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(pin), ":", ""))
}
