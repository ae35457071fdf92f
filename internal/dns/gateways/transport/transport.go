// Package transport implements the client side of DNS over UDP, TCP, TLS
// and HTTPS. Stream and datagram transports keep one long-lived socket per
// server and multiplex concurrent lookups over it by transaction id; the
// HTTPS transport rides on net/http.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"time"

	"github.com/haukened/dohdec/internal/dns/common/clock"
	"github.com/haukened/dohdec/internal/dns/common/log"
	"github.com/haukened/dohdec/internal/dns/domain"
	"github.com/haukened/dohdec/internal/dns/gateways/wire"
)

// TransportType names a DNS transport protocol.
type TransportType string

const (
	// TransportUDP is plain DNS over UDP (RFC 1035).
	TransportUDP TransportType = "udp"

	// TransportTCP is DNS over TCP with two-byte length framing (RFC 7766).
	TransportTCP TransportType = "tcp"

	// TransportDoT is DNS over TLS (RFC 7858).
	TransportDoT TransportType = "tls"

	// TransportDoH is DNS over HTTPS (RFC 8484) plus the JSON API.
	TransportDoH TransportType = "https"
)

// Defaults applied by the constructors.
const (
	DefaultHost           = "1.1.1.1"
	DefaultDNSPort        = 53
	DefaultTLSPort        = 853
	DefaultURL            = "https://cloudflare-dns.com/dns-query"
	DefaultContentType    = "application/dns-message"
	JSONContentType       = "application/dns-json"
	DefaultHashAlg        = "sha256"
	DefaultUserAgent      = "dohdec/0.1.0"
	DefaultConnectTimeout = 10 * time.Second
)

// Error message constants
const (
	errInvalidServer   = "%w: invalid server %q, not IPv4 or IPv6"
	errConnectFailed   = "%w: connect %s %s: %w"
	errWriteFailed     = "%w: write %s %s: %w"
	errConnectionLost  = "%w: %s connection to %s closed before send"
	errRemoteClosed    = "%w: %s %s: %w"
	errHTTPStatus      = "%w: %s returned HTTP %d"
	errHTTPFailed      = "%w: %s: %w"
	errResponseTooBig  = "%w: response from %s exceeds %d bytes"
	errBadURL          = "%w: invalid DNS-over-HTTPS url %q: %v"
	errUnsupportedType = "unsupported transport type: %s"
)

// Connection is one configured path to a DNS server.
type Connection interface {
	// Kind reports the transport protocol.
	Kind() TransportType

	// Lookup sends req and returns the raw response: a DNS message for the
	// wire transports, or a JSON body for HTTPS lookups with req.JSON set.
	// Cancelling ctx abandons only this lookup.
	Lookup(ctx context.Context, req domain.LookupRequest) ([]byte, error)

	// Close releases the connection. Outstanding lookups fail with a
	// *domain.DisconnectedError. A later Lookup reconnects.
	Close() error
}

// DialFunc establishes a network connection. It matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ViolationRecorder keeps responses that matched no pending request.
type ViolationRecorder interface {
	Record(v domain.Violation)
}

// Options configures every transport. Fields that do not apply to a
// transport are ignored by it.
type Options struct {
	// Host is the server address. UDP requires an IP literal.
	Host string
	// Port defaults to 53, or 853 for TLS.
	Port int
	// ServerName overrides Host for TLS certificate validation.
	ServerName string
	// URL is the DNS-over-HTTPS endpoint.
	URL string

	// Hash pins the hex digest of the server's leaf certificate.
	Hash string
	// HashAlg selects the digest for Hash: sha1, sha224, sha256, sha384 or sha512.
	HashAlg string
	// AllowUnauthorized skips chain validation. Hostname and pin checks still apply.
	AllowUnauthorized bool
	// RootCAs replaces the system roots.
	RootCAs *x509.CertPool
	// TLSConfig is cloned as the base TLS configuration.
	TLSConfig *tls.Config

	// UseGET sends binary DNS-over-HTTPS queries as GET ?dns= instead of POST.
	UseGET bool
	// ContentType is the media type for binary DNS-over-HTTPS.
	ContentType string
	// UserAgent is sent on HTTPS requests.
	UserAgent string
	// HTTP2 enables HTTP/2 for DNS-over-HTTPS.
	HTTP2 bool

	// ConnectTimeout bounds dialing plus the TLS handshake.
	ConnectTimeout time.Duration

	// options to inject for testing purposes
	Dial       DialFunc
	Codec      wire.DNSCodec
	Logger     log.Logger
	Observer   Observer
	Violations ViolationRecorder
	Clock      clock.Clock
	IDSource   func() (uint16, error)
	Random     io.Reader
}

func (o Options) withDefaults(kind TransportType) Options {
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.Port == 0 {
		o.Port = DefaultDNSPort
		if kind == TransportDoT {
			o.Port = DefaultTLSPort
		}
	}
	if o.ServerName == "" {
		o.ServerName = o.Host
	}
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.HashAlg == "" {
		o.HashAlg = DefaultHashAlg
	}
	if o.ContentType == "" {
		o.ContentType = DefaultContentType
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.Dial == nil {
		o.Dial = (&net.Dialer{}).DialContext
	}
	if o.Logger == nil {
		o.Logger = log.GetLogger()
	}
	if o.Codec == nil {
		o.Codec = wire.NewCodec(o.Logger)
	}
	if o.Observer == nil {
		o.Observer = LogObserver(o.Logger)
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	if o.IDSource == nil {
		o.IDSource = randomID
	}
	return o
}
