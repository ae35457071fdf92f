package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/haukened/dohdec/internal/dns/domain"
)

// UDPTransport sends queries over one connected UDP socket. Each datagram
// carries exactly one message, so no reassembly is needed.
type UDPTransport struct {
	*muxConn
}

// NewUDPTransport creates a UDP transport. Host must be an IP literal.
func NewUDPTransport(opts Options) (*UDPTransport, error) {
	opts = opts.withDefaults(TransportUDP)
	if net.ParseIP(opts.Host) == nil {
		return nil, fmt.Errorf(errInvalidServer, domain.ErrInvalidArgument, opts.Host)
	}
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	dial := func(ctx context.Context) (net.Conn, error) {
		return opts.Dial(ctx, "udp", addr)
	}
	return &UDPTransport{muxConn: newMuxConn(TransportUDP, addr, false, opts, dial)}, nil
}

var _ Connection = (*UDPTransport)(nil)
