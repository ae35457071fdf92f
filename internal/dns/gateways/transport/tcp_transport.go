package transport

import (
	"context"
	"net"
	"strconv"
)

// TCPTransport sends length-prefixed queries over one persistent TCP
// connection and reassembles responses from the byte stream.
type TCPTransport struct {
	*muxConn
}

// NewTCPTransport creates a TCP transport.
func NewTCPTransport(opts Options) (*TCPTransport, error) {
	opts = opts.withDefaults(TransportTCP)
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	dial := func(ctx context.Context) (net.Conn, error) {
		return opts.Dial(ctx, "tcp", addr)
	}
	return &TCPTransport{muxConn: newMuxConn(TransportTCP, addr, true, opts, dial)}, nil
}

var _ Connection = (*TCPTransport)(nil)
