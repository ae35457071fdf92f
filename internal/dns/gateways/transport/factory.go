package transport

import (
	"fmt"
)

// New creates a Connection of the given type.
func New(kind TransportType, opts Options) (Connection, error) {
	var (
		conn Connection
		err  error
	)
	switch kind {
	case TransportUDP:
		conn, err = NewUDPTransport(opts)

	case TransportTCP:
		conn, err = NewTCPTransport(opts)

	case TransportDoT:
		conn, err = NewTLSTransport(opts)

	case TransportDoH:
		conn, err = NewHTTPSTransport(opts)

	default:
		return nil, fmt.Errorf(errUnsupportedType, kind)
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// SupportedTransports returns the transport types New accepts.
func SupportedTransports() []TransportType {
	return []TransportType{
		TransportUDP,
		TransportTCP,
		TransportDoT,
		TransportDoH,
	}
}

// IsTransportSupported checks if a given transport type is currently supported.
func IsTransportSupported(transportType TransportType) bool {
	for _, t := range SupportedTransports() {
		if t == transportType {
			return true
		}
	}
	return false
}
