package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the client wraps exactly one of these
// so callers can branch with errors.Is.
var (
	// ErrInvalidArgument reports a request that cannot be encoded: missing
	// name, unknown record type, bad ECS subnet, bad hash algorithm.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDecode reports a response that arrived but could not be parsed.
	ErrDecode = errors.New("decode error")

	// ErrProtocolViolation reports a response whose transaction id matches no
	// outstanding request.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrConnection reports a connect, handshake, write or HTTP failure.
	ErrConnection = errors.New("connection error")

	// ErrDisconnected reports a request that was still outstanding when its
	// connection went away.
	ErrDisconnected = errors.New("disconnected")

	// ErrClosed is the disconnect cause used when the caller closes the client.
	ErrClosed = errors.New("connection closed")

	// ErrIDInUse reports an explicit transaction id that is already pending.
	ErrIDInUse = errors.New("transaction id already in use")

	// ErrIDSpaceExhausted reports that no free transaction id was found.
	ErrIDSpaceExhausted = errors.New("no free transaction id")
)

// DisconnectedError fails a pending request when its connection is torn
// down. The message keeps the "timeout looking up" wording users grep for.
type DisconnectedError struct {
	Name  string
	Type  string
	Cause error
}

func (e *DisconnectedError) Error() string {
	return fmt.Sprintf("timeout looking up %q:%s", e.Name, e.Type)
}

func (e *DisconnectedError) Is(target error) bool {
	return target == ErrDisconnected
}

func (e *DisconnectedError) Unwrap() error {
	return e.Cause
}

// ProtocolViolationError carries the frame that could not be matched to a
// pending request.
type ProtocolViolationError struct {
	Transport string
	ID        uint16
	Frame     []byte
}

func (e *ProtocolViolationError) Error() string {
	if len(e.Frame) < 2 {
		return fmt.Sprintf("%s: %d byte frame too short for a transaction id", e.Transport, len(e.Frame))
	}
	return fmt.Sprintf("%s: unexpected transaction id %d", e.Transport, e.ID)
}

func (e *ProtocolViolationError) Is(target error) bool {
	return target == ErrProtocolViolation
}

// DNSError is a DNS-level failure: the server answered, with a non-NOERROR
// response code.
type DNSError struct {
	RCode RCode
}

// Code is the stable identifier for the failure, e.g. "dns.NXDOMAIN".
func (e *DNSError) Code() string {
	return "dns." + e.RCode.String()
}

func (e *DNSError) Error() string {
	return "DNS error: " + e.RCode.String()
}

// NewDNSError returns a *DNSError for a non-zero rcode and nil otherwise.
func NewDNSError(rcode RCode) error {
	if rcode == RCodeNoError {
		return nil
	}
	return &DNSError{RCode: rcode}
}
