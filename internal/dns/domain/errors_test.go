package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisconnectedError(t *testing.T) {
	cause := &ProtocolViolationError{Transport: "tcp", ID: 7, Frame: []byte{0, 7, 0, 0}}
	err := fmt.Errorf("lookup: %w", &DisconnectedError{Name: "badid.example", Type: "A", Cause: cause})

	assert.ErrorIs(t, err, ErrDisconnected)
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Contains(t, err.Error(), `timeout looking up "badid.example":A`)

	var de *DisconnectedError
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, "badid.example", de.Name)
}

func TestDisconnectedError_ClosedCause(t *testing.T) {
	err := error(&DisconnectedError{Name: "ietf.org", Type: "AAAA", Cause: ErrClosed})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NotErrorIs(t, err, ErrProtocolViolation)
}

func TestProtocolViolationError_Message(t *testing.T) {
	assert.Equal(t, "tls: unexpected transaction id 43", (&ProtocolViolationError{Transport: "tls", ID: 43, Frame: []byte{0, 43}}).Error())
	assert.Contains(t, (&ProtocolViolationError{Transport: "udp", Frame: []byte{1}}).Error(), "too short")
}

func TestNewDNSError(t *testing.T) {
	assert.NoError(t, NewDNSError(RCodeNoError))

	err := NewDNSError(RCodeNXDomain)
	var dnsErr *DNSError
	assert.True(t, errors.As(err, &dnsErr))
	assert.Equal(t, "dns.NXDOMAIN", dnsErr.Code())
	assert.Equal(t, "DNS error: NXDOMAIN", err.Error())

	err = NewDNSError(RCodeRefused)
	assert.True(t, errors.As(err, &dnsErr))
	assert.Equal(t, "dns.REFUSED", dnsErr.Code())
}
