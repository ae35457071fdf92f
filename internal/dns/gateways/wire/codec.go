// Package wire turns lookup requests into DNS wire messages and back. The
// message format itself is handled by github.com/miekg/dns; this package adds
// the EDNS0 policy (client subnet, padding), stream framing and the JSON
// flavour of DNS-over-HTTPS.
package wire

import (
	"fmt"

	"github.com/miekg/dns"

	"github.com/haukened/dohdec/internal/dns/common/log"
	"github.com/haukened/dohdec/internal/dns/domain"
)

// DNSCodec encodes queries and decodes responses. Transports take one so
// tests can swap in a mock.
type DNSCodec interface {
	// EncodeQuery builds the wire packet for req, length-prefixed when
	// req.Stream is set.
	EncodeQuery(req domain.LookupRequest) ([]byte, error)

	// DecodeResponse parses one complete, unprefixed DNS message.
	DecodeResponse(data []byte) (*dns.Msg, error)

	// DecodeJSON parses a JSON API response body.
	DecodeJSON(data []byte) (*JSONMessage, error)
}

// msgCodec implements DNSCodec on top of miekg/dns.
type msgCodec struct {
	logger log.Logger
}

// NewCodec returns the default DNSCodec.
func NewCodec(logger log.Logger) DNSCodec {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &msgCodec{logger: logger}
}

func (c *msgCodec) EncodeQuery(req domain.LookupRequest) ([]byte, error) {
	pkt, err := BuildQuery(req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug(map[string]any{
		"name":   req.Name,
		"type":   req.RecordType,
		"bytes":  len(pkt),
		"stream": req.Stream,
	}, "encoded query")
	return pkt, nil
}

func (c *msgCodec) DecodeResponse(data []byte) (*dns.Msg, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(data); err != nil {
		c.logger.Debug(map[string]any{"bytes": len(data), "error": err}, "failed to decode response")
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	return msg, nil
}

func (c *msgCodec) DecodeJSON(data []byte) (*JSONMessage, error) {
	return DecodeJSON(data)
}

var _ DNSCodec = (*msgCodec)(nil)
