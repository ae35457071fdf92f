// Package client is the lookup facade: it normalizes arguments, hands the
// request to one configured transport and decodes what comes back.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"

	"github.com/haukened/dohdec/internal/dns/common/log"
	"github.com/haukened/dohdec/internal/dns/domain"
	"github.com/haukened/dohdec/internal/dns/gateways/transport"
	"github.com/haukened/dohdec/internal/dns/gateways/wire"
)

// Client performs lookups over a single transport. It is safe for
// concurrent use; concurrent lookups share the transport's connection.
type Client struct {
	transport transport.Connection
	codec     wire.DNSCodec
	defaults  domain.LookupOptions
	timeout   time.Duration
	logger    log.Logger
}

// Options configures a Client. Transport is required.
type Options struct {
	Transport transport.Connection
	Codec     wire.DNSCodec
	// Defaults are applied under every lookup's own options.
	Defaults domain.LookupOptions
	// Timeout bounds each lookup. Zero leaves it to the caller's context.
	Timeout time.Duration
	Logger  log.Logger
}

// New returns a Client bound to opts.Transport.
func New(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("%w: transport is required", domain.ErrInvalidArgument)
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	if opts.Codec == nil {
		opts.Codec = wire.NewCodec(opts.Logger)
	}
	return &Client{
		transport: opts.Transport,
		codec:     opts.Codec,
		defaults:  opts.Defaults,
		timeout:   opts.Timeout,
		logger:    log.With(opts.Logger, map[string]any{"transport": string(opts.Transport.Kind())}),
	}, nil
}

// Lookup queries name for rrtype. An empty rrtype means A.
func (c *Client) Lookup(ctx context.Context, name, rrtype string) (*Response, error) {
	req, err := domain.FromNameAndType(name, rrtype, c.defaults)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// LookupWith queries name using opts; name wins over opts.Name.
func (c *Client) LookupWith(ctx context.Context, name string, opts domain.LookupOptions) (*Response, error) {
	req, err := domain.FromNameAndOptions(name, opts, c.defaults)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// LookupOptions queries opts.Name using opts.
func (c *Client) LookupOptions(ctx context.Context, opts domain.LookupOptions) (*Response, error) {
	req, err := domain.FromOptions(opts, c.defaults)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// Reverse looks up the PTR record for an IP literal.
func (c *Client) Reverse(ctx context.Context, ip string) (*Response, error) {
	name, err := domain.Reverse(ip)
	if err != nil {
		return nil, err
	}
	return c.Lookup(ctx, name, "PTR")
}

// Do sends an already normalized request.
func (c *Client) Do(ctx context.Context, req domain.LookupRequest) (*Response, error) {
	if req.JSON && c.transport.Kind() != transport.TransportDoH {
		c.logger.Debug(map[string]any{"name": req.Name}, "JSON lookups need https, sending a DNS message instead")
		req.JSON = false
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	raw, err := c.transport.Lookup(ctx, req)
	if err != nil {
		c.logger.Warn(map[string]any{"request": req.String(), "error": err}, "lookup failed")
		return nil, err
	}

	resp := &Response{Request: req, Raw: raw}
	if !req.Decode {
		return resp, nil
	}
	if req.JSON {
		resp.JSON, err = c.codec.DecodeJSON(raw)
	} else {
		resp.Message, err = c.codec.DecodeResponse(raw)
	}
	if err != nil {
		c.logger.Warn(map[string]any{"request": req.String(), "bytes": len(raw), "error": err}, "undecodable response")
		return nil, err
	}

	c.logger.Debug(map[string]any{"request": req.String(), "rcode": resp.RCode().String()}, "lookup complete")
	return resp, nil
}

// Close releases the transport. Pending lookups fail as disconnected.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Response is one lookup's result. Message is set for decoded DNS
// messages, JSON for decoded JSON API answers, neither when decoding was
// switched off.
type Response struct {
	Request domain.LookupRequest
	Raw     []byte
	Message *dns.Msg
	JSON    *wire.JSONMessage
}

// RCode is the response code, or NOERROR when nothing was decoded.
func (r *Response) RCode() domain.RCode {
	switch {
	case r.Message != nil:
		return domain.RCode(r.Message.Rcode)
	case r.JSON != nil:
		return domain.RCode(r.JSON.Status)
	default:
		return domain.RCodeNoError
	}
}

// Answers returns the answer section in presentation form.
func (r *Response) Answers() []domain.Answer {
	switch {
	case r.Message != nil:
		return wire.Answers(r.Message)
	case r.JSON != nil:
		return r.JSON.Answers()
	default:
		return nil
	}
}

// Err reports a DNS-level failure as a *domain.DNSError. A response that
// decoded fine but says NXDOMAIN is still a successful lookup; callers that
// want to treat it as an error ask here.
func (r *Response) Err() error {
	switch {
	case r.Message != nil:
		return wire.ResponseError(r.Message)
	case r.JSON != nil:
		return wire.JSONResponseError(r.JSON)
	default:
		return nil
	}
}
