package domain

import (
	"fmt"
	"strings"

	"github.com/haukened/dohdec/internal/dns/common/utils"
)

const (
	// DefaultRecordType is used when a lookup names no record type.
	DefaultRecordType = "A"

	// DefaultECSSubnet is the client subnet sent when only prefix bits are given.
	DefaultECSSubnet = "0.0.0.0"
)

// LookupRequest is a fully normalized lookup. Build it with FromNameAndType,
// FromNameAndOptions or FromOptions rather than by hand.
type LookupRequest struct {
	// Name is the ASCII form of the queried name.
	Name string
	// RecordType is an upper-case mnemonic such as "A" or "SRV".
	RecordType string
	// ID pins the transaction id; nil lets the connection allocate one.
	ID *uint16
	// Decode asks for a parsed message instead of raw bytes.
	Decode bool
	// DNSSEC sets the AD flag and the EDNS0 DO bit.
	DNSSEC bool
	// DNSSECCheckingDisabled sets the CD flag.
	DNSSECCheckingDisabled bool
	// ECSSubnet and ECSPrefixBits control the EDNS0 client subnet option.
	ECSSubnet     string
	ECSPrefixBits *uint8
	// Stream prepends the two-byte length prefix used by TCP and TLS.
	Stream bool
	// JSON selects the JSON API on HTTPS transports.
	JSON bool
}

// String renders the request as name:TYPE for logs.
func (r LookupRequest) String() string {
	return fmt.Sprintf("%s:%s", r.Name, r.RecordType)
}

// LookupOptions is a partially filled request. Pointer fields distinguish
// "not set" from the zero value so defaults can be layered.
type LookupOptions struct {
	Name                   string
	RecordType             string
	ID                     *uint16
	Decode                 *bool
	DNSSEC                 *bool
	DNSSECCheckingDisabled *bool
	ECSSubnet              string
	ECSPrefixBits          *uint8
	Stream                 *bool
	JSON                   *bool
}

// Ptr returns a pointer to v, for filling optional LookupOptions fields.
func Ptr[T any](v T) *T {
	return &v
}

// FromNameAndType builds a request for name and rrtype on top of defaults.
func FromNameAndType(name, rrtype string, defaults LookupOptions) (LookupRequest, error) {
	opts := LookupOptions{Name: name, RecordType: rrtype}
	return FromOptions(opts, defaults)
}

// FromNameAndOptions builds a request from opts, with name taking
// precedence over opts.Name.
func FromNameAndOptions(name string, opts LookupOptions, defaults LookupOptions) (LookupRequest, error) {
	if name != "" {
		opts.Name = name
	}
	return FromOptions(opts, defaults)
}

// FromOptions overlays opts on defaults and normalizes the result.
func FromOptions(opts LookupOptions, defaults LookupOptions) (LookupRequest, error) {
	merged := overlay(defaults, opts)

	if strings.TrimSpace(merged.Name) == "" {
		return LookupRequest{}, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	name, err := utils.ToASCII(merged.Name)
	if err != nil {
		return LookupRequest{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if name == "" {
		return LookupRequest{}, fmt.Errorf("%w: name %q has no ASCII form", ErrInvalidArgument, merged.Name)
	}

	rrtype := strings.ToUpper(strings.TrimSpace(merged.RecordType))
	if rrtype == "" {
		rrtype = DefaultRecordType
	}

	req := LookupRequest{
		Name:                   name,
		RecordType:             rrtype,
		ID:                     merged.ID,
		Decode:                 valueOr(merged.Decode, true),
		DNSSEC:                 valueOr(merged.DNSSEC, false),
		DNSSECCheckingDisabled: valueOr(merged.DNSSECCheckingDisabled, false),
		ECSSubnet:              strings.TrimSpace(merged.ECSSubnet),
		ECSPrefixBits:          merged.ECSPrefixBits,
		Stream:                 valueOr(merged.Stream, false),
		JSON:                   valueOr(merged.JSON, false),
	}
	if req.ECSPrefixBits != nil && req.ECSSubnet == "" {
		req.ECSSubnet = DefaultECSSubnet
	}
	return req, nil
}

// Reverse returns the PTR name for an IPv4 or IPv6 literal.
func Reverse(ip string) (string, error) {
	name, err := utils.Reverse(ip)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return name, nil
}

func overlay(base, top LookupOptions) LookupOptions {
	out := base
	if top.Name != "" {
		out.Name = top.Name
	}
	if top.RecordType != "" {
		out.RecordType = top.RecordType
	}
	if top.ID != nil {
		out.ID = top.ID
	}
	if top.Decode != nil {
		out.Decode = top.Decode
	}
	if top.DNSSEC != nil {
		out.DNSSEC = top.DNSSEC
	}
	if top.DNSSECCheckingDisabled != nil {
		out.DNSSECCheckingDisabled = top.DNSSECCheckingDisabled
	}
	if top.ECSSubnet != "" {
		out.ECSSubnet = top.ECSSubnet
	}
	if top.ECSPrefixBits != nil {
		out.ECSPrefixBits = top.ECSPrefixBits
	}
	if top.Stream != nil {
		out.Stream = top.Stream
	}
	if top.JSON != nil {
		out.JSON = top.JSON
	}
	return out
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
