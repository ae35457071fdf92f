package wire

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"github.com/haukened/dohdec/internal/dns/domain"
)

const (
	// EDNSUDPSize is the payload size advertised in every query's OPT record.
	EDNSUDPSize = 4096

	// PaddingBlock is the size queries are padded to a multiple of.
	PaddingBlock = 128

	// option code + option length
	optionHeaderLen = 4

	defaultECSPrefixV4 = 24
	defaultECSPrefixV6 = 56

	maxStreamMessage = 0xffff
)

// BuildQuery encodes req as a recursive query with a single OPT record that
// carries the optional client subnet and a padding option sized so the
// whole message is a multiple of PaddingBlock bytes.
func BuildQuery(req domain.LookupRequest) ([]byte, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidArgument)
	}
	rrtype := req.RecordType
	if strings.TrimSpace(rrtype) == "" {
		rrtype = domain.DefaultRecordType
	}
	qtype, err := ParseType(rrtype)
	if err != nil {
		return nil, err
	}

	msg := new(dns.Msg)
	if req.ID != nil {
		msg.Id = *req.ID
	}
	msg.RecursionDesired = true
	msg.Question = []dns.Question{{Name: dns.Fqdn(name), Qtype: qtype, Qclass: dns.ClassINET}}

	opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
	opt.SetUDPSize(EDNSUDPSize)
	if req.DNSSEC {
		msg.AuthenticatedData = true
		opt.SetDo()
	}
	if req.DNSSECCheckingDisabled {
		msg.CheckingDisabled = true
	}

	subnet, err := clientSubnet(req)
	if err != nil {
		return nil, err
	}
	if subnet != nil {
		opt.Option = append(opt.Option, subnet)
	}
	msg.Extra = append(msg.Extra, opt)

	// Len() is the exact packed size while compression is off.
	pad := PaddingLength(msg.Len())
	opt.Option = append(opt.Option, &dns.EDNS0_PADDING{Padding: make([]byte, pad)})

	pkt, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if !req.Stream {
		return pkt, nil
	}
	return Frame(pkt)
}

// PaddingLength returns how many padding bytes to put in the EDNS0 padding
// option of a message that is unpadded bytes long without it, so that the
// padded message ends on a PaddingBlock boundary. When the option header
// alone would overshoot the current block, the padding fills the next one.
func PaddingLength(unpadded int) int {
	blocks := (unpadded + PaddingBlock - 1) / PaddingBlock
	pad := blocks*PaddingBlock - unpadded - optionHeaderLen
	if pad < 0 {
		pad += PaddingBlock
	}
	return pad
}

// Frame prepends the two-byte big-endian length used on stream transports.
func Frame(msg []byte) ([]byte, error) {
	if len(msg) > maxStreamMessage {
		return nil, fmt.Errorf("%w: message of %d bytes exceeds stream frame limit", domain.ErrInvalidArgument, len(msg))
	}
	framed := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(framed, uint16(len(msg)))
	copy(framed[2:], msg)
	return framed, nil
}

// ParseType maps a record type mnemonic (or the generic TYPEnnn form) to
// its numeric value.
func ParseType(s string) (uint16, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if t, ok := dns.StringToType[s]; ok {
		return t, nil
	}
	if rest, ok := strings.CutPrefix(s, "TYPE"); ok {
		if n, err := strconv.ParseUint(rest, 10, 16); err == nil {
			return uint16(n), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown record type %q", domain.ErrInvalidArgument, s)
}

// Base64URL encodes b with the URL-safe alphabet and no padding, as used by
// the dns= parameter of DNS-over-HTTPS GET requests.
func Base64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// clientSubnet builds the EDNS0 client subnet option, or nil when the
// request asks for none.
func clientSubnet(req domain.LookupRequest) (*dns.EDNS0_SUBNET, error) {
	subnet := strings.TrimSpace(req.ECSSubnet)
	ip := net.ParseIP(subnet)
	if req.ECSPrefixBits == nil && ip == nil {
		return nil, nil
	}
	if ip == nil {
		if subnet != "" {
			return nil, fmt.Errorf("%w: invalid client subnet %q", domain.ErrInvalidArgument, subnet)
		}
		ip = net.ParseIP(domain.DefaultECSSubnet)
	}

	ecs := &dns.EDNS0_SUBNET{Code: dns.EDNS0SUBNET}
	bits, width := uint8(defaultECSPrefixV6), 128
	if v4 := ip.To4(); v4 != nil {
		ecs.Family = 1
		ip = v4
		bits, width = defaultECSPrefixV4, 32
	} else {
		ecs.Family = 2
		ip = ip.To16()
	}
	if req.ECSPrefixBits != nil {
		bits = *req.ECSPrefixBits
	}
	if int(bits) > width {
		return nil, fmt.Errorf("%w: client subnet prefix /%d too long for %s", domain.ErrInvalidArgument, bits, subnet)
	}
	ecs.SourceNetmask = bits
	ecs.Address = ip.Mask(net.CIDRMask(int(bits), width))
	return ecs, nil
}
