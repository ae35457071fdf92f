// Package dnstest provides loopback DNS responders for tests: stream (TCP
// and TLS), datagram and DNS-over-HTTPS, all answering from a small fixed
// zone. A few names trigger misbehaviour:
//
//	chunky.example     the response is written in several small pieces
//	badid.example      the response carries the query id plus one
//	blackhole.example  no response is ever sent
//	refused.example    the response has rcode REFUSED
//
// Every other unknown name gets NXDOMAIN.
package dnstest

import (
	"strings"

	"github.com/miekg/dns"
)

// ResponseBlock is the size responses are padded to a multiple of.
const ResponseBlock = 468

// Behaviour describes how a responder should deliver a reply.
type Behaviour int

const (
	Normal Behaviour = iota
	Chunked
	Silent
)

var zone = map[string][]string{
	"ietf.org.|A":                       {"ietf.org. 1800 IN A 4.31.198.44"},
	"ietf.org.|AAAA":                    {"ietf.org. 1800 IN AAAA 2001:1900:3001:11::2c"},
	"_xmpp-server._tcp.jabber.org.|SRV": {"_xmpp-server._tcp.jabber.org. 900 IN SRV 30 30 5269 hermes2.jabber.org."},
	"chunky.example.|A":                 {"chunky.example. 60 IN A 192.168.1.1"},
	"badid.example.|A":                  {"badid.example. 60 IN A 192.168.1.2"},
	"44.198.31.4.in-addr.arpa.|PTR":     {"44.198.31.4.in-addr.arpa. 1800 IN PTR mail.ietf.org."},
}

// Answer builds the reply for query. A nil reply means the query could not
// be parsed or the name is silent.
func Answer(query *dns.Msg) (*dns.Msg, Behaviour) {
	reply := new(dns.Msg)
	reply.SetReply(query)
	reply.RecursionAvailable = true
	if len(query.Question) != 1 {
		reply.Rcode = dns.RcodeFormatError
		return reply, Normal
	}

	q := query.Question[0]
	name := strings.ToLower(q.Name)
	behaviour := Normal
	switch name {
	case "blackhole.example.":
		return nil, Silent
	case "chunky.example.":
		behaviour = Chunked
	case "badid.example.":
		reply.Id++
	case "refused.example.":
		reply.Rcode = dns.RcodeRefused
		return reply, behaviour
	}

	lines, ok := zone[name+"|"+dns.TypeToString[q.Qtype]]
	if !ok {
		reply.Rcode = dns.RcodeNameError
		return reply, behaviour
	}
	for _, line := range lines {
		rr, err := dns.NewRR(line)
		if err != nil {
			panic(err)
		}
		reply.Answer = append(reply.Answer, rr)
	}
	return reply, behaviour
}

// Pack serializes reply, padding it to a multiple of ResponseBlock when the
// query carried EDNS0.
func Pack(query, reply *dns.Msg) ([]byte, error) {
	if query.IsEdns0() != nil {
		opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
		opt.SetUDPSize(dns.DefaultMsgSize)
		reply.Extra = append(reply.Extra, opt)
		pad := ResponseBlock - (reply.Len()+4)%ResponseBlock
		if pad == ResponseBlock {
			pad = 0
		}
		opt.Option = append(opt.Option, &dns.EDNS0_PADDING{Padding: make([]byte, pad)})
	}
	return reply.Pack()
}

// Respond parses raw, answers it and packs the reply.
func Respond(raw []byte) ([]byte, Behaviour) {
	query := new(dns.Msg)
	if err := query.Unpack(raw); err != nil {
		return nil, Silent
	}
	reply, behaviour := Answer(query)
	if reply == nil {
		return nil, behaviour
	}
	out, err := Pack(query, reply)
	if err != nil {
		return nil, Silent
	}
	return out, behaviour
}
