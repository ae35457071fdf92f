package wire

import (
	"strings"

	"github.com/miekg/dns"

	"github.com/haukened/dohdec/internal/dns/common/utils"
	"github.com/haukened/dohdec/internal/dns/domain"
)

// Answers returns the answer section of msg in presentation form. OPT
// pseudo-records never appear in the answer section and are not expected.
func Answers(msg *dns.Msg) []domain.Answer {
	if msg == nil {
		return nil
	}
	out := make([]domain.Answer, 0, len(msg.Answer))
	for _, rr := range msg.Answer {
		hdr := rr.Header()
		out = append(out, domain.Answer{
			Name:  utils.CanonicalDNSName(hdr.Name),
			Type:  typeString(hdr.Rrtype),
			Class: dns.Class(hdr.Class).String(),
			TTL:   hdr.Ttl,
			Data:  strings.TrimPrefix(rr.String(), hdr.String()),
		})
	}
	return out
}

// ResponseError returns a *domain.DNSError when msg carries a non-NOERROR
// response code, and nil otherwise.
func ResponseError(msg *dns.Msg) error {
	if msg == nil {
		return nil
	}
	return domain.NewDNSError(domain.RCode(msg.Rcode))
}

// JSONResponseError is ResponseError for JSON API responses, keyed on Status.
func JSONResponseError(msg *JSONMessage) error {
	if msg == nil || msg.Status < 0 {
		return nil
	}
	return domain.NewDNSError(domain.RCode(msg.Status))
}
