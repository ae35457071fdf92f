// Package utils holds small name helpers shared by the request normalizer and
// the presentation of decoded answers.
package utils

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

var (
	// ErrNotAnIP is returned by Reverse for anything that is not an IPv4 or IPv6 literal.
	ErrNotAnIP = errors.New("not an IP address")
)

// lookupProfile maps names the way a resolver does before putting them on
// the wire. Hostname (STD3) and hyphen rules are off so service labels such
// as _xmpp-server._tcp survive.
var lookupProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(false),
	idna.ValidateLabels(false),
)

// CanonicalDNSName returns a DNS name in presentation form: trimmed,
// lowercased and without trailing dots. The root name stays ".".
func CanonicalDNSName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "." {
		return name
	}
	return strings.TrimRight(name, ".")
}

// ToASCII converts a possibly internationalized name to its ASCII (punycode)
// form, e.g. "españa.icom.museum" becomes "xn--espaa-rta.icom.museum".
func ToASCII(name string) (string, error) {
	ascii, err := lookupProfile.ToASCII(strings.TrimSpace(name))
	if err != nil {
		return "", fmt.Errorf("idna %q: %w", name, err)
	}
	return ascii, nil
}

// Reverse returns the PTR owner name for ip, under in-addr.arpa. for IPv4
// and ip6.arpa. for IPv6.
func Reverse(ip string) (string, error) {
	if net.ParseIP(strings.TrimSpace(ip)) == nil {
		return "", fmt.Errorf("%w: %q", ErrNotAnIP, ip)
	}
	name, err := dns.ReverseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAnIP, err)
	}
	return name, nil
}
