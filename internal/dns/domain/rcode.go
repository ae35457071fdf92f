package domain

import "fmt"

// RCode is a DNS response code. Values above 15 are extended codes carried
// in the OPT record.
type RCode uint16

const (
	RCodeNoError  RCode = 0
	RCodeFormErr  RCode = 1
	RCodeServFail RCode = 2
	RCodeNXDomain RCode = 3
	RCodeNotImp   RCode = 4
	RCodeRefused  RCode = 5
	RCodeBadVers  RCode = 16
)

var rcodeNames = map[RCode]string{
	0:  "NOERROR",
	1:  "FORMERR",
	2:  "SERVFAIL",
	3:  "NXDOMAIN",
	4:  "NOTIMP",
	5:  "REFUSED",
	6:  "YXDOMAIN",
	7:  "YXRRSET",
	8:  "NXRRSET",
	9:  "NOTAUTH",
	10: "NOTZONE",
	11: "DSOTYPENI",
	16: "BADVERS",
	17: "BADKEY",
	18: "BADTIME",
	19: "BADMODE",
	20: "BADNAME",
	21: "BADALG",
	22: "BADTRUNC",
	23: "BADCOOKIE",
}

// IsValid reports whether the code has an assigned name.
func (r RCode) IsValid() bool {
	_, ok := rcodeNames[r]
	return ok
}

// String returns the mnemonic, or RCODE<n> for unassigned values.
func (r RCode) String() string {
	if name, ok := rcodeNames[r]; ok {
		return name
	}
	return fmt.Sprintf("RCODE%d", uint16(r))
}

// ParseRCode converts a mnemonic back to its code. Unknown names map to NOERROR.
func ParseRCode(s string) RCode {
	for code, name := range rcodeNames {
		if name == s {
			return code
		}
	}
	return RCodeNoError
}
