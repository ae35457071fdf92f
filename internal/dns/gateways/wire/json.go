package wire

import (
	"encoding/json"
	"fmt"

	"github.com/miekg/dns"

	"github.com/haukened/dohdec/internal/dns/common/utils"
	"github.com/haukened/dohdec/internal/dns/domain"
)

// JSONMessage is the body returned by the JSON API of DNS-over-HTTPS
// resolvers (application/dns-json).
type JSONMessage struct {
	Status     int            `json:"Status"`
	TC         bool           `json:"TC"`
	RD         bool           `json:"RD"`
	RA         bool           `json:"RA"`
	AD         bool           `json:"AD"`
	CD         bool           `json:"CD"`
	Question   []JSONQuestion `json:"Question"`
	Answer     []JSONRecord   `json:"Answer,omitempty"`
	Authority  []JSONRecord   `json:"Authority,omitempty"`
	Additional []JSONRecord   `json:"Additional,omitempty"`
	Comment    any            `json:"Comment,omitempty"`
}

type JSONQuestion struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
}

type JSONRecord struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
	TTL  uint32 `json:"TTL"`
	Data string `json:"data"`
}

// DecodeJSON parses a JSON API response body.
func DecodeJSON(data []byte) (*JSONMessage, error) {
	var msg JSONMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	return &msg, nil
}

// Answers returns the answer section in presentation form.
func (m *JSONMessage) Answers() []domain.Answer {
	out := make([]domain.Answer, 0, len(m.Answer))
	for _, rec := range m.Answer {
		out = append(out, domain.Answer{
			Name:  utils.CanonicalDNSName(rec.Name),
			Type:  typeString(rec.Type),
			Class: "IN",
			TTL:   rec.TTL,
			Data:  rec.Data,
		})
	}
	return out
}

func typeString(t uint16) string {
	if s, ok := dns.TypeToString[t]; ok {
		return s
	}
	return fmt.Sprintf("TYPE%d", t)
}
