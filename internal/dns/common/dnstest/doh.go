package dnstest

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/miekg/dns"
)

// Request records what a DoH client sent.
type Request struct {
	Method      string
	Path        string
	Query       string
	ContentType string
	Accept      string
	UserAgent   string
	Proto       string
	BodyLen     int
}

// DoHHandler answers wire-format queries (GET ?dns= and POST) and JSON API
// queries (GET ?name=&type=) from the test zone. The path "/fail" always
// answers 500.
type DoHHandler struct {
	mu       sync.Mutex
	requests []Request
}

// NewDoHHandler returns an empty handler.
func NewDoHHandler() *DoHHandler {
	return &DoHHandler{}
}

// Requests returns a copy of everything received so far.
func (h *DoHHandler) Requests() []Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Request(nil), h.requests...)
}

func (h *DoHHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	h.mu.Lock()
	h.requests = append(h.requests, Request{
		Method:      r.Method,
		Path:        r.URL.Path,
		Query:       r.URL.RawQuery,
		ContentType: r.Header.Get("Content-Type"),
		Accept:      r.Header.Get("Accept"),
		UserAgent:   r.Header.Get("User-Agent"),
		Proto:       r.Proto,
		BodyLen:     len(body),
	})
	h.mu.Unlock()

	if r.URL.Path == "/fail" {
		http.Error(w, "upstream failure", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	switch {
	case r.Method == http.MethodPost:
		h.wire(w, body)
	case q.Get("dns") != "":
		raw, err := base64.RawURLEncoding.DecodeString(q.Get("dns"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.wire(w, raw)
	case q.Get("name") != "":
		h.json(w, q.Get("name"), q.Get("type"))
	default:
		http.Error(w, "missing query", http.StatusBadRequest)
	}
}

func (h *DoHHandler) wire(w http.ResponseWriter, raw []byte) {
	out, _ := Respond(raw)
	if out == nil {
		http.Error(w, "unanswerable", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/dns-message")
	_, _ = w.Write(out)
}

type jsonRR struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
	TTL  uint32 `json:"TTL,omitempty"`
	Data string `json:"data,omitempty"`
}

type jsonReply struct {
	Status   int      `json:"Status"`
	RD       bool     `json:"RD"`
	RA       bool     `json:"RA"`
	Question []jsonRR `json:"Question"`
	Answer   []jsonRR `json:"Answer,omitempty"`
}

func (h *DoHHandler) json(w http.ResponseWriter, name, rrtype string) {
	qtype, ok := dns.StringToType[strings.ToUpper(rrtype)]
	if !ok {
		qtype = dns.TypeA
	}
	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(name), qtype)
	reply, _ := Answer(query)
	if reply == nil {
		http.Error(w, "unanswerable", http.StatusBadRequest)
		return
	}

	out := jsonReply{
		Status:   reply.Rcode,
		RD:       true,
		RA:       true,
		Question: []jsonRR{{Name: query.Question[0].Name, Type: qtype}},
	}
	for _, rr := range reply.Answer {
		hdr := rr.Header()
		out.Answer = append(out.Answer, jsonRR{
			Name: hdr.Name,
			Type: hdr.Rrtype,
			TTL:  hdr.Ttl,
			Data: strings.TrimPrefix(rr.String(), hdr.String()),
		})
	}
	w.Header().Set("Content-Type", "application/dns-json")
	_ = json.NewEncoder(w).Encode(out)
}
