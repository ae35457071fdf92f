package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/haukened/dohdec/internal/dns/common/log"
	"github.com/haukened/dohdec/internal/dns/domain"
	"github.com/haukened/dohdec/internal/dns/gateways/wire"
)

const (
	maxResponseBody = 0xffff

	// characters allowed unescaped in a URL query value
	paddingAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"
)

// HTTPSTransport sends DNS-over-HTTPS requests, either as binary DNS
// messages (POST or GET ?dns=) or through the JSON API.
type HTTPSTransport struct {
	endpoint    *url.URL
	useGET      bool
	contentType string
	userAgent   string
	client      *http.Client
	codec       wire.DNSCodec
	logger      log.Logger
	observer    Observer
	random      io.Reader
}

// NewHTTPSTransport creates a DNS-over-HTTPS transport for opts.URL.
func NewHTTPSTransport(opts Options) (*HTTPSTransport, error) {
	opts = opts.withDefaults(TransportDoH)
	endpoint, err := url.Parse(opts.URL)
	if err != nil || endpoint.Host == "" || (endpoint.Scheme != "https" && endpoint.Scheme != "http") {
		return nil, fmt.Errorf(errBadURL, domain.ErrInvalidArgument, opts.URL, err)
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         opts.Dial,
		TLSClientConfig:     tlsConfig(opts.TLSConfig, endpoint.Hostname(), opts.RootCAs),
		TLSHandshakeTimeout: opts.ConnectTimeout,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConnsPerHost: 4,
	}
	if opts.HTTP2 {
		if _, err := http2.ConfigureTransports(tr); err != nil {
			return nil, fmt.Errorf("configure http2: %w", err)
		}
	}

	random := opts.Random
	if random == nil {
		random = rand.Reader
	}

	return &HTTPSTransport{
		endpoint:    endpoint,
		useGET:      opts.UseGET,
		contentType: opts.ContentType,
		userAgent:   opts.UserAgent,
		client:      &http.Client{Transport: tr},
		codec:       opts.Codec,
		logger:      log.With(opts.Logger, map[string]any{"transport": string(TransportDoH), "url": endpoint.String()}),
		observer:    opts.Observer,
		random:      random,
	}, nil
}

// Kind reports the transport protocol.
func (h *HTTPSTransport) Kind() TransportType {
	return TransportDoH
}

// Lookup performs one HTTP exchange. JSON requests return the JSON body.
func (h *HTTPSTransport) Lookup(ctx context.Context, req domain.LookupRequest) ([]byte, error) {
	req.Stream = false

	var (
		hreq *http.Request
		err  error
	)
	if req.JSON {
		hreq, err = h.jsonRequest(ctx, req)
	} else {
		hreq, err = h.wireRequest(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(hreq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		h.logger.Warn(map[string]any{"error": err}, "request failed")
		return nil, fmt.Errorf(errHTTPFailed, domain.ErrConnection, h.endpoint.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return nil, fmt.Errorf(errHTTPStatus, domain.ErrConnection, h.endpoint.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, fmt.Errorf(errHTTPFailed, domain.ErrConnection, h.endpoint.Host, err)
	}
	if len(body) > maxResponseBody {
		return nil, fmt.Errorf(errResponseTooBig, domain.ErrConnection, h.endpoint.Host, maxResponseBody)
	}

	h.observer.Observe(Event{Kind: EventReceive, Transport: TransportDoH, Addr: h.endpoint.Host, Data: clone(body)})
	h.logger.Debug(map[string]any{
		"status": resp.StatusCode,
		"proto":  resp.Proto,
		"bytes":  len(body),
	}, "response received")
	return body, nil
}

// Close drops idle keep-alive connections.
func (h *HTTPSTransport) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func (h *HTTPSTransport) wireRequest(ctx context.Context, req domain.LookupRequest) (*http.Request, error) {
	pkt, err := h.codec.EncodeQuery(req)
	if err != nil {
		return nil, err
	}
	h.observer.Observe(Event{Kind: EventSend, Transport: TransportDoH, Addr: h.endpoint.Host, Data: clone(pkt)})

	var hreq *http.Request
	if h.useGET {
		u := *h.endpoint
		q := u.Query()
		q.Set("dns", wire.Base64URL(pkt))
		u.RawQuery = q.Encode()
		hreq, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	} else {
		hreq, err = http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint.String(), bytes.NewReader(pkt))
		if err == nil {
			hreq.Header.Set("Content-Type", h.contentType)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	hreq.Header.Set("Accept", h.contentType)
	return hreq, nil
}

func (h *HTTPSTransport) jsonRequest(ctx context.Context, req domain.LookupRequest) (*http.Request, error) {
	target, err := h.jsonURL(req)
	if err != nil {
		return nil, err
	}
	h.observer.Observe(Event{Kind: EventSend, Transport: TransportDoH, Addr: h.endpoint.Host, Data: []byte(target)})

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	hreq.Header.Set("Accept", JSONContentType)
	return hreq, nil
}

// jsonURL builds the JSON API query URL, padded with random_padding so its
// length is a multiple of wire.PaddingBlock.
func (h *HTTPSTransport) jsonURL(req domain.LookupRequest) (string, error) {
	var b strings.Builder
	b.WriteString(h.endpoint.String())
	if h.endpoint.RawQuery == "" {
		b.WriteByte('?')
	} else {
		b.WriteByte('&')
	}
	b.WriteString("name=")
	b.WriteString(url.QueryEscape(req.Name))
	b.WriteString("&type=")
	b.WriteString(url.QueryEscape(req.RecordType))
	if req.DNSSEC {
		b.WriteString("&do=1")
	}
	if req.DNSSECCheckingDisabled {
		b.WriteString("&cd=1")
	}
	b.WriteString("&random_padding=")

	pad, err := randomPadding(h.random, jsonPaddingLength(b.Len()))
	if err != nil {
		return "", fmt.Errorf("random padding: %w", err)
	}
	b.WriteString(pad)
	return b.String(), nil
}

func jsonPaddingLength(n int) int {
	return (wire.PaddingBlock - n%wire.PaddingBlock) % wire.PaddingBlock
}

func randomPadding(r io.Reader, n int) (string, error) {
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	for i, c := range buf {
		buf[i] = paddingAlphabet[int(c)%len(paddingAlphabet)]
	}
	return string(buf), nil
}

var _ Connection = (*HTTPSTransport)(nil)
