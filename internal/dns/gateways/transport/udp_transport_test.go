package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/dohdec/internal/dns/common/dnstest"
	"github.com/haukened/dohdec/internal/dns/domain"
)

func newTestUDP(t *testing.T, srv *dnstest.Server, mutate ...func(*Options)) *UDPTransport {
	t.Helper()
	opts := Options{Host: srv.Host, Port: srv.Port, Logger: &testLogger{}}
	for _, m := range mutate {
		m(&opts)
	}
	tr, err := NewUDPTransport(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestNewUDPTransport(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		wantAddr string
		wantErr  bool
	}{
		{name: "ipv4 default port", host: "1.1.1.1", wantAddr: "1.1.1.1:53"},
		{name: "ipv6", host: "2606:4700:4700::1111", port: 5353, wantAddr: "[2606:4700:4700::1111]:5353"},
		{name: "default host", wantAddr: "1.1.1.1:53"},
		{name: "hostname", host: "one.one.one.one", wantErr: true},
		{name: "garbage", host: "999.1.1.1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := NewUDPTransport(Options{Host: tt.host, Port: tt.port, Logger: &testLogger{}})
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidArgument)
				assert.Nil(t, tr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, tr.Address())
			assert.Equal(t, TransportUDP, tr.Kind())
			assert.Equal(t, StateIdle, tr.State())
		})
	}
}

func TestUDPTransport_Lookup(t *testing.T) {
	srv := dnstest.NewUDPServer(t)
	events := &eventRecorder{}
	tr := newTestUDP(t, srv, func(o *Options) { o.Observer = events })

	raw, err := tr.Lookup(context.Background(), request(t, "ietf.org", "A"))
	require.NoError(t, err)

	msg := unpack(t, raw)
	require.Len(t, msg.Answer, 1)
	assert.Contains(t, msg.Answer[0].String(), "4.31.198.44")
	assert.Zero(t, len(raw)%dnstest.ResponseBlock)

	sent := events.of(EventSend)
	require.Len(t, sent, 1)
	assert.Zero(t, len(sent[0].Data)%128, "queries are padded")
	assert.Equal(t, StateConnected, tr.State())
}

func TestUDPTransport_ConcurrentLookups(t *testing.T) {
	srv := dnstest.NewUDPServer(t)
	dialer := &dialCounter{delay: 20 * time.Millisecond}
	tr := newTestUDP(t, srv, func(o *Options) { o.Dial = dialer.dial })

	reqs := []domain.LookupRequest{
		request(t, "ietf.org", "A"),
		request(t, "ietf.org", "AAAA"),
		request(t, "_xmpp-server._tcp.jabber.org", "SRV"),
		request(t, "44.198.31.4.in-addr.arpa", "PTR"),
	}

	var wg sync.WaitGroup
	results := make([][]byte, 20)
	errs := make([]error, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = tr.Lookup(context.Background(), reqs[i%len(reqs)])
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		msg := unpack(t, results[i])
		require.Len(t, msg.Question, 1)
		assert.Equal(t, reqs[i%len(reqs)].Name+".", msg.Question[0].Name)
		assert.Len(t, msg.Answer, 1)
	}
	assert.Equal(t, int32(1), dialer.calls.Load())
}

func TestUDPTransport_UnmatchedID(t *testing.T) {
	srv := dnstest.NewUDPServer(t)
	violations := &violationRecorder{}
	tr := newTestUDP(t, srv, func(o *Options) { o.Violations = violations })

	_, err := tr.Lookup(context.Background(), request(t, "badid.example", "A", domain.LookupOptions{ID: domain.Ptr(uint16(0xffff))}))
	assert.ErrorIs(t, err, domain.ErrDisconnected)
	assert.ErrorIs(t, err, domain.ErrProtocolViolation)

	got := violations.all()
	require.Len(t, got, 1)
	assert.Equal(t, uint16(0), got[0].ID, "the id wraps")
	assert.Equal(t, "udp", got[0].Transport)
	assert.Equal(t, StateIdle, tr.State())

	_, err = tr.Lookup(context.Background(), request(t, "ietf.org", "A"))
	assert.NoError(t, err)
}

func TestUDPTransport_Timeout(t *testing.T) {
	srv := dnstest.NewUDPServer(t)
	tr := newTestUDP(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tr.Lookup(ctx, request(t, "blackhole.example", "A"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, tr.Pending())
	assert.Equal(t, StateConnected, tr.State())
}
