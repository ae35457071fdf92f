package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/dohdec/internal/dns/common/dnstest"
	"github.com/haukened/dohdec/internal/dns/config"
)

func testConfig(kind string, srv *dnstest.Server) *config.AppConfig {
	cfg := config.DEFAULT_APP_CONFIG
	cfg.Transport = kind
	if srv != nil {
		cfg.Host = srv.Host
		cfg.Port = srv.Port
	}
	return &cfg
}

func runCLI(t *testing.T, cfg *config.AppConfig, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), cfg, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Lookup(t *testing.T) {
	tcp := dnstest.NewTCPServer(t)
	udp := dnstest.NewUDPServer(t)

	tests := []struct {
		name     string
		cfg      *config.AppConfig
		args     []string
		wantCode int
		wantOut  []string
		wantErr  string
	}{
		{
			name:     "tcp A record",
			cfg:      testConfig("tcp", tcp),
			args:     []string{"ietf.org"},
			wantCode: exitOK,
			wantOut:  []string{"ietf.org.", "4.31.198.44"},
		},
		{
			name:     "udp AAAA record",
			cfg:      testConfig("udp", udp),
			args:     []string{"ietf.org", "aaaa"},
			wantCode: exitOK,
			wantOut:  []string{"2001:1900:3001:11::2c"},
		},
		{
			name:     "reverse lookup",
			cfg:      testConfig("tcp", tcp),
			args:     []string{"-x", "4.31.198.44"},
			wantCode: exitOK,
			wantOut:  []string{"44.198.31.4.in-addr.arpa.", "mail.ietf.org."},
		},
		{
			name:     "client subnet and dnssec flags",
			cfg:      testConfig("tcp", tcp),
			args:     []string{"--dnssec", "--cd", "--subnet", "1.1.1.1", "--bits", "24", "ietf.org"},
			wantCode: exitOK,
			wantOut:  []string{"4.31.198.44"},
		},
		{
			name:     "raw output",
			cfg:      testConfig("tcp", tcp),
			args:     []string{"--raw", "--id", "4660", "ietf.org"},
			wantCode: exitOK,
			wantOut:  []string{"00000000  12 34 81 80"},
		},
		{
			name:     "nxdomain exits non-zero",
			cfg:      testConfig("tcp", tcp),
			args:     []string{"missing.example"},
			wantCode: exitError,
			wantOut:  []string{"NXDOMAIN"},
			wantErr:  "DNS error: NXDOMAIN",
		},
		{
			name:     "unmatched response",
			cfg:      testConfig("tcp", tcp),
			args:     []string{"badid.example"},
			wantCode: exitError,
			wantErr:  `timeout looking up "badid.example":A`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, errOut := runCLI(t, tt.cfg, tt.args...)
			assert.Equal(t, tt.wantCode, code, "stderr: %s", errOut)
			for _, want := range tt.wantOut {
				assert.Contains(t, out, want)
			}
			if tt.wantErr != "" {
				assert.Contains(t, errOut, tt.wantErr)
			}
		})
	}
}

func TestRun_UsageErrors(t *testing.T) {
	cfg := testConfig("tcp", nil)

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
		wantErr  string
	}{
		{name: "no name", args: nil, wantCode: exitUsage, wantErr: "usage: dohdec"},
		{name: "unknown flag", args: []string{"--bogus", "ietf.org"}, wantCode: exitUsage, wantErr: "unknown flag"},
		{name: "bad reverse address", args: []string{"-x", "not-an-ip"}, wantCode: exitUsage, wantErr: "invalid argument"},
		{name: "prefix too long", args: []string{"--bits", "200", "ietf.org"}, wantCode: exitUsage, wantErr: "subnet prefix"},
		{name: "id too large", args: []string{"--id", "70000", "ietf.org"}, wantCode: exitUsage, wantErr: "transaction id"},
		{name: "version", args: []string{"--version"}, wantCode: exitOK, wantOut: "dohdec 0.1.0"},
		{name: "help", args: []string{"--help"}, wantCode: exitOK, wantOut: "NAME"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, errOut := runCLI(t, cfg, tt.args...)
			assert.Equal(t, tt.wantCode, code)
			if tt.wantOut != "" {
				assert.Contains(t, out, tt.wantOut)
			}
			if tt.wantErr != "" {
				assert.Contains(t, errOut, tt.wantErr)
			}
		})
	}
}

func TestRun_BadTransportConfig(t *testing.T) {
	cfg := testConfig("udp", nil)
	cfg.Host = "dns.example"

	code, _, errOut := runCLI(t, cfg, "ietf.org")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "failed to build transport")
}

func TestRun_ConnectionRefused(t *testing.T) {
	srv := dnstest.NewTCPServer(t)
	cfg := testConfig("tcp", srv)
	srv.Close()

	code, _, errOut := runCLI(t, cfg, "ietf.org")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "connection error")
}

func TestBuildApplication(t *testing.T) {
	for _, kind := range []string{"udp", "tcp", "tls", "https"} {
		t.Run(kind, func(t *testing.T) {
			app, err := buildApplication(testConfig(kind, nil))
			require.NoError(t, err)
			require.NotNil(t, app.client)
			assert.Equal(t, 0, app.violations.Len())
			assert.NoError(t, app.client.Close())
		})
	}

	cfg := testConfig("tcp", nil)
	cfg.ViolationLogSize = 0
	_, err := buildApplication(cfg)
	assert.Error(t, err)
}

func TestTransportOptions(t *testing.T) {
	cfg := testConfig("tls", nil)
	cfg.RejectUnauthorized = false
	cfg.PreferPost = false
	cfg.Hash = "ab"

	opts := transportOptions(cfg, nil, nil)
	assert.True(t, opts.AllowUnauthorized)
	assert.True(t, opts.UseGET)
	assert.Equal(t, "ab", opts.Hash)
	assert.Equal(t, cfg.URL, opts.URL)
}

func TestPrintResponse_Message(t *testing.T) {
	srv := dnstest.NewTCPServer(t)
	cfg := testConfig("tcp", srv)
	app, err := buildApplication(cfg)
	require.NoError(t, err)
	defer app.client.Close()

	resp, err := app.client.Lookup(context.Background(), "ietf.org", "A")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printResponse(&buf, resp))
	assert.Contains(t, buf.String(), "4.31.198.44")
	assert.Contains(t, buf.String(), ";; ANSWER SECTION:")
}
