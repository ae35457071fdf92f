package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/haukened/dohdec/internal/dns/common/log"
	"github.com/haukened/dohdec/internal/dns/config"
	"github.com/haukened/dohdec/internal/dns/domain"
	"github.com/haukened/dohdec/internal/dns/gateways/transport"
	"github.com/haukened/dohdec/internal/dns/repos/violations"
	"github.com/haukened/dohdec/internal/dns/services/client"
)

const (
	// Version information
	version = "0.1.0"
	appName = "dohdec"

	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// cliOptions are the per-lookup flags. Server selection comes from the
// DOHDEC_ environment.
type cliOptions struct {
	DNSSEC  bool   `short:"d" long:"dnssec" description:"Request DNSSEC records"`
	NoCheck bool   `long:"cd" description:"Set the checking disabled flag"`
	Subnet  string `short:"s" long:"subnet" description:"EDNS client subnet address"`
	Bits    int    `short:"b" long:"bits" default:"-1" description:"EDNS client subnet prefix length"`
	JSON    bool   `short:"j" long:"json" description:"Use the JSON API (https only)"`
	Reverse bool   `short:"x" long:"reverse" description:"Treat NAME as an IP address and look up its PTR record"`
	Raw     bool   `long:"raw" description:"Print the undecoded response as a hex dump"`
	ID      int    `long:"id" default:"-1" description:"Transaction id to send"`
	Version bool   `short:"V" long:"version" description:"Print the version and exit"`
	Args    struct {
		Name string `positional-arg-name:"NAME"`
		Type string `positional-arg-name:"TYPE"`
	} `positional-args:"yes"`
}

// Application holds the lookup client and what it was built from.
type Application struct {
	config     *config.AppConfig
	client     *client.Client
	violations interface {
		Recent(n int) []domain.Violation
		Len() int
	}
}

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(exitError)
	}

	// Configure global logging
	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(exitError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, cfg, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run performs one lookup and returns the process exit code.
func run(ctx context.Context, cfg *config.AppConfig, args []string, stdout, stderr io.Writer) int {
	var opts cliOptions
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = appName
	parser.Usage = "[OPTIONS] NAME [TYPE]"
	if _, err := parser.ParseArgs(args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Fprintln(stdout, err)
			return exitOK
		}
		fmt.Fprintf(stderr, "%v\n", err)
		return exitUsage
	}
	if opts.Version {
		fmt.Fprintf(stdout, "%s %s\n", appName, version)
		return exitOK
	}
	if opts.Args.Name == "" {
		fmt.Fprintf(stderr, "usage: %s %s\n", appName, parser.Usage)
		return exitUsage
	}

	app, err := buildApplication(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitError
	}
	defer app.client.Close()

	lookup, err := lookupOptions(opts)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitUsage
	}

	log.Info(map[string]any{
		"version":   version,
		"transport": cfg.Transport,
		"name":      opts.Args.Name,
	}, "Starting lookup")

	var resp *client.Response
	if opts.Reverse {
		name, rerr := domain.Reverse(opts.Args.Name)
		if rerr != nil {
			fmt.Fprintf(stderr, "%v\n", rerr)
			return exitUsage
		}
		resp, err = app.client.LookupWith(ctx, name, withType(lookup, "PTR"))
	} else {
		resp, err = app.client.LookupWith(ctx, opts.Args.Name, lookup)
	}
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		app.reportViolations()
		if errors.Is(err, domain.ErrInvalidArgument) {
			return exitUsage
		}
		return exitError
	}

	if err := printResponse(stdout, resp); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitError
	}
	if dnsErr := resp.Err(); dnsErr != nil {
		fmt.Fprintf(stderr, "%v\n", dnsErr)
		return exitError
	}
	return exitOK
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	logger := log.GetLogger()

	vlog, err := violations.New(cfg.ViolationLogSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create violation log: %w", err)
	}

	conn, err := transport.New(transport.TransportType(cfg.Transport), transportOptions(cfg, logger, vlog))
	if err != nil {
		return nil, fmt.Errorf("failed to build transport: %w", err)
	}

	c, err := client.New(client.Options{
		Transport: conn,
		Defaults:  domain.LookupOptions{JSON: domain.Ptr(cfg.JSON)},
		Timeout:   cfg.Timeout,
		Logger:    logger,
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to build client: %w", err)
	}

	return &Application{config: cfg, client: c, violations: vlog}, nil
}

func transportOptions(cfg *config.AppConfig, logger log.Logger, recorder transport.ViolationRecorder) transport.Options {
	return transport.Options{
		Host:              cfg.Host,
		Port:              cfg.Port,
		ServerName:        cfg.ServerName,
		URL:               cfg.URL,
		Hash:              cfg.Hash,
		HashAlg:           cfg.HashAlg,
		AllowUnauthorized: !cfg.RejectUnauthorized,
		UseGET:            !cfg.PreferPost,
		UserAgent:         cfg.UserAgent,
		HTTP2:             cfg.HTTP2,
		Logger:            logger,
		Violations:        recorder,
	}
}

func lookupOptions(opts cliOptions) (domain.LookupOptions, error) {
	lookup := domain.LookupOptions{
		RecordType:             opts.Args.Type,
		DNSSEC:                 domain.Ptr(opts.DNSSEC),
		DNSSECCheckingDisabled: domain.Ptr(opts.NoCheck),
		ECSSubnet:              opts.Subnet,
		Decode:                 domain.Ptr(!opts.Raw),
	}
	if opts.JSON {
		lookup.JSON = domain.Ptr(true)
	}
	if opts.Bits >= 0 {
		if opts.Bits > 128 {
			return lookup, fmt.Errorf("%w: subnet prefix /%d", domain.ErrInvalidArgument, opts.Bits)
		}
		lookup.ECSPrefixBits = domain.Ptr(uint8(opts.Bits))
	}
	if opts.ID >= 0 {
		if opts.ID > 0xffff {
			return lookup, fmt.Errorf("%w: transaction id %d", domain.ErrInvalidArgument, opts.ID)
		}
		lookup.ID = domain.Ptr(uint16(opts.ID))
	}
	return lookup, nil
}

func withType(opts domain.LookupOptions, rrtype string) domain.LookupOptions {
	opts.RecordType = rrtype
	return opts
}

func printResponse(w io.Writer, resp *client.Response) error {
	switch {
	case resp.JSON != nil:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.JSON)
	case resp.Message != nil:
		_, err := fmt.Fprintln(w, resp.Message.String())
		return err
	default:
		_, err := fmt.Fprint(w, hex.Dump(resp.Raw))
		return err
	}
}

// reportViolations logs what the server sent that matched no request.
func (a *Application) reportViolations() {
	for _, v := range a.violations.Recent(0) {
		log.Warn(map[string]any{
			"transport": v.Transport,
			"server":    v.Remote,
			"id":        v.ID,
			"frame":     hex.EncodeToString(v.Frame),
		}, "Unmatched response")
	}
}
