package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is stripped from environment variable names before they are
	// matched to AppConfig keys.
	EnvPrefix = "DOHDEC_"

	// ConfigFileEnv names an optional YAML, JSON or TOML file. Its values sit
	// between the defaults and the environment.
	ConfigFileEnv = EnvPrefix + "CONFIG"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Transport selects the protocol: udp, tcp, tls or https.
	Transport string `koanf:"transport" validate:"required,oneof=udp tcp tls https"`

	// Host is the server address for udp, tcp and tls. UDP needs an IP literal.
	Host string `koanf:"host" validate:"required"`

	// Port overrides the transport's default port when non-zero.
	Port int `koanf:"port" validate:"gte=0,lte=65535"`

	// ServerName is the TLS name to verify instead of Host.
	ServerName string `koanf:"server_name"`

	// URL is the DNS-over-HTTPS endpoint.
	URL string `koanf:"url" validate:"required,url"`

	// Hash pins the server certificate digest, hex with optional colons.
	Hash string `koanf:"hash" validate:"omitempty,hexhash"`

	// HashAlg is the digest Hash was computed with.
	HashAlg string `koanf:"hash_alg" validate:"required,oneof=sha1 sha224 sha256 sha384 sha512"`

	// RejectUnauthorized requires a valid certificate chain unless a pin matches.
	RejectUnauthorized bool `koanf:"reject_unauthorized"`

	// PreferPost sends binary DNS-over-HTTPS queries with POST rather than GET.
	PreferPost bool `koanf:"prefer_post"`

	// JSON uses the DNS-over-HTTPS JSON API.
	JSON bool `koanf:"json"`

	// HTTP2 enables HTTP/2 for DNS-over-HTTPS.
	HTTP2 bool `koanf:"http2"`

	UserAgent string `koanf:"user_agent" validate:"required"`

	// Timeout bounds each lookup; zero waits indefinitely.
	Timeout time.Duration `koanf:"timeout" validate:"gte=0"`

	// ViolationLogSize is how many unmatched responses are kept for inspection.
	ViolationLogSize int `koanf:"violation_log_size" validate:"gte=1"`
}

// DEFAULT_APP_CONFIG defines the default application configuration: DNS over
// HTTPS to Cloudflare with a five second lookup timeout.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:                "prod",
	LogLevel:           "warn",
	Transport:          "https",
	Host:               "1.1.1.1",
	URL:                "https://cloudflare-dns.com/dns-query",
	HashAlg:            "sha256",
	RejectUnauthorized: true,
	PreferPost:         true,
	UserAgent:          "dohdec/0.1.0",
	Timeout:            5 * time.Second,
	ViolationLogSize:   64,
}

// hashLengths are the hex lengths of the supported digests.
var hashLengths = map[int]bool{40: true, 56: true, 64: true, 96: true, 128: true}

// validHexHash accepts a hex digest of a supported length. Bytes may be
// separated by colons, as openssl prints them.
func validHexHash(fl validator.FieldLevel) bool {
	h := strings.ReplaceAll(fl.Field().String(), ":", "")
	if !hashLengths[len(h)] {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}

// envLoader is a function that loads environment variables with the prefix
// "DOHDEC_". It transforms the keys to lowercase and removes the prefix,
// and can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

// defaultLoader loads default configuration values into the provided Koanf instance
// using the structs provider and the DEFAULT_APP_CONFIG struct. It returns an error
// if loading fails.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// fileLoader loads the config file at path, choosing the parser from its
// extension.
var fileLoader = func(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	case ".toml":
		parser = toml.Parser()
	default:
		return fmt.Errorf("unsupported config file type %q", ext)
	}
	return k.Load(file.Provider(path), parser)
}

// registerValidation registers the custom "hexhash" validation with the
// provided validator.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("hexhash", validHexHash)
}

// Load builds an AppConfig from the defaults, the optional config file and
// then the environment, and validates the result.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := fileLoader(k, path); err != nil {
			return nil, fmt.Errorf("error loading config file %s: %w", path, err)
		}
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	err = registerValidation(validate)
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
