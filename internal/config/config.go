// ABOUTME: Configuration loading and parsing for trellis-gateway
// ABOUTME: Supports YAML and TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/trellis-gateway/internal/broker"
)

// Default values applied by Load when a field is omitted.
const (
	DefaultHTTPAddr    = ":8080"
	DefaultCallTimeout = broker.DefaultTimeout
	DefaultReplayTTL   = 5 * time.Minute
	DefaultReplaySize  = 100_000
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
)

// Config represents the complete trellis-gateway configuration
type Config struct {
	Server      ServerConfig       `yaml:"server" toml:"server"`
	Tailscale   TailscaleConfig    `yaml:"tailscale" toml:"tailscale"`
	Broker      BrokerConfig       `yaml:"broker" toml:"broker"`
	Credentials []CredentialConfig `yaml:"credentials" toml:"credentials"`
	Resources   []broker.Resource  `yaml:"resources" toml:"resources"`
	Ledger      LedgerConfig       `yaml:"ledger" toml:"ledger"`
	Logging     LoggingConfig      `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve HTTPS on :443 with Tailscale certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// BrokerConfig holds outbound call settings
type BrokerConfig struct {
	CallTimeout time.Duration `yaml:"-" toml:"-"`

	// ReplayTTL is how long a resources.call outcome is kept for retried
	// envelopes with the same id and params. Zero disables replay.
	ReplayTTL time.Duration `yaml:"-" toml:"-"`

	// ReplaySize caps the number of remembered outcomes.
	ReplaySize int `yaml:"replay_size" toml:"replay_size"`

	// Raw string values for YAML/TOML unmarshaling
	CallTimeoutRaw string `yaml:"call_timeout" toml:"call_timeout"`
	ReplayTTLRaw   string `yaml:"replay_ttl" toml:"replay_ttl"`
}

// CredentialConfig is a credential seeded into the broker at startup
type CredentialConfig struct {
	Name     string `yaml:"name" toml:"name"`
	Provider string `yaml:"provider" toml:"provider"`
	Type     string `yaml:"type" toml:"type"`
	Value    string `yaml:"value" toml:"value"`
}

// LedgerConfig holds call ledger configuration
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DefaultPath returns the config file location: TRELLIS_CONFIG if set,
// otherwise trellis/gateway.yaml under XDG_CONFIG_HOME or ~/.config.
func DefaultPath() string {
	if p := os.Getenv("TRELLIS_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "trellis", "gateway.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "gateway.yaml"
	}
	return filepath.Join(home, ".config", "trellis", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data, formatFor(path))
}

// Format identifies a config file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes raw configuration bytes in the given format, then applies
// defaults, parses durations and validates.
func Parse(data []byte, format Format) (*Config, error) {
	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Broker.CallTimeout == 0 {
		c.Broker.CallTimeout = DefaultCallTimeout
	}
	// An explicit replay_ttl of "0s" disables the replay cache
	if c.Broker.ReplayTTL == 0 && c.Broker.ReplayTTLRaw == "" {
		c.Broker.ReplayTTL = DefaultReplayTTL
	}
	if c.Broker.ReplaySize == 0 {
		c.Broker.ReplaySize = DefaultReplaySize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Broker.CallTimeout < 0 {
		return fmt.Errorf("broker.call_timeout must be positive")
	}

	if c.Broker.ReplayTTL < 0 {
		return fmt.Errorf("broker.replay_ttl must be positive")
	}

	if c.Broker.ReplaySize < 0 {
		return fmt.Errorf("broker.replay_size must be positive")
	}

	if c.Ledger.Enabled && c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required when the ledger is enabled")
	}

	for i, cred := range c.Credentials {
		if cred.Provider == "" {
			return fmt.Errorf("credentials[%d].provider is required", i)
		}
	}

	seen := make(map[string]bool)
	for _, res := range broker.DefaultCatalog() {
		seen[res.ID] = true
	}
	for i, res := range c.Resources {
		if res.ID == "" {
			return fmt.Errorf("resources[%d].id is required", i)
		}
		if seen[res.ID] {
			return fmt.Errorf("resources[%d]: duplicate resource id %q", i, res.ID)
		}
		seen[res.ID] = true
		if !res.Type.Valid() {
			return fmt.Errorf("resources[%d]: unknown type %q", i, res.Type)
		}
		if res.Provider == "" {
			return fmt.Errorf("resources[%d].provider is required", i)
		}
		if len(res.Capabilities) == 0 {
			return fmt.Errorf("resources[%d] must declare at least one capability", i)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// Catalog returns the built-in resources followed by the configured extras.
func (c *Config) Catalog() []broker.Resource {
	return append(broker.DefaultCatalog(), c.Resources...)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Broker.CallTimeoutRaw != "" {
		cfg.Broker.CallTimeout, err = time.ParseDuration(cfg.Broker.CallTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing call_timeout %q: %w", cfg.Broker.CallTimeoutRaw, err)
		}
	}

	if cfg.Broker.ReplayTTLRaw != "" {
		cfg.Broker.ReplayTTL, err = time.ParseDuration(cfg.Broker.ReplayTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing replay_ttl %q: %w", cfg.Broker.ReplayTTLRaw, err)
		}
	}

	return nil
}
