// ABOUTME: Configuration loading and parsing for wallboard-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for omitted settings.
const (
	DefaultHeartbeatTimeout  = 60 * time.Second
	DefaultSweepInterval     = 15 * time.Second
	DefaultPushInterval      = 5 * time.Second
	DefaultRequestDedupeTTL  = 2 * time.Minute
	DefaultMaxMessageLength  = 500
	DefaultRequestsPerMinute = 600
	DefaultMetricsPath       = "/metrics"
)

// Config represents the complete wallboard-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Presence  PresenceConfig  `yaml:"presence"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Messages  MessagesConfig  `yaml:"messages"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve HTTP over TLS with the tailnet certificate
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PresenceConfig holds connection liveness and status-change settings
type PresenceConfig struct {
	HeartbeatTimeout        time.Duration `yaml:"-"`
	SweepInterval           time.Duration `yaml:"-"`
	RequestDedupeTTL        time.Duration `yaml:"-"`
	ResumeStatusOnReconnect bool          `yaml:"resume_status_on_reconnect"`

	// Raw string values for YAML unmarshaling
	HeartbeatTimeoutRaw string `yaml:"heartbeat_timeout"`
	SweepIntervalRaw    string `yaml:"sweep_interval"`
	RequestDedupeTTLRaw string `yaml:"request_dedupe_ttl"`
}

// DashboardConfig holds dashboard push settings
type DashboardConfig struct {
	PushInterval   time.Duration `yaml:"-"`
	HistoryEnabled bool          `yaml:"history_enabled"`

	PushIntervalRaw string `yaml:"push_interval"`
}

// MessagesConfig holds supervisor message settings
type MessagesConfig struct {
	MaxLength int `yaml:"max_length"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RateLimitConfig holds per-client request limits for the HTTP API
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Path returns the config file location.
// Priority: WALLBOARD_CONFIG env var > XDG_CONFIG_HOME/wallboard/gateway.yaml > ~/.config/wallboard/gateway.yaml
func Path() string {
	if envPath := os.Getenv("WALLBOARD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "wallboard", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML content.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
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

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Presence.HeartbeatTimeout == 0 {
		c.Presence.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Presence.SweepInterval == 0 {
		c.Presence.SweepInterval = DefaultSweepInterval
	}
	if c.Presence.RequestDedupeTTL == 0 {
		c.Presence.RequestDedupeTTL = DefaultRequestDedupeTTL
	}
	if c.Dashboard.PushInterval == 0 {
		c.Dashboard.PushInterval = DefaultPushInterval
	}
	if c.Messages.MaxLength == 0 {
		c.Messages.MaxLength = DefaultMaxMessageLength
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server addresses are required unless Tailscale is enabled
	if !c.Tailscale.Enabled {
		if c.Server.GRPCAddr == "" {
			return fmt.Errorf("server.grpc_addr is required (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}

	if c.Presence.SweepInterval >= c.Presence.HeartbeatTimeout {
		return fmt.Errorf("presence.sweep_interval (%s) must be shorter than presence.heartbeat_timeout (%s)",
			c.Presence.SweepInterval, c.Presence.HeartbeatTimeout)
	}

	if c.Messages.MaxLength < 0 {
		return fmt.Errorf("messages.max_length must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"presence.heartbeat_timeout", cfg.Presence.HeartbeatTimeoutRaw, &cfg.Presence.HeartbeatTimeout},
		{"presence.sweep_interval", cfg.Presence.SweepIntervalRaw, &cfg.Presence.SweepInterval},
		{"presence.request_dedupe_ttl", cfg.Presence.RequestDedupeTTLRaw, &cfg.Presence.RequestDedupeTTL},
		{"dashboard.push_interval", cfg.Dashboard.PushIntervalRaw, &cfg.Dashboard.PushInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}

// Sample is the starter configuration written by "wallboard-gateway init".
const Sample = `# wallboard-gateway configuration
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"

tailscale:
  enabled: false
  hostname: "wallboard"
  auth_key: "${TS_AUTHKEY}"
  state_dir: ""
  ephemeral: false
  https: false
  funnel: false

database:
  path: "%s"

auth:
  jwt_secret: "%s"

presence:
  heartbeat_timeout: "60s"
  sweep_interval: "15s"
  request_dedupe_ttl: "2m"
  resume_status_on_reconnect: false

dashboard:
  push_interval: "5s"
  history_enabled: true

messages:
  max_length: 500

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"

ratelimit:
  requests_per_minute: 600
`

// RenderSample fills the starter configuration with a database path and secret.
func RenderSample(dbPath, jwtSecret string) string {
	return fmt.Sprintf(Sample, dbPath, jwtSecret)
}
