// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, duration parsing and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"
database:
  path: "./test.db"
auth:
  jwt_secret: "`+secret+`"
presence:
  heartbeat_timeout: "90s"
  sweep_interval: "10s"
  request_dedupe_ttl: "5m"
  resume_status_on_reconnect: true
dashboard:
  push_interval: "2s"
  history_enabled: true
messages:
  max_length: 280
logging:
  level: "debug"
  format: "json"
metrics:
  enabled: true
ratelimit:
  requests_per_minute: 120
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "./test.db", cfg.Database.Path)
	assert.Equal(t, 90*time.Second, cfg.Presence.HeartbeatTimeout)
	assert.Equal(t, 10*time.Second, cfg.Presence.SweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.Presence.RequestDedupeTTL)
	assert.True(t, cfg.Presence.ResumeStatusOnReconnect)
	assert.Equal(t, 2*time.Second, cfg.Dashboard.PushInterval)
	assert.True(t, cfg.Dashboard.HistoryEnabled)
	assert.Equal(t, 280, cfg.Messages.MaxLength)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)
	assert.Equal(t, 120, cfg.RateLimit.RequestsPerMinute)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  http_addr: ":8080"
  grpc_addr: ":50051"
database:
  path: ":memory:"
auth:
  jwt_secret: "` + secret + `"
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultHeartbeatTimeout, cfg.Presence.HeartbeatTimeout)
	assert.Equal(t, DefaultSweepInterval, cfg.Presence.SweepInterval)
	assert.Equal(t, DefaultRequestDedupeTTL, cfg.Presence.RequestDedupeTTL)
	assert.Equal(t, DefaultPushInterval, cfg.Dashboard.PushInterval)
	assert.Equal(t, DefaultMaxMessageLength, cfg.Messages.MaxLength)
	assert.Equal(t, DefaultRequestsPerMinute, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.False(t, cfg.Presence.ResumeStatusOnReconnect)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("WALLBOARD_TEST_SECRET", secret)
	t.Setenv("WALLBOARD_TEST_DB", "/var/lib/wallboard/db.sqlite")

	cfg, err := Parse([]byte(`
server:
  http_addr: ":8080"
  grpc_addr: ":50051"
database:
  path: "${WALLBOARD_TEST_DB}"
auth:
  jwt_secret: "${WALLBOARD_TEST_SECRET}"
`))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/wallboard/db.sqlite", cfg.Database.Path)
	assert.Equal(t, secret, cfg.Auth.JWTSecret)
}

func TestLoadErrors(t *testing.T) {
	base := `
server:
  http_addr: ":8080"
  grpc_addr: ":50051"
database:
  path: "db"
auth:
  jwt_secret: "` + secret + `"
`
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "server: [", "parsing config file"},
		{"bad duration", base + "presence:\n  heartbeat_timeout: \"soon\"\n", "presence.heartbeat_timeout"},
		{"negative duration", base + "dashboard:\n  push_interval: \"-1s\"\n", "must be positive"},
		{"sweep not shorter than timeout", base + "presence:\n  heartbeat_timeout: \"10s\"\n  sweep_interval: \"10s\"\n", "sweep_interval"},
		{"weak secret", "server:\n  http_addr: \":1\"\n  grpc_addr: \":2\"\ndatabase:\n  path: db\nauth:\n  jwt_secret: short\n", "jwt_secret"},
		{"missing database", "server:\n  http_addr: \":1\"\n  grpc_addr: \":2\"\n", "database.path"},
		{"missing addrs", "database:\n  path: db\n", "server.grpc_addr"},
		{"tailscale without hostname", "tailscale:\n  enabled: true\ndatabase:\n  path: db\n", "tailscale.hostname"},
		{"bad log level", base + "logging:\n  level: loud\n", "logging.level"},
		{"bad log format", base + "logging:\n  format: xml\n", "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "reading config file")
}

func TestTailscaleAllowsMissingAddrs(t *testing.T) {
	cfg, err := Parse([]byte(`
tailscale:
  enabled: true
  hostname: wallboard
database:
  path: db
auth:
  jwt_secret: "` + secret + `"
`))
	require.NoError(t, err)
	assert.Equal(t, "wallboard", cfg.Tailscale.Hostname)
}

func TestSampleParses(t *testing.T) {
	cfg, err := Parse([]byte(RenderSample("/tmp/wallboard.db", secret)))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/wallboard.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Dashboard.PushInterval)
}

func TestPath(t *testing.T) {
	t.Setenv("WALLBOARD_CONFIG", "/etc/wallboard.yaml")
	assert.Equal(t, "/etc/wallboard.yaml", Path())

	t.Setenv("WALLBOARD_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "wallboard", "gateway.yaml"), Path())
}
