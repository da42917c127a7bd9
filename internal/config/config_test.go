package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mir00r/headmaster/internal/domain"
	"github.com/mir00r/headmaster/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "headmaster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, transport.TCPAddress("0.0.0.0:80"), cfg.Listen)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Connect.Duration())
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Read.Duration())
	assert.Equal(t, 120*time.Second, cfg.Timeouts.Write.Duration())
	assert.Equal(t, domain.FirstAvailablePolicyType, cfg.Policy)
	assert.Equal(t, domain.WallClock, cfg.FailureClock)
	assert.Equal(t, "split", cfg.Logging.Output)
	assert.Equal(t, transport.TCPAddress("0.0.0.0:8000"), cfg.AdminAddress())
}

func TestParseTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "", want: 0},
		{in: "off", want: 0},
		{in: "None", want: 0},
		{in: "0", want: 0},
		{in: "15", want: 15 * time.Second},
		{in: "250ms", want: 250 * time.Millisecond},
		{in: " 2m ", want: 2 * time.Minute},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeout(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Duration())
		})
	}

	assert.Equal(t, "off", Timeout(0).String())
	assert.Equal(t, "1.5s", Timeout(1500*time.Millisecond).String())
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
listen: unix:///tmp/headmaster.sock
admin: 127.0.0.1:9100
timeouts:
  connect: 2s
  read: off
  write: 10
blacklist:
  - 10.0.0.1
  - "10.0.0.2:4000"
backends:
  - 127.0.0.1:9001
  - "[::1]:9002"
failure_clock: elapsed
max_connections: 64
logging:
  level: debug
  format: json
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, transport.UnixAddress("/tmp/headmaster.sock"), cfg.Listen)
	assert.Equal(t, transport.TCPAddress("127.0.0.1:9100"), cfg.AdminAddress())
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Connect.Duration())
	assert.Zero(t, cfg.Timeouts.Read.Duration())
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Write.Duration())
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2:4000"}, cfg.Blacklist)
	assert.Equal(t, []string{"127.0.0.1:9001", "[::1]:9002"}, cfg.Backends)
	assert.Equal(t, domain.ElapsedClock, cfg.FailureClock)
	assert.Equal(t, 64, cfg.MaxConnections)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	// untouched sections keep their defaults
	assert.Equal(t, "split", cfg.Logging.Output)
	assert.True(t, cfg.Metrics.Enabled)

	pool := cfg.ToPoolConfig()
	assert.Equal(t, 2*time.Second, pool.ConnectionTimeout)
	assert.Zero(t, pool.ReadTimeout)
	assert.Equal(t, domain.ElapsedClock, pool.FailureClock)
}

func TestLoadFromFileErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeConfig(t, "listen: ftp://nowhere\n"))
	assert.Error(t, err)

	_, err = LoadFromFile(writeConfig(t, "timeouts:\n  read: eventually\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no listen", func(c *Config) { c.Listen = transport.BindAddress{} }},
		{"negative timeout", func(c *Config) { c.Timeouts.Read = Timeout(-time.Second) }},
		{"negative drain", func(c *Config) { c.DrainTimeout = Timeout(-time.Second) }},
		{"unknown policy", func(c *Config) { c.Policy = "round_robin" }},
		{"unknown clock", func(c *Config) { c.FailureClock = "lunar" }},
		{"bad blacklist", func(c *Config) { c.Blacklist = []string{"example.com"} }},
		{"bad backend", func(c *Config) { c.Backends = []string{"127.0.0.1"} }},
		{"negative max connections", func(c *Config) { c.MaxConnections = -1 }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad output", func(c *Config) { c.Logging.Output = "syslog" }},
		{"rate limit without rate", func(c *Config) {
			c.AdminAPI.RateLimit.Enabled = true
			c.AdminAPI.RateLimit.RequestsPerSecond = 0
		}},
		{"auth without secret", func(c *Config) { c.AdminAPI.Auth.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateBlacklistEntry(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateBlacklistEntry("192.168.1.1"))
	assert.NoError(t, validateBlacklistEntry("::1"))
	assert.NoError(t, validateBlacklistEntry("192.168.1.1:8080"))
	assert.NoError(t, validateBlacklistEntry("[::1]:8080"))
	assert.Error(t, validateBlacklistEntry("localhost:8080"))
	assert.Error(t, validateBlacklistEntry("not an address"))
}

func TestAdminAddressDerivation(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Listen = transport.TCPAddress("10.1.1.1:8000")
	assert.Equal(t, transport.TCPAddress("10.1.1.1:8001"), cfg.AdminAddress())

	cfg.Listen = transport.UnixFDAddress(3)
	assert.Equal(t, transport.TCPAddress("0.0.0.0:8000"), cfg.AdminAddress())
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "backends:\n  - 127.0.0.1:9001\nlogging:\n  level: warn\n")

	t.Setenv("HM_CONFIG_FILE", path)
	t.Setenv("HM_LISTEN", "tcp://127.0.0.1:7000")
	t.Setenv("HM_READ_TIMEOUT", "off")
	t.Setenv("HM_CONNECT_TIMEOUT", "3")
	t.Setenv("HM_BACKENDS", "127.0.0.1:9101,127.0.0.1:9102")
	t.Setenv("HM_LOG_LEVEL", "debug")
	t.Setenv("HM_METRICS_ENABLED", "false")
	t.Setenv("HM_ADMIN_AUTH_ENABLED", "true")
	t.Setenv("HM_ADMIN_AUTH_SECRET_KEY", "env-secret")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, transport.TCPAddress("127.0.0.1:7000"), cfg.Listen)
	assert.Zero(t, cfg.Timeouts.Read.Duration())
	assert.Equal(t, 3*time.Second, cfg.Timeouts.Connect.Duration())
	assert.Equal(t, 120*time.Second, cfg.Timeouts.Write.Duration(), "unset variables keep file or default values")
	assert.Equal(t, []string{"127.0.0.1:9101", "127.0.0.1:9102"}, cfg.Backends)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
	assert.True(t, cfg.AdminAPI.Auth.Enabled)
	assert.Equal(t, "env-secret", cfg.AdminAPI.Auth.SecretKey)
}

func TestLoadConfigInvalidEnvironment(t *testing.T) {
	t.Setenv("HM_LISTEN", "ftp://nowhere")

	_, err := LoadConfig(writeConfig(t, ""))
	assert.Error(t, err)
}

func TestLoadConfigEnvironmentFailsValidation(t *testing.T) {
	t.Setenv("HM_POLICY", "random")

	_, err := LoadConfig(writeConfig(t, ""))
	assert.Error(t, err)
}

func TestLoadConfigFileRequirements(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "an explicitly named file must exist")

	// no headmaster.yaml in the package directory, so defaults apply
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Listen, cfg.Listen)
}
