package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mir00r/headmaster/internal/domain"
	"github.com/mir00r/headmaster/internal/middleware"
	"github.com/mir00r/headmaster/internal/service"
	"github.com/mir00r/headmaster/internal/transport"
	"github.com/mir00r/headmaster/pkg/logger"
	"gopkg.in/yaml.v2"
)

// Config represents the complete proxy configuration
type Config struct {
	Listen         transport.BindAddress `yaml:"listen"`
	Admin          transport.BindAddress `yaml:"admin"`
	Timeouts       TimeoutsConfig        `yaml:"timeouts"`
	Blacklist      []string              `yaml:"blacklist"`
	Backends       []string              `yaml:"backends"`
	Policy         domain.PolicyType     `yaml:"policy"`
	FailureClock   domain.FailureClock   `yaml:"failure_clock"`
	MaxConnections int                   `yaml:"max_connections"`
	BufferSize     int                   `yaml:"buffer_size"`
	Workers        int                   `yaml:"workers"`
	DrainTimeout   Timeout               `yaml:"drain_timeout"`
	Logging        LoggingConfig         `yaml:"logging"`
	Metrics        MetricsConfig         `yaml:"metrics"`
	AdminAPI       AdminAPIConfig        `yaml:"admin_api"`
}

// TimeoutsConfig bounds each I/O phase of a session. Zero disables a bound.
type TimeoutsConfig struct {
	Connect Timeout `yaml:"connect"`
	Read    Timeout `yaml:"read"`
	Write   Timeout `yaml:"write"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // split, stdout, stderr, file
	File   string `yaml:"file"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// AdminAPIConfig contains admin control surface configuration
type AdminAPIConfig struct {
	Enabled   bool                       `yaml:"enabled"`
	RateLimit middleware.RateLimitConfig `yaml:"rate_limit"`
	Auth      middleware.JWTAuthConfig   `yaml:"auth"`
}

// Timeout is a duration that accepts "off" or "none" for an unbounded phase
type Timeout time.Duration

// Duration returns the timeout as a time.Duration
func (t Timeout) Duration() time.Duration {
	return time.Duration(t)
}

// String renders the timeout, or "off" when unbounded
func (t Timeout) String() string {
	if t == 0 {
		return "off"
	}
	return time.Duration(t).String()
}

// ParseTimeout parses a duration string. Bare integers are seconds.
func ParseTimeout(s string) (Timeout, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "off", "none", "0":
		return 0, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Timeout(time.Duration(secs) * time.Second), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", s, err)
	}
	return Timeout(d), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (t *Timeout) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseTimeout(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (t Timeout) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *Timeout) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeout(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Listen: transport.TCPAddress("0.0.0.0:80"),
		Timeouts: TimeoutsConfig{
			Connect: Timeout(5 * time.Second),
			Read:    Timeout(30 * time.Second),
			Write:   Timeout(120 * time.Second),
		},
		Policy:       domain.FirstAvailablePolicyType,
		FailureClock: domain.WallClock,
		BufferSize:   32 * 1024,
		DrainTimeout: Timeout(30 * time.Second),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "split",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "headmaster",
		},
		AdminAPI: AdminAPIConfig{
			Enabled: true,
			RateLimit: middleware.RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 50,
				BurstSize:         100,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	return config, nil
}

// AdminAddress returns the configured admin endpoint or the one derived
// from the listen address
func (c *Config) AdminAddress() transport.BindAddress {
	if !c.Admin.IsZero() {
		return c.Admin
	}
	return c.Listen.DefaultAdminAddress()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Listen.IsZero() {
		return fmt.Errorf("listen address must be set")
	}

	if c.Timeouts.Connect < 0 || c.Timeouts.Read < 0 || c.Timeouts.Write < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("drain_timeout cannot be negative: %v", c.DrainTimeout.Duration())
	}

	if _, err := domain.NewSelectionPolicy(c.Policy); err != nil {
		return err
	}

	switch c.FailureClock {
	case "", domain.WallClock, domain.ElapsedClock:
	default:
		return fmt.Errorf("unsupported failure clock: %s", c.FailureClock)
	}

	for i, entry := range c.Blacklist {
		if err := validateBlacklistEntry(entry); err != nil {
			return fmt.Errorf("blacklist[%d]: %w", i, err)
		}
	}

	for i, backend := range c.Backends {
		if _, _, err := net.SplitHostPort(backend); err != nil {
			return fmt.Errorf("backends[%d]: invalid address %q: %w", i, backend, err)
		}
	}

	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections cannot be negative: %d", c.MaxConnections)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("buffer_size cannot be negative: %d", c.BufferSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative: %d", c.Workers)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	validOutputs := map[string]bool{"split": true, "stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}

	if c.AdminAPI.RateLimit.Enabled {
		if c.AdminAPI.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("admin_api.rate_limit.requests_per_second must be positive")
		}
		if c.AdminAPI.RateLimit.BurstSize <= 0 {
			return fmt.Errorf("admin_api.rate_limit.burst_size must be positive")
		}
	}

	if c.AdminAPI.Auth.Enabled && c.AdminAPI.Auth.SecretKey == "" {
		return fmt.Errorf("admin_api.auth.secret_key is required when auth is enabled")
	}

	return nil
}

// validateBlacklistEntry accepts a bare IP or an ip:port pair
func validateBlacklistEntry(entry string) error {
	if net.ParseIP(entry) != nil {
		return nil
	}
	host, _, err := net.SplitHostPort(entry)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", entry, err)
	}
	if net.ParseIP(host) == nil {
		return fmt.Errorf("invalid address %q: host is not an IP", entry)
	}
	return nil
}

// ToPoolConfig converts the configuration to the pool's static policy
func (c *Config) ToPoolConfig() service.PoolConfig {
	return service.PoolConfig{
		ConnectionTimeout: c.Timeouts.Connect.Duration(),
		ReadTimeout:       c.Timeouts.Read.Duration(),
		WriteTimeout:      c.Timeouts.Write.Duration(),
		Blacklist:         c.Blacklist,
		Policy:            c.Policy,
		FailureClock:      c.FailureClock,
	}
}

// ToLoggerConfig converts the logging section to a logger configuration
func (c *Config) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
		File:   c.Logging.File,
	}
}
