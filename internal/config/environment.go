package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/mir00r/headmaster/internal/domain"
	"github.com/mir00r/headmaster/internal/transport"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "HM_"

// DefaultConfigFile is read when neither the flag nor HM_CONFIG_FILE names one
const DefaultConfigFile = "headmaster.yaml"

// environment holds overrides decoded from the process environment.
// Unset variables leave their field nil.
type environment struct {
	ConfigFile     *string  `env:"CONFIG_FILE"`
	Listen         *string  `env:"LISTEN"`
	Admin          *string  `env:"ADMIN"`
	ConnectTimeout *string  `env:"CONNECT_TIMEOUT"`
	ReadTimeout    *string  `env:"READ_TIMEOUT"`
	WriteTimeout   *string  `env:"WRITE_TIMEOUT"`
	DrainTimeout   *string  `env:"DRAIN_TIMEOUT"`
	Blacklist      []string `env:"BLACKLIST" envSeparator:","`
	Backends       []string `env:"BACKENDS" envSeparator:","`
	Policy         *string  `env:"POLICY"`
	FailureClock   *string  `env:"FAILURE_CLOCK"`
	MaxConnections *int     `env:"MAX_CONNECTIONS"`
	BufferSize     *int     `env:"BUFFER_SIZE"`
	Workers        *int     `env:"WORKERS"`

	LogLevel  *string `env:"LOG_LEVEL"`
	LogFormat *string `env:"LOG_FORMAT"`
	LogOutput *string `env:"LOG_OUTPUT"`
	LogFile   *string `env:"LOG_FILE"`

	MetricsEnabled   *bool   `env:"METRICS_ENABLED"`
	MetricsPath      *string `env:"METRICS_PATH"`
	MetricsNamespace *string `env:"METRICS_NAMESPACE"`

	AdminAPIEnabled  *bool    `env:"ADMIN_API_ENABLED"`
	RateLimitEnabled *bool    `env:"ADMIN_RATE_LIMIT_ENABLED"`
	RateLimitRPS     *float64 `env:"ADMIN_RATE_LIMIT_RPS"`
	RateLimitBurst   *int     `env:"ADMIN_RATE_LIMIT_BURST"`
	AuthEnabled      *bool    `env:"ADMIN_AUTH_ENABLED"`
	AuthSecretKey    *string  `env:"ADMIN_AUTH_SECRET_KEY"`
	AuthIssuer       *string  `env:"ADMIN_AUTH_ISSUER"`
}

func loadEnvironment() (*environment, error) {
	var overrides environment
	if err := env.ParseWithOptions(&overrides, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &overrides, nil
}

// LoadConfig loads the configuration file (when present), applies
// environment overrides and validates the result. An empty path falls back
// to HM_CONFIG_FILE and then to DefaultConfigFile; only an explicitly named
// file is required to exist.
func LoadConfig(path string) (*Config, error) {
	overrides, err := loadEnvironment()
	if err != nil {
		return nil, err
	}

	required := path != ""
	if path == "" && overrides.ConfigFile != nil {
		path = *overrides.ConfigFile
		required = true
	}
	if path == "" {
		path = DefaultConfigFile
	}

	config := DefaultConfig()
	if _, statErr := os.Stat(path); statErr == nil || required {
		config, err = LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	}

	if err := overrides.apply(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// apply merges environment overrides into config (env takes precedence)
func (e *environment) apply(config *Config) error {
	if e.Listen != nil {
		addr, err := transport.ParseBindAddress(*e.Listen)
		if err != nil {
			return fmt.Errorf("%sLISTEN: %w", EnvPrefix, err)
		}
		config.Listen = addr
	}
	if e.Admin != nil {
		addr, err := transport.ParseBindAddress(*e.Admin)
		if err != nil {
			return fmt.Errorf("%sADMIN: %w", EnvPrefix, err)
		}
		config.Admin = addr
	}

	timeouts := []struct {
		name   string
		value  *string
		target *Timeout
	}{
		{"CONNECT_TIMEOUT", e.ConnectTimeout, &config.Timeouts.Connect},
		{"READ_TIMEOUT", e.ReadTimeout, &config.Timeouts.Read},
		{"WRITE_TIMEOUT", e.WriteTimeout, &config.Timeouts.Write},
		{"DRAIN_TIMEOUT", e.DrainTimeout, &config.DrainTimeout},
	}
	for _, t := range timeouts {
		if t.value == nil {
			continue
		}
		parsed, err := ParseTimeout(*t.value)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, t.name, err)
		}
		*t.target = parsed
	}

	if e.Blacklist != nil {
		config.Blacklist = e.Blacklist
	}
	if e.Backends != nil {
		config.Backends = e.Backends
	}
	if e.Policy != nil {
		config.Policy = domain.PolicyType(*e.Policy)
	}
	if e.FailureClock != nil {
		config.FailureClock = domain.FailureClock(*e.FailureClock)
	}
	setInt(&config.MaxConnections, e.MaxConnections)
	setInt(&config.BufferSize, e.BufferSize)
	setInt(&config.Workers, e.Workers)

	setString(&config.Logging.Level, e.LogLevel)
	setString(&config.Logging.Format, e.LogFormat)
	setString(&config.Logging.Output, e.LogOutput)
	setString(&config.Logging.File, e.LogFile)

	setBool(&config.Metrics.Enabled, e.MetricsEnabled)
	setString(&config.Metrics.Path, e.MetricsPath)
	setString(&config.Metrics.Namespace, e.MetricsNamespace)

	setBool(&config.AdminAPI.Enabled, e.AdminAPIEnabled)
	setBool(&config.AdminAPI.RateLimit.Enabled, e.RateLimitEnabled)
	if e.RateLimitRPS != nil {
		config.AdminAPI.RateLimit.RequestsPerSecond = *e.RateLimitRPS
	}
	setInt(&config.AdminAPI.RateLimit.BurstSize, e.RateLimitBurst)
	setBool(&config.AdminAPI.Auth.Enabled, e.AuthEnabled)
	setString(&config.AdminAPI.Auth.SecretKey, e.AuthSecretKey)
	setString(&config.AdminAPI.Auth.Issuer, e.AuthIssuer)

	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
