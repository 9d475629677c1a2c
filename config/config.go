// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package config provides configuration management for the SensorPush
// collection daemon.
//
// This package handles loading, validating, and managing application
// configuration from a YAML file with environment variable overrides.
//
// # Configuration Sources
//
// Configuration is loaded in the following order of precedence:
//  1. YAML configuration file (default: config.yaml)
//  2. Environment variable overrides
//  3. Default values for optional settings
//
// # Environment Variables
//
// The following environment variables can override YAML configuration:
//   - SENSORPUSH_EMAIL: vendor account email
//   - SENSORPUSH_PASSWORD: vendor account password
//   - SENSORPUSH_POLL_INTERVAL: cycle period (e.g. "5m")
//   - SENSORPUSH_POLL_BACKLOG: backlog string (e.g. "10m")
//   - LOG_LEVEL: logging level (debug, info, warn, error, fatal, panic)
//   - SLACK_WEBHOOK_URL: Slack webhook URL for notifications
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	sperrors "github.com/bolausson/SensorPush/pkg/errors"
)

// Config represents the application configuration.
type Config struct {
	Vendor        VendorConfig        `yaml:"vendor" validate:"required"`
	Poll          PollConfig          `yaml:"poll"`
	Backends      []BackendConfig     `yaml:"backends" validate:"required,min=1,dive"`
	Logging       LoggingConfig       `yaml:"logging"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Cache         CacheConfig         `yaml:"cache"`
}

// VendorConfig holds SensorPush account credentials and sample-building
// options.
type VendorConfig struct {
	Email      string  `yaml:"email" validate:"required,email"`
	Password   string  `yaml:"password" validate:"required"`
	MyAltitude float64 `yaml:"my_altitude"`
	NoConvert  bool    `yaml:"noconvert"`
	VerifySSL  bool    `yaml:"verify_ssl"`
}

// PollConfig holds the scheduling and fetch parameters for a cycle.
type PollConfig struct {
	Measurement string        `yaml:"measurement"`
	Interval    time.Duration `yaml:"interval" validate:"min=1s"`
	Backlog     string        `yaml:"backlog"`
	WindowStep  time.Duration `yaml:"window_step"`
	Measures    []string      `yaml:"measures"`
	Limit       int           `yaml:"limit"`
	Sensors     []string      `yaml:"sensors"`
}

// BackendConfig describes one configured time-series backend.
type BackendConfig struct {
	Type      string `yaml:"type" validate:"required,oneof=influxdb2 influxdb3 victoriametrics"`
	URL       string `yaml:"url"`
	Host      string `yaml:"host"`
	Token     string `yaml:"token"`
	Org       string `yaml:"org"`
	Bucket    string `yaml:"bucket"`
	Database  string `yaml:"database"`
	VerifySSL bool   `yaml:"verify_ssl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// NotificationsConfig holds notification settings.
type NotificationsConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
}

// CacheConfig holds the cache.* settings. They are loaded, defaulted and
// printed by -validate-config, but no component reads them: the daemon
// keeps no local cache or spool of samples.
type CacheConfig struct {
	Directory string        `yaml:"directory"`
	MaxSize   int64         `yaml:"max_size"` // bytes
	MaxAge    time.Duration `yaml:"max_age"`
}

const (
	defaultPollInterval   = 5 * time.Minute
	defaultPollBacklog    = "10m"
	defaultWindowStep     = 12 * time.Hour
	defaultMeasurement    = "sensorpush"
	defaultLogLevel       = "info"
	defaultCacheDirectory = "/var/cache/sensorpush-collector"
	defaultCacheMaxSize   = 100 * 1024 * 1024
	defaultCacheMaxAge    = 24 * time.Hour
)

// Load reads configuration from a YAML file, applies environment variable
// overrides and defaults, then validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sperrors.NewConfigurationError("path", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, sperrors.NewConfigurationError("yaml", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the
// configuration.
func (c *Config) applyEnvironmentOverrides() {
	if email := os.Getenv("SENSORPUSH_EMAIL"); email != "" {
		c.Vendor.Email = email
	}
	if password := os.Getenv("SENSORPUSH_PASSWORD"); password != "" {
		c.Vendor.Password = password
	}
	if interval := os.Getenv("SENSORPUSH_POLL_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			c.Poll.Interval = d
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse SENSORPUSH_POLL_INTERVAL %q: %v\n", interval, err)
		}
	}
	if backlog := os.Getenv("SENSORPUSH_POLL_BACKLOG"); backlog != "" {
		c.Poll.Backlog = backlog
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if webhookURL := os.Getenv("SLACK_WEBHOOK_URL"); webhookURL != "" {
		c.Notifications.SlackWebhookURL = webhookURL
	}
}

// setDefaults sets default values for configuration fields if not provided.
func (c *Config) setDefaults() {
	if c.Poll.Interval == 0 {
		c.Poll.Interval = defaultPollInterval
	}
	if c.Poll.Backlog == "" {
		c.Poll.Backlog = defaultPollBacklog
	}
	if c.Poll.Measurement == "" {
		c.Poll.Measurement = defaultMeasurement
	}
	if c.Poll.WindowStep == 0 {
		c.Poll.WindowStep = defaultWindowStep
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Cache.Directory == "" {
		c.Cache.Directory = defaultCacheDirectory
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = defaultCacheMaxSize
	}
	if c.Cache.MaxAge == 0 {
		c.Cache.MaxAge = defaultCacheMaxAge
	}
}

var validate = validator.New()

// Validate checks the configuration mechanically (struct tags) and then
// with the cross-field checks the tag vocabulary cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return sperrors.NewConfigurationError("struct", "", err)
	}

	for i, b := range c.Backends {
		if err := validateBackend(b); err != nil {
			return sperrors.NewConfigurationError(fmt.Sprintf("backends[%d]", i), b.Type, err)
		}
	}

	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return sperrors.NewConfigurationError("logging.level", c.Logging.Level,
			fmt.Errorf("must be one of: debug, info, warn, error, fatal, panic"))
	}

	return nil
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true,
	"warning": true, "error": true, "fatal": true, "panic": true,
}

// validateBackend enforces per-type required fields and the same
// HTTPS-for-non-local-connections policy the teacher applies to InfluxDB.
func validateBackend(b BackendConfig) error {
	switch b.Type {
	case "influxdb2":
		if b.URL == "" || b.Token == "" || b.Org == "" || b.Bucket == "" {
			return fmt.Errorf("influxdb2 backend requires url, token, org, and bucket")
		}
		return validateURLSecurity(b.URL)
	case "influxdb3":
		if b.Host == "" || b.Token == "" || b.Database == "" {
			return fmt.Errorf("influxdb3 backend requires host, token, and database")
		}
		return validateURLSecurity(b.Host)
	case "victoriametrics":
		if b.URL == "" {
			return fmt.Errorf("victoriametrics backend requires url")
		}
		return validateURLSecurity(b.URL)
	default:
		return fmt.Errorf("unknown backend type %q", b.Type)
	}
}

// validateURLSecurity checks that a backend URL uses HTTPS for non-local
// connections. Ported from the teacher's InfluxDB URL check, generalized to
// any backend.
func validateURLSecurity(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	if parsed.Scheme != "http" {
		return nil
	}

	hostname := strings.ToLower(parsed.Hostname())
	ip := net.ParseIP(hostname)
	isLocal := hostname == "localhost" ||
		(ip != nil && (ip.IsLoopback() || ip.IsPrivate()))

	if !isLocal {
		return fmt.Errorf("must use HTTPS for non-local connections (got %s); HTTP transmits credentials in plaintext", parsed.Scheme)
	}
	return nil
}
