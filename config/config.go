// Package config provides YAML configuration parsing for the growthsync CLI.
//
// Example configuration:
//
//	api:
//	  base_url: ${GROWTH_API_URL:-http://localhost:8080}
//	  token: ${GROWTH_API_TOKEN:-}
//	  timeout: 10s
//
//	polling:
//	  interval: 1s
//	  max_retries: 10
//	  backoff_factor: 2
//	  jitter: true
//	  tolerance: 0.01
//
//	write:
//	  retries: 3
//	  initial_backoff: 200ms
//	  max_backoff: 2s
//
//	log:
//	  level: info
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [Parse] to unset fields.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultInterval       = time.Second
	DefaultMaxRetries     = 10
	DefaultBackoffFactor  = 2.0
	DefaultTolerance      = 0.01
	DefaultWriteRetries   = 3
	DefaultInitialBackoff = 200 * time.Millisecond
	DefaultMaxBackoff     = 2 * time.Second
	DefaultLogLevel       = "info"
)

// minInterval keeps a misconfigured CLI from hammering the API.
const minInterval = 100 * time.Millisecond

// Config is the root configuration structure.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Polling PollingConfig `yaml:"polling"`
	Write   WriteConfig   `yaml:"write"`
	Log     LogConfig     `yaml:"log"`
}

// APIConfig locates the growth-data API.
type APIConfig struct {
	// BaseURL is the API root. Supports environment variable substitution:
	// ${VAR} or ${VAR:-default}
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// Token is the bearer token. Supports environment variable substitution.
	Token string `yaml:"token"`

	// Timeout bounds each request. Defaults to 10s.
	Timeout Duration `yaml:"timeout" validate:"gte=0"`

	// UserAgent overrides the User-Agent header.
	UserAgent string `yaml:"user_agent"`
}

// PollingConfig tunes convergence checks after a write.
type PollingConfig struct {
	// Interval is the base delay between checks. Defaults to 1s.
	Interval Duration `yaml:"interval" validate:"gte=0"`

	// MaxRetries bounds the number of checks. Defaults to 10.
	MaxRetries int `yaml:"max_retries" validate:"gte=0,lte=1000"`

	// BackoffFactor escalates the delay on failing checks. Defaults to 2.
	BackoffFactor float64 `yaml:"backoff_factor" validate:"omitempty,gte=1"`

	// Jitter randomizes delays by ±20%. Defaults to true.
	Jitter *bool `yaml:"jitter"`

	// Leading runs the first check right after the write. Defaults to true.
	Leading *bool `yaml:"leading"`

	// Tolerance is the absolute tolerance of value comparisons.
	// Defaults to 0.01.
	Tolerance float64 `yaml:"tolerance" validate:"gte=0"`
}

// WriteConfig tunes retries of the write itself.
type WriteConfig struct {
	// Retries is how often a temporary write failure is retried.
	// Defaults to 3; set -1 to disable.
	Retries int `yaml:"retries" validate:"gte=-1,lte=100"`

	InitialBackoff Duration `yaml:"initial_backoff" validate:"gte=0"`
	MaxBackoff     Duration `yaml:"max_backoff" validate:"gte=0"`
}

// LogConfig configures the CLI logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// SlogLevel returns the configured level as a [slog.Level].
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		varName := submatches[1]
		hasDefault := submatches[2] != ""

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return submatches[3]
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in the base URL and the token.
// Defaults are applied to unset fields before validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.expand(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) expand() error {
	expanded, err := expandEnvVars(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	c.API.BaseURL = expanded

	expanded, err = expandEnvVars(c.API.Token)
	if err != nil {
		return fmt.Errorf("api.token: %w", err)
	}
	c.API.Token = expanded
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.Timeout == 0 {
		c.API.Timeout = Duration(DefaultTimeout)
	}
	if c.Polling.Interval == 0 {
		c.Polling.Interval = Duration(DefaultInterval)
	}
	if c.Polling.MaxRetries == 0 {
		c.Polling.MaxRetries = DefaultMaxRetries
	}
	if c.Polling.BackoffFactor == 0 {
		c.Polling.BackoffFactor = DefaultBackoffFactor
	}
	if c.Polling.Jitter == nil {
		c.Polling.Jitter = boolPtr(true)
	}
	if c.Polling.Leading == nil {
		c.Polling.Leading = boolPtr(true)
	}
	if c.Polling.Tolerance == 0 {
		c.Polling.Tolerance = DefaultTolerance
	}
	switch c.Write.Retries {
	case 0:
		c.Write.Retries = DefaultWriteRetries
	case -1:
		c.Write.Retries = 0
	}
	if c.Write.InitialBackoff == 0 {
		c.Write.InitialBackoff = Duration(DefaultInitialBackoff)
	}
	if c.Write.MaxBackoff == 0 {
		c.Write.MaxBackoff = Duration(DefaultMaxBackoff)
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// validate checks struct tags, then the constraints spanning fields.
func (c *Config) validate() error {
	v := validator.New()
	// report YAML keys in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		errs := make([]error, 0, len(verrs))
		for _, e := range verrs {
			path := strings.TrimPrefix(e.Namespace(), "Config.")
			errs = append(errs, fmt.Errorf("%s: value %q failed %q validation", path, fmt.Sprint(e.Value()), e.ActualTag()))
		}
		return errors.Join(errs...)
	}

	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("api.base_url: scheme must be http or https, got %q", c.API.BaseURL)
	}
	if c.Polling.Interval.Duration() < minInterval {
		return fmt.Errorf("polling.interval must be at least %s, got %s", minInterval, c.Polling.Interval.Duration())
	}
	if c.Write.MaxBackoff < c.Write.InitialBackoff {
		return fmt.Errorf("write.max_backoff (%s) must not be below write.initial_backoff (%s)",
			c.Write.MaxBackoff.Duration(), c.Write.InitialBackoff.Duration())
	}
	return nil
}

func boolPtr(b bool) *bool {
	return &b
}
