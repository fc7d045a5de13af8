// Package config loads promptkit configuration from an optional .env file,
// an optional YAML file and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"promptkit/internal/logging"
)

// DefaultConfigFile is read when Load is called with an empty path and the file exists.
const DefaultConfigFile = "config.yaml"

// Config holds the application configuration
type Config struct {
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Pricing PricingConfig `yaml:"pricing"`
}

// OpenAIConfig holds upstream credentials and endpoint
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ClientConfig holds per-request behavior
type ClientConfig struct {
	// Timeout bounds each RunPrompt/GenerateImage call, retries included
	Timeout time.Duration `yaml:"timeout"`
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int `yaml:"max_retries"`
}

// LoggingConfig selects the slog handler
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig toggles Prometheus collection
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PricingConfig points at an optional price table merged over the built-in one
type PricingConfig struct {
	File string `yaml:"file"`
}

func buildDefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			Timeout:    50 * time.Second,
			MaxRetries: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: string(logging.FormatAuto),
		},
	}
}

// Load reads .env from the working directory, then the YAML file at path
// (or DefaultConfigFile when path is empty and it exists), then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := buildDefaultConfig()

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(expandString(string(data))), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. A ${VAR} whose variable
// is unset or empty is left untouched; the default form falls back instead.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholder.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if parts[2] != "" {
			return parts[3]
		}
		return match
	})
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("PROMPTKIT_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PROMPTKIT_TIMEOUT: %w", err)
		}
		cfg.Client.Timeout = d
	}
	if v := os.Getenv("PROMPTKIT_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PROMPTKIT_MAX_RETRIES: %w", err)
		}
		cfg.Client.MaxRetries = n
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid METRICS_ENABLED: %w", err)
		}
		cfg.Metrics.Enabled = b
	}
	if v := os.Getenv("PROMPTKIT_PRICES_FILE"); v != "" {
		cfg.Pricing.File = v
	}
	return nil
}

// parseDuration accepts Go durations ("30s") and bare seconds ("30")
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Validate checks value ranges and enum fields
func (c *Config) Validate() error {
	if c.Client.Timeout <= 0 {
		return fmt.Errorf("client timeout must be positive, got %s", c.Client.Timeout)
	}
	if c.Client.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.Client.MaxRetries)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		return err
	}
	return nil
}
