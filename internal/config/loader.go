package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadOptions represents options for loading configuration
type LoadOptions struct {
	Path string

	// EnvFile is loaded before the environment is read. Empty means ".env";
	// a missing default file is not an error.
	EnvFile string
}

// Load loads configuration from various sources
func Load(opts ...LoadOptions) (*Config, error) {
	cfg := Default()

	// Apply options
	var options LoadOptions
	if len(opts) > 0 {
		options = opts[0]
	}

	// Load from file if path is specified
	if options.Path != "" {
		if err := loadFromFile(cfg, options.Path); err != nil {
			return nil, err
		}
	}

	if err := loadEnvFile(options.EnvFile); err != nil {
		return nil, err
	}

	// Override with environment variables
	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	// Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile loads configuration from a file
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

// loadEnvFile populates the process environment from a dotenv file.
// Variables already set in the environment win.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(cfg *Config) error {
	// Server configuration
	if host := os.Getenv("PARTYLINE_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	for _, key := range []string{"PORT", "PARTYLINE_SERVER_PORT"} {
		if port := os.Getenv(key); port != "" {
			p, err := parseInt(port)
			if err != nil {
				return NewConfigError("server.port", key+" must be an integer")
			}
			cfg.Server.Port = p
		}
	}
	if origins := os.Getenv("PARTYLINE_CORS_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}

	// Logging configuration
	if level := os.Getenv("PARTYLINE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("PARTYLINE_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Upstream configuration
	for _, key := range []string{"OPENAI_API_KEY", "PARTYLINE_UPSTREAM_API_KEY"} {
		if apiKey := os.Getenv(key); apiKey != "" {
			cfg.Upstream.APIKey = apiKey
		}
	}
	if endpoint := os.Getenv("PARTYLINE_UPSTREAM_ENDPOINT"); endpoint != "" {
		cfg.Upstream.Endpoint = endpoint
	}
	if model := os.Getenv("PARTYLINE_UPSTREAM_MODEL"); model != "" {
		cfg.Upstream.Model = model
	}
	if attempts := os.Getenv("PARTYLINE_UPSTREAM_MAX_ATTEMPTS"); attempts != "" {
		n, err := parseInt(attempts)
		if err != nil {
			return NewConfigError("upstream.max_attempts", "PARTYLINE_UPSTREAM_MAX_ATTEMPTS must be an integer")
		}
		cfg.Upstream.MaxAttempts = n
	}
	if delay := os.Getenv("PARTYLINE_UPSTREAM_BASE_DELAY"); delay != "" {
		d, err := time.ParseDuration(delay)
		if err != nil {
			return NewConfigError("upstream.base_delay", "PARTYLINE_UPSTREAM_BASE_DELAY must be a duration")
		}
		cfg.Upstream.BaseDelay = d
	}

	// Relay configuration
	if include := os.Getenv("PARTYLINE_RELAY_INCLUDE_SENDER"); include != "" {
		b, err := strconv.ParseBool(include)
		if err != nil {
			return NewConfigError("relay.include_sender", "PARTYLINE_RELAY_INCLUDE_SENDER must be a boolean")
		}
		cfg.Relay.IncludeSender = b
	}

	// Store configuration
	if driver := os.Getenv("PARTYLINE_STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = strings.ToLower(driver)
	}
	if dsn := os.Getenv("PARTYLINE_STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}

	return nil
}

// parseInt parses a string to int
func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

// NewConfigError creates a new configuration error
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in field '%s': %s", e.Field, e.Message)
}
