package config

import (
	"net/url"
	"time"

	"github.com/HMasataka/partyline/internal/logging"
)

// Store drivers
const (
	StoreDriverMemory = "memory"
	StoreDriverSQLite = "sqlite"
	StoreDriverRedis  = "redis"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Upstream UpstreamConfig `json:"upstream" yaml:"upstream"`
	Relay    RelayConfig    `json:"relay" yaml:"relay"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Logging  logging.Config `json:"logging" yaml:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `json:"allowed_origins" yaml:"allowed_origins"`
}

// UpstreamConfig configures the chat completion client
type UpstreamConfig struct {
	Endpoint       string        `json:"endpoint" yaml:"endpoint"`
	APIKey         string        `json:"-" yaml:"api_key"`
	Model          string        `json:"model" yaml:"model"`
	MaxAttempts    int           `json:"max_attempts" yaml:"max_attempts"`
	BaseDelay      time.Duration `json:"base_delay" yaml:"base_delay"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
}

// RelayConfig configures the websocket broadcast relay
type RelayConfig struct {
	IncludeSender  bool          `json:"include_sender" yaml:"include_sender"`
	SendBufferSize int           `json:"send_buffer_size" yaml:"send_buffer_size"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout"`
	PingInterval   time.Duration `json:"ping_interval" yaml:"ping_interval"`
	MaxMessageSize int64         `json:"max_message_size" yaml:"max_message_size"`
}

// StoreConfig selects the party store
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            5000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Upstream: UpstreamConfig{
			Endpoint:       "https://api.openai.com/v1/chat/completions",
			Model:          "gpt-3.5-turbo",
			MaxAttempts:    10,
			BaseDelay:      time.Second,
			RequestTimeout: 60 * time.Second,
		},
		Relay: RelayConfig{
			IncludeSender:  true,
			SendBufferSize: 256,
			WriteTimeout:   10 * time.Second,
			ReadTimeout:    60 * time.Second,
			PingInterval:   30 * time.Second,
			MaxMessageSize: 512 * 1024, // 512KB
		},
		Store: StoreConfig{
			Driver: StoreDriverSQLite,
			DSN:    "partyline.db",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigError("server.port", "invalid port number")
	}

	if c.Server.ReadTimeout < 0 {
		return NewConfigError("server.read_timeout", "timeout cannot be negative")
	}

	if c.Server.WriteTimeout < 0 {
		return NewConfigError("server.write_timeout", "timeout cannot be negative")
	}

	if c.Server.ShutdownTimeout < 0 {
		return NewConfigError("server.shutdown_timeout", "timeout cannot be negative")
	}

	if c.Upstream.Endpoint == "" {
		return NewConfigError("upstream.endpoint", "endpoint is required")
	}

	if u, err := url.Parse(c.Upstream.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		return NewConfigError("upstream.endpoint", "endpoint must be an absolute URL")
	}

	if c.Upstream.Model == "" {
		return NewConfigError("upstream.model", "model is required")
	}

	if c.Upstream.MaxAttempts < 1 {
		return NewConfigError("upstream.max_attempts", "at least one attempt is required")
	}

	if c.Upstream.BaseDelay <= 0 {
		return NewConfigError("upstream.base_delay", "base delay must be positive")
	}

	if c.Upstream.RequestTimeout < 0 {
		return NewConfigError("upstream.request_timeout", "timeout cannot be negative")
	}

	if c.Relay.SendBufferSize < 1 {
		return NewConfigError("relay.send_buffer_size", "buffer must hold at least one frame")
	}

	if c.Relay.MaxMessageSize <= 0 {
		return NewConfigError("relay.max_message_size", "max message size must be positive")
	}

	if c.Relay.WriteTimeout <= 0 || c.Relay.ReadTimeout <= 0 {
		return NewConfigError("relay.timeouts", "read and write timeouts must be positive")
	}

	if c.Relay.PingInterval < 0 || c.Relay.PingInterval >= c.Relay.ReadTimeout {
		return NewConfigError("relay.ping_interval", "ping interval must be shorter than the read timeout")
	}

	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverSQLite, StoreDriverRedis:
		if c.Store.DSN == "" {
			return NewConfigError("store.dsn", "dsn is required for driver "+c.Store.Driver)
		}
	default:
		return NewConfigError("store.driver", "unknown store driver "+c.Store.Driver)
	}

	return nil
}

// Addr returns the listen address
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + itoa(c.Port)
}
