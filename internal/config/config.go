// ABOUTME: Configuration loading and parsing for chathub
// ABOUTME: Supports YAML or TOML files with environment variable expansion, defaults and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete chathub configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Hub       HubConfig       `yaml:"hub" toml:"hub"`
	WebSocket WebSocketConfig `yaml:"websocket" toml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration.
// An empty GRPCAddr disables the gRPC health service.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration.
// An empty JWTSecret runs the hub in development mode.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// HubConfig sizes the in-memory routing core
type HubConfig struct {
	PresenceShards int `yaml:"presence_shards" toml:"presence_shards"`
	FanoutWorkers  int `yaml:"fanout_workers" toml:"fanout_workers"`
	FanoutQueue    int `yaml:"fanout_queue" toml:"fanout_queue"`
	PinLimit       int `yaml:"pin_limit" toml:"pin_limit"`
	DedupeMax      int `yaml:"dedupe_max" toml:"dedupe_max"`

	DedupeTTL time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	DedupeTTLRaw string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// WebSocketConfig tunes the socket transport
type WebSocketConfig struct {
	MaxMessageSize int64    `yaml:"max_message_size" toml:"max_message_size"`
	SendBuffer     int      `yaml:"send_buffer" toml:"send_buffer"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`

	WriteTimeout time.Duration `yaml:"-" toml:"-"`
	PingInterval time.Duration `yaml:"-" toml:"-"`

	WriteTimeoutRaw string `yaml:"write_timeout" toml:"write_timeout"`
	PingIntervalRaw string `yaml:"ping_interval" toml:"ping_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Server:   ServerConfig{HTTPAddr: "0.0.0.0:8080", GRPCAddr: "0.0.0.0:50051"},
		Database: DatabaseConfig{Path: "./chathub.db"},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	h := &cfg.Hub
	if h.PresenceShards == 0 {
		h.PresenceShards = 32
	}
	if h.FanoutWorkers == 0 {
		h.FanoutWorkers = 16
	}
	if h.FanoutQueue == 0 {
		h.FanoutQueue = 1024
	}
	if h.PinLimit == 0 {
		h.PinLimit = 10
	}
	if h.DedupeMax == 0 {
		h.DedupeMax = 100000
	}
	if h.DedupeTTL == 0 {
		h.DedupeTTL = 5 * time.Minute
	}

	ws := &cfg.WebSocket
	if ws.MaxMessageSize == 0 {
		ws.MaxMessageSize = 65536
	}
	if ws.SendBuffer == 0 {
		ws.SendBuffer = 256
	}
	if ws.WriteTimeout == 0 {
		ws.WriteTimeout = 10 * time.Second
	}
	if ws.PingInterval == 0 {
		ws.PingInterval = 30 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	applyDefaults(&cfg)

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
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	positive := []struct {
		name  string
		value int64
	}{
		{"hub.presence_shards", int64(c.Hub.PresenceShards)},
		{"hub.fanout_workers", int64(c.Hub.FanoutWorkers)},
		{"hub.fanout_queue", int64(c.Hub.FanoutQueue)},
		{"hub.pin_limit", int64(c.Hub.PinLimit)},
		{"hub.dedupe_max", int64(c.Hub.DedupeMax)},
		{"hub.dedupe_ttl", int64(c.Hub.DedupeTTL)},
		{"websocket.max_message_size", c.WebSocket.MaxMessageSize},
		{"websocket.send_buffer", int64(c.WebSocket.SendBuffer)},
		{"websocket.write_timeout", int64(c.WebSocket.WriteTimeout)},
		{"websocket.ping_interval", int64(c.WebSocket.PingInterval)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
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
		{"hub.dedupe_ttl", cfg.Hub.DedupeTTLRaw, &cfg.Hub.DedupeTTL},
		{"websocket.write_timeout", cfg.WebSocket.WriteTimeoutRaw, &cfg.WebSocket.WriteTimeout},
		{"websocket.ping_interval", cfg.WebSocket.PingIntervalRaw, &cfg.WebSocket.PingInterval},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// DefaultPath returns where the config file is looked up when none is given:
// $CHATHUB_CONFIG, then $XDG_CONFIG_HOME/chathub/hub.yaml, then ~/.config/chathub/hub.yaml.
func DefaultPath() string {
	if p := os.Getenv("CHATHUB_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "chathub", "hub.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "chathub", "hub.yaml")
	}
	return filepath.Join(home, ".config", "chathub", "hub.yaml")
}
