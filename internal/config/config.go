// Package config loads the streamer configuration from YAML.
package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// StreamerConfig is the root configuration for the streamer binary.
type StreamerConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Feed      FeedConfig      `yaml:"feed"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Log       LogConfig       `yaml:"log"`
}

// InstanceConfig identifies this process in logs.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// FeedConfig describes the upstream market-data feed.
type FeedConfig struct {
	WSURL          string `yaml:"ws_url"`
	APIKey         string `yaml:"api_key"`
	APIKeyPath     string `yaml:"api_key_path"`
	PrivateKeyPath string `yaml:"private_key_path"`
	Sandbox        bool   `yaml:"sandbox"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	BufferSize       int           `yaml:"buffer_size"`
}

// SimulatorConfig controls the sandbox tick generator.
type SimulatorConfig struct {
	Enabled      bool            `yaml:"enabled"`
	Symbol       string          `yaml:"symbol"`
	Interval     time.Duration   `yaml:"interval"`
	InitialPrice decimal.Decimal `yaml:"initial_price"`
	Volatility   float64         `yaml:"volatility"`
	Seed         int64           `yaml:"seed"`
}

// GatewayConfig controls the HTTP/WebSocket surface exposed to remote consumers.
type GatewayConfig struct {
	Port       int   `yaml:"port"`
	SendBuffer int   `yaml:"send_buffer"` // Queued snapshots per client before oldest are dropped
	ReadLimit  int64 `yaml:"read_limit"`  // Max inbound frame size in bytes
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
