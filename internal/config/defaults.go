package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// Default values for optional configuration fields.
const (
	DefaultInstanceID       = "streamer"
	DefaultWSURL            = "ws://localhost:8765/v1/stream"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPingTimeout      = 90 * time.Second
	DefaultBufferSize       = 1024
	DefaultSimSymbol        = "SPY"
	DefaultSimInterval      = 1 * time.Second
	DefaultSimVolatility    = 0.002
	DefaultSimSeed          = 42
	DefaultGatewayPort      = 8080
	DefaultSendBuffer       = 64
	DefaultReadLimit        = 4096
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// DefaultSimInitialPrice is the starting price of the simulator's preferred symbol.
var DefaultSimInitialPrice = decimal.NewFromInt(100)

func (c *StreamerConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Feed defaults
	if c.Feed.WSURL == "" {
		c.Feed.WSURL = DefaultWSURL
	}
	if c.Feed.HandshakeTimeout == 0 {
		c.Feed.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.PingTimeout == 0 {
		c.Feed.PingTimeout = DefaultPingTimeout
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultBufferSize
	}

	// Simulator defaults
	if c.Simulator.Symbol == "" {
		c.Simulator.Symbol = DefaultSimSymbol
	}
	if c.Simulator.Interval == 0 {
		c.Simulator.Interval = DefaultSimInterval
	}
	if c.Simulator.InitialPrice.IsZero() {
		c.Simulator.InitialPrice = DefaultSimInitialPrice
	}
	if c.Simulator.Volatility == 0 {
		c.Simulator.Volatility = DefaultSimVolatility
	}
	if c.Simulator.Seed == 0 {
		c.Simulator.Seed = DefaultSimSeed
	}

	// Gateway defaults
	if c.Gateway.Port == 0 {
		c.Gateway.Port = DefaultGatewayPort
	}
	if c.Gateway.SendBuffer == 0 {
		c.Gateway.SendBuffer = DefaultSendBuffer
	}
	if c.Gateway.ReadLimit == 0 {
		c.Gateway.ReadLimit = DefaultReadLimit
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
