package config

import (
	"errors"
	"time"

	"github.com/rickgao/market-stream/internal/auth"
	"github.com/rickgao/market-stream/internal/connection"
	"github.com/rickgao/market-stream/internal/gateway"
	"github.com/rickgao/market-stream/internal/simulator"
)

// Credentials loads the feed credentials. A feed with no key configured
// connects anonymously and returns nil.
func (c *StreamerConfig) Credentials() (*auth.Credentials, error) {
	creds, err := auth.LoadCredentials(c.Feed.APIKey, c.Feed.APIKeyPath, c.Feed.PrivateKeyPath)
	if errors.Is(err, auth.ErrNoAPIKey) && c.Feed.PrivateKeyPath == "" {
		return nil, nil
	}
	return creds, err
}

// ManagerConfig builds the stream manager configuration.
func (c *StreamerConfig) ManagerConfig(creds *auth.Credentials) connection.ManagerConfig {
	return connection.ManagerConfig{
		URL:              c.Feed.WSURL,
		Credentials:      creds,
		Sandbox:          c.Feed.Sandbox,
		HandshakeTimeout: c.Feed.HandshakeTimeout,
		PingInterval:     c.Feed.PingInterval,
		PingTimeout:      c.Feed.PingTimeout,
		WriteTimeout:     c.Feed.WriteTimeout,
		BufferSize:       c.Feed.BufferSize,
	}
}

// SimulatorConfig builds the fallback generator configuration. The generator
// only runs against a sandbox feed.
func (c *StreamerConfig) SimulatorConfig() simulator.Config {
	return simulator.Config{
		Enabled:      c.Simulator.Enabled && c.Feed.Sandbox,
		Symbol:       c.Simulator.Symbol,
		Interval:     c.Simulator.Interval,
		InitialPrice: c.Simulator.InitialPrice,
		Volatility:   c.Simulator.Volatility,
		Seed:         c.Simulator.Seed,
	}
}

// ManagerOptions returns the manager options implied by the config.
func (c *StreamerConfig) ManagerOptions() []connection.ManagerOption {
	sim := c.SimulatorConfig()
	if !sim.Enabled {
		return nil
	}
	return []connection.ManagerOption{connection.WithSimulator(sim)}
}

// GatewayConfig builds the gateway configuration.
func (c *StreamerConfig) GatewayConfig() gateway.Config {
	return gateway.Config{
		SendBuffer: c.Gateway.SendBuffer,
		ReadLimit:  c.Gateway.ReadLimit,
		WriteWait:  c.Feed.WriteTimeout,
		PongWait:   60 * time.Second,
	}
}
