package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *StreamerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Feed.validate("feed"); err != nil {
		return err
	}

	if c.Simulator.Enabled {
		if !c.Feed.Sandbox {
			return errors.New("simulator.enabled requires feed.sandbox")
		}
		if c.Simulator.Interval <= 0 {
			return errors.New("simulator.interval must be > 0")
		}
		if !c.Simulator.InitialPrice.IsPositive() {
			return fmt.Errorf("simulator.initial_price must be > 0, got %s", c.Simulator.InitialPrice)
		}
		if c.Simulator.Volatility < 0 {
			return fmt.Errorf("simulator.volatility must be >= 0, got %g", c.Simulator.Volatility)
		}
	}

	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
	}
	if c.Gateway.SendBuffer < 1 {
		return errors.New("gateway.send_buffer must be >= 1")
	}
	if c.Gateway.ReadLimit < 1 {
		return errors.New("gateway.read_limit must be >= 1")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (f *FeedConfig) validate(prefix string) error {
	if f.WSURL == "" {
		return fmt.Errorf("%s.ws_url is required", prefix)
	}
	u, err := url.Parse(f.WSURL)
	if err != nil {
		return fmt.Errorf("%s.ws_url: %w", prefix, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s.ws_url must use ws or wss, got %q", prefix, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s.ws_url has no host", prefix)
	}
	if f.HandshakeTimeout <= 0 {
		return fmt.Errorf("%s.handshake_timeout must be > 0", prefix)
	}
	if f.WriteTimeout <= 0 {
		return fmt.Errorf("%s.write_timeout must be > 0", prefix)
	}
	if f.PingInterval <= 0 {
		return fmt.Errorf("%s.ping_interval must be > 0", prefix)
	}
	if f.PingTimeout <= f.PingInterval {
		return fmt.Errorf("%s.ping_timeout (%s) must exceed ping_interval (%s)", prefix, f.PingTimeout, f.PingInterval)
	}
	if f.BufferSize < 1 {
		return fmt.Errorf("%s.buffer_size must be >= 1", prefix)
	}
	return nil
}
