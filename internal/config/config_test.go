package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-streamer
feed:
  ws_url: wss://feed.example.com/v1/stream
  api_key: key-123
  sandbox: true
  handshake_timeout: 3s
  ping_interval: 10s
  ping_timeout: 25s
simulator:
  enabled: true
  symbol: QQQ
  initial_price: "412.35"
  volatility: 0.01
gateway:
  port: 9000
log:
  level: debug
  format: json
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-streamer" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-streamer")
	}
	if cfg.Feed.WSURL != "wss://feed.example.com/v1/stream" {
		t.Errorf("Feed.WSURL = %q", cfg.Feed.WSURL)
	}
	if !cfg.Feed.Sandbox {
		t.Error("Feed.Sandbox = false, want true")
	}
	if cfg.Feed.HandshakeTimeout != 3*time.Second {
		t.Errorf("Feed.HandshakeTimeout = %v, want 3s", cfg.Feed.HandshakeTimeout)
	}
	if cfg.Feed.PingTimeout != 25*time.Second {
		t.Errorf("Feed.PingTimeout = %v, want 25s", cfg.Feed.PingTimeout)
	}
	if !cfg.Simulator.InitialPrice.Equal(decimal.RequireFromString("412.35")) {
		t.Errorf("Simulator.InitialPrice = %s, want 412.35", cfg.Simulator.InitialPrice)
	}
	if cfg.Simulator.Symbol != "QQQ" {
		t.Errorf("Simulator.Symbol = %q, want QQQ", cfg.Simulator.Symbol)
	}
	if cfg.Gateway.Port != 9000 {
		t.Errorf("Gateway.Port = %d, want 9000", cfg.Gateway.Port)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_FEED_KEY", "secret123")

	yaml := `
instance:
  id: test-streamer
feed:
  ws_url: wss://feed.example.com/v1/stream
  api_key: ${TEST_FEED_KEY}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Feed.APIKey != "secret123" {
		t.Errorf("Feed.APIKey = %q, want %q", cfg.Feed.APIKey, "secret123")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "read config file") {
		t.Errorf("error = %q, want read config file prefix", err)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-streamer
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Feed.WSURL != DefaultWSURL {
		t.Errorf("Feed.WSURL = %q, want default %q", cfg.Feed.WSURL, DefaultWSURL)
	}
	if cfg.Feed.HandshakeTimeout != DefaultHandshakeTimeout {
		t.Errorf("Feed.HandshakeTimeout = %v, want default %v", cfg.Feed.HandshakeTimeout, DefaultHandshakeTimeout)
	}
	if cfg.Feed.PingTimeout != DefaultPingTimeout {
		t.Errorf("Feed.PingTimeout = %v, want default %v", cfg.Feed.PingTimeout, DefaultPingTimeout)
	}
	if cfg.Feed.BufferSize != DefaultBufferSize {
		t.Errorf("Feed.BufferSize = %d, want default %d", cfg.Feed.BufferSize, DefaultBufferSize)
	}
	if !cfg.Simulator.InitialPrice.Equal(DefaultSimInitialPrice) {
		t.Errorf("Simulator.InitialPrice = %s, want default %s", cfg.Simulator.InitialPrice, DefaultSimInitialPrice)
	}
	if cfg.Gateway.Port != DefaultGatewayPort {
		t.Errorf("Gateway.Port = %d, want default %d", cfg.Gateway.Port, DefaultGatewayPort)
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("Log.Level = %q, want default %q", cfg.Log.Level, DefaultLogLevel)
	}
}

func TestLoadAndValidate(t *testing.T) {
	yaml := `
instance:
  id: test-streamer
feed:
  ws_url: https://feed.example.com
`
	path := writeTempFile(t, yaml)

	_, err := LoadAndValidate(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	want := `validate config: feed.ws_url must use ws or wss, got "https"`
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestValidate(t *testing.T) {
	valid := func() StreamerConfig {
		return *Default()
	}

	tests := []struct {
		name    string
		mutate  func(*StreamerConfig)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *StreamerConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing ws url",
			mutate:  func(c *StreamerConfig) { c.Feed.WSURL = "" },
			wantErr: "feed.ws_url is required",
		},
		{
			name:    "ws url without host",
			mutate:  func(c *StreamerConfig) { c.Feed.WSURL = "ws:///v1/stream" },
			wantErr: "feed.ws_url has no host",
		},
		{
			name:    "zero handshake timeout",
			mutate:  func(c *StreamerConfig) { c.Feed.HandshakeTimeout = 0 },
			wantErr: "feed.handshake_timeout must be > 0",
		},
		{
			name: "ping timeout not above interval",
			mutate: func(c *StreamerConfig) {
				c.Feed.PingInterval = 30 * time.Second
				c.Feed.PingTimeout = 30 * time.Second
			},
			wantErr: "feed.ping_timeout (30s) must exceed ping_interval (30s)",
		},
		{
			name:    "simulator outside sandbox",
			mutate:  func(c *StreamerConfig) { c.Simulator.Enabled = true },
			wantErr: "simulator.enabled requires feed.sandbox",
		},
		{
			name: "simulator negative price",
			mutate: func(c *StreamerConfig) {
				c.Feed.Sandbox = true
				c.Simulator.Enabled = true
				c.Simulator.InitialPrice = decimal.NewFromInt(-1)
			},
			wantErr: "simulator.initial_price must be > 0, got -1",
		},
		{
			name:    "gateway port out of range",
			mutate:  func(c *StreamerConfig) { c.Gateway.Port = 70000 },
			wantErr: "gateway.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *StreamerConfig) { c.Log.Level = "loud" },
			wantErr: `log.level: unknown level "loud"`,
		},
		{
			name:    "unknown log format",
			mutate:  func(c *StreamerConfig) { c.Log.Format = "xml" },
			wantErr: `log.format must be text or json, got "xml"`,
		},
		{
			name: "sandbox simulator",
			mutate: func(c *StreamerConfig) {
				c.Feed.Sandbox = true
				c.Simulator.Enabled = true
			},
			wantErr: "",
		},
		{
			name:    "valid config",
			mutate:  func(c *StreamerConfig) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "symbol", "AAPL")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"symbol":"AAPL"`) {
		t.Errorf("expected json attrs, got %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestCredentials_Anonymous(t *testing.T) {
	cfg := Default()
	creds, err := cfg.Credentials()
	if err != nil {
		t.Fatalf("Credentials() error: %v", err)
	}
	if creds != nil {
		t.Errorf("Credentials() = %+v, want nil", creds)
	}
}

func TestCredentials_PrivateKeyWithoutAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Feed.PrivateKeyPath = filepath.Join(t.TempDir(), "key.pem")
	if _, err := cfg.Credentials(); err == nil {
		t.Fatal("expected error when private key is set without an api key")
	}
}

func TestManagerConfig(t *testing.T) {
	cfg := Default()
	cfg.Feed.APIKey = "key-123"

	creds, err := cfg.Credentials()
	if err != nil {
		t.Fatalf("Credentials() error: %v", err)
	}
	mc := cfg.ManagerConfig(creds)

	if mc.URL != DefaultWSURL {
		t.Errorf("URL = %q, want %q", mc.URL, DefaultWSURL)
	}
	if mc.Credentials == nil || mc.Credentials.APIKey != "key-123" {
		t.Errorf("Credentials = %+v, want key-123", mc.Credentials)
	}
	if mc.PingTimeout != DefaultPingTimeout {
		t.Errorf("PingTimeout = %v, want %v", mc.PingTimeout, DefaultPingTimeout)
	}
}

func TestManagerOptions_SimulatorNeedsSandbox(t *testing.T) {
	cfg := Default()
	cfg.Simulator.Enabled = true
	if opts := cfg.ManagerOptions(); len(opts) != 0 {
		t.Errorf("ManagerOptions() returned %d options outside sandbox, want 0", len(opts))
	}

	cfg.Feed.Sandbox = true
	if opts := cfg.ManagerOptions(); len(opts) != 1 {
		t.Errorf("ManagerOptions() returned %d options in sandbox, want 1", len(opts))
	}
	if sim := cfg.SimulatorConfig(); !sim.Enabled || sim.Symbol != DefaultSimSymbol {
		t.Errorf("SimulatorConfig() = %+v", sim)
	}
}
