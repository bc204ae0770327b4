package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/moznion/go-optional"

	"github.com/rickgao/market-stream/internal/auth"
	"github.com/rickgao/market-stream/internal/model"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no pong)")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrHandshakeTimeout = errors.New("no auth frame before handshake timeout")
	ErrManagerClosed    = errors.New("stream manager shut down")
	ErrHandleReleased   = errors.New("subscription handle released")
	ErrNilCallback      = errors.New("callback is required")
)

// ClosedError reports a close frame received from the upstream.
type ClosedError struct {
	Code   int
	Reason string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("connection closed (code %d): %s", e.Code, e.Reason)
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string            // Feed URL (ws:// or wss://)
	Credentials      *auth.Credentials // nil = no auth headers
	HandshakeTimeout time.Duration     // Dial + upgrade deadline
	PingInterval     time.Duration     // Keepalive ping period
	PingTimeout      time.Duration     // Max time without pong before considering connection stale
	WriteTimeout     time.Duration     // Write deadline for sends
	BufferSize       int               // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1024,
	}
}

// ManagerConfig configures the Stream Manager.
type ManagerConfig struct {
	URL              string            `validate:"required,url,startswith=ws"`
	Credentials      *auth.Credentials `validate:"-"`
	Sandbox          bool              // Tag decoded ticks as sandbox data
	HandshakeTimeout time.Duration     `validate:"gt=0"` // Max wait for auth_success/auth_error after dial
	PingInterval     time.Duration     `validate:"gt=0"`
	PingTimeout      time.Duration     `validate:"gtfield=PingInterval"`
	WriteTimeout     time.Duration     `validate:"gt=0"`
	BufferSize       int               `validate:"gt=0"`
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	c := DefaultClientConfig()
	return ManagerConfig{
		HandshakeTimeout: c.HandshakeTimeout,
		PingInterval:     c.PingInterval,
		PingTimeout:      c.PingTimeout,
		WriteTimeout:     c.WriteTimeout,
		BufferSize:       c.BufferSize,
	}
}

func (c ManagerConfig) clientConfig() ClientConfig {
	return ClientConfig{
		URL:              c.URL,
		Credentials:      c.Credentials,
		HandshakeTimeout: c.HandshakeTimeout,
		PingInterval:     c.PingInterval,
		PingTimeout:      c.PingTimeout,
		WriteTimeout:     c.WriteTimeout,
		BufferSize:       c.BufferSize,
	}
}

// Status is a point-in-time view of the manager. Every field is a copy.
type Status struct {
	State         model.ConnectionStatus
	Authenticated bool
	LastError     optional.Option[string]
	ErrorKind     model.ErrorKind
	Attempts      int
	Interest      []string
	Cache         model.Snapshot
}

// Callback receives the manager status after every change a consumer can observe.
// Callbacks run one at a time on the manager's notifier goroutine with no
// manager lock held. They may call any Manager or Handle method except
// Shutdown, which waits for the notifier to exit. A slow callback delays later
// notifications but never blocks the manager.
type Callback func(Status)
