package model

import (
	"sort"
	"strings"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Connection State
// -----------------------------------------------------------------------------

// ConnectionStatus is the state of the single upstream connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusErrored      ConnectionStatus = "errored"
)

// ErrorKind classifies the last failure reported on the connection.
type ErrorKind string

const (
	ErrorKindNone   ErrorKind = ""
	HandshakeFailed ErrorKind = "handshake_failed" // auth_error frame or handshake timeout
	TransportError  ErrorKind = "transport_error"  // socket-level failure
	RateLimited     ErrorKind = "rate_limited"     // error frame matching a connection-limit message
	Closed          ErrorKind = "closed"           // close frame, clean or not
	DecodeError     ErrorKind = "decode_error"     // malformed frame; logged, never surfaced in status
	UpstreamError   ErrorKind = "upstream_error"   // any other error frame
)

// Retryable reports whether a caller may reasonably offer an immediate retry.
func (k ErrorKind) Retryable() bool {
	return k != RateLimited
}

// -----------------------------------------------------------------------------
// Market Data
// -----------------------------------------------------------------------------

// Provenance describes where a tick came from.
type Provenance struct {
	Sandbox   bool // Received from a non-production upstream
	Simulated bool // Produced locally by the fallback generator
}

// Tick is the latest market update for one symbol.
type Tick struct {
	Symbol     string
	Price      optional.Option[decimal.Decimal] // Last trade price, None if the frame had none
	Volume     optional.Option[int64]
	Bid        optional.Option[decimal.Decimal]
	Ask        optional.Option[decimal.Decimal]
	Open       optional.Option[decimal.Decimal]
	High       optional.Option[decimal.Decimal]
	Low        optional.Option[decimal.Decimal]
	Close      optional.Option[decimal.Decimal]
	Timestamp  time.Time // Exchange time, falls back to ReceivedAt
	ReceivedAt time.Time // Local receive time
	Provenance Provenance
}

// HasPrice reports whether the tick carries a trade price.
func (t Tick) HasPrice() bool {
	return t.Price.IsSome()
}

// Snapshot is an immutable copy of the data cache, keyed by symbol.
type Snapshot map[string]Tick

// Symbols returns the snapshot's symbols in sorted order.
func (s Snapshot) Symbols() []string {
	out := make([]string, 0, len(s))
	for sym := range s {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// NormalizeSymbol trims and upper-cases a symbol. Returns "" for blank input.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// NormalizeSymbols normalizes, de-duplicates and sorts symbols, dropping blanks.
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		n := NormalizeSymbol(s)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
