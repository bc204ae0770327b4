package codec

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/rickgao/market-stream/internal/model"
)

// rateLimitPatterns are lower-case substrings marking a connection-limit error frame.
var rateLimitPatterns = []string{
	"connection limit",
	"too many connections",
}

// IsRateLimited reports whether an upstream error message indicates a connection limit.
func IsRateLimited(message string) bool {
	msg := strings.ToLower(message)
	for _, p := range rateLimitPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Codec decodes inbound frames and encodes outbound requests.
type Codec struct {
	sandbox bool
	logger  *slog.Logger
}

// New creates a Codec. Ticks decoded by a sandbox codec are tagged Provenance.Sandbox.
func New(sandbox bool, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{
		sandbox: sandbox,
		logger:  logger,
	}
}

// Decode parses a single inbound frame. Unknown frame types decode to EventUnknown
// without error; malformed frames return a *DecodeError.
func (c *Codec) Decode(data []byte, receivedAt time.Time) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, &DecodeError{Reason: "invalid json", Err: err}
	}
	if env.Type == "" {
		return Event{}, &DecodeError{Reason: "missing type"}
	}

	switch env.Type {
	case TypeAuthSuccess:
		return Event{Type: EventAuthSuccess, RawType: env.Type}, nil

	case TypeAuthError, TypeError:
		var wire messageWire
		if err := json.Unmarshal(data, &wire); err != nil {
			return Event{}, &DecodeError{Reason: env.Type, Err: err}
		}
		msg := wire.Message
		if msg == "" {
			msg = wire.Msg
		}
		evType := EventError
		if env.Type == TypeAuthError {
			evType = EventAuthError
		}
		return Event{Type: evType, RawType: env.Type, Message: msg}, nil

	case TypeMarketData:
		return c.decodeMarketData(data, receivedAt)

	default:
		return Event{Type: EventUnknown, RawType: env.Type}, nil
	}
}

// decodeMarketData parses a market_data frame into ticks.
func (c *Codec) decodeMarketData(data []byte, receivedAt time.Time) (Event, error) {
	var wire marketDataWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return Event{}, &DecodeError{Reason: "market_data", Err: err}
	}

	ev := Event{
		Type:    EventMarketData,
		RawType: wire.Type,
		Ticks:   make([]model.Tick, 0, len(wire.Data)),
	}

	for _, item := range wire.Data {
		symbol := model.NormalizeSymbol(item.Symbol)
		if symbol == "" {
			ev.Skipped++
			continue
		}
		ev.Ticks = append(ev.Ticks, c.toTick(symbol, item, receivedAt))
	}

	if ev.Skipped > 0 {
		c.logger.Warn("market_data items without symbol skipped", "skipped", ev.Skipped)
	}

	return ev, nil
}

// toTick converts a wire item. Negative prices and negative or fractional
// volumes are treated as absent.
func (c *Codec) toTick(symbol string, item tickWire, receivedAt time.Time) model.Tick {
	ts := receivedAt
	if item.Timestamp != nil && !item.Timestamp.IsZero() {
		ts = item.Timestamp.Time
	}

	volume := optional.None[int64]()
	if v := item.Volume; v != nil {
		switch {
		case v.IsNegative():
		case !v.IsInteger():
			c.logger.Debug("fractional volume dropped", "symbol", symbol, "volume", v.String())
		default:
			volume = optional.Some(v.IntPart())
		}
	}

	return model.Tick{
		Symbol:     symbol,
		Price:      price(item.Price),
		Volume:     volume,
		Bid:        price(item.Bid),
		Ask:        price(item.Ask),
		Open:       price(item.Open),
		High:       price(item.High),
		Low:        price(item.Low),
		Close:      price(item.Close),
		Timestamp:  ts,
		ReceivedAt: receivedAt,
		Provenance: model.Provenance{Sandbox: c.sandbox},
	}
}

func price(d *decimal.Decimal) optional.Option[decimal.Decimal] {
	if d == nil || d.IsNegative() {
		return optional.None[decimal.Decimal]()
	}
	return optional.Some(*d)
}

// EncodeSubscribe builds a subscribe frame for the given symbols.
func EncodeSubscribe(symbols []string) ([]byte, error) {
	return encodeRequest(TypeSubscribe, symbols)
}

// EncodeUnsubscribe builds an unsubscribe frame for the given symbols.
func EncodeUnsubscribe(symbols []string) ([]byte, error) {
	return encodeRequest(TypeUnsubscribe, symbols)
}

func encodeRequest(typ string, symbols []string) ([]byte, error) {
	return json.Marshal(Request{
		Type:    typ,
		Symbols: model.NormalizeSymbols(symbols),
	})
}

// Server-side encoders, used by test feeds.

// EncodeAuthSuccess builds an auth_success frame.
func EncodeAuthSuccess() []byte {
	return []byte(`{"type":"auth_success"}`)
}

// EncodeAuthError builds an auth_error frame.
func EncodeAuthError(message string) ([]byte, error) {
	return json.Marshal(messageWire{Type: TypeAuthError, Message: message})
}

// EncodeError builds an error frame.
func EncodeError(message string) ([]byte, error) {
	return json.Marshal(messageWire{Type: TypeError, Message: message})
}

// EncodeMarketData builds a market_data frame. Absent fields are omitted.
func EncodeMarketData(ticks []model.Tick) ([]byte, error) {
	wire := marketDataWire{
		Type: TypeMarketData,
		Data: make([]tickWire, len(ticks)),
	}
	for i, t := range ticks {
		item := tickWire{
			Symbol: t.Symbol,
			Price:  ptr(t.Price),
			Bid:    ptr(t.Bid),
			Ask:    ptr(t.Ask),
			Open:   ptr(t.Open),
			High:   ptr(t.High),
			Low:    ptr(t.Low),
			Close:  ptr(t.Close),
		}
		if t.Volume.IsSome() {
			v := decimal.NewFromInt(t.Volume.Unwrap())
			item.Volume = &v
		}
		if !t.Timestamp.IsZero() {
			item.Timestamp = &wireTime{Time: t.Timestamp}
		}
		wire.Data[i] = item
	}
	return json.Marshal(wire)
}

func ptr(o optional.Option[decimal.Decimal]) *decimal.Decimal {
	if !o.IsSome() {
		return nil
	}
	v := o.Unwrap()
	return &v
}
