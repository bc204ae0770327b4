package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/market-stream/internal/model"
)

// Frame types.
const (
	TypeAuthSuccess = "auth_success"
	TypeAuthError   = "auth_error"
	TypeMarketData  = "market_data"
	TypeError       = "error"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// EventType is the closed set of decoded inbound events.
type EventType int

const (
	EventUnknown EventType = iota
	EventAuthSuccess
	EventAuthError
	EventMarketData
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventAuthSuccess:
		return TypeAuthSuccess
	case EventAuthError:
		return TypeAuthError
	case EventMarketData:
		return TypeMarketData
	case EventError:
		return TypeError
	default:
		return "unknown"
	}
}

// Event is one decoded inbound frame.
type Event struct {
	Type    EventType
	RawType string       // "type" field as received
	Message string       // auth_error / error text
	Ticks   []model.Tick // market_data only
	Skipped int          // market_data items dropped for missing symbol
}

// RateLimited reports whether an error event is a connection-limit rejection.
func (e Event) RateLimited() bool {
	return e.Type == EventError && IsRateLimited(e.Message)
}

// DecodeError is returned for frames that cannot be decoded.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode frame: %s: %v", e.Reason, e.Err)
	}
	return "decode frame: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Request is an outbound subscribe/unsubscribe frame.
type Request struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// Wire types for JSON parsing

// envelope is used for fast type extraction.
type envelope struct {
	Type string `json:"type"`
}

// messageWire covers auth_error and error frames.
type messageWire struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Msg     string `json:"msg,omitempty"` // some feeds use "msg"
}

// marketDataWire is the wire format for market_data frames.
type marketDataWire struct {
	Type string     `json:"type"`
	Data []tickWire `json:"data"`
}

// tickWire is one per-symbol update. Decimals accept numbers or numeric strings.
type tickWire struct {
	Symbol    string           `json:"symbol"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Timestamp *wireTime        `json:"timestamp,omitempty"`
	Volume    *decimal.Decimal `json:"volume,omitempty"`
	Bid       *decimal.Decimal `json:"bid,omitempty"`
	Ask       *decimal.Decimal `json:"ask,omitempty"`
	Open      *decimal.Decimal `json:"open,omitempty"`
	High      *decimal.Decimal `json:"high,omitempty"`
	Low       *decimal.Decimal `json:"low,omitempty"`
	Close     *decimal.Decimal `json:"close,omitempty"`
}

// wireTime accepts an epoch number (s, ms, µs or ns by magnitude) or an RFC 3339 string.
type wireTime struct {
	time.Time
}

func (w *wireTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			w.Time = t.UTC()
			return nil
		}
		data = []byte(s)
	}

	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		w.Time = epochToTime(n)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q", string(data))
	}
	w.Time = epochToTime(int64(f))
	return nil
}

// MarshalJSON writes epoch milliseconds.
func (w wireTime) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, w.UnixMilli(), 10), nil
}

// epochToTime picks the unit from the magnitude of v.
func epochToTime(v int64) time.Time {
	switch {
	case v >= 1e17:
		return time.Unix(0, v).UTC()
	case v >= 1e14:
		return time.UnixMicro(v).UTC()
	case v >= 1e11:
		return time.UnixMilli(v).UTC()
	default:
		return time.Unix(v, 0).UTC()
	}
}
