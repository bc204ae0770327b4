package gateway

import (
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/rickgao/market-stream/internal/connection"
	"github.com/rickgao/market-stream/internal/model"
)

// Message types sent to remote consumers.
const (
	TypeSnapshot   = "snapshot"
	TypeSubscribed = "subscribed"
	TypeError      = "error"
)

// Command types accepted from remote consumers.
const (
	CommandSubscribe = "subscribe" // replaces the client's symbol set
	CommandReconnect = "reconnect"
)

// Command is a frame sent by a remote consumer.
type Command struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
}

// Message is a frame sent to a remote consumer.
type Message struct {
	Type    string     `json:"type"`
	Status  *StatusDTO `json:"status,omitempty"`
	Symbols []string   `json:"symbols,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// StatusDTO is the JSON view of connection.Status.
type StatusDTO struct {
	State         string    `json:"state"`
	Authenticated bool      `json:"authenticated"`
	LastError     *string   `json:"last_error,omitempty"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	Retryable     bool      `json:"retryable"`
	Attempts      int       `json:"attempts"`
	Interest      []string  `json:"interest"`
	Ticks         []TickDTO `json:"ticks"`
}

// TickDTO is the JSON view of model.Tick. Absent fields are omitted.
type TickDTO struct {
	Symbol     string           `json:"symbol"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	Volume     *int64           `json:"volume,omitempty"`
	Bid        *decimal.Decimal `json:"bid,omitempty"`
	Ask        *decimal.Decimal `json:"ask,omitempty"`
	Open       *decimal.Decimal `json:"open,omitempty"`
	High       *decimal.Decimal `json:"high,omitempty"`
	Low        *decimal.Decimal `json:"low,omitempty"`
	Close      *decimal.Decimal `json:"close,omitempty"`
	Timestamp  int64            `json:"timestamp"` // epoch ms
	Sandbox    bool             `json:"sandbox,omitempty"`
	Simulated  bool             `json:"simulated,omitempty"`
}

// NewStatusDTO converts a manager status. Ticks are ordered by symbol.
func NewStatusDTO(s connection.Status) *StatusDTO {
	dto := &StatusDTO{
		State:         string(s.State),
		Authenticated: s.Authenticated,
		LastError:     ptr(s.LastError),
		ErrorKind:     string(s.ErrorKind),
		Retryable:     s.ErrorKind != model.ErrorKindNone && s.ErrorKind.Retryable(),
		Attempts:      s.Attempts,
		Interest:      s.Interest,
		Ticks:         make([]TickDTO, 0, len(s.Cache)),
	}
	if dto.Interest == nil {
		dto.Interest = []string{}
	}
	for _, sym := range s.Cache.Symbols() {
		dto.Ticks = append(dto.Ticks, NewTickDTO(s.Cache[sym]))
	}
	return dto
}

// NewTickDTO converts a tick.
func NewTickDTO(t model.Tick) TickDTO {
	return TickDTO{
		Symbol:    t.Symbol,
		Price:     ptr(t.Price),
		Volume:    ptr(t.Volume),
		Bid:       ptr(t.Bid),
		Ask:       ptr(t.Ask),
		Open:      ptr(t.Open),
		High:      ptr(t.High),
		Low:       ptr(t.Low),
		Close:     ptr(t.Close),
		Timestamp: t.Timestamp.UnixMilli(),
		Sandbox:   t.Provenance.Sandbox,
		Simulated: t.Provenance.Simulated,
	}
}

func ptr[T any](o optional.Option[T]) *T {
	if o.IsNone() {
		return nil
	}
	v := o.Unwrap()
	return &v
}
