package simulator

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/rickgao/market-stream/internal/model"
)

// Source reports the symbols currently watched by at least one consumer.
type Source interface {
	WatchedSymbols() []string
}

// SourceFunc is a function adapter for Source.
type SourceFunc func() []string

func (f SourceFunc) WatchedSymbols() []string {
	return f()
}

// TickHandler receives generated ticks.
type TickHandler interface {
	HandleTick(tick model.Tick)
}

// TickHandlerFunc is a function adapter for TickHandler.
type TickHandlerFunc func(model.Tick)

func (f TickHandlerFunc) HandleTick(t model.Tick) {
	f(t)
}

// Config holds generator configuration.
type Config struct {
	Enabled      bool
	Symbol       string          // Preferred symbol when watched
	Interval     time.Duration   // Time between ticks
	InitialPrice decimal.Decimal // Starting price of the preferred symbol
	Volatility   float64         // Per-tick standard deviation of returns
	Seed         int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Symbol:       "SPY",
		Interval:     time.Second,
		InitialPrice: decimal.NewFromInt(100),
		Volatility:   0.002,
		Seed:         42,
	}
}

// walk is the random-walk state of one symbol.
type walk struct {
	price float64
	open  float64
	high  float64
	low   float64
}

// Generator emits simulated ticks on a fixed interval.
type Generator struct {
	cfg     Config
	source  Source
	handler TickHandler
	logger  *slog.Logger

	rng   *rand.Rand
	walks map[string]*walk
	next  int // round-robin cursor
	now   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Generator. Zero-valued config fields fall back to DefaultConfig.
func New(cfg Config, source Source, handler TickHandler, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if !cfg.InitialPrice.IsPositive() {
		cfg.InitialPrice = def.InitialPrice
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = def.Volatility
	}
	cfg.Symbol = model.NormalizeSymbol(cfg.Symbol)

	return &Generator{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		walks:   make(map[string]*walk),
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

// ErrAlreadyStarted is returned when Start is called more than once.
var ErrAlreadyStarted = errors.New("simulator already started")

// Start begins the tick loop. Cancelling ctx stops it. A Generator runs once.
func (g *Generator) Start(ctx context.Context) error {
	if g.cancel != nil {
		return ErrAlreadyStarted
	}
	g.ctx, g.cancel = context.WithCancel(ctx)

	go g.run()

	g.logger.Info("simulator started",
		"symbol", g.cfg.Symbol,
		"interval", g.cfg.Interval,
	)

	return nil
}

// Stop cancels the loop and waits for it to exit.
func (g *Generator) Stop(ctx context.Context) error {
	if g.cancel == nil {
		return nil
	}
	g.cancel()

	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the loop has exited.
func (g *Generator) Done() <-chan struct{} {
	return g.done
}

// run is the main tick loop.
func (g *Generator) run() {
	defer close(g.done)

	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
		}

		symbols := g.source.WatchedSymbols()
		if len(symbols) == 0 {
			g.logger.Debug("no watched symbols, simulator stopping")
			return
		}

		// The source may have released its last symbol while we waited.
		if g.ctx.Err() != nil {
			return
		}

		g.handler.HandleTick(g.Tick(g.pick(symbols)))
	}
}

// pick returns the preferred symbol when watched, otherwise the next symbol in
// round-robin order.
func (g *Generator) pick(symbols []string) string {
	for _, s := range symbols {
		if s == g.cfg.Symbol {
			return s
		}
	}
	s := symbols[g.next%len(symbols)]
	g.next++
	return s
}

// Tick advances the random walk for symbol by one step and returns the tick.
// Not safe for concurrent use with a running loop.
func (g *Generator) Tick(symbol string) model.Tick {
	w := g.walkFor(symbol)

	// Box-Muller transform for a standard normal draw.
	u1 := 1 - g.rng.Float64()
	u2 := g.rng.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

	price := w.price * (1 + g.cfg.Volatility*z)
	if price <= 0 {
		price = w.price * 0.99
	}
	w.price = price
	w.high = math.Max(w.high, price)
	w.low = math.Min(w.low, price)

	halfSpread := price * g.cfg.Volatility * 0.25
	volume := int64(100 + g.rng.Intn(900))

	now := g.now()
	return model.Tick{
		Symbol:     symbol,
		Price:      optional.Some(round(price)),
		Bid:        optional.Some(round(price - halfSpread)),
		Ask:        optional.Some(round(price + halfSpread)),
		Open:       optional.Some(round(w.open)),
		High:       optional.Some(round(w.high)),
		Low:        optional.Some(round(w.low)),
		Volume:     optional.Some(volume),
		Timestamp:  now,
		ReceivedAt: now,
		Provenance: model.Provenance{Sandbox: true, Simulated: true},
	}
}

// walkFor returns the walk state for symbol, seeding it on first use. Symbols
// other than the preferred one start within ±20% of the initial price.
func (g *Generator) walkFor(symbol string) *walk {
	if w, ok := g.walks[symbol]; ok {
		return w
	}

	start := g.cfg.InitialPrice.InexactFloat64()
	if symbol != g.cfg.Symbol {
		start *= 0.8 + g.rng.Float64()*0.4
	}

	w := &walk{price: start, open: start, high: start, low: start}
	g.walks[symbol] = w
	return w
}

func round(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}
