package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/moznion/go-optional"

	"github.com/rickgao/market-stream/internal/codec"
	"github.com/rickgao/market-stream/internal/market"
	"github.com/rickgao/market-stream/internal/model"
	"github.com/rickgao/market-stream/internal/simulator"
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClientFactory overrides how connections are created.
func WithClientFactory(f ClientFactory) ManagerOption {
	return func(m *Manager) {
		m.newClient = f
	}
}

// WithSimulator enables the fallback data generator once a connection is
// authenticated.
func WithSimulator(cfg simulator.Config) ManagerOption {
	return func(m *Manager) {
		m.simCfg = optional.Some(cfg)
	}
}

// connState is one connection attempt. A replaced connState is stale: every
// event it delivers afterwards is ignored.
type connState struct {
	gen    uint64
	client Client
	ctx    context.Context
	cancel context.CancelFunc
}

// Manager owns the single upstream connection and fans its data out to every
// attached consumer.
//
// All state lives behind mu. Network events and public entry points take mu,
// mutate, and queue the resulting notice before releasing it. A single
// notifier goroutine delivers notices in that order, so callbacks observe
// events in the order they were processed and never run under mu.
type Manager struct {
	cfg       ManagerConfig
	logger    *slog.Logger
	root      *slog.Logger // caller's logger, for components that add their own attrs
	codec     *codec.Codec
	newClient ClientFactory
	simCfg    optional.Option[simulator.Config]

	mu    sync.Mutex
	notes *notifier

	interest *market.Interest
	cache    *market.Cache
	handles  map[uuid.UUID]*Handle
	seq      uint64

	state         model.ConnectionStatus
	authenticated bool
	lastError     optional.Option[string]
	errorKind     model.ErrorKind
	attempts      int
	needsManual   bool
	closed        bool

	conn *connState
	gen  uint64

	sim       *simulator.Generator
	simCancel context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager validates cfg and creates an idle Manager. No connection is made
// until the first consumer attaches with a non-empty symbol set.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid manager config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		logger:    logger.With("component", "stream_manager"),
		root:      logger,
		newClient: NewClient,
		interest:  market.NewInterest(),
		cache:     market.NewCache(),
		handles:   make(map[uuid.UUID]*Handle),
		state:     model.StatusDisconnected,
		lastError: optional.None[string](),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.codec = codec.New(cfg.Sandbox, m.logger)

	m.notes = newNotifier(m.logger)

	for _, opt := range opts {
		opt(m)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.notes.run()
	}()

	return m, nil
}

// Attach registers callback for symbols and returns the handle that owns the
// registration. The current status is queued for callback before Attach
// returns, ahead of any later event, and again after every observable change
// until the handle is released. Attach never waits for delivery.
func (m *Manager) Attach(callback Callback, symbols ...string) (*Handle, error) {
	if callback == nil {
		return nil, ErrNilCallback
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}

	m.seq++
	h := &Handle{
		m:        m,
		id:       uuid.New(),
		seq:      m.seq,
		callback: callback,
		symbols:  model.NormalizeSymbols(symbols),
		done:     make(chan struct{}),
	}
	m.handles[h.id] = h

	added := m.interest.Increment(h.symbols...)
	m.subscribeLocked(added)

	m.logger.Debug("consumer attached",
		"handle", h.id,
		"symbols", h.symbols,
		"new_symbols", added,
	)

	// A new connection changes state for everyone; otherwise only the new
	// consumer needs the current view.
	if m.maybeConnectLocked() {
		m.unlock(m.noticeAllLocked())
		return h, nil
	}
	m.unlock(&notice{status: m.statusLocked(), callbacks: []Callback{callback}})
	return h, nil
}

// Watch attaches callback and releases the handle when ctx is done. Releasing
// the handle directly also ends the watch.
func (m *Manager) Watch(ctx context.Context, callback Callback, symbols ...string) (*Handle, error) {
	h, err := m.Attach(callback, symbols...)
	if err != nil {
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			h.Release()
		case <-h.done:
		}
	}()

	return h, nil
}

// Status returns a copy of the current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// WatchedSymbols returns the symbols with at least one consumer, sorted.
func (m *Manager) WatchedSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interest.Symbols()
}

// ManualReconnect clears error state and, if anything is watched, dials a fresh
// connection. It is a no-op while a connection is being established or is live.
func (m *Manager) ManualReconnect() {
	m.mu.Lock()
	if m.closed || m.state == model.StatusConnecting || m.state == model.StatusConnected {
		m.mu.Unlock()
		return
	}

	m.logger.Info("manual reconnect requested", "previous_state", m.state, "error_kind", m.errorKind)

	m.dropConnLocked()
	m.attempts = 0
	m.lastError = optional.None[string]()
	m.errorKind = model.ErrorKindNone
	m.needsManual = false
	m.state = model.StatusDisconnected

	m.maybeConnectLocked()
	m.unlock(m.noticeAllLocked())
}

// Shutdown releases every outstanding handle, closes the connection and waits
// for background goroutines until ctx is done. Attach fails afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	released := len(m.handles)
	for id, h := range m.handles {
		h.markReleased()
		delete(m.handles, id)
	}
	m.interest = market.NewInterest()
	m.cache.Reset()

	m.dropConnLocked()
	m.state = model.StatusDisconnected
	m.cancel()
	m.notes.close()
	m.mu.Unlock()

	m.logger.Info("stream manager shutting down", "released_handles", released)

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("stream manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, goroutines still running")
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// -----------------------------------------------------------------------------
// Handle operations
// -----------------------------------------------------------------------------

func (m *Manager) release(h *Handle) {
	m.mu.Lock()
	if h.released {
		m.mu.Unlock()
		return
	}
	h.markReleased()
	delete(m.handles, h.id)

	m.logger.Debug("consumer released", "handle", h.id, "symbols", h.symbols)

	changed := m.dropInterestLocked(h.symbols)
	h.symbols = nil

	if changed {
		m.unlock(m.noticeAllLocked())
		return
	}
	m.mu.Unlock()
}

func (m *Manager) changeSymbols(h *Handle, symbols []string) error {
	m.mu.Lock()
	if h.released {
		m.mu.Unlock()
		return ErrHandleReleased
	}

	next := model.NormalizeSymbols(symbols)
	toAdd, toRemove := diff(h.symbols, next)
	h.symbols = next

	// Increment first so a swap never drains the registry in between.
	added := m.interest.Increment(toAdd...)
	m.subscribeLocked(added)
	connected := m.maybeConnectLocked()

	changed := m.dropInterestLocked(toRemove)

	m.logger.Debug("consumer symbols changed",
		"handle", h.id,
		"added", toAdd,
		"removed", toRemove,
	)

	if changed || connected {
		m.unlock(m.noticeAllLocked())
		return nil
	}
	m.mu.Unlock()
	return nil
}

// dropInterestLocked decrements symbols, evicts and unsubscribes those that
// reached zero, and tears the connection down once nothing is watched. It
// reports whether consumers can observe the change.
func (m *Manager) dropInterestLocked(symbols []string) bool {
	removed := m.interest.Decrement(symbols...)
	if len(removed) == 0 {
		return false
	}

	changed := m.cache.Evict(removed...)
	m.unsubscribeLocked(removed)

	if m.interest.IsEmpty() && m.conn != nil {
		m.logger.Info("no symbols watched, closing connection")
		m.dropConnLocked()
		m.state = model.StatusDisconnected
		changed = true
	}
	return changed
}

// -----------------------------------------------------------------------------
// Connection lifecycle
// -----------------------------------------------------------------------------

// maybeConnectLocked starts a connection when one is owed: none exists, the
// manager is idle, something is watched and no manual reconnect is pending.
func (m *Manager) maybeConnectLocked() bool {
	if m.closed || m.conn != nil || m.needsManual ||
		m.state != model.StatusDisconnected || m.interest.IsEmpty() {
		return false
	}

	m.gen++
	m.attempts++

	ctx, cancel := context.WithCancel(m.ctx)
	cs := &connState{
		gen:    m.gen,
		ctx:    ctx,
		cancel: cancel,
	}
	cs.client = m.newClient(m.cfg.clientConfig(), m.logger.With("conn_gen", cs.gen))

	m.conn = cs
	m.state = model.StatusConnecting
	m.authenticated = false

	m.logger.Info("connecting to feed",
		"url", m.cfg.URL,
		"attempt", m.attempts,
		"symbols", m.interest.Len(),
	)

	m.wg.Add(1)
	go m.run(cs)

	return true
}

// dropConnLocked closes the current connection, if any, and stops the simulator.
func (m *Manager) dropConnLocked() {
	m.stopSimLocked()
	m.authenticated = false

	cs := m.conn
	if cs == nil {
		return
	}
	m.conn = nil
	cs.cancel()
	if err := cs.client.Close(); err != nil {
		m.logger.Debug("close connection", "gen", cs.gen, "error", err)
	}
}

// failLocked records a terminal failure and closes the connection. A manual
// reconnect is owed afterwards.
func (m *Manager) failLocked(state model.ConnectionStatus, kind model.ErrorKind, msg string) {
	m.dropConnLocked()
	m.state = state
	m.errorKind = kind
	m.lastError = optional.Some(msg)
	m.needsManual = true

	m.logger.Warn("connection failed",
		"state", state,
		"error_kind", kind,
		"error", msg,
	)
}

// current reports whether cs is still the live connection. Must hold mu.
func (m *Manager) current(cs *connState) bool {
	return m.conn != nil && m.conn.gen == cs.gen
}

// run dials cs and processes its frames until it fails or is replaced.
func (m *Manager) run(cs *connState) {
	defer m.wg.Done()

	if err := cs.client.Connect(cs.ctx); err != nil {
		m.onClientError(cs, err)
		return
	}

	handshake := time.NewTimer(m.cfg.HandshakeTimeout)
	defer handshake.Stop()

	for {
		select {
		case <-cs.ctx.Done():
			return

		case <-handshake.C:
			m.onHandshakeTimeout(cs)

		case err := <-cs.client.Errors():
			m.onClientError(cs, err)
			return

		case msg := <-cs.client.Messages():
			m.onFrame(cs, msg)
		}
	}
}

func (m *Manager) onHandshakeTimeout(cs *connState) {
	m.mu.Lock()
	if !m.current(cs) || m.authenticated {
		m.mu.Unlock()
		return
	}
	m.failLocked(model.StatusErrored, model.HandshakeFailed, ErrHandshakeTimeout.Error())
	m.unlock(m.noticeAllLocked())
}

func (m *Manager) onClientError(cs *connState, err error) {
	m.mu.Lock()
	if !m.current(cs) {
		m.mu.Unlock()
		return
	}

	var closed *ClosedError
	if errors.As(err, &closed) {
		m.failLocked(model.StatusDisconnected, model.Closed, closed.Error())
	} else {
		m.failLocked(model.StatusErrored, model.TransportError, err.Error())
	}
	m.unlock(m.noticeAllLocked())
}

func (m *Manager) onFrame(cs *connState, msg TimestampedMessage) {
	ev, err := m.codec.Decode(msg.Data, msg.ReceivedAt)
	if err != nil {
		m.logger.Warn("dropping malformed frame",
			"gen", cs.gen,
			"error", err,
			"size", len(msg.Data),
		)
		return
	}

	m.mu.Lock()
	if !m.current(cs) {
		m.mu.Unlock()
		return
	}

	switch ev.Type {
	case codec.EventAuthSuccess:
		if m.authenticated {
			m.mu.Unlock()
			return
		}
		m.onAuthenticatedLocked()
		m.unlock(m.noticeAllLocked())

	case codec.EventAuthError:
		m.failLocked(model.StatusErrored, model.HandshakeFailed, ev.Message)
		m.unlock(m.noticeAllLocked())

	case codec.EventError:
		kind := model.UpstreamError
		if ev.RateLimited() {
			kind = model.RateLimited
		}
		m.failLocked(model.StatusErrored, kind, ev.Message)
		m.unlock(m.noticeAllLocked())

	case codec.EventMarketData:
		if m.applyLocked(ev.Ticks) {
			m.unlock(m.noticeAllLocked())
			return
		}
		m.mu.Unlock()

	default:
		m.mu.Unlock()
		m.logger.Debug("ignoring frame", "type", ev.RawType)
	}
}

// onAuthenticatedLocked marks the connection live, subscribes the whole
// registry in one frame and starts the simulator when configured.
func (m *Manager) onAuthenticatedLocked() {
	m.authenticated = true
	m.state = model.StatusConnected
	m.lastError = optional.None[string]()
	m.errorKind = model.ErrorKindNone

	symbols := m.interest.Symbols()
	m.logger.Info("feed authenticated", "gen", m.conn.gen, "symbols", len(symbols))

	m.subscribeLocked(symbols)
	m.startSimLocked()
}

// applyLocked stores ticks for watched symbols and reports whether the cache
// changed. Ticks for symbols nobody watches are discarded.
func (m *Manager) applyLocked(ticks []model.Tick) bool {
	changed := false
	for _, t := range ticks {
		if !m.interest.Has(t.Symbol) {
			continue
		}
		if m.cache.Apply(t) {
			changed = true
		}
	}
	return changed
}

func (m *Manager) subscribeLocked(symbols []string) {
	if len(symbols) == 0 || !m.authenticated {
		return
	}
	m.sendLocked(codec.EncodeSubscribe, symbols)
}

func (m *Manager) unsubscribeLocked(symbols []string) {
	if len(symbols) == 0 || !m.authenticated {
		return
	}
	m.sendLocked(codec.EncodeUnsubscribe, symbols)
}

func (m *Manager) sendLocked(encode func([]string) ([]byte, error), symbols []string) {
	data, err := encode(symbols)
	if err != nil {
		m.logger.Error("encode request", "symbols", symbols, "error", err)
		return
	}
	if err := m.conn.client.Send(data); err != nil {
		// The read loop reports the transport failure.
		m.logger.Warn("send request", "symbols", symbols, "error", err)
		return
	}
	m.logger.Debug("request sent", "frame", string(data))
}

// -----------------------------------------------------------------------------
// Simulator
// -----------------------------------------------------------------------------

func (m *Manager) startSimLocked() {
	if !m.simCfg.IsSome() || m.sim != nil {
		return
	}
	cfg := m.simCfg.Unwrap()
	if !cfg.Enabled {
		return
	}

	var g *simulator.Generator
	g = simulator.New(cfg,
		simulator.SourceFunc(m.WatchedSymbols),
		simulator.TickHandlerFunc(func(t model.Tick) { m.onSimulatedTick(g, t) }),
		m.root.With("component", "simulator"),
	)

	ctx, cancel := context.WithCancel(m.ctx)
	if err := g.Start(ctx); err != nil {
		cancel()
		m.logger.Error("failed to start simulator", "error", err)
		return
	}
	m.sim = g
	m.simCancel = cancel
}

// stopSimLocked cancels the simulator without waiting for it under the lock;
// Shutdown waits for the loop through wg.
func (m *Manager) stopSimLocked() {
	if m.sim == nil {
		return
	}
	g := m.sim
	m.simCancel()
	m.sim = nil
	m.simCancel = nil

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-g.Done()
	}()
}

func (m *Manager) onSimulatedTick(g *simulator.Generator, t model.Tick) {
	m.mu.Lock()
	if m.sim != g {
		m.mu.Unlock()
		return
	}
	if m.applyLocked([]model.Tick{t}) {
		m.unlock(m.noticeAllLocked())
		return
	}
	m.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Notification
// -----------------------------------------------------------------------------

func (m *Manager) statusLocked() Status {
	return Status{
		State:         m.state,
		Authenticated: m.authenticated,
		LastError:     m.lastError,
		ErrorKind:     m.errorKind,
		Attempts:      m.attempts,
		Interest:      m.interest.Symbols(),
		Cache:         m.cache.Snapshot(),
	}
}

// noticeAllLocked addresses the current status to every consumer in attach order.
func (m *Manager) noticeAllLocked() *notice {
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].seq < handles[j].seq })

	n := &notice{status: m.statusLocked(), callbacks: make([]Callback, len(handles))}
	for i, h := range handles {
		n.callbacks[i] = h.callback
	}
	return n
}

// unlock queues n for delivery and releases mu.
func (m *Manager) unlock(n *notice) {
	if n != nil && len(n.callbacks) > 0 {
		m.notes.enqueue(n)
	}
	m.mu.Unlock()
}

// diff returns the symbols only in next (add) and only in prev (remove).
func diff(prev, next []string) (add, remove []string) {
	inPrev := make(map[string]struct{}, len(prev))
	for _, s := range prev {
		inPrev[s] = struct{}{}
	}
	inNext := make(map[string]struct{}, len(next))
	for _, s := range next {
		inNext[s] = struct{}{}
		if _, ok := inPrev[s]; !ok {
			add = append(add, s)
		}
	}
	for _, s := range prev {
		if _, ok := inNext[s]; !ok {
			remove = append(remove, s)
		}
	}
	return add, remove
}
