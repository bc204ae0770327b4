// Package feedtest provides an in-process upstream feed speaking the stream
// protocol: optional credential check, auth_success/auth_error handshake,
// subscribe/unsubscribe bookkeeping and market_data publication.
//
// Tests drive it through NewServer; cmd/mockfeed serves the same Feed handler
// on a real listener.
package feedtest

import (
	"crypto/rsa"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/market-stream/internal/auth"
	"github.com/rickgao/market-stream/internal/codec"
	"github.com/rickgao/market-stream/internal/model"
)

// Options configures a Feed.
type Options struct {
	APIKey    string         // required key; empty accepts any client
	PublicKey *rsa.PublicKey // verifies signed handshakes when set
	NoAuth    bool           // never answer the handshake
	WriteWait time.Duration
}

// Feed is an http.Handler that upgrades every request to a feed connection.
type Feed struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[*feedConn]struct{}
	requests []codec.Request
	accepted int
}

// feedConn is one client connection.
type feedConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	authed  bool
	symbols map[string]struct{} // guarded by Feed.mu
}

// New creates a Feed handler.
func New(opts Options, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = time.Second
	}
	return &Feed{
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*feedConn]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	c := &feedConn{ws: ws, symbols: make(map[string]struct{})}

	f.mu.Lock()
	f.accepted++
	f.conns[c] = struct{}{}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.conns, c)
		f.mu.Unlock()
	}()

	if !f.opts.NoAuth {
		if reason := f.checkCredentials(r); reason != "" {
			frame, _ := codec.EncodeAuthError(reason)
			_ = f.write(c, frame)
			f.logger.Info("handshake rejected", "reason", reason)
			return
		}
		if err := f.write(c, codec.EncodeAuthSuccess()); err != nil {
			return
		}
		f.mu.Lock()
		c.authed = true
		f.mu.Unlock()
	}

	f.readLoop(c)
}

// checkCredentials returns a rejection reason, or "" when the request may proceed.
func (f *Feed) checkCredentials(r *http.Request) string {
	if f.opts.PublicKey != nil {
		ts := r.Header.Get(auth.HeaderAccessTimestamp)
		sig := r.Header.Get(auth.HeaderAccessSignature)
		if err := auth.Verify(f.opts.PublicKey, ts, http.MethodGet, r.URL.Path, sig); err != nil {
			return "invalid signature"
		}
		if f.opts.APIKey != "" && r.Header.Get(auth.HeaderAccessKey) != f.opts.APIKey {
			return "invalid api key"
		}
		return ""
	}

	if f.opts.APIKey != "" && auth.BearerToken(r.Header) != f.opts.APIKey {
		return "invalid api key"
	}
	return ""
}

func (f *Feed) readLoop(c *feedConn) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var req codec.Request
		if err := json.Unmarshal(data, &req); err != nil {
			f.logger.Warn("bad client frame", "error", err)
			continue
		}

		f.mu.Lock()
		f.requests = append(f.requests, req)
		for _, s := range req.Symbols {
			switch req.Type {
			case codec.TypeSubscribe:
				c.symbols[s] = struct{}{}
			case codec.TypeUnsubscribe:
				delete(c.symbols, s)
			}
		}
		f.mu.Unlock()
	}
}

func (f *Feed) write(c *feedConn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(f.opts.WriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// live returns the authenticated connections.
func (f *Feed) live() []*feedConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*feedConn, 0, len(f.conns))
	for c := range f.conns {
		if c.authed || f.opts.NoAuth {
			out = append(out, c)
		}
	}
	return out
}

func (f *Feed) broadcast(frame []byte) {
	for _, c := range f.live() {
		if err := f.write(c, frame); err != nil {
			f.logger.Debug("broadcast write failed", "error", err)
		}
	}
}

// Publish sends one market_data frame holding ticks to every connection,
// whether or not it subscribed to them.
func (f *Feed) Publish(ticks ...model.Tick) error {
	frame, err := codec.EncodeMarketData(ticks)
	if err != nil {
		return err
	}
	f.broadcast(frame)
	return nil
}

// PublishSubscribed sends each connection only the ticks it subscribed to.
func (f *Feed) PublishSubscribed(ticks ...model.Tick) error {
	for _, c := range f.live() {
		f.mu.Lock()
		var mine []model.Tick
		for _, t := range ticks {
			if _, ok := c.symbols[t.Symbol]; ok {
				mine = append(mine, t)
			}
		}
		f.mu.Unlock()

		if len(mine) == 0 {
			continue
		}
		frame, err := codec.EncodeMarketData(mine)
		if err != nil {
			return err
		}
		_ = f.write(c, frame)
	}
	return nil
}

// SendRaw writes frame verbatim to every connection.
func (f *Feed) SendRaw(frame string) {
	f.broadcast([]byte(frame))
}

// SendError sends an error frame to every connection.
func (f *Feed) SendError(message string) {
	frame, _ := codec.EncodeError(message)
	f.broadcast(frame)
}

// CloseWith sends a close frame with code and reason to every connection.
func (f *Feed) CloseWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	for _, c := range f.live() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(f.opts.WriteWait))
		c.writeMu.Unlock()
	}
}

// Drop closes every connection without a close frame.
func (f *Feed) Drop() {
	f.mu.Lock()
	conns := make([]*feedConn, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.UnderlyingConn().Close()
	}
}

// Connections returns the number of open connections.
func (f *Feed) Connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// Accepted returns the number of connections upgraded so far.
func (f *Feed) Accepted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}

// Requests returns every subscribe/unsubscribe frame received, in order.
func (f *Feed) Requests() []codec.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]codec.Request(nil), f.requests...)
}

// Subscribed returns the union of symbols subscribed on open connections.
func (f *Feed) Subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[string]struct{})
	for c := range f.conns {
		for s := range c.symbols {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Server is a Feed behind an httptest server.
type Server struct {
	*Feed
	srv *httptest.Server
}

// NewServer starts a Feed on a local test listener.
func NewServer(opts Options) *Server {
	f := New(opts, nil)
	return &Server{Feed: f, srv: httptest.NewServer(f)}
}

// URL returns the ws:// URL of the feed.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/v1/stream"
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	s.Drop()
	s.srv.Close()
}
