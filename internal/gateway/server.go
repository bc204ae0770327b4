// Package gateway exposes the stream manager to remote consumers over HTTP and
// WebSocket. Every WebSocket client becomes one consumer with its own handle.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/market-stream/internal/connection"
	"github.com/rickgao/market-stream/internal/model"
)

// Stream is the part of the stream manager the gateway depends on.
type Stream interface {
	Attach(callback connection.Callback, symbols ...string) (*connection.Handle, error)
	Status() connection.Status
	ManualReconnect()
}

// Config holds gateway configuration.
type Config struct {
	SendBuffer int           // Queued messages per client; oldest dropped when full
	ReadLimit  int64         // Max inbound frame size in bytes
	WriteWait  time.Duration // Deadline for each outbound frame
	PongWait   time.Duration // Max silence from a client before it is dropped
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendBuffer: 64,
		ReadLimit:  4096,
		WriteWait:  5 * time.Second,
		PongWait:   60 * time.Second,
	}
}

// Server serves the gateway routes.
type Server struct {
	stream   Stream
	cfg      Config
	logger   *slog.Logger
	engine   *gin.Engine
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[uuid.UUID]*client
	closed  bool
	wg      sync.WaitGroup
}

// NewServer creates a gateway in front of stream.
func NewServer(stream Stream, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}

	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		stream:  stream,
		cfg:     cfg,
		logger:  logger,
		engine:  gin.New(),
		clients: make(map[uuid.UUID]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.engine.Use(gin.Recovery(), s.logRequests)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.getHealth)
	s.engine.GET("/status", s.getStatus)
	s.engine.POST("/reconnect", s.postReconnect)
	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client and waits for their pumps until ctx is done.
// New WebSocket upgrades are refused afterwards.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *Server) getHealth(c *gin.Context) {
	st := s.stream.Status()

	code := http.StatusOK
	status := "ok"
	if st.State == model.StatusErrored {
		code = http.StatusServiceUnavailable
		status = "errored"
	}

	c.JSON(code, gin.H{
		"status":        status,
		"state":         st.State,
		"authenticated": st.Authenticated,
		"clients":       s.Clients(),
	})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, NewStatusDTO(s.stream.Status()))
}

func (s *Server) postReconnect(c *gin.Context) {
	s.stream.ManualReconnect()
	c.JSON(http.StatusAccepted, NewStatusDTO(s.stream.Status()))
}

func (s *Server) handleWebSocket(c *gin.Context) {
	symbols := parseSymbols(c.Query("symbols"))

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", c.ClientIP(), "error", err)
		return
	}

	cl := newClient(s, conn)
	if !s.register(cl) {
		cl.reject("gateway shutting down")
		return
	}
	defer s.wg.Done()

	h, err := s.stream.Attach(cl.push, symbols...)
	if err != nil {
		s.unregister(cl)
		cl.reject(err.Error())
		return
	}
	cl.handle = h

	s.logger.Info("client connected",
		"client", cl.id,
		"remote", c.ClientIP(),
		"symbols", h.Symbols(),
	)

	s.wg.Add(2)
	go cl.writePump()
	go cl.readPump()
}

// handleCommand applies one inbound frame from cl.
func (s *Server) handleCommand(cl *client, cmd Command) {
	switch cmd.Type {
	case CommandSubscribe:
		if err := cl.handle.ChangeSymbols(cmd.Symbols...); err != nil {
			cl.queue.Push(Message{Type: TypeError, Error: err.Error()})
			return
		}
		cl.queue.Push(Message{Type: TypeSubscribed, Symbols: cl.handle.Symbols()})
	case CommandReconnect:
		s.stream.ManualReconnect()
	default:
		cl.queue.Push(Message{Type: TypeError, Error: "unknown command: " + cmd.Type})
	}
}

func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c.id] = c
	s.wg.Add(1) // held until the pumps are running
	return true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("http request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start),
	)
}

// parseSymbols splits a comma-separated query value.
func parseSymbols(q string) []string {
	if q == "" {
		return nil
	}
	return model.NormalizeSymbols(strings.Split(q, ","))
}
