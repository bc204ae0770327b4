package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/market-stream/internal/buffer"
	"github.com/rickgao/market-stream/internal/connection"
)

// client is one remote consumer.
type client struct {
	id     uuid.UUID
	s      *Server
	conn   *websocket.Conn
	queue  *buffer.Queue[Message]
	handle *connection.Handle // set before the pumps start

	done     chan struct{}
	stopOnce sync.Once
}

func newClient(s *Server, conn *websocket.Conn) *client {
	return &client{
		id:    uuid.New(),
		s:     s,
		conn:  conn,
		queue: buffer.NewQueue[Message](s.cfg.SendBuffer),
		done:  make(chan struct{}),
	}
}

// push is the client's manager callback. It never blocks.
func (c *client) push(st connection.Status) {
	c.queue.Push(Message{Type: TypeSnapshot, Status: NewStatusDTO(st)})
}

// stop asks the write pump to close the connection.
func (c *client) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// reject writes an error frame and closes a connection that never got pumps.
func (c *client) reject(reason string) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.s.cfg.WriteWait))
	_ = c.conn.WriteJSON(Message{Type: TypeError, Error: reason})
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason))
	c.conn.Close()
}

// readPump handles inbound commands and releases the handle when the client
// goes away.
func (c *client) readPump() {
	defer c.s.wg.Done()
	defer func() {
		c.handle.Release()
		c.queue.Close()
		c.stop()
		c.s.unregister(c)
		c.s.logger.Info("client disconnected", "client", c.id, "dropped", c.queue.Stats().Dropped)
	}()

	c.conn.SetReadLimit(c.s.cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.s.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.s.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.s.logger.Debug("client read error", "client", c.id, "error", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.queue.Push(Message{Type: TypeError, Error: "malformed command"})
			continue
		}
		c.s.handleCommand(c, cmd)
	}
}

// writePump is the only writer on the connection.
func (c *client) writePump() {
	defer c.s.wg.Done()

	ticker := time.NewTicker(c.s.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.queue.Ready():
			for _, msg := range c.queue.DrainTo(0) {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.s.cfg.WriteWait))
				if err := c.conn.WriteJSON(msg); err != nil {
					c.s.logger.Debug("client write error", "client", c.id, "error", err)
					return
				}
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.s.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"),
				time.Now().Add(c.s.cfg.WriteWait))
			return
		}
	}
}
