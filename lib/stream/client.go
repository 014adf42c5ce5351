package stream

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // matches the HTTP body limit
)

type client struct {
	id      string
	subject string
	conn    *websocket.Conn
	send    chan []byte
	lg      *slog.Logger
}

// readPump consumes frames from the peer until the connection dies, then
// unregisters the client. One goroutine per connection.
func (c *client) readPump(g *Gateway) {
	defer func() {
		g.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.lg.Debug("stream read failed", "err", err)
			}
			return
		}

		g.dispatch(c, raw)
	}
}

// writePump drains the send channel onto the wire and keeps the
// connection alive with pings. One goroutine per connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues msg for this client only. Best-effort like broadcast.
func (c *client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
		c.lg.Warn("dropping message to slow client")
		slowClientDrops.Inc()
	}
}
