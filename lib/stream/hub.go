package stream

import (
	"context"
	"log/slog"
)

// sendBuffer is how many outbound messages a client may have queued
// before the hub gives up on it.
const sendBuffer = 64

// Hub owns the set of connected clients and fans messages out to them.
// All membership changes go through the run loop, so no locks are needed.
// A client whose send buffer is full gets dropped rather than ever
// blocking the commit path.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
	}
}

// Run processes membership and broadcast events until ctx is canceled.
// Call it in its own goroutine before serving connections.
func (h *Hub) Run(ctx context.Context) {
	clients := map[*client]struct{}{}

	defer func() {
		close(h.done)
		for c := range clients {
			close(c.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			clients[c] = struct{}{}
			connectionsGauge.Set(float64(len(clients)))
		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
				connectionsGauge.Set(float64(len(clients)))
			}
		case msg := <-h.broadcast:
			for c := range clients {
				select {
				case c.send <- msg:
				default:
					slog.Warn("dropping slow stream client", "id", c.id, "subject", c.subject)
					slowClientDrops.Inc()
					delete(clients, c)
					close(c.send)
					connectionsGauge.Set(float64(len(clients)))
				}
			}
		}
	}
}

// add registers c with the run loop, reporting false if the hub has
// already shut down.
func (h *Hub) add(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// drop unregisters c, giving up once the hub has shut down. The run
// loop's teardown closes every remaining send channel, so there is
// nothing left to do in that case.
func (h *Hub) drop(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues msg for every connected client. Best-effort in every
// direction: delivery is at-most-once and only to peers connected right
// now, and a stalled or stopped hub drops the message instead of ever
// blocking the commit path.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		broadcastsDropped.Inc()
	}
}
