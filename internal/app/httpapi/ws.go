package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stellar-swipe/oracle-layer/internal/app/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The REST surface is already open cross-origin; the event stream
	// follows suit.
	CheckOrigin: func(*http.Request) bool { return true },
}

// eventHub fans bus events out to websocket subscribers.
type eventHub struct {
	mu    sync.Mutex
	conns map[*wsClient]struct{}
}

type wsClient struct {
	out chan events.Event
}

func newEventHub(bus *events.Bus) *eventHub {
	hub := &eventHub{conns: make(map[*wsClient]struct{})}
	bus.Subscribe(hub.broadcast)
	return hub
}

func (h *eventHub) broadcast(evt events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.conns {
		select {
		case client.out <- evt:
		default:
			// Slow consumer: drop the event rather than block the bus.
		}
	}
}

func (h *eventHub) attach() *wsClient {
	client := &wsClient{out: make(chan events.Event, 64)}
	h.mu.Lock()
	h.conns[client] = struct{}{}
	h.mu.Unlock()
	return client
}

func (h *eventHub) detach(client *wsClient) {
	h.mu.Lock()
	delete(h.conns, client)
	h.mu.Unlock()
}

// serveEvents upgrades the connection and streams domain events as JSON
// until the client disconnects.
func (h *handler) serveEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := h.hub.attach()
	defer h.hub.detach(client)

	// Drain client frames so pings and close messages are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case evt := <-client.out:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
