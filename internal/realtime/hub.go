package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"sirenlink/internal/logger"
)

// Event names pushed to websocket subscribers.
const (
	EventState     = "device.state"
	EventLastWill  = "device.lwt"
	EventHeartbeat = "device.heartbeat"
	EventAck       = "device.ack"
	EventConnected = "connected"
	EventPong      = "pong"
)

const (
	broadcastBuffer = 256
	clientBuffer    = 64
)

// Envelope is the JSON frame written to every subscriber.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
	TS    time.Time   `json:"ts"`
}

// Broadcaster is what the telemetry path needs from the hub.
type Broadcaster interface {
	Publish(event string, data interface{})
}

// Hub fans events out to connected clients. Delivery is best-effort: there is
// no replay for late joiners and a client whose buffer is full is evicted.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex
	log     *logger.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan Envelope

	done     chan struct{}
	stopOnce sync.Once
}

// Client is one subscriber. The hub closes Messages() when the client is
// evicted, detached or the hub stops.
type Client struct {
	send chan []byte
}

var _ Broadcaster = (*Hub)(nil)

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		log:        logger.OrNop(log),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Envelope, broadcastBuffer),
		done:       make(chan struct{}),
	}
}

// Run is the hub event loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debugw("ws_client_connected", "total", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debugw("ws_client_disconnected", "total", total)

		case env := <-h.broadcast:
			data, err := json.Marshal(env)
			if err != nil {
				h.log.Errorw("ws_marshal_failed", "event", env.Event, "err", err)
				continue
			}
			h.mu.Lock()
			var slow []*Client
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					slow = append(slow, c)
				}
			}
			for _, c := range slow {
				delete(h.clients, c)
				close(c.send)
				h.log.Warnw("ws_client_evicted", "event", env.Event)
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the loop down. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Publish queues an event for every connected client without blocking.
func (h *Hub) Publish(event string, data interface{}) {
	env := Envelope{Event: event, Data: data, TS: time.Now().UTC()}
	select {
	case h.broadcast <- env:
	default:
		h.log.Warnw("ws_broadcast_full", "event", event)
	}
}

// Attach registers a new client. It returns false once the hub has stopped.
func (h *Hub) Attach() (*Client, bool) {
	c := &Client{send: make(chan []byte, clientBuffer)}
	select {
	case h.register <- c:
		return c, true
	case <-h.done:
		return nil, false
	}
}

// Detach removes c. Detaching twice, or after Stop, is a no-op.
func (h *Hub) Detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Count returns the number of attached clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Messages yields encoded envelopes for this client.
func (c *Client) Messages() <-chan []byte { return c.send }

// Direct encodes a single envelope for one client, used for the greeting and pong.
func Direct(event string, data interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Data: data, TS: time.Now().UTC()})
}
