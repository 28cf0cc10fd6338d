package game

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crashpit/internal/metrics"
)

const (
	clientQueueSize = 64
	writeDeadline   = 10 * time.Second
	lossyQueueSize  = 256
)

// Client is one websocket subscriber. Writes go through a buffered queue
// drained by a dedicated pump so no broadcast path ever blocks on a
// socket.
type Client struct {
	conn     *websocket.Conn
	username string
	send     chan []byte
	closed   sync.Once
	done     chan struct{}
}

func (c *Client) close() {
	c.closed.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		}
	}
}

// Send queues a message for one client (acks, join snapshots).
func (c *Client) Send(message any) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}

// Hub fans events out to all subscribers. Multiplier ticks take the
// lossy path: a dropped tick is superseded by the next one. Phase and
// crash events take the reliable path: they reach every currently
// connected client, and a client whose queue is full is disconnected
// rather than left with a gap in its phase sequence.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	log        *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, lossyQueueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.ConnectedClients.Set(float64(total))
			h.log.Info("client connected",
				zap.String("username", client.username), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.ConnectedClients.Set(float64(total))
			h.log.Info("client disconnected",
				zap.String("username", client.username), zap.Int("total", total))

		case data := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Lossy path: slow consumer misses this frame.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues a lossy event (ticks, leaderboard refreshes).
func (h *Hub) Broadcast(message any) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("broadcast marshal failed", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastReliable delivers a phase-bearing event to every currently
// connected client. A client that cannot keep up is dropped so it never
// observes a broken phase sequence.
func (h *Hub) BroadcastReliable(message any) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("broadcast marshal failed", zap.Error(err))
		return
	}

	var stale []*Client
	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			stale = append(stale, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stale {
		h.Unregister(client)
	}
}

// BetAccepted implements ledger.Notifier.
func (h *Hub) BetAccepted(username string, amount decimal.Decimal) {
	h.Broadcast(Message{Type: MsgBetAccepted, Data: BetAcceptedPayload{
		Username: username,
		Amount:   amount,
	}})
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RegisterClient attaches a connection and starts its write pump.
func (h *Hub) RegisterClient(conn *websocket.Conn, username string) *Client {
	client := &Client{
		conn:     conn,
		username: username,
		send:     make(chan []byte, clientQueueSize),
		done:     make(chan struct{}),
	}
	go client.writePump()
	h.register <- client
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}
