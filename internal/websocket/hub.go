package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dailyspot/internal/domain"
)

// maxSnapshots bounds how many dates keep a replayable board.
const maxSnapshots = 7

// Message types
const (
	MessageTypeBoardUpdate = "daily_board_update"
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
	MessageTypeError       = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Date      string      `json:"date,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// BoardUpdate carries a day's leaderboard to subscribers
type BoardUpdate struct {
	Date    string                    `json:"date"`
	Entries []domain.LeaderboardEntry `json:"entries"`
}

// Hub maintains the set of active clients and broadcasts each day's board
// to the clients subscribed to that date
type Hub struct {
	// Registered clients by date
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Inbound messages from clients
	broadcast chan *Message

	// Subscription requests
	subscribe chan *subscriptionRequest

	// Unsubscription requests
	unsubscribe chan *subscriptionRequest

	// Last published board per date, replayed to new subscribers
	snapshots map[string][]byte

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Logger
	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	date   string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		snapshots:   make(map[string][]byte),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				// Remove from all date subscriptions
				for date, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, date)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			// A subscribe can arrive after the client's unregister, whose
			// send channel is already closed.
			if !h.allClients[req.client] {
				h.mu.Unlock()
				h.logger.Debug("dropping subscribe from departed client", "client_id", req.client.id)
				continue
			}
			if _, ok := h.clients[req.date]; !ok {
				h.clients[req.date] = make(map[*Client]bool)
			}
			h.clients[req.date][req.client] = true
			if snapshot, ok := h.snapshots[req.date]; ok {
				select {
				case req.client.send <- snapshot:
				default:
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "date", req.date)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.date]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.date)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "date", req.date)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to all subscribed clients
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	if message.Type == MessageTypeBoardUpdate {
		h.keepSnapshot(message.Date, data)
	}

	// Dated messages only go to that date's subscribers
	if message.Date != "" {
		if clients, ok := h.clients[message.Date]; ok {
			for client := range clients {
				select {
				case client.send <- data:
				default:
					// Client's buffer is full, skip
					h.logger.Warn("client buffer full, skipping", "client_id", client.id)
				}
			}
		}
	} else {
		// Broadcast to all clients
		for client := range h.allClients {
			select {
			case client.send <- data:
			default:
				h.logger.Warn("client buffer full, skipping", "client_id", client.id)
			}
		}
	}
}

// keepSnapshot stores the latest board for a date, evicting the oldest
// date once more than maxSnapshots are held. Date keys sort by day.
func (h *Hub) keepSnapshot(date string, data []byte) {
	h.snapshots[date] = data
	for len(h.snapshots) > maxSnapshots {
		oldest := ""
		for d := range h.snapshots {
			if oldest == "" || d < oldest {
				oldest = d
			}
		}
		delete(h.snapshots, oldest)
	}
}

// PublishDaily sends a day's board to the clients subscribed to that date
func (h *Hub) PublishDaily(date string, entries []domain.LeaderboardEntry) {
	message := &Message{
		Type: MessageTypeBoardUpdate,
		Date: date,
		Data: BoardUpdate{
			Date:    date,
			Entries: entries,
		},
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a date's board
func (h *Hub) Subscribe(client *Client, date string) {
	h.subscribe <- &subscriptionRequest{
		client: client,
		date:   date,
	}
}

// Unsubscribe removes a client from a date's board
func (h *Hub) Unsubscribe(client *Client, date string) {
	h.unsubscribe <- &subscriptionRequest{
		client: client,
		date:   date,
	}
}

// GetSubscriberCount returns the number of subscribers for a date
func (h *Hub) GetSubscriberCount(date string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.clients[date]; ok {
		return len(clients)
	}
	return 0
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}

