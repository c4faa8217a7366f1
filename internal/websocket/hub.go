package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/family-history/internal/domain"
)

// Message types
const (
	MessageTypeSnapshotImported = "snapshot_imported"
	MessageTypeNicknameUpdated  = "nickname_updated"
	MessageTypeSubscribe        = "subscribe"
	MessageTypeUnsubscribe      = "unsubscribe"
	MessageTypeSubscribed       = "subscribed"
	MessageTypeUnsubscribed     = "unsubscribed"
	MessageTypePing             = "ping"
	MessageTypePong             = "pong"
	MessageTypeError            = "error"
)

// Message is the envelope of every frame sent to clients
type Message struct {
	Type      string    `json:"type"`
	Family    string    `json:"family,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub tracks connected clients and the families they follow. All
// subscription changes go through the Run loop.
type Hub struct {
	families   map[string]map[*Client]bool
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	family string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		families:    make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("websocket hub stopping")
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
				for family, clients := range h.families {
					delete(clients, client)
					if len(clients) == 0 {
						delete(h.families, family)
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.allClients[req.client]; ok {
				if _, ok := h.families[req.family]; !ok {
					h.families[req.family] = make(map[*Client]bool)
				}
				h.families[req.family][req.client] = true
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "family", req.family)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.families[req.family]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.families, req.family)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "family", req.family)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// deliver sends a message to the subscribers of its family, or to every
// client when it has none
func (h *Hub) deliver(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	targets := h.allClients
	if message.Family != "" {
		targets = h.families[message.Family]
	}
	for client := range targets {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) publish(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type)
	}
}

// BroadcastSnapshotImported tells a family's subscribers that a new snapshot
// is available
func (h *Hub) BroadcastSnapshotImported(result domain.ImportResult) {
	h.publish(&Message{
		Type:      MessageTypeSnapshotImported,
		Family:    result.Family,
		Data:      result,
		Timestamp: time.Now(),
	})
}

// BroadcastNicknameUpdated tells a family's subscribers that a member was renamed
func (h *Hub) BroadcastNicknameUpdated(member domain.Member) {
	h.publish(&Message{
		Type:      MessageTypeNicknameUpdated,
		Family:    member.Family,
		Data:      member,
		Timestamp: time.Now(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a family's subscribers
func (h *Hub) Subscribe(client *Client, family string) {
	h.subscribe <- &subscriptionRequest{client: client, family: family}
}

// Unsubscribe removes a client from a family's subscribers
func (h *Hub) Unsubscribe(client *Client, family string) {
	h.unsubscribe <- &subscriptionRequest{client: client, family: family}
}

// SubscriberCount returns the number of clients following a family
func (h *Hub) SubscriberCount(family string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.families[family])
}

// TotalConnections returns the number of connected clients
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
