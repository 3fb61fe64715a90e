package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gaveldrop/auction-backend/internal/metrics"
)

// EventType identifies a real-time auction event
type EventType string

const (
	EventNewBid           EventType = "newBid"
	EventOutbid           EventType = "outbid"
	EventAuctionStarted   EventType = "auctionStarted"
	EventAuctionEnded     EventType = "auctionEnded"
	EventAuctionCompleted EventType = "auctionCompleted"
	EventCounterOffer     EventType = "counterOffer"
)

// AuctionEvent is the wire format for real-time auction updates
type AuctionEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	AuctionID string         `json:"auction_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewAuctionEvent builds an event with a fresh id and timestamp
func NewAuctionEvent(eventType EventType, auctionID uuid.UUID, data map[string]any) *AuctionEvent {
	return &AuctionEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		AuctionID: auctionID.String(),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Hub manages WebSocket connections and fans auction events out to them.
// Clients may subscribe to specific auction rooms; an unsubscribed client
// receives everything.
type Hub struct {
	logger      *zap.Logger
	clients     map[uuid.UUID]*Client
	clientsLock sync.RWMutex
	broadcast   chan *AuctionEvent
	register    chan *Client
	unregister  chan *Client
	stopOnce    sync.Once
	done        chan struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[uuid.UUID]*Client),
		broadcast:  make(chan *AuctionEvent, 100),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the event loop
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			// Mark the hub stopped so register/unregister callers are
			// released; the loop no longer receives for them
			h.Stop()
			return
		case <-h.done:
			return
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case event := <-h.broadcast:
			h.broadcastEvent(event)
		case <-ticker.C:
			h.pingClients()
		}
	}
}

// Stop gracefully shuts down the hub
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast enqueues an event for delivery. A full queue drops the event
// rather than blocking the caller.
func (h *Hub) Broadcast(event *AuctionEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("event broadcast queue full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("auction_id", event.AuctionID))
	}
}

// Emit adapts Broadcast to the notification fan-out contract
func (h *Hub) Emit(eventType string, auctionID uuid.UUID, data map[string]any) {
	h.Broadcast(NewAuctionEvent(EventType(eventType), auctionID, data))
}

// RegisterClient registers a new WebSocket client. A stopped hub drops the
// registration instead of blocking the caller.
func (h *Hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// UnregisterClient unregisters a WebSocket client. Safe to call after the
// hub has stopped; connection pumps unregister on their way out.
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	h.clients[client.ID] = client
	metrics.WebsocketConnected()
	h.logger.Info("websocket client registered",
		zap.String("client_id", client.ID.String()),
		zap.String("user_id", client.userID.String()))

	welcome := &AuctionEvent{
		ID:        uuid.New().String(),
		Type:      "connection.established",
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"client_id": client.ID.String(),
		},
	}
	select {
	case client.send <- welcome:
	default:
	}
}

func (h *Hub) unregisterClient(client *Client) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	if _, exists := h.clients[client.ID]; exists {
		delete(h.clients, client.ID)
		close(client.send)
		metrics.WebsocketDisconnected()
		h.logger.Info("websocket client unregistered",
			zap.String("client_id", client.ID.String()))
	}
}

func (h *Hub) broadcastEvent(event *AuctionEvent) {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()

	delivered := false
	for _, client := range h.clients {
		if !client.shouldReceiveEvent(event) {
			continue
		}
		select {
		case client.send <- event:
			delivered = true
		default:
			h.logger.Warn("client send channel full, closing connection",
				zap.String("client_id", client.ID.String()))
			go h.UnregisterClient(client)
		}
	}
	if delivered {
		metrics.WebsocketEventSent(string(event.Type))
	}
}

func (h *Hub) pingClients() {
	h.clientsLock.RLock()
	defer h.clientsLock.RUnlock()

	for _, client := range h.clients {
		if err := client.conn.WriteControl(
			websocket.PingMessage,
			nil,
			time.Now().Add(10*time.Second),
		); err != nil {
			h.logger.Error("failed to ping client",
				zap.String("client_id", client.ID.String()),
				zap.Error(err))
			go h.UnregisterClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	for _, client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
	h.clients = make(map[uuid.UUID]*Client)
}
