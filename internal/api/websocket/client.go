package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is one WebSocket connection. Room subscriptions narrow which
// auction events it receives; with no subscriptions it receives all.
type Client struct {
	ID     uuid.UUID
	conn   *websocket.Conn
	send   chan *AuctionEvent
	hub    *Hub
	userID uuid.UUID

	roomsLock sync.RWMutex
	rooms     map[string]struct{}
}

// NewClient creates a WebSocket client for the given connection
func NewClient(conn *websocket.Conn, hub *Hub, userID uuid.UUID) *Client {
	return &Client{
		ID:     uuid.New(),
		conn:   conn,
		send:   make(chan *AuctionEvent, 16),
		hub:    hub,
		userID: userID,
		rooms:  make(map[string]struct{}),
	}
}

// ReadPump pumps messages from the connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket read error",
					zap.String("client_id", c.ID.String()),
					zap.Error(err))
			}
			break
		}

		var msg struct {
			Type      string `json:"type"`
			AuctionID string `json:"auction_id"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("failed to parse client message",
				zap.String("client_id", c.ID.String()),
				zap.Error(err))
			continue
		}

		switch msg.Type {
		case "subscribe":
			c.subscribe(msg.AuctionID)
		case "unsubscribe":
			c.unsubscribe(msg.AuctionID)
		case "ping":
			pong := &AuctionEvent{
				ID:        uuid.New().String(),
				Type:      "pong",
				Timestamp: time.Now().UTC(),
			}
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}

// WritePump pumps events from the hub to the connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) subscribe(auctionID string) {
	if _, err := uuid.Parse(auctionID); err != nil {
		return
	}
	c.roomsLock.Lock()
	c.rooms[auctionID] = struct{}{}
	c.roomsLock.Unlock()

	c.hub.logger.Debug("client subscribed",
		zap.String("client_id", c.ID.String()),
		zap.String("auction_id", auctionID))
}

func (c *Client) unsubscribe(auctionID string) {
	c.roomsLock.Lock()
	delete(c.rooms, auctionID)
	c.roomsLock.Unlock()
}

func (c *Client) shouldReceiveEvent(event *AuctionEvent) bool {
	// Events without an auction reach everyone
	if event.AuctionID == "" {
		return true
	}

	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	// No subscriptions means the firehose
	if len(c.rooms) == 0 {
		return true
	}
	_, ok := c.rooms[event.AuctionID]
	return ok
}
