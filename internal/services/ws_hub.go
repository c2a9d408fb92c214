package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const wsWriteTimeout = 10 * time.Second

// ErrOffline is returned when a message targets a user without a live connection
var ErrOffline = errors.New("user is not connected")

// WSMessage represents a WebSocket message in either direction
type WSMessage struct {
	Type      string               `json:"type"`
	RequestID string               `json:"request_id,omitempty"`
	Feature   string               `json:"feature,omitempty"`
	PartnerID string               `json:"partner_id,omitempty"`
	Record    *models.CoupleRecord `json:"record,omitempty"`
	Online    *bool                `json:"online,omitempty"`
	Message   string               `json:"message,omitempty"`
	Data      interface{}          `json:"data,omitempty"`
}

// WSClient is one registered connection. Writes are serialized because
// gorilla/websocket allows a single concurrent writer.
type WSClient struct {
	UserID string

	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Send writes message to the connection
func (c *WSClient) Send(message WSMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// WSHub manages WebSocket connections, one per user
type WSHub struct {
	mu      sync.RWMutex
	clients map[string]*WSClient
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[string]*WSClient)}
}

// Register registers a new WebSocket connection for a user, replacing
// any previous one
func (h *WSHub) Register(userID string, conn *websocket.Conn) *WSClient {
	client := &WSClient{UserID: userID, conn: conn}

	h.mu.Lock()
	existing, exists := h.clients[userID]
	h.clients[userID] = client
	h.mu.Unlock()

	if exists {
		existing.conn.Close()
	} else {
		metrics.WebSocketConnections.Inc()
	}

	log.Info().Str("user_id", userID).Msg("WebSocket connection registered")
	return client
}

// Unregister removes client if it is still the user's current connection
func (h *WSHub) Unregister(client *WSClient) {
	h.mu.Lock()
	current, exists := h.clients[client.UserID]
	removed := exists && current == client
	if removed {
		delete(h.clients, client.UserID)
	}
	h.mu.Unlock()

	client.conn.Close()
	if removed {
		metrics.WebSocketConnections.Dec()
		log.Info().Str("user_id", client.UserID).Msg("WebSocket connection unregistered")
	}
}

// SendToUser sends a message to a specific user
func (h *WSHub) SendToUser(userID string, message WSMessage) error {
	h.mu.RLock()
	client, exists := h.clients[userID]
	h.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrOffline, userID)
	}
	if err := client.Send(message); err != nil {
		h.Unregister(client)
		return err
	}
	return nil
}

// IsOnline checks if a user is online
func (h *WSHub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.clients[userID]
	return exists
}

// Close drops every connection
func (h *WSHub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*WSClient)
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
		metrics.WebSocketConnections.Dec()
	}
}

// notify delivers best-effort; offline users simply miss live events
func (h *WSHub) notify(userID string, message WSMessage) {
	err := h.SendToUser(userID, message)
	switch {
	case err == nil:
	case errors.Is(err, ErrOffline):
		log.Debug().Str("user_id", userID).Str("type", message.Type).Msg("Skipping event for offline user")
	default:
		log.Error().Err(err).Str("user_id", userID).Str("type", message.Type).Msg("Failed to send event")
	}
}

// NotifyPartnerStatus notifies partner about online/offline status
func (h *WSHub) NotifyPartnerStatus(userID, partnerID string, online bool) {
	if partnerID == "" {
		return
	}
	h.notify(partnerID, WSMessage{
		Type:      "partner_status",
		PartnerID: userID,
		Online:    &online,
	})
}

// NotifyPairCreated tells userID that an invite was redeemed
func (h *WSHub) NotifyPairCreated(userID string, conn *models.PartnerConnection) {
	h.notify(userID, WSMessage{Type: "pair_created", Data: conn})
}

// NotifyPairDeleted tells userID the couple was unlinked
func (h *WSHub) NotifyPairDeleted(userID string) {
	h.notify(userID, WSMessage{Type: "pair_deleted"})
}

// NotifyFeedPost tells userID about a new post in the shared feed
func (h *WSHub) NotifyFeedPost(userID string, post *models.FeedPost) {
	h.notify(userID, WSMessage{Type: "feed_post", Data: post})
}

// NotifyNotification forwards a notification to an online recipient
func (h *WSHub) NotifyNotification(userID string, n *models.Notification) {
	h.notify(userID, WSMessage{Type: "notification", Data: n})
}
