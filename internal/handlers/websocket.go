package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // native clients send no Origin
	},
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub         *services.WSHub
	userService *services.UserService
	records     *services.RecordService
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	hub *services.WSHub,
	userService *services.UserService,
	records *services.RecordService,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         hub,
		userService: userService,
		records:     records,
	}
}

// wsSession tracks one connection's live record subscriptions
type wsSession struct {
	userID string
	client *services.WSClient

	mu   sync.Mutex
	subs map[string]func()
}

func (s *wsSession) replace(feature string, cancel func()) {
	s.mu.Lock()
	prev := s.subs[feature]
	s.subs[feature] = cancel
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (s *wsSession) drop(feature string) bool {
	s.mu.Lock()
	cancel, ok := s.subs[feature]
	delete(s.subs, feature)
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *wsSession) dropAll() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]func())
	s.mu.Unlock()
	for _, cancel := range subs {
		cancel()
	}
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		respondError(w, "token required", http.StatusUnauthorized)
		return
	}

	session, err := h.userService.ValidateToken(r.Context(), token)
	if err != nil {
		status := statusFor(err)
		respondError(w, errorMessage(err, status), status)
		return
	}
	userID := session.UserID

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	client := h.hub.Register(userID, conn)
	ws := &wsSession{userID: userID, client: client, subs: make(map[string]func())}
	defer func() {
		ws.dropAll()
		cancel()
		h.hub.Unregister(client)
		h.announce(userID, false)
	}()

	h.sendPairStatus(ctx, client, userID)
	h.announce(userID, true)

	log.Info().Str("user_id", userID).Msg("WebSocket connection established")

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			return
		}

		var msg services.WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to parse WebSocket message")
			h.sendError(client, "", "Invalid message format")
			continue
		}

		if err := h.handleMessage(ctx, ws, msg); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Str("type", msg.Type).Msg("Failed to handle message")
			h.sendError(client, msg.RequestID, errorMessage(err, statusFor(err)))
		}
	}
}

// handleMessage processes incoming WebSocket messages
func (h *WebSocketHandler) handleMessage(ctx context.Context, ws *wsSession, msg services.WSMessage) error {
	switch msg.Type {
	case "subscribe":
		return h.handleSubscribe(ctx, ws, msg)
	case "unsubscribe":
		ws.drop(msg.Feature)
		return ws.client.Send(services.WSMessage{Type: "unsubscribed", RequestID: msg.RequestID, Feature: msg.Feature})
	case "ping":
		return ws.client.Send(services.WSMessage{Type: "pong", RequestID: msg.RequestID})
	default:
		return errors.New("unknown message type")
	}
}

// handleSubscribe starts streaming one feature record to the connection.
// The partner defaults to the caller's current partner.
func (h *WebSocketHandler) handleSubscribe(ctx context.Context, ws *wsSession, msg services.WSMessage) error {
	partnerID := msg.PartnerID
	if partnerID == "" {
		var err error
		if partnerID, err = partnerOf(ctx, h.userService, ws.userID); err != nil {
			return err
		}
	}

	feature := msg.Feature
	client := ws.client
	cancel, err := h.records.Subscribe(ctx, ws.userID, feature, ws.userID, partnerID, func(rec *models.CoupleRecord) {
		err := client.Send(services.WSMessage{Type: "record", Feature: feature, Record: rec})
		if err != nil {
			log.Warn().Err(err).Str("user_id", ws.userID).Str("feature", feature).Msg("Failed to push record")
		}
	})
	if err != nil {
		return err
	}
	ws.replace(feature, cancel)

	log.Debug().Str("user_id", ws.userID).Str("feature", feature).Msg("Record subscription started")
	return client.Send(services.WSMessage{Type: "subscribed", RequestID: msg.RequestID, Feature: feature})
}

// sendPairStatus tells a fresh connection whether the user is paired
func (h *WebSocketHandler) sendPairStatus(ctx context.Context, client *services.WSClient, userID string) {
	data := map[string]interface{}{"has_pair": false}
	if partnerID, err := partnerOf(ctx, h.userService, userID); err == nil {
		data["has_pair"] = true
		data["partner_id"] = partnerID
		data["partner_online"] = h.hub.IsOnline(partnerID)
	}
	if err := client.Send(services.WSMessage{Type: "pair_status", Data: data}); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to send pair_status message")
	}
}

// announce tells the partner that userID came online or went offline
func (h *WebSocketHandler) announce(userID string, online bool) {
	// The request context may already be gone on disconnect.
	partnerID, err := partnerOf(context.Background(), h.userService, userID)
	if err != nil {
		return
	}
	h.hub.NotifyPartnerStatus(userID, partnerID, online)
}

// sendError sends an error message to the WebSocket connection
func (h *WebSocketHandler) sendError(client *services.WSClient, requestID, message string) {
	msg := services.WSMessage{
		Type:      "error",
		RequestID: requestID,
		Message:   message,
	}
	if err := client.Send(msg); err != nil {
		log.Warn().Err(err).Str("user_id", client.UserID).Msg("Failed to send error message")
	}
}
