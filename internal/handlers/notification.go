package handlers

import (
	"net/http"

	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// NotificationHandler handles notification HTTP requests
type NotificationHandler struct {
	notificationService *services.NotificationService
	userService         *services.UserService
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(notificationService *services.NotificationService, userService *services.UserService) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
		userService:         userService,
	}
}

// ThinkingOfYouRequest is the body of POST /api/send-thinking-of-you
type ThinkingOfYouRequest struct {
	FromUserID   string `json:"fromUserId"`
	ToUserID     string `json:"toUserId"`
	FromUserName string `json:"fromUserName"`
}

// ThinkingOfYouResponse reports whether the notification was recorded
type ThinkingOfYouResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SendRequest is the body of POST /api/v1/notifications
type SendRequest struct {
	Message string `json:"message"`
}

// SendThinkingOfYou handles POST /api/send-thinking-of-you
func (h *NotificationHandler) SendThinkingOfYou(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req ThinkingOfYouRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FromUserID == "" || req.ToUserID == "" {
		respondJSON(w, http.StatusBadRequest, ThinkingOfYouResponse{Error: "fromUserId and toUserId are required"})
		return
	}
	if req.FromUserID != userID {
		respondJSON(w, http.StatusForbidden, ThinkingOfYouResponse{Error: "fromUserId does not match session"})
		return
	}

	if _, err := h.notificationService.SendThinkingOfYou(ctx, req.FromUserID, req.ToUserID, req.FromUserName); err != nil {
		status := statusFor(err)
		log.Warn().Err(err).Str("user_id", userID).Int("status", status).Msg("Failed to send thinking-of-you")
		respondJSON(w, status, ThinkingOfYouResponse{Error: errorMessage(err, status)})
		return
	}
	respondJSON(w, http.StatusOK, ThinkingOfYouResponse{Success: true})
}

// Send handles POST /api/v1/notifications, addressed to the caller's partner
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	profile, err := h.userService.GetProfile(ctx, userID)
	if err != nil {
		respondServiceError(w, err, userID, "Failed to get profile")
		return
	}
	if !profile.HasPartner() {
		respondServiceError(w, services.ErrNotPaired, userID, "Failed to send notification")
		return
	}

	n, err := h.notificationService.Send(ctx, userID, *profile.PartnerID, profile.DisplayName, req.Message)
	if err != nil {
		respondServiceError(w, err, userID, "Failed to send notification")
		return
	}
	respondJSON(w, http.StatusCreated, n)
}

// List handles GET /api/v1/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	list, err := h.notificationService.List(ctx, userID, r.URL.Query().Get("unread") == "true")
	if err != nil {
		respondServiceError(w, err, userID, "Failed to list notifications")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"notifications": list})
}

// MarkRead handles POST /api/v1/notifications/{notification_id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	if err := h.notificationService.MarkRead(ctx, userID, chi.URLParam(r, "notification_id")); err != nil {
		respondServiceError(w, err, userID, "Failed to mark notification read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
