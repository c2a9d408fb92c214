package handlers

import (
	"net/http"

	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// UserHandler handles user-related HTTP requests
type UserHandler struct {
	userService *services.UserService
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// CreateUserResponse is returned on sign-up
type CreateUserResponse struct {
	User  *models.UserProfile `json:"user"`
	Token string              `json:"token"`
}

// PushTokenRequest carries a device push token
type PushTokenRequest struct {
	PushToken string `json:"push_token"`
}

// CreateUser handles POST /api/v1/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req services.CreateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, token, err := h.userService.CreateUser(r.Context(), req)
	if err != nil {
		respondServiceError(w, err, "", "Failed to create user")
		return
	}

	log.Info().Str("user_id", user.ID).Msg("User created")
	respondJSON(w, http.StatusCreated, CreateUserResponse{User: user, Token: token})
}

// GetMe handles GET /api/v1/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	user, err := h.userService.GetProfile(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err, userID, "Failed to get profile")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// UpdateMe handles PATCH /api/v1/users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req services.UpdateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.userService.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		respondServiceError(w, err, userID, "Failed to update profile")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// RegisterPushToken handles PUT /api/v1/users/me/push-token
func (h *UserHandler) RegisterPushToken(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req PushTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.userService.RegisterPushToken(r.Context(), userID, req.PushToken); err != nil {
		respondServiceError(w, err, userID, "Failed to register push token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SignOut handles POST /api/v1/auth/sign-out
func (h *UserHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		respondError(w, "Not signed in", http.StatusUnauthorized)
		return
	}

	if err := h.userService.SignOut(r.Context(), session); err != nil {
		respondServiceError(w, err, session.UserID, "Failed to sign out")
		return
	}

	log.Info().Str("user_id", session.UserID).Msg("Signed out")
	w.WriteHeader(http.StatusNoContent)
}
