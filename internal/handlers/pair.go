package handlers

import (
	"net/http"

	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// PairHandler handles invite and pairing HTTP requests
type PairHandler struct {
	pairService *services.PairService
}

// NewPairHandler creates a new pair handler
func NewPairHandler(pairService *services.PairService) *PairHandler {
	return &PairHandler{
		pairService: pairService,
	}
}

// RedeemRequest represents the request body for redeeming a code
type RedeemRequest struct {
	PartnerCode string `json:"partner_code"`
}

// CreateInvite handles POST /api/v1/pairing/invite
func (h *PairHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	conn, err := h.pairService.CreateInvite(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err, userID, "Failed to create invite")
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("connection_id", conn.ID).
		Msg("Invite created")

	respondJSON(w, http.StatusCreated, conn)
}

// RedeemInvite handles POST /api/v1/pairing/redeem
func (h *PairHandler) RedeemInvite(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req RedeemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PartnerCode == "" {
		respondError(w, "partner_code is required", http.StatusBadRequest)
		return
	}

	conn, err := h.pairService.RedeemInvite(r.Context(), userID, req.PartnerCode)
	if err != nil {
		respondServiceError(w, err, userID, "Failed to redeem invite")
		return
	}
	respondJSON(w, http.StatusOK, conn)
}

// CancelInvite handles DELETE /api/v1/pairing/invite/{connection_id}
func (h *PairHandler) CancelInvite(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	connectionID := chi.URLParam(r, "connection_id")

	if err := h.pairService.CancelInvite(r.Context(), userID, connectionID); err != nil {
		respondServiceError(w, err, userID, "Failed to cancel invite")
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("connection_id", connectionID).
		Msg("Invite cancelled")

	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /api/v1/pairing/status
func (h *PairHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	status, err := h.pairService.Status(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err, userID, "Failed to get pairing status")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// Unpair handles DELETE /api/v1/pairing
func (h *PairHandler) Unpair(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if err := h.pairService.Unpair(r.Context(), userID); err != nil {
		respondServiceError(w, err, userID, "Failed to unpair")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
