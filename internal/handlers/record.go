package handlers

import (
	"context"
	"net/http"

	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
)

// RecordHandler serves couple-scoped feature records
type RecordHandler struct {
	records     *services.RecordService
	userService *services.UserService
}

// NewRecordHandler creates a new record handler
func NewRecordHandler(records *services.RecordService, userService *services.UserService) *RecordHandler {
	return &RecordHandler{records: records, userService: userService}
}

// partnerOf returns the caller's current partner id
func partnerOf(ctx context.Context, users *services.UserService, userID string) (string, error) {
	profile, err := users.GetProfile(ctx, userID)
	if err != nil {
		return "", err
	}
	if !profile.HasPartner() {
		return "", services.ErrNotPaired
	}
	return *profile.PartnerID, nil
}

// Get handles GET /api/v1/couple/{feature}
func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	feature := chi.URLParam(r, "feature")

	partnerID, err := partnerOf(ctx, h.userService, userID)
	if err != nil {
		respondServiceError(w, err, userID, "Failed to resolve partner")
		return
	}

	rec, err := h.records.Get(ctx, userID, feature, userID, partnerID)
	if err != nil {
		respondServiceError(w, err, userID, "Failed to get record")
		return
	}
	if rec == nil {
		respondError(w, "no record for "+feature, http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// Put handles PUT /api/v1/couple/{feature}. The body is the full payload.
func (h *RecordHandler) Put(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	feature := chi.URLParam(r, "feature")

	var payload map[string]any
	if !decodeJSON(w, r, &payload) {
		return
	}

	partnerID, err := partnerOf(ctx, h.userService, userID)
	if err != nil {
		respondServiceError(w, err, userID, "Failed to resolve partner")
		return
	}

	rec, err := h.records.Set(ctx, userID, feature, userID, partnerID, payload)
	if err != nil {
		respondServiceError(w, err, userID, "Failed to set record")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// Delete handles DELETE /api/v1/couple/{feature}
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	feature := chi.URLParam(r, "feature")

	partnerID, err := partnerOf(ctx, h.userService, userID)
	if err != nil {
		respondServiceError(w, err, userID, "Failed to resolve partner")
		return
	}

	if err := h.records.Delete(ctx, userID, feature, userID, partnerID); err != nil {
		respondServiceError(w, err, userID, "Failed to delete record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
