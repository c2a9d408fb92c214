package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"couple-sync-backend/internal/services"

	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondJSON sends v as a JSON body
func respondJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrCodeExpired):
		return http.StatusGone
	case errors.Is(err, services.ErrAlreadyConnected),
		errors.Is(err, services.ErrAlreadyPaired),
		errors.Is(err, services.ErrCodeCollision),
		errors.Is(err, services.ErrEmailTaken),
		errors.Is(err, services.ErrNotPaired):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidCode),
		errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrSelfPairing),
		errors.Is(err, services.ErrUnknownFeature):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrTransientIO):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorMessage hides internal failures from clients
func errorMessage(err error, status int) string {
	if status == http.StatusInternalServerError {
		return "Internal server error"
	}
	return err.Error()
}

// respondServiceError logs err and writes the mapped status
func respondServiceError(w http.ResponseWriter, err error, userID, msg string) {
	status := statusFor(err)
	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).Str("user_id", userID).Int("status", status).Msg(msg)
	respondError(w, errorMessage(err, status), status)
}

// decodeJSON reads a bounded JSON body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// queryInt parses an integer query parameter, falling back to def
func queryInt(r *http.Request, name string, def int) int {
	if s := r.URL.Query().Get(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return def
}
