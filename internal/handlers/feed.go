package handlers

import (
	"net/http"

	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// FeedHandler handles feed-related HTTP requests
type FeedHandler struct {
	feedService *services.FeedService
}

// NewFeedHandler creates a new feed handler
func NewFeedHandler(feedService *services.FeedService) *FeedHandler {
	return &FeedHandler{
		feedService: feedService,
	}
}

// ReactionRequest sets or clears the caller's reaction
type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

// CommentRequest adds a comment
type CommentRequest struct {
	Body string `json:"body"`
}

// GetPosts handles GET /api/v1/feed
func (h *FeedHandler) GetPosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	posts, total, err := h.feedService.ListPosts(ctx, userID, limit, offset)
	if err != nil {
		respondServiceError(w, err, userID, "Failed to get posts")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"posts": posts,
		"total": total,
	})
}

// UploadURL handles POST /api/v1/feed/upload-url
func (h *FeedHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req services.UploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	response, err := h.feedService.CreateUploadURL(ctx, userID, req.ContentType)
	if err != nil {
		respondServiceError(w, err, userID, "Failed to generate pre-signed URL")
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("media_key", response.MediaKey).
		Msg("Pre-signed URL generated")

	respondJSON(w, http.StatusOK, response)
}

// CreatePost handles POST /api/v1/feed
func (h *FeedHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req services.CreatePostRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	post, err := h.feedService.CreatePost(ctx, userID, req)
	if err != nil {
		respondServiceError(w, err, userID, "Failed to create post")
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("post_id", post.ID).
		Str("kind", string(post.Kind)).
		Msg("Post created")

	respondJSON(w, http.StatusCreated, post)
}

// DeletePost handles DELETE /api/v1/feed/{post_id}
func (h *FeedHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	if err := h.feedService.DeletePost(ctx, userID, chi.URLParam(r, "post_id")); err != nil {
		respondServiceError(w, err, userID, "Failed to delete post")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// React handles PUT /api/v1/feed/{post_id}/reaction
func (h *FeedHandler) React(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req ReactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.feedService.React(ctx, userID, chi.URLParam(r, "post_id"), req.Emoji); err != nil {
		respondServiceError(w, err, userID, "Failed to react")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Comment handles POST /api/v1/feed/{post_id}/comments
func (h *FeedHandler) Comment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req CommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	comment, err := h.feedService.Comment(ctx, userID, chi.URLParam(r, "post_id"), req.Body)
	if err != nil {
		respondServiceError(w, err, userID, "Failed to comment")
		return
	}
	respondJSON(w, http.StatusCreated, comment)
}
