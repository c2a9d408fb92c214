package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"couple-sync-backend/internal/couple"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"

	"github.com/google/uuid"
)

const (
	uploadURLTTL   = 5 * time.Minute
	maxCaptionLen  = 2000
	maxCommentLen  = 1000
	maxEmojiLen    = 16
	defaultPerPage = 50
	maxPerPage     = 100
)

var mediaExtensions = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/heic":      "heic",
	"video/mp4":       "mp4",
	"video/quicktime": "mov",
}

// FeedStore is the persistence FeedService needs
type FeedStore interface {
	repository.UserStore
	repository.FeedStore
}

// FeedEvents is told about new posts so the partner can be notified live
type FeedEvents interface {
	NotifyFeedPost(userID string, post *models.FeedPost)
}

// FeedService manages the couple's shared activity log
type FeedService struct {
	store  FeedStore
	media  MediaStorage
	events FeedEvents
	now    func() time.Time
}

// NewFeedService creates a new feed service
func NewFeedService(store FeedStore, media MediaStorage, events FeedEvents) *FeedService {
	return &FeedService{store: store, media: media, events: events, now: time.Now}
}

// UploadRequest represents a request for a media upload URL
type UploadRequest struct {
	ContentType string `json:"content_type"`
}

// UploadResponse carries the pre-signed URL and the key to reference in CreatePost
type UploadResponse struct {
	UploadURL string `json:"upload_url"`
	MediaKey  string `json:"media_key"`
	ExpiresIn int    `json:"expires_in"`
}

// CreatePostRequest represents a new feed entry
type CreatePostRequest struct {
	Kind     models.PostKind `json:"kind"`
	MediaKey string          `json:"media_key,omitempty"`
	Caption  string          `json:"caption"`
	Music    *models.Music   `json:"music,omitempty"`
}

// CreateUploadURL issues a pre-signed upload URL under the couple's prefix
func (s *FeedService) CreateUploadURL(ctx context.Context, actor, contentType string) (*UploadResponse, error) {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	ext, ok := mediaExtensions[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrInvalidInput, contentType)
	}
	key, err := coupleOf(ctx, s.store, actor, "")
	if err != nil {
		return nil, err
	}

	mediaKey := fmt.Sprintf("%s/%s.%s", key.Hash(), uuid.NewString(), ext)
	uploadURL, err := s.media.PresignUpload(ctx, mediaKey, contentType, uploadURLTTL)
	if err != nil {
		return nil, err
	}

	return &UploadResponse{
		UploadURL: uploadURL,
		MediaKey:  mediaKey,
		ExpiresIn: int(uploadURLTTL.Seconds()),
	}, nil
}

// CreatePost appends a post to the couple's feed
func (s *FeedService) CreatePost(ctx context.Context, actor string, req CreatePostRequest) (*models.FeedPost, error) {
	key, err := coupleOf(ctx, s.store, actor, "")
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(req.Caption) > maxCaptionLen {
		return nil, fmt.Errorf("%w: caption too long", ErrInvalidInput)
	}

	post := &models.FeedPost{
		ID:        uuid.NewString(),
		UserLow:   key.Low,
		UserHigh:  key.High,
		AuthorID:  actor,
		Kind:      req.Kind,
		Caption:   strings.TrimSpace(req.Caption),
		Reactions: []*models.Reaction{},
		Comments:  []*models.Comment{},
		CreatedAt: s.now(),
	}

	switch req.Kind {
	case models.PostPhoto, models.PostVideo:
		// Media must live under this couple's prefix.
		if req.MediaKey == "" || !strings.HasPrefix(req.MediaKey, key.Hash()+"/") {
			return nil, fmt.Errorf("%w: media_key from an upload URL is required", ErrInvalidInput)
		}
		mediaURL := s.media.ObjectURL(req.MediaKey)
		post.MediaKey = &req.MediaKey
		post.MediaURL = &mediaURL
	case models.PostMusic:
		if req.Music == nil || strings.TrimSpace(req.Music.Title) == "" {
			return nil, fmt.Errorf("%w: music title is required", ErrInvalidInput)
		}
		post.Music = req.Music
	case models.PostText:
		if post.Caption == "" {
			return nil, fmt.Errorf("%w: caption is required", ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("%w: unknown post kind %q", ErrInvalidInput, req.Kind)
	}

	if err := s.store.CreatePost(ctx, post); err != nil {
		return nil, storeErr("failed to create post", err)
	}

	s.events.NotifyFeedPost(key.Other(actor), post)
	return post, nil
}

// ListPosts returns the couple's feed, newest first
func (s *FeedService) ListPosts(ctx context.Context, actor string, limit, offset int) ([]*models.FeedPost, int, error) {
	key, err := coupleOf(ctx, s.store, actor, "")
	if err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = defaultPerPage
	}
	if limit > maxPerPage {
		limit = maxPerPage
	}
	if offset < 0 {
		offset = 0
	}

	posts, total, err := s.store.ListPosts(ctx, key, limit, offset)
	if err != nil {
		return nil, 0, storeErr("failed to list posts", err)
	}
	return posts, total, nil
}

// postInCouple loads a post and checks it belongs to actor's couple
func (s *FeedService) postInCouple(ctx context.Context, actor, postID string) (*models.FeedPost, couple.Key, error) {
	key, err := coupleOf(ctx, s.store, actor, "")
	if err != nil {
		return nil, couple.Key{}, err
	}
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return nil, couple.Key{}, storeErr("failed to get post", err)
	}
	if post.UserLow != key.Low || post.UserHigh != key.High {
		// Other couples' posts are reported as absent.
		return nil, couple.Key{}, fmt.Errorf("failed to get post: %w", ErrNotFound)
	}
	return post, key, nil
}

// React sets the actor's reaction on a post; an empty emoji removes it
func (s *FeedService) React(ctx context.Context, actor, postID, emoji string) error {
	if _, _, err := s.postInCouple(ctx, actor, postID); err != nil {
		return err
	}
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return storeErr("failed to remove reaction", s.store.DeleteReaction(ctx, postID, actor))
	}
	if len(emoji) > maxEmojiLen {
		return fmt.Errorf("%w: emoji too long", ErrInvalidInput)
	}
	err := s.store.UpsertReaction(ctx, &models.Reaction{
		PostID:    postID,
		UserID:    actor,
		Emoji:     emoji,
		CreatedAt: s.now(),
	})
	return storeErr("failed to react", err)
}

// Comment adds a comment to a post
func (s *FeedService) Comment(ctx context.Context, actor, postID, body string) (*models.Comment, error) {
	if _, _, err := s.postInCouple(ctx, actor, postID); err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" || utf8.RuneCountInString(body) > maxCommentLen {
		return nil, fmt.Errorf("%w: comment must be 1-%d characters", ErrInvalidInput, maxCommentLen)
	}

	comment := &models.Comment{
		ID:        uuid.NewString(),
		PostID:    postID,
		UserID:    actor,
		Body:      body,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateComment(ctx, comment); err != nil {
		return nil, storeErr("failed to comment", err)
	}
	return comment, nil
}

// DeletePost removes a post; only its author may do so
func (s *FeedService) DeletePost(ctx context.Context, actor, postID string) error {
	post, _, err := s.postInCouple(ctx, actor, postID)
	if err != nil {
		return err
	}
	if post.AuthorID != actor {
		return ErrUnauthorized
	}
	if err := s.store.DeletePost(ctx, postID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return storeErr("failed to delete post", err)
	}
	return nil
}
