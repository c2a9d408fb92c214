package repository

import (
	"context"
	"fmt"

	"couple-sync-backend/internal/couple"
	"couple-sync-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postColumns = `id, user_low, user_high, author_id, kind, media_key, media_url, caption,
	music_title, music_artist, music_url, created_at`

// FeedRepository handles database operations for the shared feed
type FeedRepository struct {
	db *pgxpool.Pool
}

// NewFeedRepository creates a new feed repository
func NewFeedRepository(db *pgxpool.Pool) *FeedRepository {
	return &FeedRepository{db: db}
}

func scanPost(row pgx.Row) (*models.FeedPost, error) {
	var (
		post                      models.FeedPost
		musicTitle, artist, mURL *string
	)
	err := row.Scan(
		&post.ID, &post.UserLow, &post.UserHigh, &post.AuthorID, &post.Kind,
		&post.MediaKey, &post.MediaURL, &post.Caption,
		&musicTitle, &artist, &mURL, &post.CreatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	if musicTitle != nil {
		post.Music = &models.Music{Title: *musicTitle}
		if artist != nil {
			post.Music.Artist = *artist
		}
		if mURL != nil {
			post.Music.URL = *mURL
		}
	}
	post.Reactions = []*models.Reaction{}
	post.Comments = []*models.Comment{}
	return &post, nil
}

// CreatePost creates a new feed post
func (r *FeedRepository) CreatePost(ctx context.Context, post *models.FeedPost) error {
	var musicTitle, artist, mURL *string
	if post.Music != nil {
		musicTitle, artist, mURL = &post.Music.Title, &post.Music.Artist, &post.Music.URL
	}
	query := `
		INSERT INTO feed_posts (` + postColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		post.ID, post.UserLow, post.UserHigh, post.AuthorID, post.Kind,
		post.MediaKey, post.MediaURL, post.Caption,
		musicTitle, artist, mURL, post.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", translate(err))
	}
	return nil
}

// GetPost retrieves a post with its reactions and comments
func (r *FeedRepository) GetPost(ctx context.Context, id string) (*models.FeedPost, error) {
	query := `SELECT ` + postColumns + ` FROM feed_posts WHERE id = $1`
	post, err := scanPost(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	if err := r.attach(ctx, []*models.FeedPost{post}); err != nil {
		return nil, err
	}
	return post, nil
}

// ListPosts retrieves a couple's posts, newest first, with pagination
func (r *FeedRepository) ListPosts(ctx context.Context, key couple.Key, limit, offset int) ([]*models.FeedPost, int, error) {
	countQuery := `SELECT COUNT(*) FROM feed_posts WHERE user_low = $1 AND user_high = $2`
	var total int
	if err := r.db.QueryRow(ctx, countQuery, key.Low, key.High).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count posts: %w", translate(err))
	}

	query := `
		SELECT ` + postColumns + `
		FROM feed_posts
		WHERE user_low = $1 AND user_high = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Query(ctx, query, key.Low, key.High, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get posts: %w", translate(err))
	}
	defer rows.Close()

	posts := []*models.FeedPost{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating posts: %w", translate(err))
	}

	if err := r.attach(ctx, posts); err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

// attach loads reactions and comments for the given posts
func (r *FeedRepository) attach(ctx context.Context, posts []*models.FeedPost) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]string, len(posts))
	byID := make(map[string]*models.FeedPost, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
		byID[p.ID] = p
	}

	rows, err := r.db.Query(ctx, `
		SELECT post_id, user_id, emoji, created_at
		FROM feed_reactions
		WHERE post_id = ANY($1)
		ORDER BY created_at
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to get reactions: %w", translate(err))
	}
	for rows.Next() {
		var re models.Reaction
		if err := rows.Scan(&re.PostID, &re.UserID, &re.Emoji, &re.CreatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan reaction: %w", err)
		}
		byID[re.PostID].Reactions = append(byID[re.PostID].Reactions, &re)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating reactions: %w", translate(err))
	}

	rows, err = r.db.Query(ctx, `
		SELECT id, post_id, user_id, body, created_at
		FROM feed_comments
		WHERE post_id = ANY($1)
		ORDER BY created_at
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to get comments: %w", translate(err))
	}
	defer rows.Close()
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.UserID, &c.Body, &c.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan comment: %w", err)
		}
		byID[c.PostID].Comments = append(byID[c.PostID].Comments, &c)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating comments: %w", translate(err))
	}
	return nil
}

// DeletePost deletes a post and, by cascade, its reactions and comments
func (r *FeedRepository) DeletePost(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM feed_posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", translate(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("failed to delete post: %w", ErrNotFound)
	}
	return nil
}

// UpsertReaction sets the user's reaction on a post
func (r *FeedRepository) UpsertReaction(ctx context.Context, reaction *models.Reaction) error {
	query := `
		INSERT INTO feed_reactions (post_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (post_id, user_id) DO UPDATE
		SET emoji = EXCLUDED.emoji, created_at = EXCLUDED.created_at
	`
	_, err := r.db.Exec(ctx, query, reaction.PostID, reaction.UserID, reaction.Emoji, reaction.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert reaction: %w", translate(err))
	}
	return nil
}

// DeleteReaction removes the user's reaction on a post
func (r *FeedRepository) DeleteReaction(ctx context.Context, postID, userID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM feed_reactions WHERE post_id = $1 AND user_id = $2`, postID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete reaction: %w", translate(err))
	}
	return nil
}

// CreateComment adds a comment to a post
func (r *FeedRepository) CreateComment(ctx context.Context, comment *models.Comment) error {
	query := `
		INSERT INTO feed_comments (id, post_id, user_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Exec(ctx, query, comment.ID, comment.PostID, comment.UserID, comment.Body, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", translate(err))
	}
	return nil
}
