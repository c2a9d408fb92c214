package repository

import (
	"context"
	"fmt"
	"time"

	"couple-sync-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, display_name, email, photo_url, partner_id, partner_code, push_token, created_at, updated_at`

// UserRepository handles database operations for users
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row pgx.Row) (*models.UserProfile, error) {
	var user models.UserProfile
	err := row.Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.PhotoURL,
		&user.PartnerID, &user.PartnerCode, &user.PushToken,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// CreateUser creates a new user
func (r *UserRepository) CreateUser(ctx context.Context, user *models.UserProfile) error {
	query := `
		INSERT INTO users (id, display_name, email, photo_url, push_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		user.ID, user.DisplayName, user.Email, user.PhotoURL, user.PushToken,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", translate(err))
	}
	return nil
}

// GetUser retrieves a user by ID
func (r *UserRepository) GetUser(ctx context.Context, id string) (*models.UserProfile, error) {
	return getUser(ctx, r.db, id, false)
}

func getUser(ctx context.Context, q querier, id string, forUpdate bool) (*models.UserProfile, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	user, err := scanUser(q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return user, nil
}

// UpdateProfile updates the editable profile fields. Nil arguments are left unchanged.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, displayName, photoURL *string, now time.Time) (*models.UserProfile, error) {
	query := `
		UPDATE users
		SET display_name = COALESCE($2, display_name),
		    photo_url = COALESCE($3, photo_url),
		    updated_at = $4
		WHERE id = $1
		RETURNING ` + userColumns
	user, err := scanUser(r.db.QueryRow(ctx, query, id, displayName, photoURL, now))
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return user, nil
}

// UpdatePushToken updates the push token for a user
func (r *UserRepository) UpdatePushToken(ctx context.Context, id string, pushToken *string) error {
	query := `UPDATE users SET push_token = $1 WHERE id = $2`
	result, err := r.db.Exec(ctx, query, pushToken, id)
	if err != nil {
		return fmt.Errorf("failed to update push token: %w", translate(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("failed to update push token: %w", ErrNotFound)
	}
	return nil
}
