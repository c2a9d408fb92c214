package repository

import (
	"context"
	"time"

	"couple-sync-backend/internal/couple"
	"couple-sync-backend/internal/models"
)

// UserStore persists user profiles
type UserStore interface {
	CreateUser(ctx context.Context, user *models.UserProfile) error
	GetUser(ctx context.Context, id string) (*models.UserProfile, error)
	UpdateProfile(ctx context.Context, id string, displayName, photoURL *string, now time.Time) (*models.UserProfile, error)
	UpdatePushToken(ctx context.Context, id string, pushToken *string) error
}

// PairingTx is the set of operations available inside a pairing transaction.
// Reads lock the rows they return until the transaction ends.
type PairingTx interface {
	GetUser(ctx context.Context, id string) (*models.UserProfile, error)
	GetConnection(ctx context.Context, id string) (*models.PartnerConnection, error)
	// FindConnectionByCode prefers a pending connection and falls back to the
	// most recently created connected one.
	FindConnectionByCode(ctx context.Context, code string) (*models.PartnerConnection, error)
	InsertConnection(ctx context.Context, conn *models.PartnerConnection) error
	DeleteConnection(ctx context.Context, id string) error
	DeletePendingByInviter(ctx context.Context, userID string) error
	MarkConnected(ctx context.Context, id, partner2ID string, at time.Time) error
	// SetPartner writes partner_id and clears partner_code.
	SetPartner(ctx context.Context, userID string, partnerID *string) error
	SetPartnerCode(ctx context.Context, userID string, code *string) error
}

// ConnectionStore persists partner connections
type ConnectionStore interface {
	// RunInTx commits when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(tx PairingTx) error) error
	GetPendingByInviter(ctx context.Context, userID string) (*models.PartnerConnection, error)
	// DeleteExpiredPending removes pending connections created before cutoff
	// and clears their codes from inviter profiles.
	DeleteExpiredPending(ctx context.Context, cutoff time.Time) (int64, error)
}

// RecordStore persists one record per (feature, couple)
type RecordStore interface {
	GetRecord(ctx context.Context, feature string, key couple.Key) (*models.CoupleRecord, error)
	// PutRecord overwrites the record, keeping created_at from the first write
	// and forcing updated_at to advance past the stored value.
	PutRecord(ctx context.Context, rec *models.CoupleRecord) (*models.CoupleRecord, error)
	// DeleteRecord returns the updated_at of the removed record.
	DeleteRecord(ctx context.Context, feature string, key couple.Key) (time.Time, error)
}

// FeedStore persists the shared activity log
type FeedStore interface {
	CreatePost(ctx context.Context, post *models.FeedPost) error
	GetPost(ctx context.Context, id string) (*models.FeedPost, error)
	ListPosts(ctx context.Context, key couple.Key, limit, offset int) ([]*models.FeedPost, int, error)
	DeletePost(ctx context.Context, id string) error
	UpsertReaction(ctx context.Context, reaction *models.Reaction) error
	DeleteReaction(ctx context.Context, postID, userID string) error
	CreateComment(ctx context.Context, comment *models.Comment) error
}

// NotificationStore persists notification intents
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id string) (*models.Notification, error)
	ListNotifications(ctx context.Context, toUserID string, unreadOnly bool, limit int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, id string) error
}

// Store bundles every persistence concern behind one handle
type Store interface {
	UserStore
	ConnectionStore
	RecordStore
	FeedStore
	NotificationStore
	Ping(ctx context.Context) error
	Close()
}
