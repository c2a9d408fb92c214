package repository

import (
	"context"
	"fmt"
	"time"

	"couple-sync-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const connectionColumns = `id, partner1_id, partner2_id, partner_code, status, created_at, connected_at`

// PairRepository handles database operations for partner connections
type PairRepository struct {
	db *pgxpool.Pool
}

// NewPairRepository creates a new pair repository
func NewPairRepository(db *pgxpool.Pool) *PairRepository {
	return &PairRepository{db: db}
}

func scanConnection(row pgx.Row) (*models.PartnerConnection, error) {
	var conn models.PartnerConnection
	err := row.Scan(
		&conn.ID, &conn.Partner1ID, &conn.Partner2ID, &conn.PartnerCode,
		&conn.Status, &conn.CreatedAt, &conn.ConnectedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &conn, nil
}

// RunInTx runs fn inside a single database transaction
func (r *PairRepository) RunInTx(ctx context.Context, fn func(tx PairingTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", translate(err))
	}
	defer tx.Rollback(ctx)

	if err := fn(&pairingTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translate(err))
	}
	return nil
}

// GetPendingByInviter returns the user's outstanding invite
func (r *PairRepository) GetPendingByInviter(ctx context.Context, userID string) (*models.PartnerConnection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM partner_connections
		WHERE partner1_id = $1 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`
	conn, err := scanConnection(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get pending connection: %w", err)
	}
	return conn, nil
}

// DeleteExpiredPending removes stale invites and their codes on profiles
func (r *PairRepository) DeleteExpiredPending(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		WITH expired AS (
			DELETE FROM partner_connections
			WHERE status = 'pending' AND created_at < $1
			RETURNING partner1_id, partner_code
		), cleared AS (
			UPDATE users u
			SET partner_code = NULL
			FROM expired e
			WHERE u.id = e.partner1_id AND u.partner_code = e.partner_code
		)
		SELECT COUNT(*) FROM expired
	`
	var n int64
	if err := r.db.QueryRow(ctx, query, cutoff).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to delete expired connections: %w", translate(err))
	}
	return n, nil
}

// pairingTx implements PairingTx on a pgx transaction
type pairingTx struct {
	tx pgx.Tx
}

func (t *pairingTx) GetUser(ctx context.Context, id string) (*models.UserProfile, error) {
	return getUser(ctx, t.tx, id, true)
}

func (t *pairingTx) GetConnection(ctx context.Context, id string) (*models.PartnerConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM partner_connections WHERE id = $1 FOR UPDATE`
	conn, err := scanConnection(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

func (t *pairingTx) FindConnectionByCode(ctx context.Context, code string) (*models.PartnerConnection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM partner_connections
		WHERE partner_code = $1
		ORDER BY (status = 'pending') DESC, created_at DESC
		LIMIT 1
		FOR UPDATE
	`
	conn, err := scanConnection(t.tx.QueryRow(ctx, query, code))
	if err != nil {
		return nil, fmt.Errorf("failed to find connection by code: %w", err)
	}
	return conn, nil
}

func (t *pairingTx) InsertConnection(ctx context.Context, conn *models.PartnerConnection) error {
	query := `
		INSERT INTO partner_connections (id, partner1_id, partner2_id, partner_code, status, created_at, connected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := t.tx.Exec(ctx, query,
		conn.ID, conn.Partner1ID, conn.Partner2ID, conn.PartnerCode,
		conn.Status, conn.CreatedAt, conn.ConnectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert connection: %w", translate(err))
	}
	return nil
}

func (t *pairingTx) DeleteConnection(ctx context.Context, id string) error {
	result, err := t.tx.Exec(ctx, `DELETE FROM partner_connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", translate(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("failed to delete connection: %w", ErrNotFound)
	}
	return nil
}

func (t *pairingTx) DeletePendingByInviter(ctx context.Context, userID string) error {
	query := `DELETE FROM partner_connections WHERE partner1_id = $1 AND status = 'pending'`
	if _, err := t.tx.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to delete pending connections: %w", translate(err))
	}
	return nil
}

func (t *pairingTx) MarkConnected(ctx context.Context, id, partner2ID string, at time.Time) error {
	query := `
		UPDATE partner_connections
		SET partner2_id = $2, status = 'connected', connected_at = $3
		WHERE id = $1 AND status = 'pending'
	`
	result, err := t.tx.Exec(ctx, query, id, partner2ID, at)
	if err != nil {
		return fmt.Errorf("failed to mark connection connected: %w", translate(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("failed to mark connection connected: %w", ErrNotFound)
	}
	return nil
}

func (t *pairingTx) SetPartner(ctx context.Context, userID string, partnerID *string) error {
	query := `UPDATE users SET partner_id = $2, partner_code = NULL, updated_at = NOW() WHERE id = $1`
	result, err := t.tx.Exec(ctx, query, userID, partnerID)
	if err != nil {
		return fmt.Errorf("failed to set partner: %w", translate(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("failed to set partner: %w", ErrNotFound)
	}
	return nil
}

func (t *pairingTx) SetPartnerCode(ctx context.Context, userID string, code *string) error {
	query := `UPDATE users SET partner_code = $2, updated_at = NOW() WHERE id = $1`
	result, err := t.tx.Exec(ctx, query, userID, code)
	if err != nil {
		return fmt.Errorf("failed to set partner code: %w", translate(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("failed to set partner code: %w", ErrNotFound)
	}
	return nil
}
