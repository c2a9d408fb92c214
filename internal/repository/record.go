package repository

import (
	"context"
	"fmt"
	"time"

	"couple-sync-backend/internal/couple"
	"couple-sync-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `feature, user_low, user_high, payload, set_by, created_at, updated_at`

// RecordRepository handles database operations for couple-scoped records
type RecordRepository struct {
	db *pgxpool.Pool
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(db *pgxpool.Pool) *RecordRepository {
	return &RecordRepository{db: db}
}

func scanRecord(row pgx.Row) (*models.CoupleRecord, error) {
	var rec models.CoupleRecord
	err := row.Scan(
		&rec.Feature, &rec.UserLow, &rec.UserHigh, &rec.Payload,
		&rec.SetBy, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}

// GetRecord retrieves the record for a feature and couple
func (r *RecordRepository) GetRecord(ctx context.Context, feature string, key couple.Key) (*models.CoupleRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM couple_records
		WHERE feature = $1 AND user_low = $2 AND user_high = $3
	`
	rec, err := scanRecord(r.db.QueryRow(ctx, query, feature, key.Low, key.High))
	if err != nil {
		return nil, fmt.Errorf("failed to get %s record: %w", feature, err)
	}
	return rec, nil
}

// PutRecord upserts the record for a feature and couple
func (r *RecordRepository) PutRecord(ctx context.Context, rec *models.CoupleRecord) (*models.CoupleRecord, error) {
	query := `
		INSERT INTO couple_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (feature, user_low, user_high) DO UPDATE
		SET payload = EXCLUDED.payload,
		    set_by = EXCLUDED.set_by,
		    updated_at = GREATEST(EXCLUDED.updated_at, couple_records.updated_at + INTERVAL '1 microsecond')
		RETURNING ` + recordColumns
	stored, err := scanRecord(r.db.QueryRow(ctx, query,
		rec.Feature, rec.UserLow, rec.UserHigh, rec.Payload, rec.SetBy, rec.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to put %s record: %w", rec.Feature, err)
	}
	return stored, nil
}

// DeleteRecord removes the record for a feature and couple and returns the
// updated_at of the removed row
func (r *RecordRepository) DeleteRecord(ctx context.Context, feature string, key couple.Key) (time.Time, error) {
	query := `
		DELETE FROM couple_records
		WHERE feature = $1 AND user_low = $2 AND user_high = $3
		RETURNING updated_at
	`
	var updatedAt time.Time
	if err := r.db.QueryRow(ctx, query, feature, key.Low, key.High).Scan(&updatedAt); err != nil {
		return time.Time{}, fmt.Errorf("failed to delete %s record: %w", feature, translate(err))
	}
	return updatedAt, nil
}
