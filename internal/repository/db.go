package repository

import (
	"context"
	"errors"
	"fmt"

	"couple-sync-backend/migrations"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Store on a pgx connection pool
type Postgres struct {
	*UserRepository
	*PairRepository
	*RecordRepository
	*FeedRepository
	*NotificationRepository

	pool *pgxpool.Pool
}

// NewPostgres connects to the database and verifies the connection
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", translate(err))
	}

	return &Postgres{
		UserRepository:         NewUserRepository(pool),
		PairRepository:         NewPairRepository(pool),
		RecordRepository:       NewRecordRepository(pool),
		FeedRepository:         NewFeedRepository(pool),
		NotificationRepository: NewNotificationRepository(pool),
		pool:                   pool,
	}, nil
}

// RunMigrations applies the embedded SQL migrations
func RunMigrations(connString string) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, connString)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (p *Postgres) Ping(ctx context.Context) error {
	return translate(p.pool.Ping(ctx))
}

// Close closes the connection pool
func (p *Postgres) Close() {
	p.pool.Close()
}
