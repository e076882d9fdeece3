package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evara/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GenerationQuotaRepository persists one generation counter per user.
type GenerationQuotaRepository interface {
	// FindByUser returns the user's record, or nil when none exists yet.
	FindByUser(ctx context.Context, userID string) (*model.GenerationQuota, error)
	// UpsertIncrement atomically adds one to the counter, creating the record with a fresh window if absent.
	UpsertIncrement(ctx context.Context, userID string, now time.Time) (*model.GenerationQuota, error)
	// Reset zeroes the counter and starts a new window at now. Returns nil when no record exists.
	Reset(ctx context.Context, userID string, now time.Time) (*model.GenerationQuota, error)
	// TryConsume increments only if the user is under limit (after resetting an expired window), as one atomic operation.
	TryConsume(ctx context.Context, userID string, now time.Time, limit int, window time.Duration) (*model.GenerationQuota, bool, error)
}

// PostgresGenerationQuotaRepo stores quotas in the generation_quotas table.
type PostgresGenerationQuotaRepo struct {
	pool *pgxpool.Pool
}

// NewGenerationQuotaRepo creates a Postgres-backed GenerationQuotaRepository.
func NewGenerationQuotaRepo(pool *pgxpool.Pool) *PostgresGenerationQuotaRepo {
	return &PostgresGenerationQuotaRepo{pool: pool}
}

var _ GenerationQuotaRepository = (*PostgresGenerationQuotaRepo)(nil)

const quotaColumns = `user_id, generation_count, window_start, last_generation_at`

// EnsureSchema creates the generation_quotas table when it does not exist.
func (r *PostgresGenerationQuotaRepo) EnsureSchema(ctx context.Context) error {
	const q = `
        CREATE TABLE IF NOT EXISTS generation_quotas (
            user_id            TEXT PRIMARY KEY,
            generation_count   INTEGER NOT NULL DEFAULT 0 CHECK (generation_count >= 0),
            window_start       TIMESTAMPTZ NOT NULL,
            last_generation_at TIMESTAMPTZ
        )
    `
	if _, err := r.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("creating generation_quotas table: %w", err)
	}
	return nil
}

func (r *PostgresGenerationQuotaRepo) FindByUser(ctx context.Context, userID string) (*model.GenerationQuota, error) {
	q := `SELECT ` + quotaColumns + ` FROM generation_quotas WHERE user_id = $1`
	gq, err := scanQuota(r.pool.QueryRow(ctx, q, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch generation quota for user %s: %w", userID, err)
	}
	return gq, nil
}

func (r *PostgresGenerationQuotaRepo) UpsertIncrement(ctx context.Context, userID string, now time.Time) (*model.GenerationQuota, error) {
	q := `
        INSERT INTO generation_quotas AS gq (user_id, generation_count, window_start, last_generation_at)
        VALUES ($1, 1, $2::timestamptz, $2::timestamptz)
        ON CONFLICT (user_id) DO UPDATE
        SET generation_count   = gq.generation_count + 1,
            last_generation_at = EXCLUDED.last_generation_at
        RETURNING ` + quotaColumns
	gq, err := scanQuota(r.pool.QueryRow(ctx, q, userID, now))
	if err != nil {
		return nil, fmt.Errorf("increment generation quota for user %s: %w", userID, err)
	}
	return gq, nil
}

func (r *PostgresGenerationQuotaRepo) Reset(ctx context.Context, userID string, now time.Time) (*model.GenerationQuota, error) {
	q := `
        UPDATE generation_quotas
        SET generation_count = 0,
            window_start     = $2::timestamptz
        WHERE user_id = $1
        RETURNING ` + quotaColumns
	gq, err := scanQuota(r.pool.QueryRow(ctx, q, userID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reset generation quota for user %s: %w", userID, err)
	}
	return gq, nil
}

func (r *PostgresGenerationQuotaRepo) TryConsume(ctx context.Context, userID string, now time.Time, limit int, window time.Duration) (*model.GenerationQuota, bool, error) {
	// The WHERE clause on the conflict branch makes the statement return no
	// row when the user is over limit inside an active window.
	q := `
        INSERT INTO generation_quotas AS gq (user_id, generation_count, window_start, last_generation_at)
        VALUES ($1, 1, $2::timestamptz, $2::timestamptz)
        ON CONFLICT (user_id) DO UPDATE
        SET generation_count = CASE
                WHEN $2::timestamptz - gq.window_start > $3::float8 * INTERVAL '1 second' THEN 1
                ELSE gq.generation_count + 1
            END,
            window_start = CASE
                WHEN $2::timestamptz - gq.window_start > $3::float8 * INTERVAL '1 second' THEN $2::timestamptz
                ELSE gq.window_start
            END,
            last_generation_at = $2::timestamptz
        WHERE $2::timestamptz - gq.window_start > $3::float8 * INTERVAL '1 second'
           OR gq.generation_count < $4
        RETURNING ` + quotaColumns
	gq, err := scanQuota(r.pool.QueryRow(ctx, q, userID, now, window.Seconds(), limit))
	if err == nil {
		return gq, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("consume generation quota for user %s: %w", userID, err)
	}
	current, err := r.FindByUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func scanQuota(row pgx.Row) (*model.GenerationQuota, error) {
	var gq model.GenerationQuota
	if err := row.Scan(&gq.UserID, &gq.GenerationCount, &gq.WindowStart, &gq.LastGenerationAt); err != nil {
		return nil, err
	}
	return &gq, nil
}
