package ratelimit

import (
	"context"
	"time"

	"github.com/joao-fontenele/storefront-payments/internal/database"
)

type PostgresStore struct {
	q   database.Querier
	now func() time.Time
}

func NewPostgresStore(q database.Querier) *PostgresStore {
	return &PostgresStore{q: q, now: time.Now}
}

func (s *PostgresStore) Increment(ctx context.Context, key string, windowStart time.Time, ttl time.Duration) (int64, error) {
	var count int64
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO rate_limits (key, window_start, count, expires_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (key, window_start) DO UPDATE
		SET count = rate_limits.count + 1
		RETURNING count
	`, key, windowStart, windowStart.Add(ttl)).Scan(&count)
	return count, err
}

// Sweep deletes counters whose window has closed.
func (s *PostgresStore) Sweep(ctx context.Context) (int64, error) {
	result, err := s.q.ExecContext(ctx, `DELETE FROM rate_limits WHERE expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
