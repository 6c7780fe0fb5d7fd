// Package revocation is a durable set of self-expiring keys. The auth layer
// uses it to revoke credentials and payment fulfillment uses it to remember
// which transaction ids have already been settled.
package revocation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/joao-fontenele/storefront-payments/internal/database"
)

type Registry struct {
	q   database.Querier
	now func() time.Time
}

func NewRegistry(q database.Querier) *Registry {
	return &Registry{q: q, now: time.Now}
}

func (r *Registry) WithTx(tx *sql.Tx) *Registry {
	return &Registry{q: tx, now: r.now}
}

// RecordIfAbsent stores key until expiresAt. It reports false, with a nil
// error, when a live record for key already exists. An expired record that
// has not been swept yet is replaced.
func (r *Registry) RecordIfAbsent(ctx context.Context, key string, expiresAt time.Time, reason string) (bool, error) {
	result, err := r.q.ExecContext(ctx, `
		INSERT INTO revocations (key, reason, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET reason = EXCLUDED.reason,
		    expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at
		WHERE revocations.expires_at <= EXCLUDED.created_at
	`, key, reason, expiresAt.UTC(), r.now().UTC())
	if err != nil {
		return false, fmt.Errorf("record %s: %w", key, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

// Replace stores key until expiresAt whether or not a live record exists.
func (r *Registry) Replace(ctx context.Context, key string, expiresAt time.Time, reason string) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO revocations (key, reason, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET reason = EXCLUDED.reason,
		    expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at
	`, key, reason, expiresAt.UTC(), r.now().UTC())
	if err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}

// Contains reports whether key has a record that has not expired.
func (r *Registry) Contains(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM revocations WHERE key = $1 AND expires_at > $2)`,
		key, r.now().UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", key, err)
	}
	return exists, nil
}

// Sweep deletes expired records and returns how many were removed.
func (r *Registry) Sweep(ctx context.Context) (int64, error) {
	result, err := r.q.ExecContext(ctx, `DELETE FROM revocations WHERE expires_at <= $1`, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep revocations: %w", err)
	}
	return result.RowsAffected()
}

// Sweeper is anything with expired rows to reclaim.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// RunSweepers calls every sweeper once per interval until ctx is done.
func RunSweepers(ctx context.Context, interval time.Duration, logger *slog.Logger, sweepers map[string]Sweeper) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, s := range sweepers {
				removed, err := s.Sweep(ctx)
				if err != nil {
					logger.Error("sweep failed", "error", err, "table", name)
					continue
				}
				if removed > 0 {
					logger.Info("expired records swept", "table", name, "removed", removed)
				}
			}
		}
	}
}
