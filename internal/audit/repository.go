package audit

import (
	"context"
	"fmt"

	"github.com/joao-fontenele/storefront-payments/internal/database"
)

// Entry flags a payment that needs manual reconciliation.
type Entry struct {
	TransactionUUID string
	Reason          string
	Detail          string
}

type Repository struct {
	q database.Querier
}

func NewRepository(q database.Querier) *Repository {
	return &Repository{q: q}
}

func (r *Repository) Record(ctx context.Context, e Entry) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payment_audits (transaction_uuid, reason, detail)
		VALUES ($1, $2, $3)
	`, e.TransactionUUID, e.Reason, e.Detail)
	if err != nil {
		return fmt.Errorf("record audit flag: %w", err)
	}
	return nil
}

func (r *Repository) ListByTransaction(ctx context.Context, transactionUUID string) ([]Entry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT transaction_uuid, reason, detail
		FROM payment_audits
		WHERE transaction_uuid = $1
		ORDER BY id
	`, transactionUUID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TransactionUUID, &e.Reason, &e.Detail); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
