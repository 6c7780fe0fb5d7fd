package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-fontenele/storefront-payments/internal/database"
	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

var ErrInsufficientStock = errors.New("insufficient stock")

const productColumns = `id, name, price, quantity, out_of_stock, updated_at`

type InventoryRepository struct {
	q database.Querier
}

func NewInventoryRepository(q database.Querier) *InventoryRepository {
	return &InventoryRepository{q: q}
}

func (r *InventoryRepository) WithTx(tx *sql.Tx) *InventoryRepository {
	return &InventoryRepository{q: tx}
}

func (r *InventoryRepository) ListAll(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	products := []domain.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (r *InventoryRepository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return r.getOne(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
}

// LockProduct loads the product and holds its row lock until the surrounding
// transaction ends.
func (r *InventoryRepository) LockProduct(ctx context.Context, id string) (*domain.Product, error) {
	return r.getOne(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
}

// Decrement removes quantity from stock, refusing to go below zero. The
// out-of-stock flag is set when the result is exactly zero.
func (r *InventoryRepository) Decrement(ctx context.Context, id string, quantity int) (*domain.Product, error) {
	product, err := scanProduct(r.q.QueryRowContext(ctx, `
		UPDATE products
		SET quantity = quantity - $2,
		    out_of_stock = (quantity - $2 = 0),
		    updated_at = NOW()
		WHERE id = $1 AND quantity >= $2
		RETURNING `+productColumns,
		id, quantity))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInsufficientStock
		}
		return nil, fmt.Errorf("decrement stock for %s: %w", id, err)
	}

	return product, nil
}

func (r *InventoryRepository) getOne(ctx context.Context, query, id string) (*domain.Product, error) {
	product, err := scanProduct(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return product, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner) (*domain.Product, error) {
	var p domain.Product
	if err := s.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.OutOfStock, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
