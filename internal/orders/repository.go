package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront-payments/internal/database"
	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

var (
	ErrDuplicateTransaction = errors.New("transaction_uuid already used")
	// ErrNotPending is returned when a status transition finds the order
	// already terminal.
	ErrNotPending = errors.New("order is not pending")
)

const orderColumns = `id, customer_id, transaction_uuid, status, subtotal, shipping, tax, total_amount, gateway_ref, created_at, updated_at`

type OrderRepository struct {
	db *sql.DB
	q  database.Querier
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db, q: db}
}

// WithTx returns a repository whose queries run inside tx.
func (r *OrderRepository) WithTx(tx *sql.Tx) *OrderRepository {
	return &OrderRepository{db: r.db, q: tx}
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	order.ID = uuid.New().String()

	err := database.WithTransaction(ctx, r.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, customer_id, transaction_uuid, status, subtotal, shipping, tax, total_amount, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		`, order.ID, order.CustomerID, order.TransactionUUID, order.Status,
			order.Subtotal, order.Shipping, order.Tax, order.TotalAmount, order.CreatedAt)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return ErrDuplicateTransaction
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for _, item := range order.Items {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, product_id, quantity, unit_price)
				VALUES ($1, $2, $3, $4, $5)
			`, uuid.New().String(), order.ID, item.ProductID, item.Quantity, item.UnitPrice)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	order.UpdatedAt = order.CreatedAt
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) GetByTransactionUUID(ctx context.Context, transactionUUID string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE transaction_uuid = $1`, transactionUUID)
}

// LockByTransactionUUID loads the order and holds its row lock until the
// surrounding transaction ends. It must be called on a WithTx repository.
func (r *OrderRepository) LockByTransactionUUID(ctx context.Context, transactionUUID string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE transaction_uuid = $1 FOR UPDATE`, transactionUUID)
}

// Transition moves a PENDING order to status. The update is conditional on
// the row still being PENDING, so a concurrent winner yields ErrNotPending.
func (r *OrderRepository) Transition(ctx context.Context, id string, status domain.OrderStatus, gatewayRef string) error {
	result, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, gateway_ref = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, status, gatewayRef, domain.OrderStatusPending)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotPending
	}

	return nil
}

func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.q.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY product_id
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

func (r *OrderRepository) getOne(ctx context.Context, query string, arg string) (*domain.Order, error) {
	order, err := scanOrder(r.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY product_id
	`, order.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	order.Items = []domain.OrderItem{}
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	var order domain.Order
	var gatewayRef sql.NullString

	err := s.Scan(
		&order.ID,
		&order.CustomerID,
		&order.TransactionUUID,
		&order.Status,
		&order.Subtotal,
		&order.Shipping,
		&order.Tax,
		&order.TotalAmount,
		&gatewayRef,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if gatewayRef.Valid {
		order.GatewayRef = &gatewayRef.String
	}

	return &order, nil
}
