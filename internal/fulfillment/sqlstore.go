package fulfillment

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/joao-fontenele/storefront-payments/internal/database"
	"github.com/joao-fontenele/storefront-payments/internal/domain"
	"github.com/joao-fontenele/storefront-payments/internal/inventory"
	"github.com/joao-fontenele/storefront-payments/internal/orders"
	"github.com/joao-fontenele/storefront-payments/internal/revocation"
)

// SQLStore runs the fulfillment unit in a Postgres transaction, retrying on
// serialization failures and deadlocks.
type SQLStore struct {
	db        *sql.DB
	orders    *orders.OrderRepository
	inventory *inventory.InventoryRepository
	registry  *revocation.Registry
	txOpts    database.TxOptions
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{
		db:        db,
		orders:    orders.NewOrderRepository(db),
		inventory: inventory.NewInventoryRepository(db),
		registry:  revocation.NewRegistry(db),
		txOpts:    database.DefaultTxOptions(),
	}
}

func (s *SQLStore) FindOrder(ctx context.Context, transactionUUID string) (*domain.Order, error) {
	return s.orders.GetByTransactionUUID(ctx, transactionUUID)
}

func (s *SQLStore) Delivered(ctx context.Context, key string) (bool, error) {
	return s.registry.Contains(ctx, key)
}

func (s *SQLStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		return fn(ctx, &sqlTx{
			orders:    s.orders.WithTx(tx),
			inventory: s.inventory.WithTx(tx),
			registry:  s.registry.WithTx(tx),
		})
	})
}

type sqlTx struct {
	orders    *orders.OrderRepository
	inventory *inventory.InventoryRepository
	registry  *revocation.Registry
}

func (t *sqlTx) LockOrder(ctx context.Context, transactionUUID string) (*domain.Order, error) {
	return t.orders.LockByTransactionUUID(ctx, transactionUUID)
}

func (t *sqlTx) LockProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return t.inventory.LockProduct(ctx, productID)
}

func (t *sqlTx) DecrementStock(ctx context.Context, productID string, quantity int) (*domain.Product, error) {
	product, err := t.inventory.Decrement(ctx, productID, quantity)
	if errors.Is(err, inventory.ErrInsufficientStock) {
		return nil, &InsufficientStockError{ProductID: productID, Requested: quantity}
	}
	return product, err
}

func (t *sqlTx) TransitionOrder(ctx context.Context, orderID string, to domain.OrderStatus, gatewayRef string) error {
	err := t.orders.Transition(ctx, orderID, to, gatewayRef)
	if errors.Is(err, orders.ErrNotPending) {
		return ErrOrderNotPending
	}
	return err
}

func (t *sqlTx) RecordDelivery(ctx context.Context, key string, expiresAt time.Time, reason string) (bool, error) {
	return t.registry.RecordIfAbsent(ctx, key, expiresAt, reason)
}

func (t *sqlTx) ReplaceDelivery(ctx context.Context, key string, expiresAt time.Time, reason string) error {
	return t.registry.Replace(ctx, key, expiresAt, reason)
}
