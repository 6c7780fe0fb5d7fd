package fulfillment

import (
	"context"
	"time"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

// Store is the durable state the Coordinator reads and mutates.
type Store interface {
	// FindOrder reads an order without locking it. It returns nil, nil when
	// no order carries transactionUUID.
	FindOrder(ctx context.Context, transactionUUID string) (*domain.Order, error)

	// Delivered reports whether a delivery key is recorded and unexpired.
	Delivered(ctx context.Context, key string) (bool, error)

	// InTx runs fn inside a single all-or-nothing transaction. Any error
	// returned by fn rolls back every write made through tx.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of writes allowed inside the fulfillment unit.
type Tx interface {
	LockOrder(ctx context.Context, transactionUUID string) (*domain.Order, error)
	LockProduct(ctx context.Context, productID string) (*domain.Product, error)

	// DecrementStock returns *InsufficientStockError when the product holds
	// less than quantity.
	DecrementStock(ctx context.Context, productID string, quantity int) (*domain.Product, error)

	// TransitionOrder returns ErrOrderNotPending when the order already left
	// PENDING.
	TransitionOrder(ctx context.Context, orderID string, to domain.OrderStatus, gatewayRef string) error

	// RecordDelivery reports false when key is already recorded and unexpired.
	RecordDelivery(ctx context.Context, key string, expiresAt time.Time, reason string) (bool, error)

	// ReplaceDelivery overwrites any record for key.
	ReplaceDelivery(ctx context.Context, key string, expiresAt time.Time, reason string) error
}
