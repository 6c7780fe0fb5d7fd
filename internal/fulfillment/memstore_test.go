package fulfillment

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/joao-fontenele/storefront-payments/internal/audit"
	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

var errConnectionReset = errors.New("connection reset by peer")

// memStore serializes transactions behind one mutex and applies a
// transaction's writes only when fn returns nil.
type memStore struct {
	mu         sync.Mutex
	orders     map[string]domain.Order
	products   map[string]domain.Product
	deliveries map[string]time.Time

	failDecrementAt int
	now             func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		orders:     make(map[string]domain.Order),
		products:   make(map[string]domain.Product),
		deliveries: make(map[string]time.Time),
		now:        time.Now,
	}
}

func (s *memStore) addProduct(id string, quantity int) {
	s.products[id] = domain.Product{ID: id, Name: id, Price: 1000, Quantity: quantity, OutOfStock: quantity == 0}
}

func (s *memStore) addOrder(o domain.Order) {
	if o.Status == "" {
		o.Status = domain.OrderStatusPending
	}
	s.orders[o.TransactionUUID] = o
}

func (s *memStore) order(transactionUUID string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[transactionUUID]
}

func (s *memStore) product(id string) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id]
}

func (s *memStore) FindOrder(_ context.Context, transactionUUID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[transactionUUID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *memStore) Delivered(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.deliveries[key]
	return ok && expiresAt.After(s.now()), nil
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:      s,
		orders:     maps.Clone(s.orders),
		products:   maps.Clone(s.products),
		deliveries: maps.Clone(s.deliveries),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.orders = tx.orders
	s.products = tx.products
	s.deliveries = tx.deliveries
	return nil
}

type memTx struct {
	store      *memStore
	orders     map[string]domain.Order
	products   map[string]domain.Product
	deliveries map[string]time.Time
	decrements int
}

func (t *memTx) LockOrder(_ context.Context, transactionUUID string) (*domain.Order, error) {
	o, ok := t.orders[transactionUUID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (t *memTx) LockProduct(_ context.Context, productID string) (*domain.Product, error) {
	p, ok := t.products[productID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t *memTx) DecrementStock(_ context.Context, productID string, quantity int) (*domain.Product, error) {
	t.decrements++
	if t.store.failDecrementAt == t.decrements {
		return nil, errConnectionReset
	}

	p, ok := t.products[productID]
	if !ok || p.Quantity < quantity {
		return nil, &InsufficientStockError{ProductID: productID, Requested: quantity, Available: p.Quantity}
	}
	p.Quantity -= quantity
	p.OutOfStock = p.Quantity == 0
	t.products[productID] = p
	return &p, nil
}

func (t *memTx) TransitionOrder(_ context.Context, orderID string, to domain.OrderStatus, gatewayRef string) error {
	for key, o := range t.orders {
		if o.ID != orderID {
			continue
		}
		if o.Status != domain.OrderStatusPending {
			return ErrOrderNotPending
		}
		o.Status = to
		if gatewayRef != "" {
			o.GatewayRef = &gatewayRef
		}
		t.orders[key] = o
		return nil
	}
	return ErrOrderNotPending
}

func (t *memTx) RecordDelivery(_ context.Context, key string, expiresAt time.Time, _ string) (bool, error) {
	if existing, ok := t.deliveries[key]; ok && existing.After(t.store.now()) {
		return false, nil
	}
	t.deliveries[key] = expiresAt
	return true, nil
}

func (t *memTx) ReplaceDelivery(_ context.Context, key string, expiresAt time.Time, _ string) error {
	t.deliveries[key] = expiresAt
	return nil
}

type memAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (a *memAuditor) Record(_ context.Context, e audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, e)
	return nil
}

type memNotifier struct {
	mu     sync.Mutex
	events []domain.OrderCompletedEvent
	err    error
}

func (n *memNotifier) NotifyOrderCompleted(_ context.Context, event domain.OrderCompletedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *memNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type memOutcomes struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *memOutcomes) RecordOutcome(_ context.Context, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}
