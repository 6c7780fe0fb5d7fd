// Package fulfillment finalizes orders from admitted payment notifications.
// Each notification either replays a terminal order untouched or moves a
// PENDING order to its final status together with its stock effects in one
// transaction.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront-payments/internal/audit"
	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending"
	OutcomeReplay    Outcome = "replay"
)

type Result struct {
	Outcome Outcome            `json:"outcome"`
	OrderID string             `json:"order_id"`
	Status  domain.OrderStatus `json:"status"`
}

type Auditor interface {
	Record(ctx context.Context, e audit.Entry) error
}

type Notifier interface {
	NotifyOrderCompleted(ctx context.Context, event domain.OrderCompletedEvent) error
}

type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome string)
}

type Options struct {
	// StoreTimeout bounds the whole unit, including lock waits.
	StoreTimeout   time.Duration
	IdempotencyTTL time.Duration
}

type Coordinator struct {
	store    Store
	auditor  Auditor
	notifier Notifier
	metrics  OutcomeRecorder
	logger   *slog.Logger
	opts     Options
	now      func() time.Time
}

// NewCoordinator builds a Coordinator. notifier and metrics may be nil.
func NewCoordinator(store Store, auditor Auditor, notifier Notifier, metrics OutcomeRecorder, logger *slog.Logger, opts Options) *Coordinator {
	return &Coordinator{
		store:    store,
		auditor:  auditor,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// DeliveryKey is the registry key recording that a transaction was finalized.
func DeliveryKey(transactionUUID string) string {
	return "payment:" + transactionUUID
}

var errReplay = errors.New("order already finalized")

func (c *Coordinator) Process(ctx context.Context, n domain.PaymentNotification) (Result, error) {
	if !n.Status.Valid() {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownStatus, n.Status)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
	defer cancel()

	result, err := c.process(ctx, n)
	if err != nil {
		c.record(ctx, outcomeForError(err))
		return Result{}, err
	}

	c.record(ctx, string(result.Outcome))
	return result, nil
}

func (c *Coordinator) process(ctx context.Context, n domain.PaymentNotification) (Result, error) {
	log := c.logger.With("transaction_uuid", n.TransactionUUID, "gateway_status", string(n.Status))

	delivered, err := c.store.Delivered(ctx, DeliveryKey(n.TransactionUUID))
	if err != nil {
		return Result{}, fmt.Errorf("check delivery record: %w", err)
	}

	order, err := c.store.FindOrder(ctx, n.TransactionUUID)
	if err != nil {
		return Result{}, fmt.Errorf("find order: %w", err)
	}
	if order == nil {
		return Result{}, ErrOrderNotFound
	}

	if order.Status.Terminal() {
		return c.replay(log, order, n), nil
	}
	if delivered {
		log.Warn("delivery recorded for pending order", "order_id", order.ID)
	}

	if n.Status == domain.GatewayStatusPending {
		log.Info("payment still pending at gateway", "order_id", order.ID)
		return Result{Outcome: OutcomePending, OrderID: order.ID, Status: order.Status}, nil
	}

	if err := checkAmount(order, n.TotalAmount); err != nil {
		var mismatch *AmountMismatchError
		if errors.As(err, &mismatch) {
			log.Warn("payment amount mismatch", "order_id", order.ID, "expected", mismatch.Expected, "reported", mismatch.Reported)
			c.flag(ctx, n.TransactionUUID, ReasonAmountMismatch, err.Error())
		}
		return Result{}, err
	}

	var (
		finalized *domain.Order
		to        = domain.OrderStatusCompleted
	)
	if n.Status == domain.GatewayStatusFailed {
		to = domain.OrderStatusFailed
	}

	err = c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockOrder(ctx, n.TransactionUUID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if locked == nil {
			return ErrOrderNotFound
		}
		if locked.Status.Terminal() {
			finalized = locked
			return errReplay
		}

		if to == domain.OrderStatusCompleted {
			if err := applyStock(ctx, tx, locked); err != nil {
				return err
			}
		}

		if err := tx.TransitionOrder(ctx, locked.ID, to, n.TransactionCode); err != nil {
			if errors.Is(err, ErrOrderNotPending) {
				finalized = locked
				return errReplay
			}
			return fmt.Errorf("transition order: %w", err)
		}

		// The order row is locked and was still PENDING, so a live record
		// for this key is stale bookkeeping and must not block settlement.
		key, expiresAt := DeliveryKey(n.TransactionUUID), c.now().Add(c.opts.IdempotencyTTL)
		inserted, err := tx.RecordDelivery(ctx, key, expiresAt, string(to))
		if err != nil {
			return fmt.Errorf("record delivery: %w", err)
		}
		if !inserted {
			log.Warn("replacing stale delivery record", "order_id", locked.ID)
			if err := tx.ReplaceDelivery(ctx, key, expiresAt, string(to)); err != nil {
				return fmt.Errorf("replace delivery: %w", err)
			}
		}

		locked.Status = to
		if n.TransactionCode != "" {
			ref := n.TransactionCode
			locked.GatewayRef = &ref
		}
		finalized = locked
		return nil
	})

	switch {
	case errors.Is(err, errReplay):
		return c.replay(log, finalized, n), nil
	case err != nil:
		var insufficient *InsufficientStockError
		if errors.As(err, &insufficient) {
			log.Warn("insufficient stock for paid order", "order_id", order.ID, "product_id", insufficient.ProductID,
				"requested", insufficient.Requested, "available", insufficient.Available)
			c.flag(ctx, n.TransactionUUID, ReasonInsufficientStock, err.Error())
		}
		return Result{}, err
	}

	if to == domain.OrderStatusFailed {
		log.Info("order failed by gateway", "order_id", finalized.ID)
		return Result{Outcome: OutcomeFailed, OrderID: finalized.ID, Status: finalized.Status}, nil
	}

	log.Info("order completed", "order_id", finalized.ID, "gateway_ref", n.TransactionCode)
	c.notify(ctx, finalized)

	return Result{Outcome: OutcomeCompleted, OrderID: finalized.ID, Status: finalized.Status}, nil
}

// applyStock locks products in id order, verifies every line before touching
// any of them, then decrements.
func applyStock(ctx context.Context, tx Tx, order *domain.Order) error {
	quantities := order.Quantities()
	ids := make([]string, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		product, err := tx.LockProduct(ctx, id)
		if err != nil {
			return fmt.Errorf("lock product %s: %w", id, err)
		}
		available := 0
		if product != nil {
			available = product.Quantity
		}
		if available < quantities[id] {
			return &InsufficientStockError{ProductID: id, Requested: quantities[id], Available: available}
		}
	}

	for _, id := range ids {
		if _, err := tx.DecrementStock(ctx, id, quantities[id]); err != nil {
			var insufficient *InsufficientStockError
			if errors.As(err, &insufficient) {
				return err
			}
			return fmt.Errorf("decrement stock %s: %w", id, err)
		}
	}

	return nil
}

func checkAmount(order *domain.Order, reported string) error {
	amount, err := decimal.NewFromString(reported)
	if err != nil || !amount.IsInteger() {
		return fmt.Errorf("%w: %q", ErrInvalidAmount, reported)
	}
	if !amount.Equal(decimal.NewFromInt(order.TotalAmount)) {
		return &AmountMismatchError{
			TransactionUUID: order.TransactionUUID,
			Expected:        order.TotalAmount,
			Reported:        reported,
		}
	}
	return nil
}

func (c *Coordinator) replay(log *slog.Logger, order *domain.Order, n domain.PaymentNotification) Result {
	if conflicting(order.Status, n.Status) {
		log.Warn("notification conflicts with finalized order", "order_id", order.ID, "order_status", string(order.Status))
	} else {
		log.Info("duplicate notification replayed", "order_id", order.ID, "order_status", string(order.Status))
	}
	return Result{Outcome: OutcomeReplay, OrderID: order.ID, Status: order.Status}
}

func conflicting(status domain.OrderStatus, reported domain.GatewayStatus) bool {
	switch reported {
	case domain.GatewayStatusComplete:
		return status != domain.OrderStatusCompleted
	case domain.GatewayStatusFailed:
		return status != domain.OrderStatusFailed
	}
	return false
}

// flag writes the audit row outside the rolled-back unit. A failure to write
// it is logged and does not change the response.
func (c *Coordinator) flag(ctx context.Context, transactionUUID, reason, detail string) {
	if c.auditor == nil {
		return
	}
	err := c.auditor.Record(context.WithoutCancel(ctx), audit.Entry{
		TransactionUUID: transactionUUID,
		Reason:          reason,
		Detail:          detail,
	})
	if err != nil {
		c.logger.Error("failed to record audit flag", "error", err, "transaction_uuid", transactionUUID, "reason", reason)
	}
}

func (c *Coordinator) notify(ctx context.Context, order *domain.Order) {
	if c.notifier == nil {
		return
	}

	event := domain.OrderCompletedEvent{
		OrderID:         order.ID,
		CustomerID:      order.CustomerID,
		TransactionUUID: order.TransactionUUID,
		TotalAmount:     order.TotalAmount,
		Items:           order.Items,
		Timestamp:       c.now().UTC(),
	}
	if order.GatewayRef != nil {
		event.GatewayRef = *order.GatewayRef
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.StoreTimeout)
	defer cancel()

	if err := c.notifier.NotifyOrderCompleted(notifyCtx, event); err != nil {
		c.logger.Error("failed to publish order completed event", "error", err, "order_id", order.ID)
	}
}

func (c *Coordinator) record(ctx context.Context, outcome string) {
	if c.metrics != nil {
		c.metrics.RecordOutcome(ctx, outcome)
	}
}

func outcomeForError(err error) string {
	var mismatch *AmountMismatchError
	var insufficient *InsufficientStockError
	switch {
	case errors.As(err, &mismatch):
		return "amount_mismatch"
	case errors.As(err, &insufficient):
		return "insufficient_stock"
	case errors.Is(err, ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "error"
	}
}
