package fulfillment

import (
	"errors"
	"fmt"
)

// Audit reasons for business conflicts that need manual reconciliation.
const (
	ReasonAmountMismatch    = "AMOUNT_MISMATCH"
	ReasonInsufficientStock = "INSUFFICIENT_STOCK"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidAmount = errors.New("total_amount is not a whole number of currency units")
	ErrUnknownStatus = errors.New("unknown gateway status")

	// ErrOrderNotPending is returned by Tx.TransitionOrder when the order left
	// PENDING before the update ran.
	ErrOrderNotPending = errors.New("order is not pending")
)

type AmountMismatchError struct {
	TransactionUUID string
	Expected        int64
	Reported        string
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch for %s: expected %d, gateway reported %s", e.TransactionUUID, e.Expected, e.Reported)
}

type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}
