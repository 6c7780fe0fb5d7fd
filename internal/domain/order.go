package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed
}

type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

func (i OrderItem) Subtotal() int64 {
	return int64(i.Quantity) * i.UnitPrice
}

// Order amounts are in the smallest currency unit. TotalAmount is fixed when
// the order is created and never recomputed.
type Order struct {
	ID              string      `json:"id"`
	CustomerID      string      `json:"customer_id"`
	TransactionUUID string      `json:"transaction_uuid"`
	Items           []OrderItem `json:"items"`
	Subtotal        int64       `json:"subtotal"`
	Shipping        int64       `json:"shipping"`
	Tax             int64       `json:"tax"`
	TotalAmount     int64       `json:"total_amount"`
	Status          OrderStatus `json:"status"`
	GatewayRef      *string     `json:"gateway_ref,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Quantities returns the ordered quantity per product, merging repeated lines.
func (o *Order) Quantities() map[string]int {
	q := make(map[string]int, len(o.Items))
	for _, item := range o.Items {
		q[item.ProductID] += item.Quantity
	}
	return q
}
