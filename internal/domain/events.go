package domain

import "time"

type OrderCompletedEvent struct {
	OrderID         string      `json:"order_id"`
	CustomerID      string      `json:"customer_id"`
	TransactionUUID string      `json:"transaction_uuid"`
	TotalAmount     int64       `json:"total_amount"`
	GatewayRef      string      `json:"gateway_ref"`
	Items           []OrderItem `json:"items"`
	Timestamp       time.Time   `json:"timestamp"`
}
