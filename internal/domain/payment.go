package domain

// GatewayStatus is the payment outcome as reported by the gateway.
type GatewayStatus string

const (
	GatewayStatusComplete GatewayStatus = "COMPLETE"
	GatewayStatusFailed   GatewayStatus = "FAILED"
	GatewayStatusPending  GatewayStatus = "PENDING"
)

func (s GatewayStatus) Valid() bool {
	switch s {
	case GatewayStatusComplete, GatewayStatusFailed, GatewayStatusPending:
		return true
	}
	return false
}

// PaymentNotification is an inbound gateway webhook. TotalAmount keeps the
// exact text the gateway sent because that text is what gets signed.
type PaymentNotification struct {
	TransactionUUID string        `json:"transaction_uuid"`
	TotalAmount     string        `json:"total_amount"`
	ProductCode     string        `json:"product_code"`
	TransactionCode string        `json:"transaction_code"`
	Status          GatewayStatus `json:"status"`
	Signature       string        `json:"signature"`
	Timestamp       string        `json:"timestamp"`
}
