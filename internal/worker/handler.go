package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
	"github.com/joao-fontenele/storefront-payments/internal/email"
	"github.com/joao-fontenele/storefront-payments/internal/messaging"
	"github.com/joao-fontenele/storefront-payments/internal/notification"
)

type NotificationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: strings.TrimRight(emailServiceURL, "/"),
		httpClient:      client,
		logger:          logger,
	}
}

// IdempotencyKey identifies the confirmation email for an order, so
// redelivered events never send it twice.
func IdempotencyKey(orderID string) string {
	return "order-completed:" + orderID
}

func (h *NotificationHandler) Handle(ctx context.Context, msg messaging.Message) error {
	if msg.EventType != "" && msg.EventType != notification.EventOrderCompleted {
		h.logger.Debug("ignoring event", "event_type", msg.EventType, "key", msg.Key)
		return nil
	}

	var event domain.OrderCompletedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return messaging.Permanent(fmt.Errorf("unmarshal order completed event: %w", err))
	}
	if event.OrderID == "" {
		return messaging.Permanent(fmt.Errorf("order completed event without order_id"))
	}

	h.logger.Info("processing order completed event", "order_id", event.OrderID, "customer_id", event.CustomerID)

	if err := h.sendConfirmationEmail(ctx, event); err != nil {
		h.logger.Error("failed to send confirmation email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send confirmation email: %w", err)
	}

	h.logger.Info("payment confirmation sent", "order_id", event.OrderID)
	return nil
}

func (h *NotificationHandler) sendConfirmationEmail(ctx context.Context, event domain.OrderCompletedEvent) error {
	units := 0
	for _, item := range event.Items {
		units += item.Quantity
	}

	body := map[string]string{
		"to":      event.CustomerID + "@example.com",
		"subject": "Payment received for order " + event.OrderID,
		"body": fmt.Sprintf("We received your payment of %d for order %s (%d items). Gateway reference: %s.",
			event.TotalAmount, event.OrderID, units, event.GatewayRef),
	}

	return h.sendEmail(ctx, IdempotencyKey(event.OrderID), body)
}

func (h *NotificationHandler) sendEmail(ctx context.Context, idempotencyKey string, body map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(email.IdempotencyKeyHeader, idempotencyKey)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return messaging.Permanent(fmt.Errorf("email service rejected message with status %d", resp.StatusCode))
	default:
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}
}
