// Package notification dispatches fulfillment events to downstream
// consumers.
package notification

import (
	"context"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

const EventOrderCompleted = "order.completed"

type Publisher interface {
	Publish(ctx context.Context, key, eventType string, event any) error
}

// KafkaNotifier publishes order events keyed by order id.
type KafkaNotifier struct {
	publisher Publisher
}

func NewKafkaNotifier(publisher Publisher) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher}
}

func (n *KafkaNotifier) NotifyOrderCompleted(ctx context.Context, event domain.OrderCompletedEvent) error {
	return n.publisher.Publish(ctx, event.OrderID, EventOrderCompleted, event)
}
