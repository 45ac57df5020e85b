package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/OrderPipe/internal/flow"
	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/store"
)

const (
	// OutboxKindOrderPlaced tags outbox rows carrying an encoded models.Order.
	OutboxKindOrderPlaced = "order_placed"
	// OutboxRecipientOperator is the logical recipient of order notifications.
	OutboxRecipientOperator = "operator"
)

// OutboxNotifier durably enqueues orders; an OutboxSender delivers them later
// with retries through the function returned by Deliverer.
type OutboxNotifier struct {
	repo store.OutboxRepo
}

// Compile-time check that OutboxNotifier implements flow.OrderNotifier.
var _ flow.OrderNotifier = (*OutboxNotifier)(nil)

// NewOutboxNotifier creates a notifier backed by repo.
func NewOutboxNotifier(repo store.OutboxRepo) *OutboxNotifier {
	return &OutboxNotifier{repo: repo}
}

// NotifyOrder returns once the order is stored; delivery happens asynchronously.
func (n *OutboxNotifier) NotifyOrder(ctx context.Context, order models.Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", order.ID, err)
	}
	id, err := n.repo.EnqueueOutboxMessage(ctx, OutboxRecipientOperator, OutboxKindOrderPlaced, string(payload), "order:"+order.ID)
	if err != nil {
		return fmt.Errorf("enqueue order %s: %w", order.ID, err)
	}
	slog.Info("OutboxNotifier.NotifyOrder: enqueued", "orderID", order.ID, "outboxID", id)
	return nil
}

// Deliverer decodes outbox rows and hands them to next.
func Deliverer(next flow.OrderNotifier) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		if msg.Kind != OutboxKindOrderPlaced {
			return fmt.Errorf("unsupported outbox kind %q", msg.Kind)
		}
		var order models.Order
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &order); err != nil {
			return fmt.Errorf("decode outbox message %s: %w", msg.ID, err)
		}
		return next.NotifyOrder(ctx, order)
	}
}
