// Package notify delivers placed orders to the operator notification channels.
//
// Every channel implements flow.OrderNotifier. Fanout combines several of them,
// and OutboxNotifier makes delivery durable through the store's outbox.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/OrderPipe/internal/flow"
	"github.com/BTreeMap/OrderPipe/internal/models"
)

// Fanout sends an order to every channel. The first channel is the primary:
// its failure fails the call, failures of the others are only logged.
type Fanout struct {
	channels []flow.OrderNotifier
}

// Compile-time check that Fanout implements flow.OrderNotifier.
var _ flow.OrderNotifier = (*Fanout)(nil)

// NewFanout creates a fan-out over primary followed by secondary channels.
func NewFanout(primary flow.OrderNotifier, secondary ...flow.OrderNotifier) *Fanout {
	return &Fanout{channels: append([]flow.OrderNotifier{primary}, secondary...)}
}

// Len returns the number of channels.
func (f *Fanout) Len() int {
	return len(f.channels)
}

func (f *Fanout) NotifyOrder(ctx context.Context, order models.Order) error {
	var errs []error
	for i, ch := range f.channels {
		if err := ch.NotifyOrder(ctx, order); err != nil {
			if i == 0 {
				return fmt.Errorf("primary notification channel: %w", err)
			}
			slog.Warn("Fanout.NotifyOrder: secondary channel failed", "orderID", order.ID, "channel", fmt.Sprintf("%T", ch), "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		slog.Debug("Fanout.NotifyOrder: delivered with secondary failures", "orderID", order.ID, "failures", len(errs), "error", errors.Join(errs...))
	}
	return nil
}

// LogNotifier writes the notification text to the log. It is the fallback
// when no operator channel is configured.
type LogNotifier struct{}

func (LogNotifier) NotifyOrder(ctx context.Context, order models.Order) error {
	slog.Info("LogNotifier.NotifyOrder", "orderID", order.ID, "text", flow.FormatOrderNotification(order))
	return nil
}
