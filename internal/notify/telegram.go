package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/OrderPipe/internal/flow"
	"github.com/BTreeMap/OrderPipe/internal/messaging"
	"github.com/BTreeMap/OrderPipe/internal/models"
)

// TelegramNotifier posts the order text to a fixed chat through a bot transport.
type TelegramNotifier struct {
	service messaging.Service
	chatID  int64
}

// NewTelegramNotifier creates a notifier that writes to chatID.
func NewTelegramNotifier(service messaging.Service, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{service: service, chatID: chatID}
}

func (n *TelegramNotifier) NotifyOrder(ctx context.Context, order models.Order) error {
	reply := models.Reply{ChatID: n.chatID, Text: flow.FormatOrderNotification(order)}
	if err := n.service.Send(ctx, reply); err != nil {
		return fmt.Errorf("telegram notification for order %s: %w", order.ID, err)
	}
	slog.Info("TelegramNotifier.NotifyOrder: sent", "orderID", order.ID, "chatID", n.chatID)
	return nil
}
