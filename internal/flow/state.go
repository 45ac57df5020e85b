// Package flow implements the conversational state machines that drive the
// customer ordering chat and the operator catalog chat.
package flow

import (
	"context"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// SessionStore holds per-chat working state. Get returns a fresh default
// session for unknown chats; changes are kept only after Put.
type SessionStore[T any] interface {
	Get(ctx context.Context, chatID int64) (*T, error)
	Put(ctx context.Context, chatID int64, session *T) error
	Reset(ctx context.Context, chatID int64) error
}

// Engine interprets one inbound event for a chat and returns the replies to send.
// Returned errors are catalog or session store failures; the caller answers them
// with FailureReply.
type Engine interface {
	Handle(ctx context.Context, ev models.Event) ([]models.Reply, error)
	FailureReply(chatID int64) models.Reply
}

// OrderNotifier delivers placed orders to the operator channel.
type OrderNotifier interface {
	NotifyOrder(ctx context.Context, order models.Order) error
}
