package messaging

import (
	"context"
	"errors"

	"github.com/BTreeMap/OrderPipe/internal/flow"
	"github.com/BTreeMap/OrderPipe/internal/models"
)

// ErrServiceStopped is returned by Send after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable chat transport.
// It delivers replies with their keyboards and exposes inbound events on a channel.
type Service interface {
	// Send delivers a reply and its keyboard to reply.ChatID.
	Send(ctx context.Context, reply models.Reply) error

	// AnswerCallback acknowledges a button press so the client stops its spinner.
	AnswerCallback(ctx context.Context, callbackID string) error

	// SetCommands publishes the bot command menu.
	SetCommands(ctx context.Context, commands []flow.Command) error

	// Start begins receiving inbound events.
	Start(ctx context.Context) error

	// Stop stops receiving and closes the Events channel.
	Stop() error

	// Events returns a channel of decoded inbound events.
	Events() <-chan models.Event
}
