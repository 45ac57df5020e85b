package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/OrderPipe/internal/flow"
	"github.com/BTreeMap/OrderPipe/internal/models"
)

const whatsappPrefix = "whatsapp:"

// messageCreator is the part of the Twilio REST API the notifier uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioOpts holds configuration options for the Twilio notifier.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	From       string // "+1234567890" for SMS, "whatsapp:+1234567890" for WhatsApp
	To         string
}

// TwilioOption defines a configuration option for the Twilio notifier.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFrom sets the sending number. A "whatsapp:" prefix selects WhatsApp delivery.
func WithFrom(from string) TwilioOption {
	return func(o *TwilioOpts) { o.From = from }
}

// WithTo sets the operator's phone number.
func WithTo(to string) TwilioOption {
	return func(o *TwilioOpts) { o.To = to }
}

// TwilioNotifier sends the order text as an SMS or WhatsApp message via Twilio.
type TwilioNotifier struct {
	api  messageCreator
	from string
	to   string
}

// NewTwilioNotifier creates a Twilio notifier. Missing credentials fall back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewTwilioNotifier(opts ...TwilioOption) (*TwilioNotifier, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio notifier config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"To_set", cfg.To != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" || cfg.To == "" {
		return nil, fmt.Errorf("from and to numbers must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioNotifier(client.Api, cfg.From, cfg.To), nil
}

func newTwilioNotifier(api messageCreator, from, to string) *TwilioNotifier {
	if strings.HasPrefix(from, whatsappPrefix) && !strings.HasPrefix(to, whatsappPrefix) {
		to = whatsappPrefix + to
	}
	return &TwilioNotifier{api: api, from: from, to: to}
}

func (n *TwilioNotifier) NotifyOrder(ctx context.Context, order models.Order) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(n.to)
	params.SetFrom(n.from)
	params.SetBody(flow.FormatOrderNotification(order))

	if _, err := n.api.CreateMessage(params); err != nil {
		slog.Error("TwilioNotifier.NotifyOrder failed", "orderID", order.ID, "to", n.to, "error", err)
		return fmt.Errorf("failed to send order %s to %s: %w", order.ID, n.to, err)
	}
	slog.Info("TwilioNotifier.NotifyOrder: sent", "orderID", order.ID, "to", n.to)
	return nil
}
