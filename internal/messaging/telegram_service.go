// Package messaging connects the flow engines to the Telegram Bot API.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/BTreeMap/OrderPipe/internal/flow"
	"github.com/BTreeMap/OrderPipe/internal/models"
)

const (
	// DefaultChannelBufferSize defines the buffer size of the events channel.
	DefaultChannelBufferSize = 100
	// DefaultPollTimeout is the long polling timeout in seconds.
	DefaultPollTimeout = 60
)

// botAPI is the subset of *tgbotapi.BotAPI the service uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Opts holds configuration options for the Telegram transport.
type Opts struct {
	Token       string
	Name        string // label used in logs and de-duplication keys
	PollTimeout int
	Debug       bool
}

// Option defines a configuration option for the Telegram transport.
type Option func(*Opts)

// WithToken sets the bot token issued by BotFather.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithName labels the bot, e.g. "customer" or "admin".
func WithName(name string) Option {
	return func(o *Opts) { o.Name = name }
}

// WithPollTimeout sets the long polling timeout in seconds.
func WithPollTimeout(seconds int) Option {
	return func(o *Opts) { o.PollTimeout = seconds }
}

// WithDebug enables request logging inside the Bot API client.
func WithDebug() Option {
	return func(o *Opts) { o.Debug = true }
}

// TelegramService implements Service over Bot API long polling.
type TelegramService struct {
	bot     botAPI
	name    string
	timeout int
	events  chan models.Event
	done    chan struct{}
	mu      sync.Mutex
	started bool
	stopped bool
}

// Compile-time check that TelegramService implements Service.
var _ Service = (*TelegramService)(nil)

// NewTelegramService authorizes the bot token and returns an unstarted service.
func NewTelegramService(opts ...Option) (*TelegramService, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token must be provided")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		slog.Error("TelegramService: authorization failed", "bot", cfg.Name, "error", err)
		return nil, fmt.Errorf("failed to authorize telegram bot %q: %w", cfg.Name, err)
	}
	bot.Debug = cfg.Debug
	slog.Info("TelegramService: authorized", "bot", cfg.Name, "username", bot.Self.UserName)
	return newTelegramService(bot, cfg), nil
}

func newTelegramService(bot botAPI, cfg Opts) *TelegramService {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	return &TelegramService{
		bot:     bot,
		name:    cfg.Name,
		timeout: cfg.PollTimeout,
		events:  make(chan models.Event, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}
}

// Name returns the bot label.
func (s *TelegramService) Name() string {
	return s.name
}

// Start begins long polling and decoding updates into events.
func (s *TelegramService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrServiceStopped
	}
	if s.started {
		return nil
	}
	s.started = true

	u := tgbotapi.NewUpdate(0)
	u.Timeout = s.timeout
	updates := s.bot.GetUpdatesChan(u)
	go s.pump(ctx, updates)
	slog.Info("TelegramService.Start: polling", "bot", s.name, "timeout", s.timeout)
	return nil
}

// Stop stops polling. The events channel is closed once the pump exits.
func (s *TelegramService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	if s.started {
		s.bot.StopReceivingUpdates()
	} else {
		close(s.events)
	}
	slog.Info("TelegramService.Stop: stopped", "bot", s.name)
	return nil
}

func (s *TelegramService) Events() <-chan models.Event {
	return s.events
}

func (s *TelegramService) pump(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer close(s.events)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case upd, ok := <-updates:
			if !ok {
				slog.Debug("TelegramService.pump: updates channel closed", "bot", s.name)
				return
			}
			ev, ok := s.toEvent(ctx, upd)
			if !ok {
				continue
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}
}

// toEvent decodes text messages and button presses; everything else is ignored.
func (s *TelegramService) toEvent(ctx context.Context, upd tgbotapi.Update) (models.Event, bool) {
	switch {
	case upd.CallbackQuery != nil:
		cq := upd.CallbackQuery
		if cq.Message == nil || cq.Message.Chat == nil {
			return models.Event{}, false
		}
		action, err := models.ParseAction(cq.Data)
		if err != nil {
			slog.Warn("TelegramService.toEvent: unknown callback payload", "bot", s.name, "chatID", cq.Message.Chat.ID, "error", err)
			if err := s.AnswerCallback(ctx, cq.ID); err != nil {
				slog.Debug("TelegramService.toEvent: answer failed", "bot", s.name, "error", err)
			}
			return models.Event{}, false
		}
		ev := models.ActionEvent(cq.Message.Chat.ID, action)
		ev.ID = int64(upd.UpdateID)
		ev.CallbackID = cq.ID
		return ev, true

	case upd.Message != nil && upd.Message.Chat != nil && upd.Message.Text != "":
		ev := models.TextEvent(upd.Message.Chat.ID, upd.Message.Text)
		ev.ID = int64(upd.UpdateID)
		ev.Time = time.Unix(int64(upd.Message.Date), 0)
		return ev, true
	}
	slog.Debug("TelegramService.toEvent: ignoring update", "bot", s.name, "updateID", upd.UpdateID)
	return models.Event{}, false
}

// Send renders the reply keyboard or inline keyboard and sends the message.
func (s *TelegramService) Send(ctx context.Context, reply models.Reply) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrServiceStopped
	}

	msg := tgbotapi.NewMessage(reply.ChatID, reply.Text)
	switch {
	case reply.Keyboard != nil:
		msg.ReplyMarkup = replyMarkup(reply.Keyboard)
	case reply.Inline != nil:
		msg.ReplyMarkup = inlineMarkup(reply.Inline)
	}
	if _, err := s.bot.Send(msg); err != nil {
		slog.Error("TelegramService.Send failed", "bot", s.name, "chatID", reply.ChatID, "error", err)
		return fmt.Errorf("failed to send message to %d: %w", reply.ChatID, err)
	}
	slog.Debug("TelegramService.Send: sent", "bot", s.name, "chatID", reply.ChatID, "text_length", len(reply.Text))
	return nil
}

func (s *TelegramService) AnswerCallback(ctx context.Context, callbackID string) error {
	if _, err := s.bot.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		return fmt.Errorf("failed to answer callback %s: %w", callbackID, err)
	}
	return nil
}

func (s *TelegramService) SetCommands(ctx context.Context, commands []flow.Command) error {
	cmds := make([]tgbotapi.BotCommand, 0, len(commands))
	for _, c := range commands {
		cmds = append(cmds, tgbotapi.BotCommand{Command: c.Name, Description: c.Description})
	}
	if _, err := s.bot.Request(tgbotapi.NewSetMyCommands(cmds...)); err != nil {
		slog.Error("TelegramService.SetCommands failed", "bot", s.name, "error", err)
		return fmt.Errorf("failed to set commands: %w", err)
	}
	slog.Info("TelegramService.SetCommands: menu published", "bot", s.name, "count", len(cmds))
	return nil
}

func replyMarkup(k *models.ReplyKeyboard) tgbotapi.ReplyKeyboardMarkup {
	rows := make([][]tgbotapi.KeyboardButton, 0, len(k.Rows))
	for _, row := range k.Rows {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
		}
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(buttons...))
	}
	markup := tgbotapi.NewReplyKeyboard(rows...)
	markup.OneTimeKeyboard = k.OneTime
	return markup
}

func inlineMarkup(k *models.InlineKeyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(k.Rows))
	for _, row := range k.Rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Payload))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
