// Package api bootstraps the OrderPipe process and serves its HTTP health surface.
//
// Run wires the catalog store, session stores, the customer and operator Telegram
// bots, the operator notification channels and the dispatchers, then blocks until
// the context is cancelled or the HTTP server fails.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BTreeMap/OrderPipe/internal/flow"
	"github.com/BTreeMap/OrderPipe/internal/lockfile"
	"github.com/BTreeMap/OrderPipe/internal/messaging"
	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/notify"
	"github.com/BTreeMap/OrderPipe/internal/store"
)

const (
	// DefaultOutboxPollInterval is how often pending operator notifications are retried.
	DefaultOutboxPollInterval = 5 * time.Second
	// DefaultShutdownTimeout bounds the graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	customerSessionPrefix = "orderpipe:session:customer:"
	adminSessionPrefix    = "orderpipe:session:admin:"
)

// Opts holds the process configuration.
type Opts struct {
	Addr          string
	StateDir      string // directory guarded by the single-instance lock
	CustomerToken string
	AdminToken    string // operator bot; the operator bot is disabled when empty
	AdminID       int64  // the only chat allowed to use the operator bot
	OrdersChatID  int64  // Telegram recipient of order notifications, defaults to AdminID
	Workers       int
	TelegramDebug bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration

	TwilioEnabled bool
	TwilioOpts    []notify.TwilioOption

	WhatsAppTo   string
	WhatsAppOpts []notify.WhatsAppOption

	KafkaBrokers []string
	KafkaTopic   string

	OutboxPollInterval time.Duration
}

// Option defines a configuration option for Run.
type Option func(*Opts)

// WithAddr sets the HTTP health server address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStateDir sets the directory holding the instance lock.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithCustomerToken sets the customer bot token.
func WithCustomerToken(token string) Option {
	return func(o *Opts) { o.CustomerToken = token }
}

// WithAdminToken enables the operator bot.
func WithAdminToken(token string) Option {
	return func(o *Opts) { o.AdminToken = token }
}

// WithAdminID sets the operator chat ID.
func WithAdminID(id int64) Option {
	return func(o *Opts) { o.AdminID = id }
}

// WithOrdersChatID overrides the chat receiving order notifications.
func WithOrdersChatID(id int64) Option {
	return func(o *Opts) { o.OrdersChatID = id }
}

// WithWorkers sets the number of dispatcher shards per bot.
func WithWorkers(n int) Option {
	return func(o *Opts) { o.Workers = n }
}

// WithTelegramDebug enables Bot API request logging.
func WithTelegramDebug() Option {
	return func(o *Opts) { o.TelegramDebug = true }
}

// WithRedis keeps sessions in Redis instead of process memory.
func WithRedis(addr, password string, db int) Option {
	return func(o *Opts) {
		o.RedisAddr = addr
		o.RedisPassword = password
		o.RedisDB = db
	}
}

// WithSessionTTL expires idle Redis sessions.
func WithSessionTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.SessionTTL = ttl }
}

// WithTwilio adds a Twilio SMS or WhatsApp notification channel.
func WithTwilio(opts ...notify.TwilioOption) Option {
	return func(o *Opts) {
		o.TwilioEnabled = true
		o.TwilioOpts = append(o.TwilioOpts, opts...)
	}
}

// WithWhatsApp adds a whatsmeow notification channel sending to the number to.
func WithWhatsApp(to string, opts ...notify.WhatsAppOption) Option {
	return func(o *Opts) {
		o.WhatsAppTo = to
		o.WhatsAppOpts = append(o.WhatsAppOpts, opts...)
	}
}

// WithKafka publishes order events to topic on brokers.
func WithKafka(brokers []string, topic string) Option {
	return func(o *Opts) {
		o.KafkaBrokers = brokers
		o.KafkaTopic = topic
	}
}

// WithOutboxPollInterval sets the outbox retry interval.
func WithOutboxPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.OutboxPollInterval = d }
}

// bot pairs a transport with the engine serving it.
type bot struct {
	name     string
	service  messaging.Service
	engine   flow.Engine
	commands []flow.Command
}

// Run starts every component and blocks until ctx is cancelled.
func Run(ctx context.Context, storeOpts []store.Option, opts ...Option) error {
	cfg := Opts{
		Addr:               DefaultAddr,
		Workers:            messaging.DefaultDispatchWorkers,
		OutboxPollInterval: DefaultOutboxPollInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.CustomerToken == "" {
		return fmt.Errorf("customer bot token must be provided")
	}
	if cfg.OrdersChatID == 0 {
		cfg.OrdersChatID = cfg.AdminID
	}
	slog.Debug("api.Run: configuration",
		"addr", cfg.Addr,
		"state_dir", cfg.StateDir,
		"admin_bot", cfg.AdminToken != "",
		"admin_id", cfg.AdminID,
		"orders_chat_id", cfg.OrdersChatID,
		"workers", cfg.Workers,
		"redis", cfg.RedisAddr != "",
		"twilio", cfg.TwilioEnabled,
		"whatsapp", cfg.WhatsAppTo != "",
		"kafka", len(cfg.KafkaBrokers) > 0)

	if cfg.StateDir != "" {
		lock, err := lockfile.AcquireLock(cfg.StateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	catalog, err := openCatalog(storeOpts...)
	if err != nil {
		return err
	}
	defer catalog.Close()

	customerSessions, adminSessions, closeSessions, err := openSessions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	serviceOpts := func(name, token string) []messaging.Option {
		o := []messaging.Option{messaging.WithName(name), messaging.WithToken(token)}
		if cfg.TelegramDebug {
			o = append(o, messaging.WithDebug())
		}
		return o
	}
	customerService, err := messaging.NewTelegramService(serviceOpts("customer", cfg.CustomerToken)...)
	if err != nil {
		return err
	}

	channels, closeChannels, err := openChannels(ctx, cfg, customerService)
	if err != nil {
		return err
	}
	defer closeChannels()
	notifier, sender := withOutbox(catalog, channels, cfg.OutboxPollInterval)

	bots := []bot{{
		name:     "customer",
		service:  customerService,
		engine:   flow.NewCustomerFlow(catalog, customerSessions, notifier),
		commands: flow.CustomerCommands,
	}}
	if cfg.AdminToken != "" {
		if cfg.AdminID == 0 {
			slog.Warn("api.Run: operator bot enabled without an operator chat ID; every chat will be refused")
		}
		adminService, err := messaging.NewTelegramService(serviceOpts("admin", cfg.AdminToken)...)
		if err != nil {
			return err
		}
		bots = append(bots, bot{
			name:     "admin",
			service:  adminService,
			engine:   flow.NewAdminFlow(catalog, adminSessions, cfg.AdminID),
			commands: flow.AdminCommands,
		})
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	if sender != nil {
		if err := sender.RecoverStaleMessages(runCtx); err != nil {
			slog.Warn("api.Run: failed to recover stale outbox messages", "error", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sender.Run(runCtx)
		}()
	}

	dedup, _ := catalog.(store.DedupRepo)
	for _, b := range bots {
		if err := b.service.SetCommands(runCtx, b.commands); err != nil {
			slog.Warn("api.Run: failed to register bot commands", "bot", b.name, "error", err)
		}
		if err := b.service.Start(runCtx); err != nil {
			return fmt.Errorf("start %s bot: %w", b.name, err)
		}
		defer b.service.Stop()

		d := messaging.NewDispatcher(b.service, b.engine, dispatcherOpts(b.name, cfg.Workers, dedup)...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Run(runCtx)
		}()
	}

	server := NewServer(cfg.Addr, catalog)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()
	slog.Info("api.Run: OrderPipe is running", "bots", len(bots), "addr", server.Addr())

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("api.Run: shutting down")
	case runErr = <-serverErr:
		if runErr != nil {
			runErr = fmt.Errorf("http server: %w", runErr)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api.Run: graceful HTTP shutdown failed", "error", err)
	}
	for _, b := range bots {
		b.service.Stop()
	}
	cancel()
	wg.Wait()
	return runErr
}

func dispatcherOpts(name string, workers int, dedup store.DedupRepo) []messaging.DispatcherOption {
	opts := []messaging.DispatcherOption{messaging.WithDispatcherName(name), messaging.WithWorkers(workers)}
	if dedup != nil {
		opts = append(opts, messaging.WithDedup(dedup))
	}
	return opts
}

// openCatalog picks the backend from the DSN: none means an in-memory catalog.
func openCatalog(opts ...store.Option) (store.Catalog, error) {
	var cfg store.Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Warn("api.openCatalog: no database configured, catalog is kept in memory")
		return store.NewInMemoryStore(), nil
	case store.DetectDSNType(cfg.DSN) == "postgres":
		slog.Debug("api.openCatalog: using PostgreSQL")
		return store.NewPostgresStore(opts...)
	default:
		slog.Debug("api.openCatalog: using SQLite", "path", cfg.DSN)
		return store.NewSQLiteStore(opts...)
	}
}

// openSessions returns Redis-backed session stores when configured, in-memory ones otherwise.
func openSessions(ctx context.Context, cfg Opts) (flow.SessionStore[models.ChatSession], flow.SessionStore[models.AdminSession], func(), error) {
	if cfg.RedisAddr == "" {
		slog.Debug("api.openSessions: using in-memory sessions")
		return flow.NewMemorySessionStore(models.NewChatSession),
			flow.NewMemorySessionStore(models.NewAdminSession),
			func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	slog.Info("api.openSessions: using Redis sessions", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.SessionTTL)
	return flow.NewRedisSessionStore(client, customerSessionPrefix, cfg.SessionTTL, models.NewChatSession),
		flow.NewRedisSessionStore(client, adminSessionPrefix, cfg.SessionTTL, models.NewAdminSession),
		func() { client.Close() }, nil
}

// openChannels builds the operator notification fan-out. The Telegram chat is
// primary when configured; every other channel is best effort.
func openChannels(ctx context.Context, cfg Opts, service messaging.Service) (flow.OrderNotifier, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var primary flow.OrderNotifier = notify.LogNotifier{}
	if cfg.OrdersChatID != 0 {
		primary = notify.NewTelegramNotifier(service, cfg.OrdersChatID)
	} else {
		slog.Warn("api.openChannels: no orders chat configured, orders are only logged")
	}

	var secondary []flow.OrderNotifier
	if cfg.TwilioEnabled {
		n, err := notify.NewTwilioNotifier(cfg.TwilioOpts...)
		if err != nil {
			return nil, func() {}, fmt.Errorf("twilio notifier: %w", err)
		}
		secondary = append(secondary, n)
	}
	if cfg.WhatsAppTo != "" {
		client, err := notify.NewWhatsAppClient(ctx, cfg.WhatsAppOpts...)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("whatsapp notifier: %w", err)
		}
		closers = append(closers, client.Close)
		secondary = append(secondary, notify.NewWhatsAppNotifier(client, cfg.WhatsAppTo))
	}
	if len(cfg.KafkaBrokers) > 0 {
		n := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		closers = append(closers, func() {
			if err := n.Close(); err != nil {
				slog.Warn("api.openChannels: failed to close kafka writer", "error", err)
			}
		})
		secondary = append(secondary, n)
	}

	fanout := notify.NewFanout(primary, secondary...)
	slog.Debug("api.openChannels: notification channels ready", "channels", fanout.Len())
	return fanout, closeAll, nil
}

// withOutbox routes notifications through the durable outbox when the catalog
// backend provides one.
func withOutbox(catalog store.Catalog, channels flow.OrderNotifier, pollInterval time.Duration) (flow.OrderNotifier, *store.OutboxSender) {
	repo, ok := catalog.(store.OutboxRepo)
	if !ok {
		slog.Debug("api.withOutbox: catalog has no outbox, notifying directly")
		return channels, nil
	}
	sender := store.NewOutboxSender(repo, notify.Deliverer(channels), pollInterval)
	return notify.NewOutboxNotifier(repo), sender
}
