package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/OrderPipe/internal/api"
	"github.com/BTreeMap/OrderPipe/internal/messaging"
	"github.com/BTreeMap/OrderPipe/internal/notify"
	"github.com/BTreeMap/OrderPipe/internal/store"
	"github.com/BTreeMap/OrderPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for OrderPipe state data
	DefaultStateDir = "/var/lib/orderpipe"
	// DefaultDBFileName is the default SQLite catalog filename
	DefaultDBFileName = "orderpipe.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// InMemoryDSN keeps the catalog in process memory
	InMemoryDSN = "memory"
)

// logLevel is adjusted once LOG_LEVEL is known.
var logLevel = new(slog.LevelVar)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	logLevel.Set(parseLogLevel(*flags.logLevel))

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	storeOpts := buildStoreOptions(flags)
	apiOpts := buildAPIOptions(config, flags)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping OrderPipe with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "api", len(apiOpts))
	if err := api.Run(ctx, storeOpts, apiOpts...); err != nil {
		slog.Error("OrderPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("OrderPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	Token        string
	AdminToken   string
	AdminID      int64
	OrdersChatID int64
	APIAddr      string
	DatabaseURL  string
	StateDir     string
	LogLevel     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	SMSTo            string

	WhatsAppTo  string
	WhatsAppDSN string

	KafkaBrokers []string
	KafkaTopic   string

	DispatchWorkers    int
	OutboxPollInterval time.Duration
	TelegramDebug      bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	apiAddr       *string
	adminID       *int64
	ordersChatID  *int64
	workers       *int
	redisAddr     *string
	kafkaBrokers  *string
	kafkaTopic    *string
	smsTo         *string
	whatsappTo    *string
	whatsappDSN   *string
	qrOutput      *string
	numeric       *bool
	logLevel      *string
	telegramDebug *bool
}

// initializeLogger installs a text handler on stdout; the level starts at debug.
func initializeLogger() {
	logLevel.Set(slog.LevelDebug)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Token:        os.Getenv("TOKEN"),
		AdminToken:   os.Getenv("ADMIN_TOKEN"),
		AdminID:      util.ParseInt64Env("ADMIN_ID_ORDERS", 0),
		OrdersChatID: util.ParseInt64Env("ORDERS_CHAT_ID", 0),
		APIAddr:      os.Getenv("API_ADDR"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("ORDERPIPE_STATE_DIR"),
		LogLevel:     os.Getenv("LOG_LEVEL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       util.ParseIntEnv("REDIS_DB", 0),
		SessionTTL:    util.ParseDurationEnv("SESSION_TTL", 0),

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		SMSTo:            os.Getenv("NOTIFY_SMS_TO"),

		WhatsAppTo:  os.Getenv("WHATSAPP_NOTIFY_TO"),
		WhatsAppDSN: os.Getenv("WHATSAPP_DB_DSN"),

		KafkaBrokers: util.ParseListEnv("KAFKA_BROKERS"),
		KafkaTopic:   os.Getenv("KAFKA_ORDERS_TOPIC"),

		DispatchWorkers:    util.ParseIntEnv("DISPATCH_WORKERS", messaging.DefaultDispatchWorkers),
		OutboxPollInterval: util.ParseDurationEnv("OUTBOX_POLL_INTERVAL", api.DefaultOutboxPollInterval),
		TelegramDebug:      util.ParseBoolEnv("TELEGRAM_DEBUG", false),
	}

	// PORT is what hosting platforms set; API_ADDR wins when both are present.
	if config.APIAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			config.APIAddr = ":" + port
		} else {
			config.APIAddr = api.DefaultAddr
		}
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ORDERPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}

	slog.Debug("environment variables loaded",
		"TOKEN_SET", config.Token != "",
		"ADMIN_TOKEN_SET", config.AdminToken != "",
		"ADMIN_ID_ORDERS", config.AdminID,
		"ORDERS_CHAT_ID", config.OrdersChatID,
		"API_ADDR", config.APIAddr,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"ORDERPIPE_STATE_DIR", config.StateDir,
		"REDIS_ADDR", config.RedisAddr,
		"TWILIO_SET", config.TwilioAccountSID != "",
		"WHATSAPP_NOTIFY_TO_SET", config.WhatsAppTo != "",
		"KAFKA_BROKERS", config.KafkaBrokers,
		"DISPATCH_WORKERS", config.DispatchWorkers)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	flags := Flags{
		stateDir:      fs.String("state-dir", config.StateDir, "state directory for OrderPipe data (overrides $ORDERPIPE_STATE_DIR)"),
		dbDSN:         fs.String("db-dsn", config.DatabaseURL, "catalog database: PostgreSQL DSN, SQLite path or \"memory\" (overrides $DATABASE_URL)"),
		apiAddr:       fs.String("api-addr", config.APIAddr, "health server address (overrides $API_ADDR and $PORT)"),
		adminID:       fs.Int64("admin-id", config.AdminID, "operator chat ID (overrides $ADMIN_ID_ORDERS)"),
		ordersChatID:  fs.Int64("orders-chat-id", config.OrdersChatID, "chat receiving order notifications (overrides $ORDERS_CHAT_ID)"),
		workers:       fs.Int("workers", config.DispatchWorkers, "dispatcher shards per bot (overrides $DISPATCH_WORKERS)"),
		redisAddr:     fs.String("redis-addr", config.RedisAddr, "Redis address for sessions (overrides $REDIS_ADDR)"),
		kafkaBrokers:  fs.String("kafka-brokers", strings.Join(config.KafkaBrokers, ","), "comma-separated Kafka brokers (overrides $KAFKA_BROKERS)"),
		kafkaTopic:    fs.String("kafka-topic", config.KafkaTopic, "Kafka topic for order events (overrides $KAFKA_ORDERS_TOPIC)"),
		smsTo:         fs.String("sms-to", config.SMSTo, "operator number for Twilio notifications (overrides $NOTIFY_SMS_TO)"),
		whatsappTo:    fs.String("whatsapp-to", config.WhatsAppTo, "operator number for WhatsApp notifications (overrides $WHATSAPP_NOTIFY_TO)"),
		whatsappDSN:   fs.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow device database (overrides $WHATSAPP_DB_DSN)"),
		qrOutput:      fs.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:       fs.Bool("numeric-code", false, "print the WhatsApp login code instead of a QR code"),
		logLevel:      fs.String("log-level", config.LogLevel, "debug, info, warn or error (overrides $LOG_LEVEL)"),
		telegramDebug: fs.Bool("telegram-debug", config.TelegramDebug, "log Bot API requests (overrides $TELEGRAM_DEBUG)"),
	}

	if err := fs.Parse(args); err != nil {
		slog.Warn("failed to parse flags", "error", err)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"adminID", *flags.adminID,
		"ordersChatID", *flags.ordersChatID,
		"workers", *flags.workers,
		"redisAddr", *flags.redisAddr,
		"kafkaBrokers", *flags.kafkaBrokers,
		"logLevel", *flags.logLevel)

	// Follow a changed state directory when the DSN still points at the default SQLite file
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// isFileDSN reports a SQLite catalog whose directory must exist.
func isFileDSN(dsn string) bool {
	return dsn != "" && dsn != InMemoryDSN && store.DetectDSNType(dsn) == "sqlite3"
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if isFileDSN(*flags.dbDSN) {
		dirs = append(dirs, filepath.Dir(*flags.dbDSN))
	}
	for _, dir := range dirs {
		slog.Debug("Creating state directory", "dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	dsn := *flags.dbDSN
	switch {
	case dsn == "" || dsn == InMemoryDSN:
		slog.Debug("In-memory catalog requested")
		return nil
	case store.DetectDSNType(dsn) == "postgres":
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		return []store.Option{store.WithPostgresDSN(dsn)}
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
		return []store.Option{store.WithSQLiteDSN(dsn)}
	}
}

// buildAPIOptions constructs the bootstrap options
func buildAPIOptions(config Config, flags Flags) []api.Option {
	apiOpts := []api.Option{
		api.WithAddr(*flags.apiAddr),
		api.WithStateDir(*flags.stateDir),
		api.WithCustomerToken(config.Token),
		api.WithAdminID(*flags.adminID),
		api.WithOrdersChatID(*flags.ordersChatID),
		api.WithWorkers(*flags.workers),
		api.WithOutboxPollInterval(config.OutboxPollInterval),
	}
	if config.AdminToken != "" {
		apiOpts = append(apiOpts, api.WithAdminToken(config.AdminToken))
	}
	if *flags.telegramDebug {
		apiOpts = append(apiOpts, api.WithTelegramDebug())
	}
	if *flags.redisAddr != "" {
		apiOpts = append(apiOpts, api.WithRedis(*flags.redisAddr, config.RedisPassword, config.RedisDB), api.WithSessionTTL(config.SessionTTL))
	}
	if *flags.smsTo != "" {
		apiOpts = append(apiOpts, api.WithTwilio(
			notify.WithAccountSID(config.TwilioAccountSID),
			notify.WithAuthToken(config.TwilioAuthToken),
			notify.WithFrom(config.TwilioFrom),
			notify.WithTo(*flags.smsTo),
		))
	}
	if *flags.whatsappTo != "" {
		apiOpts = append(apiOpts, api.WithWhatsApp(*flags.whatsappTo, buildWhatsAppOptions(flags)...))
	}
	if brokers := splitList(*flags.kafkaBrokers); len(brokers) > 0 {
		apiOpts = append(apiOpts, api.WithKafka(brokers, *flags.kafkaTopic))
	}
	return apiOpts
}

// buildWhatsAppOptions constructs whatsmeow device options
func buildWhatsAppOptions(flags Flags) []notify.WhatsAppOption {
	waOpts := []notify.WhatsAppOption{notify.WithWhatsAppDBDSN(*flags.whatsappDSN)}
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, notify.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, notify.WithNumericCode())
	}
	return waOpts
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
