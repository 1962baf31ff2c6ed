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

	"github.com/joho/godotenv"

	"github.com/telepharma-bw/intakebot/internal/api"
	"github.com/telepharma-bw/intakebot/internal/flow"
	"github.com/telepharma-bw/intakebot/internal/lockfile"
	"github.com/telepharma-bw/intakebot/internal/media"
	"github.com/telepharma-bw/intakebot/internal/messaging"
	"github.com/telepharma-bw/intakebot/internal/store"
	"github.com/telepharma-bw/intakebot/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for intake service state data
	DefaultStateDir = "/var/lib/intakebot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "intakebot.db"
	// DefaultMediaDirName is the default prescription image directory inside the state dir
	DefaultMediaDirName = "media"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	gateway, err := buildGateway(flags)
	if err != nil {
		slog.Error("Failed to initialize messaging gateway", "error", err)
		os.Exit(1)
	}

	mediaStore, err := media.NewStorage(*flags.mediaDir)
	if err != nil {
		slog.Error("Failed to initialize media storage", "error", err)
		os.Exit(1)
	}

	engine := flow.NewEngine(st, gateway, mediaStore)
	server := api.NewServer(engine, st, buildAPIOptions(flags)...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping intake service",
		"state_dir", *flags.stateDir,
		"backend", *flags.backend,
		"dsn_set", *flags.dbDSN != "",
		"api_addr", *flags.apiAddr)
	if err := server.Run(ctx); err != nil {
		slog.Error("Intake service failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("Intake service exited successfully")
}

// Config holds environment configuration
type Config struct {
	VerifyToken   string
	AccessToken   string
	PhoneNumberID string
	APIBaseURL    string
	DatabaseURL   string
	StateDir      string
	MediaDir      string
	APIAddr       string
	Backend       string
	TwilioSID     string
	TwilioToken   string
	TwilioFrom    string
	Debug         bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	mediaDir      *string
	apiAddr       *string
	verifyToken   *string
	backend       *string
	accessToken   *string
	phoneNumberID *string
	apiBaseURL    *string
	twilioSID     *string
	twilioToken   *string
	twilioFrom    *string
}

// initializeLogger sets up structured logging. Level is debug unless
// INTAKEBOT_DEBUG disables it.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("INTAKEBOT_DEBUG", true) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		VerifyToken:   util.GetenvDefault("WEBHOOK_VERIFY_TOKEN", os.Getenv("VERIFY_TOKEN")),
		AccessToken:   os.Getenv("WHATSAPP_ACCESS_TOKEN"),
		PhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
		APIBaseURL:    os.Getenv("WHATSAPP_API_BASE_URL"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("INTAKEBOT_STATE_DIR"),
		MediaDir:      os.Getenv("INTAKEBOT_MEDIA_DIR"),
		APIAddr:       os.Getenv("API_ADDR"),
		Backend:       os.Getenv("MESSAGING_BACKEND"),
		TwilioSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:    os.Getenv("TWILIO_FROM_NUMBER"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No INTAKEBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("INTAKEBOT_STATE_DIR found in environment", "state_dir", config.StateDir)
	}
	if config.MediaDir == "" {
		config.MediaDir = filepath.Join(config.StateDir, DefaultMediaDirName)
	}
	if config.Backend == "" {
		config.Backend = "whatsapp"
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"WEBHOOK_VERIFY_TOKEN_SET", config.VerifyToken != "",
		"WHATSAPP_ACCESS_TOKEN_SET", config.AccessToken != "",
		"WHATSAPP_PHONE_NUMBER_ID_SET", config.PhoneNumberID != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"INTAKEBOT_STATE_DIR", config.StateDir,
		"MESSAGING_BACKEND", config.Backend,
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for intake service data (overrides $INTAKEBOT_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN, Postgres URL or SQLite file path (overrides $DATABASE_URL)"),
		mediaDir:      flag.String("media-dir", config.MediaDir, "directory for stored prescription images (overrides $INTAKEBOT_MEDIA_DIR)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "webhook server address (overrides $API_ADDR)"),
		verifyToken:   flag.String("verify-token", config.VerifyToken, "webhook handshake verification token (overrides $WEBHOOK_VERIFY_TOKEN)"),
		backend:       flag.String("backend", config.Backend, "messaging backend, whatsapp or twilio (overrides $MESSAGING_BACKEND)"),
		accessToken:   flag.String("access-token", config.AccessToken, "WhatsApp Cloud API access token (overrides $WHATSAPP_ACCESS_TOKEN)"),
		phoneNumberID: flag.String("phone-number-id", config.PhoneNumberID, "WhatsApp Cloud API phone number id (overrides $WHATSAPP_PHONE_NUMBER_ID)"),
		apiBaseURL:    flag.String("api-base-url", config.APIBaseURL, "WhatsApp Graph API base URL (overrides $WHATSAPP_API_BASE_URL)"),
		twilioSID:     flag.String("twilio-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:   flag.String("twilio-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:    flag.String("twilio-from", config.TwilioFrom, "Twilio WhatsApp sender, whatsapp:+267... (overrides $TWILIO_FROM_NUMBER)"),
	}

	flag.Parse()

	// Re-anchor the SQLite path if only the state directory changed.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}
	if *flags.mediaDir == filepath.Join(config.StateDir, DefaultMediaDirName) && *flags.stateDir != config.StateDir {
		*flags.mediaDir = filepath.Join(*flags.stateDir, DefaultMediaDirName)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"mediaDir", *flags.mediaDir,
		"apiAddr", *flags.apiAddr,
		"backend", *flags.backend,
		"verifyToken_set", *flags.verifyToken != "")

	return flags
}

// isPostgresDSN reports whether a DSN targets Postgres rather than a SQLite file path.
func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=")
}

// buildStore opens the configured storage backend.
func buildStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Warn("No database DSN configured, using in-memory store; state is lost on restart")
		return store.NewInMemoryStore(), nil
	}
	if isPostgresDSN(*flags.dbDSN) {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildGateway constructs the configured messaging backend.
func buildGateway(flags Flags) (messaging.Service, error) {
	switch *flags.backend {
	case "twilio":
		return messaging.NewTwilioService(
			messaging.WithAccountSID(*flags.twilioSID),
			messaging.WithAuthToken(*flags.twilioToken),
			messaging.WithFromWhats(*flags.twilioFrom),
		)
	default:
		var opts []messaging.CloudAPIOption
		opts = append(opts,
			messaging.WithAccessToken(*flags.accessToken),
			messaging.WithPhoneNumberID(*flags.phoneNumberID),
		)
		if *flags.apiBaseURL != "" {
			opts = append(opts, messaging.WithBaseURL(*flags.apiBaseURL))
		}
		return messaging.NewCloudAPIService(opts...)
	}
}

// buildAPIOptions constructs webhook server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.verifyToken != "" {
		apiOpts = append(apiOpts, api.WithVerifyToken(*flags.verifyToken))
	}
	return apiOpts
}
