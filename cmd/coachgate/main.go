package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hcpsim/coachgate/internal/api"
	"github.com/hcpsim/coachgate/internal/pipeline"
	"github.com/hcpsim/coachgate/internal/provider"
	"github.com/hcpsim/coachgate/internal/session"
	"github.com/hcpsim/coachgate/internal/util"
)

// Default configuration constants
const (
	// DefaultAPIAddr is the default listen address for the API server.
	DefaultAPIAddr = ":8080"
	// DefaultSQLitePath is the default SQLite database path for session state.
	DefaultSQLitePath = "/var/lib/coachgate/coachgate.db"
	// DefaultShutdownGrace bounds graceful shutdown after SIGINT/SIGTERM.
	DefaultShutdownGrace = 15 * time.Second
	// DefaultTemperature is the sampling temperature sent to the provider
	// when PROVIDER_TEMPERATURE is unset.
	DefaultTemperature = 0.7
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("CoachGate failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CoachGate exited successfully")
}

// Config holds environment configuration
type Config struct {
	OpenAIKey       string
	OpenAIBaseURL   string
	Model           string
	APIAddr         string
	SessionStore    string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	DatabaseURL     string
	SQLitePath      string
	RequestDeadline time.Duration
	ProviderTimeout time.Duration
	RetryBase       time.Duration
	MaxTokens       int
	Temperature     float64
}

// Flags holds command line flag values
type Flags struct {
	openaiKey    *string
	model        *string
	apiAddr      *string
	sessionStore *string
	dbDSN        *string
	config       Config
}

// initializeLogger sets up structured logging at the level named by
// $LOG_LEVEL (debug, info, warn, error), defaulting to info.
func initializeLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
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
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		Model:           os.Getenv("COACHGATE_MODEL"),
		APIAddr:         os.Getenv("API_ADDR"),
		SessionStore:    os.Getenv("SESSION_STORE"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         util.ParseIntEnv("REDIS_DB", 0),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      os.Getenv("SQLITE_PATH"),
		RequestDeadline: util.ParseDurationEnv("REQUEST_DEADLINE", api.DefaultRequestDeadline),
		ProviderTimeout: util.ParseDurationEnv("PROVIDER_TIMEOUT", provider.DefaultTimeout),
		RetryBase:       util.ParseDurationEnv("PROVIDER_RETRY_BASE", provider.DefaultRetryBase),
		MaxTokens:       util.ParseIntEnv("PROVIDER_MAX_TOKENS", 1024),
		Temperature:     util.ParseFloatEnv("PROVIDER_TEMPERATURE", DefaultTemperature),
	}

	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}
	if config.SQLitePath == "" {
		config.SQLitePath = DefaultSQLitePath
	}

	slog.Debug("environment variables loaded",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_BASE_URL_SET", config.OpenAIBaseURL != "",
		"COACHGATE_MODEL", config.Model,
		"API_ADDR", config.APIAddr,
		"SESSION_STORE", config.SessionStore,
		"REDIS_ADDR_SET", config.RedisAddr != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REQUEST_DEADLINE", config.RequestDeadline,
		"PROVIDER_TIMEOUT", config.ProviderTimeout)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		model:        flag.String("model", config.Model, "completion model name (overrides $COACHGATE_MODEL)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		sessionStore: flag.String("session-store", config.SessionStore, "session store backend: redis, sqlite, postgres, or memory (overrides $SESSION_STORE)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "Postgres DSN for session state (overrides $DATABASE_URL)"),
		config:       config,
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"openaiKeySet", *flags.openaiKey != "",
		"model", *flags.model,
		"apiAddr", *flags.apiAddr,
		"sessionStore", *flags.sessionStore,
		"dbDSN_set", *flags.dbDSN != "")

	return flags
}

// buildSessionStore selects the session state backend. Any backend
// failure falls back to the in-process memory store so the gateway
// still serves turns with single-instance loop guarding.
func buildSessionStore(ctx context.Context, flags Flags) session.Store {
	backend := strings.ToLower(*flags.sessionStore)
	if backend == "" {
		backend = "memory"
	}

	switch backend {
	case "redis":
		store, err := session.NewRedisStore(ctx, flags.config.RedisAddr, flags.config.RedisPassword, flags.config.RedisDB)
		if err == nil {
			slog.Info("buildSessionStore: using Redis session store", "addr", flags.config.RedisAddr)
			return store
		}
		slog.Warn("buildSessionStore: Redis unavailable, falling back to memory store", "error", err)
	case "sqlite":
		store, err := session.NewSQLiteStore(flags.config.SQLitePath)
		if err == nil {
			slog.Info("buildSessionStore: using SQLite session store", "path", flags.config.SQLitePath)
			return store
		}
		slog.Warn("buildSessionStore: SQLite unavailable, falling back to memory store", "error", err)
	case "postgres":
		store, err := session.NewPostgresStore(*flags.dbDSN)
		if err == nil {
			slog.Info("buildSessionStore: using Postgres session store")
			return store
		}
		slog.Warn("buildSessionStore: Postgres unavailable, falling back to memory store", "error", err)
	case "memory":
		// explicit selection, no warning
	default:
		slog.Warn("buildSessionStore: unknown session store backend, using memory", "backend", backend)
	}

	slog.Info("buildSessionStore: using in-memory session store")
	return session.NewMemoryStore()
}

// buildProviderOptions constructs completion client options from flags.
func buildProviderOptions(flags Flags) []provider.Option {
	var opts []provider.Option
	if flags.config.OpenAIBaseURL != "" {
		opts = append(opts, provider.WithBaseURL(*flags.openaiKey, flags.config.OpenAIBaseURL))
	} else if *flags.openaiKey != "" {
		opts = append(opts, provider.WithAPIKey(*flags.openaiKey))
	}
	if *flags.model != "" {
		opts = append(opts, provider.WithModel(*flags.model))
	}
	opts = append(opts,
		provider.WithTimeout(flags.config.ProviderTimeout),
		provider.WithRetryBase(flags.config.RetryBase))
	return opts
}

func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := provider.NewClient(buildProviderOptions(flags)...)
	if err != nil {
		return err
	}

	store := buildSessionStore(ctx, flags)
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("run: failed to close session store", "error", err)
		}
	}()

	sendOpts := provider.SendOptions{
		MaxTokens:   int64(flags.config.MaxTokens),
		Temperature: &flags.config.Temperature,
	}
	pl := pipeline.New(client, session.NewGuard(store), sendOpts)

	server := api.NewServer(pl, store, api.Options{
		Addr:            *flags.apiAddr,
		RequestDeadline: flags.config.RequestDeadline,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("run: shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownGrace)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
