package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/WellnessPipe/internal/api"
	"github.com/BTreeMap/WellnessPipe/internal/flow"
	"github.com/BTreeMap/WellnessPipe/internal/genai"
	"github.com/BTreeMap/WellnessPipe/internal/lockfile"
	"github.com/BTreeMap/WellnessPipe/internal/store"
	"github.com/BTreeMap/WellnessPipe/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for WellnessPipe state data
	DefaultStateDir = "/var/lib/wellnesspipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "wellnesspipe.db"
	// DefaultStageConfigFile is the prompt configuration shipped with the repository
	DefaultStageConfigFile = "configs/stages.yaml"
	// DefaultAPIAddr is the default listen address
	DefaultAPIAddr = ":8080"
	// DefaultSweepInterval is how often idle SQL sessions are purged
	DefaultSweepInterval = time.Hour
)

// LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Completion policies.
const (
	PolicyTurnCeiling    = "turn-ceiling"
	PolicyRequiredFields = "required-fields"
)

// Config holds environment configuration
type Config struct {
	StateDir          string
	DatabaseURL       string
	RedisAddr         string
	LLMProvider       string
	OpenAIKey         string
	GeminiKey         string
	LLMModel          string
	StageConfigFile   string
	APIAddr           string
	CompletionPolicy  string
	LogLevel          string
	SessionTTL        time.Duration
	LLMRequestTimeout time.Duration
	MaxStageTurns     int
	GenAIDebug        bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir          *string
	dbDSN             *string
	redisAddr         *string
	llmProvider       *string
	openaiKey         *string
	geminiKey         *string
	llmModel          *string
	stageConfig       *string
	apiAddr           *string
	completionPolicy  *string
	logLevel          *string
	sessionTTL        *time.Duration
	llmRequestTimeout *time.Duration
	maxStageTurns     *int
	genaiDebug        *bool
}

func main() {
	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		os.Exit(2)
	}
	initializeLogger(*flags.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping WellnessPipe")
	if err := run(ctx, flags); err != nil {
		var lockErr *lockfile.LockError
		if errors.As(err, &lockErr) {
			fmt.Fprintln(os.Stderr, lockErr.Error())
		}
		slog.Error("WellnessPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("WellnessPipe exited successfully")
}

// initializeLogger sets up the process-wide structured logger
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: util.ParseLogLevel(level)}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		StateDir:          util.GetEnv("WELLNESSPIPE_STATE_DIR", DefaultStateDir),
		DatabaseURL:       util.GetEnv("DATABASE_URL", ""),
		RedisAddr:         util.GetEnv("REDIS_ADDR", ""),
		LLMProvider:       strings.ToLower(util.GetEnv("LLM_PROVIDER", ProviderOpenAI)),
		OpenAIKey:         util.GetEnv("OPENAI_API_KEY", ""),
		GeminiKey:         util.GetEnv("GEMINI_API_KEY", ""),
		LLMModel:          util.GetEnv("LLM_MODEL", ""),
		StageConfigFile:   util.GetEnv("STAGE_CONFIG_FILE", DefaultStageConfigFile),
		APIAddr:           util.GetEnv("API_ADDR", DefaultAPIAddr),
		CompletionPolicy:  strings.ToLower(util.GetEnv("COMPLETION_POLICY", PolicyTurnCeiling)),
		LogLevel:          util.GetEnv("LOG_LEVEL", "info"),
		SessionTTL:        util.ParseDurationEnv("SESSION_TTL", store.DefaultTTL),
		LLMRequestTimeout: util.ParseDurationEnv("LLM_REQUEST_TIMEOUT", 60*time.Second),
		MaxStageTurns:     util.ParseIntEnv("MAX_STAGE_TURNS", flow.DefaultMaxStageTurns),
		GenAIDebug:        util.ParseBoolEnv("GENAI_DEBUG", false),
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" && config.RedisAddr == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
	}
	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		stateDir:          fs.String("state-dir", config.StateDir, "state directory for WellnessPipe data (overrides $WELLNESSPIPE_STATE_DIR)"),
		dbDSN:             fs.String("db-dsn", config.DatabaseURL, "SQLite path or Postgres DSN, or \"memory\" for the in-memory store (overrides $DATABASE_URL)"),
		redisAddr:         fs.String("redis-addr", config.RedisAddr, "Redis address for session storage (overrides $REDIS_ADDR)"),
		llmProvider:       fs.String("llm-provider", config.LLMProvider, "LLM provider: openai or gemini (overrides $LLM_PROVIDER)"),
		openaiKey:         fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		geminiKey:         fs.String("gemini-api-key", config.GeminiKey, "Gemini API key (overrides $GEMINI_API_KEY)"),
		llmModel:          fs.String("llm-model", config.LLMModel, "model name for the selected provider (overrides $LLM_MODEL)"),
		stageConfig:       fs.String("stage-config", config.StageConfigFile, "YAML stage prompt configuration (overrides $STAGE_CONFIG_FILE)"),
		apiAddr:           fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		completionPolicy:  fs.String("completion-policy", config.CompletionPolicy, "stage completion policy: turn-ceiling or required-fields (overrides $COMPLETION_POLICY)"),
		logLevel:          fs.String("log-level", config.LogLevel, "log level: debug, info, warn or error (overrides $LOG_LEVEL)"),
		sessionTTL:        fs.Duration("session-ttl", config.SessionTTL, "idle session lifetime (overrides $SESSION_TTL)"),
		llmRequestTimeout: fs.Duration("llm-request-timeout", config.LLMRequestTimeout, "timeout of a single LLM call (overrides $LLM_REQUEST_TIMEOUT)"),
		maxStageTurns:     fs.Int("max-stage-turns", config.MaxStageTurns, "user turns after which a stage is closed (overrides $MAX_STAGE_TURNS)"),
		genaiDebug:        fs.Bool("genai-debug", config.GenAIDebug, "write LLM requests and responses under the state directory (overrides $GENAI_DEBUG)"),
	}
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	// Follow an overridden state directory when the DSN is still the derived default
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}
	return flags, nil
}

// usesSQLite reports whether the configured store is an SQLite file.
func usesSQLite(flags Flags) bool {
	dsn := *flags.dbDSN
	return *flags.redisAddr == "" && dsn != "" && dsn != "memory" && store.DetectDSNType(dsn) == store.DSNTypeSQLite
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	opts := []store.Option{store.WithTTL(*flags.sessionTTL)}
	switch {
	case *flags.redisAddr != "":
		slog.Debug("Configuring Redis store", "addr", *flags.redisAddr)
		opts = append(opts, store.WithRedisAddr(*flags.redisAddr))
	case *flags.dbDSN == "" || *flags.dbDSN == "memory":
		slog.Debug("No database DSN provided, will use in-memory store")
	case store.DetectDSNType(*flags.dbDSN) == store.DSNTypePostgres:
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		opts = append(opts, store.WithPostgresDSN(*flags.dbDSN))
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
		opts = append(opts, store.WithSQLiteDSN(*flags.dbDSN))
	}
	return opts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	opts := []genai.Option{genai.WithRequestTimeout(*flags.llmRequestTimeout)}
	switch *flags.llmProvider {
	case ProviderGemini:
		if *flags.geminiKey != "" {
			opts = append(opts, genai.WithAPIKey(*flags.geminiKey))
		}
	default:
		if *flags.openaiKey != "" {
			opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
		}
	}
	if *flags.llmModel != "" {
		opts = append(opts, genai.WithModel(*flags.llmModel))
	}
	if *flags.genaiDebug {
		opts = append(opts, genai.WithDebugMode(true, *flags.stateDir))
	}
	return opts
}

// buildLLMClient creates the client of the selected provider.
func buildLLMClient(ctx context.Context, flags Flags) (genai.ClientInterface, error) {
	opts := buildGenAIOptions(flags)
	switch *flags.llmProvider {
	case ProviderOpenAI:
		client, err := genai.NewClient(opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	case ProviderGemini:
		client, err := genai.NewGeminiClient(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", *flags.llmProvider)
	}
}

// buildCompletionPolicy selects the stage completion policy.
func buildCompletionPolicy(name string, maxTurns int) (flow.CompletionPolicy, error) {
	switch name {
	case PolicyTurnCeiling, "":
		return flow.NewTurnCeilingPolicy(maxTurns), nil
	case PolicyRequiredFields:
		return flow.NewRequiredFieldsPolicy(maxTurns), nil
	default:
		return nil, fmt.Errorf("unknown completion policy %q", name)
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var opts []api.Option
	if *flags.apiAddr != "" {
		opts = append(opts, api.WithAddr(*flags.apiAddr))
	}
	return opts
}

func run(ctx context.Context, flags Flags) error {
	if usesSQLite(flags) {
		lock, err := lockfile.AcquireLock(*flags.stateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	policy, err := buildCompletionPolicy(*flags.completionPolicy, *flags.maxStageTurns)
	if err != nil {
		return err
	}
	configs, err := flow.NewFileStageConfigProvider(*flags.stageConfig)
	if err != nil {
		return fmt.Errorf("failed to load stage configuration: %w", err)
	}
	client, err := buildLLMClient(ctx, flags)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	st, err := store.NewFromOptions(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer st.Close()

	if sweeper, ok := st.(store.Sweeper); ok {
		go sweepInactiveSessions(ctx, sweeper, *flags.sessionTTL, DefaultSweepInterval)
	}

	engine := flow.NewEngine(client, client, configs, flow.WithCompletionPolicy(policy))
	sessions := flow.NewSessionManager(engine, st)

	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "provider", *flags.llmProvider,
		"policy", *flags.completionPolicy, "max_stage_turns", *flags.maxStageTurns, "api_addr", *flags.apiAddr)
	return api.NewServer(sessions, buildAPIOptions(flags)...).Run(ctx)
}

// sweepInactiveSessions purges sessions idle for longer than ttl until ctx ends.
func sweepInactiveSessions(ctx context.Context, sweeper store.Sweeper, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweeper.DeleteInactiveBefore(ctx, time.Now().Add(-ttl))
			if err != nil {
				slog.Warn("sweepInactiveSessions: sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("sweepInactiveSessions: removed idle sessions", "count", n)
			}
		}
	}
}
