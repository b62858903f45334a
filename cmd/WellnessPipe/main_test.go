package main

import (
	"context"
	"flag"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/WellnessPipe/internal/flow"
	"github.com/BTreeMap/WellnessPipe/internal/genai"
	"github.com/BTreeMap/WellnessPipe/internal/store"
)

var configEnvVars = []string{
	"WELLNESSPIPE_STATE_DIR", "DATABASE_URL", "REDIS_ADDR", "LLM_PROVIDER",
	"OPENAI_API_KEY", "GEMINI_API_KEY", "LLM_MODEL", "STAGE_CONFIG_FILE",
	"API_ADDR", "COMPLETION_POLICY", "LOG_LEVEL", "SESSION_TTL",
	"LLM_REQUEST_TIMEOUT", "MAX_STAGE_TURNS", "GENAI_DEBUG",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvVars {
		t.Setenv(key, "")
	}
}

func newTestFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func applyStoreOptions(opts []store.Option) store.Opts {
	var cfg store.Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	config := loadEnvironmentConfig()

	if config.StateDir != DefaultStateDir {
		t.Errorf("Expected default state dir %q, got %q", DefaultStateDir, config.StateDir)
	}
	expectedDSN := filepath.Join(DefaultStateDir, DefaultDBFileName)
	if config.DatabaseURL != expectedDSN {
		t.Errorf("Expected default DSN %q, got %q", expectedDSN, config.DatabaseURL)
	}
	if config.LLMProvider != ProviderOpenAI {
		t.Errorf("Expected default provider %q, got %q", ProviderOpenAI, config.LLMProvider)
	}
	if config.CompletionPolicy != PolicyTurnCeiling {
		t.Errorf("Expected default policy %q, got %q", PolicyTurnCeiling, config.CompletionPolicy)
	}
	if config.MaxStageTurns != flow.DefaultMaxStageTurns {
		t.Errorf("Expected %d max stage turns, got %d", flow.DefaultMaxStageTurns, config.MaxStageTurns)
	}
	if config.SessionTTL != store.DefaultTTL {
		t.Errorf("Expected session TTL %v, got %v", store.DefaultTTL, config.SessionTTL)
	}
	if config.StageConfigFile != DefaultStageConfigFile || config.APIAddr != DefaultAPIAddr {
		t.Errorf("unexpected defaults %+v", config)
	}
}

func TestLoadEnvironmentConfigOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("WELLNESSPIPE_STATE_DIR", "/srv/wellness")
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("COMPLETION_POLICY", "REQUIRED-FIELDS")
	t.Setenv("MAX_STAGE_TURNS", "4")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("GENAI_DEBUG", "yes")

	config := loadEnvironmentConfig()

	if config.DatabaseURL != filepath.Join("/srv/wellness", DefaultDBFileName) {
		t.Errorf("Expected DSN under the state dir, got %q", config.DatabaseURL)
	}
	if config.LLMProvider != ProviderGemini || config.CompletionPolicy != PolicyRequiredFields {
		t.Errorf("Expected lower-cased provider and policy, got %q and %q", config.LLMProvider, config.CompletionPolicy)
	}
	if config.MaxStageTurns != 4 || config.SessionTTL != 2*time.Hour || !config.GenAIDebug {
		t.Errorf("unexpected overrides %+v", config)
	}
}

func TestLoadEnvironmentConfigRedisSkipsSQLiteDefault(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("REDIS_ADDR", "localhost:6379")

	config := loadEnvironmentConfig()
	if config.DatabaseURL != "" {
		t.Errorf("Expected no SQLite default when Redis is configured, got %q", config.DatabaseURL)
	}
}

func TestParseCommandLineFlagsStateDirMovesDefaultDSN(t *testing.T) {
	clearConfigEnv(t)
	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(newTestFlagSet(), []string{"-state-dir", "/tmp/wp"}, config)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if *flags.dbDSN != filepath.Join("/tmp/wp", DefaultDBFileName) {
		t.Errorf("Expected DSN to follow the state dir, got %q", *flags.dbDSN)
	}

	flags, err = parseCommandLineFlags(newTestFlagSet(), []string{"-state-dir", "/tmp/wp", "-db-dsn", "/data/custom.db"}, config)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if *flags.dbDSN != "/data/custom.db" {
		t.Errorf("Expected explicit DSN to win, got %q", *flags.dbDSN)
	}
}

func TestParseCommandLineFlagsRejectsUnknownFlag(t *testing.T) {
	if _, err := parseCommandLineFlags(newTestFlagSet(), []string{"-no-such-flag"}, Config{}); err == nil {
		t.Error("Expected an error for an unknown flag")
	}
}

func TestBuildStoreOptions(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantDSN   string
		wantType  string
		wantRedis string
		sqlite    bool
	}{
		{"sqlite", []string{"-db-dsn", "/tmp/wp/wellnesspipe.db"}, "/tmp/wp/wellnesspipe.db", store.DSNTypeSQLite, "", true},
		{"postgres", []string{"-db-dsn", "postgres://u:p@localhost/db"}, "postgres://u:p@localhost/db", store.DSNTypePostgres, "", false},
		{"memory", []string{"-db-dsn", "memory"}, "", "", "", false},
		{"redis", []string{"-db-dsn", "/tmp/x.db", "-redis-addr", "localhost:6379"}, "", "", "localhost:6379", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, err := parseCommandLineFlags(newTestFlagSet(), tt.args, Config{SessionTTL: time.Hour})
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			cfg := applyStoreOptions(buildStoreOptions(flags))
			if cfg.DSN != tt.wantDSN || cfg.DSNType != tt.wantType || cfg.RedisAddr != tt.wantRedis {
				t.Errorf("unexpected store options %+v", cfg)
			}
			if cfg.TTL != time.Hour {
				t.Errorf("Expected TTL to be forwarded, got %v", cfg.TTL)
			}
			if got := usesSQLite(flags); got != tt.sqlite {
				t.Errorf("usesSQLite = %v, want %v", got, tt.sqlite)
			}
		})
	}
}

func TestBuildCompletionPolicy(t *testing.T) {
	policy, err := buildCompletionPolicy(PolicyTurnCeiling, 3)
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := policy.(flow.TurnCeilingPolicy); !ok || p.MaxTurns != 3 {
		t.Errorf("Expected turn ceiling policy with 3 turns, got %#v", policy)
	}

	policy, err = buildCompletionPolicy(PolicyRequiredFields, 5)
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := policy.(flow.RequiredFieldsPolicy); !ok || p.MaxTurns != 5 {
		t.Errorf("Expected required fields policy with 5 turns, got %#v", policy)
	}

	if _, err := buildCompletionPolicy("whenever", 2); err == nil {
		t.Error("Expected an error for an unknown policy")
	}
}

func TestBuildLLMClient(t *testing.T) {
	clearConfigEnv(t)
	ctx := context.Background()

	flags, err := parseCommandLineFlags(newTestFlagSet(), []string{"-llm-provider", "openai", "-openai-api-key", "sk-test"}, Config{})
	if err != nil {
		t.Fatal(err)
	}
	client, err := buildLLMClient(ctx, flags)
	if err != nil {
		t.Fatalf("Expected OpenAI client, got error %v", err)
	}
	if _, ok := client.(*genai.Client); !ok {
		t.Errorf("Expected *genai.Client, got %T", client)
	}

	flags, _ = parseCommandLineFlags(newTestFlagSet(), []string{"-llm-provider", "openai"}, Config{})
	if _, err := buildLLMClient(ctx, flags); err == nil {
		t.Error("Expected an error without an API key")
	}

	flags, _ = parseCommandLineFlags(newTestFlagSet(), []string{"-llm-provider", "llama"}, Config{})
	if _, err := buildLLMClient(ctx, flags); err == nil {
		t.Error("Expected an error for an unknown provider")
	}
}

type recordingSweeper struct {
	mu      sync.Mutex
	cutoffs []time.Time
	calls   chan struct{}
}

func (s *recordingSweeper) DeleteInactiveBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	s.cutoffs = append(s.cutoffs, cutoff)
	s.mu.Unlock()
	select {
	case s.calls <- struct{}{}:
	default:
	}
	return 1, nil
}

func TestSweepInactiveSessions(t *testing.T) {
	sweeper := &recordingSweeper{calls: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweepInactiveSessions(ctx, sweeper, time.Hour, 5*time.Millisecond)
		close(done)
	}()

	select {
	case <-sweeper.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper was never called")
	}
	cancel()
	<-done

	sweeper.mu.Lock()
	defer sweeper.mu.Unlock()
	if age := time.Since(sweeper.cutoffs[0]); age < time.Hour-time.Minute {
		t.Errorf("Expected a cutoff about one TTL in the past, got %v ago", age)
	}
}

func TestSweepInactiveSessionsDisabledWithoutTTL(t *testing.T) {
	sweeper := &recordingSweeper{calls: make(chan struct{}, 1)}
	done := make(chan struct{})
	go func() {
		sweepInactiveSessions(context.Background(), sweeper, 0, time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected an immediate return when the TTL is zero")
	}
}
