package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/patientpal/internal/booking"
	appconfig "github.com/wolfman30/patientpal/internal/config"
	"github.com/wolfman30/patientpal/internal/history"
	"github.com/wolfman30/patientpal/pkg/logging"
)

func baseConfig() *appconfig.Config {
	return &appconfig.Config{
		JWTSecret:         "secret",
		HistoryBackend:    "memory",
		LLMProvider:       "gemini",
		GeminiAPIKey:      "test-key",
		BookingProvider:   "memory",
		ChatRatePerSecond: 1,
		ChatRateBurst:     5,
	}
}

func TestBuildRequiresConfig(t *testing.T) {
	if _, err := Build(context.Background(), nil, logging.New("error"), nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestBuildRequiresJWTSecret(t *testing.T) {
	cfg := baseConfig()
	cfg.JWTSecret = ""
	_, err := Build(context.Background(), cfg, logging.New("error"), prometheus.NewRegistry())
	require.Error(t, err)
}

func TestBuildServesHealth(t *testing.T) {
	app, err := Build(context.Background(), baseConfig(), logging.New("error"), prometheus.NewRegistry())
	require.NoError(t, err)
	defer app.Close()

	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/history", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBuildRejectsUnknownProviders(t *testing.T) {
	cfg := baseConfig()
	cfg.LLMProvider = "parrot"
	_, err := Build(context.Background(), cfg, logging.New("error"), prometheus.NewRegistry())
	require.ErrorContains(t, err, "unknown llm provider")

	cfg = baseConfig()
	cfg.BookingProvider = "paper"
	_, err = Build(context.Background(), cfg, logging.New("error"), prometheus.NewRegistry())
	require.ErrorContains(t, err, "unknown booking provider")
}

func TestBuildBedrockRequiresModel(t *testing.T) {
	cfg := baseConfig()
	cfg.LLMProvider = "bedrock"
	_, err := BuildLLMClient(context.Background(), cfg, NewRuntime(nil))
	require.ErrorContains(t, err, "BEDROCK_MODEL_ID")
}

func TestBuildHistoryStoreBackends(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime(logging.New("error"))
	defer rt.Close()

	cfg := baseConfig()
	store, err := BuildHistoryStore(ctx, cfg, rt)
	require.NoError(t, err)
	assert.IsType(t, &history.MemoryStore{}, store)

	cfg.HistoryBackend = "sqlite"
	cfg.SQLitePath = ":memory:"
	store, err = BuildHistoryStore(ctx, cfg, rt)
	require.NoError(t, err)
	assert.IsType(t, &history.SQLiteStore{}, store)

	mr := miniredis.RunT(t)
	cfg.HistoryBackend = "redis"
	cfg.RedisAddr = mr.Addr()
	store, err = BuildHistoryStore(ctx, cfg, rt)
	require.NoError(t, err)
	assert.IsType(t, &history.RedisStore{}, store)
	assert.Contains(t, rt.checks, "redis")

	cfg.HistoryBackend = "postgres"
	cfg.DatabaseURL = ""
	_, err = BuildHistoryStore(ctx, cfg, rt)
	require.ErrorContains(t, err, "DATABASE_URL")

	cfg.HistoryBackend = "tape"
	_, err = BuildHistoryStore(ctx, cfg, rt)
	require.Error(t, err)
}

func TestBuildRedisClientUnavailable(t *testing.T) {
	cfg := &appconfig.Config{RedisAddr: "127.0.0.1:1"}
	if client := BuildRedisClient(context.Background(), cfg, logging.New("error"), true); client != nil {
		t.Fatalf("expected nil client when redis is unreachable")
	}
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, nil, false); client != nil {
		t.Fatalf("expected nil client when redis is disabled")
	}
}

func TestBuildBookingProvider(t *testing.T) {
	cfg := baseConfig()
	provider, err := BuildBookingProvider(cfg)
	require.NoError(t, err)
	assert.IsType(t, &booking.MemoryBook{}, provider)

	cfg.BookingProvider = "gbooking"
	_, err = BuildBookingProvider(cfg)
	require.Error(t, err, "business id is required")

	cfg.GBookingBusinessID = "4000000005542"
	provider, err = BuildBookingProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, "gbooking", provider.Name())
}

func TestBuildLedgerAndPublisherDefaults(t *testing.T) {
	rt := NewRuntime(logging.New("error"))
	ledger, err := BuildLedger(context.Background(), baseConfig(), rt)
	require.NoError(t, err)
	assert.IsType(t, &booking.MemoryLedger{}, ledger)

	publisher, err := BuildPublisher(baseConfig(), rt)
	require.NoError(t, err)
	assert.Nil(t, publisher)
}
