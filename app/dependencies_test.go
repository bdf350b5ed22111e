package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/upb/chat-gateway/config"
	"github.com/upb/chat-gateway/models"
	"github.com/upb/chat-gateway/services/chat"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: config.RedisConfig{Prefix: "test:sessions:"},
		Knowledge: config.KnowledgeConfig{
			Store:        config.KnowledgeStoreFile,
			SnapshotPath: filepath.Join(dir, "data.json"),
			LogPath:      filepath.Join(dir, "data.log"),
			BadgerDir:    filepath.Join(dir, "kb"),
			Threshold:    0.7,
		},
		Embedding: config.EmbeddingConfig{
			Provider:  config.EmbeddingProviderOllama,
			BaseURL:   "http://127.0.0.1:1",
			Timeout:   time.Second,
			CacheSize: 16,
			CacheTTL:  time.Minute,
		},
		Generation: config.GenerationConfig{
			Provider:  config.GenerationProviderTogether,
			BaseURL:   "http://127.0.0.1:1",
			MaxTokens: 800,
			Timeout:   time.Second,
		},
		Session: config.SessionConfig{
			Store:      config.SessionStoreMemory,
			MaxRetries: 5,
			CookieName: "chat_session",
			CookieTTL:  time.Hour,
		},
		Audit: config.AuditConfig{
			Workers:     2,
			QueueSize:   16,
			StopTimeout: 2 * time.Second,
		},
		Auth: config.AuthConfig{
			JWTSecret:  "test-secret",
			Issuer:     "chat-gateway",
			TokenTTL:   time.Hour,
			CookieName: "auth_token",
		},
		Observability: config.ObservabilityConfig{
			LogLevel:  "debug",
			LogFormat: "json",
		},
	}
}

func TestNewDependencies(t *testing.T) {
	t.Run("memory sessions and file knowledge", func(t *testing.T) {
		ctx := context.Background()
		deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
		require.NoError(t, err)

		assert.Nil(t, deps.RepoFactory)
		assert.Nil(t, deps.Redis)
		assert.NotNil(t, deps.Sessions)
		assert.NotNil(t, deps.ChatRecords)
		assert.NotNil(t, deps.Knowledge)
		assert.NotNil(t, deps.Chat)
		assert.NotNil(t, deps.AuthMiddleware)
		assert.NotNil(t, deps.ChatHandler)
		assert.NotNil(t, deps.HealthHandler)
		assert.Equal(t, []string{"together"}, deps.Providers.ListProviders())
		assert.True(t, deps.Audit.GetStats().Started)

		require.NoError(t, deps.Close(ctx))
	})

	t.Run("redis sessions and badger knowledge", func(t *testing.T) {
		ctx := context.Background()
		mr := miniredis.RunT(t)

		cfg := testConfig(t)
		cfg.Session.Store = config.SessionStoreRedis
		cfg.Redis.Addr = mr.Addr()
		cfg.Knowledge.Store = config.KnowledgeStoreBadger

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, deps.Redis)

		s, err := deps.Session.CreateSession(ctx, "caller-1")
		require.NoError(t, err)
		assert.True(t, mr.Exists("test:sessions:caller-1"))

		history, err := deps.Session.GetHistory(ctx, "caller-1", s.ID)
		require.NoError(t, err)
		assert.Empty(t, history)

		require.NoError(t, deps.Close(ctx))
	})

	t.Run("unreachable redis fails", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Session.Store = config.SessionStoreRedis
		cfg.Redis.Addr = "127.0.0.1:1"

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Nil(t, deps)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize session store")
	})

	t.Run("unknown generation provider fails", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Generation.Provider = "bard"

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Nil(t, deps)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize providers")
	})
}

func TestDependencies_TurnDegradesWithoutBackends(t *testing.T) {
	ctx := context.Background()
	deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	s, err := deps.Session.CreateSession(ctx, "caller-1")
	require.NoError(t, err)

	// both embedding and generation point at a closed port
	resp, err := deps.Chat.HandleTurn(ctx, chat.TurnRequest{CallerID: "caller-1", SessionID: s.ID, Message: "What is SIGCE?"})
	require.NoError(t, err)
	assert.Equal(t, chat.ReplyGenerationFailed, resp.Response)
	assert.Equal(t, chat.OutcomeDegraded, resp.Outcome)

	history, err := deps.Session.GetHistory(ctx, "caller-1", s.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.Turn{models.UserTurn("What is SIGCE?"), models.BotTurn(chat.ReplyGenerationFailed)}, history)

	require.NoError(t, deps.Close(ctx))

	records, err := deps.ChatRecords.ListBySession(ctx, "caller-1", s.ID, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.IntentDegraded, records[0].Intent)
}

func TestDependencies_CloseTwice(t *testing.T) {
	ctx := context.Background()
	deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, deps.Close(ctx))
	assert.NoError(t, deps.Close(ctx))
}
