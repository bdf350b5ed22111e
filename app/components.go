package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/chat-gateway/config"
	"github.com/upb/chat-gateway/internal/observability"
	"github.com/upb/chat-gateway/repositories"
	"github.com/upb/chat-gateway/repositories/badger"
	"github.com/upb/chat-gateway/repositories/filelog"
	"github.com/upb/chat-gateway/services/embedding"
	ollamaembed "github.com/upb/chat-gateway/services/embedding/ollama"
	openaiembed "github.com/upb/chat-gateway/services/embedding/openai"
	"github.com/upb/chat-gateway/services/knowledge"
	"github.com/upb/chat-gateway/services/providers"
	openaigen "github.com/upb/chat-gateway/services/providers/openai"
	"github.com/upb/chat-gateway/services/providers/together"
	"github.com/upb/chat-gateway/services/semantic"
)

// Knowledge bundles the knowledge store with the index and embedder that
// serve it. The CLI opens it without the rest of the server.
type Knowledge struct {
	Repo     repositories.KnowledgeRepository
	Embedder *embedding.CachedProvider
	Service  *knowledge.Service
}

// NewKnowledge opens the configured knowledge store. Entries are not
// loaded; call Service.Load.
func NewKnowledge(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (*Knowledge, error) {
	repo, err := NewKnowledgeRepository(cfg.Knowledge, logger)
	if err != nil {
		return nil, err
	}

	embedder, err := NewEmbeddingProvider(cfg.Embedding)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	cached := embedding.NewCachedProvider(embedder, embedding.NewVectorCache(cfg.Embedding.CacheSize, cfg.Embedding.CacheTTL))

	index := semantic.NewIndex(cached, cfg.Knowledge.Threshold, logger, metrics)
	return &Knowledge{
		Repo:     repo,
		Embedder: cached,
		Service:  knowledge.NewService(repo, index, cached, logger, metrics),
	}, nil
}

// Close releases the knowledge store
func (k *Knowledge) Close() error {
	return k.Repo.Close()
}

// NewKnowledgeRepository opens the store named by cfg.Store
func NewKnowledgeRepository(cfg config.KnowledgeConfig, logger *zap.Logger) (repositories.KnowledgeRepository, error) {
	switch cfg.Store {
	case config.KnowledgeStoreFile:
		return filelog.Open(cfg.SnapshotPath, cfg.LogPath, logger)
	case config.KnowledgeStoreBadger:
		return badger.Open(badger.Config{Dir: cfg.BadgerDir}, logger)
	default:
		return nil, fmt.Errorf("unknown knowledge store %q", cfg.Store)
	}
}

// NewEmbeddingProvider builds the configured embedding backend
func NewEmbeddingProvider(cfg config.EmbeddingConfig) (embedding.Provider, error) {
	pc := providers.DefaultProviderConfig()
	pc.APIKey = cfg.APIKey
	pc.BaseURL = cfg.BaseURL
	if cfg.Timeout > 0 {
		pc.Timeout = cfg.Timeout
	}
	pc.MaxRetries = cfg.MaxRetries

	switch cfg.Provider {
	case config.EmbeddingProviderOllama:
		return ollamaembed.NewAdapter(pc, cfg.Model), nil
	case config.EmbeddingProviderOpenAI:
		return openaiembed.NewAdapter(pc, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// NewGenerationProvider builds the configured completion backend
func NewGenerationProvider(cfg config.GenerationConfig) (providers.Provider, error) {
	pc := providers.DefaultProviderConfig()
	pc.APIKey = cfg.APIKey
	pc.BaseURL = cfg.BaseURL
	if cfg.Timeout > 0 {
		pc.Timeout = cfg.Timeout
	}
	pc.MaxRetries = cfg.MaxRetries

	switch cfg.Provider {
	case config.GenerationProviderTogether:
		return together.NewAdapter(pc), nil
	case config.GenerationProviderOpenAI:
		return openaigen.NewAdapter(pc, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

// defaultOpenAIModel is used when the OpenAI backend is selected without
// GENERATION_MODEL; the chat service's own default names a Together model.
const defaultOpenAIModel = "gpt-4o-mini"

// GenerationModel returns the model requested on every completion
func GenerationModel(cfg config.GenerationConfig) string {
	if cfg.Model == "" && cfg.Provider == config.GenerationProviderOpenAI {
		return defaultOpenAIModel
	}
	return cfg.Model
}
