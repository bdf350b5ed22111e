// Package knowledge owns the growing question/answer cache: the durable
// store and the semantic index that serves lookups from it.
package knowledge

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/upb/chat-gateway/internal/observability"
	"github.com/upb/chat-gateway/models"
	"github.com/upb/chat-gateway/repositories"
	"github.com/upb/chat-gateway/services"
	"github.com/upb/chat-gateway/services/embedding"
	"github.com/upb/chat-gateway/services/semantic"
)

// ErrCompactionUnsupported is returned by Compact for stores without a log
var ErrCompactionUnsupported = errors.New("knowledge store does not support compaction")

// Service persists entries and keeps the semantic index in step
type Service struct {
	repo     repositories.KnowledgeRepository
	index    *semantic.Index
	embedder embedding.Provider
	logger   *zap.Logger
	metrics  *observability.Metrics

	// mu serializes persist and publish across the process
	mu sync.Mutex
}

// NewService creates a new knowledge service
func NewService(
	repo repositories.KnowledgeRepository,
	index *semantic.Index,
	embedder embedding.Provider,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Service {
	return &Service{
		repo:     repo,
		index:    index,
		embedder: embedder,
		logger:   logger,
		metrics:  metrics,
	}
}

// Index returns the semantic index fed by this service
func (s *Service) Index() *semantic.Index {
	return s.index
}

// Load reads every stored entry and warms the index. A store that cannot
// be read leaves the knowledge base empty; the failure is logged and
// counted, never returned.
func (s *Service) Load(ctx context.Context) int {
	entries, err := s.repo.LoadAll(ctx)
	if err != nil {
		s.logger.Error("failed to load knowledge base, starting empty", zap.Error(err))
		s.metrics.KnowledgeLoadFailed()
		entries = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Warm(ctx, entries)
}

// Append stores a question/answer pair and publishes it to lookups.
// A missing embedding is computed here; if that fails the entry is still
// persisted and becomes matchable after the next Load.
func (s *Service) Append(ctx context.Context, question, answer string, vector []float32) error {
	if len(vector) == 0 {
		v, err := s.embedder.Embed(ctx, question)
		if err != nil {
			s.logger.Warn("storing knowledge entry without embedding",
				zap.String("question", question),
				zap.Error(err),
			)
		} else {
			vector = v
		}
	}

	entry := models.NewKnowledgeEntry(question, answer, vector)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Append(ctx, *entry); err != nil {
		return services.WrapStorage("append knowledge entry", err)
	}
	s.index.Add(entry)

	s.logger.Debug("knowledge entry appended",
		zap.String("question", question),
		zap.Int("entries", s.index.Len()),
	)
	return nil
}

// Import appends entries in order and returns how many were stored
func (s *Service) Import(ctx context.Context, entries []models.KnowledgeEntry) (int, error) {
	stored := 0
	for _, e := range entries {
		if e.Question == "" || e.Answer == "" {
			s.logger.Warn("skipping incomplete knowledge entry", zap.String("question", e.Question))
			continue
		}
		if err := s.Append(ctx, e.Question, e.Answer, e.Embedding); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

// Compact folds the store's write log into its snapshot
func (s *Service) Compact(ctx context.Context) error {
	c, ok := s.repo.(repositories.Compactor)
	if !ok {
		return ErrCompactionUnsupported
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := c.Compact(ctx); err != nil {
		return services.WrapStorage("compact knowledge store", err)
	}
	return nil
}
