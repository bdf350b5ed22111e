// Package semantic answers "have we seen a question like this before" by
// nearest-neighbour search over cached knowledge entries.
package semantic

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/upb/chat-gateway/internal/observability"
	"github.com/upb/chat-gateway/models"
	"github.com/upb/chat-gateway/services"
	"github.com/upb/chat-gateway/services/embedding"
)

// DefaultThreshold is the similarity a stored question must strictly
// exceed to count as a match
const DefaultThreshold = 0.7

// Result is the outcome of a lookup. Entry is nil on a miss.
// QueryEmbedding is the question's vector, reusable when the question is
// later appended to the knowledge base.
type Result struct {
	Entry          *models.KnowledgeEntry
	Score          float64
	QueryEmbedding []float32
}

// Hit reports whether the lookup matched a stored entry
func (r Result) Hit() bool {
	return r.Entry != nil
}

// Index is an in-memory linear-scan index over knowledge entries with
// cached embeddings. Lookup is O(n) in the number of entries. Readers
// scan an immutable snapshot and never block writers.
type Index struct {
	provider  embedding.Provider
	threshold float64
	logger    *zap.Logger
	metrics   *observability.Metrics

	mu      sync.Mutex // serializes writers
	entries atomic.Pointer[[]*models.KnowledgeEntry]
}

// NewIndex creates an empty index. A non-positive threshold selects
// DefaultThreshold.
func NewIndex(provider embedding.Provider, threshold float64, logger *zap.Logger, metrics *observability.Metrics) *Index {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	idx := &Index{
		provider:  provider,
		threshold: threshold,
		logger:    logger,
		metrics:   metrics,
	}
	empty := make([]*models.KnowledgeEntry, 0)
	idx.entries.Store(&empty)

	return idx
}

// Threshold returns the match threshold
func (i *Index) Threshold() float64 {
	return i.threshold
}

// Len returns the number of indexed entries
func (i *Index) Len() int {
	return len(*i.entries.Load())
}

// Lookup embeds question and returns the most similar entry whose score
// strictly exceeds the threshold. Ties go to the entry indexed first. An
// empty index or no match is a miss with a nil error; an embedding
// failure returns services.ErrEmbeddingUnavailable.
func (i *Index) Lookup(ctx context.Context, question string) (Result, error) {
	start := time.Now()

	query, err := i.provider.Embed(ctx, question)
	if err != nil {
		i.metrics.ObserveLookup("error", time.Since(start))
		return Result{}, services.NewDomainError(services.ErrorTypeExternal, services.ErrEmbeddingUnavailable.Message, err)
	}

	snapshot := *i.entries.Load()

	bestIdx := -1
	bestScore := 0.0
	for idx, entry := range snapshot {
		score := CosineSimilarity(query, entry.Embedding)
		if bestIdx == -1 || score > bestScore {
			bestIdx = idx
			bestScore = score
		}
	}

	result := Result{QueryEmbedding: query}
	if bestIdx >= 0 && bestScore > i.threshold {
		result.Entry = snapshot[bestIdx]
		result.Score = bestScore
		i.metrics.ObserveLookup("hit", time.Since(start))
	} else {
		result.Score = bestScore
		i.metrics.ObserveLookup("miss", time.Since(start))
	}

	return result, nil
}

// Add publishes entry to readers. Entries without an embedding cannot be
// matched and are skipped; Add reports whether the entry was indexed.
func (i *Index) Add(entry *models.KnowledgeEntry) bool {
	if !entry.HasEmbedding() {
		i.logger.Warn("skipping knowledge entry without embedding",
			zap.String("question", entry.Question),
		)
		return false
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	current := *i.entries.Load()
	next := make([]*models.KnowledgeEntry, len(current), len(current)+1)
	copy(next, current)
	next = append(next, entry)
	i.entries.Store(&next)
	i.metrics.SetKnowledgeEntries(len(next))

	return true
}

// Warm replaces the index contents with entries, embedding any entry that
// was persisted without a vector. Entries that fail to embed are left out
// and logged. It returns the number of entries indexed.
func (i *Index) Warm(ctx context.Context, entries []models.KnowledgeEntry) int {
	next := make([]*models.KnowledgeEntry, 0, len(entries))
	skipped := 0

	for idx := range entries {
		entry := entries[idx]
		if !entry.HasEmbedding() {
			vec, err := i.provider.Embed(ctx, entry.Question)
			if err != nil {
				skipped++
				i.logger.Warn("failed to embed knowledge entry during warm-up",
					zap.String("question", entry.Question),
					zap.Error(err),
				)
				continue
			}
			entry.Embedding = vec
		}
		next = append(next, &entry)
	}

	i.mu.Lock()
	i.entries.Store(&next)
	i.mu.Unlock()
	i.metrics.SetKnowledgeEntries(len(next))

	i.logger.Info("semantic index warmed",
		zap.Int("indexed", len(next)),
		zap.Int("skipped", skipped),
	)

	return len(next)
}
