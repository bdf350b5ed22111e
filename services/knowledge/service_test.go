package knowledge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/upb/chat-gateway/internal/observability"
	"github.com/upb/chat-gateway/models"
	"github.com/upb/chat-gateway/repositories"
	"github.com/upb/chat-gateway/repositories/filelog"
	"github.com/upb/chat-gateway/services"
	"github.com/upb/chat-gateway/services/semantic"
)

// MockRepository is a testify mock of repositories.KnowledgeRepository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) LoadAll(ctx context.Context) ([]models.KnowledgeEntry, error) {
	args := m.Called(ctx)
	entries, _ := args.Get(0).([]models.KnowledgeEntry)
	return entries, args.Error(1)
}

func (m *MockRepository) Append(ctx context.Context, entry models.KnowledgeEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockRepository) Close() error {
	return m.Called().Error(0)
}

// stubEmbedder maps every text to a vector derived from its length
type stubEmbedder struct {
	fail bool
}

func (s *stubEmbedder) Name() string { return "stub" }

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.fail {
		return nil, errors.New("embedder down")
	}
	return []float32{1, float32(len(text))}, nil
}

func newService(t *testing.T, repo repositories.KnowledgeRepository, emb *stubEmbedder) (*Service, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	index := semantic.NewIndex(emb, semantic.DefaultThreshold, zap.NewNop(), metrics)
	return NewService(repo, index, emb, zap.NewNop(), metrics), metrics
}

func newFileRepo(t *testing.T) *filelog.KnowledgeRepository {
	t.Helper()
	dir := t.TempDir()
	repo, err := filelog.Open(filepath.Join(dir, "data.json"), filepath.Join(dir, "data.log"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestService_LoadWarmsIndex(t *testing.T) {
	repo := new(MockRepository)
	repo.On("LoadAll", mock.Anything).Return([]models.KnowledgeEntry{
		{Question: "a", Answer: "1", Embedding: []float32{1, 0}},
		{Question: "bb", Answer: "2"},
	}, nil)

	svc, metrics := newService(t, repo, &stubEmbedder{})

	assert.Equal(t, 2, svc.Load(context.Background()))
	assert.Equal(t, 2, svc.Index().Len())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.KnowledgeEntries))
	repo.AssertExpectations(t)
}

func TestService_LoadFailureDegradesToEmpty(t *testing.T) {
	repo := new(MockRepository)
	repo.On("LoadAll", mock.Anything).Return(nil, services.ErrKnowledgeCorrupt)

	core, logs := observer.New(zapcore.WarnLevel)
	emb := &stubEmbedder{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	index := semantic.NewIndex(emb, semantic.DefaultThreshold, zap.NewNop(), metrics)
	svc := NewService(repo, index, emb, zap.New(core), metrics)

	assert.Equal(t, 0, svc.Load(context.Background()))
	assert.Equal(t, 0, svc.Index().Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.KnowledgeLoadFailuresTotal))

	entries := logs.FilterMessage("failed to load knowledge base, starting empty").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestService_Append(t *testing.T) {
	t.Run("supplied embedding is persisted and published", func(t *testing.T) {
		repo := newFileRepo(t)
		svc, _ := newService(t, repo, &stubEmbedder{})
		ctx := context.Background()

		require.NoError(t, svc.Append(ctx, "What is SIGCE?", "A system.", []float32{0.5, 0.5}))

		assert.Equal(t, 1, svc.Index().Len())
		stored, err := repo.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, []float32{0.5, 0.5}, stored[0].Embedding)
	})

	t.Run("missing embedding is computed", func(t *testing.T) {
		repo := newFileRepo(t)
		svc, _ := newService(t, repo, &stubEmbedder{})

		require.NoError(t, svc.Append(context.Background(), "abc", "x", nil))

		stored, err := repo.LoadAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 3}, stored[0].Embedding)
	})

	t.Run("embedding failure still persists", func(t *testing.T) {
		repo := newFileRepo(t)
		svc, _ := newService(t, repo, &stubEmbedder{fail: true})

		require.NoError(t, svc.Append(context.Background(), "abc", "x", nil))

		stored, err := repo.LoadAll(context.Background())
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.False(t, stored[0].HasEmbedding())
		assert.Equal(t, 0, svc.Index().Len())
	})

	t.Run("store failure is a storage error and nothing is published", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Append", mock.Anything, mock.Anything).Return(errors.New("disk full"))
		svc, _ := newService(t, repo, &stubEmbedder{})

		err := svc.Append(context.Background(), "q", "a", []float32{1})
		require.Error(t, err)
		assert.True(t, services.IsStorageError(err))
		assert.Equal(t, 0, svc.Index().Len())
	})
}

func TestService_ConcurrentAppendsYieldExactlyN(t *testing.T) {
	repo := newFileRepo(t)
	svc, _ := newService(t, repo, &stubEmbedder{})
	ctx := context.Background()

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, svc.Append(ctx, fmt.Sprintf("q%d", i), "a", []float32{1, float32(i)}))
		}(i)
	}
	wg.Wait()

	stored, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, n)
	assert.Equal(t, n, svc.Index().Len())

	seen := make(map[string]bool)
	for _, e := range stored {
		seen[e.Question] = true
	}
	assert.Len(t, seen, n)
}

func TestService_ImportAndCompact(t *testing.T) {
	repo := newFileRepo(t)
	svc, _ := newService(t, repo, &stubEmbedder{})
	ctx := context.Background()

	stored, err := svc.Import(ctx, []models.KnowledgeEntry{
		{Question: "q1", Answer: "a1"},
		{Question: "", Answer: "orphan"},
		{Question: "q2", Answer: "a2", Embedding: []float32{0, 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stored)

	require.NoError(t, svc.Compact(ctx))

	entries, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestService_CompactUnsupported(t *testing.T) {
	svc, _ := newService(t, new(MockRepository), &stubEmbedder{})

	assert.ErrorIs(t, svc.Compact(context.Background()), ErrCompactionUnsupported)
}
