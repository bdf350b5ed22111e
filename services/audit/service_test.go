package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/chat-gateway/internal/observability"
	"github.com/upb/chat-gateway/models"
	"go.uber.org/zap"
)

// MockChatRecordRepository is a mock implementation of ChatRecordRepository
type MockChatRecordRepository struct {
	mock.Mock
	mu       sync.Mutex
	inserted []*models.ChatRecord
}

func (m *MockChatRecordRepository) Insert(ctx context.Context, record *models.ChatRecord) error {
	return m.InsertBatch(ctx, []*models.ChatRecord{record})
}

func (m *MockChatRecordRepository) InsertBatch(ctx context.Context, records []*models.ChatRecord) error {
	args := m.Called(ctx, records)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.inserted = append(m.inserted, records...)
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *MockChatRecordRepository) ListBySession(ctx context.Context, callerID, sessionID string, limit int) ([]*models.ChatRecord, error) {
	args := m.Called(ctx, callerID, sessionID, limit)
	records, _ := args.Get(0).([]*models.ChatRecord)
	return records, args.Error(1)
}

func (m *MockChatRecordRepository) Inserted() []*models.ChatRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.ChatRecord(nil), m.inserted...)
}

func newService(repo *MockChatRecordRepository, config Config) (*AuditService, *observability.Metrics) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewAuditService(repo, zap.NewNop(), metrics, config), metrics
}

func record(caller, msg string) *models.ChatRecord {
	return models.NewChatRecord(caller, "sess-1").WithExchange(msg, "reply").WithIntent(models.IntentGenerated)
}

func TestAuditService_StartStop(t *testing.T) {
	service, _ := newService(new(MockChatRecordRepository), Config{QueueSize: 10, WorkerCount: 2})

	require.NoError(t, service.Start())

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.QueueSize)

	assert.Error(t, service.Start())

	require.NoError(t, service.Stop(5*time.Second))
	assert.False(t, service.GetStats().Started)
	assert.ErrorIs(t, service.Stop(time.Second), ErrNotStarted)
}

func TestAuditService_AppendBeforeStartAndAfterStop(t *testing.T) {
	service, _ := newService(new(MockChatRecordRepository), Config{})

	assert.ErrorIs(t, service.Append(context.Background(), record("c", "m")), ErrNotStarted)

	require.NoError(t, service.Start())
	require.NoError(t, service.Stop(time.Second))

	assert.ErrorIs(t, service.Append(context.Background(), record("c", "m")), ErrNotStarted)
}

func TestAuditService_StopDrainsQueue(t *testing.T) {
	repo := new(MockChatRecordRepository)
	repo.On("InsertBatch", mock.Anything, mock.Anything).Return(nil)
	service, _ := newService(repo, Config{QueueSize: 100, WorkerCount: 3})
	require.NoError(t, service.Start())

	for i := 0; i < 30; i++ {
		require.NoError(t, service.Append(context.Background(), record(fmt.Sprintf("caller-%d", i%5), fmt.Sprint(i))))
	}

	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, repo.Inserted(), 30)
}

func TestAuditService_PerCallerOrder(t *testing.T) {
	repo := new(MockChatRecordRepository)
	repo.On("InsertBatch", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		time.Sleep(time.Millisecond)
	})
	service, _ := newService(repo, Config{QueueSize: 500, WorkerCount: 4, BatchSize: 3})
	require.NoError(t, service.Start())

	const perCaller = 40
	callers := []string{"alice", "bob", "carol", "dave", "erin"}
	var wg sync.WaitGroup
	for _, c := range callers {
		wg.Add(1)
		go func(c string) {
			defer wg.Done()
			for i := 0; i < perCaller; i++ {
				assert.NoError(t, service.Append(context.Background(), record(c, fmt.Sprint(i))))
			}
		}(c)
	}
	wg.Wait()
	require.NoError(t, service.Stop(10*time.Second))

	next := make(map[string]int)
	for _, r := range repo.Inserted() {
		assert.Equal(t, fmt.Sprint(next[r.CallerID]), r.UserMessage, "caller %s out of order", r.CallerID)
		next[r.CallerID]++
	}
	for _, c := range callers {
		assert.Equal(t, perCaller, next[c])
	}
}

func TestAuditService_QueueFullDrops(t *testing.T) {
	repo := new(MockChatRecordRepository)
	release := make(chan struct{})
	repo.On("InsertBatch", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		<-release
	})
	service, metrics := newService(repo, Config{QueueSize: 2, WorkerCount: 1, BatchSize: 1})
	require.NoError(t, service.Start())

	accepted, dropped := 0, 0
	for i := 0; i < 10; i++ {
		err := service.Append(context.Background(), record("caller", fmt.Sprint(i)))
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrQueueFull):
			dropped++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Greater(t, dropped, 0)
	assert.LessOrEqual(t, accepted, 3)
	assert.Equal(t, int64(dropped), service.GetStats().Dropped)
	assert.Equal(t, float64(dropped), testutil.ToFloat64(metrics.AuditDroppedTotal))

	close(release)
	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, repo.Inserted(), accepted)
}

func TestAuditService_InsertFailureIsCounted(t *testing.T) {
	repo := new(MockChatRecordRepository)
	repo.On("InsertBatch", mock.Anything, mock.Anything).Return(errors.New("db down"))
	service, metrics := newService(repo, Config{WorkerCount: 1, RetryDelay: time.Millisecond})
	require.NoError(t, service.Start())

	require.NoError(t, service.Append(context.Background(), record("caller", "m")))
	require.NoError(t, service.Stop(5*time.Second))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StoreFailuresTotal.WithLabelValues(observability.StoreAudit)))
	repo.AssertNumberOfCalls(t, "InsertBatch", 3)
}

func TestAuditService_TransientInsertFailureIsRetried(t *testing.T) {
	repo := new(MockChatRecordRepository)
	repo.On("InsertBatch", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()
	repo.On("InsertBatch", mock.Anything, mock.Anything).Return(nil)
	service, metrics := newService(repo, Config{WorkerCount: 1, RetryDelay: time.Millisecond})
	require.NoError(t, service.Start())

	require.NoError(t, service.Append(context.Background(), record("caller", "m")))
	require.NoError(t, service.Stop(5*time.Second))

	require.Len(t, repo.Inserted(), 1)
	assert.Equal(t, "m", repo.Inserted()[0].UserMessage)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.StoreFailuresTotal.WithLabelValues(observability.StoreAudit)))
}

func TestAuditService_BadRecordOnlyLosesItself(t *testing.T) {
	repo := new(MockChatRecordRepository)
	release := make(chan struct{})
	isBad := func(records []*models.ChatRecord) bool {
		for _, r := range records {
			if r.UserMessage == "bad" {
				return true
			}
		}
		return false
	}
	// hold the first batch so the rest queue up and are drained together
	repo.On("InsertBatch", mock.Anything, mock.MatchedBy(func(records []*models.ChatRecord) bool {
		return len(records) == 1 && records[0].UserMessage == "first"
	})).Return(nil).Run(func(mock.Arguments) { <-release }).Once()
	repo.On("InsertBatch", mock.Anything, mock.MatchedBy(isBad)).Return(errors.New("value too long"))
	repo.On("InsertBatch", mock.Anything, mock.Anything).Return(nil)

	service, metrics := newService(repo, Config{QueueSize: 10, WorkerCount: 1, RetryDelay: time.Millisecond})
	require.NoError(t, service.Start())

	ctx := context.Background()
	for _, msg := range []string{"first", "a", "bad", "b"} {
		require.NoError(t, service.Append(ctx, record("caller", msg)))
	}
	close(release)
	require.NoError(t, service.Stop(5*time.Second))

	var stored []string
	for _, r := range repo.Inserted() {
		stored = append(stored, r.UserMessage)
	}
	assert.Equal(t, []string{"first", "a", "b"}, stored)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StoreFailuresTotal.WithLabelValues(observability.StoreAudit)))
}

func TestAuditService_StopTimeout(t *testing.T) {
	repo := new(MockChatRecordRepository)
	release := make(chan struct{})
	defer close(release)
	repo.On("InsertBatch", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		<-release
	})
	service, _ := newService(repo, Config{QueueSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())

	require.NoError(t, service.Append(context.Background(), record("caller", "slow")))

	err := service.Stop(100 * time.Millisecond)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestAuditService_ListBySession(t *testing.T) {
	repo := new(MockChatRecordRepository)
	want := []*models.ChatRecord{record("caller", "m")}
	repo.On("ListBySession", mock.Anything, "caller", "sess-1", 10).Return(want, nil)
	service, _ := newService(repo, Config{})

	got, err := service.ListBySession(context.Background(), "caller", "sess-1", 10)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	repo.AssertExpectations(t)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 256, config.QueueSize)
	assert.Equal(t, 4, config.WorkerCount)
	assert.Equal(t, 32, config.BatchSize)
	assert.Equal(t, 5*time.Second, config.InsertTimeout)
	assert.Equal(t, 2, config.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, config.RetryDelay)
}
