package audit

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/chat-gateway/internal/observability"
	"github.com/upb/chat-gateway/models"
	"github.com/upb/chat-gateway/repositories"
	"go.uber.org/zap"
)

var (
	ErrNotStarted = errors.New("audit service not started")
	ErrQueueFull  = errors.New("audit queue full")
)

// AuditService writes chat records asynchronously. Each caller is pinned
// to one worker, so a caller's records are inserted in submission order.
type AuditService struct {
	repo    repositories.ChatRecordRepository
	logger  *zap.Logger
	metrics *observability.Metrics
	config  Config

	queues []chan *models.ChatRecord
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool

	dropped atomic.Int64
}

// Config holds configuration for the AuditService
type Config struct {
	QueueSize     int           // per-worker buffer
	WorkerCount   int           // number of shards
	BatchSize     int           // max records per insert
	InsertTimeout time.Duration // per batch
	MaxRetries    int           // batch retries before falling back to single inserts
	RetryDelay    time.Duration // grows linearly per attempt
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		QueueSize:     256,
		WorkerCount:   4,
		BatchSize:     32,
		InsertTimeout: 5 * time.Second,
		MaxRetries:    2,
		RetryDelay:    100 * time.Millisecond,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repositories.ChatRecordRepository, logger *zap.Logger, metrics *observability.Metrics, config Config) *AuditService {
	def := DefaultConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = def.WorkerCount
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.InsertTimeout <= 0 {
		config.InsertTimeout = def.InsertTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = def.RetryDelay
	}

	queues := make([]chan *models.ChatRecord, config.WorkerCount)
	for i := range queues {
		queues[i] = make(chan *models.ChatRecord, config.QueueSize)
	}

	return &AuditService{
		repo:    repo,
		logger:  logger,
		metrics: metrics,
		config:  config,
		queues:  queues,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i, q := range s.queues {
		s.wg.Add(1)
		go s.worker(i, q)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.config.WorkerCount),
		zap.Int("queue_size", s.config.QueueSize))

	return nil
}

// Stop stops accepting records and waits for queued ones to be written
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.stopped = true
	pending := 0
	for _, q := range s.queues {
		pending += len(q)
		close(q)
	}
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_records", pending))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Append queues a record without blocking. A full queue drops the
// record, which is logged and counted.
func (s *AuditService) Append(ctx context.Context, record *models.ChatRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return ErrNotStarted
	}

	select {
	case s.queues[s.shard(record.CallerID)] <- record:
		return nil
	default:
		s.dropped.Add(1)
		s.metrics.AuditDropped()
		s.logger.Warn("audit queue full, dropping record",
			zap.String("caller_id", record.CallerID),
			zap.String("session_id", record.SessionID))
		return ErrQueueFull
	}
}

func (s *AuditService) shard(callerID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(callerID))
	return int(h.Sum32() % uint32(len(s.queues)))
}

// worker drains its queue, inserting whatever is buffered as one batch
func (s *AuditService) worker(id int, queue <-chan *models.ChatRecord) {
	defer s.wg.Done()

	batch := make([]*models.ChatRecord, 0, s.config.BatchSize)
	for record := range queue {
		batch = append(batch[:0], record)
	drain:
		for len(batch) < s.config.BatchSize {
			select {
			case next, ok := <-queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		if lost, err := s.write(batch); err != nil {
			for i := 0; i < lost; i++ {
				s.metrics.StoreFailed(observability.StoreAudit)
			}
			s.logger.Error("failed to write audit records",
				zap.Int("worker_id", id),
				zap.Int("records", len(batch)),
				zap.Int("lost", lost),
				zap.Error(err))
		}
	}
}

// write inserts a batch, retrying with backoff. If the batch keeps failing
// the records are inserted one by one so a single bad row only loses itself.
// It returns how many records were not stored.
func (s *AuditService) write(batch []*models.ChatRecord) (int, error) {
	var err error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.config.RetryDelay * time.Duration(attempt))
		}
		if err = s.insertBatch(batch); err == nil {
			return 0, nil
		}
		s.logger.Warn("audit batch insert failed",
			zap.Int("attempt", attempt+1),
			zap.Int("records", len(batch)),
			zap.Error(err))
	}
	if len(batch) == 1 {
		return 1, err
	}

	lost := 0
	var errs []error
	for _, record := range batch {
		if err := s.insert(record); err != nil {
			lost++
			errs = append(errs, fmt.Errorf("record %s: %w", record.ID, err))
		}
	}
	if lost > 0 {
		return lost, errors.Join(errs...)
	}
	return 0, nil
}

func (s *AuditService) insertBatch(batch []*models.ChatRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.InsertTimeout)
	defer cancel()

	if err := s.repo.InsertBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to insert chat records: %w", err)
	}
	return nil
}

func (s *AuditService) insert(record *models.ChatRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.InsertTimeout)
	defer cancel()

	if err := s.repo.Insert(ctx, record); err != nil {
		return fmt.Errorf("failed to insert chat record: %w", err)
	}
	return nil
}

// ListBySession reads back a caller's records for one session
func (s *AuditService) ListBySession(ctx context.Context, callerID, sessionID string, limit int) ([]*models.ChatRecord, error) {
	return s.repo.ListBySession(ctx, callerID, sessionID, limit)
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := 0
	for _, q := range s.queues {
		pending += len(q)
	}
	return Stats{
		QueueSize:      s.config.QueueSize,
		PendingRecords: pending,
		WorkerCount:    s.config.WorkerCount,
		Dropped:        s.dropped.Load(),
		Started:        s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	QueueSize      int
	PendingRecords int
	WorkerCount    int
	Dropped        int64
	Started        bool
}
