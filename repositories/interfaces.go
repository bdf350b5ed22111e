package repositories

import (
	"context"

	"github.com/upb/chat-gateway/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// SessionRepository stores the per-caller session document.
// Implementations define their own consistency policy for concurrent
// writers of the same caller.
type SessionRepository interface {
	// Create adds a new empty session to the caller's document
	Create(ctx context.Context, callerID string, session *models.ChatSession) error

	// Get returns the caller's document, or an empty one for unknown callers
	Get(ctx context.Context, callerID string) (*models.CallerSessions, error)

	// AppendTurns appends turns to an existing session in one read-merge-write.
	// It never creates a session: unknown ids return services.ErrSessionNotFound.
	AppendTurns(ctx context.Context, callerID, sessionID string, turns ...models.Turn) error
}

// ChatRecordRepository handles the flat audit log of turns
type ChatRecordRepository interface {
	// Insert inserts one record
	Insert(ctx context.Context, record *models.ChatRecord) error

	// InsertBatch inserts records in order within one transaction
	InsertBatch(ctx context.Context, records []*models.ChatRecord) error

	// ListBySession returns a caller's records for one session, oldest first
	ListBySession(ctx context.Context, callerID, sessionID string, limit int) ([]*models.ChatRecord, error)
}

// KnowledgeRepository persists question/answer pairs. Entries are never
// updated or removed.
type KnowledgeRepository interface {
	// LoadAll returns every persisted entry in insertion order
	LoadAll(ctx context.Context) ([]models.KnowledgeEntry, error)

	// Append durably persists one entry
	Append(ctx context.Context, entry models.KnowledgeEntry) error

	Close() error
}

// Compactor is implemented by knowledge stores that can fold their write
// log into a snapshot
type Compactor interface {
	Compact(ctx context.Context) error
}
