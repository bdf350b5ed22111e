package memory

import (
	"context"
	"sync"

	"github.com/upb/chat-gateway/models"
)

// ChatRecordRepository keeps audit records in process memory. It backs
// the audit log when no database is configured.
type ChatRecordRepository struct {
	mu      sync.RWMutex
	records []*models.ChatRecord
}

// NewChatRecordRepository creates an empty record store
func NewChatRecordRepository() *ChatRecordRepository {
	return &ChatRecordRepository{}
}

// Insert appends one record
func (r *ChatRecordRepository) Insert(ctx context.Context, record *models.ChatRecord) error {
	return r.InsertBatch(ctx, []*models.ChatRecord{record})
}

// InsertBatch appends records in order
func (r *ChatRecordRepository) InsertBatch(ctx context.Context, records []*models.ChatRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		cp := *rec
		r.records = append(r.records, &cp)
	}
	return nil
}

// ListBySession returns a caller's records for one session, oldest first
func (r *ChatRecordRepository) ListBySession(ctx context.Context, callerID, sessionID string, limit int) ([]*models.ChatRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.ChatRecord
	for _, rec := range r.records {
		if rec.CallerID != callerID || rec.SessionID != sessionID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
