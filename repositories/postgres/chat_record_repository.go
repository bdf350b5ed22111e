package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/upb/chat-gateway/models"
	"github.com/upb/chat-gateway/repositories"
	"go.uber.org/zap"
)

const defaultListLimit = 100

// ChatRecordRepository implements repositories.ChatRecordRepository on the
// chat_history table
type ChatRecordRepository struct {
	db     *DB
	tm     repositories.TransactionManager
	logger *zap.Logger
}

// NewChatRecordRepository creates a new chat record repository
func NewChatRecordRepository(db *DB, logger *zap.Logger) *ChatRecordRepository {
	return &ChatRecordRepository{
		db:     db,
		tm:     NewTransactionManager(db, logger),
		logger: logger,
	}
}

const insertChatRecord = `
	INSERT INTO chat_history (
		id, user_id, timestamp, user_message, bot_response, intent, session_id, request_id
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8
	)
`

// Insert inserts one record
func (r *ChatRecordRepository) Insert(ctx context.Context, record *models.ChatRecord) error {
	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, insertChatRecord,
		record.ID,
		record.CallerID,
		record.Timestamp,
		record.UserMessage,
		record.BotResponse,
		nullString(string(record.Intent)),
		record.SessionID,
		nullString(record.RequestID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat record: %w", err)
	}

	r.logger.Debug("chat record inserted",
		zap.String("id", record.ID.String()),
		zap.String("session_id", record.SessionID),
	)
	return nil
}

// InsertBatch inserts records in slice order inside one transaction
func (r *ChatRecordRepository) InsertBatch(ctx context.Context, records []*models.ChatRecord) error {
	switch len(records) {
	case 0:
		return nil
	case 1:
		return r.Insert(ctx, records[0])
	}

	return r.tm.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		for _, record := range records {
			if err := r.Insert(txCtx, record); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListBySession returns a caller's records for one session, oldest first
func (r *ChatRecordRepository) ListBySession(ctx context.Context, callerID, sessionID string, limit int) ([]*models.ChatRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, user_id, timestamp, user_message, bot_response, intent, session_id, request_id
		FROM chat_history
		WHERE user_id = $1 AND session_id = $2
		ORDER BY timestamp ASC
		LIMIT $3
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, callerID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat records: %w", err)
	}
	defer rows.Close()

	var records []*models.ChatRecord
	for rows.Next() {
		record := &models.ChatRecord{}
		var intent, requestID sql.NullString
		err := rows.Scan(
			&record.ID,
			&record.CallerID,
			&record.Timestamp,
			&record.UserMessage,
			&record.BotResponse,
			&intent,
			&record.SessionID,
			&requestID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat record: %w", err)
		}
		record.Intent = models.TurnIntent(intent.String)
		record.RequestID = requestID.String
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat record rows: %w", err)
	}

	return records, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
