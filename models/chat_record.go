package models

import (
	"time"

	"github.com/google/uuid"
)

// TurnIntent records how a turn was answered
type TurnIntent string

const (
	IntentCacheHit  TurnIntent = "cache_hit"
	IntentGenerated TurnIntent = "generated"
	IntentDegraded  TurnIntent = "degraded"
)

// ChatRecord is one flat audit row per processed turn. It is never
// updated after insert.
type ChatRecord struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	CallerID    string     `json:"user_id" db:"user_id"`
	SessionID   string     `json:"session_id" db:"session_id"`
	UserMessage string     `json:"user_message" db:"user_message"`
	BotResponse string     `json:"bot_response" db:"bot_response"`
	Intent      TurnIntent `json:"intent,omitempty" db:"intent"`
	RequestID   string     `json:"request_id,omitempty" db:"request_id"`
	Timestamp   time.Time  `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the ChatRecord model
func (ChatRecord) TableName() string {
	return "chat_history"
}

// NewChatRecord creates a ChatRecord for a caller's session
func NewChatRecord(callerID, sessionID string) *ChatRecord {
	return &ChatRecord{
		ID:        uuid.New(),
		CallerID:  callerID,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
}

// WithExchange sets the question and answer
func (r *ChatRecord) WithExchange(userMessage, botResponse string) *ChatRecord {
	r.UserMessage = userMessage
	r.BotResponse = botResponse
	return r
}

// WithIntent sets how the turn was answered
func (r *ChatRecord) WithIntent(intent TurnIntent) *ChatRecord {
	r.Intent = intent
	return r
}

// WithRequest sets the originating request id
func (r *ChatRecord) WithRequest(requestID string) *ChatRecord {
	r.RequestID = requestID
	return r
}
