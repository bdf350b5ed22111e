package chat

import (
	"context"
	"time"

	"github.com/upb/chat-gateway/models"
	"github.com/upb/chat-gateway/services/semantic"
)

// Fixed replies
const (
	ReplyEmptyMessage     = "No message received!"
	ReplyGenerationFailed = "Sorry, I couldn't generate a response at the moment."
	ReplyNoChoices        = "AI response not available."
)

// Outcome says how a turn was answered
type Outcome string

const (
	OutcomeEmpty     Outcome = "empty"
	OutcomeCacheHit  Outcome = "cache_hit"
	OutcomeGenerated Outcome = "generated"
	OutcomeDegraded  Outcome = "degraded"
)

// Intent maps the outcome onto the audit column
func (o Outcome) Intent() models.TurnIntent {
	switch o {
	case OutcomeCacheHit:
		return models.IntentCacheHit
	case OutcomeGenerated:
		return models.IntentGenerated
	default:
		return models.IntentDegraded
	}
}

// TurnRequest is one user message addressed to a session
type TurnRequest struct {
	CallerID  string
	SessionID string
	Message   string
	RequestID string
}

// TurnResponse is the reply to a turn
type TurnResponse struct {
	Response  string  `json:"response"`
	Outcome   Outcome `json:"-"`
	SessionID string  `json:"-"`
}

// Config holds generation parameters
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
	Timeout     time.Duration
}

// DefaultConfig returns the generation parameters the service ships with
func DefaultConfig() Config {
	return Config{
		Model:       "meta-llama/Llama-3.3-70B-Instruct-Turbo",
		MaxTokens:   800,
		Temperature: 0.7,
		TopP:        0.9,
		Timeout:     60 * time.Second,
	}
}

// KnowledgeIndex finds a previously answered question
type KnowledgeIndex interface {
	Lookup(ctx context.Context, question string) (semantic.Result, error)
}

// KnowledgeWriter stores a newly answered question
type KnowledgeWriter interface {
	Append(ctx context.Context, question, answer string, vector []float32) error
}

// SessionStore reads and extends session history
type SessionStore interface {
	GetHistory(ctx context.Context, callerID, sessionID string) ([]models.Turn, error)
	AppendTurns(ctx context.Context, callerID, sessionID string, turns ...models.Turn) error
}

// AuditLog records every processed turn
type AuditLog interface {
	Append(ctx context.Context, record *models.ChatRecord) error
}
