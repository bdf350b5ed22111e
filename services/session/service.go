// Package session manages caller-scoped chat sessions on top of a
// SessionRepository.
package session

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/upb/chat-gateway/models"
	"github.com/upb/chat-gateway/repositories"
	"github.com/upb/chat-gateway/services"
)

// Summary is one row of a caller's session list
type Summary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Preview   string    `json:"preview"`
}

// Service implements session creation, history reads and appends
type Service struct {
	repo   repositories.SessionRepository
	logger *zap.Logger
}

// NewService creates a new session service
func NewService(repo repositories.SessionRepository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// CreateSession creates an empty session owned by callerID
func (s *Service) CreateSession(ctx context.Context, callerID string) (*models.ChatSession, error) {
	if callerID == "" {
		return nil, services.ErrUnauthorized
	}

	session := models.NewChatSession()
	if err := s.repo.Create(ctx, callerID, session); err != nil {
		return nil, wrapStore("create session", err)
	}

	s.logger.Info("chat session created",
		zap.String("caller_id", callerID),
		zap.String("session_id", session.ID),
	)
	return session, nil
}

// GetHistory returns the turns of one of the caller's sessions. Unknown
// ids and sessions owned by another caller yield an empty history.
func (s *Service) GetHistory(ctx context.Context, callerID, sessionID string) ([]models.Turn, error) {
	if sessionID == "" {
		return nil, services.ErrSessionIDMissing
	}

	doc, err := s.repo.Get(ctx, callerID)
	if err != nil {
		return nil, wrapStore("get history", err)
	}

	session := doc.Find(sessionID)
	if session == nil {
		return []models.Turn{}, nil
	}
	return session.History, nil
}

// AppendTurn appends one turn to an existing session
func (s *Service) AppendTurn(ctx context.Context, callerID, sessionID string, turn models.Turn) error {
	return s.AppendTurns(ctx, callerID, sessionID, turn)
}

// AppendTurns appends turns in one write so they stay adjacent. It never
// creates a session.
func (s *Service) AppendTurns(ctx context.Context, callerID, sessionID string, turns ...models.Turn) error {
	if sessionID == "" {
		return services.ErrSessionRequired
	}
	if len(turns) == 0 {
		return nil
	}

	if err := s.repo.AppendTurns(ctx, callerID, sessionID, turns...); err != nil {
		return wrapStore("append turns", err)
	}
	return nil
}

// ListSessions returns the caller's sessions, newest first
func (s *Service) ListSessions(ctx context.Context, callerID string) ([]Summary, error) {
	doc, err := s.repo.Get(ctx, callerID)
	if err != nil {
		return nil, wrapStore("list sessions", err)
	}

	// reverse insertion order breaks timestamp ties
	out := make([]Summary, 0, len(doc.Sessions))
	for i := len(doc.Sessions) - 1; i >= 0; i-- {
		sess := doc.Sessions[i]
		out = append(out, Summary{
			ID:        sess.ID,
			CreatedAt: sess.CreatedAt,
			Preview:   sess.Preview(),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// wrapStore keeps domain errors from the repository and wraps the rest
func wrapStore(op string, err error) error {
	if services.GetErrorType(err) != "" {
		return err
	}
	return services.WrapStorage(op, err)
}
