// Package memory holds the in-process session store. Writes for one
// caller are serialized through that caller's lock, so read-merge-write
// never loses an update.
package memory

import (
	"context"
	"sync"

	"github.com/upb/chat-gateway/models"
	"github.com/upb/chat-gateway/services"
)

type callerSlot struct {
	mu  sync.Mutex
	doc *models.CallerSessions
}

// SessionRepository implements repositories.SessionRepository in memory
type SessionRepository struct {
	mu    sync.Mutex
	slots map[string]*callerSlot
}

// NewSessionRepository creates an empty store
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{slots: make(map[string]*callerSlot)}
}

func (r *SessionRepository) slot(callerID string) *callerSlot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[callerID]
	if !ok {
		s = &callerSlot{doc: models.NewCallerSessions(callerID)}
		r.slots[callerID] = s
	}
	return s
}

// Create adds a new session to the caller's document
func (r *SessionRepository) Create(ctx context.Context, callerID string, session *models.ChatSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := r.slot(callerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *session
	cp.History = append([]models.Turn{}, session.History...)
	s.doc.Add(&cp)
	s.doc.Version++
	return nil
}

// Get returns a copy of the caller's document
func (r *SessionRepository) Get(ctx context.Context, callerID string) (*models.CallerSessions, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := r.slot(callerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.doc.Clone(), nil
}

// AppendTurns appends to an existing session under the caller's lock
func (r *SessionRepository) AppendTurns(ctx context.Context, callerID, sessionID string, turns ...models.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := r.slot(callerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.doc.AppendTurns(sessionID, turns...) {
		return services.ErrSessionNotFound
	}
	s.doc.Version++
	return nil
}
