package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies who produced a turn
type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerBot  Speaker = "bot"
)

// DefaultPreview is shown for sessions without a user turn yet
const DefaultPreview = "New Chat"

// Turn is one utterance within a session. It serializes as a single-key
// object, {"user": "..."} or {"bot": "..."}.
type Turn struct {
	Speaker Speaker
	Text    string
}

// UserTurn creates a turn spoken by the caller
func UserTurn(text string) Turn {
	return Turn{Speaker: SpeakerUser, Text: text}
}

// BotTurn creates a turn spoken by the assistant
func BotTurn(text string) Turn {
	return Turn{Speaker: SpeakerBot, Text: text}
}

// MarshalJSON implements json.Marshaler
func (t Turn) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[Speaker]string{t.Speaker: t.Text})
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Turn) UnmarshalJSON(data []byte) error {
	var raw map[Speaker]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("turn must have exactly one speaker, got %d", len(raw))
	}
	for speaker, text := range raw {
		if speaker != SpeakerUser && speaker != SpeakerBot {
			return fmt.Errorf("unknown speaker %q", speaker)
		}
		t.Speaker = speaker
		t.Text = text
	}
	return nil
}

// ChatSession is an ordered, caller-scoped conversation
type ChatSession struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	History   []Turn    `json:"history"`
}

// NewChatSession creates an empty session with a random id
func NewChatSession() *ChatSession {
	return &ChatSession{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		History:   []Turn{},
	}
}

// Preview returns the text of the caller's first turn, or DefaultPreview
func (s *ChatSession) Preview() string {
	for _, t := range s.History {
		if t.Speaker == SpeakerUser {
			return t.Text
		}
	}
	return DefaultPreview
}

// UserTurns returns the caller's turns in chronological order
func (s *ChatSession) UserTurns() []Turn {
	turns := make([]Turn, 0, len(s.History))
	for _, t := range s.History {
		if t.Speaker == SpeakerUser {
			turns = append(turns, t)
		}
	}
	return turns
}

// CallerSessions is the per-caller document holding every session the
// caller owns. Version increases by one on every successful write.
type CallerSessions struct {
	CallerID string         `json:"caller_id"`
	Sessions []*ChatSession `json:"chat_sessions"`
	Version  int64          `json:"version"`
}

// NewCallerSessions creates an empty document for a caller
func NewCallerSessions(callerID string) *CallerSessions {
	return &CallerSessions{
		CallerID: callerID,
		Sessions: []*ChatSession{},
	}
}

// Clone returns a deep copy so callers can merge without sharing slices
func (c *CallerSessions) Clone() *CallerSessions {
	out := &CallerSessions{
		CallerID: c.CallerID,
		Sessions: make([]*ChatSession, len(c.Sessions)),
		Version:  c.Version,
	}
	for i, s := range c.Sessions {
		cp := *s
		cp.History = append([]Turn(nil), s.History...)
		out.Sessions[i] = &cp
	}
	return out
}

// Find locates a session by id with a linear scan
func (c *CallerSessions) Find(sessionID string) *ChatSession {
	for _, s := range c.Sessions {
		if s.ID == sessionID {
			return s
		}
	}
	return nil
}

// Add appends a session to the document
func (c *CallerSessions) Add(session *ChatSession) {
	c.Sessions = append(c.Sessions, session)
}

// AppendTurns appends turns to an existing session. It never creates the
// session; ok is false when sessionID is unknown.
func (c *CallerSessions) AppendTurns(sessionID string, turns ...Turn) (ok bool) {
	s := c.Find(sessionID)
	if s == nil {
		return false
	}
	s.History = append(s.History, turns...)
	return true
}
