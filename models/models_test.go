package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurn_JSON(t *testing.T) {
	history := []Turn{UserTurn("What is SIGCE?"), BotTurn("SIGCE is a college.")}

	data, err := json.Marshal(history)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"user":"What is SIGCE?"},{"bot":"SIGCE is a college."}]`, string(data))

	var decoded []Turn
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, history, decoded)
}

func TestTurn_UnmarshalRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"two speakers", `{"user":"a","bot":"b"}`},
		{"no speaker", `{}`},
		{"unknown speaker", `{"system":"x"}`},
		{"not an object", `"hello"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var turn Turn
			assert.Error(t, json.Unmarshal([]byte(tt.raw), &turn))
		})
	}
}

func TestNewChatSession(t *testing.T) {
	s := NewChatSession()

	_, err := uuid.Parse(s.ID)
	assert.NoError(t, err)
	assert.False(t, s.CreatedAt.IsZero())
	assert.NotNil(t, s.History)
	assert.Empty(t, s.History)
}

func TestChatSession_Preview(t *testing.T) {
	s := NewChatSession()
	assert.Equal(t, DefaultPreview, s.Preview())

	s.History = append(s.History, UserTurn("first question"), BotTurn("answer"))
	assert.Equal(t, "first question", s.Preview())

	s.History = []Turn{BotTurn("greeting")}
	assert.Equal(t, DefaultPreview, s.Preview())

	s.History = append(s.History, UserTurn("later question"))
	assert.Equal(t, "later question", s.Preview())
}

func TestCallerSessions_Clone(t *testing.T) {
	doc := NewCallerSessions("caller-1")
	s := NewChatSession()
	doc.Add(s)
	doc.Version = 3

	cp := doc.Clone()
	cp.AppendTurns(s.ID, UserTurn("hi"))
	cp.Add(NewChatSession())

	assert.Empty(t, doc.Sessions[0].History)
	assert.Len(t, doc.Sessions, 1)
	assert.Equal(t, int64(3), cp.Version)
	assert.Len(t, cp.Find(s.ID).History, 1)
}

func TestChatSession_UserTurns(t *testing.T) {
	s := &ChatSession{History: []Turn{UserTurn("a"), BotTurn("b"), UserTurn("c")}}

	assert.Equal(t, []Turn{UserTurn("a"), UserTurn("c")}, s.UserTurns())
}

func TestCallerSessions_AppendTurns(t *testing.T) {
	doc := NewCallerSessions("42")
	s := NewChatSession()
	doc.Add(s)

	assert.True(t, doc.AppendTurns(s.ID, UserTurn("q"), BotTurn("a")))
	assert.Len(t, doc.Find(s.ID).History, 2)

	assert.False(t, doc.AppendTurns("missing", UserTurn("q")))
	assert.Len(t, doc.Sessions, 1)
	assert.Nil(t, doc.Find("missing"))
}

func TestCallerSessions_JSONShape(t *testing.T) {
	doc := NewCallerSessions("42")
	s := NewChatSession()
	s.History = append(s.History, UserTurn("hi"))
	doc.Add(s)

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	sessions := raw["chat_sessions"].([]interface{})
	require.Len(t, sessions, 1)
	first := sessions[0].(map[string]interface{})
	assert.Equal(t, s.ID, first["session_id"])
	assert.Contains(t, first, "created_at")
}

func TestNewKnowledgeEntry(t *testing.T) {
	e := NewKnowledgeEntry("q", "a", []float32{1, 0})

	assert.True(t, e.HasEmbedding())
	require.NotNil(t, e.CreatedAt)
	assert.False(t, e.CreatedAt.IsZero())
	assert.False(t, (&KnowledgeEntry{Question: "q"}).HasEmbedding())
}

func TestKnowledgeSnapshot_ReadsLegacyFile(t *testing.T) {
	raw := `{"queries": [{"question": "What is SIGCE?", "answer": "A college."}]}`

	var snap KnowledgeSnapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &snap))
	require.Len(t, snap.Queries, 1)
	assert.Equal(t, "What is SIGCE?", snap.Queries[0].Question)
	assert.False(t, snap.Queries[0].HasEmbedding())
	assert.Nil(t, snap.Queries[0].CreatedAt)
}

func TestKnowledgeSnapshot_LegacyEntryWritesBackWithoutTimestamp(t *testing.T) {
	raw := `{"queries": [{"question": "What is SIGCE?", "answer": "A college."}]}`

	var snap KnowledgeSnapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &snap))
	out, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "created_at")

	stamped, err := json.Marshal(NewKnowledgeEntry("q", "a", nil))
	require.NoError(t, err)
	assert.Contains(t, string(stamped), `"created_at"`)
}

func TestNewChatRecord(t *testing.T) {
	r := NewChatRecord("42", "sess-1").
		WithExchange("q", "a").
		WithIntent(IntentGenerated).
		WithRequest("req-1")

	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.Equal(t, "42", r.CallerID)
	assert.Equal(t, "sess-1", r.SessionID)
	assert.Equal(t, "q", r.UserMessage)
	assert.Equal(t, "a", r.BotResponse)
	assert.Equal(t, IntentGenerated, r.Intent)
	assert.Equal(t, "req-1", r.RequestID)
	assert.False(t, r.Timestamp.IsZero())
	assert.Equal(t, "chat_history", r.TableName())
}
