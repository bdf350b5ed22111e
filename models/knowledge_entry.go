package models

import "time"

// KnowledgeEntry is a cached question/answer pair. Embedding holds the
// question's vector computed at write time; it may be empty for entries
// imported from a file that never carried one. CreatedAt is likewise nil
// for legacy entries, which keeps their write-back free of a zero time.
type KnowledgeEntry struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// NewKnowledgeEntry creates an entry stamped with the current time
func NewKnowledgeEntry(question, answer string, embedding []float32) *KnowledgeEntry {
	now := time.Now().UTC()
	return &KnowledgeEntry{
		Question:  question,
		Answer:    answer,
		Embedding: embedding,
		CreatedAt: &now,
	}
}

// HasEmbedding reports whether the question vector is cached
func (e *KnowledgeEntry) HasEmbedding() bool {
	return len(e.Embedding) > 0
}

// KnowledgeSnapshot is the whole-collection file form, {"queries": [...]}
type KnowledgeSnapshot struct {
	Queries []KnowledgeEntry `json:"queries"`
}
