package types

import "time"

// Interaction is one stored conversational turn. Records are immutable after
// creation: corrections are modelled as new records, and a record is removed
// only by a scoped delete, a full clear, or a factory reset.
type Interaction struct {
	// ID is assigned once at creation and never changes.
	ID string `json:"id"`

	// Scope is the full partition key captured at creation time. All four
	// fields are stored even when the triggering request supplied defaults.
	Scope Scope `json:"scope"`

	// Question is the original user utterance. Never empty.
	Question string `json:"question"`

	// Answer is the generated response. May be empty when generation failed.
	Answer string `json:"answer,omitempty"`

	// Advisory fields attached by the response generator. Each is
	// independently optional.
	Tone    string `json:"tone,omitempty"`
	Gesture string `json:"gesture,omitempty"`
	Custom  string `json:"custom,omitempty"`

	// Embedding is the vector derived from Question at creation time. It is
	// nil when the embedding provider was unavailable; such records are
	// excluded from similarity ranking but remain retrievable by recency.
	Embedding          []float32 `json:"embedding,omitempty"`
	EmbeddingModel     string    `json:"embedding_model,omitempty"`
	EmbeddingDimension int       `json:"embedding_dimension,omitempty"`

	// Timestamp is the creation time. Non-decreasing in insertion order.
	Timestamp time.Time `json:"timestamp"`
}

// HasEmbedding reports whether the record carries a usable embedding vector.
func (i *Interaction) HasEmbedding() bool {
	return len(i.Embedding) > 0
}
