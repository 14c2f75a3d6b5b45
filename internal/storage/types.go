package storage

import "errors"

var (
	// ErrInvalidInput indicates an empty required field. Rejected before any
	// write; not retryable without correcting the request.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidScope indicates a scope whose required region field is empty.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrEmbeddingUnavailable indicates the embedding provider failed or
	// timed out. Store operations recover by persisting the record without
	// an embedding; recall degrades to recency ordering.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrStorageUnavailable indicates the durable backend is unreachable.
	// Fatal for the call; never silently swallowed.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")
)

const (
	// DefaultSimilarityTopK bounds similarity queries ("memories related to
	// this question").
	DefaultSimilarityTopK = 5

	// DefaultBrowseTopK bounds scope-dump queries ("everything stored for
	// this city").
	DefaultBrowseTopK = 50
)

// RecallOptions controls ranking and truncation for Recall.
type RecallOptions struct {
	// TopK is the maximum number of records to return. Minimum 1.
	TopK int

	// QueryVector is the embedding of the query text. Empty means recency
	// ordering only.
	QueryVector []float32
}

// Normalize applies defaults and clamps TopK to at least 1.
func (o *RecallOptions) Normalize() {
	if o.TopK < 1 {
		if len(o.QueryVector) > 0 {
			o.TopK = DefaultSimilarityTopK
		} else {
			o.TopK = DefaultBrowseTopK
		}
	}
}

// RegionSummary is one row of the per-region record census.
type RegionSummary struct {
	Region   string `json:"region"`
	Location string `json:"location"`
	Count    int    `json:"count"`
}
