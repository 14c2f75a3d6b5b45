// Package storage defines the durable-state contract for the EchoAtlas
// memory subsystem. Backends implement InteractionStore over different
// engines (SQLite, Postgres + pgvector, chromem) behind one small interface
// so the engine layer never depends on a concrete store.
package storage

import (
	"context"

	"github.com/echoatlas/atlasmem/pkg/types"
)

// InteractionStore is the durable collection of interaction records.
//
// Scope filtering follows types.Scope.Matches: every field set on the query
// scope must equal the record's field, empty fields are wildcards. Append
// must be visible to an immediately following Recall — there is no eventual
// consistency window. Record ordering by recency uses the insertion sequence
// as a tie-breaker so equal timestamps stay in insertion order.
type InteractionStore interface {
	// Append persists a new interaction record. The caller assigns ID and
	// timestamp; the store never mutates a record after the append.
	Append(ctx context.Context, it *types.Interaction) error

	// Recall returns records matching scope. With a query vector, records
	// carrying embeddings are ranked by descending cosine similarity (ties
	// by recency); records without embeddings fill remaining slots in
	// recency order. Without a query vector, all matching records are
	// returned most-recent first. The result is truncated to opts.TopK.
	// No match yields an empty slice, not an error.
	Recall(ctx context.Context, scope types.Scope, opts RecallOptions) ([]types.Interaction, error)

	// DeleteScope removes every record matching scope and returns the
	// number removed. An empty match set is success with count 0.
	DeleteScope(ctx context.Context, scope types.Scope) (int, error)

	// ClearAll removes every record regardless of scope and returns the
	// number removed.
	ClearAll(ctx context.Context) (int, error)

	// Count returns the total number of stored records.
	Count(ctx context.Context) (int, error)

	// Regions enumerates the distinct (region, location) pairs present in
	// the store with their record counts, most populous first.
	Regions(ctx context.Context) ([]RegionSummary, error)

	// Close releases resources held by the store.
	Close() error
}
