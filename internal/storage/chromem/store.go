// Package chromem implements the interaction store on chromem-go, an
// embedded pure-Go vector database. The backend is in-memory and intended
// for development and tests. chromem only ranks by similarity and offers no
// listing or per-document deletion, so the store keeps a full side index in
// insertion order: recency recalls, deletes, and counts run against the
// index, while chromem serves the similarity queries.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/echoatlas/atlasmem/internal/storage"
	"github.com/echoatlas/atlasmem/pkg/types"
)

const collectionName = "interactions"

// Store implements storage.InteractionStore using chromem-go.
type Store struct {
	mu  sync.RWMutex
	db  *chromem.DB
	col *chromem.Collection

	// records mirrors the collection in insertion order.
	records []types.Interaction
}

var _ storage.InteractionStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() (*Store, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: failed to create collection: %w", err)
	}
	return &Store{db: db, col: col}, nil
}

// Append persists a new interaction record. Records without an embedding are
// kept only in the side index; chromem requires a vector per document, and
// such records participate in recency recall alone.
func (s *Store) Append(ctx context.Context, it *types.Interaction) error {
	if it == nil || it.ID == "" || it.Question == "" {
		return fmt.Errorf("chromem: %w: id and question are required", storage.ErrInvalidInput)
	}
	if it.Scope.Region == "" {
		return fmt.Errorf("chromem: %w: region is required", storage.ErrInvalidScope)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if it.HasEmbedding() {
		if err := s.col.AddDocument(ctx, toDocument(*it)); err != nil {
			return fmt.Errorf("chromem: failed to add document: %w", err)
		}
	}

	s.records = append(s.records, *it)
	return nil
}

// Recall returns records matching scope, ranked per opts. Similarity hits
// come from chromem; records without embeddings fill remaining slots by
// recency.
func (s *Store) Recall(ctx context.Context, scope types.Scope, opts storage.RecallOptions) ([]types.Interaction, error) {
	opts.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(opts.QueryVector) == 0 {
		return s.recallRecentLocked(scope, opts.TopK, nil), nil
	}

	// chromem rejects nResults above the matching document count, so clamp
	// against the side index.
	embedded := 0
	for _, rec := range s.records {
		if rec.HasEmbedding() && scope.Matches(rec.Scope) {
			embedded++
		}
	}

	var results []types.Interaction
	if embedded > 0 {
		n := opts.TopK
		if n > embedded {
			n = embedded
		}
		hits, err := s.col.QueryEmbedding(ctx, opts.QueryVector, n, scopeWhere(scope), nil)
		if err != nil {
			return nil, fmt.Errorf("chromem: query failed: %w", err)
		}
		for _, hit := range hits {
			it, err := fromResult(hit)
			if err != nil {
				return nil, err
			}
			results = append(results, it)
		}
	}

	if len(results) < opts.TopK {
		skip := make(map[string]struct{}, len(results))
		for _, it := range results {
			skip[it.ID] = struct{}{}
		}
		results = append(results, s.recallRecentLocked(scope, opts.TopK-len(results), skip)...)
	}

	return results, nil
}

// recallRecentLocked returns matching records newest-first from the side
// index. Callers hold at least the read lock.
func (s *Store) recallRecentLocked(scope types.Scope, limit int, skip map[string]struct{}) []types.Interaction {
	type candidate struct {
		pos int
		it  types.Interaction
	}
	var candidates []candidate
	for i, rec := range s.records {
		if _, skipped := skip[rec.ID]; skipped {
			continue
		}
		if scope.Matches(rec.Scope) {
			candidates = append(candidates, candidate{pos: i, it: rec})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.it.Timestamp.Equal(b.it.Timestamp) {
			return a.it.Timestamp.After(b.it.Timestamp)
		}
		return a.pos > b.pos
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results := make([]types.Interaction, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, c.it)
	}
	return results
}

// DeleteScope removes every record matching scope and returns the count.
// chromem has no per-document delete, so the collection is rebuilt from the
// surviving records.
func (s *Store) DeleteScope(ctx context.Context, scope types.Scope) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]types.Interaction, 0, len(s.records))
	deleted := 0
	for _, rec := range s.records {
		if scope.Matches(rec.Scope) {
			deleted++
		} else {
			kept = append(kept, rec)
		}
	}
	if deleted == 0 {
		return 0, nil
	}

	if err := s.rebuildLocked(ctx, kept); err != nil {
		return 0, err
	}
	return deleted, nil
}

// ClearAll removes every record and returns the count.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := len(s.records)
	if deleted == 0 {
		return 0, nil
	}
	if err := s.rebuildLocked(ctx, nil); err != nil {
		return 0, err
	}
	return deleted, nil
}

// rebuildLocked recreates the collection holding exactly the given records.
// Callers hold the write lock.
func (s *Store) rebuildLocked(ctx context.Context, records []types.Interaction) error {
	if err := s.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("chromem: failed to drop collection: %w", err)
	}
	col, err := s.db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return fmt.Errorf("chromem: failed to recreate collection: %w", err)
	}
	for _, rec := range records {
		if !rec.HasEmbedding() {
			continue
		}
		if err := col.AddDocument(ctx, toDocument(rec)); err != nil {
			return fmt.Errorf("chromem: failed to re-add document %s: %w", rec.ID, err)
		}
	}
	s.col = col
	s.records = records
	return nil
}

// Count returns the total number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Regions enumerates distinct (region, location) pairs with record counts.
func (s *Store) Regions(ctx context.Context) ([]storage.RegionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct{ region, location string }
	counts := make(map[key]int)
	for _, rec := range s.records {
		counts[key{rec.Scope.Region, rec.Scope.Location}]++
	}

	summaries := make([]storage.RegionSummary, 0, len(counts))
	for k, n := range counts {
		summaries = append(summaries, storage.RegionSummary{
			Region:   k.region,
			Location: k.location,
			Count:    n,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Count != summaries[j].Count {
			return summaries[i].Count > summaries[j].Count
		}
		if summaries[i].Region != summaries[j].Region {
			return summaries[i].Region < summaries[j].Region
		}
		return summaries[i].Location < summaries[j].Location
	})
	return summaries, nil
}

// Close releases resources. chromem keeps everything in memory.
func (s *Store) Close() error {
	return nil
}

type docContent struct {
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
	Tone     string `json:"tone,omitempty"`
	Gesture  string `json:"gesture,omitempty"`
	Custom   string `json:"custom,omitempty"`
}

func toDocument(it types.Interaction) chromem.Document {
	content, _ := json.Marshal(docContent{
		Question: it.Question,
		Answer:   it.Answer,
		Tone:     it.Tone,
		Gesture:  it.Gesture,
		Custom:   it.Custom,
	})

	metadata := map[string]string{
		"region":    it.Scope.Region,
		"location":  it.Scope.Location,
		"mode":      it.Scope.Mode,
		"context":   it.Scope.Context,
		"timestamp": it.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if it.EmbeddingModel != "" {
		metadata["embedding_model"] = it.EmbeddingModel
	}
	if it.EmbeddingDimension > 0 {
		metadata["embedding_dim"] = strconv.Itoa(it.EmbeddingDimension)
	}

	return chromem.Document{
		ID:        it.ID,
		Content:   string(content),
		Embedding: it.Embedding,
		Metadata:  metadata,
	}
}

func fromResult(r chromem.Result) (types.Interaction, error) {
	var c docContent
	if err := json.Unmarshal([]byte(r.Content), &c); err != nil {
		return types.Interaction{}, fmt.Errorf("chromem: failed to deserialize document %s: %w", r.ID, err)
	}

	it := types.Interaction{
		ID: r.ID,
		Scope: types.Scope{
			Region:   r.Metadata["region"],
			Location: r.Metadata["location"],
			Mode:     r.Metadata["mode"],
			Context:  r.Metadata["context"],
		},
		Question:       c.Question,
		Answer:         c.Answer,
		Tone:           c.Tone,
		Gesture:        c.Gesture,
		Custom:         c.Custom,
		Embedding:      r.Embedding,
		EmbeddingModel: r.Metadata["embedding_model"],
	}
	it.EmbeddingDimension = len(r.Embedding)
	if raw := r.Metadata["timestamp"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return types.Interaction{}, fmt.Errorf("chromem: bad timestamp on document %s: %w", r.ID, err)
		}
		it.Timestamp = ts
	}
	return it, nil
}

// scopeWhere builds a chromem metadata filter from the set scope fields.
func scopeWhere(scope types.Scope) map[string]string {
	where := make(map[string]string)
	if scope.Region != "" {
		where["region"] = scope.Region
	}
	if scope.Location != "" {
		where["location"] = scope.Location
	}
	if scope.Mode != "" {
		where["mode"] = scope.Mode
	}
	if scope.Context != "" {
		where["context"] = scope.Context
	}
	return where
}
