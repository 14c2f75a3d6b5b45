package sqlite

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/echoatlas/atlasmem/internal/storage"
	"github.com/echoatlas/atlasmem/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// append stores a record with a synthetic timestamp offset so recency
// ordering in assertions is unambiguous.
func appendRecord(t *testing.T, s *Store, id string, scope types.Scope, question string, embedding []float32, offset time.Duration) {
	t.Helper()
	it := &types.Interaction{
		ID:        id,
		Scope:     scope,
		Question:  question,
		Answer:    "answer for " + question,
		Embedding: embedding,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(offset),
	}
	if embedding != nil {
		it.EmbeddingModel = "test-model"
		it.EmbeddingDimension = len(embedding)
	}
	if err := s.Append(context.Background(), it); err != nil {
		t.Fatalf("Append(%s) failed: %v", id, err)
	}
}

func TestAppendValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Append(ctx, &types.Interaction{ID: "x", Question: "hi"})
	if err == nil || !strings.Contains(err.Error(), "region") {
		t.Errorf("expected invalid scope error, got %v", err)
	}

	err = store.Append(ctx, &types.Interaction{ID: "x", Scope: types.Scope{Region: "Japan"}})
	if err == nil {
		t.Error("expected invalid input error for empty question")
	}
}

func TestAppendThenRecallIsImmediatelyVisible(t *testing.T) {
	store := newTestStore(t)
	scope := types.Scope{Region: "Japan", Location: "Tokyo", Mode: "Text", Context: "casual"}

	appendRecord(t, store, "a", scope, "first", nil, 0)
	appendRecord(t, store, "b", scope, "second", nil, time.Second)

	got, err := store.Recall(context.Background(), scope, storage.RecallOptions{TopK: 10})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ID != "b" {
		t.Errorf("most recent record first: got %q, want %q", got[0].ID, "b")
	}
}

func TestRecallScopeFiltering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	appendRecord(t, store, "tokyo-text", types.Scope{Region: "Japan", Location: "Tokyo", Mode: "Text", Context: "casual"}, "q1", nil, 0)
	appendRecord(t, store, "tokyo-mic", types.Scope{Region: "Japan", Location: "Tokyo", Mode: "Mic", Context: "casual"}, "q2", nil, time.Second)
	appendRecord(t, store, "kyoto", types.Scope{Region: "Japan", Location: "Kyoto", Mode: "Text", Context: "casual"}, "q3", nil, 2*time.Second)
	appendRecord(t, store, "paris", types.Scope{Region: "France", Location: "Paris", Mode: "Text", Context: "casual"}, "q4", nil, 3*time.Second)

	tests := []struct {
		name  string
		scope types.Scope
		want  int
	}{
		{"region only matches all locations and modes", types.Scope{Region: "Japan"}, 3},
		{"region and location", types.Scope{Region: "Japan", Location: "Tokyo"}, 2},
		{"fully specified", types.Scope{Region: "Japan", Location: "Tokyo", Mode: "Mic", Context: "casual"}, 1},
		{"no match", types.Scope{Region: "Japan", Location: "Osaka"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Recall(ctx, tt.scope, storage.RecallOptions{TopK: 50})
			if err != nil {
				t.Fatalf("Recall failed: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len(got) = %d, want %d", len(got), tt.want)
			}
			for _, it := range got {
				if !tt.scope.Matches(it.Scope) {
					t.Errorf("record %s with scope %v escaped query scope %v", it.ID, it.Scope, tt.scope)
				}
			}
		})
	}
}

// TestRecallSimilarityRanking replays the coffee scenario: three records in
// Tokyo, query "coffee", topK 2 — both results mention coffee, ordered by
// similarity then recency.
func TestRecallSimilarityRanking(t *testing.T) {
	store := newTestStore(t)
	scope := types.Scope{Region: "Japan", Location: "Tokyo", Mode: "Text", Context: "casual"}

	// Hand-built vectors: coffee questions point along x, directions along y.
	appendRecord(t, store, "coffee-1", scope, "ask for coffee", []float32{1, 0, 0}, 0)
	appendRecord(t, store, "directions", scope, "ask for directions", []float32{0, 1, 0}, time.Second)
	appendRecord(t, store, "coffee-2", scope, "ask for coffee again", []float32{0.9, 0.1, 0}, 2*time.Second)

	got, err := store.Recall(context.Background(), types.Scope{Region: "Japan", Location: "Tokyo"}, storage.RecallOptions{
		TopK:        2,
		QueryVector: []float32{1, 0, 0},
	})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	for _, it := range got {
		if !strings.Contains(it.Question, "coffee") {
			t.Errorf("expected a coffee question, got %q", it.Question)
		}
	}
	if got[0].ID != "coffee-1" {
		t.Errorf("best match first: got %q, want %q", got[0].ID, "coffee-1")
	}
}

func TestRecallSimilarityTieBrokenByRecency(t *testing.T) {
	store := newTestStore(t)
	scope := types.Scope{Region: "Japan", Location: "Tokyo"}

	// Identical vectors: cosine ties, newer record must come first.
	appendRecord(t, store, "old", scope, "same question", []float32{1, 0}, 0)
	appendRecord(t, store, "new", scope, "same question again", []float32{1, 0}, time.Second)

	got, err := store.Recall(context.Background(), scope, storage.RecallOptions{
		TopK:        2,
		QueryVector: []float32{1, 0},
	})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if got[0].ID != "new" {
		t.Errorf("tie should break by recency: got %q first, want %q", got[0].ID, "new")
	}
}

// TestRecallIncludesUnembeddedRecords verifies that records persisted during
// an embedding-provider outage still surface in similarity recalls, after
// the embedded matches, in recency order.
func TestRecallIncludesUnembeddedRecords(t *testing.T) {
	store := newTestStore(t)
	scope := types.Scope{Region: "Japan", Location: "Tokyo"}

	appendRecord(t, store, "embedded", scope, "with vector", []float32{1, 0}, 0)
	appendRecord(t, store, "degraded", scope, "stored during outage", nil, time.Second)

	got, err := store.Recall(context.Background(), scope, storage.RecallOptions{
		TopK:        5,
		QueryVector: []float32{1, 0},
	})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ID != "embedded" || got[1].ID != "degraded" {
		t.Errorf("order = [%s %s], want [embedded degraded]", got[0].ID, got[1].ID)
	}
}

func TestRecallEmptyScopeIsNotAnError(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Recall(context.Background(), types.Scope{Region: "Nowhere"}, storage.RecallOptions{TopK: 5})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len(got) = %d, want 0", len(got))
	}
}

func TestDeleteScopeFullySpecified(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	target := types.Scope{Region: "Japan", Location: "Tokyo", Mode: "Text", Context: "casual"}
	appendRecord(t, store, "target", target, "q", nil, 0)

	// Records differing in exactly one field must survive.
	appendRecord(t, store, "other-location", types.Scope{Region: "Japan", Location: "Kyoto", Mode: "Text", Context: "casual"}, "q", nil, time.Second)
	appendRecord(t, store, "other-mode", types.Scope{Region: "Japan", Location: "Tokyo", Mode: "Mic", Context: "casual"}, "q", nil, 2*time.Second)
	appendRecord(t, store, "other-context", types.Scope{Region: "Japan", Location: "Tokyo", Mode: "Text", Context: "formal"}, "q", nil, 3*time.Second)
	appendRecord(t, store, "other-region", types.Scope{Region: "France", Location: "Tokyo", Mode: "Text", Context: "casual"}, "q", nil, 4*time.Second)

	n, err := store.DeleteScope(ctx, target)
	if err != nil {
		t.Fatalf("DeleteScope failed: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}

	remaining, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if remaining != 4 {
		t.Errorf("remaining = %d, want 4", remaining)
	}
}

func TestDeleteScopeRegionOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	scope := types.Scope{Region: "Japan", Location: "Tokyo"}

	for i := 0; i < 3; i++ {
		appendRecord(t, store, fmt.Sprintf("jp-%d", i), types.Scope{
			Region:   "Japan",
			Location: []string{"Tokyo", "Kyoto", "Osaka"}[i],
			Mode:     []string{"Text", "Mic", "Text"}[i],
			Context:  "casual",
		}, "q", nil, time.Duration(i)*time.Second)
	}
	appendRecord(t, store, "fr", types.Scope{Region: "France", Location: "Paris"}, "q", nil, 10*time.Second)

	n, err := store.DeleteScope(ctx, types.Scope{Region: "Japan"})
	if err != nil {
		t.Fatalf("DeleteScope failed: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted %d, want 3", n)
	}

	got, err := store.Recall(ctx, scope, storage.RecallOptions{TopK: 50})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("recall after delete returned %d records, want 0", len(got))
	}
}

func TestDeleteScopeNothingToDeleteIsSuccess(t *testing.T) {
	store := newTestStore(t)
	n, err := store.DeleteScope(context.Background(), types.Scope{Region: "Atlantis"})
	if err != nil {
		t.Fatalf("DeleteScope failed: %v", err)
	}
	if n != 0 {
		t.Errorf("deleted %d, want 0", n)
	}
}

func TestClearAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	appendRecord(t, store, "a", types.Scope{Region: "Japan", Location: "Tokyo"}, "q", nil, 0)
	appendRecord(t, store, "b", types.Scope{Region: "France", Location: "Paris"}, "q", nil, time.Second)

	n, err := store.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	if n != 2 {
		t.Errorf("cleared %d, want 2", n)
	}

	// Clearing an already-empty store is a no-op, not an error.
	n, err = store.ClearAll(ctx)
	if err != nil {
		t.Fatalf("second ClearAll failed: %v", err)
	}
	if n != 0 {
		t.Errorf("second clear removed %d, want 0", n)
	}
}

func TestRegions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	appendRecord(t, store, "a", types.Scope{Region: "Japan", Location: "Tokyo"}, "q", nil, 0)
	appendRecord(t, store, "b", types.Scope{Region: "Japan", Location: "Tokyo"}, "q", nil, time.Second)
	appendRecord(t, store, "c", types.Scope{Region: "Japan", Location: "Kyoto"}, "q", nil, 2*time.Second)

	got, err := store.Regions(ctx)
	if err != nil {
		t.Fatalf("Regions failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].Location != "Tokyo" || got[0].Count != 2 {
		t.Errorf("most populous first: got %+v", got[0])
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	store := newTestStore(t)
	scope := types.Scope{Region: "Japan", Location: "Tokyo"}
	vec := []float32{0.25, -1.5, 3.75, 0}

	appendRecord(t, store, "a", scope, "q", vec, 0)

	got, err := store.Recall(context.Background(), scope, storage.RecallOptions{TopK: 1})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if len(got[0].Embedding) != len(vec) {
		t.Fatalf("embedding dim = %d, want %d", len(got[0].Embedding), len(vec))
	}
	for i := range vec {
		if got[0].Embedding[i] != vec[i] {
			t.Errorf("embedding[%d] = %v, want %v", i, got[0].Embedding[i], vec[i])
		}
	}
	if got[0].EmbeddingModel != "test-model" {
		t.Errorf("EmbeddingModel = %q, want %q", got[0].EmbeddingModel, "test-model")
	}
}
