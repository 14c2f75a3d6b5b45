package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/echoatlas/atlasmem/internal/storage"
	"github.com/echoatlas/atlasmem/internal/storage/sqlite"
	"github.com/echoatlas/atlasmem/pkg/types"
)

// fakeEmbedder maps known texts to fixed vectors and fails on demand.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if vec, ok := f.vectors[text]; ok {
		return vec, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) GetModel() string { return "fake-embed" }

func newTestEngine(t *testing.T, embedder *fakeEmbedder) *Engine {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	var e *Engine
	if embedder != nil {
		e, err = New(store, embedder, nil, Config{})
	} else {
		e, err = New(store, nil, nil, Config{})
	}
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return e
}

func TestStoreValidation(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.Store(ctx, StoreRequest{Scope: types.Scope{Region: "tokyo"}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("missing question: got %v, want ErrInvalidInput", err)
	}

	_, err = e.Store(ctx, StoreRequest{Question: "hello"})
	if !errors.Is(err, storage.ErrInvalidScope) {
		t.Errorf("missing region: got %v, want ErrInvalidScope", err)
	}
}

func TestScopeNormalizedBeforeUse(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	it, err := e.Store(ctx, StoreRequest{
		Scope:    types.Scope{Region: " Japan ", Location: " Tokyo "},
		Question: "padded scope",
	})
	if err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if it.Scope.Region != "Japan" || it.Scope.Location != "Tokyo" {
		t.Fatalf("stored scope = %+v, want trimmed fields", it.Scope)
	}

	// The record must be visible under the trimmed scope.
	got, err := e.Recall(ctx, types.Scope{Region: "Japan", Location: "Tokyo"}, "", 5)
	if err != nil {
		t.Fatalf("Recall error: %v", err)
	}
	if len(got) != 1 || got[0].Question != "padded scope" {
		t.Fatalf("trimmed recall = %+v, want the stored record", got)
	}

	// A padded delete scope removes it too.
	n, err := e.DeleteScope(ctx, types.Scope{Region: "Japan ", Location: " Tokyo"})
	if err != nil {
		t.Fatalf("DeleteScope error: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
}

func TestWhitespaceOnlyRegionRejected(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.Store(ctx, StoreRequest{Scope: types.Scope{Region: "   "}, Question: "q"})
	if !errors.Is(err, storage.ErrInvalidScope) {
		t.Errorf("Store: got %v, want ErrInvalidScope", err)
	}

	_, err = e.Recall(ctx, types.Scope{Region: "\t"}, "", 5)
	if !errors.Is(err, storage.ErrInvalidScope) {
		t.Errorf("Recall: got %v, want ErrInvalidScope", err)
	}

	_, err = e.DeleteScope(ctx, types.Scope{Region: " "})
	if !errors.Is(err, storage.ErrInvalidScope) {
		t.Errorf("DeleteScope: got %v, want ErrInvalidScope", err)
	}
}

func TestStoreAssignsIdentityAndMonotonicTimestamps(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	scope := types.Scope{Region: "tokyo"}

	var prev *types.Interaction
	for i := 0; i < 5; i++ {
		it, err := e.Store(ctx, StoreRequest{Scope: scope, Question: "q"})
		if err != nil {
			t.Fatalf("Store error: %v", err)
		}
		if it.ID == "" {
			t.Fatal("no ID assigned")
		}
		if prev != nil {
			if it.ID == prev.ID {
				t.Fatal("duplicate ID assigned")
			}
			if !it.Timestamp.After(prev.Timestamp) {
				t.Fatalf("timestamp %v not after %v", it.Timestamp, prev.Timestamp)
			}
		}
		prev = it
	}
}

func TestStoreEmbedsQuestion(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"where is good coffee": {1, 0, 0}}}
	e := newTestEngine(t, emb)

	it, err := e.Store(context.Background(), StoreRequest{
		Scope:    types.Scope{Region: "tokyo"},
		Question: "where is good coffee",
	})
	if err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if !it.HasEmbedding() {
		t.Fatal("interaction not embedded")
	}
	if it.EmbeddingModel != "fake-embed" {
		t.Errorf("embedding model = %q", it.EmbeddingModel)
	}
}

func TestStoreSurvivesEmbedderFailure(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("provider down")}
	e := newTestEngine(t, emb)
	ctx := context.Background()
	scope := types.Scope{Region: "tokyo"}

	it, err := e.Store(ctx, StoreRequest{Scope: scope, Question: "remember this"})
	if err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if it.HasEmbedding() {
		t.Fatal("expected record without embedding")
	}

	// The record is still retrievable by recency.
	got, err := e.Recall(ctx, scope, "", 5)
	if err != nil {
		t.Fatalf("Recall error: %v", err)
	}
	if len(got) != 1 || got[0].Question != "remember this" {
		t.Fatalf("recall after degraded store = %+v", got)
	}
}

func TestRecallSimilarityAndFallback(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"coffee shops":  {1, 0, 0},
		"train lines":   {0, 1, 0},
		"where coffee?": {0.9, 0.1, 0},
	}}
	e := newTestEngine(t, emb)
	ctx := context.Background()
	scope := types.Scope{Region: "tokyo"}

	for _, q := range []string{"coffee shops", "train lines"} {
		if _, err := e.Store(ctx, StoreRequest{Scope: scope, Question: q}); err != nil {
			t.Fatalf("Store(%s) error: %v", q, err)
		}
	}

	got, err := e.Recall(ctx, scope, "where coffee?", 1)
	if err != nil {
		t.Fatalf("Recall error: %v", err)
	}
	if len(got) != 1 || got[0].Question != "coffee shops" {
		t.Fatalf("similarity recall = %+v", got)
	}

	// Embedder breaks: recall degrades to recency instead of failing.
	emb.err = errors.New("provider down")
	got, err = e.Recall(ctx, scope, "where coffee?", 1)
	if err != nil {
		t.Fatalf("degraded Recall error: %v", err)
	}
	if len(got) != 1 || got[0].Question != "train lines" {
		t.Fatalf("degraded recall = %+v, want most recent record", got)
	}
}

func TestRecallDefaultTopKFollowsQueryIntent(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("provider down")}
	e := newTestEngine(t, emb)
	ctx := context.Background()
	scope := types.Scope{Region: "tokyo"}

	for i := 0; i < storage.DefaultSimilarityTopK+2; i++ {
		if _, err := e.Store(ctx, StoreRequest{Scope: scope, Question: "q"}); err != nil {
			t.Fatalf("Store error: %v", err)
		}
	}

	// A question implies the similarity default even when embedding fails
	// and ordering degrades to recency.
	got, err := e.Recall(ctx, scope, "anything", 0)
	if err != nil {
		t.Fatalf("Recall error: %v", err)
	}
	if len(got) != storage.DefaultSimilarityTopK {
		t.Fatalf("got %d results, want %d", len(got), storage.DefaultSimilarityTopK)
	}

	// No question: the larger browse default applies.
	got, err = e.Recall(ctx, scope, "", 0)
	if err != nil {
		t.Fatalf("browse Recall error: %v", err)
	}
	if len(got) != storage.DefaultSimilarityTopK+2 {
		t.Fatalf("browse returned %d results, want all %d", len(got), storage.DefaultSimilarityTopK+2)
	}
}

func TestRecallRequiresRegion(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Recall(context.Background(), types.Scope{}, "", 5)
	if !errors.Is(err, storage.ErrInvalidScope) {
		t.Fatalf("got %v, want ErrInvalidScope", err)
	}
}

func TestDeleteScopeAndClearAll(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	scopes := []types.Scope{
		{Region: "tokyo", Location: "shibuya"},
		{Region: "tokyo", Location: "ginza"},
		{Region: "oslo"},
	}
	for _, s := range scopes {
		if _, err := e.Store(ctx, StoreRequest{Scope: s, Question: "q"}); err != nil {
			t.Fatalf("Store error: %v", err)
		}
	}

	n, err := e.DeleteScope(ctx, types.Scope{Region: "tokyo"})
	if err != nil {
		t.Fatalf("DeleteScope error: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted %d, want 2", n)
	}

	n, err = e.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll error: %v", err)
	}
	if n != 1 {
		t.Fatalf("cleared %d, want 1", n)
	}
}

func TestEventsEmitted(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	var events []Event
	e.OnEvent(func(ev Event) { events = append(events, ev) })

	if _, err := e.Store(ctx, StoreRequest{Scope: types.Scope{Region: "tokyo"}, Question: "q"}); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if _, err := e.DeleteScope(ctx, types.Scope{Region: "tokyo"}); err != nil {
		t.Fatalf("DeleteScope error: %v", err)
	}
	if _, err := e.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll error: %v", err)
	}

	want := []string{EventStored, EventDeleted, EventCleared}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("event %d = %s, want %s", i, ev.Type, want[i])
		}
		if ev.At.IsZero() {
			t.Errorf("event %d has zero timestamp", i)
		}
	}

	// Deleting nothing emits no event.
	events = nil
	if _, err := e.DeleteScope(ctx, types.Scope{Region: "tokyo"}); err != nil {
		t.Fatalf("DeleteScope error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("empty delete emitted %d events", len(events))
	}
}

func TestStats(t *testing.T) {
	emb := &fakeEmbedder{}
	e := newTestEngine(t, emb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := e.Store(ctx, StoreRequest{Scope: types.Scope{Region: "tokyo"}, Question: "q"}); err != nil {
			t.Fatalf("Store error: %v", err)
		}
	}

	st, err := e.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if st.TotalInteractions != 3 {
		t.Errorf("total = %d, want 3", st.TotalInteractions)
	}
	if len(st.Regions) != 1 || st.Regions[0].Region != "tokyo" {
		t.Errorf("regions = %+v", st.Regions)
	}
	if st.EmbeddingModel != "fake-embed" {
		t.Errorf("embedding model = %q", st.EmbeddingModel)
	}
}
