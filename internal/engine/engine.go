// Package engine orchestrates the scoped memory store: it validates and
// embeds incoming interactions, serializes write-class operations, runs
// recalls with graceful degradation, and resolves communication profiles.
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echoatlas/atlasmem/internal/llm"
	"github.com/echoatlas/atlasmem/internal/profile"
	"github.com/echoatlas/atlasmem/internal/storage"
	"github.com/echoatlas/atlasmem/pkg/types"
)

// DefaultEmbedTimeout bounds the embedding call made during store and
// recall. A timeout is treated the same as a provider failure.
const DefaultEmbedTimeout = 10 * time.Second

// Config holds engine tuning knobs.
type Config struct {
	// EmbedTimeout bounds embedding calls. Zero uses DefaultEmbedTimeout.
	EmbedTimeout time.Duration

	// RecallTopK is the default result count for similarity recalls.
	// Zero uses the storage default.
	RecallTopK int
}

// Engine is the public surface of the memory store. Write-class operations
// (store, delete, clear) are serialized; recalls run concurrently.
type Engine struct {
	store    storage.InteractionStore
	embedder llm.EmbeddingGenerator
	profiles *profile.Service
	cfg      Config

	// writeMu serializes write-class operations and guards lastTS, which
	// keeps assigned timestamps strictly monotonic within a process.
	writeMu sync.Mutex
	lastTS  time.Time

	onEvent func(Event)
}

// New creates an engine. embedder may be nil: every record is then persisted
// without an embedding and recall always orders by recency. profiles may be
// nil when profile lookups are not served.
func New(store storage.InteractionStore, embedder llm.EmbeddingGenerator, profiles *profile.Service, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine: interaction store is required")
	}
	if cfg.EmbedTimeout == 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		profiles: profiles,
		cfg:      cfg,
	}, nil
}

// OnEvent registers a callback invoked after each successful mutation. Set
// it before serving requests; it is not safe to change concurrently.
func (e *Engine) OnEvent(fn func(Event)) {
	e.onEvent = fn
}

// StoreRequest carries the fields of a new interaction.
type StoreRequest struct {
	Scope    types.Scope
	Question string
	Answer   string
	Tone     string
	Gesture  string
	Custom   string
}

// Store validates, embeds, and persists an interaction. Embedding failure
// does not lose the interaction: the record is persisted without a vector
// and participates in recency recall only.
func (e *Engine) Store(ctx context.Context, req StoreRequest) (*types.Interaction, error) {
	req.Scope = req.Scope.Normalize()
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("engine: %w: question is required", storage.ErrInvalidInput)
	}
	if req.Scope.Region == "" {
		return nil, fmt.Errorf("engine: %w: region is required", storage.ErrInvalidScope)
	}

	it := &types.Interaction{
		ID:       uuid.New().String(),
		Scope:    req.Scope,
		Question: strings.TrimSpace(req.Question),
		Answer:   req.Answer,
		Tone:     req.Tone,
		Gesture:  req.Gesture,
		Custom:   req.Custom,
	}

	if vec, model, err := e.embed(ctx, it.Question); err != nil {
		log.Printf("engine: embedding unavailable, storing without vector: %v", err)
	} else {
		it.Embedding = vec
		it.EmbeddingModel = model
		it.EmbeddingDimension = len(vec)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	it.Timestamp = e.nextTimestampLocked()
	if err := e.store.Append(ctx, it); err != nil {
		return nil, err
	}

	e.emit(Event{Type: EventStored, Scope: it.Scope, ID: it.ID, Count: 1})
	return it, nil
}

// Recall returns up to topK records matching scope. A non-empty query is
// embedded and results rank by similarity; an empty query, a nil embedder,
// or an embedding failure all rank by recency instead.
func (e *Engine) Recall(ctx context.Context, scope types.Scope, query string, topK int) ([]types.Interaction, error) {
	scope = scope.Normalize()
	if scope.Region == "" {
		return nil, fmt.Errorf("engine: %w: region is required", storage.ErrInvalidScope)
	}

	// The top-k default follows the caller's intent: a question implies a
	// similarity recall even when the embedding later fails and the store
	// falls back to recency ordering.
	query = strings.TrimSpace(query)
	if topK <= 0 {
		topK = e.cfg.RecallTopK
	}
	if topK <= 0 {
		if query != "" {
			topK = storage.DefaultSimilarityTopK
		} else {
			topK = storage.DefaultBrowseTopK
		}
	}

	opts := storage.RecallOptions{TopK: topK}
	if query != "" {
		if vec, _, err := e.embed(ctx, query); err != nil {
			log.Printf("engine: embedding unavailable, recall falls back to recency: %v", err)
		} else {
			opts.QueryVector = vec
		}
	}

	return e.store.Recall(ctx, scope, opts)
}

// DeleteScope removes every record matching scope and returns the count.
// An empty match set is success with count 0.
func (e *Engine) DeleteScope(ctx context.Context, scope types.Scope) (int, error) {
	scope = scope.Normalize()
	if scope.Region == "" {
		return 0, fmt.Errorf("engine: %w: region is required", storage.ErrInvalidScope)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	n, err := e.store.DeleteScope(ctx, scope)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.emit(Event{Type: EventDeleted, Scope: scope, Count: n})
	}
	return n, nil
}

// ClearAll removes every record in the store and returns the count.
func (e *Engine) ClearAll(ctx context.Context) (int, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	n, err := e.store.ClearAll(ctx)
	if err != nil {
		return 0, err
	}
	e.emit(Event{Type: EventCleared, Count: n})
	return n, nil
}

// Regions lists distinct (region, location) pairs with record counts.
func (e *Engine) Regions(ctx context.Context) ([]storage.RegionSummary, error) {
	return e.store.Regions(ctx)
}

// Profile resolves the communication profile for (region, location).
func (e *Engine) Profile(ctx context.Context, region, location, interactionContext string) (types.Profile, error) {
	if e.profiles == nil {
		return types.Profile{}, fmt.Errorf("engine: profile service not configured")
	}
	if strings.TrimSpace(region) == "" {
		return types.Profile{}, fmt.Errorf("engine: %w: region is required", storage.ErrInvalidScope)
	}
	return e.profiles.Get(ctx, region, location, interactionContext), nil
}

// Stats reports store-level counters.
type Stats struct {
	TotalInteractions int                     `json:"total_interactions"`
	Regions           []storage.RegionSummary `json:"regions"`
	CachedProfiles    int                     `json:"cached_profiles"`
	EmbeddingModel    string                  `json:"embedding_model,omitempty"`
}

// Stats returns current store statistics.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	count, err := e.store.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	regions, err := e.store.Regions(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		TotalInteractions: count,
		Regions:           regions,
	}
	if e.profiles != nil {
		st.CachedProfiles = e.profiles.CacheLen()
	}
	if e.embedder != nil {
		st.EmbeddingModel = e.embedder.GetModel()
	}
	return st, nil
}

// Close releases the underlying store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// embed runs the embedding call under the configured timeout.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, string, error) {
	if e.embedder == nil {
		return nil, "", fmt.Errorf("%w: no provider configured", storage.ErrEmbeddingUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
	defer cancel()

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", storage.ErrEmbeddingUnavailable, err)
	}
	if len(vec) == 0 {
		return nil, "", fmt.Errorf("%w: provider returned empty vector", storage.ErrEmbeddingUnavailable)
	}
	return vec, e.embedder.GetModel(), nil
}

// nextTimestampLocked hands out strictly increasing timestamps. Callers hold
// writeMu.
func (e *Engine) nextTimestampLocked() time.Time {
	now := time.Now().UTC()
	if !now.After(e.lastTS) {
		now = e.lastTS.Add(time.Microsecond)
	}
	e.lastTS = now
	return now
}

func (e *Engine) emit(ev Event) {
	if e.onEvent != nil {
		ev.At = time.Now().UTC()
		e.onEvent(ev)
	}
}
