package profile

import (
	"context"
	"math/rand"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/echoatlas/atlasmem/pkg/types"
)

// DefaultCacheSize bounds the number of generated profiles kept in memory.
const DefaultCacheSize = 256

// Service resolves profiles: seeded locations come from the catalog with
// variants resolved fresh per call, unseeded locations are generated once
// and cached. Only generated profiles are cached; seeds stay live so their
// variants keep rotating.
type Service struct {
	catalog   *Catalog
	generator *Generator
	cache     *lru.Cache[string, types.Profile]

	// mu serializes cache misses so concurrent lookups of the same key
	// produce one generation, and the first stored result wins.
	mu  sync.Mutex
	rng *rand.Rand
}

// NewService builds a profile service. cacheSize <= 0 uses DefaultCacheSize.
// rng drives variant selection; nil picks the first candidate, which tests
// rely on for determinism.
func NewService(catalog *Catalog, generator *Generator, cacheSize int, rng *rand.Rand) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, types.Profile](cacheSize)
	if err != nil {
		return nil, err
	}
	if catalog == nil {
		catalog = EmptyCatalog()
	}
	return &Service{
		catalog:   catalog,
		generator: generator,
		cache:     cache,
		rng:       rng,
	}, nil
}

// Get returns the profile for (region, location). interactionContext filters
// variant choices in seeded profiles and is ignored for generated ones.
func (s *Service) Get(ctx context.Context, region, location, interactionContext string) types.Profile {
	if p, ok := s.catalog.Resolve(region, location, interactionContext, s.rng); ok {
		return p
	}

	key := cacheKey(region, location)
	if p, ok := s.cache.Get(key); ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// First writer wins: a concurrent lookup may have populated the key
	// while we waited for the lock.
	if p, ok := s.cache.Get(key); ok {
		return p
	}

	p := s.generator.Generate(ctx, region, location)
	s.cache.Add(key, p)
	return p
}

// Invalidate drops the cached generation for (region, location).
func (s *Service) Invalidate(region, location string) {
	s.cache.Remove(cacheKey(region, location))
}

// CacheLen reports how many generated profiles are currently cached.
func (s *Service) CacheLen() int {
	return s.cache.Len()
}

// Catalog exposes the seed catalog for region listings.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

func cacheKey(region, location string) string {
	return strings.TrimSpace(region) + "|" + strings.TrimSpace(location)
}
