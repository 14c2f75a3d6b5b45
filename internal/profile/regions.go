// Package profile provides communication profiles for (region, location)
// pairs: seeded profiles loaded from a YAML catalog, LLM-generated profiles
// for unknown locations, and an LRU cache over the generated ones.
package profile

import (
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/echoatlas/atlasmem/pkg/types"
)

// SeedProfile is one location's entry in the region catalog. Each field may
// be a fixed string or a list of variants.
type SeedProfile struct {
	Phrase  types.ProfileField `yaml:"phrase"`
	Gesture types.ProfileField `yaml:"gesture"`
	Tone    types.ProfileField `yaml:"tone"`
	Custom  types.ProfileField `yaml:"custom"`
}

// Region groups the seeded locations of one region.
type Region struct {
	Emoji     string                 `yaml:"emoji"`
	Locations map[string]SeedProfile `yaml:"locations"`
}

// Catalog is the parsed region seed file.
type Catalog struct {
	regions map[string]Region
}

// LoadCatalog reads and parses a YAML region catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses YAML catalog bytes. The document maps region names to
// Region entries.
func ParseCatalog(data []byte) (*Catalog, error) {
	regions := make(map[string]Region)
	if err := yaml.Unmarshal(data, &regions); err != nil {
		return nil, fmt.Errorf("profile: failed to parse catalog: %w", err)
	}
	return &Catalog{regions: regions}, nil
}

// EmptyCatalog returns a catalog with no seeded regions. Every lookup falls
// through to the generator.
func EmptyCatalog() *Catalog {
	return &Catalog{regions: make(map[string]Region)}
}

// Regions returns the seeded region names, sorted.
func (c *Catalog) Regions() []string {
	names := make([]string, 0, len(c.regions))
	for name := range c.regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Locations returns the seeded location names for a region, sorted. The
// second return is false when the region is not in the catalog.
func (c *Catalog) Locations(region string) ([]string, bool) {
	r, ok := c.regions[strings.TrimSpace(region)]
	if !ok {
		return nil, false
	}
	names := make([]string, 0, len(r.Locations))
	for name := range r.Locations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, true
}

// Emoji returns the display emoji for a region, if seeded.
func (c *Catalog) Emoji(region string) string {
	return c.regions[strings.TrimSpace(region)].Emoji
}

// Resolve looks up the seeded profile for (region, location) and resolves
// variant fields against the given interaction context. Seeds resolve fresh
// on every call so variants rotate. The second return is false when the
// location is not seeded.
func (c *Catalog) Resolve(region, location, context string, rng *rand.Rand) (types.Profile, bool) {
	r, ok := c.regions[strings.TrimSpace(region)]
	if !ok {
		return types.Profile{}, false
	}
	seed, ok := r.Locations[strings.TrimSpace(location)]
	if !ok {
		return types.Profile{}, false
	}
	return types.Profile{
		Phrase:  seed.Phrase.Resolve(context, rng),
		Gesture: seed.Gesture.Resolve(context, rng),
		Tone:    seed.Tone.Resolve(context, rng),
		Custom:  seed.Custom.Resolve(context, rng),
	}, true
}
