package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/echoatlas/atlasmem/internal/llm"
	"github.com/echoatlas/atlasmem/pkg/types"
)

const generatePromptTemplate = `You are a cultural communication expert.

For the following place:
- Country or State/Region: %s
- City/Area: %s

Generate a short, practical profile for how a visitor should speak and behave.
Return ONLY valid JSON with these keys:
- "phrase": a short example phrase for politely asking for something (in English or local language).
- "gesture": a one-sentence description of an appropriate gesture/body language.
- "tone": 2-5 words describing the recommended tone of voice.
- "custom": 1-2 sentences of a key cultural tip for everyday interactions.

Example output:
{
  "phrase": "Can I get a coffee, please?",
  "gesture": "Smile and make brief eye contact.",
  "tone": "Friendly and polite",
  "custom": "Start with a short greeting before making your request."
}`

// Generator produces profiles for locations absent from the seed catalog.
type Generator struct {
	gen llm.TextGenerator
}

// NewGenerator wraps a text generator. A nil generator is allowed; Generate
// then always returns the fallback profile.
func NewGenerator(gen llm.TextGenerator) *Generator {
	return &Generator{gen: gen}
}

// Generate asks the LLM for a profile. Failures never propagate: a generic
// fallback profile built from the location name is returned instead, so
// profile lookups succeed even with the provider down.
func (g *Generator) Generate(ctx context.Context, region, location string) types.Profile {
	if g.gen == nil {
		return fallbackProfile(location)
	}

	prompt := fmt.Sprintf(generatePromptTemplate, region, location)
	raw, err := g.gen.Complete(ctx, prompt)
	if err != nil {
		log.Printf("profile: generation failed for %s/%s: %v", region, location, err)
		return fallbackProfile(location)
	}

	p, err := parseProfileJSON(raw)
	if err != nil {
		log.Printf("profile: bad generation output for %s/%s: %v", region, location, err)
		return fallbackProfile(location)
	}
	return p
}

type profileJSON struct {
	Phrase  string `json:"phrase"`
	Gesture string `json:"gesture"`
	Tone    string `json:"tone"`
	Custom  string `json:"custom"`
}

// parseProfileJSON extracts a profile from model output, stripping markdown
// code fences when the model wraps the JSON.
func parseProfileJSON(raw string) (types.Profile, error) {
	content := stripFences(strings.TrimSpace(raw))

	var p profileJSON
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return types.Profile{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return types.Profile{
		Phrase:  strings.TrimSpace(p.Phrase),
		Gesture: strings.TrimSpace(p.Gesture),
		Tone:    strings.TrimSpace(p.Tone),
		Custom:  strings.TrimSpace(p.Custom),
	}, nil
}

// stripFences removes a surrounding ```json ... ``` block.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.Trim(s, "`")
	if lower := strings.ToLower(s); strings.HasPrefix(lower, "json") {
		if _, rest, found := strings.Cut(s, "\n"); found {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(s)
}

func fallbackProfile(location string) types.Profile {
	return types.Profile{
		Phrase:  fmt.Sprintf("Hello, could you please help me here in %s?", location),
		Gesture: "Smile gently and be respectful.",
		Tone:    "Polite and friendly",
		Custom:  fmt.Sprintf("Be respectful and watch how locals behave in %s.", location),
	}
}
