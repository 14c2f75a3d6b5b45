package types

import (
	"fmt"
	"math/rand"

	"gopkg.in/yaml.v3"
)

// Profile is a small bundle of advisory text associated with a
// (region, location) pair: an example phrase, a gesture tip, a tone
// recommendation, and a general cultural tip. Fields may be empty on
// fallback but a profile as a whole is never empty.
type Profile struct {
	Phrase  string `json:"phrase"`
	Gesture string `json:"gesture"`
	Tone    string `json:"tone"`
	Custom  string `json:"custom"`
}

// IsZero reports whether every field of the profile is empty.
func (p Profile) IsZero() bool {
	return p.Phrase == "" && p.Gesture == "" && p.Tone == "" && p.Custom == ""
}

// FieldChoice is one candidate value for a variant-valued profile field,
// optionally restricted to a conversational context tag.
type FieldChoice struct {
	Text    string `yaml:"text" json:"text"`
	Context string `yaml:"context,omitempty" json:"context,omitempty"`
}

// ProfileField is a tagged variant: either a single fixed string or a set of
// choices from which one value is selected at resolution time. In seed files
// a field may be written as a plain scalar, a list of strings, or a list of
// {text, context} mappings; all three forms decode into this type.
type ProfileField struct {
	Fixed   string
	Choices []FieldChoice
}

// IsVariant reports whether the field carries multiple candidate values.
func (f ProfileField) IsVariant() bool {
	return len(f.Choices) > 0
}

// Resolve selects the field's value. Fixed fields return their value
// unchanged. Variant fields first restrict the candidates to those tagged
// with the given context (when the context is non-empty and at least one
// candidate carries that tag), then pick one uniformly using rng. A nil rng
// selects the first candidate, which keeps resolution deterministic in tests.
func (f ProfileField) Resolve(context string, rng *rand.Rand) string {
	if len(f.Choices) == 0 {
		return f.Fixed
	}

	candidates := f.Choices
	if context != "" {
		var tagged []FieldChoice
		for _, c := range f.Choices {
			if c.Context == context {
				tagged = append(tagged, c)
			}
		}
		if len(tagged) > 0 {
			candidates = tagged
		}
	}

	if rng == nil {
		return candidates[0].Text
	}
	return candidates[rng.Intn(len(candidates))].Text
}

// UnmarshalYAML decodes the three accepted seed-file shapes:
//
//	phrase: "Sumimasen"                      # fixed
//	phrases: ["Sumimasen", "Onegaishimasu"]  # untagged choices
//	phrases:                                 # context-tagged choices
//	  - text: "Sumimasen"
//	    context: casual
func (f *ProfileField) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&f.Fixed)

	case yaml.SequenceNode:
		f.Choices = f.Choices[:0]
		for _, item := range node.Content {
			switch item.Kind {
			case yaml.ScalarNode:
				var text string
				if err := item.Decode(&text); err != nil {
					return err
				}
				f.Choices = append(f.Choices, FieldChoice{Text: text})
			case yaml.MappingNode:
				var choice FieldChoice
				if err := item.Decode(&choice); err != nil {
					return err
				}
				f.Choices = append(f.Choices, choice)
			default:
				return fmt.Errorf("profile field: unsupported list item at line %d", item.Line)
			}
		}
		return nil

	default:
		return fmt.Errorf("profile field: expected scalar or list at line %d", node.Line)
	}
}
