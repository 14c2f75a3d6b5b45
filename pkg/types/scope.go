// Package types defines the shared data model for the EchoAtlas memory
// subsystem: scopes, interaction records, and cultural profiles.
package types

import "strings"

// Scope identifies a partition of stored interactions. Region is the only
// required field; the remaining fields narrow the partition when set and act
// as wildcards when empty. A scope with only Region set therefore covers
// every location, input mode, and conversational context under that region.
type Scope struct {
	Region   string `json:"region"`
	Location string `json:"location,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Context  string `json:"context,omitempty"`
}

// Normalize returns a copy of the scope with surrounding whitespace trimmed
// from every field.
func (s Scope) Normalize() Scope {
	return Scope{
		Region:   strings.TrimSpace(s.Region),
		Location: strings.TrimSpace(s.Location),
		Mode:     strings.TrimSpace(s.Mode),
		Context:  strings.TrimSpace(s.Context),
	}
}

// IsZero reports whether no field of the scope is set. The zero scope matches
// every record, which is the semantics used by a full clear.
func (s Scope) IsZero() bool {
	return s.Region == "" && s.Location == "" && s.Mode == "" && s.Context == ""
}

// Matches reports whether a record stored under the scope other falls inside
// this query scope. Every field set on the query must equal the corresponding
// field on the record; empty query fields impose no constraint. Narrowing is
// monotonic: any record matched by a scope is also matched by every ancestor
// scope obtained by clearing fields.
func (s Scope) Matches(other Scope) bool {
	if s.Region != "" && s.Region != other.Region {
		return false
	}
	if s.Location != "" && s.Location != other.Location {
		return false
	}
	if s.Mode != "" && s.Mode != other.Mode {
		return false
	}
	if s.Context != "" && s.Context != other.Context {
		return false
	}
	return true
}

// String renders the scope as "region/location/mode/context" with empty
// fields shown as "*". Used in log messages only.
func (s Scope) String() string {
	part := func(v string) string {
		if v == "" {
			return "*"
		}
		return v
	}
	return part(s.Region) + "/" + part(s.Location) + "/" + part(s.Mode) + "/" + part(s.Context)
}
