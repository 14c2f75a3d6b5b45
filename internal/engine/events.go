package engine

import (
	"time"

	"github.com/echoatlas/atlasmem/pkg/types"
)

// Event types emitted after successful mutations.
const (
	EventStored  = "interaction.stored"
	EventDeleted = "scope.deleted"
	EventCleared = "store.cleared"
	EventReset   = "store.reset"
)

// Event describes a completed mutation for subscribers (websocket clients,
// logs). Count is the number of records affected.
type Event struct {
	Type  string      `json:"type"`
	ID    string      `json:"id,omitempty"`
	Scope types.Scope `json:"scope,omitempty"`
	Count int         `json:"count"`
	At    time.Time   `json:"at,omitempty"`
}
