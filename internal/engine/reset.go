package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/echoatlas/atlasmem/internal/storage"
)

// DefaultResetMarkerName is the marker file written next to the data
// directory when a factory reset is scheduled.
const DefaultResetMarkerName = "reset_memory_store.flag"

// ResetManager implements the deferred factory reset. Scheduling writes a
// durable marker and touches no records; the wipe happens at the next
// process start, before any request is served. The two-phase design exists
// because an embedded store cannot safely be wiped while serving concurrent
// reads in the same process.
//
// Once scheduled, a reset cannot be unscheduled here; removing the marker
// file out-of-band is the only escape hatch.
type ResetManager struct {
	markerPath string
}

// NewResetManager creates a manager using the given marker file path.
func NewResetManager(markerPath string) *ResetManager {
	return &ResetManager{markerPath: markerPath}
}

// MarkerPath returns the marker file location.
func (m *ResetManager) MarkerPath() string {
	return m.markerPath
}

// Schedule writes the reset marker. Existing records are untouched until the
// next process start. Marker write failures surface as StorageUnavailable.
func (m *ResetManager) Schedule() error {
	if err := os.MkdirAll(filepath.Dir(m.markerPath), 0o755); err != nil {
		return fmt.Errorf("engine: %w: cannot create marker directory: %v", storage.ErrStorageUnavailable, err)
	}
	if err := os.WriteFile(m.markerPath, []byte("pending\n"), 0o644); err != nil {
		return fmt.Errorf("engine: %w: cannot write reset marker: %v", storage.ErrStorageUnavailable, err)
	}
	log.Printf("engine: factory reset scheduled, will apply at next start (marker %s)", m.markerPath)
	return nil
}

// Pending reports whether a reset is scheduled. Read failures other than
// absence surface as StorageUnavailable: silently skipping a scheduled wipe
// could leave stale sensitive data behind.
func (m *ResetManager) Pending() (bool, error) {
	_, err := os.Stat(m.markerPath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("engine: %w: cannot read reset marker: %v", storage.ErrStorageUnavailable, err)
}

// ApplyPending is the startup barrier: call it once after opening the store
// and before serving any request. If the marker is present it runs beforeWipe
// (when non-nil), clears the store, and removes the marker. Applying against
// an already-empty store is a no-op success, and a second call finds no
// marker and does nothing.
func (m *ResetManager) ApplyPending(ctx context.Context, store storage.InteractionStore, beforeWipe func(context.Context) error) (bool, int, error) {
	pending, err := m.Pending()
	if err != nil {
		return false, 0, err
	}
	if !pending {
		return false, 0, nil
	}

	if beforeWipe != nil {
		if err := beforeWipe(ctx); err != nil {
			return false, 0, fmt.Errorf("engine: pre-reset hook failed: %w", err)
		}
	}

	n, err := store.ClearAll(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("engine: reset wipe failed: %w", err)
	}

	if err := os.Remove(m.markerPath); err != nil {
		return false, 0, fmt.Errorf("engine: %w: wiped store but cannot remove marker: %v", storage.ErrStorageUnavailable, err)
	}

	log.Printf("engine: applied pending factory reset, removed %d records", n)
	return true, n, nil
}
