// Package backup creates consistent snapshots of the SQLite interaction
// database. A snapshot is taken automatically before a pending factory reset
// is applied, so a scheduled wipe never destroys the only copy of the data.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultKeep is how many snapshots are retained when no count is configured.
const DefaultKeep = 5

// Info describes one snapshot on disk.
type Info struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Service writes snapshots into a directory and prunes old ones.
type Service struct {
	dir  string
	keep int
}

// NewService creates a snapshot service. keep <= 0 uses DefaultKeep.
func NewService(dir string, keep int) *Service {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Service{dir: dir, keep: keep}
}

// Snapshot backs up the database at sourcePath into the snapshot directory
// and returns the snapshot path. VACUUM INTO produces a consistent
// point-in-time copy even with WAL mode active.
func (s *Service) Snapshot(ctx context.Context, sourcePath string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("backup: cannot create snapshot directory: %w", err)
	}

	destPath := filepath.Join(s.dir, fmt.Sprintf("atlasmem-%s.db", time.Now().UTC().Format("20060102-150405")))

	src, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", sourcePath))
	if err != nil {
		return "", fmt.Errorf("backup: failed to open source database: %w", err)
	}
	defer func() { _ = src.Close() }()

	if err := src.PingContext(ctx); err != nil {
		return "", fmt.Errorf("backup: failed to ping source database: %w", err)
	}

	if _, err := src.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return "", fmt.Errorf("backup: failed to snapshot database: %w", err)
	}

	if err := Verify(ctx, destPath); err != nil {
		_ = os.Remove(destPath)
		return "", err
	}

	if err := s.prune(); err != nil {
		log.Printf("backup: pruning old snapshots failed: %v", err)
	}

	return destPath, nil
}

// Verify opens a snapshot read-only and runs SQLite's integrity check.
func Verify(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("backup: failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("backup: failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("backup: integrity check failed: %s", result)
	}
	return nil
}

// List returns the snapshots in the directory, newest first. A missing
// directory is an empty list, not an error.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("backup: failed to read snapshot directory: %w", err)
	}

	var snapshots []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, Info{
			Path:      filepath.Join(s.dir, entry.Name()),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// prune removes snapshots beyond the retention count, oldest first.
func (s *Service) prune() error {
	snapshots, err := s.List()
	if err != nil {
		return err
	}
	if len(snapshots) <= s.keep {
		return nil
	}

	var lastErr error
	for _, old := range snapshots[s.keep:] {
		if err := os.Remove(old.Path); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("backup: failed to delete some snapshots: %w", lastErr)
	}
	return nil
}
