// Package sqlite implements the interaction store on SQLite via the pure-Go
// modernc.org/sqlite driver. It is the default backend: a single database
// file, WAL mode for concurrent readers, and similarity ranking computed in
// Go over embedding blobs.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/echoatlas/atlasmem/internal/storage"
	"github.com/echoatlas/atlasmem/pkg/types"
)

// Schema creates the interactions table. The seq column records insertion
// order and breaks recency ties between records sharing a timestamp.
const Schema = `
CREATE TABLE IF NOT EXISTS interactions (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	region         TEXT NOT NULL,
	location       TEXT NOT NULL DEFAULT '',
	mode           TEXT NOT NULL DEFAULT '',
	context        TEXT NOT NULL DEFAULT '',
	question       TEXT NOT NULL,
	answer         TEXT NOT NULL DEFAULT '',
	tone           TEXT NOT NULL DEFAULT '',
	gesture        TEXT NOT NULL DEFAULT '',
	custom         TEXT NOT NULL DEFAULT '',
	embedding      BLOB,
	embedding_model TEXT,
	embedding_dim  INTEGER,
	timestamp      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interactions_scope
	ON interactions(region, location, mode, context);
CREATE INDEX IF NOT EXISTS idx_interactions_recency
	ON interactions(timestamp, seq);
`

// Store implements storage.InteractionStore using SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.InteractionStore = (*Store)(nil)

// New opens a SQLite database at the given DSN, configures WAL mode, and
// creates the schema. Use ":memory:" for tests.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w: %v", storage.ErrStorageUnavailable, err)
	}

	// SQLite supports one concurrent writer. A single open connection
	// serialises write-class operations and avoids SQLITE_BUSY under load;
	// WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Append persists a new interaction record.
func (s *Store) Append(ctx context.Context, it *types.Interaction) error {
	if it == nil || it.ID == "" || it.Question == "" {
		return fmt.Errorf("sqlite: %w: id and question are required", storage.ErrInvalidInput)
	}
	if it.Scope.Region == "" {
		return fmt.Errorf("sqlite: %w: region is required", storage.ErrInvalidScope)
	}

	var blob []byte
	var model sql.NullString
	var dim sql.NullInt64
	if it.HasEmbedding() {
		blob = encodeVector(it.Embedding)
		model = sql.NullString{String: it.EmbeddingModel, Valid: it.EmbeddingModel != ""}
		dim = sql.NullInt64{Int64: int64(len(it.Embedding)), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (
			id, region, location, mode, context,
			question, answer, tone, gesture, custom,
			embedding, embedding_model, embedding_dim, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.Scope.Region, it.Scope.Location, it.Scope.Mode, it.Scope.Context,
		it.Question, it.Answer, it.Tone, it.Gesture, it.Custom,
		blob, model, dim, it.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to append interaction: %w", err)
	}
	return nil
}

// Recall returns records matching scope, ranked per opts.
func (s *Store) Recall(ctx context.Context, scope types.Scope, opts storage.RecallOptions) ([]types.Interaction, error) {
	opts.Normalize()
	where, args := scopeWhere(scope)

	if len(opts.QueryVector) == 0 {
		return s.recallRecent(ctx, where, args, opts.TopK, nil)
	}

	// Load embedded candidates newest-first, rank by cosine similarity in
	// Go, ties broken by insertion order descending.
	query := fmt.Sprintf(`
		SELECT %s FROM interactions
		%s AND embedding IS NOT NULL
		ORDER BY seq DESC
		LIMIT %d`, interactionColumns, where, maxCandidateRows)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load recall candidates: %w", err)
	}
	candidates, err := scanInteractions(rows)
	if err != nil {
		return nil, err
	}

	type scored struct {
		row   scannedInteraction
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, scored{row: c, score: cosineSimilarity(opts.QueryVector, c.it.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].row.seq > ranked[j].row.seq
	})

	results := make([]types.Interaction, 0, opts.TopK)
	seen := make(map[string]bool, opts.TopK)
	for _, r := range ranked {
		if len(results) == opts.TopK {
			break
		}
		results = append(results, r.row.it)
		seen[r.row.it.ID] = true
	}

	// Records stored without an embedding (provider outage at store time)
	// are still retrievable: they fill remaining slots in recency order.
	if len(results) < opts.TopK {
		fill, err := s.recallRecent(ctx, where+" AND embedding IS NULL", args, opts.TopK-len(results), seen)
		if err != nil {
			return nil, err
		}
		results = append(results, fill...)
	}

	return results, nil
}

// recallRecent returns up to limit scope-matching records, most recent first.
func (s *Store) recallRecent(ctx context.Context, where string, args []interface{}, limit int, skip map[string]bool) ([]types.Interaction, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM interactions
		%s
		ORDER BY timestamp DESC, seq DESC
		LIMIT ?`, interactionColumns, where)

	rows, err := s.db.QueryContext(ctx, query, append(append([]interface{}{}, args...), limit)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to recall interactions: %w", err)
	}
	scanned, err := scanInteractions(rows)
	if err != nil {
		return nil, err
	}

	results := make([]types.Interaction, 0, len(scanned))
	for _, r := range scanned {
		if skip != nil && skip[r.it.ID] {
			continue
		}
		results = append(results, r.it)
	}
	return results, nil
}

// DeleteScope removes every record matching scope and returns the count.
func (s *Store) DeleteScope(ctx context.Context, scope types.Scope) (int, error) {
	where, args := scopeWhere(scope)

	result, err := s.db.ExecContext(ctx, "DELETE FROM interactions "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to delete scope %s: %w", scope, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	return int(n), nil
}

// ClearAll removes every record and returns the count.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	return s.DeleteScope(ctx, types.Scope{})
}

// Count returns the total number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM interactions").Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: failed to count interactions: %w", err)
	}
	return n, nil
}

// Regions enumerates distinct (region, location) pairs with record counts.
func (s *Store) Regions(ctx context.Context) ([]storage.RegionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT region, location, COUNT(*)
		FROM interactions
		GROUP BY region, location
		ORDER BY COUNT(*) DESC, region, location`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list regions: %w", err)
	}
	defer rows.Close()

	var summaries []storage.RegionSummary
	for rows.Next() {
		var s storage.RegionSummary
		if err := rows.Scan(&s.Region, &s.Location, &s.Count); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan region summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating regions: %w", err)
	}
	return summaries, nil
}

// Close flushes the WAL into the database file and releases resources. The
// TRUNCATE checkpoint removes the -shm/-wal files so another process can
// open the database without stale WAL state.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint on close failed (non-fatal): %v", err)
	}
	return s.db.Close()
}

// DB returns the underlying database handle. Used by the backup service.
func (s *Store) DB() *sql.DB {
	return s.db
}

// maxCandidateRows caps the number of embeddings loaded during one similarity
// recall, newest first. See storage package docs for the rationale.
const maxCandidateRows = 10_000

const interactionColumns = `
	seq, id, region, location, mode, context,
	question, answer, tone, gesture, custom,
	embedding, embedding_model, embedding_dim, timestamp`

// scannedInteraction pairs a decoded record with its insertion sequence for
// recency tie-breaking during in-Go ranking.
type scannedInteraction struct {
	seq int64
	it  types.Interaction
}

func scanInteractions(rows *sql.Rows) ([]scannedInteraction, error) {
	defer rows.Close()

	var scanned []scannedInteraction
	for rows.Next() {
		var (
			r     scannedInteraction
			blob  []byte
			model sql.NullString
			dim   sql.NullInt64
			ts    time.Time
		)
		err := rows.Scan(
			&r.seq, &r.it.ID,
			&r.it.Scope.Region, &r.it.Scope.Location, &r.it.Scope.Mode, &r.it.Scope.Context,
			&r.it.Question, &r.it.Answer, &r.it.Tone, &r.it.Gesture, &r.it.Custom,
			&blob, &model, &dim, &ts,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan interaction: %w", err)
		}

		r.it.Timestamp = ts.UTC()
		if model.Valid {
			r.it.EmbeddingModel = model.String
		}
		if len(blob) > 0 && dim.Valid {
			vec, err := decodeVector(blob, int(dim.Int64))
			if err != nil {
				return nil, fmt.Errorf("sqlite: corrupt embedding for %s: %w", r.it.ID, err)
			}
			r.it.Embedding = vec
			r.it.EmbeddingDimension = int(dim.Int64)
		}

		scanned = append(scanned, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating interactions: %w", err)
	}
	return scanned, nil
}

// scopeWhere builds the WHERE clause for a scope under the monotonic
// narrowing rule: absent fields impose no constraint. An empty scope yields
// a clause matching every row.
func scopeWhere(scope types.Scope) (string, []interface{}) {
	conditions := []string{"1=1"}
	var args []interface{}

	if scope.Region != "" {
		conditions = append(conditions, "region = ?")
		args = append(args, scope.Region)
	}
	if scope.Location != "" {
		conditions = append(conditions, "location = ?")
		args = append(args, scope.Location)
	}
	if scope.Mode != "" {
		conditions = append(conditions, "mode = ?")
		args = append(args, scope.Mode)
	}
	if scope.Context != "" {
		conditions = append(conditions, "context = ?")
		args = append(args, scope.Context)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}
