// Package postgres implements the interaction store on PostgreSQL with the
// pgvector extension. Similarity ranking happens inside the database via the
// cosine-distance operator; when the extension is missing the store degrades
// to recency ordering and logs a warning.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // Postgres driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/echoatlas/atlasmem/internal/storage"
	"github.com/echoatlas/atlasmem/pkg/types"
)

// Schema creates the interactions table. The seq column records insertion
// order and breaks recency ties; the embedding column is added separately
// because it requires the pgvector extension.
const Schema = `
CREATE TABLE IF NOT EXISTS interactions (
	seq            BIGSERIAL PRIMARY KEY,
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
	embedding_model TEXT,
	timestamp      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interactions_scope
	ON interactions(region, location, mode, context);
CREATE INDEX IF NOT EXISTS idx_interactions_recency
	ON interactions(timestamp, seq);
`

// migrationVector adds the pgvector embedding column. Dimension 1536 matches
// text-embedding-3-small; deployments using another model should set
// ATLASMEM_EMBEDDING_DIM before first start.
const migrationVector = `
ALTER TABLE interactions ADD COLUMN IF NOT EXISTS embedding vector(%d);
`

// Store implements storage.InteractionStore using PostgreSQL.
type Store struct {
	db        *sql.DB
	hasVector bool // true when the pgvector extension is present
}

var _ storage.InteractionStore = (*Store)(nil)

// New connects to PostgreSQL, creates the schema, and attempts to enable the
// pgvector extension. A server without pgvector still works: similarity
// recalls then degrade to recency ordering.
func New(dsn string, embeddingDim int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w: %v", storage.ErrStorageUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: %w: %v", storage.ErrStorageUnavailable, err)
	}

	s := &Store{db: db}

	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("postgres: pgvector extension not available (similarity recall degrades to recency): %v", err)
	} else {
		s.hasVector = true
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to create schema: %w", err)
	}

	if s.hasVector {
		if embeddingDim <= 0 {
			embeddingDim = 1536
		}
		if _, err := db.Exec(fmt.Sprintf(migrationVector, embeddingDim)); err != nil {
			log.Printf("postgres: failed to add embedding column (similarity recall degrades to recency): %v", err)
			s.hasVector = false
		}
	}

	return s, nil
}

// Append persists a new interaction record.
func (s *Store) Append(ctx context.Context, it *types.Interaction) error {
	if it == nil || it.ID == "" || it.Question == "" {
		return fmt.Errorf("postgres: %w: id and question are required", storage.ErrInvalidInput)
	}
	if it.Scope.Region == "" {
		return fmt.Errorf("postgres: %w: region is required", storage.ErrInvalidScope)
	}

	if s.hasVector && it.HasEmbedding() {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO interactions (
				id, region, location, mode, context,
				question, answer, tone, gesture, custom,
				embedding, embedding_model, timestamp
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			it.ID, it.Scope.Region, it.Scope.Location, it.Scope.Mode, it.Scope.Context,
			it.Question, it.Answer, it.Tone, it.Gesture, it.Custom,
			pgvector.NewVector(it.Embedding), nullString(it.EmbeddingModel), it.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to append interaction: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (
			id, region, location, mode, context,
			question, answer, tone, gesture, custom,
			embedding_model, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		it.ID, it.Scope.Region, it.Scope.Location, it.Scope.Mode, it.Scope.Context,
		it.Question, it.Answer, it.Tone, it.Gesture, it.Custom,
		nullString(it.EmbeddingModel), it.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to append interaction: %w", err)
	}
	return nil
}

// Recall returns records matching scope, ranked per opts. With pgvector the
// similarity ordering runs inside the database; records without embeddings
// fill remaining slots in recency order.
func (s *Store) Recall(ctx context.Context, scope types.Scope, opts storage.RecallOptions) ([]types.Interaction, error) {
	opts.Normalize()
	where, args := scopeWhere(scope, 1)

	if len(opts.QueryVector) == 0 || !s.hasVector {
		query := fmt.Sprintf(`
			SELECT %s FROM interactions
			%s
			ORDER BY timestamp DESC, seq DESC
			LIMIT %d`, selectColumns, where, opts.TopK)
		return s.queryInteractions(ctx, query, args)
	}

	// Cosine distance ascending == similarity descending; NULL embeddings
	// are excluded here and appended afterwards by recency.
	vecArg := len(args) + 1
	query := fmt.Sprintf(`
		SELECT %s FROM interactions
		%s AND embedding IS NOT NULL
		ORDER BY embedding <=> $%d ASC, timestamp DESC, seq DESC
		LIMIT %d`, selectColumns, where, vecArg, opts.TopK)

	results, err := s.queryInteractions(ctx, query, append(args, pgvector.NewVector(opts.QueryVector)))
	if err != nil {
		return nil, err
	}

	if len(results) < opts.TopK {
		fillQuery := fmt.Sprintf(`
			SELECT %s FROM interactions
			%s AND embedding IS NULL
			ORDER BY timestamp DESC, seq DESC
			LIMIT %d`, selectColumns, where, opts.TopK-len(results))
		fill, err := s.queryInteractions(ctx, fillQuery, args)
		if err != nil {
			return nil, err
		}
		results = append(results, fill...)
	}

	return results, nil
}

// DeleteScope removes every record matching scope and returns the count.
func (s *Store) DeleteScope(ctx context.Context, scope types.Scope) (int, error) {
	where, args := scopeWhere(scope, 1)

	result, err := s.db.ExecContext(ctx, "DELETE FROM interactions "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to delete scope %s: %w", scope, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to check rows affected: %w", err)
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
		return 0, fmt.Errorf("postgres: failed to count interactions: %w", err)
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
		return nil, fmt.Errorf("postgres: failed to list regions: %w", err)
	}
	defer rows.Close()

	var summaries []storage.RegionSummary
	for rows.Next() {
		var s storage.RegionSummary
		if err := rows.Scan(&s.Region, &s.Location, &s.Count); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan region summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating regions: %w", err)
	}
	return summaries, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

const selectColumns = `
	id, region, location, mode, context,
	question, answer, tone, gesture, custom,
	embedding_model, timestamp`

func (s *Store) queryInteractions(ctx context.Context, query string, args []interface{}) ([]types.Interaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query interactions: %w", err)
	}
	defer rows.Close()

	results := make([]types.Interaction, 0)
	for rows.Next() {
		var (
			it    types.Interaction
			model sql.NullString
			ts    time.Time
		)
		err := rows.Scan(
			&it.ID,
			&it.Scope.Region, &it.Scope.Location, &it.Scope.Mode, &it.Scope.Context,
			&it.Question, &it.Answer, &it.Tone, &it.Gesture, &it.Custom,
			&model, &ts,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan interaction: %w", err)
		}
		if model.Valid {
			it.EmbeddingModel = model.String
		}
		it.Timestamp = ts.UTC()
		results = append(results, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating interactions: %w", err)
	}
	return results, nil
}

// scopeWhere builds a placeholder-numbered WHERE clause for a scope. start is
// the first placeholder index to use.
func scopeWhere(scope types.Scope, start int) (string, []interface{}) {
	conditions := []string{"TRUE"}
	var args []interface{}

	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, column+" = $"+strconv.Itoa(start+len(args)-1))
	}
	add("region", scope.Region)
	add("location", scope.Location)
	add("mode", scope.Mode)
	add("context", scope.Context)

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
