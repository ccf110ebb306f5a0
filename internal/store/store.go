// Package store provides SQLite-backed persistence for the graph substrate.
// Uses ncruces/go-sqlite3/driver (a database/sql driver) together with the
// sqlite-vec extension for vector similarity search.
//
// The store exposes a small set of MongoDB-shaped primitives — upsert,
// find-one-and-update atomic counters, add-to-set list merges, TTL sweeps,
// and collection-scoped vector search — because every registry in this
// module was ported from a MongoDB-backed original. Each registry owns one
// logical "collection": a SQLite table holding an indexed envelope (id,
// project, status, timestamps) plus a JSON `data` column carrying the
// entity's full fields. This keeps the 17 entity families from requiring 17
// bespoke hand-scanned SQL schemas while still giving every collection real
// indexes on the columns registries actually filter by.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
)

// SQLiteStore is the SQLite-backed document store. Safe for concurrent use.
type SQLiteStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	vecDims int
}

const envelopeSchema = `
CREATE TABLE IF NOT EXISTS projects (
    uuid TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    created_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS display_id_counters (
    project_prefix TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    next_sequence INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (project_prefix, entity_type)
);

CREATE TABLE IF NOT EXISTS display_id_index (
    display_id TEXT PRIMARY KEY,
    entity_uuid TEXT NOT NULL,
    collection TEXT NOT NULL,
    project TEXT NOT NULL
);
`

// collections lists every generic envelope table this store bootstraps.
// Each gets the same (id, project, status, text_hash, created_at_ms,
// updated_at_ms, expires_at_ms, data) shape.
var collections = []string{
	"conversations",
	"decisions",
	"threads",
	"priming_blocks",
	"expedition_flags",
	"compression_tags",
	"lineage_edges",
	"events",
	"scratchpad",
	"patterns",
	"archive",
	"entanglement_scans",
	"project_roles",
	"lenses",
	"conflicts",
}

func envelopeDDL(name string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    project TEXT,
    status TEXT,
    text_hash TEXT,
    created_at_ms INTEGER NOT NULL,
    updated_at_ms INTEGER NOT NULL,
    expires_at_ms INTEGER,
    data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_project_status ON %[1]s(project, status);
CREATE INDEX IF NOT EXISTS idx_%[1]s_expires ON %[1]s(expires_at_ms);
CREATE INDEX IF NOT EXISTS idx_%[1]s_text_hash ON %[1]s(text_hash);
`, name)
}

// vectorCollections lists collections that additionally carry an embedding
// (1024-dim from New, or the dims given to NewWithDims), backed by a
// per-collection sqlite-vec vec0 virtual table.
var vectorCollections = []string{
	"decisions", "threads", "priming_blocks", "patterns", "conversations", "messages",
}

func vecDDL(name string, dims int) string {
	return fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_%s USING vec0(embedding float[%d]);`, name, dims)
}

// New opens a store at dsn (":memory:" for an ephemeral in-memory database,
// or a file: DSN for persistence) with 1024-dim vector columns, matching the
// embedding provider's output dimensionality.
func New(dsn string) (*SQLiteStore, error) {
	return NewWithDims(dsn, 1024)
}

// NewWithDims is New with an explicit embedding dimensionality, used by
// tests that exercise the vector-search path with small synthetic vectors.
func NewWithDims(dsn string, dims int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	if _, err := db.Exec(envelopeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: bootstrap schema: %w", err)
	}

	// messages holds raw message embeddings that attention recall reads
	// purely via vector search; it is not in collections, but it gets an
	// envelope table too so its vector hits can be filtered by project.
	for _, name := range append(append([]string{}, collections...), "messages") {
		if _, err := db.Exec(envelopeDDL(name)); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: create collection %s: %w", name, err)
		}
	}

	for _, name := range vectorCollections {
		if _, err := db.Exec(vecDDL(name, dims)); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: create vector table %s: %w", name, err)
		}
	}

	return &SQLiteStore{db: db, vecDims: dims}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the raw handle for packages (lineage, entanglement) that need
// bespoke multi-row queries beyond the generic envelope primitives.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func marshalData(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("store: marshal: %w", err)
	}
	return string(b), nil
}

// withTx runs fn inside a transaction while holding the store's write lock,
// giving the atomic
// counter and add-to-set operations the single-round-trip semantics spec
// §4.2 calls for.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
