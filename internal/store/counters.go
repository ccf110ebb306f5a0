package store

import (
	"context"
	"database/sql"
	"fmt"
)

// IncrementCounter performs the atomic "find_one_and_update with $inc and
// $setOnInsert, upsert=true, return=after" pattern spec §4.2/§4.4 describes:
// a single transaction that creates the (prefix, type) counter row at 1 if
// absent, or increments it, and returns the post-increment value.
func (s *SQLiteStore) IncrementCounter(ctx context.Context, prefix, entityType string) (int, error) {
	var next int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO display_id_counters (project_prefix, entity_type, next_sequence)
			VALUES (?, ?, 1)
			ON CONFLICT(project_prefix, entity_type) DO UPDATE SET next_sequence = next_sequence + 1
		`, prefix, entityType)
		if err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `SELECT next_sequence FROM display_id_counters WHERE project_prefix = ? AND entity_type = ?`, prefix, entityType)
		return row.Scan(&next)
	})
	if err != nil {
		return 0, fmt.Errorf("store: increment counter: %w", err)
	}
	return next, nil
}

// RegisterDisplayID writes the reverse-index row (display_id -> entity).
func (s *SQLiteStore) RegisterDisplayID(ctx context.Context, displayID, entityUUID, collection, project string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO display_id_index (display_id, entity_uuid, collection, project)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(display_id) DO UPDATE SET entity_uuid=excluded.entity_uuid, collection=excluded.collection, project=excluded.project
	`, displayID, entityUUID, collection, project)
	if err != nil {
		return fmt.Errorf("store: register display id: %w", err)
	}
	return nil
}

// DisplayIDEntry is a resolved reverse-index row.
type DisplayIDEntry struct {
	DisplayID  string
	EntityUUID string
	Collection string
	Project    string
}

// ResolveDisplayID looks up the reverse index by display id.
func (s *SQLiteStore) ResolveDisplayID(ctx context.Context, displayID string) (*DisplayIDEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT display_id, entity_uuid, collection, project FROM display_id_index WHERE display_id = ?`, displayID)
	var e DisplayIDEntry
	if err := row.Scan(&e.DisplayID, &e.EntityUUID, &e.Collection, &e.Project); err != nil {
		return nil, err
	}
	return &e, nil
}

// CounterExists reports whether a (prefix, type) counter row exists, without
// incrementing it, used by display-id prefix resolution to detect an
// existing counter row.
func (s *SQLiteStore) CounterExists(ctx context.Context, prefix, entityType string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM display_id_counters WHERE project_prefix = ? AND entity_type = ?`, prefix, entityType)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpsertProject records a project's name -> uuid mapping, used by
// list_projects aggregation.
func (s *SQLiteStore) UpsertProject(ctx context.Context, projectUUID, name string, createdAtMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (uuid, name, created_at_ms) VALUES (?, ?, ?)
		ON CONFLICT(uuid) DO NOTHING
	`, projectUUID, name, createdAtMs)
	if err != nil {
		return fmt.Errorf("store: upsert project: %w", err)
	}
	return nil
}

// ProjectRow is one row of the projects table.
type ProjectRow struct {
	UUID        string
	Name        string
	CreatedAtMs int64
}

// ListProjectRows returns every known project.
func (s *SQLiteStore) ListProjectRows(ctx context.Context) ([]ProjectRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT uuid, name, created_at_ms FROM projects`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProjectRow
	for rows.Next() {
		var p ProjectRow
		if err := rows.Scan(&p.UUID, &p.Name, &p.CreatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
