package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/forgeos/graph/internal/errs"
)

// Filter scopes a Find/VectorSearch query to a project and/or status. Zero
// values mean "no constraint on this field".
type Filter struct {
	Project string
	Status  string
}

// Envelope is the generic row shape every collection shares.
type Envelope struct {
	ID          string
	Project     string
	Status      string
	TextHash    string
	CreatedAtMs int64
	UpdatedAtMs int64
	ExpiresAtMs *int64
	Data        json.RawMessage
}

// Put inserts or replaces a document by id (a plain upsert, no merge
// semantics — registries that need add-to-set call AddToSet instead).
func (s *SQLiteStore) Put(ctx context.Context, collection string, env Envelope, data interface{}) error {
	raw, err := marshalData(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, project, status, text_hash, created_at_ms, updated_at_ms, expires_at_ms, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project=excluded.project, status=excluded.status, text_hash=excluded.text_hash,
			updated_at_ms=excluded.updated_at_ms, expires_at_ms=excluded.expires_at_ms, data=excluded.data
	`, collection), env.ID, nullStr(env.Project), nullStr(env.Status), nullStr(env.TextHash),
		env.CreatedAtMs, env.UpdatedAtMs, env.ExpiresAtMs, raw)
	if err != nil {
		return fmt.Errorf("store: put %s: %w", collection, err)
	}
	return nil
}

// Get fetches a document by id and unmarshals its data into out. Returns a
// NotFound *errs.Error when absent.
func (s *SQLiteStore) Get(ctx context.Context, collection, id string, out interface{}) (*Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, project, status, text_hash, created_at_ms, updated_at_ms, expires_at_ms, data FROM %s WHERE id = ?`,
		collection), id)

	env, raw, err := scanEnvelope(row)
	if err == sql.ErrNoRows {
		return nil, errs.NewNotFound(fmt.Sprintf("%s: %s", collection, id))
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", collection, err)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("store: unmarshal %s: %w", collection, err)
		}
	}
	return env, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEnvelope(row rowScanner) (*Envelope, json.RawMessage, error) {
	var env Envelope
	var project, status, textHash sql.NullString
	var expiresAt sql.NullInt64
	var raw string

	if err := row.Scan(&env.ID, &project, &status, &textHash, &env.CreatedAtMs, &env.UpdatedAtMs, &expiresAt, &raw); err != nil {
		return nil, nil, err
	}
	env.Project = project.String
	env.Status = status.String
	env.TextHash = textHash.String
	if expiresAt.Valid {
		v := expiresAt.Int64
		env.ExpiresAtMs = &v
	}
	return &env, json.RawMessage(raw), nil
}

// Find returns every document matching filter, newest updated_at_ms first,
// optionally capped at limit (0 = unbounded).
func (s *SQLiteStore) Find(ctx context.Context, collection string, filter Filter, limit int) ([]*Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(`SELECT id, project, status, text_hash, created_at_ms, updated_at_ms, expires_at_ms, data FROM %s WHERE 1=1`, collection)
	var args []interface{}
	if filter.Project != "" {
		query += " AND project = ?"
		args = append(args, filter.Project)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY updated_at_ms DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: find %s: %w", collection, err)
	}
	defer rows.Close()

	var out []*Envelope
	for rows.Next() {
		env, raw, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", collection, err)
		}
		env.Data = raw
		out = append(out, env)
	}
	return out, rows.Err()
}

// FindByTextHash returns documents in collection matching project+text_hash
// (used by registries resolving an existing record before reinserting).
func (s *SQLiteStore) FindByTextHash(ctx context.Context, collection, project, textHash string) ([]*Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, project, status, text_hash, created_at_ms, updated_at_ms, expires_at_ms, data FROM %s WHERE project = ? AND text_hash = ?`,
		collection), project, textHash)
	if err != nil {
		return nil, fmt.Errorf("store: find by text_hash %s: %w", collection, err)
	}
	defer rows.Close()

	var out []*Envelope
	for rows.Next() {
		env, raw, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		env.Data = raw
		out = append(out, env)
	}
	return out, rows.Err()
}

// Delete removes a document by id. Returns false if nothing matched.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, collection), id)
	if err != nil {
		return false, fmt.Errorf("store: delete %s: %w", collection, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AddToSet merges values into the JSON array field on an existing document,
// de-duplicating, inside a transaction — SQLite has no native array type, so
// the "$addToSet" semantics are implemented by read-modify-write of the
// `data` JSON blob.
func (s *SQLiteStore) AddToSet(ctx context.Context, collection, id string, fields map[string][]string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, collection), id)
		var raw string
		if err := row.Scan(&raw); err != nil {
			if err == sql.ErrNoRows {
				return errs.NewNotFound(fmt.Sprintf("%s: %s", collection, id))
			}
			return err
		}

		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return fmt.Errorf("store: unmarshal for add-to-set: %w", err)
		}

		for field, values := range fields {
			existing := map[string]struct{}{}
			var ordered []string
			if cur, ok := doc[field]; ok {
				if arr, ok := cur.([]interface{}); ok {
					for _, v := range arr {
						if sv, ok := v.(string); ok {
							if _, seen := existing[sv]; !seen {
								existing[sv] = struct{}{}
								ordered = append(ordered, sv)
							}
						}
					}
				}
			}
			for _, v := range values {
				if _, seen := existing[v]; !seen {
					existing[v] = struct{}{}
					ordered = append(ordered, v)
				}
			}
			sort.Strings(ordered)
			doc[field] = ordered
		}

		updated, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("store: marshal merged doc: %w", err)
		}

		_, err = tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET data = ? WHERE id = ?`, collection), string(updated), id)
		return err
	})
}

// SetFields patches scalar top-level fields of the JSON document and bumps
// updated_at_ms, but only for fields whose new value is non-empty — the
// "overwrite scalar fields only if non-empty" rule lineage/compression
// registries rely on.
func (s *SQLiteStore) SetFields(ctx context.Context, collection, id string, fields map[string]interface{}, updatedAtMs int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, collection), id)
		var raw string
		if err := row.Scan(&raw); err != nil {
			if err == sql.ErrNoRows {
				return errs.NewNotFound(fmt.Sprintf("%s: %s", collection, id))
			}
			return err
		}

		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return fmt.Errorf("store: unmarshal for set-fields: %w", err)
		}
		for k, v := range fields {
			if isEmptyValue(v) {
				continue
			}
			doc[k] = v
		}

		updated, err := json.Marshal(doc)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET data = ?, updated_at_ms = ? WHERE id = ?`, collection),
			string(updated), updatedAtMs, id)
		return err
	})
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	default:
		return false
	}
}

// DeleteExpired sweeps one TTL-bearing collection for rows whose
// expires_at_ms is at or before nowMs. Returns the number removed.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, collection string, nowMs int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE expires_at_ms IS NOT NULL AND expires_at_ms <= ?`, collection), nowMs)
	if err != nil {
		return 0, fmt.Errorf("store: sweep %s: %w", collection, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
