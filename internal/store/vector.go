package store

import (
	"context"
	"encoding/json"
	"fmt"

	vec "github.com/asg017/sqlite-vec-go-bindings/ncruces"
)

// SearchHit is a document annotated with its cosine similarity to the query
// vector, as returned by VectorSearch.
type SearchHit struct {
	Envelope   *Envelope
	Similarity float64
}

// PutEmbedding stores (or replaces) the embedding row for a document in a
// vector-backed collection. The envelope row itself must already exist via
// Put — PutEmbedding only maintains the companion vec0 table.
func (s *SQLiteStore) PutEmbedding(ctx context.Context, collection, id string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("store: serialize embedding: %w", err)
	}

	rowid, err := s.vecRowID(ctx, collection, id)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM vec_%s WHERE rowid = ?`, collection), rowid)
	if err != nil {
		return fmt.Errorf("store: clear embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO vec_%s (rowid, embedding) VALUES (?, ?)`, collection), rowid, raw)
	if err != nil {
		return fmt.Errorf("store: insert embedding: %w", err)
	}
	return nil
}

// vecRowID maps a document's text id to a stable integer rowid for the vec0
// table, allocating the next sequential integer on first use in a dedicated
// mapping table, created lazily.
func (s *SQLiteStore) vecRowID(ctx context.Context, collection, id string) (int64, error) {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS vecid_%s (id TEXT PRIMARY KEY, rowid_val INTEGER)`, collection)); err != nil {
		return 0, err
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT rowid_val FROM vecid_%s WHERE id = ?`, collection), id)
	var rowid int64
	if err := row.Scan(&rowid); err == nil {
		return rowid, nil
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO vecid_%s (id, rowid_val) VALUES (?, (SELECT COALESCE(MAX(rowid_val),0)+1 FROM vecid_%s))`, collection, collection), id)
	if err != nil {
		return 0, fmt.Errorf("store: allocate vec rowid: %w", err)
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	row = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT rowid_val FROM vecid_%s WHERE id = ?`, collection), id)
	if err := row.Scan(&rowid); err != nil {
		_ = lastID
		return 0, err
	}
	return rowid, nil
}

func (s *SQLiteStore) vecIDForRowID(ctx context.Context, collection string, rowid int64) (string, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM vecid_%s WHERE rowid_val = ?`, collection), rowid)
	var id string
	err := row.Scan(&id)
	return id, err
}

// VectorSearch runs a k-NN search over collection's embeddings, applies the
// supplied project/status pre-filter, and returns documents with a
// similarity score in [0,1] (converted from sqlite-vec's L2 distance on
// normalized vectors: similarity = 1 - distance^2/2).
func (s *SQLiteStore) VectorSearch(ctx context.Context, collection string, query []float32, k int, filter Filter, minSimilarity float64) ([]SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("store: serialize query: %w", err)
	}

	// Over-fetch candidates (spec's numCandidates ~10k knob) since the
	// project/status filter is applied after the kNN pass, in the
	// application layer, as spec §4.2 specifies.
	numCandidates := k * 20
	if numCandidates < 50 {
		numCandidates = 50
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT rowid, distance FROM vec_%s WHERE embedding MATCH ? AND k = ? ORDER BY distance`, collection),
		raw, numCandidates)
	if err != nil {
		return nil, fmt.Errorf("store: vector search %s: %w", collection, err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var rowid int64
		var distance float64
		if err := rows.Scan(&rowid, &distance); err != nil {
			return nil, err
		}

		similarity := 1 - (distance*distance)/2
		if similarity < 0 {
			similarity = 0
		}
		if similarity > 1 {
			similarity = 1
		}
		if similarity < minSimilarity {
			continue
		}

		id, err := s.vecIDForRowID(ctx, collection, rowid)
		if err != nil {
			continue
		}

		var doc json.RawMessage
		envRow := s.db.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT id, project, status, text_hash, created_at_ms, updated_at_ms, expires_at_ms, data FROM %s WHERE id = ?`,
			collection), id)
		env, raw, err := scanEnvelope(envRow)
		if err != nil {
			continue
		}
		doc = raw

		if filter.Project != "" && env.Project != filter.Project {
			continue
		}
		if filter.Status != "" && env.Status != filter.Status {
			continue
		}

		env.Data = doc
		hits = append(hits, SearchHit{Envelope: env, Similarity: similarity})
		if len(hits) >= k {
			break
		}
	}
	return hits, rows.Err()
}
