// Package memory implements the substrate's secondary memory lane (spec §2's
// "Archive / scratchpad / patterns" component): a retention-policied archive
// of raw text, a TTL key-value scratchpad scoped per context, and a
// self-merging pattern store that consolidates similar observations instead
// of accumulating duplicates.
//
// Grounded on original_source/vectordb/archive.py, scratchpad.py, and
// patterns.py.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgeos/graph/internal/blob"
	"github.com/forgeos/graph/internal/embed"
	"github.com/forgeos/graph/internal/errs"
	"github.com/forgeos/graph/internal/events"
	"github.com/forgeos/graph/internal/store"
	"github.com/google/uuid"
)

const (
	archiveCollection    = "archive"
	scratchpadCollection = "scratchpad"
	patternCollection    = "patterns"
)

// ArchiveEntry is one retention-policied archival record: a raw blob of text
// (a compressed conversation, a pushed sync document, anything worth
// keeping past its source's own lifetime) tagged for later lookup.
type ArchiveEntry struct {
	UUID        string `json:"uuid"`
	Project     string `json:"project,omitempty"`
	Tag         string `json:"tag"`
	TextBlobRef string `json:"text_blob_ref,omitempty"`
	Text        string `json:"text,omitempty"`
	CreatedAtMs int64  `json:"created_at_ms"`
	ExpiresAtMs *int64 `json:"expires_at_ms,omitempty"`
}

// Archive stores and retrieves retention-policied text, blob-backing
// anything over the inline threshold the same way the decision and thread
// registries blob-back long text fields.
type Archive struct {
	store *store.SQLiteStore
	blob  *blob.Store
	log   *events.Log
}

// NewArchive wires an Archive to its collaborators.
func NewArchive(s *store.SQLiteStore, b *blob.Store, log *events.Log) *Archive {
	return &Archive{store: s, blob: b, log: log}
}

// Put archives text under tag, optionally scoped to a project, with a
// retention window (zero ttl means "keep indefinitely").
func (a *Archive) Put(ctx context.Context, project, tag, text string, ttl time.Duration) (*ArchiveEntry, error) {
	if tag == "" {
		return nil, errs.NewInvalidInput("memory: archive tag must not be empty")
	}
	now := time.Now().UnixMilli()

	entry := &ArchiveEntry{
		UUID:        uuid.New().String(),
		Project:     project,
		Tag:         tag,
		CreatedAtMs: now,
	}
	if ttl > 0 {
		exp := time.Now().Add(ttl).UnixMilli()
		entry.ExpiresAtMs = &exp
	}

	ref, err := a.blob.StoreIfLarge(ctx, text, 500)
	if err != nil {
		return nil, fmt.Errorf("memory: archive blob store: %w", err)
	}
	if ref != "" {
		entry.TextBlobRef = ref
	} else {
		entry.Text = text
	}

	if err := a.store.Put(ctx, archiveCollection, store.Envelope{
		ID: entry.UUID, Project: project, Status: tag,
		CreatedAtMs: now, UpdatedAtMs: now, ExpiresAtMs: entry.ExpiresAtMs,
	}, entry); err != nil {
		return nil, err
	}
	if a.log != nil {
		_ = a.log.Emit(ctx, events.TypeForget, map[string]interface{}{"op": "archive.put", "uuid": entry.UUID, "tag": tag})
	}
	return entry, nil
}

// Get fetches an archive entry and resolves its text, falling through to
// the blob store when the text was large enough to be blob-backed.
func (a *Archive) Get(ctx context.Context, id string) (*ArchiveEntry, string, error) {
	var entry ArchiveEntry
	if _, err := a.store.Get(ctx, archiveCollection, id, &entry); err != nil {
		return nil, "", err
	}
	text := a.blob.GetTextWithFallback(ctx, entry.TextBlobRef, entry.Text)
	return &entry, text, nil
}

// ListByTag returns archive entries for tag, newest first.
func (a *Archive) ListByTag(ctx context.Context, project, tag string, limit int) ([]*ArchiveEntry, error) {
	envs, err := a.store.Find(ctx, archiveCollection, store.Filter{Project: project, Status: tag}, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*ArchiveEntry, 0, len(envs))
	for _, env := range envs {
		var entry ArchiveEntry
		if err := json.Unmarshal(env.Data, &entry); err != nil {
			continue
		}
		out = append(out, &entry)
	}
	return out, nil
}

// Sweep removes expired archive entries, returning the count removed.
func (a *Archive) Sweep(ctx context.Context) (int, error) {
	return a.store.DeleteExpired(ctx, archiveCollection, time.Now().UnixMilli())
}

// ScratchpadEntry is one (context_id, key) → value row with a TTL.
type ScratchpadEntry struct {
	ContextID   string          `json:"context_id"`
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	CreatedAtMs int64           `json:"created_at_ms"`
	UpdatedAtMs int64           `json:"updated_at_ms"`
	ExpiresAtMs *int64          `json:"expires_at_ms,omitempty"`
}

// Scratchpad is a TTL-scoped key-value store keyed by (context_id, key),
// used for ephemeral working state a caller wants to survive a single
// session's span without polluting a durable registry.
type Scratchpad struct {
	store      *store.SQLiteStore
	defaultTTL time.Duration
}

// NewScratchpad wires a Scratchpad with a default TTL applied when Set is
// called without an explicit one (spec §6 SCRATCHPAD_DEFAULT_TTL).
func NewScratchpad(s *store.SQLiteStore, defaultTTL time.Duration) *Scratchpad {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Scratchpad{store: s, defaultTTL: defaultTTL}
}

func scratchpadID(contextID, key string) string {
	return contextID + "\x00" + key
}

// Set writes value (JSON-serialized) under (contextID, key). ttl of zero
// uses the scratchpad's default.
func (s *Scratchpad) Set(ctx context.Context, contextID, key string, value interface{}, ttl time.Duration) error {
	if contextID == "" || key == "" {
		return errs.NewInvalidInput("memory: scratchpad context_id and key must not be empty")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memory: scratchpad marshal value: %w", err)
	}

	now := time.Now().UnixMilli()
	exp := time.Now().Add(ttl).UnixMilli()
	id := scratchpadID(contextID, key)

	entry := ScratchpadEntry{
		ContextID: contextID, Key: key, Value: raw,
		CreatedAtMs: now, UpdatedAtMs: now, ExpiresAtMs: &exp,
	}

	var existing ScratchpadEntry
	if _, err := s.store.Get(ctx, scratchpadCollection, id, &existing); err == nil {
		entry.CreatedAtMs = existing.CreatedAtMs
	}

	return s.store.Put(ctx, scratchpadCollection, store.Envelope{
		ID: id, Project: contextID, Status: key,
		CreatedAtMs: entry.CreatedAtMs, UpdatedAtMs: now, ExpiresAtMs: &exp,
	}, entry)
}

// Get reads a value back, unmarshaling it into out. A NotFound error covers
// both "never set" and "expired but not yet swept" — the store's TTL
// machinery is authoritative per spec §7, so a miss here is a plain miss.
func (s *Scratchpad) Get(ctx context.Context, contextID, key string, out interface{}) error {
	var entry ScratchpadEntry
	if _, err := s.store.Get(ctx, scratchpadCollection, scratchpadID(contextID, key), &entry); err != nil {
		return err
	}
	if entry.ExpiresAtMs != nil && *entry.ExpiresAtMs <= time.Now().UnixMilli() {
		return errs.NewNotFound(fmt.Sprintf("scratchpad: %s/%s expired", contextID, key))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(entry.Value, out)
}

// Delete removes a scratchpad entry outright.
func (s *Scratchpad) Delete(ctx context.Context, contextID, key string) (bool, error) {
	return s.store.Delete(ctx, scratchpadCollection, scratchpadID(contextID, key))
}

// Sweep removes expired scratchpad entries, returning the count removed.
func (s *Scratchpad) Sweep(ctx context.Context) (int, error) {
	return s.store.DeleteExpired(ctx, scratchpadCollection, time.Now().UnixMilli())
}

// Pattern is a self-merging, similarity-scored observation. Repeated similar
// observations fold into one record (merge_count incremented, success_score
// blended) rather than accumulating near-duplicate rows.
type Pattern struct {
	UUID           string    `json:"uuid"`
	Project        string    `json:"project,omitempty"`
	Text           string    `json:"text"`
	Tags           []string  `json:"tags,omitempty"`
	MergeCount      int       `json:"merge_count"`
	SuccessScore    float64   `json:"success_score"`
	RetrievalCount  int       `json:"retrieval_count"`
	Embedding      []float32 `json:"embedding,omitempty"`
	CreatedAtMs    int64     `json:"created_at_ms"`
	UpdatedAtMs    int64     `json:"updated_at_ms"`
}

// Patterns is the self-merging pattern store.
type Patterns struct {
	store            *store.SQLiteStore
	embedder         embed.Client
	log              *events.Log
	mergeThreshold   float64
	simWeight        float64
	scoreWeight      float64
	defaultLimit     int
}

// NewPatterns wires a Patterns store. mergeThreshold is the cosine
// similarity above which a new observation merges into an existing pattern
// rather than inserting a new one (spec §6 PATTERN_MERGE_THRESHOLD,
// default 0.9). simWeight/scoreWeight blend the merged confidence (spec §6
// PATTERN_CONFIDENCE_*_WEIGHT, default 0.6/0.4).
func NewPatterns(s *store.SQLiteStore, embedder embed.Client, log *events.Log, mergeThreshold, simWeight, scoreWeight float64, defaultLimit int) *Patterns {
	if mergeThreshold <= 0 {
		mergeThreshold = 0.9
	}
	if simWeight+scoreWeight == 0 {
		simWeight, scoreWeight = 0.6, 0.4
	}
	if defaultLimit <= 0 {
		defaultLimit = 5
	}
	return &Patterns{store: s, embedder: embedder, log: log, mergeThreshold: mergeThreshold, simWeight: simWeight, scoreWeight: scoreWeight, defaultLimit: defaultLimit}
}

// Record stores an observation, merging it into the most similar existing
// pattern when one exceeds mergeThreshold, otherwise inserting a new one.
func (p *Patterns) Record(ctx context.Context, project, text string, score float64, tags []string) (*Pattern, bool, error) {
	vec, err := embed.EmbedOne(ctx, p.embedder, text)
	if err != nil {
		return nil, false, err
	}

	hits, err := p.store.VectorSearch(ctx, patternCollection, vec, 1, store.Filter{Project: project}, p.mergeThreshold)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UnixMilli()
	if len(hits) > 0 {
		var existing Pattern
		if err := json.Unmarshal(hits[0].Envelope.Data, &existing); err == nil {
			existing.MergeCount++
			existing.SuccessScore = p.simWeight*hits[0].Similarity + p.scoreWeight*blend(existing.SuccessScore, score)
			existing.UpdatedAtMs = now
			existing.Tags = mergeTags(existing.Tags, tags)
			if err := p.save(ctx, &existing); err != nil {
				return nil, false, err
			}
			if p.log != nil {
				_ = p.log.Emit(ctx, events.TypePatternMerged, map[string]interface{}{"uuid": existing.UUID, "merge_count": existing.MergeCount})
			}
			return &existing, false, nil
		}
	}

	pat := &Pattern{
		UUID: uuid.New().String(), Project: project, Text: text, Tags: tags,
		MergeCount: 1, SuccessScore: score, Embedding: vec,
		CreatedAtMs: now, UpdatedAtMs: now,
	}
	if err := p.save(ctx, pat); err != nil {
		return nil, false, err
	}
	if err := p.store.PutEmbedding(ctx, patternCollection, pat.UUID, vec); err != nil {
		return nil, false, err
	}
	if p.log != nil {
		_ = p.log.Emit(ctx, events.TypePatternStored, map[string]interface{}{"uuid": pat.UUID})
	}
	return pat, true, nil
}

func blend(existing, observed float64) float64 {
	if existing == 0 {
		return observed
	}
	return (existing + observed) / 2
}

func mergeTags(existing, add []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, t := range append(append([]string{}, existing...), add...) {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

func (p *Patterns) save(ctx context.Context, pat *Pattern) error {
	return p.store.Put(ctx, patternCollection, store.Envelope{
		ID: pat.UUID, Project: pat.Project,
		CreatedAtMs: pat.CreatedAtMs, UpdatedAtMs: pat.UpdatedAtMs,
	}, pat)
}

// Retrieve runs a similarity search over stored patterns and bumps each
// hit's retrieval_count (emitting memory.pattern.matched once per call,
// not once per hit, mirroring the original's single-event-per-query shape).
func (p *Patterns) Retrieve(ctx context.Context, project, query string, limit int) ([]*Pattern, error) {
	if limit <= 0 {
		limit = p.defaultLimit
	}
	vec, err := embed.EmbedOne(ctx, p.embedder, query)
	if err != nil {
		return nil, err
	}
	hits, err := p.store.VectorSearch(ctx, patternCollection, vec, limit, store.Filter{Project: project}, 0)
	if err != nil {
		return nil, err
	}

	out := make([]*Pattern, 0, len(hits))
	for _, h := range hits {
		var pat Pattern
		if err := json.Unmarshal(h.Envelope.Data, &pat); err != nil {
			continue
		}
		pat.RetrievalCount++
		_ = p.save(ctx, &pat)
		out = append(out, &pat)
	}
	if p.log != nil && len(out) > 0 {
		_ = p.log.Emit(ctx, events.TypePatternMatched, map[string]interface{}{"project": project, "query": query, "hits": len(out)})
	}
	return out, nil
}
