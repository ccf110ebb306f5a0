// Package events implements the append-only audit log (spec §6): every
// significant mutation across the registries emits one record here, with a
// 90-day TTL enforced by the store's expires_at sweep.
//
// Grounded on original_source/vectordb/events.py.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/forgeos/graph/internal/store"
	"github.com/google/uuid"
)

// Event types emitted across the substrate (spec §6 + SUPPLEMENTED FEATURES).
const (
	TypeConversationRegistered = "graph.conversation.registered"
	TypeDecisionInserted       = "graph.decision.inserted"
	TypeDecisionUpdated        = "graph.decision.updated"
	TypeDecisionValidated      = "graph.decision.validated"
	TypeDecisionSuperseded     = "graph.decision.superseded"
	TypeThreadUpserted         = "graph.thread.upserted"
	TypeThreadResolved         = "graph.thread.resolved"
	TypeLineageEdge            = "graph.lineage.edge"
	TypeCompressionRegistered  = "graph.compression.registered"
	TypeFlagPlanted            = "expedition.flag.planted"
	TypeFlagCompiled           = "expedition.flag.compiled"
	TypePrimingUpserted        = "expedition.priming.upserted"
	TypePrimingDeactivated     = "expedition.priming.deactivated"
	TypePatternStored          = "memory.pattern.stored"
	TypePatternMerged          = "memory.pattern.merged"
	TypePatternMatched         = "memory.pattern.matched"
	TypeForget                 = "memory.forget"
)

// Event is one append-only audit record.
type Event struct {
	EventType string                 `json:"event_type"`
	Timestamp int64                  `json:"timestamp"`
	Details   map[string]interface{} `json:"details"`
}

// Log emits events into the store's "events" collection.
type Log struct {
	store      *store.SQLiteStore
	ttlSeconds int
}

// NewLog wires a Log to a store with the configured TTL (default 90 days).
func NewLog(s *store.SQLiteStore, ttlSeconds int) *Log {
	if ttlSeconds <= 0 {
		ttlSeconds = 90 * 24 * 60 * 60
	}
	return &Log{store: s, ttlSeconds: ttlSeconds}
}

// Emit writes one event. Event emission is best-effort elsewhere in the
// substrate (spec §7): callers that want that semantic should swallow the
// returned error and log it rather than fail the primary operation.
func (l *Log) Emit(ctx context.Context, eventType string, details map[string]interface{}) error {
	now := time.Now()
	id := uuid.New().String()
	expires := now.Add(time.Duration(l.ttlSeconds) * time.Second).UnixMilli()

	ev := Event{EventType: eventType, Timestamp: now.UnixMilli(), Details: details}
	return l.store.Put(ctx, "events", store.Envelope{
		ID:          id,
		Status:      eventType,
		CreatedAtMs: now.UnixMilli(),
		UpdatedAtMs: now.UnixMilli(),
		ExpiresAtMs: &expires,
	}, ev)
}

// Query returns events, optionally filtered by type and since, newest
// first, capped at limit (default 50).
func (l *Log) Query(ctx context.Context, eventType string, since time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	envs, err := l.store.Find(ctx, "events", store.Filter{Status: eventType}, 0)
	if err != nil {
		return nil, err
	}

	var out []Event
	for _, env := range envs {
		if !since.IsZero() && env.CreatedAtMs < since.UnixMilli() {
			continue
		}
		var ev Event
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			continue
		}
		out = append(out, ev)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Sweep deletes every expired event, returning the count removed.
func (l *Log) Sweep(ctx context.Context) (int, error) {
	return l.store.DeleteExpired(ctx, "events", time.Now().UnixMilli())
}
