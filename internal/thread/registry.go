// Package thread implements the thread registry (spec §4.7): analogous to
// the decision registry but simpler — no text-hash trichotomy, just an
// insert/update split, priority ordering, and the same staleness model.
//
// Grounded on original_source/vectordb/thread_registry.py.
package thread

import (
	"context"
	"encoding/json"
	"time"

	"github.com/forgeos/graph/internal/displayid"
	"github.com/forgeos/graph/internal/embed"
	"github.com/forgeos/graph/internal/errs"
	"github.com/forgeos/graph/internal/events"
	"github.com/forgeos/graph/internal/identity"
	"github.com/forgeos/graph/internal/store"
	"github.com/google/uuid"
)

const collection = "threads"

// Status is one of the closed thread lifecycle states.
type Status string

const (
	StatusOpen     Status = "open"
	StatusBlocked  Status = "blocked"
	StatusResolved Status = "resolved"
)

// Priority orders threads for display; lower sorts first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

var priorityRank = map[Priority]int{PriorityHigh: 0, PriorityMedium: 1, PriorityLow: 2}

// Action reports whether an upsert inserted or updated a record.
type Action string

const (
	ActionInserted Action = "inserted"
	ActionUpdated  Action = "updated"
)

// Thread is one graph thread record.
type Thread struct {
	UUID               string   `json:"uuid"`
	LocalID            string   `json:"local_id"`
	Project            string   `json:"project"`
	ProjectUUID        string   `json:"project_uuid"`
	Title              string   `json:"title"`
	Status             Status   `json:"status"`
	Priority           Priority `json:"priority"`
	BlockedBy          []string `json:"blocked_by,omitempty"`
	Resolution         string   `json:"resolution,omitempty"`
	ResolutionBlobRef  string   `json:"resolution_blob_ref,omitempty"`
	HopsSinceValidated int      `json:"hops_since_validated"`
	LastValidatedMs    int64    `json:"last_validated_ms"`
	GlobalDisplayID    string   `json:"global_display_id,omitempty"`
	FirstSeenConvUUID  string   `json:"first_seen_conversation_uuid"`
	Embedding          []float32 `json:"embedding,omitempty"`
	CreatedAtMs        int64    `json:"created_at_ms"`
	UpdatedAtMs        int64    `json:"updated_at_ms"`
}

// UpsertInput is the caller-supplied shape for Upsert.
type UpsertInput struct {
	LocalID           string
	Title             string
	Project           string
	FirstSeenConvUUID uuid.UUID
	Priority          Priority
	Status            Status
	BlockedBy         []string
}

// Registry implements thread upsert and lifecycle operations.
type Registry struct {
	store    *store.SQLiteStore
	embedder embed.Client
	ids      *displayid.Registry
	log      *events.Log
}

// New wires a Registry to its collaborators.
func New(s *store.SQLiteStore, embedder embed.Client, ids *displayid.Registry, log *events.Log) *Registry {
	return &Registry{store: s, embedder: embedder, ids: ids, log: log}
}

// Upsert derives uuid = v8_from_string(title+first_seen_conv, project_uuid,
// ts=extract_ts(first_seen_conv)). On first sight it embeds the title,
// allocates a display id, and inserts; on a repeat call for the same
// (project, title, first_seen_conv) triple it merges blocked_by and updates
// status/priority.
func (r *Registry) Upsert(ctx context.Context, in UpsertInput) (*Thread, Action, error) {
	if in.Status == "" {
		in.Status = StatusOpen
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	projUUID := identity.V5("project:" + in.Project)
	ts := identity.ExtractTimestamp(in.FirstSeenConvUUID).UnixMilli()
	threadUUID := identity.V8FromString(in.Title+in.FirstSeenConvUUID.String(), projUUID, ts)

	now := time.Now().UnixMilli()

	var existing Thread
	_, err := r.store.Get(ctx, collection, threadUUID.String(), &existing)
	if err != nil && !errs.Is(err, errs.NotFound) {
		return nil, "", err
	}
	if err == nil {
		if len(in.BlockedBy) > 0 {
			if err := r.store.AddToSet(ctx, collection, threadUUID.String(), map[string][]string{"blocked_by": in.BlockedBy}); err != nil {
				return nil, "", err
			}
			// Reload so the save below keeps the merged blocked_by set.
			if _, err := r.store.Get(ctx, collection, threadUUID.String(), &existing); err != nil {
				return nil, "", err
			}
		}
		existing.Status = in.Status
		existing.Priority = in.Priority
		existing.UpdatedAtMs = now
		if err := r.save(ctx, &existing); err != nil {
			return nil, "", err
		}
		r.emit(ctx, events.TypeThreadUpserted, existing.UUID, map[string]interface{}{"action": string(ActionUpdated)})
		return &existing, ActionUpdated, nil
	}

	displayID := ""
	if r.ids != nil {
		displayID, err = r.ids.Allocate(ctx, in.Project, displayid.TypeThread)
		if err != nil {
			return nil, "", err
		}
	}

	vec, _ := embed.EmbedOne(ctx, r.embedder, in.Title)

	th := &Thread{
		UUID:              threadUUID.String(),
		LocalID:           in.LocalID,
		Project:           in.Project,
		ProjectUUID:       projUUID.String(),
		Title:             in.Title,
		Status:            in.Status,
		Priority:          in.Priority,
		BlockedBy:         in.BlockedBy,
		HopsSinceValidated: 0,
		LastValidatedMs:   now,
		GlobalDisplayID:   displayID,
		FirstSeenConvUUID: in.FirstSeenConvUUID.String(),
		Embedding:         vec,
		CreatedAtMs:       now,
		UpdatedAtMs:       now,
	}
	if err := r.save(ctx, th); err != nil {
		return nil, "", err
	}
	if err := r.store.PutEmbedding(ctx, collection, th.UUID, vec); err != nil {
		return nil, "", err
	}
	if displayID != "" && r.ids != nil {
		if err := r.ids.Register(ctx, displayID, th.UUID, collection, in.Project); err != nil {
			return nil, "", err
		}
	}

	r.emit(ctx, events.TypeThreadUpserted, th.UUID, map[string]interface{}{"action": string(ActionInserted)})
	return th, ActionInserted, nil
}

func (r *Registry) save(ctx context.Context, t *Thread) error {
	return r.store.Put(ctx, collection, store.Envelope{
		ID: t.UUID, Project: t.Project, Status: string(t.Status),
		CreatedAtMs: t.CreatedAtMs, UpdatedAtMs: t.UpdatedAtMs,
	}, t)
}

func (r *Registry) emit(ctx context.Context, eventType, uuidStr string, extra map[string]interface{}) {
	if r.log == nil {
		return
	}
	details := map[string]interface{}{"uuid": uuidStr}
	for k, v := range extra {
		details[k] = v
	}
	_ = r.log.Emit(ctx, eventType, details)
}

// Get fetches a thread by uuid.
func (r *Registry) Get(ctx context.Context, threadUUID string) (*Thread, error) {
	var t Thread
	if _, err := r.store.Get(ctx, collection, threadUUID, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetActiveThreads returns every non-resolved thread in project, sorted by
// priority (high first) then updated_at ascending.
func (r *Registry) GetActiveThreads(ctx context.Context, project string) ([]*Thread, error) {
	open, err := r.threadsByStatus(ctx, project, StatusOpen)
	if err != nil {
		return nil, err
	}
	blocked, err := r.threadsByStatus(ctx, project, StatusBlocked)
	if err != nil {
		return nil, err
	}
	out := append(open, blocked...)
	sortByPriority(out)
	return out, nil
}

func (r *Registry) threadsByStatus(ctx context.Context, project string, status Status) ([]*Thread, error) {
	envs, err := r.store.Find(ctx, collection, store.Filter{Project: project, Status: string(status)}, 0)
	if err != nil {
		return nil, err
	}
	return decodeAll(envs), nil
}

// Resolve marks a thread resolved with a resolution text.
func (r *Registry) Resolve(ctx context.Context, threadUUID, resolution string) (*Thread, error) {
	t, err := r.Get(ctx, threadUUID)
	if err != nil {
		return nil, err
	}
	t.Status = StatusResolved
	t.Resolution = resolution
	t.UpdatedAtMs = time.Now().UnixMilli()
	if err := r.save(ctx, t); err != nil {
		return nil, err
	}
	r.emit(ctx, events.TypeThreadResolved, threadUUID, nil)
	return t, nil
}

// GetStaleThreads mirrors the decision registry's staleness rule: active
// (non-resolved) threads that have gone maxHops compression hops or maxDays
// wall-clock days without revalidation.
func (r *Registry) GetStaleThreads(ctx context.Context, project string, maxHops, maxDays int) ([]*Thread, error) {
	all, err := r.GetActiveThreads(ctx, project)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().AddDate(0, 0, -maxDays).UnixMilli()
	var out []*Thread
	for _, t := range all {
		if t.HopsSinceValidated >= maxHops || t.LastValidatedMs <= cutoff {
			out = append(out, t)
		}
	}
	return out, nil
}

// AllNonResolved returns every thread not in the resolved status, across
// every project, used by the entanglement scanner's item index and
// embedding-backfill pass.
func (r *Registry) AllNonResolved(ctx context.Context) ([]*Thread, error) {
	open, err := r.allByStatus(ctx, StatusOpen)
	if err != nil {
		return nil, err
	}
	blocked, err := r.allByStatus(ctx, StatusBlocked)
	if err != nil {
		return nil, err
	}
	return append(open, blocked...), nil
}

func (r *Registry) allByStatus(ctx context.Context, status Status) ([]*Thread, error) {
	envs, err := r.store.Find(ctx, collection, store.Filter{Status: string(status)}, 0)
	if err != nil {
		return nil, err
	}
	return decodeAll(envs), nil
}

// BackfillEmbedding embeds t.Title and persists the embedding for a thread
// that was inserted before eager embedding, or whose embedding was lost.
func (r *Registry) BackfillEmbedding(ctx context.Context, t *Thread) error {
	vec, err := embed.EmbedOne(ctx, r.embedder, t.Title)
	if err != nil {
		return err
	}
	t.Embedding = vec
	if err := r.save(ctx, t); err != nil {
		return err
	}
	return r.store.PutEmbedding(ctx, collection, t.UUID, vec)
}

// IncrementHops bumps hops_since_validated by 1 for every non-resolved
// thread in project not present in exclude.
func (r *Registry) IncrementHops(ctx context.Context, project string, exclude map[string]bool) error {
	all, err := r.GetActiveThreads(ctx, project)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, t := range all {
		if exclude[t.UUID] {
			continue
		}
		t.HopsSinceValidated++
		t.UpdatedAtMs = now
		if err := r.save(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func decodeAll(envs []*store.Envelope) []*Thread {
	out := make([]*Thread, 0, len(envs))
	for _, env := range envs {
		var t Thread
		if err := json.Unmarshal(env.Data, &t); err == nil {
			out = append(out, &t)
		}
	}
	return out
}

func sortByPriority(ts []*Thread) {
	for i := 1; i < len(ts); i++ {
		j := i
		for j > 0 && less(ts[j], ts[j-1]) {
			ts[j-1], ts[j] = ts[j], ts[j-1]
			j--
		}
	}
}

func less(a, b *Thread) bool {
	ra, rb := priorityRank[a.Priority], priorityRank[b.Priority]
	if ra != rb {
		return ra < rb
	}
	return a.UpdatedAtMs < b.UpdatedAtMs
}
