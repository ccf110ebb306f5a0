// Package conversation implements the conversation registry (spec §4.5):
// source-id <-> UUIDv8 mapping, project roll-up, and multi-strategy
// identifier resolution.
//
// Grounded on original_source/vectordb/conversation_registry.py.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/derekparker/trie/v3"
	"github.com/forgeos/graph/internal/events"
	"github.com/forgeos/graph/internal/identity"
	"github.com/forgeos/graph/internal/store"
	"github.com/google/uuid"
)

const collection = "conversations"

// Conversation is one registered conversation.
type Conversation struct {
	UUID        string `json:"uuid"`
	SourceID    string `json:"source_id"`
	ProjectName string `json:"project_name"`
	ProjectUUID string `json:"project_uuid"`
	Name        string `json:"name,omitempty"`
	Summary     string `json:"summary,omitempty"`
	CreatedAtMs int64  `json:"created_at_ms"`
	UpdatedAtMs int64  `json:"updated_at_ms"`
}

// Action reports whether a register call inserted or updated a record.
type Action string

const (
	ActionInserted Action = "inserted"
	ActionUpdated  Action = "updated"
)

// ProjectSummary is one row of list_projects' aggregation.
type ProjectSummary struct {
	ProjectName string
	ProjectUUID string
	Count       int
	EarliestMs  int64
	LatestMs    int64
}

var sourceIDPrefixRe = regexp.MustCompile(`^[A-Za-z0-9_-]{4,}$`)

// Registry manages conversation identity and resolution.
type Registry struct {
	store *store.SQLiteStore
	log   *events.Log

	mu          sync.Mutex
	sourceTrie  *trie.Trie
}

// NewRegistry wires a Registry to a store and event log.
func NewRegistry(s *store.SQLiteStore, log *events.Log) *Registry {
	return &Registry{store: s, log: log, sourceTrie: trie.New()}
}

// ProjectUUID derives a project's stable identity: v5("project:"+name).
func ProjectUUID(projectName string) uuid.UUID {
	return identity.V5("project:" + projectName)
}

// Register upserts a conversation by source_id: inserts a full record when
// absent, otherwise updates name/summary/updated_at and reports
// action=updated. Always emits graph.conversation.registered.
func (r *Registry) Register(ctx context.Context, sourceID, projectName, name, summary string, createdAt time.Time) (*Conversation, Action, error) {
	projUUID := ProjectUUID(projectName)
	if err := r.store.UpsertProject(ctx, projUUID.String(), projectName, createdAt.UnixMilli()); err != nil {
		return nil, "", err
	}

	ms := createdAt.UnixMilli()
	convUUID := identity.V8FromString(sourceID, projUUID, ms)

	existing, action, err := r.findBySourceID(ctx, sourceID)
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UnixMilli()
	var conv *Conversation
	if existing != nil {
		conv = existing
		if name != "" {
			conv.Name = name
		}
		if summary != "" {
			conv.Summary = summary
		}
		conv.UpdatedAtMs = now
		action = ActionUpdated
	} else {
		conv = &Conversation{
			UUID:        convUUID.String(),
			SourceID:    sourceID,
			ProjectName: projectName,
			ProjectUUID: projUUID.String(),
			Name:        name,
			Summary:     summary,
			CreatedAtMs: ms,
			UpdatedAtMs: now,
		}
		action = ActionInserted
	}

	if err := r.store.Put(ctx, collection, store.Envelope{
		ID: conv.UUID, Project: projectName, CreatedAtMs: conv.CreatedAtMs, UpdatedAtMs: conv.UpdatedAtMs,
	}, conv); err != nil {
		return nil, "", err
	}

	r.mu.Lock()
	r.sourceTrie.Add(sourceID, conv.UUID)
	r.mu.Unlock()

	if r.log != nil {
		_ = r.log.Emit(ctx, events.TypeConversationRegistered, map[string]interface{}{
			"uuid": conv.UUID, "source_id": sourceID, "project": projectName, "action": string(action),
		})
	}

	return conv, action, nil
}

func (r *Registry) findBySourceID(ctx context.Context, sourceID string) (*Conversation, Action, error) {
	envs, err := r.store.Find(ctx, collection, store.Filter{}, 0)
	if err != nil {
		return nil, "", err
	}
	for _, env := range envs {
		var c Conversation
		if err := json.Unmarshal(env.Data, &c); err != nil {
			continue
		}
		if c.SourceID == sourceID {
			return &c, ActionUpdated, nil
		}
	}
	return nil, "", nil
}

// ResolveID tries, in order: exact source_id, exact uuid, source_id prefix
// (requires len>=4), case-insensitive name substring. Returns the first hit.
func (r *Registry) ResolveID(ctx context.Context, identifier string) (*Conversation, error) {
	envs, err := r.store.Find(ctx, collection, store.Filter{}, 0)
	if err != nil {
		return nil, err
	}

	var all []Conversation
	for _, env := range envs {
		var c Conversation
		if err := json.Unmarshal(env.Data, &c); err == nil {
			all = append(all, c)
		}
	}

	for _, c := range all {
		if c.SourceID == identifier {
			return &c, nil
		}
	}
	for _, c := range all {
		if c.UUID == identifier {
			return &c, nil
		}
	}
	if sourceIDPrefixRe.MatchString(identifier) && len(identifier) >= 4 {
		r.mu.Lock()
		matches := r.sourceTrie.PrefixSearch(identifier)
		r.mu.Unlock()
		if len(matches) > 0 {
			for _, c := range all {
				if c.SourceID == matches[0] {
					return &c, nil
				}
			}
		}
		for _, c := range all {
			if strings.HasPrefix(c.SourceID, identifier) {
				return &c, nil
			}
		}
	}
	lower := strings.ToLower(identifier)
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Name), lower) {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("conversation: no match for %q", identifier)
}

// ListProjects aggregates conversations by project_name.
func (r *Registry) ListProjects(ctx context.Context) ([]ProjectSummary, error) {
	envs, err := r.store.Find(ctx, collection, store.Filter{}, 0)
	if err != nil {
		return nil, err
	}

	agg := map[string]*ProjectSummary{}
	for _, env := range envs {
		var c Conversation
		if err := json.Unmarshal(env.Data, &c); err != nil {
			continue
		}
		p, ok := agg[c.ProjectName]
		if !ok {
			p = &ProjectSummary{ProjectName: c.ProjectName, ProjectUUID: c.ProjectUUID, EarliestMs: c.CreatedAtMs, LatestMs: c.CreatedAtMs}
			agg[c.ProjectName] = p
		}
		p.Count++
		if c.CreatedAtMs < p.EarliestMs {
			p.EarliestMs = c.CreatedAtMs
		}
		if c.CreatedAtMs > p.LatestMs {
			p.LatestMs = c.CreatedAtMs
		}
	}

	out := make([]ProjectSummary, 0, len(agg))
	for _, p := range agg {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectName < out[j].ProjectName })
	return out, nil
}
