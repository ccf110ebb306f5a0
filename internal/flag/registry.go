// Package flag implements the expedition-flag registry (spec §4.8):
// lightweight, deterministically-keyed bookmarks planted during a
// conversation that survive compression until compiled into a priming
// block.
//
// Grounded on original_source/vectordb/flag_registry.py.
package flag

import (
	"context"
	"encoding/json"
	"time"

	"github.com/forgeos/graph/internal/errs"
	"github.com/forgeos/graph/internal/events"
	"github.com/forgeos/graph/internal/identity"
	"github.com/forgeos/graph/internal/store"
	"github.com/google/uuid"
)

const collection = "expedition_flags"

// Category is one of the closed expedition-flag categories.
type Category string

const (
	CategoryInversion     Category = "inversion"
	CategoryIsomorphism   Category = "isomorphism"
	CategoryFSD           Category = "fsd"
	CategoryManifestation Category = "manifestation"
	CategoryTrap          Category = "trap"
	CategoryGeneral       Category = "general"
)

// Status is one of the closed flag lifecycle states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusCompiled Status = "compiled"
)

// Flag is one expedition-flag record.
type Flag struct {
	UUID           string   `json:"uuid"`
	Project        string   `json:"project"`
	ProjectUUID    string   `json:"project_uuid"`
	Description    string   `json:"description"`
	ConversationID string   `json:"conversation_id"`
	Category       Category `json:"category"`
	Status         Status   `json:"status"`
	CompiledInto   string   `json:"compiled_into,omitempty"`
	CreatedAtMs    int64    `json:"created_at_ms"`
	UpdatedAtMs    int64    `json:"updated_at_ms"`
}

// Registry manages expedition flags.
type Registry struct {
	store *store.SQLiteStore
	log   *events.Log
}

// New wires a Registry to its collaborators.
func New(s *store.SQLiteStore, log *events.Log) *Registry {
	return &Registry{store: s, log: log}
}

// Plant deterministically derives uuid = v5("flag:"+description+":"+conv_id,
// project_uuid): a repeat Plant call for the same (description, conversation)
// pair is a no-op, returning the existing record.
func (r *Registry) Plant(ctx context.Context, project, description string, conversationID uuid.UUID, category Category) (*Flag, error) {
	projUUID := identity.V5("project:" + project)
	id := identity.V5("flag:"+description+":"+conversationID.String(), projUUID).String()

	var existing Flag
	_, err := r.store.Get(ctx, collection, id, &existing)
	if err == nil {
		return &existing, nil
	}
	if !errs.Is(err, errs.NotFound) {
		return nil, err
	}

	now := time.Now().UnixMilli()
	f := &Flag{
		UUID:           id,
		Project:        project,
		ProjectUUID:    projUUID.String(),
		Description:    description,
		ConversationID: conversationID.String(),
		Category:       category,
		Status:         StatusPending,
		CreatedAtMs:    now,
		UpdatedAtMs:    now,
	}
	if err := r.save(ctx, f); err != nil {
		return nil, err
	}
	if r.log != nil {
		_ = r.log.Emit(ctx, events.TypeFlagPlanted, map[string]interface{}{"uuid": f.UUID, "category": string(category)})
	}
	return f, nil
}

func (r *Registry) save(ctx context.Context, f *Flag) error {
	return r.store.Put(ctx, collection, store.Envelope{
		ID: f.UUID, Project: f.Project, Status: string(f.Status),
		CreatedAtMs: f.CreatedAtMs, UpdatedAtMs: f.UpdatedAtMs,
	}, f)
}

// MarkCompiled sets status=compiled and records which priming block this
// flag was compiled into.
func (r *Registry) MarkCompiled(ctx context.Context, flagUUID, compiledInto string) (*Flag, error) {
	var f Flag
	if _, err := r.store.Get(ctx, collection, flagUUID, &f); err != nil {
		return nil, err
	}
	f.Status = StatusCompiled
	f.CompiledInto = compiledInto
	f.UpdatedAtMs = time.Now().UnixMilli()
	if err := r.save(ctx, &f); err != nil {
		return nil, err
	}
	if r.log != nil {
		_ = r.log.Emit(ctx, events.TypeFlagCompiled, map[string]interface{}{"uuid": flagUUID, "compiled_into": compiledInto})
	}
	return &f, nil
}

// GetPending returns every pending flag in project, optionally filtered by
// category (empty = all).
func (r *Registry) GetPending(ctx context.Context, project string, category Category) ([]*Flag, error) {
	envs, err := r.store.Find(ctx, collection, store.Filter{Project: project, Status: string(StatusPending)}, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*Flag, 0, len(envs))
	for _, env := range envs {
		var f Flag
		if err := json.Unmarshal(env.Data, &f); err != nil {
			continue
		}
		if category != "" && f.Category != category {
			continue
		}
		out = append(out, &f)
	}
	return out, nil
}
