// Package compression implements the compression-tag registry (spec §4.9):
// records keyed by a human-assigned compression_tag string, growing their
// set-valued fields by add-to-set as the same tag is re-synced, with a
// SHA-256 checksum over the raw archive text.
//
// Grounded on original_source/vectordb/compression_registry.py.
package compression

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/forgeos/graph/internal/errs"
	"github.com/forgeos/graph/internal/events"
	"github.com/forgeos/graph/internal/identity"
	"github.com/forgeos/graph/internal/store"
)

const collection = "compression_tags"

// Tag is one compression-event record.
type Tag struct {
	UUID                string   `json:"uuid"`
	CompressionTag      string   `json:"compression_tag"`
	Project             string   `json:"project"`
	SourceConversation  string   `json:"source_conversation"`
	TargetConversations []string `json:"target_conversations,omitempty"`
	DecisionsCaptured   []string `json:"decisions_captured,omitempty"`
	ThreadsCaptured     []string `json:"threads_captured,omitempty"`
	ArtifactsCaptured   []string `json:"artifacts_captured,omitempty"`
	Checksum            string   `json:"checksum,omitempty"`
	CreatedAtMs         int64    `json:"created_at_ms"`
	UpdatedAtMs         int64    `json:"updated_at_ms"`
}

// RegisterInput is the caller-supplied shape for Register.
type RegisterInput struct {
	CompressionTag      string
	Project             string
	SourceConversation  string
	TargetConversations []string
	DecisionsCaptured   []string
	ThreadsCaptured     []string
	ArtifactsCaptured   []string
	ArchiveText         string
}

// Registry manages compression-tag records.
type Registry struct {
	store *store.SQLiteStore
	log   *events.Log
}

// New wires a Registry to its collaborators.
func New(s *store.SQLiteStore, log *events.Log) *Registry {
	return &Registry{store: s, log: log}
}

func tagUUID(tag, project string) string {
	projUUID := identity.V5("project:" + project)
	return identity.V5("compression:"+tag, projUUID).String()
}

func checksum(text string) string {
	if text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Register inserts a new tag record, or, on a repeat call for the same tag,
// merges the set-valued fields via add-to-set and overwrites the checksum
// only when the new value is non-empty and differs from the stored one.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (*Tag, error) {
	id := tagUUID(in.CompressionTag, in.Project)
	now := time.Now().UnixMilli()
	newChecksum := checksum(in.ArchiveText)

	var existing Tag
	_, err := r.store.Get(ctx, collection, id, &existing)
	if err != nil && !errs.Is(err, errs.NotFound) {
		return nil, err
	}

	if err == nil {
		fields := map[string][]string{}
		if len(in.TargetConversations) > 0 {
			fields["target_conversations"] = in.TargetConversations
		}
		if len(in.DecisionsCaptured) > 0 {
			fields["decisions_captured"] = in.DecisionsCaptured
		}
		if len(in.ThreadsCaptured) > 0 {
			fields["threads_captured"] = in.ThreadsCaptured
		}
		if len(in.ArtifactsCaptured) > 0 {
			fields["artifacts_captured"] = in.ArtifactsCaptured
		}
		if len(fields) > 0 {
			if err := r.store.AddToSet(ctx, collection, id, fields); err != nil {
				return nil, err
			}
		}
		setFields := map[string]interface{}{}
		if newChecksum != "" && newChecksum != existing.Checksum {
			setFields["checksum"] = newChecksum
		}
		if err := r.store.SetFields(ctx, collection, id, setFields, now); err != nil {
			return nil, err
		}
		if r.log != nil {
			_ = r.log.Emit(ctx, events.TypeCompressionRegistered, map[string]interface{}{"uuid": id, "tag": in.CompressionTag, "action": "updated"})
		}
		return r.Get(ctx, id)
	}

	t := &Tag{
		UUID:                id,
		CompressionTag:      in.CompressionTag,
		Project:             in.Project,
		SourceConversation:  in.SourceConversation,
		TargetConversations: in.TargetConversations,
		DecisionsCaptured:   in.DecisionsCaptured,
		ThreadsCaptured:     in.ThreadsCaptured,
		ArtifactsCaptured:   in.ArtifactsCaptured,
		Checksum:            newChecksum,
		CreatedAtMs:         now,
		UpdatedAtMs:         now,
	}
	if err := r.save(ctx, t); err != nil {
		return nil, err
	}
	if r.log != nil {
		_ = r.log.Emit(ctx, events.TypeCompressionRegistered, map[string]interface{}{"uuid": id, "tag": in.CompressionTag, "action": "inserted"})
	}
	return t, nil
}

func (r *Registry) save(ctx context.Context, t *Tag) error {
	return r.store.Put(ctx, collection, store.Envelope{
		ID: t.UUID, Project: t.Project, CreatedAtMs: t.CreatedAtMs, UpdatedAtMs: t.UpdatedAtMs,
	}, t)
}

// Get fetches a compression tag record by uuid.
func (r *Registry) Get(ctx context.Context, id string) (*Tag, error) {
	var t Tag
	if _, err := r.store.Get(ctx, collection, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// VerifyChecksum reports whether archiveText hashes to the stored checksum
// for tag (looked up by project+tag), never raising on mismatch.
func (r *Registry) VerifyChecksum(ctx context.Context, project, tag, archiveText string) (match bool, stored string, computed string, err error) {
	id := tagUUID(tag, project)
	t, err := r.Get(ctx, id)
	if err != nil {
		return false, "", "", err
	}
	computed = checksum(archiveText)
	return computed != "" && computed == t.Checksum, t.Checksum, computed, nil
}

// ListByProject returns every compression tag recorded for project, newest
// first. Used by the sync engine to compile a project's compression
// history into push-ready documents.
func (r *Registry) ListByProject(ctx context.Context, project string) ([]*Tag, error) {
	envs, err := r.store.Find(ctx, collection, store.Filter{Project: project}, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*Tag, 0, len(envs))
	for _, env := range envs {
		var t Tag
		if err := json.Unmarshal(env.Data, &t); err != nil {
			continue
		}
		out = append(out, &t)
	}
	return out, nil
}
