// Package priming implements the priming-block registry (spec §4.8):
// territory-keyed, embedded context blocks that can be semantically
// re-activated by find_relevant_priming.
//
// Grounded on original_source/vectordb/priming_registry.py.
package priming

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/forgeos/graph/internal/embed"
	"github.com/forgeos/graph/internal/errs"
	"github.com/forgeos/graph/internal/events"
	"github.com/forgeos/graph/internal/identity"
	"github.com/forgeos/graph/internal/store"
)

const collection = "priming_blocks"

// Status is one of the closed priming-block lifecycle states.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Block is one priming block record.
type Block struct {
	UUID              string   `json:"uuid"`
	Project           string   `json:"project"`
	ProjectUUID       string   `json:"project_uuid"`
	TerritoryName     string   `json:"territory_name"`
	TerritoryKeys     []string `json:"territory_keys"`
	ConfidenceFloor   float64  `json:"confidence_floor"`
	FindingsCount     int      `json:"findings_count"`
	Status            Status   `json:"status"`
	SourceExpeditions []string `json:"source_expeditions,omitempty"`
	CreatedAtMs       int64    `json:"created_at_ms"`
	UpdatedAtMs       int64    `json:"updated_at_ms"`
}

// Hit is a vector-search match above the activation threshold.
type Hit struct {
	Block      *Block
	Similarity float64
}

// Registry manages priming blocks.
type Registry struct {
	store    *store.SQLiteStore
	embedder embed.Client
	log      *events.Log
}

// New wires a Registry to its collaborators.
func New(s *store.SQLiteStore, embedder embed.Client, log *events.Log) *Registry {
	return &Registry{store: s, embedder: embedder, log: log}
}

func blockUUID(territoryName, projectName string) string {
	projUUID := identity.V5("project:" + projectName)
	return identity.V5("priming:"+territoryName, projUUID).String()
}

// Upsert creates or refreshes a priming block, embedding the joined
// territory_keys text (keys_text). confidenceFloor of 0 leaves an existing
// value unchanged.
func (r *Registry) Upsert(ctx context.Context, project, territoryName string, territoryKeys []string, confidenceFloor float64, findingsCount int) (*Block, error) {
	id := blockUUID(territoryName, project)
	projUUID := identity.V5("project:" + project)
	now := time.Now().UnixMilli()

	keysText := strings.Join(territoryKeys, " ")
	vec, err := embed.EmbedOne(ctx, r.embedder, keysText)
	if err != nil {
		return nil, err
	}

	var existing Block
	_, getErr := r.store.Get(ctx, collection, id, &existing)
	b := &existing
	if getErr != nil {
		if !errs.Is(getErr, errs.NotFound) {
			return nil, getErr
		}
		b = &Block{
			UUID:        id,
			Project:     project,
			ProjectUUID: projUUID.String(),
			Status:      StatusActive,
			CreatedAtMs: now,
		}
	}

	b.TerritoryName = territoryName
	b.TerritoryKeys = territoryKeys
	if confidenceFloor > 0 {
		b.ConfidenceFloor = confidenceFloor
	}
	b.FindingsCount += findingsCount
	b.UpdatedAtMs = now

	if err := r.save(ctx, b); err != nil {
		return nil, err
	}
	if err := r.store.PutEmbedding(ctx, collection, b.UUID, vec); err != nil {
		return nil, err
	}
	if r.log != nil {
		_ = r.log.Emit(ctx, events.TypePrimingUpserted, map[string]interface{}{"uuid": b.UUID, "territory": territoryName})
	}
	return b, nil
}

func (r *Registry) save(ctx context.Context, b *Block) error {
	return r.store.Put(ctx, collection, store.Envelope{
		ID: b.UUID, Project: b.Project, Status: string(b.Status),
		CreatedAtMs: b.CreatedAtMs, UpdatedAtMs: b.UpdatedAtMs,
	}, b)
}

// Deactivate flips a block's status to inactive.
func (r *Registry) Deactivate(ctx context.Context, blockUUID string) error {
	var b Block
	if _, err := r.store.Get(ctx, collection, blockUUID, &b); err != nil {
		return err
	}
	b.Status = StatusInactive
	b.UpdatedAtMs = time.Now().UnixMilli()
	if err := r.save(ctx, &b); err != nil {
		return err
	}
	if r.log != nil {
		_ = r.log.Emit(ctx, events.TypePrimingDeactivated, map[string]interface{}{"uuid": blockUUID})
	}
	return nil
}

// AddSourceExpedition records a flag uuid as a contributor to this block,
// growing source_expeditions as a set (called when a flag compiles into it).
func (r *Registry) AddSourceExpedition(ctx context.Context, blockUUID, flagUUID string) error {
	return r.store.AddToSet(ctx, collection, blockUUID, map[string][]string{"source_expeditions": {flagUUID}})
}

// FindRelevant runs a vector search over active priming blocks (optionally
// scoped to project) and returns hits at or above the activation threshold.
func (r *Registry) FindRelevant(ctx context.Context, topicText, project string, limit int, threshold float64) ([]Hit, error) {
	vec, err := embed.EmbedOne(ctx, r.embedder, topicText)
	if err != nil {
		return nil, err
	}
	hits, err := r.store.VectorSearch(ctx, collection, vec, limit, store.Filter{Project: project, Status: string(StatusActive)}, threshold)
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		var b Block
		if err := json.Unmarshal(h.Envelope.Data, &b); err != nil {
			continue
		}
		out = append(out, Hit{Block: &b, Similarity: h.Similarity})
	}
	return out, nil
}

// Get fetches a priming block by uuid.
func (r *Registry) Get(ctx context.Context, id string) (*Block, error) {
	var b Block
	if _, err := r.store.Get(ctx, collection, id, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListActive returns every active priming block for project, newest first.
// Used by the sync engine to compile a project's reusable context blocks
// into push-ready documents.
func (r *Registry) ListActive(ctx context.Context, project string) ([]*Block, error) {
	envs, err := r.store.Find(ctx, collection, store.Filter{Project: project, Status: string(StatusActive)}, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*Block, 0, len(envs))
	for _, env := range envs {
		var b Block
		if err := json.Unmarshal(env.Data, &b); err != nil {
			continue
		}
		out = append(out, &b)
	}
	return out, nil
}
