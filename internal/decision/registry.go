// Package decision implements the decision registry (spec §4.6): the
// three-action upsert (validated/updated/inserted), staleness, hop
// accounting, superseding, and similarity search.
//
// Grounded on original_source/vectordb/decision_registry.py.
package decision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/forgeos/graph/internal/blob"
	"github.com/forgeos/graph/internal/displayid"
	"github.com/forgeos/graph/internal/embed"
	"github.com/forgeos/graph/internal/errs"
	"github.com/forgeos/graph/internal/events"
	"github.com/forgeos/graph/internal/identity"
	"github.com/forgeos/graph/internal/store"
	"github.com/google/uuid"
)

const collection = "decisions"

// Status is one of the closed decision lifecycle states.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
	StatusDeprecated Status = "deprecated"
)

// Action reports which of the three upsert branches fired.
type Action string

const (
	ActionValidated Action = "validated"
	ActionUpdated   Action = "updated"
	ActionInserted  Action = "inserted"
)

// Decision is one graph decision record.
type Decision struct {
	UUID                string    `json:"uuid"`
	LocalID             string    `json:"local_id"`
	Project             string    `json:"project"`
	ProjectUUID         string    `json:"project_uuid"`
	Text                string    `json:"text"`
	TextHash            string    `json:"text_hash"`
	TextBlobRef         string    `json:"text_blob_ref,omitempty"`
	EpistemicTier       *float64  `json:"epistemic_tier,omitempty"`
	Status              Status    `json:"status"`
	Dependencies        []string  `json:"dependencies,omitempty"`
	ConflictsWith       []string  `json:"conflicts_with,omitempty"`
	SupersededBy        string    `json:"superseded_by,omitempty"`
	Rationale           string    `json:"rationale,omitempty"`
	HopsSinceValidated  int       `json:"hops_since_validated"`
	LastValidatedMs     int64     `json:"last_validated_ms"`
	GlobalDisplayID     string    `json:"global_display_id,omitempty"`
	OriginatedConvUUID  string    `json:"originated_conversation_uuid"`
	Embedding           []float32 `json:"embedding,omitempty"`
	CreatedAtMs         int64     `json:"created_at_ms"`
	UpdatedAtMs         int64     `json:"updated_at_ms"`
}

// UpsertInput is the caller-supplied shape for Upsert.
type UpsertInput struct {
	LocalID            string
	Text               string
	Project            string
	OriginatedConvUUID uuid.UUID
	Tier               *float64
	Status             Status
	Dependencies       []string
	Rationale          string
}

// ConflictDetector is the subset of internal/conflict's interface the
// decision registry calls on insert. Kept narrow and best-effort: any error
// it returns is logged, never surfaced (spec §4.6, §7).
type ConflictDetector interface {
	DetectAndRegister(ctx context.Context, decisionUUID, text string, tier *float64, project string) (int, error)
}

// Registry implements the three-action upsert and decision lifecycle ops.
type Registry struct {
	store    *store.SQLiteStore
	embedder embed.Client
	blobs    *blob.Store
	ids      *displayid.Registry
	log      *events.Log
	conflict ConflictDetector
}

// New wires a Registry. conflict may be nil (conflict detection skipped).
func New(s *store.SQLiteStore, embedder embed.Client, blobs *blob.Store, ids *displayid.Registry, log *events.Log, conflict ConflictDetector) *Registry {
	return &Registry{store: s, embedder: embedder, blobs: blobs, ids: ids, log: log, conflict: conflict}
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// Upsert implements the three-action branch spec §4.6 describes.
func (r *Registry) Upsert(ctx context.Context, in UpsertInput) (*Decision, Action, error) {
	if in.Status == "" {
		in.Status = StatusActive
	}
	projUUID := identity.V5("project:" + in.Project)
	hash := textHash(in.Text)
	ts := identity.ExtractTimestamp(in.OriginatedConvUUID).UnixMilli()
	decUUID := identity.V8FromString(hash+in.OriginatedConvUUID.String(), projUUID, ts)

	now := time.Now().UnixMilli()

	var existing Decision
	_, err := r.store.Get(ctx, collection, decUUID.String(), &existing)
	exists := err == nil
	if err != nil && !errs.Is(err, errs.NotFound) {
		return nil, "", err
	}

	if exists {
		if existing.TextHash == hash {
			existing.LastValidatedMs = now
			existing.HopsSinceValidated = 0
			existing.UpdatedAtMs = now
			if err := r.save(ctx, &existing); err != nil {
				return nil, "", err
			}
			r.emit(ctx, events.TypeDecisionValidated, existing.UUID, nil)
			return &existing, ActionValidated, nil
		}

		existing.Text = in.Text
		existing.TextHash = hash
		if r.blobs != nil {
			if ref, err := r.blobs.StoreIfLarge(ctx, in.Text, 500); err == nil {
				existing.TextBlobRef = ref
			}
		}
		vec, _ := embed.EmbedOne(ctx, r.embedder, in.Text)
		if in.Tier != nil {
			existing.EpistemicTier = in.Tier
		}
		existing.Status = in.Status
		if in.Dependencies != nil {
			existing.Dependencies = in.Dependencies
		}
		if in.Rationale != "" {
			existing.Rationale = in.Rationale
		}
		existing.HopsSinceValidated = 0
		existing.LastValidatedMs = now
		existing.UpdatedAtMs = now
		existing.Embedding = vec

		if err := r.save(ctx, &existing); err != nil {
			return nil, "", err
		}
		if err := r.store.PutEmbedding(ctx, collection, existing.UUID, vec); err != nil {
			return nil, "", err
		}
		r.emit(ctx, events.TypeDecisionUpdated, existing.UUID, nil)
		return &existing, ActionUpdated, nil
	}

	displayID := ""
	if r.ids != nil {
		displayID, err = r.ids.Allocate(ctx, in.Project, displayid.TypeDecision)
		if err != nil {
			return nil, "", err
		}
	}

	vec, _ := embed.EmbedOne(ctx, r.embedder, in.Text)

	d := &Decision{
		UUID:               decUUID.String(),
		LocalID:            in.LocalID,
		Project:            in.Project,
		ProjectUUID:        projUUID.String(),
		Text:               in.Text,
		TextHash:           hash,
		EpistemicTier:      in.Tier,
		Status:             in.Status,
		Dependencies:       in.Dependencies,
		ConflictsWith:      []string{},
		Rationale:          in.Rationale,
		HopsSinceValidated: 0,
		LastValidatedMs:    now,
		GlobalDisplayID:    displayID,
		OriginatedConvUUID: in.OriginatedConvUUID.String(),
		Embedding:          vec,
		CreatedAtMs:        now,
		UpdatedAtMs:        now,
	}
	if r.blobs != nil {
		if ref, err := r.blobs.StoreIfLarge(ctx, in.Text, 500); err == nil {
			d.TextBlobRef = ref
		}
	}

	if err := r.save(ctx, d); err != nil {
		return nil, "", err
	}
	if err := r.store.PutEmbedding(ctx, collection, d.UUID, vec); err != nil {
		return nil, "", err
	}
	if displayID != "" && r.ids != nil {
		if err := r.ids.Register(ctx, displayID, d.UUID, collection, in.Project); err != nil {
			return nil, "", err
		}
	}

	conflictCount := 0
	if r.conflict != nil {
		// best-effort: errors here are logged and swallowed per spec §4.14/§7.
		if n, err := r.conflict.DetectAndRegister(ctx, d.UUID, in.Text, in.Tier, in.Project); err == nil {
			conflictCount = n
		} else {
			slog.WarnContext(ctx, "decision: conflict detection failed", "uuid", d.UUID, "error", err)
		}
	}

	r.emit(ctx, events.TypeDecisionInserted, d.UUID, map[string]interface{}{"conflict_count": conflictCount})
	return d, ActionInserted, nil
}

func (r *Registry) save(ctx context.Context, d *Decision) error {
	return r.store.Put(ctx, collection, store.Envelope{
		ID: d.UUID, Project: d.Project, Status: string(d.Status), TextHash: d.TextHash,
		CreatedAtMs: d.CreatedAtMs, UpdatedAtMs: d.UpdatedAtMs,
	}, d)
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

// Get fetches a decision by uuid.
func (r *Registry) Get(ctx context.Context, decUUID string) (*Decision, error) {
	var d Decision
	if _, err := r.store.Get(ctx, collection, decUUID, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetActiveDecisions returns every active decision in project, sorted by
// epistemic_tier descending (nil tier sorts last).
func (r *Registry) GetActiveDecisions(ctx context.Context, project string) ([]*Decision, error) {
	envs, err := r.store.Find(ctx, collection, store.Filter{Project: project, Status: string(StatusActive)}, 0)
	if err != nil {
		return nil, err
	}
	out := decodeAll(envs)
	sortByTierDesc(out)
	return out, nil
}

// AllActive returns every active decision across every project, used by the
// entanglement scanner's item index.
func (r *Registry) AllActive(ctx context.Context) ([]*Decision, error) {
	envs, err := r.store.Find(ctx, collection, store.Filter{Status: string(StatusActive)}, 0)
	if err != nil {
		return nil, err
	}
	return decodeAll(envs), nil
}

// GetStaleDecisions returns active decisions whose hops_since_validated has
// reached maxHops, or whose last_validated is older than maxDays.
func (r *Registry) GetStaleDecisions(ctx context.Context, project string, maxHops, maxDays int) ([]*Decision, error) {
	all, err := r.GetActiveDecisions(ctx, project)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().AddDate(0, 0, -maxDays).UnixMilli()
	var out []*Decision
	for _, d := range all {
		if d.HopsSinceValidated >= maxHops || d.LastValidatedMs <= cutoff {
			out = append(out, d)
		}
	}
	return out, nil
}

// Supersede marks d superseded by newUUID.
func (r *Registry) Supersede(ctx context.Context, decUUID, newUUID string) error {
	d, err := r.Get(ctx, decUUID)
	if err != nil {
		return err
	}
	d.Status = StatusSuperseded
	d.SupersededBy = newUUID
	d.UpdatedAtMs = time.Now().UnixMilli()
	if err := r.save(ctx, d); err != nil {
		return err
	}
	r.emit(ctx, events.TypeDecisionSuperseded, decUUID, map[string]interface{}{"superseded_by": newUUID})
	return nil
}

// IncrementHops bumps hops_since_validated by 1 for every active decision in
// project not present in exclude.
func (r *Registry) IncrementHops(ctx context.Context, project string, exclude map[string]bool) error {
	all, err := r.GetActiveDecisions(ctx, project)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, d := range all {
		if exclude[d.UUID] {
			continue
		}
		d.HopsSinceValidated++
		d.UpdatedAtMs = now
		if err := r.save(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// FindSimilar runs a vector search over project's active decisions, above
// minSimilarity. Shares its implementation with the conflict detector's
// signal 1 (spec's SUPPLEMENTED FEATURES: find_similar_decisions).
func (r *Registry) FindSimilar(ctx context.Context, project, text string, limit int, minSimilarity float64) ([]*Decision, []float64, error) {
	vec, err := embed.EmbedOne(ctx, r.embedder, text)
	if err != nil {
		return nil, nil, err
	}
	hits, err := r.store.VectorSearch(ctx, collection, vec, limit, store.Filter{Project: project, Status: string(StatusActive)}, minSimilarity)
	if err != nil {
		return nil, nil, err
	}
	var out []*Decision
	var sims []float64
	for _, h := range hits {
		var d Decision
		if err := json.Unmarshal(h.Envelope.Data, &d); err != nil {
			continue
		}
		out = append(out, &d)
		sims = append(sims, h.Similarity)
	}
	return out, sims, nil
}

func decodeAll(envs []*store.Envelope) []*Decision {
	out := make([]*Decision, 0, len(envs))
	for _, env := range envs {
		var d Decision
		if err := json.Unmarshal(env.Data, &d); err == nil {
			out = append(out, &d)
		}
	}
	return out
}

func sortByTierDesc(ds []*Decision) {
	for i := 1; i < len(ds); i++ {
		j := i
		for j > 0 && tierOrDefault(ds[j-1]) < tierOrDefault(ds[j]) {
			ds[j-1], ds[j] = ds[j], ds[j-1]
			j--
		}
	}
}

func tierOrDefault(d *Decision) float64 {
	if d.EpistemicTier == nil {
		return -1
	}
	return *d.EpistemicTier
}

