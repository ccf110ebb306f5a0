// Package displayid allocates human-readable "PREFIX-T-NNNN" identifiers
// per project, backed by an atomic per-(prefix, type) counter, plus the
// reverse index that resolves a display id back to its entity.
//
// Grounded on original_source/vectordb/display_ids.py.
package displayid

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/forgeos/graph/internal/store"
)

// EntityType maps to the single-letter type code used in the display id.
type EntityType string

const (
	TypeDecision EntityType = "decision"
	TypeThread   EntityType = "thread"
	TypeArtifact EntityType = "artifact"
)

var entityTypeCode = map[EntityType]string{
	TypeDecision: "D",
	TypeThread:   "T",
	TypeArtifact: "A",
}

// DefaultPrefixMap seeds well-known project names to short prefixes,
// illustrative defaults carried over from the original's hardcoded map;
// a deployment overrides or extends it through NewRegistry's extraPrefixes.
var DefaultPrefixMap = map[string]string{
	"Forge OS":              "FORGE",
	"The Nexus":              "NEXUS",
	"Reality Compiler":       "RC",
	"Consciousness Physics":  "CPHYS",
	"Wavelength":             "WAVE",
	"Attention Currency":     "ATTN",
	"Applied Alchemy":        "AALCH",
	"Cartographer's Codex":   "CODEX",
	"The Evaluator":          "EVAL",
	"The Arbiter":            "ARBITER",
	"Mission Control":        "MISSION",
	"The Guardian":           "GUARD",
}

// Registry allocates and resolves display ids.
type Registry struct {
	store      *store.SQLiteStore
	prefixMap  map[string]string
}

// NewRegistry wires a Registry to a store, optionally overriding/extending
// DefaultPrefixMap.
func NewRegistry(s *store.SQLiteStore, extraPrefixes map[string]string) *Registry {
	merged := make(map[string]string, len(DefaultPrefixMap)+len(extraPrefixes))
	for k, v := range DefaultPrefixMap {
		merged[k] = v
	}
	for k, v := range extraPrefixes {
		merged[k] = v
	}
	return &Registry{store: s, prefixMap: merged}
}

// ResolvePrefix resolves a project's display-id prefix: (1) an existing
// counter row for the project, (2) the static prefix map, (3) the first 5
// uppercased alphanumeric characters of the project name, falling back to
// "PROJ" when that yields nothing.
func (r *Registry) ResolvePrefix(ctx context.Context, projectName string) (string, error) {
	mapped, inMap := r.prefixMap[projectName]
	autoPrefix := autoGeneratePrefix(projectName)

	// Check every known prefix candidate for an existing counter row so a
	// project that's already allocated IDs keeps using its established
	// prefix even if the static map or auto-generation would differ.
	candidates := []string{autoPrefix}
	if inMap {
		candidates = []string{mapped, autoPrefix}
	}
	for _, candidate := range candidates {
		for _, code := range entityTypeCode {
			if exists, err := r.store.CounterExists(ctx, candidate, code); err == nil && exists {
				return candidate, nil
			}
		}
	}

	if inMap {
		return mapped, nil
	}
	return autoPrefix, nil
}

func autoGeneratePrefix(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() >= 5 {
			break
		}
	}
	if b.Len() == 0 {
		return "PROJ"
	}
	return b.String()
}

// Allocate atomically bumps the (prefix, type) counter and formats the
// resulting display id as "PREFIX-T-NNNN" (4-digit zero pad, widens
// naturally past 9999).
func (r *Registry) Allocate(ctx context.Context, projectName string, entityType EntityType) (string, error) {
	prefix, err := r.ResolvePrefix(ctx, projectName)
	if err != nil {
		return "", err
	}
	code := entityTypeCode[entityType]
	if code == "" {
		code = "X"
	}

	seq, err := r.store.IncrementCounter(ctx, prefix, code)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, code, seq), nil
}

// Register writes the reverse-index row (display_id -> entity).
func (r *Registry) Register(ctx context.Context, displayID, entityUUID, collection, project string) error {
	return r.store.RegisterDisplayID(ctx, displayID, entityUUID, collection, project)
}

// Resolve looks up the entity behind a display id.
func (r *Registry) Resolve(ctx context.Context, displayID string) (*store.DisplayIDEntry, error) {
	return r.store.ResolveDisplayID(ctx, displayID)
}

// MissingEntity describes one entity lacking a display id, for BulkBackfill.
type MissingEntity struct {
	UUID        string
	Collection  string
	Project     string
	EntityType  EntityType
	CreatedAtMs int64
}

// BulkBackfill assigns display ids to every entity in entities lacking one,
// processed in created_at ascending order so the resulting sequence still
// reflects chronology.
func (r *Registry) BulkBackfill(ctx context.Context, entities []MissingEntity) (map[string]string, error) {
	sorted := append([]MissingEntity{}, entities...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAtMs < sorted[j].CreatedAtMs })

	out := make(map[string]string, len(sorted))
	for _, e := range sorted {
		id, err := r.Allocate(ctx, e.Project, e.EntityType)
		if err != nil {
			return out, err
		}
		if err := r.Register(ctx, id, e.UUID, e.Collection, e.Project); err != nil {
			return out, err
		}
		out[e.UUID] = id
	}
	return out, nil
}
