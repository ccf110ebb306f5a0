// Package conflict implements the two-signal conflict detector (spec
// §4.11): embedding-similarity divergence and entity+tier divergence,
// registered symmetrically on both decisions' conflicts_with sets.
//
// Grounded on original_source/vectordb/conflicts.py.
package conflict

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/coregx/ahocorasick"
	"github.com/forgeos/graph/internal/embed"
	"github.com/forgeos/graph/internal/store"
)

const collection = "decisions"

// Signal identifies which detection path produced a conflict.
type Signal string

const (
	SignalEmbeddingSimilarity Signal = "embedding_similarity"
	SignalEntityTierDivergence Signal = "entity_tier_divergence"
)

// Severity is derived from how far past a signal's threshold a match falls.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Conflict describes one detected conflict between the new decision and an
// existing one.
type Conflict struct {
	OtherUUID      string   `json:"other_uuid"`
	Signal         Signal   `json:"signal"`
	Severity       Severity `json:"severity"`
	Similarity     float64  `json:"similarity,omitempty"`
	TierDelta      float64  `json:"tier_delta,omitempty"`
	SharedEntities []string `json:"shared_entities,omitempty"`
}

// EntityExtractor is the optional LLM-assisted upgrade path (internal/llmextract)
// beyond the regex+keyword scan. Best-effort: callers treat any error as "no
// additional entities".
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, text string) ([]string, error)
}

var localIDRe = regexp.MustCompile(`[DT]\d{3,4}`)

type decisionLite struct {
	UUID          string   `json:"uuid"`
	Text          string   `json:"text"`
	TextHash      string   `json:"text_hash"`
	EpistemicTier *float64 `json:"epistemic_tier,omitempty"`
	Status        string   `json:"status"`
	ConflictsWith []string `json:"conflicts_with,omitempty"`
}

// Detector runs the two-signal conflict check and registers symmetric
// conflicts on the "decisions" collection.
type Detector struct {
	store                  *store.SQLiteStore
	embedder               embed.Client
	similarityThreshold     float64
	keywordAutomaton        *ahocorasick.Automaton
	llm                     EntityExtractor
}

// New wires a Detector. projectNames seeds the project-keyword alternation
// signal 2 scans decision text for; llm may be nil (regex-only extraction).
func New(s *store.SQLiteStore, embedder embed.Client, similarityThreshold float64, projectNames []string, llm EntityExtractor) *Detector {
	d := &Detector{store: s, embedder: embedder, similarityThreshold: similarityThreshold, llm: llm}
	if len(projectNames) > 0 {
		automaton, err := ahocorasick.NewBuilder().
			AddStrings(projectNames).
			SetMatchKind(ahocorasick.LeftmostLongest).
			SetPrefilter(true).
			Build()
		if err == nil {
			d.keywordAutomaton = automaton
		}
	}
	return d
}

// DetectAndRegister runs both signals for a newly-inserted decision against
// the rest of project's active decisions, registers every conflict found
// symmetrically, and returns the count registered. Satisfies
// internal/decision.ConflictDetector.
func (d *Detector) DetectAndRegister(ctx context.Context, decisionUUID, text string, tier *float64, project string) (int, error) {
	conflicts, err := d.Detect(ctx, text, tier, project, decisionUUID)
	if err != nil {
		return 0, err
	}
	for _, c := range conflicts {
		if err := d.RegisterConflict(ctx, decisionUUID, c.OtherUUID, c.Signal); err != nil {
			return 0, err
		}
	}
	return len(conflicts), nil
}

// Detect runs signal 1 (embedding similarity) then signal 2 (entity + tier
// divergence, skipping anything signal 1 already flagged) against project's
// active decisions, excluding excludeUUID.
func (d *Detector) Detect(ctx context.Context, text string, tier *float64, project, excludeUUID string) ([]Conflict, error) {
	newHash := textHash(text)

	vec, err := embed.EmbedOne(ctx, d.embedder, text)
	if err != nil {
		return nil, err
	}
	hits, err := d.store.VectorSearch(ctx, collection, vec, 10, store.Filter{Project: project, Status: "active"}, 0)
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	flagged := map[string]bool{}

	for _, h := range hits {
		if h.Similarity < d.similarityThreshold {
			continue
		}
		var other decisionLite
		if err := json.Unmarshal(h.Envelope.Data, &other); err != nil {
			continue
		}
		if other.UUID == excludeUUID || other.TextHash == newHash {
			continue
		}
		sev := SeverityMedium
		if h.Similarity > 0.92 {
			sev = SeverityHigh
		}
		conflicts = append(conflicts, Conflict{
			OtherUUID:  other.UUID,
			Signal:     SignalEmbeddingSimilarity,
			Severity:   sev,
			Similarity: h.Similarity,
		})
		flagged[other.UUID] = true
	}

	newEntities, err := d.extractEntities(ctx, text)
	if err != nil {
		return nil, err
	}

	all, err := d.store.Find(ctx, collection, store.Filter{Project: project, Status: "active"}, 0)
	if err != nil {
		return nil, err
	}
	for _, env := range all {
		var other decisionLite
		if err := json.Unmarshal(env.Data, &other); err != nil {
			continue
		}
		if other.UUID == excludeUUID || flagged[other.UUID] {
			continue
		}
		if tier == nil || other.EpistemicTier == nil {
			continue
		}
		delta := math.Abs(*tier - *other.EpistemicTier)
		if delta < 0.2 {
			continue
		}
		otherEntities, err := d.extractEntities(ctx, other.Text)
		if err != nil {
			continue
		}
		shared := intersect(newEntities, otherEntities)
		if len(shared) == 0 {
			continue
		}
		sev := SeverityMedium
		if delta > 0.4 {
			sev = SeverityHigh
		}
		conflicts = append(conflicts, Conflict{
			OtherUUID:      other.UUID,
			Signal:         SignalEntityTierDivergence,
			Severity:       sev,
			TierDelta:      delta,
			SharedEntities: shared,
		})
	}

	return conflicts, nil
}

// extractEntities combines the regex/keyword scan with the optional LLM
// upgrade path, deduplicated.
func (d *Detector) extractEntities(ctx context.Context, text string) ([]string, error) {
	set := map[string]struct{}{}
	for _, m := range localIDRe.FindAllString(text, -1) {
		set[m] = struct{}{}
	}
	if d.keywordAutomaton != nil {
		for _, m := range d.keywordAutomaton.FindAllOverlapping([]byte(text)) {
			set[text[m.Start:m.End]] = struct{}{}
		}
	}
	if d.llm != nil {
		extra, err := d.llm.ExtractEntities(ctx, text)
		if err == nil {
			for _, e := range extra {
				set[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
			}
		}
		// best-effort: an LLM extraction error never fails detection.
	}

	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	return out, nil
}

func intersect(a, b []string) []string {
	set := map[string]struct{}{}
	for _, x := range a {
		set[x] = struct{}{}
	}
	var out []string
	seen := map[string]bool{}
	for _, x := range b {
		if _, ok := set[x]; ok && !seen[x] {
			out = append(out, x)
			seen[x] = true
		}
	}
	return out
}

// RegisterConflict symmetrically adds each uuid to the other's
// conflicts_with set.
func (d *Detector) RegisterConflict(ctx context.Context, a, b string, signal Signal) error {
	if err := d.store.AddToSet(ctx, collection, a, map[string][]string{"conflicts_with": {b}}); err != nil {
		return err
	}
	return d.store.AddToSet(ctx, collection, b, map[string][]string{"conflicts_with": {a}})
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}
