// Package attention implements the recall engine (spec §4.13): a weighted
// attention score over six collections' vector search results, entanglement
// enrichment, and budget-constrained context composition.
//
// Grounded on original_source/vectordb/attention_engine.py.
package attention

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/forgeos/graph/internal/config"
	"github.com/forgeos/graph/internal/entanglement"
	"github.com/forgeos/graph/internal/errs"
	"github.com/forgeos/graph/internal/events"
	"github.com/forgeos/graph/internal/store"
	"golang.org/x/sync/errgroup"
)

// Category is one of the six recallable entity families.
type Category string

const (
	CategoryDecision     Category = "decision"
	CategoryThread       Category = "thread"
	CategoryPriming      Category = "priming"
	CategoryPattern      Category = "pattern"
	CategoryConversation Category = "conversation"
	CategoryMessage      Category = "message"
)

var categoryBoost = map[Category]float64{
	CategoryDecision:     1.0,
	CategoryThread:       0.8,
	CategoryPriming:      0.6,
	CategoryPattern:      0.4,
	CategoryConversation: 0.2,
	CategoryMessage:      0.0,
}

type collectionSpec struct {
	name     string
	category Category
	statuses []string // nil = no status pre-filter
}

var searchTargets = []collectionSpec{
	{name: "decisions", category: CategoryDecision, statuses: []string{"active"}},
	{name: "threads", category: CategoryThread, statuses: []string{"open", "blocked"}},
	{name: "priming_blocks", category: CategoryPriming, statuses: []string{"active"}},
	{name: "patterns", category: CategoryPattern, statuses: nil},
	{name: "conversations", category: CategoryConversation, statuses: nil},
	{name: "messages", category: CategoryMessage, statuses: nil},
}

// ClusterInfo is the entanglement-enrichment attachment for a result whose
// uuid appears in some cached cluster.
type ClusterInfo struct {
	ClusterID       string   `json:"cluster_id"`
	ClusterProjects []string `json:"cluster_projects"`
	ClusterSize     int      `json:"cluster_size"`
	AvgSimilarity   float64  `json:"avg_similarity"`
}

// Result is one normalized, scored recall candidate.
type Result struct {
	Text          string       `json:"text"`
	Source        string       `json:"source"`
	Category      Category     `json:"category"`
	Similarity    float64      `json:"similarity"`
	Project       string       `json:"project,omitempty"`
	UUID          string       `json:"uuid"`
	LocalID       string       `json:"local_id,omitempty"`
	EpistemicTier *float64     `json:"epistemic_tier,omitempty"`
	UpdatedAtMs   int64        `json:"updated_at_ms,omitempty"`
	HasConflicts  bool         `json:"has_conflicts"`
	Status        string       `json:"status,omitempty"`
	Attention     float64      `json:"attention"`
	Cluster       *ClusterInfo `json:"cluster,omitempty"`
}

// Output is recall's complete return shape.
type Output struct {
	Results             []Result `json:"results"`
	ContextText         string   `json:"context_text"`
	TotalCandidates     int      `json:"total_candidates"`
	BudgetUsed          int      `json:"budget_used"`
	CollectionsSearched []string `json:"collections_searched"`
}

// Engine runs recall, project_context, and context_load.
type Engine struct {
	store *store.SQLiteStore
	embed func(ctx context.Context, text string) ([]float32, error)
	scans *entanglement.Scanner
	log   *events.Log
	cfg   *config.Config
}

// New wires an Engine. embedFn is typically embed.EmbedOne bound to a
// concrete embed.Client; scans may be nil (entanglement enrichment becomes a
// no-op).
func New(s *store.SQLiteStore, embedFn func(ctx context.Context, text string) ([]float32, error), scans *entanglement.Scanner, log *events.Log, cfg *config.Config) *Engine {
	return &Engine{store: s, embed: embedFn, scans: scans, log: log, cfg: cfg}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// freshness implements spec §4.13's exponential decay; a zero timestamp
// (unknown) scores 0.5, a future timestamp scores 1.0.
func freshness(updatedAtMs int64, halfLifeDays float64) float64 {
	if updatedAtMs == 0 {
		return 0.5
	}
	ageDays := float64(time.Now().UnixMilli()-updatedAtMs) / 86400000.0
	if ageDays < 0 {
		return 1.0
	}
	return clamp01(math.Exp(-math.Ln2 * ageDays / halfLifeDays))
}

func (e *Engine) score(r *Result) {
	tier := 0.5
	if r.EpistemicTier != nil {
		tier = *r.EpistemicTier
	}
	conflict := 0.0
	if r.HasConflicts {
		conflict = 1.0
	}
	r.Attention = e.cfg.AttentionWeightSimilarity*r.Similarity +
		e.cfg.AttentionWeightTier*tier +
		e.cfg.AttentionWeightFreshness*freshness(r.UpdatedAtMs, e.cfg.AttentionFreshnessHalfLifeDays) +
		e.cfg.AttentionWeightConflict*conflict +
		e.cfg.AttentionWeightCategory*categoryBoost[r.Category]
}

// Recall embeds query once, searches the six collections in parallel, scores
// and filters every candidate, enriches with the cached entanglement scan,
// and composes a budget-constrained context.
func (e *Engine) Recall(ctx context.Context, query, project string, budget int, minScore float64) (*Output, error) {
	return e.recallWithEmbedding(ctx, query, nil, project, budget, minScore)
}

// RecallWithEmbedding is Recall's variant for callers (the gravity
// orchestrator) that already hold the query embedding and want to avoid
// re-embedding per lens.
func (e *Engine) RecallWithEmbedding(ctx context.Context, vec []float32, project string, budget int, minScore float64) (*Output, error) {
	return e.recallWithEmbedding(ctx, "", vec, project, budget, minScore)
}

func (e *Engine) recallWithEmbedding(ctx context.Context, query string, vec []float32, project string, budget int, minScore float64) (*Output, error) {
	if budget <= 0 {
		budget = 4000
	}
	if minScore <= 0 {
		minScore = 0.1
	}

	if vec == nil {
		if e.embed == nil {
			return nil, errs.NewInvalidInput("attention: no embedder configured")
		}
		v, err := e.embed(ctx, query)
		if err != nil {
			return nil, err
		}
		vec = v
	}

	var mu sync.Mutex
	var all []Result
	var searched []string

	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range searchTargets {
		spec := spec
		g.Go(func() error {
			results, err := e.searchOne(gctx, spec, vec, project)
			if err != nil {
				return nil // best-effort: one collection's failure doesn't abort recall
			}
			mu.Lock()
			all = append(all, results...)
			searched = append(searched, spec.name)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	total := len(all)
	var kept []Result
	for i := range all {
		e.score(&all[i])
		if all[i].Attention >= minScore {
			kept = append(kept, all[i])
		}
	}

	e.enrichEntanglement(ctx, kept)

	sort.Slice(kept, func(i, j int) bool { return kept[i].Attention > kept[j].Attention })

	contextText, used := composeContext(kept, budget)

	sort.Strings(searched)
	return &Output{
		Results:             kept,
		ContextText:         contextText,
		TotalCandidates:     total,
		BudgetUsed:          used,
		CollectionsSearched: searched,
	}, nil
}

func (e *Engine) searchOne(ctx context.Context, spec collectionSpec, vec []float32, project string) ([]Result, error) {
	statuses := spec.statuses
	if statuses == nil {
		statuses = []string{""}
	}

	var out []Result
	for _, status := range statuses {
		filter := store.Filter{Project: project, Status: status}
		hits, err := e.store.VectorSearch(ctx, spec.name, vec, 10, filter, 0)
		if err != nil {
			continue
		}
		for _, h := range hits {
			out = append(out, normalize(spec, h))
		}
	}
	return out, nil
}

func normalize(spec collectionSpec, hit store.SearchHit) Result {
	var fields map[string]json.RawMessage
	_ = json.Unmarshal(hit.Envelope.Data, &fields)

	text := firstNonEmptyString(fields, "text", "title", "territory_name", "description", "summary", "name")

	var tier *float64
	if raw, ok := fields["epistemic_tier"]; ok {
		var t float64
		if json.Unmarshal(raw, &t) == nil {
			tier = &t
		}
	}

	hasConflicts := false
	if raw, ok := fields["conflicts_with"]; ok {
		var cw []string
		if json.Unmarshal(raw, &cw) == nil && len(cw) > 0 {
			hasConflicts = true
		}
	}

	return Result{
		Text:          text,
		Source:        spec.name,
		Category:      spec.category,
		Similarity:    hit.Similarity,
		Project:       hit.Envelope.Project,
		UUID:          hit.Envelope.ID,
		EpistemicTier: tier,
		UpdatedAtMs:   hit.Envelope.UpdatedAtMs,
		HasConflicts:  hasConflicts,
		Status:        hit.Envelope.Status,
	}
}

func firstNonEmptyString(fields map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
	}
	return ""
}

func (e *Engine) enrichEntanglement(ctx context.Context, results []Result) {
	if e.scans == nil {
		return
	}
	scan, err := e.scans.GetLatestScan(ctx, "")
	if err != nil {
		return
	}
	byItem := map[string]*entanglement.Cluster{}
	for i := range scan.Clusters {
		c := &scan.Clusters[i]
		for _, item := range c.Items {
			byItem[item] = c
		}
	}
	for i := range results {
		c, ok := byItem[results[i].UUID]
		if !ok {
			continue
		}
		results[i].Cluster = &ClusterInfo{
			ClusterID:       c.ClusterID,
			ClusterProjects: c.Projects,
			ClusterSize:     len(c.Items),
			AvgSimilarity:   c.AvgSimilarity,
		}
	}
}

// composeContext greedily appends rendered results until budget is exceeded,
// truncating the boundary item rather than discarding it when at least 50
// chars would remain.
func composeContext(results []Result, budget int) (string, int) {
	var b strings.Builder
	used := 0
	for _, r := range results {
		rendered := fmt.Sprintf("[%s:%s] %s\n", r.Category, r.UUID, r.Text)
		if used+len(rendered) <= budget {
			b.WriteString(rendered)
			used += len(rendered)
			continue
		}
		remaining := budget - used
		if remaining >= 50 {
			b.WriteString(rendered[:remaining])
			used = budget
		}
		break
	}
	return b.String(), used
}
