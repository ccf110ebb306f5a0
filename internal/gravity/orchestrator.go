// Package gravity implements the multi-lens recall orchestrator (spec
// §4.14): resolves a set of project lenses, recalls each in parallel against
// one shared query embedding, detects convergence and divergence between
// lens pairs, and composes a budget-constrained banded output.
//
// Grounded on original_source/vectordb/gravity_orchestrator.py.
package gravity

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/forgeos/graph/internal/attention"
	"github.com/forgeos/graph/internal/config"
	"github.com/forgeos/graph/internal/errs"
	"github.com/forgeos/graph/internal/store"
	"golang.org/x/sync/errgroup"
)

const (
	lensesCollection       = "lenses"
	projectRolesCollection = "project_roles"
)

// Type is the stance a lens brings to a multi-project recall.
type Type string

const (
	TypeLateral        Type = "lateral"
	TypeDirectional    Type = "directional"
	TypeImplementation Type = "implementation"
	TypeQuality        Type = "quality"
	TypeCritical       Type = "critical"
	TypeSynthesis      Type = "synthesis"
)

// roleGravityType maps a project role (spec §3's Project role entity) to the
// gravity stance it brings to a multi-lens recall.
var roleGravityType = map[string]Type{
	"connector": TypeLateral,
	"navigator": TypeDirectional,
	"builder":   TypeImplementation,
	"evaluator": TypeQuality,
	"critic":    TypeCritical,
	"compiler":  TypeSynthesis,
}

// Lens is one project viewpoint a gravity recall composes over.
type Lens struct {
	Project    string  `json:"project"`
	Role       string  `json:"role"`
	Weight     float64 `json:"weight,omitempty"`
	GravityKind Type   `json:"gravity_type"`
}

// LensHit pairs a lens with its recall output.
type LensHit struct {
	Lens   Lens             `json:"lens"`
	Recall *attention.Output `json:"recall"`
}

// ConvergencePoint is a shared signal two lenses agree on.
type ConvergencePoint struct {
	Type          string  `json:"type"`
	LensA         string  `json:"lens_a"`
	LensB         string  `json:"lens_b"`
	UUIDA         string  `json:"uuid_a,omitempty"`
	UUIDB         string  `json:"uuid_b,omitempty"`
	CombinedMass  float64 `json:"combined_mass"`
}

// DivergencePoint is a tension signal between two lenses.
type DivergencePoint struct {
	Type         string  `json:"type"`
	LensA        string  `json:"lens_a"`
	LensB        string  `json:"lens_b"`
	TensionScore float64 `json:"tension_score"`
	Note         string  `json:"note,omitempty"`
}

// Output is one gravity recall's full composed result.
type Output struct {
	Lenses       []Lens             `json:"lenses"`
	Hits         []LensHit          `json:"hits"`
	Convergence  []ConvergencePoint `json:"convergence"`
	Divergence   []DivergencePoint  `json:"divergence"`
	Coherence    float64            `json:"coherence"`
	ContextText  string             `json:"context_text"`
	BudgetUsed   int                `json:"budget_used"`
}

// Orchestrator runs gravity recall over the attention engine.
type Orchestrator struct {
	store     *store.SQLiteStore
	attention *attention.Engine
	embed     func(ctx context.Context, text string) ([]float32, error)
	cfg       *config.Config
}

// New wires an Orchestrator.
func New(s *store.SQLiteStore, eng *attention.Engine, embedFn func(ctx context.Context, text string) ([]float32, error), cfg *config.Config) *Orchestrator {
	return &Orchestrator{store: s, attention: eng, embed: embedFn, cfg: cfg}
}

// Recall resolves lenses (explicit, named, or default), embeds query once,
// recalls every lens in parallel, detects convergence/divergence, and
// composes a banded output.
func (o *Orchestrator) Recall(ctx context.Context, query string, explicit []Lens, namedConfig string, perLensBudget int) (*Output, error) {
	lenses, err := o.resolveLenses(ctx, explicit, namedConfig)
	if err != nil {
		return nil, err
	}
	if len(lenses) == 0 {
		return nil, errs.NewInvalidInput("gravity: no lenses resolved")
	}
	if len(lenses) > o.cfg.GravityMaxLenses {
		lenses = lenses[:o.cfg.GravityMaxLenses]
	}

	if o.embed == nil {
		return nil, errs.NewInvalidInput("gravity: no embedder configured")
	}
	vec, err := o.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	if perLensBudget <= 0 {
		perLensBudget = 2000
	}

	hits := make([]LensHit, len(lenses))
	g, gctx := errgroup.WithContext(ctx)
	for i, lens := range lenses {
		i, lens := i, lens
		g.Go(func() error {
			recall, err := o.attention.RecallWithEmbedding(gctx, vec, lens.Project, perLensBudget, 0.1)
			if err != nil {
				return nil // best-effort: a lens that fails to recall just contributes nothing
			}
			hits[i] = LensHit{Lens: lens, Recall: recall}
			return nil
		})
	}
	_ = g.Wait()

	convergence := detectConvergence(hits, o.cfg.GravityConvergenceThreshold, o.cfg.GravityConvergenceBoost)
	divergence := detectDivergence(hits, o.cfg.GravityDivergenceTierDelta)
	coherence := fieldCoherence(convergence, divergence, hits)

	contextText, used := compose(hits, convergence, divergence, o.cfg.GravityDefaultBudget)

	return &Output{
		Lenses:      lenses,
		Hits:        hits,
		Convergence: convergence,
		Divergence:  divergence,
		Coherence:   coherence,
		ContextText: contextText,
		BudgetUsed:  used,
	}, nil
}

func (o *Orchestrator) resolveLenses(ctx context.Context, explicit []Lens, namedConfig string) ([]Lens, error) {
	if len(explicit) > 0 {
		out := make([]Lens, len(explicit))
		for i, l := range explicit {
			out[i] = withGravityType(l)
		}
		return out, nil
	}

	if namedConfig != "" {
		var env store.Envelope
		envs, err := o.store.Find(ctx, lensesCollection, store.Filter{Project: namedConfig}, 1)
		if err != nil {
			return nil, err
		}
		if len(envs) == 0 {
			return nil, errs.NewNotFound(fmt.Sprintf("gravity: no lens config named %q", namedConfig))
		}
		env = *envs[0]
		var cfg struct {
			Lenses []Lens `json:"lenses"`
		}
		if err := json.Unmarshal(env.Data, &cfg); err != nil {
			return nil, err
		}
		out := make([]Lens, len(cfg.Lenses))
		for i, l := range cfg.Lenses {
			out[i] = withGravityType(l)
		}
		return out, nil
	}

	envs, err := o.store.Find(ctx, projectRolesCollection, store.Filter{}, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Lens, 0, len(envs))
	for _, env := range envs {
		var row struct {
			Project string `json:"project"`
			Role    string `json:"role"`
		}
		if err := json.Unmarshal(env.Data, &row); err != nil {
			continue
		}
		out = append(out, withGravityType(Lens{Project: row.Project, Role: row.Role}))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Project < out[j].Project })
	return out, nil
}

func withGravityType(l Lens) Lens {
	if l.Role == "" {
		l.Role = "connector"
	}
	if t, ok := roleGravityType[l.Role]; ok {
		l.GravityKind = t
	} else {
		l.GravityKind = TypeLateral
	}
	if l.Weight == 0 {
		l.Weight = 1.0
	}
	return l
}

// detectConvergence compares every unordered pair of lenses' hits for
// shared-cluster membership and high Jaccard word overlap.
func detectConvergence(hits []LensHit, jaccardThreshold, boost float64) []ConvergencePoint {
	var out []ConvergencePoint
	for i := 0; i < len(hits); i++ {
		for j := i + 1; j < len(hits); j++ {
			if hits[i].Recall == nil || hits[j].Recall == nil {
				continue
			}
			for _, a := range hits[i].Recall.Results {
				for _, b := range hits[j].Recall.Results {
					if a.Cluster != nil && b.Cluster != nil && a.Cluster.ClusterID == b.Cluster.ClusterID {
						out = append(out, ConvergencePoint{
							Type: "entanglement_cluster", LensA: hits[i].Lens.Project, LensB: hits[j].Lens.Project,
							UUIDA: a.UUID, UUIDB: b.UUID, CombinedMass: (a.Attention + b.Attention) * boost,
						})
						continue
					}
					if jaccard(a.Text, b.Text) >= jaccardThreshold {
						out = append(out, ConvergencePoint{
							Type: "semantic_overlap", LensA: hits[i].Lens.Project, LensB: hits[j].Lens.Project,
							UUIDA: a.UUID, UUIDB: b.UUID, CombinedMass: (a.Attention + b.Attention) * boost,
						})
					}
				}
			}
		}
	}
	return out
}

func jaccard(a, b string) float64 {
	wa := strings.Fields(strings.ToLower(a))
	wb := strings.Fields(strings.ToLower(b))
	if len(wa) < 5 || len(wb) < 5 {
		return 0
	}
	sa := map[string]struct{}{}
	for _, w := range wa {
		sa[w] = struct{}{}
	}
	sb := map[string]struct{}{}
	for _, w := range wb {
		sb[w] = struct{}{}
	}
	inter := 0
	for w := range sa {
		if _, ok := sb[w]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// detectDivergence flags lens pairs where one produced results and the other
// didn't (a coverage gap) and decision-hit pairs whose epistemic tier
// disagrees by at least tierDeltaThreshold.
func detectDivergence(hits []LensHit, tierDeltaThreshold float64) []DivergencePoint {
	var out []DivergencePoint
	for i := 0; i < len(hits); i++ {
		for j := i + 1; j < len(hits); j++ {
			a, b := hits[i].Recall, hits[j].Recall
			if a == nil || b == nil {
				continue
			}
			aEmpty, bEmpty := len(a.Results) == 0, len(b.Results) == 0
			if aEmpty != bEmpty {
				out = append(out, DivergencePoint{
					Type: "gap", LensA: hits[i].Lens.Project, LensB: hits[j].Lens.Project, TensionScore: 0.6,
					Note: "one lens returned no results",
				})
			}

			for _, ra := range a.Results {
				if ra.Category != attention.CategoryDecision || ra.EpistemicTier == nil {
					continue
				}
				for _, rb := range b.Results {
					if rb.Category != attention.CategoryDecision || rb.EpistemicTier == nil {
						continue
					}
					delta := math.Abs(*ra.EpistemicTier - *rb.EpistemicTier)
					if delta < tierDeltaThreshold {
						continue
					}
					tension := delta / 0.5
					if tension > 1 {
						tension = 1
					}
					out = append(out, DivergencePoint{
						Type: "tier_mismatch", LensA: hits[i].Lens.Project, LensB: hits[j].Lens.Project,
						TensionScore: tension, Note: fmt.Sprintf("%s vs %s tier delta %.2f", ra.UUID, rb.UUID, delta),
					})
				}
			}
		}
	}
	return out
}

func fieldCoherence(convergence []ConvergencePoint, divergence []DivergencePoint, hits []LensHit) float64 {
	var convergenceMass, divergenceTension, totalMass float64
	for _, c := range convergence {
		convergenceMass += c.CombinedMass
	}
	for _, d := range divergence {
		divergenceTension += d.TensionScore
	}
	for _, h := range hits {
		if h.Recall == nil {
			continue
		}
		for _, r := range h.Recall.Results {
			totalMass += r.Attention
		}
	}

	if totalMass == 0 {
		return 0.5
	}

	coherence := 0.5 + 0.5*(convergenceMass/totalMass) - 0.5*(divergenceTension/math.Max(totalMass, 1))
	if coherence < 0 {
		return 0
	}
	if coherence > 1 {
		return 1
	}
	return coherence
}

// compose builds three ordered bands: a convergence header, per-lens bands
// sorted by top-attention desc, and up to three divergence notes, trimmed to
// budget chars.
func compose(hits []LensHit, convergence []ConvergencePoint, divergence []DivergencePoint, budget int) (string, int) {
	var b strings.Builder

	if len(convergence) > 0 {
		b.WriteString("== convergence ==\n")
		for _, c := range convergence {
			fmt.Fprintf(&b, "[%s] %s <-> %s (mass %.2f)\n", c.Type, c.LensA, c.LensB, c.CombinedMass)
		}
	}

	ordered := make([]LensHit, len(hits))
	copy(ordered, hits)
	sort.Slice(ordered, func(i, j int) bool {
		return topAttention(ordered[i].Recall) > topAttention(ordered[j].Recall)
	})
	for _, h := range ordered {
		if h.Recall == nil {
			continue
		}
		fmt.Fprintf(&b, "== lens:%s (%s) ==\n", h.Lens.Project, h.Lens.Role)
		b.WriteString(h.Recall.ContextText)
	}

	if len(divergence) > 0 {
		b.WriteString("== divergence ==\n")
		n := len(divergence)
		if n > 3 {
			n = 3
		}
		for _, d := range divergence[:n] {
			fmt.Fprintf(&b, "[%s] %s <-> %s (tension %.2f) %s\n", d.Type, d.LensA, d.LensB, d.TensionScore, d.Note)
		}
	}

	text := b.String()
	if len(text) > budget {
		text = text[:budget]
	}
	return text, len(text)
}

func topAttention(out *attention.Output) float64 {
	if out == nil || len(out.Results) == 0 {
		return 0
	}
	return out.Results[0].Attention
}
