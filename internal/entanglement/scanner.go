// Package entanglement implements cross-project resonance discovery (spec
// §4.12): a three-pass vector-search sweep over decisions and threads,
// Union-Find clustering of the resulting resonances, lineage-edge bridge
// detection, and loose-end identification, with scan results persisted for
// the attention engine's enrichment step and the gravity orchestrator's
// convergence-by-cluster signal.
//
// Grounded on original_source/vectordb/entanglement_scanner.py.
package entanglement

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/forgeos/graph/internal/blob"
	"github.com/forgeos/graph/internal/decision"
	"github.com/forgeos/graph/internal/events"
	"github.com/forgeos/graph/internal/lineage"
	"github.com/forgeos/graph/internal/store"
	"github.com/forgeos/graph/internal/thread"
	"github.com/google/uuid"
	"github.com/orsinium-labs/stopwords"
	"golang.org/x/sync/errgroup"
)

// en is the stopword checker used to build human-readable cluster
// summaries from member item text, dropping filler words the way the
// teacher's discovery.CandidateRegistry does for candidate-entity tokens.
var en = stopwords.MustGet("en")

const collection = "entanglement_scans"

// ItemType distinguishes the two kinds of node the scanner clusters.
type ItemType string

const (
	ItemDecision ItemType = "decision"
	ItemThread   ItemType = "thread"
)

// Item is one node in the resonance graph.
type Item struct {
	UUID      string    `json:"uuid"`
	Type      ItemType  `json:"type"`
	Project   string    `json:"project"`
	LocalID   string    `json:"local_id,omitempty"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
}

// Resonance is one cross-item similarity edge.
type Resonance struct {
	A          string  `json:"a"`
	B          string  `json:"b"`
	Similarity float64 `json:"similarity"`
}

// Cluster is a connected component of the resonance graph.
type Cluster struct {
	ClusterID     string      `json:"cluster_id"`
	Items         []string    `json:"items"`
	Projects      []string    `json:"projects"`
	Resonances    []Resonance `json:"resonances"`
	AvgSimilarity float64     `json:"avg_similarity"`
	StrongestLink Resonance   `json:"strongest_link"`
	Summary       string      `json:"summary,omitempty"`
}

// Bridge is a single decision/thread referenced by lineage edges spanning
// two or more projects.
type Bridge struct {
	UUID      string   `json:"uuid"`
	Type      ItemType `json:"type"`
	Projects  []string `json:"projects"`
	EdgeCount int      `json:"edge_count"`
}

// Result is one scan's complete output.
type Result struct {
	ScanID      string    `json:"scan_id"`
	Project     string    `json:"project,omitempty"`
	ScannedAtMs int64     `json:"scanned_at_ms"`
	Clusters    []Cluster `json:"clusters"`
	Bridges     []Bridge  `json:"bridges"`
	LooseEnds   []string  `json:"loose_ends"`

	ClustersBlobRef  string `json:"clusters_blob_ref,omitempty"`
	BridgesBlobRef   string `json:"bridges_blob_ref,omitempty"`
	LooseEndsBlobRef string `json:"loose_ends_blob_ref,omitempty"`

	ClusterCount int `json:"cluster_count"`
	BridgeCount  int `json:"bridge_count"`
	LooseCount   int `json:"loose_count"`
}

// Scanner runs entanglement scans over the decision/thread/lineage
// registries.
type Scanner struct {
	store     *store.SQLiteStore
	decisions *decision.Registry
	threads   *thread.Registry
	lineage   *lineage.Registry
	blobs     *blob.Store
	log       *events.Log

	strongThreshold float64
	weakThreshold   float64
}

// New wires a Scanner to its collaborators. blobs may be nil (heavy fields
// stay inline only).
func New(s *store.SQLiteStore, decisions *decision.Registry, threads *thread.Registry, lin *lineage.Registry, blobs *blob.Store, log *events.Log, strongThreshold, weakThreshold float64) *Scanner {
	return &Scanner{
		store: s, decisions: decisions, threads: threads, lineage: lin, blobs: blobs, log: log,
		strongThreshold: strongThreshold, weakThreshold: weakThreshold,
	}
}

// Scan runs the full discovery pipeline: backfill, item index, resonance
// passes, lineage bridges, clustering, loose ends. It does not persist the
// result — call SaveScan for that.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	if err := s.backfillThreadEmbeddings(ctx); err != nil {
		return nil, err
	}

	items, err := s.buildItemIndex(ctx)
	if err != nil {
		return nil, err
	}

	resonances, err := s.findResonances(ctx, items)
	if err != nil {
		return nil, err
	}

	bridges, err := s.findBridges(ctx, items)
	if err != nil {
		return nil, err
	}

	clusters := cluster(items, resonances)
	looseEnds := looseEnds(items, clusters)

	return &Result{
		ScannedAtMs:  time.Now().UnixMilli(),
		Clusters:     clusters,
		Bridges:      bridges,
		LooseEnds:    looseEnds,
		ClusterCount: len(clusters),
		BridgeCount:  len(bridges),
		LooseCount:   len(looseEnds),
	}, nil
}

// backfillThreadEmbeddings embeds the title of every thread lacking an
// embedding (threads historically embed lazily; spec §9 Open Questions).
func (s *Scanner) backfillThreadEmbeddings(ctx context.Context) error {
	all, err := s.threads.AllNonResolved(ctx)
	if err != nil {
		return err
	}
	for _, t := range all {
		if len(t.Embedding) == 0 {
			if err := s.threads.BackfillEmbedding(ctx, t); err != nil {
				continue // best-effort backfill; a failed embed just leaves this thread out of resonance passes
			}
		}
	}
	return nil
}

func (s *Scanner) buildItemIndex(ctx context.Context) (map[string]*Item, error) {
	items := map[string]*Item{}

	decs, err := s.decisions.AllActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range decs {
		if len(d.Embedding) == 0 {
			continue
		}
		items[d.UUID] = &Item{UUID: d.UUID, Type: ItemDecision, Project: d.Project, LocalID: d.LocalID, Text: d.Text, Embedding: d.Embedding}
	}

	ths, err := s.threads.AllNonResolved(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range ths {
		if len(t.Embedding) == 0 {
			continue
		}
		items[t.UUID] = &Item{UUID: t.UUID, Type: ItemThread, Project: t.Project, LocalID: t.LocalID, Text: t.Title, Embedding: t.Embedding}
	}

	return items, nil
}

// findResonances runs the three cross-project passes concurrently (bounded
// fan-out of 6, spec §5), deduplicating via a sorted-pair key.
func (s *Scanner) findResonances(ctx context.Context, items map[string]*Item) ([]Resonance, error) {
	var mu sync.Mutex
	seen := map[string]bool{}
	var out []Resonance

	add := func(a, b string, sim float64) {
		if a == b {
			return
		}
		key := pairKey(a, b)
		mu.Lock()
		defer mu.Unlock()
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, Resonance{A: a, B: b, Similarity: sim})
	}

	decisionItems := itemsOfType(items, ItemDecision)
	threadItems := itemsOfType(items, ItemThread)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(6)

	// Pass 1: cross-project decision <-> decision.
	for _, d := range decisionItems {
		d := d
		g.Go(func() error {
			hits, err := s.store.VectorSearch(gctx, "decisions", d.Embedding, 10, store.Filter{Status: "active"}, s.weakThreshold)
			if err != nil {
				return nil // best-effort: a single item's search failure doesn't abort the scan
			}
			for _, h := range hits {
				other, ok := items[h.Envelope.ID]
				if !ok || other.Type != ItemDecision || other.Project == d.Project {
					continue
				}
				add(d.UUID, other.UUID, h.Similarity)
			}
			return nil
		})
	}

	// Pass 2: decision <-> thread, any project (same-project matches dropped).
	for _, d := range decisionItems {
		d := d
		g.Go(func() error {
			hits, err := s.store.VectorSearch(gctx, "threads", d.Embedding, 10, store.Filter{}, s.weakThreshold)
			if err != nil {
				return nil
			}
			for _, h := range hits {
				other, ok := items[h.Envelope.ID]
				if !ok || other.Type != ItemThread || other.Project == d.Project {
					continue
				}
				add(d.UUID, other.UUID, h.Similarity)
			}
			return nil
		})
	}

	// Pass 3: cross-project thread <-> thread.
	for _, t := range threadItems {
		t := t
		g.Go(func() error {
			hits, err := s.store.VectorSearch(gctx, "threads", t.Embedding, 10, store.Filter{}, s.weakThreshold)
			if err != nil {
				return nil
			}
			for _, h := range hits {
				other, ok := items[h.Envelope.ID]
				if !ok || other.Type != ItemThread || other.Project == t.Project {
					continue
				}
				add(t.UUID, other.UUID, h.Similarity)
			}
			return nil
		})
	}

	_ = g.Wait()
	return out, nil
}

func itemsOfType(items map[string]*Item, t ItemType) []*Item {
	var out []*Item
	for _, it := range items {
		if it.Type == t {
			out = append(out, it)
		}
	}
	return out
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// findBridges scans every lineage edge and flags any decision/thread uuid
// whose combined compression-edge references span more than one project.
func (s *Scanner) findBridges(ctx context.Context, items map[string]*Item) ([]Bridge, error) {
	edges, err := s.lineage.All(ctx)
	if err != nil {
		return nil, err
	}

	type acc struct {
		projects  map[string]struct{}
		edgeCount int
	}
	byUUID := map[string]*acc{}

	touch := func(id, sourceProj, targetProj string) {
		a, ok := byUUID[id]
		if !ok {
			a = &acc{projects: map[string]struct{}{}}
			byUUID[id] = a
		}
		a.edgeCount++
		if sourceProj != "" {
			a.projects[sourceProj] = struct{}{}
		}
		if targetProj != "" {
			a.projects[targetProj] = struct{}{}
		}
	}

	for _, e := range edges {
		for _, id := range append(append([]string{}, e.DecisionsCarried...), e.ThreadsCarried...) {
			touch(id, e.SourceProject, e.TargetProject)
		}
	}

	var bridges []Bridge
	for id, a := range byUUID {
		if len(a.projects) <= 1 {
			continue
		}
		projs := make([]string, 0, len(a.projects))
		for p := range a.projects {
			projs = append(projs, p)
		}
		sort.Strings(projs)
		typ := ItemDecision
		if it, ok := items[id]; ok {
			typ = it.Type
		}
		bridges = append(bridges, Bridge{UUID: id, Type: typ, Projects: projs, EdgeCount: a.edgeCount})
	}
	sort.Slice(bridges, func(i, j int) bool { return bridges[i].UUID < bridges[j].UUID })
	return bridges, nil
}

// unionFind is a standard Union-Find with path compression and union by
// rank over string keys.
type unionFind struct {
	parent map[string]string
	rank   map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{parent: map[string]string{}, rank: map[string]int{}}
}

func (u *unionFind) find(x string) string {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
		u.rank[x] = 0
		return x
	}
	if u.parent[x] != x {
		u.parent[x] = u.find(u.parent[x])
	}
	return u.parent[x]
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}

// cluster groups items into connected components via Union-Find over the
// resonance edges, sorted by avg_similarity descending.
func cluster(items map[string]*Item, resonances []Resonance) []Cluster {
	if len(resonances) == 0 {
		return nil
	}

	uf := newUnionFind()
	for _, r := range resonances {
		uf.union(r.A, r.B)
	}

	byRoot := map[string][]Resonance{}
	for _, r := range resonances {
		root := uf.find(r.A)
		byRoot[root] = append(byRoot[root], r)
	}

	clusters := make([]Cluster, 0, len(byRoot))
	for root, res := range byRoot {
		memberSet := map[string]struct{}{}
		projSet := map[string]struct{}{}
		var sum float64
		strongest := res[0]
		for _, r := range res {
			memberSet[r.A] = struct{}{}
			memberSet[r.B] = struct{}{}
			sum += r.Similarity
			if r.Similarity > strongest.Similarity {
				strongest = r
			}
			if it, ok := items[r.A]; ok {
				projSet[it.Project] = struct{}{}
			}
			if it, ok := items[r.B]; ok {
				projSet[it.Project] = struct{}{}
			}
		}

		members := make([]string, 0, len(memberSet))
		for m := range memberSet {
			members = append(members, m)
		}
		sort.Strings(members)
		projects := make([]string, 0, len(projSet))
		for p := range projSet {
			projects = append(projects, p)
		}
		sort.Strings(projects)

		sort.Slice(res, func(i, j int) bool { return res[i].Similarity > res[j].Similarity })

		clusters = append(clusters, Cluster{
			ClusterID:     clusterID(root),
			Items:         members,
			Projects:      projects,
			Resonances:    res,
			AvgSimilarity: sum / float64(len(res)),
			StrongestLink: strongest,
			Summary:       summarize(items, members),
		})
	}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].AvgSimilarity > clusters[j].AvgSimilarity })
	return clusters
}

// summarize builds a short human-readable label for a cluster from its
// member items' text, keeping content words only (stopwords stripped) and
// deduplicating across members, capped at 8 words.
func summarize(items map[string]*Item, members []string) string {
	seen := map[string]struct{}{}
	var words []string
	for _, id := range members {
		it, ok := items[id]
		if !ok {
			continue
		}
		for _, w := range strings.Fields(it.Text) {
			w = strings.ToLower(strings.Trim(w, ".,;:!?\"'()"))
			if w == "" || en.Contains(w) {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			words = append(words, w)
			if len(words) >= 8 {
				return strings.Join(words, " ")
			}
		}
	}
	return strings.Join(words, " ")
}

func clusterID(root string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("cluster:"+root)).String()
}

func looseEnds(items map[string]*Item, clusters []Cluster) []string {
	clustered := map[string]struct{}{}
	for _, c := range clusters {
		for _, m := range c.Items {
			clustered[m] = struct{}{}
		}
	}
	var out []string
	for id := range items {
		if _, ok := clustered[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// SaveScan persists result under a generated scan_id, optionally blob-backing
// the heavy array fields (clusters/bridges/loose_ends) via store_json.
func (s *Scanner) SaveScan(ctx context.Context, project string, result *Result) error {
	result.ScanID = uuid.New().String()
	result.Project = project

	if s.blobs != nil {
		if ref, err := s.blobs.PutJSON(ctx, result.Clusters); err == nil && ref != "" {
			result.ClustersBlobRef = ref
		}
		if ref, err := s.blobs.PutJSON(ctx, result.Bridges); err == nil && ref != "" {
			result.BridgesBlobRef = ref
		}
		if ref, err := s.blobs.PutJSON(ctx, result.LooseEnds); err == nil && ref != "" {
			result.LooseEndsBlobRef = ref
		}
	}

	now := time.Now().UnixMilli()
	return s.store.Put(ctx, collection, store.Envelope{
		ID: result.ScanID, Project: project, CreatedAtMs: now, UpdatedAtMs: now,
	}, result)
}

// GetLatestScan returns the most recently saved scan, scoped to project
// when non-empty (the project-scoped scan keeps the clusters and bridges
// that mention it; loose ends are carried over from the full scan
// unfiltered), preferring the blob
// copy of heavy fields over the inline one when present (spec §9 Open
// Questions resolves this in favor of the blob).
func (s *Scanner) GetLatestScan(ctx context.Context, project string) (*Result, error) {
	envs, err := s.store.Find(ctx, collection, store.Filter{}, 0)
	if err != nil {
		return nil, err
	}
	if len(envs) == 0 {
		return nil, fmt.Errorf("entanglement: no scans recorded")
	}

	sort.Slice(envs, func(i, j int) bool { return envs[i].CreatedAtMs > envs[j].CreatedAtMs })

	for _, env := range envs {
		var r Result
		if err := json.Unmarshal(env.Data, &r); err != nil {
			continue
		}
		if s.blobs != nil {
			if r.ClustersBlobRef != "" {
				var full []Cluster
				if err := s.blobs.ResolveJSON(ctx, r.ClustersBlobRef, &full); err == nil {
					r.Clusters = full
				}
			}
			if r.BridgesBlobRef != "" {
				var full []Bridge
				if err := s.blobs.ResolveJSON(ctx, r.BridgesBlobRef, &full); err == nil {
					r.Bridges = full
				}
			}
			if r.LooseEndsBlobRef != "" {
				var full []string
				if err := s.blobs.ResolveJSON(ctx, r.LooseEndsBlobRef, &full); err == nil {
					r.LooseEnds = full
				}
			}
		}

		if project == "" {
			if r.Project == "" {
				return &r, nil
			}
			continue
		}

		if r.Project == project {
			return &r, nil
		}
		return scopeToProject(&r, project), nil
	}
	return nil, fmt.Errorf("entanglement: no scan matches project %q", project)
}

func scopeToProject(r *Result, project string) *Result {
	scoped := &Result{ScanID: r.ScanID, Project: project, ScannedAtMs: r.ScannedAtMs}
	for _, c := range r.Clusters {
		if containsProject(c.Projects, project) {
			scoped.Clusters = append(scoped.Clusters, c)
		}
	}
	for _, b := range r.Bridges {
		if containsProject(b.Projects, project) {
			scoped.Bridges = append(scoped.Bridges, b)
		}
	}
	for _, le := range r.LooseEnds {
		scoped.LooseEnds = append(scoped.LooseEnds, le)
	}
	scoped.ClusterCount = len(scoped.Clusters)
	scoped.BridgeCount = len(scoped.Bridges)
	scoped.LooseCount = len(scoped.LooseEnds)
	return scoped
}

func containsProject(projects []string, project string) bool {
	for _, p := range projects {
		if p == project {
			return true
		}
	}
	return false
}
