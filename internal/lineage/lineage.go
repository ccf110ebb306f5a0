// Package lineage implements compression-hop edges and the ancestor/
// descendant walks over them (spec §4.10): order-independent edge identity,
// add-to-set merge semantics, and bounded-depth trace assembly.
//
// Grounded on original_source/vectordb/lineage_registry.py.
package lineage

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

const collection = "lineage_edges"

// Edge is one lineage edge, identified by the order-independent composite
// pair of its two conversations.
type Edge struct {
	UUID              string   `json:"uuid"`
	Source            string   `json:"source_conversation"`
	Target            string   `json:"target_conversation"`
	CompressionTag    string   `json:"compression_tag,omitempty"`
	DecisionsCarried  []string `json:"decisions_carried,omitempty"`
	DecisionsDropped  []string `json:"decisions_dropped,omitempty"`
	ThreadsCarried    []string `json:"threads_carried,omitempty"`
	ThreadsResolved   []string `json:"threads_resolved,omitempty"`
	SourceProject     string   `json:"source_project,omitempty"`
	TargetProject     string   `json:"target_project,omitempty"`
	CreatedAtMs       int64    `json:"created_at_ms"`
	UpdatedAtMs       int64    `json:"updated_at_ms"`
}

// AddEdgeInput is the caller-supplied shape for AddEdge.
type AddEdgeInput struct {
	Source            uuid.UUID
	Target            uuid.UUID
	CompressionTag    string
	DecisionsCarried  []string
	DecisionsDropped  []string
	ThreadsCarried    []string
	ThreadsResolved   []string
	SourceProject     string
	TargetProject     string
}

// Trace is the combined ancestor/descendant assembly trace_conversation
// returns.
type Trace struct {
	Ancestors     []*Edge
	Descendants   []*Edge
	Conversations []string
	Projects      []string
	CrossProject  bool
	Root          string
	Leaves        []string
}

// Registry manages lineage edges.
type Registry struct {
	store *store.SQLiteStore
	log   *events.Log
}

// New wires a Registry to its collaborators.
func New(s *store.SQLiteStore, log *events.Log) *Registry {
	return &Registry{store: s, log: log}
}

// AddEdge inserts the edge on first call for a (source, target) pair in
// either order; subsequent calls merge the list fields via add-to-set and
// overwrite scalar fields only when the new value is non-empty.
func (r *Registry) AddEdge(ctx context.Context, in AddEdgeInput) (*Edge, error) {
	id := identity.CompositePair(in.Source, in.Target).String()
	now := time.Now().UnixMilli()

	var existing Edge
	_, err := r.store.Get(ctx, collection, id, &existing)
	if err != nil && !errs.Is(err, errs.NotFound) {
		return nil, err
	}

	if err == nil {
		fields := map[string][]string{}
		if len(in.DecisionsCarried) > 0 {
			fields["decisions_carried"] = in.DecisionsCarried
		}
		if len(in.DecisionsDropped) > 0 {
			fields["decisions_dropped"] = in.DecisionsDropped
		}
		if len(in.ThreadsCarried) > 0 {
			fields["threads_carried"] = in.ThreadsCarried
		}
		if len(in.ThreadsResolved) > 0 {
			fields["threads_resolved"] = in.ThreadsResolved
		}
		if len(fields) > 0 {
			if err := r.store.AddToSet(ctx, collection, id, fields); err != nil {
				return nil, err
			}
		}
		scalars := map[string]interface{}{}
		if in.CompressionTag != "" {
			scalars["compression_tag"] = in.CompressionTag
		}
		if in.SourceProject != "" {
			scalars["source_project"] = in.SourceProject
		}
		if in.TargetProject != "" {
			scalars["target_project"] = in.TargetProject
		}
		if err := r.store.SetFields(ctx, collection, id, scalars, now); err != nil {
			return nil, err
		}
		r.emit(ctx, id)
		return r.Get(ctx, id)
	}

	e := &Edge{
		UUID:             id,
		Source:           in.Source.String(),
		Target:           in.Target.String(),
		CompressionTag:   in.CompressionTag,
		DecisionsCarried: in.DecisionsCarried,
		DecisionsDropped: in.DecisionsDropped,
		ThreadsCarried:   in.ThreadsCarried,
		ThreadsResolved:  in.ThreadsResolved,
		SourceProject:    in.SourceProject,
		TargetProject:    in.TargetProject,
		CreatedAtMs:      now,
		UpdatedAtMs:      now,
	}
	if err := r.save(ctx, e); err != nil {
		return nil, err
	}
	r.emit(ctx, id)
	return e, nil
}

func (r *Registry) save(ctx context.Context, e *Edge) error {
	return r.store.Put(ctx, collection, store.Envelope{
		ID: e.UUID, Project: e.SourceProject, CreatedAtMs: e.CreatedAtMs, UpdatedAtMs: e.UpdatedAtMs,
	}, e)
}

func (r *Registry) emit(ctx context.Context, edgeUUID string) {
	if r.log == nil {
		return
	}
	_ = r.log.Emit(ctx, events.TypeLineageEdge, map[string]interface{}{"uuid": edgeUUID})
}

// Get fetches an edge by uuid.
func (r *Registry) Get(ctx context.Context, id string) (*Edge, error) {
	var e Edge
	if _, err := r.store.Get(ctx, collection, id, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// All returns every lineage edge (there is no per-source/target index, so
// walks scan the full collection and filter in the application layer — the
// same pattern the conversation registry uses for source_id resolution).
func (r *Registry) All(ctx context.Context) ([]*Edge, error) {
	envs, err := r.store.Find(ctx, collection, store.Filter{}, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*Edge, 0, len(envs))
	for _, env := range envs {
		var e Edge
		if err := json.Unmarshal(env.Data, &e); err == nil {
			out = append(out, &e)
		}
	}
	return out, nil
}

// GetAncestors follows edges whose target is the current conversation,
// newest-first, up to depth hops. A cycle simply runs the walk out to the
// depth bound — no cycle-detection set is kept (spec §9).
func (r *Registry) GetAncestors(ctx context.Context, convID string, depth int) ([]*Edge, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	var chain []*Edge
	cur := convID
	for i := 0; i < depth; i++ {
		edge := findByTarget(all, cur)
		if edge == nil {
			break
		}
		chain = append(chain, edge)
		cur = edge.Source
	}
	return chain, nil
}

// GetDescendants is GetAncestors' dual: follows edges whose source is the
// current conversation.
func (r *Registry) GetDescendants(ctx context.Context, convID string, depth int) ([]*Edge, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	var chain []*Edge
	cur := convID
	for i := 0; i < depth; i++ {
		edge := findBySource(all, cur)
		if edge == nil {
			break
		}
		chain = append(chain, edge)
		cur = edge.Target
	}
	return chain, nil
}

func findByTarget(edges []*Edge, target string) *Edge {
	var best *Edge
	for _, e := range edges {
		if e.Target == target {
			if best == nil || e.CreatedAtMs > best.CreatedAtMs {
				best = e
			}
		}
	}
	return best
}

func findBySource(edges []*Edge, source string) *Edge {
	var best *Edge
	for _, e := range edges {
		if e.Source == source {
			if best == nil || e.CreatedAtMs > best.CreatedAtMs {
				best = e
			}
		}
	}
	return best
}

// TraceConversation combines the ancestor chain (root-first) and descendant
// chain for convID into one assembled trace.
func (r *Registry) TraceConversation(ctx context.Context, convID string, depth int) (*Trace, error) {
	ancestors, err := r.GetAncestors(ctx, convID, depth)
	if err != nil {
		return nil, err
	}
	descendants, err := r.GetDescendants(ctx, convID, depth)
	if err != nil {
		return nil, err
	}

	convSet := map[string]struct{}{convID: {}}
	projSet := map[string]struct{}{}
	rootFirstAncestors := reverse(ancestors)

	for _, e := range rootFirstAncestors {
		convSet[e.Source] = struct{}{}
		convSet[e.Target] = struct{}{}
		addProject(projSet, e.SourceProject)
		addProject(projSet, e.TargetProject)
	}
	for _, e := range descendants {
		convSet[e.Source] = struct{}{}
		convSet[e.Target] = struct{}{}
		addProject(projSet, e.SourceProject)
		addProject(projSet, e.TargetProject)
	}

	root := convID
	if len(rootFirstAncestors) > 0 {
		root = rootFirstAncestors[0].Source
	}
	leaf := convID
	if len(descendants) > 0 {
		leaf = descendants[len(descendants)-1].Target
	}

	return &Trace{
		Ancestors:     rootFirstAncestors,
		Descendants:   descendants,
		Conversations: sortedKeys(convSet),
		Projects:      sortedKeys(projSet),
		CrossProject:  len(projSet) > 1,
		Root:          root,
		Leaves:        []string{leaf},
	}, nil
}

// GetFullGraph returns every edge touching project (either endpoint), or
// every edge when project is empty.
func (r *Registry) GetFullGraph(ctx context.Context, project string) ([]*Edge, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	if project == "" {
		return all, nil
	}
	var out []*Edge
	for _, e := range all {
		if e.SourceProject == project || e.TargetProject == project {
			out = append(out, e)
		}
	}
	return out, nil
}

func reverse(edges []*Edge) []*Edge {
	out := make([]*Edge, len(edges))
	for i, e := range edges {
		out[len(edges)-1-i] = e
	}
	return out
}

func addProject(set map[string]struct{}, p string) {
	if p != "" {
		set[p] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1] > out[j] {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}
