// Package syncengine compiles registry state into push-ready documents and
// dispatches them to external targets (spec: "Sync engine — compile registry
// state → documents; dispatch per-target", §2, 8% of the core). Named
// syncengine rather than sync to avoid shadowing the standard library
// package of that name.
//
// Grounded on original_source/vectordb/sync_engine.py.
package syncengine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/forgeos/graph/internal/compression"
	"github.com/forgeos/graph/internal/decision"
	"github.com/forgeos/graph/internal/flag"
	"github.com/forgeos/graph/internal/lineage"
	"github.com/forgeos/graph/internal/priming"
	"github.com/forgeos/graph/internal/thread"
)

// dispatchDelay is the courtesy rate-limit pause between target pushes
// (spec §5).
const dispatchDelay = time.Second

// Document is one compiled unit of pushable state.
type Document struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
}

// Target is an external collaborator documents are pushed to (the markdown
// compiler / chat-service push client spec §1 places out of scope — this
// package only owns compiling and dispatching, not the target
// implementation).
type Target interface {
	Name() string
	Push(ctx context.Context, docs []Document) error
}

// Collaborators bundles the registries SyncProject compiles state from.
type Collaborators struct {
	Decisions   *decision.Registry
	Threads     *thread.Registry
	Flags       *flag.Registry
	Priming     *priming.Registry
	Compression *compression.Registry
	Lineage     *lineage.Registry
}

// DispatchResult records one target's outcome.
type DispatchResult struct {
	Target string `json:"target"`
	Pushed int    `json:"pushed"`
	Error  string `json:"error,omitempty"`
}

// Engine compiles and dispatches sync documents.
type Engine struct {
	collab  Collaborators
	targets []Target
}

// New wires an Engine to its source registries and push targets.
func New(collab Collaborators, targets []Target) *Engine {
	return &Engine{collab: collab, targets: targets}
}

// Compile assembles every document representing project's current state:
// active decisions, active threads, pending flags, active priming blocks,
// compression tags, and the project's lineage graph.
func (e *Engine) Compile(ctx context.Context, project string) ([]Document, error) {
	var docs []Document

	if e.collab.Decisions != nil {
		decisions, err := e.collab.Decisions.GetActiveDecisions(ctx, project)
		if err != nil {
			return nil, err
		}
		for _, d := range decisions {
			if doc, err := encode("decisions", d.UUID, d); err == nil {
				docs = append(docs, doc)
			}
		}
	}

	if e.collab.Threads != nil {
		threads, err := e.collab.Threads.GetActiveThreads(ctx, project)
		if err != nil {
			return nil, err
		}
		for _, t := range threads {
			if doc, err := encode("threads", t.UUID, t); err == nil {
				docs = append(docs, doc)
			}
		}
	}

	if e.collab.Flags != nil {
		flags, err := e.collab.Flags.GetPending(ctx, project, "")
		if err != nil {
			return nil, err
		}
		for _, f := range flags {
			if doc, err := encode("expedition_flags", f.UUID, f); err == nil {
				docs = append(docs, doc)
			}
		}
	}

	if e.collab.Priming != nil {
		blocks, err := e.collab.Priming.ListActive(ctx, project)
		if err != nil {
			return nil, err
		}
		for _, b := range blocks {
			if doc, err := encode("priming_blocks", b.UUID, b); err == nil {
				docs = append(docs, doc)
			}
		}
	}

	if e.collab.Compression != nil {
		tags, err := e.collab.Compression.ListByProject(ctx, project)
		if err != nil {
			return nil, err
		}
		for _, tag := range tags {
			if doc, err := encode("compression_tags", tag.UUID, tag); err == nil {
				docs = append(docs, doc)
			}
		}
	}

	if e.collab.Lineage != nil {
		edges, err := e.collab.Lineage.GetFullGraph(ctx, project)
		if err != nil {
			return nil, err
		}
		for _, edge := range edges {
			if doc, err := encode("lineage_edges", edge.UUID, edge); err == nil {
				docs = append(docs, doc)
			}
		}
	}

	return docs, nil
}

func encode(collection, id string, v interface{}) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Document{}, err
	}
	return Document{Collection: collection, ID: id, Data: raw}, nil
}

// SyncProject compiles project's state once and dispatches it to every
// target serially, pausing dispatchDelay between targets. A target's push
// error is recorded but does not stop dispatch to the remaining targets;
// context cancellation stops dispatch after the in-flight target completes,
// so no partially-pushed target is left inconsistent.
func (e *Engine) SyncProject(ctx context.Context, project string) ([]DispatchResult, error) {
	docs, err := e.Compile(ctx, project)
	if err != nil {
		return nil, err
	}

	results := make([]DispatchResult, 0, len(e.targets))
	for i, target := range e.targets {
		if ctx.Err() != nil {
			break
		}
		res := DispatchResult{Target: target.Name(), Pushed: len(docs)}
		if err := target.Push(ctx, docs); err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)

		if i < len(e.targets)-1 {
			select {
			case <-time.After(dispatchDelay):
			case <-ctx.Done():
				return results, ctx.Err()
			}
		}
	}
	return results, nil
}
