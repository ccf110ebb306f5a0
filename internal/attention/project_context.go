package attention

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeos/graph/internal/decision"
	"github.com/forgeos/graph/internal/flag"
	"github.com/forgeos/graph/internal/thread"
)

// ProjectContext is the composed state of one project: active decisions,
// active threads, pending flags, stale items, and conflict rows.
type ProjectContext struct {
	Project         string               `json:"project"`
	ActiveDecisions []*decision.Decision `json:"active_decisions"`
	ActiveThreads   []*thread.Thread     `json:"active_threads"`
	PendingFlags    []*flag.Flag         `json:"pending_flags"`
	StaleDecisions  []*decision.Decision `json:"stale_decisions"`
	StaleThreads    []*thread.Thread     `json:"stale_threads"`
	Conflicts       []ConflictRow        `json:"conflicts"`
}

// ConflictRow names one decision pair flagged as conflicting.
type ConflictRow struct {
	DecisionUUID  string `json:"decision_uuid"`
	ConflictsWith string `json:"conflicts_with"`
}

// Collaborators bundles the registries project_context and context_load
// compose over.
type Collaborators struct {
	Decisions *decision.Registry
	Threads   *thread.Registry
	Flags     *flag.Registry
}

// ProjectContext assembles project's whole working state: active decisions
// and threads, pending flags, stale items, and conflict rows.
func (e *Engine) ProjectContext(ctx context.Context, collab Collaborators, project string, maxHops, maxDays int) (*ProjectContext, error) {
	pc := &ProjectContext{Project: project}

	if collab.Decisions != nil {
		decisions, err := collab.Decisions.GetActiveDecisions(ctx, project)
		if err != nil {
			return nil, err
		}
		pc.ActiveDecisions = decisions

		stale, err := collab.Decisions.GetStaleDecisions(ctx, project, maxHops, maxDays)
		if err != nil {
			return nil, err
		}
		pc.StaleDecisions = stale

		for _, d := range decisions {
			for _, other := range d.ConflictsWith {
				pc.Conflicts = append(pc.Conflicts, ConflictRow{DecisionUUID: d.UUID, ConflictsWith: other})
			}
		}
	}

	if collab.Threads != nil {
		threads, err := collab.Threads.GetActiveThreads(ctx, project)
		if err != nil {
			return nil, err
		}
		pc.ActiveThreads = threads

		stale, err := collab.Threads.GetStaleThreads(ctx, project, maxHops, maxDays)
		if err != nil {
			return nil, err
		}
		pc.StaleThreads = stale
	}

	if collab.Flags != nil {
		pending, err := collab.Flags.GetPending(ctx, project, "")
		if err != nil {
			return nil, err
		}
		pc.PendingFlags = pending
	}

	return pc, nil
}

// LoadOutput is context_load's combined return: the project's working state
// plus an optional query-scoped recall.
type LoadOutput struct {
	ProjectContext *ProjectContext `json:"project_context"`
	Recall         *Output         `json:"recall,omitempty"`
}

// ContextLoad composes ProjectContext with a budget-scoped Recall when query
// is non-empty; the recall's budget is whatever remains after rendering the
// project context (spec §4.13).
func (e *Engine) ContextLoad(ctx context.Context, collab Collaborators, project, query string, budget, maxHops, maxDays int) (*LoadOutput, error) {
	if budget <= 0 {
		budget = 6000
	}

	pc, err := e.ProjectContext(ctx, collab, project, maxHops, maxDays)
	if err != nil {
		return nil, err
	}

	out := &LoadOutput{ProjectContext: pc}
	if query == "" {
		return out, nil
	}

	used := len(renderProjectContext(pc))
	remaining := budget - used
	if remaining <= 0 {
		return out, nil
	}

	recall, err := e.Recall(ctx, query, project, remaining, 0.1)
	if err != nil {
		return nil, err
	}
	out.Recall = recall
	return out, nil
}

func renderProjectContext(pc *ProjectContext) string {
	var b strings.Builder
	for _, d := range pc.ActiveDecisions {
		fmt.Fprintf(&b, "[decision:%s] %s\n", d.UUID, d.Text)
	}
	for _, t := range pc.ActiveThreads {
		fmt.Fprintf(&b, "[thread:%s] %s\n", t.UUID, t.Title)
	}
	for _, f := range pc.PendingFlags {
		fmt.Fprintf(&b, "[flag:%s] %s\n", f.UUID, f.Description)
	}
	return b.String()
}
