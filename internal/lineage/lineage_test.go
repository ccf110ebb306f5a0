package lineage

import (
	"context"
	"testing"

	"github.com/forgeos/graph/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewWithDims(":memory:", 4)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddEdgeMergesListFieldsAsSet(t *testing.T) {
	s := newTestStore(t)
	r := New(s, nil)
	ctx := context.Background()
	src, tgt := uuid.New(), uuid.New()

	_, err := r.AddEdge(ctx, AddEdgeInput{Source: src, Target: tgt, DecisionsCarried: []string{"x"}})
	require.NoError(t, err)

	e, err := r.AddEdge(ctx, AddEdgeInput{Source: src, Target: tgt, DecisionsCarried: []string{"y"}})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"x", "y"}, e.DecisionsCarried)
}

func TestCompositePairEdgeIdentityIsOrderIndependent(t *testing.T) {
	s := newTestStore(t)
	r := New(s, nil)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	e1, err := r.AddEdge(ctx, AddEdgeInput{Source: a, Target: b, DecisionsCarried: []string{"d1"}})
	require.NoError(t, err)

	e2, err := r.AddEdge(ctx, AddEdgeInput{Source: b, Target: a, DecisionsCarried: []string{"d2"}})
	require.NoError(t, err)

	require.Equal(t, e1.UUID, e2.UUID)
	require.ElementsMatch(t, []string{"d1", "d2"}, e2.DecisionsCarried)
}

func TestTraceConversationAssemblesAncestorsAndDescendants(t *testing.T) {
	s := newTestStore(t)
	r := New(s, nil)
	ctx := context.Background()

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	_, err := r.AddEdge(ctx, AddEdgeInput{
		Source: a, Target: b, DecisionsCarried: []string{"d1", "d2"},
		SourceProject: "P", TargetProject: "P",
	})
	require.NoError(t, err)
	_, err = r.AddEdge(ctx, AddEdgeInput{
		Source: b, Target: c, DecisionsCarried: []string{"d2"}, DecisionsDropped: []string{"d1"},
		SourceProject: "P", TargetProject: "P",
	})
	require.NoError(t, err)

	trace, err := r.TraceConversation(ctx, b.String(), 10)
	require.NoError(t, err)
	require.Len(t, trace.Ancestors, 1)
	require.Equal(t, a.String(), trace.Ancestors[0].Source)
	require.Len(t, trace.Descendants, 1)
	require.Equal(t, c.String(), trace.Descendants[0].Target)
	require.ElementsMatch(t, []string{a.String(), b.String(), c.String()}, trace.Conversations)
	require.False(t, trace.CrossProject)
	require.Equal(t, a.String(), trace.Root)
	require.Equal(t, []string{c.String()}, trace.Leaves)
}

func TestTraceConversationCrossProject(t *testing.T) {
	s := newTestStore(t)
	r := New(s, nil)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	_, err := r.AddEdge(ctx, AddEdgeInput{Source: a, Target: b, SourceProject: "P1", TargetProject: "P2"})
	require.NoError(t, err)

	trace, err := r.TraceConversation(ctx, b.String(), 10)
	require.NoError(t, err)
	require.True(t, trace.CrossProject)
}

func TestGetFullGraphFiltersByProject(t *testing.T) {
	s := newTestStore(t)
	r := New(s, nil)
	ctx := context.Background()

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	_, err := r.AddEdge(ctx, AddEdgeInput{Source: a, Target: b, SourceProject: "P1", TargetProject: "P1"})
	require.NoError(t, err)
	_, err = r.AddEdge(ctx, AddEdgeInput{Source: b, Target: c, SourceProject: "P1", TargetProject: "P2"})
	require.NoError(t, err)

	edges, err := r.GetFullGraph(ctx, "P2")
	require.NoError(t, err)
	require.Len(t, edges, 1)
}
