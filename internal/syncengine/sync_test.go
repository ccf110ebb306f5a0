package syncengine

import (
	"context"
	"testing"

	"github.com/forgeos/graph/internal/compression"
	"github.com/forgeos/graph/internal/decision"
	"github.com/forgeos/graph/internal/displayid"
	"github.com/forgeos/graph/internal/flag"
	"github.com/forgeos/graph/internal/lineage"
	"github.com/forgeos/graph/internal/priming"
	"github.com/forgeos/graph/internal/store"
	"github.com/forgeos/graph/internal/thread"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

type recordingTarget struct {
	name    string
	pushed  [][]Document
	failOn  int
	calls   int
}

func (t *recordingTarget) Name() string { return t.name }

func (t *recordingTarget) Push(ctx context.Context, docs []Document) error {
	t.calls++
	t.pushed = append(t.pushed, docs)
	if t.failOn > 0 && t.calls == t.failOn {
		return errTargetFailed
	}
	return nil
}

var errTargetFailed = &targetError{"push failed"}

type targetError struct{ msg string }

func (e *targetError) Error() string { return e.msg }

func newFixture(t *testing.T) (*store.SQLiteStore, Collaborators) {
	t.Helper()
	s, err := store.NewWithDims(":memory:", 4)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ids := displayid.NewRegistry(s, nil)
	collab := Collaborators{
		Decisions:   decision.New(s, fakeEmbedder{}, nil, ids, nil, nil),
		Threads:     thread.New(s, fakeEmbedder{}, ids, nil),
		Flags:       flag.New(s, nil),
		Priming:     priming.New(s, fakeEmbedder{}, nil),
		Compression: compression.New(s, nil),
		Lineage:     lineage.New(s, nil),
	}
	return s, collab
}

func TestCompileAssemblesDocumentsFromEveryRegistry(t *testing.T) {
	_, collab := newFixture(t)
	ctx := context.Background()

	_, _, err := collab.Decisions.Upsert(ctx, decision.UpsertInput{Text: "pick postgres", Project: "P", OriginatedConvUUID: uuid.New()})
	require.NoError(t, err)
	_, _, err = collab.Threads.Upsert(ctx, thread.UpsertInput{Title: "investigate latency", Project: "P", FirstSeenConvUUID: uuid.New()})
	require.NoError(t, err)
	_, err = collab.Flags.Plant(ctx, "P", "a recurring trap", uuid.New(), flag.CategoryTrap)
	require.NoError(t, err)
	_, err = collab.Priming.Upsert(ctx, "P", "territory one", []string{"alpha"}, 0.5, 1)
	require.NoError(t, err)
	_, err = collab.Compression.Register(ctx, compression.RegisterInput{
		Project: "P", SourceConversation: uuid.New().String(), TargetConversations: []string{uuid.New().String()},
	})
	require.NoError(t, err)
	_, err = collab.Lineage.AddEdge(ctx, lineage.AddEdgeInput{Source: uuid.New(), Target: uuid.New(), SourceProject: "P", TargetProject: "P"})
	require.NoError(t, err)

	e := New(collab, nil)
	docs, err := e.Compile(ctx, "P")
	require.NoError(t, err)

	collections := map[string]int{}
	for _, d := range docs {
		collections[d.Collection]++
	}
	require.Equal(t, 1, collections["decisions"])
	require.Equal(t, 1, collections["threads"])
	require.Equal(t, 1, collections["expedition_flags"])
	require.Equal(t, 1, collections["priming_blocks"])
	require.Equal(t, 1, collections["compression_tags"])
	require.Equal(t, 1, collections["lineage_edges"])
}

func TestCompileSkipsNilCollaborators(t *testing.T) {
	e := New(Collaborators{}, nil)
	docs, err := e.Compile(context.Background(), "P")
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestSyncProjectDispatchesToEveryTargetAndRecordsFailures(t *testing.T) {
	_, collab := newFixture(t)
	ctx := context.Background()
	_, _, err := collab.Decisions.Upsert(ctx, decision.UpsertInput{Text: "pick postgres", Project: "P", OriginatedConvUUID: uuid.New()})
	require.NoError(t, err)

	good := &recordingTarget{name: "good"}
	bad := &recordingTarget{name: "bad", failOn: 1}

	e := New(collab, []Target{good, bad})
	results, err := e.SyncProject(ctx, "P")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "good", results[0].Target)
	require.Empty(t, results[0].Error)
	require.Equal(t, "bad", results[1].Target)
	require.NotEmpty(t, results[1].Error)
	require.Equal(t, 1, good.calls)
	require.Equal(t, 1, bad.calls)
}

func TestSyncProjectStopsDispatchOnContextCancellation(t *testing.T) {
	_, collab := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	target := &recordingTarget{name: "never-called"}
	e := New(collab, []Target{target})
	results, err := e.SyncProject(ctx, "P")
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, results)
	require.Zero(t, target.calls)
}
