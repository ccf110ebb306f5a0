package thread

import (
	"context"
	"testing"

	"github.com/forgeos/graph/internal/displayid"
	"github.com/forgeos/graph/internal/store"
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

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewWithDims(":memory:", 4)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertInsertsThenUpdatesSameThread(t *testing.T) {
	s := newTestStore(t)
	ids := displayid.NewRegistry(s, nil)
	r := New(s, fakeEmbedder{}, ids, nil)
	ctx := context.Background()
	conv := uuid.New()

	th, action, err := r.Upsert(ctx, UpsertInput{Title: "Investigate latency spike", Project: "P", FirstSeenConvUUID: conv})
	require.NoError(t, err)
	require.Equal(t, ActionInserted, action)
	require.NotEmpty(t, th.GlobalDisplayID)
	require.NotEmpty(t, th.Embedding)

	th2, action2, err := r.Upsert(ctx, UpsertInput{Title: "Investigate latency spike", Project: "P", FirstSeenConvUUID: conv, Status: StatusBlocked, BlockedBy: []string{"dep-1"}})
	require.NoError(t, err)
	require.Equal(t, ActionUpdated, action2)
	require.Equal(t, th.UUID, th2.UUID)
	require.Equal(t, StatusBlocked, th2.Status)
	require.Contains(t, th2.BlockedBy, "dep-1")
}

func TestGetActiveThreadsSortsByPriorityThenUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ids := displayid.NewRegistry(s, nil)
	r := New(s, fakeEmbedder{}, ids, nil)
	ctx := context.Background()

	_, _, err := r.Upsert(ctx, UpsertInput{Title: "low priority thread", Project: "P", FirstSeenConvUUID: uuid.New(), Priority: PriorityLow})
	require.NoError(t, err)
	_, _, err = r.Upsert(ctx, UpsertInput{Title: "high priority thread", Project: "P", FirstSeenConvUUID: uuid.New(), Priority: PriorityHigh})
	require.NoError(t, err)
	_, _, err = r.Upsert(ctx, UpsertInput{Title: "medium priority thread", Project: "P", FirstSeenConvUUID: uuid.New(), Priority: PriorityMedium})
	require.NoError(t, err)

	threads, err := r.GetActiveThreads(ctx, "P")
	require.NoError(t, err)
	require.Len(t, threads, 3)
	require.Equal(t, PriorityHigh, threads[0].Priority)
	require.Equal(t, PriorityMedium, threads[1].Priority)
	require.Equal(t, PriorityLow, threads[2].Priority)
}

func TestResolveSetsStatusAndResolution(t *testing.T) {
	s := newTestStore(t)
	ids := displayid.NewRegistry(s, nil)
	r := New(s, fakeEmbedder{}, ids, nil)
	ctx := context.Background()

	th, _, err := r.Upsert(ctx, UpsertInput{Title: "a thread", Project: "P", FirstSeenConvUUID: uuid.New()})
	require.NoError(t, err)

	resolved, err := r.Resolve(ctx, th.UUID, "fixed by patch 42")
	require.NoError(t, err)
	require.Equal(t, StatusResolved, resolved.Status)
	require.Equal(t, "fixed by patch 42", resolved.Resolution)
}

func TestGetStaleThreadsBoundary(t *testing.T) {
	s := newTestStore(t)
	ids := displayid.NewRegistry(s, nil)
	r := New(s, fakeEmbedder{}, ids, nil)
	ctx := context.Background()

	th, _, err := r.Upsert(ctx, UpsertInput{Title: "edge case thread", Project: "P", FirstSeenConvUUID: uuid.New()})
	require.NoError(t, err)

	th.HopsSinceValidated = 2
	require.NoError(t, s.Put(ctx, "threads", store.Envelope{ID: th.UUID, Project: "P", Status: string(th.Status), CreatedAtMs: th.CreatedAtMs, UpdatedAtMs: th.UpdatedAtMs}, th))
	stale, err := r.GetStaleThreads(ctx, "P", 3, 30)
	require.NoError(t, err)
	require.Empty(t, stale)

	th.HopsSinceValidated = 3
	require.NoError(t, s.Put(ctx, "threads", store.Envelope{ID: th.UUID, Project: "P", Status: string(th.Status), CreatedAtMs: th.CreatedAtMs, UpdatedAtMs: th.UpdatedAtMs}, th))
	stale2, err := r.GetStaleThreads(ctx, "P", 3, 30)
	require.NoError(t, err)
	require.Len(t, stale2, 1)
}
