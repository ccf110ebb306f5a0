package displayid

import (
	"context"
	"fmt"
	"testing"

	"github.com/forgeos/graph/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewWithDims(":memory:", 4)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAllocateFormatsPrefixTypeSequence(t *testing.T) {
	s := newTestStore(t)
	r := NewRegistry(s, nil)
	ctx := context.Background()

	id, err := r.Allocate(ctx, "Forge OS", TypeDecision)
	require.NoError(t, err)
	require.Equal(t, "FORGE-D-0001", id)

	id2, err := r.Allocate(ctx, "Forge OS", TypeDecision)
	require.NoError(t, err)
	require.Equal(t, "FORGE-D-0002", id2)
}

func TestAllocateAutoGeneratesPrefixForUnknownProject(t *testing.T) {
	s := newTestStore(t)
	r := NewRegistry(s, nil)
	ctx := context.Background()

	id, err := r.Allocate(ctx, "brand new venture", TypeThread)
	require.NoError(t, err)
	require.Equal(t, "BRAND-T-0001", id)
}

func TestAllocateSequencesAreDenseAndGapFree(t *testing.T) {
	s := newTestStore(t)
	r := NewRegistry(s, nil)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id, err := r.Allocate(ctx, "P", TypeDecision)
		require.NoError(t, err)
		require.False(t, seen[id])
		seen[id] = true
	}
	require.Len(t, seen, 1000)
	for i := 1; i <= 1000; i++ {
		require.Contains(t, seen, fmt.Sprintf("P-D-%04d", i))
	}
}

func TestRegisterAndResolveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	r := NewRegistry(s, nil)
	ctx := context.Background()

	id, err := r.Allocate(ctx, "P", TypeDecision)
	require.NoError(t, err)
	require.NoError(t, r.Register(ctx, id, "uuid-1", "decisions", "P"))

	entry, err := r.Resolve(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "uuid-1", entry.EntityUUID)
	require.Equal(t, "decisions", entry.Collection)
	require.Equal(t, "P", entry.Project)
}

func TestBulkBackfillOrdersByCreatedAt(t *testing.T) {
	s := newTestStore(t)
	r := NewRegistry(s, nil)
	ctx := context.Background()

	entities := []MissingEntity{
		{UUID: "newer", Collection: "decisions", Project: "P", EntityType: TypeDecision, CreatedAtMs: 200},
		{UUID: "older", Collection: "decisions", Project: "P", EntityType: TypeDecision, CreatedAtMs: 100},
	}
	ids, err := r.BulkBackfill(ctx, entities)
	require.NoError(t, err)
	require.Equal(t, "P-D-0001", ids["older"])
	require.Equal(t, "P-D-0002", ids["newer"])
}
