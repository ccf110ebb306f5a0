package flag

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

func TestPlantIsNoOpOnRepeatCall(t *testing.T) {
	s := newTestStore(t)
	r := New(s, nil)
	ctx := context.Background()
	conv := uuid.New()

	f1, err := r.Plant(ctx, "P", "noticed a recurring pattern", conv, CategoryIsomorphism)
	require.NoError(t, err)

	f2, err := r.Plant(ctx, "P", "noticed a recurring pattern", conv, CategoryGeneral)
	require.NoError(t, err)

	require.Equal(t, f1.UUID, f2.UUID)
	require.Equal(t, CategoryIsomorphism, f2.Category) // second plant call is a true no-op, category unchanged
}

func TestMarkCompiledSetsStatusAndTarget(t *testing.T) {
	s := newTestStore(t)
	r := New(s, nil)
	ctx := context.Background()

	f, err := r.Plant(ctx, "P", "a flag", uuid.New(), CategoryTrap)
	require.NoError(t, err)

	compiled, err := r.MarkCompiled(ctx, f.UUID, "priming-uuid-1")
	require.NoError(t, err)
	require.Equal(t, StatusCompiled, compiled.Status)
	require.Equal(t, "priming-uuid-1", compiled.CompiledInto)
}

func TestGetPendingFiltersByCategory(t *testing.T) {
	s := newTestStore(t)
	r := New(s, nil)
	ctx := context.Background()

	_, err := r.Plant(ctx, "P", "flag one", uuid.New(), CategoryTrap)
	require.NoError(t, err)
	_, err = r.Plant(ctx, "P", "flag two", uuid.New(), CategoryGeneral)
	require.NoError(t, err)

	traps, err := r.GetPending(ctx, "P", CategoryTrap)
	require.NoError(t, err)
	require.Len(t, traps, 1)

	all, err := r.GetPending(ctx, "P", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
}
