package events

import (
	"context"
	"testing"
	"time"

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

func TestEmitAndQueryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	log := NewLog(s, 0)
	ctx := context.Background()

	require.NoError(t, log.Emit(ctx, TypeDecisionInserted, map[string]interface{}{"uuid": "d1"}))
	require.NoError(t, log.Emit(ctx, TypeThreadUpserted, map[string]interface{}{"uuid": "t1"}))

	all, err := log.Query(ctx, "", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	decisionsOnly, err := log.Query(ctx, TypeDecisionInserted, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, decisionsOnly, 1)
	require.Equal(t, "d1", decisionsOnly[0].Details["uuid"])
}

func TestQueryRespectsLimitAndSince(t *testing.T) {
	s := newTestStore(t)
	log := NewLog(s, 0)
	ctx := context.Background()

	cutoff := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, log.Emit(ctx, TypeFlagPlanted, nil))
	}

	recent, err := log.Query(ctx, TypeFlagPlanted, cutoff.Add(-time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	none, err := log.Query(ctx, TypeFlagPlanted, cutoff.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestSweepKeepsUnexpiredEvents(t *testing.T) {
	s := newTestStore(t)
	log := NewLog(s, -1) // a non-positive TTL falls back to the default 90 days
	ctx := context.Background()

	require.NoError(t, log.Emit(ctx, TypeForget, nil))

	n, err := log.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n) // freshly emitted event has not expired yet

	all, err := log.Query(ctx, "", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
}
