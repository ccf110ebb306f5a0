package decision

import (
	"context"
	"testing"
	"time"

	"github.com/forgeos/graph/internal/displayid"
	"github.com/forgeos/graph/internal/events"
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

type fakeConflictDetector struct {
	calls int
	n     int
}

func (f *fakeConflictDetector) DetectAndRegister(ctx context.Context, decisionUUID, text string, tier *float64, project string) (int, error) {
	f.calls++
	return f.n, nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewWithDims(":memory:", 4)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func tierPtr(v float64) *float64 { return &v }

// TestUpsertInsertThenValidateThenUpdate exercises the three-action upsert
// trichotomy (spec property 4) end to end, mirroring scenario S1.
func TestUpsertInsertThenValidateThenUpdate(t *testing.T) {
	s := newTestStore(t)
	ids := displayid.NewRegistry(s, nil)
	log := events.NewLog(s, 0)
	r := New(s, fakeEmbedder{}, nil, ids, log, nil)
	ctx := context.Background()
	conv := uuid.New()

	in := UpsertInput{
		Text:               "Use LSM trees",
		Project:            "P",
		OriginatedConvUUID: conv,
		Tier:               tierPtr(0.7),
	}

	d, action, err := r.Upsert(ctx, in)
	require.NoError(t, err)
	require.Equal(t, ActionInserted, action)
	require.NotEmpty(t, d.GlobalDisplayID)
	require.NotEmpty(t, d.Embedding)
	require.Equal(t, 0, d.HopsSinceValidated)
	firstUUID := d.UUID
	firstValidatedMs := d.LastValidatedMs

	// identical text + identical conv -> same uuid, validated (no text change)
	d2, action2, err := r.Upsert(ctx, in)
	require.NoError(t, err)
	require.Equal(t, ActionValidated, action2)
	require.Equal(t, firstUUID, d2.UUID)
	require.Equal(t, 0, d2.HopsSinceValidated)
	require.GreaterOrEqual(t, d2.LastValidatedMs, firstValidatedMs)

	// bump hops, then send changed text for same identity -> updated
	require.NoError(t, r.IncrementHops(ctx, "P", nil))
	bumped, err := r.Get(ctx, firstUUID)
	require.NoError(t, err)
	require.Equal(t, 1, bumped.HopsSinceValidated)

	in.Text = "Use LSM trees for the write path"
	d3, action3, err := r.Upsert(ctx, in)
	require.NoError(t, err)
	require.Equal(t, ActionUpdated, action3)
	require.Equal(t, firstUUID, d3.UUID)
	require.Equal(t, "Use LSM trees for the write path", d3.Text)
	require.Equal(t, 0, d3.HopsSinceValidated)
}

func TestUpsertRunsConflictDetectionOnlyOnInsert(t *testing.T) {
	s := newTestStore(t)
	ids := displayid.NewRegistry(s, nil)
	fc := &fakeConflictDetector{n: 2}
	r := New(s, fakeEmbedder{}, nil, ids, nil, fc)
	ctx := context.Background()
	conv := uuid.New()

	in := UpsertInput{Text: "pick postgres", Project: "P", OriginatedConvUUID: conv}
	_, action, err := r.Upsert(ctx, in)
	require.NoError(t, err)
	require.Equal(t, ActionInserted, action)
	require.Equal(t, 1, fc.calls)

	_, action2, err := r.Upsert(ctx, in)
	require.NoError(t, err)
	require.Equal(t, ActionValidated, action2)
	require.Equal(t, 1, fc.calls) // validated path never re-runs conflict detection
}

func TestGetActiveDecisionsSortsByTierDescendingNilLast(t *testing.T) {
	s := newTestStore(t)
	ids := displayid.NewRegistry(s, nil)
	r := New(s, fakeEmbedder{}, nil, ids, nil, nil)
	ctx := context.Background()

	_, _, err := r.Upsert(ctx, UpsertInput{Text: "low tier", Project: "P", OriginatedConvUUID: uuid.New(), Tier: tierPtr(0.2)})
	require.NoError(t, err)
	_, _, err = r.Upsert(ctx, UpsertInput{Text: "high tier", Project: "P", OriginatedConvUUID: uuid.New(), Tier: tierPtr(0.9)})
	require.NoError(t, err)
	_, _, err = r.Upsert(ctx, UpsertInput{Text: "no tier", Project: "P", OriginatedConvUUID: uuid.New()})
	require.NoError(t, err)

	active, err := r.GetActiveDecisions(ctx, "P")
	require.NoError(t, err)
	require.Len(t, active, 3)
	require.Equal(t, "high tier", active[0].Text)
	require.Equal(t, "low tier", active[1].Text)
	require.Equal(t, "no tier", active[2].Text)
}

func TestGetStaleDecisionsByHopsAndAge(t *testing.T) {
	s := newTestStore(t)
	ids := displayid.NewRegistry(s, nil)
	r := New(s, fakeEmbedder{}, nil, ids, nil, nil)
	ctx := context.Background()

	d, _, err := r.Upsert(ctx, UpsertInput{Text: "edge case decision", Project: "P", OriginatedConvUUID: uuid.New()})
	require.NoError(t, err)

	stale, err := r.GetStaleDecisions(ctx, "P", 3, 30)
	require.NoError(t, err)
	require.Empty(t, stale)

	fresh, err := r.Get(ctx, d.UUID)
	require.NoError(t, err)
	fresh.HopsSinceValidated = 3
	require.NoError(t, s.Put(ctx, collection, store.Envelope{
		ID: fresh.UUID, Project: "P", Status: string(fresh.Status),
		TextHash: fresh.TextHash, CreatedAtMs: fresh.CreatedAtMs, UpdatedAtMs: fresh.UpdatedAtMs,
	}, fresh))

	stale2, err := r.GetStaleDecisions(ctx, "P", 3, 30)
	require.NoError(t, err)
	require.Len(t, stale2, 1)
	require.Equal(t, d.UUID, stale2[0].UUID)

	fresh.HopsSinceValidated = 0
	fresh.LastValidatedMs = time.Now().AddDate(0, 0, -31).UnixMilli()
	require.NoError(t, s.Put(ctx, collection, store.Envelope{
		ID: fresh.UUID, Project: "P", Status: string(fresh.Status),
		TextHash: fresh.TextHash, CreatedAtMs: fresh.CreatedAtMs, UpdatedAtMs: fresh.UpdatedAtMs,
	}, fresh))

	stale3, err := r.GetStaleDecisions(ctx, "P", 3, 30)
	require.NoError(t, err)
	require.Len(t, stale3, 1)
	require.Equal(t, d.UUID, stale3[0].UUID)
}

func TestSupersedeMarksStatusAndLink(t *testing.T) {
	s := newTestStore(t)
	ids := displayid.NewRegistry(s, nil)
	r := New(s, fakeEmbedder{}, nil, ids, nil, nil)
	ctx := context.Background()

	d, _, err := r.Upsert(ctx, UpsertInput{Text: "old decision", Project: "P", OriginatedConvUUID: uuid.New()})
	require.NoError(t, err)
	newD, _, err := r.Upsert(ctx, UpsertInput{Text: "new decision", Project: "P", OriginatedConvUUID: uuid.New()})
	require.NoError(t, err)

	require.NoError(t, r.Supersede(ctx, d.UUID, newD.UUID))

	got, err := r.Get(ctx, d.UUID)
	require.NoError(t, err)
	require.Equal(t, StatusSuperseded, got.Status)
	require.Equal(t, newD.UUID, got.SupersededBy)

	active, err := r.GetActiveDecisions(ctx, "P")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, newD.UUID, active[0].UUID)
}

func TestIncrementHopsSkipsExcluded(t *testing.T) {
	s := newTestStore(t)
	ids := displayid.NewRegistry(s, nil)
	r := New(s, fakeEmbedder{}, nil, ids, nil, nil)
	ctx := context.Background()

	d1, _, err := r.Upsert(ctx, UpsertInput{Text: "one", Project: "P", OriginatedConvUUID: uuid.New()})
	require.NoError(t, err)
	d2, _, err := r.Upsert(ctx, UpsertInput{Text: "two", Project: "P", OriginatedConvUUID: uuid.New()})
	require.NoError(t, err)

	require.NoError(t, r.IncrementHops(ctx, "P", map[string]bool{d1.UUID: true}))

	got1, err := r.Get(ctx, d1.UUID)
	require.NoError(t, err)
	require.Equal(t, 0, got1.HopsSinceValidated)

	got2, err := r.Get(ctx, d2.UUID)
	require.NoError(t, err)
	require.Equal(t, 1, got2.HopsSinceValidated)
}

func TestFindSimilarAboveThreshold(t *testing.T) {
	s := newTestStore(t)
	ids := displayid.NewRegistry(s, nil)
	r := New(s, fakeEmbedder{}, nil, ids, nil, nil)
	ctx := context.Background()

	_, _, err := r.Upsert(ctx, UpsertInput{Text: "use LSM trees for storage", Project: "P", OriginatedConvUUID: uuid.New()})
	require.NoError(t, err)

	hits, sims, err := r.FindSimilar(ctx, "P", "querying for similar storage decisions", 5, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Len(t, sims, 1)
	require.GreaterOrEqual(t, sims[0], 0.5)
}
