package priming

import (
	"context"
	"testing"

	"github.com/forgeos/graph/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{0, 0, 0, 0}
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

func TestUpsertCreatesThenAccumulatesFindingsCount(t *testing.T) {
	s := newTestStore(t)
	fe := &fakeEmbedder{vectors: map[string][]float32{"alpha beta": {1, 0, 0, 0}}}
	r := New(s, fe, nil)
	ctx := context.Background()

	b, err := r.Upsert(ctx, "P", "territory one", []string{"alpha", "beta"}, 0.6, 3)
	require.NoError(t, err)
	require.Equal(t, 3, b.FindingsCount)
	require.Equal(t, 0.6, b.ConfidenceFloor)

	b2, err := r.Upsert(ctx, "P", "territory one", []string{"alpha", "beta"}, 0, 2)
	require.NoError(t, err)
	require.Equal(t, b.UUID, b2.UUID)
	require.Equal(t, 5, b2.FindingsCount)
	require.Equal(t, 0.6, b2.ConfidenceFloor) // confidenceFloor=0 leaves existing value unchanged
}

func TestFindRelevantAboveThreshold(t *testing.T) {
	s := newTestStore(t)
	fe := &fakeEmbedder{vectors: map[string][]float32{
		"topic keywords": {1, 0, 0, 0},
		"alpha beta":     {1, 0, 0, 0},
	}}
	r := New(s, fe, nil)
	ctx := context.Background()

	_, err := r.Upsert(ctx, "P", "territory one", []string{"alpha", "beta"}, 0.6, 1)
	require.NoError(t, err)

	hits, err := r.FindRelevant(ctx, "topic keywords", "P", 5, 0.7)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "territory one", hits[0].Block.TerritoryName)
}

func TestDeactivateFlipsStatus(t *testing.T) {
	s := newTestStore(t)
	fe := &fakeEmbedder{}
	r := New(s, fe, nil)
	ctx := context.Background()

	b, err := r.Upsert(ctx, "P", "territory one", []string{"a"}, 0.5, 0)
	require.NoError(t, err)

	require.NoError(t, r.Deactivate(ctx, b.UUID))
	got, err := r.Get(ctx, b.UUID)
	require.NoError(t, err)
	require.Equal(t, StatusInactive, got.Status)
}
