package compression

import (
	"context"
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

func TestRegisterInsertsThenGrowsBySetUnion(t *testing.T) {
	s := newTestStore(t)
	r := New(s, nil)
	ctx := context.Background()

	tag, err := r.Register(ctx, RegisterInput{
		CompressionTag:      "tag-1",
		Project:             "P",
		SourceConversation:  "c1",
		TargetConversations: []string{"c2"},
		DecisionsCaptured:   []string{"d1"},
		ArchiveText:         "archive body",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"c2"}, tag.TargetConversations)

	tag2, err := r.Register(ctx, RegisterInput{
		CompressionTag:      "tag-1",
		Project:             "P",
		SourceConversation:  "c1",
		TargetConversations: []string{"c3"},
		DecisionsCaptured:   []string{"d2"},
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"c2", "c3"}, tag2.TargetConversations)
	require.ElementsMatch(t, []string{"d1", "d2"}, tag2.DecisionsCaptured)
	require.Equal(t, tag.UUID, tag2.UUID)
	// checksum from first register is preserved since the repeat omitted ArchiveText
	require.NotEmpty(t, tag2.Checksum)
}

func TestVerifyChecksumRoundTrip(t *testing.T) {
	s := newTestStore(t)
	r := New(s, nil)
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterInput{CompressionTag: "tag-1", Project: "P", ArchiveText: "the raw archive"})
	require.NoError(t, err)

	match, _, _, err := r.VerifyChecksum(ctx, "P", "tag-1", "the raw archive")
	require.NoError(t, err)
	require.True(t, match)

	mismatch, _, _, err := r.VerifyChecksum(ctx, "P", "tag-1", "a different body")
	require.NoError(t, err)
	require.False(t, mismatch)
}

func TestRegisterOverwritesChecksumOnlyWhenNonEmptyAndDifferent(t *testing.T) {
	s := newTestStore(t)
	r := New(s, nil)
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterInput{CompressionTag: "tag-1", Project: "P", ArchiveText: "v1"})
	require.NoError(t, err)

	// repeat register with empty archive text must not clobber the stored checksum
	tag, err := r.Register(ctx, RegisterInput{CompressionTag: "tag-1", Project: "P"})
	require.NoError(t, err)
	match, _, _, err := r.VerifyChecksum(ctx, "P", "tag-1", "v1")
	require.NoError(t, err)
	require.True(t, match)
	require.NotEmpty(t, tag.Checksum)
}
