package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalBackendIdempotentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := New(NewLocalBackend(dir), true)
	ctx := context.Background()

	ref1, err := store.Put(ctx, "hello world")
	require.NoError(t, err)
	ref2, err := store.Put(ctx, "hello world")
	require.NoError(t, err)
	require.Equal(t, ref1, ref2)

	content, err := store.Resolve(ctx, ref1)
	require.NoError(t, err)
	require.Equal(t, "hello world", content)
}

func TestResolveBatchOmitsMissing(t *testing.T) {
	dir := t.TempDir()
	store := New(NewLocalBackend(dir), true)
	ctx := context.Background()

	ref, err := store.Put(ctx, "alpha")
	require.NoError(t, err)

	results := store.ResolveBatch(ctx, []string{ref, "sha256:" + "0000000000000000000000000000000000000000000000000000000000000000"[:64]})
	require.Len(t, results, 1)
	require.Equal(t, "alpha", results[ref])
}

func TestGetTextWithFallback(t *testing.T) {
	dir := t.TempDir()
	store := New(NewLocalBackend(dir), true)
	ctx := context.Background()

	require.Equal(t, "inline text", store.GetTextWithFallback(ctx, "", "inline text"))

	ref, err := store.Put(ctx, "blobbed text")
	require.NoError(t, err)
	require.Equal(t, "blobbed text", store.GetTextWithFallback(ctx, ref, "inline text"))
}

func TestDisabledStoreIsNoop(t *testing.T) {
	dir := t.TempDir()
	store := New(NewLocalBackend(dir), false)
	ctx := context.Background()

	ref, err := store.Put(ctx, "content")
	require.NoError(t, err)
	require.Empty(t, ref)
}
