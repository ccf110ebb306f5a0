package main

import (
	"testing"

	"github.com/forgeos/graph/internal/config"
	"github.com/stretchr/testify/require"
)

func TestWireBuildsEveryCollaborator(t *testing.T) {
	cfg := config.Load()
	cfg.StoreURI = ":memory:"

	w, err := Wire(cfg, []string{"ForgeOS", "Kythera"})
	require.NoError(t, err)
	t.Cleanup(func() { w.Store.Close() })

	require.NotNil(t, w.Store)
	require.NotNil(t, w.Blobs)
	require.NotNil(t, w.Events)
	require.NotNil(t, w.Embedder)
	require.NotNil(t, w.DisplayIDs)
	require.NotNil(t, w.Conversations)
	require.NotNil(t, w.Decisions)
	require.NotNil(t, w.Threads)
	require.NotNil(t, w.Priming)
	require.NotNil(t, w.Flags)
	require.NotNil(t, w.Compression)
	require.NotNil(t, w.Lineage)
	require.NotNil(t, w.Conflicts)
	require.NotNil(t, w.Entanglement)
	require.NotNil(t, w.Memory)
	require.NotNil(t, w.Scratchpad)
	require.NotNil(t, w.Patterns)
	require.NotNil(t, w.Attention)
	require.NotNil(t, w.Gravity)
	require.NotNil(t, w.Sync)
}

func TestWireSkipsGravitySeedWhenConfigFileUnset(t *testing.T) {
	t.Setenv("GRAVITY_CONFIG_FILE", "")
	cfg := config.Load()
	cfg.StoreURI = ":memory:"

	w, err := Wire(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Store.Close() })
}
