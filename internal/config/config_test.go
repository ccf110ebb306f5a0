package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWhenEnvUnset(t *testing.T) {
	for _, k := range []string{"STORE_URI", "EMBED_MODEL", "STALE_MAX_HOPS", "ATTENTION_WEIGHT_SIMILARITY", "BLOB_ENABLED"} {
		os.Unsetenv(k)
	}

	cfg := Load()
	require.Equal(t, "file:forgeos.db", cfg.StoreURI)
	require.Equal(t, "text-embedding-3-large", cfg.EmbedModel)
	require.Equal(t, 3, cfg.StaleMaxHops)
	require.Equal(t, 0.45, cfg.AttentionWeightSimilarity)
	require.True(t, cfg.BlobEnabled)
}

func TestLoadPrefersEnvOverDefaults(t *testing.T) {
	t.Setenv("STORE_URI", "file:/tmp/custom.db")
	t.Setenv("STALE_MAX_HOPS", "7")
	t.Setenv("ATTENTION_WEIGHT_TIER", "0.33")
	t.Setenv("BLOB_ENABLED", "false")

	cfg := Load()
	require.Equal(t, "file:/tmp/custom.db", cfg.StoreURI)
	require.Equal(t, 7, cfg.StaleMaxHops)
	require.Equal(t, 0.33, cfg.AttentionWeightTier)
	require.False(t, cfg.BlobEnabled)
}

func TestLoadIgnoresMalformedNumericEnv(t *testing.T) {
	t.Setenv("STALE_MAX_DAYS", "not-a-number")

	cfg := Load()
	require.Equal(t, 30, cfg.StaleMaxDays)
}
