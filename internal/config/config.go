// Package config loads typed configuration from a .env file (when present)
// and the process environment, following the shape spec.md §6 enumerates.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every tunable the substrate's components read at startup.
type Config struct {
	StoreURI string

	EmbedAPIKey   string
	EmbedModel    string
	EmbedBatchSize int

	BlobBackend      string // "local" or "gcs"
	BlobLocalPath    string
	BlobObjectBucket string
	BlobEnabled      bool

	StaleMaxHops int
	StaleMaxDays int

	DecisionConflictSimilarityThreshold float64

	EntanglementStrongThreshold float64
	EntanglementWeakThreshold   float64

	AttentionWeightSimilarity float64
	AttentionWeightTier       float64
	AttentionWeightFreshness  float64
	AttentionWeightConflict   float64
	AttentionWeightCategory   float64
	AttentionFreshnessHalfLifeDays float64

	GravityDefaultBudget       int
	GravityMaxLenses           int
	GravityConvergenceThreshold float64
	GravityConvergenceBoost     float64
	GravityDivergenceTierDelta  float64

	PrimingTerritoryMatchThreshold float64

	EventsTTLSeconds int

	ScratchpadDefaultTTLSeconds int

	PatternMergeThreshold          float64
	PatternConfidenceSimilarityWeight float64
	PatternConfidenceScoreWeight      float64
	PatternDefaultLimit               int
}

// Load reads .env (if present, ignoring a missing file) then the process
// environment, applying defaults matching spec.md §6's table.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		StoreURI: getString("STORE_URI", "file:forgeos.db"),

		EmbedAPIKey:    getString("EMBED_API_KEY", ""),
		EmbedModel:     getString("EMBED_MODEL", "text-embedding-3-large"),
		EmbedBatchSize: getInt("EMBED_BATCH_SIZE", 128),

		BlobBackend:      getString("BLOB_BACKEND", "local"),
		BlobLocalPath:    getString("BLOB_LOCAL_PATH", "data/blobs"),
		BlobObjectBucket: getString("BLOB_OBJECT_BUCKET", ""),
		BlobEnabled:      getBool("BLOB_ENABLED", true),

		StaleMaxHops: getInt("STALE_MAX_HOPS", 3),
		StaleMaxDays: getInt("STALE_MAX_DAYS", 30),

		DecisionConflictSimilarityThreshold: getFloat("DECISION_CONFLICT_SIMILARITY_THRESHOLD", 0.85),

		EntanglementStrongThreshold: getFloat("ENTANGLEMENT_STRONG_THRESHOLD", 0.65),
		EntanglementWeakThreshold:   getFloat("ENTANGLEMENT_WEAK_THRESHOLD", 0.50),

		AttentionWeightSimilarity:      getFloat("ATTENTION_WEIGHT_SIMILARITY", 0.45),
		AttentionWeightTier:            getFloat("ATTENTION_WEIGHT_TIER", 0.20),
		AttentionWeightFreshness:       getFloat("ATTENTION_WEIGHT_FRESHNESS", 0.15),
		AttentionWeightConflict:        getFloat("ATTENTION_WEIGHT_CONFLICT", 0.10),
		AttentionWeightCategory:        getFloat("ATTENTION_WEIGHT_CATEGORY", 0.10),
		AttentionFreshnessHalfLifeDays: getFloat("ATTENTION_FRESHNESS_HALF_LIFE", 30),

		GravityDefaultBudget:        getInt("GRAVITY_DEFAULT_BUDGET", 6000),
		GravityMaxLenses:            getInt("GRAVITY_MAX_LENSES", 6),
		GravityConvergenceThreshold: getFloat("GRAVITY_CONVERGENCE_THRESHOLD", 0.70),
		GravityConvergenceBoost:     getFloat("GRAVITY_CONVERGENCE_BOOST", 1.3),
		GravityDivergenceTierDelta:  getFloat("GRAVITY_DIVERGENCE_TIER_DELTA", 0.25),

		PrimingTerritoryMatchThreshold: getFloat("PRIMING_TERRITORY_MATCH_THRESHOLD", 0.7),

		EventsTTLSeconds: getInt("EVENTS_TTL_SECONDS", 90*24*60*60),

		ScratchpadDefaultTTLSeconds: getInt("SCRATCHPAD_DEFAULT_TTL", 3600),

		PatternMergeThreshold:             getFloat("PATTERN_MERGE_THRESHOLD", 0.9),
		PatternConfidenceSimilarityWeight: getFloat("PATTERN_CONFIDENCE_SIMILARITY_WEIGHT", 0.6),
		PatternConfidenceScoreWeight:      getFloat("PATTERN_CONFIDENCE_SCORE_WEIGHT", 0.4),
		PatternDefaultLimit:               getInt("PATTERN_DEFAULT_LIMIT", 5),
	}
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
