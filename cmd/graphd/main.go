// Command graphd wires every registry and engine in the graph substrate
// into one process-wide set of collaborators and runs one pass of the TTL
// maintenance sweeps (events, archive, scratchpad). It carries no HTTP
// or tool-protocol surface of its own — those façades are out of scope
// (spec.md §1) and are expected to import this package's Wiring type from a
// thin adapter binary.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/forgeos/graph/internal/attention"
	"github.com/forgeos/graph/internal/blob"
	"github.com/forgeos/graph/internal/compression"
	"github.com/forgeos/graph/internal/config"
	"github.com/forgeos/graph/internal/conflict"
	"github.com/forgeos/graph/internal/conversation"
	"github.com/forgeos/graph/internal/decision"
	"github.com/forgeos/graph/internal/displayid"
	"github.com/forgeos/graph/internal/embed"
	"github.com/forgeos/graph/internal/entanglement"
	"github.com/forgeos/graph/internal/events"
	"github.com/forgeos/graph/internal/flag"
	"github.com/forgeos/graph/internal/gravity"
	"github.com/forgeos/graph/internal/lineage"
	"github.com/forgeos/graph/internal/llmextract"
	"github.com/forgeos/graph/internal/memory"
	"github.com/forgeos/graph/internal/priming"
	"github.com/forgeos/graph/internal/store"
	"github.com/forgeos/graph/internal/syncengine"
	"github.com/forgeos/graph/internal/thread"
)

// Wiring bundles every process-wide collaborator the core engine needs. A
// thin HTTP/tool-protocol façade (out of scope per spec.md §1) constructs
// one of these at startup and calls into it per request — nothing here is a
// package-level singleton, matching the teacher's constructor-injection
// idiom (spec §9).
type Wiring struct {
	Config *config.Config

	Store      *store.SQLiteStore
	Blobs      *blob.Store
	Events     *events.Log
	Embedder   embed.Client

	DisplayIDs   *displayid.Registry
	Conversations *conversation.Registry
	Decisions    *decision.Registry
	Threads      *thread.Registry
	Priming      *priming.Registry
	Flags        *flag.Registry
	Compression  *compression.Registry
	Lineage      *lineage.Registry
	Conflicts    *conflict.Detector
	Entanglement *entanglement.Scanner
	Memory       *memory.Archive
	Scratchpad   *memory.Scratchpad
	Patterns     *memory.Patterns

	Attention *attention.Engine
	Gravity   *gravity.Orchestrator
	Sync      *syncengine.Engine
}

// Wire constructs every collaborator in dependency order: store, blobs,
// events, embedder first; then the registries that depend only on those;
// then the engines that compose over the registries.
func Wire(cfg *config.Config, projectNames []string) (*Wiring, error) {
	s, err := store.New(cfg.StoreURI)
	if err != nil {
		return nil, err
	}

	var backend blob.Backend = blob.NewLocalBackend(cfg.BlobLocalPath)
	if cfg.BlobBackend == "gcs" {
		client := blob.NewS3Client(os.Getenv("BLOB_OBJECT_ACCESS_KEY"), os.Getenv("BLOB_OBJECT_SECRET_KEY"), os.Getenv("BLOB_OBJECT_REGION"), os.Getenv("BLOB_OBJECT_ENDPOINT"))
		backend = blob.NewObjectBackend(client, cfg.BlobObjectBucket)
	}
	blobs := blob.New(backend, cfg.BlobEnabled)

	log := events.NewLog(s, cfg.EventsTTLSeconds)

	var embedder embed.Client = embed.NewOpenAIClient(cfg.EmbedAPIKey, cfg.EmbedModel, cfg.EmbedBatchSize)

	ids := displayid.NewRegistry(s, nil)
	conversations := conversation.NewRegistry(s, log)

	var llm conflict.EntityExtractor
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		llm = llmextract.NewClient(apiKey, "")
	}
	detector := conflict.New(s, embedder, cfg.DecisionConflictSimilarityThreshold, projectNames, llm)

	decisions := decision.New(s, embedder, blobs, ids, log, detector)
	threads := thread.New(s, embedder, ids, log)
	primingReg := priming.New(s, embedder, log)
	flags := flag.New(s, log)
	compressionReg := compression.New(s, log)
	lin := lineage.New(s, log)

	scanner := entanglement.New(s, decisions, threads, lin, blobs, log, cfg.EntanglementStrongThreshold, cfg.EntanglementWeakThreshold)

	archive := memory.NewArchive(s, blobs, log)
	scratchpad := memory.NewScratchpad(s, time.Duration(cfg.ScratchpadDefaultTTLSeconds)*time.Second)
	patterns := memory.NewPatterns(s, embedder, log, cfg.PatternMergeThreshold, cfg.PatternConfidenceSimilarityWeight, cfg.PatternConfidenceScoreWeight, cfg.PatternDefaultLimit)

	embedFn := func(ctx context.Context, text string) ([]float32, error) {
		return embed.EmbedOne(ctx, embedder, text)
	}

	attn := attention.New(s, embedFn, scanner, log, cfg)
	grav := gravity.New(s, attn, embedFn, cfg)

	if path := os.Getenv("GRAVITY_CONFIG_FILE"); path != "" {
		defaults, err := gravity.LoadDefaultConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := gravity.Seed(context.Background(), s, defaults); err != nil {
			return nil, err
		}
	}

	syncEng := syncengine.New(syncengine.Collaborators{
		Decisions:   decisions,
		Threads:     threads,
		Flags:       flags,
		Priming:     primingReg,
		Compression: compressionReg,
		Lineage:     lin,
	}, nil)

	return &Wiring{
		Config: cfg, Store: s, Blobs: blobs, Events: log, Embedder: embedder,
		DisplayIDs: ids, Conversations: conversations, Decisions: decisions, Threads: threads,
		Priming: primingReg, Flags: flags, Compression: compressionReg, Lineage: lin,
		Conflicts: detector, Entanglement: scanner, Memory: archive, Scratchpad: scratchpad, Patterns: patterns,
		Attention: attn, Gravity: grav, Sync: syncEng,
	}, nil
}

// RunMaintenance sweeps every TTL-bearing collection once. A host runtime
// is expected to call this on a timer (spec §1: the core does not own its
// own concurrency scheduler).
func (w *Wiring) RunMaintenance(ctx context.Context, logger *slog.Logger) {
	if n, err := w.Events.Sweep(ctx); err != nil {
		logger.Error("events sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("swept expired events", "count", n)
	}
	if n, err := w.Memory.Sweep(ctx); err != nil {
		logger.Error("archive sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("swept expired archive entries", "count", n)
	}
	if n, err := w.Scratchpad.Sweep(ctx); err != nil {
		logger.Error("scratchpad sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("swept expired scratchpad entries", "count", n)
	}
}

func main() {
	handler := slog.NewJSONHandler(os.Stdout, nil)
	logger := slog.New(handler)

	cfg := config.Load()
	w, err := Wire(cfg, nil)
	if err != nil {
		logger.Error("wiring failed", "error", err)
		os.Exit(1)
	}
	defer w.Store.Close()

	ctx := context.Background()
	w.RunMaintenance(ctx, logger)
	logger.Info("graphd wired and idle; no HTTP/tool façade in this binary")
}
