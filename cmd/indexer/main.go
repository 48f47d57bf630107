// Command indexer backfills the Qdrant node-embedding collection from a
// persisted graph snapshot: it loads the graph from Neo4j, embeds every
// node's content through Ollama, and upserts the vectors in batches.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/cortexkg/cortex/engine/domain"
	"github.com/cortexkg/cortex/engine/persist"
	"github.com/cortexkg/cortex/engine/semantic"
	"github.com/cortexkg/cortex/engine/suggest"
	"github.com/cortexkg/cortex/pkg/fn"
	"github.com/cortexkg/cortex/pkg/ollama"
	"github.com/cortexkg/cortex/pkg/vcache"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("indexer failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	neo4jURL := envOr("NEO4J_URL", "neo4j://localhost:7687")
	qdrantURL := envOr("QDRANT_URL", "localhost:6334")
	collection := envOr("QDRANT_COLLECTION", "cortex-nodes")
	ollamaURL := envOr("OLLAMA_URL", "http://localhost:11434")
	model := envOr("OLLAMA_MODEL", "nomic-embed-text")
	dims := envIntOr("EMBED_DIMS", 768)
	workers := envIntOr("INDEX_WORKERS", 4)

	driver, err := neo4j.NewDriverWithContext(neo4jURL,
		neo4j.BasicAuth(envOr("NEO4J_USER", "neo4j"), envOr("NEO4J_PASS", "password"), ""))
	if err != nil {
		return err
	}
	defer driver.Close(ctx)

	vectors, err := semantic.New(qdrantURL, collection)
	if err != nil {
		return err
	}
	defer vectors.Close()
	if err := vectors.EnsureCollection(ctx, dims); err != nil {
		return err
	}

	embedder := vcache.NewCachedEmbedder(
		ollama.NewEmbedClient(ollamaURL, model, ollama.ClientOpts{RequestsPerSecond: 10, Burst: 10}),
		vcache.New(vcache.DefaultMaxSize, time.Hour),
	)

	snap, err := persist.NewNeo4j(driver).Load(ctx)
	if err != nil {
		return err
	}
	logger.Info("snapshot loaded", "nodes", len(snap.Nodes))

	embed := fn.BatchStage(workers, func(ctx context.Context, n domain.Node) fn.Result[semantic.NodeVector] {
		vec, err := embedder.Embed(ctx, suggest.EmbedText(n))
		if err != nil {
			return fn.Errf[semantic.NodeVector]("embed %s: %w", n.ID, err)
		}
		return fn.Ok(semantic.NodeVector{
			NodeID:    n.ID,
			NodeType:  string(n.Type),
			Title:     n.Content.Title,
			Embedding: vec,
		})
	})

	indexed := 0
	for _, batch := range fn.Chunk(snap.Nodes, 64) {
		nvs, err := embed(ctx, batch).Unwrap()
		if err != nil {
			return err
		}
		if err := vectors.Upsert(ctx, nvs); err != nil {
			return err
		}
		indexed += len(nvs)
		logger.Info("batch indexed", "done", indexed, "total", len(snap.Nodes))
	}

	logger.Info("backfill complete", "indexed", indexed, "cache", embedder.Stats())
	return nil
}
