// Package main implements the Cortex knowledge-graph API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/cortexkg/cortex/engine/ingest"
	"github.com/cortexkg/cortex/engine/knowledge"
	"github.com/cortexkg/cortex/engine/persist"
	"github.com/cortexkg/cortex/engine/semantic"
	"github.com/cortexkg/cortex/engine/suggest"
	"github.com/cortexkg/cortex/pkg/metrics"
	"github.com/cortexkg/cortex/pkg/mid"
	"github.com/cortexkg/cortex/pkg/ollama"
	"github.com/cortexkg/cortex/pkg/vcache"
)

// Config holds all environment-based configuration. Neo4j, Qdrant, NATS,
// and Ollama are optional: unset URLs disable the feature they back.
type Config struct {
	Port       string
	CORSOrigin string

	Neo4jURL  string
	Neo4jUser string
	Neo4jPass string

	NATSURL string

	QdrantURL  string
	Collection string
	EmbedDims  int

	OllamaURL   string
	OllamaModel string
	EmbedRPS    float64

	CacheSize int
	CacheTTL  time.Duration
}

func loadConfig() Config {
	return Config{
		Port:        envOr("PORT", "8080"),
		CORSOrigin:  envOr("CORS_ORIGIN", "*"),
		Neo4jURL:    os.Getenv("NEO4J_URL"),
		Neo4jUser:   envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:   envOr("NEO4J_PASS", "password"),
		NATSURL:     os.Getenv("NATS_URL"),
		QdrantURL:   os.Getenv("QDRANT_URL"),
		Collection:  envOr("QDRANT_COLLECTION", "cortex-nodes"),
		EmbedDims:   envIntOr("EMBED_DIMS", 768),
		OllamaURL:   os.Getenv("OLLAMA_URL"),
		OllamaModel: envOr("OLLAMA_MODEL", "nomic-embed-text"),
		EmbedRPS:    envFloatOr("EMBED_RPS", 10),
		CacheSize:   envIntOr("VCACHE_SIZE", 1000),
		CacheTTL:    envDurationOr("VCACHE_TTL", time.Hour),
	}
}

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

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(loadConfig(), logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	svcOpts := []knowledge.Option{
		knowledge.WithLogger(logger),
		knowledge.WithMetrics(reg),
	}

	// --- NATS (optional): mutation events + ingest consumer ---
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		var err error
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("cortex-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		svcOpts = append(svcOpts, knowledge.WithPublisher(knowledge.NewNATSPublisher(nc, logger)))
	}

	svc := knowledge.NewService(svcOpts...)

	// --- Neo4j (optional): snapshot persistence ---
	var store persist.Store
	if cfg.Neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(ctx)
		store = persist.NewNeo4j(driver)

		snap, err := store.Load(ctx)
		if err != nil {
			logger.Warn("snapshot load failed, starting empty", "err", err)
		} else if len(snap.Nodes) > 0 {
			if err := svc.Restore(ctx, snap); err != nil {
				return fmt.Errorf("restore snapshot: %w", err)
			}
			logger.Info("graph restored", "nodes", len(snap.Nodes), "relationships", len(snap.Relationships))
		}
	}

	// --- Ollama + Qdrant (optional): embeddings, indexing, suggestions ---
	var embedder *vcache.CachedEmbedder
	if cfg.OllamaURL != "" {
		client := ollama.NewEmbedClient(cfg.OllamaURL, cfg.OllamaModel, ollama.ClientOpts{
			RequestsPerSecond: cfg.EmbedRPS,
			Burst:             int(cfg.EmbedRPS),
		})
		embedder = vcache.NewCachedEmbedder(client, vcache.New(cfg.CacheSize, cfg.CacheTTL))
	}

	var vectors *semantic.VectorStore
	var suggester *suggest.Suggester
	if cfg.QdrantURL != "" && embedder != nil {
		var err error
		vectors, err = semantic.New(cfg.QdrantURL, cfg.Collection)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer vectors.Close()
		if err := vectors.EnsureCollection(ctx, cfg.EmbedDims); err != nil {
			return fmt.Errorf("ensure collection: %w", err)
		}
		suggester = suggest.New(embedder, vectors, logger, suggest.Opts{})

		if nc != nil {
			sub, err := ingest.StartConsumer(nc, ingest.Deps{
				Embedder: embedder,
				Indexer:  vectors,
				Graph:    svc,
				Logger:   logger,
			})
			if err != nil {
				return fmt.Errorf("start ingest consumer: %w", err)
			}
			defer sub.Unsubscribe()
			logger.Info("ingest consumer started", "subject", ingest.Subject)
		}
	}

	api := &apiServer{
		svc:       svc,
		suggester: suggester,
		store:     store,
		embedder:  embedder,
		logger:    logger,
	}

	mux := http.NewServeMux()
	api.routes(mux)
	mux.Handle("GET /metrics", reg.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.OTel("cortex-api"),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
