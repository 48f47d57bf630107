// Package ingest runs incoming nodes through a staged pipeline: validate,
// embed, index into the vector store, then insert into the graph. Nodes
// arrive over NATS; failures retry with a counted header and land in a
// dead letter subject when exhausted.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cortexkg/cortex/engine/domain"
	"github.com/cortexkg/cortex/engine/semantic"
	"github.com/cortexkg/cortex/pkg/fn"
	"github.com/cortexkg/cortex/pkg/natsutil"
)

const (
	// Subject carries nodes to ingest.
	Subject = "cortex.ingest"
	// DLQSubject receives nodes that exhausted their retries.
	DLQSubject = "cortex.ingest.dlq"
	// Queue is the competing-consumer group name.
	Queue = "cortex-ingest"
	// MaxRetries before a node goes to the DLQ.
	MaxRetries = 3
)

// Embedder produces the node's embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Indexer stores node vectors for similarity search.
type Indexer interface {
	Upsert(ctx context.Context, vectors []semantic.NodeVector) error
}

// GraphWriter inserts the node into the knowledge graph.
type GraphWriter interface {
	AddNode(ctx context.Context, n domain.Node) error
}

// Deps are the pipeline's collaborators.
type Deps struct {
	Embedder Embedder
	Indexer  Indexer
	Graph    GraphWriter
	Logger   *slog.Logger
}

// embeddedNode pairs a validated node with its vector between stages.
type embeddedNode struct {
	node   domain.Node
	vector []float64
}

// Validate rejects structurally invalid nodes before any provider call.
var Validate fn.Stage[domain.Node, domain.Node] = func(_ context.Context, n domain.Node) fn.Result[domain.Node] {
	if err := domain.ValidateNode(n); err != nil {
		return fn.Err[domain.Node](err)
	}
	return fn.Ok(n)
}

// NewEmbed embeds the node's title and description.
func NewEmbed(embedder Embedder) fn.Stage[domain.Node, embeddedNode] {
	return func(ctx context.Context, n domain.Node) fn.Result[embeddedNode] {
		text := n.Content.Title
		if n.Content.Description != "" {
			text += "\n" + n.Content.Description
		}
		vec, err := embedder.Embed(ctx, text)
		if err != nil {
			return fn.Err[embeddedNode](fmt.Errorf("embed node %s: %w", n.ID, err))
		}
		return fn.Ok(embeddedNode{node: n, vector: vec})
	}
}

// NewIndex upserts the node vector into the vector store.
func NewIndex(indexer Indexer) fn.Stage[embeddedNode, embeddedNode] {
	return func(ctx context.Context, en embeddedNode) fn.Result[embeddedNode] {
		nv := semantic.NodeVector{
			NodeID:    en.node.ID,
			NodeType:  string(en.node.Type),
			Title:     en.node.Content.Title,
			Embedding: en.vector,
		}
		if err := indexer.Upsert(ctx, []semantic.NodeVector{nv}); err != nil {
			return fn.Err[embeddedNode](fmt.Errorf("index node %s: %w", en.node.ID, err))
		}
		return fn.Ok(en)
	}
}

// NewStore inserts the node into the graph. This runs last so a provider
// failure earlier in the pipeline never leaves a half-ingested node.
func NewStore(graph GraphWriter) fn.Stage[embeddedNode, string] {
	return func(ctx context.Context, en embeddedNode) fn.Result[string] {
		if err := graph.AddNode(ctx, en.node); err != nil {
			return fn.Err[string](fmt.Errorf("store node %s: %w", en.node.ID, err))
		}
		return fn.Ok(en.node.ID)
	}
}

// timedTap logs stage entry with duration on exit.
func timedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(_ context.Context, t T) fn.Result[T] {
		start := time.Now()
		defer func() {
			log.Debug("stage", "name", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// NewPipeline wires validate → embed → index → store, each under a span.
func NewPipeline(deps Deps) fn.Stage[domain.Node, string] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	validated := fn.Then(timedTap[domain.Node]("validate", log), fn.TracedStage("ingest.validate", Validate))
	embedded := fn.Then(validated, fn.TracedStage("ingest.embed", NewEmbed(deps.Embedder)))
	indexed := fn.Then(embedded, fn.TracedStage("ingest.index", NewIndex(deps.Indexer)))
	return fn.Then(indexed, fn.TracedStage("ingest.store", NewStore(deps.Graph)))
}

// deadLetter is the DLQ payload.
type deadLetter struct {
	Node     domain.Node `json:"node"`
	Error    string      `json:"error"`
	Attempts int         `json:"attempts"`
}

// StartConsumer subscribes to the ingest subject in a queue group. Failed
// nodes are re-published with an incremented attempt header; after
// MaxRetries they are moved to the DLQ.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return natsutil.QueueSubscribe(nc, Subject, Queue, func(ctx context.Context, n domain.Node, msg *nats.Msg) {
		attempt := natsutil.Attempt(msg)
		r := pipeline(ctx, n)
		if r.IsOk() {
			id, _ := r.Unwrap()
			log.Info("node ingested", "node", id, "attempt", attempt)
			return
		}

		_, pipeErr := r.Unwrap()
		attempt++
		if attempt >= MaxRetries {
			dl := deadLetter{Node: n, Error: pipeErr.Error(), Attempts: attempt}
			if err := natsutil.Publish(ctx, nc, DLQSubject, dl); err != nil {
				log.Error("dead letter publish failed", "node", n.ID, "error", err)
			} else {
				log.Warn("node sent to dead letter", "node", n.ID, "error", pipeErr)
			}
			return
		}
		if err := natsutil.Republish(ctx, nc, Subject, n, attempt); err != nil {
			log.Error("retry publish failed", "node", n.ID, "error", err)
			return
		}
		log.Warn("node requeued", "node", n.ID, "attempt", attempt, "error", pipeErr)
	})
}
