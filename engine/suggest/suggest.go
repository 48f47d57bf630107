// Package suggest proposes relationships for a node from embedding
// similarity. Suggestions are advisory: the graph is never mutated here,
// and a provider failure surfaces as a tagged error with no side effects.
package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cortexkg/cortex/engine/domain"
	"github.com/cortexkg/cortex/engine/semantic"
	"github.com/cortexkg/cortex/pkg/resilience"
)

// Embedder produces an embedding for free text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Searcher runs similarity search over indexed node embeddings.
type Searcher interface {
	Query(ctx context.Context, embedding []float64, topK int, minScore float64, nodeType string) ([]semantic.Match, error)
}

// Suggestion is one proposed edge with its similarity evidence.
type Suggestion struct {
	Relationship domain.Relationship `json:"relationship"`
	Score        float64             `json:"score"`
	TargetTitle  string              `json:"target_title"`
}

// Opts tunes the suggester.
type Opts struct {
	TopK     int
	MinScore float64
	Breaker  resilience.BreakerOpts
}

// Suggester embeds a node's content and searches for similar nodes. Both
// provider calls run through one circuit breaker, so a flapping provider
// stops being hammered.
type Suggester struct {
	embedder Embedder
	searcher Searcher
	breaker  *resilience.Breaker
	logger   *slog.Logger
	topK     int
	minScore float64
}

// New creates a Suggester. TopK defaults to 5, MinScore to 0.7.
func New(embedder Embedder, searcher Searcher, logger *slog.Logger, opts Opts) *Suggester {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MinScore <= 0 {
		opts.MinScore = 0.7
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Suggester{
		embedder: embedder,
		searcher: searcher,
		breaker:  resilience.NewBreaker(opts.Breaker),
		logger:   logger,
		topK:     opts.TopK,
		minScore: opts.MinScore,
	}
}

// EmbedText is the canonical text a node is embedded under.
func EmbedText(n domain.Node) string {
	parts := []string{n.Content.Title}
	if n.Content.Description != "" {
		parts = append(parts, n.Content.Description)
	}
	return strings.Join(parts, "\n")
}

// For returns suggested relationships for the node, strongest first.
// Existing neighbors and the node itself are excluded.
func (s *Suggester) For(ctx context.Context, n domain.Node) ([]Suggestion, error) {
	var matches []semantic.Match
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		vec, err := s.embedder.Embed(ctx, EmbedText(n))
		if err != nil {
			return fmt.Errorf("embed node %s: %w", n.ID, err)
		}
		// topK+1 because the node's own point is usually the best hit.
		matches, err = s.searcher.Query(ctx, vec, s.topK+1, s.minScore, "")
		if err != nil {
			return fmt.Errorf("search for node %s: %w", n.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, &domain.ProviderError{Op: "suggest", Err: err}
	}

	known := make(map[string]bool, len(n.Relationships)+1)
	known[n.ID] = true
	for _, r := range n.Relationships {
		known[r.TargetID] = true
	}

	var out []Suggestion
	for _, m := range matches {
		if known[m.NodeID] || len(out) >= s.topK {
			continue
		}
		out = append(out, Suggestion{
			Relationship: domain.Relationship{
				SourceID: n.ID,
				TargetID: m.NodeID,
				Type:     domain.RelRelated,
				Strength: m.Score,
			},
			Score:       m.Score,
			TargetTitle: m.Title,
		})
	}
	s.logger.Debug("relationship suggestions", "node", n.ID, "candidates", len(matches), "kept", len(out))
	return out, nil
}
