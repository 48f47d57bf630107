// Package ollama provides an Ollama-backed embedding provider.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cortexkg/cortex/pkg/fn"
	"github.com/cortexkg/cortex/pkg/resilience"
)

// EmbedClient calls Ollama's HTTP embeddings API. Requests are rate
// limited and retried; callers normally wrap it in a vcache.CachedEmbedder.
type EmbedClient struct {
	baseURL string
	model   string
	client  *http.Client
	limiter *resilience.Limiter
	retry   fn.RetryOpts
}

// ClientOpts tunes the embedding client.
type ClientOpts struct {
	// RequestsPerSecond throttles outbound calls; <= 0 disables throttling.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	Retry             fn.RetryOpts
}

// NewEmbedClient creates a client for the given Ollama base URL and model.
func NewEmbedClient(baseURL, model string, opts ClientOpts) *EmbedClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = fn.DefaultRetry
	}
	c := &EmbedClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: opts.Timeout},
		retry:   opts.Retry,
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = resilience.NewLimiter(resilience.LimiterOpts{
			Rate:  opts.RequestsPerSecond,
			Burst: opts.Burst,
		})
	}
	return c
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (c *EmbedClient) embedOnce(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: embed: status %d", resp.StatusCode)
	}
	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	return out.Embedding, nil
}

// Embed returns the embedding vector for one text.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float64, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("ollama: rate limit wait: %w", err)
		}
	}
	r := fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[[]float64] {
		return fn.FromPair(c.embedOnce(ctx, text))
	})
	return r.Unwrap()
}

// EmbedBatch embeds texts sequentially. Ollama has no batch endpoint, so
// a failure aborts the batch and reports the failing index.
func (c *EmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		v, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("ollama: batch [%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
