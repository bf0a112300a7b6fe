package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"brain-knowledge-platform/internal/logger"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"
)

const (
	// DefaultEmbeddingModel is the fixed embedding model.
	DefaultEmbeddingModel = "text-embedding-004"

	// EmbeddingDimensions is the fixed dimensionality every vector must
	// validate against.
	EmbeddingDimensions = 768

	// maxBatchSize is the provider's per-call item limit.
	maxBatchSize = 100

	// interBatchDelay spaces out sequential batch calls as a rate-limit
	// courtesy. Not a correctness requirement.
	interBatchDelay = 200 * time.Millisecond
)

// ErrEmptyInput is returned when a single-text embedding is requested
// for empty or whitespace-only text.
var ErrEmptyInput = errors.New("embedding: empty input text")

// EmbeddingResult is one embedded text with its cost accounting.
type EmbeddingResult struct {
	Embedding  []float32
	TokenCount int
	Model      string
}

// IndexedEmbedding is a provider response item tagged with the index of
// the input it belongs to. Reassembly uses this index, never response
// order.
type IndexedEmbedding struct {
	Index  int
	Values []float32
}

// EmbeddingProvider is the external embedding service. Kept as an
// interface so the client stays substitutable in tests.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([]IndexedEmbedding, error)
}

// GeminiProvider implements EmbeddingProvider on Google Generative AI.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a Gemini-backed embedding provider.
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	em := p.client.EmbeddingModel(p.model)
	resp, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Embedding.Values, nil
}

func (p *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([]IndexedEmbedding, error) {
	em := p.client.EmbeddingModel(p.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch = batch.AddContent(genai.Text(t))
	}
	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}
	out := make([]IndexedEmbedding, 0, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil {
			continue
		}
		out = append(out, IndexedEmbedding{Index: i, Values: e.Values})
	}
	return out, nil
}

// Close releases the underlying API client.
func (p *GeminiProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// EmbeddingClient wraps an EmbeddingProvider with batching, order
// reassembly, dimension validation, a circuit breaker and a rate
// limiter.
type EmbeddingClient struct {
	provider   EmbeddingProvider
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	model      string
	dims       int
	batchDelay time.Duration
}

// NewEmbeddingClient creates an embedding client around provider.
func NewEmbeddingClient(provider EmbeddingProvider, model string, dims int) *EmbeddingClient {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	if dims <= 0 {
		dims = EmbeddingDimensions
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "EmbeddingAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	// Conservative request pacing; embedding batches are already coarse
	limiter := rate.NewLimiter(rate.Limit(2), 4)

	return &EmbeddingClient{
		provider:   provider,
		breaker:    breaker,
		limiter:    limiter,
		model:      model,
		dims:       dims,
		batchDelay: interBatchDelay,
	}
}

// Model returns the fixed embedding model name.
func (c *EmbeddingClient) Model() string { return c.model }

// Dimensions returns the fixed vector dimensionality.
func (c *EmbeddingClient) Dimensions() int { return c.dims }

// EmbedText embeds a single text. Empty or whitespace-only input is an
// error.
func (c *EmbeddingClient) EmbedText(ctx context.Context, text string) (*EmbeddingResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	tracer := otel.Tracer("embedding-client")
	ctx, span := tracer.Start(ctx, "embedding.embed_text")
	defer span.End()
	span.SetAttributes(
		attribute.String("embedding.model", c.model),
		attribute.Int("embedding.text_chars", len(text)),
	)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.provider.Embed(ctx, text)
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("embedding.error", true))
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	vec := result.([]float32)
	if err := c.validateDims(vec); err != nil {
		return nil, err
	}

	return &EmbeddingResult{
		Embedding:  vec,
		TokenCount: estimateTokens(text),
		Model:      c.model,
	}, nil
}

// EmbedTexts embeds many texts. Empty entries are filtered out; the
// remaining texts are embedded in batches of at most 100, issued
// strictly sequentially with a short inter-batch delay. Vectors come
// back in the (filtered) input order regardless of the order the
// provider reports items in. Any batch failure fails the whole call.
func (c *EmbeddingClient) EmbedTexts(ctx context.Context, texts []string) ([]EmbeddingResult, error) {
	cleaned := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			cleaned = append(cleaned, t)
		}
	}
	if len(cleaned) == 0 {
		return []EmbeddingResult{}, nil
	}

	tracer := otel.Tracer("embedding-client")
	ctx, span := tracer.Start(ctx, "embedding.embed_texts")
	defer span.End()
	span.SetAttributes(
		attribute.String("embedding.model", c.model),
		attribute.Int("embedding.input_count", len(cleaned)),
	)

	results := make([]EmbeddingResult, len(cleaned))
	seen := make([]bool, len(cleaned))

	for start := 0; start < len(cleaned); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(cleaned) {
			end = len(cleaned)
		}
		batch := cleaned[start:end]

		if start > 0 {
			select {
			case <-time.After(c.batchDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.provider.EmbedBatch(ctx, batch)
		})
		if err != nil {
			span.SetAttributes(attribute.Bool("embedding.error", true))
			return nil, fmt.Errorf("embedding batch %d failed: %w", start/maxBatchSize, err)
		}

		for _, item := range result.([]IndexedEmbedding) {
			if item.Index < 0 || item.Index >= len(batch) {
				return nil, fmt.Errorf("embedding batch returned out-of-range index %d", item.Index)
			}
			if err := c.validateDims(item.Values); err != nil {
				return nil, err
			}
			pos := start + item.Index
			results[pos] = EmbeddingResult{
				Embedding:  item.Values,
				TokenCount: estimateTokens(batch[item.Index]),
				Model:      c.model,
			}
			seen[pos] = true
		}
	}

	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("embedding service returned no vector for item %d", i)
		}
	}

	return results, nil
}

func (c *EmbeddingClient) validateDims(vec []float32) error {
	if len(vec) != c.dims {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), c.dims)
	}
	return nil
}

// estimateTokens approximates token usage at ~4 characters per token;
// the embedding API reports no usage of its own.
func estimateTokens(text string) int {
	estimated := len(text) / 4
	if estimated < 1 {
		estimated = 1
	}
	return estimated
}
