package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// fakeProvider returns deterministic vectors and lets tests control the
// order and completeness of batch responses.
type fakeProvider struct {
	dims         int
	reverseOrder bool
	dropIndex    int // -1 to keep all
	err          error
	batchSizes   []int
}

func newFakeProvider(dims int) *fakeProvider {
	return &fakeProvider{dims: dims, dropIndex: -1}
}

func (f *fakeProvider) vectorFor(text string) []float32 {
	vec := make([]float32, f.dims)
	for i := range vec {
		vec[i] = float32(len(text))
	}
	return vec
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectorFor(text), nil
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([]IndexedEmbedding, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.batchSizes = append(f.batchSizes, len(texts))

	out := make([]IndexedEmbedding, 0, len(texts))
	for i := range texts {
		if i == f.dropIndex {
			continue
		}
		out = append(out, IndexedEmbedding{Index: i, Values: f.vectorFor(texts[i])})
	}
	if f.reverseOrder {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func newTestClient(provider EmbeddingProvider, dims int) *EmbeddingClient {
	c := NewEmbeddingClient(provider, "text-embedding-004", dims)
	c.batchDelay = 0
	return c
}

func TestEmbedTextEmptyInput(t *testing.T) {
	client := newTestClient(newFakeProvider(4), 4)

	for _, input := range []string{"", "   ", "\n\t"} {
		if _, err := client.EmbedText(context.Background(), input); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("EmbedText(%q) error = %v, want ErrEmptyInput", input, err)
		}
	}
}

func TestEmbedTextValidatesDimensions(t *testing.T) {
	client := newTestClient(newFakeProvider(3), 4)

	_, err := client.EmbedText(context.Background(), "hello world")
	if err == nil || !strings.Contains(err.Error(), "dimensions") {
		t.Fatalf("expected dimension error, got %v", err)
	}
}

func TestEmbedTextTokenEstimate(t *testing.T) {
	client := newTestClient(newFakeProvider(4), 4)

	result, err := client.EmbedText(context.Background(), "abcdefgh")
	if err != nil {
		t.Fatal(err)
	}
	if result.TokenCount != 2 {
		t.Errorf("TokenCount = %d, want 2", result.TokenCount)
	}
	if result.Model != "text-embedding-004" {
		t.Errorf("Model = %q", result.Model)
	}

	// Even tiny inputs cost at least one token
	short, err := client.EmbedText(context.Background(), "ab")
	if err != nil {
		t.Fatal(err)
	}
	if short.TokenCount != 1 {
		t.Errorf("TokenCount = %d, want 1", short.TokenCount)
	}
}

func TestEmbedTextsReassemblesProviderOrder(t *testing.T) {
	provider := newFakeProvider(4)
	provider.reverseOrder = true
	client := newTestClient(provider, 4)

	texts := []string{"a", "bb", "ccc", "dddd"}
	results, err := client.EmbedTexts(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != len(texts) {
		t.Fatalf("got %d results, want %d", len(results), len(texts))
	}

	// The fake encodes input length into every component, so position i
	// must hold the vector for texts[i] no matter what order the
	// provider answered in.
	for i, r := range results {
		if r.Embedding[0] != float32(len(texts[i])) {
			t.Errorf("result %d holds vector for a different input: got %v", i, r.Embedding[0])
		}
	}
}

func TestEmbedTextsFiltersEmptyEntries(t *testing.T) {
	client := newTestClient(newFakeProvider(4), 4)

	results, err := client.EmbedTexts(context.Background(), []string{"", "keep me", "  ", "\n"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	empty, err := client.EmbedTexts(context.Background(), []string{"", "   "})
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("all-empty input should produce no results, got %d", len(empty))
	}
}

func TestEmbedTextsSplitsLargeBatches(t *testing.T) {
	provider := newFakeProvider(4)
	client := newTestClient(provider, 4)

	texts := make([]string, 150)
	for i := range texts {
		texts[i] = fmt.Sprintf("text number %d", i)
	}

	results, err := client.EmbedTexts(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 150 {
		t.Fatalf("got %d results, want 150", len(results))
	}
	if len(provider.batchSizes) != 2 || provider.batchSizes[0] != 100 || provider.batchSizes[1] != 50 {
		t.Errorf("batch sizes = %v, want [100 50]", provider.batchSizes)
	}
}

func TestEmbedTextsMissingVector(t *testing.T) {
	provider := newFakeProvider(4)
	provider.dropIndex = 1
	client := newTestClient(provider, 4)

	_, err := client.EmbedTexts(context.Background(), []string{"a", "b", "c"})
	if err == nil || !strings.Contains(err.Error(), "no vector") {
		t.Fatalf("expected missing-vector error, got %v", err)
	}
}

func TestEmbedTextsProviderFailure(t *testing.T) {
	provider := newFakeProvider(4)
	provider.err = errors.New("quota exhausted")
	client := newTestClient(provider, 4)

	_, err := client.EmbedTexts(context.Background(), []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "quota exhausted") {
		t.Fatalf("expected provider error, got %v", err)
	}
}
