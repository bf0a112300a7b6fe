package models

// SearchIntent declares why a caller is searching. Requiring a declared
// intent keeps retrieval purposeful and gives the audit trail meaning.
type SearchIntent string

const (
	IntentAnswerQuestion  SearchIntent = "answer_question"
	IntentFindEvidence    SearchIntent = "find_evidence"
	IntentExploreTopic    SearchIntent = "explore_topic"
	IntentVerifyClaim     SearchIntent = "verify_claim"
	IntentSummarizeSource SearchIntent = "summarize_source"
)

// Valid reports whether the intent is one of the declared set.
func (i SearchIntent) Valid() bool {
	switch i {
	case IntentAnswerQuestion, IntentFindEvidence, IntentExploreTopic,
		IntentVerifyClaim, IntentSummarizeSource:
		return true
	}
	return false
}

// SearchHit is a raw similarity-search result as returned by the store.
type SearchHit struct {
	Content    string   `json:"content"`
	Similarity float64  `json:"similarity"`
	SourceID   string   `json:"source_id,omitempty"`
	Pillar     string   `json:"pillar,omitempty"`
	Tags       []string `json:"tags,omitempty"`

	// Enriched from the source document after retrieval.
	Title string `json:"title,omitempty"`
	Type  string `json:"type,omitempty"`
	URL   string `json:"url,omitempty"`
}

// NormalizedChunk is a retained chunk inside a normalized source group.
type NormalizedChunk struct {
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// NormalizedSource groups the surviving hits of one source document.
type NormalizedSource struct {
	DocumentID    string            `json:"document_id"`
	Title         string            `json:"title,omitempty"`
	Type          string            `json:"type,omitempty"`
	URL           string            `json:"url,omitempty"`
	Pillar        string            `json:"pillar,omitempty"`
	Chunks        []NormalizedChunk `json:"chunks"`
	TopQuote      string            `json:"top_quote,omitempty"`
	AvgSimilarity float64           `json:"avg_similarity"`
	Tags          []string          `json:"tags,omitempty"`
}

// SearchSummary aggregates a normalized result set.
type SearchSummary struct {
	TotalSources     int      `json:"total_sources"`
	TotalChunks      int      `json:"total_chunks"`
	ChunksAfterDedup int      `json:"chunks_after_dedup"`
	Pillars          []string `json:"pillars"`
	TopTags          []string `json:"top_tags"`
}

// NormalizedResults is the normalizer's output: sources ordered by
// descending average similarity plus aggregate statistics.
type NormalizedResults struct {
	Sources []NormalizedSource `json:"sources"`
	Summary SearchSummary      `json:"summary"`
}

// SearchRequest is the knowledge search API payload.
type SearchRequest struct {
	Query     string       `json:"query"`
	Intent    SearchIntent `json:"intent"`
	Limit     int          `json:"limit,omitempty"`
	Threshold *float64     `json:"threshold,omitempty"`
	Pillar    string       `json:"pillar,omitempty"`
	Tags      []string     `json:"tags,omitempty"`
	Normalize bool         `json:"normalize,omitempty"`
}

// SearchExplain documents how a search was executed.
type SearchExplain struct {
	Intent         SearchIntent `json:"intent"`
	EmbeddingModel string       `json:"embedding_model"`
	Threshold      float64      `json:"threshold"`
	Pillar         string       `json:"pillar,omitempty"`
	Tags           []string     `json:"tags,omitempty"`
	TokensUsed     int          `json:"tokens_used"`
	LatencyMS      int64        `json:"latency_ms"`
}

// SearchResponse is returned for flat (non-normalized) searches.
type SearchResponse struct {
	Results    []SearchHit        `json:"results,omitempty"`
	Normalized *NormalizedResults `json:"normalized,omitempty"`
	Total      int                `json:"total"`
	HasMore    bool               `json:"has_more"`
	Explain    SearchExplain      `json:"explain"`
}
