package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"brain-knowledge-platform/internal/telemetry"
	"brain-knowledge-platform/models"
	"brain-knowledge-platform/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Search bounds. Limits outside the window are clamped, never rejected.
const (
	DefaultSearchLimit     = 5
	MaxSearchLimit         = 20
	DefaultSearchThreshold = 0.5
	auditTopResults        = 3
)

// SearchAuditor records completed searches without blocking them.
type SearchAuditor interface {
	LogAsync(event *models.SearchAuditEvent)
}

// ValidationError is a request rejection with a stable code.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// SearchService is the single entry point for knowledge retrieval. It
// validates intent, embeds the query, searches the store under tenant
// visibility rules, enriches hits with source metadata and audits
// every call.
type SearchService struct {
	store    DocumentStore
	embedder Embedder
	audit    SearchAuditor
	metrics  *telemetry.Metrics
}

// NewSearchService creates a search service. audit and metrics may be
// nil.
func NewSearchService(store DocumentStore, embedder Embedder, audit SearchAuditor, metrics *telemetry.Metrics) *SearchService {
	return &SearchService{
		store:    store,
		embedder: embedder,
		audit:    audit,
		metrics:  metrics,
	}
}

// Search executes one knowledge search. Invalid requests return a
// *ValidationError; everything else that fails returns a search_failed
// error. Both outcomes are audited.
func (s *SearchService) Search(ctx context.Context, tenantID, requestID string, req models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()

	tracer := otel.Tracer("search-service")
	ctx, span := tracer.Start(ctx, "knowledge.search")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.intent", string(req.Intent)),
		attribute.Bool("search.normalize", req.Normalize),
	)

	query := strings.TrimSpace(req.Query)
	if query == "" {
		err := &ValidationError{Code: utils.CodeEmptyQuery, Message: "query is required"}
		s.finish(tenantID, requestID, req, nil, 0, start, err.Code)
		return nil, err
	}
	if !req.Intent.Valid() {
		err := &ValidationError{Code: utils.CodeInvalidIntent,
			Message: fmt.Sprintf("intent %q is not recognized; a declared search intent is required", req.Intent)}
		s.finish(tenantID, requestID, req, nil, 0, start, err.Code)
		return nil, err
	}

	limit := clampLimit(req.Limit)
	threshold := clampThreshold(req.Threshold)

	embedded, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.finish(tenantID, requestID, req, nil, 0, start, utils.CodeSearchFailed)
		return nil, fmt.Errorf("%s: query embedding: %w", utils.CodeSearchFailed, err)
	}

	rawHits, err := s.store.SearchChunks(ctx, embedded.Embedding, limit, threshold, tenantID)
	if err != nil {
		s.finish(tenantID, requestID, req, nil, embedded.TokenCount, start, utils.CodeSearchFailed)
		return nil, fmt.Errorf("%s: %w", utils.CodeSearchFailed, err)
	}

	// The store can only pre-filter what it indexes; pillar and tag
	// constraints apply here, after retrieval.
	hits := filterHits(rawHits, req.Pillar, req.Tags)

	if err := s.enrichHits(ctx, hits); err != nil {
		s.finish(tenantID, requestID, req, hits, embedded.TokenCount, start, utils.CodeSearchFailed)
		return nil, fmt.Errorf("%s: source enrichment: %w", utils.CodeSearchFailed, err)
	}

	resp := &models.SearchResponse{
		Total:   len(hits),
		HasMore: len(rawHits) == limit,
		Explain: models.SearchExplain{
			Intent:         req.Intent,
			EmbeddingModel: s.embedder.Model(),
			Threshold:      threshold,
			Pillar:         req.Pillar,
			Tags:           req.Tags,
			TokensUsed:     embedded.TokenCount,
			LatencyMS:      time.Since(start).Milliseconds(),
		},
	}
	if req.Normalize {
		resp.Normalized = NormalizeSearchResults(hits)
	} else {
		resp.Results = hits
	}

	span.SetAttributes(attribute.Int("search.result_count", len(hits)))
	s.finish(tenantID, requestID, req, hits, embedded.TokenCount, start, "")
	return resp, nil
}

// finish records metrics and the audit event for one search, success
// or not. The audit write never blocks the response.
func (s *SearchService) finish(tenantID, requestID string, req models.SearchRequest, hits []models.SearchHit, tokens int, start time.Time, errorCode string) {
	success := errorCode == ""

	if s.metrics != nil {
		s.metrics.RecordSearch(string(req.Intent), success, time.Since(start).Seconds())
	}

	if s.audit == nil {
		return
	}

	top := make([]models.TopResult, 0, auditTopResults)
	for i, hit := range hits {
		if i >= auditTopResults {
			break
		}
		top = append(top, models.TopResult{SourceID: hit.SourceID, Similarity: hit.Similarity})
	}

	s.audit.LogAsync(&models.SearchAuditEvent{
		ClientID:    tenantID,
		RequestID:   requestID,
		Query:       req.Query,
		Intent:      req.Intent,
		ResultCount: len(hits),
		TopResults:  top,
		TokensUsed:  tokens,
		LatencyMS:   time.Since(start).Milliseconds(),
		Success:     success,
		ErrorCode:   errorCode,
	})
	if s.metrics != nil {
		s.metrics.RecordAuditEvent(string(req.Intent))
	}
}

// enrichHits attaches source document metadata with a single batched
// lookup. Hits whose source no longer exists keep their bare fields.
func (s *SearchService) enrichHits(ctx context.Context, hits []models.SearchHit) error {
	if len(hits) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var ids []string
	for _, hit := range hits {
		if hit.SourceID != "" && !seen[hit.SourceID] {
			seen[hit.SourceID] = true
			ids = append(ids, hit.SourceID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	docs, err := s.store.GetDocumentsByIDs(ctx, ids)
	if err != nil {
		return err
	}

	for i := range hits {
		doc, ok := docs[hits[i].SourceID]
		if !ok {
			continue
		}
		hits[i].Title = doc.Title
		hits[i].Type = doc.Type
		hits[i].URL = doc.URL
		if hits[i].Pillar == "" {
			hits[i].Pillar = doc.Pillar
		}
	}
	return nil
}

// filterHits applies the caller's pillar and tag constraints. A hit
// passes the tag filter when it carries at least one requested tag.
func filterHits(hits []models.SearchHit, pillar string, tags []string) []models.SearchHit {
	if pillar == "" && len(tags) == 0 {
		return hits
	}

	filtered := make([]models.SearchHit, 0, len(hits))
	for _, hit := range hits {
		if pillar != "" && !strings.EqualFold(hit.Pillar, pillar) {
			continue
		}
		if len(tags) > 0 && !hasAnyTag(hit.Tags, tags) {
			continue
		}
		filtered = append(filtered, hit)
	}
	return filtered
}

func hasAnyTag(hitTags, wanted []string) bool {
	for _, w := range wanted {
		for _, t := range hitTags {
			if strings.EqualFold(t, w) {
				return true
			}
		}
	}
	return false
}

func clampLimit(limit int) int {
	if limit == 0 {
		return DefaultSearchLimit
	}
	if limit < 1 {
		return 1
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}

func clampThreshold(threshold *float64) float64 {
	if threshold == nil {
		return DefaultSearchThreshold
	}
	t := *threshold
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}
