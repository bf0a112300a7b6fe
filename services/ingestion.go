package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"brain-knowledge-platform/internal/ai"
	"brain-knowledge-platform/internal/logger"
	"brain-knowledge-platform/internal/telemetry"
	"brain-knowledge-platform/models"
	"brain-knowledge-platform/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Embedder is the slice of the embedding client the pipeline services
// need.
type Embedder interface {
	EmbedText(ctx context.Context, text string) (*ai.EmbeddingResult, error)
	EmbedTexts(ctx context.Context, texts []string) ([]ai.EmbeddingResult, error)
	Model() string
	Dimensions() int
}

// IngestResult reports the outcome of one document ingestion. Expected
// failures (missing document, empty content, embedding errors) are
// reported here rather than as Go errors so a batch sweep can record
// them without aborting.
type IngestResult struct {
	DocumentID    string `json:"document_id"`
	Success       bool   `json:"success"`
	ChunksCreated int    `json:"chunks_created"`
	TokensUsed    int    `json:"tokens_used"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	DurationMS    int64  `json:"duration_ms"`
}

// RawTextInput is the payload for ingesting ad-hoc text without a
// pre-existing document.
type RawTextInput struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Type    string   `json:"type,omitempty"`
	URL     string   `json:"url,omitempty"`
	Pillar  string   `json:"pillar,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// RecoveryResult summarizes one recovery sweep over failed documents.
type RecoveryResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// IngestionService drives the chunk-embed-store pipeline and keeps
// document status in sync with it.
type IngestionService struct {
	store         DocumentStore
	chunker       *ChunkingService
	embedder      Embedder
	metrics       *telemetry.Metrics
	recoveryLimit int
}

// NewIngestionService creates the ingestion pipeline. metrics may be
// nil. recoveryLimit caps one recovery sweep; non-positive values fall
// back to 50.
func NewIngestionService(store DocumentStore, chunker *ChunkingService, embedder Embedder, metrics *telemetry.Metrics, recoveryLimit int) *IngestionService {
	if recoveryLimit <= 0 {
		recoveryLimit = 50
	}
	return &IngestionService{
		store:         store,
		chunker:       chunker,
		embedder:      embedder,
		metrics:       metrics,
		recoveryLimit: recoveryLimit,
	}
}

// IngestDocument runs the full pipeline for one stored document:
// chunk, embed, replace chunks, mark completed. Re-ingesting the same
// document is idempotent because existing chunks are deleted before the
// new set is inserted.
func (s *IngestionService) IngestDocument(ctx context.Context, documentID, tenantID string) *IngestResult {
	start := time.Now()

	tracer := otel.Tracer("ingestion-service")
	ctx, span := tracer.Start(ctx, "ingestion.ingest_document")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID))

	result := &IngestResult{DocumentID: documentID}
	finish := func() *IngestResult {
		result.DurationMS = time.Since(start).Milliseconds()
		if s.metrics != nil {
			status := models.StatusCompleted
			if !result.Success {
				status = models.StatusFailed
			}
			s.metrics.RecordIngestion(status, result.ChunksCreated, time.Since(start).Seconds())
			if result.TokensUsed > 0 {
				s.metrics.RecordEmbeddingTokens(int64(result.TokensUsed), s.embedder.Model())
			}
		}
		return result
	}

	doc, err := s.store.GetDocument(ctx, documentID, tenantID)
	if err != nil {
		if err == ErrDocumentNotFound {
			result.ErrorCode = utils.CodeDocumentNotFound
			result.ErrorMessage = fmt.Sprintf("document %s not found", documentID)
		} else {
			result.ErrorCode = utils.CodeIngestionFailed
			result.ErrorMessage = err.Error()
		}
		return finish()
	}

	if err := s.store.UpdateDocumentStatus(ctx, documentID, models.StatusProcessing, -1, ""); err != nil {
		logger.Warn("failed to mark document processing", "document_id", documentID, "error", err)
	}

	// Clear prior chunks before anything else. A mid-flight failure must
	// leave zero chunks behind, never a stale searchable set.
	if _, err := s.store.DeleteChunksBySource(ctx, documentID); err != nil {
		s.markFailed(ctx, documentID, err.Error())
		result.ErrorCode = utils.CodeIngestionFailed
		result.ErrorMessage = err.Error()
		return finish()
	}

	content := strings.TrimSpace(doc.Content)
	if content == "" {
		s.markFailed(ctx, documentID, "document has no content")
		result.ErrorCode = utils.CodeEmptyContent
		result.ErrorMessage = "document has no content"
		return finish()
	}

	chunks := s.chunker.ChunkText(content)
	if len(chunks) == 0 {
		s.markFailed(ctx, documentID, "chunking produced no chunks")
		result.ErrorCode = utils.CodeEmptyContent
		result.ErrorMessage = "chunking produced no chunks"
		return finish()
	}
	span.SetAttributes(attribute.Int("ingestion.chunk_count", len(chunks)))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embedded, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		s.markFailed(ctx, documentID, err.Error())
		result.ErrorCode = utils.CodeEmbeddingFailed
		result.ErrorMessage = err.Error()
		return finish()
	}
	if len(embedded) != len(chunks) {
		msg := fmt.Sprintf("embedded %d of %d chunks", len(embedded), len(chunks))
		s.markFailed(ctx, documentID, msg)
		result.ErrorCode = utils.CodeEmbeddingFailed
		result.ErrorMessage = msg
		return finish()
	}

	records := make([]models.KnowledgeChunk, len(chunks))
	tokens := 0
	for i, c := range chunks {
		tokens += embedded[i].TokenCount
		records[i] = models.KnowledgeChunk{
			SourceID:   documentID,
			ClientID:   doc.ClientID,
			Content:    c.Content,
			ChunkIndex: c.Index,
			Embedding:  EncodeVector(embedded[i].Embedding),
			Vector:     embedded[i].Embedding,
			Tags:       doc.Tags,
			Pillar:     doc.Pillar,
			Metadata:   c.Metadata,
		}
	}

	if err := s.store.InsertChunks(ctx, records); err != nil {
		s.markFailed(ctx, documentID, err.Error())
		result.ErrorCode = utils.CodeChunkInsertFailed
		result.ErrorMessage = err.Error()
		return finish()
	}

	if err := s.store.UpdateDocumentStatus(ctx, documentID, models.StatusCompleted, len(records), ""); err != nil {
		logger.Error("failed to mark document completed", "document_id", documentID, "error", err)
	}

	result.Success = true
	result.ChunksCreated = len(records)
	result.TokensUsed = tokens

	logger.Info("document ingested",
		"document_id", documentID,
		"chunks", len(records),
		"tokens", tokens,
	)
	return finish()
}

// IngestRawText stores ad-hoc text as a new document and ingests it
// immediately. The returned error covers only the initial insert;
// pipeline failures arrive in the result like everywhere else.
func (s *IngestionService) IngestRawText(ctx context.Context, tenantID string, input RawTextInput) (*IngestResult, error) {
	if strings.TrimSpace(input.Content) == "" {
		return nil, fmt.Errorf("content is required")
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Untitled"
	}
	docType := input.Type
	if docType == "" {
		docType = "text"
	}

	doc := &models.KnowledgeDocument{
		ClientID: tenantID,
		Title:    title,
		Type:     docType,
		URL:      input.URL,
		Content:  input.Content,
		Pillar:   input.Pillar,
		Tags:     input.Tags,
		Status:   models.StatusProcessing,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to store text document: %w", err)
	}

	return s.IngestDocument(ctx, doc.ID, tenantID), nil
}

// RecoverFailedDocuments retries failed documents one at a time, oldest
// first, up to the sweep limit. A document that fails again stays
// failed and never aborts the sweep.
func (s *IngestionService) RecoverFailedDocuments(ctx context.Context) (*RecoveryResult, error) {
	docs, err := s.store.ListDocumentsByStatus(ctx, models.StatusFailed, s.recoveryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed documents: %w", err)
	}

	result := &RecoveryResult{}
	for _, doc := range docs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		result.Processed++
		r := s.IngestDocument(ctx, doc.ID, doc.ClientID)
		if r.Success {
			result.Succeeded++
		} else {
			result.Failed++
			logger.Warn("recovery retry failed",
				"document_id", doc.ID,
				"error_code", r.ErrorCode,
				"error", r.ErrorMessage,
			)
		}
	}

	if result.Processed > 0 {
		logger.Info("recovery sweep finished",
			"processed", result.Processed,
			"succeeded", result.Succeeded,
			"failed", result.Failed,
		)
	}
	return result, nil
}

// markFailed is best-effort; a status write failure must not mask the
// original pipeline error.
func (s *IngestionService) markFailed(ctx context.Context, documentID, message string) {
	if err := s.store.UpdateDocumentStatus(ctx, documentID, models.StatusFailed, 0, message); err != nil {
		logger.Error("failed to mark document failed", "document_id", documentID, "error", err)
	}
}
