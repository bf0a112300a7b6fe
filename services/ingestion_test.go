package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"brain-knowledge-platform/internal/ai"
	"brain-knowledge-platform/models"
	"brain-knowledge-platform/utils"
)

// fakeStore is an in-memory DocumentStore shared by the pipeline and
// search tests.
type fakeStore struct {
	docs           map[string]*models.KnowledgeDocument
	chunksBySource map[string][]models.KnowledgeChunk

	hits      []models.SearchHit
	searchErr error
	insertErr error
	deleteErr error

	deleteCalls    int
	batchLookups   int
	lastLimit      int
	lastThreshold  float64
	lastTenant     string
	nextID         int
	insertedStatus string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:           make(map[string]*models.KnowledgeDocument),
		chunksBySource: make(map[string][]models.KnowledgeChunk),
	}
}

func (s *fakeStore) GetDocument(ctx context.Context, id, tenantID string) (*models.KnowledgeDocument, error) {
	doc, ok := s.docs[id]
	if !ok || (doc.ClientID != "" && doc.ClientID != tenantID) {
		return nil, ErrDocumentNotFound
	}
	copied := *doc
	return &copied, nil
}

func (s *fakeStore) GetDocumentsByIDs(ctx context.Context, ids []string) (map[string]models.KnowledgeDocument, error) {
	s.batchLookups++
	out := make(map[string]models.KnowledgeDocument)
	for _, id := range ids {
		if doc, ok := s.docs[id]; ok {
			out[id] = *doc
		}
	}
	return out, nil
}

func (s *fakeStore) ListDocumentsByStatus(ctx context.Context, status string, limit int) ([]models.KnowledgeDocument, error) {
	var ids []string
	for id, doc := range s.docs {
		if doc.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var out []models.KnowledgeDocument
	for _, id := range ids {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, *s.docs[id])
	}
	return out, nil
}

func (s *fakeStore) InsertDocument(ctx context.Context, doc *models.KnowledgeDocument) error {
	if doc.ID == "" {
		s.nextID++
		doc.ID = fmt.Sprintf("doc-%d", s.nextID)
	}
	s.insertedStatus = doc.Status
	copied := *doc
	s.docs[doc.ID] = &copied
	return nil
}

func (s *fakeStore) UpdateDocumentStatus(ctx context.Context, id, status string, chunkCount int, errorMessage string) error {
	doc, ok := s.docs[id]
	if !ok {
		return ErrDocumentNotFound
	}
	doc.Status = status
	if chunkCount >= 0 {
		doc.ChunkCount = chunkCount
	}
	doc.ErrorMessage = errorMessage
	return nil
}

func (s *fakeStore) DeleteChunksBySource(ctx context.Context, sourceID string) (int64, error) {
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	s.deleteCalls++
	n := int64(len(s.chunksBySource[sourceID]))
	delete(s.chunksBySource, sourceID)
	return n, nil
}

func (s *fakeStore) InsertChunks(ctx context.Context, chunks []models.KnowledgeChunk) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	for _, c := range chunks {
		s.chunksBySource[c.SourceID] = append(s.chunksBySource[c.SourceID], c)
	}
	return nil
}

func (s *fakeStore) SearchChunks(ctx context.Context, embedding []float32, limit int, threshold float64, tenantID string) ([]models.SearchHit, error) {
	s.lastLimit = limit
	s.lastThreshold = threshold
	s.lastTenant = tenantID
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	hits := s.hits
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// fakeEmbedder produces fixed-dimension vectors without a provider.
type fakeEmbedder struct {
	dims int
	err  error
}

func (f *fakeEmbedder) vector() []float32 {
	return make([]float32, f.dims)
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) (*ai.EmbeddingResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ai.EmbeddingResult{Embedding: f.vector(), TokenCount: len(text) / 4, Model: "text-embedding-004"}, nil
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([]ai.EmbeddingResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]ai.EmbeddingResult, len(texts))
	for i, t := range texts {
		out[i] = ai.EmbeddingResult{Embedding: f.vector(), TokenCount: len(t) / 4, Model: "text-embedding-004"}
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string   { return "text-embedding-004" }
func (f *fakeEmbedder) Dimensions() int { return f.dims }

// fakeAuditor records events synchronously so tests stay deterministic.
type fakeAuditor struct {
	mu     sync.Mutex
	events []*models.SearchAuditEvent
}

func (a *fakeAuditor) LogAsync(event *models.SearchAuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *fakeAuditor) last() *models.SearchAuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.events) == 0 {
		return nil
	}
	return a.events[len(a.events)-1]
}

func newTestIngestion(store *fakeStore, embedder Embedder) *IngestionService {
	return NewIngestionService(store, NewChunkingService(1500, 200), embedder, nil, 50)
}

func TestIngestDocumentNotFound(t *testing.T) {
	store := newFakeStore()
	svc := newTestIngestion(store, &fakeEmbedder{dims: 8})

	result := svc.IngestDocument(context.Background(), "missing", "tenant-a")
	if result.Success {
		t.Fatal("expected failure result")
	}
	if result.ErrorCode != utils.CodeDocumentNotFound {
		t.Errorf("error code = %q, want %q", result.ErrorCode, utils.CodeDocumentNotFound)
	}
	if result.ChunksCreated != 0 {
		t.Errorf("chunks created = %d, want 0", result.ChunksCreated)
	}
}

func TestIngestDocumentEmptyContent(t *testing.T) {
	store := newFakeStore()
	store.docs["d1"] = &models.KnowledgeDocument{ID: "d1", ClientID: "tenant-a", Content: "   ", Status: models.StatusPending}
	svc := newTestIngestion(store, &fakeEmbedder{dims: 8})

	result := svc.IngestDocument(context.Background(), "d1", "tenant-a")
	if result.Success || result.ErrorCode != utils.CodeEmptyContent {
		t.Fatalf("result = %+v, want empty_content failure", result)
	}
	if store.docs["d1"].Status != models.StatusFailed {
		t.Errorf("document status = %q, want failed", store.docs["d1"].Status)
	}
}

func TestIngestDocumentHappyPath(t *testing.T) {
	content := strings.Repeat("Every team writes down what it learned this quarter. ", 100)
	store := newFakeStore()
	store.docs["d1"] = &models.KnowledgeDocument{
		ID: "d1", ClientID: "tenant-a", Content: content,
		Pillar: "ops", Tags: []string{"retro"}, Status: models.StatusPending,
	}
	svc := newTestIngestion(store, &fakeEmbedder{dims: 8})

	result := svc.IngestDocument(context.Background(), "d1", "tenant-a")
	if !result.Success {
		t.Fatalf("ingestion failed: %s %s", result.ErrorCode, result.ErrorMessage)
	}

	wantChunks := len(NewChunkingService(1500, 200).ChunkText(content))
	if result.ChunksCreated != wantChunks {
		t.Errorf("chunks created = %d, want %d", result.ChunksCreated, wantChunks)
	}
	if result.TokensUsed <= 0 {
		t.Error("tokens used should be positive")
	}

	stored := store.chunksBySource["d1"]
	if len(stored) != wantChunks {
		t.Fatalf("stored %d chunks, want %d", len(stored), wantChunks)
	}
	for i, c := range stored {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if c.ClientID != "tenant-a" || c.Pillar != "ops" {
			t.Errorf("chunk %d missing document attribution: %+v", i, c)
		}
		if !strings.HasPrefix(c.Embedding, "[") || !strings.HasSuffix(c.Embedding, "]") {
			t.Errorf("chunk %d embedding not in bracketed text form: %q", i, c.Embedding)
		}
	}

	if store.docs["d1"].Status != models.StatusCompleted {
		t.Errorf("document status = %q, want completed", store.docs["d1"].Status)
	}
	if store.docs["d1"].ChunkCount != wantChunks {
		t.Errorf("chunk count = %d, want %d", store.docs["d1"].ChunkCount, wantChunks)
	}
}

func TestIngestDocumentIdempotentReingest(t *testing.T) {
	content := strings.Repeat("Re-running the pipeline must not duplicate anything. ", 80)
	store := newFakeStore()
	store.docs["d1"] = &models.KnowledgeDocument{ID: "d1", ClientID: "tenant-a", Content: content, Status: models.StatusPending}
	svc := newTestIngestion(store, &fakeEmbedder{dims: 8})

	first := svc.IngestDocument(context.Background(), "d1", "tenant-a")
	second := svc.IngestDocument(context.Background(), "d1", "tenant-a")

	if !first.Success || !second.Success {
		t.Fatal("both runs should succeed")
	}
	if store.deleteCalls != 2 {
		t.Errorf("delete calls = %d, want 2 (delete before each insert)", store.deleteCalls)
	}
	if len(store.chunksBySource["d1"]) != first.ChunksCreated {
		t.Errorf("chunk count after re-ingest = %d, want %d", len(store.chunksBySource["d1"]), first.ChunksCreated)
	}
}

func TestIngestDocumentFailedReingestLeavesNoChunks(t *testing.T) {
	content := strings.Repeat("Anything indexed must come from the latest successful run. ", 80)
	store := newFakeStore()
	store.docs["d1"] = &models.KnowledgeDocument{ID: "d1", ClientID: "tenant-a", Content: content, Status: models.StatusPending}

	first := newTestIngestion(store, &fakeEmbedder{dims: 8}).IngestDocument(context.Background(), "d1", "tenant-a")
	if !first.Success || len(store.chunksBySource["d1"]) == 0 {
		t.Fatalf("first run should succeed and store chunks, got %+v", first)
	}

	broken := newTestIngestion(store, &fakeEmbedder{dims: 8, err: errors.New("provider down")})
	second := broken.IngestDocument(context.Background(), "d1", "tenant-a")
	if second.Success || second.ErrorCode != utils.CodeEmbeddingFailed {
		t.Fatalf("result = %+v, want embedding_failed", second)
	}

	// The failed run cleared the old chunks up front, so nothing stale
	// stays searchable and the zeroed chunk count is accurate.
	if n := len(store.chunksBySource["d1"]); n != 0 {
		t.Errorf("chunks remaining after failed re-ingest = %d, want 0", n)
	}
	if store.docs["d1"].Status != models.StatusFailed {
		t.Errorf("document status = %q, want failed", store.docs["d1"].Status)
	}
	if store.docs["d1"].ChunkCount != 0 {
		t.Errorf("chunk count = %d, want 0", store.docs["d1"].ChunkCount)
	}
}

func TestIngestDocumentDeleteFailure(t *testing.T) {
	store := newFakeStore()
	store.docs["d1"] = &models.KnowledgeDocument{ID: "d1", ClientID: "tenant-a", Content: "usable content for the pipeline", Status: models.StatusPending}
	store.deleteErr = errors.New("collection unavailable")
	svc := newTestIngestion(store, &fakeEmbedder{dims: 8})

	result := svc.IngestDocument(context.Background(), "d1", "tenant-a")
	if result.Success || result.ErrorCode != utils.CodeIngestionFailed {
		t.Fatalf("result = %+v, want ingestion_failed", result)
	}
	if store.docs["d1"].Status != models.StatusFailed {
		t.Errorf("document status = %q, want failed", store.docs["d1"].Status)
	}
}

func TestIngestDocumentEmbeddingFailure(t *testing.T) {
	store := newFakeStore()
	store.docs["d1"] = &models.KnowledgeDocument{ID: "d1", ClientID: "tenant-a", Content: "usable content for the pipeline", Status: models.StatusPending}
	svc := newTestIngestion(store, &fakeEmbedder{dims: 8, err: errors.New("provider down")})

	result := svc.IngestDocument(context.Background(), "d1", "tenant-a")
	if result.Success || result.ErrorCode != utils.CodeEmbeddingFailed {
		t.Fatalf("result = %+v, want embedding_failed", result)
	}
	if store.docs["d1"].Status != models.StatusFailed {
		t.Errorf("document status = %q, want failed", store.docs["d1"].Status)
	}
	if store.docs["d1"].ErrorMessage == "" {
		t.Error("failure reason should be recorded on the document")
	}
}

func TestIngestDocumentInsertFailure(t *testing.T) {
	store := newFakeStore()
	store.docs["d1"] = &models.KnowledgeDocument{ID: "d1", ClientID: "tenant-a", Content: "usable content for the pipeline", Status: models.StatusPending}
	store.insertErr = errors.New("write concern error")
	svc := newTestIngestion(store, &fakeEmbedder{dims: 8})

	result := svc.IngestDocument(context.Background(), "d1", "tenant-a")
	if result.Success || result.ErrorCode != utils.CodeChunkInsertFailed {
		t.Fatalf("result = %+v, want chunk_insert_failed", result)
	}
}

func TestIngestRawText(t *testing.T) {
	store := newFakeStore()
	svc := newTestIngestion(store, &fakeEmbedder{dims: 8})

	if _, err := svc.IngestRawText(context.Background(), "tenant-a", RawTextInput{Content: "  "}); err == nil {
		t.Error("empty content should be rejected up front")
	}

	result, err := svc.IngestRawText(context.Background(), "tenant-a", RawTextInput{
		Title:   "Field notes",
		Content: "A single observation worth keeping around for later retrieval.",
		Tags:    []string{"notes"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Fatalf("ingestion failed: %s", result.ErrorCode)
	}

	doc := store.docs[result.DocumentID]
	if doc == nil {
		t.Fatal("document was not stored")
	}
	if doc.ClientID != "tenant-a" || doc.Title != "Field notes" {
		t.Errorf("stored document = %+v", doc)
	}
	if store.insertedStatus != models.StatusProcessing {
		t.Errorf("status at insert = %q, want processing", store.insertedStatus)
	}
	if doc.Status != models.StatusCompleted {
		t.Errorf("document status = %q, want completed", doc.Status)
	}
}

func TestRecoverFailedDocuments(t *testing.T) {
	store := newFakeStore()
	store.docs["a"] = &models.KnowledgeDocument{ID: "a", ClientID: "t1", Content: "recoverable content one", Status: models.StatusFailed}
	store.docs["b"] = &models.KnowledgeDocument{ID: "b", ClientID: "t1", Content: "", Status: models.StatusFailed}
	store.docs["c"] = &models.KnowledgeDocument{ID: "c", ClientID: "t2", Content: "recoverable content two", Status: models.StatusFailed}
	svc := newTestIngestion(store, &fakeEmbedder{dims: 8})

	result, err := svc.RecoverFailedDocuments(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 3 || result.Succeeded != 2 || result.Failed != 1 {
		t.Errorf("recovery = %+v, want processed=3 succeeded=2 failed=1", result)
	}
	if store.docs["a"].Status != models.StatusCompleted || store.docs["c"].Status != models.StatusCompleted {
		t.Error("recovered documents should be completed")
	}
	if store.docs["b"].Status != models.StatusFailed {
		t.Error("unrecoverable document should stay failed")
	}
}

func TestRecoverFailedDocumentsRespectsLimit(t *testing.T) {
	store := newFakeStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		store.docs[id] = &models.KnowledgeDocument{ID: id, Content: "content for " + id, Status: models.StatusFailed}
	}
	svc := NewIngestionService(store, NewChunkingService(1500, 200), &fakeEmbedder{dims: 8}, nil, 2)

	result, err := svc.RecoverFailedDocuments(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 2 {
		t.Errorf("processed = %d, want 2 (sweep limit)", result.Processed)
	}
}
