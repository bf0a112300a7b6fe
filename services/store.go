package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"brain-knowledge-platform/models"
	"brain-knowledge-platform/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrDocumentNotFound is returned when a document lookup matches
// nothing visible to the caller's tenant.
var ErrDocumentNotFound = errors.New("document not found")

// DocumentStore is the persistence surface the ingestion and search
// services depend on.
type DocumentStore interface {
	GetDocument(ctx context.Context, id, tenantID string) (*models.KnowledgeDocument, error)
	GetDocumentsByIDs(ctx context.Context, ids []string) (map[string]models.KnowledgeDocument, error)
	ListDocumentsByStatus(ctx context.Context, status string, limit int) ([]models.KnowledgeDocument, error)
	InsertDocument(ctx context.Context, doc *models.KnowledgeDocument) error
	UpdateDocumentStatus(ctx context.Context, id, status string, chunkCount int, errorMessage string) error
	DeleteChunksBySource(ctx context.Context, sourceID string) (int64, error)
	InsertChunks(ctx context.Context, chunks []models.KnowledgeChunk) error
	SearchChunks(ctx context.Context, embedding []float32, limit int, threshold float64, tenantID string) ([]models.SearchHit, error)
}

// MongoKnowledgeStore implements DocumentStore on MongoDB. When the
// deployment has an Atlas vector index it searches with $vectorSearch;
// otherwise it falls back to in-process cosine scoring over the
// tenant's chunks.
type MongoKnowledgeStore struct {
	documents *mongo.Collection
	chunks    *mongo.Collection

	vectorEnabled bool
	vectorIndex   string
}

// NewMongoKnowledgeStore creates a store over db's documents and chunks
// collections.
func NewMongoKnowledgeStore(db *mongo.Database, vectorEnabled bool, vectorIndex string) *MongoKnowledgeStore {
	return &MongoKnowledgeStore{
		documents:     db.Collection("documents"),
		chunks:        db.Collection("chunks"),
		vectorEnabled: vectorEnabled,
		vectorIndex:   vectorIndex,
	}
}

// EncodeVector renders an embedding in the canonical bracketed text
// form, e.g. "[0.1,0.2,0.3]".
func EncodeVector(vec []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// DecodeVector parses the bracketed text form back into an embedding.
func DecodeVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("malformed vector text: %q", truncateForError(s))
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return []float32{}, nil
	}

	parts := strings.Split(body, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector component %q: %w", p, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}

func truncateForError(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}

// tenantVisibility matches records owned by tenantID plus shared
// records that carry no owner at all.
func tenantVisibility(tenantID string) bson.M {
	return bson.M{"$or": []bson.M{
		{"client_id": tenantID},
		{"client_id": bson.M{"$exists": false}},
		{"client_id": ""},
	}}
}

func (s *MongoKnowledgeStore) GetDocument(ctx context.Context, id, tenantID string) (*models.KnowledgeDocument, error) {
	filter := bson.M{
		"_id":  id,
		"$and": []bson.M{tenantVisibility(tenantID)},
	}

	var doc models.KnowledgeDocument
	if err := s.documents.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to load document %s: %w", id, err)
	}

	if len(doc.CompressedContent) > 0 && doc.Content == "" {
		content, err := utils.DecompressText(doc.CompressedContent, utils.CompressionAlgorithm(doc.Compression))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress document %s: %w", id, err)
		}
		doc.Content = content
	}

	return &doc, nil
}

// GetDocumentsByIDs fetches many documents in a single query, keyed by
// ID. Missing IDs are simply absent from the map.
func (s *MongoKnowledgeStore) GetDocumentsByIDs(ctx context.Context, ids []string) (map[string]models.KnowledgeDocument, error) {
	out := make(map[string]models.KnowledgeDocument, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	// Content is not needed for metadata enrichment
	projection := bson.M{"content": 0, "compressed_content": 0}
	cursor, err := s.documents.Find(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(projection),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc models.KnowledgeDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		out[doc.ID] = doc
	}
	return out, cursor.Err()
}

func (s *MongoKnowledgeStore) ListDocumentsByStatus(ctx context.Context, status string, limit int) ([]models.KnowledgeDocument, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.documents.Find(ctx, bson.M{"status": status}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s documents: %w", status, err)
	}
	defer cursor.Close(ctx)

	var docs []models.KnowledgeDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode %s documents: %w", status, err)
	}
	return docs, nil
}

// InsertDocument stores a new document, compressing its content at
// rest.
func (s *MongoKnowledgeStore) InsertDocument(ctx context.Context, doc *models.KnowledgeDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	stored := *doc
	if stored.Content != "" {
		compressed, algorithm, err := utils.CompressText(stored.Content)
		if err != nil {
			return fmt.Errorf("failed to compress document content: %w", err)
		}
		if algorithm != utils.CompressionNone {
			stored.CompressedContent = compressed
			stored.Compression = string(algorithm)
			stored.Content = ""
		}
	}

	if _, err := s.documents.InsertOne(ctx, stored); err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// UpdateDocumentStatus transitions a document's lifecycle status. A
// negative chunkCount leaves the stored count untouched; an empty
// errorMessage clears any previous one.
func (s *MongoKnowledgeStore) UpdateDocumentStatus(ctx context.Context, id, status string, chunkCount int, errorMessage string) error {
	set := bson.M{
		"status":     status,
		"updated_at": time.Now(),
	}
	if chunkCount >= 0 {
		set["chunk_count"] = chunkCount
	}

	update := bson.M{"$set": set}
	if errorMessage != "" {
		set["error_message"] = errorMessage
	} else {
		update["$unset"] = bson.M{"error_message": ""}
	}

	result, err := s.documents.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update document %s status: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *MongoKnowledgeStore) DeleteChunksBySource(ctx context.Context, sourceID string) (int64, error) {
	result, err := s.chunks.DeleteMany(ctx, bson.M{"source_id": sourceID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks for source %s: %w", sourceID, err)
	}
	return result.DeletedCount, nil
}

func (s *MongoKnowledgeStore) InsertChunks(ctx context.Context, chunks []models.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(chunks))
	now := time.Now()
	for i := range chunks {
		if chunks[i].ID == "" {
			chunks[i].ID = uuid.New().String()
		}
		if chunks[i].CreatedAt.IsZero() {
			chunks[i].CreatedAt = now
		}
		docs = append(docs, chunks[i])
	}

	if _, err := s.chunks.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	return nil
}

// SearchChunks returns up to limit chunks scoring at or above threshold
// for the caller's tenant, best first.
func (s *MongoKnowledgeStore) SearchChunks(ctx context.Context, embedding []float32, limit int, threshold float64, tenantID string) ([]models.SearchHit, error) {
	if s.vectorEnabled {
		return s.vectorSearch(ctx, embedding, limit, threshold, tenantID)
	}
	return s.cosineSearch(ctx, embedding, limit, threshold, tenantID)
}

func (s *MongoKnowledgeStore) vectorSearch(ctx context.Context, embedding []float32, limit int, threshold float64, tenantID string) ([]models.SearchHit, error) {
	queryVector := make([]float64, len(embedding))
	for i, f := range embedding {
		queryVector[i] = float64(f)
	}

	// Over-fetch before the tenant and threshold filters trim the set
	numCandidates := limit * 20
	if numCandidates < 100 {
		numCandidates = 100
	}

	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.M{
			"index":         s.vectorIndex,
			"path":          "vector",
			"queryVector":   queryVector,
			"numCandidates": numCandidates,
			"limit":         limit * 4,
		}}},
		{{Key: "$addFields", Value: bson.M{
			"score": bson.M{"$meta": "vectorSearchScore"},
		}}},
		{{Key: "$match", Value: bson.M{
			"score": bson.M{"$gte": threshold},
			"$or": []bson.M{
				{"client_id": tenantID},
				{"client_id": bson.M{"$exists": false}},
				{"client_id": ""},
			},
		}}},
		{{Key: "$limit", Value: limit}},
	}

	cursor, err := s.chunks.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer cursor.Close(ctx)

	var hits []models.SearchHit
	for cursor.Next(ctx) {
		var row struct {
			models.KnowledgeChunk `bson:",inline"`
			Score                 float64 `bson:"score"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode search hit: %w", err)
		}
		hits = append(hits, models.SearchHit{
			Content:    row.Content,
			Similarity: clampScore(row.Score),
			SourceID:   row.SourceID,
			Pillar:     row.Pillar,
			Tags:       row.Tags,
		})
	}
	return hits, cursor.Err()
}

// cosineSearch scores every visible chunk in process. Adequate for
// modest corpora and for deployments without an Atlas vector index.
func (s *MongoKnowledgeStore) cosineSearch(ctx context.Context, embedding []float32, limit int, threshold float64, tenantID string) ([]models.SearchHit, error) {
	cursor, err := s.chunks.Find(ctx, tenantVisibility(tenantID))
	if err != nil {
		return nil, fmt.Errorf("chunk scan failed: %w", err)
	}
	defer cursor.Close(ctx)

	var hits []models.SearchHit
	for cursor.Next(ctx) {
		var chunk models.KnowledgeChunk
		if err := cursor.Decode(&chunk); err != nil {
			return nil, fmt.Errorf("failed to decode chunk: %w", err)
		}

		vec := chunk.Vector
		if len(vec) == 0 && chunk.Embedding != "" {
			decoded, err := DecodeVector(chunk.Embedding)
			if err != nil {
				continue
			}
			vec = decoded
		}
		if len(vec) != len(embedding) {
			continue
		}

		score := clampScore(cosineSimilarity(embedding, vec))
		if score < threshold {
			continue
		}

		hits = append(hits, models.SearchHit{
			Content:    chunk.Content,
			Similarity: score,
			SourceID:   chunk.SourceID,
			Pillar:     chunk.Pillar,
			Tags:       chunk.Tags,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// clampScore forces similarity into [0, 1] so thresholds behave the
// same across search backends.
func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
