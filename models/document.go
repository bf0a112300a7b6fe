package models

import "time"

// KnowledgeDocument is a source document tracked through the ingestion
// pipeline. Content may be compressed at rest; the store hides that.
type KnowledgeDocument struct {
	ID                 string    `bson:"_id,omitempty" json:"id"`
	ClientID           string    `bson:"client_id,omitempty" json:"client_id,omitempty"`
	Title              string    `bson:"title" json:"title"`
	Type               string    `bson:"type,omitempty" json:"type,omitempty"`
	URL                string    `bson:"url,omitempty" json:"url,omitempty"`
	Content            string    `bson:"content,omitempty" json:"-"`
	CompressedContent  []byte    `bson:"compressed_content,omitempty" json:"-"`
	Compression        string    `bson:"compression,omitempty" json:"-"`
	Pillar             string    `bson:"pillar,omitempty" json:"pillar,omitempty"`
	Tags               []string  `bson:"tags,omitempty" json:"tags,omitempty"`
	Status             string    `bson:"status" json:"status"` // pending, processing, completed, failed
	ChunkCount         int       `bson:"chunk_count" json:"chunk_count"`
	ErrorMessage       string    `bson:"error_message,omitempty" json:"error_message,omitempty"`
	CreatedAt          time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at" json:"updated_at"`
}

// KnowledgeChunk is a denormalized chunk persisted for similarity search.
// Keeping a separate collection enables efficient $vectorSearch.
//
// Embedding holds the canonical vector text form ("[0.1,0.2,...]");
// Vector duplicates it as a native array for the Atlas vector index.
type KnowledgeChunk struct {
	ID         string        `bson:"_id,omitempty" json:"id"`
	SourceID   string        `bson:"source_id" json:"source_id"`
	ClientID   string        `bson:"client_id,omitempty" json:"client_id,omitempty"`
	Content    string        `bson:"content" json:"content"`
	ChunkIndex int           `bson:"chunk_index" json:"chunk_index"`
	Embedding  string        `bson:"embedding" json:"-"`
	Vector     []float32     `bson:"vector,omitempty" json:"-"`
	Tags       []string      `bson:"tags,omitempty" json:"tags,omitempty"`
	Pillar     string        `bson:"pillar,omitempty" json:"pillar,omitempty"`
	Metadata   ChunkMetadata `bson:"metadata" json:"metadata"`
	CreatedAt  time.Time     `bson:"created_at" json:"created_at"`
}

// ChunkMetadata carries the structural chunking parameters a chunk was
// produced with.
type ChunkMetadata struct {
	ChunkSize    int `bson:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `bson:"chunk_overlap" json:"chunk_overlap"`
	TotalChunks  int `bson:"total_chunks" json:"total_chunks"`
	StartOffset  int `bson:"start_offset" json:"start_offset"`
	EndOffset    int `bson:"end_offset" json:"end_offset"`
}

// Document status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)
