package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"brain-knowledge-platform/internal/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TopResult records one of the best hits of a search for the audit trail.
type TopResult struct {
	SourceID   string  `bson:"source_id" json:"source_id"`
	Similarity float64 `bson:"similarity" json:"similarity"`
}

// SearchAuditEvent is an immutable record of one knowledge search.
type SearchAuditEvent struct {
	ID           string       `bson:"_id,omitempty"`
	Timestamp    time.Time    `bson:"timestamp"`
	ClientID     string       `bson:"client_id"`
	RequestID    string       `bson:"request_id,omitempty"`
	Query        string       `bson:"query"`
	Intent       SearchIntent `bson:"intent"`
	ResultCount  int          `bson:"result_count"`
	TopResults   []TopResult  `bson:"top_results,omitempty"`
	TokensUsed   int          `bson:"tokens_used"`
	LatencyMS    int64        `bson:"latency_ms"`
	Success      bool         `bson:"success"`
	ErrorCode    string       `bson:"error_code,omitempty"`
	PreviousHash string       `bson:"previous_hash"`
	CurrentHash  string       `bson:"current_hash"`
}

// ComputeHash computes the chain hash of this audit event.
func (e *SearchAuditEvent) ComputeHash() string {
	data := fmt.Sprintf("%s|%s|%s|%s|%d|%t|%s",
		e.Timestamp.Format(time.RFC3339Nano),
		e.ClientID,
		e.Query,
		e.Intent,
		e.ResultCount,
		e.Success,
		e.PreviousHash,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// SearchAuditLogger writes insert-only, hash-chained search audit
// records. Writes are best effort: a failure is logged and dropped so
// telemetry can never fail a user-facing search.
type SearchAuditLogger struct {
	col        *mongo.Collection
	lastHashMu sync.Mutex
	lastHashes map[string]string // clientID -> last hash
}

// NewSearchAuditLogger creates a search audit logger backed by db.
func NewSearchAuditLogger(db *mongo.Database) *SearchAuditLogger {
	col := db.Collection("search_audit")

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "intent", Value: 1}}},
		{Keys: bson.D{{Key: "request_id", Value: 1}}},
	}
	col.Indexes().CreateMany(context.Background(), indexes)

	return &SearchAuditLogger{
		col:        col,
		lastHashes: make(map[string]string),
	}
}

// Log writes one audit event, chaining it to the client's previous one.
func (al *SearchAuditLogger) Log(event *SearchAuditEvent) error {
	al.lastHashMu.Lock()
	defer al.lastHashMu.Unlock()

	event.PreviousHash = al.lastHashes[event.ClientID]
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.ID = fmt.Sprintf("%d_%s", time.Now().UnixNano(), event.ClientID)
	event.CurrentHash = event.ComputeHash()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := al.col.InsertOne(ctx, event); err != nil {
		return err
	}

	al.lastHashes[event.ClientID] = event.CurrentHash
	return nil
}

// LogAsync logs an audit event without blocking the caller.
func (al *SearchAuditLogger) LogAsync(event *SearchAuditEvent) {
	go func() {
		if err := al.Log(event); err != nil {
			logger.Error("search audit write failed", "error", err, "client_id", event.ClientID)
		}
	}()
}

// VerifyChain verifies the audit chain integrity for a client.
func (al *SearchAuditLogger) VerifyChain(ctx context.Context, clientID string) (bool, error) {
	cursor, err := al.col.Find(ctx,
		bson.M{"client_id": clientID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}),
	)
	if err != nil {
		return false, err
	}
	defer cursor.Close(ctx)

	var events []SearchAuditEvent
	if err := cursor.All(ctx, &events); err != nil {
		return false, err
	}
	return VerifyAuditSequence(events), nil
}

// VerifyAuditSequence checks a timestamp-ordered run of audit events
// for tampering: every hash must recompute and every event after the
// first must chain to its predecessor.
func VerifyAuditSequence(events []SearchAuditEvent) bool {
	var previousHash string
	for i, event := range events {
		if i > 0 && event.PreviousHash != previousHash {
			return false
		}
		if event.CurrentHash != event.ComputeHash() {
			return false
		}
		previousHash = event.CurrentHash
	}
	return true
}
