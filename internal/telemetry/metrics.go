package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	SearchCounter     metric.Int64Counter
	SearchDuration    metric.Float64Histogram
	EmbeddingTokens   metric.Int64Counter
	IngestionDuration metric.Float64Histogram
	ChunksCreated     metric.Int64Counter
	AuditEventsLogged metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("brain-knowledge-platform")

	searchCounter, err := meter.Int64Counter(
		"knowledge.searches.total",
		metric.WithDescription("Total knowledge searches"),
	)
	if err != nil {
		return nil, err
	}

	searchDuration, err := meter.Float64Histogram(
		"knowledge.search.duration",
		metric.WithDescription("Knowledge search duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	embeddingTokens, err := meter.Int64Counter(
		"embedding.tokens.used",
		metric.WithDescription("Total embedding tokens consumed"),
	)
	if err != nil {
		return nil, err
	}

	ingestionDuration, err := meter.Float64Histogram(
		"ingestion.duration",
		metric.WithDescription("Document ingestion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	chunksCreated, err := meter.Int64Counter(
		"ingestion.chunks.created",
		metric.WithDescription("Total chunks created during ingestion"),
	)
	if err != nil {
		return nil, err
	}

	auditEventsLogged, err := meter.Int64Counter(
		"audit.events.logged",
		metric.WithDescription("Total search audit events logged"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		SearchCounter:     searchCounter,
		SearchDuration:    searchDuration,
		EmbeddingTokens:   embeddingTokens,
		IngestionDuration: ingestionDuration,
		ChunksCreated:     chunksCreated,
		AuditEventsLogged: auditEventsLogged,
	}, nil
}

// RecordSearch records one search call with its outcome and duration.
func (m *Metrics) RecordSearch(intent string, success bool, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("search.intent", intent),
		attribute.Bool("search.success", success),
	}

	m.SearchCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.SearchDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordEmbeddingTokens records embedding token usage.
func (m *Metrics) RecordEmbeddingTokens(tokens int64, model string) {
	attrs := []attribute.KeyValue{
		attribute.String("embedding.model", model),
	}

	m.EmbeddingTokens.Add(context.Background(), tokens, metric.WithAttributes(attrs...))
}

// RecordIngestion records one document ingestion.
func (m *Metrics) RecordIngestion(status string, chunks int, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("ingestion.status", status),
	}

	m.IngestionDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
	if chunks > 0 {
		m.ChunksCreated.Add(context.Background(), int64(chunks), metric.WithAttributes(attrs...))
	}
}

// RecordAuditEvent records one audit sink write.
func (m *Metrics) RecordAuditEvent(intent string) {
	attrs := []attribute.KeyValue{
		attribute.String("audit.intent", intent),
	}

	m.AuditEventsLogged.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
