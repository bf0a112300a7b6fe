package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"brain-knowledge-platform/internal/logger"
	"brain-knowledge-platform/services"
	"brain-knowledge-platform/utils"
)

const (
	TaskIngestDocument = "knowledge:ingest"
	TaskRecoverFailed  = "knowledge:recover"
)

type IngestDocumentPayload struct {
	ClientID   string `json:"client_id"`
	DocumentID string `json:"document_id"`
}

// Task creators
func NewIngestDocumentTask(clientID, documentID string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestDocumentPayload{
		ClientID:   clientID,
		DocumentID: documentID,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestDocument,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

func NewRecoverFailedTask() (*asynq.Task, error) {
	return asynq.NewTask(
		TaskRecoverFailed,
		nil,
		asynq.MaxRetry(1),
		asynq.Timeout(30*time.Minute),
		asynq.Queue("low"),
	), nil
}

// TaskProcessor handles queued ingestion work.
type TaskProcessor struct {
	ingestion *services.IngestionService
}

func NewTaskProcessor(ingestion *services.IngestionService) *TaskProcessor {
	return &TaskProcessor{ingestion: ingestion}
}

// ProcessIngestDocument runs one queued document ingestion. Permanent
// failures (missing document, empty content) skip asynq's retries;
// transient ones are returned so the task retries with backoff.
func (p *TaskProcessor) ProcessIngestDocument(ctx context.Context, t *asynq.Task) error {
	var payload IngestDocumentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	logger.Info("processing queued ingestion",
		"document_id", payload.DocumentID,
		"client_id", payload.ClientID,
	)

	result := p.ingestion.IngestDocument(ctx, payload.DocumentID, payload.ClientID)
	if result.Success {
		return nil
	}

	switch result.ErrorCode {
	case utils.CodeDocumentNotFound, utils.CodeEmptyContent:
		return fmt.Errorf("%s: %s: %w", result.ErrorCode, result.ErrorMessage, asynq.SkipRetry)
	default:
		return fmt.Errorf("%s: %s", result.ErrorCode, result.ErrorMessage)
	}
}

// ProcessRecoverFailed runs one recovery sweep over failed documents.
func (p *TaskProcessor) ProcessRecoverFailed(ctx context.Context, t *asynq.Task) error {
	result, err := p.ingestion.RecoverFailedDocuments(ctx)
	if err != nil {
		return err
	}

	logger.Info("queued recovery sweep done",
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	return nil
}
