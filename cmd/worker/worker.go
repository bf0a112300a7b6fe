package main

import (
	"context"
	"log"
	"time"

	"brain-knowledge-platform/internal/ai"
	"brain-knowledge-platform/internal/config"
	"brain-knowledge-platform/internal/logger"
	"brain-knowledge-platform/internal/queue"
	"brain-knowledge-platform/services"

	"github.com/go-co-op/gocron"
	"github.com/hibiken/asynq"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg.GinMode)

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()
	db := mongoClient.Database(cfg.DBName)

	// Embedding pipeline
	provider, err := ai.NewGeminiProvider(context.Background(), cfg.GeminiAPIKey, cfg.EmbeddingsModel)
	if err != nil {
		log.Fatal("Failed to initialize embedding provider:", err)
	}
	defer provider.Close()
	embedder := ai.NewEmbeddingClient(provider, cfg.EmbeddingsModel, cfg.VectorDim)

	store := services.NewMongoKnowledgeStore(db, cfg.VectorSearchEnabled, cfg.VectorIndexName)
	chunker := services.NewChunkingService(cfg.ChunkSize, cfg.ChunkOverlap)
	ingestion := services.NewIngestionService(store, chunker, embedder, nil, cfg.RecoveryBatchLimit)

	redisOpt, err := queue.RedisOptFromConfig(cfg)
	if err != nil {
		log.Fatal("Failed to configure task queue:", err)
	}

	// Create Asynq server
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(ingestion)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestDocument, processor.ProcessIngestDocument)
	mux.HandleFunc(queue.TaskRecoverFailed, processor.ProcessRecoverFailed)

	// Periodically enqueue a recovery sweep so failed documents get
	// retried without operator action.
	taskClient := asynq.NewClient(redisOpt)
	defer taskClient.Close()

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.Every(cfg.RecoveryIntervalMins).Minutes().Do(func() {
		task, err := queue.NewRecoverFailedTask()
		if err != nil {
			logger.Error("failed to build recovery task", "error", err)
			return
		}
		if _, err := taskClient.Enqueue(task); err != nil {
			logger.Error("failed to enqueue recovery task", "error", err)
		}
	})
	scheduler.StartAsync()
	defer scheduler.Stop()

	logger.Info("worker starting",
		"concurrency", 10,
		"recovery_interval_minutes", cfg.RecoveryIntervalMins,
	)

	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
