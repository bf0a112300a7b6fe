package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brain-knowledge-platform/internal/ai"
	"brain-knowledge-platform/internal/config"
	"brain-knowledge-platform/internal/logger"
	"brain-knowledge-platform/internal/queue"
	"brain-knowledge-platform/internal/telemetry"
	"brain-knowledge-platform/middleware"
	"brain-knowledge-platform/models"
	"brain-knowledge-platform/routes"
	"brain-knowledge-platform/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

const serviceName = "brain-knowledge-platform"

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg.GinMode)

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer(serviceName, cfg.OTLPEndpoint)
		if err != nil {
			logger.Warn("tracing disabled", "error", err)
		} else {
			defer shutdown()
		}
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to initialize metrics:", err)
	}

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

	// Connect to Redis
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	// Embedding pipeline
	provider, err := ai.NewGeminiProvider(context.Background(), cfg.GeminiAPIKey, cfg.EmbeddingsModel)
	if err != nil {
		log.Fatal("Failed to initialize embedding provider:", err)
	}
	defer provider.Close()
	embedder := ai.NewEmbeddingClient(provider, cfg.EmbeddingsModel, cfg.VectorDim)

	// Services
	store := services.NewMongoKnowledgeStore(db, cfg.VectorSearchEnabled, cfg.VectorIndexName)
	chunker := services.NewChunkingService(cfg.ChunkSize, cfg.ChunkOverlap)
	ingestion := services.NewIngestionService(store, chunker, embedder, metrics, cfg.RecoveryBatchLimit)
	audit := models.NewSearchAuditLogger(db)
	search := services.NewSearchService(store, embedder, audit, metrics)

	// Task queue client for async ingestion
	redisOpt, err := queue.RedisOptFromConfig(cfg)
	if err != nil {
		log.Fatal("Failed to configure task queue:", err)
	}
	taskClient := asynq.NewClient(redisOpt)
	defer taskClient.Close()

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware(serviceName))

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-Request-ID"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.Use(middleware.RateLimitMiddleware(rdb, cfg))

	// Health check endpoints
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := mongoClient.Ping(ctx, nil); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Authenticated API routes
	authMiddleware := middleware.NewAuthMiddleware(cfg)
	api := router.Group("/api")
	api.Use(authMiddleware.RequireAuth())
	api.Use(middleware.EnrichTrace())

	handler := routes.NewKnowledgeHandler(search, ingestion, store, audit, taskClient)
	routes.RegisterKnowledgeRoutes(api, handler)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("server exited")
}
