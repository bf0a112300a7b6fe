package routes

import (
	"errors"
	"net/http"

	"brain-knowledge-platform/internal/logger"
	"brain-knowledge-platform/internal/queue"
	"brain-knowledge-platform/middleware"
	"brain-knowledge-platform/models"
	"brain-knowledge-platform/services"
	"brain-knowledge-platform/utils"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

// KnowledgeHandler wires the knowledge API onto the search and
// ingestion services.
type KnowledgeHandler struct {
	search    *services.SearchService
	ingestion *services.IngestionService
	store     services.DocumentStore
	audit     *models.SearchAuditLogger
	tasks     *asynq.Client
}

func NewKnowledgeHandler(search *services.SearchService, ingestion *services.IngestionService, store services.DocumentStore, audit *models.SearchAuditLogger, tasks *asynq.Client) *KnowledgeHandler {
	return &KnowledgeHandler{
		search:    search,
		ingestion: ingestion,
		store:     store,
		audit:     audit,
		tasks:     tasks,
	}
}

// RegisterKnowledgeRoutes mounts the knowledge endpoints on an
// authenticated router group.
func RegisterKnowledgeRoutes(rg *gin.RouterGroup, h *KnowledgeHandler) {
	knowledge := rg.Group("/knowledge")
	{
		knowledge.POST("/search", h.Search)
		knowledge.POST("/text", h.IngestText)
		knowledge.POST("/documents/:id/ingest", h.IngestDocument)
		knowledge.POST("/recover", h.Recover)
		knowledge.GET("/documents/:id", h.GetDocument)
		knowledge.GET("/audit/verify", h.VerifyAuditChain)
	}
}

// Search handles POST /api/knowledge/search.
func (h *KnowledgeHandler) Search(c *gin.Context) {
	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithBadRequest(c, "", "Invalid request body", gin.H{"error": err.Error()})
		return
	}

	resp, err := h.search.Search(
		c.Request.Context(),
		middleware.GetClientID(c),
		middleware.GetRequestID(c),
		req,
	)
	if err != nil {
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			utils.RespondWithBadRequest(c, verr.Code, verr.Message, nil)
			return
		}
		logger.Error("search request failed", "error", err, "request_id", middleware.GetRequestID(c))
		utils.RespondWithInternalError(c, utils.CodeSearchFailed, "Search could not be completed", nil)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// IngestDocument handles POST /api/knowledge/documents/:id/ingest.
// By default the work is queued; ?sync=true runs the pipeline inline
// and returns the full result.
func (h *KnowledgeHandler) IngestDocument(c *gin.Context) {
	documentID := c.Param("id")
	clientID := middleware.GetClientID(c)

	if c.Query("sync") == "true" {
		result := h.ingestion.IngestDocument(c.Request.Context(), documentID, clientID)
		respondWithIngestResult(c, result)
		return
	}

	task, err := queue.NewIngestDocumentTask(clientID, documentID)
	if err != nil {
		utils.RespondWithInternalError(c, "", "Failed to create ingestion task", nil)
		return
	}
	if _, err := h.tasks.Enqueue(task); err != nil {
		logger.Error("failed to enqueue ingestion", "document_id", documentID, "error", err)
		utils.RespondWithInternalError(c, "", "Failed to queue ingestion", nil)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"document_id": documentID,
		"queued":      true,
	})
}

// IngestText handles POST /api/knowledge/text: store ad-hoc text as a
// document and ingest it immediately.
func (h *KnowledgeHandler) IngestText(c *gin.Context) {
	var input services.RawTextInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithBadRequest(c, "", "Invalid request body", gin.H{"error": err.Error()})
		return
	}

	result, err := h.ingestion.IngestRawText(c.Request.Context(), middleware.GetClientID(c), input)
	if err != nil {
		utils.RespondWithBadRequest(c, utils.CodeEmptyContent, err.Error(), nil)
		return
	}
	respondWithIngestResult(c, result)
}

// Recover handles POST /api/knowledge/recover. Admin only.
func (h *KnowledgeHandler) Recover(c *gin.Context) {
	role := middleware.GetRole(c)
	if role != "admin" && role != "superadmin" {
		utils.RespondWithForbidden(c, "Recovery requires an admin role")
		return
	}

	result, err := h.ingestion.RecoverFailedDocuments(c.Request.Context())
	if err != nil {
		utils.RespondWithInternalError(c, "", "Recovery sweep failed", gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// VerifyAuditChain handles GET /api/knowledge/audit/verify. Admin only:
// walks the caller's audit chain and reports whether it is intact.
func (h *KnowledgeHandler) VerifyAuditChain(c *gin.Context) {
	role := middleware.GetRole(c)
	if role != "admin" && role != "superadmin" {
		utils.RespondWithForbidden(c, "Audit verification requires an admin role")
		return
	}

	clientID := middleware.GetClientID(c)
	intact, err := h.audit.VerifyChain(c.Request.Context(), clientID)
	if err != nil {
		logger.Error("audit chain verification failed", "error", err, "client_id", clientID)
		utils.RespondWithInternalError(c, "", "Audit chain could not be verified", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"client_id": clientID,
		"intact":    intact,
	})
}

// GetDocument handles GET /api/knowledge/documents/:id.
func (h *KnowledgeHandler) GetDocument(c *gin.Context) {
	doc, err := h.store.GetDocument(c.Request.Context(), c.Param("id"), middleware.GetClientID(c))
	if err != nil {
		if errors.Is(err, services.ErrDocumentNotFound) {
			utils.RespondWithNotFound(c, utils.CodeDocumentNotFound, "Document not found")
			return
		}
		utils.RespondWithInternalError(c, "", "Failed to load document", nil)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func respondWithIngestResult(c *gin.Context, result *services.IngestResult) {
	if result.Success {
		c.JSON(http.StatusOK, result)
		return
	}

	status := http.StatusInternalServerError
	switch result.ErrorCode {
	case utils.CodeDocumentNotFound:
		status = http.StatusNotFound
	case utils.CodeEmptyContent:
		status = http.StatusBadRequest
	}
	c.JSON(status, result)
}
