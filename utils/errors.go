package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Stable error codes used across API responses, ingestion results and
// audit events. Clients match on these, never on message text.
const (
	CodeDocumentNotFound  = "document_not_found"
	CodeEmptyContent      = "empty_content"
	CodeEmbeddingFailed   = "embedding_failed"
	CodeChunkInsertFailed = "chunk_insert_failed"
	CodeIngestionFailed   = "ingestion_failed"
	CodeEmptyQuery        = "empty_query"
	CodeInvalidIntent     = "invalid_intent"
	CodeSearchFailed      = "search_failed"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// RespondWithError sends a standardized error response
func RespondWithError(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
	})
}

// RespondWithBadRequest sends a 400 Bad Request error
func RespondWithBadRequest(c *gin.Context, errorCode, message string, details interface{}) {
	if errorCode == "" {
		errorCode = "bad_request"
	}
	RespondWithError(c, http.StatusBadRequest, errorCode, message, details)
}

// RespondWithUnauthorized sends a 401 Unauthorized error
func RespondWithUnauthorized(c *gin.Context, message string) {
	RespondWithError(c, http.StatusUnauthorized, "unauthorized", message, nil)
}

// RespondWithForbidden sends a 403 Forbidden error
func RespondWithForbidden(c *gin.Context, message string) {
	RespondWithError(c, http.StatusForbidden, "forbidden", message, nil)
}

// RespondWithNotFound sends a 404 Not Found error
func RespondWithNotFound(c *gin.Context, errorCode, message string) {
	if errorCode == "" {
		errorCode = "not_found"
	}
	RespondWithError(c, http.StatusNotFound, errorCode, message, nil)
}

// RespondWithInternalError sends a 500 Internal Server Error
func RespondWithInternalError(c *gin.Context, errorCode, message string, details interface{}) {
	if errorCode == "" {
		errorCode = "internal_error"
	}
	RespondWithError(c, http.StatusInternalServerError, errorCode, message, details)
}
