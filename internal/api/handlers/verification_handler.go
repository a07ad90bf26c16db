package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"railexchange/railx/internal/api/middleware"
	"railexchange/railx/internal/models"
	"railexchange/railx/internal/services"
	"railexchange/railx/internal/storage"
)

// VerificationHandler handles seller-facing verification endpoints.
type VerificationHandler struct {
	verificationService services.IVerificationService
}

// NewVerificationHandler creates a new VerificationHandler.
func NewVerificationHandler(verificationService services.IVerificationService) *VerificationHandler {
	return &VerificationHandler{verificationService: verificationService}
}

type verificationDocumentRequest struct {
	Type       string `json:"type" binding:"required"`
	StorageKey string `json:"storage_key" binding:"required"`
	Filename   string `json:"filename" binding:"required"`
}

type submitVerificationRequest struct {
	Tier      string                        `json:"tier" binding:"required"`
	Documents []verificationDocumentRequest `json:"documents" binding:"required"`
}

// Submit handles POST /v1/verification.
func (h *VerificationHandler) Submit(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var req submitVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: tier and documents are required"})
		return
	}

	now := time.Now().UTC()
	documents := make([]models.VerificationDocument, 0, len(req.Documents))
	for _, doc := range req.Documents {
		key := storage.SanitizeKey(doc.StorageKey)
		if key == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid document storage key", "field": "documents"})
			return
		}
		documents = append(documents, models.VerificationDocument{
			Type:       doc.Type,
			StorageKey: key,
			Filename:   doc.Filename,
			UploadedAt: now,
		})
	}

	record, err := h.verificationService.Submit(c.Request.Context(), userID, models.VerificationTier(req.Tier), documents)
	if err != nil {
		if errors.Is(err, services.ErrVerificationPending) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, record)
}

// GetOwn handles GET /v1/verification.
func (h *VerificationHandler) GetOwn(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	record, err := h.verificationService.FindByUserID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrVerificationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No verification record"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve verification"})
		return
	}
	c.JSON(http.StatusOK, record)
}
